package readfiles

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/notargets/golbm/IBM"
	"gonum.org/v1/gonum/spatial/r3"
)

// WriteRestart writes the body count, then for each body a "\t/\t" framed
// marker count followed by one line per marker: x y z, and for flexible
// bodies the previous x y z.
func WriteRestart(w io.Writer, img IBM.RestartImage) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d\n", len(img.Bodies))
	for ib, rb := range img.Bodies {
		if rb.Flexible && len(rb.Previous) != len(rb.Positions) {
			return fmt.Errorf("restart body %d has %d previous positions for %d markers",
				ib, len(rb.Previous), len(rb.Positions))
		}
		fmt.Fprintf(bw, "\t/\t%d\t/\t\n", len(rb.Positions))
		for i, x := range rb.Positions {
			line := []string{formatFloat(x.X), formatFloat(x.Y), formatFloat(x.Z)}
			if rb.Flexible {
				p := rb.Previous[i]
				line = append(line, formatFloat(p.X), formatFloat(p.Y), formatFloat(p.Z))
			}
			bw.WriteString(strings.Join(line, "\t"))
			bw.WriteByte('\n')
		}
	}
	return bw.Flush()
}

// ReadRestart reads what WriteRestart wrote. A body is flexible when its
// marker lines carry previous positions.
func ReadRestart(r io.Reader) (img IBM.RestartImage, err error) {
	var (
		lr    = newLineReader(r)
		line  string
		nBody int
	)
	if line, err = lr.getLineNoComments(); err != nil {
		err = lr.errorf("missing body count: %v", err)
		return
	}
	if nBody, err = strconv.Atoi(line); err != nil || nBody < 0 {
		err = lr.errorf("bad body count %q", line)
		return
	}
	img.Bodies = make([]IBM.RestartBody, nBody)
	for ib := range img.Bodies {
		if line, err = lr.getLineNoComments(); err != nil {
			err = lr.errorf("missing header of body %d: %v", ib, err)
			return
		}
		f := strings.Fields(line)
		var nm int
		if len(f) != 3 || f[0] != "/" || f[2] != "/" {
			err = lr.errorf("bad header of body %d: %q", ib, line)
			return
		}
		if nm, err = strconv.Atoi(f[1]); err != nil || nm < 0 {
			err = lr.errorf("bad marker count of body %d: %q", ib, f[1])
			return
		}
		rb := IBM.RestartBody{Positions: make([]r3.Vec, nm)}
		for i := 0; i < nm; i++ {
			if line, err = lr.getLineNoComments(); err != nil {
				err = lr.errorf("body %d has %d of %d markers: %v", ib, i, nm, err)
				return
			}
			var v []float64
			if v, err = parseFloats(strings.Fields(line)); err != nil {
				err = lr.errorf("%v", err)
				return
			}
			switch {
			case len(v) == 6 && (i == 0 || rb.Flexible):
				if i == 0 {
					rb.Flexible, rb.Previous = true, make([]r3.Vec, nm)
				}
				rb.Previous[i] = r3.Vec{X: v[3], Y: v[4], Z: v[5]}
			case len(v) == 3 && !rb.Flexible:
			default:
				err = lr.errorf("body %d marker %d has %d values", ib, i, len(v))
				return
			}
			rb.Positions[i] = r3.Vec{X: v[0], Y: v[1], Z: v[2]}
		}
		img.Bodies[ib] = rb
	}
	if _, err = lr.getLineNoComments(); err != io.EOF {
		err = lr.errorf("trailing data after %d bodies", nBody)
		return
	}
	err = nil
	return
}

func WriteRestartFile(filename string, img IBM.RestartImage) (err error) {
	var file *os.File
	if file, err = os.Create(filename); err != nil {
		return
	}
	if err = WriteRestart(file, img); err != nil {
		file.Close()
		return
	}
	return file.Close()
}

func ReadRestartFile(filename string) (img IBM.RestartImage, err error) {
	var file *os.File
	if file, err = os.Open(filename); err != nil {
		return
	}
	defer file.Close()
	return ReadRestart(file)
}
