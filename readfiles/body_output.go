package readfiles

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/notargets/golbm/IBM"
)

func joinFloats(v ...float64) string {
	s := make([]string, len(v))
	for i, f := range v {
		s[i] = formatFloat(f)
	}
	return strings.Join(s, "\t")
}

// WriteBodyPositions writes one line per marker of every body: body id,
// marker index, position, marker force and epsilon.
func WriteBodyPositions(w io.Writer, step int, t float64, snap IBM.Snapshot) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# step %d time %s\n", step, formatFloat(t))
	fmt.Fprintln(bw, "# body\tmarker\tx\ty\tz\tFx\tFy\tFz\tepsilon")
	for _, bs := range snap.Bodies {
		for i, x := range bs.Positions {
			F := bs.Forces[i]
			fmt.Fprintf(bw, "%d\t%d\t%s\n", bs.ID, i,
				joinFloats(x.X, x.Y, x.Z, F.X, F.Y, F.Z, bs.Epsilons[i]))
		}
	}
	return bw.Flush()
}

func WriteLiftDragHeader(w io.Writer) error {
	_, err := fmt.Fprintln(w, "# step\ttime\tbody\tFx\tFy\tFz")
	return err
}

// WriteLiftDrag appends the total force the fluid exerts on each body.
// Skipped bodies are written with a skipped tag.
func WriteLiftDrag(w io.Writer, step int, t float64, snap IBM.Snapshot) error {
	bw := bufio.NewWriter(w)
	for _, bs := range snap.Bodies {
		F := bs.TotalForce
		fmt.Fprintf(bw, "%d\t%s\t%d\t%s", step, formatFloat(t), bs.ID, joinFloats(F.X, F.Y, F.Z))
		if bs.Skipped {
			bw.WriteString("\tskipped")
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// WriteVTK writes the markers as legacy ASCII polydata, one polyline per
// body, with marker forces and epsilons as point data.
func WriteVTK(w io.Writer, title string, snap IBM.Snapshot) error {
	var (
		bw     = bufio.NewWriter(w)
		nPts   int
		nLines int
		size   int
	)
	for _, bs := range snap.Bodies {
		nPts += len(bs.Positions)
		if len(bs.Positions) > 1 {
			nLines++
			size += len(bs.Positions) + 1
		}
	}
	fmt.Fprintln(bw, "# vtk DataFile Version 3.0")
	fmt.Fprintln(bw, strings.ReplaceAll(title, "\n", " "))
	fmt.Fprintln(bw, "ASCII")
	fmt.Fprintln(bw, "DATASET POLYDATA")
	fmt.Fprintf(bw, "POINTS %d double\n", nPts)
	for _, bs := range snap.Bodies {
		for _, x := range bs.Positions {
			fmt.Fprintf(bw, "%s %s %s\n", formatFloat(x.X), formatFloat(x.Y), formatFloat(x.Z))
		}
	}
	fmt.Fprintf(bw, "LINES %d %d\n", nLines, size)
	var offset int
	for _, bs := range snap.Bodies {
		n := len(bs.Positions)
		if n > 1 {
			fmt.Fprintf(bw, "%d", n)
			for i := 0; i < n; i++ {
				fmt.Fprintf(bw, " %d", offset+i)
			}
			bw.WriteByte('\n')
		}
		offset += n
	}
	fmt.Fprintf(bw, "POINT_DATA %d\n", nPts)
	fmt.Fprintln(bw, "VECTORS force double")
	for _, bs := range snap.Bodies {
		for _, F := range bs.Forces {
			fmt.Fprintf(bw, "%s %s %s\n", formatFloat(F.X), formatFloat(F.Y), formatFloat(F.Z))
		}
	}
	fmt.Fprintln(bw, "SCALARS epsilon double 1")
	fmt.Fprintln(bw, "LOOKUP_TABLE default")
	for _, bs := range snap.Bodies {
		for _, e := range bs.Epsilons {
			fmt.Fprintln(bw, formatFloat(e))
		}
	}
	return bw.Flush()
}
