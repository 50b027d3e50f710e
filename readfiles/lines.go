package readfiles

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type lineReader struct {
	reader *bufio.Reader
	line   int
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{reader: bufio.NewReader(r)}
}

// getLine returns the next line without its terminator, io.EOF at the end.
func (lr *lineReader) getLine() (line string, err error) {
	line, err = lr.reader.ReadString('\n')
	if err == io.EOF && len(line) > 0 {
		err = nil
	}
	if err != nil {
		return
	}
	lr.line++
	line = strings.TrimRight(line, "\r\n")
	return
}

// getLineNoComments skips blank lines and strips # comments.
func (lr *lineReader) getLineNoComments() (line string, err error) {
	for {
		if line, err = lr.getLine(); err != nil {
			return
		}
		if ind := strings.Index(line, "#"); ind >= 0 {
			line = line[:ind]
		}
		if line = strings.TrimSpace(line); line != "" {
			return
		}
	}
}

func (lr *lineReader) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("line %d: %s", lr.line, fmt.Sprintf(format, args...))
}

func parseFloats(fields []string) (v []float64, err error) {
	v = make([]float64, len(fields))
	for i, f := range fields {
		if v[i], err = strconv.ParseFloat(f, 64); err != nil {
			return nil, err
		}
	}
	return
}

// formatFloat is the shortest representation that reads back bitwise.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// splitFields splits on blanks, tabs and commas.
func splitFields(line string) []string {
	return strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ','
	})
}
