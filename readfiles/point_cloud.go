package readfiles

import (
	"io"
	"os"

	"gonum.org/v1/gonum/spatial/r3"
)

// ReadPointCloud reads one point per line, "x y" or "x y z", # comments
// allowed.
func ReadPointCloud(r io.Reader) (cloud []r3.Vec, err error) {
	lr := newLineReader(r)
	for {
		var line string
		if line, err = lr.getLineNoComments(); err == io.EOF {
			break
		} else if err != nil {
			return
		}
		fields := splitFields(line)
		if len(fields) < 2 || len(fields) > 3 {
			return nil, lr.errorf("expected 2 or 3 coordinates, have %d", len(fields))
		}
		var v []float64
		if v, err = parseFloats(fields); err != nil {
			return nil, lr.errorf("%v", err)
		}
		p := r3.Vec{X: v[0], Y: v[1]}
		if len(v) == 3 {
			p.Z = v[2]
		}
		cloud = append(cloud, p)
	}
	if len(cloud) == 0 {
		return nil, lr.errorf("point cloud is empty")
	}
	return cloud, nil
}

func ReadPointCloudFile(filename string) ([]r3.Vec, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadPointCloud(file)
}
