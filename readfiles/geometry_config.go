package readfiles

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/notargets/golbm/IBM"
	"github.com/notargets/golbm/types"
	"gonum.org/v1/gonum/spatial/r3"
)

// GeometryRecord is one line of a geometry configuration:
//
//	objectKind bodyId sourceFile level region start_x start_y centre_z length scaleDirection movability clamped
type GeometryRecord struct {
	Kind       types.ObjectKind
	BodyID     int
	Source     string
	Grid       types.GridID
	Placement  IBM.CloudPlacement
	Movability types.Movability
	Clamped    bool
}

const geometryFields = 12

// ReadGeometryConfig parses every record. Sources are returned as written.
func ReadGeometryConfig(r io.Reader) (recs []GeometryRecord, err error) {
	lr := newLineReader(r)
	for {
		var line string
		if line, err = lr.getLineNoComments(); err == io.EOF {
			return recs, nil
		} else if err != nil {
			return
		}
		var rec GeometryRecord
		if rec, err = parseGeometryRecord(splitFields(line)); err != nil {
			return nil, lr.errorf("%v", err)
		}
		recs = append(recs, rec)
	}
}

// ReadGeometryConfigFile reads a configuration and resolves relative
// sources against the directory of the file.
func ReadGeometryConfigFile(filename string) (recs []GeometryRecord, err error) {
	var file *os.File
	if file, err = os.Open(filename); err != nil {
		return
	}
	defer file.Close()
	if recs, err = ReadGeometryConfig(file); err != nil {
		return nil, err
	}
	dir := filepath.Dir(filename)
	for i := range recs {
		if !filepath.IsAbs(recs[i].Source) {
			recs[i].Source = filepath.Join(dir, recs[i].Source)
		}
	}
	return
}

func parseGeometryRecord(f []string) (rec GeometryRecord, err error) {
	if len(f) != geometryFields {
		err = fmt.Errorf("expected %d fields, have %d", geometryFields, len(f))
		return
	}
	if rec.Kind, err = types.ParseObjectKind(f[0]); err != nil {
		return
	}
	if rec.BodyID, err = strconv.Atoi(f[1]); err != nil {
		return
	}
	rec.Source = f[2]
	if rec.Grid.Level, err = strconv.Atoi(f[3]); err != nil {
		return
	}
	if rec.Grid.Region, err = strconv.Atoi(f[4]); err != nil {
		return
	}
	var v []float64
	if v, err = parseFloats(f[5:9]); err != nil {
		return
	}
	rec.Placement = IBM.CloudPlacement{
		Start:   r3.Vec{X: v[0], Y: v[1]},
		CentreZ: v[2],
		Length:  v[3],
	}
	if rec.Placement.Direction, err = types.ParseDirection(f[9]); err != nil {
		return
	}
	if rec.Movability, err = types.ParseMovability(f[10]); err != nil {
		return
	}
	rec.Clamped, err = types.ParseClamped(f[11])
	return
}

// Body builds the immersed body of an IB record from its point cloud.
// Flexible bodies take the material and are clamped at their first marker
// when the record says so.
func (rec GeometryRecord) Body(dims int, cloud []r3.Vec, mat IBM.Material) (*IBM.Body, error) {
	if rec.Kind != types.IBBody {
		return nil, fmt.Errorf("body %d is a %s record, not an immersed boundary", rec.BodyID, rec.Kind)
	}
	b, err := IBM.NewBodyFromCloud(rec.BodyID, rec.Grid, dims, cloud, rec.Placement, rec.Movability, false)
	if err != nil {
		return nil, err
	}
	b.ClampStart = rec.Clamped
	if rec.Movability == types.Flexible {
		b.Material = mat
	}
	return b, nil
}
