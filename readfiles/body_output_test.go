package readfiles

import (
	"bytes"
	"strings"
	"testing"

	"github.com/notargets/golbm/IBM"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestBodyOutput(t *testing.T) {
	snap := testRegistry(t).Snapshot()
	snap.Bodies[0].TotalForce = r3.Vec{X: 1.5, Y: -0.25}
	snap.Bodies[1].Skipped = true
	snap.Bodies = append(snap.Bodies, IBM.BodySnapshot{
		ID:        7,
		Positions: []r3.Vec{{X: 1}},
		Forces:    []r3.Vec{{}},
		Epsilons:  []float64{1},
	})
	{ // Positions
		var buf bytes.Buffer
		require.NoError(t, WriteBodyPositions(&buf, 12, 0.5, snap))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		assert.Equal(t, "# step 12 time 0.5", lines[0])
		assert.Len(t, lines, 2+16+11+1)
		f := strings.Split(lines[2], "\t")
		require.Len(t, f, 9)
		assert.Equal(t, []string{"1", "0"}, f[:2])
		assert.Equal(t, []string{"0.3", "0", "0", "0", "0", "1"}, f[3:])
	}
	{ // Lift and drag
		var buf bytes.Buffer
		require.NoError(t, WriteLiftDragHeader(&buf))
		require.NoError(t, WriteLiftDrag(&buf, 3, 0.25, snap))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 4)
		assert.Equal(t, "3\t0.25\t1\t1.5\t-0.25\t0", lines[1])
		assert.True(t, strings.HasSuffix(lines[2], "\tskipped"))
	}
	{ // VTK polydata
		var buf bytes.Buffer
		require.NoError(t, WriteVTK(&buf, "bodies\nstep 3", snap))
		out := buf.String()
		assert.Contains(t, out, "bodies step 3\n")
		assert.Contains(t, out, "POINTS 28 double\n")
		assert.Contains(t, out, "LINES 2 29\n")
		assert.Contains(t, out, "\n11 16 17 18 19 20 21 22 23 24 25 26\n")
		assert.Contains(t, out, "POINT_DATA 28\n")
		assert.Equal(t, 28, strings.Count(out[strings.Index(out, "LOOKUP_TABLE"):], "\n")-1)
	}
}
