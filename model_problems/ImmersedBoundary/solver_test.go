package ImmersedBoundary

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/notargets/golbm/IBM"
	"github.com/notargets/golbm/InputParameters"
	"github.com/notargets/golbm/readfiles"
	"github.com/notargets/golbm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func channelParams(t *testing.T, ranks int, extra string) *InputParameters.IBMParameters {
	var ip InputParameters.IBMParameters
	require.NoError(t, ip.Parse([]byte(fmt.Sprintf(`
Case: cylinder
Nx: 60
Ny: 40
Spacing: 0.01
TimeStep: 0.005
Viscosity: 0.001
Uinf: 0.1
Ranks: %d
Cylinder:
  Centre: [0.2, 0.195]
  Radius: 0.05
  Markers: 32
Plate:
  Start: [0.3, 0.2]
  Length: 0.1
  Markers: 11
  Clamped: true
Material:
  YoungsModulus: 1.e+5
  Density: 100
  Area: 0.01
  SecondMoment: 8.333333333333333e-08
%s`, ranks, extra))))
	return &ip
}

// cylinderAndPlate is a fixed cylinder with a flexible plate in its wake.
func cylinderAndPlate(ip *InputParameters.IBMParameters) BodyBuilder {
	return func() ([]*IBM.Body, error) {
		cyl := IBM.NewCircle(1, types.GridID{}, 2, r3.Vec{X: 0.2, Y: 0.195}, 0.05, 32)
		plate := IBM.NewFilament(2, types.GridID{}, 2, r3.Vec{X: 0.3, Y: 0.195}, r3.Vec{X: 1},
			0.1, 11, IBM.Material{
				E:            ip.Material.YoungsModulus,
				Density:      ip.Material.Density,
				Area:         ip.Material.Area,
				SecondMoment: ip.Material.SecondMoment,
			}, true)
		return []*IBM.Body{cyl, plate}, nil
	}
}

func velocityField(s *Solver) map[[3]int]r3.Vec {
	field := make(map[[3]int]r3.Vec)
	for _, g := range s.Grids {
		lo, hi := g.Owned()
		for j := lo[1]; j < hi[1]; j++ {
			for i := lo[0]; i < hi[0]; i++ {
				field[[3]int{i, j, 0}], _ = g.VelocityAt([3]int{i, j, 0})
			}
		}
	}
	return field
}

func TestSolverSetup(t *testing.T) {
	{ // Cylinder case
		s, err := NewSolver(channelParams(t, 4, ""), nil)
		require.NoError(t, err)
		assert.Len(t, s.Registries, 4)
		assert.Len(t, s.Grids, 4)
		assert.Equal(t, [3]int{2, 2, 1}, s.Decomp.P)
		assert.Equal(t, 0.1, s.RefLength)
		assert.Equal(t, IBM.KernelRoma3, s.Settings.Kernel)
		assert.Equal(t, types.BC_In, s.Config.BC[0])
		b, ok := s.Registries[3].Lookup(1)
		require.True(t, ok)
		assert.Equal(t, types.Fixed, b.Movability)
		assert.NotSame(t, b, s.Registries[0].Bodies()[0])
	}
	{ // Plate case with a moving clamp
		ip := channelParams(t, 1, "Oscillation:\n  Amplitude: [0, 0.1]\n  Period: 0.5\n")
		ip.Case = "plate"
		s, err := NewSolver(ip, nil)
		require.NoError(t, err)
		b := s.Registries[0].Bodies()[0]
		assert.Equal(t, types.Flexible, b.Movability)
		assert.NotNil(t, b.Motion)
		assert.True(t, b.ClampStart)
	}
	{ // Configuration errors
		for _, extra := range []string{
			"Kernel: gaussian\n",
			"BCs:\n  top: wall\n",
			"BCs:\n  xmin: sticky\n",
		} {
			_, err := NewSolver(channelParams(t, 1, extra), nil)
			assert.Error(t, err, extra)
		}
		ip := channelParams(t, 1, "")
		ip.Case = "sphere"
		_, err := NewSolver(ip, nil)
		assert.Error(t, err)
		ip.Case, ip.Cylinder = "cylinder", nil
		_, err = NewSolver(ip, nil)
		assert.Error(t, err)
		ip = channelParams(t, 7, "")
		_, err = NewSolver(ip, nil)
		assert.NoError(t, err)
		ip.Nx = 5
		_, err = NewSolver(ip, nil)
		assert.Error(t, err)
	}
}

func TestCylinderDrag(t *testing.T) {
	s, err := NewSolver(channelParams(t, 1, ""), nil)
	require.NoError(t, err)
	require.NoError(t, s.Advance(30))
	assert.Equal(t, 30, s.Steps)
	assert.InDelta(t, 30*0.005, s.Time, 1.e-12)
	require.Len(t, s.History, 30)
	last := s.History[29]
	assert.Equal(t, 30, last.Step)
	assert.Greater(t, last.Force.X, 0.)
	assert.Greater(t, last.Cd, 0.)
	assert.InDelta(t, 0., last.Cl, 0.1*last.Cd)
	assert.Empty(t, s.Incidents)
}

func TestDecompositionInvariance(t *testing.T) {
	// The same case on one rank and on a 2x2 split agrees step by step
	var runs []*Solver
	for _, ranks := range []int{1, 4} {
		ip := channelParams(t, ranks, "")
		s, err := NewSolverWithBodies(ip, cylinderAndPlate(ip), 0.1, nil)
		require.NoError(t, err)
		require.NoError(t, s.Advance(20))
		runs = append(runs, s)
	}
	one, four := runs[0], runs[1]
	require.Equal(t, len(one.History), len(four.History))
	for i, rec := range one.History {
		scale := math.Max(1, r3.Norm(rec.Force))
		assert.InDelta(t, rec.Force.X, four.History[i].Force.X, 1.e-10*scale)
		assert.InDelta(t, rec.Force.Y, four.History[i].Force.Y, 1.e-10*scale)
	}
	for rank := range four.Registries {
		for ib, b := range four.Registries[rank].Bodies() {
			for i, mk := range b.Markers {
				ref := one.Registries[0].Bodies()[ib].Markers[i].Position
				assert.InDelta(t, 0., r3.Norm(r3.Sub(ref, mk.Position)), 1.e-10)
			}
		}
	}
	u1, u4 := velocityField(one), velocityField(four)
	require.Len(t, u4, len(u1))
	for node, u := range u1 {
		assert.InDelta(t, 0., r3.Norm(r3.Sub(u, u4[node])), 1.e-10, "node %v", node)
	}
}

func TestRestartResume(t *testing.T) {
	ip := channelParams(t, 2, "")
	build := cylinderAndPlate(ip)
	a, err := NewSolverWithBodies(ip, build, 0.1, nil)
	require.NoError(t, err)
	require.NoError(t, a.Advance(10))
	ck := a.Checkpoint()
	// The body image goes through the restart file format
	var buf bytes.Buffer
	require.NoError(t, readfiles.WriteRestart(&buf, ck.Image))
	ck.Image, err = readfiles.ReadRestart(&buf)
	require.NoError(t, err)
	require.NoError(t, a.Advance(10))

	b, err := NewSolverWithBodies(ip, build, 0.1, nil)
	require.NoError(t, err)
	require.NoError(t, b.Restore(ck))
	require.NoError(t, b.Advance(10))

	assert.Equal(t, a.Steps, b.Steps)
	assert.Equal(t, a.Time, b.Time)
	assert.Equal(t, a.History[len(a.History)-len(b.History):], b.History)
	for rank := range a.Registries {
		assert.Equal(t, a.Registries[rank].RestartImage(), b.Registries[rank].RestartImage())
		assert.Equal(t, a.Grids[rank].State(), b.Grids[rank].State())
	}
	// Mismatched checkpoints are rejected
	c, err := NewSolverWithBodies(channelParams(t, 1, ""), build, 0.1, nil)
	require.NoError(t, err)
	assert.Error(t, c.Restore(ck))
}

func TestOutput(t *testing.T) {
	dir := t.TempDir()
	ip := channelParams(t, 2, fmt.Sprintf("OutputDir: %s\nOutputInterval: 5\nRestartInterval: 5\nFinalTime: 0.05\n", dir))
	s, err := NewSolverWithBodies(ip, cylinderAndPlate(ip), 0.1, nil)
	require.NoError(t, err)
	require.NoError(t, s.Solve())
	assert.Equal(t, 10, s.Steps)
	for _, name := range []string{"Body_positions_000005.out", "Body_positions_000010.out",
		"IBbody_000005.vtk", "IBbody_000010.vtk", "LD_IBB.out", "restart_IBBody.out"} {
		_, err = os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
	ld, err := os.ReadFile(filepath.Join(dir, "LD_IBB.out"))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(ld)), "\n"), 4)
	img, err := readfiles.ReadRestartFile(filepath.Join(dir, "restart_IBBody.out"))
	require.NoError(t, err)
	assert.Equal(t, s.Registries[0].RestartImage(), img)
	// Gathered marker forces add up to the body totals
	pos, err := os.ReadFile(filepath.Join(dir, "Body_positions_000010.out"))
	require.NoError(t, err)
	var sumX float64
	for _, line := range strings.Split(strings.TrimSpace(string(pos)), "\n") {
		f := strings.Split(line, "\t")
		if strings.HasPrefix(line, "#") || f[0] != "1" {
			continue
		}
		var Fx, eps float64
		fmt.Sscanf(f[5], "%g", &Fx)
		fmt.Sscanf(f[8], "%g", &eps)
		sumX -= Fx * eps
	}
	cyl := s.History[len(s.History)-2]
	require.Equal(t, 1, cyl.BodyID)
	b, _ := s.Registries[0].Lookup(1)
	ds := b.Spacing * s.Config.Spacing
	assert.InDelta(t, cyl.Force.X, sumX*ds, 1.e-9*math.Max(1, math.Abs(cyl.Force.X)))
}
