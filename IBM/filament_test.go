package IBM

import (
	"errors"
	"math"
	"testing"

	"github.com/notargets/golbm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

var plate = Material{E: 1.e5, Density: 100, Area: 0.01, SecondMoment: 1.e-6 / 12}

func newPlate(t *testing.T, n int) *Body {
	b := NewFilament(1, types.GridID{}, 2, r3.Vec{X: 0.2, Y: 0.2}, r3.Vec{X: 1},
		0.1, n, plate, true)
	require.NoError(t, NewRegistry().Add(b))
	return b
}

func maxStrain(b *Body) (worst float64) {
	n := len(b.Markers)
	for s := 0; s < b.NumSegments(); s++ {
		L := r3.Norm(r3.Sub(b.Markers[(s+1)%n].Position, b.Markers[s].Position))
		worst = math.Max(worst, math.Abs(L-b.Elements[s].L0)/b.Elements[s].L0)
	}
	return
}

func TestBendingStencil(t *testing.T) {
	// The fourth difference of a straight, uniformly spaced line vanishes
	// for every end condition consistent with the line.
	for _, clamp := range []bool{false, true} {
		b := NewFilament(1, types.GridID{}, 2, r3.Vec{X: 0.1, Y: 0.3}, r3.Vec{X: 3, Y: 4},
			0.1, 9, plate, clamp)
		b.ClampEnd = clamp
		if clamp {
			require.NoError(t, b.prepare())
		}
		for i, row := range bendingStencil(b) {
			v := row.c
			for k, j := range row.cols {
				v = r3.Add(v, r3.Scale(row.w[k], b.Markers[j].Position))
			}
			assert.InDelta(t, 0., r3.Norm(v), 1.e-12, "row %d clamp %v", i, clamp)
			for _, j := range row.cols {
				assert.LessOrEqual(t, math.Abs(float64(j-i)), 2.)
			}
		}
	}
	{ // Interior rows are the classic 1 -4 6 -4 1 stencil
		b := newPlate(t, 11)
		row := bendingStencil(b)[5]
		assert.Equal(t, []int{3, 4, 5, 6, 7}, row.cols)
		assert.Equal(t, []float64{1, -4, 6, -4, 1}, row.w)
	}
	{ // Closed loops wrap around
		b := NewCircle(1, types.GridID{}, 2, r3.Vec{}, 1, 8)
		b.Movability = types.Flexible
		row := bendingStencil(b)[0]
		assert.Equal(t, []int{0, 1, 2, 6, 7}, row.cols)
	}
}

func TestFilament(t *testing.T) {
	var (
		fi = DefaultFilamentIntegrator()
		dt = 1.e-3
		h  = 0.01
	)
	{ // At rest without load nothing moves
		b := newPlate(t, 11)
		X0 := b.Positions()
		st, err := fi.Step(b, 0, dt, h)
		require.NoError(t, err)
		st.Commit(b, dt)
		for i, x := range b.Positions() {
			assert.InDelta(t, 0., r3.Norm(r3.Sub(x, X0[i])), 1.e-12)
		}
		assert.LessOrEqual(t, st.Iterations, 2)
	}
	{ // Transverse load deflects the free end and keeps the lengths
		b := newPlate(t, 11)
		clamp := b.Markers[0].Position
		var tip []float64
		for step := 0; step < 20; step++ {
			for i := range b.Markers {
				b.Markers[i].Force = r3.Vec{Y: -100} // force on the fluid
			}
			st, err := fi.Step(b, float64(step)*dt, dt, h)
			require.NoError(t, err)
			st.Commit(b, dt)
			assert.Less(t, maxStrain(b), 1.e-6)
			tip = append(tip, b.Markers[10].Position.Y-0.2)
		}
		assert.Equal(t, clamp, b.Markers[0].Position)
		assert.Greater(t, tip[19], tip[9])
		assert.Greater(t, tip[9], 0.)
		for s := range b.Elements {
			e := &b.Elements[s]
			assert.InDelta(t, e.L0, e.L, 1.e-6*e.L0)
			r, c := e.T.Dims()
			assert.Equal(t, 6, r)
			assert.Equal(t, 6, c)
			assert.InDelta(t, b.Tension[s], e.F[0], 1.e-9)
			assert.InDelta(t, 0., e.F[1], 1.e-9)
			assert.InDelta(t, -b.Tension[s], e.F[3], 1.e-9)
		}
		assert.Greater(t, b.Elements[9].Angle, 0.)
		// The structural velocity becomes the desired marker velocity
		mk := b.Markers[10]
		assert.Equal(t, finiteDifference(mk.Position, mk.PreviousPosition, dt), mk.DesiredVelocity)
	}
	{ // A moving clamp carries the filament along
		b := newPlate(t, 11)
		b.Motion = Translation{U: r3.Vec{Y: 0.5}}
		for step := 0; step < 10; step++ {
			st, err := fi.Step(b, float64(step)*dt, dt, h)
			require.NoError(t, err)
			st.Commit(b, dt)
		}
		assert.InDelta(t, 0.2+10*dt*0.5, b.Markers[0].Position.Y, 1.e-12)
		assert.InDelta(t, 0.5, b.Markers[0].DesiredVelocity.Y, 1.e-9)
		assert.Less(t, maxStrain(b), 1.e-6)
	}
	{ // Closed loop under a uniform inward load keeps its segment lengths
		b := NewCircle(2, types.GridID{}, 2, r3.Vec{X: 0.3, Y: 0.3}, 0.05, 24)
		b.Movability = types.Flexible
		b.Material = plate
		require.NoError(t, NewRegistry().Add(b))
		for step := 0; step < 5; step++ {
			for i := range b.Markers {
				out := r3.Unit(r3.Sub(b.Markers[i].Position, r3.Vec{X: 0.3, Y: 0.3}))
				b.Markers[i].Force = r3.Scale(50, out)
			}
			st, err := fi.Step(b, float64(step)*dt, dt, h)
			require.NoError(t, err)
			st.Commit(b, dt)
			assert.Less(t, maxStrain(b), 1.e-6)
		}
		assert.Len(t, b.Tension, 24)
	}
	{ // Iteration cap with the best iterate available
		b := newPlate(t, 11)
		for i := range b.Markers {
			b.Markers[i].Force = r3.Vec{Y: -1.e4}
		}
		capped := FilamentIntegrator{Tolerance: 1.e-14, MaxIterations: 1}
		st, err := capped.Step(b, 0, dt, h)
		require.Error(t, err)
		assert.True(t, errors.Is(err, SolverNotConverged))
		require.NotNil(t, st)
		assert.Equal(t, 1, st.Iterations)
	}
	{ // Gross length drift is a blowup
		b := newPlate(t, 11)
		for i := range b.Markers {
			b.Markers[i].Force = r3.Vec{Y: -1.e9}
		}
		capped := FilamentIntegrator{Tolerance: 1.e-10, MaxIterations: 1}
		st, err := capped.Step(b, 0, dt, h)
		require.Error(t, err)
		assert.Nil(t, st)
		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, NumericalBlowup, e.Kind)
		assert.True(t, e.Fatal())
	}
	{ // Configuration checks
		reg := NewRegistry()
		open := NewFilament(1, types.GridID{}, 2, r3.Vec{}, r3.Vec{X: 1}, 0.1, 11, plate, false)
		err := reg.Add(open)
		assert.True(t, errors.Is(err, ConfigurationError))
		short := NewFilament(2, types.GridID{}, 2, r3.Vec{}, r3.Vec{X: 1}, 0.1, 3, plate, true)
		assert.True(t, errors.Is(reg.Add(short), ConfigurationError))
		_, err = DefaultFilamentIntegrator().Step(NewCircle(3, types.GridID{}, 2, r3.Vec{}, 1, 8), 0, dt, h)
		assert.True(t, errors.Is(err, ConfigurationError))
	}
}
