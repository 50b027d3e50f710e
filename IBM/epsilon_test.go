package IBM

import (
	"math"
	"testing"

	"github.com/notargets/golbm/types"
	"github.com/notargets/golbm/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// unitResidual is ||1 - A eps||_2 / sqrt(M).
func unitResidual(A utils.CSR, b *Body) float64 {
	var (
		n   = len(b.Markers)
		eps = mat.NewVecDense(n, nil)
		Ae  = mat.NewVecDense(n, nil)
		sum float64
	)
	for i := range b.Markers {
		eps.SetVec(i, b.Markers[i].Epsilon)
	}
	A.MulVecTo(Ae, false, eps)
	for i := 0; i < n; i++ {
		r := 1 - Ae.AtVec(i)
		sum += r * r
	}
	return math.Sqrt(sum / float64(n))
}

func TestEpsilon(t *testing.T) {
	var (
		h  = 0.01
		sr = SupportResolver{Kernel: KernelRoma3}
		es = EpsilonSolver{Settings: utils.DefaultIterativeSettings()}
	)
	{ // Three collinear markers
		g := newFakeLattice(2, 101, 101, 1, h)
		b := lineBody(1, 0.015,
			r3.Vec{X: 0.5, Y: 0.5}, r3.Vec{X: 0.5, Y: 0.515}, r3.Vec{X: 0.5, Y: 0.53})
		assert.Empty(t, sr.refreshSupports(g, b))
		res, err := es.Solve(b, h, 2)
		require.NoError(t, err)
		assert.LessOrEqual(t, res.Residual, 1.e-12)
		A := es.Assemble(b, h, 2)
		assert.Less(t, unitResidual(A, b), 1.e-9)
		// The system is tridiagonal with 3/8 on the diagonal and 1/16 off it
		assert.InDelta(t, 0.375, A.At(0, 0), 1.e-9)
		assert.InDelta(t, 0.0625, A.At(0, 1), 1.e-9)
		assert.InDelta(t, 0., A.At(0, 2), 1.e-12)
		assert.InDelta(t, 40./17., b.Markers[0].Epsilon, 1.e-8)
		assert.InDelta(t, 32./17., b.Markers[1].Epsilon, 1.e-8)
		assert.InDelta(t, 40./17., b.Markers[2].Epsilon, 1.e-8)
	}
	{ // Closed body, dense marker spacing
		g := newFakeLattice(2, 60, 60, 1, h)
		b := NewCircle(2, types.GridID{}, 2, r3.Vec{X: 0.3, Y: 0.3}, 0.05, 32)
		require.NoError(t, NewRegistry().Add(b))
		assert.Empty(t, sr.refreshSupports(g, b))
		res, err := es.Solve(b, h, 2)
		require.NoError(t, err)
		assert.Greater(t, res.Iterations, 0)
		assert.Less(t, unitResidual(es.Assemble(b, h, 2), b), 1.e-8)
		for _, mk := range b.Markers {
			assert.Greater(t, mk.Epsilon, 0.)
		}
	}
	{ // A marker without support decouples with epsilon one
		g := newFakeLattice(2, 40, 40, 1, h)
		b := lineBody(4, h, r3.Vec{X: 0.2, Y: 0.2}, r3.Vec{X: 0.21, Y: 0.2}, r3.Vec{X: 5, Y: 5})
		sr.refreshSupports(g, b)
		A := es.Assemble(b, h, 2)
		assert.Equal(t, 1., A.At(2, 2))
		assert.Equal(t, 0., A.At(0, 2))
		_, err := es.Solve(b, h, 2)
		require.NoError(t, err)
		assert.InDelta(t, 1., b.Markers[2].Epsilon, 1.e-12)
	}
	{ // An isolated marker has A = ds/(4h) for the Roma kernel wherever it sits
		g := newFakeLattice(2, 40, 40, 1, h)
		b := lineBody(6, 0.015, r3.Vec{X: 0.2037, Y: 0.1911})
		assert.Empty(t, sr.refreshSupports(g, b))
		_, err := es.Solve(b, h, 2)
		require.NoError(t, err)
		assert.InDelta(t, 4*h/0.015, b.Markers[0].Epsilon, 1.e-12)
	}
	{ // Repeated solves are bitwise identical
		solve := func() (eps []float64) {
			g := newFakeLattice(2, 60, 60, 1, h)
			b := NewCircle(8, types.GridID{}, 2, r3.Vec{X: 0.3, Y: 0.3}, 0.04, 24)
			sr.refreshSupports(g, b)
			es.Solve(b, h, 2)
			for _, mk := range b.Markers {
				eps = append(eps, mk.Epsilon)
			}
			return
		}
		first := solve()
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, solve())
		}
	}
	{ // Markers denser than the lattice keep positive epsilons and a stable coupling
		g := newFakeLattice(2, 60, 60, 1, h)
		b := NewCircle(9, types.GridID{}, 2, r3.Vec{X: 0.3, Y: 0.3}, 0.05, 64)
		require.Less(t, b.Spacing, 0.5*h)
		assert.Empty(t, sr.refreshSupports(g, b))
		res, err := es.Solve(b, h, 2)
		require.NoError(t, err)
		A := es.Assemble(b, h, 2)
		rows := A.RowSums()
		eps := mat.NewVecDense(len(b.Markers), nil)
		for i, mk := range b.Markers {
			assert.Greater(t, mk.Epsilon, 0.)
			assert.Less(t, mk.Epsilon, 10.)
			if res.Lumped {
				assert.Equal(t, 1/rows[i], mk.Epsilon)
			}
			eps.SetVec(i, mk.Epsilon)
		}
		if !res.Lumped {
			assert.Less(t, unitResidual(A, b), 1.e-8)
		}
		coupling := mat.NewVecDense(len(b.Markers), nil)
		A.MulVecTo(coupling, false, eps)
		for i := 0; i < coupling.Len(); i++ {
			assert.InDelta(t, 1., coupling.AtVec(i), 0.25)
		}
	}
	{ // Nearly coincident markers have a sign alternating exact solution
		g := newFakeLattice(2, 40, 40, 1, h)
		b := lineBody(10, 0.001, r3.Vec{X: 0.2, Y: 0.2}, r3.Vec{X: 0.2005, Y: 0.2},
			r3.Vec{X: 0.201, Y: 0.2})
		sr.refreshSupports(g, b)
		res, _ := es.Solve(b, h, 2)
		rows := es.Assemble(b, h, 2).RowSums()
		for i, mk := range b.Markers {
			assert.Greater(t, mk.Epsilon, 0.)
			if res.Lumped {
				assert.Equal(t, 1/rows[i], mk.Epsilon)
			}
		}
	}
	{ // Only finite positive epsilons are accepted
		assert.True(t, acceptable([]float64{0.5, 2, 40. / 17}))
		assert.False(t, acceptable([]float64{1, 0, 1}))
		assert.False(t, acceptable([]float64{-361, 343}))
		assert.False(t, acceptable([]float64{math.NaN()}))
		assert.False(t, acceptable([]float64{math.Inf(1)}))
	}
	{ // Iteration cap is reported with the best iterate kept
		g := newFakeLattice(2, 60, 60, 1, h)
		b := NewCircle(5, types.GridID{}, 2, r3.Vec{X: 0.3, Y: 0.3}, 0.05, 32)
		sr.refreshSupports(g, b)
		capped := EpsilonSolver{Settings: utils.IterativeSettings{
			Tolerance: 1.e-14, MaxIterations: 1, MaxStagnantRestarts: 2}}
		_, err := capped.Solve(b, h, 2)
		require.Error(t, err)
		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, SolverNotConverged, e.Kind)
		assert.Equal(t, 5, e.BodyID)
		assert.Equal(t, 1, e.Iterations)
		assert.ErrorIs(t, err, utils.ErrNotConverged)
		assert.NotEqual(t, 1., b.Markers[0].Epsilon)
	}
}
