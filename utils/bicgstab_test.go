package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestBiCGStab(t *testing.T) {
	set := DefaultIterativeSettings()
	{ // Nonsymmetric, diagonally dominant
		var (
			n = 30
			A = mat.NewDense(n, n, nil)
			b = make([]float64, n)
			x = make([]float64, n)
		)
		for i := 0; i < n; i++ {
			A.Set(i, i, 5)
			if i > 0 {
				A.Set(i, i-1, -2)
			}
			if i < n-1 {
				A.Set(i, i+1, -1)
			}
			b[i] = float64(i%3) + 1
		}
		res, err := BiCGStab(A, b, x, set)
		require.NoError(t, err)
		assert.LessOrEqual(t, res.Residual, set.Tolerance)
		assert.Greater(t, res.Iterations, 0)
		Ax := mat.NewVecDense(n, nil)
		Ax.MulVec(A, mat.NewVecDense(n, x))
		assert.InDeltaSlice(t, b, Ax.RawVector().Data, 1.e-10)
	}
	{ // Sparse CSR operator takes the MulVecTo path
		var (
			n   = 20
			dok = NewDOK(n, n)
			b   = make([]float64, n)
			x   = make([]float64, n)
		)
		for i := 0; i < n; i++ {
			dok.Add(i, i, 3)
			dok.Add(i, i, 1)
			if i > 1 {
				dok.Set(i, i-2, 0.5)
			}
			b[i] = 1
			x[i] = 1
		}
		A := dok.ToCSR()
		_, err := BiCGStab(A, b, x, set)
		require.NoError(t, err)
		Ax := mat.NewVecDense(n, nil)
		A.MulVecTo(Ax, false, mat.NewVecDense(n, x))
		assert.InDeltaSlice(t, b, Ax.RawVector().Data, 1.e-10)
		assert.Equal(t, 4., A.At(0, 0))
		assert.InDeltaSlice(t, []float64{4, 4, 4.5}, A.RowSums()[:3], 1.e-15)
	}
	{ // Zero right hand side
		A := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
		x := []float64{3, 4}
		res, err := BiCGStab(A, []float64{0, 0}, x, set)
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 0}, x)
		assert.Equal(t, 0, res.Iterations)
	}
	{ // Iteration cap
		var (
			n = 40
			A = mat.NewDense(n, n, nil)
			b = make([]float64, n)
			x = make([]float64, n)
		)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				A.Set(i, j, 1./float64(i+j+1)) // Hilbert, badly conditioned
			}
			b[i] = 1
		}
		capped := set
		capped.MaxIterations = 2
		res, err := BiCGStab(A, b, x, capped)
		assert.True(t, errors.Is(err, ErrNotConverged))
		assert.Equal(t, 2, res.Iterations)
		assert.True(t, floats.Norm(x, 2) > 0)
	}
	{ // Repeated breakdown without progress
		A := mat.NewDense(3, 3, nil)
		x := []float64{1, 1, 1}
		res, err := BiCGStab(A, []float64{1, 1, 1}, x, set)
		assert.True(t, errors.Is(err, ErrStagnated))
		assert.Equal(t, set.MaxStagnantRestarts, res.Restarts)
	}
	{ // Dimension mismatch
		A := mat.NewDense(2, 2, nil)
		_, err := BiCGStab(A, []float64{1}, []float64{1, 1}, set)
		assert.Error(t, err)
	}
}
