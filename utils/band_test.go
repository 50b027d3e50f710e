package utils

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestBandSolve(t *testing.T) {
	{ // Pentadiagonal, diagonal 4 and off diagonals -1, b = 1
		var (
			n      = 200
			m1, m2 = 2, 2
			A      = NewBandMatrix(n, m1, m2)
			b      = make([]float64, n)
		)
		for i := 0; i < n; i++ {
			A.SetBand(i, i, 4)
			for k := 1; k <= 2; k++ {
				if i+k < n {
					A.SetBand(i, i+k, -1)
					A.SetBand(i+k, i, -1)
				}
			}
			b[i] = 1
		}
		lu, err := BandDecompose(A)
		require.NoError(t, err)
		x := make([]float64, n)
		copy(x, b)
		require.NoError(t, lu.Solve(x))
		var (
			Ax    = mat.NewVecDense(n, nil)
			resid float64
		)
		Ax.MulVec(A, mat.NewVecDense(n, x))
		for i := 0; i < n; i++ {
			resid = math.Max(resid, math.Abs(Ax.AtVec(i)-b[i]))
		}
		// |x| is O(1e3) here, the backward error floor is ~ eps*|A||x| = 1e-12
		assert.Less(t, resid, 1.e-10)
		// Symmetric, increasing towards the centre
		for i := 0; i < n/2-1; i++ {
			assert.Greater(t, x[i+1], x[i])
			assert.InDelta(t, x[i], x[n-1-i], 1.e-12*x[n/2])
		}
	}
	{ // Random band matrices reproduce a known solution
		rnd := rand.New(rand.NewSource(7))
		for trial := 0; trial < 40; trial++ {
			var (
				m1 = rnd.Intn(4)
				m2 = rnd.Intn(4)
				n  = 1 + max(m1, m2) + rnd.Intn(40)
				A  = NewBandMatrix(n, m1, m2)
				xt = make([]float64, n)
			)
			for i := 0; i < n; i++ {
				for j := max(0, i-m1); j < min(n, i+m2+1); j++ {
					A.SetBand(i, j, rnd.Float64()*2-1)
				}
				// Dominant diagonal keeps the condition number bounded
				A.SetBand(i, i, A.At(i, i)+float64(m1+m2+1)*sign(rnd.Float64()-0.5))
				xt[i] = rnd.Float64()*2 - 1
			}
			b := mat.NewVecDense(n, nil)
			b.MulVec(A, mat.NewVecDense(n, xt))
			lu, err := BandDecompose(A)
			require.NoError(t, err)
			x := make([]float64, n)
			copy(x, b.RawVector().Data)
			require.NoError(t, lu.Solve(x))
			for i := range x {
				assert.InDelta(t, xt[i], x[i], 1.e-10)
			}
		}
	}
	{ // Pivoting: a zero leading diagonal still factors
		A := NewBandMatrix(3, 1, 1)
		A.SetBand(0, 0, 0)
		A.SetBand(0, 1, 1)
		A.SetBand(1, 0, 2)
		A.SetBand(1, 1, 1)
		A.SetBand(1, 2, 1)
		A.SetBand(2, 1, 1)
		A.SetBand(2, 2, 3)
		lu, err := BandDecompose(A)
		require.NoError(t, err)
		assert.Equal(t, 1, lu.Pivot[0])
		assert.InDelta(t, mat.Det(mat.DenseCopyOf(A)), lu.Determinant(), 1.e-12)
		x := []float64{1, 2, 3}
		require.NoError(t, lu.Solve(x))
		Ax := mat.NewVecDense(3, nil)
		Ax.MulVec(A, mat.NewVecDense(3, x))
		assert.InDeltaSlice(t, []float64{1, 2, 3}, Ax.RawVector().Data, 1.e-12)
	}
	{ // Singular
		A := NewBandMatrix(3, 1, 1)
		A.SetBand(0, 0, 1)
		A.SetBand(1, 0, 1)
		_, err := BandDecompose(A)
		assert.True(t, errors.Is(err, ErrSingularMatrix))
	}
	{ // Wrong rhs length
		A := NewBandMatrix(2, 0, 0)
		A.SetBand(0, 0, 1)
		A.SetBand(1, 1, 1)
		lu, err := BandDecompose(A)
		require.NoError(t, err)
		assert.Error(t, lu.Solve([]float64{1}))
	}
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}
