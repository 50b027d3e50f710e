package utils

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var ErrSingularMatrix = errors.New("singular matrix")

// NewBandMatrix allocates an n x n band matrix with m1 sub-diagonals and m2
// super-diagonals. Entries are set with SetBand.
func NewBandMatrix(n, m1, m2 int) *mat.BandDense {
	return mat.NewBandDense(n, n, m1, m2, nil)
}

// BandLU holds the LU factorization of a band matrix with partial pivoting.
// U is stored compactly as n x (m1+m2+1), row i holding the row's upper
// factor starting at the diagonal. L holds the n x m1 elimination multipliers.
type BandLU struct {
	N, M1, M2 int
	U         *mat.Dense
	L         *mat.Dense
	Pivot     []int
	Parity    float64
}

// BandDecompose factors A (square, band storage) with row interchanges.
// A is not modified.
func BandDecompose(A *mat.BandDense) (lu *BandLU, err error) {
	var (
		n, nc  = A.Dims()
		m1, m2 = A.Bandwidth()
		mm     = m1 + m2 + 1
	)
	if n != nc {
		err = fmt.Errorf("band matrix must be square, have %d x %d", n, nc)
		return
	}
	lu = &BandLU{
		N: n, M1: m1, M2: m2,
		U:      mat.NewDense(n, mm, nil),
		Pivot:  make([]int, n),
		Parity: 1,
	}
	if m1 > 0 {
		lu.L = mat.NewDense(n, m1, nil)
	}
	a := lu.U.RawMatrix()
	// Compact storage: column c of row i is A[i][i-m1+c]
	for i := 0; i < n; i++ {
		row := a.Data[i*a.Stride : i*a.Stride+mm]
		for c := 0; c < mm; c++ {
			j := i - m1 + c
			if j >= 0 && j < n {
				row[c] = A.At(i, j)
			}
		}
	}
	// Shift the first m1 rows left so every row starts at its first stored entry
	l := m1
	for i := 0; i < m1 && i < n; i++ {
		row := a.Data[i*a.Stride : i*a.Stride+mm]
		for j := m1 - i; j < mm; j++ {
			row[j-l] = row[j]
		}
		l--
		for j := mm - l - 1; j < mm; j++ {
			row[j] = 0
		}
	}
	l = m1
	for k := 0; k < n; k++ {
		var (
			rowK = a.Data[k*a.Stride : k*a.Stride+mm]
			dum  = rowK[0]
			piv  = k
		)
		if l < n {
			l++
		}
		for j := k + 1; j < l; j++ {
			if v := a.Data[j*a.Stride]; math.Abs(v) > math.Abs(dum) {
				dum = v
				piv = j
			}
		}
		lu.Pivot[k] = piv
		if dum == 0 {
			err = fmt.Errorf("%w: zero pivot in column %d", ErrSingularMatrix, k)
			return nil, err
		}
		if piv != k {
			lu.Parity = -lu.Parity
			rowP := a.Data[piv*a.Stride : piv*a.Stride+mm]
			for j := 0; j < mm; j++ {
				rowK[j], rowP[j] = rowP[j], rowK[j]
			}
		}
		for i := k + 1; i < l; i++ {
			rowI := a.Data[i*a.Stride : i*a.Stride+mm]
			dum = rowI[0] / rowK[0]
			lu.L.Set(k, i-k-1, dum)
			for j := 1; j < mm; j++ {
				rowI[j-1] = rowI[j] - dum*rowK[j]
			}
			rowI[mm-1] = 0
		}
	}
	return
}

// Solve overwrites b with the solution of A x = b.
func (lu *BandLU) Solve(b []float64) (err error) {
	var (
		n  = lu.N
		mm = lu.M1 + lu.M2 + 1
		a  = lu.U.RawMatrix()
	)
	if len(b) != n {
		return fmt.Errorf("band solve: rhs length %d, matrix order %d", len(b), n)
	}
	l := lu.M1
	for k := 0; k < n; k++ {
		if i := lu.Pivot[k]; i != k {
			b[k], b[i] = b[i], b[k]
		}
		if l < n {
			l++
		}
		for i := k + 1; i < l; i++ {
			b[i] -= lu.L.At(k, i-k-1) * b[k]
		}
	}
	l = 1
	for i := n - 1; i >= 0; i-- {
		var (
			row = a.Data[i*a.Stride : i*a.Stride+mm]
			dum = b[i]
		)
		for k := 1; k < l; k++ {
			dum -= row[k] * b[k+i]
		}
		b[i] = dum / row[0]
		if l < mm {
			l++
		}
	}
	return
}

// Determinant returns det(A) from the factorization.
func (lu *BandLU) Determinant() (det float64) {
	det = lu.Parity
	for i := 0; i < lu.N; i++ {
		det *= lu.U.At(i, 0)
	}
	return
}
