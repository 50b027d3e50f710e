package utils

import (
	"fmt"
	"sort"

	"github.com/james-bowman/sparse"
	"github.com/james-bowman/sparse/blas"
	"gonum.org/v1/gonum/mat"
)

// DOK is an assembly format, entries are accumulated then converted to CSR
// for arithmetic.
type DOK struct {
	M        *sparse.DOK
	readOnly bool
	name     string
}

func NewDOK(nr, nc int) (R DOK) {
	R = DOK{
		sparse.NewDOK(nr, nc),
		false,
		"unnamed - hint: pass a variable name to SetReadOnly()",
	}
	return
}

// Dims, At and T minimally satisfy the mat.Matrix interface.
func (m DOK) Dims() (r, c int)    { return m.M.Dims() }
func (m DOK) At(i, j int) float64 { return m.M.At(i, j) }
func (m DOK) T() mat.Matrix       { return m.M.T() }
func (m DOK) NNZ() int            { return m.M.NNZ() }

func (m *DOK) SetReadOnly(name ...string) DOK {
	if len(name) != 0 {
		m.name = name[0]
	}
	m.readOnly = true
	return *m
}

func (m DOK) Set(i, j int, val float64) DOK { // Changes receiver
	m.checkWritable()
	m.checkBounds(i, j)
	m.M.Set(i, j, val)
	return m
}

func (m DOK) Add(i, j int, val float64) DOK { // Changes receiver
	m.checkWritable()
	m.checkBounds(i, j)
	m.M.Set(i, j, m.M.At(i, j)+val)
	return m
}

func (m DOK) checkWritable() {
	if m.readOnly {
		err := fmt.Errorf("attempt to write to a read only matrix named: \"%v\"", m.name)
		panic(err)
	}
}

func (m DOK) checkBounds(i, j int) {
	nr, nc := m.Dims()
	if i < 0 || i >= nr || j < 0 || j >= nc {
		err := fmt.Errorf("index out of bounds: [%d,%d], dims = [%d,%d]", i, j, nr, nc)
		panic(err)
	}
}

// ToCSR converts with the columns of every row in ascending order. The
// dictionary is a map, so without the sort the summation order of a product
// would change from one conversion to the next.
func (m DOK) ToCSR() CSR {
	csr := m.M.ToCSR()
	sortRows(csr.RawMatrix())
	return CSR{
		M:        csr,
		readOnly: true,
		name:     m.name,
	}
}

type rowEntries struct {
	ind  []int
	data []float64
}

func (r rowEntries) Len() int           { return len(r.ind) }
func (r rowEntries) Less(i, j int) bool { return r.ind[i] < r.ind[j] }
func (r rowEntries) Swap(i, j int) {
	r.ind[i], r.ind[j] = r.ind[j], r.ind[i]
	r.data[i], r.data[j] = r.data[j], r.data[i]
}

func sortRows(raw *blas.SparseMatrix) {
	for i := 0; i+1 < len(raw.Indptr); i++ {
		p0, p1 := raw.Indptr[i], raw.Indptr[i+1]
		sort.Sort(rowEntries{raw.Ind[p0:p1], raw.Data[p0:p1]})
	}
}

type CSR struct {
	M        *sparse.CSR
	readOnly bool
	name     string
}

// Dims, At and T minimally satisfy the mat.Matrix interface.
func (m CSR) Dims() (r, c int)              { return m.M.Dims() }
func (m CSR) At(i, j int) float64           { return m.M.At(i, j) }
func (m CSR) T() mat.Matrix                 { return m.M.T() }
func (m CSR) RawMatrix() *blas.SparseMatrix { return m.M.RawMatrix() }
func (m CSR) Data() []float64 {
	return m.RawMatrix().Data
}

// MulVecTo overwrites dst with A x, or with A^T x when trans is set.
func (m CSR) MulVecTo(dst *mat.VecDense, trans bool, x mat.Vector) {
	var xs []float64
	if xv, ok := x.(*mat.VecDense); ok && xv.RawVector().Inc == 1 {
		xs = xv.RawVector().Data
	} else {
		xs = make([]float64, x.Len())
		for i := range xs {
			xs[i] = x.AtVec(i)
		}
	}
	dst.Zero()
	m.M.MulVecTo(dst.RawVector().Data, trans, xs)
}

// RowSums returns A * 1, used to check partition-of-unity systems.
func (m CSR) RowSums() (sums []float64) {
	var (
		nr, _ = m.Dims()
		raw   = m.RawMatrix()
	)
	sums = make([]float64, nr)
	for i := 0; i < nr; i++ {
		for p := raw.Indptr[i]; p < raw.Indptr[i+1]; p++ {
			sums[i] += raw.Data[p]
		}
	}
	return
}
