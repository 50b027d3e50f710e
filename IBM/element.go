package IBM

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// FEMElement is the straight beam element between two adjacent markers of a
// filament. Nodal degrees of freedom are (u, v, theta) in 2-D and
// (u, v, w, theta_x, theta_y, theta_z) in 3-D, so T is 6x6 or 12x12.
type FEMElement struct {
	Nodes   [2]int
	L0      float64 // reference length
	L       float64
	LengthN float64 // length at the start of the step
	Angle   float64 // orientation in the x-y plane
	AngleN  float64
	T       *mat.Dense // global to element-local transformation
	F       []float64  // element-local internal force vector
	Axis    r3.Vec     // unit tangent
}

func NewFEMElement(n0, n1 int, x0, x1 r3.Vec, dims int) (e FEMElement) {
	e = FEMElement{Nodes: [2]int{n0, n1}}
	e.setGeometry(x0, x1, dims)
	e.L0, e.LengthN, e.AngleN = e.L, e.L, e.Angle
	return
}

// Update moves the element to new end positions, keeping the previous
// length and angle in LengthN and AngleN.
func (e *FEMElement) Update(x0, x1 r3.Vec, dims int) {
	e.LengthN, e.AngleN = e.L, e.Angle
	e.setGeometry(x0, x1, dims)
}

func (e *FEMElement) setGeometry(x0, x1 r3.Vec, dims int) {
	d := r3.Sub(x1, x0)
	e.L = r3.Norm(d)
	if e.L > 0 {
		e.Axis = r3.Scale(1/e.L, d)
	}
	e.Angle = math.Atan2(d.Y, d.X)
	nd := 6 // dofs per node in 3-D
	if dims == 2 {
		nd = 3
	}
	R := rotationBlock(e.Axis, dims)
	if e.T == nil {
		e.T = mat.NewDense(2*nd, 2*nd, nil)
	} else {
		e.T.Zero()
	}
	bs, _ := R.Dims()
	for blk := 0; blk < 2*nd/bs; blk++ {
		off := blk * bs
		for i := 0; i < bs; i++ {
			for j := 0; j < bs; j++ {
				e.T.Set(off+i, off+j, R.At(i, j))
			}
		}
	}
}

// rotationBlock is the direction cosine block of one node. In 2-D it acts on
// (u, v, theta), in 3-D on either the translations or the rotations.
func rotationBlock(t r3.Vec, dims int) *mat.Dense {
	if dims == 2 {
		c, s := t.X, t.Y
		return mat.NewDense(3, 3, []float64{
			c, s, 0,
			-s, c, 0,
			0, 0, 1,
		})
	}
	// Local y is the projection of global z on the normal plane, or of
	// global y when the element is aligned with z.
	ref := r3.Vec{Z: 1}
	if math.Abs(t.Z) > 0.9 {
		ref = r3.Vec{Y: 1}
	}
	e2 := r3.Unit(r3.Cross(ref, t))
	e3 := r3.Cross(t, e2)
	return mat.NewDense(3, 3, []float64{
		t.X, t.Y, t.Z,
		e2.X, e2.Y, e2.Z,
		e3.X, e3.Y, e3.Z,
	})
}

// SetTension stores the element-local force vector produced by an axial
// tension. The global nodal forces pull both ends toward each other.
func (e *FEMElement) SetTension(tension float64) {
	n, _ := e.T.Dims()
	var (
		nd = n / 2
		fg = mat.NewVecDense(n, nil)
		fl = mat.NewVecDense(n, nil)
	)
	tv := r3.Scale(tension, e.Axis)
	fg.SetVec(0, tv.X)
	fg.SetVec(1, tv.Y)
	fg.SetVec(nd, -tv.X)
	fg.SetVec(nd+1, -tv.Y)
	if nd == 6 {
		fg.SetVec(2, tv.Z)
		fg.SetVec(nd+2, -tv.Z)
	}
	fl.MulVec(e.T, fg)
	if len(e.F) != n {
		e.F = make([]float64, n)
	}
	copy(e.F, fl.RawVector().Data)
}

// Strain is the relative length change with respect to L0.
func (e *FEMElement) Strain() float64 { return (e.L - e.L0) / e.L0 }
