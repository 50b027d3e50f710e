package IBM

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/notargets/golbm/types"
	"github.com/notargets/golbm/utils"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// MaxLengthDrift is the relative segment length change treated as a blowup.
const MaxLengthDrift = 0.01

// FilamentIntegrator advances an inextensible filament one time step. The
// unknowns are the new marker positions and the segment tensions,
// interleaved per marker as [x, y, (z), T]. Momentum is discretised as
//
//	X - Xp = c*(T_i (X_i+1 - X_i) - T_i-1 (X_i - X_i-1)) + dt^2/m q - cb*D4 X
//
// with the prediction Xp = 2X^n - X^n-1, c = dt^2/(m ds^2) and
// cb = dt^2 EI/(m ds^4), closed by |X_i+1 - X_i| = L0 for every segment.
// Newton's method is applied to the coupled system, with a banded Jacobian
// for open filaments and a dense one for closed loops.
type FilamentIntegrator struct {
	Tolerance     float64
	MaxIterations int
}

func DefaultFilamentIntegrator() FilamentIntegrator {
	return FilamentIntegrator{Tolerance: 1.e-10, MaxIterations: 50}
}

// FilamentStep is a solved but not yet committed structural step.
type FilamentStep struct {
	X          []r3.Vec
	Tension    []float64
	Anchors    [2]r3.Vec
	Iterations int
	Violation  float64 // max relative length error
	Correction float64 // last Newton position update, infinity norm
}

// stencilRow is one row of the bending operator, D4 X_i = sum w X_cols + c.
type stencilRow struct {
	cols []int
	w    []float64
	c    r3.Vec
}

// affine is a linear combination of marker positions plus a constant, used
// to express ghost nodes.
type affine struct {
	idx []int
	w   []float64
	c   r3.Vec
}

func nodeTerm(j int) affine { return affine{idx: []int{j}, w: []float64{1}} }

func (a affine) plus(s float64, o affine) (r affine) {
	r.idx = append(append([]int{}, a.idx...), o.idx...)
	r.w = append([]float64{}, a.w...)
	for _, w := range o.w {
		r.w = append(r.w, s*w)
	}
	r.c = r3.Add(a.c, r3.Scale(s, o.c))
	return
}

// bendingStencil builds the fourth difference operator with ghost nodes.
// Clamped ends fix the tangent, free ends carry zero moment and shear and
// closed loops wrap around.
func bendingStencil(b *Body) (rows []stencilRow) {
	var (
		n   = len(b.Markers)
		ds  = b.Spacing
		ext func(k int) affine
	)
	ext = func(k int) affine {
		switch {
		case k >= 0 && k < n:
			return nodeTerm(k)
		case b.Closed:
			return nodeTerm(((k % n) + n) % n)
		case k == -1 && b.ClampStart:
			return nodeTerm(1).plus(1, affine{c: r3.Scale(-2*ds, b.clampTangent[0])})
		case k == -1:
			return nodeTerm(0).plus(1, nodeTerm(0)).plus(-1, nodeTerm(1))
		case k == -2 && b.ClampStart:
			return ext(-1).plus(1, ext(-1)).plus(-1, nodeTerm(0))
		case k == -2:
			return nodeTerm(2).plus(-2, nodeTerm(1)).plus(2, ext(-1))
		case k == n && b.ClampEnd:
			return nodeTerm(n-2).plus(1, affine{c: r3.Scale(2*ds, b.clampTangent[1])})
		case k == n:
			return nodeTerm(n-1).plus(1, nodeTerm(n-1)).plus(-1, nodeTerm(n-2))
		case k == n+1 && b.ClampEnd:
			return ext(n).plus(1, ext(n)).plus(-1, nodeTerm(n-1))
		case k == n+1:
			return ext(n).plus(1, ext(n)).plus(-2, nodeTerm(n-2)).plus(1, nodeTerm(n-3))
		}
		panic(fmt.Errorf("ghost node %d out of range for %d markers", k, n))
	}
	rows = make([]stencilRow, n)
	for i := 0; i < n; i++ {
		d4 := ext(i+2).plus(-4, ext(i+1)).plus(6, ext(i)).plus(-4, ext(i-1)).plus(1, ext(i-2))
		merged := make(map[int]float64)
		for k, j := range d4.idx {
			merged[j] += d4.w[k]
		}
		row := stencilRow{c: d4.c}
		for j, w := range merged {
			if w != 0 {
				row.cols = append(row.cols, j)
			}
		}
		sort.Ints(row.cols)
		for _, j := range row.cols {
			row.w = append(row.w, merged[j])
		}
		rows[i] = row
	}
	return
}

// Step solves the structural system for the step from t to t+dt on a grid
// of spacing h, which sets the width of the fluid load. A
// SolverNotConverged error comes with the best iterate, any other error
// with a nil step.
func (fi FilamentIntegrator) Step(b *Body, t, dt, h float64) (st *FilamentStep, err error) {
	if b.Movability != types.Flexible {
		return nil, configError(b.ID, "body is not flexible")
	}
	var (
		n       = len(b.Markers)
		dims    = b.Dims
		nv      = dims + 1
		N       = n * nv
		ns      = b.NumSegments()
		ds      = b.Spacing
		m       = b.Material.mass()
		c       = dt * dt / (m * ds * ds)
		cb      = dt * dt * b.Material.rigidity() / (m * ds * ds * ds * ds)
		cl      = dt * dt / m
		width   = lagrangianWeight(1, h, dims)
		stencil = bendingStencil(b)
		u       = make([]float64, N)
		Xp      = make([]r3.Vec, n)
		R       = make([]float64, N)
		delta   = make([]float64, N)
	)
	st = &FilamentStep{Anchors: b.clampAnchor}
	for e := 0; e < 2; e++ {
		st.Anchors[e] = r3.Add(b.clampAnchor[e],
			r3.Scale(dt, velocityOf(b.Motion, t+0.5*dt, b.clampAnchor[e])))
	}
	clamped := func(i int) (bool, r3.Vec) {
		switch {
		case i == 0 && b.ClampStart:
			return true, st.Anchors[0]
		case i == n-1 && b.ClampEnd:
			return true, st.Anchors[1]
		}
		return false, r3.Vec{}
	}
	pos := func(i, a int) float64 { return u[((i+n)%n)*nv+a] }
	tension := func(s int) float64 { return u[((s+n)%n)*nv+dims] }
	segAfter := func(i int) bool { return b.Closed || i < n-1 }
	segBefore := func(i int) bool { return b.Closed || i > 0 }
	// Cold start on the tensions keeps steps reproducible across restarts
	for i := range b.Markers {
		mk := &b.Markers[i]
		Xp[i] = r3.Sub(r3.Scale(2, mk.Position), mk.PreviousPosition)
		x := Xp[i]
		if ok, anchor := clamped(i); ok {
			x = anchor
		}
		for a := 0; a < dims; a++ {
			u[i*nv+a] = component(x, a)
		}
	}
	residual := func() {
		for i := 0; i < n; i++ {
			var (
				row0    = i * nv
				ok, anc = clamped(i)
				q       = r3.Scale(-b.Markers[i].Epsilon*width, b.Markers[i].Force)
			)
			for a := 0; a < dims; a++ {
				xi := pos(i, a)
				if ok {
					R[row0+a] = xi - component(anc, a)
					continue
				}
				r := xi - component(Xp[i], a) - cl*component(q, a)
				if segAfter(i) {
					r -= c * tension(i) * (pos(i+1, a) - xi)
				}
				if segBefore(i) {
					r += c * tension(i-1) * (xi - pos(i-1, a))
				}
				var d4 = component(stencil[i].c, a)
				for k, j := range stencil[i].cols {
					d4 += stencil[i].w[k] * pos(j, a)
				}
				R[row0+a] = r + cb*d4
			}
			if i < ns {
				L0 := b.Elements[i].L0
				var d2 float64
				for a := 0; a < dims; a++ {
					d := pos(i+1, a) - pos(i, a)
					d2 += d * d
				}
				R[row0+dims] = (d2 - L0*L0) / (2 * L0)
			} else {
				R[row0+dims] = u[row0+dims]
			}
		}
	}
	assemble := func(add func(i, j int, v float64)) {
		for i := 0; i < n; i++ {
			var (
				row0  = i * nv
				ok, _ = clamped(i)
				next  = ((i + 1) % n) * nv
				prev  = ((i - 1 + n) % n) * nv
			)
			for a := 0; a < dims; a++ {
				r := row0 + a
				if ok {
					add(r, r, 1)
					continue
				}
				add(r, r, 1)
				if segAfter(i) {
					add(r, r, c*tension(i))
					add(r, next+a, -c*tension(i))
					add(r, row0+dims, -c*(pos(i+1, a)-pos(i, a)))
				}
				if segBefore(i) {
					add(r, r, c*tension(i-1))
					add(r, prev+a, -c*tension(i-1))
					add(r, prev+dims, c*(pos(i, a)-pos(i-1, a)))
				}
				for k, j := range stencil[i].cols {
					add(r, j*nv+a, cb*stencil[i].w[k])
				}
			}
			r := row0 + dims
			if i < ns {
				L0 := b.Elements[i].L0
				for a := 0; a < dims; a++ {
					d := (pos(i+1, a) - pos(i, a)) / L0
					add(r, next+a, d)
					add(r, row0+a, -d)
				}
			} else {
				add(r, r, 1)
			}
		}
	}
	solve := func() error {
		for i := range R {
			delta[i] = -R[i]
		}
		if b.Closed {
			J := mat.NewDense(N, N, nil)
			assemble(func(i, j int, v float64) { J.Set(i, j, J.At(i, j)+v) })
			var dv mat.VecDense
			if err := dv.SolveVec(J, mat.NewVecDense(N, delta)); err != nil {
				var cond mat.Condition
				if !errors.As(err, &cond) {
					return fmt.Errorf("%w: %v", utils.ErrSingularMatrix, err)
				}
			}
			copy(delta, dv.RawVector().Data)
			return nil
		}
		J := utils.NewBandMatrix(N, 2*nv, 2*nv)
		assemble(func(i, j int, v float64) { J.SetBand(i, j, J.At(i, j)+v) })
		lu, err := utils.BandDecompose(J)
		if err != nil {
			return err
		}
		return lu.Solve(delta)
	}
	for st.Iterations < fi.MaxIterations {
		st.Iterations++
		residual()
		if err = solve(); err != nil {
			return nil, &Error{Kind: SingularMatrix, BodyID: b.ID, Marker: -1,
				Iterations: st.Iterations, Residual: floats.Norm(R, math.Inf(1)), Err: err}
		}
		floats.Add(u, delta)
		st.Correction = 0
		for i := 0; i < n; i++ {
			for a := 0; a < dims; a++ {
				st.Correction = math.Max(st.Correction, math.Abs(delta[i*nv+a]))
			}
		}
		st.Violation = fi.violation(b, u)
		if !utils.IsFinite(u) {
			return nil, &Error{Kind: NumericalBlowup, BodyID: b.ID, Marker: -1,
				Iterations: st.Iterations, Residual: math.NaN(), Err: errors.New("non finite filament state")}
		}
		if st.Violation < fi.Tolerance && st.Correction < fi.Tolerance*ds {
			break
		}
	}
	st.X = make([]r3.Vec, n)
	st.Tension = make([]float64, ns)
	for i := 0; i < n; i++ {
		for a := 0; a < dims; a++ {
			setComponent(&st.X[i], a, u[i*nv+a])
		}
		if ok, anchor := clamped(i); ok {
			st.X[i] = anchor
		}
		if i < ns {
			st.Tension[i] = u[i*nv+dims]
		}
	}
	if st.Violation > MaxLengthDrift {
		return nil, &Error{Kind: NumericalBlowup, BodyID: b.ID, Marker: -1,
			Iterations: st.Iterations, Residual: st.Violation,
			Err: fmt.Errorf("segment length drift %.3e", st.Violation)}
	}
	if st.Violation >= fi.Tolerance || st.Correction >= fi.Tolerance*ds {
		err = &Error{Kind: SolverNotConverged, BodyID: b.ID, Marker: -1,
			Iterations: st.Iterations, Residual: st.Violation,
			Err: fmt.Errorf("newton correction %.3e", st.Correction)}
	}
	return
}

func (fi FilamentIntegrator) violation(b *Body, u []float64) (worst float64) {
	var (
		n    = len(b.Markers)
		dims = b.Dims
		nv   = dims + 1
	)
	for s := 0; s < b.NumSegments(); s++ {
		var d2 float64
		for a := 0; a < dims; a++ {
			d := u[((s+1)%n)*nv+a] - u[s*nv+a]
			d2 += d * d
		}
		L0 := b.Elements[s].L0
		worst = math.Max(worst, math.Abs(math.Sqrt(d2)-L0)/L0)
	}
	return
}

// Commit makes st the current state of b. The structural velocity becomes
// the desired velocity of the markers for the next coupling step.
func (st *FilamentStep) Commit(b *Body, dt float64) {
	for i := range b.Markers {
		mk := &b.Markers[i]
		mk.PreviousPosition = mk.Position
		mk.Position = st.X[i]
		mk.DesiredVelocity = finiteDifference(mk.Position, mk.PreviousPosition, dt)
	}
	copy(b.Tension, st.Tension)
	b.clampAnchor = st.Anchors
	n := len(b.Markers)
	for s := range b.Elements {
		e := &b.Elements[s]
		e.Update(b.Markers[s].Position, b.Markers[(s+1)%n].Position, b.Dims)
		e.SetTension(st.Tension[s])
	}
}
