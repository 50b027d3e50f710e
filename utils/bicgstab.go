package utils

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrNotConverged = errors.New("iteration limit reached before convergence")
	ErrStagnated    = errors.New("iteration stagnated after restarts")
)

const breakdownTol = 1.e-20

// IterativeSettings control the stopping of an iterative solve.
// Tolerance is on the relative residual ||b - Ax|| / ||b||.
type IterativeSettings struct {
	Tolerance     float64
	MaxIterations int
	// MaxStagnantRestarts consecutive breakdown restarts without residual
	// reduction end the solve with ErrStagnated.
	MaxStagnantRestarts int
}

func DefaultIterativeSettings() IterativeSettings {
	return IterativeSettings{
		Tolerance:           1.e-12,
		MaxIterations:       1000,
		MaxStagnantRestarts: 2,
	}
}

type IterativeResult struct {
	Iterations int
	Restarts   int
	Residual   float64 // final relative residual
}

// vectorMultiplier is satisfied by the compressed sparse formats, which are
// much faster than the generic mat.Matrix product.
type vectorMultiplier interface {
	MulVecTo(dst *mat.VecDense, trans bool, x mat.Vector)
}

func mulVec(A mat.Matrix, dst *mat.VecDense, x *mat.VecDense) {
	if m, ok := A.(vectorMultiplier); ok {
		m.MulVecTo(dst, false, x)
		return
	}
	dst.MulVec(A, x)
}

// BiCGStab solves A x = b with the stabilised biconjugate gradient method.
// x holds the initial guess on entry and the best iterate on return, also
// when an error is returned. On breakdown (rho or omega vanishing) the
// iteration restarts from the current x with the shadow residual reset to
// the true residual.
func BiCGStab(A mat.Matrix, b, x []float64, set IterativeSettings) (res IterativeResult, err error) {
	var (
		n, nc = A.Dims()
		normB = floats.Norm(b, 2)
	)
	if n != nc || len(b) != n || len(x) != n {
		err = fmt.Errorf("bicgstab: dimension mismatch, A is %d x %d, len(b) = %d, len(x) = %d",
			n, nc, len(b), len(x))
		return
	}
	if normB == 0 {
		for i := range x {
			x[i] = 0
		}
		return
	}
	var (
		X       = mat.NewVecDense(n, x)
		R       = mat.NewVecDense(n, nil)
		RHat    = mat.NewVecDense(n, nil)
		P       = mat.NewVecDense(n, nil)
		V       = mat.NewVecDense(n, nil)
		S       = mat.NewVecDense(n, nil)
		T       = mat.NewVecDense(n, nil)
		r       = R.RawVector().Data
		rHat    = RHat.RawVector().Data
		p       = P.RawVector().Data
		v       = V.RawVector().Data
		s       = S.RawVector().Data
		t       = T.RawVector().Data
		rho     float64
		rhoPrev float64
		alpha   float64
		omega   float64
		stalled int
		lastRes = math.Inf(1)
	)
	restart := func() (stop bool) {
		mulVec(A, R, X)
		for i := range r {
			r[i] = b[i] - r[i]
			p[i], v[i] = 0, 0
		}
		copy(rHat, r)
		rhoPrev, alpha, omega = 1, 1, 1
		res.Residual = floats.Norm(r, 2) / normB
		if res.Residual <= set.Tolerance {
			return true
		}
		if res.Residual >= lastRes {
			stalled++
		} else {
			stalled = 0
		}
		lastRes = res.Residual
		return false
	}
	if restart() {
		return
	}
	for res.Iterations < set.MaxIterations {
		res.Iterations++
		rho = floats.Dot(rHat, r)
		if math.Abs(rho) <= breakdownTol*floats.Norm(rHat, 2)*floats.Norm(r, 2) {
			if stop, e := breakdown(&res, restart, &stalled, set); stop {
				return res, e
			}
			continue
		}
		beta := (rho / rhoPrev) * (alpha / omega)
		for i := range p {
			p[i] = r[i] + beta*(p[i]-omega*v[i])
		}
		mulVec(A, V, P)
		denom := floats.Dot(rHat, v)
		if denom == 0 {
			if stop, e := breakdown(&res, restart, &stalled, set); stop {
				return res, e
			}
			continue
		}
		alpha = rho / denom
		for i := range s {
			s[i] = r[i] - alpha*v[i]
		}
		if floats.Norm(s, 2)/normB <= set.Tolerance {
			floats.AddScaled(x, alpha, p)
			mulVec(A, R, X)
			floats.SubTo(r, b, r)
			res.Residual = floats.Norm(r, 2) / normB
			return
		}
		mulVec(A, T, S)
		tt := floats.Dot(t, t)
		if tt == 0 {
			if stop, e := breakdown(&res, restart, &stalled, set); stop {
				return res, e
			}
			continue
		}
		omega = floats.Dot(t, s) / tt
		for i := range x {
			x[i] += alpha*p[i] + omega*s[i]
			r[i] = s[i] - omega*t[i]
		}
		res.Residual = floats.Norm(r, 2) / normB
		if res.Residual <= set.Tolerance {
			// Confirm against the true residual, the recurrence can drift
			mulVec(A, R, X)
			floats.SubTo(r, b, r)
			res.Residual = floats.Norm(r, 2) / normB
			if res.Residual <= set.Tolerance {
				return
			}
		}
		if math.Abs(omega) <= breakdownTol {
			if stop, e := breakdown(&res, restart, &stalled, set); stop {
				return res, e
			}
			continue
		}
		rhoPrev = rho
	}
	err = fmt.Errorf("%w: %d iterations, relative residual %.3e",
		ErrNotConverged, res.Iterations, res.Residual)
	return
}

func breakdown(res *IterativeResult, restart func() bool, stalled *int,
	set IterativeSettings) (stop bool, err error) {
	res.Restarts++
	if restart() {
		return true, nil
	}
	if *stalled >= set.MaxStagnantRestarts {
		err = fmt.Errorf("%w: %d restarts, %d iterations, relative residual %.3e",
			ErrStagnated, res.Restarts, res.Iterations, res.Residual)
		return true, err
	}
	return false, nil
}
