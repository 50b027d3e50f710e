package IBM

import (
	"errors"
	"math"

	"github.com/notargets/golbm/utils"
)

type EpsilonSolver struct {
	Settings utils.IterativeSettings
}

// Assemble builds A[i,j] = ds*h^(d-1) * h^d * sum over shared nodes of
// w_i*w_j, so that A*eps = 1 states that interpolating the eps weighted
// spread of a unit force returns a unit force.
// Markers without a support get a unit diagonal so they decouple with
// epsilon one.
func (es EpsilonSolver) Assemble(b *Body, h float64, dims int) utils.CSR {
	type entry struct {
		marker int
		weight float64
	}
	var (
		n     = len(b.Markers)
		A     = utils.NewDOK(n, n)
		scale = lagrangianWeight(b.Spacing, h, dims) * cellVolume(h, dims)
		// Nodes in first appearance order, so the sums are reproducible
		nodeIndex = make(map[[3]int]int)
		nodes     [][]entry
	)
	for i := range b.Markers {
		sup := b.Markers[i].Support
		if len(sup) == 0 {
			A.Set(i, i, 1)
			continue
		}
		for _, ref := range sup {
			ni, ok := nodeIndex[ref.Global]
			if !ok {
				ni = len(nodes)
				nodeIndex[ref.Global] = ni
				nodes = append(nodes, nil)
			}
			nodes[ni] = append(nodes[ni], entry{marker: i, weight: ref.Weight})
		}
	}
	for _, shared := range nodes {
		for _, ei := range shared {
			for _, ej := range shared {
				A.Add(ei.marker, ej.marker, scale*ei.weight*ej.weight)
			}
		}
	}
	return A.ToCSR()
}

// EpsilonResult reports the iterative solve behind the epsilons of a body.
type EpsilonResult struct {
	utils.IterativeResult
	// Lumped is set when the iterate had a non positive entry and the
	// inverse row sums of A were kept instead.
	Lumped bool
}

// acceptable reports whether eps is finite and strictly positive. A is a
// non negative Gram matrix, so for a positive eps with A*eps = 1 the
// coupling A*diag(eps) is similar to a positive semi definite matrix with
// spectral radius one, which keeps the direct forcing stable.
func acceptable(eps []float64) bool {
	for _, e := range eps {
		if !(e > 0) || math.IsInf(e, 0) {
			return false
		}
	}
	return true
}

// Solve computes the epsilon of every marker of b from A*eps = 1, starting
// from the inverse row sums of A. When markers are denser than the lattice
// A is close to singular and the exact solution oscillates in sign; such an
// iterate is rejected and the starting point kept. On non convergence the
// accepted iterate is stored and the error returned alongside it.
func (es EpsilonSolver) Solve(b *Body, h float64, dims int) (res EpsilonResult, err error) {
	var (
		n     = len(b.Markers)
		A     = es.Assemble(b, h, dims)
		rhs   = make([]float64, n)
		eps   = make([]float64, n)
		start = A.RowSums()
		serr  error
	)
	for i := range rhs {
		rhs[i] = 1
		start[i] = 1 / start[i]
	}
	if !utils.IsFinite(start) {
		return res, newError(NumericalBlowup, b.ID, -1, errors.New("marker with an empty kernel row"))
	}
	copy(eps, start)
	if res.IterativeResult, serr = utils.BiCGStab(A, rhs, eps, es.Settings); serr != nil {
		err = solverError(b.ID, res.IterativeResult, serr)
		if !errors.Is(serr, utils.ErrNotConverged) {
			return
		}
	}
	if !acceptable(eps) {
		copy(eps, start)
		res.Lumped = true
	}
	for i := range b.Markers {
		b.Markers[i].Epsilon = eps[i]
	}
	return
}
