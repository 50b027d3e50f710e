package IBM

import (
	"fmt"

	"github.com/notargets/golbm/types"
	"gonum.org/v1/gonum/spatial/r3"
)

// fakeLattice holds a whole uniform grid in memory. With split > 0 the
// nodes with i >= split belong to rank 1, but every rank can still address
// the whole field, as if its halo covered everything.
type fakeLattice struct {
	dims        int
	n           [3]int
	h, dt, rho  float64
	origin      r3.Vec
	split, rank int
	u, f        []r3.Vec
	exchanges   int
	reductions  int
}

func newFakeLattice(dims, nx, ny, nz int, h float64) *fakeLattice {
	if dims == 2 {
		nz = 1
	}
	return &fakeLattice{
		dims: dims,
		n:    [3]int{nx, ny, nz},
		h:    h, dt: 0.5 * h, rho: 1,
		u: make([]r3.Vec, nx*ny*nz),
		f: make([]r3.Vec, nx*ny*nz),
	}
}

func (fl *fakeLattice) offset(rank int) int {
	if rank == 1 {
		return fl.split
	}
	return 0
}

func (fl *fakeLattice) index(global [3]int) int {
	return global[0] + fl.n[0]*(global[1]+fl.n[1]*global[2])
}

func (fl *fakeLattice) toGlobal(local [3]int) [3]int {
	local[0] += fl.offset(fl.rank)
	return local
}

func (fl *fakeLattice) Dims() int         { return fl.dims }
func (fl *fakeLattice) Spacing() float64  { return fl.h }
func (fl *fakeLattice) TimeStep() float64 { return fl.dt }
func (fl *fakeLattice) Density() float64  { return fl.rho }
func (fl *fakeLattice) Origin() r3.Vec    { return fl.origin }

func (fl *fakeLattice) Bounds() (lo, hi [3]int) {
	return [3]int{}, [3]int{fl.n[0] - 1, fl.n[1] - 1, fl.n[2] - 1}
}

func (fl *fakeLattice) GlobalToLocal(global [3]int) (rank int, local [3]int) {
	if fl.split > 0 && global[0] >= fl.split {
		rank = 1
	}
	local = global
	local[0] -= fl.offset(rank)
	return
}

func (fl *fakeLattice) IsOnThisRank(global [3]int) bool {
	rank, _ := fl.GlobalToLocal(global)
	return rank == fl.rank
}

func (fl *fakeLattice) LocalIndex(global [3]int) ([3]int, bool) {
	global[0] -= fl.offset(fl.rank)
	return global, true
}

func (fl *fakeLattice) Velocity(local [3]int) r3.Vec {
	return fl.u[fl.index(fl.toGlobal(local))]
}

func (fl *fakeLattice) AddForce(local [3]int, f r3.Vec) {
	i := fl.index(fl.toGlobal(local))
	fl.f[i] = r3.Add(fl.f[i], f)
}

func (fl *fakeLattice) HaloExchangeVelocity() error { fl.exchanges++; return nil }
func (fl *fakeLattice) HaloReduceForce() error      { fl.reductions++; return nil }

func (fl *fakeLattice) position(i, j, k int) r3.Vec {
	return nodePosition(fl, [3]int{i, j, k})
}

// setVelocity fills the velocity field from a function of position.
func (fl *fakeLattice) setVelocity(fn func(x r3.Vec) r3.Vec) {
	for k := 0; k < fl.n[2]; k++ {
		for j := 0; j < fl.n[1]; j++ {
			for i := 0; i < fl.n[0]; i++ {
				fl.u[fl.index([3]int{i, j, k})] = fn(fl.position(i, j, k))
			}
		}
	}
}

func (fl *fakeLattice) clearForce() {
	for i := range fl.f {
		fl.f[i] = r3.Vec{}
	}
}

type fakeHierarchy map[types.GridID]Lattice

func (fh fakeHierarchy) GridAt(id types.GridID) (Lattice, error) {
	if g, ok := fh[id]; ok {
		return g, nil
	}
	return nil, fmt.Errorf("no grid %s", id)
}

// rankComm is one rank of a world whose reductions are left to the test,
// AllReduceSum returns the local contribution.
type rankComm struct{ rank, size int }

func (c rankComm) Rank() int { return c.rank }
func (c rankComm) Size() int { return max(c.size, 1) }
func (c rankComm) AllReduceSum(v []float64) ([]float64, error) {
	return append([]float64{}, v...), nil
}

func lineBody(id int, ds float64, X ...r3.Vec) *Body {
	return &Body{
		ID:         id,
		Dims:       2,
		Movability: types.Fixed,
		Spacing:    ds,
		Markers:    newMarkers(X),
	}
}
