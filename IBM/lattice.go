package IBM

import (
	"github.com/notargets/golbm/types"
	"gonum.org/v1/gonum/spatial/r3"
)

// Lattice is one rank's view of one grid of the hierarchy. Node (i,j,k) of
// the grid sits at Origin + Spacing*(i,j,k); in 2-D k is always zero.
type Lattice interface {
	Dims() int
	Spacing() float64
	TimeStep() float64
	Density() float64
	Origin() r3.Vec
	// Bounds is the inclusive global node index range of the grid.
	Bounds() (lo, hi [3]int)
	GlobalToLocal(global [3]int) (rank int, local [3]int)
	IsOnThisRank(global [3]int) bool
	// LocalIndex maps a global node to this rank's local frame, halo cells
	// included. ok is false when the node is beyond the halo.
	LocalIndex(global [3]int) (local [3]int, ok bool)
	Velocity(local [3]int) r3.Vec
	// AddForce is additive and commutative.
	AddForce(local [3]int, f r3.Vec)
	// HaloExchangeVelocity and HaloReduceForce are collective over ranks.
	HaloExchangeVelocity() error
	HaloReduceForce() error
}

// Hierarchy resolves grid IDs to lattice views on the calling rank.
type Hierarchy interface {
	GridAt(id types.GridID) (Lattice, error)
}

// Communicator is the collective layer shared by all ranks.
type Communicator interface {
	Rank() int
	Size() int
	AllReduceSum(v []float64) ([]float64, error)
}

func nodePosition(g Lattice, global [3]int) r3.Vec {
	var (
		o = g.Origin()
		h = g.Spacing()
	)
	return r3.Vec{
		X: o.X + h*float64(global[0]),
		Y: o.Y + h*float64(global[1]),
		Z: o.Z + h*float64(global[2]),
	}
}

func component(v r3.Vec, d int) float64 {
	switch d {
	case 0:
		return v.X
	case 1:
		return v.Y
	}
	return v.Z
}

func setComponent(v *r3.Vec, d int, val float64) {
	switch d {
	case 0:
		v.X = val
	case 1:
		v.Y = val
	default:
		v.Z = val
	}
}
