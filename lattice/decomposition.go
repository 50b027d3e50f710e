package lattice

import (
	"fmt"
	"math"

	"github.com/notargets/golbm/utils"
)

// Decomposition is a Cartesian split of the global node box over NP ranks.
// Each axis is split by its own PartitionMap, so block sizes along an axis
// differ by at most one node.
type Decomposition struct {
	Dims int
	N    [3]int // Global nodes per axis
	P    [3]int // Ranks per axis
	pm   [3]*utils.PartitionMap
}

func NewDecomposition(dims int, N [3]int, NP int) (dec *Decomposition, err error) {
	if dims != 2 && dims != 3 {
		err = fmt.Errorf("decomposition dimension must be 2 or 3, have %d", dims)
		return
	}
	if NP < 1 {
		err = fmt.Errorf("number of ranks must be positive, have %d", NP)
		return
	}
	dec = &Decomposition{Dims: dims, N: N, P: rankGrid(NP)}
	for d := 0; d < 3; d++ {
		if d >= dims {
			dec.N[d], dec.P[d] = 1, 1
		}
		if dec.N[d] < dec.P[d] {
			err = fmt.Errorf("axis %d has %d nodes for %d ranks", d, dec.N[d], dec.P[d])
			return nil, err
		}
		dec.pm[d] = utils.NewPartitionMap(dec.P[d], dec.N[d])
	}
	return
}

// rankGrid factors NP into the most square px x py arrangement, px >= py.
func rankGrid(NP int) (P [3]int) {
	py := int(math.Sqrt(float64(NP)))
	for NP%py != 0 {
		py--
	}
	return [3]int{NP / py, py, 1}
}

func (dec *Decomposition) NP() int { return dec.P[0] * dec.P[1] * dec.P[2] }

func (dec *Decomposition) RankOf(c [3]int) int {
	return c[0] + dec.P[0]*(c[1]+dec.P[1]*c[2])
}

func (dec *Decomposition) Coords(rank int) (c [3]int) {
	c[0] = rank % dec.P[0]
	c[1] = (rank / dec.P[0]) % dec.P[1]
	c[2] = rank / (dec.P[0] * dec.P[1])
	return
}

// Block is the global node range owned by rank, hi exclusive.
func (dec *Decomposition) Block(rank int) (lo, hi [3]int) {
	c := dec.Coords(rank)
	for d := 0; d < 3; d++ {
		lo[d], hi[d] = dec.pm[d].GetBucketRange(c[d])
	}
	return
}

// Owner returns the rank holding a global node, or -1 outside the box.
func (dec *Decomposition) Owner(global [3]int) int {
	var c [3]int
	for d := 0; d < 3; d++ {
		bn, _, _ := dec.pm[d].GetBucket(global[d])
		if bn < 0 {
			return -1
		}
		c[d] = bn
	}
	return dec.RankOf(c)
}

func (dec *Decomposition) String() string {
	return fmt.Sprintf("%dx%dx%d nodes on %dx%dx%d ranks",
		dec.N[0], dec.N[1], dec.N[2], dec.P[0], dec.P[1], dec.P[2])
}
