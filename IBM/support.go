package IBM

import (
	"fmt"
	"math"

	"github.com/notargets/golbm/types"
	"gonum.org/v1/gonum/spatial/r3"
)

type SupportResolver struct {
	Kernel KernelType
}

// EnsureSupport rebuilds the support of marker m of body b on grid g. A
// marker outside the grid bounds gets an empty support and a MarkerEscaped
// error. The result depends on the marker position only, so repeated calls
// without motion are bitwise identical.
func (sr SupportResolver) EnsureSupport(g Lattice, b *Body, m int) error {
	var (
		mk     = &b.Markers[m]
		h      = g.Spacing()
		o      = g.Origin()
		dims   = g.Dims()
		lo, hi = g.Bounds()
		R      = sr.Kernel.Radius()
		from   [3]int
		to     [3]int
	)
	mk.Support = mk.Support[:0]
	mk.hasSupport = true
	mk.SupportOrigin = mk.Position
	for d := 0; d < 3; d++ {
		if d >= dims {
			continue
		}
		c := (component(mk.Position, d) - component(o, d)) / h
		if math.IsNaN(c) || c < float64(lo[d]) || c > float64(hi[d]) {
			mk.Support = nil
			return newError(MarkerEscaped, b.ID, m,
				fmt.Errorf("position %v outside grid %s", mk.Position, b.Grid))
		}
		from[d] = max(int(math.Floor(c-R)), lo[d])
		to[d] = min(int(math.Ceil(c+R)), hi[d])
	}
	var global [3]int
	for k := from[2]; k <= to[2]; k++ {
		for j := from[1]; j <= to[1]; j++ {
			for i := from[0]; i <= to[0]; i++ {
				global = [3]int{i, j, k}
				dx := r3.Sub(mk.Position, nodePosition(g, global))
				w := sr.Kernel.Weight(dx, h, dims)
				if w == 0 {
					continue
				}
				rank, local := g.GlobalToLocal(global)
				mk.Support = append(mk.Support, NodeRef{
					Rank:   rank,
					Local:  local,
					Global: global,
					Weight: w,
				})
			}
		}
	}
	return nil
}

// NeedsRefresh reports whether the supports of b are stale. Flexible
// bodies refresh every step. Other bodies refresh when any marker has left
// the position its support was built at, which covers the half spacing
// threshold and keeps the weights consistent with the current position.
func (sr SupportResolver) NeedsRefresh(b *Body) bool {
	if b.Movability == types.Flexible {
		return true
	}
	for i := range b.Markers {
		mk := &b.Markers[i]
		if !mk.hasSupport || mk.Position != mk.SupportOrigin {
			return true
		}
	}
	return false
}

// Owner is the rank holding the lattice node nearest to the marker, or -1
// when the marker is outside the grid.
func Owner(g Lattice, pos r3.Vec) int {
	global, ok := nearestNode(g, pos)
	if !ok {
		return -1
	}
	rank, _ := g.GlobalToLocal(global)
	return rank
}

func nearestNode(g Lattice, pos r3.Vec) (global [3]int, ok bool) {
	var (
		h      = g.Spacing()
		o      = g.Origin()
		lo, hi = g.Bounds()
	)
	for d := 0; d < g.Dims(); d++ {
		global[d] = int(math.Round((component(pos, d) - component(o, d)) / h))
		if global[d] < lo[d] || global[d] > hi[d] {
			return global, false
		}
	}
	return global, true
}

// refreshSupports rebuilds every marker support of b. Escaped markers are
// reported and flag the body as skipped.
func (sr SupportResolver) refreshSupports(g Lattice, b *Body) (escaped []*Error) {
	b.Skipped = false
	for m := range b.Markers {
		if err := sr.EnsureSupport(g, b, m); err != nil {
			escaped = append(escaped, err.(*Error))
			b.Skipped = true
		}
	}
	return
}
