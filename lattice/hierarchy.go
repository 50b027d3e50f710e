package lattice

import (
	"fmt"

	"github.com/notargets/golbm/IBM"
	"github.com/notargets/golbm/types"
)

// Hierarchy is the set of grids visible on one rank. The reference lattice
// is single level, so only level 0 region 0 is populated.
type Hierarchy struct {
	grids map[types.GridID]*Grid
}

func NewHierarchy(g *Grid) *Hierarchy {
	return &Hierarchy{grids: map[types.GridID]*Grid{{}: g}}
}

func (h *Hierarchy) GridAt(id types.GridID) (IBM.Lattice, error) {
	g, ok := h.grids[id]
	if !ok {
		return nil, fmt.Errorf("no grid at level %d region %d", id.Level, id.Region)
	}
	return g, nil
}

// Grid returns the concrete grid, nil when absent.
func (h *Hierarchy) Grid(id types.GridID) *Grid { return h.grids[id] }

var _ IBM.Lattice = (*Grid)(nil)
