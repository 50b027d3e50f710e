package IBM

import (
	"fmt"
	"sort"

	"github.com/notargets/golbm/types"
	"gonum.org/v1/gonum/spatial/r3"
)

// Registry owns the bodies of a simulation. It is mutated only during set
// up and inside MoveBodies.
type Registry struct {
	bodies []*Body // ID order
	byID   map[int]*Body
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[int]*Body)}
}

func (r *Registry) Add(b *Body) error {
	if b == nil {
		return configError(-1, "nil body")
	}
	if _, dup := r.byID[b.ID]; dup {
		return configError(b.ID, "duplicate body ID")
	}
	if err := b.prepare(); err != nil {
		return err
	}
	r.byID[b.ID] = b
	i := sort.Search(len(r.bodies), func(i int) bool { return r.bodies[i].ID > b.ID })
	r.bodies = append(r.bodies, nil)
	copy(r.bodies[i+1:], r.bodies[i:])
	r.bodies[i] = b
	return nil
}

func (r *Registry) Bodies() []*Body { return r.bodies }

func (r *Registry) Len() int { return len(r.bodies) }

func (r *Registry) Lookup(id int) (b *Body, ok bool) {
	b, ok = r.byID[id]
	return
}

func (r *Registry) ByGrid(level, region int) (bodies []*Body) {
	id := types.GridID{Level: level, Region: region}
	for _, b := range r.bodies {
		if b.Grid == id {
			bodies = append(bodies, b)
		}
	}
	return
}

// Grids lists the grids carrying at least one body, in first use order.
func (r *Registry) Grids() (grids []types.GridID) {
	seen := make(map[types.GridID]bool)
	for _, b := range r.bodies {
		if !seen[b.Grid] {
			seen[b.Grid] = true
			grids = append(grids, b.Grid)
		}
	}
	return
}

// Groups collects the movable bodies by group number. The keys are
// returned sorted so iteration over groups is deterministic.
func (r *Registry) Groups() (keys []int, groups map[int][]*Body) {
	groups = make(map[int][]*Body)
	for _, b := range r.bodies {
		if b.Movability == types.Fixed {
			continue
		}
		if _, ok := groups[b.Group]; !ok {
			keys = append(keys, b.Group)
		}
		groups[b.Group] = append(groups[b.Group], b)
	}
	sort.Ints(keys)
	return
}

// Snapshot is a read only copy of the marker state of every body.
type Snapshot struct {
	Bodies []BodySnapshot
}

type BodySnapshot struct {
	ID         int
	Grid       types.GridID
	Movability types.Movability
	Positions  []r3.Vec
	Forces     []r3.Vec
	Epsilons   []float64
	TotalForce r3.Vec
	Skipped    bool
}

func (r *Registry) Snapshot() (s Snapshot) {
	s.Bodies = make([]BodySnapshot, len(r.bodies))
	for ib, b := range r.bodies {
		bs := BodySnapshot{
			ID:         b.ID,
			Grid:       b.Grid,
			Movability: b.Movability,
			Positions:  make([]r3.Vec, len(b.Markers)),
			Forces:     make([]r3.Vec, len(b.Markers)),
			Epsilons:   make([]float64, len(b.Markers)),
			TotalForce: b.TotalForce,
			Skipped:    b.Skipped,
		}
		for i, mk := range b.Markers {
			bs.Positions[i] = mk.Position
			bs.Forces[i] = mk.Force
			bs.Epsilons[i] = mk.Epsilon
		}
		s.Bodies[ib] = bs
	}
	return
}

// RestartImage holds what is needed to resume the bodies bitwise: marker
// positions, and previous positions of flexible bodies.
type RestartImage struct {
	Bodies []RestartBody
}

type RestartBody struct {
	Flexible  bool
	Positions []r3.Vec
	Previous  []r3.Vec // flexible bodies only
}

func (r *Registry) RestartImage() (img RestartImage) {
	img.Bodies = make([]RestartBody, len(r.bodies))
	for ib, b := range r.bodies {
		rb := RestartBody{
			Flexible:  b.Movability == types.Flexible,
			Positions: make([]r3.Vec, len(b.Markers)),
		}
		if rb.Flexible {
			rb.Previous = make([]r3.Vec, len(b.Markers))
		}
		for i, mk := range b.Markers {
			rb.Positions[i] = mk.Position
			if rb.Flexible {
				rb.Previous[i] = mk.PreviousPosition
			}
		}
		img.Bodies[ib] = rb
	}
	return
}

// ApplyRestart overwrites marker positions from img, matched to the bodies
// in ID order. Supports are invalidated and must be rebuilt by Initialise.
func (r *Registry) ApplyRestart(img RestartImage) error {
	if len(img.Bodies) != len(r.bodies) {
		return configError(-1, "restart image has %d bodies, registry has %d",
			len(img.Bodies), len(r.bodies))
	}
	for ib, b := range r.bodies {
		rb := img.Bodies[ib]
		if len(rb.Positions) != len(b.Markers) {
			return configError(b.ID, "restart image has %d markers, body has %d",
				len(rb.Positions), len(b.Markers))
		}
		flexible := b.Movability == types.Flexible
		if rb.Flexible != flexible || (flexible && len(rb.Previous) != len(b.Markers)) {
			return configError(b.ID, "restart image movability does not match")
		}
	}
	for ib, b := range r.bodies {
		rb := img.Bodies[ib]
		for i := range b.Markers {
			mk := &b.Markers[i]
			mk.Position = rb.Positions[i]
			mk.PreviousPosition = mk.Position
			if rb.Flexible {
				mk.PreviousPosition = rb.Previous[i]
			}
			if b.Dims == 2 {
				mk.Position.Z, mk.PreviousPosition.Z = 0, 0
			}
		}
		b.invalidate()
		if b.Movability == types.Flexible {
			n := len(b.Markers)
			if b.ClampStart {
				b.clampAnchor[0] = b.Markers[0].Position
			}
			if b.ClampEnd {
				b.clampAnchor[1] = b.Markers[n-1].Position
			}
			for s := range b.Elements {
				e := &b.Elements[s]
				e.Update(b.Markers[s].Position, b.Markers[(s+1)%n].Position, b.Dims)
			}
		}
	}
	return nil
}

func (r *Registry) String() string {
	return fmt.Sprintf("%d bodies on %d grids", len(r.bodies), len(r.Grids()))
}
