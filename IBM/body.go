package IBM

import (
	"math"

	"github.com/notargets/golbm/types"
	"gonum.org/v1/gonum/spatial/r3"
)

// NodeRef is a copyable handle on one lattice node of a marker's support.
type NodeRef struct {
	Rank   int
	Local  [3]int // in the frame of Rank
	Global [3]int
	Weight float64
}

// Support is ordered lexicographically by the (k, j, i) global index.
type Support []NodeRef

type Marker struct {
	Position, PreviousPosition r3.Vec
	DesiredVelocity            r3.Vec
	FluidVelocity              r3.Vec
	Force                      r3.Vec // force density applied to the fluid
	Epsilon                    float64
	Support                    Support
	SupportOrigin              r3.Vec
	hasSupport                 bool
}

// Material of a flexible filament, per unit length.
type Material struct {
	E            float64 // Young's modulus
	Density      float64
	Area         float64
	SecondMoment float64
}

func (m Material) mass() float64     { return m.Density * m.Area }
func (m Material) rigidity() float64 { return m.E * m.SecondMoment }

type Body struct {
	ID         int
	Grid       types.GridID
	Dims       int
	Movability types.Movability
	Group      int
	Closed     bool
	Spacing    float64 // ds
	ClampStart bool
	ClampEnd   bool
	Material   Material
	Motion     Motion // rigid motion, or clamp motion for filaments
	Markers    []Marker
	Elements   []FEMElement
	Tension    []float64 // per segment, flexible only
	Skipped    bool      // escaped this step
	TotalForce r3.Vec    // force of the fluid on the body, rank reduced

	clampAnchor  [2]r3.Vec
	clampTangent [2]r3.Vec
}

func (b *Body) NumMarkers() int { return len(b.Markers) }

// NumSegments is the number of structural elements joining the markers.
func (b *Body) NumSegments() int {
	n := len(b.Markers)
	if b.Closed {
		return n
	}
	return n - 1
}

func (b *Body) Positions() (X []r3.Vec) {
	X = make([]r3.Vec, len(b.Markers))
	for i := range b.Markers {
		X[i] = b.Markers[i].Position
	}
	return
}

// invalidate forces the supports and epsilon of every marker to be rebuilt.
func (b *Body) invalidate() {
	for i := range b.Markers {
		b.Markers[i].hasSupport = false
		b.Markers[i].Support = nil
	}
}

// prepare validates the body and derives the structural state. Called once
// on registration; ApplyRestart only moves the clamp anchors and updates the
// element geometry.
func (b *Body) prepare() error {
	if b.Dims != 2 && b.Dims != 3 {
		return configError(b.ID, "dimension %d, must be 2 or 3", b.Dims)
	}
	if len(b.Markers) == 0 {
		return configError(b.ID, "no markers")
	}
	if b.Spacing <= 0 {
		return configError(b.ID, "marker spacing %g must be positive", b.Spacing)
	}
	for i := range b.Markers {
		m := &b.Markers[i]
		if b.Dims == 2 {
			m.Position.Z, m.PreviousPosition.Z = 0, 0
		}
		if !isFiniteVec(m.Position) {
			return configError(b.ID, "marker %d is not finite", i)
		}
		if m.Epsilon == 0 {
			m.Epsilon = 1
		}
	}
	if b.Movability != types.Flexible {
		return nil
	}
	var (
		n  = len(b.Markers)
		ns = b.NumSegments()
	)
	switch {
	case n < 4:
		return configError(b.ID, "flexible body needs at least 4 markers, has %d", n)
	case !b.Closed && !b.ClampStart && !b.ClampEnd:
		return configError(b.ID, "open filament without clamp")
	case b.Closed && (b.ClampStart || b.ClampEnd):
		return configError(b.ID, "closed filament cannot be clamped")
	case b.Material.mass() <= 0 || b.Material.rigidity() < 0:
		return configError(b.ID, "invalid material %+v", b.Material)
	}
	if len(b.Tension) != ns {
		b.Tension = make([]float64, ns)
	}
	b.Elements = make([]FEMElement, ns)
	for s := 0; s < ns; s++ {
		n0, n1 := s, (s+1)%n
		b.Elements[s] = NewFEMElement(n0, n1, b.Markers[n0].Position,
			b.Markers[n1].Position, b.Dims)
		if b.Elements[s].L0 == 0 {
			return configError(b.ID, "segment %d has zero length", s)
		}
	}
	// The clamp tangent is frozen from the geometry at registration.
	if b.ClampStart {
		b.clampAnchor[0] = b.Markers[0].Position
		if b.clampTangent[0] == (r3.Vec{}) {
			b.clampTangent[0] = r3.Unit(r3.Sub(b.Markers[1].Position, b.Markers[0].Position))
		}
	}
	if b.ClampEnd {
		b.clampAnchor[1] = b.Markers[n-1].Position
		if b.clampTangent[1] == (r3.Vec{}) {
			b.clampTangent[1] = r3.Unit(r3.Sub(b.Markers[n-1].Position, b.Markers[n-2].Position))
		}
	}
	return nil
}

func isFiniteVec(v r3.Vec) bool {
	for _, x := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func newMarkers(X []r3.Vec) (markers []Marker) {
	markers = make([]Marker, len(X))
	for i, x := range X {
		markers[i] = Marker{Position: x, PreviousPosition: x, Epsilon: 1}
	}
	return
}

// NewCircle places n markers evenly on a circle in the z = centre.Z plane.
func NewCircle(id int, grid types.GridID, dims int, centre r3.Vec, radius float64, n int) *Body {
	X := make([]r3.Vec, n)
	for i := range X {
		theta := 2 * math.Pi * float64(i) / float64(n)
		X[i] = r3.Vec{
			X: centre.X + radius*math.Cos(theta),
			Y: centre.Y + radius*math.Sin(theta),
			Z: centre.Z,
		}
	}
	return &Body{
		ID:         id,
		Grid:       grid,
		Dims:       dims,
		Movability: types.Fixed,
		Closed:     true,
		Spacing:    2 * math.Pi * radius / float64(n),
		Markers:    newMarkers(X),
	}
}

// NewFilament lays n markers on a straight line of the given length from
// start along direction. The first marker is clamped when clampStart is set.
func NewFilament(id int, grid types.GridID, dims int, start, direction r3.Vec,
	length float64, n int, mat Material, clampStart bool) *Body {
	var (
		t  = r3.Unit(direction)
		ds = length / float64(n-1)
		X  = make([]r3.Vec, n)
	)
	for i := range X {
		X[i] = r3.Add(start, r3.Scale(ds*float64(i), t))
	}
	return &Body{
		ID:         id,
		Grid:       grid,
		Dims:       dims,
		Movability: types.Flexible,
		Spacing:    ds,
		ClampStart: clampStart,
		Material:   mat,
		Markers:    newMarkers(X),
	}
}

// CloudPlacement scales a point cloud so its extent along Direction equals
// Length, then shifts it so its minimum corner sits at Start. In the third
// direction the cloud is centred on CentreZ.
type CloudPlacement struct {
	Start     r3.Vec
	CentreZ   float64
	Length    float64
	Direction types.CartesianDirection
}

// NewBodyFromCloud builds a body from an ordered point cloud. Consecutive
// coincident points are dropped. Marker spacing is the mean point distance.
func NewBodyFromCloud(id int, grid types.GridID, dims int, cloud []r3.Vec,
	place CloudPlacement, mov types.Movability, closed bool) (b *Body, err error) {
	if len(cloud) == 0 {
		return nil, configError(id, "empty point cloud")
	}
	var lo, hi = cloud[0], cloud[0]
	for _, p := range cloud[1:] {
		lo = r3.Vec{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vec{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	extent := component(r3.Sub(hi, lo), int(place.Direction))
	if extent <= 0 {
		return nil, configError(id, "point cloud has no extent along %s", place.Direction)
	}
	var (
		scale = place.Length / extent
		X     = make([]r3.Vec, 0, len(cloud))
	)
	for _, p := range cloud {
		q := r3.Add(place.Start, r3.Scale(scale, r3.Sub(p, lo)))
		if dims == 3 {
			q.Z = place.CentreZ + scale*(p.Z-0.5*(lo.Z+hi.Z))
		} else {
			q.Z = 0
		}
		if len(X) > 0 && q == X[len(X)-1] {
			continue
		}
		X = append(X, q)
	}
	var total float64
	for i := 1; i < len(X); i++ {
		total += r3.Norm(r3.Sub(X[i], X[i-1]))
	}
	segs := len(X) - 1
	if closed && len(X) > 1 {
		total += r3.Norm(r3.Sub(X[0], X[len(X)-1]))
		segs++
	}
	if segs == 0 {
		return nil, configError(id, "point cloud collapses to a single marker")
	}
	b = &Body{
		ID:         id,
		Grid:       grid,
		Dims:       dims,
		Movability: mov,
		Closed:     closed,
		Spacing:    total / float64(segs),
		Markers:    newMarkers(X),
	}
	return
}
