package types

import (
	"fmt"
	"strings"
)

// GridID addresses one grid of the refinement hierarchy.
type GridID struct {
	Level, Region int
}

func (g GridID) String() string {
	return fmt.Sprintf("L%d/R%d", g.Level, g.Region)
}

// Movability of an immersed body.
type Movability uint8

const (
	Fixed Movability = iota
	RigidGroup
	Flexible
)

var MovabilityNameMap = map[string]Movability{
	"fixed":      Fixed,
	"efixed":     Fixed,
	"rigid":      RigidGroup,
	"rigidgroup": RigidGroup,
	"emovable":   RigidGroup,
	"flexible":   Flexible,
	"eflexible":  Flexible,
}

func (m Movability) String() string {
	switch m {
	case RigidGroup:
		return "rigid"
	case Flexible:
		return "flexible"
	}
	return "fixed"
}

func ParseMovability(label string) (m Movability, err error) {
	var ok bool
	if m, ok = MovabilityNameMap[strings.ToLower(label)]; !ok {
		err = fmt.Errorf("unknown movability %q", label)
	}
	return
}

// ObjectKind is the geometry record type. Only immersed boundary bodies are
// handled by the coupling layer; bounce-back kinds belong to the lattice.
type ObjectKind uint8

const (
	IBBody ObjectKind = iota
	BounceBackBody
	BFLBody
)

var ObjectKindNameMap = map[string]ObjectKind{
	"ibb": IBBody,
	"ib":  IBBody,
	"bbb": BounceBackBody,
	"bfl": BFLBody,
}

func (k ObjectKind) String() string {
	switch k {
	case BounceBackBody:
		return "BBB"
	case BFLBody:
		return "BFL"
	}
	return "IBB"
}

func ParseObjectKind(label string) (k ObjectKind, err error) {
	var ok bool
	if k, ok = ObjectKindNameMap[strings.ToLower(label)]; !ok {
		err = fmt.Errorf("unknown object kind %q", label)
	}
	return
}

// CartesianDirection selects the axis a point cloud is scaled along.
type CartesianDirection uint8

const (
	XDirection CartesianDirection = iota
	YDirection
	ZDirection
)

var DirectionNameMap = map[string]CartesianDirection{
	"x":           XDirection,
	"excartesian": XDirection,
	"exdirection": XDirection,
	"y":           YDirection,
	"eycartesian": YDirection,
	"eydirection": YDirection,
	"z":           ZDirection,
	"ezcartesian": ZDirection,
	"ezdirection": ZDirection,
}

func (d CartesianDirection) String() string {
	return [...]string{"x", "y", "z"}[d]
}

func ParseDirection(label string) (d CartesianDirection, err error) {
	var ok bool
	if d, ok = DirectionNameMap[strings.ToLower(label)]; !ok {
		err = fmt.Errorf("unknown direction %q", label)
	}
	return
}

// ParseClamped accepts the clamped flag spellings found in geometry files.
func ParseClamped(label string) (clamped bool, err error) {
	switch strings.ToLower(label) {
	case "clamped", "true", "1", "yes":
		return true, nil
	case "free", "false", "0", "no", "unclamped":
		return false, nil
	}
	return false, fmt.Errorf("unknown clamped flag %q", label)
}
