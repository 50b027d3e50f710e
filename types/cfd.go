package types

import (
	"fmt"
	"strings"
)

// BCFLAG labels the treatment of a lattice domain face.
type BCFLAG uint8

const (
	BC_None BCFLAG = iota
	BC_Periodic
	BC_In
	BC_Out
	BC_Slip
	BC_Wall
)

var BCNameMap = map[string]BCFLAG{
	"periodic": BC_Periodic,
	"inflow":   BC_In,
	"in":       BC_In,
	"out":      BC_Out,
	"outflow":  BC_Out,
	"slip":     BC_Slip,
	"wall":     BC_Wall,
}

func (bc BCFLAG) String() string {
	switch bc {
	case BC_Periodic:
		return "periodic"
	case BC_In:
		return "inflow"
	case BC_Out:
		return "outflow"
	case BC_Slip:
		return "slip"
	case BC_Wall:
		return "wall"
	}
	return "none"
}

func ParseBCFLAG(label string) (bc BCFLAG, err error) {
	var ok bool
	if bc, ok = BCNameMap[strings.ToLower(strings.TrimSpace(label))]; !ok {
		err = fmt.Errorf("unknown boundary condition %q", label)
	}
	return
}
