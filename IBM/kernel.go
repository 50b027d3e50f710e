package IBM

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// KernelType selects the regularised delta function.
type KernelType uint8

const (
	KernelRoma3   KernelType = iota // 3-point, support 1.5h
	KernelPeskin4                   // 4-point, support 2h
)

var KernelNameMap = map[string]KernelType{
	"roma3":   KernelRoma3,
	"roma":    KernelRoma3,
	"3point":  KernelRoma3,
	"peskin4": KernelPeskin4,
	"peskin":  KernelPeskin4,
	"4point":  KernelPeskin4,
}

func ParseKernel(label string) (k KernelType, err error) {
	var ok bool
	if k, ok = KernelNameMap[strings.ToLower(label)]; !ok {
		err = fmt.Errorf("unknown kernel %q", label)
	}
	return
}

func (k KernelType) String() string {
	if k == KernelPeskin4 {
		return "peskin4"
	}
	return "roma3"
}

// Radius of the kernel support in grid spacings.
func (k KernelType) Radius() float64 {
	if k == KernelPeskin4 {
		return 2
	}
	return 1.5
}

// Delta is the 1-D regularised delta at signed distance r on spacing h, in
// units of 1/length.
func (k KernelType) Delta(r, h float64) float64 {
	var (
		rho = math.Abs(r) / h
		phi float64
	)
	switch k {
	case KernelPeskin4:
		switch {
		case rho < 1:
			phi = (3 - 2*rho + math.Sqrt(1+4*rho-4*rho*rho)) / 8
		case rho < 2:
			phi = (5 - 2*rho - math.Sqrt(-7+12*rho-4*rho*rho)) / 8
		}
	default:
		switch {
		case rho <= 0.5:
			phi = (1 + math.Sqrt(1-3*rho*rho)) / 3
		case rho < 1.5:
			phi = (5 - 3*rho - math.Sqrt(1-3*(1-rho)*(1-rho))) / 6
		}
	}
	return phi / h
}

// Weight is the tensor product kernel over the first dims components of dx.
func (k KernelType) Weight(dx r3.Vec, h float64, dims int) (w float64) {
	w = k.Delta(dx.X, h) * k.Delta(dx.Y, h)
	if dims == 3 {
		w *= k.Delta(dx.Z, h)
	}
	return
}

// cellVolume is h^dims, the lattice quadrature weight.
func cellVolume(h float64, dims int) float64 {
	if dims == 3 {
		return h * h * h
	}
	return h * h
}

// lagrangianWeight is the quadrature weight of one marker, ds*h^(dims-1).
func lagrangianWeight(ds, h float64, dims int) float64 {
	return ds * cellVolume(h, dims) / h
}
