package InputParameters

import (
	"fmt"
	"sort"

	"github.com/ghodss/yaml"
)

type Vec2 [2]float64

type CylinderParameters struct {
	Centre  Vec2    `yaml:"Centre"`
	Radius  float64 `yaml:"Radius"`
	Markers int     `yaml:"Markers"`
}

type PlateParameters struct {
	Start   Vec2    `yaml:"Start"`
	Length  float64 `yaml:"Length"`
	Angle   float64 `yaml:"Angle"` // Degrees from the x axis
	Markers int     `yaml:"Markers"`
	Clamped bool    `yaml:"Clamped"`
}

type MaterialParameters struct {
	YoungsModulus float64 `yaml:"YoungsModulus"`
	Density       float64 `yaml:"Density"`
	Area          float64 `yaml:"Area"`
	SecondMoment  float64 `yaml:"SecondMoment"`
}

// OscillationParameters drive a rigid body with A sin(2 pi t / T).
type OscillationParameters struct {
	Amplitude Vec2    `yaml:"Amplitude"`
	Period    float64 `yaml:"Period"`
}

// Parameters obtained from the YAML input file
type IBMParameters struct {
	Title        string            `yaml:"Title"`
	Case         string            `yaml:"Case"` // cylinder, plate or geometry
	GeometryFile string            `yaml:"GeometryFile"`
	Nx           int               `yaml:"Nx"`
	Ny           int               `yaml:"Ny"`
	Spacing      float64           `yaml:"Spacing"`
	TimeStep     float64           `yaml:"TimeStep"`
	Density      float64           `yaml:"Density"`
	Viscosity    float64           `yaml:"Viscosity"`
	Uinf         float64           `yaml:"Uinf"`
	BCs          map[string]string `yaml:"BCs"` // Face (xmin, xmax, ymin, ymax) to BC name
	FinalTime    float64           `yaml:"FinalTime"`
	Ranks        int               `yaml:"Ranks"`
	Kernel       string            `yaml:"Kernel"`

	EpsilonTolerance      float64 `yaml:"EpsilonTolerance"`
	EpsilonMaxIterations  int     `yaml:"EpsilonMaxIterations"`
	EpsilonMaxRestarts    int     `yaml:"EpsilonMaxRestarts"`
	FilamentTolerance     float64 `yaml:"FilamentTolerance"`
	FilamentMaxIterations int     `yaml:"FilamentMaxIterations"`
	AcceptNotConverged    bool    `yaml:"AcceptNotConverged"`

	Cylinder    *CylinderParameters    `yaml:"Cylinder"`
	Plate       *PlateParameters       `yaml:"Plate"`
	Material    MaterialParameters     `yaml:"Material"`
	Oscillation *OscillationParameters `yaml:"Oscillation"`

	OutputDir       string `yaml:"OutputDir"`
	OutputInterval  int    `yaml:"OutputInterval"`
	RestartInterval int    `yaml:"RestartInterval"`
}

func (ip *IBMParameters) Parse(data []byte) error {
	if err := yaml.Unmarshal(data, ip); err != nil {
		return err
	}
	ip.setDefaults()
	return nil
}

func (ip *IBMParameters) setDefaults() {
	if ip.Density == 0 {
		ip.Density = 1
	}
	if ip.Ranks == 0 {
		ip.Ranks = 1
	}
	if ip.Kernel == "" {
		ip.Kernel = "roma"
	}
	if ip.EpsilonTolerance == 0 {
		ip.EpsilonTolerance = 1.e-12
	}
	if ip.EpsilonMaxIterations == 0 {
		ip.EpsilonMaxIterations = 1000
	}
	if ip.EpsilonMaxRestarts == 0 {
		ip.EpsilonMaxRestarts = 2
	}
	if ip.FilamentTolerance == 0 {
		ip.FilamentTolerance = 1.e-10
	}
	if ip.FilamentMaxIterations == 0 {
		ip.FilamentMaxIterations = 50
	}
	if ip.OutputDir == "" {
		ip.OutputDir = "."
	}
}

func (ip *IBMParameters) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", ip.Title)
	fmt.Printf("[%s]\t\t\t= Case\n", ip.Case)
	fmt.Printf("[%d x %d]\t\t= Lattice Nodes\n", ip.Nx, ip.Ny)
	fmt.Printf("%8.5g\t\t= Spacing\n", ip.Spacing)
	fmt.Printf("%8.5g\t\t= TimeStep\n", ip.TimeStep)
	fmt.Printf("%8.5g\t\t= Viscosity\n", ip.Viscosity)
	fmt.Printf("%8.5g\t\t= Uinf\n", ip.Uinf)
	fmt.Printf("%8.5f\t\t= FinalTime\n", ip.FinalTime)
	fmt.Printf("[%d]\t\t\t\t= Ranks\n", ip.Ranks)
	fmt.Printf("[%s]\t\t\t= Kernel\n", ip.Kernel)
	keys := make([]string, len(ip.BCs))
	i := 0
	for k := range ip.BCs {
		keys[i] = k
		i++
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("BCs[%s] = %v\n", key, ip.BCs[key])
	}
}
