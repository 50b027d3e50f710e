package ImmersedBoundary

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/notargets/golbm/IBM"
	"github.com/notargets/golbm/InputParameters"
	"github.com/notargets/golbm/lattice"
	"github.com/notargets/golbm/readfiles"
	"github.com/notargets/golbm/types"
	"github.com/notargets/golbm/utils"
	"gonum.org/v1/gonum/spatial/r3"
)

// BodyBuilder makes a fresh copy of the bodies; every rank gets its own.
type BodyBuilder func() ([]*IBM.Body, error)

// ForceRecord is the force of the fluid on a body after one step, with its
// coefficients relative to the reference dynamic pressure and length.
type ForceRecord struct {
	Step   int
	Time   float64
	BodyID int
	Force  r3.Vec
	Cd, Cl float64
}

type Solver struct {
	Params     *InputParameters.IBMParameters
	Settings   IBM.Settings
	Config     lattice.Config
	Decomp     *lattice.Decomposition
	Grids      []*lattice.Grid
	Registries []*IBM.Registry // One per rank, identical bodies
	Logger     *slog.Logger
	RefLength  float64
	Time       float64
	Steps      int
	Incidents  []*IBM.Error
	History    []ForceRecord
	Verbose    bool

	initialised bool
}

// NewSolver builds the lattice and bodies of the case named in ip.
func NewSolver(ip *InputParameters.IBMParameters, logger *slog.Logger) (s *Solver, err error) {
	var (
		build BodyBuilder
		ref   float64
	)
	if build, ref, err = CaseBodies(ip); err != nil {
		return
	}
	return NewSolverWithBodies(ip, build, ref, logger)
}

func NewSolverWithBodies(ip *InputParameters.IBMParameters, build BodyBuilder, refLength float64,
	logger *slog.Logger) (s *Solver, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	s = &Solver{Params: ip, Logger: logger, RefLength: refLength}
	if s.Config, err = LatticeConfig(ip); err != nil {
		return nil, err
	}
	if s.Settings, err = Settings(ip); err != nil {
		return nil, err
	}
	if s.Decomp, err = lattice.NewDecomposition(2, s.Config.N, ip.Ranks); err != nil {
		return nil, err
	}
	if s.Grids, err = lattice.NewGrids(s.Config, s.Decomp); err != nil {
		return nil, err
	}
	s.Registries = make([]*IBM.Registry, s.Decomp.NP())
	for rank := range s.Registries {
		var bodies []*IBM.Body
		if bodies, err = build(); err != nil {
			return nil, err
		}
		reg := IBM.NewRegistry()
		for _, b := range bodies {
			if err = reg.Add(b); err != nil {
				return nil, err
			}
		}
		s.Registries[rank] = reg
	}
	return
}

func LatticeConfig(ip *InputParameters.IBMParameters) (cfg lattice.Config, err error) {
	cfg = lattice.Config{
		N:          [3]int{ip.Nx, ip.Ny, 1},
		Spacing:    ip.Spacing,
		TimeStep:   ip.TimeStep,
		Density:    ip.Density,
		Viscosity:  ip.Viscosity,
		FreeStream: r3.Vec{X: ip.Uinf},
		BC:         [4]types.BCFLAG{types.BC_In, types.BC_Out, types.BC_Slip, types.BC_Slip},
	}
	faces := map[string]int{"xmin": lattice.XMin, "xmax": lattice.XMax, "ymin": lattice.YMin, "ymax": lattice.YMax}
	for face, label := range ip.BCs {
		f, ok := faces[strings.ToLower(face)]
		if !ok {
			return cfg, fmt.Errorf("unknown lattice face %q", face)
		}
		if cfg.BC[f], err = types.ParseBCFLAG(label); err != nil {
			return
		}
	}
	return
}

func Settings(ip *InputParameters.IBMParameters) (set IBM.Settings, err error) {
	set = IBM.DefaultSettings()
	if set.Kernel, err = IBM.ParseKernel(ip.Kernel); err != nil {
		return
	}
	set.Epsilon = utils.IterativeSettings{
		Tolerance:           ip.EpsilonTolerance,
		MaxIterations:       ip.EpsilonMaxIterations,
		MaxStagnantRestarts: ip.EpsilonMaxRestarts,
	}
	set.Filament = IBM.FilamentIntegrator{
		Tolerance:     ip.FilamentTolerance,
		MaxIterations: ip.FilamentMaxIterations,
	}
	set.AcceptNotConverged = ip.AcceptNotConverged
	return
}

// CaseBodies returns the body builder and reference length of a case.
func CaseBodies(ip *InputParameters.IBMParameters) (build BodyBuilder, ref float64, err error) {
	mat := IBM.Material{
		E:            ip.Material.YoungsModulus,
		Density:      ip.Material.Density,
		Area:         ip.Material.Area,
		SecondMoment: ip.Material.SecondMoment,
	}
	switch strings.ToLower(ip.Case) {
	case "cylinder":
		cp := ip.Cylinder
		if cp == nil {
			return nil, 0, fmt.Errorf("cylinder case without Cylinder parameters")
		}
		build = func() ([]*IBM.Body, error) {
			b := IBM.NewCircle(1, types.GridID{}, 2, r3.Vec{X: cp.Centre[0], Y: cp.Centre[1]}, cp.Radius, cp.Markers)
			if osc := ip.Oscillation; osc != nil {
				b.Movability = types.RigidGroup
				b.Motion = IBM.Oscillation{Amplitude: r3.Vec{X: osc.Amplitude[0], Y: osc.Amplitude[1]}, Period: osc.Period}
			}
			return []*IBM.Body{b}, nil
		}
		ref = 2 * cp.Radius
	case "plate":
		pp := ip.Plate
		if pp == nil {
			return nil, 0, fmt.Errorf("plate case without Plate parameters")
		}
		build = func() ([]*IBM.Body, error) {
			angle := pp.Angle * math.Pi / 180
			b := IBM.NewFilament(1, types.GridID{}, 2, r3.Vec{X: pp.Start[0], Y: pp.Start[1]},
				r3.Vec{X: math.Cos(angle), Y: math.Sin(angle)}, pp.Length, pp.Markers, mat, pp.Clamped)
			if osc := ip.Oscillation; osc != nil {
				b.Motion = IBM.Oscillation{Amplitude: r3.Vec{X: osc.Amplitude[0], Y: osc.Amplitude[1]}, Period: osc.Period}
			}
			return []*IBM.Body{b}, nil
		}
		ref = pp.Length
	case "geometry":
		var recs []readfiles.GeometryRecord
		if recs, err = readfiles.ReadGeometryConfigFile(ip.GeometryFile); err != nil {
			return
		}
		clouds := make(map[int][]r3.Vec)
		for _, rec := range recs {
			if rec.Kind != types.IBBody {
				continue
			}
			if clouds[rec.BodyID], err = readfiles.ReadPointCloudFile(rec.Source); err != nil {
				return
			}
			ref = math.Max(ref, rec.Placement.Length)
		}
		build = func() (bodies []*IBM.Body, err error) {
			for _, rec := range recs {
				if rec.Kind != types.IBBody {
					continue
				}
				var b *IBM.Body
				if b, err = rec.Body(2, clouds[rec.BodyID], mat); err != nil {
					return nil, err
				}
				bodies = append(bodies, b)
			}
			return
		}
	default:
		err = fmt.Errorf("unknown case %q", ip.Case)
	}
	return
}

// Advance runs n lattice steps on all ranks.
func (s *Solver) Advance(n int) (err error) {
	var (
		t0     = s.Time
		steps0 = s.Steps
		times  = make([]float64, s.Decomp.NP())
	)
	err = utils.NewWorld(s.Decomp.NP()).Run(func(c *utils.Communicator) error {
		var rerr error
		times[c.Rank()], rerr = s.runRank(c, t0, steps0, n)
		return rerr
	})
	if err != nil {
		return
	}
	s.Time, s.Steps, s.initialised = times[0], steps0+n, true
	return
}

// record keeps the incidents seen by rank 0; all ranks see the same ones.
func (s *Solver) record(rank int, out IBM.Outcome) {
	if rank == 0 {
		s.Incidents = append(s.Incidents, out.Incidents...)
	}
}

func (s *Solver) runRank(c *utils.Communicator, t float64, step, n int) (float64, error) {
	var (
		rank = c.Rank()
		g    = s.Grids[rank]
		reg  = s.Registries[rank]
		dt   = s.Config.TimeStep
	)
	if err := g.Attach(c); err != nil {
		return t, err
	}
	tr := IBM.NewTransfer(reg, lattice.NewHierarchy(g), c, s.Settings, s.Logger)
	if !s.initialised {
		out, err := tr.Initialise(t)
		if err != nil {
			return t, err
		}
		s.record(rank, out)
	}
	for i := 0; i < n; i++ {
		g.Macroscopic()
		out, err := tr.Apply()
		if err != nil {
			return t, err
		}
		s.record(rank, out)
		if err = s.output(c, reg, step+1, t+dt); err != nil {
			return t, err
		}
		g.Collide()
		if err = g.Stream(); err != nil {
			return t, err
		}
		if out, err = tr.MoveBodies(t); err != nil {
			return t, err
		}
		s.record(rank, out)
		t += dt
		step++
	}
	g.Macroscopic()
	return t, g.CheckFinite()
}

// output collects the marker forces of all ranks and writes the diagnostics
// from rank 0. Collective when output is due.
func (s *Solver) output(c *utils.Communicator, reg *IBM.Registry, step int, t float64) (err error) {
	rank := c.Rank()
	if rank == 0 {
		s.recordForces(reg, step, t)
	}
	ip := s.Params
	if ip.OutputInterval <= 0 || step%ip.OutputInterval != 0 {
		return
	}
	snap := reg.Snapshot()
	var buf []float64
	for _, bs := range snap.Bodies {
		for _, F := range bs.Forces {
			buf = append(buf, F.X, F.Y, F.Z)
		}
	}
	if buf, err = c.AllReduceSum(buf); err != nil {
		return
	}
	if rank != 0 {
		return
	}
	var k int
	for _, bs := range snap.Bodies {
		for i := range bs.Forces {
			bs.Forces[i] = r3.Vec{X: buf[k], Y: buf[k+1], Z: buf[k+2]}
			k += 3
		}
	}
	if s.Verbose {
		fmt.Printf("step %8d, time %10.5f, %s\n", step, t, s.forceSummary())
	}
	return s.writeOutput(step, t, snap)
}

func (s *Solver) writeOutput(step int, t float64, snap IBM.Snapshot) (err error) {
	dir := s.Params.OutputDir
	if err = os.MkdirAll(dir, 0755); err != nil {
		return
	}
	write := func(name string, flag int, fn func(f *os.File) error) error {
		f, err := os.OpenFile(filepath.Join(dir, name), flag, 0644)
		if err != nil {
			return err
		}
		if err = fn(f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	create := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if err = write(fmt.Sprintf("Body_positions_%06d.out", step), create, func(f *os.File) error {
		return readfiles.WriteBodyPositions(f, step, t, snap)
	}); err != nil {
		return
	}
	if err = write(fmt.Sprintf("IBbody_%06d.vtk", step), create, func(f *os.File) error {
		return readfiles.WriteVTK(f, fmt.Sprintf("immersed bodies step %d time %g", step, t), snap)
	}); err != nil {
		return
	}
	return write("LD_IBB.out", os.O_CREATE|os.O_WRONLY|os.O_APPEND, func(f *os.File) error {
		return readfiles.WriteLiftDrag(f, step, t, snap)
	})
}

func (s *Solver) recordForces(reg *IBM.Registry, step int, t float64) {
	q := 0.5 * s.Config.Density * s.Params.Uinf * s.Params.Uinf * s.RefLength
	for _, b := range reg.Bodies() {
		rec := ForceRecord{Step: step, Time: t, BodyID: b.ID, Force: b.TotalForce}
		if q > 0 {
			rec.Cd, rec.Cl = b.TotalForce.X/q, b.TotalForce.Y/q
		}
		s.History = append(s.History, rec)
	}
}

func (s *Solver) forceSummary() string {
	var (
		parts []string
		nb    = s.Registries[0].Len()
	)
	if len(s.History) < nb {
		return ""
	}
	for _, rec := range s.History[len(s.History)-nb:] {
		parts = append(parts, fmt.Sprintf("body %d Cd %8.5f Cl %8.5f", rec.BodyID, rec.Cd, rec.Cl))
	}
	return strings.Join(parts, ", ")
}

// Solve runs to the final time of the parameters.
func (s *Solver) Solve() (err error) {
	var (
		ip    = s.Params
		dt    = s.Config.TimeStep
		total = int(math.Round((ip.FinalTime - s.Time) / dt))
		chunk = total
		start = time.Now()
	)
	if ip.RestartInterval > 0 {
		chunk = ip.RestartInterval
	}
	if s.Verbose {
		fmt.Printf("Immersed boundary lattice solver in 2 dimensions\n")
		fmt.Printf("Lattice %s, tau = %8.5f, %s\n", s.Decomp, s.Config.Tau(), s.Registries[0])
	}
	for done := 0; done < total; done += chunk {
		if err = s.Advance(min(chunk, total-done)); err != nil {
			return
		}
		if ip.RestartInterval > 0 {
			fn := filepath.Join(ip.OutputDir, "restart_IBBody.out")
			if err = readfiles.WriteRestartFile(fn, s.Registries[0].RestartImage()); err != nil {
				return
			}
		}
	}
	if s.Verbose {
		fmt.Printf("%s\n", utils.GetMemUsage())
	}
	s.Logger.Info("run finished",
		slog.Int("steps", s.Steps), slog.Float64("time", s.Time),
		slog.Int("incidents", len(s.Incidents)), slog.Duration("elapsed", time.Since(start)))
	return
}

// Checkpoint is everything needed to resume a run bitwise.
type Checkpoint struct {
	Time    float64
	Steps   int
	Image   IBM.RestartImage
	Lattice [][]float64 // Owned populations per rank
}

func (s *Solver) Checkpoint() (ck Checkpoint) {
	ck = Checkpoint{Time: s.Time, Steps: s.Steps, Image: s.Registries[0].RestartImage()}
	for _, g := range s.Grids {
		ck.Lattice = append(ck.Lattice, g.State())
	}
	return
}

// Restore resumes from ck. Supports, epsilons and desired velocities are
// rebuilt on the next Advance.
func (s *Solver) Restore(ck Checkpoint) (err error) {
	if len(ck.Lattice) != len(s.Grids) {
		return fmt.Errorf("checkpoint has %d ranks, solver has %d", len(ck.Lattice), len(s.Grids))
	}
	for rank, g := range s.Grids {
		if err = g.Restore(ck.Lattice[rank]); err != nil {
			return
		}
		if err = s.Registries[rank].ApplyRestart(ck.Image); err != nil {
			return
		}
	}
	s.Time, s.Steps, s.initialised = ck.Time, ck.Steps, false
	return
}

// RestartBodies puts the bodies back where a restart file left them. The
// lattice keeps its current state.
func (s *Solver) RestartBodies(img IBM.RestartImage) (err error) {
	for _, reg := range s.Registries {
		if err = reg.ApplyRestart(img); err != nil {
			return
		}
	}
	s.initialised = false
	return
}
