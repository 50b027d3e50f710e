package IBM

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/notargets/golbm/types"
	"github.com/notargets/golbm/utils"
	"gonum.org/v1/gonum/spatial/r3"
)

type Settings struct {
	Kernel   KernelType
	Epsilon  utils.IterativeSettings
	Filament FilamentIntegrator
	// AcceptNotConverged keeps the best iterate of a solver that hit its
	// iteration cap and reports it as an incident instead of failing.
	AcceptNotConverged bool
}

func DefaultSettings() Settings {
	return Settings{
		Kernel:   KernelRoma3,
		Epsilon:  utils.DefaultIterativeSettings(),
		Filament: DefaultFilamentIntegrator(),
	}
}

// Transfer couples the bodies of a registry to the lattice on one rank.
// Every rank holds the full registry and computes supports, epsilons and
// structural steps redundantly. Interpolation and spreading of a marker are
// done only by the rank owning the node nearest to it.
type Transfer struct {
	Registry *Registry
	Grids    Hierarchy
	Comm     Communicator
	Settings Settings
	Logger   *slog.Logger

	resolver SupportResolver
	epsilon  EpsilonSolver
}

func NewTransfer(reg *Registry, grids Hierarchy, comm Communicator, set Settings,
	logger *slog.Logger) *Transfer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transfer{
		Registry: reg,
		Grids:    grids,
		Comm:     comm,
		Settings: set,
		Logger:   logger.With(slog.Int("rank", comm.Rank())),
		resolver: SupportResolver{Kernel: set.Kernel},
		epsilon:  EpsilonSolver{Settings: set.Epsilon},
	}
}

// report logs an incident once, from rank 0, since all ranks see the same
// incidents.
func (tr *Transfer) report(e *Error) {
	if tr.Comm.Rank() != 0 {
		return
	}
	level := slog.LevelWarn
	if e.Fatal() {
		level = slog.LevelError
	}
	tr.Logger.Log(context.Background(), level, "immersed boundary incident", slog.Any("incident", e))
}

// recoverable sorts an error into the outcome when policy allows, and
// returns it otherwise.
func (tr *Transfer) recoverable(out *Outcome, err error) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	tr.report(e)
	if e.Kind == MarkerEscaped || (e.Kind == SolverNotConverged && tr.Settings.AcceptNotConverged) {
		out.add(e)
		return nil
	}
	return e
}

func (tr *Transfer) gridOf(b *Body) (Lattice, error) {
	g, err := tr.Grids.GridAt(b.Grid)
	if err != nil {
		return nil, configError(b.ID, "grid %s: %v", b.Grid, err)
	}
	if g.Dims() != b.Dims {
		return nil, configError(b.ID, "body is %d-D on a %d-D grid", b.Dims, g.Dims())
	}
	return g, nil
}

// refresh rebuilds supports and epsilon of b.
func (tr *Transfer) refresh(out *Outcome, g Lattice, b *Body) error {
	for _, e := range tr.resolver.refreshSupports(g, b) {
		if err := tr.recoverable(out, e); err != nil {
			return err
		}
	}
	if b.Skipped {
		return nil
	}
	res, err := tr.epsilon.Solve(b, g.Spacing(), g.Dims())
	if res.Lumped && tr.Comm.Rank() == 0 {
		tr.Logger.Debug("epsilon kept at inverse row sums", slog.Int("body", b.ID),
			slog.Int("iterations", res.Iterations), slog.Float64("residual", res.Residual))
	}
	if err != nil {
		return tr.recoverable(out, err)
	}
	return nil
}

// Initialise builds every support and epsilon and the desired velocities at
// time t. Also used after a restart image was applied.
func (tr *Transfer) Initialise(t float64) (out Outcome, err error) {
	for _, b := range tr.Registry.Bodies() {
		var g Lattice
		if g, err = tr.gridOf(b); err != nil {
			return
		}
		for i := range b.Markers {
			mk := &b.Markers[i]
			switch b.Movability {
			case types.Fixed:
				mk.DesiredVelocity = r3.Vec{}
			case types.RigidGroup:
				mk.DesiredVelocity = velocityOf(b.Motion, t, mk.Position)
			case types.Flexible:
				mk.DesiredVelocity = finiteDifference(mk.Position, mk.PreviousPosition, g.TimeStep())
			}
		}
		if err = tr.refresh(&out, g, b); err != nil {
			return
		}
		if b.Skipped {
			out.Skipped = append(out.Skipped, b.ID)
		}
	}
	return
}

func (tr *Transfer) stale(b *Body) bool {
	for i := range b.Markers {
		mk := &b.Markers[i]
		if !mk.hasSupport || mk.Position != mk.SupportOrigin {
			return true
		}
	}
	return false
}

// localFrame finds the node of ref in this rank's frame, halo included.
func localFrame(g Lattice, me int, ref NodeRef) ([3]int, error) {
	if ref.Rank == me {
		return ref.Local, nil
	}
	if local, ok := g.LocalIndex(ref.Global); ok {
		return local, nil
	}
	return [3]int{}, fmt.Errorf("node %v is beyond the halo of rank %d", ref.Global, me)
}

// interpolate is u(X) = sum of u(node) w h^d over the support of mk.
func interpolate(g Lattice, me int, mk *Marker) (u r3.Vec, err error) {
	vol := cellVolume(g.Spacing(), g.Dims())
	for _, ref := range mk.Support {
		var local [3]int
		if local, err = localFrame(g, me, ref); err != nil {
			return
		}
		u = r3.Add(u, r3.Scale(ref.Weight*vol, g.Velocity(local)))
	}
	return
}

// spread adds F w to every support node of mk, F carrying the marker
// quadrature weight already.
func spread(g Lattice, me int, mk *Marker, F r3.Vec) error {
	for _, ref := range mk.Support {
		local, err := localFrame(g, me, ref)
		if err != nil {
			return err
		}
		g.AddForce(local, r3.Scale(ref.Weight, F))
	}
	return nil
}

// Apply interpolates the lattice velocity to the markers owned by this
// rank, computes the direct forcing and spreads it into the lattice force
// field. Collective over ranks.
func (tr *Transfer) Apply() (out Outcome, err error) {
	var (
		bodies = tr.Registry.Bodies()
		me     = tr.Comm.Rank()
		grids  = tr.Registry.Grids()
		totals = make([]float64, 3*len(bodies))
	)
	for _, b := range bodies {
		if tr.stale(b) {
			var g Lattice
			if g, err = tr.gridOf(b); err != nil {
				return
			}
			if err = tr.refresh(&out, g, b); err != nil {
				return
			}
		}
	}
	for _, id := range grids {
		var g Lattice
		if g, err = tr.Grids.GridAt(id); err != nil {
			return
		}
		if err = g.HaloExchangeVelocity(); err != nil {
			return
		}
	}
	for ib, b := range bodies {
		if b.Skipped {
			out.Skipped = append(out.Skipped, b.ID)
			continue
		}
		var g Lattice
		if g, err = tr.gridOf(b); err != nil {
			return
		}
		var (
			rho = g.Density()
			dt  = g.TimeStep()
			sum r3.Vec
		)
		for m := range b.Markers {
			mk := &b.Markers[m]
			mk.FluidVelocity, mk.Force = r3.Vec{}, r3.Vec{}
			if nearest, ok := nearestNode(g, mk.Position); !ok || !g.IsOnThisRank(nearest) {
				continue
			}
			if mk.FluidVelocity, err = interpolate(g, me, mk); err != nil {
				return out, newError(ConfigurationError, b.ID, m, err)
			}
			mk.Force = r3.Scale(2*rho/dt, r3.Sub(mk.DesiredVelocity, mk.FluidVelocity))
			if !isFiniteVec(mk.Force) {
				return out, newError(NumericalBlowup, b.ID, m, errors.New("non finite marker force"))
			}
			scale := mk.Epsilon * lagrangianWeight(b.Spacing, g.Spacing(), g.Dims())
			if err = spread(g, me, mk, r3.Scale(scale, mk.Force)); err != nil {
				return out, newError(ConfigurationError, b.ID, m, err)
			}
			sum = r3.Sub(sum, r3.Scale(scale, mk.Force))
		}
		totals[3*ib], totals[3*ib+1], totals[3*ib+2] = sum.X, sum.Y, sum.Z
	}
	for _, id := range grids {
		var g Lattice
		if g, err = tr.Grids.GridAt(id); err != nil {
			return
		}
		if err = g.HaloReduceForce(); err != nil {
			return
		}
	}
	if totals, err = tr.Comm.AllReduceSum(totals); err != nil {
		return
	}
	for ib, b := range bodies {
		b.TotalForce = r3.Vec{X: totals[3*ib], Y: totals[3*ib+1], Z: totals[3*ib+2]}
	}
	return
}

// gatherForces makes the marker forces of the flexible bodies, computed by
// their owners only, identical on every rank.
func (tr *Transfer) gatherForces(bodies []*Body) error {
	var buf []float64
	for _, b := range bodies {
		for _, mk := range b.Markers {
			buf = append(buf, mk.Force.X, mk.Force.Y, mk.Force.Z)
		}
	}
	sum, err := tr.Comm.AllReduceSum(buf)
	if err != nil {
		return err
	}
	var k int
	for _, b := range bodies {
		for i := range b.Markers {
			b.Markers[i].Force = r3.Vec{X: sum[k], Y: sum[k+1], Z: sum[k+2]}
			k += 3
		}
	}
	return nil
}

// MoveBodies advances the movable bodies from t to t+dt of their grid and
// refreshes their supports and epsilons. Collective over ranks.
func (tr *Transfer) MoveBodies(t float64) (out Outcome, err error) {
	var flexible []*Body
	for _, b := range tr.Registry.Bodies() {
		if b.Movability == types.Flexible {
			flexible = append(flexible, b)
		}
	}
	if err = tr.gatherForces(flexible); err != nil {
		return
	}
	keys, groups := tr.Registry.Groups()
	for _, key := range keys {
		for _, b := range groups[key] {
			var g Lattice
			if g, err = tr.gridOf(b); err != nil {
				return
			}
			dt := g.TimeStep()
			switch b.Movability {
			case types.RigidGroup:
				for i := range b.Markers {
					mk := &b.Markers[i]
					mk.PreviousPosition = mk.Position
					mk.Position = r3.Add(mk.Position, r3.Scale(dt, velocityOf(b.Motion, t+0.5*dt, mk.Position)))
					if b.Dims == 2 {
						mk.Position.Z = 0
					}
					mk.DesiredVelocity = velocityOf(b.Motion, t+dt, mk.Position)
				}
			case types.Flexible:
				if b.Skipped {
					continue
				}
				st, serr := tr.Settings.Filament.Step(b, t, dt, g.Spacing())
				if serr != nil {
					if err = tr.recoverable(&out, serr); err != nil {
						return
					}
				}
				st.Commit(b, dt)
			}
			if tr.resolver.NeedsRefresh(b) {
				if err = tr.refresh(&out, g, b); err != nil {
					return
				}
			}
		}
	}
	return
}
