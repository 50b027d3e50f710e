package lattice

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/notargets/golbm/types"
	"github.com/notargets/golbm/utils"
	"gonum.org/v1/gonum/spatial/r3"
)

// Halo is the number of ghost node layers around each rank block, enough
// for the widest immersed boundary kernel.
const Halo = 2

const (
	XMin = iota
	XMax
	YMin
	YMax
)

type Config struct {
	N          [3]int
	Spacing    float64
	TimeStep   float64
	Density    float64 // Reference density, lattice density 1
	Viscosity  float64 // Kinematic
	Origin     r3.Vec
	FreeStream r3.Vec
	BC         [4]types.BCFLAG // Indexed by XMin, XMax, YMin, YMax
}

func (cfg Config) Tau() float64 {
	return 0.5 + 3*cfg.Viscosity*cfg.TimeStep/(cfg.Spacing*cfg.Spacing)
}

// LatticeSpeed is h/dt, the conversion from lattice to physical velocity.
func (cfg Config) LatticeSpeed() float64 { return cfg.Spacing / cfg.TimeStep }

func (cfg Config) validate() error {
	switch {
	case cfg.N[0] < 3 || cfg.N[1] < 3:
		return fmt.Errorf("lattice needs at least 3x3 nodes, have %dx%d", cfg.N[0], cfg.N[1])
	case !(cfg.Spacing > 0) || !(cfg.TimeStep > 0) || !(cfg.Density > 0):
		return fmt.Errorf("spacing, time step and density must be positive")
	case cfg.Tau() <= 0.5:
		return fmt.Errorf("relaxation time %g must exceed 1/2", cfg.Tau())
	}
	for d := 0; d < 2; d++ {
		if (cfg.BC[2*d] == types.BC_Periodic) != (cfg.BC[2*d+1] == types.BC_Periodic) {
			return fmt.Errorf("axis %d is periodic on one face only", d)
		}
	}
	if speed := r3.Norm(cfg.FreeStream) / cfg.LatticeSpeed(); speed > 0.3 {
		return fmt.Errorf("free stream lattice velocity %g is too high", speed)
	}
	return nil
}

type forceMsg struct {
	From   int
	Global [3]int
	F      r3.Vec
}

// fabric is the memory shared by the grids of all ranks. Halo traffic reads
// the owned cells of peers between two barriers.
type fabric struct {
	grids []*Grid
	mail  *utils.MailBox[forceMsg]
}

// Grid is one rank's block of a D2Q9 lattice. Populations, density and
// velocity are in lattice units, the force buffer is physical force density.
type Grid struct {
	cfg    Config
	dec    *Decomposition
	rank   int
	comm   *utils.Communicator
	fab    *fabric
	lo, hi [3]int // Owned global block, hi exclusive
	nx, ny int    // Local extents, halo included
	tau    float64
	feqIn  [Q]float64
	f, fs  [][Q]float64
	rho    []float64
	u      []r3.Vec
	force  []r3.Vec
}

// NewGrids builds the grid of every rank of dec at rest density and the
// free stream velocity. Each grid is bound to its rank's communicator with
// Attach before any collective call.
func NewGrids(cfg Config, dec *Decomposition) (grids []*Grid, err error) {
	if err = cfg.validate(); err != nil {
		return
	}
	if dec.Dims != 2 || dec.N[0] != cfg.N[0] || dec.N[1] != cfg.N[1] {
		err = fmt.Errorf("decomposition %s does not match a %dx%d lattice", dec, cfg.N[0], cfg.N[1])
		return
	}
	fab := &fabric{mail: utils.NewMailBox[forceMsg](dec.NP())}
	for rank := 0; rank < dec.NP(); rank++ {
		g := &Grid{cfg: cfg, dec: dec, rank: rank, fab: fab, tau: cfg.Tau()}
		g.lo, g.hi = dec.Block(rank)
		g.nx, g.ny = g.hi[0]-g.lo[0]+2*Halo, g.hi[1]-g.lo[1]+2*Halo
		n := g.nx * g.ny
		g.f, g.fs = make([][Q]float64, n), make([][Q]float64, n)
		g.rho, g.u, g.force = make([]float64, n), make([]r3.Vec, n), make([]r3.Vec, n)
		U := r3.Scale(1/cfg.LatticeSpeed(), cfg.FreeStream)
		equilibrium(1, U.X, U.Y, &g.feqIn)
		for i := range g.f {
			g.f[i], g.rho[i], g.u[i] = g.feqIn, 1, r3.Vec{X: U.X, Y: U.Y}
		}
		fab.grids = append(fab.grids, g)
	}
	grids = fab.grids
	return
}

func (g *Grid) Attach(comm *utils.Communicator) error {
	if comm.Rank() != g.rank || comm.Size() != g.dec.NP() {
		return fmt.Errorf("grid of rank %d/%d attached to communicator of rank %d/%d",
			g.rank, g.dec.NP(), comm.Rank(), comm.Size())
	}
	g.comm = comm
	return nil
}

func (g *Grid) Rank() int      { return g.rank }
func (g *Grid) Config() Config { return g.cfg }

// Owned is the global node block of this rank, hi exclusive.
func (g *Grid) Owned() (lo, hi [3]int) { return g.lo, g.hi }

func (g *Grid) index(li, lj int) int { return li + g.nx*lj }

func (g *Grid) localOf(global [3]int) (li, lj int) {
	return global[0] - g.lo[0] + Halo, global[1] - g.lo[1] + Halo
}

func (g *Grid) globalOf(li, lj int) [3]int {
	return [3]int{li - Halo + g.lo[0], lj - Halo + g.lo[1], 0}
}

func (g *Grid) owned(li, lj int) bool {
	return li >= Halo && li < g.nx-Halo && lj >= Halo && lj < g.ny-Halo
}

// wrap maps a global node into the domain across periodic faces. ok is
// false beyond a non periodic face.
func (g *Grid) wrap(global [3]int) ([3]int, bool) {
	for d := 0; d < 2; d++ {
		n := g.cfg.N[d]
		if global[d] >= 0 && global[d] < n {
			continue
		}
		if g.cfg.BC[2*d] != types.BC_Periodic {
			return global, false
		}
		global[d] = ((global[d] % n) + n) % n
	}
	return global, true
}

func (g *Grid) Dims() int         { return 2 }
func (g *Grid) Spacing() float64  { return g.cfg.Spacing }
func (g *Grid) TimeStep() float64 { return g.cfg.TimeStep }
func (g *Grid) Density() float64  { return g.cfg.Density }
func (g *Grid) Origin() r3.Vec    { return g.cfg.Origin }

func (g *Grid) Bounds() (lo, hi [3]int) {
	return [3]int{}, [3]int{g.cfg.N[0] - 1, g.cfg.N[1] - 1, 0}
}

func (g *Grid) GlobalToLocal(global [3]int) (rank int, local [3]int) {
	if rank = g.dec.Owner(global); rank < 0 {
		return
	}
	lo, _ := g.dec.Block(rank)
	local = [3]int{global[0] - lo[0] + Halo, global[1] - lo[1] + Halo, 0}
	return
}

func (g *Grid) IsOnThisRank(global [3]int) bool { return g.dec.Owner(global) == g.rank }

func (g *Grid) LocalIndex(global [3]int) (local [3]int, ok bool) {
	li, lj := g.localOf(global)
	if global[2] != 0 || li < 0 || li >= g.nx || lj < 0 || lj >= g.ny {
		return
	}
	return [3]int{li, lj, 0}, true
}

func (g *Grid) Velocity(local [3]int) r3.Vec {
	return r3.Scale(g.cfg.LatticeSpeed(), g.u[g.index(local[0], local[1])])
}

func (g *Grid) AddForce(local [3]int, f r3.Vec) {
	k := g.index(local[0], local[1])
	g.force[k] = r3.Add(g.force[k], f)
}

// exchange fills every halo cell inside the (periodically wrapped) domain
// from the owned cell of its owner.
func (g *Grid) exchange(copyCell func(src *Grid, si, di int)) (err error) {
	if g.comm == nil {
		return errors.New("grid is not attached to a communicator")
	}
	if err = g.comm.Barrier(); err != nil {
		return
	}
	for lj := 0; lj < g.ny; lj++ {
		for li := 0; li < g.nx; li++ {
			if g.owned(li, lj) {
				continue
			}
			global, ok := g.wrap(g.globalOf(li, lj))
			if !ok {
				continue
			}
			src := g.fab.grids[g.dec.Owner(global)]
			sli, slj := src.localOf(global)
			copyCell(src, src.index(sli, slj), g.index(li, lj))
		}
	}
	return g.comm.Barrier()
}

func (g *Grid) HaloExchangeVelocity() error {
	return g.exchange(func(src *Grid, si, di int) {
		g.rho[di], g.u[di] = src.rho[si], src.u[si]
	})
}

// HaloReduceForce moves the force spread into halo cells to the owners of
// those nodes. Contributions are added in sender rank order.
func (g *Grid) HaloReduceForce() (err error) {
	if g.comm == nil {
		return errors.New("grid is not attached to a communicator")
	}
	mb := g.fab.mail
	for lj := 0; lj < g.ny; lj++ {
		for li := 0; li < g.nx; li++ {
			k := g.index(li, lj)
			if g.owned(li, lj) || g.force[k] == (r3.Vec{}) {
				continue
			}
			global := g.globalOf(li, lj)
			if owner := g.dec.Owner(global); owner >= 0 {
				mb.PostMessage(g.rank, owner, forceMsg{From: g.rank, Global: global, F: g.force[k]})
			}
			g.force[k] = r3.Vec{}
		}
	}
	mb.DeliverMyMessages(g.rank)
	if err = g.comm.Barrier(); err != nil {
		return
	}
	mb.ReceiveMyMessages(g.rank)
	msgs := mb.ReceiveMsgQs[g.rank].Cells()
	slices.SortStableFunc(msgs, func(a, b forceMsg) int { return a.From - b.From })
	for _, msg := range msgs {
		li, lj := g.localOf(msg.Global)
		k := g.index(li, lj)
		g.force[k] = r3.Add(g.force[k], msg.F)
	}
	mb.ClearMyMessages(g.rank)
	return g.comm.Barrier()
}

// Macroscopic computes density and velocity of the owned nodes from the
// populations, without the forcing correction.
func (g *Grid) Macroscopic() {
	for lj := Halo; lj < g.ny-Halo; lj++ {
		for li := Halo; li < g.nx-Halo; li++ {
			k := g.index(li, lj)
			var rho, mx, my float64
			for q := 0; q < Q; q++ {
				fq := g.f[k][q]
				rho += fq
				mx += fq * float64(cx[q])
				my += fq * float64(cy[q])
			}
			g.rho[k], g.u[k] = rho, r3.Vec{X: mx / rho, Y: my / rho}
		}
	}
}

// Collide relaxes the owned populations to equilibrium with the Guo
// forcing of the force buffer, which is consumed.
func (g *Grid) Collide() {
	var (
		omega  = 1 / g.tau
		pref   = 1 - 0.5*omega
		fscale = g.cfg.TimeStep * g.cfg.TimeStep / (g.cfg.Density * g.cfg.Spacing)
		feq    [Q]float64
	)
	for lj := Halo; lj < g.ny-Halo; lj++ {
		for li := Halo; li < g.nx-Halo; li++ {
			var (
				k   = g.index(li, lj)
				rho = g.rho[k]
				Fx  = fscale * g.force[k].X
				Fy  = fscale * g.force[k].Y
				ux  = g.u[k].X + 0.5*Fx/rho
				uy  = g.u[k].Y + 0.5*Fy/rho
			)
			equilibrium(rho, ux, uy, &feq)
			for q := 0; q < Q; q++ {
				g.f[k][q] += -omega*(g.f[k][q]-feq[q]) + pref*guoSource(q, ux, uy, Fx, Fy)
			}
			g.u[k], g.force[k] = r3.Vec{X: ux, Y: uy}, r3.Vec{}
		}
	}
}

// Stream moves the post collision populations to their neighbours.
// Collective over ranks.
func (g *Grid) Stream() (err error) {
	if err = g.exchange(func(src *Grid, si, di int) { g.f[di] = src.f[si] }); err != nil {
		return
	}
	for lj := Halo; lj < g.ny-Halo; lj++ {
		for li := Halo; li < g.nx-Halo; li++ {
			k := g.index(li, lj)
			for q := 0; q < Q; q++ {
				g.fs[k][q] = g.incoming(li, lj, q)
			}
		}
	}
	g.f, g.fs = g.fs, g.f
	return
}

func (g *Grid) outside(li, lj int) (face int, ok bool) {
	global := g.globalOf(li, lj)
	switch {
	case global[1] < 0 && g.cfg.BC[YMin] != types.BC_Periodic:
		return YMin, true
	case global[1] >= g.cfg.N[1] && g.cfg.BC[YMax] != types.BC_Periodic:
		return YMax, true
	case global[0] < 0 && g.cfg.BC[XMin] != types.BC_Periodic:
		return XMin, true
	case global[0] >= g.cfg.N[0] && g.cfg.BC[XMax] != types.BC_Periodic:
		return XMax, true
	}
	return
}

// incoming is the population q arriving at owned local node (li, lj).
func (g *Grid) incoming(li, lj, q int) float64 {
	si, sj := li-cx[q], lj-cy[q]
	for {
		face, ok := g.outside(si, sj)
		if !ok {
			return g.f[g.index(si, sj)][q]
		}
		yFace := face == YMin || face == YMax
		switch g.cfg.BC[face] {
		case types.BC_In:
			return g.feqIn[q]
		case types.BC_Out:
			// Zero gradient normal to the face
			if yFace {
				sj = lj
			} else {
				si = li
			}
		case types.BC_Slip:
			if yFace {
				q, sj = mirrorY[q], lj
			} else {
				q, si = mirrorX[q], li
			}
		default:
			return g.f[g.index(li, lj)][opposite[q]]
		}
	}
}

// CheckFinite reports a non finite density on this rank.
func (g *Grid) CheckFinite() error {
	for lj := Halo; lj < g.ny-Halo; lj++ {
		for li := Halo; li < g.nx-Halo; li++ {
			if rho := g.rho[g.index(li, lj)]; math.IsNaN(rho) || math.IsInf(rho, 0) || rho <= 0 {
				return fmt.Errorf("rank %d: density %g at node %v", g.rank, rho, g.globalOf(li, lj))
			}
		}
	}
	return nil
}

// MaxSpeed is the largest physical speed over the owned nodes.
func (g *Grid) MaxSpeed() (s float64) {
	for lj := Halo; lj < g.ny-Halo; lj++ {
		for li := Halo; li < g.nx-Halo; li++ {
			s = math.Max(s, r3.Norm(g.u[g.index(li, lj)]))
		}
	}
	return s * g.cfg.LatticeSpeed()
}

// VelocityAt is the physical velocity of an owned global node.
func (g *Grid) VelocityAt(global [3]int) (r3.Vec, bool) {
	if !g.IsOnThisRank(global) {
		return r3.Vec{}, false
	}
	li, lj := g.localOf(global)
	return g.Velocity([3]int{li, lj, 0}), true
}

// State copies the owned populations, row by row.
func (g *Grid) State() (s []float64) {
	s = make([]float64, 0, Q*(g.hi[0]-g.lo[0])*(g.hi[1]-g.lo[1]))
	for lj := Halo; lj < g.ny-Halo; lj++ {
		for li := Halo; li < g.nx-Halo; li++ {
			s = append(s, g.f[g.index(li, lj)][:]...)
		}
	}
	return
}

func (g *Grid) Restore(s []float64) error {
	if want := Q * (g.hi[0] - g.lo[0]) * (g.hi[1] - g.lo[1]); len(s) != want {
		return fmt.Errorf("rank %d: state has %d values, want %d", g.rank, len(s), want)
	}
	var n int
	for lj := Halo; lj < g.ny-Halo; lj++ {
		for li := Halo; li < g.nx-Halo; li++ {
			copy(g.f[g.index(li, lj)][:], s[n:n+Q])
			n += Q
		}
	}
	g.Macroscopic()
	return nil
}
