package lattice

// D2Q9 velocity set
const Q = 9

var (
	cx       = [Q]int{0, 1, 0, -1, 0, 1, -1, -1, 1}
	cy       = [Q]int{0, 0, 1, 0, -1, 1, 1, -1, -1}
	wq       = [Q]float64{4. / 9., 1. / 9., 1. / 9., 1. / 9., 1. / 9., 1. / 36., 1. / 36., 1. / 36., 1. / 36.}
	opposite = [Q]int{0, 3, 4, 1, 2, 7, 8, 5, 6}
	mirrorX  = [Q]int{0, 3, 2, 1, 4, 6, 5, 8, 7}
	mirrorY  = [Q]int{0, 1, 4, 3, 2, 8, 7, 6, 5}
)

func equilibrium(rho, ux, uy float64, feq *[Q]float64) {
	usq := 1.5 * (ux*ux + uy*uy)
	for q := 0; q < Q; q++ {
		cu := 3 * (float64(cx[q])*ux + float64(cy[q])*uy)
		feq[q] = wq[q] * rho * (1 + cu + 0.5*cu*cu - usq)
	}
}

// guoSource is the forcing term of direction q for velocity u and force F,
// before the (1 - 1/2tau) prefactor.
func guoSource(q int, ux, uy, Fx, Fy float64) float64 {
	var (
		ex = float64(cx[q])
		ey = float64(cy[q])
		cu = ex*ux + ey*uy
	)
	return wq[q] * (3*((ex-ux)*Fx+(ey-uy)*Fy) + 9*cu*(ex*Fx+ey*Fy))
}
