package IBM

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Motion prescribes the velocity of a rigid body, or of the clamped end of a
// filament, at time t and position x.
type Motion interface {
	Velocity(t float64, x r3.Vec) r3.Vec
}

type Translation struct {
	U r3.Vec
}

func (m Translation) Velocity(float64, r3.Vec) r3.Vec { return m.U }

// Oscillation is a harmonic velocity Amplitude*sin(2*pi*t/Period).
type Oscillation struct {
	Amplitude r3.Vec
	Period    float64
}

func (m Oscillation) Velocity(t float64, _ r3.Vec) r3.Vec {
	return r3.Scale(math.Sin(2*math.Pi*t/m.Period), m.Amplitude)
}

// Rotation about an axis parallel to z through Centre, Omega in rad/s.
type Rotation struct {
	Centre r3.Vec
	Omega  float64
}

func (m Rotation) Velocity(_ float64, x r3.Vec) r3.Vec {
	d := r3.Sub(x, m.Centre)
	return r3.Vec{X: -m.Omega * d.Y, Y: m.Omega * d.X}
}

func velocityOf(m Motion, t float64, x r3.Vec) r3.Vec {
	if m == nil {
		return r3.Vec{}
	}
	return m.Velocity(t, x)
}

// finiteDifference is the velocity implied by two consecutive positions.
func finiteDifference(x, xPrev r3.Vec, dt float64) r3.Vec {
	return r3.Scale(1/dt, r3.Sub(x, xPrev))
}
