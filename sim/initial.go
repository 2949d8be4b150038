package sim

import "math"

// Initializer applies the initial condition to one cell. The mesh stays
// physics-free: it hands cells out, the initializer fills them in. During
// setup the initializer is re-applied after every prerefinement pass so
// the condition is sampled at the final resolution.
type Initializer func(c *Cell)

// RotatingFlow is the classic solid-body-rotation advection scenario
// (LeVeque 1996): a dense disk on a unit square rotating about the domain
// center. The disk crosses refinement boundaries repeatedly, which makes
// the scenario a good adaptation exercise.
func RotatingFlow() Initializer {
	const (
		omega      = 2 * math.Pi
		diskX      = 0.5
		diskY      = 0.75
		diskRadius = 0.15
		background = 1e-4
	)
	return func(c *Cell) {
		dx := c.Center[0] - diskX
		dy := c.Center[1] - diskY
		if dx*dx+dy*dy <= diskRadius*diskRadius {
			c.Density = 1
		} else {
			c.Density = background
		}
		c.Velocity = [3]float64{
			-omega * (c.Center[1] - 0.5),
			omega * (c.Center[0] - 0.5),
			0,
		}
	}
}

// Uniform fills every cell with the same density and velocity; used by
// conservation tests and as a degenerate-field probe.
func Uniform(density float64, velocity [3]float64) Initializer {
	return func(c *Cell) {
		c.Density = density
		c.Velocity = velocity
	}
}
