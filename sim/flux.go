package sim

import (
	"fmt"
	"math"

	"github.com/amrvect/amrvect/sim/comm"
)

// Wire sizes used for bandwidth accounting; must match what the mesh
// collaborator actually serializes per cell.
const (
	// HaloBytesPerCell covers the advected scalar and the velocity
	// sample carried by a regular halo update.
	HaloBytesPerCell = 4 * 8
	// TransferAllBytesPerCell additionally covers the single-use
	// per-step data moved during adaptation and migration.
	TransferAllBytesPerCell = 5 * 8
)

// CalculateFluxes accumulates first-order upwind flux contributions into
// the transient Flux field of every cell selected by the pass. The inner
// pass covers cells whose neighbors are all local and may run while a halo
// exchange is in flight; the outer pass covers the remainder and requires
// valid halo copies. Running both passes is numerically identical to one
// unified pass over all cells: each cell accumulates only its own side of
// every face, so the split is purely a latency-hiding optimization.
func CalculateFluxes(dtFrac float64, inner bool, m Mesh) {
	var cells []*Cell
	if inner {
		cells = m.InnerCells()
	} else {
		cells = m.OuterCells()
	}
	for _, c := range cells {
		accumulateCellFlux(c, m.Neighbors(c.ID), dtFrac)
	}
}

// accumulateCellFlux adds this cell's share of the flux through each of
// its faces. The face velocity is the mean of the two adjacent samples;
// the donor cell is chosen upwind of it. Both sides of a face evaluate the
// same velocity, area and donor density, so the scheme conserves mass to
// floating-point exactness.
func accumulateCellFlux(c *Cell, neighbors []*Neighbor, dtFrac float64) {
	volume := c.Volume()
	for _, nb := range neighbors {
		if nb.FaceArea == 0 {
			continue
		}
		v := 0.5 * (c.Velocity[nb.Axis] + nb.Cell.Velocity[nb.Axis]) * float64(nb.Sign)
		switch {
		case v > 0:
			// Outflow: this cell is the donor.
			c.Flux -= dtFrac * v * nb.FaceArea * c.Density / volume
		case v < 0:
			// Inflow: the neighbor is the donor.
			c.Flux += dtFrac * (-v) * nb.FaceArea * nb.Cell.Density / volume
		}
	}
}

// ApplyFluxes folds the accumulated contributions into the cell state and
// clears them. Must never run before the halo-exchange sends of the step
// have completed.
func ApplyFluxes(m Mesh) {
	for _, c := range m.Cells() {
		c.Density += c.Flux
		c.Flux = 0
	}
}

// StableTimeStep computes the largest globally stable time step: the
// minimum over all cells and axes of cell length over velocity magnitude,
// reduced across ranks. A zero or non-finite result is numerical
// degeneracy and reported as a fatal error; the reduction guarantees every
// rank reaches the same verdict, keeping the abort agreed.
func StableTimeStep(m Mesh, c *comm.Comm) (float64, error) {
	local := math.Inf(1)
	for _, cell := range m.Cells() {
		for axis := 0; axis < 3; axis++ {
			if v := math.Abs(cell.Velocity[axis]); v > 0 {
				if dt := cell.Length[axis] / v; dt < local {
					local = dt
				}
			}
		}
	}
	dt := c.AllReduceFloat64(local, comm.Min)
	if math.IsNaN(dt) || math.IsInf(dt, 0) {
		return 0, fmt.Errorf("stable time step is not finite (%v); velocity field is degenerate", dt)
	}
	if dt <= 0 {
		return 0, fmt.Errorf("stable time step is not positive (%v)", dt)
	}
	return dt, nil
}
