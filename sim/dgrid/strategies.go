package dgrid

import (
	"math/rand"
	"sort"

	"github.com/amrvect/amrvect/sim"
)

func init() {
	RegisterStrategy("RCB", recursiveCoordinateBisection)
	RegisterStrategy("BLOCK", blockPartition)
	RegisterStrategy("RANDOM", randomPartition)
}

// recursiveCoordinateBisection splits the cell set at the median of the
// axis with the widest coordinate spread, recursing on halves of the rank
// range. Ties break on cell id so every rank computes the same cut.
func recursiveCoordinateBisection(cells []CellInfo, ranks int, _ *rand.Rand) map[sim.CellID]int {
	assignment := make(map[sim.CellID]int, len(cells))
	work := make([]CellInfo, len(cells))
	copy(work, cells)
	rcb(work, 0, ranks, assignment)
	return assignment
}

func rcb(cells []CellInfo, lo, hi int, assignment map[sim.CellID]int) {
	if hi-lo <= 1 || len(cells) == 0 {
		for _, c := range cells {
			assignment[c.ID] = lo
		}
		return
	}

	axis := widestAxis(cells)
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Center[axis] != cells[j].Center[axis] {
			return cells[i].Center[axis] < cells[j].Center[axis]
		}
		return cells[i].ID < cells[j].ID
	})

	midRank := (lo + hi) / 2
	cut := len(cells) * (midRank - lo) / (hi - lo)
	rcb(cells[:cut], lo, midRank, assignment)
	rcb(cells[cut:], midRank, hi, assignment)
}

func widestAxis(cells []CellInfo) int {
	var lo, hi [3]float64
	for axis := 0; axis < 3; axis++ {
		lo[axis] = cells[0].Center[axis]
		hi[axis] = cells[0].Center[axis]
	}
	for _, c := range cells[1:] {
		for axis := 0; axis < 3; axis++ {
			if c.Center[axis] < lo[axis] {
				lo[axis] = c.Center[axis]
			}
			if c.Center[axis] > hi[axis] {
				hi[axis] = c.Center[axis]
			}
		}
	}
	axis := 0
	for a := 1; a < 3; a++ {
		if hi[a]-lo[a] > hi[axis]-lo[axis] {
			axis = a
		}
	}
	return axis
}

// blockPartition assigns contiguous id ranges of equal size to each rank.
func blockPartition(cells []CellInfo, ranks int, _ *rand.Rand) map[sim.CellID]int {
	assignment := make(map[sim.CellID]int, len(cells))
	for i, c := range cells {
		assignment[c.ID] = i * ranks / len(cells)
	}
	return assignment
}

// randomPartition scatters cells uniformly. All ranks hold identically
// seeded generators and visit cells in id order, so the assignment agrees
// everywhere.
func randomPartition(cells []CellInfo, ranks int, rng *rand.Rand) map[sim.CellID]int {
	assignment := make(map[sim.CellID]int, len(cells))
	for _, c := range cells {
		assignment[c.ID] = rng.Intn(ranks)
	}
	return assignment
}
