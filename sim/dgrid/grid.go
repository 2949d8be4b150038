// Package dgrid implements the distributed, adaptively-refined Cartesian
// grid consumed by the orchestration loop in package sim. Cell existence
// and ownership are replicated on every rank, so topology decisions
// (induced refinement, unrefinement cancellation, repartitioning) are
// computed identically everywhere without extra negotiation rounds; only
// cell state moves over the wire.
package dgrid

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/amrvect/amrvect/sim"
	"github.com/amrvect/amrvect/sim/comm"
)

// Options configures a grid. Length counts level-0 cells per axis; axes of
// length 1 are flat and are never subdivided or wrapped.
type Options struct {
	Length             [3]uint64
	Periodic           [3]bool
	MaxRefinementLevel int
	// NeighborhoodLength 0 selects face neighbors only; n >= 1 selects
	// the full cube of Chebyshev radius n.
	NeighborhoodLength int
	Start              [3]float64
	Level0CellLength   [3]float64
	Strategy           string // named partitioning strategy
	Seed               int64  // seeds the RANDOM strategy, identical on all ranks
}

// Validate rejects impossible grid shapes before construction.
func (o Options) Validate() error {
	for axis := 0; axis < 3; axis++ {
		if o.Length[axis] == 0 {
			return fmt.Errorf("dgrid: length[%d] must be > 0", axis)
		}
		if !(o.Level0CellLength[axis] > 0) {
			return fmt.Errorf("dgrid: level-0 cell length[%d] must be > 0", axis)
		}
	}
	if o.MaxRefinementLevel < 0 {
		return fmt.Errorf("dgrid: max refinement level must be >= 0, got %d", o.MaxRefinementLevel)
	}
	if o.NeighborhoodLength < 0 {
		return fmt.Errorf("dgrid: neighborhood length must be >= 0, got %d", o.NeighborhoodLength)
	}
	if _, ok := strategies[o.Strategy]; !ok {
		return fmt.Errorf("dgrid: unknown load balancing strategy %q", o.Strategy)
	}
	return nil
}

// coord addresses a cell slot as (level, index per axis).
type coord struct {
	level      int
	ix, iy, iz uint64
}

// neighborRef is a resolved neighbor entry cached per local cell.
type neighborRef struct {
	id       sim.CellID
	axis     int // -1 for diagonal neighbors
	sign     int
	faceArea float64
}

// Grid is one rank's view of the distributed grid.
type Grid struct {
	opts Options
	comm *comm.Comm
	rng  *rand.Rand

	split        [3]bool  // axes that subdivide on refinement
	levelOffsets []uint64 // id offset per level, len MaxRefinementLevel+2

	owners map[sim.CellID]int // replicated on every rank
	local  map[sim.CellID]*sim.Cell
	halo   map[sim.CellID]*sim.Cell

	// Topology caches rebuilt after construction, adaptation and
	// balancing.
	cellList  []*sim.Cell
	inner     []*sim.Cell
	outer     []*sim.Cell
	neighbors map[sim.CellID][]neighborRef
	sendTo    map[int][]sim.CellID
	recvFrom  map[int][]sim.CellID

	pendingSends  []*comm.Request
	lastRecvCells int
	lastSendCells int
}

// New builds the grid and distributes the level-0 cells in contiguous
// blocks; call Balance to apply the configured strategy.
func New(c *comm.Comm, opts Options) (*Grid, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	// Derive the strategy seed through the partitioned RNG so future
	// randomized subsystems never share a stream with the partitioner.
	rng := sim.NewPartitionedRNG(sim.SimulationKey(opts.Seed)).ForSubsystem(sim.SubsystemPartition)
	g := &Grid{
		opts:   opts,
		comm:   c,
		rng:    rng,
		owners: make(map[sim.CellID]int),
		local:  make(map[sim.CellID]*sim.Cell),
		halo:   make(map[sim.CellID]*sim.Cell),
	}
	for axis := 0; axis < 3; axis++ {
		g.split[axis] = opts.Length[axis] > 1
	}
	g.levelOffsets = make([]uint64, opts.MaxRefinementLevel+2)
	for lvl := 0; lvl <= opts.MaxRefinementLevel; lvl++ {
		nx, ny, nz := g.dims(lvl)
		g.levelOffsets[lvl+1] = g.levelOffsets[lvl] + nx*ny*nz
	}

	// Initial ownership: contiguous blocks of level-0 cells.
	nx, ny, nz := g.dims(0)
	total := nx * ny * nz
	size := uint64(c.Size())
	for i := uint64(0); i < total; i++ {
		id := sim.CellID(i + 1)
		owner := int(i * size / total)
		g.owners[id] = owner
		if owner == c.Rank() {
			g.local[id] = g.newCell(g.decode(id))
		}
	}
	g.rebuildTopology()
	return g, nil
}

// dims returns the cell counts per axis at the given level.
func (g *Grid) dims(level int) (nx, ny, nz uint64) {
	f := func(axis int) uint64 {
		if g.split[axis] {
			return g.opts.Length[axis] << uint(level)
		}
		return g.opts.Length[axis]
	}
	return f(0), f(1), f(2)
}

func (g *Grid) encode(c coord) sim.CellID {
	nx, ny, _ := g.dims(c.level)
	return sim.CellID(g.levelOffsets[c.level] + (c.iz*ny+c.iy)*nx + c.ix + 1)
}

func (g *Grid) decode(id sim.CellID) coord {
	idx := uint64(id) - 1
	level := 0
	for idx >= g.levelOffsets[level+1] {
		level++
	}
	idx -= g.levelOffsets[level]
	nx, ny, _ := g.dims(level)
	return coord{
		level: level,
		ix:    idx % nx,
		iy:    (idx / nx) % ny,
		iz:    idx / (nx * ny),
	}
}

// cellLength returns the edge lengths of a cell at the given level.
func (g *Grid) cellLength(level int) [3]float64 {
	var l [3]float64
	for axis := 0; axis < 3; axis++ {
		l[axis] = g.opts.Level0CellLength[axis]
		if g.split[axis] {
			l[axis] /= float64(uint64(1) << uint(level))
		}
	}
	return l
}

func (g *Grid) newCell(c coord) *sim.Cell {
	length := g.cellLength(c.level)
	idx := [3]uint64{c.ix, c.iy, c.iz}
	var center [3]float64
	for axis := 0; axis < 3; axis++ {
		center[axis] = g.opts.Start[axis] + (float64(idx[axis])+0.5)*length[axis]
	}
	return &sim.Cell{
		ID:     g.encode(c),
		Level:  c.level,
		Center: center,
		Length: length,
	}
}

// cellAt returns the cell for an id whether local or halo copy, or nil.
func (g *Grid) cellAt(id sim.CellID) *sim.Cell {
	if c, ok := g.local[id]; ok {
		return c
	}
	return g.halo[id]
}

// Cells returns all local cells sorted by id.
func (g *Grid) Cells() []*sim.Cell { return g.cellList }

// InnerCells returns the local cells with no halo-dependent neighbors.
func (g *Grid) InnerCells() []*sim.Cell { return g.inner }

// OuterCells returns the local cells adjacent to at least one halo copy.
func (g *Grid) OuterCells() []*sim.Cell { return g.outer }

// MaxRefinementLevel returns the configured maximum refinement level.
func (g *Grid) MaxRefinementLevel() int { return g.opts.MaxRefinementLevel }

// Geometry returns the static grid parameters for snapshot headers.
func (g *Grid) Geometry() sim.Geometry {
	return sim.Geometry{
		Start:            g.opts.Start,
		Level0CellLength: g.opts.Level0CellLength,
		Length:           g.opts.Length,
	}
}

// Neighbors enumerates the cached neighbor list of a local cell.
func (g *Grid) Neighbors(id sim.CellID) []*sim.Neighbor {
	refs := g.neighbors[id]
	out := make([]*sim.Neighbor, 0, len(refs))
	for _, ref := range refs {
		cell := g.cellAt(ref.id)
		if cell == nil {
			continue
		}
		_, isLocal := g.local[ref.id]
		out = append(out, &sim.Neighbor{
			Cell:     cell,
			Axis:     ref.axis,
			Sign:     ref.sign,
			FaceArea: ref.faceArea,
			Remote:   !isLocal,
		})
	}
	return out
}

// sortedIDs returns the keys of a cell set in ascending order.
func sortedIDs[V any](m map[sim.CellID]V) []sim.CellID {
	ids := make([]sim.CellID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedRanks[V any](m map[int]V) []int {
	ranks := make([]int, 0, len(m))
	for r := range m {
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)
	return ranks
}
