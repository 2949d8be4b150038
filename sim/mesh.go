package sim

// Neighbor describes one neighbor of a cell, local or halo, together with
// the face geometry the flux kernel needs. Non-face neighbors (present only
// with neighborhood radius >= 1) carry a zero FaceArea.
type Neighbor struct {
	Cell *Cell

	// Axis (0..2) and Sign (+1/-1) give the face direction as seen from
	// the cell whose neighbors were requested. Axis is -1 for diagonal
	// neighbors.
	Axis int
	Sign int

	// FaceArea is the shared face area; for neighbors at a finer level
	// it is the finer cell's face.
	FaceArea float64

	// Remote marks halo copies owned by another rank.
	Remote bool
}

// Geometry reports the static grid parameters needed for snapshot headers.
type Geometry struct {
	Start            [3]float64
	Level0CellLength [3]float64
	Length           [3]uint64
}

// Mesh is the grid collaborator consumed by the orchestration loop. The
// canonical implementation is sim/dgrid; tests substitute mocks to probe
// call ordering.
//
// Blocking behavior: StartHaloExchange returns immediately; the two Wait
// calls, Adapt, Balance and ResyncHalos suspend the calling rank until its
// peers reach the matching point.
type Mesh interface {
	// Cells enumerates all local cells. InnerCells returns the subset
	// whose neighbors are all local; OuterCells returns the remainder.
	// The two subsets partition Cells.
	Cells() []*Cell
	InnerCells() []*Cell
	OuterCells() []*Cell

	// Neighbors enumerates the neighbors of a local cell within the
	// configured neighborhood radius. Halo copies returned here are
	// read-only and valid only between a WaitHaloReceives and the next
	// StartHaloExchange.
	Neighbors(id CellID) []*Neighbor

	// StartHaloExchange begins the asynchronous refresh of halo copies.
	// Non-blocking. WaitHaloReceives blocks until all halo copies hold
	// the peers' current state; it must precede any read of halo data.
	// WaitHaloSends blocks until locally owned state has been handed
	// off; it must precede any mutation of local cells.
	StartHaloExchange()
	WaitHaloReceives()
	WaitHaloSends()

	// ExchangeCellCounts reports how many cells the previous exchange
	// received and sent, for bandwidth accounting.
	ExchangeCellCounts() (received, sent int)

	// Adapt applies the per-cell classification produced by the decision
	// engine, returning how many cells were created and removed on this
	// rank (parents included on both sides of the count).
	Adapt(decisions map[CellID]Classification, mode TransferMode) (created, removed uint64, err error)

	// Balance migrates cell ownership according to the configured
	// partitioning strategy. Halo copies are invalid afterwards until
	// ResyncHalos completes.
	Balance(mode TransferMode) error
	ResyncHalos()

	MaxRefinementLevel() int
	Geometry() Geometry
}
