package sim

// CellID uniquely identifies a cell across all ranks and refinement levels.
// IDs are 1-based and level-major: all level-0 ids precede all level-1 ids.
type CellID uint64

// Cell is the atomic mesh unit. Exactly one rank owns the authoritative
// state of each cell; other ranks may hold a read-only, time-lagged halo
// copy refreshed once per exchange.
type Cell struct {
	ID    CellID
	Level int

	// Geometry, cached by the mesh collaborator.
	Center [3]float64
	Length [3]float64

	// Advected scalar and the (static) velocity field sampled at the
	// cell center.
	Density  float64
	Velocity [3]float64

	// Transient per-step data. Flux accumulates the pending density
	// change and is reset by ApplyFluxes. MaxDiff is the smoothness
	// metric written by the classifier; neither is halo-exchanged.
	Flux    float64
	MaxDiff float64
}

// Volume returns the cell volume.
func (c *Cell) Volume() float64 {
	return c.Length[0] * c.Length[1] * c.Length[2]
}

// Classification tags one cell with the adaptation decision for the current
// cycle. A single tag per cell replaces the three mutually exclusive sets
// (to-refine, not-to-unrefine, to-unrefine) that would otherwise have to be
// kept disjoint by convention.
type Classification int

const (
	// Keep leaves the cell at its current refinement level and blocks
	// unrefinement of its siblings.
	Keep Classification = iota
	// Refine requests splitting the cell into children.
	Refine
	// Unrefine requests replacing the cell and its siblings with their
	// parent, provided every sibling agrees.
	Unrefine
)

func (c Classification) String() string {
	switch c {
	case Refine:
		return "refine"
	case Unrefine:
		return "unrefine"
	default:
		return "keep"
	}
}

// TransferMode selects the payload migrated when cells change owner or
// level. It is passed explicitly into Adapt and Balance calls instead of
// living in ambient global state, so steady-state halo updates stay cheap.
type TransferMode int

const (
	// TransferState moves only the advected scalar.
	TransferState TransferMode = iota
	// TransferAll additionally moves the velocity sample and any
	// single-use per-step data, required whenever topology or ownership
	// changes mid-run.
	TransferAll
)
