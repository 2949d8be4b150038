package sim

import (
	"fmt"
	"math"
)

// Cadence semantics shared by the adaptation, balance and save knobs:
// -1 = never, 0 = only during setup (save: initial and final state only),
// n > 0 = every n'th step.
const (
	CadenceNever     = -1
	CadenceSetupOnly = 0
)

// GridConfig groups the static grid parameters handed to the mesh
// collaborator.
type GridConfig struct {
	// Cells is the total number of unrefined cells at the start of the
	// simulation; the grid is laid out as a square of side sqrt(Cells)
	// with one flat z layer.
	Cells              uint64
	MaxRefinementLevel int
	LoadBalancer       string // named partitioning strategy, opaque here
}

// AdaptConfig groups the refinement thresholds consumed by the classifier.
type AdaptConfig struct {
	RelativeDiff        float64 // per-level relative difference tolerance
	DiffThreshold       float64 // absolute difference floor for refinement
	UnrefineSensitivity float64 // hysteresis multiplier, < 1 in practice
}

// Config carries every knob of a run. All cadences follow the Cadence*
// semantics above.
type Config struct {
	Grid  GridConfig
	Adapt AdaptConfig

	CFL          float64 // stability factor in [0, 1]
	Tmax         float64 // simulation horizon
	AdaptEvery   int
	BalanceEvery int
	SaveEvery    int

	Procs        int
	Seed         int64
	OutputPrefix string // base name of snapshot files; empty with SaveEvery == -1
	Verbose      bool
}

// Validate rejects invalid configurations before any stepping occurs.
// A failed validation is a configuration error, never a runtime fault.
func (c Config) Validate() error {
	if c.CFL < 0 || c.CFL > 1 {
		return fmt.Errorf("cfl must be >= 0 and <= 1, got %v", c.CFL)
	}
	if c.AdaptEvery < CadenceNever {
		return fmt.Errorf("adapt-n must be >= -1, got %d", c.AdaptEvery)
	}
	if c.BalanceEvery < CadenceNever {
		return fmt.Errorf("balance-n must be >= -1, got %d", c.BalanceEvery)
	}
	if c.SaveEvery < CadenceNever {
		return fmt.Errorf("save-n must be >= -1, got %d", c.SaveEvery)
	}
	if !(c.Tmax > 0) || math.IsInf(c.Tmax, 0) {
		return fmt.Errorf("tmax must be a positive finite duration, got %v", c.Tmax)
	}
	if c.Procs < 1 {
		return fmt.Errorf("procs must be >= 1, got %d", c.Procs)
	}
	if c.Grid.Cells == 0 {
		return fmt.Errorf("cells must be > 0")
	}
	if c.Grid.MaxRefinementLevel < 0 {
		return fmt.Errorf("max-ref-lvl must be >= 0, got %d", c.Grid.MaxRefinementLevel)
	}
	if !(c.Adapt.RelativeDiff > 0) {
		return fmt.Errorf("relative-diff must be > 0, got %v", c.Adapt.RelativeDiff)
	}
	if !(c.Adapt.DiffThreshold > 0) {
		return fmt.Errorf("diff-threshold must be > 0, got %v", c.Adapt.DiffThreshold)
	}
	if !(c.Adapt.UnrefineSensitivity > 0) {
		return fmt.Errorf("unrefine-sensitivity must be > 0, got %v", c.Adapt.UnrefineSensitivity)
	}
	return nil
}

// adaptDue reports whether the adaptation engine runs on the given step.
func (c Config) adaptDue(step uint64) bool {
	return c.AdaptEvery > 0 && step%uint64(c.AdaptEvery) == 0
}

func (c Config) balanceDue(step uint64) bool {
	return c.BalanceEvery > 0 && step%uint64(c.BalanceEvery) == 0
}

func (c Config) saveDue(step uint64) bool {
	return c.SaveEvery > 0 && step%uint64(c.SaveEvery) == 0
}
