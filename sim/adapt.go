package sim

import "math"

// smoothnessEpsilon floors the relative-difference denominator so uniform
// near-zero regions classify as smooth instead of dividing by zero.
const smoothnessEpsilon = 1e-12

// Classifier is the adaptation decision engine: a pure, deterministic
// mapping from the current field state to one Classification per local
// cell. The exact threshold arithmetic is policy and lives entirely behind
// Classify, so alternative formulas can be swapped in without touching the
// orchestration loop.
type Classifier struct {
	// RelativeDiff is the base relative-difference tolerance; the
	// effective refine threshold tightens with depth as 1/(level+1).
	RelativeDiff float64
	// DiffThreshold is the absolute difference a cell must additionally
	// exceed before it refines, which keeps noise in near-vacuum
	// regions from burning refinement levels.
	DiffThreshold float64
	// UnrefineSensitivity scales the refine threshold down to the
	// unrefine threshold. Values below 1 open a hysteresis band in
	// which cells keep their level, preventing refine/unrefine
	// oscillation at the boundary.
	UnrefineSensitivity float64
	// MaxLevel caps refinement; cells at the cap classify as Keep even
	// when rough, which also blocks unrefinement of their siblings.
	MaxLevel int
}

// NewClassifier builds a Classifier from the adaptation thresholds.
func NewClassifier(cfg AdaptConfig, maxLevel int) *Classifier {
	return &Classifier{
		RelativeDiff:        cfg.RelativeDiff,
		DiffThreshold:       cfg.DiffThreshold,
		UnrefineSensitivity: cfg.UnrefineSensitivity,
		MaxLevel:            maxLevel,
	}
}

// RefineThreshold returns the effective relative-difference threshold for
// a cell at the given refinement level.
func (cl *Classifier) RefineThreshold(level int) float64 {
	return cl.RelativeDiff / float64(level+1)
}

// Classify tags every local cell with an adaptation decision based on the
// relative difference between its state and its neighbors'. It records the
// metric in Cell.MaxDiff but never mutates topology or field state, and it
// is idempotent: identical input state yields an identical map. Halo
// copies must be current when this runs.
func (cl *Classifier) Classify(m Mesh) map[CellID]Classification {
	decisions := make(map[CellID]Classification)
	for _, c := range m.Cells() {
		var maxRel, maxAbs float64
		for _, nb := range m.Neighbors(c.ID) {
			diff := math.Abs(c.Density - nb.Cell.Density)
			if diff > maxAbs {
				maxAbs = diff
			}
			scale := math.Max(math.Max(math.Abs(c.Density), math.Abs(nb.Cell.Density)), smoothnessEpsilon)
			if rel := diff / scale; rel > maxRel {
				maxRel = rel
			}
		}
		c.MaxDiff = maxRel

		threshold := cl.RefineThreshold(c.Level)
		switch {
		case maxRel > threshold && maxAbs > cl.DiffThreshold && c.Level < cl.MaxLevel:
			decisions[c.ID] = Refine
		case maxRel < cl.UnrefineSensitivity*threshold && c.Level > 0:
			decisions[c.ID] = Unrefine
		default:
			decisions[c.ID] = Keep
		}
	}
	return decisions
}
