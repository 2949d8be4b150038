package sim

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/amrvect/amrvect/sim/comm"
)

// Accumulators collects per-rank counters over a run. The orchestrator
// owns one instance per rank; cross-rank aggregation happens once, at run
// end, in Report.
type Accumulators struct {
	InnerSolveSeconds float64
	OuterSolveSeconds float64
	HaloBytes         float64
	Steps             uint64
	FilesSaved        uint64
	CellsCreated      uint64
	CellsRemoved      uint64
}

// StatLine summarizes one per-rank quantity across all ranks.
type StatLine struct {
	Min, Max, Mean float64
}

func statLine(values []float64) StatLine {
	return StatLine{
		Min:  floats.Min(values),
		Max:  floats.Max(values),
		Mean: stat.Mean(values, nil),
	}
}

// RunReport is the aggregate summary of a completed run. Every rank
// returns an identical copy; only rank 0 usually prints it.
type RunReport struct {
	Processes    int
	InitialCells uint64
	Steps        uint64
	FilesSaved   uint64
	CellsCreated uint64
	CellsRemoved uint64

	// Per-step, per-rank distributions.
	InnerSolveSeconds StatLine
	OuterSolveSeconds StatLine
	HaloBytes         StatLine
	// Bytes transferred per second of inner-flux computation, the
	// overlap quality indicator: higher means more communication was
	// hidden behind useful work.
	OverlapBandwidth StatLine
}

// Report reduces the per-rank accumulators into a RunReport. Collective:
// every rank must call it exactly once, at the same point in the run.
func (a *Accumulators) Report(c *comm.Comm, initialCells uint64) *RunReport {
	steps := float64(a.Steps)
	if steps == 0 {
		steps = 1
	}
	inner := c.GatherFloat64(a.InnerSolveSeconds / steps)
	outer := c.GatherFloat64(a.OuterSolveSeconds / steps)
	halo := c.GatherFloat64(a.HaloBytes / steps)

	var bandwidth float64
	if a.InnerSolveSeconds > 0 {
		bandwidth = a.HaloBytes / a.InnerSolveSeconds
	}
	overlap := c.GatherFloat64(bandwidth)

	return &RunReport{
		Processes:         c.Size(),
		InitialCells:      initialCells,
		Steps:             a.Steps,
		FilesSaved:        a.FilesSaved,
		CellsCreated:      c.AllReduceUint64(a.CellsCreated, comm.Sum),
		CellsRemoved:      c.AllReduceUint64(a.CellsRemoved, comm.Sum),
		InnerSolveSeconds: statLine(inner),
		OuterSolveSeconds: statLine(outer),
		HaloBytes:         statLine(halo),
		OverlapBandwidth:  statLine(overlap),
	}
}

// Format renders the report in the run-end layout printed on rank 0.
func (r *RunReport) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Processes: %d, initial cells: %d, steps: %d, files saved: %d\n",
		r.Processes, r.InitialCells, r.Steps, r.FilesSaved)
	fmt.Fprintf(&b, "Cells created: %d, removed: %d\n", r.CellsCreated, r.CellsRemoved)
	fmt.Fprintf(&b, "Inner solve time / step / rank: min %.3g s, max %.3g s, mean %.3g s\n",
		r.InnerSolveSeconds.Min, r.InnerSolveSeconds.Max, r.InnerSolveSeconds.Mean)
	fmt.Fprintf(&b, "Outer solve time / step / rank: min %.3g s, max %.3g s, mean %.3g s\n",
		r.OuterSolveSeconds.Min, r.OuterSolveSeconds.Max, r.OuterSolveSeconds.Mean)
	fmt.Fprintf(&b, "Halo data / step / rank: min %.3g B, max %.3g B, mean %.3g B\n",
		r.HaloBytes.Min, r.HaloBytes.Max, r.HaloBytes.Mean)
	fmt.Fprintf(&b, "Halo bandwidth over inner solve: min %.3g B/s, max %.3g B/s, mean %.3g B/s\n",
		r.OverlapBandwidth.Min, r.OverlapBandwidth.Max, r.OverlapBandwidth.Mean)
	return b.String()
}
