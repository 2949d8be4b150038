package sim

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amrvect/amrvect/sim/comm"
)

// Phase names the stages of one simulation step. The orchestrator exposes
// its current phase so tests can assert the ordering contract; the values
// advance monotonically within a step and reset on the next.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseExchanging
	PhaseReceivesDone
	PhaseOuterSolved
	PhaseSendsDone
	PhaseApplied
	PhaseAdapted
	PhaseBalanced
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseExchanging:
		return "exchanging"
	case PhaseReceivesDone:
		return "receives-done"
	case PhaseOuterSolved:
		return "outer-solved"
	case PhaseSendsDone:
		return "sends-done"
	case PhaseApplied:
		return "applied"
	case PhaseAdapted:
		return "adapted"
	case PhaseBalanced:
		return "balanced"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// State is the progress of one rank's view of the run. Time, Step and Dt
// are identical on every rank by construction.
type State struct {
	Time float64
	Step uint64
	Dt   float64
}

// errPeerFailed is returned on ranks whose own work succeeded when the
// group agreement reports a failure elsewhere.
var errPeerFailed = errors.New("aborted: failure on a peer rank")

// Orchestrator drives one rank through the simulation loop: overlapped
// halo exchange and flux computation, periodic adaptation, periodic load
// balancing and snapshots, all under a globally agreed time step.
type Orchestrator struct {
	cfg        Config
	mesh       Mesh
	comm       *comm.Comm
	classifier *Classifier
	balancer   *BalanceScheduler
	collector  *Collector
	initialize Initializer
	log        *logrus.Entry

	acc          Accumulators
	state        State
	phase        Phase
	initialCells uint64
}

// NewOrchestrator wires one rank's orchestrator. The configuration must
// already be validated; collector may be nil.
func NewOrchestrator(cfg Config, m Mesh, c *comm.Comm, initialize Initializer, collector *Collector) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if initialize == nil {
		return nil, errors.New("an initializer is required")
	}
	return &Orchestrator{
		cfg:        cfg,
		mesh:       m,
		comm:       c,
		classifier: NewClassifier(cfg.Adapt, m.MaxRefinementLevel()),
		balancer:   NewBalanceScheduler(cfg.BalanceEvery),
		collector:  collector,
		initialize: initialize,
		log:        logrus.WithField("rank", c.Rank()),
	}, nil
}

// State returns the current progress of this rank.
func (o *Orchestrator) State() State { return o.state }

// Phase returns the stage the current (or last) step has reached.
func (o *Orchestrator) Phase() Phase { return o.phase }

// agree folds a local error into the group verdict. Every rank must call
// it with its own result at the same point; no rank aborts unilaterally.
func (o *Orchestrator) agree(err error) error {
	if o.comm.AgreeOK(err == nil) {
		return nil
	}
	if err != nil {
		return err
	}
	return errPeerFailed
}

// Setup prepares the run: optional initial balance, initial condition,
// prerefinement to the final resolution, the first time step and the
// initial snapshot. Collective.
func (o *Orchestrator) Setup() error {
	if o.balancer.AtSetup() {
		if err := o.agree(o.balancer.Rebalance(o.mesh)); err != nil {
			return fmt.Errorf("initial load balance: %w", err)
		}
	}

	o.applyInitialCondition()

	// Each pass can refine at most one level, so sampling the initial
	// condition again after every pass walks the grid to its final
	// resolution with the condition evaluated at final cell centers.
	if o.cfg.AdaptEvery > CadenceNever && o.mesh.MaxRefinementLevel() > 0 {
		for pass := 0; pass < o.mesh.MaxRefinementLevel(); pass++ {
			decisions := o.classifier.Classify(o.mesh)
			created, removed, err := o.mesh.Adapt(decisions, TransferAll)
			if err = o.agree(err); err != nil {
				return fmt.Errorf("prerefinement pass %d: %w", pass, err)
			}
			o.acc.CellsCreated += created
			o.acc.CellsRemoved += removed
			o.collector.ObserveAdaptation(created, removed)
			o.applyInitialCondition()
		}
	}

	dt, err := StableTimeStep(o.mesh, o.comm)
	if err != nil {
		return err
	}
	o.state.Dt = dt
	o.initialCells = o.comm.AllReduceUint64(uint64(len(o.mesh.Cells())), comm.Sum)

	if o.cfg.SaveEvery > CadenceNever {
		if err := o.save(); err != nil {
			return err
		}
	}

	if o.comm.Rank() == 0 {
		o.log.WithFields(logrus.Fields{
			"cells": o.initialCells,
			"dt":    o.state.Dt,
			"tmax":  o.cfg.Tmax,
		}).Info("setup complete")
	}
	return nil
}

// applyInitialCondition samples the initial condition on every local cell
// and synchronizes halos so neighbors see consistent state.
func (o *Orchestrator) applyInitialCondition() {
	for _, c := range o.mesh.Cells() {
		o.initialize(c)
	}
	o.mesh.ResyncHalos()
}

// step advances the simulation by one globally agreed time step,
// overlapping the inner flux computation with the halo exchange.
func (o *Orchestrator) step() error {
	dtFrac := o.cfg.CFL * o.state.Dt

	o.phase = PhaseExchanging
	o.mesh.StartHaloExchange()

	start := time.Now()
	CalculateFluxes(dtFrac, true, o.mesh)
	o.acc.InnerSolveSeconds += time.Since(start).Seconds()

	o.mesh.WaitHaloReceives()
	o.phase = PhaseReceivesDone

	start = time.Now()
	CalculateFluxes(dtFrac, false, o.mesh)
	o.acc.OuterSolveSeconds += time.Since(start).Seconds()
	o.phase = PhaseOuterSolved

	o.mesh.WaitHaloSends()
	o.phase = PhaseSendsDone
	o.accountExchange(HaloBytesPerCell)

	// Decisions are made on pre-update state but applied only after the
	// fluxes are folded in, matching the snapshot taken this step.
	var decisions map[CellID]Classification
	if o.cfg.adaptDue(o.state.Step) {
		decisions = o.classifier.Classify(o.mesh)
	}

	// saveDue fires at step 0 too, rewriting the setup snapshot under its
	// own name and counting it in FilesSaved a second time.
	if o.cfg.saveDue(o.state.Step) {
		if err := o.save(); err != nil {
			return err
		}
	}

	ApplyFluxes(o.mesh)
	o.phase = PhaseApplied

	if decisions != nil {
		created, removed, err := o.mesh.Adapt(decisions, TransferAll)
		if err = o.agree(err); err != nil {
			return fmt.Errorf("adaptation at step %d: %w", o.state.Step, err)
		}
		o.acc.CellsCreated += created
		o.acc.CellsRemoved += removed
		o.collector.ObserveAdaptation(created, removed)
		o.mesh.ResyncHalos()
		o.accountExchange(TransferAllBytesPerCell)

		dt, err := StableTimeStep(o.mesh, o.comm)
		if err != nil {
			return err
		}
		o.state.Dt = dt
		o.phase = PhaseAdapted
	}

	if o.cfg.balanceDue(o.state.Step) {
		if err := o.agree(o.balancer.Rebalance(o.mesh)); err != nil {
			return fmt.Errorf("load balance at step %d: %w", o.state.Step, err)
		}
		o.accountExchange(TransferAllBytesPerCell)
		o.collector.ObserveRebalance(o.comm.Rank())
		o.phase = PhaseBalanced
	}

	o.state.Step++
	o.state.Time += o.state.Dt
	o.acc.Steps++
	o.collector.ObserveStep(o.comm.Rank(), o.state.Time, o.state.Dt, len(o.mesh.Cells()))

	if o.cfg.Verbose && o.comm.Rank() == 0 {
		o.log.WithFields(logrus.Fields{
			"step": o.state.Step,
			"time": o.state.Time,
			"dt":   o.state.Dt,
		}).Info("step complete")
	}
	return nil
}

// accountExchange folds the cell counts of the most recent transfer into
// the bandwidth accumulators.
func (o *Orchestrator) accountExchange(bytesPerCell int) {
	received, sent := o.mesh.ExchangeCellCounts()
	bytes := float64(bytesPerCell * (received + sent))
	o.acc.HaloBytes += bytes
	o.collector.ObserveHaloBytes(bytes)
}

// save writes one snapshot of the current state. Collective.
func (o *Orchestrator) save() error {
	name := SnapshotFileName(o.cfg.OutputPrefix, o.state.Time)
	if err := o.agree(WriteSnapshot(name, o.state.Step, o.mesh, o.comm)); err != nil {
		return fmt.Errorf("saving %s: %w", name, err)
	}
	o.acc.FilesSaved++
	o.collector.ObserveSnapshot(o.comm.Rank())
	return nil
}

// Run executes the whole simulation on this rank and returns the
// aggregated report. Every rank receives an identical report; callers
// usually print it on rank 0 only.
func (o *Orchestrator) Run() (*RunReport, error) {
	if err := o.Setup(); err != nil {
		return nil, err
	}
	for o.state.Time < o.cfg.Tmax {
		if err := o.step(); err != nil {
			return nil, err
		}
	}
	o.phase = PhaseIdle
	if o.cfg.SaveEvery > CadenceNever {
		if err := o.save(); err != nil {
			return nil, err
		}
	}
	return o.acc.Report(o.comm, o.initialCells), nil
}
