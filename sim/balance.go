package sim

import "github.com/sirupsen/logrus"

// BalanceScheduler decides when cell ownership is redistributed and runs
// the redistribution. The partitioning heuristic itself is the mesh
// collaborator's concern; this component only sequences the operation.
type BalanceScheduler struct {
	every      int
	rebalances uint64
}

// NewBalanceScheduler creates a scheduler with the given cadence:
// -1 never, 0 only at setup, n > 0 every n'th step.
func NewBalanceScheduler(every int) *BalanceScheduler {
	return &BalanceScheduler{every: every}
}

// AtSetup reports whether an initial balance runs before stepping.
func (b *BalanceScheduler) AtSetup() bool {
	return b.every > CadenceNever
}

// Due reports whether a balance runs on the given step.
func (b *BalanceScheduler) Due(step uint64) bool {
	return b.every > 0 && step%uint64(b.every) == 0
}

// Rebalance migrates cell ownership and resynchronizes every halo copy,
// since migration invalidates them wholesale. The full payload is moved:
// any in-flight single-use data must survive the ownership change.
func (b *BalanceScheduler) Rebalance(m Mesh) error {
	if err := m.Balance(TransferAll); err != nil {
		return err
	}
	m.ResyncHalos()
	b.rebalances++
	logrus.Debugf("load balance %d complete", b.rebalances)
	return nil
}

// Rebalances returns how many migrations have run.
func (b *BalanceScheduler) Rebalances() uint64 {
	return b.rebalances
}
