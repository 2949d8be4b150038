package sim

import (
	"errors"
	"sync"

	"github.com/amrvect/amrvect/sim/comm"
)

// NewMeshFromConfig builds the mesh collaborator for one rank. The
// canonical implementation registers itself here from its init function,
// keeping this package free of a dependency cycle; importing
// github.com/amrvect/amrvect/sim/dgrid is enough to wire it.
var NewMeshFromConfig func(c *comm.Comm, cfg Config) (Mesh, error)

// RunGroup executes one complete simulation with cfg.Procs ranks, each a
// goroutine over a shared in-process communicator, and returns the
// aggregated report. Blocks until every rank finishes.
func RunGroup(cfg Config, initialize Initializer, collector *Collector) (*RunReport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if NewMeshFromConfig == nil {
		return nil, errors.New("no mesh implementation registered (import the dgrid package)")
	}

	group := comm.NewGroup(cfg.Procs)
	reports := make([]*RunReport, cfg.Procs)
	errs := make([]error, cfg.Procs)

	var wg sync.WaitGroup
	for rank := 0; rank < cfg.Procs; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			c := group.Rank(rank)

			m, err := NewMeshFromConfig(c, cfg)
			// Agree on mesh construction before any rank enters the
			// orchestrator's collective sequence, otherwise a failed
			// rank would leave its peers blocked forever.
			if !c.AgreeOK(err == nil) {
				if err == nil {
					err = errPeerFailed
				}
				errs[rank] = err
				return
			}

			o, err := NewOrchestrator(cfg, m, c, initialize, collector)
			if err != nil {
				errs[rank] = err
				return
			}
			reports[rank], errs[rank] = o.Run()
		}(rank)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil && !errors.Is(err, errPeerFailed) {
			return nil, err
		}
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return reports[0], nil
}
