package dgrid

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/amrvect/amrvect/sim"
	"github.com/amrvect/amrvect/sim/comm"
)

// CellInfo is the strategy-facing description of one cell.
type CellInfo struct {
	ID     sim.CellID
	Level  int
	Center [3]float64
	Owner  int
}

// Strategy maps every cell to a new owner rank. Implementations must be
// deterministic given identical inputs; every rank runs the strategy on
// the same replicated topology and must reach the same assignment.
type Strategy func(cells []CellInfo, ranks int, rng *rand.Rand) map[sim.CellID]int

var strategies = map[string]Strategy{}

// RegisterStrategy makes a partitioning strategy available under a name.
// The name is an opaque string to the orchestration core.
func RegisterStrategy(name string, s Strategy) {
	if _, dup := strategies[name]; dup {
		panic(fmt.Sprintf("dgrid: duplicate strategy %q", name))
	}
	strategies[name] = s
}

// Strategies lists the registered strategy names.
func Strategies() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Balance migrates cell ownership according to the configured strategy.
// Collective; halo copies are invalid afterwards until ResyncHalos runs.
func (g *Grid) Balance(mode sim.TransferMode) error {
	strategy := strategies[g.opts.Strategy]
	if strategy == nil {
		return fmt.Errorf("dgrid: unknown load balancing strategy %q", g.opts.Strategy)
	}

	infos := make([]CellInfo, 0, len(g.owners))
	for _, id := range sortedIDs(g.owners) {
		c := g.decode(id)
		cell := g.newCell(c)
		infos = append(infos, CellInfo{ID: id, Level: c.level, Center: cell.Center, Owner: g.owners[id]})
	}
	newOwners := strategy(infos, g.comm.Size(), g.rng)

	me := g.comm.Rank()
	outbound := make(map[int][]sim.CellID)
	inbound := make(map[int][]sim.CellID)
	for _, info := range infos {
		dst, ok := newOwners[info.ID]
		if !ok || dst < 0 || dst >= g.comm.Size() {
			return fmt.Errorf("dgrid: strategy %q left cell %d without a valid owner", g.opts.Strategy, info.ID)
		}
		if info.Owner == me && dst != me {
			outbound[dst] = append(outbound[dst], info.ID)
		}
		if info.Owner != me && dst == me {
			inbound[info.Owner] = append(inbound[info.Owner], info.ID)
		}
	}

	var sends []*comm.Request
	for _, dst := range sortedRanks(outbound) {
		ids := outbound[dst]
		buf := comm.EncodeFloat64s(migrateValues(ids, g.local, mode))
		sends = append(sends, g.comm.Isend(dst, tagMigrate, buf))
	}
	for _, src := range sortedRanks(inbound) {
		ids := inbound[src]
		values := comm.DecodeFloat64s(g.comm.Recv(src, tagMigrate))
		for _, id := range ids {
			g.local[id] = g.newCell(g.decode(id))
		}
		applyMigrateValues(ids, g.local, values, mode)
	}
	for _, req := range sends {
		req.Wait()
	}
	for _, ids := range outbound {
		for _, id := range ids {
			delete(g.local, id)
		}
	}

	for id, dst := range newOwners {
		g.owners[id] = dst
	}
	g.rebuildTopology()
	return nil
}
