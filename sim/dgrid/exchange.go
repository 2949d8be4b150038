package dgrid

import (
	"github.com/amrvect/amrvect/sim"
	"github.com/amrvect/amrvect/sim/comm"
)

const (
	tagHalo comm.Tag = iota + 1
	tagMigrate
	tagAdapt
)

// MigrateBytesPerCell returns the wire size of one migrated cell. A halo
// update carries sim.HaloBytesPerCell instead: the advected scalar plus
// the velocity sample, never flux or the adaptation metric.
func MigrateBytesPerCell(mode sim.TransferMode) int {
	if mode == sim.TransferAll {
		return sim.TransferAllBytesPerCell
	}
	return 8
}

func haloValues(ids []sim.CellID, lookup map[sim.CellID]*sim.Cell) []float64 {
	values := make([]float64, 0, 4*len(ids))
	for _, id := range ids {
		c := lookup[id]
		values = append(values, c.Density, c.Velocity[0], c.Velocity[1], c.Velocity[2])
	}
	return values
}

func migrateValues(ids []sim.CellID, lookup map[sim.CellID]*sim.Cell, mode sim.TransferMode) []float64 {
	var values []float64
	for _, id := range ids {
		c := lookup[id]
		if mode == sim.TransferAll {
			values = append(values, c.Density, c.Velocity[0], c.Velocity[1], c.Velocity[2], c.MaxDiff)
		} else {
			values = append(values, c.Density)
		}
	}
	return values
}

func applyMigrateValues(ids []sim.CellID, lookup map[sim.CellID]*sim.Cell, values []float64, mode sim.TransferMode) {
	stride := MigrateBytesPerCell(mode) / 8
	for i, id := range ids {
		c := lookup[id]
		v := values[i*stride:]
		c.Density = v[0]
		if mode == sim.TransferAll {
			c.Velocity = [3]float64{v[1], v[2], v[3]}
			c.MaxDiff = v[4]
		}
	}
}

// StartHaloExchange begins the asynchronous refresh of halo copies.
// Returns immediately; the payload snapshot is taken here, so local state
// must stay untouched until WaitHaloSends.
func (g *Grid) StartHaloExchange() {
	g.lastRecvCells = 0
	g.lastSendCells = 0
	for _, ids := range g.recvFrom {
		g.lastRecvCells += len(ids)
	}
	for _, rank := range sortedRanks(g.sendTo) {
		ids := g.sendTo[rank]
		g.lastSendCells += len(ids)
		buf := comm.EncodeFloat64s(haloValues(ids, g.local))
		g.pendingSends = append(g.pendingSends, g.comm.Isend(rank, tagHalo, buf))
	}
}

// WaitHaloReceives blocks until every halo copy holds the owning rank's
// current state. Halo data must not be read before this returns.
func (g *Grid) WaitHaloReceives() {
	for _, rank := range sortedRanks(g.recvFrom) {
		ids := g.recvFrom[rank]
		values := comm.DecodeFloat64s(g.comm.Recv(rank, tagHalo))
		for i, id := range ids {
			c := g.halo[id]
			v := values[4*i:]
			c.Density = v[0]
			c.Velocity = [3]float64{v[1], v[2], v[3]}
		}
	}
}

// WaitHaloSends blocks until all outgoing halo payloads have been handed
// off. Local cell state must not be mutated before this returns.
func (g *Grid) WaitHaloSends() {
	for _, req := range g.pendingSends {
		req.Wait()
	}
	g.pendingSends = g.pendingSends[:0]
}

// ExchangeCellCounts reports the cell counts of the most recent exchange.
func (g *Grid) ExchangeCellCounts() (received, sent int) {
	return g.lastRecvCells, g.lastSendCells
}

// ResyncHalos runs one full blocking halo update. Required after any
// operation that invalidates halo copies wholesale (initialization,
// adaptation during setup, load balancing).
func (g *Grid) ResyncHalos() {
	g.StartHaloExchange()
	g.WaitHaloReceives()
	g.WaitHaloSends()
}
