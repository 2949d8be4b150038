package dgrid

import (
	"sort"

	"github.com/amrvect/amrvect/sim"
	"github.com/amrvect/amrvect/sim/comm"
)

// Adapt refines and unrefines cells according to the per-cell
// classification. The call is collective: all ranks exchange their local
// decisions, compute the identical global adaptation plan on the
// replicated topology, and apply their own share of it. Returned counts
// cover cells created and removed on this rank, parents included.
func (g *Grid) Adapt(decisions map[sim.CellID]sim.Classification, mode sim.TransferMode) (created, removed uint64, err error) {
	global := g.gatherDecisions(decisions)

	refine := g.induceRefines(global)
	parents := g.eligibleUnrefines(global, refine)
	if len(refine) == 0 && len(parents) == 0 {
		return 0, 0, nil
	}

	c1, r1 := g.applyRefines(refine)
	c2, r2 := g.applyUnrefines(parents, mode)
	g.rebuildTopology()
	return c1 + c2, r1 + r2, nil
}

// gatherDecisions merges every rank's classification map. Each cell is
// classified by its owner only, so the merge cannot conflict.
func (g *Grid) gatherDecisions(decisions map[sim.CellID]sim.Classification) map[sim.CellID]sim.Classification {
	ids := sortedIDs(decisions)
	words := make([]uint64, 0, 2*len(ids))
	for _, id := range ids {
		words = append(words, uint64(id), uint64(decisions[id]))
	}
	parts := g.comm.AllGatherBytes(comm.EncodeUint64s(words))

	global := make(map[sim.CellID]sim.Classification)
	for _, part := range parts {
		values := comm.DecodeUint64s(part)
		for i := 0; i+1 < len(values); i += 2 {
			global[sim.CellID(values[i])] = sim.Classification(values[i+1])
		}
	}
	return global
}

// induceRefines expands the refine set until no refined cell would sit
// next to a neighbor more than one level coarser.
func (g *Grid) induceRefines(global map[sim.CellID]sim.Classification) map[sim.CellID]bool {
	refine := make(map[sim.CellID]bool)
	var queue []sim.CellID
	for id, tag := range global {
		if tag == sim.Refine && g.decode(id).level < g.opts.MaxRefinementLevel {
			refine[id] = true
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		level := g.decode(id).level
		for _, ref := range g.neighborsOf(g.decode(id)) {
			if g.decode(ref.id).level < level && !refine[ref.id] {
				refine[ref.id] = true
				queue = append(queue, ref.id)
			}
		}
	}
	return refine
}

// eligibleUnrefines returns the parents whose complete sibling sets agreed
// to unrefine and whose neighborhoods stay within one level of the parent.
func (g *Grid) eligibleUnrefines(global map[sim.CellID]sim.Classification, refine map[sim.CellID]bool) []sim.CellID {
	byParent := make(map[sim.CellID][]sim.CellID)
	for id, tag := range global {
		c := g.decode(id)
		if tag != sim.Unrefine || c.level == 0 || refine[id] {
			continue
		}
		pid := g.encode(g.parentOf(c))
		byParent[pid] = append(byParent[pid], id)
	}

	var parents []sim.CellID
	for _, pid := range sortedIDs(byParent) {
		siblings := g.childIDs(pid)
		ok := true
		for _, cid := range siblings {
			if !g.exists(cid) || global[cid] != sim.Unrefine || refine[cid] {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		// The merged parent must not end up two levels coarser than
		// any neighbor, accounting for refines in the same cycle.
		level := g.decode(siblings[0]).level
		isSibling := make(map[sim.CellID]bool, len(siblings))
		for _, cid := range siblings {
			isSibling[cid] = true
		}
		for _, cid := range siblings {
			for _, ref := range g.neighborsOf(g.decode(cid)) {
				if isSibling[ref.id] {
					continue
				}
				effective := g.decode(ref.id).level
				if refine[ref.id] {
					effective++
				}
				if effective > level {
					ok = false
					break
				}
			}
			if !ok {
				break
			}
		}
		if ok {
			parents = append(parents, pid)
		}
	}
	sort.Slice(parents, func(i, j int) bool { return parents[i] < parents[j] })
	return parents
}

func (g *Grid) childIDs(pid sim.CellID) []sim.CellID {
	coords := g.childrenOf(g.decode(pid))
	ids := make([]sim.CellID, len(coords))
	for i, c := range coords {
		ids[i] = g.encode(c)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// applyRefines replaces each refined cell with its children. Children stay
// on the parent's rank and inherit its state; ids ascend with level, so
// coarser cells are processed first.
func (g *Grid) applyRefines(refine map[sim.CellID]bool) (created, removed uint64) {
	me := g.comm.Rank()
	for _, id := range sortedIDs(refine) {
		owner := g.owners[id]
		delete(g.owners, id)
		children := g.childIDs(id)
		for _, cid := range children {
			g.owners[cid] = owner
		}
		if owner != me {
			continue
		}
		parent := g.local[id]
		delete(g.local, id)
		for _, cid := range children {
			cell := g.newCell(g.decode(cid))
			cell.Density = parent.Density
			cell.Velocity = parent.Velocity
			cell.MaxDiff = parent.MaxDiff
			g.local[cid] = cell
		}
		created += uint64(len(children))
		removed++
	}
	return created, removed
}

// applyUnrefines merges each agreed sibling set into its parent on the
// rank owning the first sibling. Remote sibling state is shuttled over
// with the requested transfer mode; the parent takes the sibling average,
// which conserves total mass for equal-volume siblings.
func (g *Grid) applyUnrefines(parents []sim.CellID, mode sim.TransferMode) (created, removed uint64) {
	me := g.comm.Rank()

	// Post all outgoing sibling payloads first; FIFO channels and the
	// shared deterministic parent order keep the pairs matched.
	var sends []*comm.Request
	for _, pid := range parents {
		children := g.childIDs(pid)
		newOwner := g.owners[children[0]]
		for _, cid := range children {
			if g.owners[cid] == me && newOwner != me {
				buf := comm.EncodeFloat64s(migrateValues([]sim.CellID{cid}, g.local, mode))
				sends = append(sends, g.comm.Isend(newOwner, tagAdapt, buf))
			}
		}
	}

	for _, pid := range parents {
		children := g.childIDs(pid)
		newOwner := g.owners[children[0]]

		var density, vx, vy, vz float64
		var velocityCount int
		for _, cid := range children {
			owner := g.owners[cid]
			if newOwner == me {
				var values []float64
				if owner == me {
					values = migrateValues([]sim.CellID{cid}, g.local, mode)
				} else {
					values = comm.DecodeFloat64s(g.comm.Recv(owner, tagAdapt))
				}
				density += values[0]
				if mode == sim.TransferAll {
					vx += values[1]
					vy += values[2]
					vz += values[3]
					velocityCount++
				}
			}
			if owner == me {
				delete(g.local, cid)
				removed++
			}
			delete(g.owners, cid)
		}

		g.owners[pid] = newOwner
		if newOwner == me {
			parent := g.newCell(g.decode(pid))
			n := float64(len(children))
			parent.Density = density / n
			if velocityCount > 0 {
				parent.Velocity = [3]float64{vx / n, vy / n, vz / n}
			}
			g.local[pid] = parent
			created++
		}
	}

	for _, req := range sends {
		req.Wait()
	}
	return created, removed
}
