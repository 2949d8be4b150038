package dgrid

import (
	"sort"

	"github.com/amrvect/amrvect/sim"
)

// faceArea returns the area of a cell face normal to axis at the given
// refinement level.
func (g *Grid) faceArea(level int, axis int) float64 {
	l := g.cellLength(level)
	area := 1.0
	for a := 0; a < 3; a++ {
		if a != axis {
			area *= l[a]
		}
	}
	return area
}

// shift moves a same-level coordinate by delta along axis, honoring
// periodic wrapping. ok is false when the move leaves a non-periodic grid.
func (g *Grid) shift(c coord, axis, delta int) (coord, bool) {
	nx, ny, nz := g.dims(c.level)
	n := [3]uint64{nx, ny, nz}
	idx := [3]uint64{c.ix, c.iy, c.iz}
	moved := int64(idx[axis]) + int64(delta)
	if g.opts.Periodic[axis] {
		m := int64(n[axis])
		moved = ((moved % m) + m) % m
	} else if moved < 0 || moved >= int64(n[axis]) {
		return coord{}, false
	}
	idx[axis] = uint64(moved)
	return coord{level: c.level, ix: idx[0], iy: idx[1], iz: idx[2]}, true
}

func (g *Grid) parentOf(c coord) coord {
	p := coord{level: c.level - 1, ix: c.ix, iy: c.iy, iz: c.iz}
	if g.split[0] {
		p.ix >>= 1
	}
	if g.split[1] {
		p.iy >>= 1
	}
	if g.split[2] {
		p.iz >>= 1
	}
	return p
}

// childrenOf enumerates the child coordinates of a cell, one per
// combination of the split axes.
func (g *Grid) childrenOf(c coord) []coord {
	children := []coord{{level: c.level + 1, ix: c.ix, iy: c.iy, iz: c.iz}}
	for axis := 0; axis < 3; axis++ {
		if !g.split[axis] {
			continue
		}
		next := make([]coord, 0, 2*len(children))
		for _, ch := range children {
			idx := [3]uint64{ch.ix, ch.iy, ch.iz}
			idx[axis] *= 2
			for off := uint64(0); off < 2; off++ {
				v := ch
				switch axis {
				case 0:
					v.ix = idx[0] + off
				case 1:
					v.iy = idx[1] + off
				case 2:
					v.iz = idx[2] + off
				}
				next = append(next, v)
			}
		}
		children = next
	}
	return children
}

func (g *Grid) exists(id sim.CellID) bool {
	_, ok := g.owners[id]
	return ok
}

// resolveFace finds the neighbor(s) across one face of a cell. With at
// most one refinement level between adjacent cells the face is covered by
// exactly one of: a same-level cell, its parent, or its children.
func (g *Grid) resolveFace(c coord, axis, sign int) []neighborRef {
	target, ok := g.shift(c, axis, sign)
	if !ok {
		return nil
	}
	if id := g.encode(target); g.exists(id) {
		return []neighborRef{{id: id, axis: axis, sign: sign, faceArea: g.faceArea(c.level, axis)}}
	}
	if target.level > 0 {
		if id := g.encode(g.parentOf(target)); g.exists(id) {
			// Coarser neighbor: the shared face is this cell's own.
			return []neighborRef{{id: id, axis: axis, sign: sign, faceArea: g.faceArea(c.level, axis)}}
		}
	}
	if target.level >= g.opts.MaxRefinementLevel {
		return nil
	}
	// Finer neighbors: the children of the target that touch the shared
	// face. On the face axis that is the near side only.
	var refs []neighborRef
	near := uint64(0)
	if g.split[axis] && sign < 0 {
		near = 1
	}
	for _, ch := range g.childrenOf(target) {
		if g.split[axis] {
			idx := [3]uint64{ch.ix, ch.iy, ch.iz}
			if idx[axis]%2 != near {
				continue
			}
		}
		if id := g.encode(ch); g.exists(id) {
			refs = append(refs, neighborRef{id: id, axis: axis, sign: sign, faceArea: g.faceArea(target.level+1, axis)})
		}
	}
	return refs
}

// resolveOffset finds the neighbors occupying a same-level Chebyshev
// offset. A slot refined away still lies entirely inside the neighborhood
// volume, so every existing child qualifies; across a coarser boundary the
// parent stands in.
func (g *Grid) resolveOffset(c coord, d [3]int) []sim.CellID {
	target := c
	for axis := 0; axis < 3; axis++ {
		if d[axis] == 0 {
			continue
		}
		var ok bool
		target, ok = g.shift(target, axis, d[axis])
		if !ok {
			return nil
		}
	}
	if id := g.encode(target); g.exists(id) {
		return []sim.CellID{id}
	}
	if target.level > 0 {
		if id := g.encode(g.parentOf(target)); g.exists(id) {
			return []sim.CellID{id}
		}
	}
	if target.level >= g.opts.MaxRefinementLevel {
		return nil
	}
	var ids []sim.CellID
	for _, ch := range g.childrenOf(target) {
		if id := g.encode(ch); g.exists(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// neighborsOf resolves the full neighbor list of a cell from the
// replicated topology.
func (g *Grid) neighborsOf(c coord) []neighborRef {
	nx, ny, nz := g.dims(c.level)
	extent := [3]uint64{nx, ny, nz}

	if g.opts.NeighborhoodLength == 0 {
		var refs []neighborRef
		for axis := 0; axis < 3; axis++ {
			if extent[axis] <= 1 {
				continue
			}
			for _, sign := range []int{-1, 1} {
				refs = append(refs, g.resolveFace(c, axis, sign)...)
			}
		}
		return refs
	}

	n := g.opts.NeighborhoodLength
	seen := make(map[sim.CellID]bool)
	var refs []neighborRef
	// Face offsets resolve first so a neighbor reachable both across a
	// face and diagonally keeps its face metadata; the flux kernel skips
	// entries without it.
	for axis := 0; axis < 3; axis++ {
		if extent[axis] <= 1 {
			continue
		}
		for _, sign := range []int{-1, 1} {
			for _, ref := range g.resolveFace(c, axis, sign) {
				if !seen[ref.id] {
					seen[ref.id] = true
					refs = append(refs, ref)
				}
			}
		}
	}
	var d [3]int
	for d[0] = -n; d[0] <= n; d[0]++ {
		for d[1] = -n; d[1] <= n; d[1]++ {
			for d[2] = -n; d[2] <= n; d[2]++ {
				if d == ([3]int{}) || isUnitFaceOffset(d) {
					continue
				}
				skip := false
				for axis := 0; axis < 3; axis++ {
					if d[axis] != 0 && extent[axis] <= 1 {
						skip = true
					}
				}
				if skip {
					continue
				}
				for _, id := range g.resolveOffset(c, d) {
					if !seen[id] {
						seen[id] = true
						refs = append(refs, neighborRef{id: id, axis: -1})
					}
				}
			}
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].id < refs[j].id })
	return refs
}

func isUnitFaceOffset(d [3]int) bool {
	nonZero := 0
	for _, v := range d {
		if v != 0 {
			nonZero++
		}
	}
	return nonZero == 1 && maxAbs(d) == 1
}

func maxAbs(d [3]int) int {
	m := 0
	for _, v := range d {
		if v < 0 {
			v = -v
		}
		if v > m {
			m = v
		}
	}
	return m
}

// rebuildTopology refreshes every derived cache: the sorted cell list, the
// per-cell neighbor lists, the halo send/receive sets and the inner/outer
// split. Must run after construction, adaptation and balancing.
func (g *Grid) rebuildTopology() {
	g.cellList = make([]*sim.Cell, 0, len(g.local))
	for _, id := range sortedIDs(g.local) {
		g.cellList = append(g.cellList, g.local[id])
	}

	g.neighbors = make(map[sim.CellID][]neighborRef, len(g.local))
	recvSets := make(map[int]map[sim.CellID]struct{})
	me := g.comm.Rank()

	g.inner = g.inner[:0]
	g.outer = g.outer[:0]
	for _, cell := range g.cellList {
		refs := g.neighborsOf(g.decode(cell.ID))
		g.neighbors[cell.ID] = refs
		isOuter := false
		for _, ref := range refs {
			owner := g.owners[ref.id]
			if owner == me {
				continue
			}
			isOuter = true
			if recvSets[owner] == nil {
				recvSets[owner] = make(map[sim.CellID]struct{})
			}
			recvSets[owner][ref.id] = struct{}{}
		}
		if isOuter {
			g.outer = append(g.outer, cell)
		} else {
			g.inner = append(g.inner, cell)
		}
	}

	// Send sets come from the readers' side: once levels mix inside a
	// wide neighborhood the relation is not symmetric, so each rank
	// recomputes the remote cells' neighbor lists from the replicated
	// topology and serves exactly what those ranks will wait for.
	sendSets := make(map[int]map[sim.CellID]struct{})
	for id, owner := range g.owners {
		if owner == me {
			continue
		}
		for _, ref := range g.neighborsOf(g.decode(id)) {
			if _, ok := g.local[ref.id]; !ok {
				continue
			}
			if sendSets[owner] == nil {
				sendSets[owner] = make(map[sim.CellID]struct{})
			}
			sendSets[owner][ref.id] = struct{}{}
		}
	}

	g.recvFrom = make(map[int][]sim.CellID, len(recvSets))
	g.sendTo = make(map[int][]sim.CellID, len(sendSets))
	newHalo := make(map[sim.CellID]*sim.Cell)
	for rank, set := range recvSets {
		ids := sortedIDs(set)
		g.recvFrom[rank] = ids
		for _, id := range ids {
			if old, ok := g.halo[id]; ok {
				newHalo[id] = old
			} else {
				newHalo[id] = g.newCell(g.decode(id))
			}
		}
	}
	for rank, set := range sendSets {
		g.sendTo[rank] = sortedIDs(set)
	}
	g.halo = newHalo
}
