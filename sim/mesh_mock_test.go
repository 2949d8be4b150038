package sim

// testMesh is a hand-wired Mesh for kernel and classifier tests: fixed
// cells, fixed neighbor lists, no communication.
type testMesh struct {
	cells     []*Cell
	inner     []*Cell
	outer     []*Cell
	neighbors map[CellID][]*Neighbor
	maxLevel  int
	geom      Geometry
}

func (m *testMesh) Cells() []*Cell                  { return m.cells }
func (m *testMesh) InnerCells() []*Cell             { return m.inner }
func (m *testMesh) OuterCells() []*Cell             { return m.outer }
func (m *testMesh) Neighbors(id CellID) []*Neighbor { return m.neighbors[id] }
func (m *testMesh) StartHaloExchange()              {}
func (m *testMesh) WaitHaloReceives()               {}
func (m *testMesh) WaitHaloSends()                  {}
func (m *testMesh) ExchangeCellCounts() (int, int)  { return 0, 0 }
func (m *testMesh) Adapt(map[CellID]Classification, TransferMode) (uint64, uint64, error) {
	return 0, 0, nil
}
func (m *testMesh) Balance(TransferMode) error { return nil }
func (m *testMesh) ResyncHalos()               {}
func (m *testMesh) MaxRefinementLevel() int    { return m.maxLevel }
func (m *testMesh) Geometry() Geometry         { return m.geom }

// ring1D builds a periodic chain of n cells along x with unit cross
// section. innerSplit marks how many leading cells count as inner; the
// rest are outer.
func ring1D(n, innerSplit int, maxLevel int) *testMesh {
	h := 1.0 / float64(n)
	m := &testMesh{
		neighbors: make(map[CellID][]*Neighbor),
		maxLevel:  maxLevel,
		geom: Geometry{
			Level0CellLength: [3]float64{h, 1, 1},
			Length:           [3]uint64{uint64(n), 1, 1},
		},
	}
	for i := 0; i < n; i++ {
		m.cells = append(m.cells, &Cell{
			ID:     CellID(i + 1),
			Center: [3]float64{(float64(i) + 0.5) * h, 0.5, 0.5},
			Length: [3]float64{h, 1, 1},
		})
	}
	for i, c := range m.cells {
		left := m.cells[(i-1+n)%n]
		right := m.cells[(i+1)%n]
		m.neighbors[c.ID] = []*Neighbor{
			{Cell: left, Axis: 0, Sign: -1, FaceArea: 1},
			{Cell: right, Axis: 0, Sign: 1, FaceArea: 1},
		}
	}
	m.inner = m.cells[:innerSplit]
	m.outer = m.cells[innerSplit:]
	return m
}

// totalMass integrates density over all cells.
func totalMass(m Mesh) float64 {
	var mass float64
	for _, c := range m.Cells() {
		mass += c.Density * c.Volume()
	}
	return mass
}
