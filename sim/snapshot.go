package sim

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/amrvect/amrvect/sim/comm"
)

// SnapshotHeader is the fixed-size prefix of a snapshot file, written
// little-endian field by field in declaration order. After the header the
// file holds one (cell id, density) pair per cell, sorted by id.
type SnapshotHeader struct {
	Step               uint64
	Start              [3]float64
	CellLength         [3]float64
	Length             [3]uint64
	MaxRefinementLevel int32
}

// SnapshotFileName derives the output path for one snapshot: the prefix
// followed by simulated time in microseconds, zero-padded to keep files
// lexically ordered.
func SnapshotFileName(prefix string, time float64) string {
	return fmt.Sprintf("%s%07d.dat", prefix, int64(time*1e6))
}

// WriteSnapshot gathers the full field state onto rank 0 and writes one
// snapshot file. Collective: every rank must call it; only rank 0 touches
// the filesystem. Errors on rank 0 are returned there and nil elsewhere,
// so callers must run the result through an agreement before aborting.
func WriteSnapshot(name string, step uint64, m Mesh, c *comm.Comm) error {
	cells := m.Cells()
	payload := make([]byte, 0, 16*len(cells))
	for _, cell := range cells {
		var buf [16]byte
		binary.LittleEndian.PutUint64(buf[0:], uint64(cell.ID))
		binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(cell.Density))
		payload = append(payload, buf[:]...)
	}
	parts := c.AllGatherBytes(payload)
	if c.Rank() != 0 {
		return nil
	}

	type record struct {
		id      uint64
		density uint64
	}
	var records []record
	for _, part := range parts {
		for off := 0; off+16 <= len(part); off += 16 {
			records = append(records, record{
				id:      binary.LittleEndian.Uint64(part[off:]),
				density: binary.LittleEndian.Uint64(part[off+8:]),
			})
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].id < records[j].id })

	geom := m.Geometry()
	header := SnapshotHeader{
		Step:               step,
		Start:              geom.Start,
		CellLength:         geom.Level0CellLength,
		Length:             geom.Length,
		MaxRefinementLevel: int32(m.MaxRefinementLevel()),
	}

	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("creating snapshot %s: %w", name, err)
	}
	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		f.Close()
		return fmt.Errorf("writing snapshot header: %w", err)
	}
	for _, rec := range records {
		if err := binary.Write(w, binary.LittleEndian, [2]uint64{rec.id, rec.density}); err != nil {
			f.Close()
			return fmt.Errorf("writing snapshot cells: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flushing snapshot %s: %w", name, err)
	}
	return f.Close()
}

// ReadSnapshotHeader parses the header of a snapshot file; used by tests
// and external tooling.
func ReadSnapshotHeader(name string) (SnapshotHeader, error) {
	f, err := os.Open(name)
	if err != nil {
		return SnapshotHeader{}, err
	}
	defer f.Close()
	var header SnapshotHeader
	if err := binary.Read(f, binary.LittleEndian, &header); err != nil {
		return SnapshotHeader{}, fmt.Errorf("reading snapshot header: %w", err)
	}
	return header, nil
}
