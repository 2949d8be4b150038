// Package comm provides in-process message passing between the ranks of a
// simulation run. Each rank is a goroutine; ranks exchange byte payloads
// over per-pair FIFO channels and synchronize through collective
// reductions. The call sequence is lock-step by contract: every rank must
// reach each collective and each matched point-to-point operation in the
// same order, and a stalled rank stalls the whole group.
package comm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Op selects the reduction applied by collectives.
type Op int

const (
	Min Op = iota
	Max
	Sum
)

// Tag distinguishes message streams between the same pair of ranks.
type Tag int

type message struct {
	tag     Tag
	payload []byte
}

// Group owns the channels of one communicator. Create it once, then hand
// each rank goroutine its own *Comm via Rank.
type Group struct {
	size int
	// p2p[dst][src] carries point-to-point traffic, coll[dst][src] the
	// collective protocol, so in-flight halo data can never be confused
	// with a reduction.
	p2p  [][]chan message
	coll [][]chan message
}

// NewGroup creates a communicator group for the given number of ranks.
func NewGroup(size int) *Group {
	if size < 1 {
		panic(fmt.Sprintf("comm: group size must be >= 1, got %d", size))
	}
	mk := func() [][]chan message {
		chans := make([][]chan message, size)
		for dst := range chans {
			chans[dst] = make([]chan message, size)
			for src := range chans[dst] {
				chans[dst][src] = make(chan message, 16)
			}
		}
		return chans
	}
	return &Group{size: size, p2p: mk(), coll: mk()}
}

// Rank returns the communicator endpoint for one rank.
func (g *Group) Rank(rank int) *Comm {
	if rank < 0 || rank >= g.size {
		panic(fmt.Sprintf("comm: rank %d out of range [0, %d)", rank, g.size))
	}
	return &Comm{g: g, rank: rank}
}

// Comm is one rank's endpoint. Not safe for concurrent use by multiple
// goroutines; each rank goroutine owns exactly one.
type Comm struct {
	g    *Group
	rank int
}

func (c *Comm) Rank() int { return c.rank }
func (c *Comm) Size() int { return c.g.size }

// Request tracks an asynchronous send. Wait blocks until the payload has
// been handed off to the destination's mailbox; only then may the caller
// reuse or mutate the buffer it sent.
type Request struct {
	done chan struct{}
}

// Wait blocks until the send has completed.
func (r *Request) Wait() {
	<-r.done
}

// Isend starts an asynchronous send to dst and returns immediately.
func (c *Comm) Isend(dst int, tag Tag, payload []byte) *Request {
	req := &Request{done: make(chan struct{})}
	ch := c.g.p2p[dst][c.rank]
	go func() {
		ch <- message{tag: tag, payload: payload}
		close(req.done)
	}()
	return req
}

// Recv blocks until the next message from src arrives and checks that it
// carries the expected tag. A mismatch means the group has diverged from
// the lock-step protocol, which is unrecoverable.
func (c *Comm) Recv(src int, tag Tag) []byte {
	msg := <-c.g.p2p[c.rank][src]
	if msg.tag != tag {
		panic(fmt.Sprintf("comm: rank %d expected tag %d from %d, got %d (collective sequence mismatch)",
			c.rank, tag, src, msg.tag))
	}
	return msg.payload
}

const collTag Tag = -1

func (c *Comm) collSend(dst int, payload []byte) {
	c.g.coll[dst][c.rank] <- message{tag: collTag, payload: payload}
}

func (c *Comm) collRecv(src int) []byte {
	return (<-c.g.coll[c.rank][src]).payload
}

// fanInOut runs the generic root-based collective: every rank contributes
// a payload, rank 0 combines the contributions and every rank receives the
// combined result.
func (c *Comm) fanInOut(contrib []byte, combine func(parts [][]byte) []byte) []byte {
	if c.g.size == 1 {
		return combine([][]byte{contrib})
	}
	if c.rank == 0 {
		parts := make([][]byte, c.g.size)
		parts[0] = contrib
		for src := 1; src < c.g.size; src++ {
			parts[src] = c.collRecv(src)
		}
		result := combine(parts)
		for dst := 1; dst < c.g.size; dst++ {
			c.collSend(dst, result)
		}
		return result
	}
	c.collSend(0, contrib)
	return c.collRecv(0)
}

// AllReduceFloat64 reduces one float64 across all ranks; every rank
// receives the identical result.
func (c *Comm) AllReduceFloat64(x float64, op Op) float64 {
	result := c.fanInOut(EncodeFloat64s([]float64{x}), func(parts [][]byte) []byte {
		acc := DecodeFloat64s(parts[0])[0]
		for _, p := range parts[1:] {
			v := DecodeFloat64s(p)[0]
			switch op {
			case Min:
				acc = math.Min(acc, v)
			case Max:
				acc = math.Max(acc, v)
			case Sum:
				acc += v
			}
		}
		return EncodeFloat64s([]float64{acc})
	})
	return DecodeFloat64s(result)[0]
}

// AllReduceUint64 reduces one uint64 across all ranks.
func (c *Comm) AllReduceUint64(x uint64, op Op) uint64 {
	result := c.fanInOut(EncodeUint64s([]uint64{x}), func(parts [][]byte) []byte {
		acc := DecodeUint64s(parts[0])[0]
		for _, p := range parts[1:] {
			v := DecodeUint64s(p)[0]
			switch op {
			case Min:
				if v < acc {
					acc = v
				}
			case Max:
				if v > acc {
					acc = v
				}
			case Sum:
				acc += v
			}
		}
		return EncodeUint64s([]uint64{acc})
	})
	return DecodeUint64s(result)[0]
}

// GatherFloat64 collects one float64 per rank, indexed by rank. Every rank
// receives the full vector.
func (c *Comm) GatherFloat64(x float64) []float64 {
	result := c.fanInOut(EncodeFloat64s([]float64{x}), func(parts [][]byte) []byte {
		all := make([]float64, 0, len(parts))
		for _, p := range parts {
			all = append(all, DecodeFloat64s(p)[0])
		}
		return EncodeFloat64s(all)
	})
	return DecodeFloat64s(result)
}

// AllGatherBytes collects one opaque payload per rank, indexed by rank.
// Every rank receives all payloads.
func (c *Comm) AllGatherBytes(payload []byte) [][]byte {
	result := c.fanInOut(payload, func(parts [][]byte) []byte {
		return packBytes(parts)
	})
	return unpackBytes(result, c.g.size)
}

// Barrier blocks until every rank has entered it.
func (c *Comm) Barrier() {
	c.AllReduceUint64(0, Sum)
}

// AgreeOK reduces a local success flag to a global verdict. Errors are
// detected locally but must be agreed before any rank aborts, so the
// collective call sequence stays matched on every rank.
func (c *Comm) AgreeOK(ok bool) bool {
	v := uint64(1)
	if !ok {
		v = 0
	}
	return c.AllReduceUint64(v, Min) == 1
}

// EncodeFloat64s serializes values little-endian.
func EncodeFloat64s(values []float64) []byte {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

// DecodeFloat64s deserializes a buffer produced by EncodeFloat64s.
func DecodeFloat64s(buf []byte) []float64 {
	values := make([]float64, len(buf)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return values
}

// EncodeUint64s serializes values little-endian.
func EncodeUint64s(values []uint64) []byte {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], v)
	}
	return buf
}

// DecodeUint64s deserializes a buffer produced by EncodeUint64s.
func DecodeUint64s(buf []byte) []uint64 {
	values := make([]uint64, len(buf)/8)
	for i := range values {
		values[i] = binary.LittleEndian.Uint64(buf[8*i:])
	}
	return values
}

func packBytes(parts [][]byte) []byte {
	total := 8 * len(parts)
	for _, p := range parts {
		total += len(p)
	}
	buf := make([]byte, 0, total)
	for _, p := range parts {
		var hdr [8]byte
		binary.LittleEndian.PutUint64(hdr[:], uint64(len(p)))
		buf = append(buf, hdr[:]...)
		buf = append(buf, p...)
	}
	return buf
}

func unpackBytes(buf []byte, n int) [][]byte {
	parts := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		size := binary.LittleEndian.Uint64(buf[:8])
		buf = buf[8:]
		parts = append(parts, buf[:size])
		buf = buf[size:]
	}
	return parts
}
