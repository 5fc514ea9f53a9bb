// Package harq holds the per-process state and buffers of the hybrid ARQ
// entity and the indication delivered to the MAC when an attempt completes.
package harq

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dbehnke/nr-codec/pkg/fixedpoint"
	"github.com/dbehnke/nr-codec/pkg/ldpc"
	"github.com/dbehnke/nr-codec/pkg/segment"
)

var (
	ErrUnknownProcess = errors.New("harq: unknown process")
	ErrProcessBusy    = errors.New("harq: process busy")
	ErrClosed         = errors.New("harq: entity closed")
)

// Status of a HARQ process.
type Status int

const (
	Idle Status = iota
	Active
)

func (s Status) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Direction selects which buffers a process carries.
type Direction int

const (
	Transmit Direction = iota
	Receive
)

func (d Direction) String() string {
	if d == Receive {
		return "rx"
	}
	return "tx"
}

// Per-segment buffer sizes for the largest lifting size.
const (
	maxSegmentBytes = segment.MaxBlockBG1 / 8
	maxCodewordBits = 68 * ldpc.MaxLiftingSize
)

// MaxRounds is the number of distinct redundancy versions.
const MaxRounds = 4

var rvRound = [MaxRounds]int{0, 3, 1, 2}
var roundRV = [MaxRounds]int{0, 2, 3, 1}

// RoundForRV maps a redundancy version index to the retransmission round.
func RoundForRV(rv int) int {
	return rvRound[rv&3]
}

// RVForRound returns the redundancy version used for a round.
func RVForRound(round int) int {
	return roundRV[round%MaxRounds]
}

// Process is one HARQ process. Only the goroutine holding the process
// (see TryAcquire) touches the scalar fields; segment slots are written by
// the worker handling that segment.
type Process struct {
	ID        int
	RNTI      uint16
	Direction Direction

	// Transport block parameters of the current attempt.
	A          int
	Qm         int
	Layers     int
	RBs        int
	TargetRate int
	RV         int
	NDI        int
	Seg        segment.Params

	Status            Status
	Round             int
	ProcessedSegments int
	LastIterations    int
	NewRx             bool

	// Block holds the CRC-attached transport block (B bits); the payload
	// is its first A bits.
	Block       []byte
	Segments    [][]byte
	Coded       [][]uint8
	Soft        [][]fixedpoint.LLR
	SoftValid   []bool
	RateMatched []uint8
	// Input is the receive side copy of the LLRs of the current attempt.
	Input []fixedpoint.LLR

	capacity int
	firstTx  bool
	busy     atomic.Bool
}

func newProcess(id int, rnti uint16, dir Direction, capacity int) *Process {
	p := &Process{
		ID:        id,
		RNTI:      rnti,
		Direction: dir,
		capacity:  capacity,
		firstTx:   true,
		Block:     make([]byte, 0, capacity*maxSegmentBytes),
		Segments:  make([][]byte, capacity),
	}
	if dir == Transmit {
		p.Coded = make([][]uint8, capacity)
	} else {
		p.Soft = make([][]fixedpoint.LLR, capacity)
		p.SoftValid = make([]bool, capacity)
	}
	return p
}

// Capacity returns the maximum number of segments the process can hold.
func (p *Process) Capacity() int {
	return p.capacity
}

// TryAcquire marks the process as having an attempt in flight. It returns
// false if another attempt already holds it.
func (p *Process) TryAcquire() bool {
	return p.busy.CompareAndSwap(false, true)
}

// Release ends the attempt started by TryAcquire.
func (p *Process) Release() {
	p.busy.Store(false)
}

// Busy reports whether an attempt is in flight.
func (p *Process) Busy() bool {
	return p.busy.Load()
}

// BeginReceive applies the redundancy version and new data indicator of a
// reception. Round zero, or an NDI that differs from the stored one (the
// previous ACK/NACK exchange was missed), starts new data and discards the
// soft buffers.
func (p *Process) BeginReceive(rv, ndi int) {
	p.Round = RoundForRV(rv)
	p.RV = rv
	p.NewRx = false
	if p.Round == 0 {
		p.NewRx = true
		p.NDI = ndi
	}
	if ndi != p.NDI {
		p.NewRx = true
		p.NDI = ndi
	}
	if p.NewRx {
		clear(p.SoftValid)
	}
	p.Status = Active
	p.ProcessedSegments = 0
}

// BeginTransmit applies the NDI of a transmission and reports whether the
// payload must be segmented and encoded again. Retransmissions reuse the
// coded segments.
func (p *Process) BeginTransmit(rv, ndi int) bool {
	newData := p.firstTx || ndi != p.NDI
	p.firstTx = false
	p.NDI = ndi
	p.RV = rv
	p.Round = RoundForRV(rv)
	p.Status = Active
	return newData
}

// Finish records the outcome of an attempt. A successful attempt frees the
// process for new data; a failed one keeps it active with its buffers.
func (p *Process) Finish(ok bool) {
	if ok {
		p.Status = Idle
		p.Round = 0
	}
}

// CheckCapacity fails if c segments do not fit in the process.
func (p *Process) CheckCapacity(c int) error {
	if c > p.capacity {
		return fmt.Errorf("%w: C=%d capacity=%d", segment.ErrCapacity, c, p.capacity)
	}
	return nil
}

// Segment returns the buffer of segment r, allocating it on first use.
func (p *Process) Segment(r int) []byte {
	if p.Segments[r] == nil {
		p.Segments[r] = make([]byte, maxSegmentBytes)
	}
	return p.Segments[r]
}

// CodedSegment returns the codeword buffer of segment r.
func (p *Process) CodedSegment(r int) []uint8 {
	if p.Coded[r] == nil {
		p.Coded[r] = make([]uint8, maxCodewordBits)
	}
	return p.Coded[r]
}

// SoftSegment returns the circular soft buffer of segment r.
func (p *Process) SoftSegment(r int) []fixedpoint.LLR {
	if p.Soft[r] == nil {
		p.Soft[r] = make([]fixedpoint.LLR, maxCodewordBits)
	}
	return p.Soft[r]
}

// Payload returns the transport block payload of the last attempt.
func (p *Process) Payload() []byte {
	n := p.A / 8
	if n > len(p.Block) {
		n = len(p.Block)
	}
	return p.Block[:n]
}

// reset returns the scalar state to neutral values.
func (p *Process) reset() {
	p.A, p.Qm, p.Layers, p.RBs, p.TargetRate, p.RV = 0, 0, 0, 0, 0, 0
	p.Seg = segment.Params{}
	p.Status = Idle
	p.Round = 0
	p.ProcessedSegments = 0
	p.LastIterations = 0
	p.NewRx = false
	p.firstTx = true
	p.Block = p.Block[:0]
	clear(p.SoftValid)
}

func (p *Process) free() {
	p.reset()
	p.Block = nil
	p.Segments = nil
	p.Coded = nil
	p.Soft = nil
	p.SoftValid = nil
	p.RateMatched = nil
	p.Input = nil
}
