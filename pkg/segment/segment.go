// Package segment implements code block segmentation and base graph
// selection for the NR LDPC transport channel (TS 38.212 5.2.2, 7.2.2).
package segment

import (
	"errors"
	"fmt"

	"github.com/dbehnke/nr-codec/pkg/crc"
	"github.com/dbehnke/nr-codec/pkg/ldpc"
)

var (
	// ErrUnaligned is returned when the segments would not start on byte
	// boundaries. Transport block sizes from TBS tables always align.
	ErrUnaligned = errors.New("segment: code block size not byte aligned")
	// ErrNoLiftingSize is returned when no lifting size covers the block.
	ErrNoLiftingSize = errors.New("segment: no lifting size fits")
	// ErrCapacity is returned when C exceeds the process capacity.
	ErrCapacity = errors.New("segment: segment count exceeds capacity")
)

// Maximum code block sizes per base graph.
const (
	MaxBlockBG1 = 8448
	MaxBlockBG2 = 3840
)

// LiftingSizes is the sorted set of lifting sizes from TS 38.212 table 5.3.2-1.
var LiftingSizes = []int{
	2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 18, 20, 22, 24, 26, 28, 30, 32,
	36, 40, 44, 48, 52, 56, 60, 64, 72, 80, 88, 96, 104, 112, 120, 128, 144, 160, 176,
	192, 208, 224, 240, 256, 288, 320, 352, 384,
}

// Params describes how a CRC-attached transport block of B bits is split.
type Params struct {
	BG ldpc.BaseGraph
	B  int // CRC-attached transport block bits
	C  int // number of code blocks
	L  int // per-segment CRC length (0 or 24)
	// KPrime is the bits per segment carrying data and the segment CRC.
	KPrime int
	K      int // bits per segment after filler insertion
	F      int // filler bits per segment
	Z      int // lifting size
	Kb     int // systematic columns used for lifting size selection
}

// PayloadBytes returns the transport block bytes carried by each segment.
func (p Params) PayloadBytes() int {
	return (p.KPrime - p.L) / 8
}

// SegmentBytes returns the size of a segment buffer holding K bits.
func (p Params) SegmentBytes() int {
	return (p.K + 7) / 8
}

// SelectBaseGraph picks BG1 or BG2 for a payload of a bits at the given
// code rate (TS 38.212 7.2.2).
func SelectBaseGraph(a int, rate float64) ldpc.BaseGraph {
	if a <= 292 || (a <= 3824 && rate <= 0.67) || rate <= 0.25 {
		return ldpc.BG2
	}
	return ldpc.BG1
}

// Compute derives the segmentation of B bits for base graph bg.
func Compute(b int, bg ldpc.BaseGraph) (Params, error) {
	p := Params{BG: bg, B: b}

	kcb := MaxBlockBG1
	if bg == ldpc.BG2 {
		kcb = MaxBlockBG2
	}

	bPrime := b
	if b <= kcb {
		p.C = 1
	} else {
		p.L = 24
		p.C = (b + kcb - p.L - 1) / (kcb - p.L)
		bPrime = b + p.C*p.L
	}

	if bPrime%(8*p.C) != 0 {
		return Params{}, fmt.Errorf("%w: B=%d C=%d", ErrUnaligned, b, p.C)
	}
	p.KPrime = bPrime / p.C

	switch {
	case bg == ldpc.BG1:
		p.Kb = 22
	case b > 640:
		p.Kb = 10
	case b > 560:
		p.Kb = 9
	case b > 192:
		p.Kb = 8
	default:
		p.Kb = 6
	}

	for _, z := range LiftingSizes {
		if p.Kb*z >= p.KPrime {
			p.Z = z
			break
		}
	}
	if p.Z == 0 {
		return Params{}, fmt.Errorf("%w: K'=%d", ErrNoLiftingSize, p.KPrime)
	}

	p.K = bg.SystematicColumns() * p.Z
	p.F = p.K - p.KPrime
	return p, nil
}

// Split copies the CRC-attached block b into C segment buffers of K bits
// each. When C > 1 every segment gets a CRC24B over its data bits. Filler
// positions are left zero.
func Split(b []byte, p Params) [][]byte {
	segs := make([][]byte, p.C)
	for r := range segs {
		segs[r] = make([]byte, p.SegmentBytes())
	}
	SplitInto(segs, b, p)
	return segs
}

// SplitInto is Split writing into preallocated segment buffers of at least
// SegmentBytes each.
func SplitInto(segs [][]byte, b []byte, p Params) {
	data := p.PayloadBytes()
	for r := 0; r < p.C; r++ {
		seg := segs[r][:p.SegmentBytes()]
		clear(seg)
		copy(seg, b[r*data:(r+1)*data])
		if p.L > 0 {
			sum := crc.Compute(crc.CRC24B, seg[:data])
			seg[data] = byte(sum >> 16)
			seg[data+1] = byte(sum >> 8)
			seg[data+2] = byte(sum)
		}
	}
}

// Capacity returns the segment capacity to allocate per HARQ process for
// an allocation of rbs resource blocks and the given layer count. The
// per-layer figure covers a full 273 RB carrier.
func Capacity(rbs, layers int) int {
	n := MaxSegmentsPerLayer * layers
	if rbs != MaxRBs {
		n = n*rbs/MaxRBs + 1
	}
	return n
}

const (
	// MaxSegmentsPerLayer bounds C per layer on a full carrier.
	MaxSegmentsPerLayer = 34
	// MaxRBs is the largest NR carrier in resource blocks.
	MaxRBs = 273
)
