// Package ratematch implements LDPC rate matching (TS 38.212 5.4.2.1) and
// its receive-side inverse with soft combining across HARQ rounds.
package ratematch

import (
	"errors"
	"fmt"

	"github.com/dbehnke/nr-codec/pkg/fixedpoint"
	"github.com/dbehnke/nr-codec/pkg/ldpc"
)

// ErrInfeasible is returned for parameter combinations that cannot be
// rate matched.
var ErrInfeasible = errors.New("ratematch: infeasible parameters")

var k0Numerator = map[ldpc.BaseGraph][4]int{
	ldpc.BG1: {0, 17, 33, 56},
	ldpc.BG2: {0, 13, 25, 43},
}

// Params describes one code block.
type Params struct {
	BG ldpc.BaseGraph
	Z  int
	K  int // code block size including filler
	F  int // filler bits
	C  int // code blocks in the transport block
	RV int // redundancy version index 0..3
	E  int // rate matching output length
	// LBRMBytes limits the circular buffer (0 disables limited buffer
	// rate matching).
	LBRMBytes int
}

// BufferSize returns Ncb, the circular buffer length.
func BufferSize(bg ldpc.BaseGraph, z, c, lbrmBytes int) int {
	n := bg.CodewordBits(z)
	if lbrmBytes == 0 || c == 0 {
		return n
	}
	ref := 3 * lbrmBytes * 8 / (2 * c)
	return min(n, ref)
}

// StartPosition returns k0 for redundancy version rv.
func StartPosition(bg ldpc.BaseGraph, rv, ncb, z int) int {
	n := bg.CodewordBits(z)
	return k0Numerator[bg][rv] * ncb / n * z
}

// fillerOffset is the position of the first filler bit in the codeword
// once the two punctured columns are removed.
func (p Params) fillerOffset() int {
	return p.K - p.F - 2*p.Z
}

func (p Params) check(ncb int) error {
	switch {
	case p.C <= 0:
		return fmt.Errorf("%w: C=%d", ErrInfeasible, p.C)
	case !p.BG.Valid():
		return fmt.Errorf("%w: base graph %d", ErrInfeasible, int(p.BG))
	case p.Z <= 0 || p.Z > ldpc.MaxLiftingSize:
		return fmt.Errorf("%w: Z=%d", ErrInfeasible, p.Z)
	case p.RV < 0 || p.RV > 3:
		return fmt.Errorf("%w: rv=%d", ErrInfeasible, p.RV)
	case p.E <= 0:
		return fmt.Errorf("%w: E=%d", ErrInfeasible, p.E)
	case p.F < 0 || p.fillerOffset() < 0:
		return fmt.Errorf("%w: K=%d F=%d Z=%d", ErrInfeasible, p.K, p.F, p.Z)
	case p.fillerOffset() > p.E:
		return fmt.Errorf("%w: filler offset %d beyond E=%d", ErrInfeasible, p.fillerOffset(), p.E)
	case p.fillerOffset() > ncb:
		return fmt.Errorf("%w: filler offset %d beyond Ncb=%d", ErrInfeasible, p.fillerOffset(), ncb)
	case p.fillerOffset()+max(0, ncb-p.fillerOffset()-p.F) == 0:
		return fmt.Errorf("%w: no transmittable bits in Ncb=%d", ErrInfeasible, ncb)
	}
	return nil
}

// walk visits E circular buffer positions starting at k0, skipping filler.
func walk(p Params, ncb int, visit func(k, pos int)) {
	fillerStart := p.fillerOffset()
	fillerEnd := fillerStart + p.F
	pos := StartPosition(p.BG, p.RV, ncb, p.Z)
	for k := 0; k < p.E; {
		if pos < fillerStart || pos >= fillerEnd {
			visit(k, pos)
			k++
		}
		pos++
		if pos == ncb {
			pos = 0
		}
	}
}

// Match selects E bits from the code block d into e.
func Match(d []uint8, e []uint8, p Params) error {
	ncb := BufferSize(p.BG, p.Z, p.C, p.LBRMBytes)
	if err := p.check(ncb); err != nil {
		return err
	}
	if len(d) < ncb || len(e) < p.E {
		return fmt.Errorf("%w: buffers d=%d e=%d, need %d and %d", ErrInfeasible, len(d), len(e), ncb, p.E)
	}

	walk(p, ncb, func(k, pos int) {
		e[k] = d[pos]
	})
	return nil
}

// Recover accumulates E received soft values into the circular buffer w.
// With fresh set the buffer is zeroed first; otherwise the values retained
// from earlier rounds are combined with the new ones.
func Recover(w []fixedpoint.LLR, e []fixedpoint.LLR, fresh bool, p Params) error {
	ncb := BufferSize(p.BG, p.Z, p.C, p.LBRMBytes)
	if err := p.check(ncb); err != nil {
		return err
	}
	if len(w) < ncb || len(e) < p.E {
		return fmt.Errorf("%w: buffers w=%d e=%d, need %d and %d", ErrInfeasible, len(w), len(e), ncb, p.E)
	}

	if fresh {
		fixedpoint.Fill(w[:ncb], 0)
	}
	walk(p, ncb, func(k, pos int) {
		w[pos] = fixedpoint.AddLLR(w[pos], e[k])
	})
	return nil
}

// SegmentE returns the rate matching output length of code block r when
// the G coded bits of a transport block are shared by C code blocks
// (TS 38.212 5.4.2.1).
func SegmentE(g, c, qm, layers, r int) int {
	unit := layers * qm
	q := g / unit
	if r <= c-q%c-1 {
		return unit * (q / c)
	}
	return unit * (q/c + 1)
}
