package ldpc

import (
	"errors"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru"

	"github.com/dbehnke/nr-codec/pkg/fixedpoint"
)

var (
	ErrBaseGraph   = errors.New("ldpc: unknown base graph")
	ErrLiftingSize = errors.New("ldpc: invalid lifting size")
	ErrShortBuffer = errors.New("ldpc: buffer too short")
)

// MaxLiftingSize is the largest supported Z.
const MaxLiftingSize = 384

// normalization scales min-sum check messages.
const normalization = 0.75

// Params configures one encode or decode call.
type Params struct {
	BG            BaseGraph
	Z             int
	MaxIterations int
}

func (p Params) validate() error {
	if !p.BG.Valid() {
		return fmt.Errorf("%w: %d", ErrBaseGraph, int(p.BG))
	}
	if p.Z <= 0 || p.Z > MaxLiftingSize {
		return fmt.Errorf("%w: %d", ErrLiftingSize, p.Z)
	}
	return nil
}

// Encoder produces the code block for K systematic bits.
type Encoder interface {
	// Encode reads K = SystematicColumns*Z bits from seg (MSB first) and
	// writes CodewordBits(Z) bits, one per byte, to out.
	Encode(seg []byte, out []uint8, p Params) error
}

// Decoder recovers the systematic bits of a code block.
type Decoder interface {
	// Decode takes Columns*Z soft values (including the two punctured
	// columns) and writes K hard bits, MSB first, to out. It returns the
	// iterations used; a value above p.MaxIterations means the parity
	// checks were never satisfied.
	Decode(llr []fixedpoint.Packed, out []byte, p Params) (int, error)
}

// Codec is an Encoder and Decoder pair.
type Codec interface {
	Encoder
	Decoder
}

type graphKey struct {
	bg BaseGraph
	z  int
}

// MinSum encodes with the base graph directly and decodes with flooding
// normalized min-sum over lifted graphs kept in an LRU cache.
type MinSum struct {
	graphs *lru.Cache
}

// NewMinSum creates a codec caching up to cacheSize lifted graphs.
func NewMinSum(cacheSize int) (*MinSum, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("ldpc: graph cache: %w", err)
	}
	return &MinSum{graphs: cache}, nil
}

func (m *MinSum) graph(bg BaseGraph, z int) *graph {
	key := graphKey{bg: bg, z: z}
	if g, ok := m.graphs.Get(key); ok {
		return g.(*graph)
	}
	g := baseGraphs[bg].lift(z)
	m.graphs.Add(key, g)
	return g
}

// Encode implements Encoder.
func (m *MinSum) Encode(seg []byte, out []uint8, p Params) error {
	if err := p.validate(); err != nil {
		return err
	}
	g := baseGraphs[p.BG]
	z := p.Z
	k := g.kb * z
	if len(seg)*8 < k {
		return fmt.Errorf("%w: segment %d bytes, need %d bits", ErrShortBuffer, len(seg), k)
	}
	if len(out) < p.BG.CodewordBits(z) {
		return fmt.Errorf("%w: output %d, need %d", ErrShortBuffer, len(out), p.BG.CodewordBits(z))
	}

	cw := make([]uint8, g.cols*z)
	for i := 0; i < k; i++ {
		cw[i] = seg[i/8] >> (7 - i%8) & 1
	}

	// Rows are solved in order: every row's last block is its own parity
	// column and all other parity columns it touches belong to earlier rows.
	for _, row := range g.blocks {
		own := row[len(row)-1]
		parity := cw[own.col*z : (own.col+1)*z]
		for _, b := range row[:len(row)-1] {
			s := b.shift % z
			src := cw[b.col*z : (b.col+1)*z]
			for t := 0; t < z; t++ {
				parity[t] ^= src[(t+s)%z]
			}
		}
	}

	copy(out, cw[2*z:])
	return nil
}

// Decode implements Decoder.
func (m *MinSum) Decode(llr []fixedpoint.Packed, out []byte, p Params) (int, error) {
	if err := p.validate(); err != nil {
		return 0, err
	}
	g := m.graph(p.BG, p.Z)
	k := p.BG.SystematicColumns() * p.Z
	if len(llr) < g.vars {
		return 0, fmt.Errorf("%w: llr %d, need %d", ErrShortBuffer, len(llr), g.vars)
	}
	if len(out)*8 < k {
		return 0, fmt.Errorf("%w: output %d bytes, need %d bits", ErrShortBuffer, len(out), k)
	}

	channel := make([]float32, g.vars)
	post := make([]float32, g.vars)
	for v := range channel {
		channel[v] = float32(llr[v])
	}
	copy(post, channel)
	msg := make([]float32, len(g.edgeVar))
	q := make([]float32, 0, 32)
	hard := make([]uint8, g.vars)

	iterations := p.MaxIterations + 1
	for it := 1; it <= p.MaxIterations; it++ {
		for c := 0; c < g.checks; c++ {
			lo, hi := g.checkStart[c], g.checkStart[c+1]
			q = q[:0]
			min1, min2 := float32(math.MaxFloat32), float32(math.MaxFloat32)
			minAt := int32(-1)
			negative := false
			for e := lo; e < hi; e++ {
				v := post[g.edgeVar[e]] - msg[e]
				q = append(q, v)
				if v < 0 {
					negative = !negative
					v = -v
				}
				if v < min1 {
					min2, min1, minAt = min1, v, e
				} else if v < min2 {
					min2 = v
				}
			}
			for e := lo; e < hi; e++ {
				mag := min1
				if e == minAt {
					mag = min2
				}
				neg := negative
				if q[e-lo] < 0 {
					neg = !neg
				}
				mag *= normalization
				if neg {
					mag = -mag
				}
				msg[e] = mag
			}
		}

		copy(post, channel)
		for e, v := range g.edgeVar {
			post[v] += msg[e]
		}
		for v, l := range post {
			hard[v] = 0
			if l < 0 {
				hard[v] = 1
			}
		}
		if g.syndromeOK(hard) {
			iterations = it
			break
		}
	}

	clear(out[:(k+7)/8])
	for i := 0; i < k; i++ {
		out[i/8] |= hard[i] << (7 - i%8)
	}
	return iterations, nil
}

func (g *graph) syndromeOK(hard []uint8) bool {
	for c := 0; c < g.checks; c++ {
		var parity uint8
		for e := g.checkStart[c]; e < g.checkStart[c+1]; e++ {
			parity ^= hard[g.edgeVar[e]]
		}
		if parity != 0 {
			return false
		}
	}
	return true
}
