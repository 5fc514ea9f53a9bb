package sch

import (
	"github.com/dbehnke/nr-codec/pkg/crc"
	"github.com/dbehnke/nr-codec/pkg/fixedpoint"
	"github.com/dbehnke/nr-codec/pkg/harq"
	"github.com/dbehnke/nr-codec/pkg/interleave"
	"github.com/dbehnke/nr-codec/pkg/ldpc"
	"github.com/dbehnke/nr-codec/pkg/ratematch"
)

// Job is the decode of one code block. It is handed by value to whichever
// goroutine runs it; that goroutine owns slot Segment of the process
// buffers until it returns its Result.
type Job struct {
	Process *harq.Process
	Segment int
	// Offset is the position of the segment's first soft value in the
	// process input.
	Offset int
	E      int
	Qm     int
	// Fresh discards the soft values retained from earlier rounds.
	Fresh     bool
	RateMatch ratematch.Params
	LDPC      ldpc.Params
	CRC       crc.Type
	CRCBytes  int
	// OutOffset and PayloadBytes place the decoded bytes in the
	// transport block.
	OutOffset    int
	PayloadBytes int
}

// Result is the outcome of one Job.
type Result struct {
	Segment    int
	OK         bool
	Iterations int
	// Skipped is set when the job was not decoded because an earlier
	// segment of the same attempt already failed.
	Skipped bool
	Err     error
}

// SegmentDecoder decodes a single code block.
type SegmentDecoder interface {
	DecodeSegment(job Job) Result
}

type pipeline struct {
	codec ldpc.Decoder
}

// DecodeSegment deinterleaves, rate recovers, decodes and CRC checks one
// code block and copies its payload into the transport block on success.
func (pl *pipeline) DecodeSegment(job Job) Result {
	p := job.Process
	res := Result{Segment: job.Segment}

	e := make([]fixedpoint.LLR, job.E)
	if err := interleave.Deinterleave(job.E, job.Qm, p.Input[job.Offset:job.Offset+job.E], e); err != nil {
		res.Err = err
		return res
	}

	soft := p.SoftSegment(job.Segment)
	if err := ratematch.Recover(soft, e, job.Fresh, job.RateMatch); err != nil {
		res.Err = err
		return res
	}
	p.SoftValid[job.Segment] = true

	rm := job.RateMatch
	in := make([]fixedpoint.Packed, rm.BG.Columns()*rm.Z)
	ncb := ratematch.BufferSize(rm.BG, rm.Z, rm.C, rm.LBRMBytes)
	decoderInput(in, soft, rm.K, rm.F, rm.Z, ncb)

	seg := p.Segment(job.Segment)
	it, err := pl.codec.Decode(in, seg, job.LDPC)
	res.Iterations = it
	if err != nil {
		res.Err = err
		return res
	}
	if it > job.LDPC.MaxIterations || !crc.Valid(job.CRC, seg[:job.CRCBytes]) {
		return res
	}

	copy(p.Block[job.OutOffset:job.OutOffset+job.PayloadBytes], seg)
	res.OK = true
	return res
}

// decoderInput lays out the soft circular buffer as the full codeword the
// LDPC decoder expects: the two punctured columns erased, filler bits
// pinned to zero, and everything else packed with saturation. Positions at
// or beyond ncb were never transmitted and are erased.
func decoderInput(dst []fixedpoint.Packed, soft []fixedpoint.LLR, k, f, z, ncb int) {
	fixedpoint.Fill(dst[:2*z], 0)
	fixedpoint.Pack(dst[2*z:k-f], soft[:k-f-2*z])
	fixedpoint.Fill(dst[k-f:k], fixedpoint.MaxPacked)

	parity := dst[k:]
	fixedpoint.Fill(parity, 0)
	if end := min(ncb, len(dst)-2*z); end > k-2*z {
		fixedpoint.Pack(parity, soft[k-2*z:end])
	}
}
