package sch

import (
	"fmt"

	"github.com/dbehnke/nr-codec/pkg/crc"
	"github.com/dbehnke/nr-codec/pkg/harq"
	"github.com/dbehnke/nr-codec/pkg/interleave"
	"github.com/dbehnke/nr-codec/pkg/ldpc"
	"github.com/dbehnke/nr-codec/pkg/logger"
	"github.com/dbehnke/nr-codec/pkg/ratematch"
	"github.com/dbehnke/nr-codec/pkg/segment"
)

// Encoder turns transport blocks into rate matched, interleaved bits.
type Encoder struct {
	codec ldpc.Encoder
	procs *harq.Entity
	log   *logger.Logger
	obs   Observer
}

// NewEncoder creates an encoder over the transmit processes procs.
func NewEncoder(codec ldpc.Encoder, procs *harq.Entity, log *logger.Logger) *Encoder {
	return &Encoder{
		codec: codec,
		procs: procs,
		log:   log.WithComponent("sch.encoder"),
		obs:   nopObserver{},
	}
}

// SetObserver installs an instrumentation observer.
func (e *Encoder) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	e.obs = o
}

// Encode codes payload on process pid and returns the g output bits, one
// per byte. The slice is owned by the process and valid until its next
// Encode. New data (first use or a toggled NDI) is segmented and LDPC
// encoded; a retransmission only rate matches the cached code blocks with
// the new redundancy version.
func (e *Encoder) Encode(pid int, payload []byte, d Descriptor, g int) ([]uint8, error) {
	if payload == nil {
		return nil, ErrNilBuffer
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	if len(payload) < d.TBSize {
		return nil, fmt.Errorf("%w: payload %d bytes, tb size %d", ErrShortBuffer, len(payload), d.TBSize)
	}
	if g <= 0 {
		return nil, fmt.Errorf("%w: G=%d", ErrDescriptor, g)
	}

	p, err := e.procs.Process(pid)
	if err != nil {
		return nil, err
	}
	if !p.TryAcquire() {
		return nil, fmt.Errorf("%w: %d", harq.ErrProcessBusy, pid)
	}
	defer p.Release()

	newData := p.BeginTransmit(d.RV, d.NDI)
	if newData || p.Seg.C == 0 {
		if err := e.prepare(p, payload, d); err != nil {
			return nil, err
		}
	}

	seg := p.Seg
	if cap(p.RateMatched) < g {
		p.RateMatched = make([]uint8, g)
	}
	out := p.RateMatched[:g]
	scratch := make([]uint8, 0, g/seg.C+d.Qm*d.Layers)

	offset := 0
	for r := 0; r < seg.C; r++ {
		E := ratematch.SegmentE(g, seg.C, d.Qm, d.Layers, r)
		scratch = scratch[:E]
		rm := ratematch.Params{
			BG: seg.BG, Z: seg.Z, K: seg.K, F: seg.F, C: seg.C,
			RV: d.RV, E: E, LBRMBytes: d.LBRMBytes,
		}
		if err := ratematch.Match(p.Coded[r], scratch, rm); err != nil {
			return nil, fmt.Errorf("segment %d: %w", r, err)
		}
		if err := interleave.Interleave(E, d.Qm, scratch, out[offset:offset+E]); err != nil {
			return nil, fmt.Errorf("segment %d: %w", r, err)
		}
		offset += E
	}

	e.obs.BlockEncoded(d.TBSize, seg.C, newData)
	e.log.Debug("encoded transport block",
		logger.Int("pid", pid),
		logger.Int("tbs", d.TBSize),
		logger.Int("rv", d.RV),
		logger.Int("segments", seg.C),
		logger.Bool("new_data", newData))
	return out, nil
}

func (e *Encoder) prepare(p *harq.Process, payload []byte, d Descriptor) error {
	p.Seg = segment.Params{}

	tbCRC, seg, err := d.plan()
	if err != nil {
		return err
	}
	if err := p.CheckCapacity(seg.C); err != nil {
		return err
	}

	p.A = d.TBSize * 8
	p.Qm, p.Layers, p.RBs, p.TargetRate = d.Qm, d.Layers, d.RBs, d.TargetRate
	p.Block = crc.Attach(tbCRC, append(p.Block[:0], payload[:d.TBSize]...))

	segs := make([][]byte, seg.C)
	for r := range segs {
		segs[r] = p.Segment(r)
	}
	segment.SplitInto(segs, p.Block, seg)

	params := ldpc.Params{BG: seg.BG, Z: seg.Z}
	for r := range segs {
		if err := e.codec.Encode(segs[r], p.CodedSegment(r), params); err != nil {
			return fmt.Errorf("segment %d: %w", r, err)
		}
	}
	p.Seg = seg
	return nil
}

// Complete records the peer's ACK or NACK for process pid.
func (e *Encoder) Complete(pid int, ok bool) error {
	p, err := e.procs.Process(pid)
	if err != nil {
		return err
	}
	if !p.TryAcquire() {
		return fmt.Errorf("%w: %d", harq.ErrProcessBusy, pid)
	}
	defer p.Release()
	p.Finish(ok)
	return nil
}
