package sch

import (
	"fmt"
	"runtime"
	"time"

	"github.com/dbehnke/nr-codec/pkg/crc"
	"github.com/dbehnke/nr-codec/pkg/fixedpoint"
	"github.com/dbehnke/nr-codec/pkg/harq"
	"github.com/dbehnke/nr-codec/pkg/ldpc"
	"github.com/dbehnke/nr-codec/pkg/logger"
	"github.com/dbehnke/nr-codec/pkg/ratematch"
	"github.com/dbehnke/nr-codec/pkg/workpool"
)

// DefaultMaxIterations is used when Config.MaxIterations is not set.
const DefaultMaxIterations = 5

// Config selects how the decoder schedules segment decodes.
type Config struct {
	MaxIterations int
	// Offload decodes segments synchronously on the caller, as with a
	// hardware accelerator. Otherwise segments go to a worker pool.
	Offload    bool
	Workers    int
	QueueDepth int
}

// Decoder turns received soft values into transport blocks.
type Decoder struct {
	cfg   Config
	procs *harq.Entity
	sched Scheduler
	dec   SegmentDecoder
	sink  harq.Sink
	log   *logger.Logger
	obs   Observer
}

// NewDecoder creates a decoder over the receive processes procs. Every
// attempt ends with exactly one indication delivered to sink.
func NewDecoder(cfg Config, codec ldpc.Decoder, procs *harq.Entity, sink harq.Sink, log *logger.Logger) *Decoder {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	// Room for every segment of every process in flight at once.
	if depth := procs.Len() * procs.Capacity(); cfg.QueueDepth < depth {
		cfg.QueueDepth = depth
	}

	var sched Scheduler = SyncScheduler{}
	if !cfg.Offload {
		sched = NewPoolScheduler(workpool.New(cfg.Workers, cfg.QueueDepth))
	}
	return NewDecoderWithScheduler(cfg, sched, &pipeline{codec: codec}, procs, sink, log)
}

// NewDecoderWithScheduler creates a decoder with explicit scheduling and
// segment decoding strategies.
func NewDecoderWithScheduler(cfg Config, sched Scheduler, dec SegmentDecoder, procs *harq.Entity, sink harq.Sink, log *logger.Logger) *Decoder {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if sink == nil {
		sink = harq.Fanout{}
	}
	return &Decoder{
		cfg:   cfg,
		procs: procs,
		sched: sched,
		dec:   dec,
		sink:  sink,
		log:   log.WithComponent("sch.decoder"),
		obs:   nopObserver{},
	}
}

// SetObserver installs an instrumentation observer.
func (d *Decoder) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	d.obs = o
}

// Close stops the scheduler after queued jobs finish.
func (d *Decoder) Close() {
	d.sched.Close()
}

// Decode runs one reception of process pid. llr holds at least g soft
// values and is copied before Decode returns. Errors are returned only for
// invalid input; decoding failures are reported as a NACK indication. With
// the pool scheduler Decode returns before the segments are decoded.
func (d *Decoder) Decode(pid int, llr []fixedpoint.LLR, desc Descriptor, frame, slot, g int) error {
	if llr == nil {
		return ErrNilBuffer
	}
	if err := desc.validate(); err != nil {
		return err
	}
	if g <= 0 {
		return fmt.Errorf("%w: G=%d", ErrDescriptor, g)
	}
	if len(llr) < g {
		return fmt.Errorf("%w: %d soft values, G=%d", ErrShortBuffer, len(llr), g)
	}

	p, err := d.procs.Process(pid)
	if err != nil {
		return err
	}
	if !p.TryAcquire() {
		return fmt.Errorf("%w: %d", harq.ErrProcessBusy, pid)
	}

	jobs, err := d.prepare(p, llr, desc, g)
	if err != nil {
		p.Release()
		return err
	}

	started := time.Now()
	d.sched.Schedule(jobs, d.dec, func(results []Result) {
		d.finish(p, desc, frame, slot, results, started)
	})
	return nil
}

// prepare leaves the process untouched when it fails.
func (d *Decoder) prepare(p *harq.Process, llr []fixedpoint.LLR, desc Descriptor, g int) ([]Job, error) {
	_, seg, err := desc.plan()
	if err != nil {
		return nil, err
	}
	if err := p.CheckCapacity(seg.C); err != nil {
		return nil, err
	}

	p.BeginReceive(desc.RV, desc.NDI)

	p.A = desc.TBSize * 8
	p.Qm, p.Layers, p.RBs, p.TargetRate = desc.Qm, desc.Layers, desc.RBs, desc.TargetRate
	p.Seg = seg

	blockBytes := seg.B / 8
	if cap(p.Block) < blockBytes {
		p.Block = make([]byte, blockBytes)
	}
	p.Block = p.Block[:blockBytes]
	p.Input = append(p.Input[:0], llr[:g]...)

	crcType, crcBits := crc.ForDecode(p.A, seg.B, seg.C)
	jobs := make([]Job, seg.C)
	offset := 0
	for r := range jobs {
		E := ratematch.SegmentE(g, seg.C, desc.Qm, desc.Layers, r)
		jobs[r] = Job{
			Process: p,
			Segment: r,
			Offset:  offset,
			E:       E,
			Qm:      desc.Qm,
			Fresh:   !p.SoftValid[r],
			RateMatch: ratematch.Params{
				BG: seg.BG, Z: seg.Z, K: seg.K, F: seg.F, C: seg.C,
				RV: desc.RV, E: E, LBRMBytes: desc.LBRMBytes,
			},
			LDPC:         ldpc.Params{BG: seg.BG, Z: seg.Z, MaxIterations: d.cfg.MaxIterations},
			CRC:          crcType,
			CRCBytes:     crcBits / 8,
			OutOffset:    r * seg.PayloadBytes(),
			PayloadBytes: seg.PayloadBytes(),
		}
		offset += E
	}
	return jobs, nil
}

// finish is the single writer of the process state once an attempt's
// results are in.
func (d *Decoder) finish(p *harq.Process, desc Descriptor, frame, slot int, results []Result, started time.Time) {
	processed, iterations := 0, 0
	for _, r := range results {
		d.obs.SegmentDecoded(r)
		if r.OK {
			processed++
		}
		iterations = max(iterations, r.Iterations)
		if r.Err != nil {
			d.log.Warn("segment decode error",
				logger.Int("pid", p.ID),
				logger.Int("segment", r.Segment),
				logger.Error(r.Err))
		}
	}

	p.ProcessedSegments = processed
	p.LastIterations = iterations
	ok := processed == p.Seg.C
	p.Finish(ok)

	ind := harq.Indication{
		RNTI:              p.RNTI,
		PID:               p.ID,
		Frame:             frame,
		Slot:              slot,
		OK:                ok,
		Round:             harq.RoundForRV(desc.RV),
		TBSize:            desc.TBSize,
		Segments:          p.Seg.C,
		ProcessedSegments: processed,
		Iterations:        iterations,
		Qm:                desc.Qm,
		Layers:            desc.Layers,
		Time:              time.Now(),
	}
	if ok {
		ind.Payload = append([]byte(nil), p.Payload()...)
	}

	d.log.Debug("transport block decoded",
		logger.Int("pid", p.ID),
		logger.Int("frame", frame),
		logger.Int("slot", slot),
		logger.Bool("ok", ok),
		logger.Int("segments", p.Seg.C),
		logger.Int("processed", processed),
		logger.Int("iterations", iterations),
		logger.Duration("took", time.Since(started)))

	p.Release()
	d.sink.Indicate(ind)
}

// Payload returns a copy of the payload last decoded on process pid.
func (d *Decoder) Payload(pid int) ([]byte, error) {
	p, err := d.procs.Process(pid)
	if err != nil {
		return nil, err
	}
	if !p.TryAcquire() {
		return nil, fmt.Errorf("%w: %d", harq.ErrProcessBusy, pid)
	}
	defer p.Release()
	return append([]byte(nil), p.Payload()...), nil
}
