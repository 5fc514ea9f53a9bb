// Package sim measures block error rates of the shared channel codec over
// an AWGN channel with HARQ retransmissions.
package sim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dbehnke/nr-codec/pkg/channel"
	"github.com/dbehnke/nr-codec/pkg/database"
	"github.com/dbehnke/nr-codec/pkg/fixedpoint"
	"github.com/dbehnke/nr-codec/pkg/harq"
	"github.com/dbehnke/nr-codec/pkg/ldpc"
	"github.com/dbehnke/nr-codec/pkg/logger"
	"github.com/dbehnke/nr-codec/pkg/sch"
	"github.com/dbehnke/nr-codec/pkg/segment"
	"github.com/dbehnke/nr-codec/pkg/tbs"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultSlot is the slot length used for throughput (30 kHz SCS).
const DefaultSlot = 500 * time.Microsecond

var ErrNoPoints = errors.New("sim: no SNR points")

// Config describes one sweep.
type Config struct {
	Alloc         tbs.Allocation
	SNRs          []float64
	Blocks        int // transport blocks per SNR point
	MaxRounds     int
	MaxIterations int
	LLRScale      float64
	LBRMBytes     int
	Seed          uint64
	Parallel      int // SNR points simulated at once
	Slot          time.Duration
}

// Point is the outcome at one SNR.
type Point struct {
	SNRdB          float64
	Blocks         int
	Attempts       int
	Round0Errors   int
	ResidualErrors int
	// Undetected counts ACKed blocks whose payload differed.
	Undetected    int
	Iterations    int
	DeliveredBits int64
}

// BLER is the first transmission block error rate.
func (p Point) BLER() float64 {
	if p.Blocks == 0 {
		return 0
	}
	return float64(p.Round0Errors) / float64(p.Blocks)
}

// ResidualBLER is the rate of blocks lost after all rounds.
func (p Point) ResidualBLER() float64 {
	if p.Blocks == 0 {
		return 0
	}
	return float64(p.ResidualErrors) / float64(p.Blocks)
}

// MeanIterations averages LDPC iterations over all attempts.
func (p Point) MeanIterations() float64 {
	if p.Attempts == 0 {
		return 0
	}
	return float64(p.Iterations) / float64(p.Attempts)
}

// ThroughputMbps is delivered bits per occupied slot.
func (p Point) ThroughputMbps(slot time.Duration) float64 {
	if p.Attempts == 0 || slot <= 0 {
		return 0
	}
	return float64(p.DeliveredBits) / (float64(p.Attempts) * slot.Seconds()) / 1e6
}

// Result is a finished sweep.
type Result struct {
	RunID   string
	Config  Config
	TBSize  int // bytes
	G       int
	Points  []Point
	Started time.Time
	Elapsed time.Duration
}

// Records converts the sweep to database rows.
func (r *Result) Records() []database.SimResult {
	out := make([]database.SimResult, len(r.Points))
	for i, p := range r.Points {
		out[i] = database.SimResult{
			RunID:          r.RunID,
			SNRdB:          p.SNRdB,
			TBSize:         r.TBSize,
			Qm:             r.Config.Alloc.Qm,
			Layers:         r.Config.Alloc.Layers,
			TargetRate:     r.Config.Alloc.TargetRate,
			Blocks:         p.Blocks,
			Round0Errors:   p.Round0Errors,
			ResidualErrors: p.ResidualErrors,
			BLER:           p.BLER(),
			ResidualBLER:   p.ResidualBLER(),
			MeanIterations: p.MeanIterations(),
			ThroughputMbps: p.ThroughputMbps(r.Config.Slot),
			CreatedAt:      r.Started,
		}
	}
	return out
}

func (c *Config) normalize() error {
	if len(c.SNRs) == 0 {
		return ErrNoPoints
	}
	if c.Blocks <= 0 {
		return fmt.Errorf("sim: blocks %d", c.Blocks)
	}
	if c.MaxRounds <= 0 || c.MaxRounds > harq.MaxRounds {
		c.MaxRounds = harq.MaxRounds
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = sch.DefaultMaxIterations
	}
	if c.LLRScale <= 0 {
		c.LLRScale = 4
	}
	if c.Parallel <= 0 {
		c.Parallel = 1
	}
	if c.Slot <= 0 {
		c.Slot = DefaultSlot
	}
	return nil
}

// Run simulates every SNR point. Points run concurrently up to
// cfg.Parallel and share one LDPC codec.
func Run(ctx context.Context, cfg Config, codec ldpc.Codec, log *logger.Logger) (*Result, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	size := cfg.Alloc.Size()
	if size <= 0 {
		return nil, fmt.Errorf("sim: allocation carries no transport block")
	}

	res := &Result{
		RunID:   uuid.New().String(),
		Config:  cfg,
		TBSize:  size / 8,
		G:       cfg.Alloc.CodedBits(),
		Points:  make([]Point, len(cfg.SNRs)),
		Started: time.Now(),
	}
	log = log.WithComponent("sim")
	log.Info("Starting sweep",
		logger.String("run_id", res.RunID),
		logger.Int("tbs", res.TBSize),
		logger.Int("g", res.G),
		logger.Int("points", len(cfg.SNRs)),
		logger.Int("blocks", cfg.Blocks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Parallel)
	for i, snr := range cfg.SNRs {
		g.Go(func() error {
			pt, err := runPoint(ctx, cfg, codec, snr, cfg.Seed+uint64(i), res.TBSize, res.G, log)
			if err != nil {
				return fmt.Errorf("snr %.2f dB: %w", snr, err)
			}
			res.Points[i] = pt
			log.Info("Point done",
				logger.Float64("snr_db", snr),
				logger.Float64("bler", pt.BLER()),
				logger.Float64("residual_bler", pt.ResidualBLER()),
				logger.Float64("mean_iterations", pt.MeanIterations()))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(res.Started)
	return res, nil
}

func runPoint(ctx context.Context, cfg Config, codec ldpc.Codec, snr float64, seed uint64, tbBytes, g int, log *logger.Logger) (Point, error) {
	capacity := segment.Capacity(cfg.Alloc.RBs, cfg.Alloc.Layers)
	tx := harq.NewEntity(1, harq.Transmit, 1, capacity)
	rx := harq.NewEntity(1, harq.Receive, 1, capacity)
	defer tx.Close()
	defer rx.Close()

	inds := make(chan harq.Indication, 1)
	sink := harq.SinkFunc(func(ind harq.Indication) { inds <- ind })

	enc := sch.NewEncoder(codec, tx, log)
	dec := sch.NewDecoder(sch.Config{MaxIterations: cfg.MaxIterations, Offload: true}, codec, rx, sink, log)
	defer dec.Close()

	ch := channel.NewAWGN(snr, cfg.LLRScale, seed)
	rng := rand.New(rand.NewPCG(seed, 0))
	payload := make([]byte, tbBytes)
	llr := make([]fixedpoint.LLR, g)

	d := sch.Descriptor{
		TBSize:     tbBytes,
		RBs:        cfg.Alloc.RBs,
		Qm:         cfg.Alloc.Qm,
		Layers:     cfg.Alloc.Layers,
		TargetRate: cfg.Alloc.TargetRate,
		LBRMBytes:  cfg.LBRMBytes,
	}

	pt := Point{SNRdB: snr}
	ndi := 0
	for b := 0; b < cfg.Blocks; b++ {
		if err := ctx.Err(); err != nil {
			return pt, err
		}
		for i := range payload {
			payload[i] = byte(rng.Uint32())
		}
		ndi ^= 1
		d.NDI = ndi

		delivered := false
		for round := 0; round < cfg.MaxRounds; round++ {
			d.RV = harq.RVForRound(round)
			bits, err := enc.Encode(0, payload, d, g)
			if err != nil {
				return pt, err
			}
			if err := ch.Transmit(bits, llr); err != nil {
				return pt, err
			}
			if err := dec.Decode(0, llr, d, b/20, b%20, g); err != nil {
				return pt, err
			}
			ind := <-inds

			pt.Attempts++
			pt.Iterations += ind.Iterations
			if round == 0 && !ind.OK {
				pt.Round0Errors++
			}
			if err := enc.Complete(0, ind.OK); err != nil {
				return pt, err
			}
			if ind.OK {
				if !bytes.Equal(ind.Payload, payload) {
					pt.Undetected++
					break
				}
				pt.DeliveredBits += int64(tbBytes) * 8
				delivered = true
				break
			}
		}
		if !delivered {
			pt.ResidualErrors++
		}
		pt.Blocks++
	}
	return pt, nil
}
