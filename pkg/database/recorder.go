package database

import (
	"context"
	"sync"
	"time"

	"github.com/dbehnke/nr-codec/pkg/harq"
	"github.com/dbehnke/nr-codec/pkg/logger"
)

type blockKey struct {
	rnti uint16
	pid  int
}

// activeBlock tracks a transport block across its HARQ rounds
type activeBlock struct {
	rounds    int
	startTime time.Time
	last      harq.Indication
}

// Recorder is a harq.Sink that writes one BlockRecord per transport block.
// A block ends on ACK, on a NACK in the last allowed round, or when a new
// round 0 arrives on the same process.
type Recorder struct {
	repo      *BlockRepository
	log       *logger.Logger
	maxRounds int

	queue chan harq.Indication

	mu     sync.Mutex
	active map[blockKey]*activeBlock
}

// NewRecorder creates a recorder. Indications are queued and written by Run.
func NewRecorder(repo *BlockRepository, maxRounds int, log *logger.Logger) *Recorder {
	if maxRounds <= 0 || maxRounds > harq.MaxRounds {
		maxRounds = harq.MaxRounds
	}
	return &Recorder{
		repo:      repo,
		log:       log.WithComponent("database.recorder"),
		maxRounds: maxRounds,
		queue:     make(chan harq.Indication, 256),
		active:    make(map[blockKey]*activeBlock),
	}
}

// Indicate queues ind without blocking the caller. Indications are dropped
// when the queue is full.
func (r *Recorder) Indicate(ind harq.Indication) {
	ind.Payload = nil
	select {
	case r.queue <- ind:
	default:
		r.log.Warn("Recorder queue full, dropping indication",
			logger.Int("pid", ind.PID),
			logger.Uint16("rnti", ind.RNTI))
	}
}

// Run writes queued indications until ctx is cancelled, then flushes
// blocks still in progress.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case ind := <-r.queue:
			r.Record(ind)
		case <-ctx.Done():
			for {
				select {
				case ind := <-r.queue:
					r.Record(ind)
				default:
					r.Flush()
					return
				}
			}
		}
	}
}

// Record applies one indication to the block tracking, saving the block
// when it ends.
func (r *Recorder) Record(ind harq.Indication) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := blockKey{ind.RNTI, ind.PID}
	blk, exists := r.active[key]
	if exists && ind.Round == 0 {
		// the MAC gave up on the previous block
		r.save(blk)
		exists = false
	}
	if !exists {
		blk = &activeBlock{startTime: ind.Time}
		if blk.startTime.IsZero() {
			blk.startTime = time.Now()
		}
		r.active[key] = blk
	}
	blk.rounds++
	blk.last = ind

	if ind.OK || ind.Round >= r.maxRounds-1 {
		r.save(blk)
		delete(r.active, key)
	}
}

// Flush saves every block still in progress
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, blk := range r.active {
		r.save(blk)
		delete(r.active, key)
	}
}

// Pending returns the number of blocks awaiting a final round
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *Recorder) save(blk *activeBlock) {
	end := blk.last.Time
	if end.IsZero() {
		end = time.Now()
	}
	rec := &BlockRecord{
		RNTI:       blk.last.RNTI,
		PID:        blk.last.PID,
		TBSize:     blk.last.TBSize,
		Segments:   blk.last.Segments,
		Qm:         blk.last.Qm,
		Layers:     blk.last.Layers,
		Rounds:     blk.rounds,
		OK:         blk.last.OK,
		Iterations: blk.last.Iterations,
		Frame:      blk.last.Frame,
		Slot:       blk.last.Slot,
		StartTime:  blk.startTime,
		EndTime:    end,
	}
	if err := r.repo.Create(rec); err != nil {
		r.log.Error("Failed to save block",
			logger.Error(err),
			logger.Int("pid", rec.PID))
		return
	}
	r.log.Debug("Saved block",
		logger.Uint16("rnti", rec.RNTI),
		logger.Int("pid", rec.PID),
		logger.Int("rounds", rec.Rounds),
		logger.Bool("ok", rec.OK))
}
