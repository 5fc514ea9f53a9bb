package sch

import (
	"errors"
	"sync/atomic"

	"github.com/dbehnke/nr-codec/pkg/workpool"
)

// Scheduler runs the jobs of one attempt and hands every produced Result
// to done exactly once, from a single goroutine.
//
// Both schedulers stop decoding after the first failed segment: segments
// not yet started are not decoded. The synchronous scheduler simply stops
// its loop; the pool scheduler marks the attempt aborted and queued jobs
// report Skipped.
type Scheduler interface {
	Schedule(jobs []Job, dec SegmentDecoder, done func([]Result))
	Close()
}

// SyncScheduler decodes the segments one after another on the caller's
// goroutine; done has run by the time Schedule returns.
type SyncScheduler struct{}

// Schedule implements Scheduler.
func (SyncScheduler) Schedule(jobs []Job, dec SegmentDecoder, done func([]Result)) {
	results := make([]Result, 0, len(jobs))
	for _, job := range jobs {
		res := dec.DecodeSegment(job)
		results = append(results, res)
		if !res.OK {
			break
		}
	}
	done(results)
}

// Close implements Scheduler.
func (SyncScheduler) Close() {}

// PoolScheduler decodes segments in parallel on a worker pool. Schedule
// returns once every job is queued; an aggregating goroutine collects the
// results and calls done.
type PoolScheduler struct {
	pool *workpool.Pool
}

// NewPoolScheduler creates a scheduler over pool.
func NewPoolScheduler(pool *workpool.Pool) *PoolScheduler {
	return &PoolScheduler{pool: pool}
}

// Schedule implements Scheduler. A job that finds the queue full runs on
// the caller's goroutine instead of being dropped.
func (s *PoolScheduler) Schedule(jobs []Job, dec SegmentDecoder, done func([]Result)) {
	results := make(chan Result, len(jobs))
	var aborted atomic.Bool

	for i, job := range jobs {
		task := func() {
			if aborted.Load() {
				results <- Result{Segment: job.Segment, Skipped: true}
				return
			}
			res := dec.DecodeSegment(job)
			if !res.OK {
				aborted.Store(true)
			}
			results <- res
		}
		err := s.pool.Submit(task)
		if errors.Is(err, workpool.ErrQueueFull) {
			task()
			continue
		}
		if err != nil {
			aborted.Store(true)
			for _, j := range jobs[i:] {
				results <- Result{Segment: j.Segment, Skipped: true, Err: err}
			}
			break
		}
	}

	go func() {
		collected := make([]Result, 0, len(jobs))
		for range jobs {
			collected = append(collected, <-results)
		}
		done(collected)
	}()
}

// Close waits for queued jobs and stops the workers.
func (s *PoolScheduler) Close() {
	s.pool.Close()
}
