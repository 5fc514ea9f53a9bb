// Package stats keeps per-UE shared channel counters fed by decode
// indications.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/dbehnke/nr-codec/pkg/harq"
)

// DefaultMaxUEs bounds the number of RNTIs tracked at once.
const DefaultMaxUEs = 16

// UE holds the counters of one RNTI.
type UE struct {
	RNTI           uint16                `json:"rnti"`
	Frame          int                   `json:"frame"`
	RoundTrials    [harq.MaxRounds]int64 `json:"round_trials"`
	RoundErrors    [harq.MaxRounds]int64 `json:"round_errors"`
	TotalBytes     int64                 `json:"total_bytes"`
	CurrentQm      int                   `json:"current_qm"`
	CurrentLayers  int                   `json:"current_layers"`
	LastIterations int                   `json:"last_iterations"`
	LastUpdate     time.Time             `json:"last_update"`
}

// BLER returns the error ratio of attempts made in round r.
func (u UE) BLER(r int) float64 {
	if r < 0 || r >= harq.MaxRounds || u.RoundTrials[r] == 0 {
		return 0
	}
	return float64(u.RoundErrors[r]) / float64(u.RoundTrials[r])
}

// Tracker is a harq.Sink that accumulates UE counters. Indications for a
// new RNTI are ignored once maxUEs RNTIs are tracked.
type Tracker struct {
	mu     sync.RWMutex
	maxUEs int
	ues    map[uint16]*UE
}

// NewTracker creates a tracker for up to maxUEs RNTIs.
func NewTracker(maxUEs int) *Tracker {
	if maxUEs <= 0 {
		maxUEs = DefaultMaxUEs
	}
	return &Tracker{maxUEs: maxUEs, ues: make(map[uint16]*UE)}
}

// Indicate implements harq.Sink.
func (t *Tracker) Indicate(ind harq.Indication) {
	if ind.Round < 0 || ind.Round >= harq.MaxRounds {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ue, ok := t.ues[ind.RNTI]
	if !ok {
		if len(t.ues) >= t.maxUEs {
			return
		}
		ue = &UE{RNTI: ind.RNTI}
		t.ues[ind.RNTI] = ue
	}

	ue.Frame = ind.Frame
	ue.RoundTrials[ind.Round]++
	if ind.OK {
		ue.TotalBytes += int64(ind.TBSize)
	} else {
		ue.RoundErrors[ind.Round]++
	}
	ue.CurrentQm = ind.Qm
	ue.CurrentLayers = ind.Layers
	ue.LastIterations = ind.Iterations
	ue.LastUpdate = ind.Time
	if ue.LastUpdate.IsZero() {
		ue.LastUpdate = time.Now()
	}
}

// Get returns a copy of the counters of rnti.
func (t *Tracker) Get(rnti uint16) (UE, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ue, ok := t.ues[rnti]
	if !ok {
		return UE{}, false
	}
	return *ue, true
}

// Snapshot returns copies of all tracked UEs ordered by RNTI.
func (t *Tracker) Snapshot() []UE {
	t.mu.RLock()
	out := make([]UE, 0, len(t.ues))
	for _, ue := range t.ues {
		out = append(out, *ue)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].RNTI < out[j].RNTI })
	return out
}

// Remove stops tracking rnti and frees its slot.
func (t *Tracker) Remove(rnti uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.ues, rnti)
}
