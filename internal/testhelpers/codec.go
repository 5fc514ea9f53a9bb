package testhelpers

import (
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/dbehnke/nr-codec/pkg/fixedpoint"
	"github.com/dbehnke/nr-codec/pkg/harq"
	"github.com/dbehnke/nr-codec/pkg/logger"
)

// QuietLogger returns a logger that discards everything below error.
func QuietLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Output: io.Discard})
}

// Payload returns n deterministic pseudo-random bytes.
func Payload(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

// SoftBits maps coded bits to noiseless soft values of magnitude mag,
// positive for 0.
func SoftBits(bits []uint8, mag fixedpoint.LLR) []fixedpoint.LLR {
	llr := make([]fixedpoint.LLR, len(bits))
	for i, b := range bits {
		if b == 0 {
			llr[i] = mag
		} else {
			llr[i] = -mag
		}
	}
	return llr
}

// FlipEvery negates every n-th soft value, starting with the first.
func FlipEvery(llr []fixedpoint.LLR, n int) []fixedpoint.LLR {
	for i := 0; i < len(llr); i += n {
		llr[i] = -llr[i]
	}
	return llr
}

// RecordingSink collects indications and forwards them on a channel.
type RecordingSink struct {
	mu   sync.Mutex
	all  []harq.Indication
	next chan harq.Indication
}

// NewRecordingSink creates a sink buffering up to 64 undelivered indications.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{next: make(chan harq.Indication, 64)}
}

// Indicate implements harq.Sink.
func (s *RecordingSink) Indicate(ind harq.Indication) {
	s.mu.Lock()
	s.all = append(s.all, ind)
	s.mu.Unlock()
	s.next <- ind
}

// Wait returns the next indication or fails the test after timeout.
func (s *RecordingSink) Wait(t testing.TB, timeout time.Duration) harq.Indication {
	t.Helper()
	select {
	case ind := <-s.next:
		return ind
	case <-time.After(timeout):
		t.Fatalf("no indication within %s", timeout)
		return harq.Indication{}
	}
}

// All returns every indication received so far.
func (s *RecordingSink) All() []harq.Indication {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]harq.Indication(nil), s.all...)
}
