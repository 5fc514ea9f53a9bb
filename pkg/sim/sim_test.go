package sim

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/icza/gog"

	"github.com/dbehnke/nr-codec/internal/testhelpers"
	"github.com/dbehnke/nr-codec/pkg/capture"
	"github.com/dbehnke/nr-codec/pkg/channel"
	"github.com/dbehnke/nr-codec/pkg/fixedpoint"
	"github.com/dbehnke/nr-codec/pkg/harq"
	"github.com/dbehnke/nr-codec/pkg/ldpc"
	"github.com/dbehnke/nr-codec/pkg/sch"
	"github.com/dbehnke/nr-codec/pkg/segment"
	"github.com/dbehnke/nr-codec/pkg/tbs"
)

// smallAlloc carries a 54 byte block in 1320 coded bits on BG2.
var smallAlloc = tbs.Allocation{RBs: 5, Symbols: 12, DMRSSymbols: 1, DMRSREPerRB: 12, Qm: 2, Layers: 1, TargetRate: 340}

func testConfig(snrs ...float64) Config {
	return Config{
		Alloc:         smallAlloc,
		SNRs:          snrs,
		Blocks:        3,
		MaxRounds:     4,
		MaxIterations: 8,
		LLRScale:      4,
		Seed:          7,
		Parallel:      2,
	}
}

func TestRun(t *testing.T) {
	codec := gog.Must(ldpc.NewMinSum(4))
	res, err := Run(context.Background(), testConfig(30, -20), codec, testhelpers.QuietLogger())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.TBSize != 54 || res.G != 1320 {
		t.Fatalf("TBSize=%d G=%d, want 54 1320", res.TBSize, res.G)
	}
	if len(res.Points) != 2 {
		t.Fatalf("got %d points", len(res.Points))
	}

	high, low := res.Points[0], res.Points[1]
	t.Run("high snr", func(t *testing.T) {
		if high.SNRdB != 30 || high.Blocks != 3 {
			t.Fatalf("point = %+v", high)
		}
		if high.BLER() != 0 || high.ResidualBLER() != 0 || high.Undetected != 0 {
			t.Errorf("bler=%v residual=%v undetected=%d", high.BLER(), high.ResidualBLER(), high.Undetected)
		}
		if high.Attempts != 3 {
			t.Errorf("attempts = %d, want 3", high.Attempts)
		}
		if high.ThroughputMbps(DefaultSlot) <= 0 {
			t.Error("no throughput")
		}
		if high.MeanIterations() < 1 {
			t.Errorf("mean iterations = %v", high.MeanIterations())
		}
	})
	t.Run("low snr", func(t *testing.T) {
		if low.ResidualBLER() != 1 || low.BLER() != 1 {
			t.Errorf("bler=%v residual=%v", low.BLER(), low.ResidualBLER())
		}
		if low.Attempts != 12 {
			t.Errorf("attempts = %d, want 12", low.Attempts)
		}
		if low.ThroughputMbps(DefaultSlot) != 0 {
			t.Error("throughput on a dead channel")
		}
	})

	rows := res.Records()
	if len(rows) != 2 {
		t.Fatalf("got %d rows", len(rows))
	}
	for _, r := range rows {
		if r.RunID != res.RunID || r.TBSize != 54 || r.Qm != 2 {
			t.Errorf("row = %+v", r)
		}
	}
	if rows[1].ResidualBLER != 1 {
		t.Errorf("row residual = %v", rows[1].ResidualBLER)
	}
}

func TestRunErrors(t *testing.T) {
	codec := gog.Must(ldpc.NewMinSum(4))
	log := testhelpers.QuietLogger()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	empty := testConfig()
	noBlocks := testConfig(10)
	noBlocks.Blocks = 0
	noTB := testConfig(10)
	noTB.Alloc.RBs = 0

	tests := []struct {
		name string
		ctx  context.Context
		cfg  Config
		want error
	}{
		{"no points", context.Background(), empty, ErrNoPoints},
		{"no blocks", context.Background(), noBlocks, nil},
		{"empty allocation", context.Background(), noTB, nil},
		{"cancelled", cancelled, testConfig(10), context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(tt.ctx, tt.cfg, codec, log)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPointRates(t *testing.T) {
	var zero Point
	if zero.BLER() != 0 || zero.ResidualBLER() != 0 || zero.MeanIterations() != 0 || zero.ThroughputMbps(DefaultSlot) != 0 {
		t.Error("empty point should report zeros")
	}
	p := Point{Blocks: 4, Attempts: 5, Round0Errors: 1, Iterations: 10, DeliveredBits: 4000}
	if p.BLER() != 0.25 {
		t.Errorf("BLER = %v", p.BLER())
	}
	if p.MeanIterations() != 2 {
		t.Errorf("MeanIterations = %v", p.MeanIterations())
	}
	// 4000 bits over 5 slots of 500us
	if got := p.ThroughputMbps(DefaultSlot); got < 1.599 || got > 1.601 {
		t.Errorf("ThroughputMbps = %v", got)
	}
}

func TestReplay(t *testing.T) {
	codec := gog.Must(ldpc.NewMinSum(4))
	log := testhelpers.QuietLogger()

	desc := sch.Descriptor{TBSize: 54, RBs: 5, Qm: 2, Layers: 1, TargetRate: 340, NDI: 1}
	g := smallAlloc.CodedBits()
	payload := testhelpers.Payload(desc.TBSize, 11)

	tx := harq.NewEntity(0x4601, harq.Transmit, 4, segment.Capacity(desc.RBs, desc.Layers))
	defer tx.Close()
	bits := gog.Must(sch.NewEncoder(codec, tx, log).Encode(2, payload, desc, g))

	clean := make([]fixedpoint.LLR, g)
	if err := channel.Noiseless(bits, clean, 32); err != nil {
		t.Fatal(err)
	}

	inverted := make([]fixedpoint.LLR, g)
	for i, v := range clean {
		inverted[i] = -v
	}

	tests := []struct {
		name string
		llr  []fixedpoint.LLR
		ok   bool
	}{
		{"clean", clean, true},
		{"inverted", inverted, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &capture.Record{RNTI: 0x4601, PID: 2, Frame: 10, Slot: 3, G: g, Descriptor: desc, LLR: tt.llr}
			ind, err := Replay(rec, codec, 8, log)
			if err != nil {
				t.Fatalf("Replay: %v", err)
			}
			if ind.OK != tt.ok {
				t.Fatalf("OK = %v, want %v", ind.OK, tt.ok)
			}
			if ind.RNTI != 0x4601 || ind.PID != 2 || ind.Frame != 10 || ind.Slot != 3 {
				t.Errorf("indication = %+v", ind)
			}
			if tt.ok && !bytes.Equal(ind.Payload, payload) {
				t.Error("payload mismatch")
			}
		})
	}

	t.Run("negative pid", func(t *testing.T) {
		if _, err := Replay(&capture.Record{PID: -1}, codec, 8, log); err == nil {
			t.Error("expected error")
		}
	})
}
