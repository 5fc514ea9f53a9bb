//go:build integration
// +build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/icza/gog"

	"github.com/dbehnke/nr-codec/internal/testhelpers"
	"github.com/dbehnke/nr-codec/pkg/capture"
	"github.com/dbehnke/nr-codec/pkg/config"
	"github.com/dbehnke/nr-codec/pkg/database"
	"github.com/dbehnke/nr-codec/pkg/harq"
	"github.com/dbehnke/nr-codec/pkg/ldpc"
	"github.com/dbehnke/nr-codec/pkg/link"
	"github.com/dbehnke/nr-codec/pkg/metrics"
	"github.com/dbehnke/nr-codec/pkg/sch"
	"github.com/dbehnke/nr-codec/pkg/sim"
	"github.com/dbehnke/nr-codec/pkg/stats"
	"github.com/dbehnke/nr-codec/pkg/tbs"
	"github.com/dbehnke/nr-codec/pkg/web"
)

// stack is the loopback service as cmd/nr-codec assembles it.
type stack struct {
	link      *link.Link
	tracker   *stats.Tracker
	collector *metrics.Collector
	db        *database.DB
	web       *web.Server
}

func newLink(t *testing.T, cfg *config.Config, sink harq.Sink, suite *testhelpers.IntegrationSuite) *link.Link {
	t.Helper()
	lk, err := link.New(
		link.Config{
			Listen: cfg.Link.Listen,
			RNTI:   uint16(cfg.Link.RNTI),
			Alloc: tbs.Allocation{
				RBs:         cfg.Link.RBs,
				Symbols:     cfg.Link.Symbols,
				DMRSSymbols: cfg.Link.DMRSSymbols,
				DMRSREPerRB: cfg.Link.DMRSRE,
				Qm:          cfg.Link.Qm,
				Layers:      cfg.Link.Layers,
				TargetRate:  cfg.Link.TargetRate,
			},
			SNRdB:     cfg.Link.SNRdB,
			LLRScale:  cfg.Link.LLRScale,
			MaxRounds: cfg.Link.MaxRounds,
			Processes: cfg.Codec.HarqProcesses,
			Seed:      cfg.Link.Seed,
		},
		gog.Must(ldpc.NewMinSum(cfg.Codec.GraphCacheSize)),
		sch.Config{
			MaxIterations: cfg.Codec.MaxIterations,
			Offload:       cfg.Codec.Offload,
			Workers:       cfg.Codec.Workers,
			QueueDepth:    cfg.Codec.QueueDepth,
		},
		sink,
		suite.Logger,
	)
	if err != nil {
		t.Fatalf("link.New: %v", err)
	}
	return lk
}

func startStack(t *testing.T, suite *testhelpers.IntegrationSuite) *stack {
	t.Helper()
	cfg := suite.Config
	cfg.Web.Enabled = true
	cfg.Web.Port = 0

	s := &stack{
		tracker:   stats.NewTracker(0),
		collector: metrics.NewCollector(),
	}
	db, err := database.NewDB(database.Config{Path: cfg.Database.Path}, suite.Logger)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s.db = db

	recorder := database.NewRecorder(db.Blocks(), cfg.Link.MaxRounds, suite.Logger)
	s.web = web.NewServer(cfg.Web, web.Sources{Stats: s.tracker, Summary: s.collector, Blocks: db.Blocks()}, suite.Logger)

	sinks := harq.Fanout{s.tracker, s.collector, recorder, s.web.GetHub()}
	s.link = newLink(t, cfg, sinks, suite)
	s.link.SetObserver(s.collector)

	ctx, cancel := context.WithCancel(suite.Ctx)
	done := make(chan struct{}, 3)
	go func() {
		_ = s.link.Start(ctx)
		done <- struct{}{}
	}()
	go func() {
		recorder.Run(ctx)
		done <- struct{}{}
	}()
	go func() {
		_ = s.web.Start(ctx)
		done <- struct{}{}
	}()
	t.Cleanup(func() {
		cancel()
		for range 3 {
			<-done
		}
		s.link.Close()
	})

	if err := s.link.WaitStarted(suite.Ctx); err != nil {
		t.Fatalf("link did not start: %v", err)
	}
	suite.AssertEventually(func() bool { return s.web.GetAddr() != "" }, 2*time.Second, "web server listening")
	return s
}

func TestLoopbackEcho(t *testing.T) {
	suite := testhelpers.NewIntegrationSuite(t)
	defer suite.Cleanup()
	s := startStack(t, suite)

	conn, err := net.DialUDP("udp", nil, gog.Must(s.link.Addr()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	buf := make([]byte, 256)
	for i := 0; i < 5; i++ {
		msg := []byte(fmt.Sprintf("datagram %d over the shared channel", i))
		if _, err := conn.Write(msg); err != nil {
			t.Fatalf("write: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("datagram %d: no echo: %v", i, err)
		}
		if !bytes.Equal(buf[:n], msg) {
			t.Errorf("datagram %d: echo %q", i, buf[:n])
		}
	}

	suite.AssertEventually(func() bool {
		ue, ok := s.tracker.Get(0x4601)
		return ok && ue.RoundTrials[0] == 5
	}, 2*time.Second, "tracker saw five first transmissions")

	suite.AssertEventually(func() bool {
		sum := s.collector.Summary()
		return sum.Acks == 5 && sum.Nacks == 0 && sum.BlocksEncoded == 5
	}, 2*time.Second, "collector counted five ACKs")

	resp, err := http.Get("http://" + s.web.GetAddr() + "/api/stats")
	if err != nil {
		t.Fatalf("GET /api/stats: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var ues []stats.UE
	if err := json.NewDecoder(resp.Body).Decode(&ues); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if len(ues) != 1 || ues[0].RNTI != 0x4601 || ues[0].TotalBytes != 5*54 {
		t.Errorf("stats = %+v", ues)
	}

	suite.AssertEventually(func() bool {
		ok, _, err := s.db.Blocks().Outcomes()
		return err == nil && ok == 5
	}, 2*time.Second, "five blocks stored")
}

func TestLossyLinkCaptureReplay(t *testing.T) {
	suite := testhelpers.NewIntegrationSuite(t)
	defer suite.Cleanup()

	cfg := suite.Config
	cfg.Link.SNRdB = -20
	tracker := stats.NewTracker(0)
	lk := newLink(t, cfg, tracker, suite)
	defer lk.Close()
	w := gog.Must(capture.NewWriter(capture.Config{Dir: cfg.Capture.Dir, OnNackOnly: true}, suite.Logger))
	lk.SetCapture(w)

	ind, out, err := lk.Transmit(suite.Ctx, []byte("into the noise"))
	if err != nil {
		t.Fatalf("Transmit: %v", err)
	}
	if out != nil || ind.OK {
		t.Fatal("block survived -20 dB")
	}

	suite.AssertEventually(func() bool {
		ue, ok := tracker.Get(0x4601)
		return ok && ue.RoundTrials[harq.MaxRounds-1] == 1
	}, 2*time.Second, "tracker saw the last round")
	ue, _ := tracker.Get(0x4601)
	for r := 0; r < harq.MaxRounds; r++ {
		if ue.BLER(r) != 1 {
			t.Errorf("round %d BLER = %v", r, ue.BLER(r))
		}
	}

	files := gog.Must(capture.List(cfg.Capture.Dir))
	if len(files) != cfg.Link.MaxRounds {
		t.Fatalf("got %d captures, want %d", len(files), cfg.Link.MaxRounds)
	}
	codec := gog.Must(ldpc.NewMinSum(2))
	for _, f := range files {
		rec := gog.Must(capture.ReadFile(f))
		got, err := sim.Replay(rec, codec, cfg.Codec.MaxIterations, suite.Logger)
		if err != nil {
			t.Fatalf("Replay %s: %v", f, err)
		}
		if got.OK {
			t.Errorf("%s decoded on replay", f)
		}
	}
}
