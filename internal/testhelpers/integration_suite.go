package testhelpers

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/dbehnke/nr-codec/pkg/config"
	"github.com/dbehnke/nr-codec/pkg/logger"
)

// IntegrationSuite provides infrastructure for integration tests
type IntegrationSuite struct {
	T      *testing.T
	Config *config.Config
	Logger *logger.Logger
	Ctx    context.Context
	Cancel context.CancelFunc
	Dir    string
}

// NewIntegrationSuite creates a suite with a 30s context, a quiet logger
// and a default configuration rooted in a temporary directory.
func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	dir := t.TempDir()

	cfg := CreateDefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "nr-codec.db")
	cfg.Capture.Dir = filepath.Join(dir, "captures")

	return &IntegrationSuite{
		T:      t,
		Config: cfg,
		Logger: QuietLogger(),
		Ctx:    ctx,
		Cancel: cancel,
		Dir:    dir,
	}
}

// GetFreePort gets a free port for testing
func (s *IntegrationSuite) GetFreePort() int {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		s.T.Fatal(err)
	}

	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		s.T.Fatal(err)
	}
	defer func() { _ = listener.Close() }()

	return listener.Addr().(*net.TCPAddr).Port
}

// Cleanup cancels the suite context
func (s *IntegrationSuite) Cleanup() {
	s.Cancel()
}

// WaitFor waits for a condition to be true
func (s *IntegrationSuite) WaitFor(condition func() bool, timeout time.Duration, message string) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.T.Logf("WaitFor timeout: %s", message)
	return false
}

// AssertEventually asserts that a condition becomes true within timeout
func (s *IntegrationSuite) AssertEventually(condition func() bool, timeout time.Duration, message string) {
	if !s.WaitFor(condition, timeout, message) {
		s.T.Errorf("Assertion failed: %s", message)
	}
}

// CreateDefaultConfig returns a loopback configuration with a small
// allocation (54 byte blocks) on an ephemeral port and every outer
// surface disabled.
func CreateDefaultConfig() *config.Config {
	return &config.Config{
		Codec: config.CodecConfig{
			MaxIterations:  8,
			HarqProcesses:  4,
			Workers:        2,
			QueueDepth:     256,
			MaxRBs:         273,
			MaxLayers:      4,
			GraphCacheSize: 8,
		},
		Link: config.LinkConfig{
			Listen:      "127.0.0.1:0",
			RNTI:        0x4601,
			RBs:         5,
			Qm:          2,
			Layers:      1,
			TargetRate:  340,
			Symbols:     12,
			DMRSSymbols: 1,
			DMRSRE:      12,
			SNRdB:       30,
			LLRScale:    4,
			MaxRounds:   4,
			Seed:        1,
		},
		Web: config.WebConfig{
			Enabled: false,
			Host:    "127.0.0.1",
		},
		MQTT: config.MQTTConfig{
			Enabled:     false,
			TopicPrefix: "nr/test",
		},
		Metrics: config.MetricsConfig{
			Enabled: false,
		},
		Database: config.DatabaseConfig{
			Enabled: false,
			Path:    "nr-codec.db",
		},
		Capture: config.CaptureConfig{
			Enabled:    false,
			Dir:        "captures",
			OnNackOnly: true,
		},
		Logging: config.LoggingConfig{
			Level:  "error",
			Format: "text",
		},
	}
}
