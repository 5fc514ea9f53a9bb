//go:build integration
// +build integration

package testhelpers

import (
	"path/filepath"
	"testing"
	"time"
)

func TestIntegrationSuite_Basic(t *testing.T) {
	suite := NewIntegrationSuite(t)
	defer suite.Cleanup()

	if suite.Logger == nil {
		t.Error("Expected logger to be initialized")
	}
	if suite.Ctx == nil {
		t.Error("Expected context to be initialized")
	}
	if filepath.Dir(suite.Config.Database.Path) != suite.Dir {
		t.Errorf("Expected database under %s, got %s", suite.Dir, suite.Config.Database.Path)
	}
}

func TestIntegrationSuite_WaitFor(t *testing.T) {
	suite := NewIntegrationSuite(t)
	defer suite.Cleanup()

	counter := 0
	condition := func() bool {
		counter++
		return counter >= 5
	}

	if !suite.WaitFor(condition, 1*time.Second, "counter >= 5") {
		t.Error("Expected WaitFor to succeed")
	}
	if counter < 5 {
		t.Errorf("Expected counter >= 5, got %d", counter)
	}
}

func TestIntegrationSuite_WaitForTimeout(t *testing.T) {
	suite := NewIntegrationSuite(t)
	defer suite.Cleanup()

	if suite.WaitFor(func() bool { return false }, 100*time.Millisecond, "always false") {
		t.Error("Expected WaitFor to timeout")
	}
}

func TestIntegrationSuite_GetFreePort(t *testing.T) {
	suite := NewIntegrationSuite(t)
	defer suite.Cleanup()

	port := suite.GetFreePort()
	if port <= 0 || port > 65535 {
		t.Errorf("Invalid port number: %d", port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := CreateDefaultConfig()

	if cfg.Link.Listen != "127.0.0.1:0" {
		t.Errorf("Expected ephemeral listen address, got %s", cfg.Link.Listen)
	}
	if cfg.Codec.HarqProcesses != 4 {
		t.Errorf("Expected 4 HARQ processes, got %d", cfg.Codec.HarqProcesses)
	}
	if cfg.Web.Enabled || cfg.MQTT.Enabled || cfg.Database.Enabled {
		t.Error("Expected outer surfaces disabled")
	}
}
