package web

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/dbehnke/nr-codec/pkg/config"
	"github.com/dbehnke/nr-codec/pkg/logger"
)

func TestServer_New(t *testing.T) {
	cfg := config.WebConfig{Enabled: true, Host: "localhost", Port: 8080}

	srv := NewServer(cfg, Sources{}, logger.New(logger.Config{Level: "error"}))
	if srv == nil {
		t.Fatal("NewServer returned nil")
	}
	if srv.config.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", srv.config.Port)
	}
	if srv.GetHub() == nil {
		t.Error("Expected a WebSocket hub")
	}
}

func TestServer_Disabled(t *testing.T) {
	srv := NewServer(config.WebConfig{Enabled: false}, Sources{}, logger.New(logger.Config{Level: "error"}))
	if err := srv.Start(context.Background()); err != nil {
		t.Errorf("Expected nil error when disabled, got %v", err)
	}
	if srv.GetAddr() != "" {
		t.Error("Expected no address when disabled")
	}
}

func TestServer_StartStop(t *testing.T) {
	cfg := config.WebConfig{Enabled: true, Host: "localhost", Port: 0}
	srv := NewServer(cfg, Sources{}, logger.New(logger.Config{Level: "error"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	err := <-errChan
	if err != nil && err != context.Canceled && err != http.ErrServerClosed {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestServer_HealthEndpoint(t *testing.T) {
	cfg := config.WebConfig{Enabled: true, Host: "localhost", Port: 0}
	srv := NewServer(cfg, Sources{}, logger.New(logger.Config{Level: "error"}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		if err := srv.Start(ctx); err != nil && err != context.Canceled && err != http.ErrServerClosed {
			t.Logf("srv.Start error: %v", err)
		}
	}()
	time.Sleep(100 * time.Millisecond)

	addr := srv.GetAddr()
	if addr == "" {
		t.Fatal("Server address is empty")
	}

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("Failed to request health endpoint: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	if body["service"] != "nr-codec" {
		t.Errorf("unexpected service %v", body["service"])
	}
}
