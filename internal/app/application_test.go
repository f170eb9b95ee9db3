package app

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"lectern/internal/config"
	"lectern/internal/database"
	"lectern/internal/generator"
	"lectern/internal/router"
	"lectern/internal/session"
	"lectern/internal/websocket"
	"lectern/pkg/interfaces"
)

// Components must satisfy the boundaries they are wired through
var (
	_ interfaces.Store           = (*database.Manager)(nil)
	_ interfaces.SessionRegistry = (*session.Manager)(nil)
	_ interfaces.MessageRouter   = (*router.Router)(nil)
	_ websocket.Router           = (*router.Router)(nil)
	_ interfaces.Connection      = (*websocket.Connection)(nil)
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "data", "lectern.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	return cfg
}

func TestApplication_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Port = -1

	application, err := NewApplication(cfg)
	if err == nil {
		t.Error("Constructor should reject invalid configuration")
	}
	if application != nil {
		t.Error("Constructor should not return application with invalid config")
	}
}

func TestApplication_UnconfiguredAIUsesUnavailableGenerator(t *testing.T) {
	gen, err := newGenerator(&config.AIConfig{})
	if err != nil {
		t.Fatalf("newGenerator failed: %v", err)
	}
	if _, ok := gen.(generator.Unavailable); !ok {
		t.Errorf("Expected Unavailable generator, got %T", gen)
	}
}

func TestApplication_StartServeStop(t *testing.T) {
	application, err := NewApplication(testConfig(t), WithGenerator(generator.Unavailable{}))
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	resp, err := http.Get("http://" + application.Addr() + "/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected healthy server, got %d", resp.StatusCode)
	}

	resp, err = http.Post("http://"+application.Addr()+"/start-session", "application/json", nil)
	if err != nil {
		t.Fatalf("start-session failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("Expected 201, got %d", resp.StatusCode)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := application.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestApplication_RestartClosesStaleSessions(t *testing.T) {
	cfg := testConfig(t)

	first, err := NewApplication(cfg, WithGenerator(generator.Unavailable{}))
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	sess, err := first.sessions.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	// Simulate a crash: the database is closed without closing sessions
	if err := first.store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := NewApplication(cfg, WithGenerator(generator.Unavailable{}))
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	defer second.store.Close()

	record, err := second.store.GetSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if record.Status != "closed" {
		t.Errorf("Expected stale session closed at startup, got %q", record.Status)
	}
	if second.sessions.SessionExists(sess.ID) {
		t.Error("Stale sessions cannot be resumed")
	}
}
