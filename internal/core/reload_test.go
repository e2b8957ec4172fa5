package core

import (
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testReloadEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Bus.Enabled = false
	e, err := NewEngine(cfg, WithLogOutput(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Shutdown)
	return e
}

func writeReloadConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func hasChange(changes []string, substr string) bool {
	return slices.ContainsFunc(changes, func(c string) bool { return strings.Contains(c, substr) })
}

func TestReloadConfig_EmptyPath_Error(t *testing.T) {
	e := testReloadEngine(t)
	if _, err := ReloadConfig(e, "", zerolog.Nop()); err == nil {
		t.Error("expected error for empty config path")
	}
}

func TestReloadConfig_NoChanges(t *testing.T) {
	e := testReloadEngine(t)
	path := writeReloadConfig(t, "bus:\n  enabled: false\n")
	changes, err := ReloadConfig(e, path, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changes) != 1 || changes[0] != "no changes detected" {
		t.Errorf("changes = %v", changes)
	}
}

func TestReloadConfig_InvalidFileKeepsOldConfig(t *testing.T) {
	e := testReloadEngine(t)
	before := e.Config()
	path := writeReloadConfig(t, "shield:\n  spike:\n    min_severity: apocalyptic\n")
	if _, err := ReloadConfig(e, path, zerolog.Nop()); err == nil {
		t.Fatal("expected error for bad min_severity")
	}
	if e.Config() != before {
		t.Error("config should not be swapped on a failed reload")
	}
}

func TestReloadConfig_LogLevelChange(t *testing.T) {
	e := testReloadEngine(t)
	t.Cleanup(func() { applyLogLevel("info") })

	path := writeReloadConfig(t, "logging:\n  level: debug\n")
	changes, err := ReloadConfig(e, path, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasChange(changes, "logging.level") {
		t.Errorf("expected logging level change in %v", changes)
	}
	if e.Config().LogLevel() != "debug" {
		t.Errorf("level = %q, want debug", e.Config().LogLevel())
	}
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Errorf("global level = %v, want debug", zerolog.GlobalLevel())
	}
}

func TestReloadConfig_ShieldTunables(t *testing.T) {
	e := testReloadEngine(t)
	path := writeReloadConfig(t, `
shield:
  block_base: 0.9
  breach_decrement: 0.1
  cycle_interval: 30s
  max_batch: 7
  seed: 99
`)
	changes, err := ReloadConfig(e, path, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasChange(changes, "shield tunables") {
		t.Errorf("expected shield tunables change in %v", changes)
	}
	if !hasChange(changes, "cycle_interval") {
		t.Errorf("expected cycle_interval change in %v", changes)
	}

	got := e.Shield.Config()
	if got.BlockBase != 0.9 || got.BreachDecrement != 0.1 {
		t.Errorf("shield config not applied: %+v", got)
	}
	if e.Scheduler.Interval() != 30*time.Second {
		t.Errorf("scheduler interval = %v, want 30s", e.Scheduler.Interval())
	}
	cfg := e.Config()
	if cfg.Shield.MaxBatch != DefaultConfig().Shield.MaxBatch {
		t.Error("max_batch is not hot-reloadable")
	}
	if cfg.Shield.Seed != 0 {
		t.Error("seed is not hot-reloadable")
	}
}

func TestReloadConfig_WebhooksAndKeys(t *testing.T) {
	e := testReloadEngine(t)
	path := writeReloadConfig(t, `
webhooks:
  urls: ["http://127.0.0.1:1/hook"]
server:
  api_keys: ["new-key"]
  read_only_keys: ["ro-key"]
  cors_origins: ["https://console.example"]
`)
	changes, err := ReloadConfig(e, path, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"webhooks.urls", "api keys", "cors_origins"} {
		if !hasChange(changes, want) {
			t.Errorf("missing %q in %v", want, changes)
		}
	}
	if got := e.Dispatcher.URLs(); len(got) != 1 {
		t.Errorf("dispatcher URLs = %v", got)
	}
	if e.Config().ValidateAPIKey("ro-key") != "read" {
		t.Error("read-only key not reloaded")
	}
}

// ─── WatchConfig ─────────────────────────────────────────────────────────────

func TestWatchConfig_FiresOnWrite(t *testing.T) {
	path := writeReloadConfig(t, "logging:\n  level: info\n")
	fired := make(chan struct{}, 4)

	ctx := t.Context()
	if err := WatchConfig(ctx, path, zerolog.Nop(), func() { fired <- struct{}{} }); err != nil {
		t.Fatalf("WatchConfig() error: %v", err)
	}

	// Sibling files are ignored.
	os.WriteFile(filepath.Join(filepath.Dir(path), "other.yaml"), []byte("x"), 0644)
	if err := os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not fire")
	}
}

func TestWatchConfig_MissingDirectory(t *testing.T) {
	err := WatchConfig(t.Context(), "/nonexistent/dir/config.yaml", zerolog.Nop(), func() {})
	if err == nil {
		t.Error("expected error watching a missing directory")
	}
}
