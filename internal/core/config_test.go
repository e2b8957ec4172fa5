package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/1sec-project/shieldcore/internal/shield"
)

// ─── DefaultConfig ──────────────────────────────────────────────────────────

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Host = %q, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Server.Port != 1790 {
		t.Errorf("default Port = %d, want 1790", cfg.Server.Port)
	}
	if !cfg.Bus.Embedded || !cfg.Bus.Enabled {
		t.Error("expected embedded bus enabled by default")
	}
	if cfg.Shield.MaxBatch != 500 {
		t.Errorf("default MaxBatch = %d, want 500", cfg.Shield.MaxBatch)
	}
	if cfg.Shield.CycleInterval != 5*time.Second {
		t.Errorf("default CycleInterval = %v, want 5s", cfg.Shield.CycleInterval)
	}
	if cfg.Shield.Spike.MinSeverity != "HIGH" {
		t.Errorf("default MinSeverity = %q, want HIGH", cfg.Shield.Spike.MinSeverity)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default Level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("default Format = %q, want console", cfg.Logging.Format)
	}
}

func TestDefaultConfig_EngineConfigMatchesShieldDefaults(t *testing.T) {
	got := DefaultConfig().EngineConfig()
	want := shield.DefaultConfig()
	if got != want {
		t.Errorf("EngineConfig() = %+v, want %+v", got, want)
	}
}

// ─── LoadConfig ─────────────────────────────────────────────────────────────

func TestLoadConfig_EmptyPath_ReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig(\"\") error: %v", err)
	}
	if cfg.Server.Port != 1790 {
		t.Errorf("expected default port 1790, got %d", cfg.Server.Port)
	}
}

func TestLoadConfig_NonExistentFile_ReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig("/this/path/does/not/exist/config.yaml")
	if err != nil {
		t.Fatalf("LoadConfig with non-existent file should not error, got: %v", err)
	}
	if cfg.Server.Port != 1790 {
		t.Errorf("expected default port 1790, got %d", cfg.Server.Port)
	}
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	yaml := `
server:
  host: "127.0.0.1"
  port: 9999
shield:
  seed: 7
  block_base: 0.8
  cycle_interval: 250ms
  rotation_interval: 1m
  spike:
    enabled: true
    min_severity: critical
    breach_threshold: 3
logging:
  level: "debug"
  format: "json"
`
	path := writeTempConfig(t, yaml)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Shield.Seed != 7 {
		t.Errorf("Seed = %d, want 7", cfg.Shield.Seed)
	}
	if cfg.Shield.CycleInterval != 250*time.Millisecond {
		t.Errorf("CycleInterval = %v, want 250ms", cfg.Shield.CycleInterval)
	}

	eng := cfg.EngineConfig()
	if eng.BlockBase != 0.8 {
		t.Errorf("BlockBase = %v, want 0.8", eng.BlockBase)
	}
	if eng.RotationInterval != time.Minute {
		t.Errorf("RotationInterval = %v, want 1m", eng.RotationInterval)
	}
	if eng.Spike.MinLevel != shield.LevelCritical {
		t.Errorf("Spike.MinLevel = %v, want CRITICAL", eng.Spike.MinLevel)
	}
	if eng.Spike.BreachThreshold != 3 {
		t.Errorf("Spike.BreachThreshold = %d, want 3", eng.Spike.BreachThreshold)
	}
	// Unset values keep their defaults.
	if eng.BasePower != 1.0 {
		t.Errorf("BasePower = %v, want default 1.0", eng.BasePower)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, ": bad: yaml: {{{{")
	_, err := LoadConfig(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadConfig_InvalidMinSeverity(t *testing.T) {
	path := writeTempConfig(t, "shield:\n  spike:\n    min_severity: apocalyptic\n")
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for unknown min_severity")
	}
}

func TestLoadConfig_APIKey_FromEnv(t *testing.T) {
	t.Setenv("SHIELDCORE_API_KEY", "env-test-key-12345")
	path := writeTempConfig(t, "")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Server.APIKeys) != 1 || cfg.Server.APIKeys[0] != "env-test-key-12345" {
		t.Errorf("APIKeys = %v, want [env-test-key-12345]", cfg.Server.APIKeys)
	}
}

func TestLoadConfig_APIKey_FromConfig_TakesPrecedence(t *testing.T) {
	t.Setenv("SHIELDCORE_API_KEY", "env-key")
	yaml := `
server:
  api_keys:
    - "config-key"
`
	path := writeTempConfig(t, yaml)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Server.APIKeys) != 1 || cfg.Server.APIKeys[0] != "config-key" {
		t.Errorf("expected config key to take precedence: %v", cfg.Server.APIKeys)
	}
}

// ─── SaveConfig ─────────────────────────────────────────────────────────────

func TestSaveConfig_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	original := DefaultConfig()
	original.Server.Port = 8888
	original.Shield.CycleInterval = 3 * time.Second
	original.Webhooks.URLs = []string{"https://hooks.example.com/shield"}

	if err := SaveConfig(original, path); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig after save error: %v", err)
	}
	if loaded.Server.Port != 8888 {
		t.Errorf("Port = %d, want 8888", loaded.Server.Port)
	}
	if loaded.Shield.CycleInterval != 3*time.Second {
		t.Errorf("CycleInterval = %v, want 3s", loaded.Shield.CycleInterval)
	}
	if len(loaded.Webhooks.URLs) != 1 {
		t.Errorf("Webhooks.URLs = %v, want one entry", loaded.Webhooks.URLs)
	}
}

// ─── LogLevel ────────────────────────────────────────────────────────────────

func TestLogLevel(t *testing.T) {
	cases := []struct{ in, want string }{
		{"INFO", "info"},
		{"DEBUG", "debug"},
		{"Warn", "warn"},
		{"", ""},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		cfg.Logging.Level = tc.in
		if got := cfg.LogLevel(); got != tc.want {
			t.Errorf("LogLevel(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// ─── AuthEnabled / ValidateAPIKey ────────────────────────────────────────────

func TestAuthEnabled(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.AuthEnabled() {
		t.Error("AuthEnabled should be false with no keys")
	}
	cfg.Server.APIKeys = []string{"key1"}
	if !cfg.AuthEnabled() {
		t.Error("AuthEnabled should be true with keys")
	}
}

func TestValidateAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.APIKeys = []string{"correct-key", "another-key"}
	cfg.Server.ReadOnlyKeys = []string{"readonly-key"}

	if cfg.ValidateAPIKey("correct-key") != "write" {
		t.Error("should accept 'correct-key' as write")
	}
	if cfg.ValidateAPIKey("another-key") != "write" {
		t.Error("should accept 'another-key' as write")
	}
	if cfg.ValidateAPIKey("readonly-key") != "read" {
		t.Error("should accept 'readonly-key' as read")
	}
	if cfg.ValidateAPIKey("wrong-key") != "" {
		t.Error("should reject 'wrong-key'")
	}
	if cfg.ValidateAPIKey("") != "" {
		t.Error("should reject empty key")
	}
}

func TestValidateAPIKey_TimingSafe(t *testing.T) {
	// Just ensure it doesn't panic with tricky inputs
	cfg := DefaultConfig()
	cfg.Server.APIKeys = []string{"a"}
	cfg.ValidateAPIKey(strings.Repeat("b", 10000))
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	return f.Name()
}

// ─── Validate ────────────────────────────────────────────────────────────────

func TestValidate_DefaultsClean(t *testing.T) {
	warnings, errs := DefaultConfig().Validate()
	if len(errs) != 0 {
		t.Errorf("default config errors: %v", errs)
	}
	if len(warnings) != 0 {
		t.Errorf("default config warnings: %v", warnings)
	}
}

func TestValidate_RejectsOutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Shield.BlockBase = 1.5
	cfg.Shield.MaxBatch = 0
	cfg.Server.Port = 70000
	cfg.Logging.Level = "loud"

	warnings, errs := cfg.Validate()
	if len(errs) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(errs), errs)
	}
	if len(warnings) != 1 {
		t.Errorf("expected 1 warning, got %v", warnings)
	}
}

func TestValidate_Syslog(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Syslog.Enabled = true
	if _, errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("default syslog settings should validate: %v", errs)
	}

	cfg.Syslog.Protocol = "sctp"
	cfg.Syslog.Port = cfg.Server.Port
	if _, errs := cfg.Validate(); len(errs) != 2 {
		t.Errorf("expected protocol and port clash errors, got %v", errs)
	}

	cfg.Syslog.Enabled = false
	if _, errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("disabled syslog should not be validated: %v", errs)
	}
}

func TestValidate_Feeds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Feeds = []FeedConfig{{Path: "/var/log/threats.jsonl"}, {Path: "/var/log/threats.jsonl"}}
	warnings, errs := cfg.Validate()
	if len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "repeats path") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected repeated path warning, got %v", warnings)
	}

	cfg.Feeds = []FeedConfig{{Path: "  "}}
	if _, errs := cfg.Validate(); len(errs) != 1 {
		t.Errorf("expected missing path error, got %v", errs)
	}
}
