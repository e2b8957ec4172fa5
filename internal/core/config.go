package core

import (
	"crypto/subtle"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/1sec-project/shieldcore/internal/shield"
	"gopkg.in/yaml.v3"
)

// Config holds the entire Shield Core configuration.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Bus      BusConfig     `yaml:"bus"`
	Shield   ShieldConfig  `yaml:"shield"`
	Webhooks WebhookConfig `yaml:"webhooks"`
	Syslog   SyslogConfig  `yaml:"syslog"`
	Feeds    []FeedConfig  `yaml:"feeds"`
	Logging  LoggingConfig `yaml:"logging"`
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Host         string          `yaml:"host"`
	Port         int             `yaml:"port"`
	APIKeys      []string        `yaml:"api_keys"`
	ReadOnlyKeys []string        `yaml:"read_only_keys"`
	CORSOrigins  []string        `yaml:"cors_origins"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig is the per-client token bucket applied to the API.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// BusConfig holds NATS event bus settings.
type BusConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Embedded bool   `yaml:"embedded"`
	DataDir  string `yaml:"data_dir"`
	Port     int    `yaml:"port"`
}

// ShieldConfig holds the engine tunables and the cycle scheduler settings.
type ShieldConfig struct {
	Seed                uint64        `yaml:"seed"`
	BasePower           float64       `yaml:"base_power"`
	BlockBase           float64       `yaml:"block_base"`
	BreachDecrement     float64       `yaml:"breach_decrement"`
	HistorySize         int           `yaml:"history_size"`
	RotationInterval    time.Duration `yaml:"rotation_interval"`
	RotationJitter      float64       `yaml:"rotation_jitter"`
	CycleInterval       time.Duration `yaml:"cycle_interval"`
	MaxBatch            int           `yaml:"max_batch"`
	DedupWindow         time.Duration `yaml:"dedup_window"`
	TraceFile           string        `yaml:"trace_file"`
	Spike               SpikeSettings `yaml:"spike"`
	CollaboratorTimeout time.Duration `yaml:"collaborator_timeout"`
}

// SpikeSettings configures the offensive spike controller.
type SpikeSettings struct {
	Enabled         bool    `yaml:"enabled"`
	MinSeverity     string  `yaml:"min_severity"`
	BreachThreshold int     `yaml:"breach_threshold"`
	MinPower        float64 `yaml:"min_power"`
}

// WebhookConfig lists the status webhook targets.
type WebhookConfig struct {
	URLs  []string    `yaml:"urls"`
	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig controls webhook delivery retries.
type RetryConfig struct {
	MaxRetries       int           `yaml:"max_retries"`
	InitialBackoff   time.Duration `yaml:"initial_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
	Timeout          time.Duration `yaml:"timeout"`
	CircuitThreshold int           `yaml:"circuit_threshold"`
	CircuitReset     time.Duration `yaml:"circuit_reset"`
}

// SyslogConfig configures the syslog threat listener.
type SyslogConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Protocol string `yaml:"protocol"` // udp, tcp or both
}

// FeedConfig names a JSON-lines file of threat submissions to follow.
type FeedConfig struct {
	Path string `yaml:"path"`
	Tag  string `yaml:"tag"` // default source when a line has none
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sane defaults. Zero-config works out of the box.
func DefaultConfig() *Config {
	eng := shield.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 1790,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 20,
				Burst:             40,
			},
		},
		Bus: BusConfig{
			Enabled:  true,
			URL:      "nats://127.0.0.1:4223",
			Embedded: true,
			DataDir:  "./data/nats",
			Port:     4223,
		},
		Shield: ShieldConfig{
			BasePower:        eng.BasePower,
			BlockBase:        eng.BlockBase,
			BreachDecrement:  eng.BreachDecrement,
			HistorySize:      eng.HistorySize,
			RotationInterval: eng.RotationInterval,
			RotationJitter:   eng.RotationJitter,
			CycleInterval:    5 * time.Second,
			MaxBatch:         500,
			DedupWindow:      5 * time.Minute,
			Spike: SpikeSettings{
				Enabled:         eng.Spike.Enabled,
				MinSeverity:     eng.Spike.MinLevel.String(),
				BreachThreshold: eng.Spike.BreachThreshold,
				MinPower:        eng.Spike.MinPower,
			},
			CollaboratorTimeout: eng.CollaboratorTimeout,
		},
		Webhooks: WebhookConfig{
			Retry: RetryConfig{
				MaxRetries:       5,
				InitialBackoff:   2 * time.Second,
				MaxBackoff:       5 * time.Minute,
				Timeout:          10 * time.Second,
				CircuitThreshold: 10,
				CircuitReset:     5 * time.Minute,
			},
		},
		Syslog: SyslogConfig{
			Host:     "0.0.0.0",
			Port:     1514,
			Protocol: "udp",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from a YAML file, falling back to defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if _, ok := shield.ParseThreatLevel(cfg.Shield.Spike.MinSeverity); !ok {
		return nil, fmt.Errorf("invalid shield.spike.min_severity %q", cfg.Shield.Spike.MinSeverity)
	}

	// Load API keys from environment if not set in config
	if len(cfg.Server.APIKeys) == 0 {
		if envKey := os.Getenv("SHIELDCORE_API_KEY"); envKey != "" {
			cfg.Server.APIKeys = []string{envKey}
		}
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// EngineConfig converts the shield section into engine tunables.
func (c *Config) EngineConfig() shield.Config {
	s := c.Shield
	minLevel, ok := shield.ParseThreatLevel(s.Spike.MinSeverity)
	if !ok {
		minLevel = shield.LevelHigh
	}
	return shield.Config{
		BasePower:        s.BasePower,
		BlockBase:        s.BlockBase,
		BreachDecrement:  s.BreachDecrement,
		HistorySize:      s.HistorySize,
		RotationInterval: s.RotationInterval,
		RotationJitter:   s.RotationJitter,
		Spike: shield.SpikeConfig{
			Enabled:         s.Spike.Enabled,
			MinLevel:        minLevel,
			BreachThreshold: s.Spike.BreachThreshold,
			MinPower:        s.Spike.MinPower,
		},
		CollaboratorTimeout: s.CollaboratorTimeout,
	}
}

// LogLevel returns the parsed log level string.
func (c *Config) LogLevel() string {
	return strings.ToLower(c.Logging.Level)
}

// AuthEnabled returns true if API key authentication is configured.
func (c *Config) AuthEnabled() bool {
	return len(c.Server.APIKeys) > 0 || len(c.Server.ReadOnlyKeys) > 0
}

// ValidateAPIKey returns "write" for a full key, "read" for a read-only key
// and "" otherwise. Uses constant-time comparison to prevent timing attacks.
func (c *Config) ValidateAPIKey(key string) string {
	if key == "" {
		return ""
	}
	for _, valid := range c.Server.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return "write"
		}
	}
	for _, valid := range c.Server.ReadOnlyKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return "read"
		}
	}
	return ""
}

// Validate checks ranges that LoadConfig does not. Warnings are
// survivable; errors should stop startup.
func (c *Config) Validate() (warnings []string, errs []error) {
	s := c.Shield
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if s.BasePower <= 0 {
		errs = append(errs, fmt.Errorf("shield.base_power must be positive, got %v", s.BasePower))
	}
	if s.BlockBase <= 0 || s.BlockBase > 1 {
		errs = append(errs, fmt.Errorf("shield.block_base must be in (0,1], got %v", s.BlockBase))
	}
	if s.BreachDecrement < 0 || s.BreachDecrement > 1 {
		errs = append(errs, fmt.Errorf("shield.breach_decrement must be in [0,1], got %v", s.BreachDecrement))
	}
	if s.HistorySize <= 0 {
		errs = append(errs, fmt.Errorf("shield.history_size must be positive, got %d", s.HistorySize))
	}
	if s.MaxBatch <= 0 {
		errs = append(errs, fmt.Errorf("shield.max_batch must be positive, got %d", s.MaxBatch))
	}
	if s.RotationJitter < 0 || s.RotationJitter > 0.5 {
		warnings = append(warnings, fmt.Sprintf("shield.rotation_jitter %v is unusual, expected 0..0.5", s.RotationJitter))
	}
	if s.CycleInterval < time.Second {
		warnings = append(warnings, fmt.Sprintf("shield.cycle_interval %s is very short", s.CycleInterval))
	}
	if c.Bus.Enabled && !c.Bus.Embedded && c.Bus.URL == "" {
		errs = append(errs, fmt.Errorf("bus.url is required when the embedded server is disabled"))
	}
	if c.Syslog.Enabled {
		if c.Syslog.Port <= 0 || c.Syslog.Port > 65535 {
			errs = append(errs, fmt.Errorf("syslog.port %d out of range", c.Syslog.Port))
		}
		if c.Syslog.Port == c.Server.Port {
			errs = append(errs, fmt.Errorf("syslog.port and server.port are both %d", c.Syslog.Port))
		}
		switch strings.ToLower(c.Syslog.Protocol) {
		case "udp", "tcp", "both":
		default:
			errs = append(errs, fmt.Errorf("syslog.protocol %q must be udp, tcp or both", c.Syslog.Protocol))
		}
	}
	seen := make(map[string]bool, len(c.Feeds))
	for i, f := range c.Feeds {
		if strings.TrimSpace(f.Path) == "" {
			errs = append(errs, fmt.Errorf("feeds[%d].path is required", i))
			continue
		}
		if seen[f.Path] {
			warnings = append(warnings, fmt.Sprintf("feeds[%d] repeats path %s", i, f.Path))
		}
		seen[f.Path] = true
	}
	if c.Server.RateLimit.RequestsPerSecond <= 0 {
		warnings = append(warnings, "server.rate_limit disabled")
	}
	switch c.LogLevel() {
	case "debug", "info", "warn", "error":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown logging.level %q, using info", c.Logging.Level))
	}
	return warnings, errs
}
