package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/1sec-project/shieldcore/internal/shield"
	"github.com/1sec-project/shieldcore/internal/sinks"
	"github.com/rs/zerolog"
)

const (
	logBufferSize    = 1000
	traceBufferSize  = 500
	narrativeKeep    = 100
	dedupMaxEntries  = 100000
	dedupCleanupTick = time.Minute
)

// Engine is the shieldcore process: it owns the shield engine, the cycle
// scheduler, the sinks and every bridge the status is published through.
type Engine struct {
	cfg        atomic.Pointer[Config]
	pathMu     sync.RWMutex
	configPath string

	Shield     *shield.Engine
	Bus        *EventBus
	Scheduler  *Scheduler
	Dedup      *ThreatDedup
	Dispatcher *StatusDispatcher
	Traces     *sinks.TraceStore
	Narrative  *sinks.NarrativeLog
	Components *ComponentRegistry
	LogBuffer  *LogRingBuffer
	Logger     zerolog.Logger

	startMu   sync.RWMutex
	startTime time.Time

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// EngineOption customizes NewEngine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	logOutput io.Writer
}

// WithLogOutput sends log output to w instead of stdout.
func WithLogOutput(w io.Writer) EngineOption {
	return func(o *engineOptions) { o.logOutput = w }
}

// NewEngine wires the process but starts nothing; see Start.
func NewEngine(cfg *Config, opts ...EngineOption) (*Engine, error) {
	o := engineOptions{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	logBuffer := NewLogRingBuffer(logBufferSize)
	logger := newLogger(cfg.Logging, o.logOutput, logBuffer)

	traces, err := sinks.NewTraceStore(logger, traceBufferSize, cfg.Shield.TraceFile)
	if err != nil {
		return nil, fmt.Errorf("opening trace store: %w", err)
	}

	shieldOpts := []shield.Option{shield.WithLogger(logger)}
	if cfg.Shield.Seed != 0 {
		shieldOpts = append(shieldOpts, shield.WithSource(shield.NewSeededSource(cfg.Shield.Seed)))
	}
	shieldEngine := shield.NewEngine(cfg.EngineConfig(), shieldOpts...)

	dedup := NewThreatDedup(cfg.Shield.DedupWindow, dedupMaxEntries)
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		Shield:     shieldEngine,
		Dedup:      dedup,
		Traces:     traces,
		Narrative:  sinks.NewNarrativeLog(logger, narrativeKeep),
		Dispatcher: NewStatusDispatcher(logger, cfg.Webhooks.URLs, cfg.Webhooks.Retry),
		Scheduler: NewScheduler(logger, shieldEngine, dedup, SchedulerConfig{
			Interval: cfg.Shield.CycleInterval,
			MaxBatch: cfg.Shield.MaxBatch,
		}),
		Components: NewComponentRegistry(logger),
		LogBuffer:  logBuffer,
		Logger:     logger.With().Str("component", "engine").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
	e.cfg.Store(cfg)
	shieldEngine.SetCollaborators(e.collaborators())

	if err := e.registerComponents(); err != nil {
		cancel()
		return nil, err
	}
	return e, nil
}

func newLogger(cfg LoggingConfig, out io.Writer, buf *LogRingBuffer) zerolog.Logger {
	var primary io.Writer = out
	if cfg.Format != "json" {
		primary = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	applyLogLevel(cfg.Level)
	return zerolog.New(zerolog.MultiLevelWriter(primary, buf)).With().Timestamp().Logger()
}

// applyLogLevel sets the process-wide level so every derived logger follows
// a reload.
func applyLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func (e *Engine) collaborators() shield.Collaborators {
	bridges := []shield.StatusBridge{e.Dispatcher}
	if e.Bus != nil {
		bridges = append(bridges, e.Bus)
	}
	return shield.Collaborators{
		Memory:    e.Traces,
		Narrative: e.Narrative,
		Bridges:   bridges,
	}
}

func (e *Engine) registerComponents() error {
	var stopCleanup func()
	var watchCancel context.CancelFunc

	components := []Component{
		ComponentFunc{
			ComponentName: "threat_dedup",
			StartFn: func(context.Context) error {
				stopCleanup = e.Dedup.StartCleanup(dedupCleanupTick)
				return nil
			},
			StopFn: func() error {
				if stopCleanup != nil {
					stopCleanup()
				}
				return nil
			},
		},
		ComponentFunc{
			ComponentName: "cycle_scheduler",
			StartFn: func(context.Context) error {
				e.Scheduler.Start()
				return nil
			},
			StopFn: func() error {
				e.Scheduler.Stop()
				return nil
			},
		},
		ComponentFunc{
			ComponentName: "threat_ingest",
			StartFn: func(context.Context) error {
				if e.Bus == nil {
					return nil
				}
				return e.Bus.SubscribeThreats(e.ingestThreat)
			},
		},
		ComponentFunc{
			ComponentName: "config_watcher",
			StartFn: func(ctx context.Context) error {
				path := e.ConfigPath()
				if path == "" {
					return nil
				}
				wctx, cancel := context.WithCancel(ctx)
				watchCancel = cancel
				return WatchConfig(wctx, path, e.Logger, func() {
					if _, err := e.Reload(); err != nil {
						e.Logger.Error().Err(err).Msg("config reload failed")
					}
				})
			},
			StopFn: func() error {
				if watchCancel != nil {
					watchCancel()
				}
				return nil
			},
		},
	}
	for _, c := range components {
		if err := e.Components.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Config returns the live configuration. Treat it as read-only; reloads
// swap in a new value.
func (e *Engine) Config() *Config {
	return e.cfg.Load()
}

func (e *Engine) swapConfig(cfg *Config) {
	e.cfg.Store(cfg)
}

// SetConfigPath records where the config was loaded from so reloads and the
// file watcher can find it.
func (e *Engine) SetConfigPath(path string) {
	e.pathMu.Lock()
	e.configPath = path
	e.pathMu.Unlock()
}

// ConfigPath returns the path set by SetConfigPath.
func (e *Engine) ConfigPath() string {
	e.pathMu.RLock()
	defer e.pathMu.RUnlock()
	return e.configPath
}

// Reload re-reads the config file and applies hot-reloadable settings.
func (e *Engine) Reload() ([]string, error) {
	return ReloadConfig(e, e.ConfigPath(), e.Logger)
}

// Start connects the bus, provisions the shield and starts every component.
func (e *Engine) Start() error {
	cfg := e.Config()
	e.Logger.Info().Msg("starting shieldcore engine")

	if cfg.Bus.Enabled {
		bus, err := NewEventBus(&cfg.Bus, e.Logger)
		if err != nil {
			return fmt.Errorf("starting event bus: %w", err)
		}
		e.Bus = bus
		e.Shield.SetCollaborators(e.collaborators())
	}

	layers := e.Shield.EnsurePhases()
	emitters := e.Shield.EnsureDefaultEmitters()
	modulators := e.Shield.EnsureDefaultModulators()

	if err := e.Components.StartAll(e.ctx); err != nil {
		if e.Bus != nil {
			if cerr := e.Bus.Close(); cerr != nil {
				e.Logger.Error().Err(cerr).Msg("error closing event bus")
			}
			e.Bus = nil
			e.Shield.SetCollaborators(e.collaborators())
		}
		return fmt.Errorf("starting components: %w", err)
	}

	e.startMu.Lock()
	e.startTime = time.Now()
	e.startMu.Unlock()

	e.Logger.Info().
		Int("layers", len(layers)).
		Int("emitters", len(emitters)).
		Int("modulators", len(modulators)).
		Dur("cycle_interval", e.Scheduler.Interval()).
		Bool("bus", e.Bus != nil).
		Msg("shieldcore engine started")
	return nil
}

// SubmitThreat validates ev and queues it: through the bus when one is
// connected, straight to the scheduler otherwise.
func (e *Engine) SubmitThreat(ev shield.ThreatEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if e.Bus != nil && e.Bus.IsConnected() {
		return e.Bus.PublishThreat(ev)
	}
	return e.Scheduler.Submit(ev)
}

func (e *Engine) ingestThreat(ev shield.ThreatEvent) error {
	err := e.Scheduler.Submit(ev)
	if errors.Is(err, ErrDuplicateThreat) {
		e.Logger.Debug().Str("event_id", ev.ID).Msg("duplicate threat dropped")
		return nil
	}
	return err
}

// WaitForSignal blocks until SIGINT/SIGTERM or RequestShutdown. SIGHUP
// triggers a config reload.
func (e *Engine) WaitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				if _, err := e.Reload(); err != nil {
					e.Logger.Error().Err(err).Msg("config reload failed")
				}
				continue
			}
			e.Logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			return
		case <-e.ctx.Done():
			return
		}
	}
}

// Run starts the engine and blocks until a shutdown signal.
func (e *Engine) Run() error {
	if err := e.Start(); err != nil {
		return err
	}
	e.WaitForSignal()
	e.Shutdown()
	return nil
}

// RequestShutdown unblocks WaitForSignal.
func (e *Engine) RequestShutdown() {
	e.cancel()
}

// Shutdown stops components in reverse order, flushes a final cycle and
// closes the bus and sinks. Safe to call more than once.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.Logger.Info().Msg("shutting down shieldcore engine")
		e.cancel()
		e.Components.StopAll()
		e.Dispatcher.Stop()
		if e.Bus != nil {
			if err := e.Bus.Close(); err != nil {
				e.Logger.Error().Err(err).Msg("error closing event bus")
			}
		}
		if err := e.Traces.Close(); err != nil {
			e.Logger.Error().Err(err).Msg("error closing trace store")
		}
		e.Logger.Info().Msg("shieldcore engine stopped")
	})
}

// Context returns the engine's root context.
func (e *Engine) Context() context.Context {
	return e.ctx
}

// Uptime returns how long the engine has been running, or 0 before Start.
func (e *Engine) Uptime() time.Duration {
	e.startMu.RLock()
	defer e.startMu.RUnlock()
	if e.startTime.IsZero() {
		return 0
	}
	return time.Since(e.startTime)
}

// SetStartTimeForTest overrides the start time.
func (e *Engine) SetStartTimeForTest(t time.Time) {
	e.startMu.Lock()
	e.startTime = t
	e.startMu.Unlock()
}
