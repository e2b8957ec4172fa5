package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/1sec-project/shieldcore/internal/shield"
	"github.com/rs/zerolog"
)

// ErrDuplicateThreat is returned by Submit for a threat already seen within
// the dedup window.
var ErrDuplicateThreat = errors.New("duplicate threat")

// SchedulerConfig controls cycle pacing and batching.
type SchedulerConfig struct {
	Interval time.Duration
	MaxBatch int
}

// Scheduler collects submitted threats into a bounded batch and runs a
// shield cycle every interval, or as soon as the batch fills.
type Scheduler struct {
	mu       sync.Mutex
	logger   zerolog.Logger
	engine   *shield.Engine
	dedup    *ThreatDedup
	pending  []shield.ThreatEvent
	maxBatch int
	interval time.Duration

	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}
	started bool

	cycles     int64
	submitted  int64
	rejected   int64
	duplicates int64
	lastCycle  time.Time
	lastErr    error
}

// NewScheduler creates a scheduler feeding engine. dedup may be nil.
func NewScheduler(logger zerolog.Logger, engine *shield.Engine, dedup *ThreatDedup, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 500
	}
	return &Scheduler{
		logger:   logger.With().Str("component", "scheduler").Logger(),
		engine:   engine,
		dedup:    dedup,
		pending:  make([]shield.ThreatEvent, 0, cfg.MaxBatch),
		maxBatch: cfg.MaxBatch,
		interval: cfg.Interval,
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Submit validates ev and queues it for the next cycle. A full batch is
// rejected with ErrBackpressure rather than growing without bound.
func (s *Scheduler) Submit(ev shield.ThreatEvent) error {
	if err := ev.Validate(); err != nil {
		s.count(func() { s.rejected++ })
		return err
	}
	if s.dedup != nil && s.dedup.IsDuplicate(ev) {
		s.count(func() { s.duplicates++ })
		return fmt.Errorf("%w: %s", ErrDuplicateThreat, ev.ID)
	}

	s.mu.Lock()
	if len(s.pending) >= s.maxBatch {
		s.rejected++
		s.mu.Unlock()
		if s.dedup != nil {
			s.dedup.Forget(ev)
		}
		return fmt.Errorf("%w: %d threats pending", ErrBackpressure, s.maxBatch)
	}
	s.pending = append(s.pending, ev)
	s.submitted++
	full := len(s.pending) >= s.maxBatch
	s.mu.Unlock()

	if full {
		s.poke()
	}
	return nil
}

// Start launches the cycle loop. It returns immediately.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.loop()
	s.logger.Info().
		Dur("interval", s.Interval()).
		Int("max_batch", s.maxBatch).
		Msg("cycle scheduler started")
}

func (s *Scheduler) loop() {
	defer close(s.done)
	timer := time.NewTimer(s.Interval())
	defer timer.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-timer.C:
		case <-s.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		if _, err := s.RunNow(context.Background()); err != nil {
			s.logger.Warn().Err(err).Msg("cycle finished with errors")
		}
		timer.Reset(s.Interval())
	}
}

// RunNow drains the pending batch and runs one cycle synchronously. Once
// drained, the batch is evaluated even if ctx is cancelled: its threats were
// already accepted and have nowhere else to go.
func (s *Scheduler) RunNow(ctx context.Context) (shield.ShieldStatus, error) {
	s.mu.Lock()
	batch := s.pending
	s.pending = make([]shield.ThreatEvent, 0, s.maxBatch)
	s.mu.Unlock()

	st, err := s.engine.Run(context.WithoutCancel(ctx), batch)

	s.mu.Lock()
	s.cycles++
	s.lastCycle = time.Now().UTC()
	s.lastErr = err
	s.mu.Unlock()
	return st, err
}

// Stop ends the loop and runs a final cycle over anything still pending.
// A cycle already running is allowed to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		return
	}

	close(s.stop)
	<-s.done

	if s.Pending() > 0 {
		if _, err := s.RunNow(context.Background()); err != nil {
			s.logger.Warn().Err(err).Msg("final cycle finished with errors")
		}
	}
	s.logger.Info().Msg("cycle scheduler stopped")
}

// SetInterval changes the cycle interval; it applies from the next tick.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
}

// Interval returns the current cycle interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Pending returns the number of queued threats.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stats returns current scheduler state.
func (s *Scheduler) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := map[string]interface{}{
		"interval_seconds": s.interval.Seconds(),
		"max_batch":        s.maxBatch,
		"pending":          len(s.pending),
		"cycles":           s.cycles,
		"submitted":        s.submitted,
		"rejected":         s.rejected,
		"duplicates":       s.duplicates,
	}
	if !s.lastCycle.IsZero() {
		stats["last_cycle"] = s.lastCycle
	}
	if s.lastErr != nil {
		stats["last_error"] = s.lastErr.Error()
	}
	return stats
}

func (s *Scheduler) poke() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) count(fn func()) {
	s.mu.Lock()
	fn()
	s.mu.Unlock()
}
