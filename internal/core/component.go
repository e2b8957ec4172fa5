package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Component is a long-running piece of the process (scheduler, dispatcher,
// bus ingest, config watcher) started and stopped by the engine.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// ComponentFunc adapts a pair of functions into a Component.
type ComponentFunc struct {
	ComponentName string
	StartFn       func(ctx context.Context) error
	StopFn        func() error
}

func (c ComponentFunc) Name() string { return c.ComponentName }

func (c ComponentFunc) Start(ctx context.Context) error {
	if c.StartFn == nil {
		return nil
	}
	return c.StartFn(ctx)
}

func (c ComponentFunc) Stop() error {
	if c.StopFn == nil {
		return nil
	}
	return c.StopFn()
}

// ComponentRegistry owns component lifecycle. Components start in
// registration order and stop in reverse; a panic in either is recovered
// and reported as an error.
type ComponentRegistry struct {
	mu      sync.RWMutex
	byName  map[string]Component
	order   []string
	started []string
	logger  zerolog.Logger

	metricsMu sync.Mutex
	failures  map[string]int64
}

// NewComponentRegistry creates an empty registry.
func NewComponentRegistry(logger zerolog.Logger) *ComponentRegistry {
	return &ComponentRegistry{
		byName:   make(map[string]Component),
		logger:   logger.With().Str("component", "component_registry").Logger(),
		failures: make(map[string]int64),
	}
}

// Register adds a component. Names must be unique.
func (r *ComponentRegistry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("component %q already registered", name)
	}
	r.byName[name] = c
	r.order = append(r.order, name)
	r.logger.Debug().Str("name", name).Msg("component registered")
	return nil
}

// StartAll starts every component. On the first failure the components
// already running are stopped again and the error is returned.
func (r *ComponentRegistry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		c := r.byName[name]
		if err := r.safeCall(name, func() error { return c.Start(ctx) }); err != nil {
			r.stopStartedLocked()
			return fmt.Errorf("failed to start component %q: %w", name, err)
		}
		r.started = append(r.started, name)
		r.logger.Info().Str("name", name).Msg("component started")
	}
	return nil
}

// StopAll stops started components in reverse order. Safe to call twice.
func (r *ComponentRegistry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopStartedLocked()
}

func (r *ComponentRegistry) stopStartedLocked() {
	for i := len(r.started) - 1; i >= 0; i-- {
		name := r.started[i]
		c := r.byName[name]
		if err := r.safeCall(name, c.Stop); err != nil {
			r.logger.Error().Err(err).Str("name", name).Msg("error stopping component")
			continue
		}
		r.logger.Info().Str("name", name).Msg("component stopped")
	}
	r.started = nil
}

func (r *ComponentRegistry) safeCall(name string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			r.logger.Error().Str("name", name).Interface("panic", rec).
				Msg("component panicked, recovered")
		}
		if err != nil {
			r.metricsMu.Lock()
			r.failures[name]++
			r.metricsMu.Unlock()
		}
	}()
	return fn()
}

// Get returns a component by name.
func (r *ComponentRegistry) Get(name string) (Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// Names returns component names in registration order.
func (r *ComponentRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Running reports how many components are currently started.
func (r *ComponentRegistry) Running() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.started)
}

// Count returns the number of registered components.
func (r *ComponentRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Failures returns start/stop failure counts per component.
func (r *ComponentRegistry) Failures() map[string]int64 {
	r.metricsMu.Lock()
	defer r.metricsMu.Unlock()
	out := make(map[string]int64, len(r.failures))
	for k, v := range r.failures {
		out[k] = v
	}
	return out
}
