package shield

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// CycleState is the orchestrator's position in a cycle.
type CycleState int32

const (
	StateIdle CycleState = iota
	StateProvisioning
	StateRotating
	StateEvaluating
	StateSpiking
	StateSnapshotting
)

func (s CycleState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProvisioning:
		return "provisioning"
	case StateRotating:
		return "rotating"
	case StateEvaluating:
		return "evaluating"
	case StateSpiking:
		return "spiking"
	case StateSnapshotting:
		return "snapshotting"
	default:
		return "unknown"
	}
}

// Config holds the engine's tunables. NewEngine fills in non-positive
// BasePower, BlockBase, HistorySize and CollaboratorTimeout. A zero
// BreachDecrement (breaches cost no integrity) and a zero Spike (spikes
// off) are honored as given, so start from DefaultConfig when only a few
// fields should differ.
type Config struct {
	// BasePower is the power given to default emitters outside omega.
	BasePower float64
	// BlockBase scales every per-emitter block probability.
	BlockBase float64
	// BreachDecrement is the integrity lost by a layer on each breach.
	BreachDecrement float64
	// HistorySize caps the recent-threat and recent-spike lists.
	HistorySize int
	// RotationInterval is the minimum time between rotations inside Run.
	// Zero rotates every cycle.
	RotationInterval time.Duration
	// RotationJitter is the band fraction used by layers with no active
	// modulator.
	RotationJitter      float64
	Spike               SpikeConfig
	CollaboratorTimeout time.Duration
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		BasePower:           1.0,
		BlockBase:           0.6,
		BreachDecrement:     0.05,
		HistorySize:         50,
		RotationInterval:    30 * time.Second,
		RotationJitter:      0.02,
		Spike:               DefaultSpikeConfig(),
		CollaboratorTimeout: 2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BasePower <= 0 {
		c.BasePower = d.BasePower
	}
	if c.BlockBase <= 0 {
		c.BlockBase = d.BlockBase
	}
	if c.BreachDecrement < 0 {
		c.BreachDecrement = d.BreachDecrement
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.RotationInterval < 0 {
		c.RotationInterval = 0
	}
	if c.RotationJitter < 0 || c.RotationJitter > 1 {
		c.RotationJitter = d.RotationJitter
	}
	if c.CollaboratorTimeout <= 0 {
		c.CollaboratorTimeout = d.CollaboratorTimeout
	}
	return c
}

// Option customizes an Engine.
type Option func(*Engine)

// WithSource injects the random source used for rotation, blocking and
// spikes. Tests pass NewSeededSource for deterministic runs.
func WithSource(src Source) Option {
	return func(e *Engine) { e.rnd = src }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger.With().Str("component", "shield_engine").Logger() }
}

// WithCollaborators sets the sinks notified after every Run.
func WithCollaborators(c Collaborators) Option {
	return func(e *Engine) { e.collab = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine owns every layer, emitter and modulator and drives the cycle.
//
// Cycles are serialized by cycleMu. Per-event evaluation and every other
// mutation take mu for writing; status queries take it for reading, so
// they never observe half of an event's side effects.
type Engine struct {
	cycleMu sync.Mutex

	mu             sync.RWMutex
	cfg            Config
	layers         *LayerRegistry
	threats        *History[EvaluatedThreat]
	spikes         *History[OffensiveSpike]
	totals         totals
	lastRotationAt time.Time
	lastBlockRate  float64

	cycle  atomic.Uint64
	state  atomic.Int32
	last   atomic.Pointer[ShieldStatus]
	rnd    Source
	now    func() time.Time
	logger zerolog.Logger
	collab Collaborators
}

// NewEngine builds an engine with no layers. Call EnsurePhases or Run to
// provision.
func NewEngine(cfg Config, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:           cfg,
		layers:        newLayerRegistry(),
		threats:       newHistory[EvaluatedThreat](cfg.HistorySize),
		spikes:        newHistory[OffensiveSpike](cfg.HistorySize),
		lastBlockRate: 1,
		logger:        zerolog.Nop(),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rnd == nil {
		e.rnd = newTimeSource()
	}
	return e
}

// Config returns the current tunables.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// SetConfig swaps tunables at runtime. HistorySize and BasePower only
// affect histories and emitters created afterwards.
func (e *Engine) SetConfig(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg.withDefaults()
}

// State reports where the current cycle is.
func (e *Engine) State() CycleState {
	return CycleState(e.state.Load())
}

func (e *Engine) setState(s CycleState) {
	e.state.Store(int32(s))
}

// ─── Layers ──────────────────────────────────────────────────────────────────

// EnsurePhases creates any missing layers and returns all seven.
func (e *Engine) EnsurePhases() []ShieldLayer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneLayers(e.layers.ensurePhases())
}

// GetLayer returns a copy of the layer for p. Unknown or unprovisioned
// phases return false.
func (e *Engine) GetLayer(p Phase) (ShieldLayer, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.layers.get(p)
	if !ok {
		return ShieldLayer{}, false
	}
	return l.clone(), true
}

// Layers returns copies of every provisioned layer in display order.
func (e *Engine) Layers() []ShieldLayer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneLayers(e.layers.ordered())
}

// UpdateLayer applies patch with clamping. Returns false when the layer
// does not exist.
func (e *Engine) UpdateLayer(p Phase, patch LayerPatch) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.layers.update(p, patch)
}

// ResetBreaches zeroes a layer's breach counter.
func (e *Engine) ResetBreaches(p Phase) error {
	if !p.Valid() {
		return &ValidationError{Field: "phase", Value: string(p), Err: ErrUnknownPhase}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.layers.get(p)
	if !ok {
		return nil
	}
	l.BreachCount = 0
	e.logger.Info().Str("phase", string(p)).Msg("breach count reset")
	return nil
}

// ─── Emitters & modulators ───────────────────────────────────────────────────

// EnsureDefaultEmitters provisions the default emitter catalog on every
// existing layer and returns the full default set.
func (e *Engine) EnsureDefaultEmitters() []Emitter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneEmitters(e.layers.ensureDefaultEmitters(e.cfg.BasePower))
}

// EnsureDefaultModulators provisions default modulators on every layer.
func (e *Engine) EnsureDefaultModulators() []Modulator {
	e.mu.Lock()
	defer e.mu.Unlock()
	ms := e.layers.ensureDefaultModulators()
	out := make([]Modulator, len(ms))
	for i, m := range ms {
		out[i] = *m
	}
	return out
}

// AddEmitter attaches em to the layer for p. The returned bool is false
// when the layer is not provisioned. An emitter with the same type and
// target set is reused rather than duplicated.
func (e *Engine) AddEmitter(p Phase, em Emitter) (Emitter, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	stored, err := e.layers.addEmitter(p, em)
	if err != nil || stored == nil {
		return Emitter{}, false, err
	}
	return *stored, true, nil
}

// UpdateEmitter patches one emitter. Returns false if the layer or the
// emitter does not exist.
func (e *Engine) UpdateEmitter(p Phase, id string, patch EmitterPatch) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.layers.updateEmitter(p, id, patch)
}

// SetEmittersActive flips every emitter on every layer and returns how many
// were touched.
func (e *Engine) SetEmittersActive(active bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, l := range e.layers.ordered() {
		for _, em := range l.Emitters {
			em.Active = active
			n++
		}
	}
	return n
}

// AddModulator attaches m to the layer for p, reusing one of the same kind.
func (e *Engine) AddModulator(p Phase, m Modulator) (Modulator, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	stored, err := e.layers.addModulator(p, m)
	if err != nil || stored == nil {
		return Modulator{}, false, err
	}
	return *stored, true, nil
}

// ─── Rotation ────────────────────────────────────────────────────────────────

// RotateFrequencies advances every layer's signal and returns one entry per
// existing layer.
func (e *Engine) RotateFrequencies() []RotationResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rotateLocked()
}

func (e *Engine) rotateLocked() []RotationResult {
	res := e.layers.rotate(e.rnd, e.cfg.RotationJitter)
	e.lastRotationAt = e.now()
	rotationsTotal.Inc()
	return res
}

// ─── Evaluation ──────────────────────────────────────────────────────────────

// Evaluate validates ev and runs it through every layer. Invalid events
// return a *ValidationError and have no effect.
func (e *Engine) Evaluate(ev ThreatEvent) (Verdict, error) {
	if err := ev.Validate(); err != nil {
		threatsRejected.Inc()
		return Verdict{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evaluateLocked(ev), nil
}

func (e *Engine) evaluateLocked(ev ThreatEvent) Verdict {
	now := e.now()
	v := evaluate(e.layers.ordered(), ev, e.rnd, e.cfg.BlockBase, e.cfg.BreachDecrement, now)

	e.totals.evaluated++
	if v.Detected {
		e.totals.detected++
	}
	if v.Blocked {
		e.totals.blocked++
	}
	e.threats.push(EvaluatedThreat{
		ThreatEvent: ev,
		Detected:    v.Detected,
		Blocked:     v.Blocked,
		BreachedAt:  v.BreachedPhase,
		EvaluatedAt: now,
	})
	recordVerdict(ev.Type, v)

	if v.BreachedPhase != "" {
		e.logger.Warn().
			Str("event_id", ev.ID).
			Str("type", string(ev.Type)).
			Str("level", ev.Level.String()).
			Str("phase", string(v.BreachedPhase)).
			Msg("layer breached")
	}
	return v
}

// BlockProbability is the current combined chance that a detected threat
// of type t is blocked, or 0 when nothing detects it.
func (e *Engine) BlockProbability(t ThreatType) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	matches := matchLayers(e.layers.ordered(), t, e.cfg.BlockBase)
	detected := false
	probs := make([]float64, 0, len(matches))
	for _, m := range matches {
		detected = detected || m.detecting
		probs = append(probs, m.probability)
	}
	if !detected {
		return 0
	}
	return CombinedBlockProbability(probs)
}

// ─── Status ──────────────────────────────────────────────────────────────────

// Status recomputes a snapshot from live state under the read lock. It is
// safe to call while a cycle runs.
func (e *Engine) Status() ShieldStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.statusLocked(e.lastBlockRate)
}

func (e *Engine) statusLocked(blockRate float64) ShieldStatus {
	return buildStatus(e.layers.ordered(), e.totals, e.threats, e.spikes,
		blockRate, e.cycle.Load(), e.lastRotationAt, e.now())
}

// LastCycle returns the snapshot published by the most recent Run without
// taking any lock.
func (e *Engine) LastCycle() (ShieldStatus, bool) {
	st := e.last.Load()
	if st == nil {
		return ShieldStatus{}, false
	}
	return *st, true
}

// RecentThreats returns up to n evaluated threats, oldest first.
func (e *Engine) RecentThreats(n int) []EvaluatedThreat {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.threats.Last(n)
}

// RecentSpikes returns up to n spikes, oldest first.
func (e *Engine) RecentSpikes(n int) []OffensiveSpike {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.spikes.Last(n)
}

// ─── Cycle ───────────────────────────────────────────────────────────────────

// Run executes one cycle over events using the engine's collaborators.
func (e *Engine) Run(ctx context.Context, events []ThreatEvent) (ShieldStatus, error) {
	e.mu.RLock()
	collab := e.collab
	e.mu.RUnlock()
	return e.RunWith(ctx, collab, events)
}

// SetCollaborators replaces the sinks and bridges used by Run. Cycles
// already in flight keep the set they started with.
func (e *Engine) SetCollaborators(c Collaborators) {
	e.mu.Lock()
	e.collab = c
	e.mu.Unlock()
}

// RunWith executes one cycle:
//
//	Idle → Provisioning → Rotating → Evaluating → Spiking → Snapshotting → Idle
//
// Invalid events are rejected up front and reported in the returned error;
// the rest of the batch is still evaluated. If ctx is cancelled the current
// step finishes, the remaining steps are skipped, and a snapshot is still
// taken and returned with ctx.Err().
func (e *Engine) RunWith(ctx context.Context, collab Collaborators, events []ThreatEvent) (ShieldStatus, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	defer e.setState(StateIdle)

	start := time.Now()
	cycle := e.cycle.Add(1)
	valid, rejectErr := e.validateBatch(events)

	trace := CycleTrace{
		Cycle:    cycle,
		At:       e.now(),
		Rejected: len(events) - len(valid),
	}
	evaluated := make([]EvaluatedThreat, 0, len(valid))
	breachesBefore := make(map[Phase]int, len(phaseTable))
	var spike *OffensiveSpike

	steps := []struct {
		state CycleState
		run   func()
	}{
		{StateProvisioning, func() {
			e.mu.Lock()
			e.layers.ensurePhases()
			e.layers.ensureDefaultModulators()
			e.layers.ensureDefaultEmitters(e.cfg.BasePower)
			e.mu.Unlock()
		}},
		{StateRotating, func() {
			e.mu.Lock()
			if e.lastRotationAt.IsZero() || e.now().Sub(e.lastRotationAt) >= e.cfg.RotationInterval {
				e.rotateLocked()
				trace.Rotated = true
			}
			e.mu.Unlock()
		}},
		{StateEvaluating, func() {
			e.mu.RLock()
			for _, l := range e.layers.ordered() {
				breachesBefore[l.Phase] = l.BreachCount
			}
			e.mu.RUnlock()
			for _, ev := range valid {
				e.mu.Lock()
				v := e.evaluateLocked(ev)
				e.mu.Unlock()
				evaluated = append(evaluated, EvaluatedThreat{
					ThreatEvent: ev,
					Detected:    v.Detected,
					Blocked:     v.Blocked,
					BreachedAt:  v.BreachedPhase,
				})
			}
		}},
		{StateSpiking, func() {
			e.mu.Lock()
			spike = maybeFireSpike(e.cfg.Spike, evaluated, e.layers.ordered(), breachesBefore, e.rnd, e.now())
			if spike != nil {
				e.spikes.push(*spike)
				e.totals.spikes++
			}
			e.mu.Unlock()
		}},
	}

	var ctxErr error
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			ctxErr = err
			e.logger.Warn().Err(err).Uint64("cycle", cycle).
				Str("skipped_from", step.state.String()).Msg("cycle cancelled, skipping to snapshot")
			break
		}
		e.setState(step.state)
		step.run()
	}

	for _, ev := range evaluated {
		trace.Evaluated++
		if ev.Detected {
			trace.Detected++
		}
		if ev.Blocked {
			trace.Blocked++
		}
		if ev.BreachedAt != "" {
			trace.Breaches++
		}
	}
	if spike != nil {
		recordSpike(spike)
		trace.SpikeFired = true
		trace.SpikeSucceeded = spike.Success
		e.logger.Info().
			Str("spike_id", spike.ID).
			Str("name", spike.Name).
			Str("trigger", spike.Trigger).
			Bool("success", spike.Success).
			Msg("offensive spike fired")
	}

	blockRate := 1.0
	if trace.Evaluated > 0 {
		blockRate = float64(trace.Blocked) / float64(trace.Evaluated)
	}

	e.setState(StateSnapshotting)
	e.mu.Lock()
	e.lastBlockRate = blockRate
	status := e.statusLocked(blockRate)
	e.mu.Unlock()
	e.last.Store(&status)
	recordSnapshot(status)

	trace.Duration = time.Since(start)
	trace.Health = status.Health
	trace.OverallIntegrity = status.OverallIntegrity
	cycleDuration.Observe(trace.Duration.Seconds())

	e.logger.Debug().
		Uint64("cycle", cycle).
		Int("evaluated", trace.Evaluated).
		Int("blocked", trace.Blocked).
		Int("breaches", trace.Breaches).
		Str("health", string(status.Health)).
		Dur("duration", trace.Duration).
		Msg("cycle complete")

	e.notifyCollaborators(ctx, collab, status, trace)

	return status, errors.Join(rejectErr, ctxErr)
}

// validateBatch splits events into valid ones and a joined error naming
// each rejected index.
func (e *Engine) validateBatch(events []ThreatEvent) ([]ThreatEvent, error) {
	valid := make([]ThreatEvent, 0, len(events))
	var errs []error
	for i, ev := range events {
		if err := ev.Validate(); err != nil {
			threatsRejected.Inc()
			errs = append(errs, fmt.Errorf("event %d: %w", i, err))
			continue
		}
		valid = append(valid, ev)
	}
	return valid, errors.Join(errs...)
}

// notifyCollaborators fans out to every present sink concurrently. Errors
// and panics are logged and counted; none propagate.
func (e *Engine) notifyCollaborators(ctx context.Context, collab Collaborators, status ShieldStatus, trace CycleTrace) {
	if collab.empty() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.Config().CollaboratorTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if collab.Memory != nil {
		g.Go(func() error {
			e.safeNotify("memory", func() error { return collab.Memory.Remember(gctx, trace) })
			return nil
		})
	}
	if collab.Narrative != nil {
		line := narrate(trace, status)
		g.Go(func() error {
			e.safeNotify("narrative", func() error { return collab.Narrative.Narrate(gctx, line) })
			return nil
		})
	}
	for i, b := range collab.Bridges {
		if b == nil {
			continue
		}
		name := fmt.Sprintf("bridge_%d", i)
		g.Go(func() error {
			e.safeNotify(name, func() error { return b.BridgeStatus(gctx, status) })
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) safeNotify(sink string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			collaboratorFailures.WithLabelValues(sink).Inc()
			e.logger.Error().
				Str("sink", sink).
				Interface("panic", rec).
				Msg("collaborator panicked, cycle unaffected")
		}
	}()
	if err := fn(); err != nil {
		collaboratorFailures.WithLabelValues(sink).Inc()
		e.logger.Error().Err(err).Str("sink", sink).Msg("collaborator failed")
	}
}

func narrate(t CycleTrace, st ShieldStatus) string {
	line := fmt.Sprintf("cycle %d: %d threats evaluated, %d detected, %d blocked, %d breaches; shield %s at %.0f%% integrity",
		t.Cycle, t.Evaluated, t.Detected, t.Blocked, t.Breaches, st.Health, st.OverallIntegrity*100)
	if t.SpikeFired {
		outcome := "missed"
		if t.SpikeSucceeded {
			outcome = "landed"
		}
		line += fmt.Sprintf("; countermeasure spike %s", outcome)
	}
	return line
}

func cloneLayers(ls []*ShieldLayer) []ShieldLayer {
	out := make([]ShieldLayer, len(ls))
	for i, l := range ls {
		out[i] = l.clone()
	}
	return out
}

func cloneEmitters(es []*Emitter) []Emitter {
	out := make([]Emitter, len(es))
	for i, em := range es {
		out[i] = *em
	}
	return out
}
