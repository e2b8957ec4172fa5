package shield

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OffensiveSpike records one autonomous countermeasure firing.
type OffensiveSpike struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Type        EmissionType `json:"type"`
	Phase       Phase        `json:"phase"`
	EmitterID   string       `json:"emitter_id"`
	Trigger     string       `json:"trigger"`
	Target      ThreatType   `json:"target,omitempty"`
	Success     bool         `json:"success"`
	Probability float64      `json:"probability"`
	Timestamp   time.Time    `json:"timestamp"`
}

// SpikeConfig controls when the engine fires a spike.
type SpikeConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// MinLevel is the lowest level of unblocked threat that triggers a spike.
	MinLevel ThreatLevel `yaml:"-" json:"min_level"`
	// BreachThreshold fires a spike each time a layer's breach count crosses
	// a multiple of it. Zero disables the breach trigger.
	BreachThreshold int `yaml:"breach_threshold" json:"breach_threshold"`
	// MinPower is the emitter power at which a spike succeeds half the time.
	MinPower float64 `yaml:"min_power" json:"min_power"`
}

// DefaultSpikeConfig returns sane defaults.
func DefaultSpikeConfig() SpikeConfig {
	return SpikeConfig{
		Enabled:         true,
		MinLevel:        LevelHigh,
		BreachThreshold: 5,
		MinPower:        1.0,
	}
}

// SpikeSuccessProbability maps emitter power against the minimum threshold:
// power / (power + minPower). Equal power and threshold gives 0.5.
func SpikeSuccessProbability(power, minPower float64) float64 {
	if power <= 0 {
		return 0
	}
	if minPower <= 0 {
		return 1
	}
	return power / (power + minPower)
}

// spikeTrigger is the reason a spike fires this cycle.
type spikeTrigger struct {
	reason string
	target ThreatType
}

// findTrigger checks the cycle's evaluations first, then breach thresholds.
func findTrigger(cfg SpikeConfig, evaluated []EvaluatedThreat, layers []*ShieldLayer, breachesBefore map[Phase]int) (spikeTrigger, bool) {
	for _, ev := range evaluated {
		if !ev.Blocked && ev.Level >= cfg.MinLevel {
			return spikeTrigger{
				reason: "unblocked_" + lowerLevel(ev.Level),
				target: ev.Type,
			}, true
		}
	}
	if cfg.BreachThreshold > 0 {
		for _, l := range layers {
			before := breachesBefore[l.Phase]
			if l.BreachCount/cfg.BreachThreshold > before/cfg.BreachThreshold {
				return spikeTrigger{reason: "breach_threshold:" + string(l.Phase)}, true
			}
		}
	}
	return spikeTrigger{}, false
}

// pickSpikeEmitter prefers the most powerful active offensive or
// countermeasure emitter covering target, then any active one.
func pickSpikeEmitter(layers []*ShieldLayer, target ThreatType) *Emitter {
	var best, fallback *Emitter
	for _, l := range layers {
		for _, e := range l.Emitters {
			if !e.Active {
				continue
			}
			switch e.Type {
			case EmissionOffensive, EmissionCountermeasure:
			default:
				continue
			}
			if target != "" && e.Targets.Contains(target) {
				if best == nil || e.Power > best.Power {
					best = e
				}
			}
			if fallback == nil || e.Power > fallback.Power {
				fallback = e
			}
		}
	}
	if best != nil {
		return best
	}
	return fallback
}

// maybeFireSpike fires at most one spike for the cycle. Failed spikes are
// recorded like successful ones and never retried.
func maybeFireSpike(cfg SpikeConfig, evaluated []EvaluatedThreat, layers []*ShieldLayer, breachesBefore map[Phase]int, rnd Source, now time.Time) *OffensiveSpike {
	if !cfg.Enabled {
		return nil
	}
	trig, ok := findTrigger(cfg, evaluated, layers, breachesBefore)
	if !ok {
		return nil
	}
	em := pickSpikeEmitter(layers, trig.target)
	if em == nil {
		return nil
	}

	p := SpikeSuccessProbability(em.Power, cfg.MinPower)
	em.emit(now)
	return &OffensiveSpike{
		ID:          uuid.New().String(),
		Name:        fmt.Sprintf("%s %s pulse", em.Phase, em.Type),
		Type:        em.Type,
		Phase:       em.Phase,
		EmitterID:   em.ID,
		Trigger:     trig.reason,
		Target:      trig.target,
		Success:     rnd.Float64() < p,
		Probability: p,
		Timestamp:   now,
	}
}

func lowerLevel(l ThreatLevel) string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}
