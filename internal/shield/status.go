package shield

import "time"

// Health is the categorical summary of the shield.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthCritical Health = "critical"
	HealthBreached Health = "breached"
)

// Health bands. Both integrity and block rate must clear a band's floor;
// lowering either input can only move the result down the list.
//
//	healthy   integrity >= 0.80 and block rate >= 0.90
//	degraded  integrity >= 0.50 and block rate >= 0.60
//	critical  integrity >= 0.25 and block rate >= 0.30
//	breached  anything below
const (
	healthyIntegrity  = 0.80
	healthyBlockRate  = 0.90
	degradedIntegrity = 0.50
	degradedBlockRate = 0.60
	criticalIntegrity = 0.25
	criticalBlockRate = 0.30
)

// ClassifyHealth buckets mean integrity and block rate into a Health.
func ClassifyHealth(integrity, blockRate float64) Health {
	switch {
	case integrity >= healthyIntegrity && blockRate >= healthyBlockRate:
		return HealthHealthy
	case integrity >= degradedIntegrity && blockRate >= degradedBlockRate:
		return HealthDegraded
	case integrity >= criticalIntegrity && blockRate >= criticalBlockRate:
		return HealthCritical
	default:
		return HealthBreached
	}
}

// LayerSignal is the per-layer part of a status snapshot.
type LayerSignal struct {
	Phase       Phase   `json:"phase"`
	Active      bool    `json:"active"`
	Integrity   float64 `json:"integrity"`
	Strength    float64 `json:"strength"`
	Frequency   float64 `json:"frequency"`
	Amplitude   float64 `json:"amplitude"`
	BreachCount int     `json:"breach_count"`
	Emitters    int     `json:"emitters"`
	Modulators  int     `json:"modulators"`
}

// ShieldStatus is a point-in-time view of the engine. It is derived, never
// stored state, and is safe to share once built.
type ShieldStatus struct {
	Cycle            uint64            `json:"cycle"`
	Health           Health            `json:"shield_health"`
	OverallIntegrity float64           `json:"overall_integrity"`
	BlockRate        float64           `json:"block_rate"`
	ActiveLayers     int               `json:"active_layers"`
	TotalLayers      int               `json:"total_layers"`
	ActiveModulators int               `json:"active_modulators"`
	ActiveEmitters   int               `json:"active_emitters"`
	ThreatsEvaluated int               `json:"threats_evaluated"`
	ThreatsDetected  int               `json:"threats_detected"`
	ThreatsBlocked   int               `json:"threats_blocked"`
	SpikesFired      int               `json:"spikes_fired"`
	Layers           []LayerSignal     `json:"layers"`
	RecentThreats    []EvaluatedThreat `json:"recent_threats"`
	RecentSpikes     []OffensiveSpike  `json:"recent_spikes"`
	LastRotation     time.Time         `json:"last_rotation,omitempty"`
	GeneratedAt      time.Time         `json:"generated_at"`
}

// totals are the cumulative counters since the engine was built.
type totals struct {
	evaluated int
	detected  int
	blocked   int
	spikes    int
}

// buildStatus aggregates layers, counters and histories. overallIntegrity
// is the simple mean of layer integrities, 0 with no layers.
func buildStatus(layers []*ShieldLayer, t totals, threats *History[EvaluatedThreat], spikes *History[OffensiveSpike], blockRate float64, cycle uint64, lastRotation, now time.Time) ShieldStatus {
	st := ShieldStatus{
		Cycle:            cycle,
		BlockRate:        blockRate,
		TotalLayers:      len(layers),
		ThreatsEvaluated: t.evaluated,
		ThreatsDetected:  t.detected,
		ThreatsBlocked:   t.blocked,
		SpikesFired:      t.spikes,
		Layers:           make([]LayerSignal, 0, len(layers)),
		RecentThreats:    threats.Last(0),
		RecentSpikes:     spikes.Last(0),
		LastRotation:     lastRotation,
		GeneratedAt:      now,
	}

	var integritySum float64
	for _, l := range layers {
		integritySum += l.Integrity
		if l.Active() {
			st.ActiveLayers++
		}
		for _, m := range l.Modulators {
			if m.Active {
				st.ActiveModulators++
			}
		}
		for _, e := range l.Emitters {
			if e.Active {
				st.ActiveEmitters++
			}
		}
		st.Layers = append(st.Layers, LayerSignal{
			Phase:       l.Phase,
			Active:      l.Active(),
			Integrity:   l.Integrity,
			Strength:    l.Strength,
			Frequency:   l.Frequency,
			Amplitude:   l.Amplitude,
			BreachCount: l.BreachCount,
			Emitters:    len(l.Emitters),
			Modulators:  len(l.Modulators),
		})
	}
	if len(layers) > 0 {
		st.OverallIntegrity = integritySum / float64(len(layers))
	}
	st.Health = ClassifyHealth(st.OverallIntegrity, blockRate)
	return st
}
