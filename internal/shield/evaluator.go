package shield

import "time"

// Verdict is the evaluator's decision for one threat event.
type Verdict struct {
	Detected bool `json:"detected"`
	Blocked  bool `json:"blocked"`
	// BreachedPhase is set when a detected threat got through.
	BreachedPhase Phase `json:"breached_phase,omitempty"`
	// Probability is the combined chance that some layer blocks the threat.
	Probability float64 `json:"probability"`
}

// blockWeight scales an emitter's power by what it is built for. Detection
// emitters find threats but barely stop them.
func blockWeight(t EmissionType) float64 {
	switch t {
	case EmissionDetection:
		return 0.25
	case EmissionDefensive:
		return 1.0
	case EmissionCountermeasure:
		return 0.8
	case EmissionOffensive:
		return 0.6
	default:
		return 0
	}
}

// BlockProbability is the chance that a single emitter on a layer stops a
// threat:
//
//	p = clamp01(base * power * blockWeight(type) * strength * integrity * tier(phase))
//
// It is monotonic in power, strength, integrity and tier weight.
func BlockProbability(base, power float64, t EmissionType, strength, integrity float64, phase Phase) float64 {
	return clamp01(base * power * blockWeight(t) * strength * integrity * phase.TierWeight())
}

// CombinedBlockProbability is the chance that at least one of the
// independent per-layer draws succeeds: 1 - prod(1 - p_i).
func CombinedBlockProbability(layerProbs []float64) float64 {
	miss := 1.0
	for _, p := range layerProbs {
		miss *= 1 - clamp01(p)
	}
	return clamp01(1 - miss)
}

// layerMatch is one layer's instrumentation for a threat type.
type layerMatch struct {
	layer       *ShieldLayer
	emitters    []*Emitter
	detecting   bool
	probability float64
}

// matchLayers collects, per layer, the active emitters targeting t and the
// best block probability among them.
func matchLayers(layers []*ShieldLayer, t ThreatType, base float64) []layerMatch {
	matches := make([]layerMatch, 0, len(layers))
	for _, l := range layers {
		var m layerMatch
		for _, e := range l.Emitters {
			if !e.matches(t) {
				continue
			}
			switch e.Type {
			case EmissionDetection:
				m.detecting = true
			case EmissionDefensive, EmissionOffensive, EmissionCountermeasure:
			default:
				continue
			}
			m.emitters = append(m.emitters, e)
			if p := BlockProbability(base, e.Power, e.Type, l.Strength, l.Integrity, l.Phase); p > m.probability {
				m.probability = p
			}
		}
		if len(m.emitters) > 0 {
			m.layer = l
			matches = append(matches, m)
		}
	}
	return matches
}

// weakest picks the layer least able to stop the threat: lowest block
// probability, then lowest integrity, then display order.
func weakest(matches []layerMatch) *ShieldLayer {
	var best *layerMatch
	for i := range matches {
		m := &matches[i]
		if best == nil {
			best = m
			continue
		}
		switch {
		case m.probability < best.probability:
			best = m
		case m.probability == best.probability && m.layer.Integrity < best.layer.Integrity:
			best = m
		}
	}
	if best == nil {
		return nil
	}
	return best.layer
}

// evaluate runs the detection and blocking decision for ev against the
// layers and applies every side effect. The caller holds the engine's write
// lock for the whole call so an event's effects land all-or-nothing.
func evaluate(layers []*ShieldLayer, ev ThreatEvent, rnd Source, base, breachDecrement float64, now time.Time) Verdict {
	matches := matchLayers(layers, ev.Type, base)

	var v Verdict
	probs := make([]float64, 0, len(matches))
	for _, m := range matches {
		if m.detecting {
			v.Detected = true
		}
		probs = append(probs, m.probability)
	}

	if v.Detected {
		v.Probability = CombinedBlockProbability(probs)
		for _, m := range matches {
			if m.probability > 0 && rnd.Float64() < m.probability {
				v.Blocked = true
				break
			}
		}
	}

	for _, m := range matches {
		for _, e := range m.emitters {
			e.emit(now)
		}
	}

	if v.Detected && !v.Blocked {
		if l := weakest(matches); l != nil {
			l.BreachCount++
			l.Integrity = clamp01(l.Integrity - breachDecrement)
			v.BreachedPhase = l.Phase
		}
	}
	return v
}
