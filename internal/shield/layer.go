package shield

import (
	"math"
	"sort"
)

// ShieldLayer is one concentric defense ring. Integrity and strength stay in
// [0,1]; frequency and amplitude stay inside the phase's bands.
type ShieldLayer struct {
	Phase       Phase        `json:"phase"`
	Integrity   float64      `json:"integrity"`
	Strength    float64      `json:"strength"`
	Frequency   float64      `json:"frequency"`
	Amplitude   float64      `json:"amplitude"`
	BreachCount int          `json:"breach_count"`
	Modulators  []*Modulator `json:"modulators"`
	Emitters    []*Emitter   `json:"emitters"`
}

// Active reports whether the layer still has structure left.
func (l *ShieldLayer) Active() bool {
	return l.Integrity > 0
}

// clone returns a deep copy safe to hand to callers.
func (l *ShieldLayer) clone() ShieldLayer {
	out := *l
	out.Modulators = make([]*Modulator, len(l.Modulators))
	for i, m := range l.Modulators {
		mc := *m
		out.Modulators[i] = &mc
	}
	out.Emitters = make([]*Emitter, len(l.Emitters))
	for i, e := range l.Emitters {
		ec := *e
		out.Emitters[i] = &ec
	}
	return out
}

func (l *ShieldLayer) clamp() {
	l.Integrity = clamp01(l.Integrity)
	l.Strength = clamp01(l.Strength)
	l.Frequency = l.Phase.FrequencyBand().Clamp(l.Frequency)
	l.Amplitude = l.Phase.AmplitudeBand().Clamp(l.Amplitude)
}

func (l *ShieldLayer) findEmitter(id string) *Emitter {
	for _, e := range l.Emitters {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// LayerPatch is a partial mutation of a layer; nil fields are left alone.
// Values are clamped, never rejected.
type LayerPatch struct {
	Integrity *float64 `json:"integrity,omitempty"`
	Strength  *float64 `json:"strength,omitempty"`
	Frequency *float64 `json:"frequency,omitempty"`
	Amplitude *float64 `json:"amplitude,omitempty"`
}

// LayerRegistry owns the layers. It does no locking of its own; the Engine
// serializes access.
type LayerRegistry struct {
	layers map[Phase]*ShieldLayer
}

func newLayerRegistry() *LayerRegistry {
	return &LayerRegistry{layers: make(map[Phase]*ShieldLayer, len(phaseTable))}
}

func newLayer(p Phase) *ShieldLayer {
	return &ShieldLayer{
		Phase:      p,
		Integrity:  1,
		Strength:   p.initialStrength(),
		Frequency:  p.FrequencyBand().Mid(),
		Amplitude:  p.AmplitudeBand().Mid(),
		Modulators: make([]*Modulator, 0, 2),
		Emitters:   make([]*Emitter, 0, 3),
	}
}

// ensurePhases creates any missing layers and returns all seven in order.
func (r *LayerRegistry) ensurePhases() []*ShieldLayer {
	for _, p := range Phases() {
		if _, ok := r.layers[p]; !ok {
			r.layers[p] = newLayer(p)
		}
	}
	return r.ordered()
}

func (r *LayerRegistry) get(p Phase) (*ShieldLayer, bool) {
	l, ok := r.layers[p]
	return l, ok
}

func (r *LayerRegistry) update(p Phase, patch LayerPatch) bool {
	l, ok := r.layers[p]
	if !ok {
		return false
	}
	if patch.Integrity != nil {
		l.Integrity = *patch.Integrity
	}
	if patch.Strength != nil {
		l.Strength = *patch.Strength
	}
	if patch.Frequency != nil {
		l.Frequency = *patch.Frequency
	}
	if patch.Amplitude != nil {
		l.Amplitude = *patch.Amplitude
	}
	l.clamp()
	return true
}

// ordered returns the existing layers in phase display order.
func (r *LayerRegistry) ordered() []*ShieldLayer {
	out := make([]*ShieldLayer, 0, len(r.layers))
	for _, l := range r.layers {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Phase.Order() < out[j].Phase.Order()
	})
	return out
}

func (r *LayerRegistry) count() int { return len(r.layers) }

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
