package shield

import (
	"github.com/google/uuid"
)

// ensureDefaultEmitters provisions the default catalog on every existing
// layer. An emitter whose (type, canonical target set) already exists on the
// layer is reused, so repeated calls never duplicate.
func (r *LayerRegistry) ensureDefaultEmitters(basePower float64) []*Emitter {
	out := make([]*Emitter, 0, 16)
	for _, l := range r.ordered() {
		for _, tpl := range defaultEmitterCatalog[l.Phase] {
			if existing := findEmitterShape(l, tpl.kind, tpl.targets); existing != nil {
				out = append(out, existing)
				continue
			}
			e := newDefaultEmitter(l.Phase, tpl, basePower)
			l.Emitters = append(l.Emitters, e)
			out = append(out, e)
		}
	}
	return out
}

// ensureDefaultModulators provisions the default modulators, matching
// existing ones by kind.
func (r *LayerRegistry) ensureDefaultModulators() []*Modulator {
	out := make([]*Modulator, 0, 10)
	for _, l := range r.ordered() {
		for _, tpl := range defaultModulatorCatalog[l.Phase] {
			if existing := findModulatorKind(l, tpl.kind); existing != nil {
				out = append(out, existing)
				continue
			}
			m := newDefaultModulator(l.Phase, tpl)
			l.Modulators = append(l.Modulators, m)
			out = append(out, m)
		}
	}
	return out
}

// addEmitter attaches e to the layer for phase. If an emitter with the same
// shape already exists it is returned instead and e is discarded.
func (r *LayerRegistry) addEmitter(p Phase, e Emitter) (*Emitter, error) {
	if !p.Valid() {
		return nil, &ValidationError{Field: "phase", Value: string(p), Err: ErrUnknownPhase}
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	l, ok := r.layers[p]
	if !ok {
		return nil, nil
	}
	if existing := findEmitterShape(l, e.Type, e.Targets); existing != nil {
		return existing, nil
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.Phase = p
	e.EmissionCount = 0
	stored := e
	l.Emitters = append(l.Emitters, &stored)
	return &stored, nil
}

func (r *LayerRegistry) updateEmitter(p Phase, id string, patch EmitterPatch) bool {
	l, ok := r.layers[p]
	if !ok {
		return false
	}
	e := l.findEmitter(id)
	if e == nil {
		return false
	}
	e.apply(patch)
	return true
}

func (r *LayerRegistry) addModulator(p Phase, m Modulator) (*Modulator, error) {
	if !p.Valid() {
		return nil, &ValidationError{Field: "phase", Value: string(p), Err: ErrUnknownPhase}
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	l, ok := r.layers[p]
	if !ok {
		return nil, nil
	}
	if existing := findModulatorKind(l, m.Kind); existing != nil {
		return existing, nil
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Direction == 0 {
		m.Direction = 1
	}
	m.Phase = p
	stored := m
	l.Modulators = append(l.Modulators, &stored)
	return &stored, nil
}

func findEmitterShape(l *ShieldLayer, t EmissionType, targets ThreatSet) *Emitter {
	for _, e := range l.Emitters {
		if e.sameShape(t, targets) {
			return e
		}
	}
	return nil
}

func findModulatorKind(l *ShieldLayer, k ModulationKind) *Modulator {
	for _, m := range l.Modulators {
		if m.Kind == k {
			return m
		}
	}
	return nil
}
