package shield

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// ModulationKind selects how a modulator perturbs its layer on rotation.
type ModulationKind int

const (
	// ModulationJitter applies a symmetric random delta.
	ModulationJitter ModulationKind = iota
	// ModulationDrift pushes in one direction and reverses at a band edge.
	ModulationDrift
)

func (k ModulationKind) String() string {
	switch k {
	case ModulationJitter:
		return "jitter"
	case ModulationDrift:
		return "drift"
	default:
		return "unknown"
	}
}

func (k ModulationKind) Valid() bool {
	return k == ModulationJitter || k == ModulationDrift
}

func ParseModulationKind(s string) (ModulationKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jitter":
		return ModulationJitter, true
	case "drift":
		return ModulationDrift, true
	default:
		return ModulationJitter, false
	}
}

func (k ModulationKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *ModulationKind) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	kind, ok := ParseModulationKind(str)
	if !ok {
		return &ValidationError{Field: "kind", Value: str, Err: ErrInvalidModulator}
	}
	*k = kind
	return nil
}

// Modulator nudges its layer's frequency and amplitude on each rotation.
// Shifts are fractions of the layer's band width.
type Modulator struct {
	ID             string         `json:"id"`
	Phase          Phase          `json:"phase"`
	Kind           ModulationKind `json:"kind"`
	FrequencyShift float64        `json:"frequency_shift"`
	AmplitudeShift float64        `json:"amplitude_shift"`
	Direction      int            `json:"direction"`
	Active         bool           `json:"active"`
}

func (m *Modulator) validate() error {
	if !m.Kind.Valid() {
		return &ValidationError{Field: "kind", Value: m.Kind.String(), Err: ErrInvalidModulator}
	}
	if m.FrequencyShift < 0 || m.FrequencyShift > 1 {
		return &ValidationError{Field: "frequency_shift", Err: ErrInvalidModulator}
	}
	if m.AmplitudeShift < 0 || m.AmplitudeShift > 1 {
		return &ValidationError{Field: "amplitude_shift", Err: ErrInvalidModulator}
	}
	return nil
}

// step returns the frequency and amplitude deltas for one rotation of a
// layer with the given bands.
func (m *Modulator) step(rnd Source, freq, amp Band) (df, da float64) {
	switch m.Kind {
	case ModulationJitter:
		df = (rnd.Float64()*2 - 1) * m.FrequencyShift * freq.Width()
		da = (rnd.Float64()*2 - 1) * m.AmplitudeShift * amp.Width()
	case ModulationDrift:
		dir := float64(m.Direction)
		if dir == 0 {
			dir = 1
		}
		df = dir * rnd.Float64() * m.FrequencyShift * freq.Width()
		da = dir * rnd.Float64() * m.AmplitudeShift * amp.Width()
	}
	return df, da
}

// bounce flips a drift modulator once its layer is pinned at a band edge.
func (m *Modulator) bounce(freq float64, band Band) {
	if m.Kind != ModulationDrift {
		return
	}
	if m.Direction >= 0 && freq >= band.Max {
		m.Direction = -1
	} else if m.Direction < 0 && freq <= band.Min {
		m.Direction = 1
	}
}

type modulatorTemplate struct {
	kind      ModulationKind
	freqShift float64
	ampShift  float64
}

// Every layer gets a jitter modulator; the outer tiers also drift.
var defaultModulatorCatalog = map[Phase][]modulatorTemplate{
	PhaseAlpha:    {{ModulationJitter, 0.05, 0.05}},
	PhaseBeta:     {{ModulationJitter, 0.05, 0.05}},
	PhaseGamma:    {{ModulationJitter, 0.06, 0.05}},
	PhaseDelta:    {{ModulationJitter, 0.06, 0.05}, {ModulationDrift, 0.03, 0.02}},
	PhaseEpsilon:  {{ModulationJitter, 0.07, 0.06}, {ModulationDrift, 0.03, 0.02}},
	PhaseOmega:    {{ModulationJitter, 0.08, 0.06}, {ModulationDrift, 0.04, 0.03}},
	PhaseCellular: {{ModulationJitter, 0.04, 0.04}},
}

func newDefaultModulator(phase Phase, tpl modulatorTemplate) *Modulator {
	return &Modulator{
		ID:             uuid.New().String(),
		Phase:          phase,
		Kind:           tpl.kind,
		FrequencyShift: tpl.freqShift,
		AmplitudeShift: tpl.ampShift,
		Direction:      1,
		Active:         true,
	}
}
