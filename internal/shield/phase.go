package shield

import (
	"math"
	"strings"
)

// Phase identifies one concentric defense layer.
type Phase string

const (
	PhaseAlpha    Phase = "alpha"
	PhaseBeta     Phase = "beta"
	PhaseGamma    Phase = "gamma"
	PhaseDelta    Phase = "delta"
	PhaseEpsilon  Phase = "epsilon"
	PhaseOmega    Phase = "omega"
	PhaseCellular Phase = "cellular"
)

// Band is an inclusive [Min, Max] range.
type Band struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Clamp pins v into the band.
func (b Band) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return b.Mid()
	}
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

// Contains reports whether v lies inside the band.
func (b Band) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

func (b Band) Width() float64 { return b.Max - b.Min }

func (b Band) Mid() float64 { return b.Min + b.Width()/2 }

// phaseSpec holds the fixed per-phase design constants.
type phaseSpec struct {
	phase     Phase
	frequency Band // Hz
	amplitude Band
	strength  float64 // initial strength
	tier      float64 // block-probability weight
}

// phaseTable is ordered by display order. Omega carries the highest tier
// weight, epsilon and delta the next, the rest share 1.0.
var phaseTable = []phaseSpec{
	{PhaseAlpha, Band{1000, 2000}, Band{0.5, 1.0}, 0.70, 1.0},
	{PhaseBeta, Band{2000, 4000}, Band{0.6, 1.2}, 0.70, 1.0},
	{PhaseGamma, Band{4000, 8000}, Band{0.7, 1.4}, 0.75, 1.0},
	{PhaseDelta, Band{8000, 16000}, Band{0.8, 1.6}, 0.80, 1.2},
	{PhaseEpsilon, Band{16000, 32000}, Band{0.9, 1.8}, 0.85, 1.2},
	{PhaseOmega, Band{32000, 64000}, Band{1.0, 2.0}, 0.95, 1.5},
	{PhaseCellular, Band{100, 1000}, Band{0.3, 0.8}, 0.60, 1.0},
}

var phaseIndex = func() map[Phase]int {
	m := make(map[Phase]int, len(phaseTable))
	for i, p := range phaseTable {
		m[p.phase] = i
	}
	return m
}()

// Phases returns every phase in display order.
func Phases() []Phase {
	out := make([]Phase, len(phaseTable))
	for i, p := range phaseTable {
		out[i] = p.phase
	}
	return out
}

// Valid reports whether p is one of the seven phases.
func (p Phase) Valid() bool {
	_, ok := phaseIndex[p]
	return ok
}

// Order is the display position of p, or -1 for unknown phases.
func (p Phase) Order() int {
	if i, ok := phaseIndex[p]; ok {
		return i
	}
	return -1
}

// ParsePhase normalizes s and validates it.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", &ValidationError{Field: "phase", Value: s, Err: ErrUnknownPhase}
	}
	return p, nil
}

// FrequencyBand is the allowed frequency range for p.
func (p Phase) FrequencyBand() Band {
	if i, ok := phaseIndex[p]; ok {
		return phaseTable[i].frequency
	}
	return Band{}
}

// AmplitudeBand is the allowed amplitude range for p.
func (p Phase) AmplitudeBand() Band {
	if i, ok := phaseIndex[p]; ok {
		return phaseTable[i].amplitude
	}
	return Band{}
}

// TierWeight is the block-probability multiplier for p.
func (p Phase) TierWeight() float64 {
	if i, ok := phaseIndex[p]; ok {
		return phaseTable[i].tier
	}
	return 0
}

func (p Phase) initialStrength() float64 {
	if i, ok := phaseIndex[p]; ok {
		return phaseTable[i].strength
	}
	return 0
}
