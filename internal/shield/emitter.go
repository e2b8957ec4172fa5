package shield

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EmissionType is the closed set of emitter capabilities.
type EmissionType int

const (
	EmissionDetection EmissionType = iota
	EmissionDefensive
	EmissionOffensive
	EmissionCountermeasure
)

func (t EmissionType) String() string {
	switch t {
	case EmissionDetection:
		return "detection"
	case EmissionDefensive:
		return "defensive"
	case EmissionOffensive:
		return "offensive"
	case EmissionCountermeasure:
		return "countermeasure"
	default:
		return "unknown"
	}
}

func (t EmissionType) Valid() bool {
	return t >= EmissionDetection && t <= EmissionCountermeasure
}

// ParseEmissionType accepts the lower-case names produced by String.
func ParseEmissionType(s string) (EmissionType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "detection":
		return EmissionDetection, true
	case "defensive":
		return EmissionDefensive, true
	case "offensive":
		return EmissionOffensive, true
	case "countermeasure":
		return EmissionCountermeasure, true
	default:
		return EmissionDetection, false
	}
}

func (t EmissionType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *EmissionType) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	et, ok := ParseEmissionType(str)
	if !ok {
		return &ValidationError{Field: "emission_type", Value: str, Err: ErrInvalidEmitter}
	}
	*t = et
	return nil
}

const (
	// omegaPowerMultiplier and the two ranges are fixed design constants.
	omegaPowerMultiplier = 1.5
	baseEmitterRange     = 100.0
	omegaEmitterRange    = 200.0
)

// Emitter is a capability attached to one layer.
type Emitter struct {
	ID            string       `json:"id"`
	Phase         Phase        `json:"phase"`
	Type          EmissionType `json:"emission_type"`
	Power         float64      `json:"power"`
	Range         float64      `json:"range"`
	Active        bool         `json:"active"`
	Targets       ThreatSet    `json:"target_threat_types"`
	LastEmission  time.Time    `json:"last_emission,omitempty"`
	EmissionCount int          `json:"emission_count"`
}

// EmitterPatch is a partial update; nil fields are left alone.
type EmitterPatch struct {
	Power  *float64 `json:"power,omitempty"`
	Range  *float64 `json:"range,omitempty"`
	Active *bool    `json:"active,omitempty"`
}

func (e *Emitter) validate() error {
	if !e.Type.Valid() {
		return &ValidationError{Field: "emission_type", Value: e.Type.String(), Err: ErrInvalidEmitter}
	}
	if e.Power <= 0 {
		return &ValidationError{Field: "power", Err: ErrInvalidEmitter}
	}
	if e.Range <= 0 {
		return &ValidationError{Field: "range", Err: ErrInvalidEmitter}
	}
	return e.Targets.validate()
}

// matches reports whether the emitter is live for threat type t.
func (e *Emitter) matches(t ThreatType) bool {
	return e.Active && e.Targets.Contains(t)
}

func (e *Emitter) sameShape(t EmissionType, targets ThreatSet) bool {
	return e.Type == t && e.Targets.Key() == targets.Key()
}

func (e *Emitter) apply(p EmitterPatch) {
	if p.Power != nil && *p.Power > 0 {
		e.Power = *p.Power
	}
	if p.Range != nil && *p.Range > 0 {
		e.Range = *p.Range
	}
	if p.Active != nil {
		e.Active = *p.Active
	}
}

func (e *Emitter) emit(at time.Time) {
	e.EmissionCount++
	e.LastEmission = at
}

// emitterTemplate is one entry of the default provisioning catalog.
type emitterTemplate struct {
	kind    EmissionType
	targets ThreatSet
}

// defaultEmitterCatalog maps each phase to the emitters it is provisioned with.
var defaultEmitterCatalog = map[Phase][]emitterTemplate{
	PhaseAlpha: {
		{EmissionDetection, NewThreatSet(ThreatIntrusion, ThreatUnauthorizedAccess)},
		{EmissionDefensive, NewThreatSet(ThreatSpam, ThreatPhishing)},
	},
	PhaseBeta: {
		{EmissionDetection, NewThreatSet(ThreatDDoS, ThreatAPIAbuse)},
		{EmissionDefensive, NewThreatSet(ThreatDDoS, ThreatAPIAbuse)},
	},
	PhaseGamma: {
		{EmissionDetection, NewThreatSet(ThreatMalware, ThreatExploit, ThreatPhishing)},
		{EmissionDefensive, NewThreatSet(ThreatMalware)},
	},
	PhaseDelta: {
		{EmissionDetection, NewThreatSet(ThreatDDoS, ThreatDataExfiltration)},
		{EmissionCountermeasure, NewThreatSet(ThreatDDoS, ThreatDataExfiltration)},
	},
	PhaseEpsilon: {
		{EmissionDetection, NewThreatSet(ThreatExploit, ThreatUnauthorizedAccess, ThreatSpam)},
		{EmissionOffensive, NewThreatSet(ThreatExploit, ThreatMalware)},
	},
	PhaseOmega: {
		{EmissionDetection, AllThreats()},
		{EmissionDefensive, AllThreats()},
		{EmissionOffensive, AllThreats()},
	},
	PhaseCellular: {
		{EmissionDetection, NewThreatSet(ThreatIntrusion, ThreatMalware)},
		{EmissionCountermeasure, NewThreatSet(ThreatIntrusion, ThreatMalware)},
	},
}

// newDefaultEmitter builds the emitter for a catalog entry. Omega emitters
// get 1.5x power and double range.
func newDefaultEmitter(phase Phase, tpl emitterTemplate, basePower float64) *Emitter {
	power, rng := basePower, baseEmitterRange
	if phase == PhaseOmega {
		power *= omegaPowerMultiplier
		rng = omegaEmitterRange
	}
	return &Emitter{
		ID:      uuid.New().String(),
		Phase:   phase,
		Type:    tpl.kind,
		Power:   power,
		Range:   rng,
		Active:  true,
		Targets: tpl.targets,
	}
}
