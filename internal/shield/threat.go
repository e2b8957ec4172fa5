package shield

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ThreatType identifies a class of threat the shield knows how to reason about.
type ThreatType string

const (
	ThreatIntrusion          ThreatType = "intrusion"
	ThreatMalware            ThreatType = "malware"
	ThreatDDoS               ThreatType = "ddos"
	ThreatExploit            ThreatType = "exploit"
	ThreatDataExfiltration   ThreatType = "data_exfiltration"
	ThreatUnauthorizedAccess ThreatType = "unauthorized_access"
	ThreatSpam               ThreatType = "spam"
	ThreatPhishing           ThreatType = "phishing"
	ThreatAPIAbuse           ThreatType = "api_abuse"
)

// threatCatalog is the closed set of threat types, in display order.
var threatCatalog = []ThreatType{
	ThreatIntrusion,
	ThreatMalware,
	ThreatDDoS,
	ThreatExploit,
	ThreatDataExfiltration,
	ThreatUnauthorizedAccess,
	ThreatSpam,
	ThreatPhishing,
	ThreatAPIAbuse,
}

var threatIndex = func() map[ThreatType]int {
	m := make(map[ThreatType]int, len(threatCatalog))
	for i, t := range threatCatalog {
		m[t] = i
	}
	return m
}()

// ThreatTypes returns a copy of the threat catalog.
func ThreatTypes() []ThreatType {
	out := make([]ThreatType, len(threatCatalog))
	copy(out, threatCatalog)
	return out
}

// Valid reports whether t is part of the catalog.
func (t ThreatType) Valid() bool {
	_, ok := threatIndex[t]
	return ok
}

// ParseThreatType normalizes s and validates it against the catalog.
// Hyphenated spellings ("data-exfiltration") are accepted.
func ParseThreatType(s string) (ThreatType, error) {
	t := ThreatType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !t.Valid() {
		return "", &ValidationError{Field: "type", Value: s, Err: ErrUnknownThreatType}
	}
	return t, nil
}

// ThreatLevel is the severity carried by a threat event.
type ThreatLevel int

const (
	LevelLow ThreatLevel = iota
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l ThreatLevel) String() string {
	switch l {
	case LevelLow:
		return "LOW"
	case LevelMedium:
		return "MEDIUM"
	case LevelHigh:
		return "HIGH"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether l is one of the defined levels.
func (l ThreatLevel) Valid() bool {
	return l >= LevelLow && l <= LevelCritical
}

// ParseThreatLevel accepts level names in any case.
func ParseThreatLevel(s string) (ThreatLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return LevelLow, true
	case "MEDIUM", "MED":
		return LevelMedium, true
	case "HIGH":
		return LevelHigh, true
	case "CRITICAL", "CRIT":
		return LevelCritical, true
	default:
		return LevelLow, false
	}
}

func (l ThreatLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *ThreatLevel) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	lvl, ok := ParseThreatLevel(str)
	if !ok {
		return &ValidationError{Field: "level", Value: str, Err: ErrInvalidEvent}
	}
	*l = lvl
	return nil
}

// ThreatEvent is one observation submitted for evaluation. It is not
// modified after creation; the verdict lives in EvaluatedThreat.
type ThreatEvent struct {
	ID        string      `json:"id" validate:"required"`
	Type      ThreatType  `json:"type" validate:"required,threat_type"`
	Level     ThreatLevel `json:"level" validate:"threat_level"`
	Source    string      `json:"source,omitempty" validate:"max=256"`
	Summary   string      `json:"summary,omitempty" validate:"max=1024"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewThreatEvent creates a ThreatEvent with a generated ID and current timestamp.
func NewThreatEvent(t ThreatType, level ThreatLevel) ThreatEvent {
	return ThreatEvent{
		ID:        uuid.New().String(),
		Type:      t,
		Level:     level,
		Timestamp: time.Now().UTC(),
	}
}

// EvaluatedThreat is a ThreatEvent together with the evaluator's verdict.
type EvaluatedThreat struct {
	ThreatEvent
	Detected    bool      `json:"detected"`
	Blocked     bool      `json:"blocked"`
	BreachedAt  Phase     `json:"breached_phase,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// ThreatSet is an immutable set of threat types kept in catalog order.
type ThreatSet struct {
	types []ThreatType
}

// NewThreatSet builds a set from ts, dropping duplicates.
func NewThreatSet(ts ...ThreatType) ThreatSet {
	seen := make(map[ThreatType]bool, len(ts))
	out := make([]ThreatType, 0, len(ts))
	for _, t := range ts {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		ii, iok := threatIndex[out[i]]
		jj, jok := threatIndex[out[j]]
		if iok && jok {
			return ii < jj
		}
		if iok != jok {
			return iok
		}
		return out[i] < out[j]
	})
	return ThreatSet{types: out}
}

// AllThreats is the set covering the whole catalog.
func AllThreats() ThreatSet {
	return NewThreatSet(threatCatalog...)
}

// Contains reports whether t is in the set.
func (s ThreatSet) Contains(t ThreatType) bool {
	for _, x := range s.types {
		if x == t {
			return true
		}
	}
	return false
}

func (s ThreatSet) Len() int { return len(s.types) }

// Types returns a copy of the members.
func (s ThreatSet) Types() []ThreatType {
	out := make([]ThreatType, len(s.types))
	copy(out, s.types)
	return out
}

// Key is the canonical form used to compare target sets: members sorted
// lexically and comma-joined.
func (s ThreatSet) Key() string {
	parts := make([]string, len(s.types))
	for i, t := range s.types {
		parts[i] = string(t)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// validate rejects empty sets and unknown members.
func (s ThreatSet) validate() error {
	if len(s.types) == 0 {
		return &ValidationError{Field: "target_threat_types", Value: "", Err: ErrInvalidEmitter}
	}
	for _, t := range s.types {
		if !t.Valid() {
			return &ValidationError{Field: "target_threat_types", Value: string(t), Err: ErrUnknownThreatType}
		}
	}
	return nil
}

func (s ThreatSet) MarshalJSON() ([]byte, error) {
	if s.types == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.types)
}

func (s *ThreatSet) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts := make([]ThreatType, 0, len(raw))
	for _, r := range raw {
		t, err := ParseThreatType(r)
		if err != nil {
			return err
		}
		ts = append(ts, t)
	}
	*s = NewThreatSet(ts...)
	return nil
}

func (s ThreatSet) String() string {
	return fmt.Sprintf("{%s}", s.Key())
}
