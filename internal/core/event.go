package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/1sec-project/shieldcore/internal/shield"
	"github.com/google/uuid"
)

// ThreatSubmission is the loose wire form of a threat accepted from the bus
// and the REST API. Type and level are free-form strings normalized by
// ToEvent.
type ThreatSubmission struct {
	ID        string    `json:"id,omitempty"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Source    string    `json:"source,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ToEvent normalizes the submission into a validated shield.ThreatEvent.
// Missing IDs and timestamps are generated; a missing level means LOW.
func (s ThreatSubmission) ToEvent() (shield.ThreatEvent, error) {
	tt, err := shield.ParseThreatType(s.Type)
	if err != nil {
		return shield.ThreatEvent{}, err
	}
	level := shield.LevelLow
	if strings.TrimSpace(s.Level) != "" {
		l, ok := shield.ParseThreatLevel(s.Level)
		if !ok {
			return shield.ThreatEvent{}, &shield.ValidationError{Field: "level", Value: s.Level, Err: shield.ErrInvalidEvent}
		}
		level = l
	}

	ev := shield.ThreatEvent{
		ID:        s.ID,
		Type:      tt,
		Level:     level,
		Source:    s.Source,
		Summary:   s.Summary,
		Timestamp: s.Timestamp.UTC(),
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if s.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := ev.Validate(); err != nil {
		return shield.ThreatEvent{}, err
	}
	return ev, nil
}

// UnmarshalThreatSubmission decodes and normalizes a JSON threat payload.
func UnmarshalThreatSubmission(data []byte) (shield.ThreatEvent, error) {
	var sub ThreatSubmission
	if err := json.Unmarshal(data, &sub); err != nil {
		return shield.ThreatEvent{}, fmt.Errorf("decoding threat: %w", err)
	}
	return sub.ToEvent()
}
