package core

import (
	"errors"
	"testing"
	"time"

	"github.com/1sec-project/shieldcore/internal/shield"
)

// ─── ThreatSubmission ───────────────────────────────────────────────────────

func TestThreatSubmission_ToEvent_Normalizes(t *testing.T) {
	ev, err := ThreatSubmission{Type: "API-Abuse", Level: "critical", Source: "edge-1"}.ToEvent()
	if err != nil {
		t.Fatalf("ToEvent() error: %v", err)
	}
	if ev.Type != shield.ThreatAPIAbuse {
		t.Errorf("Type = %q, want api_abuse", ev.Type)
	}
	if ev.Level != shield.LevelCritical {
		t.Errorf("Level = %v, want CRITICAL", ev.Level)
	}
	if ev.ID == "" {
		t.Error("ID should be generated")
	}
	if ev.Timestamp.IsZero() {
		t.Error("Timestamp should be generated")
	}
	if ev.Source != "edge-1" {
		t.Errorf("Source = %q, want edge-1", ev.Source)
	}
}

func TestThreatSubmission_ToEvent_KeepsIDAndTime(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	ev, err := ThreatSubmission{ID: "evt-1", Type: "ddos", Timestamp: at}.ToEvent()
	if err != nil {
		t.Fatal(err)
	}
	if ev.ID != "evt-1" || !ev.Timestamp.Equal(at) {
		t.Errorf("got id=%q ts=%v", ev.ID, ev.Timestamp)
	}
	if ev.Level != shield.LevelLow {
		t.Errorf("missing level should default to LOW, got %v", ev.Level)
	}
}

func TestThreatSubmission_ToEvent_Errors(t *testing.T) {
	cases := []struct {
		name string
		sub  ThreatSubmission
		want error
	}{
		{"unknown type", ThreatSubmission{Type: "worm"}, shield.ErrUnknownThreatType},
		{"empty type", ThreatSubmission{}, shield.ErrUnknownThreatType},
		{"bad level", ThreatSubmission{Type: "spam", Level: "extreme"}, shield.ErrInvalidEvent},
	}
	for _, tc := range cases {
		_, err := tc.sub.ToEvent()
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestUnmarshalThreatSubmission(t *testing.T) {
	ev, err := UnmarshalThreatSubmission([]byte(`{"type":"malware","level":"HIGH","summary":"dropper"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != shield.ThreatMalware || ev.Level != shield.LevelHigh {
		t.Errorf("got %+v", ev)
	}

	if _, err := UnmarshalThreatSubmission([]byte(`{not json`)); err == nil {
		t.Error("expected decode error")
	}
}
