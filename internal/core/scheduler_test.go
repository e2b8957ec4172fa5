package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/1sec-project/shieldcore/internal/shield"
	"github.com/rs/zerolog"
)

func testScheduler(t *testing.T, cfg SchedulerConfig) (*Scheduler, *shield.Engine) {
	t.Helper()
	eng := shield.NewEngine(shield.DefaultConfig(), shield.WithSource(shield.NewSeededSource(11)))
	return NewScheduler(zerolog.Nop(), eng, NewThreatDedup(time.Minute, 1000), cfg), eng
}

// ─── Submit ─────────────────────────────────────────────────────────────────

func TestScheduler_SubmitAndRunNow(t *testing.T) {
	s, eng := testScheduler(t, SchedulerConfig{Interval: time.Hour, MaxBatch: 10})

	for i := 0; i < 3; i++ {
		if err := s.Submit(shield.NewThreatEvent(shield.ThreatDDoS, shield.LevelMedium)); err != nil {
			t.Fatalf("Submit() error: %v", err)
		}
	}
	if s.Pending() != 3 {
		t.Fatalf("Pending() = %d, want 3", s.Pending())
	}

	st, err := s.RunNow(context.Background())
	if err != nil {
		t.Fatalf("RunNow() error: %v", err)
	}
	if st.ThreatsEvaluated != 3 {
		t.Errorf("ThreatsEvaluated = %d, want 3", st.ThreatsEvaluated)
	}
	if s.Pending() != 0 {
		t.Errorf("Pending() after run = %d, want 0", s.Pending())
	}
	if _, ok := eng.LastCycle(); !ok {
		t.Error("engine should have a last cycle")
	}
}

func TestScheduler_RunNowCancelledContextKeepsBatch(t *testing.T) {
	s, eng := testScheduler(t, SchedulerConfig{Interval: time.Hour, MaxBatch: 10})
	for i := 0; i < 3; i++ {
		if err := s.Submit(shield.NewThreatEvent(shield.ThreatDDoS, shield.LevelHigh)); err != nil {
			t.Fatalf("Submit() error: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st, err := s.RunNow(ctx)
	if err != nil {
		t.Fatalf("RunNow() with cancelled context error: %v", err)
	}
	if st.ThreatsEvaluated != 3 {
		t.Errorf("ThreatsEvaluated = %d, want 3", st.ThreatsEvaluated)
	}
	if got := len(eng.RecentThreats(10)); got != 3 {
		t.Errorf("RecentThreats() = %d entries, want 3", got)
	}
	if s.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", s.Pending())
	}
}

func TestScheduler_RejectsInvalid(t *testing.T) {
	s, _ := testScheduler(t, SchedulerConfig{MaxBatch: 10})
	err := s.Submit(shield.ThreatEvent{ID: "x", Type: "worm"})
	if !errors.Is(err, shield.ErrUnknownThreatType) {
		t.Errorf("err = %v, want ErrUnknownThreatType", err)
	}
	if s.Pending() != 0 {
		t.Error("invalid threat should not be queued")
	}
}

func TestScheduler_RejectsDuplicate(t *testing.T) {
	s, _ := testScheduler(t, SchedulerConfig{MaxBatch: 10})
	ev := shield.NewThreatEvent(shield.ThreatSpam, shield.LevelLow)
	if err := s.Submit(ev); err != nil {
		t.Fatal(err)
	}
	if err := s.Submit(ev); !errors.Is(err, ErrDuplicateThreat) {
		t.Errorf("err = %v, want ErrDuplicateThreat", err)
	}
	if s.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", s.Pending())
	}
}

func TestScheduler_Backpressure(t *testing.T) {
	s, _ := testScheduler(t, SchedulerConfig{Interval: time.Hour, MaxBatch: 2})
	for i := 0; i < 2; i++ {
		if err := s.Submit(shield.NewThreatEvent(shield.ThreatMalware, shield.LevelLow)); err != nil {
			t.Fatal(err)
		}
	}
	overflow := shield.NewThreatEvent(shield.ThreatMalware, shield.LevelLow)
	if err := s.Submit(overflow); !errors.Is(err, ErrBackpressure) {
		t.Fatalf("err = %v, want ErrBackpressure", err)
	}

	// Once drained, the rejected threat can be resubmitted.
	if _, err := s.RunNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Submit(overflow); err != nil {
		t.Errorf("resubmit after drain: %v", err)
	}
}

// ─── Loop ───────────────────────────────────────────────────────────────────

func TestScheduler_RunsOnInterval(t *testing.T) {
	s, eng := testScheduler(t, SchedulerConfig{Interval: 20 * time.Millisecond, MaxBatch: 10})
	s.Start()
	defer s.Stop()

	if err := s.Submit(shield.NewThreatEvent(shield.ThreatExploit, shield.LevelHigh)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return eng.Status().ThreatsEvaluated == 1 })
}

func TestScheduler_FullBatchTriggersCycle(t *testing.T) {
	s, eng := testScheduler(t, SchedulerConfig{Interval: time.Hour, MaxBatch: 3})
	s.Start()
	defer s.Stop()

	for i := 0; i < 3; i++ {
		if err := s.Submit(shield.NewThreatEvent(shield.ThreatIntrusion, shield.LevelLow)); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, func() bool { return eng.Status().ThreatsEvaluated == 3 })
}

func TestScheduler_StopFlushesPending(t *testing.T) {
	s, eng := testScheduler(t, SchedulerConfig{Interval: time.Hour, MaxBatch: 10})
	s.Start()
	if err := s.Submit(shield.NewThreatEvent(shield.ThreatPhishing, shield.LevelLow)); err != nil {
		t.Fatal(err)
	}
	s.Stop()

	if got := eng.Status().ThreatsEvaluated; got != 1 {
		t.Errorf("ThreatsEvaluated after Stop = %d, want 1", got)
	}
	// Stop is idempotent.
	s.Stop()
}

func TestScheduler_SetInterval(t *testing.T) {
	s, _ := testScheduler(t, SchedulerConfig{Interval: time.Second})
	s.SetInterval(250 * time.Millisecond)
	if s.Interval() != 250*time.Millisecond {
		t.Errorf("Interval() = %v, want 250ms", s.Interval())
	}
	s.SetInterval(0)
	if s.Interval() != 250*time.Millisecond {
		t.Error("non-positive interval should be ignored")
	}
	if s.Stats()["max_batch"].(int) != 500 {
		t.Errorf("default max batch = %v, want 500", s.Stats()["max_batch"])
	}
}
