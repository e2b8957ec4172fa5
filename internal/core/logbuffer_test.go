package core

import (
	"bytes"
	"strconv"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// ─── Parsing ─────────────────────────────────────────────────────────────────

func TestLogRingBuffer_ParsesZerologLines(t *testing.T) {
	b := NewLogRingBuffer(10)
	logger := zerolog.New(b).With().Timestamp().Str("component", "scheduler").Logger()
	logger.Warn().Int("pending", 3).Msg("cycle finished with errors")

	entries := b.GetEntries(1)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Level != "warn" {
		t.Errorf("Level = %q, want warn", e.Level)
	}
	if e.Component != "scheduler" {
		t.Errorf("Component = %q, want scheduler", e.Component)
	}
	if e.Message != "cycle finished with errors" {
		t.Errorf("Message = %q", e.Message)
	}
	if e.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestLogRingBuffer_KeepsPlainLines(t *testing.T) {
	b := NewLogRingBuffer(10)
	n, err := b.Write([]byte("not json\n"))
	if err != nil || n != len("not json\n") {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	e := b.GetEntries(1)[0]
	if e.Raw != "not json" || e.Message != "not json" {
		t.Errorf("entry = %+v", e)
	}
	if e.Level != "" {
		t.Errorf("Level = %q, want empty", e.Level)
	}
}

// ─── Ring ────────────────────────────────────────────────────────────────────

func TestLogRingBuffer_Empty(t *testing.T) {
	b := NewLogRingBuffer(5)
	if got := b.GetEntries(10); len(got) != 0 {
		t.Errorf("new buffer should be empty, got %d", len(got))
	}
	b.Write([]byte("x"))
	if got := b.GetEntries(0); len(got) != 0 {
		t.Errorf("GetEntries(0) = %d entries, want 0", len(got))
	}
	if got := b.GetEntries(-3); len(got) != 0 {
		t.Errorf("GetEntries(-3) = %d entries, want 0", len(got))
	}
}

func TestLogRingBuffer_WrapKeepsNewestInOrder(t *testing.T) {
	b := NewLogRingBuffer(4)
	for i := 0; i < 10; i++ {
		b.Write([]byte(strconv.Itoa(i)))
	}
	entries := b.GetEntries(100)
	if len(entries) != 4 {
		t.Fatalf("len = %d, want 4", len(entries))
	}
	for i, want := range []string{"6", "7", "8", "9"} {
		if entries[i].Raw != want {
			t.Errorf("entries[%d] = %q, want %q", i, entries[i].Raw, want)
		}
	}
}

// ─── Filter ──────────────────────────────────────────────────────────────────

func TestLogRingBuffer_Filter(t *testing.T) {
	b := NewLogRingBuffer(50)
	base := zerolog.New(b)
	base.Debug().Str("component", "bus").Msg("d")
	base.Info().Str("component", "bus").Msg("i")
	base.Error().Str("component", "engine").Msg("e1")
	base.Error().Str("component", "bus").Msg("e2")

	if got := b.Filter(0, "warn", ""); len(got) != 2 {
		t.Errorf("warn+ = %d entries, want 2", len(got))
	}
	if got := b.Filter(0, "", "bus"); len(got) != 2 {
		t.Errorf("bus info+ = %d entries, want 2", len(got))
	}
	got := b.Filter(1, "debug", "bus")
	if len(got) != 1 || got[0].Message != "e2" {
		t.Errorf("Filter(1, debug, bus) = %+v", got)
	}
}

func TestLogRingBuffer_MultiWriter(t *testing.T) {
	b := NewLogRingBuffer(10)
	var buf bytes.Buffer
	b.MultiWriter(&buf).Write([]byte("hello"))

	if buf.String() != "hello" {
		t.Errorf("primary writer = %q", buf.String())
	}
	if b.GetEntries(1)[0].Raw != "hello" {
		t.Error("ring buffer missed the line")
	}
}

func TestLogRingBuffer_ConcurrentSafe(t *testing.T) {
	b := NewLogRingBuffer(16)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.Write([]byte(`{"level":"info","message":"w"}`))
		}()
		go func() {
			defer wg.Done()
			b.Filter(5, "info", "")
		}()
	}
	wg.Wait()
}
