package sinks

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/1sec-project/shieldcore/internal/shield"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── TraceStore ──────────────────────────────────────────────────────────────

func TestTraceStore_BoundedInMemory(t *testing.T) {
	s, err := NewTraceStore(zerolog.Nop(), 3, "")
	require.NoError(t, err)
	assert.Empty(t, s.Recent(0))

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Remember(context.Background(), shield.CycleTrace{Cycle: uint64(i)}))
	}
	assert.Equal(t, 3, s.Len())

	got := s.Recent(0)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(3), got[0].Cycle)
	assert.Equal(t, uint64(5), got[2].Cycle)

	last := s.Recent(1)
	require.Len(t, last, 1)
	assert.Equal(t, uint64(5), last[0].Cycle)
	assert.NoError(t, s.Close())
}

func TestTraceStore_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces", "cycles.jsonl")
	s, err := NewTraceStore(zerolog.Nop(), 10, path)
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		require.NoError(t, s.Remember(context.Background(), shield.CycleTrace{
			Cycle:     uint64(i),
			Evaluated: i * 10,
			Health:    shield.HealthHealthy,
		}))
	}
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []shield.CycleTrace
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var tr shield.CycleTrace
		require.NoError(t, json.Unmarshal(sc.Bytes(), &tr))
		lines = append(lines, tr)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, 20, lines[1].Evaluated)
	assert.Equal(t, shield.HealthHealthy, lines[1].Health)
}

func TestTraceStore_CancelledContext(t *testing.T) {
	s, err := NewTraceStore(zerolog.Nop(), 3, "")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Remember(ctx, shield.CycleTrace{Cycle: 1}), context.Canceled)
	assert.Zero(t, s.Len())
}

// ─── NarrativeLog ────────────────────────────────────────────────────────────

func TestNarrativeLog_LogsAndTrims(t *testing.T) {
	var buf bytes.Buffer
	n := NewNarrativeLog(zerolog.New(&buf), 2)

	for i := 1; i <= 3; i++ {
		require.NoError(t, n.Narrate(context.Background(), fmt.Sprintf("cycle %d", i)))
	}

	lines := n.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "cycle 2", lines[0].Text)
	assert.Equal(t, "cycle 3", lines[1].Text)
	assert.Contains(t, buf.String(), `"component":"narrative"`)
	assert.Contains(t, buf.String(), `"message":"cycle 1"`)
}

// ─── Engine wiring ───────────────────────────────────────────────────────────

func TestSinks_ReceiveEngineCycles(t *testing.T) {
	store, err := NewTraceStore(zerolog.Nop(), 10, "")
	require.NoError(t, err)
	narr := NewNarrativeLog(zerolog.Nop(), 10)

	e := shield.NewEngine(shield.DefaultConfig(),
		shield.WithSource(shield.NewSeededSource(5)),
		shield.WithCollaborators(shield.Collaborators{Memory: store, Narrative: narr}),
	)
	_, err = e.Run(context.Background(), []shield.ThreatEvent{
		shield.NewThreatEvent(shield.ThreatDDoS, shield.LevelHigh),
	})
	require.NoError(t, err)

	traces := store.Recent(0)
	require.Len(t, traces, 1)
	assert.Equal(t, 1, traces[0].Evaluated)
	assert.True(t, traces[0].Rotated)

	lines := narr.Lines()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0].Text, "cycle 1")
}
