package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// NarrativeLine is one human-readable cycle summary.
type NarrativeLine struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// NarrativeLog writes cycle narratives to a zerolog logger and keeps the
// last few for the API.
type NarrativeLog struct {
	mu     sync.Mutex
	lines  []NarrativeLine
	keep   int
	logger zerolog.Logger
}

func NewNarrativeLog(logger zerolog.Logger, keep int) *NarrativeLog {
	if keep <= 0 {
		keep = 100
	}
	return &NarrativeLog{
		keep:   keep,
		logger: logger.With().Str("component", "narrative").Logger(),
	}
}

// Narrate implements shield.NarrativeSink.
func (n *NarrativeLog) Narrate(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.logger.Info().Msg(line)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.lines = append(n.lines, NarrativeLine{Timestamp: time.Now().UTC(), Text: line})
	if over := len(n.lines) - n.keep; over > 0 {
		n.lines = append(n.lines[:0], n.lines[over:]...)
	}
	return nil
}

// Lines returns the retained narratives, oldest first.
func (n *NarrativeLog) Lines() []NarrativeLine {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NarrativeLine, len(n.lines))
	copy(out, n.lines)
	return out
}
