// Package sinks holds the collaborators the shield engine reports to after
// every cycle.
package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/1sec-project/shieldcore/internal/shield"
	"github.com/rs/zerolog"
)

// TraceStore keeps the most recent cycle traces in memory and, when given a
// path, appends each one to a JSON-lines file.
type TraceStore struct {
	mu      sync.RWMutex
	entries []shield.CycleTrace
	maxSize int
	pos     int
	full    bool

	file   *os.File
	w      *bufio.Writer
	logger zerolog.Logger
}

// NewTraceStore creates a store holding up to maxSize traces. An empty path
// keeps traces in memory only.
func NewTraceStore(logger zerolog.Logger, maxSize int, path string) (*TraceStore, error) {
	if maxSize <= 0 {
		maxSize = 500
	}
	s := &TraceStore{
		entries: make([]shield.CycleTrace, maxSize),
		maxSize: maxSize,
		logger:  logger.With().Str("component", "trace_store").Logger(),
	}
	if path == "" {
		return s, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating trace dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	s.file = f
	s.w = bufio.NewWriter(f)
	s.logger.Info().Str("path", path).Int("max_size", maxSize).Msg("trace store opened")
	return s, nil
}

// Remember implements shield.MemorySink.
func (s *TraceStore) Remember(ctx context.Context, t shield.CycleTrace) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[s.pos] = t
	s.pos = (s.pos + 1) % s.maxSize
	if s.pos == 0 {
		s.full = true
	}

	if s.w == nil {
		return nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshaling trace: %w", err)
	}
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing trace: %w", err)
	}
	return s.w.Flush()
}

// Recent returns up to n traces, oldest first. n <= 0 returns all.
func (s *TraceStore) Recent(n int) []shield.CycleTrace {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := s.pos
	if s.full {
		total = s.maxSize
	}
	if n <= 0 || n > total {
		n = total
	}
	out := make([]shield.CycleTrace, n)
	start := s.pos - n
	if start < 0 {
		start += s.maxSize
	}
	for i := 0; i < n; i++ {
		out[i] = s.entries[(start+i)%s.maxSize]
	}
	return out
}

// Len is the number of traces retained in memory.
func (s *TraceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.full {
		return s.maxSize
	}
	return s.pos
}

// Close flushes and closes the backing file, if any.
func (s *TraceStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		s.file.Close()
		return fmt.Errorf("flushing traces: %w", err)
	}
	err := s.file.Close()
	s.file, s.w = nil, nil
	return err
}
