package core

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// LogEntry is one zerolog line captured by the engine.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message"`
	Raw       string    `json:"raw"`
}

// LogRingBuffer is a fixed-size ring buffer that captures log output.
type LogRingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	maxSize int
	pos     int
	full    bool
}

// NewLogRingBuffer creates a ring buffer that holds up to maxSize entries.
func NewLogRingBuffer(maxSize int) *LogRingBuffer {
	return &LogRingBuffer{
		entries: make([]LogEntry, maxSize),
		maxSize: maxSize,
	}
}

// Write implements io.Writer so the buffer can be used as a zerolog output.
// JSON lines are split into level, component and message; anything else is
// kept verbatim as the message.
func (b *LogRingBuffer) Write(p []byte) (n int, err error) {
	line := strings.TrimRight(string(p), "\n")
	entry := parseLogLine(line)

	b.mu.Lock()
	b.entries[b.pos] = entry
	b.pos = (b.pos + 1) % b.maxSize
	if b.pos == 0 {
		b.full = true
	}
	b.mu.Unlock()

	return len(p), nil
}

// GetEntries returns the most recent n log entries in chronological order.
func (b *LogRingBuffer) GetEntries(n int) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var total int
	if b.full {
		total = b.maxSize
	} else {
		total = b.pos
	}

	if n > total {
		n = total
	}
	if n <= 0 {
		return []LogEntry{}
	}

	result := make([]LogEntry, n)
	start := b.pos - n
	if start < 0 {
		start += b.maxSize
	}
	for i := 0; i < n; i++ {
		idx := (start + i) % b.maxSize
		result[i] = b.entries[idx]
	}
	return result
}

// MultiWriter returns an io.Writer that writes to both the log buffer and the given writer.
func (b *LogRingBuffer) MultiWriter(w io.Writer) io.Writer {
	return io.MultiWriter(w, b)
}

type zerologLine struct {
	Level     string    `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Time      time.Time `json:"time"`
}

func parseLogLine(line string) LogEntry {
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Raw:       line,
		Message:   line,
	}
	var zl zerologLine
	if err := json.Unmarshal([]byte(line), &zl); err != nil {
		return entry
	}
	entry.Level = zl.Level
	entry.Component = zl.Component
	entry.Message = zl.Message
	if !zl.Time.IsZero() {
		entry.Timestamp = zl.Time.UTC()
	}
	return entry
}

// Filter returns up to n of the most recent entries at or above minLevel
// and, when component is non-empty, from that component only.
func (b *LogRingBuffer) Filter(n int, minLevel, component string) []LogEntry {
	all := b.GetEntries(b.maxSize)
	min := levelRank(minLevel)
	out := make([]LogEntry, 0, len(all))
	for _, e := range all {
		if levelRank(e.Level) < min {
			continue
		}
		if component != "" && e.Component != component {
			continue
		}
		out = append(out, e)
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func levelRank(level string) int {
	switch strings.ToLower(level) {
	case "trace":
		return -1
	case "debug":
		return 0
	case "", "info":
		return 1
	case "warn":
		return 2
	case "error":
		return 3
	case "fatal", "panic":
		return 4
	}
	return 1
}
