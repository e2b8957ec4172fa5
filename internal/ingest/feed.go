package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/1sec-project/shieldcore/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var feedLines = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "shieldcore",
	Subsystem: "feed",
	Name:      "lines_total",
	Help:      "Threat feed lines read, by outcome.",
}, []string{"feed", "outcome"})

const defaultPollInterval = 250 * time.Millisecond

// FeedTailer follows a JSON-lines file where each line is a threat
// submission ({"type":"malware","level":"HIGH",...}). Only lines appended
// after Start are read. Truncation or replacement of the file (log
// rotation) reopens it from the beginning.
type FeedTailer struct {
	path   string
	tag    string
	sink   Submitter
	logger zerolog.Logger

	pollInterval time.Duration
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewFeedTailer creates a tailer for cfg.Path. Lines without a source are
// attributed to cfg.Tag, or to feed/<file name> when no tag is set.
func NewFeedTailer(cfg core.FeedConfig, sink Submitter, logger zerolog.Logger) *FeedTailer {
	tag := cfg.Tag
	if tag == "" {
		tag = "feed/" + filepath.Base(cfg.Path)
	}
	return &FeedTailer{
		path:         cfg.Path,
		tag:          tag,
		sink:         sink,
		logger:       logger.With().Str("component", "feed_ingest").Str("path", cfg.Path).Logger(),
		pollInterval: defaultPollInterval,
	}
}

func (f *FeedTailer) Name() string { return "feed:" + f.path }

// Start opens the file and begins following it in the background.
func (f *FeedTailer) Start(ctx context.Context) error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("opening feed %s: %w", f.path, err)
	}
	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return fmt.Errorf("seeking to end of %s: %w", f.path, err)
	}

	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	go f.follow(ctx, file, offset)
	f.logger.Info().Str("tag", f.tag).Msg("threat feed started")
	return nil
}

// Stop ends the follower and waits for it to close the file.
func (f *FeedTailer) Stop() error {
	if f.cancel == nil {
		return nil
	}
	f.cancel()
	<-f.done
	f.logger.Info().Msg("threat feed stopped")
	return nil
}

func (f *FeedTailer) follow(ctx context.Context, file *os.File, offset int64) {
	defer close(f.done)
	defer func() { file.Close() }()

	reader := bufio.NewReader(file)
	var partial strings.Builder

	for {
		chunk, err := reader.ReadString('\n')
		if chunk != "" {
			offset += int64(len(chunk))
			partial.WriteString(chunk)
		}
		if err == nil {
			f.handleLine(partial.String())
			partial.Reset()
			continue
		}
		if err != io.EOF {
			f.logger.Error().Err(err).Msg("feed read error")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(f.pollInterval):
		}

		if f.rotated(file, offset) {
			f.logger.Info().Msg("feed rotation detected, reopening")
			newFile, openErr := os.Open(f.path)
			if openErr != nil {
				f.logger.Error().Err(openErr).Msg("failed to reopen feed after rotation")
				continue
			}
			file.Close()
			file = newFile
			reader.Reset(file)
			partial.Reset()
			offset = 0
		}
	}
}

// rotated reports whether the path now names a different or shorter file
// than the one being read.
func (f *FeedTailer) rotated(file *os.File, offset int64) bool {
	info, err := os.Stat(f.path)
	if err != nil {
		return false
	}
	if info.Size() < offset {
		return true
	}
	cur, err := file.Stat()
	return err == nil && !os.SameFile(info, cur)
}

func (f *FeedTailer) handleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	var sub core.ThreatSubmission
	if err := json.Unmarshal([]byte(line), &sub); err != nil {
		feedLines.WithLabelValues(f.tag, outcomeMalformed).Inc()
		f.logger.Debug().Err(err).Str("line", truncate(line, 200)).Msg("skipping malformed feed line")
		return
	}
	if sub.Source == "" {
		sub.Source = f.tag
	}
	ev, err := sub.ToEvent()
	if err != nil {
		feedLines.WithLabelValues(f.tag, outcomeInvalid).Inc()
		f.logger.Warn().Err(err).Str("id", sub.ID).Msg("rejected feed threat")
		return
	}

	outcome, err := submit(f.sink, ev)
	feedLines.WithLabelValues(f.tag, outcome).Inc()
	switch outcome {
	case outcomeBackpressure:
		f.logger.Warn().Str("event_id", ev.ID).Msg("threat queue full, feed threat dropped")
	case outcomeFailed:
		f.logger.Error().Err(err).Str("event_id", ev.ID).Msg("failed to submit feed threat")
	}
}
