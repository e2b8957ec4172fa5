package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/1sec-project/shieldcore/internal/shield"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const (
	SubjectThreats     = "shield.threats"
	SubjectStatusCycle = "shield.status.cycle"
	SubjectSpikes      = "shield.spikes"

	threatConsumer = "shieldcore-threat-ingest"
	retryDelay     = 2 * time.Second
)

// ErrBackpressure is returned by an ingest handler to ask the bus to
// redeliver the message later.
var ErrBackpressure = errors.New("ingest queue full")

// EventBus wraps NATS JetStream for threat ingestion and status fan-out.
type EventBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	ns     *server.Server
	logger zerolog.Logger
	mu     sync.RWMutex
	subs   []*nats.Subscription

	lastSpikeAt time.Time

	// Metrics
	metrics *BusMetrics
}

// BusMetrics tracks event bus performance counters.
type BusMetrics struct {
	mu               sync.Mutex `json:"-"`
	ThreatsPublished int64      `json:"threats_published"`
	StatusPublished  int64      `json:"status_published"`
	SpikesPublished  int64      `json:"spikes_published"`
	PublishFailed    int64      `json:"publish_failed"`
	MessagesAcked    int64      `json:"messages_acked"`
	MessagesNaked    int64      `json:"messages_naked"`
	MessagesTermed   int64      `json:"messages_termed"`
}

// NewEventBus creates a new EventBus. If cfg.Embedded is true, it starts an embedded NATS server.
func NewEventBus(cfg *BusConfig, logger zerolog.Logger) (*EventBus, error) {
	bus := &EventBus{
		logger:  logger.With().Str("component", "event_bus").Logger(),
		subs:    make([]*nats.Subscription, 0),
		metrics: &BusMetrics{},
	}

	if cfg.Embedded {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating NATS data dir: %w", err)
		}

		opts := &server.Options{
			Host:      "127.0.0.1",
			Port:      cfg.Port,
			JetStream: true,
			StoreDir:  cfg.DataDir,
			NoLog:     true,
			NoSigs:    true,
		}

		ns, err := server.NewServer(opts)
		if err != nil {
			return nil, fmt.Errorf("creating embedded NATS server: %w", err)
		}

		ns.Start()

		if !ns.ReadyForConnections(10 * time.Second) {
			return nil, fmt.Errorf("embedded NATS server failed to start within timeout")
		}

		bus.ns = ns
		bus.logger.Info().Int("port", cfg.Port).Msg("embedded NATS server started")
	}

	url := cfg.URL
	if bus.ns != nil {
		url = bus.ns.ClientURL()
	}

	nc, err := nats.Connect(url,
		nats.Name("shieldcore"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				bus.logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			bus.logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		bus.shutdownServer()
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	bus.nc = nc

	js, err := nc.JetStream()
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}
	bus.js = js

	streams := []*nats.StreamConfig{
		{
			Name:      "SHIELD_THREATS",
			Subjects:  []string{SubjectThreats + ".>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    24 * time.Hour,
			MaxBytes:  256 * 1024 * 1024,
			Storage:   nats.FileStorage,
			Discard:   nats.DiscardOld,
		},
		{
			Name:      "SHIELD_STATUS",
			Subjects:  []string{"shield.status.>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    24 * time.Hour * 7,
			MaxBytes:  256 * 1024 * 1024,
			Storage:   nats.FileStorage,
			Discard:   nats.DiscardOld,
		},
		{
			Name:      "SHIELD_SPIKES",
			Subjects:  []string{SubjectSpikes + ".>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    24 * time.Hour * 30,
			MaxBytes:  128 * 1024 * 1024,
			Storage:   nats.FileStorage,
			Discard:   nats.DiscardOld,
		},
	}
	for _, sc := range streams {
		// AddStream fails if the stream exists with a different config; update it instead.
		if _, err := js.AddStream(sc); err != nil {
			if _, updateErr := js.UpdateStream(sc); updateErr != nil {
				bus.Close()
				return nil, fmt.Errorf("creating/updating %s stream: %w (original: %v)", sc.Name, updateErr, err)
			}
		}
	}

	bus.logger.Info().Str("url", url).Msg("connected to NATS JetStream")
	return bus, nil
}

// PublishThreat publishes a threat to shield.threats.<type>.
func (b *EventBus) PublishThreat(ev shield.ThreatEvent) error {
	data, err := json.Marshal(ThreatSubmission{
		ID:        ev.ID,
		Type:      string(ev.Type),
		Level:     ev.Level.String(),
		Source:    ev.Source,
		Summary:   ev.Summary,
		Timestamp: ev.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshaling threat: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", SubjectThreats, ev.Type)
	if _, err := b.js.Publish(subject, data, nats.MsgId(ev.ID)); err != nil {
		b.count(func(m *BusMetrics) { m.PublishFailed++ })
		return fmt.Errorf("publishing threat to %s: %w", subject, err)
	}
	b.count(func(m *BusMetrics) { m.ThreatsPublished++ })

	b.logger.Debug().
		Str("event_id", ev.ID).
		Str("subject", subject).
		Str("level", ev.Level.String()).
		Msg("threat published")
	return nil
}

// PublishSpike publishes a spike to shield.spikes.<phase>.
func (b *EventBus) PublishSpike(sp shield.OffensiveSpike) error {
	data, err := json.Marshal(sp)
	if err != nil {
		return fmt.Errorf("marshaling spike: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", SubjectSpikes, sp.Phase)
	if _, err := b.js.Publish(subject, data, nats.MsgId(sp.ID)); err != nil {
		b.count(func(m *BusMetrics) { m.PublishFailed++ })
		return fmt.Errorf("publishing spike to %s: %w", subject, err)
	}
	b.count(func(m *BusMetrics) { m.SpikesPublished++ })
	return nil
}

// BridgeStatus implements shield.StatusBridge. It publishes the cycle's
// status and every spike newer than the last one published.
func (b *EventBus) BridgeStatus(ctx context.Context, st shield.ShieldStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshaling status: %w", err)
	}
	msgID := fmt.Sprintf("cycle-%d-%d", st.Cycle, st.GeneratedAt.UnixNano())
	if _, err := b.js.Publish(SubjectStatusCycle, data, nats.MsgId(msgID), nats.Context(ctx)); err != nil {
		b.count(func(m *BusMetrics) { m.PublishFailed++ })
		return fmt.Errorf("publishing status: %w", err)
	}
	b.count(func(m *BusMetrics) { m.StatusPublished++ })

	b.mu.Lock()
	since := b.lastSpikeAt
	b.mu.Unlock()

	var errs []error
	for _, sp := range st.RecentSpikes {
		if !sp.Timestamp.After(since) {
			continue
		}
		if err := b.PublishSpike(sp); err != nil {
			errs = append(errs, err)
			continue
		}
		b.mu.Lock()
		if sp.Timestamp.After(b.lastSpikeAt) {
			b.lastSpikeAt = sp.Timestamp
		}
		b.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Subscribe creates a durable subscription to a subject pattern.
func (b *EventBus) Subscribe(subject, durableName string, handler func(msg *nats.Msg)) error {
	opts := []nats.SubOpt{nats.DeliverNew(), nats.AckExplicit()}
	if durableName != "" {
		opts = append(opts, nats.Durable(durableName))
	}
	sub, err := b.js.Subscribe(subject, handler, opts...)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.logger.Debug().Str("subject", subject).Str("durable", durableName).Msg("subscribed")
	return nil
}

// SubscribeThreats consumes shield.threats.> with a durable consumer.
// Malformed or invalid threats are terminated; a handler returning
// ErrBackpressure gets the message redelivered after a delay.
func (b *EventBus) SubscribeThreats(handler func(ev shield.ThreatEvent) error) error {
	return b.Subscribe(SubjectThreats+".>", threatConsumer, func(msg *nats.Msg) {
		ev, err := UnmarshalThreatSubmission(msg.Data)
		if err != nil {
			b.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping invalid threat")
			_ = msg.Term()
			b.count(func(m *BusMetrics) { m.MessagesTermed++ })
			return
		}
		if err := handler(ev); err != nil {
			if errors.Is(err, ErrBackpressure) {
				_ = msg.NakWithDelay(retryDelay)
				b.count(func(m *BusMetrics) { m.MessagesNaked++ })
				return
			}
			b.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("threat rejected")
			_ = msg.Term()
			b.count(func(m *BusMetrics) { m.MessagesTermed++ })
			return
		}
		_ = msg.Ack()
		b.count(func(m *BusMetrics) { m.MessagesAcked++ })
	})
}

// Close shuts down the event bus.
func (b *EventBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()

	if b.nc != nil {
		b.nc.Close()
	}
	b.shutdownServer()
	return nil
}

func (b *EventBus) shutdownServer() {
	if b.ns != nil {
		b.ns.Shutdown()
		b.ns.WaitForShutdown()
		b.ns = nil
		b.logger.Info().Msg("embedded NATS server stopped")
	}
}

// IsConnected returns true if the NATS connection is active.
func (b *EventBus) IsConnected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

func (b *EventBus) count(fn func(m *BusMetrics)) {
	b.metrics.mu.Lock()
	fn(b.metrics)
	b.metrics.mu.Unlock()
}

// GetMetrics returns a snapshot of bus metrics.
func (b *EventBus) GetMetrics() map[string]int64 {
	b.metrics.mu.Lock()
	defer b.metrics.mu.Unlock()
	return map[string]int64{
		"threats_published": b.metrics.ThreatsPublished,
		"status_published":  b.metrics.StatusPublished,
		"spikes_published":  b.metrics.SpikesPublished,
		"publish_failed":    b.metrics.PublishFailed,
		"messages_acked":    b.metrics.MessagesAcked,
		"messages_naked":    b.metrics.MessagesNaked,
		"messages_termed":   b.metrics.MessagesTermed,
	}
}
