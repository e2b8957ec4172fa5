package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/1sec-project/shieldcore/internal/shield"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrDispatchQueueFull is returned when a status delivery cannot be queued.
var ErrDispatchQueueFull = errors.New("status dispatch queue full")

// Delivery is one status payload bound for one webhook URL.
type Delivery struct {
	ID        string          `json:"id"`
	URL       string          `json:"url"`
	Cycle     uint64          `json:"cycle"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	Status    string          `json:"status"` // "pending", "delivered", "dead_letter"
}

// DeadLetter is a failed delivery preserved for inspection.
type DeadLetter struct {
	Delivery  Delivery  `json:"delivery"`
	FailedAt  time.Time `json:"failed_at"`
	LastError string    `json:"last_error"`
}

// StatusDispatcher posts every cycle's ShieldStatus to the configured
// webhooks with exponential backoff, a dead letter buffer and a per-URL
// circuit breaker.
type StatusDispatcher struct {
	logger zerolog.Logger
	cfg    RetryConfig
	client *http.Client

	urlMu sync.RWMutex
	urls  []string

	queue      chan *Delivery
	dlMu       sync.RWMutex
	deadLetter []*DeadLetter
	maxDL      int

	cbMu       sync.Mutex
	cbFailures map[string]int
	cbOpenedAt map[string]time.Time

	statsMu   sync.Mutex
	delivered int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStatusDispatcher starts workers delivering to urls.
func NewStatusDispatcher(logger zerolog.Logger, urls []string, cfg RetryConfig) *StatusDispatcher {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CircuitThreshold <= 0 {
		cfg.CircuitThreshold = 5
	}
	if cfg.CircuitReset <= 0 {
		cfg.CircuitReset = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &StatusDispatcher{
		logger:     logger.With().Str("component", "status_dispatcher").Logger(),
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.Timeout},
		queue:      make(chan *Delivery, 256),
		deadLetter: make([]*DeadLetter, 0, 32),
		maxDL:      200,
		cbFailures: make(map[string]int),
		cbOpenedAt: make(map[string]time.Time),
		ctx:        ctx,
		cancel:     cancel,
	}
	d.SetURLs(urls)

	const workers = 2
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.logger.Info().Int("urls", len(urls)).Int("workers", workers).Msg("status dispatcher started")
	return d
}

// SetURLs replaces the webhook targets. Used on config reload.
func (d *StatusDispatcher) SetURLs(urls []string) {
	cp := make([]string, 0, len(urls))
	for _, u := range urls {
		if u != "" {
			cp = append(cp, u)
		}
	}
	d.urlMu.Lock()
	d.urls = cp
	d.urlMu.Unlock()
}

// URLs returns the current webhook targets.
func (d *StatusDispatcher) URLs() []string {
	d.urlMu.RLock()
	defer d.urlMu.RUnlock()
	out := make([]string, len(d.urls))
	copy(out, d.urls)
	return out
}

// BridgeStatus implements shield.StatusBridge. It queues one delivery per
// URL and returns without waiting for them.
func (d *StatusDispatcher) BridgeStatus(_ context.Context, st shield.ShieldStatus) error {
	urls := d.URLs()
	if len(urls) == 0 {
		return nil
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshaling status: %w", err)
	}

	var dropped int
	for _, u := range urls {
		del := &Delivery{
			ID:        uuid.New().String(),
			URL:       u,
			Cycle:     st.Cycle,
			Payload:   payload,
			CreatedAt: time.Now().UTC(),
			Status:    "pending",
		}
		select {
		case d.queue <- del:
		default:
			dropped++
			d.addDeadLetter(del, "queue full, delivery dropped")
		}
	}
	if dropped > 0 {
		return fmt.Errorf("%w: %d deliveries dropped", ErrDispatchQueueFull, dropped)
	}
	return nil
}

// DeadLetters returns up to limit failed deliveries, newest last.
func (d *StatusDispatcher) DeadLetters(limit int) []*DeadLetter {
	d.dlMu.RLock()
	defer d.dlMu.RUnlock()

	if limit <= 0 || limit > len(d.deadLetter) {
		limit = len(d.deadLetter)
	}
	out := make([]*DeadLetter, 0, limit)
	for i := len(d.deadLetter) - limit; i < len(d.deadLetter); i++ {
		out = append(out, d.deadLetter[i])
	}
	return out
}

// RetryDeadLetter re-enqueues a dead letter entry by delivery ID.
func (d *StatusDispatcher) RetryDeadLetter(id string) bool {
	d.dlMu.Lock()
	defer d.dlMu.Unlock()

	for i, dl := range d.deadLetter {
		if dl.Delivery.ID != id {
			continue
		}
		del := dl.Delivery
		del.Attempts = 0
		del.Status = "pending"
		del.LastError = ""
		select {
		case d.queue <- &del:
			d.deadLetter = append(d.deadLetter[:i], d.deadLetter[i+1:]...)
			return true
		default:
			return false
		}
	}
	return false
}

// Stats returns dispatcher statistics.
func (d *StatusDispatcher) Stats() map[string]interface{} {
	d.dlMu.RLock()
	dlCount := len(d.deadLetter)
	d.dlMu.RUnlock()

	d.cbMu.Lock()
	openCircuits := 0
	for _, openedAt := range d.cbOpenedAt {
		if time.Since(openedAt) < d.cfg.CircuitReset {
			openCircuits++
		}
	}
	d.cbMu.Unlock()

	d.statsMu.Lock()
	delivered := d.delivered
	d.statsMu.Unlock()

	return map[string]interface{}{
		"urls":          len(d.URLs()),
		"queue_depth":   len(d.queue),
		"delivered":     delivered,
		"dead_letters":  dlCount,
		"open_circuits": openCircuits,
		"max_retries":   d.cfg.MaxRetries,
	}
}

// Stop cancels in-flight retries and waits for the workers.
func (d *StatusDispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
	d.logger.Info().Int("dead_letters", len(d.DeadLetters(0))).Msg("status dispatcher stopped")
}

func (d *StatusDispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case del := <-d.queue:
			d.deliver(del)
		}
	}
}

func (d *StatusDispatcher) deliver(del *Delivery) {
	if d.isCircuitOpen(del.URL) {
		d.addDeadLetter(del, "circuit breaker open for URL")
		return
	}

	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		del.Attempts = attempt + 1

		req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, del.URL, bytes.NewReader(del.Payload))
		if err != nil {
			d.addDeadLetter(del, fmt.Sprintf("request creation error: %v", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "shieldcore-status/1.0")
		req.Header.Set("X-Shieldcore-Delivery", del.ID)
		req.Header.Set("X-Shieldcore-Cycle", fmt.Sprintf("%d", del.Cycle))
		req.Header.Set("X-Shieldcore-Attempt", fmt.Sprintf("%d", del.Attempts))

		resp, err := d.client.Do(req)
		if err != nil {
			if d.ctx.Err() != nil {
				d.addDeadLetter(del, "dispatcher stopped")
				return
			}
			del.LastError = fmt.Sprintf("request failed: %v", err)
			d.recordFailure(del.URL)
			if attempt < d.cfg.MaxRetries {
				d.backoff(attempt)
			}
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			del.Status = "delivered"
			d.recordSuccess(del.URL)
			d.logger.Debug().
				Str("id", del.ID).
				Str("url", del.URL).
				Uint64("cycle", del.Cycle).
				Int("attempts", del.Attempts).
				Msg("status delivered")
			return
		}

		// Retry on 5xx and 429, dead-letter on other 4xx
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			d.addDeadLetter(del, fmt.Sprintf("client error: HTTP %d", resp.StatusCode))
			return
		}

		del.LastError = fmt.Sprintf("server error: HTTP %d", resp.StatusCode)
		d.recordFailure(del.URL)
		if attempt < d.cfg.MaxRetries {
			d.backoff(attempt)
		}
	}

	d.addDeadLetter(del, del.LastError)
}

func (d *StatusDispatcher) backoff(attempt int) {
	delay := time.Duration(float64(d.cfg.InitialBackoff) * math.Pow(2, float64(attempt)))
	if delay > d.cfg.MaxBackoff {
		delay = d.cfg.MaxBackoff
	}
	select {
	case <-time.After(delay):
	case <-d.ctx.Done():
	}
}

func (d *StatusDispatcher) addDeadLetter(del *Delivery, reason string) {
	del.Status = "dead_letter"
	del.LastError = reason
	d.dlMu.Lock()
	if len(d.deadLetter) >= d.maxDL {
		d.deadLetter = d.deadLetter[d.maxDL/10:]
	}
	d.deadLetter = append(d.deadLetter, &DeadLetter{
		Delivery:  *del,
		FailedAt:  time.Now().UTC(),
		LastError: reason,
	})
	d.dlMu.Unlock()
	d.logger.Warn().
		Str("id", del.ID).
		Str("url", del.URL).
		Int("attempts", del.Attempts).
		Str("error", reason).
		Msg("status delivery moved to dead letter")
}

func (d *StatusDispatcher) isCircuitOpen(url string) bool {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	if openedAt, ok := d.cbOpenedAt[url]; ok {
		if time.Since(openedAt) < d.cfg.CircuitReset {
			return true
		}
		// Half-open: allow one more try.
		delete(d.cbOpenedAt, url)
		d.cbFailures[url] = 0
	}
	return false
}

func (d *StatusDispatcher) recordFailure(url string) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.cbFailures[url]++
	if d.cbFailures[url] >= d.cfg.CircuitThreshold {
		if _, open := d.cbOpenedAt[url]; !open {
			d.cbOpenedAt[url] = time.Now()
			d.logger.Warn().Str("url", url).Int("failures", d.cbFailures[url]).Msg("circuit breaker opened for webhook URL")
		}
	}
}

func (d *StatusDispatcher) recordSuccess(url string) {
	d.cbMu.Lock()
	d.cbFailures[url] = 0
	delete(d.cbOpenedAt, url)
	d.cbMu.Unlock()

	d.statsMu.Lock()
	d.delivered++
	d.statsMu.Unlock()
}
