package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/1sec-project/shieldcore/internal/shield"
)

// ThreatDedup is a short-lived deduplication cache that prevents the same
// threat from being evaluated twice, e.g. when a producer retries a bus
// publish and also posts to the API. Threats are keyed by event ID; the
// content fingerprint is used only when the ID is empty.
type ThreatDedup struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	maxSize int
}

// NewThreatDedup creates a dedup cache. TTL controls how long a key is
// remembered. maxSize caps memory usage by evicting oldest entries.
func NewThreatDedup(ttl time.Duration, maxSize int) *ThreatDedup {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxSize <= 0 {
		maxSize = 50000
	}
	return &ThreatDedup{
		seen:    make(map[string]time.Time, maxSize/2),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// IsDuplicate returns true if this threat was seen within the TTL window.
// If not a duplicate, it records the threat.
func (d *ThreatDedup) IsDuplicate(ev shield.ThreatEvent) bool {
	key := d.key(ev)

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if seenAt, ok := d.seen[key]; ok && now.Sub(seenAt) < d.ttl {
		return true
	}

	d.seen[key] = now
	if len(d.seen) > d.maxSize {
		d.evictLocked(now)
	}
	return false
}

// Forget drops a threat from the cache so a rejected submission can be
// retried.
func (d *ThreatDedup) Forget(ev shield.ThreatEvent) {
	key := d.key(ev)
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

func (d *ThreatDedup) key(ev shield.ThreatEvent) string {
	if ev.ID != "" {
		return "id:" + ev.ID
	}
	h := sha256.New()
	h.Write([]byte(ev.Type))
	h.Write([]byte{0})
	h.Write([]byte(ev.Level.String()))
	h.Write([]byte{0})
	h.Write([]byte(ev.Source))
	h.Write([]byte{0})
	summary := ev.Summary
	if len(summary) > 128 {
		summary = summary[:128]
	}
	h.Write([]byte(summary))
	return "sum:" + hex.EncodeToString(h.Sum(nil)[:16])
}

// evictLocked removes entries older than TTL. Called when cache exceeds maxSize.
func (d *ThreatDedup) evictLocked(now time.Time) {
	for k, t := range d.seen {
		if now.Sub(t) >= d.ttl {
			delete(d.seen, k)
		}
	}
	// If still over capacity after TTL eviction, drop half
	if len(d.seen) > d.maxSize {
		count := 0
		target := len(d.seen) / 2
		for k := range d.seen {
			delete(d.seen, k)
			count++
			if count >= target {
				break
			}
		}
	}
}

// StartCleanup runs a background goroutine that periodically evicts expired
// entries. Call the returned function to stop it.
func (d *ThreatDedup) StartCleanup(interval time.Duration) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				d.mu.Lock()
				now := time.Now()
				for k, t := range d.seen {
					if now.Sub(t) >= d.ttl {
						delete(d.seen, k)
					}
				}
				d.mu.Unlock()
			}
		}
	}()
	return func() { close(done) }
}

// Size returns the current number of entries in the cache.
func (d *ThreatDedup) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
