package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/1sec-project/shieldcore/internal/core"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Version is reported by /api/v1/status and the CLI.
const Version = "0.4.0"

const maxBodyBytes = 1 << 20

// Server is the shieldcore REST API server.
type Server struct {
	engine *core.Engine
	server *http.Server
	logger zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(engine *core.Engine) *Server {
	s := &Server{
		engine: engine,
		logger: engine.Logger.With().Str("component", "api_server").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/status/last", s.handleLastCycle)

	mux.HandleFunc("GET /api/v1/layers", s.handleLayers)
	mux.HandleFunc("GET /api/v1/layers/{phase}", s.handleLayer)
	mux.HandleFunc("PATCH /api/v1/layers/{phase}", s.handlePatchLayer)
	mux.HandleFunc("POST /api/v1/layers/{phase}/reset-breaches", s.handleResetBreaches)
	mux.HandleFunc("POST /api/v1/layers/{phase}/emitters", s.handleAddEmitter)
	mux.HandleFunc("PATCH /api/v1/layers/{phase}/emitters/{id}", s.handlePatchEmitter)
	mux.HandleFunc("POST /api/v1/layers/{phase}/modulators", s.handleAddModulator)
	mux.HandleFunc("POST /api/v1/emitters/active", s.handleSetEmittersActive)

	mux.HandleFunc("GET /api/v1/threats", s.handleRecentThreats)
	mux.HandleFunc("POST /api/v1/threats", s.handleSubmitThreats)
	mux.HandleFunc("GET /api/v1/spikes", s.handleRecentSpikes)
	mux.HandleFunc("POST /api/v1/cycle", s.handleRunCycle)
	mux.HandleFunc("POST /api/v1/rotate", s.handleRotate)

	mux.HandleFunc("GET /api/v1/logs", s.handleLogs)
	mux.HandleFunc("GET /api/v1/narrative", s.handleNarrative)
	mux.HandleFunc("GET /api/v1/traces", s.handleTraces)
	mux.HandleFunc("GET /api/v1/scheduler", s.handleSchedulerStats)
	mux.HandleFunc("GET /api/v1/bus", s.handleBusStats)
	mux.HandleFunc("GET /api/v1/webhooks", s.handleWebhooks)
	mux.HandleFunc("POST /api/v1/webhooks/dead-letters/{id}/retry", s.handleRetryDeadLetter)
	mux.HandleFunc("GET /api/v1/config", s.handleConfig)
	mux.HandleFunc("POST /api/v1/reload", s.handleReload)
	mux.HandleFunc("POST /api/v1/shutdown", s.handleShutdown)

	cfg := engine.Config()

	// CORS -> logging -> rate limit -> auth -> handler
	handler := corsMiddleware(
		loggingMiddleware(
			rateLimitMiddleware(
				authMiddleware(mux, engine.Config, s.logger),
				cfg.Server.RateLimit,
			),
			s.logger,
		),
		func() []string { return engine.Config().Server.CORSOrigins },
	)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving the API in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	cfg := s.engine.Config()
	s.logger.Info().Str("addr", s.server.Addr).Msg("API server starting")
	if cfg.AuthEnabled() {
		s.logger.Info().
			Int("keys", len(cfg.Server.APIKeys)).
			Int("read_only_keys", len(cfg.Server.ReadOnlyKeys)).
			Msg("API authentication enabled")
	} else {
		s.logger.Warn().Msg("API authentication disabled, set api_keys in config or SHIELDCORE_API_KEY")
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"state":     s.engine.Shield.State().String(),
		"timestamp": time.Now().UTC(),
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// queryLimit reads ?limit=, falling back to def and capping at max.
func queryLimit(r *http.Request, def, max int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func isPublicPath(path string) bool {
	return path == "/health" || path == "/metrics"
}

// authMiddleware enforces API keys on everything except /health and
// /metrics. Read-only keys may only use GET. With no keys configured all
// requests pass (open mode, warned about on startup). The config is read
// per request so reloaded keys apply immediately.
func authMiddleware(next http.Handler, cfgFn func() *core.Config, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := cfgFn()
		if isPublicPath(r.URL.Path) || !cfg.AuthEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if auth := r.Header.Get("Authorization"); auth != "" {
			key = strings.TrimPrefix(auth, "Bearer ")
		}
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized",
				"missing authentication, provide Authorization: Bearer <key> or X-API-Key header")
			return
		}

		role := cfg.ValidateAPIKey(key)
		switch {
		case role == "":
			logger.Warn().Str("path", r.URL.Path).Str("ip", r.RemoteAddr).Msg("invalid API key")
			writeError(w, http.StatusForbidden, "forbidden", "invalid API key")
			return
		case role == "read" && r.Method != http.MethodGet && r.Method != http.MethodHead:
			writeError(w, http.StatusForbidden, "read_only", "read-only key cannot modify state")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type clientLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientEntry
	limit     rate.Limit
	burst     int
	lastSweep time.Time
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterIdle = 10 * time.Minute

func (l *clientLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > time.Minute {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > limiterIdle {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	c, ok := l.clients[ip]
	if !ok {
		c = &clientEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// rateLimitMiddleware applies a per-client token bucket. A non-positive
// rate disables it.
func rateLimitMiddleware(next http.Handler, cfg core.RateLimitConfig) http.Handler {
	if cfg.RequestsPerSecond <= 0 {
		return next
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(cfg.RequestsPerSecond * 2)
		if burst < 1 {
			burst = 1
		}
	}
	limiter := &clientLimiter{
		clients: make(map[string]*clientEntry),
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   burst,
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if !limiter.allow(ip, time.Now()) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, try again shortly")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, originsFn func() []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowedOrigins := originsFn()
		origin := r.Header.Get("Origin")
		allowed := "*"
		if len(allowedOrigins) > 0 {
			allowed = ""
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = origin
					break
				}
			}
			if allowed == "" {
				next.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("Access-Control-Allow-Origin", allowed)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		if len(allowedOrigins) > 0 && allowedOrigins[0] != "*" {
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
