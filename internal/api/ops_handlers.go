package api

import (
	"net/http"
	"time"
)

// handleLogs returns recent log entries from the ring buffer, optionally
// filtered by ?level= (minimum) and ?component=.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries := s.engine.LogBuffer.Filter(queryLimit(r, 100, 1000), q.Get("level"), q.Get("component"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  entries,
		"total": len(entries),
	})
}

func (s *Server) handleNarrative(w http.ResponseWriter, r *http.Request) {
	lines := s.engine.Narrative.Lines()
	if limit := queryLimit(r, len(lines), len(lines)); limit < len(lines) {
		lines = lines[len(lines)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"narrative": lines,
		"total":     len(lines),
	})
}

func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	traces := s.engine.Traces.Recent(queryLimit(r, 20, 500))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"traces": traces,
		"total":  len(traces),
		"stored": s.engine.Traces.Len(),
	})
}

func (s *Server) handleSchedulerStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scheduler":  s.engine.Scheduler.Stats(),
		"dedup_size": s.engine.Dedup.Size(),
		"components": s.engine.Components.Names(),
		"failures":   s.engine.Components.Failures(),
	})
}

func (s *Server) handleBusStats(w http.ResponseWriter, r *http.Request) {
	bus := s.engine.Bus
	if bus == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled":   true,
		"connected": bus.IsConnected(),
		"metrics":   bus.GetMetrics(),
	})
}

func (s *Server) handleWebhooks(w http.ResponseWriter, r *http.Request) {
	d := s.engine.Dispatcher
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":        d.Stats(),
		"dead_letters": d.DeadLetters(queryLimit(r, 50, 500)),
	})
}

func (s *Server) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.engine.Dispatcher.RetryDeadLetter(id) {
		writeError(w, http.StatusNotFound, "not_found", "dead letter not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requeued", "id": id})
}

// handleConfig returns the live config with API keys redacted.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	safeCfg := *s.engine.Config()
	safeCfg.Server.APIKeys = nil
	safeCfg.Server.ReadOnlyKeys = nil
	writeJSON(w, http.StatusOK, safeCfg)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	changes, err := s.engine.Reload()
	if err != nil {
		writeError(w, http.StatusBadRequest, "reload_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"changes": changes})
}

// handleShutdown answers first, then asks the engine to stop so the
// process's own shutdown path runs in order.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "shutting_down",
		"message": "shieldcore is shutting down gracefully",
	})
	go func() {
		time.Sleep(250 * time.Millisecond)
		s.logger.Info().Msg("shutdown requested via API")
		s.engine.RequestShutdown()
	}()
}
