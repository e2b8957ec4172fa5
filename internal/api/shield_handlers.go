package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/1sec-project/shieldcore/internal/core"
	"github.com/1sec-project/shieldcore/internal/shield"
)

const maxThreatBatch = 500

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	e := s.engine
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":       Version,
		"state":         e.Shield.State().String(),
		"uptime_secs":   int64(e.Uptime().Seconds()),
		"bus_connected": e.Bus != nil && e.Bus.IsConnected(),
		"pending":       e.Scheduler.Pending(),
		"shield":        e.Shield.Status(),
	})
}

func (s *Server) handleLastCycle(w http.ResponseWriter, r *http.Request) {
	st, ok := s.engine.Shield.LastCycle()
	if !ok {
		writeError(w, http.StatusNotFound, "no_cycle", "no cycle has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// phaseParam parses {phase}, writing a 400 when it is not a known phase.
func phaseParam(w http.ResponseWriter, r *http.Request) (shield.Phase, bool) {
	p, err := shield.ParsePhase(r.PathValue("phase"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown_phase", err.Error())
		return "", false
	}
	return p, true
}

func (s *Server) handleLayers(w http.ResponseWriter, r *http.Request) {
	layers := s.engine.Shield.Layers()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"layers": layers,
		"total":  len(layers),
	})
}

func (s *Server) handleLayer(w http.ResponseWriter, r *http.Request) {
	p, ok := phaseParam(w, r)
	if !ok {
		return
	}
	layer, found := s.engine.Shield.GetLayer(p)
	if !found {
		writeError(w, http.StatusNotFound, "not_provisioned", "layer not provisioned")
		return
	}
	writeJSON(w, http.StatusOK, layer)
}

func (s *Server) handlePatchLayer(w http.ResponseWriter, r *http.Request) {
	p, ok := phaseParam(w, r)
	if !ok {
		return
	}
	var patch shield.LayerPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON: "+err.Error())
		return
	}
	if !s.engine.Shield.UpdateLayer(p, patch) {
		writeError(w, http.StatusNotFound, "not_provisioned", "layer not provisioned")
		return
	}
	layer, _ := s.engine.Shield.GetLayer(p)
	s.logger.Info().Str("phase", string(p)).Msg("layer updated via API")
	writeJSON(w, http.StatusOK, layer)
}

func (s *Server) handleResetBreaches(w http.ResponseWriter, r *http.Request) {
	p, ok := phaseParam(w, r)
	if !ok {
		return
	}
	if err := s.engine.Shield.ResetBreaches(p); err != nil {
		writeError(w, http.StatusBadRequest, "unknown_phase", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "phase": string(p)})
}

func (s *Server) handleAddEmitter(w http.ResponseWriter, r *http.Request) {
	p, ok := phaseParam(w, r)
	if !ok {
		return
	}
	var em shield.Emitter
	if err := decodeBody(r, &em); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON: "+err.Error())
		return
	}
	stored, found, err := s.engine.Shield.AddEmitter(p, em)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_emitter", err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_provisioned", "layer not provisioned")
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handlePatchEmitter(w http.ResponseWriter, r *http.Request) {
	p, ok := phaseParam(w, r)
	if !ok {
		return
	}
	var patch shield.EmitterPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON: "+err.Error())
		return
	}
	id := r.PathValue("id")
	if !s.engine.Shield.UpdateEmitter(p, id, patch) {
		writeError(w, http.StatusNotFound, "not_found", "emitter not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "id": id})
}

func (s *Server) handleSetEmittersActive(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Active *bool `json:"active"`
	}
	if err := decodeBody(r, &body); err != nil || body.Active == nil {
		writeError(w, http.StatusBadRequest, "invalid_json", `body must be {"active": true|false}`)
		return
	}
	n := s.engine.Shield.SetEmittersActive(*body.Active)
	s.logger.Warn().Bool("active", *body.Active).Int("emitters", n).Msg("bulk emitter toggle via API")
	writeJSON(w, http.StatusOK, map[string]interface{}{"active": *body.Active, "emitters": n})
}

func (s *Server) handleAddModulator(w http.ResponseWriter, r *http.Request) {
	p, ok := phaseParam(w, r)
	if !ok {
		return
	}
	var m shield.Modulator
	if err := decodeBody(r, &m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON: "+err.Error())
		return
	}
	stored, found, err := s.engine.Shield.AddModulator(p, m)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_modulator", err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_provisioned", "layer not provisioned")
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleRecentThreats(w http.ResponseWriter, r *http.Request) {
	threats := s.engine.Shield.RecentThreats(queryLimit(r, 50, 1000))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"threats": threats,
		"total":   len(threats),
	})
}

func (s *Server) handleRecentSpikes(w http.ResponseWriter, r *http.Request) {
	spikes := s.engine.Shield.RecentSpikes(queryLimit(r, 50, 1000))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"spikes": spikes,
		"total":  len(spikes),
	})
}

// submissionResult is the per-threat outcome of POST /api/v1/threats.
type submissionResult struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleSubmitThreats accepts one submission object or an array of them.
func (s *Server) handleSubmitThreats(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
		return
	}
	data = bytes.TrimSpace(data)

	if len(data) > 0 && data[0] == '[' {
		var subs []core.ThreatSubmission
		if err := json.Unmarshal(data, &subs); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid threat JSON: "+err.Error())
			return
		}
		if len(subs) > maxThreatBatch {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "too many threats in one request")
			return
		}
		results := make([]submissionResult, len(subs))
		accepted := 0
		for i, sub := range subs {
			results[i] = s.submit(sub)
			if results[i].Status == "accepted" {
				accepted++
			}
		}
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"accepted": accepted,
			"rejected": len(subs) - accepted,
			"results":  results,
		})
		return
	}

	var sub core.ThreatSubmission
	if err := json.Unmarshal(data, &sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid threat JSON: "+err.Error())
		return
	}
	res := s.submit(sub)
	writeJSON(w, submissionStatusCode(res.Status), res)
}

func (s *Server) submit(sub core.ThreatSubmission) submissionResult {
	ev, err := sub.ToEvent()
	if err != nil {
		return submissionResult{ID: sub.ID, Status: "invalid", Error: err.Error()}
	}
	if err := s.engine.SubmitThreat(ev); err != nil {
		switch {
		case errors.Is(err, core.ErrDuplicateThreat):
			return submissionResult{ID: ev.ID, Status: "duplicate", Error: err.Error()}
		case errors.Is(err, core.ErrBackpressure):
			return submissionResult{ID: ev.ID, Status: "backpressure", Error: err.Error()}
		case errors.Is(err, shield.ErrInvalidEvent), errors.Is(err, shield.ErrUnknownThreatType):
			return submissionResult{ID: ev.ID, Status: "invalid", Error: err.Error()}
		}
		s.logger.Error().Err(err).Str("event_id", ev.ID).Msg("failed to submit threat")
		return submissionResult{ID: ev.ID, Status: "failed", Error: err.Error()}
	}
	return submissionResult{ID: ev.ID, Status: "accepted"}
}

func submissionStatusCode(status string) int {
	switch status {
	case "accepted":
		return http.StatusAccepted
	case "invalid":
		return http.StatusBadRequest
	case "duplicate":
		return http.StatusConflict
	case "backpressure":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleRunCycle drains the pending batch now instead of waiting for the
// next tick.
func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Scheduler.RunNow(r.Context())
	resp := map[string]interface{}{"status": st}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	res := s.engine.Shield.RotateFrequencies()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rotations": res,
		"total":     len(res),
	})
}
