// Package ingest feeds threats into the engine from outside the REST API
// and the bus: a syslog listener and JSON-lines feed files. Each source is
// a core.Component registered before the engine starts.
package ingest

import (
	"errors"

	"github.com/1sec-project/shieldcore/internal/core"
	"github.com/1sec-project/shieldcore/internal/shield"
)

// Submitter accepts threats for the next cycle. *core.Engine implements it.
type Submitter interface {
	SubmitThreat(ev shield.ThreatEvent) error
}

// Outcome labels shared by the ingest counters.
const (
	outcomeSubmitted    = "submitted"
	outcomeDuplicate    = "duplicate"
	outcomeBackpressure = "backpressure"
	outcomeInvalid      = "invalid"
	outcomeFailed       = "failed"
	outcomeIgnored      = "ignored"
	outcomeMalformed    = "malformed"
)

// submit hands ev to sink and reports which outcome label applies. The
// error is returned only for outcomeFailed.
func submit(sink Submitter, ev shield.ThreatEvent) (string, error) {
	err := sink.SubmitThreat(ev)
	switch {
	case err == nil:
		return outcomeSubmitted, nil
	case errors.Is(err, core.ErrDuplicateThreat):
		return outcomeDuplicate, nil
	case errors.Is(err, core.ErrBackpressure):
		return outcomeBackpressure, nil
	case errors.Is(err, shield.ErrInvalidEvent), errors.Is(err, shield.ErrUnknownThreatType):
		return outcomeInvalid, nil
	}
	return outcomeFailed, err
}
