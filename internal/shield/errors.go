package shield

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownPhase      = errors.New("unknown phase")
	ErrUnknownThreatType = errors.New("unknown threat type")
	ErrInvalidEvent      = errors.New("invalid threat event")
	ErrInvalidEmitter    = errors.New("invalid emitter")
	ErrInvalidModulator  = errors.New("invalid modulator")
)

// ValidationError describes a caller-supplied value that was rejected.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Field)
	}
	return fmt.Sprintf("%v: %s=%q", e.Err, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Err }
