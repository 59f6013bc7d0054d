package geoquest

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidState        = errors.New("invalid state")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrValidation          = errors.New("validation error")
)

var (
	ErrAlreadyStarted    = fmt.Errorf("%w: game already started", ErrInvalidState)
	ErrNotStarted        = fmt.Errorf("%w: game not started", ErrInvalidState)
	ErrRoundsExhausted   = fmt.Errorf("%w: all rounds played", ErrInvalidState)
	ErrAlreadyScored     = fmt.Errorf("%w: entry already scored", ErrInvalidState)
	ErrRoundInProgress   = fmt.Errorf("%w: round still in progress", ErrInvalidState)
	ErrRoundAdvanced     = fmt.Errorf("%w: round already advanced", ErrInvalidState)
	ErrRoundNotActive    = fmt.Errorf("%w: round not active", ErrInvalidState)
	ErrGuessWindowClosed = fmt.Errorf("%w: guess window closed", ErrInvalidState)
	ErrGameFinished      = fmt.Errorf("%w: game finished", ErrInvalidState)
	ErrDeadlineNotPassed = fmt.Errorf("%w: round deadline not reached", ErrInvalidState)
)

// "None available" answers from collaborators. They are normal retry
// conditions for round provisioning, not failures.
var (
	ErrNoLocation = errors.New("no location available")
	ErrNoImagery  = errors.New("no imagery available")
)

// Code returns a stable machine-readable reason for err.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyStarted):
		return "already_started"
	case errors.Is(err, ErrRoundsExhausted):
		return "round_exhausted"
	case errors.Is(err, ErrAlreadyScored):
		return "already_scored"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	default:
		return "internal"
	}
}
