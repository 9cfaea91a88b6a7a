package appointment

import (
	"errors"

	redisclient "github.com/hackgods/appointment-admission/internal/redis"
)

// Reason is the machine readable cause of a rejected admission.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonValidation          Reason = "validation_error"
	ReasonDateUnavailable     Reason = "date_unavailable"
	ReasonTimeUnavailable     Reason = "time_unavailable"
	ReasonConflict            Reason = "conflict"
	ReasonDuplicateID         Reason = "duplicate_id"
	ReasonUpstreamUnavailable Reason = "upstream_unavailable"
	ReasonStoreError          Reason = "store_error"
	ReasonRequestInFlight     Reason = "request_in_flight"
	ReasonIdempotencyMismatch Reason = "idempotency_mismatch"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrDateUnavailable     = errors.New("selected date is not available")
	ErrTimeUnavailable     = errors.New("selected time is not available")
	ErrConflict            = errors.New("appointment is within the minimum gap of an existing booking")
	ErrDuplicateID         = errors.New("appointment id already exists")
	ErrUpstreamUnavailable = errors.New("upstream store unavailable")
	ErrStoreFailure        = errors.New("failed to store appointment")
	ErrIdempotencyMismatch = errors.New("idempotency key was already used for a different request")
)

// ReasonOf classifies an error returned by the service.
func ReasonOf(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	// Checked first: a malformed upstream payload wraps ErrInvalidInput too.
	case errors.Is(err, ErrUpstreamUnavailable):
		return ReasonUpstreamUnavailable
	case errors.Is(err, ErrInvalidInput):
		return ReasonValidation
	case errors.Is(err, ErrDateUnavailable):
		return ReasonDateUnavailable
	case errors.Is(err, ErrTimeUnavailable):
		return ReasonTimeUnavailable
	case errors.Is(err, ErrConflict):
		return ReasonConflict
	case errors.Is(err, ErrDuplicateID):
		return ReasonDuplicateID
	case errors.Is(err, redisclient.ErrRequestInFlight):
		return ReasonRequestInFlight
	case errors.Is(err, ErrIdempotencyMismatch):
		return ReasonIdempotencyMismatch
	default:
		return ReasonStoreError
	}
}

// Retryable reports whether the same request may succeed later without
// anything changing on the caller side.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonDuplicateID, ReasonUpstreamUnavailable, ReasonStoreError, ReasonRequestInFlight:
		return true
	}
	return false
}

// Deterministic reports whether the outcome is a business decision that a
// replay of the same request must reproduce. A mismatch belongs to the
// reusing request, not the one the key was first used for, so it is not.
func (r Reason) Deterministic() bool {
	switch r {
	case ReasonNone, ReasonValidation, ReasonDateUnavailable, ReasonTimeUnavailable, ReasonConflict:
		return true
	}
	return false
}

func errorForReason(r Reason) error {
	switch r {
	case ReasonValidation:
		return ErrInvalidInput
	case ReasonDateUnavailable:
		return ErrDateUnavailable
	case ReasonTimeUnavailable:
		return ErrTimeUnavailable
	case ReasonConflict:
		return ErrConflict
	case ReasonDuplicateID:
		return ErrDuplicateID
	case ReasonUpstreamUnavailable:
		return ErrUpstreamUnavailable
	case ReasonRequestInFlight:
		return redisclient.ErrRequestInFlight
	case ReasonIdempotencyMismatch:
		return ErrIdempotencyMismatch
	default:
		return ErrStoreFailure
	}
}
