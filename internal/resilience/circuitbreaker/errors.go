package circuitbreaker

import "errors"

// Sentinel errors returned when a call is rejected without being attempted.
// Callers use them to tell "the operation failed" apart from "the operation
// was not attempted".
var (
	// ErrOpen is returned while the breaker is open and the reset timeout
	// has not elapsed.
	ErrOpen = errors.New("circuit breaker is open")

	// ErrHalfOpenLimit is returned when the half-open trial limit is already
	// in use by other calls.
	ErrHalfOpenLimit = errors.New("circuit breaker half-open call limit reached")
)

// IsRejection reports whether err means the call was not attempted.
func IsRejection(err error) bool {
	return errors.Is(err, ErrOpen) || errors.Is(err, ErrHalfOpenLimit)
}
