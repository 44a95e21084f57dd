package domain

import "errors"

// Precondition errors. They are returned before any allocation work starts.
var (
	ErrNoHoldings          = errors.New("no holdings found for the requested scope")
	ErrNegativeDelta       = errors.New("saving plan amount delta must be zero or positive")
	ErrDeltaBelowMinimum   = errors.New("saving plan amount delta must be at least the minimum saving plan size")
	ErrOneTimeBelowMinimum = errors.New("one-time amount must be at least the minimum amount per instrument")
)

// ErrJobNotFound is returned when a job id is unknown or has expired
var ErrJobNotFound = errors.New("rebalancer job not found")

// ErrRunNotFound is returned when a persisted run does not exist
var ErrRunNotFound = errors.New("run not found")

// IsPrecondition reports whether err is one of the request precondition errors
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrNoHoldings) ||
		errors.Is(err, ErrNegativeDelta) ||
		errors.Is(err, ErrDeltaBelowMinimum) ||
		errors.Is(err, ErrOneTimeBelowMinimum)
}
