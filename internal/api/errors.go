package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"snoosync/internal/payload"
)

var (
	// ErrUninitialized is returned before any credential has been obtained.
	ErrUninitialized = errors.New("no access token")
	ErrUnauthorized  = errors.New("unauthorized")

	// ErrInvalidJSON is re-exported so callers need not import payload.
	ErrInvalidJSON = payload.ErrInvalidJSON
)

type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d %s", e.Code, http.StatusText(e.Code))
}

type RateLimitedError struct {
	Interval time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited for %s", e.Interval)
}

// IsRateLimited reports whether err was caused by a 429 that carried a retry
// interval.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}
