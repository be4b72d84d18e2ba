package ratelimiter

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	RemainingHeader = "x-ratelimit-remaining"
	ResetHeader     = "x-ratelimit-reset"

	// ShortLimitInterval is used when the window still has budget left but
	// the server asked to slow down anyway.
	ShortLimitInterval = 9 * time.Second

	// minDelay is the smallest remaining backoff worth waiting for.
	minDelay = time.Second
)

// RateLimiter is the process-wide rate-limit state shared by every request.
// It is constructed once by the bootstrap and injected where needed.
type RateLimiter struct {
	mu       sync.Mutex
	resumeAt time.Time
	now      func() time.Time
	log      *slog.Logger
}

func New(log *slog.Logger) *RateLimiter {
	return &RateLimiter{
		now: time.Now,
		log: log,
	}
}

func (rl *RateLimiter) ResumeAt() (time.Time, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return rl.resumeAt, !rl.resumeAt.IsZero()
}

// Backoff records that no request should be sent for the given interval.
// An earlier resume time never shortens a later one.
func (rl *RateLimiter) Backoff(interval time.Duration) time.Time {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	resumeAt := rl.now().Add(interval)
	if resumeAt.After(rl.resumeAt) {
		rl.resumeAt = resumeAt
	}

	return rl.resumeAt
}

// Delay returns how long a request must wait before it may be sent.
func (rl *RateLimiter) Delay() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return getDelay(rl.resumeAt, rl.now())
}

// Wait blocks the calling request until the recorded resume time. Other
// goroutines are unaffected.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	delay := rl.Delay()
	if delay == 0 {
		return nil
	}

	rl.log.DebugContext(ctx, "Delaying rate limited request",
		"delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interval classifies a 429 response. ok is false when the headers do not
// allow computing a retry interval.
func Interval(header http.Header) (time.Duration, bool) {
	if remaining, ok := parseSeconds(header.Get(RemainingHeader)); ok && remaining > 1 {
		return ShortLimitInterval, true
	}

	if reset, ok := parseSeconds(header.Get(ResetHeader)); ok && reset >= 0 {
		return time.Duration(reset * float64(time.Second)), true
	}

	return 0, false
}

func getDelay(resumeAt time.Time, now time.Time) time.Duration {
	if resumeAt.IsZero() {
		return 0
	}

	delay := resumeAt.Sub(now)
	if delay <= minDelay {
		return 0
	}

	return delay
}

func parseSeconds(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}
