package report

import (
	"context"
	"math"
	"net/http"
	"time"
)

const (
	defaultInitialBackoff = 50 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	minBackoff            = time.Millisecond
)

// RetryConfig controls how unacknowledged submissions are resent
type RetryConfig struct {
	// MaxAttempts bounds the number of sends per submission; 0 means resend
	// until acknowledged
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    0,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
	}
}

// isAcknowledged reports whether the collector accepted a submission.
// Anything but 200 is resent.
func isAcknowledged(statusCode int) bool {
	return statusCode == http.StatusOK
}

// exhausted reports whether attempt was the last one allowed
func (c RetryConfig) exhausted(attempt int) bool {
	return c.MaxAttempts > 0 && attempt >= c.MaxAttempts
}

// calculateBackoff calculates the delay before resend number attempt (1-based).
// The result always lies in [minBackoff, MaxBackoff]; an unset cap falls back
// to defaultMaxBackoff.
func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	initial := config.InitialBackoff
	if initial < minBackoff {
		initial = minBackoff
	}
	limit := config.MaxBackoff
	if limit <= 0 {
		limit = defaultMaxBackoff
	}
	if limit < initial {
		limit = initial
	}
	if attempt < 1 {
		attempt = 1
	}

	// Exponential backoff: initialBackoff * 2^(attempt-1)
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(limit) || math.IsInf(backoff, 0) || math.IsNaN(backoff) {
		return limit
	}

	return time.Duration(backoff)
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
