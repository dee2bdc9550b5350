package commerce

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy bounds how often and how long a failed call is retried
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// SetDefaults fills zero values
func (p *RetryPolicy) SetDefaults() {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = time.Second
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 30 * time.Second
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
}

// Backoff returns the delay before retry number attempt (1-based).
// Formula: delay = min(initial * 2^(attempt-1), max)
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := float64(p.InitialBackoff) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.MaxBackoff) || math.IsInf(delay, 1) {
		return p.MaxBackoff
	}
	return time.Duration(delay)
}

// Retryable reports whether a response status or transport error is worth retrying
func Retryable(statusCode int, err error) bool {
	if err != nil {
		return true
	}
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}

// RetryAfter reads a Retry-After hint given in seconds or as an HTTP date.
// Hints in the past or unparseable values are ignored.
func RetryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds * float64(time.Second)), true
	}
	when, err := http.ParseTime(raw)
	if err != nil {
		return 0, false
	}
	d := when.Sub(now)
	if d <= 0 {
		return 0, false
	}
	return d, true
}

func retryReason(statusCode int, err error) string {
	switch {
	case err != nil:
		return "transport"
	case statusCode == http.StatusTooManyRequests:
		return "throttled"
	default:
		return "server_error"
	}
}
