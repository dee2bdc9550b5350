package commerce

import (
	"errors"
	"log/slog"
	"time"

	"github.com/dandantas/stocksync/internal/metrics"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the breaker refuses calls
var ErrCircuitOpen = errors.New("commerce: circuit breaker is open")

const breakerName = "commerce-api"

// BreakerSettings tunes the circuit breaker wrapped around every call
type BreakerSettings struct {
	// FailureThreshold is the number of consecutive terminal failures that trips the breaker
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again
	OpenTimeout time.Duration
}

func newBreaker(s BreakerSettings, m *metrics.Metrics) *gobreaker.CircuitBreaker {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 60 * time.Second
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// a 4xx answer means the platform is up
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != 429 {
				return true
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
			m.SetCircuitBreakerState(name, breakerStateValue(to))
		},
	})
}

func breakerStateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
