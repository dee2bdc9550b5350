package commerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dandantas/stocksync/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func newTestClient(t *testing.T, handler http.Handler, clock *fakeClock, mutate func(*Options)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts := Options{
		BaseURL: srv.URL,
		Token:   "shpat_test",
		Retry: RetryPolicy{
			MaxRetries:     3,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
		Now:   clock.Now,
		Sleep: clock.Sleep,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewClient(opts)
}

func TestBackoff(t *testing.T) {
	p := RetryPolicy{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second}

	assert.Equal(t, time.Duration(0), p.Backoff(0))
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 5*time.Second, p.Backoff(4))
	assert.Equal(t, 5*time.Second, p.Backoff(200))
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
		ok    bool
	}{
		{"seconds", "3", 3 * time.Second, true},
		{"fractional seconds", "1.5", 1500 * time.Millisecond, true},
		{"http date", now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second, true},
		{"date in the past", now.Add(-time.Minute).Format(http.TimeFormat), 0, false},
		{"zero", "0", 0, false},
		{"garbage", "soon", 0, false},
		{"missing", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.value != "" {
				h.Set("Retry-After", tt.value)
			}
			got, ok := RetryAfter(h, now)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClientHonoursRetryAfterOnThrottle(t *testing.T) {
	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "shpat_test", r.Header.Get("X-Shopify-Access-Token"))
		if hits.Add(1) <= 2 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"locations": []map[string]any{{"id": 655441491, "name": "Main", "active": true}}})
	})

	clock := newFakeClock()
	c := newTestClient(t, handler, clock, nil)

	locations, err := c.Locations(context.Background())
	require.NoError(t, err)
	require.Len(t, locations, 1)
	assert.Equal(t, ID("655441491"), locations[0].ID)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, clock.Sleeps())
}

func TestClientExponentialBackoffThenTerminalError(t *testing.T) {
	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"errors":"down for maintenance %d"}`, hits.Load())
	})

	clock := newFakeClock()
	c := newTestClient(t, handler, clock, func(o *Options) { o.Retry.MaxRetries = 2 })

	_, err := c.Locations(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, 3, apiErr.Attempts)
	assert.Equal(t, `{"errors":"down for maintenance 3"}`, apiErr.Body)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clock.Sleeps())
	assert.True(t, apperr.HasCode(err, apperr.CodeCommerceUnavailable))
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":{"available":["must be a number"]}}`))
	})

	c := newTestClient(t, handler, newFakeClock(), nil)
	_, err := c.SetInventoryLevel(context.Background(), "1", "2", 5)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 1, apiErr.Attempts)
	assert.Equal(t, int32(1), hits.Load())
}

func TestClientSpacesRequestsAcrossEndpoints(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/locations.json":
			w.Write([]byte(`{"locations":[]}`))
		default:
			w.Write([]byte(`{"variants":[]}`))
		}
	})

	clock := newFakeClock()
	c := newTestClient(t, handler, clock, func(o *Options) { o.Spacing = 500 * time.Millisecond })

	ctx := context.Background()
	_, err := c.Locations(ctx)
	require.NoError(t, err)
	_, err = c.VariantBySKU(ctx, "WIDGET-1")
	require.NoError(t, err)
	_, err = c.Locations(ctx)
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, clock.Sleeps())
}

func TestClientBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	c := newTestClient(t, handler, newFakeClock(), func(o *Options) {
		o.Retry.MaxRetries = 0
		o.Breaker = BreakerSettings{FailureThreshold: 2, OpenTimeout: time.Hour}
	})

	ctx := context.Background()
	_, err := c.Locations(ctx)
	require.Error(t, err)
	_, err = c.Locations(ctx)
	require.Error(t, err)

	_, err = c.Locations(ctx)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, "open", c.BreakerState())
}
