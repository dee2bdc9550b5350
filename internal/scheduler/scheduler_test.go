package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dandantas/stocksync/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	_, err := NewScheduler(Options{Spec: "every so often"}, func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
}

func TestSchedulerRunsImmediately(t *testing.T) {
	var runs atomic.Int32
	s, err := NewScheduler(Options{Name: "inbound", Spec: "@every 1h", RunImmediately: true}, func(context.Context) error {
		runs.Add(1)
		return apperr.SyncInProgress("inbound")
	})
	require.NoError(t, err)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, s.Next().IsZero())

	s.Stop(context.Background())
	assert.Equal(t, int32(1), runs.Load())
}

func TestSchedulerStopCancelsInFlightRun(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool
	s, err := NewScheduler(Options{Spec: "@every 1h", RunImmediately: true}, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})
	require.NoError(t, err)

	s.Start(context.Background())
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.Stop(ctx)

	assert.Eventually(t, cancelled.Load, time.Second, 5*time.Millisecond)
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	s, err := NewScheduler(Options{Spec: "*/5 * * * *"}, func(context.Context) error { return nil })
	require.NoError(t, err)
	s.Stop(context.Background())
}
