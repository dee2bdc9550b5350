package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dandantas/stocksync/internal/apperr"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// RunFunc is the periodic work. It receives the scheduler's context.
type RunFunc func(ctx context.Context) error

// Options configure a Scheduler
type Options struct {
	Name           string
	Spec           string // cron expression or descriptor such as "@every 5m"
	RunImmediately bool
	Timeout        time.Duration // per run; zero means none
}

// Scheduler triggers a run on a cron schedule. Overlapping triggers are
// skipped while a run is still in flight.
type Scheduler struct {
	opts  Options
	run   RunFunc
	cron  *cron.Cron
	podID string

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler validates the schedule and creates a stopped scheduler
func NewScheduler(opts Options, run RunFunc) (*Scheduler, error) {
	if opts.Name == "" {
		opts.Name = "scheduled-run"
	}
	podID, err := os.Hostname()
	if err != nil {
		podID = uuid.New().String()
		slog.Warn("Failed to get hostname, using UUID as pod ID", "pod_id", podID)
	}

	logger := cronLogger{name: opts.Name}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	s := &Scheduler{opts: opts, run: run, cron: c, podID: podID}
	if _, err := c.AddFunc(opts.Spec, s.tick); err != nil {
		return nil, fmt.Errorf("scheduler: invalid schedule %q: %w", opts.Spec, err)
	}
	return s, nil
}

// Start begins triggering runs. The context bounds every run.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.ctx = runCtx

	slog.Info("Starting scheduler",
		"name", s.opts.Name,
		"pod_id", s.podID,
		"schedule", s.opts.Spec,
		"run_immediately", s.opts.RunImmediately,
	)

	if s.opts.RunImmediately {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.tick()
		}()
	}
	s.cron.Start()
}

// Stop stops triggering runs and waits for the one in flight until ctx ends
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	slog.Info("Stopping scheduler", "name", s.opts.Name, "pod_id", s.podID)

	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("All scheduled runs completed", "name", s.opts.Name)
	case <-ctx.Done():
		slog.Warn("Timeout waiting for scheduled run to complete, cancelling it", "name", s.opts.Name)
	}
	s.cancel()
}

// Next returns the time of the next trigger, zero when not started
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	correlationID := uuid.New().String()
	start := time.Now()
	slog.Info("Scheduled run started", "name", s.opts.Name, "correlation_id", correlationID)

	err := s.run(ctx)
	duration := time.Since(start)
	switch {
	case err == nil:
		slog.Info("Scheduled run completed",
			"name", s.opts.Name,
			"correlation_id", correlationID,
			"duration_ms", duration.Milliseconds(),
		)
	case apperr.HasCode(err, apperr.CodeSyncInProgress):
		slog.Info("Scheduled run skipped, another run is in progress",
			"name", s.opts.Name,
			"correlation_id", correlationID,
		)
	default:
		slog.Error("Scheduled run failed",
			"name", s.opts.Name,
			"correlation_id", correlationID,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
	}
}

// cronLogger routes cron's own diagnostics to slog
type cronLogger struct {
	name string
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, append([]any{"name", l.name}, keysAndValues...)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{"name", l.name, "error", err}, keysAndValues...)...)
}
