// Package service assembles the sync engine from one configuration and owns
// the lifecycle of every background component.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dandantas/stocksync/internal/commerce"
	"github.com/dandantas/stocksync/internal/config"
	"github.com/dandantas/stocksync/internal/database"
	"github.com/dandantas/stocksync/internal/metrics"
	"github.com/dandantas/stocksync/internal/model"
	"github.com/dandantas/stocksync/internal/qbxml"
	"github.com/dandantas/stocksync/internal/reconcile"
	"github.com/dandantas/stocksync/internal/scheduler"
	"github.com/dandantas/stocksync/internal/session"
	"github.com/dandantas/stocksync/internal/store"
	"github.com/dandantas/stocksync/internal/worker"
)

const (
	taskOutboundSync = "outbound-sync"
	poolBacklog      = 4
	inboundTimeout   = 10 * time.Minute
)

// Service owns every component built from a Config
type Service struct {
	cfg  *config.Config
	zone *time.Location
	now  func() time.Time

	Metrics    *metrics.Metrics
	Dir        *store.Dir
	Queue      *store.JobQueue
	Snapshots  *store.SnapshotStore
	Pending    *store.PendingTracker
	Identities *store.IdentityMap
	Audit      *store.AuditLog
	Commerce   reconcile.Commerce
	Outbound   *reconcile.Outbound
	Inbound    *reconcile.Inbound
	Session    *session.Handler

	pool      *worker.Pool
	scheduler *scheduler.Scheduler

	db        *database.MongoDB
	auditRepo *database.AuditRepository
	mongoLock *database.LockRepository
}

// Option customizes New
type Option func(*options)

type options struct {
	commerce reconcile.Commerce
	now      func() time.Time
	metrics  *metrics.Metrics
}

// WithCommerce replaces the REST client, e.g. with a fake in tests
func WithCommerce(c reconcile.Commerce) Option {
	return func(o *options) { o.commerce = c }
}

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMetrics shares a metrics registry
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New builds the service. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}

	zone, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	dir, err := store.OpenDir(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:        cfg,
		zone:       zone,
		now:        o.now,
		Metrics:    o.metrics,
		Dir:        dir,
		Snapshots:  store.NewSnapshotStore(dir),
		Identities: store.NewIdentityMap(dir),
		Audit:      store.NewAuditLog(dir),
	}

	if cfg.MongoURI != "" {
		if err := s.connectMongo(ctx); err != nil {
			return nil, err
		}
	}

	var lock store.Locker
	if cfg.LockBackend == "mongo" {
		if s.db == nil {
			return nil, errors.New("service: LOCK_BACKEND=mongo requires MONGO_URI")
		}
		s.mongoLock = database.NewLockRepository(s.db, database.QueueLockName,
			cfg.QueueLockPoll, cfg.QueueLockMaxWait, cfg.QueueLockStaleAfter)
		lock = s.mongoLock
	} else {
		lock = store.NewFileLock(dir.Path(store.FileJobsLock),
			cfg.QueueLockPoll, cfg.QueueLockMaxWait, cfg.QueueLockStaleAfter)
	}
	s.Queue = store.NewJobQueue(dir, lock)
	s.Queue.SetObserver(s.Metrics)
	s.Pending = store.NewPendingTracker(dir, lock)
	s.Pending.SetClock(s.now)

	s.Commerce = o.commerce
	if s.Commerce == nil {
		s.Commerce = commerce.NewClient(commerce.Options{
			BaseURL: cfg.CommerceURL(),
			Token:   cfg.CommerceToken,
			Timeout: cfg.CommerceTimeout,
			Spacing: cfg.RateLimitSpacing,
			Retry: commerce.RetryPolicy{
				MaxRetries:     cfg.RateLimitMaxRetries,
				InitialBackoff: cfg.RateLimitInitialBackoff,
				MaxBackoff:     cfg.RateLimitMaxBackoff,
			},
			Metrics: s.Metrics,
		})
	}

	resolver, err := reconcile.NewSKUResolver(cfg.SKUFieldPriority)
	if err != nil {
		return nil, err
	}
	deps := reconcile.Deps{
		Client:     s.Commerce,
		Resolver:   resolver,
		Identities: reconcile.NewIdentityResolver(s.Identities, s.Commerce),
		Locations:  reconcile.NewLocationResolver(s.Commerce, cfg.CommerceLocationID),
		Dir:        dir,
		Snapshots:  s.Snapshots,
		Audit:      s.Audit,
		Metrics:    s.Metrics,
		TimeZone:   zone,
		Now:        o.now,
	}
	s.Outbound = reconcile.NewOutbound(deps)
	s.Inbound = reconcile.NewInbound(deps, reconcile.InboundOptions{
		Account:         cfg.AdjustmentAccount,
		Lookback:        cfg.InboundLookback,
		Overlap:         cfg.InboundOverlap,
		FastPathSources: cfg.FastPathSources,
	}, s.Queue, s.Pending)

	s.Session = session.NewHandler(session.Options{
		Username:       cfg.SessionUsername,
		Password:       cfg.SessionPassword,
		CompanyFile:    cfg.CompanyFile,
		QueryOnConnect: cfg.QueryOnConnect,
	}, s.Queue, qbxml.NewBuilder(cfg.MaxItemsPerQuery), s, s.Metrics)

	s.pool = worker.NewPool(1, poolBacklog)

	if cfg.AutoSyncEnabled {
		s.scheduler, err = scheduler.NewScheduler(scheduler.Options{
			Name:           "inbound-sync",
			Spec:           cfg.SyncSchedule(),
			RunImmediately: cfg.AutoSyncRunImmediately,
			Timeout:        inboundTimeout,
		}, func(ctx context.Context) error {
			_, err := s.Inbound.Run(ctx, false)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Service) connectMongo(ctx context.Context) error {
	db, err := database.Connect(ctx, s.cfg.MongoURI, s.cfg.MongoDatabase, s.cfg.MongoTimeout)
	if err != nil {
		return err
	}
	if err := database.CreateIndexes(ctx, db); err != nil {
		slog.Error("Failed to create indexes", "error", err)
	}
	s.db = db
	s.auditRepo = database.NewAuditRepository(db)
	s.Audit.AddSink(s.auditRepo)
	return nil
}

// Start recovers the current-job slot left by a previous process and starts
// the background components
func (s *Service) Start(ctx context.Context) error {
	lost, err := s.Queue.Recover(ctx)
	if err != nil {
		return fmt.Errorf("service: recover queue: %w", err)
	}
	if lost != nil {
		n, err := s.Pending.MarkFailed(ctx, lost.ID, "unconfirmed after restart")
		if err != nil {
			slog.Error("Failed to mark pending adjustments", "job_id", lost.ID, "error", err)
		}
		slog.Warn("Dropped unconfirmed adjustment after restart",
			"job_id", lost.ID,
			"skus", lost.SKUs,
			"pending_marked", n,
		)
	}

	s.Metrics.SetQueueDepth(s.Queue.Len(ctx))
	s.Metrics.SetPendingAdjustments(len(s.Pending.List()))

	s.pool.Start()
	if s.scheduler != nil {
		s.scheduler.Start(ctx)
	}

	slog.Info("Sync service started",
		"data_dir", s.Dir.Root(),
		"lock_backend", s.cfg.LockBackend,
		"auto_sync", s.cfg.AutoSyncEnabled,
		"outbound_auto_apply", s.cfg.OutboundAutoApply,
	)
	return nil
}

// Stop halts the timer, drains background tasks and closes connections.
// It waits at most until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	if s.scheduler != nil {
		s.scheduler.Stop(ctx)
	}
	s.pool.Stop(ctx)

	if s.mongoLock != nil {
		if err := s.mongoLock.ReleaseAllLocks(context.WithoutCancel(ctx)); err != nil {
			slog.Error("Failed to release locks during shutdown", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Disconnect(context.WithoutCancel(ctx)); err != nil {
			slog.Error("Failed to disconnect from MongoDB", "error", err)
		}
	}
	slog.Info("Sync service stopped")
}

// Close releases connections without starting anything. Used by one-shot
// commands that never call Start.
func (s *Service) Close(ctx context.Context) {
	if s.db != nil {
		if err := s.db.Disconnect(ctx); err != nil {
			slog.Error("Failed to disconnect from MongoDB", "error", err)
		}
	}
}

// Config returns the configuration the service was built from
func (s *Service) Config() *config.Config {
	return s.cfg
}

// submitOutbound runs an outbound sync on the worker pool
func (s *Service) submitOutbound(reason string) (string, error) {
	id, err := s.pool.Submit(worker.Task{
		Name: taskOutboundSync,
		Run: func(ctx context.Context) (any, error) {
			slog.Info("Outbound sync started", "trigger", reason)
			return s.Outbound.Run(ctx)
		},
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Task returns the status of a background task
func (s *Service) Task(id string) (model.TaskStatus, bool) {
	return s.pool.Status(id)
}
