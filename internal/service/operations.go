package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/dandantas/stocksync/internal/apperr"
	"github.com/dandantas/stocksync/internal/commerce"
	"github.com/dandantas/stocksync/internal/model"
	"github.com/dandantas/stocksync/internal/qbxml"
	"github.com/dandantas/stocksync/internal/store"
	"github.com/dandantas/stocksync/internal/worker"
	"github.com/google/uuid"
)

// QueryRequest parameterizes a queued inventory query
type QueryRequest struct {
	MaxReturned  int        `json:"max_returned,omitempty"`
	ActiveStatus string     `json:"active_status,omitempty"`
	FromModified *time.Time `json:"from_modified,omitempty"`
	ToModified   *time.Time `json:"to_modified,omitempty"`
}

// EnqueueResult reports a queued job and the queue length after it
type EnqueueResult struct {
	Job   model.Job `json:"job"`
	Depth int       `json:"depth"`
}

// QueueStatus is a view of the queue and its current slot
type QueueStatus struct {
	Depth   int               `json:"depth"`
	Jobs    []model.Job       `json:"jobs"`
	Current *model.CurrentJob `json:"current,omitempty"`
}

// ApplyResult is either a finished outbound run or the id of a background one
type ApplyResult struct {
	Result *model.OutboundResult `json:"result,omitempty"`
	TaskID string                `json:"task_id,omitempty"`
}

var activeStatuses = map[string]bool{"": true, "ActiveOnly": true, "InactiveOnly": true, "All": true}

// EnqueueInventoryQuery queues an ItemInventoryQueryRq
func (s *Service) EnqueueInventoryQuery(ctx context.Context, source string, req QueryRequest) (*EnqueueResult, error) {
	if req.MaxReturned < 0 {
		return nil, apperr.BadInput("max_returned must not be negative", nil)
	}
	if !activeStatuses[req.ActiveStatus] {
		return nil, apperr.BadInput("active_status must be ActiveOnly, InactiveOnly or All",
			map[string]any{"active_status": req.ActiveStatus})
	}
	if req.FromModified != nil && req.ToModified != nil && req.ToModified.Before(*req.FromModified) {
		return nil, apperr.BadInput("to_modified is before from_modified", nil)
	}

	job := model.NewInventoryQueryJob(source, req.MaxReturned)
	job.Payload.Query.ActiveStatus = req.ActiveStatus
	job.Payload.Query.FromModified = req.FromModified
	job.Payload.Query.ToModified = req.ToModified
	return s.enqueue(ctx, job)
}

// EnqueueRaw queues a caller-built qbXML request after checking it parses
func (s *Service) EnqueueRaw(ctx context.Context, source, doc string) (*EnqueueResult, error) {
	if strings.TrimSpace(doc) == "" {
		return nil, apperr.BadInput("qbxml request is empty", nil)
	}
	requests, err := qbxml.ValidateRequest(doc)
	if err != nil {
		return nil, apperr.BadInput(err.Error(), nil)
	}
	result, err := s.enqueue(ctx, model.NewRawJob(source, doc))
	if err != nil {
		return nil, err
	}
	slog.Info("Raw qbXML request queued", "job_id", result.Job.ID, "requests", requests)
	return result, nil
}

func (s *Service) enqueue(ctx context.Context, job model.Job) (*EnqueueResult, error) {
	job.ID = uuid.NewString()
	job.CreatedAt = s.now()
	depth, err := s.Queue.Enqueue(ctx, job)
	if err != nil {
		return nil, err
	}
	return &EnqueueResult{Job: job, Depth: depth}, nil
}

// QueueStatus lists queued jobs and the current slot
func (s *Service) QueueStatus(ctx context.Context) (*QueueStatus, error) {
	jobs, err := s.Queue.List(ctx)
	if err != nil {
		return nil, err
	}
	current, err := s.Queue.Current(ctx)
	if err != nil {
		return nil, err
	}
	return &QueueStatus{Depth: len(jobs), Jobs: jobs, Current: current}, nil
}

// ClearCurrent empties the current slot by hand. A cleared adjustment is
// treated as failed since its outcome is unknown.
func (s *Service) ClearCurrent(ctx context.Context) (*model.CurrentJob, error) {
	cleared, err := s.Queue.ClearCurrent(ctx)
	if err != nil {
		return nil, err
	}
	if cleared == nil {
		return nil, apperr.NotFound("no job in the current slot", nil)
	}
	if cleared.Job.Type == model.JobTypeInventoryAdjust {
		s.Fail(ctx, *cleared, "", "current job cleared manually")
	}
	return cleared, nil
}

// PlanOutbound computes the accounting to commerce plan without applying it
func (s *Service) PlanOutbound(ctx context.Context) (*model.OutboundPlan, error) {
	return s.Outbound.Plan(ctx)
}

// ApplyOutbound plans and applies in one run. With async set the run goes to
// the worker pool and only its task id is returned.
func (s *Service) ApplyOutbound(ctx context.Context, async bool) (*ApplyResult, error) {
	if !async {
		result, err := s.Outbound.Run(ctx)
		if err != nil {
			return nil, err
		}
		return &ApplyResult{Result: result}, nil
	}
	id, err := s.submitOutbound("api")
	if err != nil {
		if errors.Is(err, worker.ErrPoolFull) {
			return nil, apperr.SyncInProgress("outbound")
		}
		return nil, err
	}
	return &ApplyResult{TaskID: id}, nil
}

// RunInbound runs the commerce to accounting reconciliation
func (s *Service) RunInbound(ctx context.Context, dryRun bool) (*model.InboundPlan, error) {
	plan, err := s.Inbound.Run(ctx, dryRun)
	s.Metrics.SetPendingAdjustments(len(s.Pending.List()))
	return plan, err
}

// ListPending returns the pending adjustment entries
func (s *Service) ListPending() []model.PendingAdjustment {
	return s.Pending.List()
}

// ClearPending drops the pending entry of sku
func (s *Service) ClearPending(ctx context.Context, sku string) error {
	if strings.TrimSpace(sku) == "" {
		return apperr.BadInput("sku is required", nil)
	}
	ok, err := s.Pending.Clear(ctx, sku)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("no pending adjustment for sku", map[string]any{"sku": sku})
	}
	s.Metrics.SetPendingAdjustments(len(s.Pending.List()))
	return nil
}

// LatestAudit returns the last record of kind from the data directory
func (s *Service) LatestAudit(kind string) (json.RawMessage, error) {
	var record json.RawMessage
	found, err := s.Audit.Latest(kind, &record)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.NotFound("no audit record of this kind", map[string]any{"kind": kind})
	}
	return record, nil
}

// AuditHistory returns recent audit records of kind. It needs MongoDB.
func (s *Service) AuditHistory(ctx context.Context, kind string, limit int) ([]model.AuditDocument, error) {
	if s.auditRepo == nil {
		return nil, apperr.NotFound("audit history requires MONGO_URI", nil)
	}
	return s.auditRepo.Recent(ctx, kind, limit)
}

// AuditKinds lists the audit record kinds
func AuditKinds() []string {
	return []string{store.AuditOutboundPlan, store.AuditOutboundResult, store.AuditInboundPlan}
}

// Readiness reports the state of each dependency
type Readiness struct {
	Ready    bool              `json:"ready"`
	Checks   map[string]string `json:"checks"`
	Breaker  string            `json:"commerce_breaker,omitempty"`
	Depth    int               `json:"queue_depth"`
	Pending  int               `json:"pending_adjustments"`
	NextSync *time.Time        `json:"next_sync,omitempty"`
}

// Ready checks the data directory, the optional database and the commerce breaker
func (s *Service) Ready(ctx context.Context) Readiness {
	r := Readiness{Ready: true, Checks: map[string]string{}}

	if _, err := s.Queue.Current(ctx); err != nil {
		r.Ready = false
		r.Checks["data_dir"] = err.Error()
	} else {
		r.Checks["data_dir"] = "ok"
	}

	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			r.Ready = false
			r.Checks["mongodb"] = "disconnected"
		} else {
			r.Checks["mongodb"] = "connected"
		}
	}

	if client, ok := s.Commerce.(*commerce.Client); ok {
		r.Breaker = client.BreakerState()
		if r.Breaker == "open" {
			r.Checks["commerce"] = "circuit open"
		} else {
			r.Checks["commerce"] = "ok"
		}
	}

	r.Depth = s.Queue.Len(ctx)
	r.Pending = len(s.Pending.List())
	if s.scheduler != nil {
		if next := s.scheduler.Next(); !next.IsZero() {
			r.NextSync = &next
		}
	}
	return r
}
