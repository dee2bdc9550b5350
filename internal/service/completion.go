package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dandantas/stocksync/internal/model"
	"github.com/dandantas/stocksync/internal/qbxml"
	"github.com/dandantas/stocksync/internal/reconcile"
	"github.com/dandantas/stocksync/internal/store"
	"github.com/dandantas/stocksync/internal/worker"
)

// Complete records a confirmed response for the job in the current slot
func (s *Service) Complete(ctx context.Context, current model.CurrentJob, resp *qbxml.Response, raw string) error {
	if err := s.Snapshots.SaveLastResponse(raw); err != nil {
		slog.Error("Failed to save last response", "job_id", current.Job.ID, "error", err)
	}

	switch current.Job.Type {
	case model.JobTypeInventoryQuery:
		return s.completeQuery(ctx, current, resp, raw)
	case model.JobTypeInventoryAdjust:
		return s.completeAdjustment(ctx, current, resp)
	default:
		slog.Info("Raw request completed",
			"job_id", current.Job.ID,
			"response_type", resp.Type,
			"status_code", resp.StatusCode,
		)
		return nil
	}
}

func (s *Service) completeQuery(ctx context.Context, current model.CurrentJob, resp *qbxml.Response, raw string) error {
	now := s.now()
	previous := s.Snapshots.Load()

	items := resp.Items
	partial := current.Job.Payload.Query.Partial()
	if partial {
		// a windowed or inactive-only result only refreshes the items it names
		items = model.MergeItems(previous.Items, resp.Items)
	}

	filtered, window := reconcile.FilterToday(items, now, s.zone)
	snapshot := &model.InventorySnapshot{
		Items:         items,
		FilteredItems: filtered,
		GeneratedAt:   now,
		Window:        window,
		Digest:        store.Digest(items),
		RequestID:     resp.RequestID,
	}
	if err := s.Snapshots.Save(snapshot, raw); err != nil {
		return err
	}

	slog.Info("Inventory query completed",
		"job_id", current.Job.ID,
		"items", len(snapshot.Items),
		"returned", len(resp.Items),
		"partial", partial,
		"filtered_items", len(filtered),
	)

	if !s.cfg.OutboundAutoApply {
		return nil
	}
	unchanged := previous.Digest == snapshot.Digest && previous.Window.Start.Equal(window.Start)
	if unchanged || len(filtered) == 0 {
		slog.Debug("Snapshot unchanged or empty, outbound sync not triggered", "job_id", current.Job.ID)
		return nil
	}
	if _, err := s.submitOutbound("snapshot " + snapshot.Digest); err != nil {
		if errors.Is(err, worker.ErrPoolFull) {
			slog.Warn("Outbound sync backlog is full, skipping trigger", "job_id", current.Job.ID)
			return nil
		}
		slog.Error("Failed to trigger outbound sync", "job_id", current.Job.ID, "error", err)
	}
	return nil
}

func (s *Service) completeAdjustment(ctx context.Context, current model.CurrentJob, resp *qbxml.Response) error {
	removed, err := s.Pending.ClearJob(ctx, current.Job.ID)
	if err != nil {
		return err
	}
	s.Metrics.SetPendingAdjustments(len(s.Pending.List()))

	txnID := ""
	if resp.Adjustment != nil {
		txnID = resp.Adjustment.TxnID
	}
	slog.Info("Inventory adjustment confirmed",
		"job_id", current.Job.ID,
		"txn_id", txnID,
		"cleared_pending", len(removed),
	)

	// refresh the snapshot so the next outbound plan sees the adjusted quantities
	if s.Queue.HasQueued(ctx, isInventoryQuery) {
		return nil
	}
	if _, err := s.Queue.Enqueue(ctx, model.NewInventoryQueryJob(model.SourceFollowUp, 0)); err != nil {
		slog.Error("Failed to queue follow-up inventory query", "job_id", current.Job.ID, "error", err)
	}
	return nil
}

// Fail records a job the accounting system did not execute. Pending entries of
// a failed adjustment stay in place and keep gating their SKUs until cleared.
func (s *Service) Fail(ctx context.Context, current model.CurrentJob, raw, message string) {
	if raw != "" {
		if err := s.Snapshots.SaveLastResponse(raw); err != nil {
			slog.Error("Failed to save last response", "job_id", current.Job.ID, "error", err)
		}
	}

	slog.Warn("Job failed",
		"job_id", current.Job.ID,
		"job_type", current.Job.Type,
		"source", current.Job.Source,
		"error", message,
	)
	if current.Job.Type != model.JobTypeInventoryAdjust {
		return
	}
	n, err := s.Pending.MarkFailed(ctx, current.Job.ID, message)
	if err != nil {
		slog.Error("Failed to mark pending adjustments", "job_id", current.Job.ID, "error", err)
		return
	}
	slog.Warn("Pending adjustments marked failed, manual recovery required",
		"job_id", current.Job.ID,
		"skus", current.Job.SKUs,
		"count", n,
	)
}

func isInventoryQuery(j model.Job) bool {
	return j.Type == model.JobTypeInventoryQuery
}
