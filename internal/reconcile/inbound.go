package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/dandantas/stocksync/internal/apperr"
	"github.com/dandantas/stocksync/internal/commerce"
	"github.com/dandantas/stocksync/internal/model"
	"github.com/dandantas/stocksync/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	directionInbound       = "inbound"
	defaultInboundLookback = time.Hour
	defaultInboundOverlap  = 5 * time.Minute
)

// InboundOptions tunes the inbound reconciler
type InboundOptions struct {
	Account         string
	Lookback        time.Duration
	Overlap         time.Duration
	FastPathSources []string
}

// Inbound turns commerce inventory level changes into accounting adjustments
type Inbound struct {
	deps    Deps
	opts    InboundOptions
	queue   *store.JobQueue
	pending *store.PendingTracker
	newID   func() string
	running atomic.Bool
}

// NewInbound creates the inbound reconciler
func NewInbound(deps Deps, opts InboundOptions, queue *store.JobQueue, pending *store.PendingTracker) *Inbound {
	if opts.Lookback <= 0 {
		opts.Lookback = defaultInboundLookback
	}
	if opts.Overlap <= 0 {
		opts.Overlap = defaultInboundOverlap
	}
	if len(opts.FastPathSources) == 0 {
		opts.FastPathSources = []string{model.SourceInbound}
	}
	return &Inbound{
		deps:    deps,
		opts:    opts,
		queue:   queue,
		pending: pending,
		newID:   uuid.NewString,
	}
}

// Run scans the commerce levels changed since the cursor and, unless dryRun
// is set, queues one adjustment job carrying every non-zero delta
func (in *Inbound) Run(ctx context.Context, dryRun bool) (*model.InboundPlan, error) {
	if !in.running.CompareAndSwap(false, true) {
		return nil, apperr.SyncInProgress(directionInbound)
	}
	defer in.running.Store(false)

	start := time.Now()
	plan, err := in.run(ctx, dryRun)
	in.deps.Metrics.RecordSyncRun(directionInbound, err == nil, time.Since(start))
	if plan != nil {
		in.deps.Audit.Record(ctx, store.AuditInboundPlan, plan)
	}
	return plan, err
}

func (in *Inbound) run(ctx context.Context, dryRun bool) (*model.InboundPlan, error) {
	now := in.deps.now()
	cursor := in.deps.Dir.LoadCursor()

	since := now.Add(-in.opts.Lookback)
	if !cursor.MaxUpdatedAt.IsZero() {
		since = cursor.MaxUpdatedAt.Add(-in.opts.Overlap)
	}

	plan := &model.InboundPlan{
		GeneratedAt: now,
		Since:       since,
		DryRun:      dryRun,
		Changes:     []model.InboundChange{},
		Lines:       []model.AdjustmentLine{},
		Skipped:     []model.SkippedItem{},
	}

	locationID, err := in.deps.Locations.ID(ctx)
	if err != nil {
		plan.Error = err.Error()
		return plan, err
	}
	levels, err := in.deps.Client.InventoryLevelsSince(ctx, []string{locationID}, since)
	if err != nil {
		plan.Error = err.Error()
		return plan, err
	}

	latest := latestLevels(levels)
	plan.Scanned = len(latest)

	snapshot := in.deps.Snapshots.Load()
	index := in.deps.Resolver.BuildIndex(snapshot.Items, in.deps.overrides())
	if !dryRun {
		if n, err := in.pending.Prune(ctx, snapshot.GeneratedAt); err != nil {
			slog.Warn("Failed to prune confirmed pending adjustments", "error", err)
		} else if n > 0 {
			slog.Info("Confirmed adjustments reflected in snapshot", "released", n, "snapshot_at", snapshot.GeneratedAt)
		}
	}

	// hold is the oldest record that must be read again on the next run
	var hold time.Time
	holdAt := func(t time.Time) {
		if hold.IsZero() || t.Before(hold) {
			hold = t
		}
	}
	var maxUpdated time.Time
	seen := make(map[string]time.Time)

	lineOrder := []string{}
	lines := make(map[string]*model.AdjustmentLine)

	for _, level := range latest {
		id := model.NormalizeInventoryID(level.InventoryItemID.String())
		if level.UpdatedAt.After(maxUpdated) {
			maxUpdated = level.UpdatedAt
		}
		skip := model.SkippedItem{}

		if at, ok := cursor.Seen[id]; ok && !level.UpdatedAt.After(at) {
			skip.Reason = model.ReasonAlreadyProcessed
			skip.Detail = "inventory item " + id
			plan.Skipped = append(plan.Skipped, skip)
			seen[id] = at
			continue
		}
		if level.Available == nil {
			skip.Reason = model.ReasonInvalidQuantity
			skip.Detail = "inventory item " + id + " has no available quantity"
			plan.Skipped = append(plan.Skipped, skip)
			continue
		}

		sku, err := in.deps.Identities.Resolve(ctx, id)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, commerce.ErrCircuitOpen) {
				plan.Error = err.Error()
				return plan, err
			}
			skip.Reason = model.ReasonLookupFailed
			skip.Detail = err.Error()
			plan.Skipped = append(plan.Skipped, skip)
			holdAt(level.UpdatedAt)
			continue
		}
		if sku == "" {
			skip.Reason = model.ReasonUnknownIdentity
			skip.Detail = "inventory item " + id
			plan.Skipped = append(plan.Skipped, skip)
			continue
		}
		skip.SKU = sku

		if in.pending.Gates(sku, snapshot.GeneratedAt) {
			skip.Reason = model.ReasonPendingAdjustment
			plan.Skipped = append(plan.Skipped, skip)
			holdAt(level.UpdatedAt)
			continue
		}

		item, found, ambiguous := index.Lookup(sku)
		switch {
		case ambiguous:
			skip.Reason = model.ReasonDuplicateSKU
			plan.Skipped = append(plan.Skipped, skip)
			continue
		case !found:
			skip.Reason = model.ReasonNoAccountingItem
			plan.Skipped = append(plan.Skipped, skip)
			continue
		}
		skip.ListID = item.ListID
		skip.Name = item.DisplayName()

		if !item.QuantityOnHand.Valid {
			skip.Reason = model.ReasonInvalidQuantity
			skip.Detail = "accounting item has no quantity on hand"
			plan.Skipped = append(plan.Skipped, skip)
			continue
		}

		accountingQty := item.QuantityOnHand.Decimal
		delta := decimal.NewFromInt(*level.Available).Sub(accountingQty)
		if delta.IsZero() {
			skip.Reason = model.ReasonInSync
			plan.Skipped = append(plan.Skipped, skip)
			seen[id] = level.UpdatedAt
			continue
		}

		plan.Changes = append(plan.Changes, model.InboundChange{
			InventoryItemID: id,
			SKU:             sku,
			Available:       *level.Available,
			UpdatedAt:       level.UpdatedAt,
			ListID:          item.ListID,
			Name:            item.DisplayName(),
			AccountingQty:   accountingQty,
			Delta:           delta,
		})
		seen[id] = level.UpdatedAt

		line := model.AdjustmentLine{ListID: item.ListID, FullName: item.DisplayName(), QuantityDelta: delta}
		key := line.Identity()
		if existing, ok := lines[key]; ok {
			existing.QuantityDelta = existing.QuantityDelta.Add(delta)
			continue
		}
		lineOrder = append(lineOrder, key)
		lines[key] = &line
	}

	for _, key := range lineOrder {
		if line := lines[key]; !line.QuantityDelta.IsZero() {
			plan.Lines = append(plan.Lines, *line)
		}
	}
	sortSkipped(plan.Skipped)

	in.deps.Metrics.RecordSyncItems(directionInbound, "changed", len(plan.Changes))
	in.deps.Metrics.RecordSyncItems(directionInbound, "skipped", len(plan.Skipped))

	if dryRun {
		slog.Info("Inbound dry run complete", "scanned", plan.Scanned, "changes", len(plan.Changes), "lines", len(plan.Lines))
		return plan, nil
	}

	if len(plan.Lines) > 0 {
		jobID, err := in.enqueue(ctx, plan, now)
		if err != nil {
			plan.Error = err.Error()
			return plan, err
		}
		plan.JobID = jobID
	}

	in.saveCursor(cursor, now, maxUpdated, hold, seen)

	slog.Info("Inbound sync complete",
		"scanned", plan.Scanned,
		"changes", len(plan.Changes),
		"lines", len(plan.Lines),
		"skipped", len(plan.Skipped),
		"job_id", plan.JobID,
	)
	return plan, nil
}

// enqueue registers the pending entries before the job becomes visible so
// that a concurrent run never sees the job without its gate
func (in *Inbound) enqueue(ctx context.Context, plan *model.InboundPlan, now time.Time) (string, error) {
	skus := make([]string, 0, len(plan.Changes))
	entries := make([]model.PendingAdjustment, 0, len(plan.Changes))
	jobID := in.newID()
	for _, c := range plan.Changes {
		skus = append(skus, c.SKU)
		entries = append(entries, model.PendingAdjustment{
			SKU:           c.SKU,
			JobID:         jobID,
			Source:        model.SourceInbound,
			Delta:         c.Delta,
			Available:     c.Available,
			AccountingQty: c.AccountingQty,
			Target:        c.Available,
			CreatedAt:     now,
		})
	}
	sort.Strings(skus)

	job := model.NewAdjustmentJob(model.SourceInbound, model.AdjustmentPayload{
		Account: in.opts.Account,
		Memo:    fmt.Sprintf("Inventory sync %s", now.Format(time.RFC3339)),
		Lines:   plan.Lines,
	}, skus)
	job.ID = jobID
	job.CreatedAt = now

	if err := in.pending.Register(ctx, entries); err != nil {
		return "", fmt.Errorf("register pending adjustments: %w", err)
	}
	if _, err := in.queue.Enqueue(ctx, job); err != nil {
		if _, clearErr := in.pending.DropJob(ctx, jobID); clearErr != nil {
			slog.Error("Failed to roll back pending adjustments", "job_id", jobID, "error", clearErr)
		}
		return "", fmt.Errorf("enqueue adjustment job: %w", err)
	}

	fastPath := in.opts.FastPathSources
	moved, err := in.queue.Prioritize(ctx, func(j model.Job) bool { return j.IsAdjustmentFrom(fastPath...) })
	if err != nil {
		slog.Warn("Failed to prioritize adjustment jobs", "job_id", jobID, "error", err)
	}

	slog.Info("Inbound adjustment job queued",
		"job_id", jobID,
		"lines", len(plan.Lines),
		"skus", len(skus),
		"prioritized", moved,
	)
	return jobID, nil
}

// saveCursor advances the cursor to the newest record read, but never past a
// record that has to be reconsidered
func (in *Inbound) saveCursor(cursor store.InboundCursor, now, maxUpdated, hold time.Time, seen map[string]time.Time) {
	next := cursor.MaxUpdatedAt
	if maxUpdated.After(next) {
		next = maxUpdated
	}
	if !hold.IsZero() && hold.Before(next) {
		next = hold
	}

	merged := make(map[string]time.Time, len(cursor.Seen)+len(seen))
	horizon := next.Add(-in.opts.Overlap)
	for id, at := range cursor.Seen {
		if !at.Before(horizon) {
			merged[id] = at
		}
	}
	for id, at := range seen {
		if prev, ok := merged[id]; !ok || at.After(prev) {
			merged[id] = at
		}
	}

	updated := store.InboundCursor{LastRunAt: now, MaxUpdatedAt: next, Seen: merged}
	if err := in.deps.Dir.SaveCursor(updated); err != nil {
		slog.Error("Failed to save inbound cursor", "error", err)
	}
}

// latestLevels keeps the most recently updated record per inventory item,
// ordered by item id
func latestLevels(levels []commerce.InventoryLevel) []commerce.InventoryLevel {
	byID := make(map[string]commerce.InventoryLevel, len(levels))
	for _, level := range levels {
		id := model.NormalizeInventoryID(level.InventoryItemID.String())
		if id == "" {
			continue
		}
		if prev, ok := byID[id]; ok && !level.UpdatedAt.After(prev.UpdatedAt) {
			continue
		}
		byID[id] = level
	}

	out := make([]commerce.InventoryLevel, 0, len(byID))
	for _, level := range byID {
		out = append(out, level)
	}
	sort.Slice(out, func(i, j int) bool {
		a := model.NormalizeInventoryID(out[i].InventoryItemID.String())
		b := model.NormalizeInventoryID(out[j].InventoryItemID.String())
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})
	return out
}
