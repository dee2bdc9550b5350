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
	"github.com/dandantas/stocksync/internal/metrics"
	"github.com/dandantas/stocksync/internal/model"
	"github.com/dandantas/stocksync/internal/store"
)

const (
	directionOutbound = "outbound"
	levelBatchSize    = 50
)

// Deps are the collaborators shared by both reconcilers
type Deps struct {
	Client     Commerce
	Resolver   *SKUResolver
	Identities *IdentityResolver
	Locations  *LocationResolver
	Dir        *store.Dir
	Snapshots  *store.SnapshotStore
	Audit      *store.AuditLog
	Metrics    *metrics.Metrics
	TimeZone   *time.Location
	Now        func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

func (d *Deps) zone() *time.Location {
	if d.TimeZone != nil {
		return d.TimeZone
	}
	return time.Local
}

func (d *Deps) overrides() *store.OverrideTable {
	table, err := d.Dir.LoadOverrides()
	if err != nil {
		slog.Error("Failed to load SKU overrides, continuing without them", "error", err)
	}
	return table
}

// Outbound pushes today's accounting quantities to the commerce platform
type Outbound struct {
	deps    Deps
	running atomic.Bool
}

// NewOutbound creates the outbound planner
func NewOutbound(deps Deps) *Outbound {
	return &Outbound{deps: deps}
}

// Plan builds a plan from the latest snapshot without changing anything
func (o *Outbound) Plan(ctx context.Context) (*model.OutboundPlan, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, apperr.SyncInProgress(directionOutbound)
	}
	defer o.running.Store(false)

	return o.plan(ctx, o.deps.Snapshots.Load())
}

// Apply executes the set entries of plan
func (o *Outbound) Apply(ctx context.Context, plan *model.OutboundPlan) (*model.OutboundResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, apperr.SyncInProgress(directionOutbound)
	}
	defer o.running.Store(false)

	return o.apply(ctx, plan), nil
}

// Run plans against the latest snapshot and applies the result
func (o *Outbound) Run(ctx context.Context) (*model.OutboundResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, apperr.SyncInProgress(directionOutbound)
	}
	defer o.running.Store(false)

	start := time.Now()
	plan, err := o.plan(ctx, o.deps.Snapshots.Load())
	if err != nil {
		o.deps.Metrics.RecordSyncRun(directionOutbound, false, time.Since(start))
		return nil, err
	}
	result := o.apply(ctx, plan)
	o.deps.Metrics.RecordSyncRun(directionOutbound, result.Failed == 0 && result.Error == "", time.Since(start))
	return result, nil
}

func (o *Outbound) plan(ctx context.Context, snapshot *model.InventorySnapshot) (*model.OutboundPlan, error) {
	now := o.deps.now()
	filtered, window := FilterToday(snapshot.Items, now, o.deps.zone())

	plan := &model.OutboundPlan{
		GeneratedAt:    now,
		SnapshotDigest: snapshot.Digest,
		Window:         window,
		Entries:        []model.OutboundEntry{},
		Unmatched:      []model.SkippedItem{},
		Skipped:        []model.SkippedItem{},
	}
	if len(filtered) == 0 {
		o.deps.Audit.Record(ctx, store.AuditOutboundPlan, plan)
		return plan, nil
	}

	locationID, err := o.deps.Locations.ID(ctx)
	if err != nil {
		return nil, err
	}
	plan.LocationID = locationID

	overrides := o.deps.overrides()
	index := o.deps.Resolver.BuildIndex(filtered, overrides)
	for _, sku := range index.DuplicateSKUs() {
		plan.Skipped = append(plan.Skipped, model.SkippedItem{SKU: sku, Reason: model.ReasonDuplicateSKU})
	}

	for _, item := range filtered {
		sku, _ := o.deps.Resolver.Resolve(item, overrides)
		skip := model.SkippedItem{SKU: sku, ListID: item.ListID, Name: item.DisplayName()}
		if sku == "" {
			skip.Reason = model.ReasonNoSKU
			plan.Skipped = append(plan.Skipped, skip)
			continue
		}
		if _, _, ambiguous := index.Lookup(sku); ambiguous {
			continue
		}

		target, reason := integralQuantity(item)
		if reason != "" {
			skip.Reason = model.ReasonInvalidQuantity
			skip.Detail = reason
			plan.Skipped = append(plan.Skipped, skip)
			continue
		}

		variant, err := o.deps.Client.VariantBySKU(ctx, sku)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, commerce.ErrCircuitOpen) {
				return nil, err
			}
			skip.Reason = model.ReasonLookupFailed
			skip.Detail = err.Error()
			plan.Skipped = append(plan.Skipped, skip)
			continue
		}
		if variant == nil {
			skip.Reason = model.ReasonVariantNotFound
			plan.Unmatched = append(plan.Unmatched, skip)
			continue
		}

		o.deps.Identities.Remember(ctx, model.IdentityEntry{
			InventoryItemID: variant.InventoryItemID.String(),
			SKU:             sku,
			VariantID:       variant.ID.String(),
			Source:          IdentityFromOutbound,
		})
		plan.Entries = append(plan.Entries, model.OutboundEntry{
			SKU:             sku,
			ListID:          item.ListID,
			Name:            item.DisplayName(),
			VariantID:       variant.ID.String(),
			InventoryItemID: model.NormalizeInventoryID(variant.InventoryItemID.String()),
			Target:          target,
			Action:          model.ActionSet,
		})
	}

	current := o.currentLevels(ctx, locationID, plan.Entries)
	for i := range plan.Entries {
		e := &plan.Entries[i]
		available, ok := current[e.InventoryItemID]
		if !ok {
			e.Delta = e.Target
			continue
		}
		e.Current = &available
		e.Delta = e.Target - available
		if e.Delta == 0 {
			e.Action = model.ActionNoop
		}
	}

	sort.SliceStable(plan.Entries, func(i, j int) bool { return plan.Entries[i].SKU < plan.Entries[j].SKU })
	sortSkipped(plan.Unmatched)
	sortSkipped(plan.Skipped)

	o.deps.Metrics.RecordSyncItems(directionOutbound, "planned", plan.Changes())
	o.deps.Metrics.RecordSyncItems(directionOutbound, "unmatched", len(plan.Unmatched))
	o.deps.Metrics.RecordSyncItems(directionOutbound, "skipped", len(plan.Skipped))
	o.deps.Audit.Record(ctx, store.AuditOutboundPlan, plan)

	slog.Info("Outbound plan built",
		"items", len(filtered),
		"changes", plan.Changes(),
		"unmatched", len(plan.Unmatched),
		"skipped", len(plan.Skipped),
	)
	return plan, nil
}

// currentLevels reads the available quantity of the planned items. Failures
// only cost the noop detection, so they are logged and ignored.
func (o *Outbound) currentLevels(ctx context.Context, locationID string, entries []model.OutboundEntry) map[string]int64 {
	levels := make(map[string]int64, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.InventoryItemID)
	}

	for start := 0; start < len(ids); start += levelBatchSize {
		end := min(start+levelBatchSize, len(ids))
		page, err := o.deps.Client.InventoryLevels(ctx, commerce.LevelQuery{
			LocationIDs:      []string{locationID},
			InventoryItemIDs: ids[start:end],
		})
		if err != nil {
			slog.Warn("Failed to read current inventory levels", "location_id", locationID, "error", err)
			continue
		}
		for _, level := range page.Levels {
			if level.Available == nil {
				continue
			}
			levels[model.NormalizeInventoryID(level.InventoryItemID.String())] = *level.Available
		}
	}
	return levels
}

func (o *Outbound) apply(ctx context.Context, plan *model.OutboundPlan) *model.OutboundResult {
	result := &model.OutboundResult{
		StartedAt: o.deps.now(),
		Plan:      *plan,
		Outcomes:  []model.OutboundOutcome{},
	}

	for _, e := range plan.Entries {
		if e.Action != model.ActionSet {
			continue
		}
		if err := ctx.Err(); err != nil {
			result.Error = fmt.Sprintf("apply interrupted: %v", err)
			break
		}

		outcome := model.OutboundOutcome{SKU: e.SKU, Target: e.Target}
		level, err := o.deps.Client.SetInventoryLevel(ctx, plan.LocationID, e.InventoryItemID, e.Target)
		if err != nil {
			outcome.Error = err.Error()
			result.Failed++
			slog.Error("Failed to set inventory level", "sku", e.SKU, "target", e.Target, "error", err)
		} else {
			outcome.Success = true
			if level != nil {
				outcome.Available = level.Available
			}
			result.Succeeded++
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	result.CompletedAt = o.deps.now()
	o.deps.Metrics.RecordSyncItems(directionOutbound, "applied", result.Succeeded)
	o.deps.Metrics.RecordSyncItems(directionOutbound, "failed", result.Failed)
	o.deps.Audit.Record(ctx, store.AuditOutboundResult, result)

	slog.Info("Outbound plan applied", "succeeded", result.Succeeded, "failed", result.Failed)
	return result
}

// integralQuantity returns the on-hand quantity as a whole number, or why it is unusable
func integralQuantity(item model.InventoryItem) (int64, string) {
	if !item.QuantityOnHand.Valid {
		return 0, "missing quantity on hand"
	}
	qty := item.QuantityOnHand.Decimal
	if !qty.IsInteger() {
		return 0, "non-integral quantity " + qty.String()
	}
	return qty.IntPart(), ""
}

func sortSkipped(items []model.SkippedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].SKU != items[j].SKU {
			return items[i].SKU < items[j].SKU
		}
		return items[i].ListID < items[j].ListID
	})
}
