package store

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/dandantas/stocksync/internal/model"
)

// PendingTracker is the table of adjustments sent toward the accounting
// system whose confirmation has not been observed. A SKU stays pending,
// failed entries included, until its job is confirmed or it is cleared by hand.
//
// The table lives only on disk. Every change is a read-modify-write under the
// same lock that guards the job queue, so processes sharing a data directory
// never overwrite each other's entries.
type PendingTracker struct {
	dir  *Dir
	lock Locker
	now  func() time.Time
}

// NewPendingTracker creates a tracker persisted in dir and guarded by lock
func NewPendingTracker(dir *Dir, lock Locker) *PendingTracker {
	return &PendingTracker{
		dir:  dir,
		lock: lock,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the clock used for creation, failure and confirmation times
func (t *PendingTracker) SetClock(now func() time.Time) {
	t.now = now
}

// Register records entries for a freshly queued adjustment job
func (t *PendingTracker) Register(ctx context.Context, entries []model.PendingAdjustment) error {
	return t.update(ctx, func(table map[string]model.PendingAdjustment) bool {
		changed := false
		for _, e := range entries {
			key := model.NormalizeSKU(e.SKU)
			if key == "" {
				continue
			}
			e.SKU = key
			if e.CreatedAt.IsZero() {
				e.CreatedAt = t.now()
			}
			table[key] = e
			changed = true
		}
		return changed
	})
}

// IsPending reports whether sku has an unconfirmed adjustment
func (t *PendingTracker) IsPending(sku string) bool {
	e, ok := t.load()[model.NormalizeSKU(sku)]
	return ok && e.ConfirmedAt == nil
}

// Gates reports whether sku must be left alone when working from a snapshot
// generated at asOf. Confirmed entries keep gating until a snapshot taken
// after the confirmation shows the adjusted quantity.
func (t *PendingTracker) Gates(sku string, asOf time.Time) bool {
	e, ok := t.load()[model.NormalizeSKU(sku)]
	if !ok {
		return false
	}
	return e.ConfirmedAt == nil || !asOf.After(*e.ConfirmedAt)
}

// SKUs returns the unconfirmed SKUs in sorted order
func (t *PendingTracker) SKUs() []string {
	list := t.List()
	skus := make([]string, 0, len(list))
	for _, e := range list {
		skus = append(skus, e.SKU)
	}
	return skus
}

// List returns every unconfirmed entry sorted by SKU
func (t *PendingTracker) List() []model.PendingAdjustment {
	list := []model.PendingAdjustment{}
	for _, e := range sorted(t.load()) {
		if e.ConfirmedAt == nil {
			list = append(list, e)
		}
	}
	return list
}

// ClearJob marks the entries of a confirmed job and returns them. They stop
// counting as pending but keep gating until Prune sees a newer snapshot.
func (t *PendingTracker) ClearJob(ctx context.Context, jobID string) ([]model.PendingAdjustment, error) {
	var removed []model.PendingAdjustment
	err := t.update(ctx, func(table map[string]model.PendingAdjustment) bool {
		removed = nil
		now := t.now()
		for k, e := range table {
			if e.JobID != jobID || e.ConfirmedAt != nil {
				continue
			}
			e.ConfirmedAt = &now
			table[k] = e
			removed = append(removed, e)
		}
		return len(removed) > 0
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].SKU < removed[j].SKU })
	return removed, nil
}

// Prune drops confirmed entries that a snapshot generated at asOf already
// reflects and returns how many were dropped
func (t *PendingTracker) Prune(ctx context.Context, asOf time.Time) (int, error) {
	dropped := 0
	err := t.update(ctx, func(table map[string]model.PendingAdjustment) bool {
		dropped = 0
		for k, e := range table {
			if e.ConfirmedAt != nil && asOf.After(*e.ConfirmedAt) {
				delete(table, k)
				dropped++
			}
		}
		return dropped > 0
	})
	return dropped, err
}

// MarkFailed keeps the entries of jobID with the failure recorded
func (t *PendingTracker) MarkFailed(ctx context.Context, jobID, message string) (int, error) {
	marked := 0
	err := t.update(ctx, func(table map[string]model.PendingAdjustment) bool {
		marked = 0
		now := t.now()
		for k, e := range table {
			if e.JobID != jobID || e.ConfirmedAt != nil {
				continue
			}
			e.Error = message
			e.FailedAt = &now
			table[k] = e
			marked++
		}
		return marked > 0
	})
	return marked, err
}

// DropJob removes the entries of a job that was never queued
func (t *PendingTracker) DropJob(ctx context.Context, jobID string) (int, error) {
	dropped := 0
	err := t.update(ctx, func(table map[string]model.PendingAdjustment) bool {
		dropped = 0
		for k, e := range table {
			if e.JobID == jobID {
				delete(table, k)
				dropped++
			}
		}
		return dropped > 0
	})
	return dropped, err
}

// Clear drops the entry for sku regardless of its state
func (t *PendingTracker) Clear(ctx context.Context, sku string) (bool, error) {
	found := false
	err := t.update(ctx, func(table map[string]model.PendingAdjustment) bool {
		key := model.NormalizeSKU(sku)
		_, found = table[key]
		delete(table, key)
		return found
	})
	return found, err
}

// update runs fn on a fresh copy of the table while holding the lock and
// writes the table back when fn reports a change
func (t *PendingTracker) update(ctx context.Context, fn func(table map[string]model.PendingAdjustment) bool) error {
	return WithLock(ctx, t.lock, func() error {
		table := t.load()
		if !fn(table) {
			return nil
		}
		return t.dir.WriteJSON(FilePending, sorted(table), true)
	})
}

func (t *PendingTracker) load() map[string]model.PendingAdjustment {
	var list []model.PendingAdjustment
	if _, err := t.dir.ReadJSON(FilePending, &list); err != nil {
		slog.Error("Failed to load pending adjustments, treating as empty", "error", err)
	}
	table := make(map[string]model.PendingAdjustment, len(list))
	for _, e := range list {
		key := model.NormalizeSKU(e.SKU)
		if key == "" {
			continue
		}
		e.SKU = key
		table[key] = e
	}
	return table
}

func sorted(table map[string]model.PendingAdjustment) []model.PendingAdjustment {
	list := make([]model.PendingAdjustment, 0, len(table))
	for _, e := range table {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].SKU < list[j].SKU })
	return list
}
