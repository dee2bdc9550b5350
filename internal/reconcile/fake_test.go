package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dandantas/stocksync/internal/commerce"
	"github.com/dandantas/stocksync/internal/model"
	"github.com/dandantas/stocksync/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testLocation = "655441491"

type setCall struct {
	LocationID      string
	InventoryItemID string
	Available       int64
}

// fakeCommerce keeps variants and levels in memory
type fakeCommerce struct {
	mu            sync.Mutex
	now           func() time.Time
	variants      []commerce.Variant
	levels        map[string]commerce.InventoryLevel
	order         []string
	sets          []setCall
	variantErrors map[string]error
	byInventory   int
}

func newFakeCommerce(now func() time.Time) *fakeCommerce {
	return &fakeCommerce{
		now:           now,
		levels:        make(map[string]commerce.InventoryLevel),
		variantErrors: make(map[string]error),
	}
}

func (f *fakeCommerce) addVariant(id, sku, inventoryItemID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.variants = append(f.variants, commerce.Variant{
		ID:              commerce.ID(id),
		SKU:             sku,
		InventoryItemID: commerce.ID(inventoryItemID),
	})
}

func (f *fakeCommerce) setLevel(inventoryItemID string, available int64, updatedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.levels[inventoryItemID]; !ok {
		f.order = append(f.order, inventoryItemID)
	}
	f.levels[inventoryItemID] = commerce.InventoryLevel{
		InventoryItemID: commerce.ID(inventoryItemID),
		LocationID:      testLocation,
		Available:       &available,
		UpdatedAt:       updatedAt,
	}
}

func (f *fakeCommerce) setCalls() []setCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]setCall(nil), f.sets...)
}

func (f *fakeCommerce) VariantBySKU(_ context.Context, sku string) (*commerce.Variant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.variantErrors[model.NormalizeSKU(sku)]; err != nil {
		return nil, err
	}
	for _, v := range f.variants {
		if model.NormalizeSKU(v.SKU) == model.NormalizeSKU(sku) {
			v := v
			return &v, nil
		}
	}
	return nil, nil
}

func (f *fakeCommerce) VariantByInventoryItemID(_ context.Context, inventoryItemID string) (*commerce.Variant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byInventory++
	for _, v := range f.variants {
		if v.InventoryItemID.String() == inventoryItemID {
			v := v
			return &v, nil
		}
	}
	return nil, nil
}

func (f *fakeCommerce) InventoryItemByID(context.Context, string) (*commerce.InventoryItem, error) {
	return nil, nil
}

func (f *fakeCommerce) InventoryLevels(_ context.Context, q commerce.LevelQuery) (*commerce.LevelPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page := &commerce.LevelPage{}
	for _, id := range q.InventoryItemIDs {
		if level, ok := f.levels[id]; ok {
			page.Levels = append(page.Levels, level)
		}
	}
	return page, nil
}

func (f *fakeCommerce) InventoryLevelsSince(_ context.Context, _ []string, since time.Time) ([]commerce.InventoryLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []commerce.InventoryLevel
	for _, id := range f.order {
		if level := f.levels[id]; !level.UpdatedAt.Before(since) {
			out = append(out, level)
		}
	}
	return out, nil
}

func (f *fakeCommerce) SetInventoryLevel(_ context.Context, locationID, inventoryItemID string, available int64) (*commerce.InventoryLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, setCall{locationID, inventoryItemID, available})
	level := commerce.InventoryLevel{
		InventoryItemID: commerce.ID(inventoryItemID),
		LocationID:      commerce.ID(locationID),
		Available:       &available,
		UpdatedAt:       f.now(),
	}
	f.levels[inventoryItemID] = level
	return &level, nil
}

func (f *fakeCommerce) Locations(context.Context) ([]commerce.Location, error) {
	return []commerce.Location{{ID: testLocation, Name: "Main", Active: true}}, nil
}

type testEnv struct {
	deps    Deps
	client  *fakeCommerce
	dir     *store.Dir
	ids     *store.IdentityMap
	queue   *store.JobQueue
	pending *store.PendingTracker
	now     time.Time
}

func newTestEnv(t *testing.T, now time.Time) *testEnv {
	t.Helper()
	dir, err := store.OpenDir(t.TempDir())
	require.NoError(t, err)

	clock := func() time.Time { return now }
	client := newFakeCommerce(clock)
	resolver, err := NewSKUResolver([]string{"ManufacturerPartNumber", "Name"})
	require.NoError(t, err)
	ids := store.NewIdentityMap(dir)
	lock := store.NewFileLock(dir.Path(store.FileJobsLock), time.Millisecond, time.Second, time.Minute)
	pending := store.NewPendingTracker(dir, lock)
	pending.SetClock(clock)

	return &testEnv{
		deps: Deps{
			Client:     client,
			Resolver:   resolver,
			Identities: NewIdentityResolver(ids, client),
			Locations:  NewLocationResolver(client, testLocation),
			Dir:        dir,
			Snapshots:  store.NewSnapshotStore(dir),
			Audit:      store.NewAuditLog(dir),
			TimeZone:   time.UTC,
			Now:        clock,
		},
		client:  client,
		dir:     dir,
		ids:     ids,
		queue:   store.NewJobQueue(dir, lock),
		pending: pending,
		now:     now,
	}
}

func (e *testEnv) saveSnapshot(t *testing.T, items ...model.InventoryItem) {
	t.Helper()
	require.NoError(t, e.deps.Snapshots.Save(&model.InventorySnapshot{Items: items, GeneratedAt: e.now}, ""))
}

func qty(n float64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromFloat(n))
}
