package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dandantas/stocksync/internal/apperr"
	"github.com/dandantas/stocksync/internal/commerce"
	"github.com/dandantas/stocksync/internal/config"
	"github.com/dandantas/stocksync/internal/model"
	"github.com/dandantas/stocksync/internal/qbxml"
	"github.com/dandantas/stocksync/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)

// stubCommerce knows one variant per SKU and records level writes
type stubCommerce struct {
	mu       sync.Mutex
	variants map[string]commerce.Variant
	sets     map[string]int64
}

func newStubCommerce() *stubCommerce {
	return &stubCommerce{variants: map[string]commerce.Variant{}, sets: map[string]int64{}}
}

func (c *stubCommerce) setCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sets)
}

func (c *stubCommerce) VariantBySKU(_ context.Context, sku string) (*commerce.Variant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.variants[model.NormalizeSKU(sku)]; ok {
		return &v, nil
	}
	return nil, nil
}

func (c *stubCommerce) VariantByInventoryItemID(context.Context, string) (*commerce.Variant, error) {
	return nil, nil
}

func (c *stubCommerce) InventoryItemByID(context.Context, string) (*commerce.InventoryItem, error) {
	return nil, nil
}

func (c *stubCommerce) InventoryLevels(context.Context, commerce.LevelQuery) (*commerce.LevelPage, error) {
	return &commerce.LevelPage{}, nil
}

func (c *stubCommerce) InventoryLevelsSince(context.Context, []string, time.Time) ([]commerce.InventoryLevel, error) {
	return nil, nil
}

func (c *stubCommerce) SetInventoryLevel(_ context.Context, locationID, inventoryItemID string, available int64) (*commerce.InventoryLevel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets[inventoryItemID] = available
	return &commerce.InventoryLevel{
		InventoryItemID: commerce.ID(inventoryItemID),
		LocationID:      commerce.ID(locationID),
		Available:       &available,
	}, nil
}

func (c *stubCommerce) Locations(context.Context) ([]commerce.Location, error) {
	return []commerce.Location{{ID: "1", Name: "Main", Active: true}}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:             t.TempDir(),
		SessionUsername:     "qbwc",
		SessionPassword:     "secret",
		CommerceBaseURL:     "http://commerce.invalid",
		CommerceLocationID:  "1",
		SKUFieldPriority:    []string{"ManufacturerPartNumber", "Name"},
		AdjustmentAccount:   "Inventory Adjustments",
		InboundLookback:     time.Hour,
		InboundOverlap:      time.Minute,
		Timezone:            "UTC",
		LockBackend:         "file",
		QueueLockPoll:       time.Millisecond,
		QueueLockMaxWait:    5 * time.Second,
		QueueLockStaleAfter: time.Minute,
	}
}

func newTestService(t *testing.T, cfg *config.Config, client *stubCommerce) *Service {
	t.Helper()
	svc, err := New(context.Background(), cfg, WithCommerce(client), WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { svc.Stop(context.Background()) })
	return svc
}

func adjustmentJob(id string) model.Job {
	job := model.NewAdjustmentJob(model.SourceInbound, model.AdjustmentPayload{
		Account: "Inventory Adjustments",
		Lines:   []model.AdjustmentLine{{ListID: "80000001-123", QuantityDelta: decimal.NewFromInt(-3)}},
	}, []string{"WIDGET-1"})
	job.ID = id
	return job
}

func TestStartDropsUnconfirmedAdjustment(t *testing.T) {
	cfg := testConfig(t)
	dir, err := store.OpenDir(cfg.DataDir)
	require.NoError(t, err)
	lock := store.NewFileLock(dir.Path(store.FileJobsLock), time.Millisecond, time.Second, time.Minute)
	queue := store.NewJobQueue(dir, lock)
	require.NoError(t, queue.Update(context.Background(), func(state *model.QueueState) error {
		state.Current = &model.CurrentJob{Job: adjustmentJob("adj-1"), Ticket: "old"}
		return nil
	}))
	require.NoError(t, store.NewPendingTracker(dir, lock).Register(context.Background(), []model.PendingAdjustment{
		{SKU: "WIDGET-1", JobID: "adj-1", Delta: decimal.NewFromInt(-3)},
	}))

	svc := newTestService(t, cfg, newStubCommerce())

	status, err := svc.QueueStatus(context.Background())
	require.NoError(t, err)
	assert.Nil(t, status.Current)
	assert.Zero(t, status.Depth, "an unconfirmed adjustment is never replayed")

	pending := svc.ListPending()
	require.Len(t, pending, 1)
	assert.Equal(t, "unconfirmed after restart", pending[0].Error)
}

func TestCompleteQuerySavesSnapshotAndTriggersOutbound(t *testing.T) {
	cfg := testConfig(t)
	cfg.OutboundAutoApply = true
	client := newStubCommerce()
	client.variants["WIDGET-1"] = commerce.Variant{ID: "11", SKU: "widget-1", InventoryItemID: "101"}
	svc := newTestService(t, cfg, client)
	ctx := context.Background()

	resp := &qbxml.Response{
		Type:      "ItemInventoryQueryRs",
		RequestID: "q-1",
		Items: []model.InventoryItem{{
			ListID:                 "80000001-123",
			Name:                   "Widget",
			ManufacturerPartNumber: "widget-1",
			QuantityOnHand:         decimal.NewNullDecimal(decimal.NewFromInt(7)),
			TimeModified:           "2025-03-14T09:30:00+00:00",
		}},
	}
	current := model.CurrentJob{Job: model.Job{ID: "q-1", Type: model.JobTypeInventoryQuery}}
	require.NoError(t, svc.Complete(ctx, current, resp, "<QBXML/>"))

	snapshot := svc.Snapshots.Load()
	require.Len(t, snapshot.FilteredItems, 1)
	assert.NotEmpty(t, snapshot.Digest)
	assert.Equal(t, "q-1", snapshot.RequestID)

	require.Eventually(t, func() bool { return client.setCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	// the same snapshot again does not trigger another run
	require.NoError(t, svc.Complete(ctx, current, resp, "<QBXML/>"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, client.setCount())
}

func TestCompleteWindowedQueryKeepsUnlistedItems(t *testing.T) {
	svc := newTestService(t, testConfig(t), newStubCommerce())
	ctx := context.Background()
	item := func(listID, name string, qoh int64) model.InventoryItem {
		return model.InventoryItem{ListID: listID, Name: name, QuantityOnHand: decimal.NewNullDecimal(decimal.NewFromInt(qoh))}
	}

	full := &qbxml.Response{Type: "ItemInventoryQueryRs", Items: []model.InventoryItem{
		item("80000001-123", "Widget", 10),
		item("80000002-123", "Gadget", 5),
	}}
	query := model.NewInventoryQueryJob(model.SourceAPI, 0)
	require.NoError(t, svc.Complete(ctx, model.CurrentJob{Job: query}, full, ""))

	from := testNow.Add(-time.Hour)
	windowed := model.NewInventoryQueryJob(model.SourceAPI, 0)
	windowed.Payload.Query.FromModified = &from
	changed := &qbxml.Response{Type: "ItemInventoryQueryRs", Items: []model.InventoryItem{
		item("80000002-123", "Gadget", 3),
		item("80000003-123", "Bolt", 40),
	}}
	require.NoError(t, svc.Complete(ctx, model.CurrentJob{Job: windowed}, changed, ""))

	snapshot := svc.Snapshots.Load()
	require.Len(t, snapshot.Items, 3, "items outside the window are kept")
	assert.Equal(t, "Widget", snapshot.Items[0].Name)
	assert.True(t, snapshot.Items[0].QuantityOnHand.Decimal.Equal(decimal.NewFromInt(10)))
	assert.True(t, snapshot.Items[1].QuantityOnHand.Decimal.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, "Bolt", snapshot.Items[2].Name)

	// an unfiltered query is authoritative again
	require.NoError(t, svc.Complete(ctx, model.CurrentJob{Job: query}, full, ""))
	assert.Len(t, svc.Snapshots.Load().Items, 2)
}

func TestCompleteAdjustmentClearsPendingAndQueuesFollowUp(t *testing.T) {
	svc := newTestService(t, testConfig(t), newStubCommerce())
	ctx := context.Background()
	require.NoError(t, svc.Pending.Register(ctx, []model.PendingAdjustment{
		{SKU: "WIDGET-1", JobID: "adj-1", Delta: decimal.NewFromInt(-3)},
		{SKU: "BOLT", JobID: "adj-2", Delta: decimal.NewFromInt(1)},
	}))

	resp := &qbxml.Response{Type: "InventoryAdjustmentAddRs", Adjustment: &qbxml.AdjustmentResult{TxnID: "T-1"}}
	require.NoError(t, svc.Complete(ctx, model.CurrentJob{Job: adjustmentJob("adj-1")}, resp, ""))
	require.NoError(t, svc.Complete(ctx, model.CurrentJob{Job: adjustmentJob("adj-1")}, resp, ""))

	assert.False(t, svc.Pending.IsPending("WIDGET-1"))
	assert.True(t, svc.Pending.IsPending("BOLT"))

	status, err := svc.QueueStatus(ctx)
	require.NoError(t, err)
	require.Len(t, status.Jobs, 1, "one follow-up query at most")
	assert.Equal(t, model.JobTypeInventoryQuery, status.Jobs[0].Type)
	assert.Equal(t, model.SourceFollowUp, status.Jobs[0].Source)
}

func TestFailMarksPendingAdjustment(t *testing.T) {
	svc := newTestService(t, testConfig(t), newStubCommerce())
	ctx := context.Background()
	require.NoError(t, svc.Pending.Register(ctx, []model.PendingAdjustment{{SKU: "WIDGET-1", JobID: "adj-1"}}))

	svc.Fail(ctx, model.CurrentJob{Job: adjustmentJob("adj-1")}, "", "status 3120")

	pending := svc.ListPending()
	require.Len(t, pending, 1)
	assert.Equal(t, "status 3120", pending[0].Error)
	assert.True(t, svc.Pending.IsPending("WIDGET-1"))

	require.NoError(t, svc.ClearPending(ctx, "widget-1"))
	assert.Empty(t, svc.ListPending())
	assert.True(t, apperr.HasCode(svc.ClearPending(ctx, "widget-1"), apperr.CodeNotFound))
}

func TestEnqueueValidation(t *testing.T) {
	svc := newTestService(t, testConfig(t), newStubCommerce())
	ctx := context.Background()

	_, err := svc.EnqueueInventoryQuery(ctx, model.SourceAPI, QueryRequest{ActiveStatus: "Sometimes"})
	assert.True(t, apperr.HasCode(err, apperr.CodeBadInput))

	_, err = svc.EnqueueRaw(ctx, model.SourceAPI, "<QBXML><QBXMLMsgsRq></QBXMLMsgsRq></QBXML>")
	assert.True(t, apperr.HasCode(err, apperr.CodeBadInput))

	_, err = svc.EnqueueRaw(ctx, model.SourceAPI, "  ")
	assert.True(t, apperr.HasCode(err, apperr.CodeBadInput))

	result, err := svc.EnqueueInventoryQuery(ctx, model.SourceAPI, QueryRequest{MaxReturned: 10, ActiveStatus: "All"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Depth)
	assert.NotEmpty(t, result.Job.ID)
	assert.Equal(t, "All", result.Job.Payload.Query.ActiveStatus)

	raw := `<?xml version="1.0"?><?qbxml version="13.0"?><QBXML><QBXMLMsgsRq onError="stopOnError"><ItemInventoryQueryRq requestID="r1"/></QBXMLMsgsRq></QBXML>`
	result, err = svc.EnqueueRaw(ctx, model.SourceAPI, raw)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Depth)
	assert.Equal(t, model.JobTypeRaw, result.Job.Type)
}

func TestClearCurrent(t *testing.T) {
	svc := newTestService(t, testConfig(t), newStubCommerce())
	ctx := context.Background()

	_, err := svc.ClearCurrent(ctx)
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))

	require.NoError(t, svc.Pending.Register(ctx, []model.PendingAdjustment{{SKU: "WIDGET-1", JobID: "adj-1"}}))
	require.NoError(t, svc.Queue.Update(ctx, func(state *model.QueueState) error {
		state.Current = &model.CurrentJob{Job: adjustmentJob("adj-1")}
		return nil
	}))

	cleared, err := svc.ClearCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "adj-1", cleared.Job.ID)
	assert.Equal(t, "current job cleared manually", svc.ListPending()[0].Error)
}

func TestReadyAndAudit(t *testing.T) {
	svc := newTestService(t, testConfig(t), newStubCommerce())
	ctx := context.Background()

	ready := svc.Ready(ctx)
	assert.True(t, ready.Ready)
	assert.Equal(t, "ok", ready.Checks["data_dir"])
	assert.Nil(t, ready.NextSync, "auto sync is disabled")

	_, err := svc.LatestAudit(store.AuditInboundPlan)
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))

	_, err = svc.RunInbound(ctx, true)
	require.NoError(t, err)
	record, err := svc.LatestAudit(store.AuditInboundPlan)
	require.NoError(t, err)
	assert.Contains(t, string(record), `"dry_run": true`)

	_, err = svc.AuditHistory(ctx, store.AuditInboundPlan, 10)
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
}
