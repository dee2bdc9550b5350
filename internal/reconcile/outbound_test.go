package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dandantas/stocksync/internal/apperr"
	"github.com/dandantas/stocksync/internal/model"
	"github.com/dandantas/stocksync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outboundFixture(t *testing.T) *testEnv {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	env := newTestEnv(t, now)
	env.saveSnapshot(t,
		model.InventoryItem{ListID: "80000001-123", Name: "Widget", ManufacturerPartNumber: "WIDGET-1", QuantityOnHand: qty(12), TimeModified: "2024-03-05T09:00:00"},
		model.InventoryItem{ListID: "80000002-123", Name: "Gadget", ManufacturerPartNumber: "GADGET-2", QuantityOnHand: qty(3), TimeModified: "2024-03-05T09:10:00"},
		model.InventoryItem{ListID: "80000003-123", Name: "Bolt", QuantityOnHand: qty(2.5), TimeModified: "2024-03-05T09:20:00"},
		model.InventoryItem{ListID: "80000004-123", Name: "Nut", QuantityOnHand: qty(40), TimeModified: "2024-03-04T09:20:00"},
	)
	env.client.addVariant("1", "widget-1", "101")
	env.client.setLevel("101", 4, now.Add(-time.Hour))
	return env
}

func TestOutboundPlan(t *testing.T) {
	env := outboundFixture(t)
	out := NewOutbound(env.deps)

	plan, err := out.Plan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, testLocation, plan.LocationID)
	require.Len(t, plan.Entries, 1)
	entry := plan.Entries[0]
	assert.Equal(t, "WIDGET-1", entry.SKU)
	assert.Equal(t, "101", entry.InventoryItemID)
	assert.Equal(t, int64(12), entry.Target)
	require.NotNil(t, entry.Current)
	assert.Equal(t, int64(4), *entry.Current)
	assert.Equal(t, int64(8), entry.Delta)
	assert.Equal(t, model.ActionSet, entry.Action)

	require.Len(t, plan.Unmatched, 1)
	assert.Equal(t, "GADGET-2", plan.Unmatched[0].SKU)
	assert.Equal(t, model.ReasonVariantNotFound, plan.Unmatched[0].Reason)

	require.Len(t, plan.Skipped, 1)
	assert.Equal(t, "BOLT", plan.Skipped[0].SKU)
	assert.Equal(t, model.ReasonInvalidQuantity, plan.Skipped[0].Reason)

	assert.Empty(t, env.client.setCalls(), "planning must not change anything")

	entryInMap, ok := env.ids.Lookup("101")
	require.True(t, ok)
	assert.Equal(t, "WIDGET-1", entryInMap.SKU)
	assert.Equal(t, "1", entryInMap.VariantID)

	var recorded model.OutboundPlan
	found, err := env.deps.Audit.Latest(store.AuditOutboundPlan, &recorded)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, recorded.Entries, 1)
}

func TestOutboundRunIsIdempotent(t *testing.T) {
	env := outboundFixture(t)
	out := NewOutbound(env.deps)
	ctx := context.Background()

	result, err := out.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, []setCall{{testLocation, "101", 12}}, env.client.setCalls())

	plan, err := out.Plan(ctx)
	require.NoError(t, err)
	require.Len(t, plan.Entries, 1)
	assert.Equal(t, model.ActionNoop, plan.Entries[0].Action)
	assert.Equal(t, 0, plan.Changes())

	result, err = out.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Outcomes)
	assert.Len(t, env.client.setCalls(), 1)
}

func TestOutboundLookupFailureIsSkipped(t *testing.T) {
	env := outboundFixture(t)
	env.client.variantErrors["GADGET-2"] = errors.New("boom")

	plan, err := NewOutbound(env.deps).Plan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, plan.Unmatched)
	require.Len(t, plan.Skipped, 2)
	assert.Equal(t, "GADGET-2", plan.Skipped[1].SKU)
	assert.Equal(t, model.ReasonLookupFailed, plan.Skipped[1].Reason)
}

func TestOutboundRejectsConcurrentRun(t *testing.T) {
	env := outboundFixture(t)
	out := NewOutbound(env.deps)
	out.running.Store(true)

	_, err := out.Run(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeSyncInProgress))
}
