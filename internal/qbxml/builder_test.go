package qbxml

import (
	"fmt"
	"testing"
	"time"

	"github.com/dandantas/stocksync/internal/model"
	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestBuildInventoryQuery(t *testing.T) {
	b := NewBuilder(1000)
	g := newGoldie(t)

	t.Run("default limit", func(t *testing.T) {
		job := model.NewInventoryQueryJob(model.SourceAPI, 0)
		job.ID = "job-1"

		doc, err := b.Build(job)
		require.NoError(t, err)
		g.Assert(t, "inventory_query_default", []byte(doc))
	})

	t.Run("modified window", func(t *testing.T) {
		est := time.FixedZone("EST", -5*3600)
		from := time.Date(2024, 3, 1, 0, 0, 0, 0, est)
		to := from.AddDate(0, 0, 1)

		job := model.NewInventoryQueryJob(model.SourceAPI, 50)
		job.ID = "job-2"
		job.Payload.Query.ActiveStatus = "All"
		job.Payload.Query.FromModified = &from
		job.Payload.Query.ToModified = &to

		doc, err := b.Build(job)
		require.NoError(t, err)
		g.Assert(t, "inventory_query_window", []byte(doc))
	})
}

func TestBuildAdjustment(t *testing.T) {
	b := NewBuilder(1000)

	job := model.NewAdjustmentJob(model.SourceInbound, model.AdjustmentPayload{
		Account: "Inventory Adjustments",
		Memo:    "inbound sync <WIDGET-1> & BOLT",
		Lines: []model.AdjustmentLine{
			{ListID: "80000001-123", FullName: "Widget", QuantityDelta: decimal.NewFromInt(-3)},
			{FullName: "Hardware:Bolt", QuantityDelta: decimal.NewFromInt(5)},
			{QuantityDelta: decimal.NewFromInt(2)},
			{ListID: "80000009-999", QuantityDelta: decimal.Zero},
		},
	}, []string{"WIDGET-1", "BOLT"})
	job.ID = "job-3"

	doc, err := b.Build(job)
	require.NoError(t, err)
	newGoldie(t).Assert(t, "inventory_adjustment", []byte(doc))
}

func TestBuildIsDeterministic(t *testing.T) {
	b := NewBuilder(1000)
	job := model.NewAdjustmentJob(model.SourceInbound, model.AdjustmentPayload{
		Account: "Shrinkage",
		Lines: []model.AdjustmentLine{
			{ListID: "1", QuantityDelta: decimal.RequireFromString("1.5")},
			{ListID: "2", QuantityDelta: decimal.NewFromInt(-7)},
		},
	}, nil)
	job.ID = "same"

	first, err := b.Build(job)
	require.NoError(t, err)
	second, err := b.Build(job)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBuildSkipsEmptyJobs(t *testing.T) {
	b := NewBuilder(1000)

	tests := []struct {
		name string
		job  model.Job
	}{
		{"unknown type", model.Job{ID: "x", Type: "invoiceAdd"}},
		{"empty raw", model.NewRawJob(model.SourceAPI, "   ")},
		{"adjustment without payload", model.Job{Type: model.JobTypeInventoryAdjust}},
		{"adjustment with only zero lines", model.NewAdjustmentJob(model.SourceInbound, model.AdjustmentPayload{
			Account: "Inventory Adjustments",
			Lines:   []model.AdjustmentLine{{ListID: "1", QuantityDelta: decimal.Zero}},
		}, nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := b.Build(tt.job)
			require.NoError(t, err)
			assert.Empty(t, doc)
		})
	}
}

func TestBuildRawPassthrough(t *testing.T) {
	raw := `<?xml version="1.0"?><QBXML><QBXMLMsgsRq onError="stopOnError"><HostQueryRq/></QBXMLMsgsRq></QBXML>`
	doc, err := NewBuilder(10).Build(model.NewRawJob(model.SourceAPI, "\n"+raw+"\n"))
	require.NoError(t, err)
	assert.Equal(t, raw, doc)
}

func TestAdjustmentRoundTrip(t *testing.T) {
	b := NewBuilder(1000)

	cases := [][]model.AdjustmentLine{
		{{ListID: "80000001-123", QuantityDelta: decimal.NewFromInt(-3)}},
		{
			{ListID: "A-1", QuantityDelta: decimal.NewFromInt(12)},
			{FullName: "Parts:Nut & Bolt <M6>", QuantityDelta: decimal.RequireFromString("-0.25")},
			{ListID: "B-2", QuantityDelta: decimal.NewFromInt(-100)},
		},
	}

	for i, lines := range cases {
		t.Run(fmt.Sprintf("case %d", i), func(t *testing.T) {
			job := model.NewAdjustmentJob(model.SourceInbound, model.AdjustmentPayload{
				Account: "Inventory Adjustments & Shrinkage",
				Lines:   lines,
			}, nil)

			doc, err := b.Build(job)
			require.NoError(t, err)

			parsed, err := ParseAdjustmentRequest(doc)
			require.NoError(t, err)
			assert.Equal(t, "Inventory Adjustments & Shrinkage", parsed.Account)
			require.Len(t, parsed.Lines, len(lines))
			for j, line := range lines {
				assert.Equal(t, line.Identity(), parsed.Lines[j].Identity())
				assert.True(t, line.QuantityDelta.Equal(parsed.Lines[j].QuantityDelta),
					"line %d: want %s got %s", j, line.QuantityDelta, parsed.Lines[j].QuantityDelta)
			}
		})
	}
}
