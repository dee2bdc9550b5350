package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PendingAdjustment tracks an adjustment job queued toward the accounting
// system whose confirmation has not been observed yet
type PendingAdjustment struct {
	SKU           string          `json:"sku"`
	JobID         string          `json:"job_id"`
	Source        string          `json:"source"`
	Delta         decimal.Decimal `json:"delta"`
	Available     int64           `json:"available"`
	AccountingQty decimal.Decimal `json:"accounting_qty"`
	Target        int64           `json:"target"`
	CreatedAt     time.Time       `json:"created_at"`
	Error         string          `json:"error,omitempty"`
	FailedAt      *time.Time      `json:"failed_at,omitempty"`

	// ConfirmedAt is set once the job is confirmed. The entry keeps gating
	// until an inventory snapshot newer than this time has been stored.
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// IdentityEntry maps a commerce inventory item to an accounting SKU
type IdentityEntry struct {
	InventoryItemID string    `json:"inventory_item_id"`
	SKU             string    `json:"sku"`
	VariantID       string    `json:"variant_id,omitempty"`
	Source          string    `json:"source,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Plan actions and skip reasons
const (
	ActionSet  = "set"
	ActionNoop = "noop"

	ReasonNoSKU             = "no_sku"
	ReasonDuplicateSKU      = "duplicate_sku"
	ReasonInvalidQuantity   = "invalid_quantity"
	ReasonVariantNotFound   = "variant_not_found"
	ReasonLookupFailed      = "lookup_failed"
	ReasonPendingAdjustment = "pending_adjustment"
	ReasonUnknownIdentity   = "unknown_inventory_item"
	ReasonNoAccountingItem  = "no_accounting_item"
	ReasonInSync            = "in_sync"
	ReasonAlreadyProcessed  = "already_processed"
)

// OutboundEntry is one planned SKU update toward the commerce platform
type OutboundEntry struct {
	SKU             string `json:"sku"`
	ListID          string `json:"list_id,omitempty"`
	Name            string `json:"name,omitempty"`
	VariantID       string `json:"variant_id,omitempty"`
	InventoryItemID string `json:"inventory_item_id,omitempty"`
	Target          int64  `json:"target"`
	Current         *int64 `json:"current,omitempty"`
	Delta           int64  `json:"delta"`
	Action          string `json:"action"`
}

// SkippedItem records why an item was left out of a plan
type SkippedItem struct {
	SKU    string `json:"sku,omitempty"`
	ListID string `json:"list_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// OutboundPlan is the accounting → commerce plan
type OutboundPlan struct {
	GeneratedAt    time.Time       `json:"generated_at"`
	SnapshotDigest string          `json:"snapshot_digest,omitempty"`
	LocationID     string          `json:"location_id"`
	Window         FilterWindow    `json:"window"`
	Entries        []OutboundEntry `json:"entries"`
	Unmatched      []SkippedItem   `json:"unmatched"`
	Skipped        []SkippedItem   `json:"skipped"`
}

// Changes counts entries with a non-zero delta
func (p OutboundPlan) Changes() int {
	n := 0
	for _, e := range p.Entries {
		if e.Action == ActionSet {
			n++
		}
	}
	return n
}

// OutboundOutcome is the per-SKU result of applying a plan entry
type OutboundOutcome struct {
	SKU       string `json:"sku"`
	Target    int64  `json:"target"`
	Success   bool   `json:"success"`
	Available *int64 `json:"available,omitempty"`
	Error     string `json:"error,omitempty"`
}

// OutboundResult is the audit record of an outbound apply
type OutboundResult struct {
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Plan        OutboundPlan      `json:"plan"`
	Outcomes    []OutboundOutcome `json:"outcomes"`
	Succeeded   int               `json:"succeeded"`
	Failed      int               `json:"failed"`
	Error       string            `json:"error,omitempty"`
}

// InboundChange is a commerce inventory level observed in the window
type InboundChange struct {
	InventoryItemID string          `json:"inventory_item_id"`
	SKU             string          `json:"sku,omitempty"`
	Available       int64           `json:"available"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ListID          string          `json:"list_id,omitempty"`
	Name            string          `json:"name,omitempty"`
	AccountingQty   decimal.Decimal `json:"accounting_qty"`
	Delta           decimal.Decimal `json:"delta"`
}

// InboundPlan is the commerce → accounting plan
type InboundPlan struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Since       time.Time        `json:"since"`
	DryRun      bool             `json:"dry_run"`
	Scanned     int              `json:"scanned"`
	Changes     []InboundChange  `json:"changes"`
	Lines       []AdjustmentLine `json:"lines"`
	Skipped     []SkippedItem    `json:"skipped"`
	JobID       string           `json:"job_id,omitempty"`
	Error       string           `json:"error,omitempty"`
}
