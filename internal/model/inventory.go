package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// InventoryItem is an ItemInventoryRet record from the accounting system
type InventoryItem struct {
	ListID                 string              `json:"ListID"`
	Name                   string              `json:"Name"`
	FullName               string              `json:"FullName"`
	IsActive               bool                `json:"IsActive"`
	QuantityOnHand         decimal.NullDecimal `json:"QuantityOnHand"`
	EditSequence           string              `json:"EditSequence"`
	BarCodeValue           string              `json:"BarCodeValue,omitempty"`
	ManufacturerPartNumber string              `json:"ManufacturerPartNumber,omitempty"`
	SalesDesc              string              `json:"SalesDesc,omitempty"`
	TimeCreated            string              `json:"TimeCreated,omitempty"`
	TimeModified           string              `json:"TimeModified,omitempty"`
	CustomFields           map[string]string   `json:"CustomFields,omitempty"`
}

// DisplayName prefers the full hierarchical name
func (i InventoryItem) DisplayName() string {
	if i.FullName != "" {
		return i.FullName
	}
	return i.Name
}

// FilterWindow describes the [Start, End) range used to build FilteredItems
type FilterWindow struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Timezone string    `json:"timezone"`
	Field    string    `json:"field"`
}

// InventorySnapshot is the latest parsed inventory query result
type InventorySnapshot struct {
	Items         []InventoryItem `json:"items"`
	FilteredItems []InventoryItem `json:"filtered_items"`
	GeneratedAt   time.Time       `json:"generated_at"`
	Window        FilterWindow    `json:"window"`
	Digest        string          `json:"digest,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
}

// MergeItems overlays update onto base by ListID. Items of base that update
// does not mention are kept in place and new ones are appended.
func MergeItems(base, update []InventoryItem) []InventoryItem {
	pos := make(map[string]int, len(base))
	merged := make([]InventoryItem, 0, len(base)+len(update))
	for _, item := range base {
		if item.ListID != "" {
			pos[item.ListID] = len(merged)
		}
		merged = append(merged, item)
	}
	for _, item := range update {
		if i, ok := pos[item.ListID]; ok && item.ListID != "" {
			merged[i] = item
			continue
		}
		if item.ListID != "" {
			pos[item.ListID] = len(merged)
		}
		merged = append(merged, item)
	}
	return merged
}
