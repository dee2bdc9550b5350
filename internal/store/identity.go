package store

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dandantas/stocksync/internal/model"
)

var (
	// ErrEmptyInventoryID is returned when an identity carries no usable id
	ErrEmptyInventoryID = errors.New("store: identity requires an inventory item id")
	// ErrEmptySKU is returned when an identity carries no SKU
	ErrEmptySKU = errors.New("store: identity requires a sku")
)

// IdentityMap caches commerce inventory item id ↔ accounting SKU mappings
type IdentityMap struct {
	dir     *Dir
	mu      sync.RWMutex
	entries map[string]model.IdentityEntry
	now     func() time.Time
}

// NewIdentityMap loads the persisted map from dir
func NewIdentityMap(dir *Dir) *IdentityMap {
	m := &IdentityMap{
		dir:     dir,
		entries: make(map[string]model.IdentityEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}

	var stored map[string]model.IdentityEntry
	if _, err := dir.ReadJSON(FileIdentityMap, &stored); err != nil {
		slog.Error("Failed to load identity map, starting empty", "error", err)
	}
	for k, e := range stored {
		key := model.NormalizeInventoryID(k)
		if key == "" || e.SKU == "" {
			continue
		}
		e.InventoryItemID = key
		m.entries[key] = e
	}
	return m
}

// Lookup returns the entry for an inventory item id in any accepted form
func (m *IdentityMap) Lookup(inventoryItemID string) (model.IdentityEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[model.NormalizeInventoryID(inventoryItemID)]
	return e, ok
}

// Merge records an observation. Fields the observation leaves empty keep
// their previous value.
func (m *IdentityMap) Merge(ctx context.Context, entry model.IdentityEntry) (model.IdentityEntry, error) {
	key := model.NormalizeInventoryID(entry.InventoryItemID)
	if key == "" {
		return model.IdentityEntry{}, ErrEmptyInventoryID
	}
	sku := model.NormalizeSKU(entry.SKU)
	if sku == "" {
		return model.IdentityEntry{}, ErrEmptySKU
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	merged, exists := m.entries[key]
	if exists && merged.SKU == sku &&
		(entry.VariantID == "" || entry.VariantID == merged.VariantID) &&
		(entry.Source == "" || entry.Source == merged.Source) {
		return merged, nil
	}

	merged.InventoryItemID = key
	merged.SKU = sku
	if v := model.NormalizeInventoryID(entry.VariantID); v != "" {
		merged.VariantID = v
	}
	if entry.Source != "" {
		merged.Source = entry.Source
	}
	merged.UpdatedAt = m.now()
	m.entries[key] = merged

	if err := m.dir.WriteJSON(FileIdentityMap, m.entries, true); err != nil {
		return merged, err
	}
	slog.Debug("Identity mapping recorded",
		"inventory_item_id", key,
		"sku", sku,
		"variant_id", merged.VariantID,
	)
	return merged, nil
}

// List returns every entry sorted by inventory item id
func (m *IdentityMap) List() []model.IdentityEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]model.IdentityEntry, 0, len(m.entries))
	for _, e := range m.entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].InventoryItemID < list[j].InventoryItemID })
	return list
}
