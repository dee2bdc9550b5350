package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dandantas/stocksync/internal/commerce"
	"github.com/dandantas/stocksync/internal/model"
	"github.com/dandantas/stocksync/internal/store"
	"golang.org/x/sync/singleflight"
)

// Identity sources recorded in the identity map
const (
	IdentityFromOutbound      = "outbound"
	IdentityFromVariant       = "variant_lookup"
	IdentityFromInventoryItem = "inventory_item_lookup"
)

// Commerce is the part of the commerce client the reconcilers use
type Commerce interface {
	VariantBySKU(ctx context.Context, sku string) (*commerce.Variant, error)
	VariantByInventoryItemID(ctx context.Context, inventoryItemID string) (*commerce.Variant, error)
	InventoryItemByID(ctx context.Context, inventoryItemID string) (*commerce.InventoryItem, error)
	InventoryLevels(ctx context.Context, q commerce.LevelQuery) (*commerce.LevelPage, error)
	InventoryLevelsSince(ctx context.Context, locationIDs []string, since time.Time) ([]commerce.InventoryLevel, error)
	SetInventoryLevel(ctx context.Context, locationID, inventoryItemID string, available int64) (*commerce.InventoryLevel, error)
	Locations(ctx context.Context) ([]commerce.Location, error)
}

// IdentityResolver maps commerce inventory item ids to SKUs, caching every
// discovered mapping. Concurrent misses for the same id share one lookup.
type IdentityResolver struct {
	ids    *store.IdentityMap
	client Commerce
	group  singleflight.Group
}

// NewIdentityResolver creates a resolver
func NewIdentityResolver(ids *store.IdentityMap, client Commerce) *IdentityResolver {
	return &IdentityResolver{ids: ids, client: client}
}

// Resolve returns the SKU for an inventory item id, or "" when the platform
// knows no SKU for it
func (r *IdentityResolver) Resolve(ctx context.Context, inventoryItemID string) (string, error) {
	key := model.NormalizeInventoryID(inventoryItemID)
	if key == "" {
		return "", nil
	}
	if e, ok := r.ids.Lookup(key); ok {
		return e.SKU, nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.lookup(ctx, key)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *IdentityResolver) lookup(ctx context.Context, key string) (string, error) {
	variant, err := r.client.VariantByInventoryItemID(ctx, key)
	if err != nil {
		return "", fmt.Errorf("variant lookup for inventory item %s: %w", key, err)
	}
	if variant != nil && model.NormalizeSKU(variant.SKU) != "" {
		r.remember(ctx, model.IdentityEntry{
			InventoryItemID: key,
			SKU:             variant.SKU,
			VariantID:       variant.ID.String(),
			Source:          IdentityFromVariant,
		})
		return model.NormalizeSKU(variant.SKU), nil
	}

	item, err := r.client.InventoryItemByID(ctx, key)
	if err != nil {
		return "", fmt.Errorf("inventory item lookup for %s: %w", key, err)
	}
	if item != nil && model.NormalizeSKU(item.SKU) != "" {
		r.remember(ctx, model.IdentityEntry{
			InventoryItemID: key,
			SKU:             item.SKU,
			Source:          IdentityFromInventoryItem,
		})
		return model.NormalizeSKU(item.SKU), nil
	}
	return "", nil
}

// Remember records a mapping observed elsewhere, e.g. by the outbound planner
func (r *IdentityResolver) Remember(ctx context.Context, entry model.IdentityEntry) {
	r.remember(ctx, entry)
}

func (r *IdentityResolver) remember(ctx context.Context, entry model.IdentityEntry) {
	if _, err := r.ids.Merge(ctx, entry); err != nil {
		slog.Warn("Failed to record identity mapping",
			"inventory_item_id", entry.InventoryItemID,
			"sku", entry.SKU,
			"error", err,
		)
	}
}
