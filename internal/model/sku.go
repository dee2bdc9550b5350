package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeSKU folds compatibility forms, trims and upper-cases a SKU so that
// keys coming from both systems compare equal
func NormalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(norm.NFKC.String(sku)))
}

// NormalizeInventoryID extracts the digits of a commerce id, so
// "gid://shopify/InventoryItem/123" and "123" map to the same key
func NormalizeInventoryID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.LastIndexByte(id, '/'); i >= 0 {
		id = id[i+1:]
	}
	var b strings.Builder
	for _, r := range id {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
