package reconcile

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dandantas/stocksync/internal/model"
	"github.com/dandantas/stocksync/internal/store"
	"github.com/oliveagle/jsonpath"
)

// SourceOverride marks a SKU taken from the override table
const SourceOverride = "override"

type candidate struct {
	field string
	path  *jsonpath.Compiled
}

// SKUResolver derives an item's SKU from an ordered list of candidate fields.
// A candidate is an item field name, a custom field name, or a JSONPath
// expression evaluated over the item document.
type SKUResolver struct {
	candidates []candidate
	needsDoc   bool
}

// NewSKUResolver compiles the candidate list
func NewSKUResolver(fields []string) (*SKUResolver, error) {
	r := &SKUResolver{}
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		c := candidate{field: f}
		if strings.HasPrefix(f, "$") {
			pattern, err := jsonpath.Compile(f)
			if err != nil {
				return nil, fmt.Errorf("invalid JSONPath expression '%s': %w", f, err)
			}
			c.path = pattern
			r.needsDoc = true
		}
		r.candidates = append(r.candidates, c)
	}
	if len(r.candidates) == 0 {
		return nil, fmt.Errorf("at least one SKU candidate field is required")
	}
	return r, nil
}

// Resolve returns the normalized SKU of item and where it came from. The
// override table is consulted first.
func (r *SKUResolver) Resolve(item model.InventoryItem, overrides *store.OverrideTable) (string, string) {
	if sku, ok := overrides.Lookup(item); ok {
		return sku, SourceOverride
	}

	var doc interface{}
	if r.needsDoc {
		doc = itemDocument(item)
	}
	for _, c := range r.candidates {
		var value string
		if c.path != nil {
			value = lookupPath(c.path, doc)
		} else {
			value = fieldValue(item, c.field)
		}
		if sku := model.NormalizeSKU(value); sku != "" {
			return sku, c.field
		}
	}
	return "", ""
}

// ItemIndex maps SKUs to accounting items
type ItemIndex struct {
	bySKU      map[string]model.InventoryItem
	duplicates map[string][]model.InventoryItem
}

// BuildIndex resolves every item. SKUs claimed by more than one item are
// ambiguous and kept apart so that neither item is matched.
func (r *SKUResolver) BuildIndex(items []model.InventoryItem, overrides *store.OverrideTable) *ItemIndex {
	idx := &ItemIndex{
		bySKU:      make(map[string]model.InventoryItem, len(items)),
		duplicates: make(map[string][]model.InventoryItem),
	}
	for _, item := range items {
		sku, _ := r.Resolve(item, overrides)
		if sku == "" {
			continue
		}
		if dups, ok := idx.duplicates[sku]; ok {
			idx.duplicates[sku] = append(dups, item)
			continue
		}
		if prev, ok := idx.bySKU[sku]; ok {
			idx.duplicates[sku] = []model.InventoryItem{prev, item}
			delete(idx.bySKU, sku)
			continue
		}
		idx.bySKU[sku] = item
	}
	return idx
}

// Lookup returns the item for sku. ambiguous is set when several items share it.
func (idx *ItemIndex) Lookup(sku string) (item model.InventoryItem, found bool, ambiguous bool) {
	sku = model.NormalizeSKU(sku)
	if _, ok := idx.duplicates[sku]; ok {
		return model.InventoryItem{}, false, true
	}
	item, found = idx.bySKU[sku]
	return item, found, false
}

// DuplicateSKUs lists the ambiguous SKUs in sorted order
func (idx *ItemIndex) DuplicateSKUs() []string {
	skus := make([]string, 0, len(idx.duplicates))
	for sku := range idx.duplicates {
		skus = append(skus, sku)
	}
	sort.Strings(skus)
	return skus
}

func fieldValue(item model.InventoryItem, field string) string {
	switch field {
	case "ListID":
		return item.ListID
	case "Name":
		return item.Name
	case "FullName":
		return item.FullName
	case "BarCodeValue":
		return item.BarCodeValue
	case "ManufacturerPartNumber":
		return item.ManufacturerPartNumber
	case "SalesDesc":
		return item.SalesDesc
	}
	if v, ok := item.CustomFields[field]; ok {
		return v
	}
	for k, v := range item.CustomFields {
		if strings.EqualFold(k, field) {
			return v
		}
	}
	return ""
}

func itemDocument(item model.InventoryItem) interface{} {
	data, err := json.Marshal(item)
	if err != nil {
		return nil
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return doc
}

func lookupPath(pattern *jsonpath.Compiled, doc interface{}) string {
	if doc == nil {
		return ""
	}
	value, err := pattern.Lookup(doc)
	if err != nil {
		return ""
	}
	return coerceToString(value)
}

// coerceToString renders a JSONPath result; lists yield their first non-empty element
func coerceToString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
	case []interface{}:
		for _, e := range v {
			if s := coerceToString(e); strings.TrimSpace(s) != "" {
				return s
			}
		}
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
