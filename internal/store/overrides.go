package store

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dandantas/stocksync/internal/model"
	"gopkg.in/yaml.v3"
)

// OverrideTable pins the SKU of accounting items whose fields cannot be
// resolved automatically. Keys are a ListID, FullName or Name.
//
//	items:
//	  "80000001-1234567890": WIDGET-1
//	  "Hardware:Bolt 10mm": BOLT-10
type OverrideTable struct {
	Items map[string]string `yaml:"items"`
}

// Lookup returns the override for item, trying ListID, FullName then Name
func (t *OverrideTable) Lookup(item model.InventoryItem) (string, bool) {
	if t == nil || len(t.Items) == 0 {
		return "", false
	}
	for _, key := range []string{item.ListID, item.FullName, item.Name} {
		if key == "" {
			continue
		}
		if sku, ok := t.Items[key]; ok && strings.TrimSpace(sku) != "" {
			return model.NormalizeSKU(sku), true
		}
	}
	return "", false
}

// LoadOverrides reads the override table. A missing file is an empty table.
func (d *Dir) LoadOverrides() (*OverrideTable, error) {
	data, err := os.ReadFile(d.Path(FileOverrides))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &OverrideTable{}, nil
		}
		return &OverrideTable{}, fmt.Errorf("store: read overrides: %w", err)
	}

	table := &OverrideTable{}
	if err := yaml.Unmarshal(data, table); err != nil {
		return &OverrideTable{}, fmt.Errorf("store: decode overrides: %w", err)
	}
	return table, nil
}

// SaveOverrides writes the override table atomically
func (d *Dir) SaveOverrides(table *OverrideTable) error {
	data, err := yaml.Marshal(table)
	if err != nil {
		return fmt.Errorf("store: encode overrides: %w", err)
	}
	return d.WriteFileAtomic(FileOverrides, data, false)
}
