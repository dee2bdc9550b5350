package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dandantas/stocksync/internal/model"
)

// Endpoint names used for spans, metrics and errors
const (
	EndpointVariantBySKU        = "variant_by_sku"
	EndpointVariantByInventory  = "variant_by_inventory_item"
	EndpointInventoryItem       = "inventory_item"
	EndpointInventoryLevels     = "inventory_levels"
	EndpointSetInventoryLevel   = "set_inventory_level"
	EndpointLocations           = "locations"
	defaultLevelsPageSize       = 250
	maxLevelPages               = 1000
	linkRelNext                 = `rel="next"`
	pageInfoParam               = "page_info"
	inventoryLevelsResourcePath = "/inventory_levels.json"
)

// ID is a platform id. It decodes from a JSON number or string and encodes
// as a number when it is numeric.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// String returns the id text
func (id ID) String() string {
	return string(id)
}

// Variant is a product variant
type Variant struct {
	ID                ID     `json:"id"`
	ProductID         ID     `json:"product_id,omitempty"`
	SKU               string `json:"sku"`
	Title             string `json:"title,omitempty"`
	InventoryItemID   ID     `json:"inventory_item_id"`
	InventoryQuantity int64  `json:"inventory_quantity"`
}

// InventoryItem is the stock-keeping record behind a variant
type InventoryItem struct {
	ID        ID        `json:"id"`
	SKU       string    `json:"sku"`
	Tracked   bool      `json:"tracked"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InventoryLevel is the available quantity of an item at a location
type InventoryLevel struct {
	InventoryItemID ID        `json:"inventory_item_id"`
	LocationID      ID        `json:"location_id"`
	Available       *int64    `json:"available"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Location is a stock location
type Location struct {
	ID     ID     `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// LevelQuery filters an inventory level listing. PageInfo, when set,
// continues a previous listing and the other filters are ignored.
type LevelQuery struct {
	LocationIDs      []string
	InventoryItemIDs []string
	UpdatedAtMin     time.Time
	Limit            int
	PageInfo         string
}

// LevelPage is one page of inventory levels
type LevelPage struct {
	Levels       []InventoryLevel
	NextPageInfo string
}

// IsNotFound reports a 404 answer
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// VariantBySKU returns the variant whose SKU matches sku, or nil
func (c *Client) VariantBySKU(ctx context.Context, sku string) (*Variant, error) {
	query := url.Values{"sku": {sku}, "fields": {"id,product_id,sku,title,inventory_item_id,inventory_quantity"}}
	resp, err := c.call(ctx, EndpointVariantBySKU, http.MethodGet, "/variants.json", query, nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Variants []Variant `json:"variants"`
	}
	if err := decodeBody(resp, &out); err != nil {
		return nil, err
	}
	want := model.NormalizeSKU(sku)
	for i := range out.Variants {
		if model.NormalizeSKU(out.Variants[i].SKU) == want {
			return &out.Variants[i], nil
		}
	}
	return nil, nil
}

// VariantByInventoryItemID returns the variant backed by an inventory item, or nil
func (c *Client) VariantByInventoryItemID(ctx context.Context, inventoryItemID string) (*Variant, error) {
	query := url.Values{"inventory_item_id": {numericID(inventoryItemID)}}
	resp, err := c.call(ctx, EndpointVariantByInventory, http.MethodGet, "/variants.json", query, nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Variants []Variant `json:"variants"`
	}
	if err := decodeBody(resp, &out); err != nil {
		return nil, err
	}
	want := model.NormalizeInventoryID(inventoryItemID)
	for i := range out.Variants {
		if model.NormalizeInventoryID(out.Variants[i].InventoryItemID.String()) == want {
			return &out.Variants[i], nil
		}
	}
	return nil, nil
}

// InventoryItemByID returns an inventory item, or nil when it does not exist
func (c *Client) InventoryItemByID(ctx context.Context, inventoryItemID string) (*InventoryItem, error) {
	path := "/inventory_items/" + url.PathEscape(numericID(inventoryItemID)) + ".json"
	resp, err := c.call(ctx, EndpointInventoryItem, http.MethodGet, path, nil, nil)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var out struct {
		InventoryItem *InventoryItem `json:"inventory_item"`
	}
	if err := decodeBody(resp, &out); err != nil {
		return nil, err
	}
	return out.InventoryItem, nil
}

// InventoryLevels lists one page of inventory levels
func (c *Client) InventoryLevels(ctx context.Context, q LevelQuery) (*LevelPage, error) {
	limit := q.Limit
	if limit <= 0 || limit > defaultLevelsPageSize {
		limit = defaultLevelsPageSize
	}

	query := url.Values{"limit": {strconv.Itoa(limit)}}
	if q.PageInfo != "" {
		query.Set(pageInfoParam, q.PageInfo)
	} else {
		if len(q.LocationIDs) > 0 {
			query.Set("location_ids", strings.Join(q.LocationIDs, ","))
		}
		if len(q.InventoryItemIDs) > 0 {
			query.Set("inventory_item_ids", strings.Join(q.InventoryItemIDs, ","))
		}
		if !q.UpdatedAtMin.IsZero() {
			query.Set("updated_at_min", q.UpdatedAtMin.UTC().Format(time.RFC3339))
		}
	}

	resp, err := c.call(ctx, EndpointInventoryLevels, http.MethodGet, inventoryLevelsResourcePath, query, nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		InventoryLevels []InventoryLevel `json:"inventory_levels"`
	}
	if err := decodeBody(resp, &out); err != nil {
		return nil, err
	}
	return &LevelPage{
		Levels:       out.InventoryLevels,
		NextPageInfo: NextPageInfo(resp.Header.Get("Link")),
	}, nil
}

// InventoryLevelsSince follows pagination until every level updated since
// the given time at the given locations has been read
func (c *Client) InventoryLevelsSince(ctx context.Context, locationIDs []string, since time.Time) ([]InventoryLevel, error) {
	q := LevelQuery{LocationIDs: locationIDs, UpdatedAtMin: since}
	var all []InventoryLevel
	for page := 0; page < maxLevelPages; page++ {
		res, err := c.InventoryLevels(ctx, q)
		if err != nil {
			return all, err
		}
		all = append(all, res.Levels...)
		if res.NextPageInfo == "" {
			return all, nil
		}
		q = LevelQuery{PageInfo: res.NextPageInfo, Limit: q.Limit}
	}
	return all, fmt.Errorf("commerce: inventory level listing exceeded %d pages", maxLevelPages)
}

// SetInventoryLevel sets the absolute available quantity of an item at a location
func (c *Client) SetInventoryLevel(ctx context.Context, locationID, inventoryItemID string, available int64) (*InventoryLevel, error) {
	payload := struct {
		LocationID      ID    `json:"location_id"`
		InventoryItemID ID    `json:"inventory_item_id"`
		Available       int64 `json:"available"`
	}{ID(locationID), ID(inventoryItemID), available}

	resp, err := c.call(ctx, EndpointSetInventoryLevel, http.MethodPost, "/inventory_levels/set.json", nil, payload)
	if err != nil {
		return nil, err
	}

	var out struct {
		InventoryLevel *InventoryLevel `json:"inventory_level"`
	}
	if err := decodeBody(resp, &out); err != nil {
		return nil, err
	}
	return out.InventoryLevel, nil
}

// Locations lists the store's locations
func (c *Client) Locations(ctx context.Context) ([]Location, error) {
	resp, err := c.call(ctx, EndpointLocations, http.MethodGet, "/locations.json", nil, nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Locations []Location `json:"locations"`
	}
	if err := decodeBody(resp, &out); err != nil {
		return nil, err
	}
	return out.Locations, nil
}

// NextPageInfo extracts the page_info cursor of the rel="next" entry of a Link header
func NextPageInfo(link string) string {
	for _, part := range strings.Split(link, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		isNext := false
		for _, param := range segments[1:] {
			if strings.EqualFold(strings.ReplaceAll(strings.TrimSpace(param), " ", ""), linkRelNext) {
				isNext = true
				break
			}
		}
		if !isNext {
			continue
		}

		raw := strings.TrimSpace(segments[0])
		raw = strings.TrimPrefix(raw, "<")
		raw = strings.TrimSuffix(raw, ">")
		u, err := url.Parse(raw)
		if err != nil {
			return ""
		}
		return u.Query().Get(pageInfoParam)
	}
	return ""
}

// numericID strips a global id down to its numeric tail when it has one
func numericID(id string) string {
	if n := model.NormalizeInventoryID(id); n != "" {
		return n
	}
	return id
}

func decodeBody(resp *response, v any) error {
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("commerce: decode response: %w", err)
	}
	return nil
}
