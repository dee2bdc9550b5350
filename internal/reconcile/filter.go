// Package reconcile decides what to change on each side of the sync: the
// outbound planner pushes accounting quantities to the commerce platform and
// the inbound reconciler turns commerce level changes into accounting
// adjustments.
package reconcile

import (
	"strings"
	"time"

	"github.com/dandantas/stocksync/internal/model"
)

// FilterField is the item timestamp the day filter looks at
const FilterField = "TimeModified"

var offsetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-07:00",
	"2006-01-02T15:04:05-0700",
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp reads an accounting timestamp. Values without an offset are
// interpreted in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DayWindow returns [start of day, start of next day) around now in loc
func DayWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// FilterToday keeps the items whose TimeModified falls in the current local
// day. Items without a readable timestamp are left out.
func FilterToday(items []model.InventoryItem, now time.Time, loc *time.Location) ([]model.InventoryItem, model.FilterWindow) {
	if loc == nil {
		loc = time.Local
	}
	start, end := DayWindow(now, loc)
	window := model.FilterWindow{
		Start:    start,
		End:      end,
		Timezone: loc.String(),
		Field:    FilterField,
	}

	filtered := make([]model.InventoryItem, 0, len(items))
	for _, item := range items {
		modified, ok := ParseTimestamp(item.TimeModified, loc)
		if !ok {
			continue
		}
		if !modified.Before(start) && modified.Before(end) {
			filtered = append(filtered, item)
		}
	}
	return filtered, window
}
