package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dandantas/stocksync/internal/model"
)

// ErrNoLocation is returned when no location is configured and the store has no active one
var ErrNoLocation = errors.New("reconcile: no active commerce location")

// LocationResolver returns the location both reconcilers work against: the
// configured id, else the first active location of the store.
type LocationResolver struct {
	client     Commerce
	configured string

	mu       sync.Mutex
	resolved string
}

// NewLocationResolver creates a resolver; configured may be empty
func NewLocationResolver(client Commerce, configured string) *LocationResolver {
	return &LocationResolver{client: client, configured: model.NormalizeInventoryID(configured)}
}

// ID returns the location id
func (l *LocationResolver) ID(ctx context.Context) (string, error) {
	if l.configured != "" {
		return l.configured, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.resolved != "" {
		return l.resolved, nil
	}

	locations, err := l.client.Locations(ctx)
	if err != nil {
		return "", fmt.Errorf("list locations: %w", err)
	}
	for _, loc := range locations {
		if loc.Active && loc.ID != "" {
			l.resolved = loc.ID.String()
			slog.Info("Using first active commerce location", "location_id", l.resolved, "name", loc.Name)
			return l.resolved, nil
		}
	}
	return "", ErrNoLocation
}
