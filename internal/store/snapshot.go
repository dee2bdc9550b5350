package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dandantas/stocksync/internal/model"
)

// SnapshotStore persists the latest inventory query result and the raw
// response it was parsed from
type SnapshotStore struct {
	dir *Dir
	mu  sync.RWMutex
}

// NewSnapshotStore creates a snapshot store in dir
func NewSnapshotStore(dir *Dir) *SnapshotStore {
	return &SnapshotStore{dir: dir}
}

// Digest hashes the unfiltered items so unchanged snapshots can be detected
func Digest(items []model.InventoryItem) string {
	data, err := json.Marshal(items)
	if err != nil {
		return ""
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}

// Save writes the raw response and the derived snapshot. The digest is
// computed when the caller left it empty.
func (s *SnapshotStore) Save(snapshot *model.InventorySnapshot, rawXML string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snapshot.Digest == "" {
		snapshot.Digest = Digest(snapshot.Items)
	}
	if rawXML != "" {
		if err := s.dir.WriteFileAtomic(FileSnapshotRaw, []byte(rawXML), false); err != nil {
			return err
		}
	}
	if err := s.dir.WriteJSON(FileSnapshot, snapshot, true); err != nil {
		return fmt.Errorf("store: save snapshot: %w", err)
	}

	slog.Info("Inventory snapshot saved",
		"items", len(snapshot.Items),
		"filtered_items", len(snapshot.FilteredItems),
		"digest", snapshot.Digest,
	)
	return nil
}

// Load returns the saved snapshot, or an empty one when none exists or it
// cannot be read
func (s *SnapshotStore) Load() *model.InventorySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := &model.InventorySnapshot{}
	if _, err := s.dir.ReadJSON(FileSnapshot, snapshot); err != nil {
		slog.Error("Failed to load inventory snapshot", "error", err)
		return &model.InventorySnapshot{}
	}
	return snapshot
}

// SaveLastResponse keeps the most recent raw response of any job type
func (s *SnapshotStore) SaveLastResponse(rawXML string) error {
	return s.dir.WriteFileAtomic(FileLastResponse, []byte(rawXML), false)
}
