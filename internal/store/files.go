// Package store persists the sync engine's durable state in a single data
// directory: the job queue and current-job slot, the inventory snapshot, the
// identity map, pending adjustments, SKU overrides and audit records.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// File names inside the data directory
const (
	FileJobs             = "jobs.json"
	FileCurrentJob       = "current-job.json"
	FileJobsLock         = "jobs.lock"
	FileSnapshot         = "inventory-snapshot.json"
	FileSnapshotRaw      = "last-inventory-response.xml"
	FileLastResponse     = "last-response.xml"
	FileOverrides        = "sku-overrides.yaml"
	FileIdentityMap      = "identity-map.json"
	FilePending          = "pending-adjustments.json"
	FileInboundCursor    = "inbound-cursor.json"
	FileOutboundPlan     = "last-outbound-plan.json"
	FileOutboundResult   = "last-outbound-result.json"
	FileInboundPlan      = "last-inbound-plan.json"
	backupSuffix         = ".bak"
	defaultDirPermission = 0o755
	defaultFilePerm      = 0o644
)

// Dir is the configured data directory
type Dir struct {
	root string
}

// OpenDir creates the directory when missing
func OpenDir(root string) (*Dir, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("store: data directory is required")
	}
	if err := os.MkdirAll(root, defaultDirPermission); err != nil {
		return nil, fmt.Errorf("store: create data directory: %w", err)
	}
	return &Dir{root: root}, nil
}

// Root returns the directory path
func (d *Dir) Root() string {
	return d.root
}

// Path joins a file name onto the data directory
func (d *Dir) Path(name string) string {
	return filepath.Join(d.root, name)
}

// WriteFileAtomic writes data to a temp file and renames it over the target.
// With backup set, the same bytes are also written to a secondary copy.
func (d *Dir) WriteFileAtomic(name string, data []byte, backup bool) error {
	target := d.Path(name)
	tmp := fmt.Sprintf("%s.%s.tmp", target, uuid.NewString()[:8])

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, defaultFilePerm)
	if err != nil {
		return fmt.Errorf("store: create temp file for %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("store: write %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("store: sync %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: close %s: %w", name, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: rename %s: %w", name, err)
	}

	if backup {
		if err := os.WriteFile(target+backupSuffix, data, defaultFilePerm); err != nil {
			// the primary copy is already durable
			slog.Warn("Failed to write backup copy", "file", name, "error", err)
		}
	}
	return nil
}

// WriteJSON marshals v and writes it atomically
func (d *Dir) WriteJSON(name string, v any, backup bool) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", name, err)
	}
	return d.WriteFileAtomic(name, append(data, '\n'), backup)
}

// ReadJSON decodes the named file into v. A missing file leaves v untouched and
// reports found=false. An unreadable or corrupt primary falls back to the backup copy.
func (d *Dir) ReadJSON(name string, v any) (found bool, err error) {
	data, err := os.ReadFile(d.Path(name))
	if err == nil {
		if err = json.Unmarshal(data, v); err == nil {
			return true, nil
		}
		slog.Warn("Primary copy is corrupt, trying backup", "file", name, "error", err)
	} else if !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to read primary copy, trying backup", "file", name, "error", err)
	}

	backupData, backupErr := os.ReadFile(d.Path(name) + backupSuffix)
	if backupErr != nil {
		if errors.Is(err, os.ErrNotExist) && errors.Is(backupErr, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("store: read %s: %w", name, err)
	}
	if jsonErr := json.Unmarshal(backupData, v); jsonErr != nil {
		return false, fmt.Errorf("store: decode backup of %s: %w", name, jsonErr)
	}
	slog.Info("Recovered state from backup copy", "file", name)
	return true, nil
}

// ReadFile returns the raw bytes of the named file
func (d *Dir) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(d.Path(name))
}

// Remove deletes the named file and its backup, ignoring missing files
func (d *Dir) Remove(name string) error {
	for _, p := range []string{d.Path(name), d.Path(name) + backupSuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("store: remove %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}
