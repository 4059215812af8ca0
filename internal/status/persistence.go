package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

//go:generate mockgen -destination=mocks/mock_snapshot_persistence.go -package=mocks -source=persistence.go SnapshotPersistence

const (
	// SnapshotFileName is the name of the snapshot file
	SnapshotFileName = "status.json"
)

// SnapshotPersistence defines the interface for data source snapshot persistence
type SnapshotPersistence interface {
	// SaveSnapshot stores the snapshot of the named orchestrator
	SaveSnapshot(ctx context.Context, name string, snapshot *Snapshot) error

	// LoadSnapshot loads the snapshot of the named orchestrator.
	// Returns an empty Snapshot if nothing was saved yet.
	LoadSnapshot(ctx context.Context, name string) (*Snapshot, error)

	// LoadAllSnapshots loads every stored snapshot keyed by name
	LoadAllSnapshots(ctx context.Context) (map[string]*Snapshot, error)
}

// fileSnapshotPersistence implements SnapshotPersistence on the local filesystem
type fileSnapshotPersistence struct {
	basePath string
}

// NewFileSnapshotPersistence creates a file-based snapshot persistence rooted at basePath
func NewFileSnapshotPersistence(basePath string) SnapshotPersistence {
	return &fileSnapshotPersistence{
		basePath: basePath,
	}
}

// SaveSnapshot writes the snapshot to <basePath>/<name>/status.json
func (f *fileSnapshotPersistence) SaveSnapshot(_ context.Context, name string, snapshot *Snapshot) error {
	dir := filepath.Join(f.basePath, name)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create status directory for '%s': %w", name, err)
	}

	filePath := filepath.Join(dir, SnapshotFileName)

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot for '%s': %w", name, err)
	}

	// Write to temporary file first for atomic operation
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary snapshot file for '%s': %w", name, err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename snapshot file for '%s': %w", name, err)
	}

	return nil
}

// LoadSnapshot reads the snapshot of the named orchestrator
func (f *fileSnapshotPersistence) LoadSnapshot(_ context.Context, name string) (*Snapshot, error) {
	filePath := filepath.Join(f.basePath, name, SnapshotFileName)

	// #nosec G304 -- filePath is built from the configured state directory
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Snapshot{Sources: map[string]SourceSnapshot{}}, nil
		}
		return nil, fmt.Errorf("failed to read snapshot file for '%s': %w", name, err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot for '%s': %w", name, err)
	}
	if snapshot.Sources == nil {
		snapshot.Sources = map[string]SourceSnapshot{}
	}

	return &snapshot, nil
}

// LoadAllSnapshots loads every snapshot found under the base path
func (f *fileSnapshotPersistence) LoadAllSnapshots(ctx context.Context) (map[string]*Snapshot, error) {
	result := make(map[string]*Snapshot)

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, fmt.Errorf("failed to read status directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		snapshot, err := f.LoadSnapshot(ctx, entry.Name())
		if err != nil {
			// Skip unreadable snapshots so the others are still returned
			slog.Warn("Failed to load snapshot", "name", entry.Name(), "error", err)
			continue
		}
		result[entry.Name()] = snapshot
	}

	return result, nil
}
