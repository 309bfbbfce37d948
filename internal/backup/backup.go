// Package backup stores engine snapshots on disk. Snapshots are written in a
// compressed, checksummed format (see Write) and pruned by retention policies.
package backup

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/nvandessel/popgate/internal/models"
)

const (
	filePrefix = "popgate-snapshot-"
	fileSuffix = ".pgs"
	timeLayout = "20060102-150405.000"
)

// DefaultDir returns the snapshot directory inside a data directory.
func DefaultDir(dataDir string) string {
	return filepath.Join(dataDir, "snapshots")
}

// GeneratePath returns a timestamped snapshot filename in dir. Names sort
// lexically in creation order.
func GeneratePath(dir string, at time.Time) string {
	return filepath.Join(dir, filePrefix+at.UTC().Format(timeLayout)+fileSuffix)
}

// SaveResult describes a Save call.
type SaveResult struct {
	Path    string   `json:"path"`
	Header  *Header  `json:"header"`
	Deleted []string `json:"deleted,omitempty"`
}

// Save writes snap to a new timestamped file in dir and then applies the
// retention policy. A nil policy keeps every snapshot.
func Save(dir string, snap *models.Snapshot, policy RetentionPolicy) (*SaveResult, error) {
	if snap == nil {
		return nil, fmt.Errorf("snapshot is nil")
	}
	at := snap.ExportedAt
	if at.IsZero() {
		at = time.Now()
	}

	path := GeneratePath(dir, at)
	header, err := Write(path, snap)
	if err != nil {
		return nil, fmt.Errorf("writing snapshot: %w", err)
	}

	result := &SaveResult{Path: path, Header: header}
	if policy == nil {
		return result, nil
	}
	deleted, err := ApplyRetention(dir, policy)
	if err != nil {
		return result, fmt.Errorf("applying retention: %w", err)
	}
	result.Deleted = deleted
	return result, nil
}

// Latest reads the newest snapshot in dir. It returns nil, nil when dir holds
// no snapshots.
func Latest(dir string) (*models.Snapshot, string, error) {
	infos, err := List(dir)
	if err != nil {
		return nil, "", err
	}
	if len(infos) == 0 {
		return nil, "", nil
	}
	snap, err := Read(infos[0].Path)
	if err != nil {
		return nil, infos[0].Path, err
	}
	return snap, infos[0].Path, nil
}
