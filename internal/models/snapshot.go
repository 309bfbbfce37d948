package models

import "time"

// SnapshotVersion is the current snapshot payload version.
const SnapshotVersion = 1

// Snapshot is the portable configuration state of an engine: frequency rules,
// visitor preferences and blocker signals. Show history is not included.
type Snapshot struct {
	ID          string                 `json:"id"`
	Version     int                    `json:"version"`
	ExportedAt  time.Time              `json:"exported_at"`
	Rules       []FrequencyRule        `json:"rules"`
	Preferences map[string]Preferences `json:"preferences"`
	Blockers    []string               `json:"blockers,omitempty"`
}
