package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SettingsSchemaVersion is the current settings schema version.
const SettingsSchemaVersion = 1

const settingsSchemaV1 = `
-- Per-popup frequency rules, one row per (popup, kind)
CREATE TABLE IF NOT EXISTS frequency_rules (
    popup_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    value REAL NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    priority INTEGER NOT NULL DEFAULT 0,
    conditions TEXT,  -- JSON
    created_at TEXT NOT NULL,
    PRIMARY KEY (popup_id, kind)
);

-- Per-visitor overrides; NULL means no override
CREATE TABLE IF NOT EXISTS visitor_preferences (
    visitor_id TEXT PRIMARY KEY,
    max_per_day INTEGER,
    max_per_session INTEGER,
    cooldown_seconds INTEGER,
    opted_out INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL
);

-- Visitors flagged by an external blocker signal
CREATE TABLE IF NOT EXISTS visitor_blockers (
    visitor_id TEXT PRIMARY KEY,
    flagged_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// InitSettingsSchema creates the settings tables if they do not exist.
func InitSettingsSchema(ctx context.Context, db *sql.DB) error {
	var version sql.NullInt64
	err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version)
	if err == nil && version.Valid {
		if version.Int64 > SettingsSchemaVersion {
			return fmt.Errorf("settings schema version %d is newer than supported version %d", version.Int64, SettingsSchemaVersion)
		}
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, settingsSchemaV1); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`,
		SettingsSchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return tx.Commit()
}
