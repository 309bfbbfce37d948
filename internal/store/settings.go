package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nvandessel/popgate/internal/models"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteSettings persists engine settings (rules, preferences, blocker flags)
// in a SQLite database. Show history is never written here.
type SQLiteSettings struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteSettings opens or creates the settings database at dbPath.
// Use ":memory:" for a throwaway database.
func NewSQLiteSettings(dbPath string) (*SQLiteSettings, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create settings directory: %w", err)
		}
		dsn = dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with single writer
	db.SetMaxOpenConns(1)

	if err := InitSettingsSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteSettings{db: db, dbPath: dbPath}, nil
}

// Path returns the database path the store was opened with.
func (s *SQLiteSettings) Path() string {
	return s.dbPath
}

// PutRule inserts or replaces one rule.
func (s *SQLiteSettings) PutRule(ctx context.Context, rule models.FrequencyRule) error {
	return putRule(ctx, s.db, rule)
}

// DeleteRule removes the rule for (popupID, kind). Missing rules are ignored.
func (s *SQLiteSettings) DeleteRule(ctx context.Context, popupID string, kind models.RuleKind) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM frequency_rules WHERE popup_id = ? AND kind = ?`, popupID, string(kind)); err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return nil
}

// PutPreferences inserts or replaces the preferences of one visitor.
// Zero preferences delete the row.
func (s *SQLiteSettings) PutPreferences(ctx context.Context, visitorID string, prefs models.Preferences) error {
	return putPreferences(ctx, s.db, visitorID, prefs)
}

// SetBlocker records or clears the blocker flag of one visitor.
func (s *SQLiteSettings) SetBlocker(ctx context.Context, visitorID string, blocker bool) error {
	var err error
	if blocker {
		_, err = s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO visitor_blockers (visitor_id, flagged_at) VALUES (?, ?)`,
			visitorID, time.Now().UTC().Format(time.RFC3339))
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM visitor_blockers WHERE visitor_id = ?`, visitorID)
	}
	if err != nil {
		return fmt.Errorf("failed to update blocker flag: %w", err)
	}
	return nil
}

// Save replaces every stored setting with the contents of snap in one transaction.
func (s *SQLiteSettings) Save(ctx context.Context, snap *models.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"frequency_rules", "visitor_preferences", "visitor_blockers"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, rule := range snap.Rules {
		if err := putRule(ctx, tx, rule); err != nil {
			return err
		}
	}
	for visitorID, prefs := range snap.Preferences {
		if err := putPreferences(ctx, tx, visitorID, prefs); err != nil {
			return err
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, visitorID := range snap.Blockers {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO visitor_blockers (visitor_id, flagged_at) VALUES (?, ?)`,
			visitorID, now); err != nil {
			return fmt.Errorf("failed to save blocker %s: %w", visitorID, err)
		}
	}

	return tx.Commit()
}

// Load reads every stored setting into a new snapshot.
func (s *SQLiteSettings) Load(ctx context.Context) (*models.Snapshot, error) {
	snap := &models.Snapshot{
		ID:          uuid.NewString(),
		Version:     models.SnapshotVersion,
		ExportedAt:  time.Now().UTC(),
		Rules:       []models.FrequencyRule{},
		Preferences: make(map[string]models.Preferences),
	}

	rules, err := s.Rules(ctx)
	if err != nil {
		return nil, err
	}
	snap.Rules = rules

	prefs, err := s.preferences(ctx)
	if err != nil {
		return nil, err
	}
	snap.Preferences = prefs

	blockers, err := s.blockers(ctx)
	if err != nil {
		return nil, err
	}
	snap.Blockers = blockers

	return snap, nil
}

// Rules returns every stored rule ordered by popup, then priority descending.
func (s *SQLiteSettings) Rules(ctx context.Context) ([]models.FrequencyRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT popup_id, kind, value, enabled, priority, conditions, created_at
		FROM frequency_rules`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	rules := []models.FrequencyRule{}
	for rows.Next() {
		var (
			rule       models.FrequencyRule
			kind       string
			enabled    int
			conditions sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&rule.PopupID, &kind, &rule.Value, &enabled, &rule.Priority, &conditions, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rule.Kind = models.RuleKind(kind)
		rule.Enabled = enabled != 0
		if conditions.Valid && conditions.String != "" {
			if err := json.Unmarshal([]byte(conditions.String), &rule.Conditions); err != nil {
				return nil, fmt.Errorf("failed to decode conditions for %s/%s: %w", rule.PopupID, kind, err)
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			rule.CreatedAt = t
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}

	sort.Slice(rules, func(i, j int) bool {
		if rules[i].PopupID != rules[j].PopupID {
			return rules[i].PopupID < rules[j].PopupID
		}
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].Kind < rules[j].Kind
	})
	return rules, nil
}

func (s *SQLiteSettings) preferences(ctx context.Context) (map[string]models.Preferences, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT visitor_id, max_per_day, max_per_session, cooldown_seconds, opted_out
		FROM visitor_preferences`)
	if err != nil {
		return nil, fmt.Errorf("failed to query preferences: %w", err)
	}
	defer rows.Close()

	prefs := make(map[string]models.Preferences)
	for rows.Next() {
		var (
			visitorID                      string
			maxPerDay, maxPerSession, cool sql.NullInt64
			optedOut                       int
		)
		if err := rows.Scan(&visitorID, &maxPerDay, &maxPerSession, &cool, &optedOut); err != nil {
			return nil, fmt.Errorf("failed to scan preferences: %w", err)
		}
		prefs[visitorID] = models.Preferences{
			MaxPerDay:       nullIntPtr(maxPerDay),
			MaxPerSession:   nullIntPtr(maxPerSession),
			CooldownSeconds: nullIntPtr(cool),
			OptedOut:        optedOut != 0,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read preferences: %w", err)
	}
	return prefs, nil
}

func (s *SQLiteSettings) blockers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT visitor_id FROM visitor_blockers ORDER BY visitor_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query blockers: %w", err)
	}
	defer rows.Close()

	var blockers []string
	for rows.Next() {
		var visitorID string
		if err := rows.Scan(&visitorID); err != nil {
			return nil, fmt.Errorf("failed to scan blocker: %w", err)
		}
		blockers = append(blockers, visitorID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read blockers: %w", err)
	}
	return blockers, nil
}

// Close closes the database.
func (s *SQLiteSettings) Close() error {
	return s.db.Close()
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putRule(ctx context.Context, db execer, rule models.FrequencyRule) error {
	var conditions sql.NullString
	if len(rule.Conditions) > 0 {
		data, err := json.Marshal(rule.Conditions)
		if err != nil {
			return fmt.Errorf("failed to encode conditions: %w", err)
		}
		conditions = sql.NullString{String: string(data), Valid: true}
	}
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := db.ExecContext(ctx, `
		INSERT OR REPLACE INTO frequency_rules (popup_id, kind, value, enabled, priority, conditions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rule.PopupID, string(rule.Kind), rule.Value, boolInt(rule.Enabled), rule.Priority, conditions,
		createdAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save rule %s/%s: %w", rule.PopupID, rule.Kind, err)
	}
	return nil
}

func putPreferences(ctx context.Context, db execer, visitorID string, prefs models.Preferences) error {
	if prefs.IsZero() {
		if _, err := db.ExecContext(ctx, `DELETE FROM visitor_preferences WHERE visitor_id = ?`, visitorID); err != nil {
			return fmt.Errorf("failed to clear preferences for %s: %w", visitorID, err)
		}
		return nil
	}

	_, err := db.ExecContext(ctx, `
		INSERT OR REPLACE INTO visitor_preferences (visitor_id, max_per_day, max_per_session, cooldown_seconds, opted_out, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, visitorID, intPtrNull(prefs.MaxPerDay), intPtrNull(prefs.MaxPerSession), intPtrNull(prefs.CooldownSeconds),
		boolInt(prefs.OptedOut), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save preferences for %s: %w", visitorID, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intPtrNull(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	return models.IntPtr(int(n.Int64))
}
