// Package session tracks per-session popup shows and the global per-day
// show counters used by the admission engine.
//
// All public methods are safe for concurrent use.
package session

import (
	"fmt"
	"time"

	"github.com/nvandessel/popgate/internal/models"
	"github.com/nvandessel/popgate/internal/store"
)

// Config holds session store sizing.
type Config struct {
	// Shards is the number of independently locked shards. Default: 32.
	Shards int

	// MaxSessions bounds the number of sessions held in memory. The least
	// recently updated session is evicted first. Default: 1,000,000.
	MaxSessions int
}

// State holds one SessionRecord per session id.
type State struct {
	sessions *store.Sharded[models.SessionRecord]
}

// NewState creates a session store.
func NewState(cfg Config) (*State, error) {
	sessions, err := store.NewSharded(cfg.Shards, cfg.MaxSessions, func(id string) *models.SessionRecord {
		return &models.SessionRecord{SessionID: id}
	})
	if err != nil {
		return nil, fmt.Errorf("creating session store: %w", err)
	}
	return &State{sessions: sessions}, nil
}

// RecordShow appends a show to the session, creating the session on first use.
// The session's start time is its first show.
func (s *State) RecordShow(sessionID, popupID string, dc models.DisplayContext, at time.Time) {
	s.sessions.Update(sessionID, func(rec *models.SessionRecord) {
		if rec.StartTime.IsZero() {
			rec.StartTime = at
		}
		rec.Shown = append(rec.Shown, models.SessionShow{
			PopupID:   popupID,
			Timestamp: at,
			Context:   dc.Clone(),
		})
	})
}

// Count returns how many popups were shown in the session.
func (s *State) Count(sessionID string) int {
	n := 0
	s.sessions.View(sessionID, func(rec *models.SessionRecord) {
		n = len(rec.Shown)
	})
	return n
}

// Get returns a copy of the session record, or nil if the session is unknown.
func (s *State) Get(sessionID string) *models.SessionRecord {
	var out *models.SessionRecord
	s.sessions.View(sessionID, func(rec *models.SessionRecord) {
		out = rec.Clone()
	})
	return out
}

// Len returns the number of tracked sessions.
func (s *State) Len() int {
	return s.sessions.Len()
}
