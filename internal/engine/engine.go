// Package engine decides whether a popup may be shown to a visitor, records
// shows and reactions, and adapts per-visitor caps from observed behavior.
//
// The engine is in-memory only and performs no I/O. Operations touching the
// same visitor are serialized; operations on different visitors run in
// parallel. All public methods are safe for concurrent use.
package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nvandessel/popgate/internal/models"
	"github.com/nvandessel/popgate/internal/rules"
	"github.com/nvandessel/popgate/internal/session"
	"github.com/nvandessel/popgate/internal/store"
)

// Engine is the popup admission engine.
type Engine struct {
	cfg Config

	rules    *rules.Registry
	visitors *store.Sharded[models.VisitorRecord]
	profiles *store.Sharded[models.BehaviorProfile]
	sessions *session.State
	days     *session.DayCounters
	locks    *store.KeyLock

	pageRules []PageRule
	nowFunc   func() time.Time
	rng       Rand

	healed atomic.Int64
}

// New creates an engine from cfg.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	visitors, err := store.NewSharded(cfg.Shards, cfg.MaxVisitors, models.NewVisitorRecord)
	if err != nil {
		return nil, fmt.Errorf("creating visitor store: %w", err)
	}
	profiles, err := store.NewSharded(cfg.Shards, cfg.MaxVisitors, models.NewBehaviorProfile)
	if err != nil {
		return nil, fmt.Errorf("creating profile store: %w", err)
	}
	sessions, err := session.NewState(session.Config{Shards: cfg.Shards, MaxSessions: cfg.MaxSessions})
	if err != nil {
		return nil, err
	}
	days, err := session.NewDayCounters()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		rules:    rules.NewRegistry(),
		visitors: visitors,
		profiles: profiles,
		sessions: sessions,
		days:     days,
		locks:    store.NewKeyLock(),
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = NewRand(uint64(time.Now().UnixNano()))
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Stats describes the engine's in-memory footprint.
type Stats struct {
	Visitors int   `json:"visitors"`
	Profiles int   `json:"profiles"`
	Sessions int   `json:"sessions"`
	Rules    int   `json:"rules"`
	Healed   int64 `json:"healed"`
}

// Stats returns current store sizes and the number of over-capacity
// sequences repaired on read since start.
func (e *Engine) Stats() Stats {
	return Stats{
		Visitors: e.visitors.Len(),
		Profiles: e.profiles.Len(),
		Sessions: e.sessions.Len(),
		Rules:    e.rules.Len(),
		Healed:   e.healed.Load(),
	}
}

// Session returns a copy of the session record, or nil if unknown.
func (e *Engine) Session(sessionID string) *models.SessionRecord {
	return e.sessions.Get(sessionID)
}

// Visitor returns a copy of the visitor record, or nil if unknown.
func (e *Engine) Visitor(visitorID string) *models.VisitorRecord {
	var out *models.VisitorRecord
	e.visitors.View(visitorID, func(v *models.VisitorRecord) {
		out = v.Clone()
	})
	return out
}

// Profile returns a copy of the visitor's behavior profile, or nil if unknown.
func (e *Engine) Profile(visitorID string) *models.BehaviorProfile {
	var out *models.BehaviorProfile
	e.profiles.View(visitorID, func(p *models.BehaviorProfile) {
		out = p.Clone()
	})
	return out
}

// GlobalShownToday returns how many times popupID was shown on the UTC day
// containing at, across all visitors.
func (e *Engine) GlobalShownToday(popupID string, at time.Time) int {
	return e.days.Count(popupID, e.at(at))
}

func (e *Engine) at(t time.Time) time.Time {
	if t.IsZero() {
		return e.nowFunc()
	}
	return t
}

// loadVisitor returns a private copy of the visitor's record and profile,
// creating both on first contact and repairing over-capacity sequences.
// The caller must hold the visitor lock.
func (e *Engine) loadVisitor(visitorID string) (*models.VisitorRecord, *models.BehaviorProfile) {
	var rec *models.VisitorRecord
	e.visitors.Update(visitorID, func(v *models.VisitorRecord) {
		if v.Normalize() {
			e.healed.Add(1)
		}
		rec = v.Clone()
	})

	var prof *models.BehaviorProfile
	e.profiles.Update(visitorID, func(p *models.BehaviorProfile) {
		if p.Normalize() {
			e.healed.Add(1)
		}
		prof = p.Clone()
	})
	return rec, prof
}

func requireID(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", models.ErrInvalidArgument, name)
	}
	return nil
}

func requireIDs(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if err := requireID(pairs[i], pairs[i+1]); err != nil {
			return err
		}
	}
	return nil
}
