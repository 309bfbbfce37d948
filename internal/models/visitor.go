package models

import (
	"fmt"
	"time"

	"github.com/nvandessel/popgate/internal/constants"
)

// ShowEvent records one render of a popup to a visitor.
type ShowEvent struct {
	PopupID   string         `json:"popup_id"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Context   DisplayContext `json:"context"`

	// Filled in when the visitor reacts to this show.
	Action          Action     `json:"action,omitempty"`
	ActionTimestamp *time.Time `json:"action_timestamp,omitempty"`
	ResponseTimeMs  *int64     `json:"response_time_ms,omitempty"`
}

// Preferences holds per-visitor overrides of the engine defaults.
// Nil pointers mean "no override".
type Preferences struct {
	MaxPerDay       *int `json:"max_per_day,omitempty" yaml:"max_per_day,omitempty"`
	MaxPerSession   *int `json:"max_per_session,omitempty" yaml:"max_per_session,omitempty"`
	CooldownSeconds *int `json:"cooldown_seconds,omitempty" yaml:"cooldown_seconds,omitempty"`

	// OptedOut denies every popup for the visitor.
	OptedOut bool `json:"opted_out,omitempty" yaml:"opted_out,omitempty"`
}

// IsZero reports whether no override is set.
func (p Preferences) IsZero() bool {
	return p.MaxPerDay == nil && p.MaxPerSession == nil && p.CooldownSeconds == nil && !p.OptedOut
}

// Clone returns a deep copy of p.
func (p Preferences) Clone() Preferences {
	return Preferences{
		MaxPerDay:       cloneInt(p.MaxPerDay),
		MaxPerSession:   cloneInt(p.MaxPerSession),
		CooldownSeconds: cloneInt(p.CooldownSeconds),
		OptedOut:        p.OptedOut,
	}
}

// Validate rejects negative overrides.
func (p Preferences) Validate() error {
	fields := []struct {
		name string
		v    *int
	}{
		{"max_per_day", p.MaxPerDay},
		{"max_per_session", p.MaxPerSession},
		{"cooldown_seconds", p.CooldownSeconds},
	}
	for _, f := range fields {
		if f.v != nil && *f.v < 0 {
			return fmt.Errorf("%w: %s must be non-negative, got %d", ErrInvalidArgument, f.name, *f.v)
		}
	}
	return nil
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// VisitorRecord is the per-visitor show history and preference set.
type VisitorRecord struct {
	VisitorID   string               `json:"visitor_id"`
	TotalShown  int                  `json:"total_shown"`
	History     []ShowEvent          `json:"history"`
	LastSeen    map[string]time.Time `json:"last_seen"`
	Preferences Preferences          `json:"preferences"`
}

// NewVisitorRecord creates an empty record for visitorID.
func NewVisitorRecord(visitorID string) *VisitorRecord {
	return &VisitorRecord{
		VisitorID: visitorID,
		History:   make([]ShowEvent, 0, 8),
		LastSeen:  make(map[string]time.Time),
	}
}

// AppendShow adds ev to the history and trims it. LastSeen for the popup only
// moves forward, so a backdated show never shortens a cooldown.
func (r *VisitorRecord) AppendShow(ev ShowEvent) {
	r.History = append(r.History, ev)
	r.History, _ = trimOldest(r.History, constants.MaxVisitorHistory, constants.VisitorHistoryTrim)
	if r.LastSeen == nil {
		r.LastSeen = make(map[string]time.Time)
	}
	if last, ok := r.LastSeen[ev.PopupID]; !ok || ev.Timestamp.After(last) {
		r.LastSeen[ev.PopupID] = ev.Timestamp
	}
	r.TotalShown++
}

// Normalize re-applies the history cap. It reports whether anything was trimmed.
func (r *VisitorRecord) Normalize() bool {
	var healed bool
	r.History, healed = trimOldest(r.History, constants.MaxVisitorHistory, constants.VisitorHistoryTrim)
	return healed
}

// LatestShowIndex returns the index of the most recent show of popupID, or -1.
func (r *VisitorRecord) LatestShowIndex(popupID string) int {
	for i := len(r.History) - 1; i >= 0; i-- {
		if r.History[i].PopupID == popupID {
			return i
		}
	}
	return -1
}

// LastShown returns the latest show time of any popup in the history.
func (r *VisitorRecord) LastShown() (time.Time, bool) {
	var last time.Time
	for _, ev := range r.History {
		if ev.Timestamp.After(last) {
			last = ev.Timestamp
		}
	}
	return last, len(r.History) > 0
}

// CountSince counts shows at or after since. An empty popupID counts every popup.
func (r *VisitorRecord) CountSince(popupID string, since time.Time) int {
	n := 0
	for _, ev := range r.History {
		if popupID != "" && ev.PopupID != popupID {
			continue
		}
		if !ev.Timestamp.Before(since) {
			n++
		}
	}
	return n
}

// ShowsAfter counts shows of popupID strictly after the given time and
// returns the earliest of them.
func (r *VisitorRecord) ShowsAfter(popupID string, after time.Time) (n int, oldest time.Time) {
	for _, ev := range r.History {
		if ev.PopupID != popupID || !ev.Timestamp.After(after) {
			continue
		}
		if n == 0 || ev.Timestamp.Before(oldest) {
			oldest = ev.Timestamp
		}
		n++
	}
	return n, oldest
}

// Reset clears history and LastSeen for popupID, or everything when popupID is empty.
func (r *VisitorRecord) Reset(popupID string) {
	if popupID == "" {
		r.History = make([]ShowEvent, 0, 8)
		r.LastSeen = make(map[string]time.Time)
		return
	}
	kept := r.History[:0]
	for _, ev := range r.History {
		if ev.PopupID != popupID {
			kept = append(kept, ev)
		}
	}
	r.History = kept
	delete(r.LastSeen, popupID)
}

// Clone returns a deep copy of r.
func (r *VisitorRecord) Clone() *VisitorRecord {
	cp := &VisitorRecord{
		VisitorID:   r.VisitorID,
		TotalShown:  r.TotalShown,
		History:     make([]ShowEvent, len(r.History)),
		LastSeen:    make(map[string]time.Time, len(r.LastSeen)),
		Preferences: r.Preferences.Clone(),
	}
	for i, ev := range r.History {
		ev.Context = ev.Context.Clone()
		if ev.ActionTimestamp != nil {
			ts := *ev.ActionTimestamp
			ev.ActionTimestamp = &ts
		}
		if ev.ResponseTimeMs != nil {
			ms := *ev.ResponseTimeMs
			ev.ResponseTimeMs = &ms
		}
		cp.History[i] = ev
	}
	for k, v := range r.LastSeen {
		cp.LastSeen[k] = v
	}
	return cp
}

// trimOldest cuts s down to its newest keep entries once it grows past max.
// The result never aliases the discarded prefix.
func trimOldest[T any](s []T, max, keep int) ([]T, bool) {
	if len(s) <= max {
		return s, false
	}
	out := make([]T, keep, max)
	copy(out, s[len(s)-keep:])
	return out, true
}
