package models

import "time"

// SessionShow is one popup render inside a session.
type SessionShow struct {
	PopupID   string         `json:"popup_id"`
	Timestamp time.Time      `json:"timestamp"`
	Context   DisplayContext `json:"context"`
}

// SessionRecord tracks the popups shown during one browsing session.
type SessionRecord struct {
	SessionID string        `json:"session_id"`
	StartTime time.Time     `json:"start_time"`
	Shown     []SessionShow `json:"shown"`
}

// Clone returns a deep copy of s.
func (s *SessionRecord) Clone() *SessionRecord {
	cp := &SessionRecord{
		SessionID: s.SessionID,
		StartTime: s.StartTime,
		Shown:     make([]SessionShow, len(s.Shown)),
	}
	for i, sh := range s.Shown {
		sh.Context = sh.Context.Clone()
		cp.Shown[i] = sh
	}
	return cp
}

// DayCounter counts shows per popup for one UTC calendar day.
type DayCounter struct {
	Day      string         `json:"day"`
	PerPopup map[string]int `json:"per_popup"`
}

// DayKeyLayout formats calendar days used as DayCounter keys.
const DayKeyLayout = "2006-01-02"

// DayKey returns the UTC calendar date of t.
func DayKey(t time.Time) string {
	return t.UTC().Format(DayKeyLayout)
}

// StartOfNextDay returns midnight UTC following t.
func StartOfNextDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// StartOfDay returns midnight UTC of t's calendar day.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
