package models

import "time"

// Check names one step of the admission chain.
type Check string

const (
	CheckGlobalDailyCap  Check = "global_daily_cap"
	CheckVisitorDailyCap Check = "visitor_daily_cap"
	CheckSessionCap      Check = "session_cap"
	CheckCooldown        Check = "cooldown"
	CheckBehavior        Check = "behavior"
	CheckPageRule        Check = "page_rule"
	CheckTimeWindowCap   Check = "time_window_cap"
)

// Decision is the result of one admission evaluation.
type Decision struct {
	Allowed bool `json:"allowed"`

	// Reason and Check are set when Allowed is false.
	Reason string `json:"reason,omitempty"`
	Check  Check  `json:"check,omitempty"`

	// NextAllowedAt is the earliest time the failing check would pass, when computable.
	NextAllowedAt *time.Time `json:"next_allowed_at,omitempty"`

	// NewSessionRequired is set when only a new session can lift the denial.
	NewSessionRequired bool `json:"new_session_required,omitempty"`

	// Priority and SuggestedHour are set when Allowed is true.
	Priority      float64 `json:"priority,omitempty"`
	SuggestedHour *int    `json:"suggested_hour,omitempty"`

	State       VisitorState `json:"state"`
	EvaluatedAt time.Time    `json:"evaluated_at"`
}
