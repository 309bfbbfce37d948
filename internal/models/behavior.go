package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/nvandessel/popgate/internal/constants"
)

// Action is a visitor's reaction to a shown popup.
type Action string

const (
	ActionDismissed Action = "dismissed" // Closed without engaging
	ActionClicked   Action = "clicked"   // Engaged with the popup
	ActionConverted Action = "converted" // Completed the popup's goal
	ActionBlocked   Action = "blocked"   // Asked never to see popups again
)

// IsOutcome reports whether a counts toward the dismissal or conversion ratio.
func (a Action) IsOutcome() bool {
	return a == ActionDismissed || a == ActionConverted
}

// ParseAction validates s as an Action.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionDismissed, ActionClicked, ActionConverted, ActionBlocked:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidArgument, s)
	}
}

// VisitorState is the discrete behavior classification of a visitor.
type VisitorState string

const (
	StateNewVisitor       VisitorState = "new_visitor"
	StateReturningVisitor VisitorState = "returning_visitor"
	StateEngagedUser      VisitorState = "engaged_user"
	StateConvertedUser    VisitorState = "converted_user"
	StatePopupDismisser   VisitorState = "popup_dismisser"
	StatePopupBlocker     VisitorState = "popup_blocker"
)

// AllVisitorStates lists every state in a stable order for reporting.
var AllVisitorStates = []VisitorState{
	StateNewVisitor,
	StateReturningVisitor,
	StateEngagedUser,
	StateConvertedUser,
	StatePopupDismisser,
	StatePopupBlocker,
}

// BehaviorProfile aggregates how a visitor has reacted to popups over time.
type BehaviorProfile struct {
	VisitorID    string `json:"visitor_id"`
	TotalShown   int    `json:"total_shown"`
	Conversions  int    `json:"conversions"`
	Dismissals   int    `json:"dismissals"`
	Interactions int    `json:"interactions"`

	InteractionTimestamps []time.Time `json:"interaction_timestamps"`
	ResponseTimeAvgMs     float64     `json:"response_time_avg_ms"`
	LastActivity          time.Time   `json:"last_activity"`

	// Blocker is an external signal (e.g. a detected ad blocker). It is never
	// derived from the counters.
	Blocker bool `json:"blocker,omitempty"`
}

// NewBehaviorProfile creates an empty profile for visitorID.
func NewBehaviorProfile(visitorID string) *BehaviorProfile {
	return &BehaviorProfile{
		VisitorID:             visitorID,
		InteractionTimestamps: make([]time.Time, 0, 8),
	}
}

// RecordShown counts one render.
func (p *BehaviorProfile) RecordShown(at time.Time) {
	p.TotalShown++
	p.touch(at)
}

// RecordAction counts one reaction and appends its time to the bounded timeline.
// Dismissals and conversions are counted separately by CountOutcome.
func (p *BehaviorProfile) RecordAction(action Action, at time.Time) {
	p.Interactions++
	p.InteractionTimestamps = append(p.InteractionTimestamps, at)
	p.InteractionTimestamps, _ = trimOldest(p.InteractionTimestamps,
		constants.MaxInteractionTimestamps, constants.InteractionTimestampsTrim)
	p.touch(at)
}

// CountOutcome counts a dismissal or conversion. Callers count at most one
// outcome per show so the ratios stay within [0, 1].
func (p *BehaviorProfile) CountOutcome(action Action) {
	switch action {
	case ActionDismissed:
		p.Dismissals++
	case ActionConverted:
		p.Conversions++
	}
}

func (p *BehaviorProfile) touch(at time.Time) {
	if at.After(p.LastActivity) {
		p.LastActivity = at
	}
}

// Normalize re-applies the timeline cap. It reports whether anything was trimmed.
func (p *BehaviorProfile) Normalize() bool {
	var healed bool
	p.InteractionTimestamps, healed = trimOldest(p.InteractionTimestamps,
		constants.MaxInteractionTimestamps, constants.InteractionTimestampsTrim)
	return healed
}

// ConversionRatio is conversions per show in [0, 1], 0 when nothing was shown.
func (p *BehaviorProfile) ConversionRatio() float64 {
	return perShow(p.Conversions, p.TotalShown)
}

// DismissRatio is dismissals per show in [0, 1], 0 when nothing was shown.
func (p *BehaviorProfile) DismissRatio() float64 {
	return perShow(p.Dismissals, p.TotalShown)
}

// perShow caps at 1; restored profiles may carry counters above the show count.
func perShow(n, shown int) float64 {
	if shown <= 0 {
		return 0
	}
	return min(float64(n)/float64(shown), 1)
}

// Clone returns a deep copy of p.
func (p *BehaviorProfile) Clone() *BehaviorProfile {
	cp := *p
	cp.InteractionTimestamps = append([]time.Time(nil), p.InteractionTimestamps...)
	return &cp
}
