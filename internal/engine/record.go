package engine

import (
	"time"

	"github.com/nvandessel/popgate/internal/behavior"
	"github.com/nvandessel/popgate/internal/models"
)

// RecordShown records that popupID was rendered to visitorID in sessionID.
// A zero timestamp means now. Calls are not idempotent: call once per render.
func (e *Engine) RecordShown(visitorID, popupID, sessionID string, dc models.DisplayContext, at time.Time) error {
	if err := requireIDs("visitor id", visitorID, "popup id", popupID, "session id", sessionID); err != nil {
		return err
	}
	at = e.at(at)

	unlock := e.locks.Lock(visitorID)
	defer unlock()

	e.visitors.Update(visitorID, func(v *models.VisitorRecord) {
		v.AppendShow(models.ShowEvent{
			PopupID:   popupID,
			Timestamp: at,
			SessionID: sessionID,
			Context:   dc.Clone(),
		})
	})
	e.profiles.Update(visitorID, func(p *models.BehaviorProfile) {
		p.RecordShown(at)
	})
	e.sessions.RecordShow(sessionID, popupID, dc, at)
	e.days.Increment(popupID, at)
	return nil
}

// InteractionResult reports what RecordInteraction changed.
type InteractionResult struct {
	// Matched is false when no show of the popup was found in the history.
	Matched        bool                `json:"matched"`
	ResponseTimeMs *int64              `json:"response_time_ms,omitempty"`
	Preferences    models.Preferences  `json:"preferences"`
	State          models.VisitorState `json:"state"`
}

// RecordInteraction records the visitor's reaction to the most recent show of
// popupID and, when adaptive learning is on, adjusts the visitor's caps.
// A dismissal or conversion counts toward the behavior ratios only when it
// answers a show that has no outcome yet. A zero timestamp means now. The
// display context is accepted for symmetry with RecordShown and is not stored.
func (e *Engine) RecordInteraction(visitorID, popupID string, action models.Action, _ models.DisplayContext, at time.Time) (InteractionResult, error) {
	if err := requireIDs("visitor id", visitorID, "popup id", popupID); err != nil {
		return InteractionResult{}, err
	}
	action, err := models.ParseAction(string(action))
	if err != nil {
		return InteractionResult{}, err
	}
	at = e.at(at)

	unlock := e.locks.Lock(visitorID)
	defer unlock()

	var res InteractionResult
	var outcome bool
	e.visitors.Update(visitorID, func(v *models.VisitorRecord) {
		if idx := v.LatestShowIndex(popupID); idx >= 0 {
			ev := &v.History[idx]
			ms := at.Sub(ev.Timestamp).Milliseconds()
			if ms < 0 {
				ms = 0
			}
			res.Matched = true
			res.ResponseTimeMs = &ms
			// The first dismissal or conversion of a show sticks.
			if !ev.Action.IsOutcome() {
				outcome = action.IsOutcome()
				ev.Action = action
				ev.ActionTimestamp = timePtr(at)
				ev.ResponseTimeMs = &ms
			}
		}
		if e.cfg.AdaptiveLearning {
			v.Preferences = behavior.Adjust(v.Preferences, action, e.cfg.adjustBase())
		}
		res.Preferences = v.Preferences.Clone()
	})

	e.profiles.Update(visitorID, func(p *models.BehaviorProfile) {
		p.RecordAction(action, at)
		if outcome {
			p.CountOutcome(action)
		}
		if e.cfg.AdaptiveLearning && action == models.ActionClicked && res.ResponseTimeMs != nil {
			behavior.UpdateResponseAverage(p, *res.ResponseTimeMs)
		}
		res.State = behavior.Classify(p)
	})
	return res, nil
}

// MarkBlocker sets or clears the external blocker signal for a visitor.
// Blockers are classified as popup_blocker and always denied.
func (e *Engine) MarkBlocker(visitorID string, blocker bool) error {
	if err := requireID("visitor id", visitorID); err != nil {
		return err
	}

	unlock := e.locks.Lock(visitorID)
	defer unlock()

	e.profiles.Update(visitorID, func(p *models.BehaviorProfile) {
		p.Blocker = blocker
	})
	return nil
}

// ResetVisitor clears the visitor's history and last-seen times for popupID,
// or for every popup when popupID is empty. Counters and preferences are kept.
func (e *Engine) ResetVisitor(visitorID, popupID string) error {
	if err := requireID("visitor id", visitorID); err != nil {
		return err
	}

	unlock := e.locks.Lock(visitorID)
	defer unlock()

	e.visitors.Modify(visitorID, func(v *models.VisitorRecord) {
		v.Reset(popupID)
	})
	return nil
}

// SetPreferences replaces the visitor's preference overrides.
func (e *Engine) SetPreferences(visitorID string, prefs models.Preferences) error {
	if err := requireID("visitor id", visitorID); err != nil {
		return err
	}
	if err := prefs.Validate(); err != nil {
		return err
	}

	unlock := e.locks.Lock(visitorID)
	defer unlock()

	e.visitors.Update(visitorID, func(v *models.VisitorRecord) {
		v.Preferences = prefs.Clone()
	})
	return nil
}

// GetPreferences returns the visitor's overrides. Unknown visitors have none.
func (e *Engine) GetPreferences(visitorID string) (models.Preferences, error) {
	if err := requireID("visitor id", visitorID); err != nil {
		return models.Preferences{}, err
	}

	var prefs models.Preferences
	e.visitors.View(visitorID, func(v *models.VisitorRecord) {
		prefs = v.Preferences.Clone()
	})
	return prefs, nil
}
