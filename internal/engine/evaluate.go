package engine

import (
	"fmt"
	"time"

	"github.com/nvandessel/popgate/internal/behavior"
	"github.com/nvandessel/popgate/internal/models"
)

// evalState is everything one evaluation reads, captured under the visitor lock.
type evalState struct {
	visitorID string
	popupID   string
	sessionID string
	dc        models.DisplayContext
	at        time.Time

	rec     *models.VisitorRecord
	profile *models.BehaviorProfile
	state   models.VisitorState
}

type check func(*evalState) *models.Decision

// Evaluate decides whether popupID may be shown to visitorID in sessionID at
// the given time (zero means now). Checks run in a fixed order and the first
// denial wins:
//
//  1. global daily cap (popup max_per_day rule)
//  2. visitor daily cap (preference, then engine default)
//  3. session cap
//  4. cooldown and minimum interval
//  5. behavior-based suppression
//  6. page rules
//  7. hourly, weekly and monthly caps
//
// A denial is a normal result. Errors are returned only for missing identifiers.
func (e *Engine) Evaluate(visitorID, popupID, sessionID string, dc models.DisplayContext, at time.Time) (models.Decision, error) {
	if err := requireIDs("visitor id", visitorID, "popup id", popupID, "session id", sessionID); err != nil {
		return models.Decision{}, err
	}
	at = e.at(at)

	unlock := e.locks.Lock(visitorID)
	defer unlock()

	rec, prof := e.loadVisitor(visitorID)
	st := &evalState{
		visitorID: visitorID,
		popupID:   popupID,
		sessionID: sessionID,
		dc:        dc,
		at:        at,
		rec:       rec,
		profile:   prof,
		state:     behavior.Classify(prof),
	}

	checks := []check{
		e.checkGlobalDailyCap,
		e.checkVisitorDailyCap,
		e.checkSessionCap,
		e.checkCooldown,
		e.checkBehavior,
		e.checkPageRules,
		e.checkTimeWindows,
	}
	for _, c := range checks {
		if d := c(st); d != nil {
			d.State = st.state
			d.EvaluatedAt = at
			return *d, nil
		}
	}

	d := models.Decision{
		Allowed:     true,
		Priority:    behavior.Priority(st.state),
		State:       st.state,
		EvaluatedAt: at,
	}
	if h, ok := behavior.SuggestedHour(prof.InteractionTimestamps); ok {
		d.SuggestedHour = &h
	}
	return d, nil
}

func deny(c models.Check, reason string, next *time.Time) *models.Decision {
	return &models.Decision{Check: c, Reason: reason, NextAllowedAt: next}
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func (e *Engine) checkGlobalDailyCap(st *evalState) *models.Decision {
	rule, ok := e.rules.Active(st.popupID, models.RuleMaxPerDay, st.dc)
	if !ok {
		return nil
	}
	limit := rule.Count()
	if shown := e.days.Count(st.popupID, st.at); shown >= limit {
		return deny(models.CheckGlobalDailyCap,
			fmt.Sprintf("global daily limit reached for popup %q (%d/%d)", st.popupID, shown, limit),
			timePtr(models.StartOfNextDay(st.at)))
	}
	return nil
}

func (e *Engine) checkVisitorDailyCap(st *evalState) *models.Decision {
	prefs := st.rec.Preferences
	if prefs.OptedOut {
		return deny(models.CheckVisitorDailyCap, "visitor opted out of popups", nil)
	}

	limit := -1
	switch {
	case prefs.MaxPerDay != nil:
		limit = *prefs.MaxPerDay
	case e.cfg.DefaultMaxPerDay > 0:
		limit = e.cfg.DefaultMaxPerDay
	}
	if limit < 0 {
		return nil
	}

	shown := st.rec.CountSince("", models.StartOfDay(st.at))
	if shown < limit {
		return nil
	}
	if limit == 0 {
		return deny(models.CheckVisitorDailyCap, "visitor daily limit is 0", nil)
	}
	return deny(models.CheckVisitorDailyCap,
		fmt.Sprintf("visitor daily limit reached (%d/%d)", shown, limit),
		timePtr(models.StartOfNextDay(st.at)))
}

func (e *Engine) checkSessionCap(st *evalState) *models.Decision {
	limit := e.cfg.MaxPerSession
	if p := st.rec.Preferences.MaxPerSession; p != nil {
		limit = *p
	} else if limit == 0 {
		return nil
	}

	if shown := e.sessions.Count(st.sessionID); shown >= limit {
		d := deny(models.CheckSessionCap,
			fmt.Sprintf("session limit reached (%d/%d); start a new session", shown, limit), nil)
		d.NewSessionRequired = true
		return d
	}
	return nil
}

func (e *Engine) checkCooldown(st *evalState) *models.Decision {
	cooldown := e.cfg.DefaultCooldown
	if p := st.rec.Preferences.CooldownSeconds; p != nil {
		cooldown = time.Duration(*p) * time.Second
	} else if rule, ok := e.rules.Active(st.popupID, models.RuleCooldownPeriod, st.dc); ok {
		cooldown = rule.Duration()
	}

	if last, ok := st.rec.LastSeen[st.popupID]; ok && cooldown > 0 {
		if until := last.Add(cooldown); st.at.Before(until) {
			return deny(models.CheckCooldown,
				fmt.Sprintf("popup %q is cooling down for %s", st.popupID, until.Sub(st.at).Round(time.Second)),
				timePtr(until))
		}
	}

	if rule, ok := e.rules.Active(st.popupID, models.RuleMinInterval, st.dc); ok {
		interval := rule.Duration()
		if last, ok := st.rec.LastShown(); ok && interval > 0 {
			if until := last.Add(interval); st.at.Before(until) {
				return deny(models.CheckCooldown,
					fmt.Sprintf("minimum interval of %s since the last popup not reached", interval),
					timePtr(until))
			}
		}
	}
	return nil
}

func (e *Engine) checkBehavior(st *evalState) *models.Decision {
	rate := behavior.AdmitRate(st.state, st.profile, e.cfg.Throttle)
	switch {
	case rate >= 1:
		return nil
	case rate <= 0:
		return deny(models.CheckBehavior, fmt.Sprintf("visitor classified as %s", st.state), nil)
	case e.rng.Float64() < rate:
		return nil
	default:
		return deny(models.CheckBehavior,
			fmt.Sprintf("visitor classified as %s; throttled (admit rate %.2f)", st.state, rate), nil)
	}
}

func (e *Engine) checkPageRules(st *evalState) *models.Decision {
	for _, pr := range e.pageRules {
		ok, reason, next := pr.Check(st.popupID, st.dc, st.at)
		if ok {
			continue
		}
		if reason == "" {
			reason = "blocked by page rule"
		}
		var nextPtr *time.Time
		if !next.IsZero() {
			nextPtr = timePtr(next)
		}
		return deny(models.CheckPageRule, reason, nextPtr)
	}
	return nil
}

var windowKinds = []struct {
	kind  models.RuleKind
	label string
}{
	{models.RuleMaxPerHour, "hourly"},
	{models.RuleMaxPerWeek, "weekly"},
	{models.RuleMaxPerMonth, "monthly"},
}

func (e *Engine) checkTimeWindows(st *evalState) *models.Decision {
	for _, w := range windowKinds {
		rule, ok := e.rules.Active(st.popupID, w.kind, st.dc)
		if !ok {
			continue
		}
		window := w.kind.Window()
		limit := rule.Count()
		shown, oldest := st.rec.ShowsAfter(st.popupID, st.at.Add(-window))
		if shown < limit {
			continue
		}

		var next *time.Time
		if shown > 0 {
			next = timePtr(oldest.Add(window))
		}
		return deny(models.CheckTimeWindowCap,
			fmt.Sprintf("%s limit reached for popup %q (%d/%d)", w.label, st.popupID, shown, limit), next)
	}
	return nil
}
