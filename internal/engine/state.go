package engine

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/nvandessel/popgate/internal/analytics"
	"github.com/nvandessel/popgate/internal/behavior"
	"github.com/nvandessel/popgate/internal/models"
	"github.com/nvandessel/popgate/internal/rules"
)

// SetRule creates or replaces the rule for (popupID, kind).
func (e *Engine) SetRule(popupID string, kind models.RuleKind, value float64, opts models.RuleOptions) (models.FrequencyRule, error) {
	return e.rules.Set(popupID, kind, value, opts)
}

// GetRules returns the popup's rules, highest priority first. Disabled rules
// are included.
func (e *Engine) GetRules(popupID string) ([]models.FrequencyRule, error) {
	if err := requireID("popup id", popupID); err != nil {
		return nil, err
	}
	return e.rules.Get(popupID), nil
}

// AllRules returns every rule.
func (e *Engine) AllRules() []models.FrequencyRule {
	return e.rules.All()
}

// DeleteRule removes the rule for (popupID, kind) and reports whether it existed.
func (e *Engine) DeleteRule(popupID string, kind models.RuleKind) bool {
	return e.rules.Delete(popupID, kind)
}

// Summarize reports on shows within the last windowDays days.
func (e *Engine) Summarize(windowDays int) (*analytics.Report, error) {
	return analytics.Summarize(e, windowDays, e.nowFunc())
}

// EachVisitor walks visitor records shard by shard for analytics. The visitor
// locks are not taken, so the walk is a per-shard point-in-time view.
func (e *Engine) EachVisitor(fn func(v analytics.VisitorView) bool) {
	e.visitors.Range(func(id string, rec *models.VisitorRecord) bool {
		state := models.StateNewVisitor
		e.profiles.View(id, func(p *models.BehaviorProfile) {
			state = behavior.Classify(p)
		})
		return fn(analytics.VisitorView{
			VisitorID: id,
			History:   rec.History,
			State:     state,
		})
	})
}

// Snapshot captures rules, preference overrides and blocker signals.
// Show history is not included.
func (e *Engine) Snapshot() *models.Snapshot {
	snap := &models.Snapshot{
		ID:          uuid.NewString(),
		Version:     models.SnapshotVersion,
		ExportedAt:  e.nowFunc().UTC(),
		Rules:       e.rules.All(),
		Preferences: make(map[string]models.Preferences),
	}

	e.visitors.Range(func(id string, rec *models.VisitorRecord) bool {
		if !rec.Preferences.IsZero() {
			snap.Preferences[id] = rec.Preferences.Clone()
		}
		return true
	})
	e.profiles.Range(func(id string, p *models.BehaviorProfile) bool {
		if p.Blocker {
			snap.Blockers = append(snap.Blockers, id)
		}
		return true
	})
	sort.Strings(snap.Blockers)
	return snap
}

// Restore merges a snapshot into the engine: rules and preferences in the
// snapshot replace existing ones with the same key, others are kept. The
// snapshot is validated in full before anything is applied.
func (e *Engine) Restore(snap *models.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: snapshot is nil", models.ErrInvalidArgument)
	}
	if snap.Version > models.SnapshotVersion {
		return fmt.Errorf("%w: snapshot version %d is newer than supported version %d",
			models.ErrInvalidArgument, snap.Version, models.SnapshotVersion)
	}
	for _, r := range snap.Rules {
		if err := rules.Validate(r); err != nil {
			return fmt.Errorf("snapshot rule %s/%s: %w", r.PopupID, r.Kind, err)
		}
	}
	for id, p := range snap.Preferences {
		if err := requireID("visitor id", id); err != nil {
			return fmt.Errorf("snapshot preferences: %w", err)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("snapshot preferences for %s: %w", id, err)
		}
	}
	for _, id := range snap.Blockers {
		if err := requireID("visitor id", id); err != nil {
			return fmt.Errorf("snapshot blockers: %w", err)
		}
	}

	for _, r := range snap.Rules {
		if err := e.rules.Put(r); err != nil {
			return err
		}
	}
	for id, p := range snap.Preferences {
		if err := e.SetPreferences(id, p); err != nil {
			return err
		}
	}
	for _, id := range snap.Blockers {
		if err := e.MarkBlocker(id, true); err != nil {
			return err
		}
	}
	return nil
}

// ExportState serializes Snapshot as JSON.
func (e *Engine) ExportState() ([]byte, error) {
	data, err := json.MarshalIndent(e.Snapshot(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot: %w", err)
	}
	return data, nil
}

// ImportState decodes a JSON snapshot produced by ExportState and restores it.
func (e *Engine) ImportState(data []byte) error {
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("%w: decoding snapshot: %v", models.ErrInvalidArgument, err)
	}
	return e.Restore(&snap)
}
