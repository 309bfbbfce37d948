// Package rules holds per-popup frequency rules and time-based page rules.
//
// The rule set is closed: every rule is one of models.AllRuleKinds, keyed by
// (popup, kind). Writes replace; there is no merging.
package rules

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/nvandessel/popgate/internal/models"
)

// Registry stores frequency rules. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	rules   map[string]map[models.RuleKind]models.FrequencyRule
	nowFunc func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rules:   make(map[string]map[models.RuleKind]models.FrequencyRule),
		nowFunc: time.Now,
	}
}

// Set creates or replaces the rule for (popupID, kind).
func (r *Registry) Set(popupID string, kind models.RuleKind, value float64, opts models.RuleOptions) (models.FrequencyRule, error) {
	rule := models.FrequencyRule{
		PopupID:    popupID,
		Kind:       kind,
		Value:      value,
		Enabled:    opts.Enabled,
		Priority:   opts.Priority,
		Conditions: cloneConditions(opts.Conditions),
		CreatedAt:  r.nowFunc(),
	}
	if err := r.Put(rule); err != nil {
		return models.FrequencyRule{}, err
	}
	return rule, nil
}

// Put stores a fully-formed rule, keeping its CreatedAt when set.
func (r *Registry) Put(rule models.FrequencyRule) error {
	if err := Validate(rule); err != nil {
		return err
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = r.nowFunc()
	}
	rule.Conditions = cloneConditions(rule.Conditions)

	r.mu.Lock()
	defer r.mu.Unlock()

	byKind, ok := r.rules[rule.PopupID]
	if !ok {
		byKind = make(map[models.RuleKind]models.FrequencyRule)
		r.rules[rule.PopupID] = byKind
	}
	byKind[rule.Kind] = rule
	return nil
}

// Validate checks identifiers, kind and value of a rule.
func Validate(rule models.FrequencyRule) error {
	if rule.PopupID == "" {
		return fmt.Errorf("%w: popup id is required", models.ErrInvalidArgument)
	}
	if _, err := models.ParseRuleKind(string(rule.Kind)); err != nil {
		return err
	}
	if math.IsNaN(rule.Value) || math.IsInf(rule.Value, 0) || rule.Value < 0 {
		return fmt.Errorf("%w: rule value must be a non-negative number, got %v", models.ErrInvalidArgument, rule.Value)
	}
	return nil
}

// Get returns the rules of popupID ordered by priority (highest first), then kind.
// Disabled rules are included.
func (r *Registry) Get(popupID string) []models.FrequencyRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.FrequencyRule, 0, len(r.rules[popupID]))
	for _, rule := range r.rules[popupID] {
		out = append(out, cloneRule(rule))
	}
	sortRules(out)
	return out
}

// All returns every rule ordered by popup, then priority.
func (r *Registry) All() []models.FrequencyRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.FrequencyRule
	for _, byKind := range r.rules {
		for _, rule := range byKind {
			out = append(out, cloneRule(rule))
		}
	}
	sortRules(out)
	return out
}

// Active returns the rule of the given kind when it is enabled and its
// conditions match dc. Disabled rules are never returned.
func (r *Registry) Active(popupID string, kind models.RuleKind, dc models.DisplayContext) (models.FrequencyRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[popupID][kind]
	if !ok || !rule.AppliesTo(dc) {
		return models.FrequencyRule{}, false
	}
	return rule, true
}

// Delete removes the rule for (popupID, kind) and reports whether it existed.
func (r *Registry) Delete(popupID string, kind models.RuleKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	byKind, ok := r.rules[popupID]
	if !ok {
		return false
	}
	if _, ok := byKind[kind]; !ok {
		return false
	}
	delete(byKind, kind)
	if len(byKind) == 0 {
		delete(r.rules, popupID)
	}
	return true
}

// Len returns the number of stored rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, byKind := range r.rules {
		n += len(byKind)
	}
	return n
}

func sortRules(rules []models.FrequencyRule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].PopupID != rules[j].PopupID {
			return rules[i].PopupID < rules[j].PopupID
		}
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].Kind < rules[j].Kind
	})
}

func cloneRule(rule models.FrequencyRule) models.FrequencyRule {
	rule.Conditions = cloneConditions(rule.Conditions)
	return rule
}

// cloneConditions copies the top level of a conditions map. Nested values are
// treated as immutable.
func cloneConditions(c map[string]interface{}) map[string]interface{} {
	if c == nil {
		return nil
	}
	out := make(map[string]interface{}, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
