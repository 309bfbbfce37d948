package models

import (
	"fmt"
	"strings"
	"time"
)

// RuleKind names one capacity or timing constraint. The set is closed.
type RuleKind string

const (
	RuleMaxPerHour     RuleKind = "max_per_hour"
	RuleMaxPerDay      RuleKind = "max_per_day"
	RuleMaxPerWeek     RuleKind = "max_per_week"
	RuleMaxPerMonth    RuleKind = "max_per_month"
	RuleMinInterval    RuleKind = "min_interval"    // seconds since the visitor's last popup of any kind
	RuleCooldownPeriod RuleKind = "cooldown_period" // seconds since the visitor last saw this popup
)

// AllRuleKinds lists the valid kinds in evaluation-independent order.
var AllRuleKinds = []RuleKind{
	RuleMaxPerHour,
	RuleMaxPerDay,
	RuleMaxPerWeek,
	RuleMaxPerMonth,
	RuleMinInterval,
	RuleCooldownPeriod,
}

// ParseRuleKind validates s as a RuleKind. Accepts the CamelCase spellings too.
func ParseRuleKind(s string) (RuleKind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	switch norm {
	case "maxperhour":
		norm = string(RuleMaxPerHour)
	case "maxperday":
		norm = string(RuleMaxPerDay)
	case "maxperweek":
		norm = string(RuleMaxPerWeek)
	case "maxpermonth":
		norm = string(RuleMaxPerMonth)
	case "mininterval":
		norm = string(RuleMinInterval)
	case "cooldownperiod", "cooldown":
		norm = string(RuleCooldownPeriod)
	}
	for _, k := range AllRuleKinds {
		if string(k) == norm {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRule, s)
}

// IsDuration reports whether the rule value is a number of seconds rather than a count.
func (k RuleKind) IsDuration() bool {
	return k == RuleMinInterval || k == RuleCooldownPeriod
}

// Window returns the rolling window of a count rule, or 0 for duration rules.
func (k RuleKind) Window() time.Duration {
	switch k {
	case RuleMaxPerHour:
		return time.Hour
	case RuleMaxPerDay:
		return 24 * time.Hour
	case RuleMaxPerWeek:
		return 7 * 24 * time.Hour
	case RuleMaxPerMonth:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// FrequencyRule is a per-popup override of one constraint.
type FrequencyRule struct {
	PopupID  string   `json:"popup_id" yaml:"popup_id"`
	Kind     RuleKind `json:"kind" yaml:"kind"`
	Value    float64  `json:"value" yaml:"value"`
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Priority int      `json:"priority" yaml:"priority"`

	// Conditions restrict the rule to display contexts matching every entry.
	// An empty map applies the rule everywhere.
	Conditions map[string]interface{} `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// RuleOptions carries the optional attributes of SetRule.
type RuleOptions struct {
	Enabled    bool
	Priority   int
	Conditions map[string]interface{}
}

// Count returns the rule value as a whole-number cap.
func (r FrequencyRule) Count() int {
	return int(r.Value)
}

// Duration returns the rule value as a span of seconds.
func (r FrequencyRule) Duration() time.Duration {
	return time.Duration(r.Value * float64(time.Second))
}

// AppliesTo reports whether the rule is enabled and its conditions match dc.
func (r FrequencyRule) AppliesTo(dc DisplayContext) bool {
	return r.Enabled && dc.Matches(r.Conditions)
}
