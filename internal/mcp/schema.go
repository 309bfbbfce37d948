package mcp

import (
	"github.com/nvandessel/popgate/internal/analytics"
	"github.com/nvandessel/popgate/internal/models"
)

// ContextInput is the display context accepted by evaluate and record tools.
type ContextInput struct {
	Page       string            `json:"page,omitempty" jsonschema:"Page path or URL the visitor is on"`
	Referrer   string            `json:"referrer,omitempty" jsonschema:"Referring URL"`
	Device     string            `json:"device,omitempty" jsonschema:"Device class: desktop, mobile or tablet"`
	Locale     string            `json:"locale,omitempty" jsonschema:"Visitor locale, e.g. en-US"`
	Attributes map[string]string `json:"attributes,omitempty" jsonschema:"Caller-defined context fields"`
}

func (c ContextInput) toModel() models.DisplayContext {
	return models.DisplayContext{
		Page:       c.Page,
		Referrer:   c.Referrer,
		Device:     c.Device,
		Locale:     c.Locale,
		Attributes: c.Attributes,
	}
}

// EvaluateInput defines the input for popgate_evaluate.
type EvaluateInput struct {
	VisitorID string       `json:"visitor_id" jsonschema:"Visitor identifier"`
	PopupID   string       `json:"popup_id" jsonschema:"Popup identifier"`
	SessionID string       `json:"session_id" jsonschema:"Session identifier"`
	Context   ContextInput `json:"context,omitempty" jsonschema:"Display context"`
	At        string       `json:"at,omitempty" jsonschema:"Evaluation time (RFC 3339). Defaults to now"`
}

// EvaluateOutput defines the output for popgate_evaluate.
type EvaluateOutput struct {
	Decision models.Decision `json:"decision" jsonschema:"Admission decision"`
}

// RecordShownInput defines the input for popgate_record_shown.
type RecordShownInput struct {
	VisitorID string       `json:"visitor_id" jsonschema:"Visitor identifier"`
	PopupID   string       `json:"popup_id" jsonschema:"Popup identifier"`
	SessionID string       `json:"session_id" jsonschema:"Session identifier"`
	Context   ContextInput `json:"context,omitempty" jsonschema:"Display context"`
	At        string       `json:"at,omitempty" jsonschema:"Show time (RFC 3339). Defaults to now"`
}

// RecordOutput is returned by tools that only acknowledge a write.
type RecordOutput struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// RecordInteractionInput defines the input for popgate_record_interaction.
type RecordInteractionInput struct {
	VisitorID string       `json:"visitor_id" jsonschema:"Visitor identifier"`
	PopupID   string       `json:"popup_id" jsonschema:"Popup identifier"`
	Action    string       `json:"action" jsonschema:"One of dismissed, clicked, converted, blocked"`
	Context   ContextInput `json:"context,omitempty" jsonschema:"Display context"`
	At        string       `json:"at,omitempty" jsonschema:"Interaction time (RFC 3339). Defaults to now"`
}

// RecordInteractionOutput defines the output for popgate_record_interaction.
type RecordInteractionOutput struct {
	Matched        bool                `json:"matched" jsonschema:"Whether a prior show of the popup was found and annotated"`
	ResponseTimeMs int64               `json:"response_time_ms,omitempty" jsonschema:"Time from show to interaction"`
	State          models.VisitorState `json:"state" jsonschema:"Visitor behavior state after the interaction"`
	Preferences    models.Preferences  `json:"preferences" jsonschema:"Visitor preferences after adaptive adjustment"`
}

// SetRuleInput defines the input for popgate_set_rule.
type SetRuleInput struct {
	PopupID    string                 `json:"popup_id" jsonschema:"Popup identifier"`
	Kind       string                 `json:"kind" jsonschema:"max_per_hour, max_per_day, max_per_week, max_per_month, min_interval or cooldown_period"`
	Value      float64                `json:"value" jsonschema:"Count for caps, seconds for min_interval and cooldown_period"`
	Disabled   bool                   `json:"disabled,omitempty" jsonschema:"Store the rule disabled (default: enabled)"`
	Priority   int                    `json:"priority,omitempty" jsonschema:"Higher priority rules are listed first"`
	Conditions map[string]interface{} `json:"conditions,omitempty" jsonschema:"Context fields the rule is restricted to"`
	Delete     bool                   `json:"delete,omitempty" jsonschema:"Remove the rule instead of setting it"`
}

// SetRuleOutput defines the output for popgate_set_rule.
type SetRuleOutput struct {
	Rule      *models.FrequencyRule `json:"rule,omitempty"`
	Deleted   bool                  `json:"deleted,omitempty"`
	Persisted bool                  `json:"persisted" jsonschema:"Whether the change was written to the settings store"`
}

// GetRulesInput defines the input for popgate_get_rules.
type GetRulesInput struct {
	PopupID string `json:"popup_id,omitempty" jsonschema:"Popup identifier. Empty lists every rule"`
}

// GetRulesOutput defines the output for popgate_get_rules.
type GetRulesOutput struct {
	Rules []models.FrequencyRule `json:"rules"`
	Count int                    `json:"count"`
}

// SetPreferencesInput defines the input for popgate_set_preferences.
type SetPreferencesInput struct {
	VisitorID   string             `json:"visitor_id" jsonschema:"Visitor identifier"`
	Preferences models.Preferences `json:"preferences" jsonschema:"Overrides to store. Omitted fields clear the override"`
}

// PreferencesOutput is returned by the preference tools.
type PreferencesOutput struct {
	VisitorID   string             `json:"visitor_id"`
	Preferences models.Preferences `json:"preferences"`
	Persisted   bool               `json:"persisted,omitempty"`
}

// GetPreferencesInput defines the input for popgate_get_preferences.
type GetPreferencesInput struct {
	VisitorID string `json:"visitor_id" jsonschema:"Visitor identifier"`
}

// ResetVisitorInput defines the input for popgate_reset_visitor.
type ResetVisitorInput struct {
	VisitorID string `json:"visitor_id" jsonschema:"Visitor identifier"`
	PopupID   string `json:"popup_id,omitempty" jsonschema:"Only clear this popup's history. Empty clears all history"`
}

// SummarizeInput defines the input for popgate_summarize.
type SummarizeInput struct {
	WindowDays int `json:"window_days,omitempty" jsonschema:"Report window in days (default: 7)"`
}

// SummarizeOutput defines the output for popgate_summarize.
type SummarizeOutput struct {
	Report *analytics.Report `json:"report"`
}

// ExportInput defines the input for popgate_export.
type ExportInput struct {
	Save bool `json:"save,omitempty" jsonschema:"Also write the snapshot to the snapshot directory"`
}

// ExportOutput defines the output for popgate_export.
type ExportOutput struct {
	Snapshot *models.Snapshot `json:"snapshot"`
	Path     string           `json:"path,omitempty" jsonschema:"Snapshot file written when save was requested"`
	Pruned   int              `json:"pruned,omitempty" jsonschema:"Old snapshot files removed by retention"`
}

// MarkBlockerInput defines the input for popgate_mark_blocker.
type MarkBlockerInput struct {
	VisitorID string `json:"visitor_id" jsonschema:"Visitor identifier"`
	Blocker   bool   `json:"blocker" jsonschema:"True when the visitor runs a popup blocker, false to clear the signal"`
}
