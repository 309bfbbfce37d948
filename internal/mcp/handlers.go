package mcp

import (
	"context"
	"fmt"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/popgate/internal/backup"
	"github.com/nvandessel/popgate/internal/constants"
	"github.com/nvandessel/popgate/internal/models"
)

// Tool names.
const (
	toolEvaluate          = "popgate_evaluate"
	toolRecordShown       = "popgate_record_shown"
	toolRecordInteraction = "popgate_record_interaction"
	toolSetRule           = "popgate_set_rule"
	toolGetRules          = "popgate_get_rules"
	toolSetPreferences    = "popgate_set_preferences"
	toolGetPreferences    = "popgate_get_preferences"
	toolResetVisitor      = "popgate_reset_visitor"
	toolMarkBlocker       = "popgate_mark_blocker"
	toolSummarize         = "popgate_summarize"
	toolExport            = "popgate_export"
)

// decisionSource tags decision log lines written by this package.
const decisionSource = "mcp"

// registerTools registers all popgate MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolEvaluate,
		Description: "Decide whether a popup may be shown to a visitor now. Returns the decision, the failing check and when it may pass",
	}, s.handleEvaluate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolRecordShown,
		Description: "Record that a popup was actually rendered to a visitor. Call once per render, after an allowed evaluate",
	}, s.handleRecordShown)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolRecordInteraction,
		Description: "Record how a visitor reacted to a popup: dismissed, clicked, converted or blocked",
	}, s.handleRecordInteraction)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolSetRule,
		Description: "Create, replace or delete a per-popup frequency rule (hourly/daily/weekly/monthly caps, min interval, cooldown)",
	}, s.handleSetRule)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolGetRules,
		Description: "List the frequency rules of a popup, or of every popup",
	}, s.handleGetRules)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolSetPreferences,
		Description: "Replace a visitor's preference overrides (max per day, max per session, cooldown, opt-out)",
	}, s.handleSetPreferences)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolGetPreferences,
		Description: "Get a visitor's preference overrides",
	}, s.handleGetPreferences)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolResetVisitor,
		Description: "Clear a visitor's show history for one popup, or for all popups",
	}, s.handleResetVisitor)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolMarkBlocker,
		Description: "Set or clear the popup-blocker signal for a visitor. Blockers are never shown popups",
	}, s.handleMarkBlocker)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolSummarize,
		Description: "Report display frequency, visitor behavior states and tuning suggestions over a window of days",
	}, s.handleSummarize)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolExport,
		Description: "Export rules, preferences and blocker signals as a snapshot, optionally saving it to the snapshot directory",
	}, s.handleExport)
}

// handleEvaluate implements the popgate_evaluate tool.
func (s *Server) handleEvaluate(ctx context.Context, req *sdk.CallToolRequest, args EvaluateInput) (_ *sdk.CallToolResult, _ EvaluateOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(toolEvaluate, start, retErr, sanitizeToolParams(map[string]interface{}{
			"visitor_id": args.VisitorID, "popup_id": args.PopupID, "session_id": args.SessionID,
			"page": args.Context.Page, "device": args.Context.Device, "at": args.At,
		}))
	}()

	if err := s.limiters.Check(toolEvaluate); err != nil {
		return nil, EvaluateOutput{}, err
	}
	at, err := parseAt(args.At)
	if err != nil {
		return nil, EvaluateOutput{}, err
	}

	dc := args.Context.toModel()
	decision, err := s.engine.Evaluate(args.VisitorID, args.PopupID, args.SessionID, dc, at)
	if err != nil {
		return nil, EvaluateOutput{}, err
	}

	s.decisions.LogDecision(decisionSource, args.VisitorID, args.PopupID, args.SessionID, dc, decision)
	s.logger.Debug("evaluated popup",
		"popup_id", args.PopupID, "allowed", decision.Allowed, "check", decision.Check, "state", decision.State)
	return nil, EvaluateOutput{Decision: decision}, nil
}

// handleRecordShown implements the popgate_record_shown tool.
func (s *Server) handleRecordShown(ctx context.Context, req *sdk.CallToolRequest, args RecordShownInput) (_ *sdk.CallToolResult, _ RecordOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(toolRecordShown, start, retErr, sanitizeToolParams(map[string]interface{}{
			"visitor_id": args.VisitorID, "popup_id": args.PopupID, "session_id": args.SessionID,
			"page": args.Context.Page, "device": args.Context.Device, "at": args.At,
		}))
	}()

	if err := s.limiters.Check(toolRecordShown); err != nil {
		return nil, RecordOutput{}, err
	}
	at, err := parseAt(args.At)
	if err != nil {
		return nil, RecordOutput{}, err
	}

	dc := args.Context.toModel()
	if err := s.engine.RecordShown(args.VisitorID, args.PopupID, args.SessionID, dc, at); err != nil {
		return nil, RecordOutput{}, err
	}
	s.decisions.LogShown(decisionSource, args.VisitorID, args.PopupID, args.SessionID, dc)
	return nil, RecordOutput{OK: true}, nil
}

// handleRecordInteraction implements the popgate_record_interaction tool.
// Adaptive preference changes are persisted like explicit ones.
func (s *Server) handleRecordInteraction(ctx context.Context, req *sdk.CallToolRequest, args RecordInteractionInput) (_ *sdk.CallToolResult, _ RecordInteractionOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(toolRecordInteraction, start, retErr, sanitizeToolParams(map[string]interface{}{
			"visitor_id": args.VisitorID, "popup_id": args.PopupID, "action": args.Action, "at": args.At,
		}))
	}()

	if err := s.limiters.Check(toolRecordInteraction); err != nil {
		return nil, RecordInteractionOutput{}, err
	}
	at, err := parseAt(args.At)
	if err != nil {
		return nil, RecordInteractionOutput{}, err
	}

	action := models.Action(args.Action)
	res, err := s.engine.RecordInteraction(args.VisitorID, args.PopupID, action, args.Context.toModel(), at)
	if err != nil {
		return nil, RecordInteractionOutput{}, err
	}
	s.decisions.LogInteraction(decisionSource, args.VisitorID, args.PopupID, action, res.State)

	if s.engine.Config().AdaptiveLearning {
		s.persist(ctx, "preferences", func(ctx context.Context) error {
			return s.settings.PutPreferences(ctx, args.VisitorID, res.Preferences)
		})
	}

	out := RecordInteractionOutput{
		Matched:     res.Matched,
		State:       res.State,
		Preferences: res.Preferences,
	}
	if res.ResponseTimeMs != nil {
		out.ResponseTimeMs = *res.ResponseTimeMs
	}
	return nil, out, nil
}

// handleSetRule implements the popgate_set_rule tool.
func (s *Server) handleSetRule(ctx context.Context, req *sdk.CallToolRequest, args SetRuleInput) (_ *sdk.CallToolResult, _ SetRuleOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(toolSetRule, start, retErr, sanitizeToolParams(map[string]interface{}{
			"popup_id": args.PopupID, "kind": args.Kind, "value": args.Value,
			"disabled": args.Disabled, "delete": args.Delete, "conditions": args.Conditions,
		}))
	}()

	if err := s.limiters.Check(toolSetRule); err != nil {
		return nil, SetRuleOutput{}, err
	}
	kind, err := models.ParseRuleKind(args.Kind)
	if err != nil {
		return nil, SetRuleOutput{}, err
	}

	if args.Delete {
		if args.PopupID == "" {
			return nil, SetRuleOutput{}, fmt.Errorf("%w: popup id is required", models.ErrInvalidArgument)
		}
		deleted := s.engine.DeleteRule(args.PopupID, kind)
		persisted := s.persist(ctx, "rule deletion", func(ctx context.Context) error {
			return s.settings.DeleteRule(ctx, args.PopupID, kind)
		})
		return nil, SetRuleOutput{Deleted: deleted, Persisted: persisted}, nil
	}

	rule, err := s.engine.SetRule(args.PopupID, kind, args.Value, models.RuleOptions{
		Enabled:    !args.Disabled,
		Priority:   args.Priority,
		Conditions: args.Conditions,
	})
	if err != nil {
		return nil, SetRuleOutput{}, err
	}
	persisted := s.persist(ctx, "rule", func(ctx context.Context) error {
		return s.settings.PutRule(ctx, rule)
	})
	s.logger.Info("rule set", "popup_id", rule.PopupID, "kind", rule.Kind, "value", rule.Value, "enabled", rule.Enabled)
	return nil, SetRuleOutput{Rule: &rule, Persisted: persisted}, nil
}

// handleGetRules implements the popgate_get_rules tool.
func (s *Server) handleGetRules(ctx context.Context, req *sdk.CallToolRequest, args GetRulesInput) (_ *sdk.CallToolResult, _ GetRulesOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(toolGetRules, start, retErr, sanitizeToolParams(map[string]interface{}{
			"popup_id": args.PopupID,
		}))
	}()

	if err := s.limiters.Check(toolGetRules); err != nil {
		return nil, GetRulesOutput{}, err
	}

	var rules []models.FrequencyRule
	if args.PopupID == "" {
		rules = s.engine.AllRules()
	} else {
		var err error
		if rules, err = s.engine.GetRules(args.PopupID); err != nil {
			return nil, GetRulesOutput{}, err
		}
	}
	if rules == nil {
		rules = []models.FrequencyRule{}
	}
	return nil, GetRulesOutput{Rules: rules, Count: len(rules)}, nil
}

// handleSetPreferences implements the popgate_set_preferences tool.
func (s *Server) handleSetPreferences(ctx context.Context, req *sdk.CallToolRequest, args SetPreferencesInput) (_ *sdk.CallToolResult, _ PreferencesOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(toolSetPreferences, start, retErr, sanitizeToolParams(map[string]interface{}{
			"visitor_id": args.VisitorID, "preferences": "(object)",
		}))
	}()

	if err := s.limiters.Check(toolSetPreferences); err != nil {
		return nil, PreferencesOutput{}, err
	}
	if err := s.engine.SetPreferences(args.VisitorID, args.Preferences); err != nil {
		return nil, PreferencesOutput{}, err
	}
	persisted := s.persist(ctx, "preferences", func(ctx context.Context) error {
		return s.settings.PutPreferences(ctx, args.VisitorID, args.Preferences)
	})
	return nil, PreferencesOutput{
		VisitorID:   args.VisitorID,
		Preferences: args.Preferences.Clone(),
		Persisted:   persisted,
	}, nil
}

// handleGetPreferences implements the popgate_get_preferences tool.
func (s *Server) handleGetPreferences(ctx context.Context, req *sdk.CallToolRequest, args GetPreferencesInput) (_ *sdk.CallToolResult, _ PreferencesOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(toolGetPreferences, start, retErr, sanitizeToolParams(map[string]interface{}{
			"visitor_id": args.VisitorID,
		}))
	}()

	if err := s.limiters.Check(toolGetPreferences); err != nil {
		return nil, PreferencesOutput{}, err
	}
	prefs, err := s.engine.GetPreferences(args.VisitorID)
	if err != nil {
		return nil, PreferencesOutput{}, err
	}
	return nil, PreferencesOutput{VisitorID: args.VisitorID, Preferences: prefs}, nil
}

// handleResetVisitor implements the popgate_reset_visitor tool.
func (s *Server) handleResetVisitor(ctx context.Context, req *sdk.CallToolRequest, args ResetVisitorInput) (_ *sdk.CallToolResult, _ RecordOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(toolResetVisitor, start, retErr, sanitizeToolParams(map[string]interface{}{
			"visitor_id": args.VisitorID, "popup_id": args.PopupID,
		}))
	}()

	if err := s.limiters.Check(toolResetVisitor); err != nil {
		return nil, RecordOutput{}, err
	}
	if err := s.engine.ResetVisitor(args.VisitorID, args.PopupID); err != nil {
		return nil, RecordOutput{}, err
	}

	msg := "cleared all show history"
	if args.PopupID != "" {
		msg = fmt.Sprintf("cleared show history for popup %s", args.PopupID)
	}
	return nil, RecordOutput{OK: true, Message: msg}, nil
}

// handleMarkBlocker implements the popgate_mark_blocker tool.
func (s *Server) handleMarkBlocker(ctx context.Context, req *sdk.CallToolRequest, args MarkBlockerInput) (_ *sdk.CallToolResult, _ RecordOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(toolMarkBlocker, start, retErr, sanitizeToolParams(map[string]interface{}{
			"visitor_id": args.VisitorID,
		}))
	}()

	if err := s.limiters.Check(toolMarkBlocker); err != nil {
		return nil, RecordOutput{}, err
	}
	if err := s.engine.MarkBlocker(args.VisitorID, args.Blocker); err != nil {
		return nil, RecordOutput{}, err
	}
	s.persist(ctx, "blocker", func(ctx context.Context) error {
		return s.settings.SetBlocker(ctx, args.VisitorID, args.Blocker)
	})
	return nil, RecordOutput{OK: true}, nil
}

// handleSummarize implements the popgate_summarize tool.
func (s *Server) handleSummarize(ctx context.Context, req *sdk.CallToolRequest, args SummarizeInput) (_ *sdk.CallToolResult, _ SummarizeOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(toolSummarize, start, retErr, sanitizeToolParams(map[string]interface{}{
			"window_days": args.WindowDays,
		}))
	}()

	if err := s.limiters.Check(toolSummarize); err != nil {
		return nil, SummarizeOutput{}, err
	}
	window := args.WindowDays
	if window == 0 {
		window = constants.DefaultReportWindowDays
	}
	report, err := s.engine.Summarize(window)
	if err != nil {
		return nil, SummarizeOutput{}, err
	}
	return nil, SummarizeOutput{Report: report}, nil
}

// handleExport implements the popgate_export tool.
func (s *Server) handleExport(ctx context.Context, req *sdk.CallToolRequest, args ExportInput) (_ *sdk.CallToolResult, _ ExportOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(toolExport, start, retErr, sanitizeToolParams(map[string]interface{}{
			"save": args.Save,
		}))
	}()

	if err := s.limiters.Check(toolExport); err != nil {
		return nil, ExportOutput{}, err
	}

	snap := s.engine.Snapshot()
	out := ExportOutput{Snapshot: snap}
	if !args.Save {
		return nil, out, nil
	}
	if s.snapshotDir == "" {
		return nil, ExportOutput{}, fmt.Errorf("no snapshot directory configured")
	}

	res, err := backup.Save(s.snapshotDir, snap, s.retention)
	if err != nil {
		return nil, ExportOutput{}, err
	}
	out.Path = res.Path
	out.Pruned = len(res.Deleted)
	s.logger.Info("snapshot saved", "path", res.Path, "rules", res.Header.RuleCount, "pruned", out.Pruned)
	return nil, out, nil
}

// persist runs fn against the settings store when one is configured and
// reports whether the change was written. Failures are logged, not returned.
func (s *Server) persist(ctx context.Context, what string, fn func(ctx context.Context) error) bool {
	if s.settings == nil {
		return false
	}
	if err := fn(ctx); err != nil {
		s.logger.Warn("failed to persist "+what, "error", err)
		return false
	}
	return true
}
