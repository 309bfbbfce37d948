// Package logging provides leveled logging and a decision trace for popgate.
// It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - A DecisionLogger appending admission decisions and recorded events
//     to <data dir>/decisions.jsonl
//
// The engine itself never logs; only the CLI and MCP surfaces use this package.
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nvandessel/popgate/internal/models"
)

// LevelTrace is a custom slog level below Debug. At this level the decision
// trace also includes display contexts.
const LevelTrace = slog.LevelDebug - 4

// DecisionFile is the name of the JSONL decision trace.
const DecisionFile = "decisions.jsonl"

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing text to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// DecisionLogger writes admission decisions and recorded events to a JSONL
// file. It is safe for concurrent use. A nil DecisionLogger is safe to use;
// all methods are no-ops on a nil receiver.
type DecisionLogger struct {
	mu          sync.Mutex
	file        *os.File
	withContext bool
	nowFunc     func() time.Time
}

// NewDecisionLogger creates a decision logger writing to dir/decisions.jsonl.
// At "info" level (the default) it returns nil and no file is created.
// At "debug" or "trace" level the file is opened for append.
// Returns nil if the file cannot be opened.
func NewDecisionLogger(dir string, level string) *DecisionLogger {
	lvl := ParseLevel(level)
	if lvl == slog.LevelInfo {
		return nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}

	path := filepath.Join(dir, DecisionFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}

	return &DecisionLogger{
		file:        f,
		withContext: lvl <= LevelTrace,
		nowFunc:     time.Now,
	}
}

// DecisionEvent is one line of the decision trace.
type DecisionEvent struct {
	Event     string                 `json:"event"`
	VisitorID string                 `json:"visitor_id,omitempty"`
	PopupID   string                 `json:"popup_id,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Allowed   *bool                  `json:"allowed,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Check     models.Check           `json:"check,omitempty"`
	State     models.VisitorState    `json:"state,omitempty"`
	Action    models.Action          `json:"action,omitempty"`
	Context   *models.DisplayContext `json:"context,omitempty"`
	Source    string                 `json:"source,omitempty"`
	Time      string                 `json:"time"`
}

// LogDecision records the outcome of one Evaluate call.
func (dl *DecisionLogger) LogDecision(source, visitorID, popupID, sessionID string, dc models.DisplayContext, d models.Decision) {
	if dl == nil {
		return
	}
	allowed := d.Allowed
	dl.write(DecisionEvent{
		Event:     "evaluate",
		Source:    source,
		VisitorID: visitorID,
		PopupID:   popupID,
		SessionID: sessionID,
		Allowed:   &allowed,
		Reason:    d.Reason,
		Check:     d.Check,
		State:     d.State,
	}, dc)
}

// LogShown records a RecordShown call.
func (dl *DecisionLogger) LogShown(source, visitorID, popupID, sessionID string, dc models.DisplayContext) {
	if dl == nil {
		return
	}
	dl.write(DecisionEvent{
		Event:     "shown",
		Source:    source,
		VisitorID: visitorID,
		PopupID:   popupID,
		SessionID: sessionID,
	}, dc)
}

// LogInteraction records a RecordInteraction call and the resulting state.
func (dl *DecisionLogger) LogInteraction(source, visitorID, popupID string, action models.Action, state models.VisitorState) {
	if dl == nil {
		return
	}
	dl.write(DecisionEvent{
		Event:     "interaction",
		Source:    source,
		VisitorID: visitorID,
		PopupID:   popupID,
		Action:    action,
		State:     state,
	}, models.DisplayContext{})
}

func (dl *DecisionLogger) write(ev DecisionEvent, dc models.DisplayContext) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	if dl.file == nil {
		return
	}
	if dl.withContext && !isEmptyContext(dc) {
		cp := dc.Clone()
		ev.Context = &cp
	}
	ev.Time = dl.nowFunc().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = dl.file.Write(data)
}

func isEmptyContext(dc models.DisplayContext) bool {
	return dc.Page == "" && dc.Referrer == "" && dc.Device == "" && dc.Locale == "" && len(dc.Attributes) == 0
}

// Close closes the underlying file. Safe to call on nil receiver.
func (dl *DecisionLogger) Close() {
	if dl == nil {
		return
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()

	if dl.file == nil {
		return
	}
	dl.file.Close()
	dl.file = nil
}
