package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/popgate/internal/models"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  slog.Level
	}{
		{"info", "info", slog.LevelInfo},
		{"debug", "debug", slog.LevelDebug},
		{"trace", "trace", LevelTrace},
		{"uppercase DEBUG", "DEBUG", slog.LevelDebug},
		{"mixed case Trace", "Trace", LevelTrace},
		{"unknown defaults to info", "verbose", slog.LevelInfo},
		{"empty defaults to info", "", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		name       string
		level      string
		logAtDebug bool
	}{
		{"info filters debug", "info", false},
		{"debug passes debug", "debug", true},
		{"trace passes debug", "trace", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.level, &buf)

			logger.Debug("evaluating popup")
			if got := strings.Contains(buf.String(), "evaluating popup"); got != tt.logAtDebug {
				t.Errorf("debug message visible = %v, want %v (buf: %q)", got, tt.logAtDebug, buf.String())
			}

			buf.Reset()
			logger.Info("server started")
			if !strings.Contains(buf.String(), "server started") {
				t.Errorf("info message missing (buf: %q)", buf.String())
			}
		})
	}
}

func TestNewLogger_TraceLabel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("trace", &buf)
	logger.Log(t.Context(), LevelTrace, "rule matched")

	if !strings.Contains(buf.String(), "level=TRACE") {
		t.Errorf("expected TRACE level label, got %q", buf.String())
	}
}

func readEvents(t *testing.T, dir string) []map[string]any {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, DecisionFile))
	if err != nil {
		t.Fatalf("opening decision log: %v", err)
	}
	defer f.Close()

	var events []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev map[string]any
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("invalid JSON line %q: %v", sc.Text(), err)
		}
		events = append(events, ev)
	}
	return events
}

func TestNewDecisionLogger_InfoLevel(t *testing.T) {
	dir := t.TempDir()
	dl := NewDecisionLogger(dir, "info")
	if dl != nil {
		t.Error("expected nil DecisionLogger at info level")
	}

	// Nil logger is still usable.
	dl.LogShown("test", "v1", "p1", "s1", models.DisplayContext{})

	if _, err := os.Stat(filepath.Join(dir, DecisionFile)); err == nil {
		t.Error("decisions.jsonl should not exist at info level")
	}
}

func TestDecisionLogger_LogDecision(t *testing.T) {
	dir := t.TempDir()
	dl := NewDecisionLogger(dir, "debug")
	if dl == nil {
		t.Fatal("expected non-nil DecisionLogger at debug level")
	}

	denied := models.Decision{
		Allowed: false,
		Reason:  "cooldown active",
		Check:   models.CheckCooldown,
		State:   models.StatePopupDismisser,
	}
	dl.LogDecision("mcp", "v1", "p1", "s1", models.DisplayContext{Page: "/cart"}, denied)
	dl.LogDecision("mcp", "v1", "p2", "s1", models.DisplayContext{}, models.Decision{Allowed: true})
	dl.Close()

	events := readEvents(t, dir)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	first := events[0]
	if first["event"] != "evaluate" || first["visitor_id"] != "v1" || first["popup_id"] != "p1" {
		t.Errorf("unexpected event %v", first)
	}
	if first["allowed"] != false {
		t.Errorf("allowed = %v, want false", first["allowed"])
	}
	if first["check"] != string(models.CheckCooldown) {
		t.Errorf("check = %v, want cooldown", first["check"])
	}
	if _, ok := first["time"]; !ok {
		t.Error("expected time field")
	}
	// Debug level does not include the display context.
	if _, ok := first["context"]; ok {
		t.Error("context should only be logged at trace level")
	}

	if events[1]["allowed"] != true {
		t.Errorf("allowed = %v, want true", events[1]["allowed"])
	}
}

func TestDecisionLogger_TraceIncludesContext(t *testing.T) {
	dir := t.TempDir()
	dl := NewDecisionLogger(dir, "trace")
	dl.LogShown("replay", "v1", "p1", "s1", models.DisplayContext{Page: "/checkout", Device: "mobile"})
	dl.Close()

	events := readEvents(t, dir)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ctx, ok := events[0]["context"].(map[string]any)
	if !ok {
		t.Fatalf("expected context object, got %v", events[0]["context"])
	}
	if ctx["page"] != "/checkout" || ctx["device"] != "mobile" {
		t.Errorf("unexpected context %v", ctx)
	}
}

func TestDecisionLogger_LogInteraction(t *testing.T) {
	dir := t.TempDir()
	dl := NewDecisionLogger(dir, "debug")
	dl.LogInteraction("cli", "v1", "p1", models.ActionDismissed, models.StatePopupDismisser)
	dl.Close()

	events := readEvents(t, dir)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0]["action"] != string(models.ActionDismissed) || events[0]["state"] != string(models.StatePopupDismisser) {
		t.Errorf("unexpected event %v", events[0])
	}
	if _, ok := events[0]["allowed"]; ok {
		t.Error("interaction events carry no allowed field")
	}
}

func TestDecisionLogger_NilSafety(t *testing.T) {
	var dl *DecisionLogger
	dl.LogDecision("test", "v", "p", "s", models.DisplayContext{}, models.Decision{})
	dl.LogShown("test", "v", "p", "s", models.DisplayContext{})
	dl.LogInteraction("test", "v", "p", models.ActionClicked, models.StateEngagedUser)
	dl.Close()
}

func TestDecisionLogger_LogAfterClose(t *testing.T) {
	dir := t.TempDir()
	dl := NewDecisionLogger(dir, "debug")

	dl.LogShown("test", "v1", "p1", "s1", models.DisplayContext{})
	dl.Close()
	dl.LogShown("test", "v1", "p1", "s1", models.DisplayContext{})

	if n := len(readEvents(t, dir)); n != 1 {
		t.Errorf("expected 1 event after close, got %d", n)
	}
}

func TestNewDecisionLogger_CreatesDir(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "sub", "dir")

	dl := NewDecisionLogger(nested, "debug")
	if dl == nil {
		t.Fatal("expected non-nil DecisionLogger when dir needs creation")
	}
	defer dl.Close()

	if _, err := os.Stat(filepath.Join(nested, DecisionFile)); err != nil {
		t.Fatalf("decisions.jsonl should exist after dir creation: %v", err)
	}
}

func TestDecisionLogger_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	dl := NewDecisionLogger(dir, "debug")
	defer dl.Close()

	info, err := os.Stat(filepath.Join(dir, DecisionFile))
	if err != nil {
		t.Fatalf("failed to stat decisions.jsonl: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permissions = %o, want 0600", perm)
	}
}
