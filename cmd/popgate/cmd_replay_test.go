package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/popgate/internal/config"
	"github.com/nvandessel/popgate/internal/engine"
	"github.com/nvandessel/popgate/internal/models"
)

const cooldownLog = `
# one visitor, one popup
{"type":"evaluate","visitor_id":"v1","popup_id":"newsletter","session_id":"s1","at":"2026-05-04T10:00:00Z"}
{"type":"shown","visitor_id":"v1","popup_id":"newsletter","session_id":"s1"}
{"type":"evaluate","visitor_id":"v1","popup_id":"newsletter","session_id":"s1","at":"2026-05-04T10:10:00Z"}
{"type":"evaluate","visitor_id":"v1","popup_id":"newsletter","session_id":"s1","at":"2026-05-04T10:31:00Z"}
`

func newTestReplayer(t *testing.T) *replayer {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.Shards = 4
	cfg.Engine.MaxVisitors = 1000
	cfg.Engine.Seed = 1

	clock := &replayClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	eng, err := buildEngine(cfg, engine.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("buildEngine failed: %v", err)
	}
	return &replayer{eng: eng, clock: clock}
}

func TestReplayer_Cooldown(t *testing.T) {
	r := newTestReplayer(t)

	res, err := r.run(strings.NewReader(cooldownLog), 7)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Events != 4 {
		t.Errorf("events = %d, want 4", res.Events)
	}
	if len(res.Decisions) != 3 {
		t.Fatalf("decisions = %d, want 3", len(res.Decisions))
	}

	want := []bool{true, false, true}
	for i, d := range res.Decisions {
		if d.Decision.Allowed != want[i] {
			t.Errorf("decision %d (line %d): allowed = %v, want %v", i, d.Line, d.Decision.Allowed, want[i])
		}
	}
	if res.Decisions[1].Decision.Check != models.CheckCooldown {
		t.Errorf("second decision check = %s, want cooldown", res.Decisions[1].Decision.Check)
	}
	if res.Allowed != 2 || res.Denied[models.CheckCooldown] != 1 {
		t.Errorf("unexpected tallies allowed=%d denied=%v", res.Allowed, res.Denied)
	}
	if res.Report == nil || res.Report.TotalShown != 1 {
		t.Errorf("expected report with one show, got %+v", res.Report)
	}
}

func TestReplayer_SettingsEvents(t *testing.T) {
	r := newTestReplayer(t)
	log := `
{"type":"rule","popup_id":"promo","kind":"max_per_day","value":1,"at":"2026-05-04T10:00:00Z"}
{"type":"evaluate","visitor_id":"v1","popup_id":"promo","session_id":"s1"}
{"type":"shown","visitor_id":"v1","popup_id":"promo","session_id":"s1"}
{"type":"evaluate","visitor_id":"v2","popup_id":"promo","session_id":"s2"}
{"type":"preferences","visitor_id":"v3","preferences":{"opted_out":true}}
{"type":"evaluate","visitor_id":"v3","popup_id":"other","session_id":"s3"}
{"type":"blocker","visitor_id":"v4"}
{"type":"evaluate","visitor_id":"v4","popup_id":"other","session_id":"s4"}
`
	res, err := r.run(strings.NewReader(log), 7)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	checks := []models.Check{"", models.CheckGlobalDailyCap, models.CheckVisitorDailyCap, models.CheckBehavior}
	if len(res.Decisions) != len(checks) {
		t.Fatalf("decisions = %d, want %d", len(res.Decisions), len(checks))
	}
	for i, want := range checks {
		if got := res.Decisions[i].Decision.Check; got != want {
			t.Errorf("decision %d: check = %q, want %q", i, got, want)
		}
	}
}

func TestReplayer_InteractionAndReset(t *testing.T) {
	r := newTestReplayer(t)
	log := `
{"type":"shown","visitor_id":"v1","popup_id":"p1","session_id":"s1","at":"2026-05-04T10:00:00Z"}
{"type":"interaction","visitor_id":"v1","popup_id":"p1","action":"dismissed","at":"2026-05-04T10:00:05Z"}
{"type":"reset","visitor_id":"v1","popup_id":"p1"}
{"type":"evaluate","visitor_id":"v1","popup_id":"p1","session_id":"s2"}
`
	res, err := r.run(strings.NewReader(log), 7)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(res.Decisions) != 1 {
		t.Fatalf("decisions = %d, want 1", len(res.Decisions))
	}
	// Reset clears show history but not the behavior profile: only the
	// dismisser throttle may still deny.
	d := res.Decisions[0].Decision
	if !d.Allowed && d.Check != models.CheckBehavior {
		t.Errorf("expected reset to clear cooldown and caps, got %s: %s", d.Check, d.Reason)
	}
	if d.State != models.StatePopupDismisser {
		t.Errorf("state = %s, want popup_dismisser", d.State)
	}

	prefs, err := r.eng.GetPreferences("v1")
	if err != nil {
		t.Fatal(err)
	}
	if prefs.MaxPerDay == nil || *prefs.MaxPerDay != 2 {
		t.Errorf("expected adaptive max per day 2 after a dismissal, got %v", prefs.MaxPerDay)
	}
}

func TestReplayer_Errors(t *testing.T) {
	tests := []struct {
		name     string
		log      string
		wantLine string
		wantErr  error
	}{
		{"bad json", "{\"type\":\"evaluate\"\n", "line 1", nil},
		{"unknown type", "\n{\"type\":\"teleport\"}\n", "line 2", models.ErrInvalidArgument},
		{"missing visitor", `{"type":"evaluate","popup_id":"p","session_id":"s"}`, "line 1", models.ErrInvalidArgument},
		{"unknown action", `{"type":"interaction","visitor_id":"v","popup_id":"p","action":"liked"}`, "line 1", models.ErrInvalidArgument},
		{"unknown rule kind", `{"type":"rule","popup_id":"p","kind":"max_per_year","value":1}`, "line 1", models.ErrUnknownRule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestReplayer(t).run(strings.NewReader(tt.log), 7)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantLine) {
				t.Errorf("error %q does not name %s", err, tt.wantLine)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReplayCmd(t *testing.T) {
	cfgPath := setupTestConfig(t)
	logPath := filepath.Join(t.TempDir(), "events.jsonl")
	if err := os.WriteFile(logPath, []byte(cooldownLog), 0600); err != nil {
		t.Fatal(err)
	}

	out := mustRun(t, "replay", logPath, "--no-settings", "--config", cfgPath)
	if !strings.Contains(out, "ALLOW") || !strings.Contains(out, "DENY   cooldown") {
		t.Errorf("unexpected text output:\n%s", out)
	}
	if !strings.Contains(out, "Report (last 7 days") {
		t.Errorf("missing report:\n%s", out)
	}

	out = mustRun(t, "replay", logPath, "--json", "--window", "1", "--config", cfgPath)
	var res replayResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(res.Decisions) != 3 || res.Report.WindowDays != 1 {
		t.Errorf("unexpected result: %d decisions, window %d", len(res.Decisions), res.Report.WindowDays)
	}
}

func TestReplayCmd_UsesStoredSettings(t *testing.T) {
	cfgPath := setupTestConfig(t)
	mustRun(t, "rules", "set", "newsletter", "max_per_day", "0", "--config", cfgPath)

	logPath := filepath.Join(t.TempDir(), "events.jsonl")
	if err := os.WriteFile(logPath, []byte(cooldownLog), 0600); err != nil {
		t.Fatal(err)
	}

	out := mustRun(t, "replay", logPath, "--json", "--config", cfgPath)
	var res replayResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if res.Allowed != 0 || res.Denied[models.CheckGlobalDailyCap] != 3 {
		t.Errorf("expected every decision denied by the stored global cap, got allowed=%d denied=%v", res.Allowed, res.Denied)
	}
}

func TestParseConditions(t *testing.T) {
	got, err := parseConditions([]string{"device=mobile", "page=/cart=1"})
	if err != nil {
		t.Fatal(err)
	}
	if got["device"] != "mobile" || got["page"] != "/cart=1" {
		t.Errorf("unexpected conditions %v", got)
	}

	if got, err := parseConditions(nil); err != nil || got != nil {
		t.Errorf("empty input: got %v, %v", got, err)
	}
	if _, err := parseConditions([]string{"=x"}); !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("empty key: got %v, want ErrInvalidArgument", err)
	}
}
