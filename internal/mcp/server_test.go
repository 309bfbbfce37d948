package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/popgate/internal/engine"
	"github.com/nvandessel/popgate/internal/models"
)

func newTestEngine(t *testing.T, now *time.Time) *engine.Engine {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.Shards = 4
	cfg.MaxVisitors = 1000
	cfg.MaxSessions = 1000
	eng, err := engine.New(cfg,
		engine.WithClock(func() time.Time { return *now }),
		engine.WithRand(engine.FixedRand(0)),
	)
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	return eng
}

func TestNewServer(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	server, err := NewServer(&Config{
		Name:     "test-server",
		Version:  "v1.0.0",
		Engine:   newTestEngine(t, &now),
		AuditDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Close()

	if server.server == nil {
		t.Error("Server.server is nil")
	}
	if server.limiters != nil {
		t.Error("rate limits should be off unless requested")
	}
	if server.audit == nil {
		t.Error("audit logger should be opened when AuditDir is set")
	}
	if server.logger == nil {
		t.Error("a discard logger should be installed when none is given")
	}
}

func TestNewServer_RequiresEngine(t *testing.T) {
	if _, err := NewServer(&Config{Name: "x"}); err == nil {
		t.Error("expected error without an engine")
	}
	if _, err := NewServer(nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestNewServer_RateLimits(t *testing.T) {
	now := time.Now()
	server, err := NewServer(&Config{Name: "x", Engine: newTestEngine(t, &now), RateLimits: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := server.limiters[toolEvaluate]; !ok {
		t.Error("expected a limiter for popgate_evaluate")
	}
}

func TestResources(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	eng := newTestEngine(t, &now)
	if _, err := eng.SetRule("newsletter", models.RuleMaxPerDay, 2, models.RuleOptions{Enabled: true}); err != nil {
		t.Fatal(err)
	}
	server, err := NewServer(&Config{Name: "x", Engine: eng})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	res, err := server.handleRulesResource(ctx, &sdk.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("rules resource: %v", err)
	}
	var rules []models.FrequencyRule
	if err := json.Unmarshal([]byte(res.Contents[0].Text), &rules); err != nil {
		t.Fatalf("rules resource is not JSON: %v", err)
	}
	if len(rules) != 1 || rules[0].PopupID != "newsletter" {
		t.Errorf("unexpected rules %+v", rules)
	}

	res, err = server.handleStatsResource(ctx, &sdk.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("stats resource: %v", err)
	}
	var stats engine.Stats
	if err := json.Unmarshal([]byte(res.Contents[0].Text), &stats); err != nil {
		t.Fatalf("stats resource is not JSON: %v", err)
	}
	if stats.Rules != 1 {
		t.Errorf("stats.Rules = %d, want 1", stats.Rules)
	}
}

func TestParseAt(t *testing.T) {
	got, err := parseAt("")
	if err != nil || !got.IsZero() {
		t.Errorf("parseAt(\"\") = %v, %v; want zero time", got, err)
	}

	got, err = parseAt("2026-05-04T10:15:00Z")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(time.Date(2026, 5, 4, 10, 15, 0, 0, time.UTC)) {
		t.Errorf("parseAt = %v", got)
	}

	if _, err := parseAt("yesterday"); err == nil {
		t.Error("expected error for non-RFC 3339 input")
	}
}
