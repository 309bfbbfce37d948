package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nvandessel/popgate/internal/analytics"
	"github.com/nvandessel/popgate/internal/constants"
	"github.com/nvandessel/popgate/internal/engine"
	"github.com/nvandessel/popgate/internal/logging"
	"github.com/nvandessel/popgate/internal/models"
	"github.com/spf13/cobra"
)

// maxReplayLine bounds a single event line.
const maxReplayLine = 1 << 20

// replayEvent is one line of a replay log. Type selects which fields apply.
type replayEvent struct {
	Type      string                `json:"type"`
	At        time.Time             `json:"at,omitempty"`
	VisitorID string                `json:"visitor_id,omitempty"`
	PopupID   string                `json:"popup_id,omitempty"`
	SessionID string                `json:"session_id,omitempty"`
	Context   models.DisplayContext `json:"context,omitempty"`

	// interaction
	Action string `json:"action,omitempty"`

	// rule
	Kind       string                 `json:"kind,omitempty"`
	Value      float64                `json:"value,omitempty"`
	Priority   int                    `json:"priority,omitempty"`
	Disabled   bool                   `json:"disabled,omitempty"`
	Conditions map[string]interface{} `json:"conditions,omitempty"`

	// preferences
	Preferences *models.Preferences `json:"preferences,omitempty"`

	// blocker; absent means true
	Blocker *bool `json:"blocker,omitempty"`
}

// replayDecision is the outcome of one evaluate event.
type replayDecision struct {
	Line      int             `json:"line"`
	VisitorID string          `json:"visitor_id"`
	PopupID   string          `json:"popup_id"`
	SessionID string          `json:"session_id"`
	Decision  models.Decision `json:"decision"`
}

// replayResult is everything a replay produces.
type replayResult struct {
	Events    int                  `json:"events"`
	Decisions []replayDecision     `json:"decisions"`
	Allowed   int                  `json:"allowed"`
	Denied    map[models.Check]int `json:"denied"`
	Report    *analytics.Report    `json:"report"`
}

// replayClock is the engine clock during a replay. It follows event timestamps.
type replayClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *replayClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *replayClock) advance(t time.Time) {
	if t.IsZero() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// replayer feeds events into an engine.
type replayer struct {
	eng       *engine.Engine
	clock     *replayClock
	decisions *logging.DecisionLogger
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <events.jsonl>",
		Short: "Replay an event log through a fresh engine",
		Long: `Replay a JSONL event log through a fresh engine and print every decision,
followed by an analytics report. Use it to try caps and rules offline.

Each line is one event:
  {"type":"evaluate","visitor_id":"v1","popup_id":"newsletter","session_id":"s1","at":"2026-05-04T10:00:00Z"}
  {"type":"shown","visitor_id":"v1","popup_id":"newsletter","session_id":"s1"}
  {"type":"interaction","visitor_id":"v1","popup_id":"newsletter","action":"dismissed"}
  {"type":"rule","popup_id":"newsletter","kind":"max_per_day","value":100}
  {"type":"preferences","visitor_id":"v1","preferences":{"max_per_day":1}}
  {"type":"reset","visitor_id":"v1","popup_id":"newsletter"}
  {"type":"blocker","visitor_id":"v2","blocker":true}

Events without "at" happen at the time of the previous event.

Examples:
  popgate replay events.jsonl
  popgate replay events.jsonl --seed 42 --window 30 --json
  cat events.jsonl | popgate replay -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			seed, _ := cmd.Flags().GetUint64("seed")
			window, _ := cmd.Flags().GetInt("window")
			noSettings, _ := cmd.Flags().GetBool("no-settings")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// Replays are always deterministic.
			if cmd.Flags().Changed("seed") || cfg.Engine.Seed == 0 {
				cfg.Engine.Seed = seed
			}

			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open event log: %w", err)
				}
				defer f.Close()
				in = f
			}

			clock := &replayClock{now: time.Now().UTC()}
			eng, err := buildEngine(cfg, engine.WithClock(clock.Now))
			if err != nil {
				return fmt.Errorf("failed to create engine: %w", err)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if !noSettings {
				settings, err := openSettings(cfg)
				if err != nil {
					return err
				}
				_, err = restoreSettings(ctx, eng, settings)
				settings.Close()
				if err != nil {
					return err
				}
			}

			dataDir, err := cfg.DataDir()
			if err != nil {
				return err
			}
			decisions := logging.NewDecisionLogger(dataDir, cfg.Logging.Level)
			defer decisions.Close()

			r := &replayer{eng: eng, clock: clock, decisions: decisions}
			result, err := r.run(in, window)
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(cmd.OutOrStdout(), result)
			}
			printReplay(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().Uint64("seed", 1, "Throttle random seed (default: engine.seed from config, else 1)")
	cmd.Flags().Int("window", constants.DefaultReportWindowDays, "Report window in days")
	cmd.Flags().Bool("no-settings", false, "Start from an empty engine instead of the stored settings")
	return cmd
}

// run applies every event in r and summarizes the result over windowDays.
func (r *replayer) run(in io.Reader, windowDays int) (*replayResult, error) {
	result := &replayResult{
		Decisions: []replayDecision{},
		Denied:    make(map[models.Check]int),
	}

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), maxReplayLine)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var ev replayEvent
		if err := json.Unmarshal([]byte(text), &ev); err != nil {
			return nil, fmt.Errorf("line %d: invalid event: %w", line, err)
		}
		d, err := r.apply(ev)
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", line, ev.Type, err)
		}
		result.Events++

		if d == nil {
			continue
		}
		result.Decisions = append(result.Decisions, replayDecision{
			Line:      line,
			VisitorID: ev.VisitorID,
			PopupID:   ev.PopupID,
			SessionID: ev.SessionID,
			Decision:  *d,
		})
		if d.Allowed {
			result.Allowed++
		} else {
			result.Denied[d.Check]++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading event log: %w", err)
	}

	report, err := r.eng.Summarize(windowDays)
	if err != nil {
		return nil, err
	}
	result.Report = report
	return result, nil
}

// apply runs one event. Only evaluate events return a decision.
func (r *replayer) apply(ev replayEvent) (*models.Decision, error) {
	r.clock.advance(ev.At)
	at := r.clock.Now()

	switch ev.Type {
	case "evaluate":
		d, err := r.eng.Evaluate(ev.VisitorID, ev.PopupID, ev.SessionID, ev.Context, at)
		if err != nil {
			return nil, err
		}
		r.decisions.LogDecision("replay", ev.VisitorID, ev.PopupID, ev.SessionID, ev.Context, d)
		return &d, nil

	case "shown":
		if err := r.eng.RecordShown(ev.VisitorID, ev.PopupID, ev.SessionID, ev.Context, at); err != nil {
			return nil, err
		}
		r.decisions.LogShown("replay", ev.VisitorID, ev.PopupID, ev.SessionID, ev.Context)
		return nil, nil

	case "interaction":
		res, err := r.eng.RecordInteraction(ev.VisitorID, ev.PopupID, models.Action(ev.Action), ev.Context, at)
		if err != nil {
			return nil, err
		}
		r.decisions.LogInteraction("replay", ev.VisitorID, ev.PopupID, models.Action(ev.Action), res.State)
		return nil, nil

	case "rule":
		kind, err := models.ParseRuleKind(ev.Kind)
		if err != nil {
			return nil, err
		}
		_, err = r.eng.SetRule(ev.PopupID, kind, ev.Value, models.RuleOptions{
			Enabled:    !ev.Disabled,
			Priority:   ev.Priority,
			Conditions: ev.Conditions,
		})
		return nil, err

	case "preferences":
		var prefs models.Preferences
		if ev.Preferences != nil {
			prefs = *ev.Preferences
		}
		return nil, r.eng.SetPreferences(ev.VisitorID, prefs)

	case "reset":
		return nil, r.eng.ResetVisitor(ev.VisitorID, ev.PopupID)

	case "blocker":
		blocker := ev.Blocker == nil || *ev.Blocker
		return nil, r.eng.MarkBlocker(ev.VisitorID, blocker)

	default:
		return nil, fmt.Errorf("%w: unknown event type %q", models.ErrInvalidArgument, ev.Type)
	}
}

func printReplay(w io.Writer, res *replayResult) {
	for _, d := range res.Decisions {
		at := d.Decision.EvaluatedAt.UTC().Format(time.RFC3339)
		if d.Decision.Allowed {
			fmt.Fprintf(w, "%4d  %s  %-12s %-16s ALLOW  priority=%.2f state=%s\n",
				d.Line, at, d.VisitorID, d.PopupID, d.Decision.Priority, d.Decision.State)
			continue
		}
		fmt.Fprintf(w, "%4d  %s  %-12s %-16s DENY   %s: %s\n",
			d.Line, at, d.VisitorID, d.PopupID, d.Decision.Check, d.Decision.Reason)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Events: %d  Decisions: %d  Allowed: %d\n", res.Events, len(res.Decisions), res.Allowed)
	for _, c := range []models.Check{
		models.CheckGlobalDailyCap, models.CheckVisitorDailyCap, models.CheckSessionCap,
		models.CheckCooldown, models.CheckBehavior, models.CheckPageRule, models.CheckTimeWindowCap,
	} {
		if n := res.Denied[c]; n > 0 {
			fmt.Fprintf(w, "  denied by %-18s %d\n", c+":", n)
		}
	}

	printReport(w, res.Report)
}

func printReport(w io.Writer, rep *analytics.Report) {
	if rep == nil {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Report (last %d days, %s to %s)\n", rep.WindowDays,
		rep.From.UTC().Format("2006-01-02"), rep.To.UTC().Format("2006-01-02"))
	fmt.Fprintf(w, "  shown: %d  unique visitors: %d  known visitors: %d\n",
		rep.TotalShown, rep.UniqueVisitors, rep.KnownVisitors)

	if len(rep.PerPopup) > 0 {
		fmt.Fprintln(w, "  per popup:")
		for _, p := range rep.PerPopup {
			fmt.Fprintf(w, "    %-20s %d\n", p.PopupID, p.Shown)
		}
	}
	fmt.Fprintln(w, "  shows per visitor:")
	for _, b := range rep.Frequency {
		fmt.Fprintf(w, "    %-6s %d\n", b.Label, b.Visitors)
	}
	if len(rep.BehaviorStates) > 0 {
		fmt.Fprintln(w, "  behavior states:")
		for _, st := range []models.VisitorState{
			models.StateNewVisitor, models.StateReturningVisitor, models.StateEngagedUser,
			models.StateConvertedUser, models.StatePopupDismisser, models.StatePopupBlocker,
		} {
			if n, ok := rep.BehaviorStates[st]; ok {
				fmt.Fprintf(w, "    %-18s %d\n", st, n)
			}
		}
	}
	fmt.Fprintf(w, "  recommended max per day: %d  recommended cooldown: %ds\n",
		rep.Insights.RecommendedMaxPerDay, rep.Insights.RecommendedCooldownSeconds)
	for _, s := range rep.Insights.Suggestions {
		fmt.Fprintf(w, "  - %s\n", s)
	}
}
