// Package analytics aggregates visitor show histories into advisory reports:
// show counts, a per-visitor frequency histogram, a behavior-state histogram
// and tuning suggestions. Reports are never fed back into the engine.
package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/nvandessel/popgate/internal/constants"
	"github.com/nvandessel/popgate/internal/models"
)

// VisitorView is the read-only slice of visitor state the aggregator needs.
// History is only valid for the duration of the callback that receives it.
type VisitorView struct {
	VisitorID string
	History   []models.ShowEvent
	State     models.VisitorState
}

// Source yields every known visitor. Implementations may lock per shard and
// need not present a globally consistent view.
type Source interface {
	EachVisitor(fn func(v VisitorView) bool)
}

// Bucket labels, in display order.
const (
	BucketNone     = "0"
	BucketOne      = "1"
	BucketFew      = "2-3"
	BucketSeveral  = "4-5"
	BucketMany     = "6-10"
	BucketExcess   = "10+"
	highFreqCutoff = 6
)

var bucketOrder = []string{BucketNone, BucketOne, BucketFew, BucketSeveral, BucketMany, BucketExcess}

// BucketCount is one row of the frequency histogram.
type BucketCount struct {
	Label    string `json:"label"`
	Visitors int    `json:"visitors"`
}

// PopupCount is the number of shows of one popup within the window.
type PopupCount struct {
	PopupID string `json:"popup_id"`
	Shown   int    `json:"shown"`
}

// Insights are heuristic tuning hints.
type Insights struct {
	RecommendedMaxPerDay       int      `json:"recommended_max_per_day"`
	RecommendedCooldownSeconds int      `json:"recommended_cooldown_seconds"`
	Suggestions                []string `json:"suggestions"`
}

// Report summarizes popup activity over a window.
type Report struct {
	WindowDays  int       `json:"window_days"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	GeneratedAt time.Time `json:"generated_at"`

	TotalShown     int `json:"total_shown"`
	UniqueVisitors int `json:"unique_visitors"`
	KnownVisitors  int `json:"known_visitors"`

	PerPopup       []PopupCount                `json:"per_popup"`
	Frequency      []BucketCount               `json:"frequency"`
	BehaviorStates map[models.VisitorState]int `json:"behavior_states"`

	Insights Insights `json:"insights"`
}

// Summarize scans src for shows within [now - windowDays, now].
func Summarize(src Source, windowDays int, now time.Time) (*Report, error) {
	if windowDays <= 0 {
		return nil, fmt.Errorf("%w: window must be at least one day, got %d", models.ErrInvalidArgument, windowDays)
	}

	from := now.AddDate(0, 0, -windowDays)
	perPopup := make(map[string]int)
	buckets := make(map[string]int, len(bucketOrder))
	states := make(map[models.VisitorState]int, len(models.AllVisitorStates))
	for _, s := range models.AllVisitorStates {
		states[s] = 0
	}

	r := &Report{
		WindowDays:     windowDays,
		From:           from,
		To:             now,
		GeneratedAt:    now,
		BehaviorStates: states,
	}

	src.EachVisitor(func(v VisitorView) bool {
		shown := 0
		for _, ev := range v.History {
			if ev.Timestamp.Before(from) || ev.Timestamp.After(now) {
				continue
			}
			shown++
			perPopup[ev.PopupID]++
		}

		r.KnownVisitors++
		r.TotalShown += shown
		if shown > 0 {
			r.UniqueVisitors++
		}
		buckets[Bucket(shown)]++
		states[v.State]++
		return true
	})

	for _, label := range bucketOrder {
		r.Frequency = append(r.Frequency, BucketCount{Label: label, Visitors: buckets[label]})
	}

	r.PerPopup = make([]PopupCount, 0, len(perPopup))
	for id, n := range perPopup {
		r.PerPopup = append(r.PerPopup, PopupCount{PopupID: id, Shown: n})
	}
	sort.Slice(r.PerPopup, func(i, j int) bool {
		if r.PerPopup[i].Shown != r.PerPopup[j].Shown {
			return r.PerPopup[i].Shown > r.PerPopup[j].Shown
		}
		return r.PerPopup[i].PopupID < r.PerPopup[j].PopupID
	})

	r.Insights = insights(r)
	return r, nil
}

// Bucket returns the histogram label for a visitor's show count.
func Bucket(shown int) string {
	switch {
	case shown <= 0:
		return BucketNone
	case shown == 1:
		return BucketOne
	case shown <= 3:
		return BucketFew
	case shown <= 5:
		return BucketSeveral
	case shown <= 10:
		return BucketMany
	default:
		return BucketExcess
	}
}

func insights(r *Report) Insights {
	in := Insights{
		RecommendedMaxPerDay:       constants.RecommendedMaxPerDay,
		RecommendedCooldownSeconds: int(constants.RecommendedCooldown / time.Second),
	}

	if r.TotalShown == 0 {
		in.Suggestions = append(in.Suggestions, "No popups were shown in this window; check that rules are not over-restrictive.")
		return in
	}

	highFreq := 0
	for _, b := range r.Frequency {
		if b.Label == BucketMany || b.Label == BucketExcess {
			highFreq += b.Visitors
		}
	}
	if share := float64(highFreq) / float64(r.UniqueVisitors); share > constants.HighFrequencyShare {
		in.Suggestions = append(in.Suggestions, fmt.Sprintf(
			"%.0f%% of active visitors saw %d or more popups; lower per-visitor caps to reduce fatigue.",
			share*100, highFreqCutoff))
	}

	if r.KnownVisitors > 0 {
		dismissers := r.BehaviorStates[models.StatePopupDismisser]
		if share := float64(dismissers) / float64(r.KnownVisitors); share > constants.HighDismisserShare {
			in.Suggestions = append(in.Suggestions, fmt.Sprintf(
				"%.0f%% of visitors mostly dismiss popups; consider longer cooldowns or fewer popups per session.",
				share*100))
		}
	}

	if len(r.PerPopup) > 1 && r.PerPopup[0].Shown*2 > r.TotalShown {
		in.Suggestions = append(in.Suggestions, fmt.Sprintf(
			"Popup %q accounts for most shows; check its rules and priority against the others.",
			r.PerPopup[0].PopupID))
	}

	if len(in.Suggestions) == 0 {
		in.Suggestions = append(in.Suggestions, "Display frequency looks healthy.")
	}
	return in
}
