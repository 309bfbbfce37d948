package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nvandessel/popgate/internal/models"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	s, err := NewState(Config{Shards: 4, MaxSessions: 1000})
	if err != nil {
		t.Fatalf("NewState() error = %v", err)
	}
	return s
}

func TestState_RecordShow(t *testing.T) {
	s := newTestState(t)
	t0 := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	s.RecordShow("s1", "p1", models.DisplayContext{Page: "/"}, t0)
	s.RecordShow("s1", "p2", models.DisplayContext{Page: "/cart"}, t0.Add(time.Minute))

	if got := s.Count("s1"); got != 2 {
		t.Errorf("Count(s1) = %d, want 2", got)
	}

	rec := s.Get("s1")
	if rec == nil {
		t.Fatal("Get(s1) = nil")
	}
	if !rec.StartTime.Equal(t0) {
		t.Errorf("StartTime = %v, want %v", rec.StartTime, t0)
	}
	if rec.Shown[1].PopupID != "p2" || rec.Shown[1].Context.Page != "/cart" {
		t.Errorf("Shown[1] = %+v", rec.Shown[1])
	}
}

func TestState_SessionIsolation(t *testing.T) {
	s := newTestState(t)
	now := time.Now()

	s.RecordShow("s2", "p1", models.DisplayContext{}, now)
	before := s.Count("s2")

	for i := 0; i < 5; i++ {
		s.RecordShow("s1", "p1", models.DisplayContext{}, now)
	}

	if got := s.Count("s2"); got != before {
		t.Errorf("Count(s2) = %d after s1 shows, want %d", got, before)
	}
	if s.Count("unknown") != 0 {
		t.Error("unknown session should have zero shows")
	}
	if s.Get("unknown") != nil {
		t.Error("Get(unknown) should be nil")
	}
}

func TestState_GetReturnsCopy(t *testing.T) {
	s := newTestState(t)
	s.RecordShow("s1", "p1", models.DisplayContext{Attributes: map[string]string{"k": "v"}}, time.Now())

	rec := s.Get("s1")
	rec.Shown = append(rec.Shown, models.SessionShow{PopupID: "fake"})
	rec.Shown[0].Context.Attributes["k"] = "changed"

	again := s.Get("s1")
	if len(again.Shown) != 1 || again.Shown[0].Context.Attributes["k"] != "v" {
		t.Errorf("store mutated through returned copy: %+v", again)
	}
}

func TestState_Concurrent(t *testing.T) {
	s := newTestState(t)
	now := time.Now()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.RecordShow(fmt.Sprintf("s%d", g%2), "p1", models.DisplayContext{}, now)
			}
		}(g)
	}
	wg.Wait()

	if total := s.Count("s0") + s.Count("s1"); total != 400 {
		t.Errorf("total shows = %d, want 400", total)
	}
}

func TestDayCounters(t *testing.T) {
	c, err := NewDayCounters()
	if err != nil {
		t.Fatal(err)
	}

	late := time.Date(2026, 4, 1, 23, 59, 0, 0, time.UTC)
	nextDay := late.Add(2 * time.Minute)

	c.Increment("p1", late)
	c.Increment("p1", late)
	c.Increment("p2", late)
	c.Increment("p1", nextDay)

	if got := c.Count("p1", late); got != 2 {
		t.Errorf("Count(p1, day1) = %d, want 2", got)
	}
	if got := c.Count("p1", nextDay); got != 1 {
		t.Errorf("Count(p1, day2) = %d, want 1", got)
	}
	if got := c.Count("p3", late); got != 0 {
		t.Errorf("Count(p3) = %d, want 0", got)
	}
	if got := c.Count("p2", late); got != 1 {
		t.Errorf("Count(p2, day1) = %d, want 1", got)
	}
}

func TestDayCounters_UsesUTCDay(t *testing.T) {
	c, _ := NewDayCounters()
	east := time.FixedZone("UTC+5", 5*3600)

	// 2026-04-02 02:00 at UTC+5 is still 2026-04-01 in UTC.
	c.Increment("p1", time.Date(2026, 4, 2, 2, 0, 0, 0, east))
	if got := c.Count("p1", time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}
