package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/nvandessel/popgate/internal/models"
)

// Schedule restricts popups to the minutes matched by a cron expression,
// e.g. "* 9-17 * * 1-5" for weekday business hours. Popups without an
// expression are never restricted. Times are evaluated in UTC.
type Schedule struct {
	mu    sync.Mutex // gronx.Gronx keeps per-call state
	gron  *gronx.Gronx
	exprs map[string]string
}

// NewSchedule creates an empty schedule.
func NewSchedule() *Schedule {
	return &Schedule{
		gron:  gronx.New(),
		exprs: make(map[string]string),
	}
}

// Set assigns a cron expression to popupID.
func (s *Schedule) Set(popupID, expr string) error {
	if popupID == "" {
		return fmt.Errorf("%w: popup id is required", models.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.gron.IsValid(expr) {
		return fmt.Errorf("%w: invalid cron expression %q", models.ErrInvalidArgument, expr)
	}
	s.exprs[popupID] = expr
	return nil
}

// Check reports whether popupID may show at the given time. When it may not,
// next is the start of the next matching minute, or zero if none was found.
func (s *Schedule) Check(popupID string, _ models.DisplayContext, at time.Time) (ok bool, reason string, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expr, has := s.exprs[popupID]
	if !has {
		return true, "", time.Time{}
	}

	ref := at.UTC().Truncate(time.Minute)
	due, err := s.gron.IsDue(expr, ref)
	if err != nil {
		return false, fmt.Sprintf("schedule %q could not be evaluated", expr), time.Time{}
	}
	if due {
		return true, "", time.Time{}
	}

	reason = fmt.Sprintf("outside display schedule %q", expr)
	if n, err := gronx.NextTickAfter(expr, ref, false); err == nil {
		next = n
	}
	return false, reason, next
}
