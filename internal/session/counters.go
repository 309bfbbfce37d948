package session

import (
	"fmt"
	"time"

	"github.com/nvandessel/popgate/internal/models"
	"github.com/nvandessel/popgate/internal/store"
)

const (
	counterShards = 4
	// maxCountedDays keeps a little over a year of day counters.
	maxCountedDays = 400
)

// DayCounters counts shows per popup per UTC calendar day, independent of
// which visitor saw them.
type DayCounters struct {
	days *store.Sharded[models.DayCounter]
}

// NewDayCounters creates an empty set of day counters.
func NewDayCounters() (*DayCounters, error) {
	days, err := store.NewSharded(counterShards, maxCountedDays, func(day string) *models.DayCounter {
		return &models.DayCounter{Day: day, PerPopup: make(map[string]int)}
	})
	if err != nil {
		return nil, fmt.Errorf("creating day counters: %w", err)
	}
	return &DayCounters{days: days}, nil
}

// Increment counts one show of popupID on the UTC day containing at.
func (c *DayCounters) Increment(popupID string, at time.Time) {
	c.days.Update(models.DayKey(at), func(d *models.DayCounter) {
		d.PerPopup[popupID]++
	})
}

// Count returns the shows of popupID on the UTC day containing at.
func (c *DayCounters) Count(popupID string, at time.Time) int {
	n := 0
	c.days.View(models.DayKey(at), func(d *models.DayCounter) {
		n = d.PerPopup[popupID]
	})
	return n
}
