package behavior

import (
	"math"

	"github.com/nvandessel/popgate/internal/constants"
	"github.com/nvandessel/popgate/internal/models"
)

// Adjust applies the adaptive policy for one recorded action and returns the
// visitor's new preferences. The input preferences are not modified.
//
//	dismissed → max_per_day = max(1, floor(current × 0.8))
//	converted → max_per_day = 1
//	blocked   → max_per_day = 0
//	clicked   → no cap change
//
// current is the visitor's override, or defaultMaxPerDay when none is set.
func Adjust(prefs models.Preferences, action models.Action, defaultMaxPerDay int) models.Preferences {
	out := prefs.Clone()

	current := defaultMaxPerDay
	if prefs.MaxPerDay != nil {
		current = *prefs.MaxPerDay
	}

	switch action {
	case models.ActionDismissed:
		next := int(math.Floor(float64(current) * constants.DismissDecayFactor))
		if next < 1 {
			next = 1
		}
		// A cap already below 1 came from a block or an explicit override;
		// dismissals never raise it.
		if current < next {
			next = current
		}
		out.MaxPerDay = models.IntPtr(next)
	case models.ActionConverted:
		out.MaxPerDay = models.IntPtr(constants.ConvertedMaxPerDay)
	case models.ActionBlocked:
		out.MaxPerDay = models.IntPtr(0)
	}
	return out
}

// UpdateResponseAverage folds one observed response time into the profile's
// average as a 2-sample running mean. The first observation seeds it.
func UpdateResponseAverage(p *models.BehaviorProfile, responseMs int64) {
	if responseMs < 0 {
		return
	}
	if p.ResponseTimeAvgMs == 0 {
		p.ResponseTimeAvgMs = float64(responseMs)
		return
	}
	p.ResponseTimeAvgMs = (p.ResponseTimeAvgMs + float64(responseMs)) / 2
}
