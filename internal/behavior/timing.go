package behavior

import "time"

// SuggestedHour returns the UTC hour of day with the most interactions.
// Ties go to the earliest hour. ok is false when there are no interactions.
func SuggestedHour(timestamps []time.Time) (hour int, ok bool) {
	if len(timestamps) == 0 {
		return 0, false
	}

	var counts [24]int
	for _, ts := range timestamps {
		counts[ts.UTC().Hour()]++
	}

	best := 0
	for h := 1; h < 24; h++ {
		if counts[h] > counts[best] {
			best = h
		}
	}
	return best, true
}
