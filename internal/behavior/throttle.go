package behavior

import (
	"github.com/nvandessel/popgate/internal/constants"
	"github.com/nvandessel/popgate/internal/models"
)

// Rates are the base admission probabilities for throttled states.
type Rates struct {
	// Dismisser is the admission probability at the dismisser threshold.
	// It falls linearly as the dismissal ratio approaches 1, but never below
	// constants.DismisserMinAdmitShare of itself.
	Dismisser float64
	// Converted is the flat residual admission probability for converted visitors.
	Converted float64
}

// DefaultRates returns the stock throttling rates.
func DefaultRates() Rates {
	return Rates{
		Dismisser: constants.DefaultDismisserAdmitRate,
		Converted: constants.DefaultConvertedAdmitRate,
	}
}

// AdmitRate returns the probability in [0, 1] with which a visitor in the
// given state is admitted by the behavior check. Blockers get 0, unthrottled
// states get 1.
func AdmitRate(state models.VisitorState, p *models.BehaviorProfile, r Rates) float64 {
	switch state {
	case models.StatePopupBlocker:
		return 0
	case models.StateConvertedUser:
		return clamp01(r.Converted)
	case models.StatePopupDismisser:
		if p == nil {
			return clamp01(r.Dismisser)
		}
		headroom := (1 - p.DismissRatio()) / (1 - constants.DismisserRatioThreshold)
		return clamp01(r.Dismisser * max(clamp01(headroom), constants.DismisserMinAdmitShare))
	default:
		return 1
	}
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
