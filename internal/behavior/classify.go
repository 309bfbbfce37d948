// Package behavior classifies visitors from their behavior profiles and turns
// the classification into admission policy: priorities, throttle rates,
// suggested display hours and adaptive cap adjustments.
//
// Everything here is a pure function of its inputs.
package behavior

import (
	"github.com/nvandessel/popgate/internal/constants"
	"github.com/nvandessel/popgate/internal/models"
)

// Classify maps a profile to a visitor state. The first matching rule wins:
//
//  1. explicit blocker signal → popup_blocker
//  2. nothing shown yet → new_visitor
//  3. conversion ratio above 0.10 → converted_user
//  4. dismissal ratio above 0.80 → popup_dismisser
//  5. more than 5 interactions with dismissal ratio below 0.30 → engaged_user
//  6. shown more than once → returning_visitor
//  7. otherwise → new_visitor
//
// A nil profile is a new visitor.
func Classify(p *models.BehaviorProfile) models.VisitorState {
	if p == nil {
		return models.StateNewVisitor
	}
	if p.Blocker {
		return models.StatePopupBlocker
	}
	if p.TotalShown == 0 {
		return models.StateNewVisitor
	}

	conv := p.ConversionRatio()
	dism := p.DismissRatio()

	switch {
	case conv > constants.ConvertedRatioThreshold:
		return models.StateConvertedUser
	case dism > constants.DismisserRatioThreshold:
		return models.StatePopupDismisser
	case p.Interactions > constants.EngagedMinInteractions && dism < constants.EngagedMaxDismissRatio:
		return models.StateEngagedUser
	case p.TotalShown > 1:
		return models.StateReturningVisitor
	default:
		return models.StateNewVisitor
	}
}

// priorities scores admitted visitors; higher means more worth showing to.
var priorities = map[models.VisitorState]float64{
	models.StateEngagedUser:      0.9,
	models.StateNewVisitor:       0.8,
	models.StateReturningVisitor: 0.6,
	models.StateConvertedUser:    0.3,
	models.StatePopupDismisser:   0.2,
	models.StatePopupBlocker:     0,
}

// Priority returns the display priority for a state.
func Priority(state models.VisitorState) float64 {
	return priorities[state]
}
