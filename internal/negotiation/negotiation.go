// Package negotiation holds the buyback-offer state machine. It knows nothing
// about HTTP or SQL; the service layer asks it whether a transition is legal
// and the repository enforces the same guard as a conditional update.
package negotiation

import (
	"fmt"

	"github.com/gradelab/buyback-service/internal/models"
)

// Event identifies an action attempted against an offer.
type Event string

const (
	CustomerAccept       Event = "customer_accept"
	CustomerDecline      Event = "customer_decline"
	CustomerCounter      Event = "customer_counter"
	AdminCounterAccepted Event = "admin_counter_accepted"
	AdminCounterDeclined Event = "admin_counter_declined"
	AdminCounterInPerson Event = "admin_counter_in_person"
	AdminCancel          Event = "admin_cancel"
	PaymentSucceeded     Event = "payment_succeeded"
)

// transitions maps the current status to the events allowed from it and the
// status each event leads to. Statuses absent from the map are terminal.
var transitions = map[models.OfferStatus]map[Event]models.OfferStatus{
	models.PendingOffer: {
		CustomerAccept:  models.AcceptedOffer,
		CustomerDecline: models.DeclinedOffer,
		CustomerCounter: models.CounterOfferedOffer,
		AdminCancel:     models.CancelledOffer,
	},
	models.CounterOfferedOffer: {
		AdminCounterAccepted: models.AcceptedOffer,
		AdminCounterDeclined: models.DeclinedOffer,
		AdminCounterInPerson: models.PendingOffer,
		AdminCancel:          models.CancelledOffer,
	},
	models.AcceptedOffer: {
		PaymentSucceeded: models.PaidOffer,
		AdminCancel:      models.CancelledOffer,
	},
}

// Apply checks whether event is legal for the offer's current state and
// returns the resulting status. A failed guard returns a conflict error
// naming the current status; the stored offer is never touched here.
func Apply(offer *models.BuybackOffer, event Event) (models.OfferStatus, error) {
	next, ok := transitions[offer.Status][event]
	if !ok {
		return "", models.NewConflictError(
			fmt.Sprintf("offer %s: %s not allowed from status %s", offer.ID, event, offer.Status))
	}
	if event == CustomerCounter && offer.CounterAmount.Valid {
		return "", models.NewConflictError(
			fmt.Sprintf("offer %s: counter-offer already submitted", offer.ID))
	}
	if event == PaymentSucceeded && offer.PaymentRef == "" {
		return "", models.NewConflictError(
			fmt.Sprintf("offer %s: no payment intent on record", offer.ID))
	}
	return next, nil
}

// EventForCounterResponse maps the admin's counter decision to its event.
func EventForCounterResponse(response models.CounterResponse) (Event, bool) {
	switch response {
	case models.CounterAccepted:
		return AdminCounterAccepted, true
	case models.CounterDeclined:
		return AdminCounterDeclined, true
	case models.CounterInPerson:
		return AdminCounterInPerson, true
	}
	return "", false
}
