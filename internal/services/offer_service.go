package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gradelab/buyback-service/internal/models"
	"github.com/gradelab/buyback-service/internal/negotiation"
	"github.com/gradelab/buyback-service/internal/notify"
	"github.com/gradelab/buyback-service/internal/payments"
	"github.com/gradelab/buyback-service/internal/pricing"
	"github.com/gradelab/buyback-service/internal/repository"
	"github.com/gradelab/buyback-service/internal/utils"

	"github.com/google/uuid"
)

const defaultDeadlineHours = 72

// OfferService validates input, consults the negotiation state machine and
// applies transitions through the repository's conditional updates.
type OfferService struct {
	Repo     repository.OfferRepository
	Notifier notify.Dispatcher
	Payments payments.Bridge
	Logger   *log.Logger
	Currency string
}

// NewOfferService creates a new OfferService instance.
func NewOfferService(repo repository.OfferRepository, notifier notify.Dispatcher, bridge payments.Bridge, logger *log.Logger) *OfferService {
	return &OfferService{
		Repo:     repo,
		Notifier: notifier,
		Payments: bridge,
		Logger:   logger,
		Currency: "usd",
	}
}

// CreateOffer validates the request, prices the cards and persists a new
// pending offer together with its card rows.
func (s *OfferService) CreateOffer(ctx context.Context, companyId string, req models.OfferRequest) (*models.BuybackOffer, error) {
	if req.CustomerID == "" {
		return nil, models.NewValidationError("customer_id is required")
	}
	deadlineHours := req.ResponseDeadlineHours
	if deadlineHours == 0 {
		deadlineHours = defaultDeadlineHours
	}
	if deadlineHours < 0 {
		return nil, models.NewValidationError("response_deadline_hours must not be negative")
	}

	quote, err := pricing.BuildQuote(req.Cards, req.IsBulkOffer, req.BulkDiscountPercent)
	if err != nil {
		return nil, err
	}

	customerExists, err := s.Repo.CustomerExists(ctx, companyId, req.CustomerID)
	if err != nil {
		return nil, s.internalError(err, "failed to check customer existence")
	}
	if !customerExists {
		return nil, models.NewNotFoundError("customer not found")
	}

	cardIds := make([]string, len(req.Cards))
	for i, card := range req.Cards {
		cardIds[i] = card.CardID
	}
	cardsExist, err := s.Repo.CardsExist(ctx, companyId, cardIds)
	if err != nil {
		return nil, s.internalError(err, "failed to check card existence")
	}
	if !cardsExist {
		return nil, models.NewNotFoundError("one or more cards not found")
	}

	now := time.Now().UTC()
	offer := &models.BuybackOffer{
		ID:                  uuid.New().String(),
		CompanyID:           companyId,
		CustomerID:          req.CustomerID,
		Status:              models.PendingOffer,
		OfferMessage:        req.OfferMessage,
		IsBulkOffer:         req.IsBulkOffer,
		BulkDiscountPercent: req.BulkDiscountPercent.Round(2),
		TotalOfferAmount:    quote.TotalOfferAmount,
		DiscountAmount:      quote.DiscountAmount,
		FinalOfferAmount:    quote.FinalOfferAmount,
		TotalGradingFees:    quote.TotalGradingFees,
		FinalPayout:         quote.FinalPayout,
		ExpiresAt:           now.Add(time.Duration(deadlineHours) * time.Hour),
		CreatedAt:           now,
		Cards:               quote.Cards,
	}
	if err := s.Repo.CreateOffer(ctx, offer); err != nil {
		return nil, s.internalError(err, "failed to create offer")
	}

	s.notify(notify.OfferCreated, offer, "customer:"+offer.CustomerID)
	return offer, nil
}

// GetOffer returns a single offer scoped to the company.
func (s *OfferService) GetOffer(ctx context.Context, companyId, offerId string) (*models.BuybackOffer, error) {
	return s.fetchOffer(ctx, companyId, offerId)
}

// ListOffers returns the company's offers with an optional status filter.
func (s *OfferService) ListOffers(ctx context.Context, companyId, statusFilter, limitStr, offsetStr string) ([]models.BuybackOffer, error) {
	limit, offset, err := utils.ParseLimitOffset(limitStr, offsetStr)
	if err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	var statuses []string
	for _, status := range strings.Split(statusFilter, ",") {
		status = strings.TrimSpace(status)
		if status == "" {
			continue
		}
		if !models.ValidStatus(models.OfferStatus(status)) {
			return nil, models.NewValidationError(fmt.Sprintf("invalid status filter %q", status))
		}
		statuses = append(statuses, status)
	}

	offers, err := s.Repo.ListOffers(ctx, companyId, statuses, limit, offset)
	if err != nil {
		return nil, s.internalError(err, "failed to fetch offers")
	}
	return offers, nil
}

// ListCustomerOffers returns one customer's offers within the company.
func (s *OfferService) ListCustomerOffers(ctx context.Context, companyId, customerId, limitStr, offsetStr string) ([]models.BuybackOffer, error) {
	if customerId == "" {
		return nil, models.NewValidationError("customerId is required")
	}
	limit, offset, err := utils.ParseLimitOffset(limitStr, offsetStr)
	if err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	customerExists, err := s.Repo.CustomerExists(ctx, companyId, customerId)
	if err != nil {
		return nil, s.internalError(err, "failed to check customer existence")
	}
	if !customerExists {
		return nil, models.NewNotFoundError("customer not found")
	}

	offers, err := s.Repo.ListCustomerOffers(ctx, companyId, customerId, limit, offset)
	if err != nil {
		return nil, s.internalError(err, "failed to fetch offers")
	}
	return offers, nil
}

// AcceptOffer applies the customer's acceptance of a pending offer.
func (s *OfferService) AcceptOffer(ctx context.Context, companyId, offerId string) (*models.BuybackOffer, error) {
	updated, err := s.customerTransition(ctx, companyId, offerId, negotiation.CustomerAccept, repository.OfferPatch{})
	if err != nil {
		return nil, err
	}
	s.notify(notify.OfferAccepted, updated, "company:"+updated.CompanyID)
	return updated, nil
}

// DeclineOffer applies the customer's refusal of a pending offer.
func (s *OfferService) DeclineOffer(ctx context.Context, companyId, offerId string) (*models.BuybackOffer, error) {
	updated, err := s.customerTransition(ctx, companyId, offerId, negotiation.CustomerDecline, repository.OfferPatch{})
	if err != nil {
		return nil, err
	}
	s.notify(notify.OfferDeclined, updated, "company:"+updated.CompanyID)
	return updated, nil
}

// CounterOffer records the customer's one-shot counter amount. The conditional
// update also requires counter_amount to still be NULL, so two concurrent
// submissions cannot both succeed.
func (s *OfferService) CounterOffer(ctx context.Context, companyId, offerId string, req models.CounterRequest) (*models.BuybackOffer, error) {
	if !req.CounterAmount.IsPositive() {
		return nil, models.NewValidationError("counter_amount must be greater than zero")
	}

	amount := req.CounterAmount.Round(2)
	message := req.CounterMessage
	patch := repository.OfferPatch{
		CounterAmount:  &amount,
		CounterMessage: &message,
	}
	updated, err := s.customerTransition(ctx, companyId, offerId, negotiation.CustomerCounter, patch)
	if err != nil {
		return nil, err
	}
	s.notify(notify.CounterSubmitted, updated, "company:"+updated.CompanyID)
	return updated, nil
}

// RespondToCounter applies the admin's decision on a counter-offer. An
// in_person response moves the offer back to pending and marks the flag.
func (s *OfferService) RespondToCounter(ctx context.Context, companyId, offerId string, req models.CounterDecisionRequest) (*models.BuybackOffer, error) {
	event, ok := negotiation.EventForCounterResponse(req.Response)
	if !ok {
		return nil, models.NewValidationError("response must be one of 'accepted', 'declined' or 'in_person'")
	}

	offer, err := s.fetchOffer(ctx, companyId, offerId)
	if err != nil {
		return nil, err
	}
	next, err := negotiation.Apply(offer, event)
	if err != nil {
		return nil, err
	}

	response := req.Response
	patch := repository.OfferPatch{Status: &next, AdminCounterResponse: &response}
	if req.Response == models.CounterInPerson {
		inPerson := true
		patch.InPersonRequested = &inPerson
	}

	updated, err := s.transition(ctx, offer, patch)
	if err != nil {
		return nil, err
	}

	eventType := map[models.CounterResponse]notify.EventType{
		models.CounterAccepted: notify.CounterAccepted,
		models.CounterDeclined: notify.CounterDeclined,
		models.CounterInPerson: notify.InPersonRequested,
	}[req.Response]
	s.notify(eventType, updated, "customer:"+updated.CustomerID)
	return updated, nil
}

// CancelOffer cancels any non-terminal offer.
func (s *OfferService) CancelOffer(ctx context.Context, companyId, offerId string) (*models.BuybackOffer, error) {
	offer, err := s.fetchOffer(ctx, companyId, offerId)
	if err != nil {
		return nil, err
	}
	next, err := negotiation.Apply(offer, negotiation.AdminCancel)
	if err != nil {
		return nil, err
	}

	updated, err := s.transition(ctx, offer, repository.OfferPatch{Status: &next})
	if err != nil {
		return nil, err
	}
	s.notify(notify.OfferCancelled, updated, "customer:"+updated.CustomerID)
	return updated, nil
}

// InitiatePayment creates a payment intent for an accepted offer and stores
// its reference. A bridge failure leaves the offer untouched so the call can
// be retried.
func (s *OfferService) InitiatePayment(ctx context.Context, companyId, offerId string) (*models.BuybackOffer, error) {
	offer, err := s.fetchOffer(ctx, companyId, offerId)
	if err != nil {
		return nil, err
	}
	if offer.Status != models.AcceptedOffer {
		return nil, models.NewConflictError(
			fmt.Sprintf("offer %s is %s, payment requires an accepted offer", offer.ID, offer.Status))
	}
	if offer.PaymentRef != "" {
		return nil, models.NewConflictError(
			fmt.Sprintf("offer %s: payment already initiated", offer.ID))
	}
	if !offer.FinalPayout.IsPositive() {
		return nil, models.NewValidationError("final payout must be positive to initiate payment")
	}

	intent, err := s.Payments.CreatePaymentIntent(ctx, payments.MinorUnits(offer.FinalPayout), s.Currency, map[string]string{
		"offer_id":    offer.ID,
		"company_id":  offer.CompanyID,
		"customer_id": offer.CustomerID,
	})
	if err != nil {
		s.Logger.Printf("payment intent creation for offer %s failed: %v", offer.ID, err)
		return nil, models.NewDependencyError(
			fmt.Sprintf("offer %s: payment bridge failed to create intent", offer.ID))
	}

	paymentRef := intent.ID
	return s.transition(ctx, offer, repository.OfferPatch{PaymentRef: &paymentRef})
}

// ConfirmPayment checks the stored payment intent and, once the provider
// reports it succeeded, moves the offer from accepted to paid.
func (s *OfferService) ConfirmPayment(ctx context.Context, companyId, offerId string) (*models.BuybackOffer, error) {
	offer, err := s.fetchOffer(ctx, companyId, offerId)
	if err != nil {
		return nil, err
	}
	next, err := negotiation.Apply(offer, negotiation.PaymentSucceeded)
	if err != nil {
		return nil, err
	}

	intent, err := s.Payments.GetPaymentIntent(ctx, offer.PaymentRef)
	if err != nil {
		s.Logger.Printf("payment intent lookup for offer %s failed: %v", offer.ID, err)
		return nil, models.NewDependencyError(
			fmt.Sprintf("offer %s: payment bridge failed to fetch intent", offer.ID))
	}
	if intent.Status != payments.StatusSucceeded {
		return nil, models.NewConflictError(
			fmt.Sprintf("offer %s: payment intent %s is %s, not %s", offer.ID, intent.ID, intent.Status, payments.StatusSucceeded))
	}

	now := time.Now().UTC()
	updated, err := s.transition(ctx, offer, repository.OfferPatch{Status: &next, PaidAt: &now})
	if err != nil {
		return nil, err
	}
	s.notify(notify.OfferPaid, updated, "customer:"+updated.CustomerID)
	return updated, nil
}

// DeleteOffer removes the offer and its card associations.
func (s *OfferService) DeleteOffer(ctx context.Context, companyId, offerId string) error {
	if offerId == "" {
		return models.NewValidationError("offerId is required")
	}
	deleted, err := s.Repo.DeleteOffer(ctx, offerId, companyId)
	if err != nil {
		return s.internalError(err, "failed to delete offer")
	}
	if !deleted {
		return models.NewNotFoundError("offer not found")
	}
	return nil
}

// customerTransition handles the shared path for accept/decline/counter:
// expiry check, guard evaluation and the conditional update with responded_at.
func (s *OfferService) customerTransition(ctx context.Context, companyId, offerId string, event negotiation.Event, patch repository.OfferPatch) (*models.BuybackOffer, error) {
	offer, err := s.fetchOffer(ctx, companyId, offerId)
	if err != nil {
		return nil, err
	}
	if offer.Expired(time.Now().UTC()) {
		return nil, models.NewValidationError(
			fmt.Sprintf("offer %s expired at %s", offer.ID, offer.ExpiresAt.Format(time.RFC3339)))
	}
	next, err := negotiation.Apply(offer, event)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	patch.Status = &next
	patch.RespondedAt = &now
	return s.transition(ctx, offer, patch)
}

// transition runs the conditional update with the offer's observed status as
// the expected one. A concurrent change surfaces as a conflict from the repo.
func (s *OfferService) transition(ctx context.Context, offer *models.BuybackOffer, patch repository.OfferPatch) (*models.BuybackOffer, error) {
	updated, err := s.Repo.Transition(ctx, offer.ID, offer.CompanyID, offer.Status, patch)
	if err != nil {
		return nil, s.internalError(err, "failed to update offer")
	}
	return updated, nil
}

func (s *OfferService) fetchOffer(ctx context.Context, companyId, offerId string) (*models.BuybackOffer, error) {
	if offerId == "" {
		return nil, models.NewValidationError("offerId is required")
	}
	offer, err := s.Repo.GetOffer(ctx, offerId, companyId)
	if err != nil {
		return nil, s.internalError(err, "failed to fetch offer")
	}
	return offer, nil
}

// notify is fire-and-forget: a dispatch failure is logged, never propagated.
func (s *OfferService) notify(eventType notify.EventType, offer *models.BuybackOffer, recipient string) {
	if s.Notifier == nil {
		return
	}
	event := notify.Event{Type: eventType, Offer: offer, Recipient: recipient}
	if err := s.Notifier.Dispatch(context.Background(), event); err != nil {
		s.Logger.Printf("notification %s for offer %s failed: %v", eventType, offer.ID, err)
	}
}

func (s *OfferService) internalError(err error, message string) error {
	var errResp *models.ErrorResponse
	if errors.As(err, &errResp) {
		return errResp
	}
	s.Logger.Printf("%s: %v", message, err)
	return models.NewErrorResponse(http.StatusInternalServerError, message)
}
