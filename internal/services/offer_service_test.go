package services_test

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/gradelab/buyback-service/internal/models"
	"github.com/gradelab/buyback-service/internal/notify"
	"github.com/gradelab/buyback-service/internal/payments"
	"github.com/gradelab/buyback-service/internal/repository"
	"github.com/gradelab/buyback-service/internal/services"

	"github.com/shopspring/decimal"
)

// memRepo implements repository.OfferRepository in memory with the same
// conditional-update semantics as the Postgres implementation.
type memRepo struct {
	mu        sync.Mutex
	offers    map[string]*models.BuybackOffer
	customers map[string]bool
	cards     map[string]bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		offers:    make(map[string]*models.BuybackOffer),
		customers: make(map[string]bool),
		cards:     make(map[string]bool),
	}
}

func (m *memRepo) addCustomer(companyId, customerId string) {
	m.customers[companyId+"/"+customerId] = true
}

func (m *memRepo) addCard(companyId, cardId string) {
	m.cards[companyId+"/"+cardId] = true
}

func copyOffer(o *models.BuybackOffer) *models.BuybackOffer {
	c := *o
	c.Cards = append([]models.OfferCard(nil), o.Cards...)
	return &c
}

func (m *memRepo) CreateOffer(_ context.Context, offer *models.BuybackOffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers[offer.ID] = copyOffer(offer)
	return nil
}

func (m *memRepo) GetOffer(_ context.Context, offerId, companyId string) (*models.BuybackOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	offer, ok := m.offers[offerId]
	if !ok || offer.CompanyID != companyId {
		return nil, models.NewNotFoundError("offer not found")
	}
	return copyOffer(offer), nil
}

func (m *memRepo) ListOffers(_ context.Context, companyId string, statuses []string, limit, offset int) ([]models.BuybackOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var offers []models.BuybackOffer
	for _, offer := range m.offers {
		if offer.CompanyID != companyId {
			continue
		}
		if len(statuses) > 0 {
			match := false
			for _, status := range statuses {
				if offer.Status == models.OfferStatus(status) {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		offers = append(offers, *copyOffer(offer))
	}
	return offers, nil
}

func (m *memRepo) ListCustomerOffers(_ context.Context, companyId, customerId string, limit, offset int) ([]models.BuybackOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var offers []models.BuybackOffer
	for _, offer := range m.offers {
		if offer.CompanyID == companyId && offer.CustomerID == customerId {
			offers = append(offers, *copyOffer(offer))
		}
	}
	return offers, nil
}

func (m *memRepo) Transition(_ context.Context, offerId, companyId string, expected models.OfferStatus, patch repository.OfferPatch) (*models.BuybackOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	offer, ok := m.offers[offerId]
	if !ok || offer.CompanyID != companyId {
		return nil, models.NewNotFoundError("offer not found")
	}
	if offer.Status != expected {
		return nil, models.NewConflictError(fmt.Sprintf("offer %s is %s, expected %s", offerId, offer.Status, expected))
	}
	if patch.CounterAmount != nil && offer.CounterAmount.Valid {
		return nil, models.NewConflictError(fmt.Sprintf("offer %s: update precondition failed in status %s", offerId, offer.Status))
	}
	if patch.PaymentRef != nil && offer.PaymentRef != "" {
		return nil, models.NewConflictError(fmt.Sprintf("offer %s: update precondition failed in status %s", offerId, offer.Status))
	}

	if patch.Status != nil {
		offer.Status = *patch.Status
	}
	if patch.RespondedAt != nil {
		respondedAt := *patch.RespondedAt
		offer.RespondedAt = &respondedAt
	}
	if patch.CounterAmount != nil {
		offer.CounterAmount = decimal.NewNullDecimal(*patch.CounterAmount)
	}
	if patch.CounterMessage != nil {
		offer.CounterMessage = *patch.CounterMessage
	}
	if patch.AdminCounterResponse != nil {
		offer.AdminCounterResponse = *patch.AdminCounterResponse
	}
	if patch.InPersonRequested != nil {
		offer.InPersonRequested = *patch.InPersonRequested
	}
	if patch.PaymentRef != nil {
		offer.PaymentRef = *patch.PaymentRef
	}
	if patch.PaidAt != nil {
		paidAt := *patch.PaidAt
		offer.PaidAt = &paidAt
	}
	return copyOffer(offer), nil
}

func (m *memRepo) DeleteOffer(_ context.Context, offerId, companyId string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	offer, ok := m.offers[offerId]
	if !ok || offer.CompanyID != companyId {
		return false, nil
	}
	delete(m.offers, offerId)
	return true, nil
}

func (m *memRepo) CustomerExists(_ context.Context, companyId, customerId string) (bool, error) {
	return m.customers[companyId+"/"+customerId], nil
}

func (m *memRepo) CardsExist(_ context.Context, companyId string, cardIds []string) (bool, error) {
	for _, cardId := range cardIds {
		if !m.cards[companyId+"/"+cardId] {
			return false, nil
		}
	}
	return len(cardIds) > 0, nil
}

type fakeBridge struct {
	createErr    error
	getErr       error
	intentStatus string
	created      int
}

func (f *fakeBridge) CreatePaymentIntent(_ context.Context, amountMinor int64, currency string, metadata map[string]string) (*payments.Intent, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created++
	return &payments.Intent{ID: fmt.Sprintf("pi_%d", f.created), Status: "requires_confirmation"}, nil
}

func (f *fakeBridge) GetPaymentIntent(_ context.Context, id string) (*payments.Intent, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &payments.Intent{ID: id, Status: f.intentStatus}, nil
}

type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *captureNotifier) Dispatch(_ context.Context, event notify.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureNotifier) types() []notify.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	var types []notify.EventType
	for _, event := range c.events {
		types = append(types, event.Type)
	}
	return types
}

type fixture struct {
	repo     *memRepo
	bridge   *fakeBridge
	notifier *captureNotifier
	svc      *services.OfferService
}

func newFixture() *fixture {
	repo := newMemRepo()
	repo.addCustomer("co-1", "cust-1")
	repo.addCard("co-1", "card-1")
	repo.addCard("co-1", "card-2")

	bridge := &fakeBridge{intentStatus: "requires_confirmation"}
	notifier := &captureNotifier{}
	logger := log.New(io.Discard, "", 0)
	return &fixture{
		repo:     repo,
		bridge:   bridge,
		notifier: notifier,
		svc:      services.NewOfferService(repo, notifier, bridge, logger),
	}
}

func (f *fixture) createOffer(t *testing.T, req models.OfferRequest) *models.BuybackOffer {
	t.Helper()
	offer, err := f.svc.CreateOffer(context.Background(), "co-1", req)
	if err != nil {
		t.Fatalf("CreateOffer returned error: %v", err)
	}
	return offer
}

func bulkRequest() models.OfferRequest {
	return models.OfferRequest{
		CustomerID: "cust-1",
		Cards: []models.CardRequest{
			{CardID: "card-1", OfferAmount: decimal.RequireFromString("100"), GradingFee: decimal.RequireFromString("10")},
			{CardID: "card-2", OfferAmount: decimal.RequireFromString("50"), GradingFee: decimal.RequireFromString("5")},
		},
		IsBulkOffer:         true,
		BulkDiscountPercent: decimal.RequireFromString("10"),
	}
}

func wantErrorKind(t *testing.T, err error, kind models.ErrorKind) *models.ErrorResponse {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	errResp, ok := err.(*models.ErrorResponse)
	if !ok {
		t.Fatalf("expected *models.ErrorResponse, got %T: %v", err, err)
	}
	if errResp.Kind != kind {
		t.Fatalf("error kind = %s (%q), want %s", errResp.Kind, errResp.Message, kind)
	}
	return errResp
}

func TestCreateOfferBulkDiscount(t *testing.T) {
	f := newFixture()
	offer := f.createOffer(t, bulkRequest())

	if offer.Status != models.PendingOffer {
		t.Errorf("status = %s, want %s", offer.Status, models.PendingOffer)
	}
	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"TotalOfferAmount", offer.TotalOfferAmount, "150"},
		{"DiscountAmount", offer.DiscountAmount, "15"},
		{"FinalOfferAmount", offer.FinalOfferAmount, "135"},
		{"FinalPayout", offer.FinalPayout, "120"},
	}
	for _, check := range checks {
		if !check.got.Equal(decimal.RequireFromString(check.want)) {
			t.Errorf("%s = %s, want %s", check.name, check.got, check.want)
		}
	}
	if len(offer.Cards) != 2 {
		t.Fatalf("expected 2 cards, got %d", len(offer.Cards))
	}
	if got := f.notifier.types(); len(got) != 1 || got[0] != notify.OfferCreated {
		t.Errorf("notifications = %v, want [%s]", got, notify.OfferCreated)
	}
}

func TestCreateOfferValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.CreateOffer(ctx, "co-1", models.OfferRequest{CustomerID: "cust-1"})
	wantErrorKind(t, err, models.KindValidation)

	req := bulkRequest()
	req.CustomerID = ""
	_, err = f.svc.CreateOffer(ctx, "co-1", req)
	wantErrorKind(t, err, models.KindValidation)

	req = bulkRequest()
	req.CustomerID = "cust-unknown"
	_, err = f.svc.CreateOffer(ctx, "co-1", req)
	wantErrorKind(t, err, models.KindNotFound)

	req = bulkRequest()
	req.Cards[1].CardID = "card-unknown"
	_, err = f.svc.CreateOffer(ctx, "co-1", req)
	wantErrorKind(t, err, models.KindNotFound)
}

func TestCounterOfferIsOneShot(t *testing.T) {
	f := newFixture()
	offer := f.createOffer(t, bulkRequest())
	ctx := context.Background()

	counter := models.CounterRequest{CounterAmount: decimal.RequireFromString("120"), CounterMessage: "would do 120"}
	updated, err := f.svc.CounterOffer(ctx, "co-1", offer.ID, counter)
	if err != nil {
		t.Fatalf("CounterOffer returned error: %v", err)
	}
	if updated.Status != models.CounterOfferedOffer {
		t.Errorf("status = %s, want %s", updated.Status, models.CounterOfferedOffer)
	}
	if !updated.CounterAmount.Valid || !updated.CounterAmount.Decimal.Equal(decimal.RequireFromString("120")) {
		t.Errorf("counter amount = %v, want 120", updated.CounterAmount)
	}

	_, err = f.svc.CounterOffer(ctx, "co-1", offer.ID, counter)
	wantErrorKind(t, err, models.KindConflict)
}

func TestRespondToCounterInPerson(t *testing.T) {
	f := newFixture()
	offer := f.createOffer(t, bulkRequest())
	ctx := context.Background()

	counter := models.CounterRequest{CounterAmount: decimal.RequireFromString("130")}
	if _, err := f.svc.CounterOffer(ctx, "co-1", offer.ID, counter); err != nil {
		t.Fatalf("CounterOffer returned error: %v", err)
	}

	updated, err := f.svc.RespondToCounter(ctx, "co-1", offer.ID, models.CounterDecisionRequest{Response: models.CounterInPerson})
	if err != nil {
		t.Fatalf("RespondToCounter returned error: %v", err)
	}
	if updated.Status != models.PendingOffer {
		t.Errorf("status = %s, want %s", updated.Status, models.PendingOffer)
	}
	if !updated.InPersonRequested {
		t.Error("in_person_requested not set")
	}
	if updated.AdminCounterResponse != models.CounterInPerson {
		t.Errorf("admin_counter_response = %s, want %s", updated.AdminCounterResponse, models.CounterInPerson)
	}

	// The one-shot rule survives the revert to pending.
	_, err = f.svc.CounterOffer(ctx, "co-1", offer.ID, counter)
	wantErrorKind(t, err, models.KindConflict)
}

func TestRespondToCounterValidatesResponse(t *testing.T) {
	f := newFixture()
	offer := f.createOffer(t, bulkRequest())

	_, err := f.svc.RespondToCounter(context.Background(), "co-1", offer.ID, models.CounterDecisionRequest{Response: "maybe"})
	wantErrorKind(t, err, models.KindValidation)
}

func TestConcurrentAcceptDecline(t *testing.T) {
	f := newFixture()
	offer := f.createOffer(t, bulkRequest())
	ctx := context.Background()

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.svc.AcceptOffer(ctx, "co-1", offer.ID)
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := f.svc.DeclineOffer(ctx, "co-1", offer.ID)
		errs <- err
	}()
	wg.Wait()
	close(errs)

	var wins, conflicts int
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		wantErrorKind(t, err, models.KindConflict)
		conflicts++
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("wins = %d, conflicts = %d, want exactly one of each", wins, conflicts)
	}

	final, err := f.svc.GetOffer(ctx, "co-1", offer.ID)
	if err != nil {
		t.Fatalf("GetOffer returned error: %v", err)
	}
	if final.Status != models.AcceptedOffer && final.Status != models.DeclinedOffer {
		t.Errorf("final status = %s, want accepted or declined", final.Status)
	}
	if final.RespondedAt == nil {
		t.Error("responded_at not recorded")
	}
}

func TestInitiatePaymentBridgeFailure(t *testing.T) {
	f := newFixture()
	offer := f.createOffer(t, bulkRequest())
	ctx := context.Background()

	if _, err := f.svc.AcceptOffer(ctx, "co-1", offer.ID); err != nil {
		t.Fatalf("AcceptOffer returned error: %v", err)
	}

	f.bridge.createErr = fmt.Errorf("bridge unavailable")
	_, err := f.svc.InitiatePayment(ctx, "co-1", offer.ID)
	wantErrorKind(t, err, models.KindDependency)

	unchanged, err := f.svc.GetOffer(ctx, "co-1", offer.ID)
	if err != nil {
		t.Fatalf("GetOffer returned error: %v", err)
	}
	if unchanged.Status != models.AcceptedOffer || unchanged.PaymentRef != "" {
		t.Fatalf("offer changed after bridge failure: status=%s payment_ref=%q", unchanged.Status, unchanged.PaymentRef)
	}

	// A retry after the bridge recovers succeeds.
	f.bridge.createErr = nil
	updated, err := f.svc.InitiatePayment(ctx, "co-1", offer.ID)
	if err != nil {
		t.Fatalf("retry InitiatePayment returned error: %v", err)
	}
	if updated.PaymentRef == "" {
		t.Error("payment_ref not stored on retry")
	}
	if updated.Status != models.AcceptedOffer {
		t.Errorf("status = %s, want %s", updated.Status, models.AcceptedOffer)
	}

	_, err = f.svc.InitiatePayment(ctx, "co-1", offer.ID)
	wantErrorKind(t, err, models.KindConflict)
}

func TestConfirmPayment(t *testing.T) {
	f := newFixture()
	offer := f.createOffer(t, bulkRequest())
	ctx := context.Background()

	if _, err := f.svc.AcceptOffer(ctx, "co-1", offer.ID); err != nil {
		t.Fatalf("AcceptOffer returned error: %v", err)
	}

	// Confirming before an intent exists is refused.
	_, err := f.svc.ConfirmPayment(ctx, "co-1", offer.ID)
	wantErrorKind(t, err, models.KindConflict)

	if _, err := f.svc.InitiatePayment(ctx, "co-1", offer.ID); err != nil {
		t.Fatalf("InitiatePayment returned error: %v", err)
	}

	// Still refused while the provider has not finished the payment.
	_, err = f.svc.ConfirmPayment(ctx, "co-1", offer.ID)
	wantErrorKind(t, err, models.KindConflict)

	f.bridge.intentStatus = payments.StatusSucceeded
	paid, err := f.svc.ConfirmPayment(ctx, "co-1", offer.ID)
	if err != nil {
		t.Fatalf("ConfirmPayment returned error: %v", err)
	}
	if paid.Status != models.PaidOffer {
		t.Errorf("status = %s, want %s", paid.Status, models.PaidOffer)
	}
	if paid.PaidAt == nil {
		t.Error("paid_at not recorded")
	}

	// Terminal: nothing moves a paid offer.
	_, err = f.svc.CancelOffer(ctx, "co-1", offer.ID)
	wantErrorKind(t, err, models.KindConflict)
}

func TestExpiredOfferRejectsCustomerActions(t *testing.T) {
	f := newFixture()
	offer := f.createOffer(t, bulkRequest())
	ctx := context.Background()

	f.repo.mu.Lock()
	f.repo.offers[offer.ID].ExpiresAt = time.Now().UTC().Add(-time.Hour)
	f.repo.mu.Unlock()

	_, err := f.svc.AcceptOffer(ctx, "co-1", offer.ID)
	wantErrorKind(t, err, models.KindValidation)

	counter := models.CounterRequest{CounterAmount: decimal.RequireFromString("120")}
	_, err = f.svc.CounterOffer(ctx, "co-1", offer.ID, counter)
	wantErrorKind(t, err, models.KindValidation)

	// Admin cancel is not deadline-bound.
	cancelled, err := f.svc.CancelOffer(ctx, "co-1", offer.ID)
	if err != nil {
		t.Fatalf("CancelOffer returned error: %v", err)
	}
	if cancelled.Status != models.CancelledOffer {
		t.Errorf("status = %s, want %s", cancelled.Status, models.CancelledOffer)
	}
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture()
	offer := f.createOffer(t, bulkRequest())
	ctx := context.Background()

	_, err := f.svc.GetOffer(ctx, "co-2", offer.ID)
	wantErrorKind(t, err, models.KindNotFound)

	_, err = f.svc.AcceptOffer(ctx, "co-2", offer.ID)
	wantErrorKind(t, err, models.KindNotFound)

	err = f.svc.DeleteOffer(ctx, "co-2", offer.ID)
	wantErrorKind(t, err, models.KindNotFound)
}

func TestDeleteOffer(t *testing.T) {
	f := newFixture()
	offer := f.createOffer(t, bulkRequest())
	ctx := context.Background()

	if err := f.svc.DeleteOffer(ctx, "co-1", offer.ID); err != nil {
		t.Fatalf("DeleteOffer returned error: %v", err)
	}
	_, err := f.svc.GetOffer(ctx, "co-1", offer.ID)
	wantErrorKind(t, err, models.KindNotFound)

	err = f.svc.DeleteOffer(ctx, "co-1", offer.ID)
	wantErrorKind(t, err, models.KindNotFound)
}

func TestListOffersStatusFilter(t *testing.T) {
	f := newFixture()
	first := f.createOffer(t, bulkRequest())
	f.createOffer(t, bulkRequest())
	ctx := context.Background()

	if _, err := f.svc.AcceptOffer(ctx, "co-1", first.ID); err != nil {
		t.Fatalf("AcceptOffer returned error: %v", err)
	}

	accepted, err := f.svc.ListOffers(ctx, "co-1", "accepted", "", "")
	if err != nil {
		t.Fatalf("ListOffers returned error: %v", err)
	}
	if len(accepted) != 1 || accepted[0].ID != first.ID {
		t.Errorf("accepted filter returned %d offers", len(accepted))
	}

	_, err = f.svc.ListOffers(ctx, "co-1", "sideways", "", "")
	wantErrorKind(t, err, models.KindValidation)
}
