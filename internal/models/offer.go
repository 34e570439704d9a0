package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type (
	OfferStatus     string // Status of a buyback offer
	CounterResponse string // Admin decision on a customer counter-offer
)

const (
	PendingOffer        OfferStatus = "pending"         // Offer is awaiting the customer's response
	AcceptedOffer       OfferStatus = "accepted"        // Customer accepted the offer
	DeclinedOffer       OfferStatus = "declined"        // Offer was declined
	CounterOfferedOffer OfferStatus = "counter_offered" // Customer submitted a counter-offer
	PaidOffer           OfferStatus = "paid"            // Payout completed
	CancelledOffer      OfferStatus = "cancelled"       // Admin cancelled the offer

	CounterAccepted CounterResponse = "accepted"  // Admin accepted the counter amount
	CounterDeclined CounterResponse = "declined"  // Admin declined the counter amount
	CounterInPerson CounterResponse = "in_person" // Admin asked the customer to come in person
)

// ValidStatus reports whether s is one of the six defined offer statuses.
func ValidStatus(s OfferStatus) bool {
	switch s {
	case PendingOffer, AcceptedOffer, DeclinedOffer, CounterOfferedOffer, PaidOffer, CancelledOffer:
		return true
	}
	return false
}

// BuybackOffer represents an offer to buy back one or more graded cards from a customer.
type BuybackOffer struct {
	ID                   string              `json:"id"`
	CompanyID            string              `json:"company_id"`
	CustomerID           string              `json:"customer_id"`
	Status               OfferStatus         `json:"status"`
	OfferMessage         string              `json:"offer_message"`
	IsBulkOffer          bool                `json:"is_bulk_offer"`
	BulkDiscountPercent  decimal.Decimal     `json:"bulk_discount_percent"`
	TotalOfferAmount     decimal.Decimal     `json:"total_offer_amount"`
	DiscountAmount       decimal.Decimal     `json:"discount_amount"`
	FinalOfferAmount     decimal.Decimal     `json:"final_offer_amount"`
	TotalGradingFees     decimal.Decimal     `json:"total_grading_fees"`
	FinalPayout          decimal.Decimal     `json:"final_payout"`
	CounterAmount        decimal.NullDecimal `json:"counter_amount,omitempty"`
	CounterMessage       string              `json:"counter_message,omitempty"`
	AdminCounterResponse CounterResponse     `json:"admin_counter_response,omitempty"`
	InPersonRequested    bool                `json:"in_person_requested"`
	ExpiresAt            time.Time           `json:"expires_at"`
	PaymentRef           string              `json:"payment_ref,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
	RespondedAt          *time.Time          `json:"responded_at,omitempty"`
	PaidAt               *time.Time          `json:"paid_at,omitempty"`
	Cards                []OfferCard         `json:"cards"`
}

// Expired reports whether the offer's response deadline has passed at t.
func (o *BuybackOffer) Expired(t time.Time) bool {
	return t.After(o.ExpiresAt)
}

// OfferCard is a single card included in an offer, with its agreed amounts.
type OfferCard struct {
	CardID      string          `json:"card_id"`
	OfferAmount decimal.Decimal `json:"offer_amount"`
	GradingFee  decimal.Decimal `json:"grading_fee"`
	Payout      decimal.Decimal `json:"payout"`
}

// OfferRequest represents the request body for creating an offer.
type OfferRequest struct {
	CustomerID            string          `json:"customer_id"`
	Cards                 []CardRequest   `json:"cards"`
	OfferMessage          string          `json:"offer_message"`
	ResponseDeadlineHours int             `json:"response_deadline_hours"`
	IsBulkOffer           bool            `json:"is_bulk_offer"`
	BulkDiscountPercent   decimal.Decimal `json:"bulk_discount_percent"`
}

// CardRequest is one card entry inside an OfferRequest.
type CardRequest struct {
	CardID      string          `json:"card_id"`
	OfferAmount decimal.Decimal `json:"offer_amount"`
	GradingFee  decimal.Decimal `json:"grading_fee"`
}

// CounterRequest represents a customer counter-offer submission.
type CounterRequest struct {
	CounterAmount  decimal.Decimal `json:"counter_amount"`
	CounterMessage string          `json:"counter_message"`
}

// CounterDecisionRequest represents the admin's response to a counter-offer.
type CounterDecisionRequest struct {
	Response CounterResponse `json:"response"`
}
