// Package pricing computes the monetary figures for an offer spanning one or
// more cards. All arithmetic uses fixed-point decimals; nothing here touches
// the database.
package pricing

import (
	"fmt"

	"github.com/gradelab/buyback-service/internal/models"

	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// Quote holds the derived amounts for an offer.
type Quote struct {
	Cards            []models.OfferCard
	TotalOfferAmount decimal.Decimal
	TotalGradingFees decimal.Decimal
	DiscountAmount   decimal.Decimal
	FinalOfferAmount decimal.Decimal
	FinalPayout      decimal.Decimal
}

// BuildQuote validates the card entries and computes totals, the bulk
// discount and the final payout. The discount applies only when the offer is
// flagged bulk and spans more than one card. FinalPayout may be negative when
// grading fees exceed the offer value; that is surfaced, not clamped.
func BuildQuote(cards []models.CardRequest, isBulk bool, discountPercent decimal.Decimal) (*Quote, error) {
	if len(cards) == 0 {
		return nil, models.NewValidationError("cards array required")
	}
	if discountPercent.IsNegative() || discountPercent.GreaterThan(oneHundred) {
		return nil, models.NewValidationError("bulk_discount_percent must be between 0 and 100")
	}

	seen := make(map[string]bool, len(cards))
	quote := &Quote{Cards: make([]models.OfferCard, 0, len(cards))}
	for i, card := range cards {
		if card.CardID == "" {
			return nil, models.NewValidationError(fmt.Sprintf("cards[%d]: card_id is required", i))
		}
		if seen[card.CardID] {
			return nil, models.NewValidationError(fmt.Sprintf("cards[%d]: duplicate card %s", i, card.CardID))
		}
		seen[card.CardID] = true
		if card.OfferAmount.IsNegative() {
			return nil, models.NewValidationError(fmt.Sprintf("cards[%d]: offer_amount must not be negative", i))
		}
		if card.GradingFee.IsNegative() {
			return nil, models.NewValidationError(fmt.Sprintf("cards[%d]: grading_fee must not be negative", i))
		}
		quote.TotalOfferAmount = quote.TotalOfferAmount.Add(card.OfferAmount)
		quote.TotalGradingFees = quote.TotalGradingFees.Add(card.GradingFee)
	}

	applyDiscount := isBulk && len(cards) > 1
	if applyDiscount {
		quote.DiscountAmount = quote.TotalOfferAmount.Mul(discountPercent).Div(oneHundred).Round(2)
	}
	quote.TotalOfferAmount = quote.TotalOfferAmount.Round(2)
	quote.TotalGradingFees = quote.TotalGradingFees.Round(2)
	quote.FinalOfferAmount = quote.TotalOfferAmount.Sub(quote.DiscountAmount)
	quote.FinalPayout = quote.FinalOfferAmount.Sub(quote.TotalGradingFees)

	// Per-card payout split. Rounded per card; the offer-level totals above
	// stay authoritative.
	for _, card := range cards {
		payout := card.OfferAmount
		if applyDiscount {
			payout = payout.Sub(payout.Mul(discountPercent).Div(oneHundred))
		}
		payout = payout.Sub(card.GradingFee).Round(2)
		quote.Cards = append(quote.Cards, models.OfferCard{
			CardID:      card.CardID,
			OfferAmount: card.OfferAmount.Round(2),
			GradingFee:  card.GradingFee.Round(2),
			Payout:      payout,
		})
	}
	return quote, nil
}
