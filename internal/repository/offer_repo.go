package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gradelab/buyback-service/internal/models"
	"github.com/gradelab/buyback-service/internal/utils"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// OfferRepository - interface for working with buyback offers.
type OfferRepository interface {
	CreateOffer(ctx context.Context, offer *models.BuybackOffer) error
	GetOffer(ctx context.Context, offerId, companyId string) (*models.BuybackOffer, error)
	ListOffers(ctx context.Context, companyId string, statuses []string, limit, offset int) ([]models.BuybackOffer, error)
	ListCustomerOffers(ctx context.Context, companyId, customerId string, limit, offset int) ([]models.BuybackOffer, error)
	Transition(ctx context.Context, offerId, companyId string, expected models.OfferStatus, patch OfferPatch) (*models.BuybackOffer, error)
	DeleteOffer(ctx context.Context, offerId, companyId string) (bool, error)
	CustomerExists(ctx context.Context, companyId, customerId string) (bool, error)
	CardsExist(ctx context.Context, companyId string, cardIds []string) (bool, error)
}

// OfferPatch is the closed set of fields a transition may change. Column
// names are fixed at compile time; values are always bound as parameters.
type OfferPatch struct {
	Status               *models.OfferStatus
	RespondedAt          *time.Time
	CounterAmount        *decimal.Decimal
	CounterMessage       *string
	AdminCounterResponse *models.CounterResponse
	InPersonRequested    *bool
	PaymentRef           *string
	PaidAt               *time.Time
}

// SetClauses renders the patch as "col = $n" fragments with matching args,
// numbering parameters from firstArg.
func (p OfferPatch) SetClauses(firstArg int) ([]string, []interface{}) {
	var sets []string
	var args []interface{}
	add := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, firstArg))
		args = append(args, value)
		firstArg++
	}
	if p.Status != nil {
		add("status", *p.Status)
	}
	if p.RespondedAt != nil {
		add("responded_at", *p.RespondedAt)
	}
	if p.CounterAmount != nil {
		add("counter_amount", *p.CounterAmount)
	}
	if p.CounterMessage != nil {
		add("counter_message", *p.CounterMessage)
	}
	if p.AdminCounterResponse != nil {
		add("admin_counter_response", *p.AdminCounterResponse)
	}
	if p.InPersonRequested != nil {
		add("in_person_requested", *p.InPersonRequested)
	}
	if p.PaymentRef != nil {
		add("payment_ref", *p.PaymentRef)
	}
	if p.PaidAt != nil {
		add("paid_at", *p.PaidAt)
	}
	return sets, args
}

const offerColumns = `id, company_id, customer_id, status, offer_message, is_bulk_offer, bulk_discount_percent,
	total_offer_amount, discount_amount, final_offer_amount, total_grading_fees, final_payout,
	counter_amount, counter_message, admin_counter_response, in_person_requested,
	expires_at, payment_ref, created_at, responded_at, paid_at`

// PostgresOfferRepository - implementation of OfferRepository for the database.
type PostgresOfferRepository struct {
	DB *pgxpool.Pool
}

// NewPostgresOfferRepository creates a new PostgresOfferRepository instance.
func NewPostgresOfferRepository(db *pgxpool.Pool) *PostgresOfferRepository {
	return &PostgresOfferRepository{DB: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOffer(row rowScanner) (*models.BuybackOffer, error) {
	var offer models.BuybackOffer
	err := row.Scan(
		&offer.ID,
		&offer.CompanyID,
		&offer.CustomerID,
		&offer.Status,
		&offer.OfferMessage,
		&offer.IsBulkOffer,
		&offer.BulkDiscountPercent,
		&offer.TotalOfferAmount,
		&offer.DiscountAmount,
		&offer.FinalOfferAmount,
		&offer.TotalGradingFees,
		&offer.FinalPayout,
		&offer.CounterAmount,
		&offer.CounterMessage,
		&offer.AdminCounterResponse,
		&offer.InPersonRequested,
		&offer.ExpiresAt,
		&offer.PaymentRef,
		&offer.CreatedAt,
		&offer.RespondedAt,
		&offer.PaidAt,
	)
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

// CreateOffer persists a new offer and its card rows in one transaction.
func (r *PostgresOfferRepository) CreateOffer(ctx context.Context, offer *models.BuybackOffer) error {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	insertOffer := `INSERT INTO buyback_offer (` + offerColumns + `)
	                VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`
	_, err = tx.Exec(
		ctx,
		insertOffer,
		offer.ID,
		offer.CompanyID,
		offer.CustomerID,
		offer.Status,
		offer.OfferMessage,
		offer.IsBulkOffer,
		offer.BulkDiscountPercent,
		offer.TotalOfferAmount,
		offer.DiscountAmount,
		offer.FinalOfferAmount,
		offer.TotalGradingFees,
		offer.FinalPayout,
		offer.CounterAmount,
		offer.CounterMessage,
		offer.AdminCounterResponse,
		offer.InPersonRequested,
		offer.ExpiresAt,
		offer.PaymentRef,
		offer.CreatedAt,
		offer.RespondedAt,
		offer.PaidAt)
	if err != nil {
		return fmt.Errorf("failed to insert offer: %w", err)
	}

	insertCard := `INSERT INTO buyback_offer_card (offer_id, card_id, position, offer_amount, grading_fee, payout)
	               VALUES ($1, $2, $3, $4, $5, $6)`
	for i, card := range offer.Cards {
		_, err = tx.Exec(ctx, insertCard, offer.ID, card.CardID, i, card.OfferAmount, card.GradingFee, card.Payout)
		if err != nil {
			return fmt.Errorf("failed to insert offer card %s: %w", card.CardID, err)
		}
	}
	return tx.Commit(ctx)
}

// GetOffer returns an offer scoped to the company. An offer belonging to a
// different company is indistinguishable from a missing one.
func (r *PostgresOfferRepository) GetOffer(ctx context.Context, offerId, companyId string) (*models.BuybackOffer, error) {
	query := `SELECT ` + offerColumns + ` FROM buyback_offer WHERE id = $1 AND company_id = $2`
	offer, err := scanOffer(r.DB.QueryRow(ctx, query, offerId, companyId))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.NewNotFoundError("offer not found")
		}
		return nil, err
	}
	if offer.Cards, err = r.loadCards(ctx, offer.ID); err != nil {
		return nil, err
	}
	return offer, nil
}

// ListOffers returns the company's offers, optionally filtered by status.
func (r *PostgresOfferRepository) ListOffers(ctx context.Context, companyId string, statuses []string, limit, offset int) ([]models.BuybackOffer, error) {
	query := `SELECT ` + offerColumns + ` FROM buyback_offer`
	filters := []string{"company_id = $1"}
	args := []interface{}{companyId}
	argIndex := 2

	if len(statuses) > 0 {
		filters = append(filters, fmt.Sprintf("status = ANY($%d)", argIndex))
		args = append(args, pq.Array(statuses))
		argIndex++
	}

	query += " WHERE " + strings.Join(filters, " AND ")
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, limit, offset)

	return r.queryOffers(ctx, query, args...)
}

// ListCustomerOffers returns one customer's offers within the company.
func (r *PostgresOfferRepository) ListCustomerOffers(ctx context.Context, companyId, customerId string, limit, offset int) ([]models.BuybackOffer, error) {
	query := `SELECT ` + offerColumns + ` FROM buyback_offer
	          WHERE company_id = $1 AND customer_id = $2
	          ORDER BY created_at DESC LIMIT $3 OFFSET $4`
	return r.queryOffers(ctx, query, companyId, customerId, limit, offset)
}

func (r *PostgresOfferRepository) queryOffers(ctx context.Context, query string, args ...interface{}) ([]models.BuybackOffer, error) {
	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offers []models.BuybackOffer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *offer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range offers {
		if offers[i].Cards, err = r.loadCards(ctx, offers[i].ID); err != nil {
			return nil, err
		}
	}
	return offers, nil
}

// Transition applies a guarded status change as a single conditional update.
// The row is only written if it still holds the expected status (and, when
// the patch sets a counter amount or payment ref, only if that field is still
// unset). Zero rows affected means the guard failed; the caller gets a
// conflict naming the current status, or not-found if the offer is absent.
func (r *PostgresOfferRepository) Transition(ctx context.Context, offerId, companyId string, expected models.OfferStatus, patch OfferPatch) (*models.BuybackOffer, error) {
	sets, patchArgs := patch.SetClauses(4)
	if len(sets) == 0 {
		return nil, models.NewValidationError("no fields to update")
	}

	query := fmt.Sprintf(`UPDATE buyback_offer SET %s WHERE id = $1 AND company_id = $2 AND status = $3`,
		strings.Join(sets, ", "))
	if patch.CounterAmount != nil {
		query += " AND counter_amount IS NULL"
	}
	if patch.PaymentRef != nil {
		query += " AND payment_ref = ''"
	}
	query += " RETURNING " + offerColumns

	args := append([]interface{}{offerId, companyId, expected}, patchArgs...)
	offer, err := scanOffer(r.DB.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.transitionConflict(ctx, offerId, companyId, expected)
		}
		return nil, err
	}
	if offer.Cards, err = r.loadCards(ctx, offer.ID); err != nil {
		return nil, err
	}
	return offer, nil
}

func (r *PostgresOfferRepository) transitionConflict(ctx context.Context, offerId, companyId string, expected models.OfferStatus) error {
	var current models.OfferStatus
	err := r.DB.QueryRow(ctx, `SELECT status FROM buyback_offer WHERE id = $1 AND company_id = $2`, offerId, companyId).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.NewNotFoundError("offer not found")
	}
	if err != nil {
		return err
	}
	if current != expected {
		return models.NewConflictError(fmt.Sprintf("offer %s is %s, expected %s", offerId, current, expected))
	}
	return models.NewConflictError(fmt.Sprintf("offer %s: update precondition failed in status %s", offerId, current))
}

// DeleteOffer removes the offer and all of its card rows in one transaction.
func (r *PostgresOfferRepository) DeleteOffer(ctx context.Context, offerId, companyId string) (bool, error) {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		DELETE FROM buyback_offer_card
		WHERE offer_id IN (SELECT id FROM buyback_offer WHERE id = $1 AND company_id = $2)`,
		offerId, companyId)
	if err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM buyback_offer WHERE id = $1 AND company_id = $2`, offerId, companyId)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CustomerExists reports whether the customer belongs to the company.
func (r *PostgresOfferRepository) CustomerExists(ctx context.Context, companyId, customerId string) (bool, error) {
	return utils.CheckCustomerExists(ctx, r.DB, companyId, customerId)
}

// CardsExist reports whether every card id belongs to the company.
func (r *PostgresOfferRepository) CardsExist(ctx context.Context, companyId string, cardIds []string) (bool, error) {
	return utils.CheckCardsExist(ctx, r.DB, companyId, cardIds)
}

func (r *PostgresOfferRepository) loadCards(ctx context.Context, offerId string) ([]models.OfferCard, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT card_id, offer_amount, grading_fee, payout
		FROM buyback_offer_card WHERE offer_id = $1 ORDER BY position`, offerId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []models.OfferCard
	for rows.Next() {
		var card models.OfferCard
		if err := rows.Scan(&card.CardID, &card.OfferAmount, &card.GradingFee, &card.Payout); err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}
