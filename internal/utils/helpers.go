package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gradelab/buyback-service/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// SendErrorResponse sends an error in JSON format
func SendErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := models.NewErrorResponse(statusCode, message)
	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		log.Println(err)
	}
}

// ParseLimitOffset handles limit and offset
func ParseLimitOffset(limitStr, offsetStr string) (int, int, error) {
	var limit, offset int
	var err error

	if limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit <= 0 || limit > 50 {
			return 0, 0, fmt.Errorf("invalid limit parameter, must be a positive integer [0:50]")
		}
	} else {
		limit = 5
	}

	if offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset parameter, must be a non-negative integer")
		}
	} else {
		offset = 0
	}

	return limit, offset, nil
}

// CheckCustomerExists checks whether the customer exists within the company
func CheckCustomerExists(ctx context.Context, dbPool *pgxpool.Pool, companyId, customerId string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM customer WHERE id = $1 AND company_id = $2)`
	err := dbPool.QueryRow(ctx, query, customerId, companyId).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// CheckCardsExist checks that every card id belongs to the company
func CheckCardsExist(ctx context.Context, dbPool *pgxpool.Pool, companyId string, cardIds []string) (bool, error) {
	if len(cardIds) == 0 {
		return false, nil
	}
	var count int
	query := `SELECT COUNT(*) FROM card WHERE company_id = $1 AND id = ANY($2)`
	err := dbPool.QueryRow(ctx, query, companyId, pq.Array(cardIds)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == len(cardIds), nil
}
