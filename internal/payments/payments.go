// Package payments is the narrow bridge to the external payment provider.
// The engine only ever creates a payment intent for an accepted offer and
// later checks its status; everything else is the provider's concern.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// StatusSucceeded is the intent status that allows an offer to become paid.
const StatusSucceeded = "succeeded"

// Intent is the provider's view of a payment.
type Intent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Bridge creates and inspects payment intents.
type Bridge interface {
	CreatePaymentIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*Intent, error)
	GetPaymentIntent(ctx context.Context, id string) (*Intent, error)
}

// MinorUnits converts a two-decimal currency amount to integer minor units.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}

// HTTPBridge talks to the payment provider's REST API.
type HTTPBridge struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewHTTPBridge creates an HTTPBridge with a request timeout.
func NewHTTPBridge(baseURL, apiKey string) *HTTPBridge {
	return &HTTPBridge{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type createIntentRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CreatePaymentIntent asks the provider to create an intent for the amount.
func (b *HTTPBridge) CreatePaymentIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*Intent, error) {
	body, err := json.Marshal(createIntentRequest{Amount: amountMinor, Currency: currency, Metadata: metadata})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+"/v1/payment_intents", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.APIKey)

	return b.do(req)
}

// GetPaymentIntent fetches the current state of an intent.
func (b *HTTPBridge) GetPaymentIntent(ctx context.Context, id string) (*Intent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.BaseURL+"/v1/payment_intents/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+b.APIKey)

	return b.do(req)
}

func (b *HTTPBridge) do(req *http.Request) (*Intent, error) {
	resp, err := b.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("payment bridge returned %s", resp.Status)
	}

	var intent Intent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, fmt.Errorf("failed to decode payment intent: %w", err)
	}
	return &intent, nil
}
