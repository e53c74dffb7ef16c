package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/config"
	paymentdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/payment/domain"
	"github.com/google/uuid"
)

type sessionRequest struct {
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Customer  sessionCustomer   `json:"customer"`
	Metadata  map[string]string `json:"metadata"`
	ReturnURL string            `json:"return_url"`
}

type sessionCustomer struct {
	Email string `json:"email"`
}

type sessionResponse struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
	Error       string `json:"error,omitempty"`
}

// DodoClient creates hosted checkout sessions. The order and user ids ride in
// the session metadata and come back on the payment webhook, which is how a
// webhook finds its order.
type DodoClient struct {
	cfg       config.PaymentConfig
	returnURL string
	client    *http.Client
}

func NewDodoClient(cfg config.Config) paymentdomain.CheckoutClient {
	return &DodoClient{
		cfg:       cfg.Payment,
		returnURL: cfg.FrontendURL + "/orders",
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *DodoClient) CreateCheckoutSession(ctx context.Context, req paymentdomain.CheckoutRequest) (*paymentdomain.CheckoutSession, error) {
	if strings.TrimSpace(c.cfg.DodoAPIKey) == "" {
		return nil, paymentdomain.ErrCheckoutFailed
	}

	payload, err := json.Marshal(sessionRequest{
		Amount:   req.Amount,
		Currency: req.Currency,
		Customer: sessionCustomer{Email: req.UserEmail},
		Metadata: map[string]string{
			"order_id": req.OrderID.String(),
			"user_id":  req.UserID.String(),
			"product":  req.ProductName,
		},
		ReturnURL: fmt.Sprintf("%s/%s", c.returnURL, req.OrderID.String()),
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.DodoAPIURL+"/checkouts", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.DodoAPIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if parsed.Error != "" {
			return nil, errors.New(parsed.Error)
		}
		return nil, fmt.Errorf("checkout request failed: status %d", resp.StatusCode)
	}
	if parsed.SessionID == "" || parsed.CheckoutURL == "" {
		return nil, paymentdomain.ErrCheckoutFailed
	}
	return &paymentdomain.CheckoutSession{
		SessionID: parsed.SessionID,
		URL:       parsed.CheckoutURL,
	}, nil
}
