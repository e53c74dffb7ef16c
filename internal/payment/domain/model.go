package domain

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
)

type EventType string

const (
	EventTypePaymentSucceeded EventType = "payment.succeeded"
	EventTypePaymentFailed    EventType = "payment.failed"
	EventTypeRefundSucceeded  EventType = "refund.succeeded"
)

// Event is a provider webhook normalized into the shape the processor works
// with. EventID is the provider's identity for the delivery and keys the
// idempotency ledger; Raw is the verified request body as received.
type Event struct {
	Provider  string
	EventID   string
	Type      EventType
	OrderID   snowflake.ID
	PaymentID string
	Amount    int64
	Currency  string
	Raw       []byte
}

// Adapter translates one provider's webhook dialect. Verify authenticates the
// delivery before anything in the body is trusted; Parse runs only on a
// verified request. Parse receives the headers because some providers carry
// the event identity there rather than in the body.
type Adapter interface {
	Name() string
	Verify(header http.Header, body []byte) error
	Parse(header http.Header, body []byte) (*Event, error)
}

type CheckoutRequest struct {
	OrderID     snowflake.ID
	UserID      snowflake.ID
	UserEmail   string
	ProductName string
	Amount      int64
	Currency    string
}

type CheckoutSession struct {
	SessionID string
	URL       string
}

type CheckoutClient interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

type Service interface {
	// ProcessEvent applies a verified provider event exactly once. A replayed
	// event returns ErrEventAlreadyProcessed without side effects.
	ProcessEvent(ctx context.Context, event *Event) error
	// IngestWebhook verifies, parses and processes a raw webhook delivery.
	IngestWebhook(ctx context.Context, provider string, header http.Header, body []byte) error
}
