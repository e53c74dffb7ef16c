package dodo

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	paymentdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/payment/domain"
	"github.com/bwmarrin/snowflake"
)

const ProviderName = "dodo"

// Adapter handles Dodo Payments webhooks. Dodo signs deliveries per the
// standard-webhooks scheme: HMAC-SHA256 over "{id}.{timestamp}.{body}" with
// the id and timestamp taken from the Webhook-Id and Webhook-Timestamp
// headers.
type Adapter struct {
	secret []byte
}

func NewAdapter(webhookSecret string) (*Adapter, error) {
	secret := strings.TrimSpace(webhookSecret)
	if secret == "" {
		return nil, paymentdomain.ErrUnknownProvider
	}
	// Secrets are issued as "whsec_<base64>".
	if trimmed, ok := strings.CutPrefix(secret, "whsec_"); ok {
		decoded, err := base64.StdEncoding.DecodeString(trimmed)
		if err != nil {
			return nil, paymentdomain.ErrInvalidSignature
		}
		return &Adapter{secret: decoded}, nil
	}
	return &Adapter{secret: []byte(secret)}, nil
}

func (a *Adapter) Name() string { return ProviderName }

func (a *Adapter) Verify(header http.Header, body []byte) error {
	id := strings.TrimSpace(header.Get("Webhook-Id"))
	timestamp := strings.TrimSpace(header.Get("Webhook-Timestamp"))
	sigHeader := strings.TrimSpace(header.Get("Webhook-Signature"))
	if id == "" || timestamp == "" || sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	signed := fmt.Sprintf("%s.%s.%s", id, timestamp, string(body))
	mac := hmac.New(sha256.New, a.secret)
	_, _ = mac.Write([]byte(signed))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	// The header may carry several space-separated "v1,<sig>" entries.
	for _, entry := range strings.Fields(sigHeader) {
		version, signature, found := strings.Cut(entry, ",")
		if !found || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

type dodoEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type dodoPayment struct {
	PaymentID   string            `json:"payment_id"`
	TotalAmount int64             `json:"total_amount"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata"`
}

func (a *Adapter) Parse(header http.Header, body []byte) (*paymentdomain.Event, error) {
	eventID := strings.TrimSpace(header.Get("Webhook-Id"))
	if eventID == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	var event dodoEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	var eventType paymentdomain.EventType
	switch strings.TrimSpace(event.Type) {
	case "payment.succeeded":
		eventType = paymentdomain.EventTypePaymentSucceeded
	case "payment.failed":
		eventType = paymentdomain.EventTypePaymentFailed
	case "refund.succeeded":
		eventType = paymentdomain.EventTypeRefundSucceeded
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	var payment dodoPayment
	if err := json.Unmarshal(event.Data, &payment); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	orderID, err := snowflake.ParseString(strings.TrimSpace(payment.Metadata["order_id"]))
	if err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	return &paymentdomain.Event{
		Provider:  ProviderName,
		EventID:   eventID,
		Type:      eventType,
		OrderID:   orderID,
		PaymentID: payment.PaymentID,
		Amount:    payment.TotalAmount,
		Currency:  strings.ToUpper(strings.TrimSpace(payment.Currency)),
		Raw:       body,
	}, nil
}
