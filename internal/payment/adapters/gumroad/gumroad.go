package gumroad

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	paymentdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/payment/domain"
	"github.com/bwmarrin/snowflake"
)

const ProviderName = "gumroad"

// Adapter handles Gumroad ping notifications. Pings are form-encoded; the
// seller_id field plus an HMAC of the body authenticate the sender.
type Adapter struct {
	sellerID string
	secret   []byte
}

func NewAdapter(sellerID, secret string) (*Adapter, error) {
	if strings.TrimSpace(sellerID) == "" || strings.TrimSpace(secret) == "" {
		return nil, paymentdomain.ErrUnknownProvider
	}
	return &Adapter{
		sellerID: strings.TrimSpace(sellerID),
		secret:   []byte(strings.TrimSpace(secret)),
	}, nil
}

func (a *Adapter) Name() string { return ProviderName }

func (a *Adapter) Verify(header http.Header, body []byte) error {
	signature := strings.TrimSpace(header.Get("X-Gumroad-Signature"))
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, a.secret)
	_, _ = mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(header http.Header, body []byte) (*paymentdomain.Event, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if values.Get("seller_id") != a.sellerID {
		return nil, paymentdomain.ErrInvalidPayload
	}

	saleID := strings.TrimSpace(values.Get("sale_id"))
	if saleID == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}
	orderID, err := snowflake.ParseString(strings.TrimSpace(values.Get("url_params[order_id]")))
	if err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	eventType := paymentdomain.EventTypePaymentSucceeded
	if values.Get("refunded") == "true" {
		eventType = paymentdomain.EventTypeRefundSucceeded
	}

	// price is in cents already.
	amount, err := strconv.ParseInt(strings.TrimSpace(values.Get("price")), 10, 64)
	if err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	// The ledger's payload column holds JSON; re-encode the form fields.
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	return &paymentdomain.Event{
		Provider:  ProviderName,
		EventID:   saleID,
		Type:      eventType,
		OrderID:   orderID,
		PaymentID: saleID,
		Amount:    amount,
		Currency:  strings.ToUpper(strings.TrimSpace(values.Get("currency"))),
		Raw:       raw,
	}, nil
}
