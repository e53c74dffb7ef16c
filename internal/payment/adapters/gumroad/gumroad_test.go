package gumroad

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	paymentdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/payment/domain"
	"github.com/bwmarrin/snowflake"
)

const (
	testSellerID = "seller_42"
	testSecret   = "gumroad-test-secret"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(testSellerID, testSecret)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func signedHeader(body []byte) http.Header {
	mac := hmac.New(sha256.New, []byte(testSecret))
	_, _ = mac.Write(body)
	header := http.Header{}
	header.Set("X-Gumroad-Signature", hex.EncodeToString(mac.Sum(nil)))
	return header
}

func pingBody(orderID snowflake.ID, refunded bool) []byte {
	values := url.Values{}
	values.Set("seller_id", testSellerID)
	values.Set("sale_id", "sale_123")
	values.Set("price", "999")
	values.Set("currency", "usd")
	values.Set("url_params[order_id]", orderID.String())
	if refunded {
		values.Set("refunded", "true")
	}
	return []byte(values.Encode())
}

func TestVerifySignature(t *testing.T) {
	adapter := newTestAdapter(t)
	body := []byte("seller_id=seller_42&sale_id=sale_123")

	if err := adapter.Verify(signedHeader(body), body); err != nil {
		t.Fatalf("verify: %v", err)
	}
	err := adapter.Verify(signedHeader(body), []byte("seller_id=seller_42&sale_id=other"))
	if !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestParseSale(t *testing.T) {
	adapter := newTestAdapter(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	orderID := node.Generate()

	event, err := adapter.Parse(http.Header{}, pingBody(orderID, false))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != paymentdomain.EventTypePaymentSucceeded {
		t.Fatalf("expected payment.succeeded, got %s", event.Type)
	}
	if event.EventID != "sale_123" || event.PaymentID != "sale_123" {
		t.Fatalf("expected sale id as event identity, got %+v", event)
	}
	if event.OrderID != orderID || event.Amount != 999 || event.Currency != "USD" {
		t.Fatalf("unexpected event fields: %+v", event)
	}
	// The ledger stores the payload in a JSON column; the form body must be
	// re-encoded before it gets there.
	if !json.Valid(event.Raw) {
		t.Fatalf("expected JSON payload, got %q", event.Raw)
	}
}

func TestParseRefund(t *testing.T) {
	adapter := newTestAdapter(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	event, err := adapter.Parse(http.Header{}, pingBody(node.Generate(), true))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != paymentdomain.EventTypeRefundSucceeded {
		t.Fatalf("expected refund.succeeded, got %s", event.Type)
	}
}

func TestParseRejectsWrongSeller(t *testing.T) {
	adapter := newTestAdapter(t)
	body := []byte(fmt.Sprintf("seller_id=somebody_else&sale_id=sale_1&price=999&url_params[order_id]=%d", 1))

	_, err := adapter.Parse(http.Header{}, body)
	if !errors.Is(err, paymentdomain.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}
