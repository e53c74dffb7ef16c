package dodo

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"testing"

	paymentdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/payment/domain"
	"github.com/bwmarrin/snowflake"
)

const testSecret = "test-webhook-secret"

func newTestAdapter(t *testing.T, secret string) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(secret)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func sign(secret []byte, id, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(id + "." + timestamp + "." + string(body)))
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signedHeader(secret []byte, id, timestamp string, body []byte) http.Header {
	header := http.Header{}
	header.Set("Webhook-Id", id)
	header.Set("Webhook-Timestamp", timestamp)
	header.Set("Webhook-Signature", sign(secret, id, timestamp, body))
	return header
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	adapter := newTestAdapter(t, testSecret)
	body := []byte(`{"type":"payment.succeeded"}`)
	header := signedHeader([]byte(testSecret), "msg_1", "1750000000", body)

	if err := adapter.Verify(header, body); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyAcceptsWhsecSecret(t *testing.T) {
	raw := []byte("binary-secret-material")
	adapter := newTestAdapter(t, "whsec_"+base64.StdEncoding.EncodeToString(raw))
	body := []byte(`{"type":"payment.succeeded"}`)
	header := signedHeader(raw, "msg_2", "1750000000", body)

	if err := adapter.Verify(header, body); err != nil {
		t.Fatalf("verify with whsec secret: %v", err)
	}
}

func TestVerifyAcceptsMultipleSignatureEntries(t *testing.T) {
	adapter := newTestAdapter(t, testSecret)
	body := []byte(`{"type":"payment.succeeded"}`)
	header := signedHeader([]byte(testSecret), "msg_3", "1750000000", body)
	header.Set("Webhook-Signature", "v1,bm90LXRoZS1zaWc= "+sign([]byte(testSecret), "msg_3", "1750000000", body))

	if err := adapter.Verify(header, body); err != nil {
		t.Fatalf("verify with multiple entries: %v", err)
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	adapter := newTestAdapter(t, testSecret)
	body := []byte(`{"type":"payment.succeeded"}`)
	header := signedHeader([]byte(testSecret), "msg_4", "1750000000", body)

	err := adapter.Verify(header, []byte(`{"type":"refund.succeeded"}`))
	if !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyRejectsMissingHeaders(t *testing.T) {
	adapter := newTestAdapter(t, testSecret)
	err := adapter.Verify(http.Header{}, []byte(`{}`))
	if !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestParsePaymentSucceeded(t *testing.T) {
	adapter := newTestAdapter(t, testSecret)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	orderID := node.Generate()

	body := []byte(fmt.Sprintf(
		`{"type":"payment.succeeded","data":{"payment_id":"pay_9","total_amount":1999,"currency":"usd","metadata":{"order_id":"%s"}}}`,
		orderID.String(),
	))
	header := http.Header{}
	header.Set("Webhook-Id", "msg_5")

	event, err := adapter.Parse(header, body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != paymentdomain.EventTypePaymentSucceeded {
		t.Fatalf("expected payment.succeeded, got %s", event.Type)
	}
	if event.EventID != "msg_5" {
		t.Fatalf("expected event id from Webhook-Id header, got %q", event.EventID)
	}
	if event.OrderID != orderID {
		t.Fatalf("expected order id %s, got %s", orderID, event.OrderID)
	}
	if event.PaymentID != "pay_9" || event.Amount != 1999 || event.Currency != "USD" {
		t.Fatalf("unexpected event fields: %+v", event)
	}
}

func TestParseIgnoresUnsupportedEventTypes(t *testing.T) {
	adapter := newTestAdapter(t, testSecret)
	header := http.Header{}
	header.Set("Webhook-Id", "msg_6")

	_, err := adapter.Parse(header, []byte(`{"type":"dispute.opened","data":{}}`))
	if !errors.Is(err, paymentdomain.ErrEventIgnored) {
		t.Fatalf("expected ErrEventIgnored, got %v", err)
	}
}

func TestParseRejectsMissingOrderID(t *testing.T) {
	adapter := newTestAdapter(t, testSecret)
	header := http.Header{}
	header.Set("Webhook-Id", "msg_7")

	_, err := adapter.Parse(header, []byte(`{"type":"payment.succeeded","data":{"payment_id":"pay_1","metadata":{}}}`))
	if !errors.Is(err, paymentdomain.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}
