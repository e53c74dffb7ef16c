package domain

import "errors"

var (
	ErrUnknownProvider       = errors.New("unknown_payment_provider")
	ErrInvalidSignature      = errors.New("invalid_webhook_signature")
	ErrInvalidPayload        = errors.New("invalid_webhook_payload")
	ErrEventIgnored          = errors.New("webhook_event_ignored")
	ErrEventAlreadyProcessed = errors.New("webhook_event_already_processed")
	ErrUnknownOrder          = errors.New("webhook_unknown_order")
	ErrCheckoutFailed        = errors.New("checkout_session_failed")
)
