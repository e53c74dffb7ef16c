package domain

import "errors"

var (
	ErrOrderNotFound     = errors.New("order_not_found")
	ErrInvalidProduct    = errors.New("invalid_product_kind")
	ErrInvalidRequest    = errors.New("invalid_order_request")
	ErrInvalidTransition = errors.New("invalid_order_transition")
	ErrAmountMismatch    = errors.New("payment_amount_mismatch")
	ErrCurrencyMismatch  = errors.New("payment_currency_mismatch")
	ErrRetryNotAllowed   = errors.New("order_retry_not_allowed")
)
