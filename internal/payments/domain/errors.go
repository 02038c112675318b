package domain

import "errors"

var (
	// Provider failures.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrInvalidRequest      = errors.New("payment provider rejected the request")
	ErrStatusUnknown       = errors.New("payment status unknown, retry later")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrMalformedPayload    = errors.New("malformed provider payload")

	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentInProgress    = errors.New("a payment is already pending for this subscription")
	ErrAlreadyProcessed     = errors.New("payment already processed")
	ErrInvalidAmount        = errors.New("amount must be positive with at most two decimal places")
	ErrInvalidStatus        = errors.New("invalid payment status")
	ErrNotRefundable        = errors.New("payment is not refundable")
	ErrRefundExceedsBalance = errors.New("refund exceeds refundable balance")
	ErrNoProvider           = errors.New("no payment provider configured")

	// ErrVoucherExhausted means activation kept colliding on generated
	// voucher codes and was abandoned.
	ErrVoucherExhausted = errors.New("could not assign a unique voucher code")
)
