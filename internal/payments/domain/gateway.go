package domain

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Customer identifies the payer to the provider.
type Customer struct {
	AccountID string
	Email     string
	Phone     string
}

// CreatePaymentRequest starts a checkout at the provider.
type CreatePaymentRequest struct {
	PaymentID   uuid.UUID
	Amount      decimal.Decimal
	Currency    string
	Description string
	Customer    Customer
}

// CreatePaymentResult is the provider's reference and checkout URL.
type CreatePaymentResult struct {
	ProviderPaymentID string
	RedirectURL       string
}

// StatusReport is the provider's view of a payment. Status is pending for
// interim states. InvoiceID echoes the local payment id when the provider
// sends it.
type StatusReport struct {
	ProviderPaymentID string
	InvoiceID         string
	Status            Status
	Detail            string
	Raw               json.RawMessage
}

// RefundRequest reverses amount of a captured payment.
type RefundRequest struct {
	RefundID          uuid.UUID
	ProviderPaymentID string
	Amount            decimal.Decimal
	Reason            string
}

// RefundResult is the provider's refund reference.
type RefundResult struct {
	ProviderRefundID string
}

// Gateway is the boundary to the external payment provider. Implementations
// map transport failures onto ErrProviderUnavailable, ErrInvalidRequest,
// ErrStatusUnknown, ErrInvalidSignature and ErrMalformedPayload.
// CreatePayment is idempotent per PaymentID: registering a payment the
// provider already holds returns its existing reference.
type Gateway interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (CreatePaymentResult, error)
	QueryStatus(ctx context.Context, providerPaymentID string) (StatusReport, error)
	IssueRefund(ctx context.Context, req RefundRequest) (RefundResult, error)
	VerifyWebhook(payload []byte, signature string) (StatusReport, error)
}
