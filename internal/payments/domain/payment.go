// Package domain models payments for lesson passes and their refunds.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	sharedDomain "github.com/felixgeelhaar/lessonpass/internal/shared/domain"
)

// Status is the payment state. Everything except pending is terminal for
// reconciliation; success may still move to refunded.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

func (s Status) IsTerminal() bool { return s != StatusPending }

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Payment is the purchase of one subscription.
type Payment struct {
	sharedDomain.BaseAggregate
	subscriptionID    uuid.UUID
	amount            decimal.Decimal
	refundedAmount    decimal.Decimal
	currency          string
	description       string
	status            Status
	providerPaymentID string
	redirectURL       string
	errorDetail       string
	processedAt       *time.Time
}

// NewPayment creates a pending payment.
func NewPayment(subscriptionID uuid.UUID, amount decimal.Decimal, currency, description string, now time.Time) (*Payment, error) {
	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}
	return &Payment{
		BaseAggregate:  sharedDomain.NewBaseAggregate(now),
		subscriptionID: subscriptionID,
		amount:         amount,
		refundedAmount: decimal.Zero,
		currency:       currency,
		description:    description,
		status:         StatusPending,
	}, nil
}

// RehydratePayment rebuilds a payment from storage.
func RehydratePayment(
	id, subscriptionID uuid.UUID,
	amount, refundedAmount decimal.Decimal,
	currency, description string,
	status Status,
	providerPaymentID, redirectURL, errorDetail string,
	processedAt *time.Time,
	createdAt, updatedAt time.Time,
) *Payment {
	return &Payment{
		BaseAggregate:     sharedDomain.RehydrateBaseAggregate(id, createdAt, updatedAt),
		subscriptionID:    subscriptionID,
		amount:            amount,
		refundedAmount:    refundedAmount,
		currency:          currency,
		description:       description,
		status:            status,
		providerPaymentID: providerPaymentID,
		redirectURL:       redirectURL,
		errorDetail:       errorDetail,
		processedAt:       processedAt,
	}
}

func (p *Payment) SubscriptionID() uuid.UUID       { return p.subscriptionID }
func (p *Payment) Amount() decimal.Decimal         { return p.amount }
func (p *Payment) RefundedAmount() decimal.Decimal { return p.refundedAmount }
func (p *Payment) Currency() string                { return p.currency }
func (p *Payment) Description() string             { return p.description }
func (p *Payment) Status() Status                  { return p.status }
func (p *Payment) ProviderPaymentID() string       { return p.providerPaymentID }
func (p *Payment) RedirectURL() string             { return p.redirectURL }
func (p *Payment) ErrorDetail() string             { return p.errorDetail }
func (p *Payment) ProcessedAt() *time.Time         { return p.processedAt }

// AttachProvider records the provider's reference and checkout URL.
func (p *Payment) AttachProvider(providerPaymentID, redirectURL string, now time.Time) error {
	if p.status != StatusPending {
		return ErrAlreadyProcessed
	}
	p.providerPaymentID = providerPaymentID
	p.redirectURL = redirectURL
	p.Touch(now)
	return nil
}

// Resolve moves a pending payment to a terminal status. Resolving an
// already terminal payment returns ErrAlreadyProcessed and changes nothing.
func (p *Payment) Resolve(status Status, detail string, now time.Time) error {
	if p.status.IsTerminal() {
		return ErrAlreadyProcessed
	}
	switch status {
	case StatusSuccess, StatusFailed, StatusCancelled:
	default:
		return ErrInvalidStatus
	}

	now = now.UTC()
	p.status = status
	p.errorDetail = detail
	p.processedAt = &now
	p.Touch(now)

	switch status {
	case StatusSuccess:
		p.Record(NewPaymentSucceeded(p))
	case StatusFailed:
		p.Record(NewPaymentFailed(p))
	case StatusCancelled:
		p.Record(NewPaymentCancelled(p))
	}
	return nil
}

// RefundableBalance is what can still be refunded.
func (p *Payment) RefundableBalance() decimal.Decimal {
	if p.status != StatusSuccess {
		return decimal.Zero
	}
	return p.amount.Sub(p.refundedAmount)
}

// CheckRefund validates a refund request against this snapshot.
func (p *Payment) CheckRefund(amount decimal.Decimal) error {
	if p.status != StatusSuccess {
		return ErrNotRefundable
	}
	if !validAmount(amount) {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(p.RefundableBalance()) {
		return ErrRefundExceedsBalance
	}
	return nil
}

// validAmount accepts positive amounts that are stored without rounding, so
// what is reserved locally is exactly what the provider is asked for.
func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && sharedDomain.HasWholeMinorUnits(amount)
}

// MarkRefunded closes a fully refunded payment.
func (p *Payment) MarkRefunded(now time.Time) error {
	if p.status != StatusSuccess {
		return ErrNotRefundable
	}
	p.status = StatusRefunded
	p.refundedAmount = p.amount
	p.Touch(now)
	p.Record(NewPaymentRefunded(p))
	return nil
}
