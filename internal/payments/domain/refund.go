package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	sharedDomain "github.com/felixgeelhaar/lessonpass/internal/shared/domain"
)

// RefundStatus is the state of one refund attempt.
type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundCompleted RefundStatus = "completed"
	RefundFailed    RefundStatus = "failed"
)

// Refund reverses part or all of a successful payment.
type Refund struct {
	sharedDomain.BaseAggregate
	paymentID        uuid.UUID
	providerRefundID string
	amount           decimal.Decimal
	reason           string
	status           RefundStatus
	errorDetail      string
}

// NewRefund creates a pending refund whose amount has been reserved.
func NewRefund(paymentID uuid.UUID, amount decimal.Decimal, reason string, now time.Time) (*Refund, error) {
	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "requested by customer"
	}
	return &Refund{
		BaseAggregate: sharedDomain.NewBaseAggregate(now),
		paymentID:     paymentID,
		amount:        amount,
		reason:        reason,
		status:        RefundPending,
	}, nil
}

// RehydrateRefund rebuilds a refund from storage.
func RehydrateRefund(id, paymentID uuid.UUID, providerRefundID string, amount decimal.Decimal, reason string, status RefundStatus, errorDetail string, createdAt, updatedAt time.Time) *Refund {
	return &Refund{
		BaseAggregate:    sharedDomain.RehydrateBaseAggregate(id, createdAt, updatedAt),
		paymentID:        paymentID,
		providerRefundID: providerRefundID,
		amount:           amount,
		reason:           reason,
		status:           status,
		errorDetail:      errorDetail,
	}
}

func (r *Refund) PaymentID() uuid.UUID     { return r.paymentID }
func (r *Refund) ProviderRefundID() string { return r.providerRefundID }
func (r *Refund) Amount() decimal.Decimal  { return r.amount }
func (r *Refund) Reason() string           { return r.reason }
func (r *Refund) Status() RefundStatus     { return r.status }
func (r *Refund) ErrorDetail() string      { return r.errorDetail }

// Complete records the provider's confirmation.
func (r *Refund) Complete(providerRefundID string, now time.Time) error {
	if r.status != RefundPending {
		return ErrAlreadyProcessed
	}
	r.status = RefundCompleted
	r.providerRefundID = providerRefundID
	r.Touch(now)
	r.Record(NewRefundIssued(r))
	return nil
}

// Fail records a refused refund. The reservation must be released by the
// caller in the same unit of work.
func (r *Refund) Fail(detail string, now time.Time) error {
	if r.status != RefundPending {
		return ErrAlreadyProcessed
	}
	r.status = RefundFailed
	r.errorDetail = detail
	r.Touch(now)
	return nil
}
