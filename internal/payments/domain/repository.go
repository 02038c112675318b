package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentRepository persists payments. State changes are conditional on the
// stored status so concurrent reconcilers cannot both apply a transition.
type PaymentRepository interface {
	// Create fails with ErrPaymentInProgress when the subscription already
	// has a pending payment.
	Create(ctx context.Context, p *Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	FindByProviderID(ctx context.Context, providerPaymentID string) (*Payment, error)
	FindPendingBySubscription(ctx context.Context, subscriptionID uuid.UUID) (*Payment, error)
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*Payment, error)
	ListPendingCreatedBefore(ctx context.Context, before time.Time, limit int) ([]*Payment, error)
	// ListForAccount returns the newest payments for any subscription the
	// account holds, including its dependents'.
	ListForAccount(ctx context.Context, accountID string, limit int) ([]*Payment, error)
	// RevenueByCenter sums payments for center's subscriptions that settled
	// in [from, to), one entry per currency.
	RevenueByCenter(ctx context.Context, centerID uuid.UUID, from, to time.Time) ([]Revenue, error)

	// AttachProvider stores the provider reference while still pending.
	AttachProvider(ctx context.Context, p *Payment) (bool, error)
	// Resolve stores a terminal status only if the stored row is pending and
	// reports whether this call applied it.
	Resolve(ctx context.Context, p *Payment) (bool, error)

	// ReserveRefund adds amount to the refunded total only while the payment
	// is successful and the total stays within the paid amount.
	ReserveRefund(ctx context.Context, id uuid.UUID, amount decimal.Decimal, at time.Time) (bool, error)
	ReleaseRefund(ctx context.Context, id uuid.UUID, amount decimal.Decimal, at time.Time) error
	// MarkRefunded flips success to refunded once completed refunds cover
	// the whole amount.
	MarkRefunded(ctx context.Context, p *Payment) (bool, error)
}

// RefundRepository persists refunds.
type RefundRepository interface {
	Create(ctx context.Context, r *Refund) error
	Update(ctx context.Context, r *Refund) error
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]*Refund, error)
}
