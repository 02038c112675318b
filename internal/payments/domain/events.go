package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	sharedDomain "github.com/felixgeelhaar/lessonpass/internal/shared/domain"
)

const (
	paymentAggregate = "Payment"
	refundAggregate  = "Refund"
)

// Routing keys.
const (
	RoutingKeySucceeded = "payments.payment.succeeded"
	RoutingKeyFailed    = "payments.payment.failed"
	RoutingKeyCancelled = "payments.payment.cancelled"
	RoutingKeyRefunded  = "payments.payment.refunded"
	RoutingKeyRefund    = "payments.refund.issued"
)

// PaymentResolved carries the fields shared by every terminal payment event.
type PaymentResolved struct {
	sharedDomain.BaseEvent
	PaymentID         uuid.UUID       `json:"payment_id"`
	SubscriptionID    uuid.UUID       `json:"subscription_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	ProviderPaymentID string          `json:"provider_payment_id,omitempty"`
	Detail            string          `json:"detail,omitempty"`
}

func newPaymentResolved(p *Payment, routingKey string) PaymentResolved {
	return PaymentResolved{
		BaseEvent:         sharedDomain.NewBaseEvent(p.ID(), paymentAggregate, routingKey, p.UpdatedAt()),
		PaymentID:         p.ID(),
		SubscriptionID:    p.subscriptionID,
		Amount:            p.amount,
		Currency:          p.currency,
		ProviderPaymentID: p.providerPaymentID,
		Detail:            p.errorDetail,
	}
}

type PaymentSucceeded struct{ PaymentResolved }
type PaymentFailed struct{ PaymentResolved }
type PaymentCancelled struct{ PaymentResolved }
type PaymentRefunded struct{ PaymentResolved }

func NewPaymentSucceeded(p *Payment) *PaymentSucceeded {
	return &PaymentSucceeded{newPaymentResolved(p, RoutingKeySucceeded)}
}

func NewPaymentFailed(p *Payment) *PaymentFailed {
	return &PaymentFailed{newPaymentResolved(p, RoutingKeyFailed)}
}

func NewPaymentCancelled(p *Payment) *PaymentCancelled {
	return &PaymentCancelled{newPaymentResolved(p, RoutingKeyCancelled)}
}

func NewPaymentRefunded(p *Payment) *PaymentRefunded {
	return &PaymentRefunded{newPaymentResolved(p, RoutingKeyRefunded)}
}

// RefundIssued is emitted when the provider confirms a refund.
type RefundIssued struct {
	sharedDomain.BaseEvent
	RefundID         uuid.UUID       `json:"refund_id"`
	PaymentID        uuid.UUID       `json:"payment_id"`
	ProviderRefundID string          `json:"provider_refund_id"`
	Amount           decimal.Decimal `json:"amount"`
	Reason           string          `json:"reason"`
}

func NewRefundIssued(r *Refund) *RefundIssued {
	return &RefundIssued{
		BaseEvent:        sharedDomain.NewBaseEvent(r.ID(), refundAggregate, RoutingKeyRefund, r.UpdatedAt()),
		RefundID:         r.ID(),
		PaymentID:        r.paymentID,
		ProviderRefundID: r.providerRefundID,
		Amount:           r.amount,
		Reason:           r.reason,
	}
}
