package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/felixgeelhaar/lessonpass/internal/payments/domain"
	sharedApplication "github.com/felixgeelhaar/lessonpass/internal/shared/application"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/lessonpass/pkg/observability"
)

// RefundProcessor reverses successful payments in full or in part. The
// amount is reserved before the provider is called so concurrent requests
// cannot together exceed what was paid.
type RefundProcessor struct {
	payments domain.PaymentRepository
	refunds  domain.RefundRepository
	gateway  domain.Gateway
	outbox   outbox.Repository
	uow      sharedApplication.UnitOfWork
	logger   *slog.Logger
	metrics  observability.Metrics
	now      func() time.Time
}

func NewRefundProcessor(
	payments domain.PaymentRepository,
	refunds domain.RefundRepository,
	gateway domain.Gateway,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
	logger *slog.Logger,
	metrics observability.Metrics,
) *RefundProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &RefundProcessor{
		payments: payments,
		refunds:  refunds,
		gateway:  gateway,
		outbox:   outboxRepo,
		uow:      uow,
		logger:   logger.With("component", "refund_processor"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// WithClock replaces the time source.
func (p *RefundProcessor) WithClock(now func() time.Time) *RefundProcessor {
	p.now = now
	return p
}

// RequestRefund refunds amount of paymentID. Once completed refunds cover
// the whole amount the payment becomes refunded.
func (p *RefundProcessor) RequestRefund(ctx context.Context, paymentID uuid.UUID, amount decimal.Decimal, reason string) (*domain.Refund, error) {
	refund, err := p.requestRefund(ctx, paymentID, amount, reason)
	p.metrics.Counter(observability.MetricRefunds, 1, observability.T("result", resultTag(err)))
	return refund, err
}

func (p *RefundProcessor) requestRefund(ctx context.Context, paymentID uuid.UUID, amount decimal.Decimal, reason string) (*domain.Refund, error) {
	if p.gateway == nil {
		return nil, domain.ErrNoProvider
	}
	payment, err := p.payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := payment.CheckRefund(amount); err != nil {
		return nil, err
	}
	refund, err := domain.NewRefund(payment.ID(), amount, reason, p.now())
	if err != nil {
		return nil, err
	}

	err = sharedApplication.WithUnitOfWork(ctx, p.uow, func(txCtx context.Context) error {
		reserved, err := p.payments.ReserveRefund(txCtx, payment.ID(), amount, p.now())
		if err != nil {
			return err
		}
		if !reserved {
			return p.refusal(txCtx, payment.ID(), amount)
		}
		return p.refunds.Create(txCtx, refund)
	})
	if err != nil {
		return nil, err
	}

	res, err := p.gateway.IssueRefund(ctx, domain.RefundRequest{
		RefundID:          refund.ID(),
		ProviderPaymentID: payment.ProviderPaymentID(),
		Amount:            amount,
		Reason:            refund.Reason(),
	})
	if err != nil {
		p.logger.WarnContext(ctx, "provider refused refund", "payment_id", payment.ID(), "refund_id", refund.ID(), "error", err)
		if relErr := p.release(context.WithoutCancel(ctx), refund, err.Error()); relErr != nil {
			p.logger.ErrorContext(ctx, "failed to release refund reservation", "refund_id", refund.ID(), "error", relErr)
		}
		return refund, err
	}

	err = sharedApplication.WithUnitOfWork(ctx, p.uow, func(txCtx context.Context) error {
		if err := refund.Complete(res.ProviderRefundID, p.now()); err != nil {
			return err
		}
		if err := p.refunds.Update(txCtx, refund); err != nil {
			return err
		}
		metadata := sharedApplication.EventMetadataFromContext(txCtx, "")
		if err := outbox.Flush(txCtx, p.outbox, refund, metadata); err != nil {
			return err
		}
		return p.closeIfFullyRefunded(txCtx, payment.ID())
	})
	if err != nil {
		return refund, err
	}

	p.logger.InfoContext(ctx, "refund issued",
		"payment_id", payment.ID(), "refund_id", refund.ID(), "amount", amount.String())
	return refund, nil
}

// refusal explains why a reservation did not apply.
func (p *RefundProcessor) refusal(ctx context.Context, paymentID uuid.UUID, amount decimal.Decimal) error {
	current, err := p.payments.FindByID(ctx, paymentID)
	if err != nil {
		return err
	}
	if err := current.CheckRefund(amount); err != nil {
		return err
	}
	return domain.ErrRefundExceedsBalance
}

func (p *RefundProcessor) release(ctx context.Context, refund *domain.Refund, detail string) error {
	return sharedApplication.WithUnitOfWork(ctx, p.uow, func(txCtx context.Context) error {
		if err := refund.Fail(detail, p.now()); err != nil {
			return err
		}
		if err := p.refunds.Update(txCtx, refund); err != nil {
			return err
		}
		return p.payments.ReleaseRefund(txCtx, refund.PaymentID(), refund.Amount(), p.now())
	})
}

func (p *RefundProcessor) closeIfFullyRefunded(ctx context.Context, paymentID uuid.UUID) error {
	payment, err := p.payments.FindByID(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment.Status() != domain.StatusSuccess || !payment.RefundedAmount().Equal(payment.Amount()) {
		return nil
	}
	if err := payment.MarkRefunded(p.now()); err != nil {
		return err
	}
	applied, err := p.payments.MarkRefunded(ctx, payment)
	if err != nil || !applied {
		return err
	}
	return outbox.Flush(ctx, p.outbox, payment, sharedApplication.EventMetadataFromContext(ctx, ""))
}

// ListRefunds returns the refunds recorded for a payment.
func (p *RefundProcessor) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]*domain.Refund, error) {
	return p.refunds.ListByPayment(ctx, paymentID)
}
