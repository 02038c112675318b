package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	enrollmentApplication "github.com/felixgeelhaar/lessonpass/internal/enrollment/application"
	enrollment "github.com/felixgeelhaar/lessonpass/internal/enrollment/domain"
	"github.com/felixgeelhaar/lessonpass/internal/payments/domain"
	sharedApplication "github.com/felixgeelhaar/lessonpass/internal/shared/application"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/lessonpass/pkg/observability"
)

// DefaultVoucherAttempts bounds activation retries after voucher collisions.
const DefaultVoucherAttempts = 5

// Outcome reports what reconciling one payment did. Applied is false when
// the payment was already terminal or the provider still reports pending.
type Outcome struct {
	PaymentID      uuid.UUID     `json:"payment_id"`
	SubscriptionID uuid.UUID     `json:"subscription_id"`
	Status         domain.Status `json:"status"`
	Applied        bool          `json:"applied"`
	VoucherCode    string        `json:"voucher_code,omitempty"`
}

// ReconcilerConfig tunes activation.
type ReconcilerConfig struct {
	VoucherAttempts int
}

// Reconciler aligns local payments with the provider. Webhooks, polling and
// explicit calls all go through Apply, so whichever arrives first decides and
// the rest are no-ops.
type Reconciler struct {
	payments domain.PaymentRepository
	subs     Subscriptions
	gateway  domain.Gateway
	outbox   outbox.Repository
	uow      sharedApplication.UnitOfWork
	config   ReconcilerConfig
	logger   *slog.Logger
	metrics  observability.Metrics
	now      func() time.Time
}

// NewReconciler wires a reconciler. gateway may be nil for deployments
// without a provider; provider-facing calls then fail with ErrNoProvider.
func NewReconciler(
	payments domain.PaymentRepository,
	subs Subscriptions,
	gateway domain.Gateway,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
	config ReconcilerConfig,
	logger *slog.Logger,
	metrics observability.Metrics,
) *Reconciler {
	if config.VoucherAttempts < 1 {
		config.VoucherAttempts = DefaultVoucherAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &Reconciler{
		payments: payments,
		subs:     subs,
		gateway:  gateway,
		outbox:   outboxRepo,
		uow:      uow,
		config:   config,
		logger:   logger.With("component", "payment_reconciler"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// WithClock replaces the time source.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// ReconcileStatus asks the provider for the payment's status and applies it.
// A query that fails or times out returns ErrStatusUnknown and changes
// nothing.
func (r *Reconciler) ReconcileStatus(ctx context.Context, paymentID uuid.UUID) (Outcome, error) {
	p, err := r.payments.FindByID(ctx, paymentID)
	if err != nil {
		return Outcome{}, err
	}
	if p.Status().IsTerminal() {
		return outcomeOf(p), nil
	}
	if r.gateway == nil {
		return outcomeOf(p), domain.ErrNoProvider
	}
	if p.ProviderPaymentID() == "" {
		return outcomeOf(p), fmt.Errorf("%w: payment has no provider reference yet", domain.ErrStatusUnknown)
	}

	report, err := r.gateway.QueryStatus(ctx, p.ProviderPaymentID())
	if err != nil {
		r.logger.WarnContext(ctx, "provider status query failed",
			"payment_id", p.ID(), "provider_payment_id", p.ProviderPaymentID(), "error", err)
		if errors.Is(err, domain.ErrStatusUnknown) {
			return outcomeOf(p), err
		}
		return outcomeOf(p), fmt.Errorf("%w: %w", domain.ErrStatusUnknown, err)
	}
	return r.Apply(ctx, p.ID(), report)
}

// HandleWebhook verifies a provider notification and applies it. Nothing is
// read or written before the signature checks out.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	if r.gateway == nil {
		return Outcome{}, domain.ErrNoProvider
	}
	report, err := r.gateway.VerifyWebhook(payload, signature)
	if err != nil {
		r.logger.WarnContext(ctx, "webhook rejected", "error", err)
		return Outcome{}, err
	}

	p, err := r.findReported(ctx, report)
	if err != nil {
		r.logger.WarnContext(ctx, "webhook for unknown payment",
			"provider_payment_id", report.ProviderPaymentID, "invoice_id", report.InvoiceID, "error", err)
		return Outcome{}, err
	}
	return r.Apply(ctx, p.ID(), report)
}

// findReported resolves a provider report to the local payment. Reports for
// payments whose registration timed out carry a provider reference we never
// stored, so the echoed invoice id is tried next.
func (r *Reconciler) findReported(ctx context.Context, report domain.StatusReport) (*domain.Payment, error) {
	p, err := r.payments.FindByProviderID(ctx, report.ProviderPaymentID)
	if err == nil || !errors.Is(err, domain.ErrPaymentNotFound) || report.InvoiceID == "" {
		return p, err
	}
	id, parseErr := uuid.Parse(report.InvoiceID)
	if parseErr != nil {
		return nil, err
	}
	p, err = r.payments.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.ProviderPaymentID() != "" && p.ProviderPaymentID() != report.ProviderPaymentID {
		return nil, fmt.Errorf("%w: invoice %s belongs to provider payment %s",
			domain.ErrPaymentNotFound, id, p.ProviderPaymentID())
	}
	return p, nil
}

// Apply moves a pending payment to the reported status. On success the
// linked subscription is activated with a fresh voucher in the same unit of
// work; on cancellation it is cancelled. A payment that is already terminal
// is left alone.
func (r *Reconciler) Apply(ctx context.Context, paymentID uuid.UUID, report domain.StatusReport) (Outcome, error) {
	if report.Status == domain.StatusPending {
		p, err := r.payments.FindByID(ctx, paymentID)
		if err != nil {
			return Outcome{}, err
		}
		return outcomeOf(p), nil
	}

	var outcome Outcome
	err := sharedApplication.WithUnitOfWorkRetry(ctx, r.uow, r.config.VoucherAttempts, r.retryable,
		func(txCtx context.Context) error {
			var err error
			outcome, err = r.apply(txCtx, paymentID, report)
			return err
		})

	switch {
	case errors.Is(err, sharedApplication.ErrAttemptsExhausted):
		r.logger.ErrorContext(ctx, "voucher assignment kept colliding",
			"payment_id", paymentID, "attempts", r.config.VoucherAttempts)
		err = fmt.Errorf("%w: %w", domain.ErrVoucherExhausted, err)
	case err != nil:
		r.logger.ErrorContext(ctx, "reconciliation failed", "payment_id", paymentID, "error", err)
	}
	r.metrics.Counter(observability.MetricPaymentsReconciled, 1,
		observability.T("status", reconciledStatus(outcome, report, err)),
		observability.T("result", reconciledResult(outcome, err)),
	)
	if err != nil {
		return Outcome{PaymentID: paymentID}, err
	}

	if outcome.Applied {
		r.logger.InfoContext(ctx, "payment reconciled",
			"payment_id", outcome.PaymentID,
			"subscription_id", outcome.SubscriptionID,
			"status", outcome.Status,
		)
	}
	return outcome, nil
}

func (r *Reconciler) apply(ctx context.Context, paymentID uuid.UUID, report domain.StatusReport) (Outcome, error) {
	p, err := r.payments.FindByID(ctx, paymentID)
	if err != nil {
		return Outcome{}, err
	}
	if p.Status().IsTerminal() {
		r.noteLateReport(ctx, p, report)
		return outcomeOf(p), nil
	}

	if p.ProviderPaymentID() == "" && report.ProviderPaymentID != "" {
		if err := p.AttachProvider(report.ProviderPaymentID, p.RedirectURL(), r.now()); err != nil {
			return Outcome{}, err
		}
		if _, err := r.payments.AttachProvider(ctx, p); err != nil {
			return Outcome{}, err
		}
	}

	if err := p.Resolve(report.Status, report.Detail, r.now()); err != nil {
		return Outcome{}, err
	}
	applied, err := r.payments.Resolve(ctx, p)
	if err != nil {
		return Outcome{}, err
	}
	if !applied {
		// Another reconciler resolved it first.
		current, err := r.payments.FindByID(ctx, paymentID)
		if err != nil {
			return Outcome{}, err
		}
		return outcomeOf(current), nil
	}

	outcome := outcomeOf(p)
	outcome.Applied = true

	switch p.Status() {
	case domain.StatusSuccess:
		sub, err := r.subs.ActivateWithNewVoucher(ctx, p.SubscriptionID())
		switch {
		case errors.Is(err, enrollment.ErrNotPending):
			r.logger.ErrorContext(ctx, "payment succeeded for a subscription that is no longer pending",
				"payment_id", p.ID(), "subscription_id", p.SubscriptionID())
		case enrollmentApplication.IsVoucherCollision(err):
			r.metrics.Counter(observability.MetricVoucherCollisions, 1)
			return Outcome{}, err
		case err != nil:
			return Outcome{}, err
		default:
			outcome.VoucherCode = sub.VoucherCode()
		}
	case domain.StatusCancelled:
		if _, err := r.subs.Cancel(ctx, p.SubscriptionID()); err != nil && !errors.Is(err, enrollment.ErrNotPending) {
			return Outcome{}, err
		}
	}

	metadata := sharedApplication.EventMetadataFromContext(ctx, "payment-provider")
	if err := outbox.Flush(ctx, r.outbox, p, metadata); err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

// noteLateReport flags provider reports that contradict a closed payment,
// such as money taken after the customer cancelled.
func (r *Reconciler) noteLateReport(ctx context.Context, p *domain.Payment, report domain.StatusReport) {
	if report.Status == domain.StatusSuccess && p.Status() != domain.StatusSuccess && p.Status() != domain.StatusRefunded {
		r.logger.ErrorContext(ctx, "provider reports success for a closed payment",
			"payment_id", p.ID(), "local_status", p.Status())
	}
}

func (r *Reconciler) retryable(err error) bool {
	return enrollmentApplication.IsVoucherCollision(err)
}

func outcomeOf(p *domain.Payment) Outcome {
	return Outcome{
		PaymentID:      p.ID(),
		SubscriptionID: p.SubscriptionID(),
		Status:         p.Status(),
	}
}

func reconciledStatus(outcome Outcome, report domain.StatusReport, err error) string {
	if err != nil || outcome.Status == "" {
		return string(report.Status)
	}
	return string(outcome.Status)
}

func reconciledResult(outcome Outcome, err error) string {
	switch {
	case err != nil:
		return "error"
	case outcome.Applied:
		return "applied"
	default:
		return "noop"
	}
}
