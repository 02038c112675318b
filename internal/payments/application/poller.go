package application

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/lessonpass/internal/payments/domain"
	"github.com/felixgeelhaar/lessonpass/pkg/observability"
)

// PollerConfig tunes the reconciliation poller.
type PollerConfig struct {
	Interval time.Duration
	// MinAge leaves fresh payments to the webhook.
	MinAge    time.Duration
	BatchSize int
}

// DefaultPollerConfig returns the worker defaults.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:  time.Minute,
		MinAge:    2 * time.Minute,
		BatchSize: 50,
	}
}

// CheckoutRegistrar registers pending payments the provider never
// acknowledged.
type CheckoutRegistrar interface {
	RegisterCheckout(ctx context.Context, p *domain.Payment) error
}

var _ CheckoutRegistrar = (*BookingService)(nil)

// Poller periodically reconciles payments the webhook has not settled.
type Poller struct {
	payments   domain.PaymentRepository
	reconciler *Reconciler
	checkouts  CheckoutRegistrar
	config     PollerConfig
	logger     *slog.Logger
	metrics    observability.Metrics
	now        func() time.Time
	running    atomic.Bool
	stopCh     chan struct{}
}

func NewPoller(payments domain.PaymentRepository, reconciler *Reconciler, config PollerConfig, logger *slog.Logger, metrics observability.Metrics) *Poller {
	defaults := DefaultPollerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.MinAge < 0 {
		config.MinAge = defaults.MinAge
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &Poller{
		payments:   payments,
		reconciler: reconciler,
		config:     config,
		logger:     logger.With("component", "reconcile_poller"),
		metrics:    metrics,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// WithClock replaces the time source.
func (p *Poller) WithClock(now func() time.Time) *Poller {
	p.now = now
	return p
}

// WithCheckouts lets the poller register payments whose checkout call
// failed. Without it such payments are left for RetryPayment.
func (p *Poller) WithCheckouts(checkouts CheckoutRegistrar) *Poller {
	p.checkouts = checkouts
	return p
}

// Run polls until ctx is cancelled or Stop is called.
func (p *Poller) Run(ctx context.Context) error {
	p.running.Store(true)
	defer p.running.Store(false)
	p.logger.Info("reconcile poller started",
		"interval", p.config.Interval, "min_age", p.config.MinAge, "batch_size", p.config.BatchSize)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunOnce(ctx); err != nil {
			p.logger.Error("reconcile cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			p.logger.Info("reconcile poller stopped")
			return nil
		case <-p.stopCh:
			p.logger.Info("reconcile poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Stop ends Run.
func (p *Poller) Stop() {
	if p.running.CompareAndSwap(true, false) {
		close(p.stopCh)
	}
}

// RunOnce reconciles one batch of due payments and returns how many
// changed. Payments the provider cannot answer for stay pending for the
// next cycle; a pending payment is never failed locally.
func (p *Poller) RunOnce(ctx context.Context) (int, error) {
	due, err := p.payments.ListPendingCreatedBefore(ctx, p.now().Add(-p.config.MinAge), p.config.BatchSize)
	if err != nil {
		return 0, err
	}
	p.metrics.Gauge(observability.MetricPollerPending, float64(len(due)))

	var (
		applied int
		errs    []error
	)
	for _, payment := range due {
		if ctx.Err() != nil {
			break
		}

		if payment.ProviderPaymentID() == "" {
			if p.checkouts == nil {
				continue
			}
			// The provider may hold this invoice already; registering it
			// again returns the reference so the status can be queried.
			if err := p.checkouts.RegisterCheckout(ctx, payment); err != nil {
				p.logger.DebugContext(ctx, "checkout still not registered", "payment_id", payment.ID(), "error", err)
				continue
			}
		}
		outcome, err := p.reconciler.ReconcileStatus(ctx, payment.ID())
		switch {
		case errors.Is(err, domain.ErrStatusUnknown):
			p.logger.DebugContext(ctx, "payment status still unknown", "payment_id", payment.ID())
		case err != nil:
			errs = append(errs, err)
		case outcome.Applied:
			applied++
		}
	}
	return applied, errors.Join(errs...)
}
