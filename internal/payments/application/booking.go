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

// BookCommand requests a lesson pass for a plan tariff.
type BookCommand struct {
	Owner    enrollment.Owner
	PlanID   uuid.UUID
	Tariff   string
	Customer domain.Customer
}

// BookingResult is either an activated subscription (direct policy) or a
// pending one with a checkout URL.
type BookingResult struct {
	Subscription *enrollment.Subscription
	Payment      *domain.Payment
	RedirectURL  string
	Activated    bool
}

// DefaultHistoryLimit caps a payment history listing.
const DefaultHistoryLimit = 10

// BookingConfig tunes bookings.
type BookingConfig struct {
	// Currency is used when the plan has none.
	Currency        string
	VoucherAttempts int
}

// BookingService creates subscriptions and starts their checkout. The
// activation policy is fixed per deployment: with a gateway every booking
// waits for payment, without one bookings activate immediately.
type BookingService struct {
	subs     Subscriptions
	payments domain.PaymentRepository
	quotes   Quoter
	gateway  domain.Gateway
	outbox   outbox.Repository
	uow      sharedApplication.UnitOfWork
	config   BookingConfig
	logger   *slog.Logger
	metrics  observability.Metrics
	now      func() time.Time
}

func NewBookingService(
	subs Subscriptions,
	payments domain.PaymentRepository,
	quotes Quoter,
	gateway domain.Gateway,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
	config BookingConfig,
	logger *slog.Logger,
	metrics observability.Metrics,
) *BookingService {
	if config.VoucherAttempts < 1 {
		config.VoucherAttempts = DefaultVoucherAttempts
	}
	if config.Currency == "" {
		config.Currency = "KZT"
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &BookingService{
		subs:     subs,
		payments: payments,
		quotes:   quotes,
		gateway:  gateway,
		outbox:   outboxRepo,
		uow:      uow,
		config:   config,
		logger:   logger.With("component", "booking"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// WithClock replaces the time source.
func (s *BookingService) WithClock(now func() time.Time) *BookingService {
	s.now = now
	return s
}

// Policy is the activation policy new bookings get.
func (s *BookingService) Policy() enrollment.ActivationPolicy {
	if s.gateway == nil {
		return enrollment.PolicyDirect
	}
	return enrollment.PolicyGateway
}

// Book creates a subscription for cmd. When the provider cannot start the
// checkout both the subscription and its payment stay pending and the
// partial result is returned with the error so the caller can retry.
func (s *BookingService) Book(ctx context.Context, cmd BookCommand) (BookingResult, error) {
	if cmd.Owner.AccountID == "" {
		return BookingResult{}, enrollment.ErrInvalidOwner
	}
	tariff, err := enrollment.ParseTariff(cmd.Tariff)
	if err != nil {
		return BookingResult{}, err
	}
	quote, err := s.quotes.Quote(ctx, cmd.PlanID, string(tariff))
	if err != nil {
		return BookingResult{}, err
	}
	plan := enrollmentApplication.PlanRef{PlanID: quote.PlanID, CenterID: quote.CenterID}

	if s.Policy() == enrollment.PolicyDirect {
		result, err := s.bookDirect(ctx, cmd.Owner, plan, tariff)
		s.metrics.Counter(observability.MetricBookings, 1,
			observability.T("policy", string(enrollment.PolicyDirect)), observability.T("result", resultTag(err)))
		return result, err
	}

	currency := quote.Currency
	if currency == "" {
		currency = s.config.Currency
	}

	var result BookingResult
	err = sharedApplication.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		sub, err := s.subs.CreatePending(txCtx, cmd.Owner, plan, tariff, enrollment.PolicyGateway)
		if err != nil {
			return err
		}
		p, err := domain.NewPayment(sub.ID(), quote.Amount, currency, "Lesson pass: "+quote.PlanName, s.now())
		if err != nil {
			return err
		}
		if err := s.payments.Create(txCtx, p); err != nil {
			return err
		}
		result = BookingResult{Subscription: sub, Payment: p}
		return nil
	})
	if err != nil {
		s.metrics.Counter(observability.MetricBookings, 1,
			observability.T("policy", string(enrollment.PolicyGateway)), observability.T("result", "error"))
		return BookingResult{}, err
	}

	err = s.startCheckout(ctx, result.Payment, cmd.Customer)
	result.RedirectURL = result.Payment.RedirectURL()
	s.metrics.Counter(observability.MetricBookings, 1,
		observability.T("policy", string(enrollment.PolicyGateway)), observability.T("result", resultTag(err)))
	return result, err
}

func (s *BookingService) bookDirect(ctx context.Context, owner enrollment.Owner, plan enrollmentApplication.PlanRef, tariff enrollment.Tariff) (BookingResult, error) {
	var sub *enrollment.Subscription
	err := sharedApplication.WithUnitOfWorkRetry(ctx, s.uow, s.config.VoucherAttempts, enrollmentApplication.IsVoucherCollision,
		func(txCtx context.Context) error {
			pending, err := s.subs.CreatePending(txCtx, owner, plan, tariff, enrollment.PolicyDirect)
			if err != nil {
				return err
			}
			sub, err = s.subs.ActivateWithNewVoucher(txCtx, pending.ID())
			return err
		})
	if errors.Is(err, sharedApplication.ErrAttemptsExhausted) {
		return BookingResult{}, fmt.Errorf("%w: %w", domain.ErrVoucherExhausted, err)
	}
	if err != nil {
		return BookingResult{}, err
	}
	return BookingResult{Subscription: sub, Activated: true}, nil
}

// RetryPayment restarts checkout for a pending subscription. A pending
// payment the provider never acknowledged is registered again under the same
// invoice; otherwise a new payment is opened. It fails with
// ErrPaymentInProgress while a registered payment is still pending.
func (s *BookingService) RetryPayment(ctx context.Context, subscriptionID uuid.UUID, customer domain.Customer) (BookingResult, error) {
	if s.gateway == nil {
		return BookingResult{}, domain.ErrNoProvider
	}
	sub, err := s.subs.Get(ctx, subscriptionID)
	if err != nil {
		return BookingResult{}, err
	}
	if !sub.IsPending() {
		return BookingResult{}, enrollment.ErrNotPending
	}

	p, err := s.payments.FindPendingBySubscription(ctx, sub.ID())
	switch {
	case err == nil && p.ProviderPaymentID() != "":
		return BookingResult{}, domain.ErrPaymentInProgress
	case err == nil:
	case errors.Is(err, domain.ErrPaymentNotFound):
		p, err = s.newPayment(ctx, sub)
		if err != nil {
			return BookingResult{}, err
		}
	default:
		return BookingResult{}, err
	}

	err = s.startCheckout(ctx, p, customer)
	return BookingResult{Subscription: sub, Payment: p, RedirectURL: p.RedirectURL()}, err
}

func (s *BookingService) newPayment(ctx context.Context, sub *enrollment.Subscription) (*domain.Payment, error) {
	quote, err := s.quotes.Quote(ctx, sub.PlanID(), string(sub.Tariff()))
	if err != nil {
		return nil, err
	}
	currency := quote.Currency
	if currency == "" {
		currency = s.config.Currency
	}
	p, err := domain.NewPayment(sub.ID(), quote.Amount, currency, "Lesson pass: "+quote.PlanName, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// RegisterCheckout registers a pending payment that has no provider
// reference yet. The provider keys payments by invoice, so a payment it
// already knows comes back with its existing reference.
func (s *BookingService) RegisterCheckout(ctx context.Context, p *domain.Payment) error {
	if s.gateway == nil {
		return domain.ErrNoProvider
	}
	if p.Status().IsTerminal() || p.ProviderPaymentID() != "" {
		return nil
	}
	sub, err := s.subs.Get(ctx, p.SubscriptionID())
	if err != nil {
		return err
	}
	return s.startCheckout(ctx, p, domain.Customer{AccountID: sub.Owner().AccountID})
}

// startCheckout registers p with the provider outside any transaction. A
// failed call leaves p pending without a provider reference: a timeout does
// not tell whether the provider created the payment, and the invoice id lets
// a later webhook or registration find it either way.
func (s *BookingService) startCheckout(ctx context.Context, p *domain.Payment, customer domain.Customer) error {
	res, err := s.gateway.CreatePayment(ctx, domain.CreatePaymentRequest{
		PaymentID:   p.ID(),
		Amount:      p.Amount(),
		Currency:    p.Currency(),
		Description: p.Description(),
		Customer:    customer,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrProviderUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
		}
		s.logger.WarnContext(ctx, "checkout could not be started", "payment_id", p.ID(), "error", err)
		return err
	}

	if err := p.AttachProvider(res.ProviderPaymentID, res.RedirectURL, s.now()); err != nil {
		return err
	}
	attached, err := s.payments.AttachProvider(ctx, p)
	if err != nil {
		return err
	}
	if !attached {
		s.logger.WarnContext(ctx, "payment resolved before its provider reference was stored", "payment_id", p.ID())
	}
	s.logger.InfoContext(ctx, "checkout started",
		"payment_id", p.ID(), "provider_payment_id", res.ProviderPaymentID, "amount", p.Amount().String())
	return nil
}

// CancelBooking withdraws a pending subscription and cancels its pending
// payment, if any. Active subscriptions cannot be cancelled.
func (s *BookingService) CancelBooking(ctx context.Context, subscriptionID uuid.UUID) (*enrollment.Subscription, error) {
	var sub *enrollment.Subscription
	err := sharedApplication.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		p, err := s.payments.FindPendingBySubscription(txCtx, subscriptionID)
		switch {
		case errors.Is(err, domain.ErrPaymentNotFound):
		case err != nil:
			return err
		default:
			if err := p.Resolve(domain.StatusCancelled, "cancelled by customer", s.now()); err != nil {
				return err
			}
			applied, err := s.payments.Resolve(txCtx, p)
			if err != nil {
				return err
			}
			if applied {
				if err := outbox.Flush(txCtx, s.outbox, p, sharedApplication.EventMetadataFromContext(txCtx, "customer")); err != nil {
					return err
				}
			}
		}

		sub, err = s.subs.Cancel(txCtx, subscriptionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *BookingService) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return s.payments.FindByID(ctx, id)
}

func (s *BookingService) ListPayments(ctx context.Context, subscriptionID uuid.UUID) ([]*domain.Payment, error) {
	return s.payments.ListBySubscription(ctx, subscriptionID)
}

// ListPaymentsForAccount returns the account's newest payments across all
// its subscriptions. A non-positive limit uses DefaultHistoryLimit.
func (s *BookingService) ListPaymentsForAccount(ctx context.Context, accountID string, limit int) ([]*domain.Payment, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.payments.ListForAccount(ctx, accountID, limit)
}

// CenterRevenue sums payments settled in [from, to) for a center's passes.
func (s *BookingService) CenterRevenue(ctx context.Context, centerID uuid.UUID, from, to time.Time) ([]domain.Revenue, error) {
	return s.payments.RevenueByCenter(ctx, centerID, from, to)
}

func resultTag(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
