package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/lessonpass/internal/enrollment/domain"
	sharedApplication "github.com/felixgeelhaar/lessonpass/internal/shared/application"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/lessonpass/pkg/observability"
)

// Redemption is the outcome of a successful RedeemOne.
type Redemption struct {
	SubscriptionID   uuid.UUID     `json:"subscription_id"`
	VisitID          uuid.UUID     `json:"visit_id"`
	LessonsRemaining int           `json:"lessons_remaining"`
	Unlimited        bool          `json:"unlimited"`
	Status           domain.Status `json:"status"`
}

// RedemptionEngine consumes lessons. Each redemption is a new consumption;
// there is no de-duplication window.
type RedemptionEngine struct {
	subs    domain.SubscriptionRepository
	visits  domain.VisitRepository
	outbox  outbox.Repository
	uow     sharedApplication.UnitOfWork
	logger  *slog.Logger
	metrics observability.Metrics
	now     func() time.Time
}

func NewRedemptionEngine(
	subs domain.SubscriptionRepository,
	visits domain.VisitRepository,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
	logger *slog.Logger,
	metrics observability.Metrics,
) *RedemptionEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &RedemptionEngine{
		subs:    subs,
		visits:  visits,
		outbox:  outboxRepo,
		uow:     uow,
		logger:  logger.With("component", "redemption_engine"),
		metrics: metrics,
		now:     time.Now,
	}
}

// WithClock replaces the time source.
func (e *RedemptionEngine) WithClock(now func() time.Time) *RedemptionEngine {
	e.now = now
	return e
}

// RedeemOne consumes one lesson from the subscription bound to voucherCode
// when presented at centerID. The decrement, the visit and the events commit
// together or not at all.
func (e *RedemptionEngine) RedeemOne(ctx context.Context, voucherCode string, centerID uuid.UUID) (Redemption, error) {
	timer := observability.StartTimer(observability.MetricRedemptionDuration).WithMetrics(e.metrics)

	at := e.now().UTC()
	var result Redemption
	err := sharedApplication.WithUnitOfWork(ctx, e.uow, func(txCtx context.Context) error {
		sub, err := e.subs.ConsumeLesson(txCtx, voucherCode, centerID, at)
		if err != nil {
			return err
		}

		visit := domain.NewVisit(sub, centerID, at)
		if err := e.visits.Append(txCtx, visit); err != nil {
			return err
		}
		sub.RecordRedemption(visit)
		metadata := sharedApplication.EventMetadataFromContext(txCtx, sub.Owner().AccountID)
		if err := outbox.Flush(txCtx, e.outbox, sub, metadata); err != nil {
			return err
		}

		result = Redemption{
			SubscriptionID:   sub.ID(),
			VisitID:          visit.ID(),
			LessonsRemaining: sub.LessonsRemaining(),
			Unlimited:        sub.Tariff().IsUnlimited(),
			Status:           sub.Status(),
		}
		return nil
	})
	timer.Stop(err)
	e.metrics.Counter(observability.MetricRedemptions, 1, observability.T("result", redemptionResult(err)))

	if err != nil {
		e.logger.InfoContext(ctx, "redemption refused",
			"voucher", observability.Mask(voucherCode), "center_id", centerID, "reason", err)
		if errors.Is(err, domain.ErrNotActive) {
			e.expireLapsed(ctx, voucherCode, at)
		}
		return Redemption{}, err
	}

	e.logger.InfoContext(ctx, "lesson redeemed",
		"subscription_id", result.SubscriptionID,
		"center_id", centerID,
		"lessons_remaining", result.LessonsRemaining,
		"status", result.Status,
	)
	return result, nil
}

// expireLapsed stores the expiry of a subscription refused for being past
// its date. The refused unit of work has rolled back by now.
func (e *RedemptionEngine) expireLapsed(ctx context.Context, voucherCode string, at time.Time) {
	sub, err := e.subs.FindByVoucher(ctx, voucherCode)
	if err != nil {
		return
	}
	x := expirer{subs: e.subs, outbox: e.outbox, uow: e.uow, logger: e.logger}
	if _, err := x.expire(ctx, sub, at); err != nil {
		e.logger.ErrorContext(ctx, "failed to store subscription expiry", "subscription_id", sub.ID(), "error", err)
	}
}

func redemptionResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrVoucherNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrNotActive):
		return "not_active"
	case errors.Is(err, domain.ErrLocationMismatch):
		return "location_mismatch"
	case errors.Is(err, domain.ErrExhausted):
		return "exhausted"
	default:
		return "error"
	}
}
