// Package application holds the enrollment use cases: the subscription store
// and the redemption engine.
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

// PlanRef identifies the plan a subscription is bought for.
type PlanRef struct {
	PlanID   uuid.UUID
	CenterID uuid.UUID
}

// StoreConfig tunes activation.
type StoreConfig struct {
	// Validity is added to the activation time to set expires_at. Zero
	// disables date expiry.
	Validity time.Duration
}

// SubscriptionStore owns subscription state transitions. Every method runs
// as one unit of work and joins an outer one when ctx already carries it.
type SubscriptionStore struct {
	subs     domain.SubscriptionRepository
	visits   domain.VisitRepository
	outbox   outbox.Repository
	uow      sharedApplication.UnitOfWork
	vouchers domain.VoucherGenerator
	engine   *RedemptionEngine
	config   StoreConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewSubscriptionStore wires the store. A nil vouchers uses
// RandomVoucherGenerator and a nil logger uses slog.Default.
func NewSubscriptionStore(
	subs domain.SubscriptionRepository,
	visits domain.VisitRepository,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
	vouchers domain.VoucherGenerator,
	engine *RedemptionEngine,
	config StoreConfig,
	logger *slog.Logger,
) *SubscriptionStore {
	if vouchers == nil {
		vouchers = domain.RandomVoucherGenerator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionStore{
		subs:     subs,
		visits:   visits,
		outbox:   outboxRepo,
		uow:      uow,
		vouchers: vouchers,
		engine:   engine,
		config:   config,
		logger:   logger.With("component", "subscription_store"),
		now:      time.Now,
	}
}

// WithClock replaces the time source.
func (s *SubscriptionStore) WithClock(now func() time.Time) *SubscriptionStore {
	s.now = now
	return s
}

// CreatePending books a placeholder subscription awaiting activation.
func (s *SubscriptionStore) CreatePending(ctx context.Context, owner domain.Owner, plan PlanRef, tariff domain.Tariff, policy domain.ActivationPolicy) (*domain.Subscription, error) {
	sub, err := domain.NewPendingSubscription(owner, plan.PlanID, plan.CenterID, tariff, policy, s.now())
	if err != nil {
		return nil, err
	}

	err = sharedApplication.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		if err := s.subs.Create(txCtx, sub); err != nil {
			return err
		}
		return s.flush(txCtx, sub, owner.AccountID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "subscription booked",
		"subscription_id", sub.ID(), "tariff", sub.Tariff(), "policy", sub.ActivationPolicy())
	return sub, nil
}

// Activate binds voucherCode to a pending subscription. It fails with
// ErrNotPending unless the subscription is pending and with
// ErrVoucherCollision when the code is already taken.
func (s *SubscriptionStore) Activate(ctx context.Context, id uuid.UUID, voucherCode string) (*domain.Subscription, error) {
	var sub *domain.Subscription
	err := sharedApplication.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		var err error
		sub, err = s.subs.FindByID(txCtx, id)
		if err != nil {
			return err
		}
		if err := sub.Activate(voucherCode, s.now(), s.config.Validity); err != nil {
			return err
		}
		if err := s.subs.Activate(txCtx, sub); err != nil {
			return err
		}
		return s.flush(txCtx, sub, sub.Owner().AccountID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "subscription activated",
		"subscription_id", sub.ID(), "voucher", observability.Mask(voucherCode))
	return sub, nil
}

// ActivateWithNewVoucher activates with a freshly generated code. A
// collision surfaces as ErrVoucherCollision; callers rerun their whole unit
// of work with a new code because some stores abort the transaction on a
// constraint failure.
func (s *SubscriptionStore) ActivateWithNewVoucher(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	code, err := s.vouchers.Generate()
	if err != nil {
		return nil, err
	}
	return s.Activate(ctx, id, code)
}

// IsVoucherCollision reports whether err is worth retrying with a new code.
func IsVoucherCollision(err error) bool {
	return errors.Is(err, domain.ErrVoucherCollision)
}

// Cancel withdraws a pending subscription. The record is kept with status
// cancelled.
func (s *SubscriptionStore) Cancel(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	var sub *domain.Subscription
	err := sharedApplication.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		var err error
		sub, err = s.subs.FindByID(txCtx, id)
		if err != nil {
			return err
		}
		if err := sub.Cancel(s.now()); err != nil {
			return err
		}
		if err := s.subs.Cancel(txCtx, sub); err != nil {
			return err
		}
		return s.flush(txCtx, sub, sub.Owner().AccountID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "subscription cancelled", "subscription_id", sub.ID())
	return sub, nil
}

// RedeemOne consumes one lesson through the redemption engine.
func (s *SubscriptionStore) RedeemOne(ctx context.Context, voucherCode string, centerID uuid.UUID) (Redemption, error) {
	return s.engine.RedeemOne(ctx, voucherCode, centerID)
}

func (s *SubscriptionStore) Get(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	return s.subs.FindByID(ctx, id)
}

func (s *SubscriptionStore) GetByVoucher(ctx context.Context, code string) (*domain.Subscription, error) {
	return s.subs.FindByVoucher(ctx, code)
}

// ListActiveForOwner lists subscriptions that can still be redeemed. Ones
// found past their expiry date are stored as expired and left out.
func (s *SubscriptionStore) ListActiveForOwner(ctx context.Context, owner domain.Owner) ([]*domain.Subscription, error) {
	subs, err := s.listForOwner(ctx, owner, domain.StatusActive)
	if err != nil {
		return nil, err
	}
	active := subs[:0]
	for _, sub := range subs {
		if sub.Status() == domain.StatusActive {
			active = append(active, sub)
		}
	}
	return active, nil
}

func (s *SubscriptionStore) ListForOwner(ctx context.Context, owner domain.Owner) ([]*domain.Subscription, error) {
	return s.listForOwner(ctx, owner)
}

func (s *SubscriptionStore) listForOwner(ctx context.Context, owner domain.Owner, statuses ...domain.Status) ([]*domain.Subscription, error) {
	subs, err := s.subs.ListForOwner(ctx, owner, statuses...)
	if err != nil {
		return nil, err
	}
	if err := s.expirer().expireAll(ctx, subs, s.now()); err != nil {
		return nil, err
	}
	return subs, nil
}

// VisitStats sums visits and lessons across the owner's active and expired
// subscriptions. Remaining lessons count only what can still be redeemed.
func (s *SubscriptionStore) VisitStats(ctx context.Context, owner domain.Owner) (domain.VisitStats, error) {
	var stats domain.VisitStats

	visits, err := s.visits.CountForOwner(ctx, owner)
	if err != nil {
		return stats, err
	}
	stats.Visits = visits

	subs, err := s.listForOwner(ctx, owner, domain.StatusActive, domain.StatusExpired)
	if err != nil {
		return stats, err
	}
	for _, sub := range subs {
		if sub.Tariff().IsUnlimited() {
			stats.Unlimited++
			continue
		}
		stats.LessonsTotal += sub.LessonsTotal()
		if sub.Status() == domain.StatusActive {
			stats.LessonsRemaining += sub.LessonsRemaining()
		}
	}
	return stats, nil
}

// CountCenterVisits counts redemptions at a center in [from, to).
func (s *SubscriptionStore) CountCenterVisits(ctx context.Context, centerID uuid.UUID, from, to time.Time) (int, error) {
	return s.visits.CountByCenter(ctx, centerID, from, to)
}

// CenterRoster lists the students holding active passes at a center. Passes
// found past their expiry date are stored as expired and left out.
func (s *SubscriptionStore) CenterRoster(ctx context.Context, centerID uuid.UUID) ([]domain.RosterEntry, error) {
	subs, err := s.subs.ListByCenter(ctx, centerID, domain.StatusActive)
	if err != nil {
		return nil, err
	}
	if err := s.expirer().expireAll(ctx, subs, s.now()); err != nil {
		return nil, err
	}
	return domain.BuildRoster(subs), nil
}

// CenterActivity counts visits at a center and passes activated there in
// [from, to).
func (s *SubscriptionStore) CenterActivity(ctx context.Context, centerID uuid.UUID, from, to time.Time) (domain.CenterActivity, error) {
	activity := domain.CenterActivity{CenterID: centerID}

	visits, err := s.visits.CountByCenter(ctx, centerID, from, to)
	if err != nil {
		return activity, err
	}
	activity.Visits = visits

	sales, err := s.subs.CountActivatedByCenter(ctx, centerID, from, to)
	if err != nil {
		return activity, err
	}
	activity.Sales = sales
	return activity, nil
}

func (s *SubscriptionStore) expirer() expirer {
	return expirer{subs: s.subs, outbox: s.outbox, uow: s.uow, logger: s.logger}
}

func (s *SubscriptionStore) flush(ctx context.Context, sub *domain.Subscription, actor string) error {
	return outbox.Flush(ctx, s.outbox, sub, sharedApplication.EventMetadataFromContext(ctx, actor))
}
