package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/lessonpass/internal/enrollment/domain"
	sharedApplication "github.com/felixgeelhaar/lessonpass/internal/shared/application"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/outbox"
)

// expirer persists date expiry for active subscriptions that are past
// expires_at. Redemption refuses them either way; storing the status keeps
// listings and stats honest.
type expirer struct {
	subs   domain.SubscriptionRepository
	outbox outbox.Repository
	uow    sharedApplication.UnitOfWork
	logger *slog.Logger
}

// expire closes sub when it has lapsed at now and reports whether this call
// stored the change. It runs in its own unit of work.
func (x expirer) expire(ctx context.Context, sub *domain.Subscription, now time.Time) (bool, error) {
	if !sub.ExpireLapsed(now) {
		return false, nil
	}

	var applied bool
	err := sharedApplication.WithUnitOfWork(ctx, x.uow, func(txCtx context.Context) error {
		var err error
		applied, err = x.subs.Expire(txCtx, sub)
		if err != nil || !applied {
			return err
		}
		return outbox.Flush(txCtx, x.outbox, sub, sharedApplication.EventMetadataFromContext(txCtx, "system"))
	})
	if err != nil {
		return false, err
	}
	if applied {
		x.logger.InfoContext(ctx, "subscription expired by date",
			"subscription_id", sub.ID(), "expires_at", sub.ExpiresAt())
	}
	return applied, nil
}

// expireAll runs expire over subs, updating them in place.
func (x expirer) expireAll(ctx context.Context, subs []*domain.Subscription, now time.Time) error {
	for _, sub := range subs {
		if _, err := x.expire(ctx, sub, now); err != nil {
			return err
		}
	}
	return nil
}
