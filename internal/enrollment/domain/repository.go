package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubscriptionRepository persists subscriptions. Write methods join the
// transaction carried by ctx.
type SubscriptionRepository interface {
	Create(ctx context.Context, s *Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*Subscription, error)
	FindByVoucher(ctx context.Context, code string) (*Subscription, error)
	ListForOwner(ctx context.Context, owner Owner, statuses ...Status) ([]*Subscription, error)
	ListByCenter(ctx context.Context, centerID uuid.UUID, statuses ...Status) ([]*Subscription, error)
	// CountActivatedByCenter counts passes for center activated in [from, to).
	CountActivatedByCenter(ctx context.Context, centerID uuid.UUID, from, to time.Time) (int, error)

	// Activate stores an activation made in memory, only if the stored row is
	// still pending. Losing that race returns ErrNotPending; a duplicate
	// voucher returns ErrVoucherCollision.
	Activate(ctx context.Context, s *Subscription) error
	// Cancel stores a cancellation, only if the stored row is still pending.
	Cancel(ctx context.Context, s *Subscription) error
	// Expire stores a date expiry, only if the stored row is still active,
	// and reports whether this call applied it.
	Expire(ctx context.Context, s *Subscription) (bool, error)
	// ConsumeLesson atomically takes one lesson from the active subscription
	// bound to code at center and returns its new state. Failures are
	// classified with CheckRedeemable.
	ConsumeLesson(ctx context.Context, code string, centerID uuid.UUID, at time.Time) (*Subscription, error)
}

// VisitRepository is the append-only redemption ledger.
type VisitRepository interface {
	Append(ctx context.Context, v *Visit) error
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*Visit, error)
	CountForOwner(ctx context.Context, owner Owner) (int, error)
	CountByCenter(ctx context.Context, centerID uuid.UUID, from, to time.Time) (int, error)
}
