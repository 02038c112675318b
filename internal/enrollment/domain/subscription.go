// Package domain models lesson-pass subscriptions and their redemption ledger.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"

	sharedDomain "github.com/felixgeelhaar/lessonpass/internal/shared/domain"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrVoucherNotFound      = errors.New("voucher not found")
	ErrNotPending           = errors.New("subscription is not pending payment")
	ErrNotActive            = errors.New("subscription is not active")
	ErrLocationMismatch     = errors.New("voucher is not valid at this center")
	ErrExhausted            = errors.New("no lessons remaining")
	ErrVoucherCollision     = errors.New("voucher code already assigned")
	ErrInvalidTariff        = errors.New("invalid tariff")
	ErrInvalidOwner         = errors.New("subscription owner is required")
	ErrEmptyVoucher         = errors.New("voucher code cannot be empty")
)

// Tariff is the lesson allowance bought with a subscription.
type Tariff string

const (
	TariffFour      Tariff = "4"
	TariffEight     Tariff = "8"
	TariffUnlimited Tariff = "unlimited"
)

// UnlimitedLessons is stored in the lesson counters of unlimited tariffs.
// It is never decremented.
const UnlimitedLessons = -1

// ParseTariff validates a tariff received from a caller.
func ParseTariff(s string) (Tariff, error) {
	t := Tariff(s)
	if !t.IsValid() {
		return "", ErrInvalidTariff
	}
	return t, nil
}

func (t Tariff) IsValid() bool {
	switch t {
	case TariffFour, TariffEight, TariffUnlimited:
		return true
	}
	return false
}

// Lessons returns the allowance, or UnlimitedLessons.
func (t Tariff) Lessons() int {
	switch t {
	case TariffFour:
		return 4
	case TariffEight:
		return 8
	default:
		return UnlimitedLessons
	}
}

func (t Tariff) IsUnlimited() bool { return t == TariffUnlimited }

// Status is the subscription lifecycle state.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusActive         Status = "active"
	StatusExpired        Status = "expired"
	StatusCancelled      Status = "cancelled"
)

// ActivationPolicy decides at booking time how a subscription becomes active.
type ActivationPolicy string

const (
	// PolicyGateway waits for a confirmed payment.
	PolicyGateway ActivationPolicy = "gateway"
	// PolicyDirect activates at booking time.
	PolicyDirect ActivationPolicy = "direct"
)

// Owner is the account that bought a subscription, optionally on behalf of
// a dependent such as a child. An empty DependentID means the account itself.
type Owner struct {
	AccountID   string
	DependentID string
}

// Subscription is a bought lesson allowance for one plan at one center.
type Subscription struct {
	sharedDomain.BaseAggregate
	owner            Owner
	planID           uuid.UUID
	centerID         uuid.UUID
	tariff           Tariff
	lessonsTotal     int
	lessonsRemaining int
	voucherCode      string
	status           Status
	policy           ActivationPolicy
	purchasedAt      time.Time
	activatedAt      *time.Time
	expiresAt        *time.Time
	cancelledAt      *time.Time
}

// NewPendingSubscription creates a placeholder awaiting activation.
func NewPendingSubscription(owner Owner, planID, centerID uuid.UUID, tariff Tariff, policy ActivationPolicy, now time.Time) (*Subscription, error) {
	if owner.AccountID == "" {
		return nil, ErrInvalidOwner
	}
	if !tariff.IsValid() {
		return nil, ErrInvalidTariff
	}
	if policy != PolicyDirect {
		policy = PolicyGateway
	}

	s := &Subscription{
		BaseAggregate:    sharedDomain.NewBaseAggregate(now),
		owner:            owner,
		planID:           planID,
		centerID:         centerID,
		tariff:           tariff,
		lessonsTotal:     tariff.Lessons(),
		lessonsRemaining: tariff.Lessons(),
		status:           StatusPendingPayment,
		policy:           policy,
		purchasedAt:      now.UTC(),
	}
	s.Record(NewSubscriptionBooked(s))
	return s, nil
}

// RehydrateSubscription rebuilds a subscription from storage.
func RehydrateSubscription(
	id uuid.UUID,
	owner Owner,
	planID, centerID uuid.UUID,
	tariff Tariff,
	lessonsTotal, lessonsRemaining int,
	voucherCode string,
	status Status,
	policy ActivationPolicy,
	purchasedAt time.Time,
	activatedAt, expiresAt, cancelledAt *time.Time,
	createdAt, updatedAt time.Time,
) *Subscription {
	return &Subscription{
		BaseAggregate:    sharedDomain.RehydrateBaseAggregate(id, createdAt, updatedAt),
		owner:            owner,
		planID:           planID,
		centerID:         centerID,
		tariff:           tariff,
		lessonsTotal:     lessonsTotal,
		lessonsRemaining: lessonsRemaining,
		voucherCode:      voucherCode,
		status:           status,
		policy:           policy,
		purchasedAt:      purchasedAt.UTC(),
		activatedAt:      utcPtr(activatedAt),
		expiresAt:        utcPtr(expiresAt),
		cancelledAt:      utcPtr(cancelledAt),
	}
}

func (s *Subscription) Owner() Owner                       { return s.owner }
func (s *Subscription) PlanID() uuid.UUID                  { return s.planID }
func (s *Subscription) CenterID() uuid.UUID                { return s.centerID }
func (s *Subscription) Tariff() Tariff                     { return s.tariff }
func (s *Subscription) LessonsTotal() int                  { return s.lessonsTotal }
func (s *Subscription) LessonsRemaining() int              { return s.lessonsRemaining }
func (s *Subscription) VoucherCode() string                { return s.voucherCode }
func (s *Subscription) Status() Status                     { return s.status }
func (s *Subscription) ActivationPolicy() ActivationPolicy { return s.policy }
func (s *Subscription) PurchasedAt() time.Time             { return s.purchasedAt }
func (s *Subscription) ActivatedAt() *time.Time            { return s.activatedAt }
func (s *Subscription) ExpiresAt() *time.Time              { return s.expiresAt }
func (s *Subscription) CancelledAt() *time.Time            { return s.cancelledAt }

func (s *Subscription) IsPending() bool { return s.status == StatusPendingPayment }

// Activate binds a voucher and opens the allowance. validity of zero means
// the subscription never expires by date.
func (s *Subscription) Activate(voucherCode string, now time.Time, validity time.Duration) error {
	if s.status != StatusPendingPayment {
		return ErrNotPending
	}
	if voucherCode == "" {
		return ErrEmptyVoucher
	}

	now = now.UTC()
	s.voucherCode = voucherCode
	s.status = StatusActive
	s.activatedAt = &now
	if validity > 0 {
		expires := now.Add(validity)
		s.expiresAt = &expires
	}
	s.Touch(now)
	s.Record(NewSubscriptionActivated(s))
	return nil
}

// Cancel withdraws a booking that was never paid. Active subscriptions
// cannot be cancelled.
func (s *Subscription) Cancel(now time.Time) error {
	if s.status != StatusPendingPayment {
		return ErrNotPending
	}
	now = now.UTC()
	s.status = StatusCancelled
	s.cancelledAt = &now
	s.Touch(now)
	s.Record(NewSubscriptionCancelled(s))
	return nil
}

// CheckRedeemable reports why a lesson cannot be consumed at center, or nil.
// A subscription past its expiry date counts as not active.
func (s *Subscription) CheckRedeemable(centerID uuid.UUID, now time.Time) error {
	if s.status != StatusActive {
		return ErrNotActive
	}
	if s.expiresAt != nil && !now.Before(*s.expiresAt) {
		return ErrNotActive
	}
	if s.centerID != centerID {
		return ErrLocationMismatch
	}
	if !s.tariff.IsUnlimited() && s.lessonsRemaining <= 0 {
		return ErrExhausted
	}
	return nil
}

// ExpireLapsed closes an active subscription whose expiry date has passed
// and reports whether it did.
func (s *Subscription) ExpireLapsed(now time.Time) bool {
	if s.status != StatusActive || s.expiresAt == nil || now.Before(*s.expiresAt) {
		return false
	}
	s.status = StatusExpired
	s.Touch(now.UTC())
	s.Record(NewSubscriptionExpired(s))
	return true
}

// RecordRedemption raises the events for a redemption already applied to
// this aggregate's state.
func (s *Subscription) RecordRedemption(visit *Visit) {
	s.Record(NewLessonRedeemed(s, visit))
	if s.status == StatusExpired {
		s.Record(NewSubscriptionExpired(s))
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
