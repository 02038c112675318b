package domain

import (
	"time"

	"github.com/google/uuid"

	sharedDomain "github.com/felixgeelhaar/lessonpass/internal/shared/domain"
)

const aggregateType = "Subscription"

// Routing keys.
const (
	RoutingKeyBooked    = "enrollment.subscription.booked"
	RoutingKeyActivated = "enrollment.subscription.activated"
	RoutingKeyCancelled = "enrollment.subscription.cancelled"
	RoutingKeyExpired   = "enrollment.subscription.expired"
	RoutingKeyRedeemed  = "enrollment.lesson.redeemed"
)

// SubscriptionBooked is emitted when a placeholder subscription is created.
type SubscriptionBooked struct {
	sharedDomain.BaseEvent
	SubscriptionID uuid.UUID        `json:"subscription_id"`
	AccountID      string           `json:"account_id"`
	DependentID    string           `json:"dependent_id,omitempty"`
	PlanID         uuid.UUID        `json:"plan_id"`
	CenterID       uuid.UUID        `json:"center_id"`
	Tariff         Tariff           `json:"tariff"`
	Policy         ActivationPolicy `json:"activation_policy"`
}

func NewSubscriptionBooked(s *Subscription) *SubscriptionBooked {
	return &SubscriptionBooked{
		BaseEvent:      sharedDomain.NewBaseEvent(s.ID(), aggregateType, RoutingKeyBooked, s.UpdatedAt()),
		SubscriptionID: s.ID(),
		AccountID:      s.owner.AccountID,
		DependentID:    s.owner.DependentID,
		PlanID:         s.planID,
		CenterID:       s.centerID,
		Tariff:         s.tariff,
		Policy:         s.policy,
	}
}

// SubscriptionActivated is emitted once a voucher is bound. The voucher
// itself is a bearer credential and is not published.
type SubscriptionActivated struct {
	sharedDomain.BaseEvent
	SubscriptionID uuid.UUID  `json:"subscription_id"`
	AccountID      string     `json:"account_id"`
	LessonsTotal   int        `json:"lessons_total"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

func NewSubscriptionActivated(s *Subscription) *SubscriptionActivated {
	return &SubscriptionActivated{
		BaseEvent:      sharedDomain.NewBaseEvent(s.ID(), aggregateType, RoutingKeyActivated, s.UpdatedAt()),
		SubscriptionID: s.ID(),
		AccountID:      s.owner.AccountID,
		LessonsTotal:   s.lessonsTotal,
		ExpiresAt:      s.expiresAt,
	}
}

// SubscriptionCancelled is emitted when an unpaid booking is withdrawn.
type SubscriptionCancelled struct {
	sharedDomain.BaseEvent
	SubscriptionID uuid.UUID `json:"subscription_id"`
	AccountID      string    `json:"account_id"`
}

func NewSubscriptionCancelled(s *Subscription) *SubscriptionCancelled {
	return &SubscriptionCancelled{
		BaseEvent:      sharedDomain.NewBaseEvent(s.ID(), aggregateType, RoutingKeyCancelled, s.UpdatedAt()),
		SubscriptionID: s.ID(),
		AccountID:      s.owner.AccountID,
	}
}

// SubscriptionExpired is emitted when the last fixed lesson is consumed.
type SubscriptionExpired struct {
	sharedDomain.BaseEvent
	SubscriptionID uuid.UUID `json:"subscription_id"`
	AccountID      string    `json:"account_id"`
}

func NewSubscriptionExpired(s *Subscription) *SubscriptionExpired {
	return &SubscriptionExpired{
		BaseEvent:      sharedDomain.NewBaseEvent(s.ID(), aggregateType, RoutingKeyExpired, s.UpdatedAt()),
		SubscriptionID: s.ID(),
		AccountID:      s.owner.AccountID,
	}
}

// LessonRedeemed is emitted for every successful redemption.
type LessonRedeemed struct {
	sharedDomain.BaseEvent
	SubscriptionID   uuid.UUID `json:"subscription_id"`
	VisitID          uuid.UUID `json:"visit_id"`
	CenterID         uuid.UUID `json:"center_id"`
	LessonsRemaining int       `json:"lessons_remaining"`
	Unlimited        bool      `json:"unlimited"`
}

func NewLessonRedeemed(s *Subscription, v *Visit) *LessonRedeemed {
	return &LessonRedeemed{
		BaseEvent:        sharedDomain.NewBaseEvent(s.ID(), aggregateType, RoutingKeyRedeemed, v.VisitedAt()),
		SubscriptionID:   s.ID(),
		VisitID:          v.ID(),
		CenterID:         v.CenterID(),
		LessonsRemaining: s.lessonsRemaining,
		Unlimited:        s.tariff.IsUnlimited(),
	}
}
