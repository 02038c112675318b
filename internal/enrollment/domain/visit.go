package domain

import (
	"time"

	"github.com/google/uuid"
)

// Visit is one redeemed lesson. Visits are append-only.
type Visit struct {
	id             uuid.UUID
	subscriptionID uuid.UUID
	owner          Owner
	centerID       uuid.UUID
	visitedAt      time.Time
}

// NewVisit records a lesson consumed from sub at center.
func NewVisit(sub *Subscription, centerID uuid.UUID, at time.Time) *Visit {
	return &Visit{
		id:             uuid.New(),
		subscriptionID: sub.ID(),
		owner:          sub.Owner(),
		centerID:       centerID,
		visitedAt:      at.UTC(),
	}
}

// RehydrateVisit rebuilds a visit from storage.
func RehydrateVisit(id, subscriptionID uuid.UUID, owner Owner, centerID uuid.UUID, visitedAt time.Time) *Visit {
	return &Visit{
		id:             id,
		subscriptionID: subscriptionID,
		owner:          owner,
		centerID:       centerID,
		visitedAt:      visitedAt.UTC(),
	}
}

func (v *Visit) ID() uuid.UUID             { return v.id }
func (v *Visit) SubscriptionID() uuid.UUID { return v.subscriptionID }
func (v *Visit) Owner() Owner              { return v.owner }
func (v *Visit) CenterID() uuid.UUID       { return v.centerID }
func (v *Visit) VisitedAt() time.Time      { return v.visitedAt }

// VisitStats summarises an owner's usage. Totals count fixed tariffs only.
type VisitStats struct {
	Visits           int `json:"visits"`
	LessonsTotal     int `json:"lessons_total"`
	LessonsRemaining int `json:"lessons_remaining"`
	Unlimited        int `json:"unlimited_subscriptions"`
}
