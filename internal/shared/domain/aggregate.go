package domain

import (
	"time"

	"github.com/google/uuid"
)

// Aggregate is the root of a consistency boundary that records the events it raised.
type Aggregate interface {
	ID() uuid.UUID
	Events() []Event
	ClearEvents()
}

// BaseAggregate carries identity, timestamps and pending events for an aggregate root.
type BaseAggregate struct {
	id        uuid.UUID
	createdAt time.Time
	updatedAt time.Time
	events    []Event
}

// NewBaseAggregate creates an aggregate with a generated ID stamped at now.
func NewBaseAggregate(now time.Time) BaseAggregate {
	now = now.UTC()
	return BaseAggregate{
		id:        uuid.New(),
		createdAt: now,
		updatedAt: now,
	}
}

// RehydrateBaseAggregate rebuilds the base from persisted columns.
func RehydrateBaseAggregate(id uuid.UUID, createdAt, updatedAt time.Time) BaseAggregate {
	return BaseAggregate{
		id:        id,
		createdAt: createdAt.UTC(),
		updatedAt: updatedAt.UTC(),
	}
}

func (a *BaseAggregate) ID() uuid.UUID        { return a.id }
func (a *BaseAggregate) CreatedAt() time.Time { return a.createdAt }
func (a *BaseAggregate) UpdatedAt() time.Time { return a.updatedAt }

// Touch moves updatedAt forward.
func (a *BaseAggregate) Touch(now time.Time) {
	a.updatedAt = now.UTC()
}

// Record appends an event to be flushed to the outbox with the next save.
func (a *BaseAggregate) Record(event Event) {
	a.events = append(a.events, event)
}

// Events returns the events recorded since the last flush.
func (a *BaseAggregate) Events() []Event {
	return a.events
}

// ClearEvents drops recorded events after they have been persisted.
func (a *BaseAggregate) ClearEvents() {
	a.events = nil
}
