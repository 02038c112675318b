// Package application drives payments: booking checkout, reconciliation
// against the provider, the reconciliation poller and refunds.
package application

import (
	"context"

	"github.com/google/uuid"

	catalogApplication "github.com/felixgeelhaar/lessonpass/internal/catalog/application"
	enrollmentApplication "github.com/felixgeelhaar/lessonpass/internal/enrollment/application"
	enrollment "github.com/felixgeelhaar/lessonpass/internal/enrollment/domain"
)

// Subscriptions is the part of the subscription store payments drive.
type Subscriptions interface {
	CreatePending(ctx context.Context, owner enrollment.Owner, plan enrollmentApplication.PlanRef, tariff enrollment.Tariff, policy enrollment.ActivationPolicy) (*enrollment.Subscription, error)
	ActivateWithNewVoucher(ctx context.Context, id uuid.UUID) (*enrollment.Subscription, error)
	Cancel(ctx context.Context, id uuid.UUID) (*enrollment.Subscription, error)
	Get(ctx context.Context, id uuid.UUID) (*enrollment.Subscription, error)
}

// Quoter prices a plan tariff.
type Quoter interface {
	Quote(ctx context.Context, planID uuid.UUID, tariff string) (catalogApplication.Quote, error)
}

var (
	_ Subscriptions = (*enrollmentApplication.SubscriptionStore)(nil)
	_ Quoter        = (*catalogApplication.Service)(nil)
)
