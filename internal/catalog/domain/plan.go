// Package domain models the priced plans lesson passes are sold for.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	sharedDomain "github.com/felixgeelhaar/lessonpass/internal/shared/domain"
)

var (
	ErrUnknownPlan   = errors.New("unknown plan")
	ErrUnknownTariff = errors.New("plan has no price for tariff")
	ErrInvalidPlan   = errors.New("invalid plan")
)

// Prices lists a plan's price per tariff.
type Prices struct {
	Four      decimal.Decimal
	Eight     decimal.Decimal
	Unlimited decimal.Decimal
}

// Plan is a course offering at one center.
type Plan struct {
	id        uuid.UUID
	centerID  uuid.UUID
	name      string
	prices    Prices
	currency  string
	createdAt time.Time
}

func wholeMinorUnits(p Prices) bool {
	return sharedDomain.HasWholeMinorUnits(p.Four) &&
		sharedDomain.HasWholeMinorUnits(p.Eight) &&
		sharedDomain.HasWholeMinorUnits(p.Unlimited)
}

// NewPlan validates and creates a plan.
func NewPlan(centerID uuid.UUID, name string, prices Prices, currency string, now time.Time) (*Plan, error) {
	name = strings.TrimSpace(name)
	currency = strings.ToUpper(strings.TrimSpace(currency))
	switch {
	case centerID == uuid.Nil:
		return nil, errors.Join(ErrInvalidPlan, errors.New("center is required"))
	case name == "":
		return nil, errors.Join(ErrInvalidPlan, errors.New("name is required"))
	case len(currency) != 3:
		return nil, errors.Join(ErrInvalidPlan, errors.New("currency must be an ISO 4217 code"))
	case prices.Four.IsNegative() || prices.Eight.IsNegative() || prices.Unlimited.IsNegative():
		return nil, errors.Join(ErrInvalidPlan, errors.New("prices cannot be negative"))
	case !wholeMinorUnits(prices):
		return nil, errors.Join(ErrInvalidPlan, errors.New("prices allow at most two decimal places"))
	}
	return &Plan{
		id:        uuid.New(),
		centerID:  centerID,
		name:      name,
		prices:    prices,
		currency:  currency,
		createdAt: now.UTC(),
	}, nil
}

// RehydratePlan rebuilds a plan from storage.
func RehydratePlan(id, centerID uuid.UUID, name string, prices Prices, currency string, createdAt time.Time) *Plan {
	return &Plan{id: id, centerID: centerID, name: name, prices: prices, currency: currency, createdAt: createdAt.UTC()}
}

func (p *Plan) ID() uuid.UUID        { return p.id }
func (p *Plan) CenterID() uuid.UUID  { return p.centerID }
func (p *Plan) Name() string         { return p.name }
func (p *Plan) Prices() Prices       { return p.prices }
func (p *Plan) Currency() string     { return p.currency }
func (p *Plan) CreatedAt() time.Time { return p.createdAt }

// PriceFor returns the price of a tariff ("4", "8" or "unlimited").
func (p *Plan) PriceFor(tariff string) (decimal.Decimal, error) {
	switch tariff {
	case "4":
		return p.prices.Four, nil
	case "8":
		return p.prices.Eight, nil
	case "unlimited":
		return p.prices.Unlimited, nil
	}
	return decimal.Zero, ErrUnknownTariff
}

// PlanRepository stores plans.
type PlanRepository interface {
	Save(ctx context.Context, p *Plan) error
	FindByID(ctx context.Context, id uuid.UUID) (*Plan, error)
	ListByCenter(ctx context.Context, centerID uuid.UUID) ([]*Plan, error)
}
