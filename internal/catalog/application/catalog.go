// Package application exposes plan management and price quotes.
package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/felixgeelhaar/lessonpass/internal/catalog/domain"
)

// AddPlanCommand describes a new plan.
type AddPlanCommand struct {
	CenterID uuid.UUID
	Name     string
	Prices   domain.Prices
	Currency string
}

// Quote is the price of one tariff of a plan.
type Quote struct {
	PlanID   uuid.UUID
	CenterID uuid.UUID
	PlanName string
	Tariff   string
	Amount   decimal.Decimal
	Currency string
}

// Service manages plans and answers price lookups for bookings.
type Service struct {
	plans  domain.PlanRepository
	logger *slog.Logger
}

func NewService(plans domain.PlanRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{plans: plans, logger: logger.With("component", "catalog")}
}

func (s *Service) AddPlan(ctx context.Context, cmd AddPlanCommand) (*domain.Plan, error) {
	plan, err := domain.NewPlan(cmd.CenterID, cmd.Name, cmd.Prices, cmd.Currency, time.Now())
	if err != nil {
		return nil, err
	}
	if err := s.plans.Save(ctx, plan); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "plan added", "plan_id", plan.ID(), "center_id", plan.CenterID())
	return plan, nil
}

func (s *Service) GetPlan(ctx context.Context, id uuid.UUID) (*domain.Plan, error) {
	return s.plans.FindByID(ctx, id)
}

func (s *Service) ListPlans(ctx context.Context, centerID uuid.UUID) ([]*domain.Plan, error) {
	return s.plans.ListByCenter(ctx, centerID)
}

// Quote prices tariff for planID.
func (s *Service) Quote(ctx context.Context, planID uuid.UUID, tariff string) (Quote, error) {
	plan, err := s.plans.FindByID(ctx, planID)
	if err != nil {
		return Quote{}, err
	}
	amount, err := plan.PriceFor(tariff)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		PlanID:   plan.ID(),
		CenterID: plan.CenterID(),
		PlanName: plan.Name(),
		Tariff:   tariff,
		Amount:   amount,
		Currency: plan.Currency(),
	}, nil
}
