// Package persistence stores catalog plans.
package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/lessonpass/internal/catalog/domain"
	sharedDomain "github.com/felixgeelhaar/lessonpass/internal/shared/domain"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/database"
)

// PlanRepository implements domain.PlanRepository. Prices are stored in
// minor units.
type PlanRepository struct {
	conn database.Connection
}

func NewPlanRepository(conn database.Connection) *PlanRepository {
	return &PlanRepository{conn: conn}
}

func (r *PlanRepository) Save(ctx context.Context, p *domain.Plan) error {
	prices := p.Prices()
	_, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx, `
		INSERT INTO plans (id, center_id, name, price_4, price_8, price_unlimited, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price_4 = EXCLUDED.price_4,
			price_8 = EXCLUDED.price_8,
			price_unlimited = EXCLUDED.price_unlimited,
			currency = EXCLUDED.currency`,
		p.ID(), p.CenterID(), p.Name(),
		sharedDomain.MinorUnits(prices.Four),
		sharedDomain.MinorUnits(prices.Eight),
		sharedDomain.MinorUnits(prices.Unlimited),
		p.Currency(), p.CreatedAt())
	return err
}

const planColumns = `id, center_id, name, price_4, price_8, price_unlimited, currency, created_at`

func (r *PlanRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Plan, error) {
	p, err := scanPlan(database.ExecutorFromContext(ctx, r.conn).QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, domain.ErrUnknownPlan
	}
	return p, err
}

func (r *PlanRepository) ListByCenter(ctx context.Context, centerID uuid.UUID) ([]*domain.Plan, error) {
	rows, err := database.ExecutorFromContext(ctx, r.conn).Query(ctx,
		`SELECT `+planColumns+` FROM plans WHERE center_id = $1 ORDER BY name, id`, centerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*domain.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func scanPlan(row database.Row) (*domain.Plan, error) {
	var (
		id, centerID           uuid.UUID
		name, currency         string
		four, eight, unlimited int64
		createdAt              time.Time
	)
	if err := row.Scan(&id, &centerID, &name, &four, &eight, &unlimited, &currency, &createdAt); err != nil {
		return nil, err
	}
	return domain.RehydratePlan(id, centerID, name, domain.Prices{
		Four:      sharedDomain.FromMinorUnits(four),
		Eight:     sharedDomain.FromMinorUnits(eight),
		Unlimited: sharedDomain.FromMinorUnits(unlimited),
	}, currency, createdAt), nil
}

var _ domain.PlanRepository = (*PlanRepository)(nil)
