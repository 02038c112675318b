package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/lessonpass/internal/enrollment/domain"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/database"
)

// VisitRepository implements domain.VisitRepository. It never updates or
// deletes rows.
type VisitRepository struct {
	conn database.Connection
}

func NewVisitRepository(conn database.Connection) *VisitRepository {
	return &VisitRepository{conn: conn}
}

func (r *VisitRepository) Append(ctx context.Context, v *domain.Visit) error {
	_, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx, `
		INSERT INTO visits (id, subscription_id, account_id, dependent_id, center_id, visited_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID(), v.SubscriptionID(), v.Owner().AccountID, v.Owner().DependentID, v.CenterID(), v.VisitedAt())
	return err
}

func (r *VisitRepository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*domain.Visit, error) {
	rows, err := database.ExecutorFromContext(ctx, r.conn).Query(ctx, `
		SELECT id, subscription_id, account_id, dependent_id, center_id, visited_at
		FROM visits
		WHERE subscription_id = $1
		ORDER BY visited_at, id`, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var visits []*domain.Visit
	for rows.Next() {
		var (
			id, subID, centerID    uuid.UUID
			accountID, dependentID string
			visitedAt              time.Time
		)
		if err := rows.Scan(&id, &subID, &accountID, &dependentID, &centerID, &visitedAt); err != nil {
			return nil, err
		}
		visits = append(visits, domain.RehydrateVisit(id, subID,
			domain.Owner{AccountID: accountID, DependentID: dependentID}, centerID, visitedAt))
	}
	return visits, rows.Err()
}

func (r *VisitRepository) CountForOwner(ctx context.Context, owner domain.Owner) (int, error) {
	var n int
	err := database.ExecutorFromContext(ctx, r.conn).QueryRow(ctx, `
		SELECT COUNT(*) FROM visits WHERE account_id = $1 AND dependent_id = $2`,
		owner.AccountID, owner.DependentID).Scan(&n)
	return n, err
}

// CountByCenter counts visits in [from, to).
func (r *VisitRepository) CountByCenter(ctx context.Context, centerID uuid.UUID, from, to time.Time) (int, error) {
	var n int
	err := database.ExecutorFromContext(ctx, r.conn).QueryRow(ctx, `
		SELECT COUNT(*) FROM visits
		WHERE center_id = $1 AND visited_at >= $2 AND visited_at < $3`,
		centerID, from.UTC(), to.UTC()).Scan(&n)
	return n, err
}

var _ domain.VisitRepository = (*VisitRepository)(nil)
