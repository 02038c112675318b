// Package persistence stores enrollment aggregates in the shared SQL schema.
package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/lessonpass/internal/enrollment/domain"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/database"
)

// SubscriptionRepository implements domain.SubscriptionRepository.
type SubscriptionRepository struct {
	conn database.Connection
}

// NewSubscriptionRepository creates a repository over conn.
func NewSubscriptionRepository(conn database.Connection) *SubscriptionRepository {
	return &SubscriptionRepository{conn: conn}
}

const subscriptionColumns = `
	id, account_id, dependent_id, plan_id, center_id, tariff,
	lessons_total, lessons_remaining, voucher_code, status, activation_policy,
	purchased_at, activated_at, expires_at, cancelled_at, created_at, updated_at`

func (r *SubscriptionRepository) Create(ctx context.Context, s *domain.Subscription) error {
	_, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		s.ID(),
		s.Owner().AccountID,
		s.Owner().DependentID,
		s.PlanID(),
		s.CenterID(),
		string(s.Tariff()),
		s.LessonsTotal(),
		s.LessonsRemaining(),
		nullableString(s.VoucherCode()),
		string(s.Status()),
		string(s.ActivationPolicy()),
		s.PurchasedAt(),
		s.ActivatedAt(),
		s.ExpiresAt(),
		s.CancelledAt(),
		s.CreatedAt(),
		s.UpdatedAt(),
	)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", domain.ErrVoucherCollision, err)
	}
	return err
}

func (r *SubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	row := database.ExecutorFromContext(ctx, r.conn).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	s, err := scanSubscription(row)
	if database.IsNoRows(err) {
		return nil, domain.ErrSubscriptionNotFound
	}
	return s, err
}

func (r *SubscriptionRepository) FindByVoucher(ctx context.Context, code string) (*domain.Subscription, error) {
	row := database.ExecutorFromContext(ctx, r.conn).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE voucher_code = $1`, code)
	s, err := scanSubscription(row)
	if database.IsNoRows(err) {
		return nil, domain.ErrVoucherNotFound
	}
	return s, err
}

// ListForOwner returns the owner's subscriptions, newest first. With no
// statuses every subscription is returned.
func (r *SubscriptionRepository) ListForOwner(ctx context.Context, owner domain.Owner, statuses ...domain.Status) ([]*domain.Subscription, error) {
	return r.list(ctx, `account_id = $1 AND dependent_id = $2`,
		`purchased_at DESC, id`, []any{owner.AccountID, owner.DependentID}, statuses)
}

// ListByCenter returns a center's subscriptions grouped by owner, oldest
// purchase first within each owner.
func (r *SubscriptionRepository) ListByCenter(ctx context.Context, centerID uuid.UUID, statuses ...domain.Status) ([]*domain.Subscription, error) {
	return r.list(ctx, `center_id = $1`,
		`account_id, dependent_id, purchased_at, id`, []any{centerID}, statuses)
}

func (r *SubscriptionRepository) CountActivatedByCenter(ctx context.Context, centerID uuid.UUID, from, to time.Time) (int, error) {
	var n int
	err := database.ExecutorFromContext(ctx, r.conn).QueryRow(ctx, `
		SELECT COUNT(*) FROM subscriptions
		WHERE center_id = $1 AND activated_at >= $2 AND activated_at < $3`,
		centerID, from.UTC(), to.UTC()).Scan(&n)
	return n, err
}

func (r *SubscriptionRepository) list(ctx context.Context, where, order string, args []any, statuses []domain.Status) ([]*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE ` + where
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			args = append(args, string(st))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY ` + order

	rows, err := database.ExecutorFromContext(ctx, r.conn).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*domain.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (r *SubscriptionRepository) Activate(ctx context.Context, s *domain.Subscription) error {
	res, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx, `
		UPDATE subscriptions
		SET voucher_code = $2, status = $3, activated_at = $4, expires_at = $5, updated_at = $6
		WHERE id = $1 AND status = 'pending_payment'`,
		s.ID(), s.VoucherCode(), string(s.Status()), s.ActivatedAt(), s.ExpiresAt(), s.UpdatedAt())
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %v", domain.ErrVoucherCollision, err)
		}
		return err
	}
	return r.requireTransition(ctx, res, s.ID())
}

func (r *SubscriptionRepository) Cancel(ctx context.Context, s *domain.Subscription) error {
	res, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx, `
		UPDATE subscriptions
		SET status = $2, cancelled_at = $3, updated_at = $4
		WHERE id = $1 AND status = 'pending_payment'`,
		s.ID(), string(s.Status()), s.CancelledAt(), s.UpdatedAt())
	if err != nil {
		return err
	}
	return r.requireTransition(ctx, res, s.ID())
}

func (r *SubscriptionRepository) Expire(ctx context.Context, s *domain.Subscription) (bool, error) {
	res, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx, `
		UPDATE subscriptions SET status = $2, updated_at = $3
		WHERE id = $1 AND status = 'active'`,
		s.ID(), string(s.Status()), s.UpdatedAt())
	if err != nil {
		return false, err
	}
	return database.AffectedOne(res)
}

// requireTransition turns a conditional update that matched nothing into
// ErrNotPending, or ErrSubscriptionNotFound when the row is missing.
func (r *SubscriptionRepository) requireTransition(ctx context.Context, res database.Result, id uuid.UUID) error {
	ok, err := database.AffectedOne(res)
	if err != nil || ok {
		return err
	}
	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrNotPending
}

// consumeLesson decrements fixed tariffs and expires them on the last lesson
// in one statement, so two presentations of the same code can never both
// observe the final lesson.
const consumeLesson = `
	UPDATE subscriptions SET
		lessons_remaining = CASE WHEN tariff = 'unlimited' THEN lessons_remaining ELSE lessons_remaining - 1 END,
		status = CASE WHEN tariff <> 'unlimited' AND lessons_remaining - 1 <= 0 THEN 'expired' ELSE status END,
		updated_at = $3
	WHERE voucher_code = $1
	  AND center_id = $2
	  AND status = 'active'
	  AND (tariff = 'unlimited' OR lessons_remaining > 0)
	  AND (expires_at IS NULL OR expires_at > $3)`

func (r *SubscriptionRepository) ConsumeLesson(ctx context.Context, code string, centerID uuid.UUID, at time.Time) (*domain.Subscription, error) {
	at = at.UTC()
	res, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx, consumeLesson, code, centerID, at)
	if err != nil {
		return nil, err
	}
	applied, err := database.AffectedOne(res)
	if err != nil {
		return nil, err
	}

	s, err := r.FindByVoucher(ctx, code)
	if err != nil {
		return nil, err
	}
	if applied {
		return s, nil
	}
	if err := s.CheckRedeemable(centerID, at); err != nil {
		return nil, err
	}
	// The row changed between the update and the read.
	return nil, domain.ErrExhausted
}

func scanSubscription(row database.Row) (*domain.Subscription, error) {
	var (
		id, planID, centerID                uuid.UUID
		accountID, dependentID              string
		tariff, status, policy              string
		total, remaining                    int
		voucher                             *string
		purchasedAt, createdAt, updatedAt   time.Time
		activatedAt, expiresAt, cancelledAt *time.Time
	)
	if err := row.Scan(
		&id, &accountID, &dependentID, &planID, &centerID, &tariff,
		&total, &remaining, &voucher, &status, &policy,
		&purchasedAt, &activatedAt, &expiresAt, &cancelledAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	code := ""
	if voucher != nil {
		code = *voucher
	}
	return domain.RehydrateSubscription(
		id,
		domain.Owner{AccountID: accountID, DependentID: dependentID},
		planID, centerID,
		domain.Tariff(tariff),
		total, remaining,
		code,
		domain.Status(status),
		domain.ActivationPolicy(policy),
		purchasedAt, activatedAt, expiresAt, cancelledAt,
		createdAt, updatedAt,
	), nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ domain.SubscriptionRepository = (*SubscriptionRepository)(nil)
