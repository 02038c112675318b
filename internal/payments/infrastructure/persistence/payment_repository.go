// Package persistence stores payments and refunds. Amounts are kept in
// minor units.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/felixgeelhaar/lessonpass/internal/payments/domain"
	sharedDomain "github.com/felixgeelhaar/lessonpass/internal/shared/domain"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/database"
)

// PaymentRepository implements domain.PaymentRepository.
type PaymentRepository struct {
	conn database.Connection
}

func NewPaymentRepository(conn database.Connection) *PaymentRepository {
	return &PaymentRepository{conn: conn}
}

const paymentColumns = `
	id, subscription_id, amount, refunded_amount, currency, description, status,
	provider_payment_id, redirect_url, error_detail, processed_at, created_at, updated_at`

func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	_, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID(),
		p.SubscriptionID(),
		sharedDomain.MinorUnits(p.Amount()),
		sharedDomain.MinorUnits(p.RefundedAmount()),
		p.Currency(),
		p.Description(),
		string(p.Status()),
		nullableString(p.ProviderPaymentID()),
		p.RedirectURL(),
		p.ErrorDetail(),
		p.ProcessedAt(),
		p.CreatedAt(),
		p.UpdatedAt(),
	)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", domain.ErrPaymentInProgress, err)
	}
	return err
}

func (r *PaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return r.findOne(ctx, `WHERE id = $1`, id)
}

func (r *PaymentRepository) FindByProviderID(ctx context.Context, providerPaymentID string) (*domain.Payment, error) {
	return r.findOne(ctx, `WHERE provider_payment_id = $1`, providerPaymentID)
}

func (r *PaymentRepository) FindPendingBySubscription(ctx context.Context, subscriptionID uuid.UUID) (*domain.Payment, error) {
	return r.findOne(ctx, `WHERE subscription_id = $1 AND status = 'pending'`, subscriptionID)
}

func (r *PaymentRepository) findOne(ctx context.Context, where string, args ...any) (*domain.Payment, error) {
	p, err := scanPayment(database.ExecutorFromContext(ctx, r.conn).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments `+where, args...))
	if database.IsNoRows(err) {
		return nil, domain.ErrPaymentNotFound
	}
	return p, err
}

func (r *PaymentRepository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*domain.Payment, error) {
	return r.list(ctx, `WHERE subscription_id = $1 ORDER BY created_at, id`, subscriptionID)
}

// ListPendingCreatedBefore returns the oldest pending payments first.
func (r *PaymentRepository) ListPendingCreatedBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Payment, error) {
	return r.list(ctx, `WHERE status = 'pending' AND created_at < $1 ORDER BY created_at, id LIMIT $2`, before.UTC(), limit)
}

func (r *PaymentRepository) ListForAccount(ctx context.Context, accountID string, limit int) ([]*domain.Payment, error) {
	return r.list(ctx, `
		WHERE subscription_id IN (SELECT id FROM subscriptions WHERE account_id = $1)
		ORDER BY created_at DESC, id LIMIT $2`, accountID, limit)
}

func (r *PaymentRepository) RevenueByCenter(ctx context.Context, centerID uuid.UUID, from, to time.Time) ([]domain.Revenue, error) {
	rows, err := database.ExecutorFromContext(ctx, r.conn).Query(ctx, `
		SELECT currency, COUNT(*),
		       CAST(COALESCE(SUM(amount), 0) AS BIGINT),
		       CAST(COALESCE(SUM(refunded_amount), 0) AS BIGINT)
		FROM payments
		WHERE status IN ('success', 'refunded')
		  AND processed_at >= $2 AND processed_at < $3
		  AND subscription_id IN (SELECT id FROM subscriptions WHERE center_id = $1)
		GROUP BY currency
		ORDER BY currency`,
		centerID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var revenue []domain.Revenue
	for rows.Next() {
		var (
			rev             domain.Revenue
			gross, refunded int64
		)
		if err := rows.Scan(&rev.Currency, &rev.Payments, &gross, &refunded); err != nil {
			return nil, err
		}
		rev.Gross = sharedDomain.FromMinorUnits(gross)
		rev.Refunded = sharedDomain.FromMinorUnits(refunded)
		revenue = append(revenue, rev)
	}
	return revenue, rows.Err()
}

func (r *PaymentRepository) list(ctx context.Context, clause string, args ...any) ([]*domain.Payment, error) {
	rows, err := database.ExecutorFromContext(ctx, r.conn).Query(ctx,
		`SELECT `+paymentColumns+` FROM payments `+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *PaymentRepository) AttachProvider(ctx context.Context, p *domain.Payment) (bool, error) {
	res, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx, `
		UPDATE payments SET provider_payment_id = $2, redirect_url = $3, updated_at = $4
		WHERE id = $1 AND status = 'pending'`,
		p.ID(), nullableString(p.ProviderPaymentID()), p.RedirectURL(), p.UpdatedAt())
	if err != nil {
		return false, err
	}
	return database.AffectedOne(res)
}

func (r *PaymentRepository) Resolve(ctx context.Context, p *domain.Payment) (bool, error) {
	res, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx, `
		UPDATE payments SET status = $2, error_detail = $3, processed_at = $4, updated_at = $5
		WHERE id = $1 AND status = 'pending'`,
		p.ID(), string(p.Status()), p.ErrorDetail(), p.ProcessedAt(), p.UpdatedAt())
	if err != nil {
		return false, err
	}
	return database.AffectedOne(res)
}

func (r *PaymentRepository) ReserveRefund(ctx context.Context, id uuid.UUID, amount decimal.Decimal, at time.Time) (bool, error) {
	res, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx, `
		UPDATE payments SET refunded_amount = refunded_amount + $2, updated_at = $3
		WHERE id = $1 AND status = 'success' AND refunded_amount + $2 <= amount`,
		id, sharedDomain.MinorUnits(amount), at.UTC())
	if err != nil {
		return false, err
	}
	return database.AffectedOne(res)
}

func (r *PaymentRepository) ReleaseRefund(ctx context.Context, id uuid.UUID, amount decimal.Decimal, at time.Time) error {
	_, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx, `
		UPDATE payments SET refunded_amount = refunded_amount - $2, updated_at = $3
		WHERE id = $1 AND refunded_amount >= $2`,
		id, sharedDomain.MinorUnits(amount), at.UTC())
	return err
}

func (r *PaymentRepository) MarkRefunded(ctx context.Context, p *domain.Payment) (bool, error) {
	res, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx, `
		UPDATE payments SET status = 'refunded', updated_at = $2
		WHERE id = $1
		  AND status = 'success'
		  AND amount = (SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE payment_id = $1 AND status = 'completed')`,
		p.ID(), p.UpdatedAt())
	if err != nil {
		return false, err
	}
	return database.AffectedOne(res)
}

func scanPayment(row database.Row) (*domain.Payment, error) {
	var (
		id, subscriptionID            uuid.UUID
		amount, refunded              int64
		currency, description, status string
		providerID                    *string
		redirectURL, errorDetail      string
		processedAt                   *time.Time
		createdAt, updatedAt          time.Time
	)
	if err := row.Scan(&id, &subscriptionID, &amount, &refunded, &currency, &description, &status,
		&providerID, &redirectURL, &errorDetail, &processedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	provider := ""
	if providerID != nil {
		provider = *providerID
	}
	return domain.RehydratePayment(id, subscriptionID,
		sharedDomain.FromMinorUnits(amount), sharedDomain.FromMinorUnits(refunded),
		currency, description, domain.Status(status),
		provider, redirectURL, errorDetail,
		processedAt, createdAt, updatedAt), nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ domain.PaymentRepository = (*PaymentRepository)(nil)
