package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/lessonpass/internal/payments/domain"
	sharedDomain "github.com/felixgeelhaar/lessonpass/internal/shared/domain"
	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/database"
)

// RefundRepository implements domain.RefundRepository.
type RefundRepository struct {
	conn database.Connection
}

func NewRefundRepository(conn database.Connection) *RefundRepository {
	return &RefundRepository{conn: conn}
}

func (r *RefundRepository) Create(ctx context.Context, ref *domain.Refund) error {
	_, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx, `
		INSERT INTO refunds (id, payment_id, provider_refund_id, amount, reason, status, error_detail, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ref.ID(), ref.PaymentID(), ref.ProviderRefundID(), sharedDomain.MinorUnits(ref.Amount()),
		ref.Reason(), string(ref.Status()), ref.ErrorDetail(), ref.CreatedAt(), ref.UpdatedAt())
	return err
}

func (r *RefundRepository) Update(ctx context.Context, ref *domain.Refund) error {
	_, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx, `
		UPDATE refunds SET provider_refund_id = $2, status = $3, error_detail = $4, updated_at = $5
		WHERE id = $1`,
		ref.ID(), ref.ProviderRefundID(), string(ref.Status()), ref.ErrorDetail(), ref.UpdatedAt())
	return err
}

func (r *RefundRepository) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]*domain.Refund, error) {
	rows, err := database.ExecutorFromContext(ctx, r.conn).Query(ctx, `
		SELECT id, payment_id, provider_refund_id, amount, reason, status, error_detail, created_at, updated_at
		FROM refunds WHERE payment_id = $1 ORDER BY created_at, id`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refunds []*domain.Refund
	for rows.Next() {
		var (
			id, pid                    uuid.UUID
			providerID, reason, status string
			errorDetail                string
			amount                     int64
			createdAt, updatedAt       time.Time
		)
		if err := rows.Scan(&id, &pid, &providerID, &amount, &reason, &status, &errorDetail, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		refunds = append(refunds, domain.RehydrateRefund(id, pid, providerID, sharedDomain.FromMinorUnits(amount),
			reason, domain.RefundStatus(status), errorDetail, createdAt, updatedAt))
	}
	return refunds, rows.Err()
}

var _ domain.RefundRepository = (*RefundRepository)(nil)
