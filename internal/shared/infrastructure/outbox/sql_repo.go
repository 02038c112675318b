package outbox

import (
	"context"
	"time"

	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/database"
)

// SQLRepository implements Repository for both supported drivers.
type SQLRepository struct {
	conn database.Connection
}

// NewSQLRepository creates an outbox repository.
func NewSQLRepository(conn database.Connection) *SQLRepository {
	return &SQLRepository{conn: conn}
}

const insertMessage = `
	INSERT INTO outbox (
		event_id, aggregate_type, aggregate_id, routing_key, payload, metadata, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id`

func (r *SQLRepository) Save(ctx context.Context, msg *Message) error {
	return database.ExecutorFromContext(ctx, r.conn).QueryRow(ctx, insertMessage,
		msg.EventID,
		msg.AggregateType,
		msg.AggregateID,
		msg.RoutingKey,
		string(msg.Payload),
		string(msg.Metadata),
		msg.CreatedAt.UTC(),
	).Scan(&msg.ID)
}

// SaveBatch stores msgs in the caller's transaction, or in a new one.
func (r *SQLRepository) SaveBatch(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if database.TxFromContext(ctx) != nil {
		return r.saveAll(ctx, msgs)
	}

	uow := database.NewUnitOfWork(r.conn)
	txCtx, err := uow.Begin(ctx)
	if err != nil {
		return err
	}
	if err := r.saveAll(txCtx, msgs); err != nil {
		_ = uow.Rollback(txCtx)
		return err
	}
	return uow.Commit(txCtx)
}

func (r *SQLRepository) saveAll(ctx context.Context, msgs []*Message) error {
	for _, msg := range msgs {
		if err := r.Save(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLRepository) GetUnpublished(ctx context.Context, limit int, now time.Time) ([]*Message, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, routing_key, payload, metadata,
		       created_at, published_at, next_retry_at, retry_count, last_error,
		       dead_lettered_at, dead_letter_reason
		FROM outbox
		WHERE published_at IS NULL
		  AND dead_lettered_at IS NULL
		  AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY created_at, id
		LIMIT $2`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var (
			m                 Message
			payload, metadata []byte
		)
		if err := rows.Scan(
			&m.ID, &m.EventID, &m.AggregateType, &m.AggregateID, &m.RoutingKey, &payload, &metadata,
			&m.CreatedAt, &m.PublishedAt, &m.NextRetryAt, &m.RetryCount, &m.LastError,
			&m.DeadLetteredAt, &m.DeadLetterReason,
		); err != nil {
			return nil, err
		}
		m.Payload = payload
		m.Metadata = metadata
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func (r *SQLRepository) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	_, err := r.conn.Exec(ctx, `UPDATE outbox SET published_at = $2, next_retry_at = NULL WHERE id = $1`, id, at.UTC())
	return err
}

func (r *SQLRepository) MarkFailed(ctx context.Context, id int64, errMsg string, nextRetryAt time.Time) error {
	_, err := r.conn.Exec(ctx, `
		UPDATE outbox
		SET retry_count = retry_count + 1, last_error = $2, next_retry_at = $3
		WHERE id = $1`, id, errMsg, nextRetryAt.UTC())
	return err
}

func (r *SQLRepository) MarkDead(ctx context.Context, id int64, reason string, at time.Time) error {
	_, err := r.conn.Exec(ctx, `
		UPDATE outbox
		SET retry_count = retry_count + 1, last_error = $2, dead_lettered_at = $3, dead_letter_reason = $2
		WHERE id = $1`, id, reason, at.UTC())
	return err
}

func (r *SQLRepository) DeleteOld(ctx context.Context, publishedBefore time.Time) (int64, error) {
	res, err := r.conn.Exec(ctx, `DELETE FROM outbox WHERE published_at IS NOT NULL AND published_at < $1`, publishedBefore.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ Repository = (*SQLRepository)(nil)
