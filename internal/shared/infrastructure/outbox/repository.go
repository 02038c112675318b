package outbox

import (
	"context"
	"time"

	"github.com/felixgeelhaar/lessonpass/internal/shared/domain"
)

// Repository persists outbox messages. Save and SaveBatch join the
// transaction in ctx so events commit together with the state change that
// raised them.
type Repository interface {
	Save(ctx context.Context, msg *Message) error
	SaveBatch(ctx context.Context, msgs []*Message) error
	GetUnpublished(ctx context.Context, limit int, now time.Time) ([]*Message, error)
	MarkPublished(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, errMsg string, nextRetryAt time.Time) error
	MarkDead(ctx context.Context, id int64, reason string, at time.Time) error
	DeleteOld(ctx context.Context, publishedBefore time.Time) (int64, error)
}

// SaveEvents converts events to messages and stores them in one batch.
func SaveEvents(ctx context.Context, repo Repository, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]*Message, 0, len(events))
	for _, event := range events {
		msg, err := NewMessage(event)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return repo.SaveBatch(ctx, msgs)
}

// Flush stores the events recorded on agg and clears them.
func Flush(ctx context.Context, repo Repository, agg domain.Aggregate, metadata domain.EventMetadata) error {
	events := agg.Events()
	for _, event := range events {
		if setter, ok := event.(interface{ SetMetadata(domain.EventMetadata) }); ok {
			setter.SetMetadata(metadata)
		}
	}
	if err := SaveEvents(ctx, repo, events); err != nil {
		return err
	}
	agg.ClearEvents()
	return nil
}
