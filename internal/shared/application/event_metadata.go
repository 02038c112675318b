package application

import (
	"context"

	"github.com/felixgeelhaar/lessonpass/internal/shared/domain"
	"github.com/felixgeelhaar/lessonpass/pkg/observability"
)

type metadataSetter interface {
	SetMetadata(metadata domain.EventMetadata)
}

// EventMetadataFromContext builds event metadata from the request context.
func EventMetadataFromContext(ctx context.Context, actor string) domain.EventMetadata {
	return domain.EventMetadata{
		CorrelationID: observability.CorrelationIDFromContext(ctx),
		Actor:         actor,
	}
}

// StampEvents attaches metadata to every event that accepts it and returns
// the same slice. Events must be recorded as pointers to be stamped.
func StampEvents(events []domain.Event, metadata domain.EventMetadata) []domain.Event {
	for _, event := range events {
		if setter, ok := event.(metadataSetter); ok {
			setter.SetMetadata(metadata)
		}
	}
	return events
}
