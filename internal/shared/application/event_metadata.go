package application

import (
	"context"

	"github.com/google/uuid"
	"github.com/medplan/medplan/internal/shared/domain"
	"github.com/medplan/medplan/pkg/observability"
)

type metadataSetter interface {
	SetMetadata(metadata domain.EventMetadata)
}

// EventMetadataFromContext builds event metadata for one operation. The
// correlation ID is taken from the request context when present.
func EventMetadataFromContext(ctx context.Context, actorID string) domain.EventMetadata {
	correlationID := observability.CorrelationIDFromContext(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	causationID := observability.RequestIDFromContext(ctx)
	if causationID == "" {
		causationID = uuid.NewString()
	}
	return domain.EventMetadata{
		CorrelationID: correlationID,
		CausationID:   causationID,
		ActorID:       actorID,
	}
}

// ApplyEventMetadata sets metadata on all events that support it.
func ApplyEventMetadata(events []domain.DomainEvent, metadata domain.EventMetadata) {
	for _, event := range events {
		if setter, ok := event.(metadataSetter); ok {
			setter.SetMetadata(metadata)
		}
	}
}
