package ports

import (
	"context"

	"github.com/samirrijal/saferoute/internal/core/domain"
)

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
	// Generation returns the current value of a monotonically increasing
	// counter; bumping it orphans every key built from an older value.
	Generation(ctx context.Context, name string) (int64, error)
	BumpGeneration(ctx context.Context, name string) (int64, error)
}

// EventSubscriber subscribes to incident-store events from a message broker.
type EventSubscriber interface {
	// SubscribeIncidentUpdates fires handler whenever the ingestion job
	// reports new or changed incidents.
	SubscribeIncidentUpdates(ctx context.Context, handler func(ctx context.Context, update domain.IncidentUpdate) error) error
}

// EventPublisher announces incident-store changes to other instances.
type EventPublisher interface {
	PublishIncidentUpdate(ctx context.Context, update domain.IncidentUpdate) error
}
