package ports

import (
	"context"

	"github.com/samirrijal/saferoute/internal/core/domain"
)

// IncidentStore gives read access to historical incident records.
type IncidentStore interface {
	// Snapshot opens a consistent read view of the store. Every query issued
	// through the returned snapshot observes the same set of incidents, and
	// the snapshot may be queried from several goroutines at once.
	Snapshot(ctx context.Context) (IncidentSnapshot, error)

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
}

// IncidentSnapshot is a consistent read view of the incident store.
type IncidentSnapshot interface {
	// CountLinksByDensity groups incidents inside box (bounds inclusive) by
	// link and returns the groups whose size satisfies pred, ordered by link.
	CountLinksByDensity(ctx context.Context, box domain.BoundingBox, pred domain.DensityPredicate) ([]domain.LinkDensity, error)

	// Close releases the snapshot.
	Close(ctx context.Context) error
}
