// Package memory provides an in-process incident store, used for tests and
// for running the API without a database.
package memory

import (
	"context"
	"encoding/json"
	"os"
	"slices"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/samirrijal/saferoute/internal/core/domain"
	"github.com/samirrijal/saferoute/internal/core/ports"
	"github.com/samirrijal/saferoute/internal/pkg/geospatial"
)

// Store implements ports.IncidentStore over a slice of incidents.
type Store struct {
	mu        sync.RWMutex
	incidents []domain.Incident
}

// New creates a Store holding the given incidents.
func New(incidents ...domain.Incident) *Store {
	return &Store{incidents: slices.Clone(incidents)}
}

// Load creates a Store from a JSON array of incidents.
func Load(path string) (*Store, error) {
	incidents, err := ReadSeed(path)
	if err != nil {
		return nil, err
	}
	return New(incidents...), nil
}

// ReadSeed parses a JSON array of incidents.
func ReadSeed(path string) ([]domain.Incident, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "memory: read seed file %s", path)
	}
	var incidents []domain.Incident
	if err := json.Unmarshal(data, &incidents); err != nil {
		return nil, eris.Wrapf(err, "memory: parse seed file %s", path)
	}
	return incidents, nil
}

// Insert appends incidents. Open snapshots are not affected.
func (s *Store) Insert(incidents ...domain.Incident) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents = append(s.incidents, incidents...)
}

// Len returns the number of stored incidents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.incidents)
}

// Snapshot copies the current incident set.
func (s *Store) Snapshot(ctx context.Context) (ports.IncidentSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &snapshot{incidents: slices.Clone(s.incidents)}, nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

type snapshot struct {
	incidents []domain.Incident
}

func (s *snapshot) CountLinksByDensity(ctx context.Context, box domain.BoundingBox, pred domain.DensityPredicate) ([]domain.LinkDensity, error) {
	if err := pred.Validate(); err != nil {
		return nil, eris.Wrap(err, "memory: count links")
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "memory: count links")
	}

	bound := geospatial.Bound(box.From.Lat, box.From.Lng, box.To.Lat, box.To.Lng)
	counts := make(map[int64]int)
	for _, inc := range s.incidents {
		if geospatial.Contains(bound, inc.Latitude, inc.Longitude) {
			counts[inc.LinkID]++
		}
	}

	var out []domain.LinkDensity
	for linkID, n := range counts {
		if pred.Match(n) {
			out = append(out, domain.LinkDensity{LinkID: linkID, Count: n})
		}
	}
	slices.SortFunc(out, func(a, b domain.LinkDensity) int {
		switch {
		case a.LinkID < b.LinkID:
			return -1
		case a.LinkID > b.LinkID:
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *snapshot) Close(ctx context.Context) error {
	return nil
}
