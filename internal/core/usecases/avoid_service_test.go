package usecases_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/samirrijal/saferoute/internal/adapters/memory"
	"github.com/samirrijal/saferoute/internal/core/domain"
	"github.com/samirrijal/saferoute/internal/core/ports"
	"github.com/samirrijal/saferoute/internal/core/usecases"
)

// --- Mock IncidentStore ---

type mockIncidentStore struct {
	snapshotFn func(ctx context.Context) (ports.IncidentSnapshot, error)
	pingFn     func(ctx context.Context) error
	snapshots  atomic.Int32
}

func (m *mockIncidentStore) Snapshot(ctx context.Context) (ports.IncidentSnapshot, error) {
	m.snapshots.Add(1)
	if m.snapshotFn != nil {
		return m.snapshotFn(ctx)
	}
	return &mockSnapshot{}, nil
}

func (m *mockIncidentStore) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

type mockSnapshot struct {
	countFn func(ctx context.Context, box domain.BoundingBox, pred domain.DensityPredicate) ([]domain.LinkDensity, error)
	closed  atomic.Bool
}

func (m *mockSnapshot) CountLinksByDensity(ctx context.Context, box domain.BoundingBox, pred domain.DensityPredicate) ([]domain.LinkDensity, error) {
	if m.countFn != nil {
		return m.countFn(ctx, box, pred)
	}
	return nil, nil
}

func (m *mockSnapshot) Close(ctx context.Context) error {
	m.closed.Store(true)
	return nil
}

// --- Mock CacheService ---

type mockCache struct {
	data       map[string][]byte
	ttls       map[string]int
	generation int64
	getErr     error
}

func newMockCache() *mockCache {
	return &mockCache{data: map[string][]byte{}, ttls: map[string]int{}}
}

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, errors.New("valkey nil message")
	}
	return v, nil
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	m.data[key] = value
	m.ttls[key] = ttlSeconds
	return nil
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func (m *mockCache) Generation(ctx context.Context, name string) (int64, error) {
	return m.generation, nil
}

func (m *mockCache) BumpGeneration(ctx context.Context, name string) (int64, error) {
	m.generation++
	return m.generation, nil
}

func coord(lat, lng float64) *domain.Coordinate {
	return &domain.Coordinate{Lat: lat, Lng: lng}
}

func repeat(n int, inc domain.Incident) []domain.Incident {
	out := make([]domain.Incident, n)
	for i := range out {
		out[i] = inc
		out[i].Date = int64(20161100 + i)
	}
	return out
}

func at(linkID int64, lat, lng float64) domain.Incident {
	return domain.Incident{LinkID: linkID, Latitude: lat, Longitude: lng, Address: "x", Type: "robbery"}
}

// --- Tests ---

func TestNormalizeAndExpand_KnownCorners(t *testing.T) {
	orders := [][2]domain.Coordinate{
		{{Lat: 0.5, Lng: 0.7}, {Lat: 0.9, Lng: 1.1}},
		{{Lat: 0.9, Lng: 1.1}, {Lat: 0.5, Lng: 0.7}},
		{{Lat: 0.5, Lng: 1.1}, {Lat: 0.9, Lng: 0.7}},
		{{Lat: 0.9, Lng: 0.7}, {Lat: 0.5, Lng: 1.1}},
	}

	for _, o := range orders {
		box := usecases.NormalizeAndExpand(o[0], o[1], 0.01)
		if math.Abs(box.From.Lat-0.49) > 1e-9 || math.Abs(box.To.Lat-0.91) > 1e-9 {
			t.Errorf("%v: unexpected latitudes %+v", o, box)
		}
		if math.Abs(box.From.Lng-0.6886) > 0.01 || math.Abs(box.To.Lng-1.11608) > 0.01 {
			t.Errorf("%v: unexpected longitudes %+v", o, box)
		}
	}
}

func TestNormalizeAndExpand_OrderIndependent(t *testing.T) {
	p := domain.Coordinate{Lat: 38.987194, Lng: -76.945999}
	q := domain.Coordinate{Lat: 39.004611, Lng: -76.875671}

	if usecases.NormalizeAndExpand(p, q, 0.01) != usecases.NormalizeAndExpand(q, p, 0.01) {
		t.Error("expected identical boxes regardless of corner order")
	}
}

func TestGetAvoidLinkIds_RedAndYellow(t *testing.T) {
	var incidents []domain.Incident
	incidents = append(incidents, repeat(3, at(1, 35, -80))...)
	incidents = append(incidents, repeat(2, at(2, 36, -75))...)
	incidents = append(incidents, repeat(1, at(3, 37, -72))...)
	// Dense but far outside the box.
	incidents = append(incidents, repeat(5, at(4, 50, -20))...)

	svc := usecases.NewAvoidService(memory.New(incidents...), nil, usecases.DefaultAvoidOptions())

	got, err := svc.GetAvoidLinkIds(context.Background(), coord(30, -100), coord(40, -70))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Red) != 1 || got.Red[0] != 1 {
		t.Errorf("expected red [1], got %v", got.Red)
	}
	if len(got.Yellow) != 1 || got.Yellow[0] != 2 {
		t.Errorf("expected yellow [2], got %v", got.Yellow)
	}
}

func TestGetAvoidLinkIds_ThresholdBoundary(t *testing.T) {
	var incidents []domain.Incident
	for count := 1; count <= 4; count++ {
		incidents = append(incidents, repeat(count, at(int64(count*10), 35, -80))...)
	}

	svc := usecases.NewAvoidService(memory.New(incidents...), nil, usecases.DefaultAvoidOptions())
	got, err := svc.GetAvoidLinkIds(context.Background(), coord(30, -100), coord(40, -70))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if want := []int64{30, 40}; !equalIDs(got.Red, want) {
		t.Errorf("expected red %v, got %v", want, got.Red)
	}
	if want := []int64{20}; !equalIDs(got.Yellow, want) {
		t.Errorf("expected yellow %v, got %v", want, got.Yellow)
	}
	for _, r := range got.Red {
		for _, y := range got.Yellow {
			if r == y {
				t.Errorf("link %d in both red and yellow", r)
			}
		}
	}
}

func TestGetAvoidLinkIds_ExpandedBoundaryInclusive(t *testing.T) {
	from, to := coord(10, 20), coord(11, 21)
	box := usecases.NormalizeAndExpand(*from, *to, 0.01)

	var incidents []domain.Incident
	incidents = append(incidents, repeat(2, at(1, box.From.Lat, 20.5))...)
	incidents = append(incidents, repeat(2, at(2, box.From.Lat-1e-7, 20.5))...)

	svc := usecases.NewAvoidService(memory.New(incidents...), nil, usecases.DefaultAvoidOptions())
	got, err := svc.GetAvoidLinkIds(context.Background(), from, to)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !equalIDs(got.Yellow, []int64{1}) {
		t.Errorf("expected yellow [1], got %v", got.Yellow)
	}
}

func TestGetAvoidLinkIds_MarginPicksUpNearbyIncidents(t *testing.T) {
	// 0.005 degrees north of the requested box, inside the 0.01 margin.
	incidents := repeat(3, at(8, 11.005, 20.5))

	svc := usecases.NewAvoidService(memory.New(incidents...), nil, usecases.DefaultAvoidOptions())
	got, err := svc.GetAvoidLinkIds(context.Background(), coord(10, 20), coord(11, 21))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !equalIDs(got.Red, []int64{8}) {
		t.Errorf("expected red [8], got %v", got.Red)
	}
}

func TestGetAvoidLinkIds_EmptyResultIsNotError(t *testing.T) {
	svc := usecases.NewAvoidService(memory.New(), nil, usecases.DefaultAvoidOptions())

	got, err := svc.GetAvoidLinkIds(context.Background(), coord(1, 1), coord(2, 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Red == nil || got.Yellow == nil {
		t.Fatalf("expected empty non-nil sets, got %+v", got)
	}
	if len(got.Red) != 0 || len(got.Yellow) != 0 {
		t.Errorf("expected no links, got %+v", got)
	}
}

func TestGetAvoidLinkIds_MissingCoordinate(t *testing.T) {
	store := &mockIncidentStore{}
	svc := usecases.NewAvoidService(store, nil, usecases.DefaultAvoidOptions())

	cases := []struct {
		name     string
		from, to *domain.Coordinate
	}{
		{"both missing", nil, nil},
		{"from missing", nil, coord(1, 1)},
		{"to missing", coord(1, 1), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.GetAvoidLinkIds(context.Background(), tc.from, tc.to)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if got != nil {
				t.Errorf("expected nil result, got %+v", got)
			}
		})
	}
	if store.snapshots.Load() != 0 {
		t.Error("store should not be queried for invalid input")
	}
}

func TestGetAvoidLinkIds_OutOfRange(t *testing.T) {
	svc := usecases.NewAvoidService(&mockIncidentStore{}, nil, usecases.DefaultAvoidOptions())

	_, err := svc.GetAvoidLinkIds(context.Background(), coord(91, 0), coord(0, 0))
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGetAvoidLinkIds_MaxSpan(t *testing.T) {
	opts := usecases.DefaultAvoidOptions()
	opts.MaxSpanMeters = 50_000
	svc := usecases.NewAvoidService(&mockIncidentStore{}, nil, opts)

	if _, err := svc.GetAvoidLinkIds(context.Background(), coord(30, -100), coord(40, -70)); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for oversized box, got %v", err)
	}
	if _, err := svc.GetAvoidLinkIds(context.Background(), coord(38.98, -76.94), coord(39.00, -76.87)); err != nil {
		t.Fatalf("unexpected error for small box: %v", err)
	}
}

func TestGetAvoidLinkIds_SnapshotFailure(t *testing.T) {
	cause := errors.New("connection refused")
	store := &mockIncidentStore{
		snapshotFn: func(ctx context.Context) (ports.IncidentSnapshot, error) {
			return nil, cause
		},
	}
	svc := usecases.NewAvoidService(store, nil, usecases.DefaultAvoidOptions())

	got, err := svc.GetAvoidLinkIds(context.Background(), coord(1, 1), coord(2, 2))
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause to be preserved, got %v", err)
	}
	if got != nil {
		t.Errorf("expected nil result, got %+v", got)
	}
}

func TestGetAvoidLinkIds_OnePassFails(t *testing.T) {
	snap := &mockSnapshot{
		countFn: func(ctx context.Context, box domain.BoundingBox, pred domain.DensityPredicate) ([]domain.LinkDensity, error) {
			if pred == domain.MediumDensity {
				return nil, errors.New("query canceled")
			}
			return []domain.LinkDensity{{LinkID: 1, Count: 3}}, nil
		},
	}
	store := &mockIncidentStore{
		snapshotFn: func(ctx context.Context) (ports.IncidentSnapshot, error) { return snap, nil },
	}
	svc := usecases.NewAvoidService(store, nil, usecases.DefaultAvoidOptions())

	got, err := svc.GetAvoidLinkIds(context.Background(), coord(1, 1), coord(2, 2))
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if got != nil {
		t.Errorf("expected no partial result, got %+v", got)
	}
	if !snap.closed.Load() {
		t.Error("expected snapshot to be closed")
	}
}

func TestGetAvoidLinkIds_BothPassesShareSnapshot(t *testing.T) {
	var calls atomic.Int32
	var seen [2]domain.BoundingBox
	snap := &mockSnapshot{
		countFn: func(ctx context.Context, box domain.BoundingBox, pred domain.DensityPredicate) ([]domain.LinkDensity, error) {
			i := 0
			if pred == domain.MediumDensity {
				i = 1
			}
			seen[i] = box
			calls.Add(1)
			return []domain.LinkDensity{{LinkID: 9, Count: 1}, {LinkID: 4, Count: 1}}, nil
		},
	}
	store := &mockIncidentStore{
		snapshotFn: func(ctx context.Context) (ports.IncidentSnapshot, error) { return snap, nil },
	}
	svc := usecases.NewAvoidService(store, nil, usecases.DefaultAvoidOptions())

	got, err := svc.GetAvoidLinkIds(context.Background(), coord(1, 1), coord(2, 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.snapshots.Load() != 1 {
		t.Errorf("expected one snapshot, got %d", store.snapshots.Load())
	}
	if calls.Load() != 2 {
		t.Errorf("expected two aggregation passes, got %d", calls.Load())
	}
	if seen[0] != seen[1] {
		t.Errorf("expected both passes to use the same box, got %+v and %+v", seen[0], seen[1])
	}
	if !equalIDs(got.Red, []int64{4, 9}) {
		t.Errorf("expected ascending ids, got %v", got.Red)
	}
	if !snap.closed.Load() {
		t.Error("expected snapshot to be closed")
	}
}

func TestGetAvoidLinkIds_CachesResult(t *testing.T) {
	cache := newMockCache()
	store := memory.New(repeat(3, at(1, 1.5, 1.5))...)
	svc := usecases.NewAvoidService(store, cache, usecases.DefaultAvoidOptions())

	first, err := svc.GetAvoidLinkIds(context.Background(), coord(1, 1), coord(2, 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cache.data) != 1 {
		t.Fatalf("expected one cached entry, got %d", len(cache.data))
	}
	for _, ttl := range cache.ttls {
		if ttl != 300 {
			t.Errorf("expected ttl 300, got %d", ttl)
		}
	}

	// New incidents are not visible until the cache is invalidated.
	store.Insert(repeat(2, at(2, 1.5, 1.5))...)
	second, err := svc.GetAvoidLinkIds(context.Background(), coord(2, 2), coord(1, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !equalIDs(second.Red, first.Red) || len(second.Yellow) != 0 {
		t.Errorf("expected cached result, got %+v", second)
	}

	if err := svc.HandleIncidentUpdate(context.Background(), domain.IncidentUpdate{Source: "test", Inserted: 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	third, err := svc.GetAvoidLinkIds(context.Background(), coord(1, 1), coord(2, 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !equalIDs(third.Yellow, []int64{2}) {
		t.Errorf("expected fresh yellow [2] after invalidation, got %v", third.Yellow)
	}
}

func TestGetAvoidLinkIds_NearbyBoxesDoNotShareCacheEntry(t *testing.T) {
	cache := newMockCache()
	store := memory.New(repeat(3, at(1, 1.5, 1.5))...)
	svc := usecases.NewAvoidService(store, cache, usecases.DefaultAvoidOptions())

	if _, err := svc.GetAvoidLinkIds(context.Background(), coord(1, 1), coord(2, 2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.GetAvoidLinkIds(context.Background(), coord(1, 1), coord(2.0000001, 2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cache.data) != 2 {
		t.Errorf("expected boxes 1e-7 degrees apart to be cached separately, got %d entries", len(cache.data))
	}
}

func TestGetAvoidLinkIds_CacheHitSkipsStore(t *testing.T) {
	cache := newMockCache()
	store := &mockIncidentStore{}
	svc := usecases.NewAvoidService(store, cache, usecases.DefaultAvoidOptions())

	// Prime through a first call, then make the store fail.
	if _, err := svc.GetAvoidLinkIds(context.Background(), coord(1, 1), coord(2, 2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.snapshotFn = func(ctx context.Context) (ports.IncidentSnapshot, error) {
		return nil, errors.New("down")
	}

	got, err := svc.GetAvoidLinkIds(context.Background(), coord(1, 1), coord(2, 2))
	if err != nil {
		t.Fatalf("expected cached result, got error %v", err)
	}
	if got.Red == nil || got.Yellow == nil {
		t.Errorf("expected non-nil sets from cache, got %+v", got)
	}
	if store.snapshots.Load() != 1 {
		t.Errorf("expected store to be queried once, got %d", store.snapshots.Load())
	}
}

func TestGetAvoidLinkIds_CacheErrorFallsThrough(t *testing.T) {
	cache := newMockCache()
	cache.getErr = errors.New("valkey down")
	svc := usecases.NewAvoidService(memory.New(repeat(2, at(5, 1.5, 1.5))...), cache, usecases.DefaultAvoidOptions())

	got, err := svc.GetAvoidLinkIds(context.Background(), coord(1, 1), coord(2, 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !equalIDs(got.Yellow, []int64{5}) {
		t.Errorf("expected yellow [5], got %v", got.Yellow)
	}
}

func TestAvoidLinkIds_JSONEmptySets(t *testing.T) {
	svc := usecases.NewAvoidService(memory.New(), nil, usecases.DefaultAvoidOptions())
	got, err := svc.GetAvoidLinkIds(context.Background(), coord(1, 1), coord(2, 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := json.Marshal(got)
	if string(data) != `{"red":[],"yellow":[]}` {
		t.Errorf("unexpected json %s", data)
	}
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
