package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/samirrijal/saferoute/internal/core/domain"
	"github.com/samirrijal/saferoute/internal/core/ports"
	"github.com/samirrijal/saferoute/internal/pkg/geospatial"
	"github.com/samirrijal/saferoute/internal/pkg/metrics"
)

const cacheGeneration = "incidents"

var tracer = otel.Tracer("github.com/samirrijal/saferoute/internal/core/usecases")

// AvoidOptions tunes the avoid-link classification.
type AvoidOptions struct {
	// MarginDegrees is the latitude-degree buffer added around every box.
	MarginDegrees float64
	// MaxSpanMeters rejects boxes whose diagonal exceeds it; 0 disables.
	MaxSpanMeters float64
	// CacheTTLSeconds is how long results stay cached; 0 disables caching.
	CacheTTLSeconds int
}

// DefaultAvoidOptions returns the options used when none are configured.
func DefaultAvoidOptions() AvoidOptions {
	return AvoidOptions{
		MarginDegrees:   geospatial.DefaultMarginDegrees,
		CacheTTLSeconds: 300,
	}
}

// AvoidService classifies the road links inside a bounding box by
// historical incident density.
type AvoidService struct {
	store ports.IncidentStore
	cache ports.CacheService
	opts  AvoidOptions
}

// NewAvoidService creates a new AvoidService. cache may be nil.
func NewAvoidService(store ports.IncidentStore, cache ports.CacheService, opts AvoidOptions) *AvoidService {
	if opts.MarginDegrees <= 0 {
		opts.MarginDegrees = geospatial.DefaultMarginDegrees
	}
	return &AvoidService{store: store, cache: cache, opts: opts}
}

// NormalizeAndExpand orders two arbitrary corners into a box and widens it
// by margin degrees of latitude, with a cosine-corrected longitude margin
// on each side.
func NormalizeAndExpand(a, b domain.Coordinate, margin float64) domain.BoundingBox {
	minLat, minLng, maxLat, maxLng := geospatial.ExpandBounds(a.Lat, a.Lng, b.Lat, b.Lng, margin)
	return domain.BoundingBox{
		From: domain.Coordinate{Lat: minLat, Lng: minLng},
		To:   domain.Coordinate{Lat: maxLat, Lng: maxLng},
	}
}

// GetAvoidLinkIds returns the links to avoid (red: more than two incidents)
// and to treat with caution (yellow: exactly two) inside the box spanned by
// from and to, widened by the configured margin.
//
// It fails with domain.ErrInvalidInput when a corner is missing or out of
// range, and with domain.ErrStoreUnavailable when either aggregation pass
// fails. A partial result is never returned.
func (s *AvoidService) GetAvoidLinkIds(ctx context.Context, from, to *domain.Coordinate) (*domain.AvoidLinkIds, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "AvoidService.GetAvoidLinkIds")
	defer span.End()

	if err := s.validate(from, to); err != nil {
		span.SetStatus(codes.Error, err.Error())
		metrics.ClassifyDuration.WithLabelValues("invalid").Observe(time.Since(start).Seconds())
		return nil, err
	}

	box := NormalizeAndExpand(*from, *to, s.opts.MarginDegrees)
	span.SetAttributes(
		attribute.Float64("box.from.lat", box.From.Lat),
		attribute.Float64("box.from.lng", box.From.Lng),
		attribute.Float64("box.to.lat", box.To.Lat),
		attribute.Float64("box.to.lng", box.To.Lng),
	)

	cacheKey := s.cacheKey(ctx, box)
	if cached := s.fromCache(ctx, cacheKey); cached != nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		metrics.ClassifyDuration.WithLabelValues("cached").Observe(time.Since(start).Seconds())
		return cached, nil
	}

	result, err := s.classify(ctx, box)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ClassifyDuration.WithLabelValues("store_error").Observe(time.Since(start).Seconds())
		return nil, err
	}

	metrics.LinksClassified.WithLabelValues("red").Add(float64(len(result.Red)))
	metrics.LinksClassified.WithLabelValues("yellow").Add(float64(len(result.Yellow)))
	metrics.ClassifyDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	slog.DebugContext(ctx, "classified avoid links",
		"from_lat", box.From.Lat, "from_lng", box.From.Lng,
		"to_lat", box.To.Lat, "to_lng", box.To.Lng,
		"red", len(result.Red), "yellow", len(result.Yellow),
	)

	s.toCache(ctx, cacheKey, result)
	return result, nil
}

func (s *AvoidService) validate(from, to *domain.Coordinate) error {
	if from == nil || to == nil {
		return fmt.Errorf("%w: both corner coordinates are required", domain.ErrInvalidInput)
	}
	for _, c := range []*domain.Coordinate{from, to} {
		if !geospatial.ValidLatLon(c.Lat, c.Lng) {
			return fmt.Errorf("%w: coordinate (%v, %v) out of range", domain.ErrInvalidInput, c.Lat, c.Lng)
		}
	}
	if s.opts.MaxSpanMeters > 0 {
		span := geospatial.DiagonalMeters(from.Lat, from.Lng, to.Lat, to.Lng)
		if span > s.opts.MaxSpanMeters {
			return fmt.Errorf("%w: box spans %.0fm, limit is %.0fm", domain.ErrInvalidInput, span, s.opts.MaxSpanMeters)
		}
	}
	return nil
}

// classify runs the red and yellow aggregation passes concurrently over one
// store snapshot and joins them.
func (s *AvoidService) classify(ctx context.Context, box domain.BoundingBox) (*domain.AvoidLinkIds, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open snapshot: %w", domain.ErrStoreUnavailable, err)
	}
	defer func() {
		if err := snap.Close(context.WithoutCancel(ctx)); err != nil {
			slog.WarnContext(ctx, "close incident snapshot", "error", err)
		}
	}()

	var red, yellow []int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids, err := countLinks(gctx, snap, box, domain.HighDensity)
		red = ids
		return err
	})
	g.Go(func() error {
		ids, err := countLinks(gctx, snap, box, domain.MediumDensity)
		yellow = ids
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	return &domain.AvoidLinkIds{Red: red, Yellow: yellow}, nil
}

// countLinks is one aggregation pass; it returns the matching link ids in
// ascending order and never nil.
func countLinks(ctx context.Context, snap ports.IncidentSnapshot, box domain.BoundingBox, pred domain.DensityPredicate) ([]int64, error) {
	ctx, span := tracer.Start(ctx, "IncidentAggregator.CountLinksByDensity")
	defer span.End()
	span.SetAttributes(attribute.String("predicate", pred.String()))

	densities, err := snap.CountLinksByDensity(ctx, box, pred)
	if err != nil {
		span.RecordError(err)
		metrics.AggregationErrors.WithLabelValues(pred.String()).Inc()
		return nil, fmt.Errorf("count links where %s: %w", pred, err)
	}

	ids := make([]int64, 0, len(densities))
	for _, d := range densities {
		ids = append(ids, d.LinkID)
	}
	slices.Sort(ids)
	span.SetAttributes(attribute.Int("links", len(ids)))
	return ids, nil
}

// InvalidateCache orphans every cached classification. Called when the
// ingestion job reports new incidents.
func (s *AvoidService) InvalidateCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	gen, err := s.cache.BumpGeneration(ctx, cacheGeneration)
	if err != nil {
		return fmt.Errorf("bump cache generation: %w", err)
	}
	slog.InfoContext(ctx, "avoid-link cache invalidated", "generation", gen)
	return nil
}

// HandleIncidentUpdate reacts to an ingestion notification.
func (s *AvoidService) HandleIncidentUpdate(ctx context.Context, update domain.IncidentUpdate) error {
	source := update.Source
	if source == "" {
		source = "unknown"
	}
	metrics.IncidentUpdates.WithLabelValues(source).Inc()
	return s.InvalidateCache(ctx)
}

// Ping checks the incident store is reachable.
func (s *AvoidService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *AvoidService) cacheKey(ctx context.Context, box domain.BoundingBox) string {
	if s.cache == nil || s.opts.CacheTTLSeconds <= 0 {
		return ""
	}
	gen, err := s.cache.Generation(ctx, cacheGeneration)
	if err != nil {
		slog.WarnContext(ctx, "cache generation unavailable", "error", err)
		return ""
	}
	// Shortest exact float formatting: distinct boxes never share a key.
	key := "avoid:" + strconv.FormatInt(gen, 10)
	for _, v := range []float64{box.From.Lat, box.From.Lng, box.To.Lat, box.To.Lng} {
		key += ":" + strconv.FormatFloat(v, 'g', -1, 64)
	}
	return key
}

func (s *AvoidService) fromCache(ctx context.Context, key string) *domain.AvoidLinkIds {
	if key == "" {
		return nil
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		metrics.CacheMisses.WithLabelValues("avoid").Inc()
		return nil
	}
	var result domain.AvoidLinkIds
	if err := json.Unmarshal(data, &result); err != nil {
		metrics.CacheMisses.WithLabelValues("avoid").Inc()
		return nil
	}
	if result.Red == nil {
		result.Red = []int64{}
	}
	if result.Yellow == nil {
		result.Yellow = []int64{}
	}
	metrics.CacheHits.WithLabelValues("avoid").Inc()
	return &result
}

func (s *AvoidService) toCache(ctx context.Context, key string, result *domain.AvoidLinkIds) {
	if key == "" {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.opts.CacheTTLSeconds); err != nil {
		slog.WarnContext(ctx, "cache avoid links", "error", err)
	}
}
