// Package geocode resolves GPS coordinates to place names through a
// persistent cache in front of a rate-limited external service.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"media-index/internal/database"
	"media-index/internal/logging"
	"media-index/internal/metrics"
)

// ErrUnavailable is returned when the external service cannot be
// reached or the wait queue is full. Failures are never cached.
var ErrUnavailable = errors.New("geocoding service unavailable")

// Client is the external reverse-geocoding service.
type Client interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (*database.Location, error)
}

// Store is the cache backing a Resolver.
type Store interface {
	GetGeocode(ctx context.Context, latBucket, lonBucket float64, precision int) (*database.Location, error)
	PutGeocode(ctx context.Context, latBucket, lonBucket float64, precision int, loc database.Location) error
}

// Resolver answers coordinate lookups. Nearby coordinates collapse
// into one cache bucket by rounding, so a burst of photos from the
// same spot costs one external call.
type Resolver struct {
	store     Store
	client    Client
	precision int
	limiter   *rate.Limiter
	slots     chan struct{}
	inflight  singleflight.Group
}

// New builds a Resolver. precision is the number of coordinate
// decimals kept when bucketing; interval is the minimum spacing
// between external calls; queue bounds how many callers may wait on
// the limiter at once.
func New(store Store, client Client, precision int, interval time.Duration, queue int) *Resolver {
	if precision < 0 {
		precision = 0
	}
	if queue < 1 {
		queue = 1
	}
	return &Resolver{
		store:     store,
		client:    client,
		precision: precision,
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
		slots:     make(chan struct{}, queue),
	}
}

// Resolve returns the place for (lat, lon), from cache when possible.
// A cache miss waits its turn on the global limiter; when the wait
// queue is already full the call fails fast with ErrUnavailable.
func (r *Resolver) Resolve(ctx context.Context, lat, lon float64) (*database.Location, error) {
	latB := roundTo(lat, r.precision)
	lonB := roundTo(lon, r.precision)

	loc, err := r.store.GetGeocode(ctx, latB, lonB, r.precision)
	if err == nil {
		metrics.GeocodeCacheHits.Inc()
		return loc, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("geocode cache lookup failed: %w", err)
	}
	metrics.GeocodeCacheMisses.Inc()

	// Collapse concurrent misses on the same bucket into one call.
	key := fmt.Sprintf("%.*f,%.*f", r.precision, latB, r.precision, lonB)
	v, err, _ := r.inflight.Do(key, func() (interface{}, error) {
		return r.fetch(ctx, latB, lonB)
	})
	if err != nil {
		return nil, err
	}
	return v.(*database.Location), nil
}

func (r *Resolver) fetch(ctx context.Context, latB, lonB float64) (*database.Location, error) {
	select {
	case r.slots <- struct{}{}:
		metrics.GeocodeQueueDepth.Set(float64(len(r.slots)))
	default:
		metrics.GeocodeRejected.Inc()
		return nil, fmt.Errorf("geocode queue full: %w", ErrUnavailable)
	}
	defer func() {
		<-r.slots
		metrics.GeocodeQueueDepth.Set(float64(len(r.slots)))
	}()

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("geocode rate limit wait: %w", err)
	}

	loc, err := r.client.ReverseGeocode(ctx, latB, lonB)
	if err != nil {
		metrics.GeocodeExternalCalls.WithLabelValues("error").Inc()
		logging.Warn("reverse geocode failed for (%f, %f): %v", latB, lonB, err)
		return nil, fmt.Errorf("reverse geocode failed: %w", err)
	}
	metrics.GeocodeExternalCalls.WithLabelValues("success").Inc()

	if err := r.store.PutGeocode(ctx, latB, lonB, r.precision, *loc); err != nil {
		// The answer is good even if caching it was not.
		logging.Warn("failed to cache geocode result for (%f, %f): %v", latB, lonB, err)
	}
	return loc, nil
}

// roundTo rounds v to n decimal places.
func roundTo(v float64, n int) float64 {
	scale := math.Pow10(n)
	return math.Round(v*scale) / scale
}
