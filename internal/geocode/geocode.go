// Package geocode resolves harvest targets to canonical coordinates.
// Coordinate inputs pass through range validation; address inputs go to a
// Nominatim-style geocoding collaborator.
package geocode

import (
	"context"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/videoforge/image-harvest/internal/core/model"
	"github.com/videoforge/image-harvest/internal/core/observability"
)

// Result is one geocoder candidate. Candidates arrive ordered by descending
// importance; the resolver always takes the first.
type Result struct {
	Coord       model.Coordinate
	DisplayName string
	Importance  float64
}

// Geocoder turns free-text addresses into ranked candidates and coordinates
// back into display addresses.
type Geocoder interface {
	Search(ctx context.Context, address string) ([]Result, error)
	Reverse(ctx context.Context, coord model.Coordinate) (string, error)
}

type Resolver struct {
	geocoder Geocoder
	cache    *lru.Cache[string, model.Coordinate]
	validate bool
	logger   *slog.Logger
}

func NewResolver(g Geocoder, cacheSize int, validate bool, logger *slog.Logger) *Resolver {
	if cacheSize <= 0 {
		cacheSize = 512
	}
	cache, _ := lru.New[string, model.Coordinate](cacheSize)
	return &Resolver{geocoder: g, cache: cache, validate: validate, logger: logger}
}

// Resolve normalizes input into a coordinate. The cache is keyed by the
// lower-cased address and is consulted before the geocoder, so repeated
// waypoints do not spend the request budget.
func (r *Resolver) Resolve(ctx context.Context, in model.LocationInput) (model.Coordinate, error) {
	if !in.IsAddress() {
		if err := in.Coord.Validate(); err != nil {
			return model.Coordinate{}, err
		}
		return *in.Coord, nil
	}

	addr := strings.TrimSpace(in.Address)
	if addr == "" {
		return model.Coordinate{}, model.NewInvalidInput("address must not be empty")
	}

	key := strings.ToLower(addr)
	if c, ok := r.cache.Get(key); ok {
		observability.IncGeocodeCacheHit()
		return c, nil
	}
	observability.IncGeocodeCacheMiss()

	results, err := r.geocoder.Search(ctx, addr)
	if err != nil {
		return model.Coordinate{}, err
	}
	if len(results) == 0 {
		return model.Coordinate{}, model.NewAddressNotFound(addr)
	}

	coord := results[0].Coord
	if err := coord.Validate(); err != nil {
		return model.Coordinate{}, model.NewGeocodingUnavailable(err)
	}
	r.cache.Add(key, coord)

	if r.validate {
		r.checkRoundTrip(ctx, addr, coord)
	}
	return coord, nil
}

// checkRoundTrip reverse-geocodes the resolved point and warns when the
// returned address does not resemble the requested one. Never fails the
// request.
func (r *Resolver) checkRoundTrip(ctx context.Context, addr string, coord model.Coordinate) {
	got, err := r.geocoder.Reverse(ctx, coord)
	if err != nil {
		r.logger.Warn("reverse geocode validation skipped", "err", err)
		return
	}
	want := NormalizeAddress(addr)
	have := NormalizeAddress(got)
	if !Similar(want, have) {
		r.logger.Warn("geocoded address did not round-trip",
			"requested", want,
			"resolved", have,
			"lat", coord.Lat,
			"lng", coord.Lng)
	}
}
