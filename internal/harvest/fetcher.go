// Package harvest turns locations into stored panorama artifacts. The
// Fetcher handles one waypoint end to end, the Orchestrator fans a route out
// over a worker pool, and the Service is the request-level entry point.
package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/videoforge/image-harvest/internal/core/model"
	"github.com/videoforge/image-harvest/internal/core/observability"
	"github.com/videoforge/image-harvest/internal/decode"
	mylog "github.com/videoforge/image-harvest/internal/logger"
	"github.com/videoforge/image-harvest/internal/provider"
)

// Resolver normalizes a location input into a coordinate.
type Resolver interface {
	Resolve(ctx context.Context, in model.LocationInput) (model.Coordinate, error)
}

// Decoder turns raw provider bytes into canonical artifact bytes.
type Decoder interface {
	Decode(ctx context.Context, data []byte, encoding string) ([]byte, error)
}

// Saver persists one artifact and returns its stored path, URL, or key.
type Saver interface {
	Name() string
	Save(ctx context.Context, a *model.Artifact) (string, error)
}

// FetcherOpts carries the per-waypoint tunables.
type FetcherOpts struct {
	SearchRadiusM   float64
	WaypointTimeout time.Duration
}

// Fetcher runs the five-step pipeline for a single waypoint: resolve, find,
// fetch, decode, store. It is stateless per call and safe for concurrent use.
type Fetcher struct {
	resolver  Resolver
	providers []provider.Client
	decoder   Decoder
	store     Saver
	radiusM   float64
	timeout   time.Duration
	logger    *slog.Logger
}

func NewFetcher(resolver Resolver, providers []provider.Client, decoder Decoder, store Saver, opts FetcherOpts, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		resolver:  resolver,
		providers: providers,
		decoder:   decoder,
		store:     store,
		radiusM:   opts.SearchRadiusM,
		timeout:   opts.WaypointTimeout,
		logger:    logger,
	}
}

// Fetch harvests one waypoint under the per-waypoint deadline. Failures are
// carried in the result, never returned: a route must keep going.
func (f *Fetcher) Fetch(ctx context.Context, in model.LocationInput) model.HarvestResult {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	res := f.fetch(ctx, in)
	if res.Err != nil {
		observability.IncWaypoint(string(model.KindOf(res.Err)))
		f.logger.WarnContext(ctx, "waypoint failed",
			"location", in.String(), "kind", string(model.KindOf(res.Err)), "err", res.Err)
	} else {
		observability.IncWaypoint("success")
	}
	return res
}

func (f *Fetcher) fetch(ctx context.Context, in model.LocationInput) model.HarvestResult {
	out := model.HarvestResult{Input: in}

	coord, err := f.resolver.Resolve(ctx, in)
	if err != nil {
		out.Err = err
		return out
	}

	cli, rec, err := f.findPanorama(ctx, coord)
	if err != nil {
		out.Err = err
		return out
	}
	ctx = mylog.WithProvider(ctx, cli.Name())

	raw, encoding, err := cli.FetchRawImage(ctx, rec)
	if err != nil {
		out.Err = err
		return out
	}

	canonical, err := f.decoder.Decode(ctx, raw, encoding)
	if err != nil {
		out.Err = err
		return out
	}

	id, err := ksuid.NewRandom()
	if err != nil {
		out.Err = model.NewInternal(fmt.Errorf("artifact id: %w", err))
		return out
	}

	artifact := &model.Artifact{
		ID:       id.String(),
		Bytes:    canonical,
		Encoding: decode.CanonicalEncoding,
		Checksum: model.Checksum64(canonical),
	}
	path, err := f.store.Save(ctx, artifact)
	if err != nil {
		out.Err = model.NewInternal(fmt.Errorf("store artifact %s: %w", artifact.ID, err))
		return out
	}
	artifact.Path = path

	f.logger.InfoContext(ctx, "waypoint harvested",
		"pano", rec.ID,
		"distance_m", rec.DistanceMeters,
		"path", path)

	out.Artifact = artifact
	out.Record = rec
	return out
}

// findPanorama walks the provider chain in priority order. Coverage misses
// fall through to the next provider; anything else fails the waypoint.
func (f *Fetcher) findPanorama(ctx context.Context, at model.Coordinate) (provider.Client, *model.PanoramaRecord, error) {
	var lastMiss error
	for _, p := range f.providers {
		rec, err := p.FindNearestPanorama(ctx, at, f.radiusM)
		if err == nil {
			return p, rec, nil
		}
		if model.KindOf(err) == model.KindNoCoverage {
			lastMiss = err
			continue
		}
		return nil, nil, err
	}
	if lastMiss != nil {
		return nil, nil, lastMiss
	}
	return nil, nil, model.NewNoCoverage(f.radiusM)
}
