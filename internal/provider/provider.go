// Package provider defines the imagery-source capability interface and
// builds the configured priority chain. All protocol and shape assumptions
// live inside the per-source packages; orchestration code sees only this
// interface and the failure taxonomy.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/videoforge/image-harvest/internal/core/config"
	"github.com/videoforge/image-harvest/internal/core/model"
	"github.com/videoforge/image-harvest/internal/provider/lookaround"
	"github.com/videoforge/image-harvest/internal/provider/streetview"
	"github.com/videoforge/image-harvest/internal/retry"
)

// Client is implemented once per imagery source.
//
// FindNearestPanorama returns a no_coverage failure when the source answered
// but has nothing within radiusMeters; transport trouble surfaces as
// provider_unavailable and unexpected response shapes as provider_protocol,
// so callers can tell them apart. FetchRawImage returns the undecoded image
// bytes and their encoding tag.
type Client interface {
	Name() string
	FindNearestPanorama(ctx context.Context, at model.Coordinate, radiusMeters float64) (*model.PanoramaRecord, error)
	FetchRawImage(ctx context.Context, rec *model.PanoramaRecord) ([]byte, string, error)
}

// Build returns clients in the configured priority order. The order is the
// fallback order: a no_coverage answer from clients[i] sends the waypoint to
// clients[i+1].
func Build(cfg config.Config, httpc *http.Client, policy retry.Policy, logger *slog.Logger) ([]Client, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	out := make([]Client, 0, len(cfg.Providers))
	for _, name := range cfg.Providers {
		switch name {
		case lookaround.Name:
			out = append(out, lookaround.New(cfg.Lookaround, policy, httpc, logger))
		case streetview.Name:
			if cfg.Streetview.APIKey == "" {
				return nil, fmt.Errorf("provider %q requires STREETVIEW_API_KEY", name)
			}
			out = append(out, streetview.New(cfg.Streetview, policy, httpc, logger))
		default:
			return nil, fmt.Errorf("unknown provider %q (known: %s, %s)", name, lookaround.Name, streetview.Name)
		}
	}
	return out, nil
}
