// Package store defines where finished artifacts land. Drivers are selected
// by configuration at startup; the rest of the pipeline only sees Save.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/videoforge/image-harvest/internal/core/config"
	"github.com/videoforge/image-harvest/internal/core/model"
	"github.com/videoforge/image-harvest/internal/store/fsstore"
	"github.com/videoforge/image-harvest/internal/store/redisstore"
	"github.com/videoforge/image-harvest/internal/store/s3store"
)

// Store persists one artifact and returns its stored path, URL, or key.
type Store interface {
	Name() string
	Save(ctx context.Context, a *model.Artifact) (string, error)
}

// Build constructs the configured driver. Drivers that hold connections
// (redis) dial and ping here so a bad address fails startup, not the first
// request.
func Build(ctx context.Context, cfg config.StoreCfg, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case fsstore.Name:
		return fsstore.New(cfg.OutputDir, logger)
	case s3store.Name:
		return s3store.New(cfg, logger)
	case redisstore.Name:
		return redisstore.New(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q (known: %s, %s, %s)",
			cfg.Driver, fsstore.Name, s3store.Name, redisstore.Name)
	}
}
