// Package server owns the http.Server lifecycle.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/videoforge/image-harvest/internal/core/config"
	"github.com/videoforge/image-harvest/internal/core/health"
	middleware "github.com/videoforge/image-harvest/internal/core/middleware"
	"github.com/videoforge/image-harvest/internal/core/router"
)

// Run serves until ctx is canceled, then drains in-flight requests for up to
// 10 seconds. The generous write timeout covers route requests that decode
// dozens of images before the first response byte.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, svc router.HarvestService) error {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/health", health.Health())
	if cfg.MetricsEnabled {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	}
	r.Post("/harvest", router.HandleHarvest(logger, svc))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
