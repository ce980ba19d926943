package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/videoforge/image-harvest/internal/core/config"
	"github.com/videoforge/image-harvest/internal/core/httpclient"
	"github.com/videoforge/image-harvest/internal/core/observability"
	"github.com/videoforge/image-harvest/internal/core/server"
	"github.com/videoforge/image-harvest/internal/decode"
	"github.com/videoforge/image-harvest/internal/events/kafka"
	"github.com/videoforge/image-harvest/internal/geocode"
	"github.com/videoforge/image-harvest/internal/harvest"
	"github.com/videoforge/image-harvest/internal/logger"
	"github.com/videoforge/image-harvest/internal/provider"
	"github.com/videoforge/image-harvest/internal/retry"
	"github.com/videoforge/image-harvest/internal/store"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	envFile := flag.String("env", "", "optional .env file loaded before reading configuration")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
			return 1
		}
	}

	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Component: "harvester",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting harvester",
		"addr", cfg.Addr,
		"version", Version,
		"providers", strings.Join(cfg.Providers, ","),
		"store", cfg.Store.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}
	httpClient := httpclient.NewOutbound(0)

	st, err := store.Build(ctx, cfg.Store, appLog)
	if err != nil {
		appLog.Error("store setup failed", "err", err)
		return 1
	}
	if c, ok := st.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	providers, err := provider.Build(cfg, httpClient, policy, appLog)
	if err != nil {
		appLog.Error("provider setup failed", "err", err)
		return 1
	}

	registry, err := decode.New(cfg.DecoderPriority, cfg.DecodeMaxWidth, appLog)
	if err != nil {
		appLog.Error("decoder setup failed", "err", err)
		return 1
	}

	nominatim := geocode.NewNominatim(cfg.Geocoder, policy, httpClient, appLog)
	resolver := geocode.NewResolver(nominatim, cfg.Geocoder.CacheSize, cfg.Geocoder.Validate, appLog)

	fetcher := harvest.NewFetcher(resolver, providers, registry, st, harvest.FetcherOpts{
		SearchRadiusM:   cfg.SearchRadiusM,
		WaypointTimeout: cfg.WaypointTimeout,
	}, appLog)
	orch := harvest.NewOrchestrator(fetcher, cfg.Concurrency, appLog)

	var sink harvest.EventSink
	if cfg.Events.Brokers != "" {
		pub, err := kafka.NewPublisher(cfg.Events, appLog)
		if err != nil {
			appLog.Error("kafka setup failed", "err", err)
			return 1
		}
		defer func() { _ = pub.Close() }()
		sink = pub
	}

	svc := harvest.NewService(fetcher, orch, sink, appLog)

	if err := server.Run(ctx, cfg, appLog, svc); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
