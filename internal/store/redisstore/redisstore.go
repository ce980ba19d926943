// Package redisstore stages artifacts in Redis for a downstream consumer to
// drain. Bytes and a small metadata document are written under a shared TTL;
// nothing in this service reads them back.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/videoforge/image-harvest/internal/core/config"
	"github.com/videoforge/image-harvest/internal/core/model"
	"github.com/videoforge/image-harvest/internal/core/observability"
)

const (
	Name      = "redis"
	keyPrefix = "harvest:artifact:"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

type Store struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// stagedMeta is what the draining side needs to pick the artifact up without
// parsing the image itself.
type stagedMeta struct {
	ID       string `json:"id"`
	Encoding string `json:"encoding"`
	Checksum string `json:"checksum"`
	Size     int    `json:"size"`
	StagedAt string `json:"staged_at"`
}

func New(ctx context.Context, cfg config.StoreCfg, logger *slog.Logger, opts ...Option) (*Store, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("redis store requires REDIS_ADDR")
	}

	ro := &redis.Options{
		Addr:         cfg.RedisAddr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.RedisTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl, logger: logger}, nil
}

func (s *Store) Name() string { return Name }

// Save writes <key> and <key>:meta in one pipeline so the consumer never
// observes bytes without metadata.
func (s *Store) Save(ctx context.Context, a *model.Artifact) (string, error) {
	key := keyPrefix + a.ID

	meta, err := json.Marshal(stagedMeta{
		ID:       a.ID,
		Encoding: a.Encoding,
		Checksum: a.Checksum,
		Size:     len(a.Bytes),
		StagedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("marshal staged meta %q: %w", a.ID, err)
	}

	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		if err := p.Set(ctx, key, a.Bytes, s.ttl).Err(); err != nil {
			return fmt.Errorf("stage SET %q: %w", key, err)
		}
		return p.Set(ctx, key+":meta", meta, s.ttl).Err()
	})
	observability.IncStoreOp(Name, result(err))
	if err != nil {
		return "", fmt.Errorf("redis stage artifact %q: %w", a.ID, err)
	}

	s.logger.Debug("artifact staged", "key", key, "bytes", len(a.Bytes), "ttl", s.ttl)
	return key, nil
}

func (s *Store) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
