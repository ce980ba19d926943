package redisstore

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/videoforge/image-harvest/internal/core/config"
	"github.com/videoforge/image-harvest/internal/core/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// creates a store connected to miniredis for testing
func newMini(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	st, err := New(ctx, config.StoreCfg{RedisAddr: mr.Addr(), RedisTTL: ttl}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, mr
}

func TestNew_RequiresAddr(t *testing.T) {
	_, err := New(context.Background(), config.StoreCfg{}, discardLogger())
	if err == nil {
		t.Fatal("expected error without REDIS_ADDR")
	}
}

func TestNew_PingFailure(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := New(ctx, config.StoreCfg{RedisAddr: addr}, discardLogger()); err == nil {
		t.Fatal("expected ping failure against closed server")
	}
}

func TestSave_StagesBytesAndMeta(t *testing.T) {
	st, mr := newMini(t, 30*time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	a := &model.Artifact{ID: "a1", Bytes: []byte("jpeg-bytes"), Encoding: "jpg", Checksum: "xx64:00ff"}
	key, err := st.Save(ctx, a)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if key != "harvest:artifact:a1" {
		t.Fatalf("key = %q", key)
	}

	got, err := mr.Get(key)
	if err != nil {
		t.Fatalf("read staged bytes: %v", err)
	}
	if got != "jpeg-bytes" {
		t.Fatalf("staged bytes = %q", got)
	}

	rawMeta, err := mr.Get(key + ":meta")
	if err != nil {
		t.Fatalf("read staged meta: %v", err)
	}
	var meta stagedMeta
	if err := json.Unmarshal([]byte(rawMeta), &meta); err != nil {
		t.Fatalf("meta not JSON: %v", err)
	}
	if meta.ID != "a1" || meta.Encoding != "jpg" || meta.Checksum != "xx64:00ff" || meta.Size != len("jpeg-bytes") {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if meta.StagedAt == "" {
		t.Fatal("meta missing staged_at")
	}
}

func TestSave_AppliesTTLToBothKeys(t *testing.T) {
	st, mr := newMini(t, 30*time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := st.Save(ctx, &model.Artifact{ID: "a2", Bytes: []byte("x"), Encoding: "jpg"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if ttl := mr.TTL("harvest:artifact:a2"); ttl != 30*time.Minute {
		t.Fatalf("bytes TTL = %v", ttl)
	}
	if ttl := mr.TTL("harvest:artifact:a2:meta"); ttl != 30*time.Minute {
		t.Fatalf("meta TTL = %v", ttl)
	}
}

func TestSave_DefaultTTL(t *testing.T) {
	st, mr := newMini(t, 0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := st.Save(ctx, &model.Artifact{ID: "a3", Bytes: []byte("x"), Encoding: "jpg"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ttl := mr.TTL("harvest:artifact:a3"); ttl != time.Hour {
		t.Fatalf("default TTL = %v want 1h", ttl)
	}
}
