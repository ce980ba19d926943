// Package fsstore writes artifacts to a local directory.
package fsstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/videoforge/image-harvest/internal/core/model"
	"github.com/videoforge/image-harvest/internal/core/observability"
)

const Name = "fs"

type Store struct {
	dir    string
	logger *slog.Logger
}

// New creates the output directory up front so a bad path fails startup.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		dir = "output"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %q: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) Name() string { return Name }

func (s *Store) Save(_ context.Context, a *model.Artifact) (string, error) {
	path := filepath.Join(s.dir, a.ID+"."+a.Encoding)
	err := os.WriteFile(path, a.Bytes, 0o644)
	observability.IncStoreOp(Name, result(err))
	if err != nil {
		return "", fmt.Errorf("write artifact %s: %w", a.ID, err)
	}
	s.logger.Debug("artifact written", "path", path, "bytes", len(a.Bytes))
	return path, nil
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
