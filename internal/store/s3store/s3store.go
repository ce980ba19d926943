// Package s3store uploads artifacts to an S3 bucket.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/videoforge/image-harvest/internal/core/config"
	"github.com/videoforge/image-harvest/internal/core/model"
	"github.com/videoforge/image-harvest/internal/core/observability"
)

const Name = "s3"

// uploader is the slice of s3manager.Uploader the store needs; tests stub it.
type uploader interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

type Store struct {
	uploader uploader
	bucket   string
	prefix   string
	logger   *slog.Logger
}

// New builds an uploader from standard AWS configuration (env, shared
// config); only the region comes from service config.
func New(cfg config.StoreCfg, logger *slog.Logger) (*Store, error) {
	if cfg.S3Bucket == "" {
		return nil, errors.New("s3 store requires S3_BUCKET")
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.S3Region)})
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return &Store{
		uploader: s3manager.NewUploader(sess),
		bucket:   cfg.S3Bucket,
		prefix:   strings.Trim(cfg.S3Prefix, "/"),
		logger:   logger,
	}, nil
}

func (s *Store) Name() string { return Name }

func (s *Store) Save(ctx context.Context, a *model.Artifact) (string, error) {
	key := a.ID + "." + a.Encoding
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}

	out, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(a.Bytes),
		ContentType: aws.String("image/jpeg"),
	})
	observability.IncStoreOp(Name, result(err))
	if err != nil {
		return "", fmt.Errorf("s3 upload %q: %w", key, err)
	}
	s.logger.Debug("artifact uploaded", "key", key, "location", out.Location)
	return out.Location, nil
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
