// Package decode turns provider image bytes into the canonical artifact
// encoding. Each source encoding has an ordered chain of strategies; the
// chain is probed once at startup and immutable afterwards, so a registry is
// safe for concurrent use.
package decode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"math"
	"strings"

	xdraw "golang.org/x/image/draw"

	"github.com/videoforge/image-harvest/internal/core/model"
	"github.com/videoforge/image-harvest/internal/core/observability"
)

// CanonicalEncoding tags every artifact the registry emits.
const CanonicalEncoding = "jpg"

// canonicalQuality is part of the artifact contract: identical pixels must
// produce identical bytes across runs and strategy chains.
const canonicalQuality = 90

// Strategy is one way of turning encoded bytes into pixels.
type Strategy interface {
	Name() string
	// Handles reports whether the strategy understands the encoding tag.
	Handles(encoding string) bool
	// Available reports whether the strategy is usable in this process. It
	// is consulted once, at registry construction.
	Available() bool
	Decode(ctx context.Context, data []byte) (image.Image, error)
}

type Registry struct {
	chains   map[string][]Strategy
	maxWidth int
	logger   *slog.Logger
}

// encodings the built-in strategies know how to tag-match.
var knownEncodings = []string{"heic", "heif", "jpeg", "png", "webp"}

// New builds a registry from strategy names in priority order. Unknown names
// are construction errors; unavailable strategies are dropped with a log
// line.
func New(priority []string, maxWidth int, logger *slog.Logger) (*Registry, error) {
	strategies := make([]Strategy, 0, len(priority))
	for _, name := range priority {
		s, err := builtin(name)
		if err != nil {
			return nil, err
		}
		if !s.Available() {
			logger.Info("decode strategy unavailable, dropping", "strategy", s.Name())
			continue
		}
		strategies = append(strategies, s)
	}
	return newRegistry(strategies, maxWidth, logger), nil
}

func newRegistry(strategies []Strategy, maxWidth int, logger *slog.Logger) *Registry {
	chains := make(map[string][]Strategy, len(knownEncodings))
	for _, enc := range knownEncodings {
		for _, s := range strategies {
			if s.Handles(enc) {
				chains[enc] = append(chains[enc], s)
			}
		}
	}
	return &Registry{chains: chains, maxWidth: maxWidth, logger: logger}
}

func builtin(name string) (Strategy, error) {
	switch name {
	case "heif":
		return heifStrategy{}, nil
	case "heifconvert":
		return heifConvertStrategy{}, nil
	case "stdimage":
		return stdImageStrategy{}, nil
	case "webp":
		return webpStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown decode strategy %q", name)
	}
}

// Decode runs the chain for encoding over data and re-encodes the first
// successful result canonically. Strategy panics count as strategy failures.
func (r *Registry) Decode(ctx context.Context, data []byte, encoding string) ([]byte, error) {
	enc := normalizeEncoding(encoding)
	chain := r.chains[enc]
	if len(chain) == 0 {
		return nil, model.NewDecodeFailed(encoding, fmt.Errorf("no decode strategy available for %q", enc))
	}

	var errs []error
	for _, s := range chain {
		img, err := safeDecode(ctx, s, data)
		if err != nil {
			observability.IncDecode(s.Name(), "failure")
			r.logger.Debug("decode strategy failed", "strategy", s.Name(), "encoding", enc, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		observability.IncDecode(s.Name(), "success")
		out, err := r.encodeCanonical(img)
		if err != nil {
			return nil, model.NewDecodeFailed(encoding, err)
		}
		return out, nil
	}
	return nil, model.NewDecodeFailed(encoding, errors.Join(errs...))
}

func safeDecode(ctx context.Context, s Strategy, data []byte) (img image.Image, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			img, err = nil, fmt.Errorf("decode panic: %v", rec)
		}
	}()
	return s.Decode(ctx, data)
}

// encodeCanonical downscales oversized frames and emits fixed-quality JPEG.
func (r *Registry) encodeCanonical(img image.Image) ([]byte, error) {
	if r.maxWidth > 0 && img.Bounds().Dx() > r.maxWidth {
		img = downscale(img, r.maxWidth)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: canonicalQuality}); err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	return buf.Bytes(), nil
}

func downscale(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	h := int(math.Round(float64(b.Dy()) * float64(maxWidth) / float64(b.Dx())))
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

func normalizeEncoding(encoding string) string {
	enc := strings.ToLower(strings.TrimSpace(encoding))
	if enc == "jpg" {
		return "jpeg"
	}
	return enc
}
