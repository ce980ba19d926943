package decode

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/jdeng/goheif"
	"golang.org/x/image/webp"

	_ "image/png"
)

// heifStrategy decodes HEIC in-process.
type heifStrategy struct{}

func (heifStrategy) Name() string { return "heif" }

func (heifStrategy) Handles(encoding string) bool {
	return encoding == "heic" || encoding == "heif"
}

func (heifStrategy) Available() bool { return true }

func (heifStrategy) Decode(_ context.Context, data []byte) (image.Image, error) {
	return goheif.Decode(bytes.NewReader(data))
}

// heifConvertStrategy shells out to the heif-convert CLI. It only joins the
// chain when the binary is on PATH.
type heifConvertStrategy struct{}

func (heifConvertStrategy) Name() string { return "heifconvert" }

func (heifConvertStrategy) Handles(encoding string) bool {
	return encoding == "heic" || encoding == "heif"
}

func (heifConvertStrategy) Available() bool {
	_, err := exec.LookPath("heif-convert")
	return err == nil
}

func (heifConvertStrategy) Decode(ctx context.Context, data []byte) (image.Image, error) {
	dir, err := os.MkdirTemp("", "heifconvert-*")
	if err != nil {
		return nil, fmt.Errorf("heif-convert workspace: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	in := filepath.Join(dir, "in.heic")
	out := filepath.Join(dir, "out.jpg")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, fmt.Errorf("heif-convert input: %w", err)
	}

	if b, err := exec.CommandContext(ctx, "heif-convert", in, out).CombinedOutput(); err != nil {
		return nil, fmt.Errorf("heif-convert: %w: %s", err, bytes.TrimSpace(b))
	}

	f, err := os.Open(out)
	if err != nil {
		return nil, fmt.Errorf("heif-convert output: %w", err)
	}
	defer func() { _ = f.Close() }()
	return jpeg.Decode(f)
}

// stdImageStrategy covers the formats the standard library registers.
type stdImageStrategy struct{}

func (stdImageStrategy) Name() string { return "stdimage" }

func (stdImageStrategy) Handles(encoding string) bool {
	return encoding == "jpeg" || encoding == "png"
}

func (stdImageStrategy) Available() bool { return true }

func (stdImageStrategy) Decode(_ context.Context, data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

type webpStrategy struct{}

func (webpStrategy) Name() string { return "webp" }

func (webpStrategy) Handles(encoding string) bool { return encoding == "webp" }

func (webpStrategy) Available() bool { return true }

func (webpStrategy) Decode(_ context.Context, data []byte) (image.Image, error) {
	return webp.Decode(bytes.NewReader(data))
}
