// Package render turns validated bytes into bounded raster previews.
// Every failure is a typed, reason-coded error; callers must not
// retry automatically.
package render

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/HugoSmits86/nativewebp"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"golang.org/x/image/webp"

	"previewd/internal/config"
	"previewd/internal/models"
)

const (
	defaultThumbnailBox = 200
	defaultFullBox      = 1024
	defaultQuality      = 85
	maxQuality          = 95
)

// Result is one rendered artifact.
type Result struct {
	Data        []byte
	ContentType string
	Metadata    models.FileMetadata
}

type Renderer struct {
	cfg    *config.RenderConfig
	logger *zap.Logger
}

func New(cfg *config.RenderConfig, logger *zap.Logger) *Renderer {
	return &Renderer{cfg: cfg, logger: logger}
}

// NormalizeOptions fills in the defaults for the preview type. The
// normalized options feed both the renderer and the cache key, so a
// request with explicit defaults and one without hit the same entry.
func NormalizeOptions(opts models.PreviewOptions, previewType models.PreviewType) models.PreviewOptions {
	box := defaultThumbnailBox
	if previewType == models.PreviewTypeFull {
		box = defaultFullBox
	}
	if opts.Width <= 0 {
		opts.Width = box
	}
	if opts.Height <= 0 {
		opts.Height = box
	}
	if opts.Quality <= 0 {
		opts.Quality = defaultQuality
	}
	if opts.Quality > maxQuality {
		opts.Quality = maxQuality
	}
	if opts.Format == "" {
		opts.Format = "jpeg"
	}
	if opts.Fit == "" {
		opts.Fit = models.FitContain
	}
	if opts.Page <= 0 {
		opts.Page = 1
	}
	return opts
}

// RenderImage decodes, resizes under the fit mode, optionally
// watermarks, and re-encodes. Output larger than the ceiling is a
// render failure, never a truncation.
func (r *Renderer) RenderImage(ctx context.Context, data []byte, opts models.PreviewOptions, contentType string) (*Result, error) {
	src, err := decodeImage(data, contentType)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, models.NewTimeoutError(models.CategoryRender, "render cancelled", err)
	}

	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	outW, outH := targetSize(srcW, srcH, opts.Width, opts.Height, opts.Fit)

	var resized *image.NRGBA
	switch opts.Fit {
	case models.FitCover:
		resized = imaging.Fill(src, outW, outH, imaging.Center, imaging.Lanczos)
	case models.FitFill:
		resized = imaging.Resize(src, outW, outH, imaging.Lanczos)
	default: // contain
		resized = imaging.Resize(src, outW, outH, imaging.Lanczos)
	}

	if opts.Watermark {
		resized = stampWatermark(resized, r.cfg.WatermarkText)
	}

	encoded, outType, err := encodeImage(resized, opts.Format, opts.Quality)
	if err != nil {
		return nil, err
	}
	if int64(len(encoded)) > r.cfg.MaxOutputBytes {
		return nil, models.NewRenderError(models.ReasonOutputTooLarge,
			fmt.Sprintf("rendered output is %d bytes, ceiling is %d", len(encoded), r.cfg.MaxOutputBytes), nil)
	}

	sum := sha256.Sum256(encoded)
	now := time.Now().UTC()
	return &Result{
		Data:        encoded,
		ContentType: outType,
		Metadata: models.FileMetadata{
			ContentType:  outType,
			FileSize:     int64(len(encoded)),
			Dimensions:   &models.Dimensions{Width: outW, Height: outH},
			CreatedAt:    now,
			LastModified: now,
			Checksum:     hex.EncodeToString(sum[:]),
		},
	}, nil
}

func decodeImage(data []byte, contentType string) (image.Image, error) {
	base := strings.ToLower(strings.Split(contentType, ";")[0])

	if base == "image/svg+xml" {
		// Rasterizing SVG means executing a document format; out of
		// scope for this renderer.
		return nil, models.NewRenderError(models.ReasonUnsupportedType,
			"SVG sources are validated but not rasterized", nil)
	}

	var img image.Image
	var err error
	if base == "image/webp" {
		img, err = webp.Decode(bytes.NewReader(data))
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, models.NewRenderError(models.ReasonDecodeFailed, "image decode failed", err)
	}
	return img, nil
}

// targetSize maps the source aspect ratio into the requested box under
// the fit mode. It never upscales beyond the source.
func targetSize(srcW, srcH, boxW, boxH int, fit models.FitMode) (int, int) {
	switch fit {
	case models.FitCover, models.FitFill:
		outW, outH := boxW, boxH
		if outW > srcW {
			outW = srcW
		}
		if outH > srcH {
			outH = srcH
		}
		return outW, outH
	default: // contain
		scale := minf(float64(boxW)/float64(srcW), float64(boxH)/float64(srcH))
		if scale > 1 {
			scale = 1
		}
		outW := int(float64(srcW)*scale + 0.5)
		outH := int(float64(srcH)*scale + 0.5)
		if outW < 1 {
			outW = 1
		}
		if outH < 1 {
			outH = 1
		}
		return outW, outH
	}
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func encodeImage(img image.Image, format string, quality int) ([]byte, string, error) {
	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, "", models.NewRenderError(models.ReasonEncodeFailed, "jpeg encode failed", err)
		}
		return buf.Bytes(), "image/jpeg", nil
	case "png":
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, "", models.NewRenderError(models.ReasonEncodeFailed, "png encode failed", err)
		}
		return buf.Bytes(), "image/png", nil
	case "webp":
		if err := nativewebp.Encode(&buf, img, nil); err != nil {
			return nil, "", models.NewRenderError(models.ReasonEncodeFailed, "webp encode failed", err)
		}
		return buf.Bytes(), "image/webp", nil
	default:
		return nil, "", models.NewRenderError(models.ReasonEncodeFailed,
			"unsupported output format "+format, nil)
	}
}
