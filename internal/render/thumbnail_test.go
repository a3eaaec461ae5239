package render

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"previewd/internal/config"
	"previewd/internal/models"
)

func testRenderer(t *testing.T, mutate func(*config.RenderConfig)) *Renderer {
	t.Helper()
	cfg := config.Default().Render
	if mutate != nil {
		mutate(&cfg)
	}
	return New(&cfg, zap.NewNop())
}

func encodedPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{uint8((x * 7) % 256), uint8((y * 13) % 256), 200, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func thumbnailOpts(fit models.FitMode) models.PreviewOptions {
	return NormalizeOptions(models.PreviewOptions{Fit: fit, Format: "png"}, models.PreviewTypeThumbnail)
}

func TestRenderContainPreservesAspectRatio(t *testing.T) {
	r := testRenderer(t, nil)

	// 800x400 into a 200x200 box: the long edge wins, 200x100.
	result, err := r.RenderImage(context.Background(), encodedPNG(t, 800, 400), thumbnailOpts(models.FitContain), "image/png")
	require.NoError(t, err)
	require.NotNil(t, result.Metadata.Dimensions)
	assert.Equal(t, 200, result.Metadata.Dimensions.Width)
	assert.Equal(t, 100, result.Metadata.Dimensions.Height)
	assert.Equal(t, "image/png", result.ContentType)
}

func TestRenderCoverFillsBox(t *testing.T) {
	r := testRenderer(t, nil)

	result, err := r.RenderImage(context.Background(), encodedPNG(t, 800, 400), thumbnailOpts(models.FitCover), "image/png")
	require.NoError(t, err)
	assert.Equal(t, 200, result.Metadata.Dimensions.Width)
	assert.Equal(t, 200, result.Metadata.Dimensions.Height)
}

func TestRenderFillStretchesToBox(t *testing.T) {
	r := testRenderer(t, nil)

	result, err := r.RenderImage(context.Background(), encodedPNG(t, 800, 400), thumbnailOpts(models.FitFill), "image/png")
	require.NoError(t, err)
	assert.Equal(t, 200, result.Metadata.Dimensions.Width)
	assert.Equal(t, 200, result.Metadata.Dimensions.Height)
}

func TestRenderNeverUpscales(t *testing.T) {
	r := testRenderer(t, nil)

	// A 100x50 source stays 100x50 in a 200x200 contain box.
	result, err := r.RenderImage(context.Background(), encodedPNG(t, 100, 50), thumbnailOpts(models.FitContain), "image/png")
	require.NoError(t, err)
	assert.Equal(t, 100, result.Metadata.Dimensions.Width)
	assert.Equal(t, 50, result.Metadata.Dimensions.Height)

	// Cover and fill clamp each axis to the source instead.
	result, err = r.RenderImage(context.Background(), encodedPNG(t, 100, 50), thumbnailOpts(models.FitCover), "image/png")
	require.NoError(t, err)
	assert.Equal(t, 100, result.Metadata.Dimensions.Width)
	assert.Equal(t, 50, result.Metadata.Dimensions.Height)
}

func TestRenderOutputFormats(t *testing.T) {
	r := testRenderer(t, nil)
	src := encodedPNG(t, 64, 64)

	tests := []struct {
		format   string
		wantType string
	}{
		{"jpeg", "image/jpeg"},
		{"jpg", "image/jpeg"},
		{"png", "image/png"},
		{"webp", "image/webp"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			opts := NormalizeOptions(models.PreviewOptions{Format: tt.format}, models.PreviewTypeThumbnail)
			result, err := r.RenderImage(context.Background(), src, opts, "image/png")
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, result.ContentType)
			assert.Equal(t, int64(len(result.Data)), result.Metadata.FileSize)
			assert.Len(t, result.Metadata.Checksum, 64)
		})
	}

	opts := NormalizeOptions(models.PreviewOptions{Format: "bmp"}, models.PreviewTypeThumbnail)
	_, err := r.RenderImage(context.Background(), src, opts, "image/png")
	require.Error(t, err)
	assert.Equal(t, models.ReasonEncodeFailed, models.AsError(err).Reason)
}

func TestRenderOutputCeiling(t *testing.T) {
	r := testRenderer(t, func(cfg *config.RenderConfig) {
		cfg.MaxOutputBytes = 128
	})

	_, err := r.RenderImage(context.Background(), encodedPNG(t, 400, 400), thumbnailOpts(models.FitContain), "image/png")
	require.Error(t, err)
	assert.Equal(t, models.ReasonOutputTooLarge, models.AsError(err).Reason)
}

func TestRenderSVGIsUnsupported(t *testing.T) {
	r := testRenderer(t, nil)

	_, err := r.RenderImage(context.Background(), []byte(`<svg xmlns="http://www.w3.org/2000/svg"/>`),
		thumbnailOpts(models.FitContain), "image/svg+xml")
	require.Error(t, err)
	assert.Equal(t, models.ReasonUnsupportedType, models.AsError(err).Reason)
}

func TestRenderWatermarkChangesPixels(t *testing.T) {
	r := testRenderer(t, func(cfg *config.RenderConfig) {
		cfg.WatermarkText = "PREVIEW"
	})
	src := encodedPNG(t, 400, 300)

	plain := NormalizeOptions(models.PreviewOptions{Format: "png"}, models.PreviewTypeThumbnail)
	marked := plain
	marked.Watermark = true

	plainResult, err := r.RenderImage(context.Background(), src, plain, "image/png")
	require.NoError(t, err)
	markedResult, err := r.RenderImage(context.Background(), src, marked, "image/png")
	require.NoError(t, err)

	assert.NotEqual(t, plainResult.Metadata.Checksum, markedResult.Metadata.Checksum)
	assert.Equal(t, plainResult.Metadata.Dimensions, markedResult.Metadata.Dimensions)
}

func TestRenderCancelledContext(t *testing.T) {
	r := testRenderer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.RenderImage(ctx, encodedPNG(t, 64, 64), thumbnailOpts(models.FitContain), "image/png")
	require.Error(t, err)
	assert.True(t, models.AsError(err).Retryable)
}

func TestNormalizeOptions(t *testing.T) {
	opts := NormalizeOptions(models.PreviewOptions{}, models.PreviewTypeThumbnail)
	assert.Equal(t, 200, opts.Width)
	assert.Equal(t, 200, opts.Height)
	assert.Equal(t, 85, opts.Quality)
	assert.Equal(t, "jpeg", opts.Format)
	assert.Equal(t, models.FitContain, opts.Fit)
	assert.Equal(t, 1, opts.Page)

	full := NormalizeOptions(models.PreviewOptions{}, models.PreviewTypeFull)
	assert.Equal(t, 1024, full.Width)
	assert.Equal(t, 1024, full.Height)

	clamped := NormalizeOptions(models.PreviewOptions{Quality: 100}, models.PreviewTypeThumbnail)
	assert.Equal(t, 95, clamped.Quality)
}

func TestRenderPDFPlaceholder(t *testing.T) {
	r := testRenderer(t, nil)

	doc := []byte("%PDF-1.4\n" +
		"1 0 obj << /Type /Page /Parent 3 0 R >> endobj\n" +
		"2 0 obj << /Type /Page /Parent 3 0 R >> endobj\n" +
		"3 0 obj << /Type /Pages /Count 2 >> endobj\n" +
		"%%EOF\n")

	opts := NormalizeOptions(models.PreviewOptions{Page: 2, Format: "png"}, models.PreviewTypeThumbnail)
	result, err := r.RenderPDFPreview(context.Background(), doc, opts)
	require.NoError(t, err)

	assert.Equal(t, "image/png", result.ContentType)
	assert.Equal(t, 2, result.Metadata.PageCount)
	assert.Equal(t, 200, result.Metadata.Dimensions.Width)

	// The placeholder decodes as a real PNG.
	img, err := png.Decode(bytes.NewReader(result.Data))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
}

func TestRenderPDFPageClamped(t *testing.T) {
	r := testRenderer(t, nil)
	doc := []byte("%PDF-1.4\n1 0 obj << /Type /Page >> endobj\n%%EOF\n")

	opts := NormalizeOptions(models.PreviewOptions{Page: 99, Format: "png"}, models.PreviewTypeThumbnail)
	result, err := r.RenderPDFPreview(context.Background(), doc, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Metadata.PageCount)
}

func TestTargetSize(t *testing.T) {
	tests := []struct {
		name         string
		srcW, srcH   int
		boxW, boxH   int
		fit          models.FitMode
		wantW, wantH int
	}{
		{"wide contain", 800, 400, 200, 200, models.FitContain, 200, 100},
		{"tall contain", 400, 800, 200, 200, models.FitContain, 100, 200},
		{"small source contain", 50, 30, 200, 200, models.FitContain, 50, 30},
		{"cover clamps", 150, 400, 200, 200, models.FitCover, 150, 200},
		{"fill exact", 800, 400, 320, 240, models.FitFill, 320, 240},
		{"degenerate thin", 2000, 1, 200, 200, models.FitContain, 200, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := targetSize(tt.srcW, tt.srcH, tt.boxW, tt.boxH, tt.fit)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}
