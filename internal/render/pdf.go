package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"regexp"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"previewd/internal/models"
)

// PDFRenderer is the substitution point for a real, process-sandboxed
// PDF rasterizer. The default implementation draws a bounded
// placeholder: full PDF rendering is a large attack surface and is
// deliberately not run in-process.
type PDFRenderer interface {
	RenderPDFPreview(ctx context.Context, data []byte, opts models.PreviewOptions) (*Result, error)
}

var pdfPageMarker = regexp.MustCompile(`/Type\s*/Page[^s]`)

// RenderPDFPreview produces the placeholder raster: page number plus a
// "SECURE PREVIEW" marker on a blank page. The source bytes are only
// inspected for the page count, never interpreted.
func (r *Renderer) RenderPDFPreview(ctx context.Context, data []byte, opts models.PreviewOptions) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.NewTimeoutError(models.CategoryRender, "render cancelled", err)
	}

	pageCount := countPDFPages(data)
	page := opts.Page
	if page < 1 {
		page = 1
	}
	if page > pageCount {
		page = pageCount
	}

	canvas := placeholderPage(opts.Width, opts.Height, page, pageCount)

	encoded, outType, err := encodeImage(canvas, "png", opts.Quality)
	if err != nil {
		return nil, err
	}
	if int64(len(encoded)) > r.cfg.MaxOutputBytes {
		return nil, models.NewRenderError(models.ReasonOutputTooLarge,
			fmt.Sprintf("rendered output is %d bytes, ceiling is %d", len(encoded), r.cfg.MaxOutputBytes), nil)
	}

	bounds := canvas.Bounds()
	sum := sha256.Sum256(encoded)
	now := time.Now().UTC()
	return &Result{
		Data:        encoded,
		ContentType: outType,
		Metadata: models.FileMetadata{
			ContentType:  outType,
			FileSize:     int64(len(encoded)),
			Dimensions:   &models.Dimensions{Width: bounds.Dx(), Height: bounds.Dy()},
			PageCount:    pageCount,
			CreatedAt:    now,
			LastModified: now,
			Checksum:     hex.EncodeToString(sum[:]),
		},
	}, nil
}

func countPDFPages(data []byte) int {
	n := len(pdfPageMarker.FindAll(data, -1))
	if n < 1 {
		return 1
	}
	return n
}

func placeholderPage(width, height, page, pageCount int) *image.NRGBA {
	if width < 64 {
		width = 64
	}
	if height < 64 {
		height = 64
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.NRGBA{248, 248, 248, 255}), image.Point{}, draw.Src)

	// Thin border.
	border := color.NRGBA{180, 180, 180, 255}
	for x := 0; x < width; x++ {
		canvas.SetNRGBA(x, 0, border)
		canvas.SetNRGBA(x, height-1, border)
	}
	for y := 0; y < height; y++ {
		canvas.SetNRGBA(0, y, border)
		canvas.SetNRGBA(width-1, y, border)
	}

	drawLine := func(text string, y int) {
		face := basicfont.Face7x13
		textW := font.MeasureString(face, text).Ceil()
		x := (width - textW) / 2
		if x < 4 {
			x = 4
		}
		drawer := font.Drawer{
			Dst:  canvas,
			Src:  image.NewUniform(color.NRGBA{90, 90, 90, 255}),
			Face: face,
			Dot:  fixed.P(x, y),
		}
		drawer.DrawString(text)
	}

	drawLine("PDF", height/2-16)
	drawLine(fmt.Sprintf("page %d of %d", page, pageCount), height/2)
	drawLine("SECURE PREVIEW", height/2+16)

	return canvas
}
