package scanner_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"previewd/internal/config"
	"previewd/internal/models"
	"previewd/internal/scanner"
)

func newScanner(t *testing.T, mutate func(*config.ScannerConfig)) *scanner.Scanner {
	t.Helper()
	cfg := config.Default().Scanner
	if mutate != nil {
		mutate(&cfg)
	}
	return scanner.New(&cfg)
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 120, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func pdfBytes(body string) []byte {
	return []byte("%PDF-1.4\n" + body + "\n%%EOF\n")
}

func reasonOf(t *testing.T, err error) string {
	t.Helper()
	pe := models.AsError(err)
	return pe.Reason
}

func TestScanValidPNG(t *testing.T) {
	s := newScanner(t, nil)
	result, err := s.Scan(pngBytes(t, 8, 8), "image/png")
	require.NoError(t, err)
	assert.Empty(t, result.Warnings)
}

func TestScanFailsClosedOnMagicMismatch(t *testing.T) {
	s := newScanner(t, nil)

	// PDF bytes declared as JPEG must be rejected before any decode.
	_, err := s.Scan(pdfBytes("1 0 obj"), "image/jpeg")
	require.Error(t, err)
	assert.Equal(t, models.ReasonMagicMismatch, reasonOf(t, err))

	// PNG bytes declared as GIF likewise.
	_, err = s.Scan(pngBytes(t, 4, 4), "image/gif")
	require.Error(t, err)
	assert.Equal(t, models.ReasonMagicMismatch, reasonOf(t, err))
}

func TestScanMagicPrefixes(t *testing.T) {
	s := newScanner(t, nil)

	tests := []struct {
		name     string
		data     []byte
		declared string
		ok       bool
	}{
		{"jpeg header", append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 16)...), "image/jpeg", false}, // truncated body fails decode, not magic
		{"gif header", []byte("GIF89a"), "image/gif", false},
		{"webp header", append([]byte("RIFF\x00\x00\x00\x00WEBP"), make([]byte, 8)...), "image/webp", false},
		{"webp missing fourcc", []byte("RIFF\x00\x00\x00\x00AVI "), "image/webp", false},
		{"svg document", []byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg"></svg>`), "image/svg+xml", true},
		{"pdf without eof", []byte("%PDF-1.4\nno trailer"), "application/pdf", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Scan(tt.data, tt.declared)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestScanScriptInjection(t *testing.T) {
	s := newScanner(t, nil)

	tests := []struct {
		name     string
		data     string
		declared string
	}{
		{"svg with script tag", `<svg><SCRIPT>alert(1)</SCRIPT></svg>`, "image/svg+xml"},
		{"svg with javascript uri", `<svg><a href="JavaScript:alert(1)">x</a></svg>`, "image/svg+xml"},
		{"text with eval", `config = eval(payload)`, "text/plain"},
		{"json with script", `{"html":"<script src=x>"}`, "application/json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Scan([]byte(tt.data), tt.declared)
			require.Error(t, err)
			assert.Equal(t, models.ReasonScriptInjection, reasonOf(t, err))
		})
	}
}

func TestScanPDFActiveContent(t *testing.T) {
	s := newScanner(t, nil)

	for _, marker := range []string{"/JavaScript (x)", "/JS (x)", "/EmbeddedFile"} {
		_, err := s.Scan(pdfBytes("<< "+marker+" >>"), "application/pdf")
		require.Error(t, err, "marker %s must hard-reject", marker)
		assert.Equal(t, models.ReasonActivePDFContent, reasonOf(t, err))
	}
}

func TestScanPDFWarnOnlyMarkers(t *testing.T) {
	s := newScanner(t, nil)

	result, err := s.Scan(pdfBytes("<< /AcroForm 2 0 R /URI (https://example.com) >>"), "application/pdf")
	require.NoError(t, err)
	require.Len(t, result.Warnings, 2)
	for _, w := range result.Warnings {
		assert.Equal(t, models.SeverityLow, w.Severity)
	}
}

func TestScanSizeCeiling(t *testing.T) {
	s := newScanner(t, func(cfg *config.ScannerConfig) {
		cfg.MaxInputBytes = 64
	})

	data := pngBytes(t, 16, 16)
	require.Greater(t, len(data), 64)

	_, err := s.Scan(data, "image/png")
	require.Error(t, err)
	assert.Equal(t, models.ReasonInputTooLarge, reasonOf(t, err))
}

func TestScanPixelBudget(t *testing.T) {
	s := newScanner(t, func(cfg *config.ScannerConfig) {
		cfg.MaxPixels = 100
	})

	_, err := s.Scan(pngBytes(t, 20, 20), "image/png")
	require.Error(t, err)
	assert.Equal(t, models.ReasonPixelBudget, reasonOf(t, err))
}

func TestScanDimensionCeiling(t *testing.T) {
	s := newScanner(t, func(cfg *config.ScannerConfig) {
		cfg.MaxDimension = 10
	})

	_, err := s.Scan(pngBytes(t, 20, 4), "image/png")
	require.Error(t, err)
	assert.Equal(t, models.ReasonPixelBudget, reasonOf(t, err))
}
