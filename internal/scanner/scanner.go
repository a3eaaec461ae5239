// Package scanner verifies that file bytes are what the declared
// content type says they are, before any decoder touches them. It
// fails closed: a mismatch or an injection pattern rejects the file
// outright, never a partial render.
package scanner

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/webp"

	"previewd/internal/config"
	"previewd/internal/models"
)

// Result carries the non-blocking warnings a clean scan may still
// produce (e.g. a PDF with form fields).
type Result struct {
	Warnings []models.Violation
}

type Scanner struct {
	cfg *config.ScannerConfig
}

func New(cfg *config.ScannerConfig) *Scanner {
	return &Scanner{cfg: cfg}
}

var scriptPatterns = [][]byte{
	[]byte("<script"),
	[]byte("javascript:"),
	[]byte("eval("),
}

// Magic byte prefixes per declared type. WEBP, SVG and PDF need more
// than a prefix check and are handled separately.
var magicPrefixes = map[string][]byte{
	"image/jpeg": {0xFF, 0xD8, 0xFF},
	"image/png":  {0x89, 0x50, 0x4E, 0x47},
	"image/gif":  {0x47, 0x49, 0x46},
}

// Scan validates data against the declared content type. A nil error
// means the file may be handed to the renderer.
func (s *Scanner) Scan(data []byte, declaredType string) (*Result, error) {
	if int64(len(data)) > s.cfg.MaxInputBytes {
		return nil, models.NewRenderError(models.ReasonInputTooLarge,
			fmt.Sprintf("input is %d bytes, ceiling is %d", len(data), s.cfg.MaxInputBytes), nil)
	}

	base := strings.ToLower(strings.TrimSpace(strings.Split(declaredType, ";")[0]))

	if err := s.checkMagic(data, base); err != nil {
		return nil, err
	}

	switch {
	case base == "application/pdf":
		return s.scanPDF(data)
	case base == "image/svg+xml" || strings.HasPrefix(base, "text/") || base == "application/json":
		if err := checkScriptPatterns(data); err != nil {
			return nil, err
		}
		return &Result{}, nil
	case strings.HasPrefix(base, "image/"):
		if err := s.checkImageBounds(data); err != nil {
			return nil, err
		}
		return &Result{}, nil
	default:
		return nil, models.NewRenderError(models.ReasonUnsupportedType,
			"no scanner for content type "+declaredType, nil)
	}
}

func (s *Scanner) checkMagic(data []byte, base string) error {
	mismatch := func() error {
		return models.NewRenderError(models.ReasonMagicMismatch,
			"file bytes do not match declared type "+base, nil)
	}

	if prefix, ok := magicPrefixes[base]; ok {
		if !bytes.HasPrefix(data, prefix) {
			return mismatch()
		}
		return nil
	}

	switch base {
	case "image/webp":
		// RIFF....WEBP
		if len(data) < 12 || !bytes.HasPrefix(data, []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WEBP")) {
			return mismatch()
		}
	case "image/svg+xml":
		if !bytes.Contains(data, []byte("<svg")) {
			return mismatch()
		}
	case "application/pdf":
		if !bytes.HasPrefix(data, []byte("%PDF-")) {
			return mismatch()
		}
		// %%EOF sits near the end of a well-formed file; scan the tail.
		tail := data
		if len(tail) > 1024 {
			tail = tail[len(tail)-1024:]
		}
		if !bytes.Contains(tail, []byte("%%EOF")) {
			return mismatch()
		}
	}
	return nil
}

// checkImageBounds decodes only the header and enforces dimension and
// pixel budgets, so a corrupted header cannot make the renderer
// allocate unbounded buffers.
func (s *Scanner) checkImageBounds(data []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return models.NewRenderError(models.ReasonDecodeFailed, "cannot read image header", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return models.NewRenderError(models.ReasonDecodeFailed,
			fmt.Sprintf("image bounds invalid (%d x %d)", cfg.Width, cfg.Height), nil)
	}
	if cfg.Width > s.cfg.MaxDimension || cfg.Height > s.cfg.MaxDimension {
		return models.NewRenderError(models.ReasonPixelBudget,
			fmt.Sprintf("image dimension exceeds limit (%d x %d)", cfg.Width, cfg.Height), nil)
	}
	if int64(cfg.Width)*int64(cfg.Height) > s.cfg.MaxPixels {
		return models.NewRenderError(models.ReasonPixelBudget,
			fmt.Sprintf("image pixel count %d exceeds limit %d", int64(cfg.Width)*int64(cfg.Height), s.cfg.MaxPixels), nil)
	}
	return nil
}

func checkScriptPatterns(data []byte) error {
	lowered := bytes.ToLower(data)
	for _, pattern := range scriptPatterns {
		if bytes.Contains(lowered, pattern) {
			return models.NewRenderError(models.ReasonScriptInjection,
				"content contains script injection pattern "+string(pattern), nil)
		}
	}
	return nil
}

// scanPDF hard-rejects active content. Forms and external URIs are
// warn-only: the placeholder render never follows them.
func (s *Scanner) scanPDF(data []byte) (*Result, error) {
	hardReject := [][]byte{
		[]byte("/JavaScript"),
		[]byte("/JS"),
		[]byte("/EmbeddedFile"),
	}
	for _, marker := range hardReject {
		if bytes.Contains(data, marker) {
			return nil, models.NewRenderError(models.ReasonActivePDFContent,
				"PDF contains active content marker "+string(marker), nil)
		}
	}

	result := &Result{}
	if bytes.Contains(data, []byte("/AcroForm")) {
		result.Warnings = append(result.Warnings, models.Violation{
			Type:        models.ViolationPDFForm,
			Severity:    models.SeverityLow,
			Description: "PDF contains form fields; they are not rendered",
		})
	}
	if bytes.Contains(data, []byte("/URI")) {
		result.Warnings = append(result.Warnings, models.Violation{
			Type:        models.ViolationExternalURI,
			Severity:    models.SeverityLow,
			Description: "PDF references external URIs; they are not followed",
		})
	}
	return result, nil
}
