package models

import "time"

type PreviewType string

const (
	PreviewTypeThumbnail PreviewType = "thumbnail"
	PreviewTypeFull      PreviewType = "full"
)

type FitMode string

const (
	FitContain FitMode = "contain" // scale to fit inside box, aspect ratio kept
	FitCover   FitMode = "cover"   // scale to fill box, overflow cropped
	FitFill    FitMode = "fill"    // force exact box, aspect ratio ignored
)

// PreviewOptions shapes the rendered artifact. Zero values mean
// "use the defaults for the preview type".
type PreviewOptions struct {
	Width     int     `json:"width,omitempty" yaml:"width"`
	Height    int     `json:"height,omitempty" yaml:"height"`
	Quality   int     `json:"quality,omitempty" yaml:"quality"`
	Format    string  `json:"format,omitempty" yaml:"format"`
	Fit       FitMode `json:"fit,omitempty" yaml:"fit"`
	Page      int     `json:"page,omitempty" yaml:"page"`
	Watermark bool    `json:"watermark,omitempty" yaml:"watermark"`
}

// PreviewRequest is the caller input. The file URL is an opaque
// reference resolved by the orchestrator, e.g. "store://bucket/key".
type PreviewRequest struct {
	FileURL     string         `json:"fileUrl"`
	UserID      string         `json:"userId"`
	PreviewType PreviewType    `json:"previewType"`
	Options     PreviewOptions `json:"options"`
}

type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FileMetadata describes the rendered artifact plus what we learned
// about the source while producing it.
type FileMetadata struct {
	Filename     string      `json:"filename"`
	ContentType  string      `json:"contentType"`
	FileSize     int64       `json:"fileSize"`
	Dimensions   *Dimensions `json:"dimensions,omitempty"`
	PageCount    int         `json:"pageCount,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	LastModified time.Time   `json:"lastModified"`
	Checksum     string      `json:"checksum"`
}

// CacheEntry is the index row for one request shape. An entry existing
// implies the artifact blobs exist: blob writes happen before the
// index write.
type CacheEntry struct {
	CacheKey     string       `json:"cacheKey"`
	SourceURL    string       `json:"sourceUrl"`
	PreviewURL   string       `json:"previewUrl,omitempty"`
	ThumbnailURL string       `json:"thumbnailUrl,omitempty"`
	Metadata     FileMetadata `json:"metadata"`
	CreatedAt    time.Time    `json:"createdAt"`
	ExpiresAt    time.Time    `json:"expiresAt"`
	AccessCount  int64        `json:"accessCount"`
	LastAccessed time.Time    `json:"lastAccessed"`
}

// Expired reports whether the entry is past its TTL at the given time.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
