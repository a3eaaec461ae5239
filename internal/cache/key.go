package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"previewd/internal/models"
)

// Key derives the deterministic cache key for a request shape. It is
// a pure function of (fileURL, userID, previewType, options), stable
// across restarts: the serialization below is canonical, so any field
// change produces a different key. The short shard prefix spreads
// entries across index partitions.
func Key(fileURL, userID string, previewType models.PreviewType, opts models.PreviewOptions) string {
	payload := fmt.Sprintf("%s|%s|%s|%dx%d|q%d|f=%s|fit=%s|p%d|wm=%t",
		fileURL, userID, previewType,
		opts.Width, opts.Height, opts.Quality, opts.Format, opts.Fit, opts.Page, opts.Watermark)

	sum := sha256.Sum256([]byte(payload))
	digest := hex.EncodeToString(sum[:])
	return fmt.Sprintf("%s:%s:%s", previewType, digest[:2], digest)
}

// SourceKey derives the secondary index key that groups all cache
// entries rendered from one source file, for invalidation.
func SourceKey(fileURL string) string {
	sum := sha256.Sum256([]byte(fileURL))
	return hex.EncodeToString(sum[:16])
}
