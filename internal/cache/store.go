package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"previewd/internal/models"
	"previewd/internal/storage"
)

// Store glues the blob storage and the index together. The read path
// is synchronous and never blocks on bookkeeping; access counts are
// bumped fire-and-forget with failures logged only.
type Store struct {
	index      Index
	blobs      storage.BlobStorage
	defaultTTL time.Duration
	topN       int
	logger     *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

func NewStore(index Index, blobs storage.BlobStorage, defaultTTL time.Duration, topN int, logger *zap.Logger) *Store {
	if topN <= 0 {
		topN = 10
	}
	return &Store{
		index:      index,
		blobs:      blobs,
		defaultTTL: defaultTTL,
		topN:       topN,
		logger:     logger,
	}
}

// Get returns the cached entry or nil on a miss. An entry past its
// expiry is treated as absent and its deletion is scheduled; the
// caller never sees it.
func (s *Store) Get(ctx context.Context, key string) *models.CacheEntry {
	entry, err := s.index.Get(ctx, key)
	if err != nil {
		// An unreadable index degrades to a miss: re-rendering is
		// safe, returning a failure for a cacheable request is not.
		s.logger.Warn("cache index read failed, treating as miss", zap.String("key", key), zap.Error(err))
		s.misses.Add(1)
		return nil
	}
	if entry == nil {
		s.misses.Add(1)
		return nil
	}

	now := time.Now().UTC()
	if entry.Expired(now) {
		s.misses.Add(1)
		go s.reap(key)
		return nil
	}

	s.hits.Add(1)
	go s.touch(key, now)
	return entry
}

// touch runs off the read path with its own deadline.
func (s *Store) touch(key string, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.index.Touch(ctx, key, at); err != nil {
		s.logger.Warn("cache access bookkeeping failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Store) reap(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Delete(ctx, key); err != nil {
		s.logger.Warn("expired entry cleanup failed", zap.String("key", key), zap.Error(err))
	}
}

// Put persists the artifact blob, then the index row: an index entry
// existing implies the blob exists. When another instance won the
// race on the same key, its entry is adopted and ours is discarded;
// the blob key is deterministic, so the losing write is idempotent.
func (s *Store) Put(ctx context.Context, key, sourceURL string, previewType models.PreviewType, data []byte, md models.FileMetadata, ttl time.Duration) (*models.CacheEntry, error) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	url, err := s.blobs.Put(ctx, ArtifactKey(key, md.ContentType), data, md.ContentType)
	if err != nil {
		return nil, models.NewCacheError(models.ReasonBlobWriteFailed, "artifact write failed", err)
	}

	now := time.Now().UTC()
	entry := &models.CacheEntry{
		CacheKey:     key,
		SourceURL:    sourceURL,
		Metadata:     md,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		LastAccessed: now,
	}
	if previewType == models.PreviewTypeThumbnail {
		entry.ThumbnailURL = url
	} else {
		entry.PreviewURL = url
	}

	winner, stored, err := s.index.PutIfAbsent(ctx, entry, ttl)
	if err != nil {
		return nil, models.NewCacheError(models.ReasonIndexWriteFailed, "index write failed", err)
	}
	if !stored {
		s.logger.Debug("lost render race, adopting existing entry", zap.String("key", key))
	}
	return winner, nil
}

// Delete removes the index row and the artifact blob.
func (s *Store) Delete(ctx context.Context, key string) error {
	entry, err := s.index.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("lookup before delete: %w", err)
	}

	if err := s.index.Delete(ctx, key); err != nil {
		return fmt.Errorf("index delete: %w", err)
	}

	if entry != nil {
		blobKey := ArtifactKey(key, entry.Metadata.ContentType)
		if err := s.blobs.Delete(ctx, blobKey); err != nil {
			// The index row is already gone; an orphaned blob is
			// invisible and harmless, so log and move on.
			s.logger.Warn("artifact blob delete failed", zap.String("key", blobKey), zap.Error(err))
		}
	}
	return nil
}

// InvalidateFile removes every cache entry derived from the source
// file. Per-entry failures are collected, not fatal.
func (s *Store) InvalidateFile(ctx context.Context, fileURL string) (int, error) {
	keys, err := s.index.KeysForFile(ctx, fileURL)
	if err != nil {
		return 0, fmt.Errorf("source index lookup: %w", err)
	}

	removed := 0
	var errs error
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("invalidate %s: %w", key, err))
			continue
		}
		removed++
	}
	return removed, errs
}

// CleanupExpired sweeps entries whose expiry has passed. One bad
// entry never aborts the sweep; errors are collected per item.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	entries, err := s.index.Entries(ctx)
	if err != nil {
		return 0, fmt.Errorf("index snapshot: %w", err)
	}

	now := time.Now().UTC()
	removed := 0
	var errs error
	for _, entry := range entries {
		if !entry.Expired(now) {
			continue
		}
		if err := s.Delete(ctx, entry.CacheKey); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cleanup %s: %w", entry.CacheKey, err))
			continue
		}
		removed++
	}
	return removed, errs
}

// TopEntry is one row of the most-accessed report.
type TopEntry struct {
	CacheKey     string    `json:"cacheKey"`
	SourceURL    string    `json:"sourceUrl"`
	AccessCount  int64     `json:"accessCount"`
	LastAccessed time.Time `json:"lastAccessed"`
}

// Stats is the cache statistics snapshot. The hit rate is
// per-instance and approximate.
type Stats struct {
	Entries    int        `json:"entries"`
	Hits       int64      `json:"hits"`
	Misses     int64      `json:"misses"`
	HitRate    float64    `json:"hitRate"`
	TopEntries []TopEntry `json:"topEntries"`
}

func (s *Store) Statistics(ctx context.Context) (*Stats, error) {
	entries, err := s.index.Entries(ctx)
	if err != nil {
		return nil, fmt.Errorf("index snapshot: %w", err)
	}

	now := time.Now().UTC()
	live := entries[:0]
	for _, e := range entries {
		if !e.Expired(now) {
			live = append(live, e)
		}
	}

	sort.Slice(live, func(i, j int) bool {
		return live[i].AccessCount > live[j].AccessCount
	})

	top := make([]TopEntry, 0, s.topN)
	for i, e := range live {
		if i == s.topN {
			break
		}
		top = append(top, TopEntry{
			CacheKey:     e.CacheKey,
			SourceURL:    e.SourceURL,
			AccessCount:  e.AccessCount,
			LastAccessed: e.LastAccessed,
		})
	}

	hits, misses := s.hits.Load(), s.misses.Load()
	rate := 0.0
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}

	return &Stats{
		Entries:    len(live),
		Hits:       hits,
		Misses:     misses,
		HitRate:    rate,
		TopEntries: top,
	}, nil
}

// StartCleanupLoop sweeps expired entries on an interval until the
// context is cancelled.
func (s *Store) StartCleanupLoop(ctx context.Context, every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := s.CleanupExpired(ctx)
				if err != nil {
					s.logger.Warn("cache cleanup finished with errors", zap.Int("removed", removed), zap.Error(err))
				} else if removed > 0 {
					s.logger.Info("cache cleanup", zap.Int("removed", removed))
				}
			}
		}
	}()
}

// ArtifactKey maps a cache key to the blob key for its rendered
// artifact, e.g. "thumbnail/ab/<digest>.jpg".
func ArtifactKey(cacheKey, contentType string) string {
	return strings.ReplaceAll(cacheKey, ":", "/") + extFor(contentType)
}

func extFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
