package cache

import (
	"context"
	"sync"
	"time"

	"previewd/internal/models"
)

// Index is the fast key-value side of the cache: one row per request
// shape, plus a secondary index from source file to derived entries.
// Implementations must give PutIfAbsent first-writer-wins semantics
// so two instances racing on the same key do not double-publish.
type Index interface {
	// Get returns the entry or (nil, nil) when absent. Expired entries
	// may still be returned; lazy expiry is the Store's job.
	Get(ctx context.Context, key string) (*models.CacheEntry, error)
	// PutIfAbsent stores the entry unless one already exists. It
	// returns the winning entry and whether ours was stored.
	PutIfAbsent(ctx context.Context, entry *models.CacheEntry, ttl time.Duration) (*models.CacheEntry, bool, error)
	Delete(ctx context.Context, key string) error
	// Touch bumps access bookkeeping. Best effort; the Store calls it
	// off the read path.
	Touch(ctx context.Context, key string, at time.Time) error
	// KeysForFile lists cache keys derived from the source file.
	KeysForFile(ctx context.Context, fileURL string) ([]string, error)
	// Entries snapshots the index for cleanup and statistics.
	Entries(ctx context.Context) ([]*models.CacheEntry, error)
}

// MemoryIndex is the single-node Index. TTL is enforced lazily by the
// Store; Entries still reports expired rows so cleanup can sweep them.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]*models.CacheEntry
	bySrc   map[string]map[string]struct{}
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		entries: make(map[string]*models.CacheEntry),
		bySrc:   make(map[string]map[string]struct{}),
	}
}

func (m *MemoryIndex) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	clone := *e
	return &clone, nil
}

func (m *MemoryIndex) PutIfAbsent(ctx context.Context, entry *models.CacheEntry, ttl time.Duration) (*models.CacheEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.entries[entry.CacheKey]; ok && !existing.Expired(time.Now()) {
		clone := *existing
		return &clone, false, nil
	}

	clone := *entry
	m.entries[entry.CacheKey] = &clone

	src := SourceKey(entry.SourceURL)
	if m.bySrc[src] == nil {
		m.bySrc[src] = make(map[string]struct{})
	}
	m.bySrc[src][entry.CacheKey] = struct{}{}

	result := clone
	return &result, true, nil
}

func (m *MemoryIndex) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	delete(m.entries, key)

	src := SourceKey(e.SourceURL)
	if set, ok := m.bySrc[src]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(m.bySrc, src)
		}
	}
	return nil
}

func (m *MemoryIndex) Touch(ctx context.Context, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok {
		e.AccessCount++
		e.LastAccessed = at
	}
	return nil
}

func (m *MemoryIndex) KeysForFile(ctx context.Context, fileURL string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.bySrc[SourceKey(fileURL)]
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *MemoryIndex) Entries(ctx context.Context) ([]*models.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.CacheEntry, 0, len(m.entries))
	for _, e := range m.entries {
		clone := *e
		out = append(out, &clone)
	}
	return out, nil
}
