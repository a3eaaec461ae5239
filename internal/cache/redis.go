package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"previewd/internal/models"
)

const (
	redisEntryPrefix  = "previewd:idx:"
	redisAccessPrefix = "previewd:acc:"
	redisSourcePrefix = "previewd:src:"
)

// RedisIndex is the multi-instance Index. Entry rows get a native
// TTL; SET NX gives first-writer-wins on racing renders. Access
// bookkeeping lives in a separate counter key so touches never
// rewrite the entry row.
type RedisIndex struct {
	client *redis.Client
}

func NewRedisIndex(client *redis.Client) *RedisIndex {
	return &RedisIndex{client: client}
}

func (r *RedisIndex) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	pipe := r.client.Pipeline()
	entryCmd := pipe.Get(ctx, redisEntryPrefix+key)
	accCmd := pipe.HGetAll(ctx, redisAccessPrefix+key)
	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("index get: %w", err)
	}

	raw, err := entryCmd.Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index get: %w", err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("index entry decode: %w", err)
	}

	if acc := accCmd.Val(); len(acc) > 0 {
		if n, err := strconv.ParseInt(acc["count"], 10, 64); err == nil {
			entry.AccessCount = n
		}
		if ts, err := strconv.ParseInt(acc["last"], 10, 64); err == nil {
			entry.LastAccessed = time.Unix(ts, 0).UTC()
		}
	}
	return &entry, nil
}

func (r *RedisIndex) PutIfAbsent(ctx context.Context, entry *models.CacheEntry, ttl time.Duration) (*models.CacheEntry, bool, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, false, fmt.Errorf("index entry encode: %w", err)
	}

	stored, err := r.client.SetNX(ctx, redisEntryPrefix+entry.CacheKey, raw, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("index put: %w", err)
	}
	if !stored {
		existing, err := r.Get(ctx, entry.CacheKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
		// Entry expired between SetNX and Get; treat ours as stored.
	}

	srcKey := redisSourcePrefix + SourceKey(entry.SourceURL)
	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, srcKey, entry.CacheKey)
	pipe.Expire(ctx, srcKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, false, fmt.Errorf("source index update: %w", err)
	}

	return entry, true, nil
}

func (r *RedisIndex) Delete(ctx context.Context, key string) error {
	entry, err := r.Get(ctx, key)
	if err != nil {
		return err
	}

	pipe := r.client.Pipeline()
	pipe.Del(ctx, redisEntryPrefix+key, redisAccessPrefix+key)
	if entry != nil {
		pipe.SRem(ctx, redisSourcePrefix+SourceKey(entry.SourceURL), key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index delete: %w", err)
	}
	return nil
}

func (r *RedisIndex) Touch(ctx context.Context, key string, at time.Time) error {
	accKey := redisAccessPrefix + key
	pipe := r.client.Pipeline()
	pipe.HIncrBy(ctx, accKey, "count", 1)
	pipe.HSet(ctx, accKey, "last", at.Unix())
	pipe.Expire(ctx, accKey, 48*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index touch: %w", err)
	}
	return nil
}

func (r *RedisIndex) KeysForFile(ctx context.Context, fileURL string) ([]string, error) {
	keys, err := r.client.SMembers(ctx, redisSourcePrefix+SourceKey(fileURL)).Result()
	if err != nil {
		return nil, fmt.Errorf("source index read: %w", err)
	}
	return keys, nil
}

func (r *RedisIndex) Entries(ctx context.Context) ([]*models.CacheEntry, error) {
	var out []*models.CacheEntry
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, redisEntryPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("index scan: %w", err)
		}
		for _, fullKey := range keys {
			entry, err := r.Get(ctx, fullKey[len(redisEntryPrefix):])
			if err != nil {
				return nil, err
			}
			if entry != nil {
				out = append(out, entry)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}
