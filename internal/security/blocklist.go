package security

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Blocklist answers membership checks for banned source IPs.
type Blocklist interface {
	Contains(ctx context.Context, ip string) (bool, error)
	Add(ctx context.Context, ip string) error
}

// MemoryBlocklist is a set seeded from configuration.
type MemoryBlocklist struct {
	mu  sync.RWMutex
	ips map[string]struct{}
}

func NewMemoryBlocklist(ips []string) *MemoryBlocklist {
	set := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		set[ip] = struct{}{}
	}
	return &MemoryBlocklist{ips: set}
}

func (b *MemoryBlocklist) Contains(ctx context.Context, ip string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.ips[ip]
	return ok, nil
}

func (b *MemoryBlocklist) Add(ctx context.Context, ip string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ips[ip] = struct{}{}
	return nil
}

const redisBlocklistKey = "previewd:blocklist:ips"

// RedisBlocklist shares the ban set across instances.
type RedisBlocklist struct {
	client *redis.Client
}

func NewRedisBlocklist(client *redis.Client, seed []string) (*RedisBlocklist, error) {
	b := &RedisBlocklist{client: client}
	if len(seed) > 0 {
		members := make([]interface{}, len(seed))
		for i, ip := range seed {
			members[i] = ip
		}
		if err := client.SAdd(context.Background(), redisBlocklistKey, members...).Err(); err != nil {
			return nil, fmt.Errorf("seed blocklist: %w", err)
		}
	}
	return b, nil
}

func (b *RedisBlocklist) Contains(ctx context.Context, ip string) (bool, error) {
	ok, err := b.client.SIsMember(ctx, redisBlocklistKey, ip).Result()
	if err != nil {
		return false, fmt.Errorf("blocklist check: %w", err)
	}
	return ok, nil
}

func (b *RedisBlocklist) Add(ctx context.Context, ip string) error {
	if err := b.client.SAdd(ctx, redisBlocklistKey, ip).Err(); err != nil {
		return fmt.Errorf("blocklist add: %w", err)
	}
	return nil
}
