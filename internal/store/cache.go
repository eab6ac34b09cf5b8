package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// EntityCache stores opaque source payloads by entity id. Discovery
// sources use it opportunistically; a cache error never fails a fetch.
type EntityCache interface {
	GetEntity(ctx context.Context, entityID string) ([]byte, bool, error)
	PutEntity(ctx context.Context, entityID string, data []byte, ttl time.Duration) error
}

var (
	_ EntityCache = (*SQLiteStore)(nil)
	_ EntityCache = (*PostgresStore)(nil)
	_ EntityCache = (*MemoryCache)(nil)
	_ EntityCache = (*RedisCache)(nil)
)

// MemoryCache is an in-process EntityCache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryCache returns an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) GetEntity(_ context.Context, entityID string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[entityID]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !now().Before(e.expiresAt) {
		delete(c.entries, entityID)
		return nil, false, nil
	}
	return append([]byte(nil), e.data...), true, nil
}

func (c *MemoryCache) PutEntity(_ context.Context, entityID string, data []byte, ttl time.Duration) error {
	e := memoryEntry{data: append([]byte(nil), data...)}
	if ttl > 0 {
		e.expiresAt = now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[entityID] = e
	c.mu.Unlock()
	return nil
}

const redisKeyPrefix = "grants:entity:"

// RedisCache is an EntityCache shared between processes.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, eris.Wrapf(err, "redis: ping %s", addr)
	}
	zap.L().Info("redis: entity cache connected", zap.String("addr", addr))
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) GetEntity(ctx context.Context, entityID string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, redisKeyPrefix+entityID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "redis: get %s", entityID)
	}
	return data, true, nil
}

// PutEntity stores data; a zero ttl keeps the key without expiry.
func (c *RedisCache) PutEntity(ctx context.Context, entityID string, data []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return eris.Wrapf(c.client.Set(ctx, redisKeyPrefix+entityID, data, ttl).Err(), "redis: set %s", entityID)
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
