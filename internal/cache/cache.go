// Package cache provides a small key/value cache with in-process and redis backends.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/coocood/freecache"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cacher stores msgpack-encoded values with a TTL.
type Cacher interface {
	Get(ctx context.Context, key string, value any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Config selects the backend: redis when RedisAddr is set, memory otherwise.
type Config struct {
	MaxSize       int // bytes, memory backend
	RedisAddr     string
	RedisPassword string
	Prefix        string
}

// New builds a Cacher for cfg.
func New(cfg Config) Cacher {
	if cfg.RedisAddr == "" {
		return NewMemory(cfg.MaxSize, cfg.Prefix)
	}
	return NewRedis(redis.NewClient(&redis.Options{
		Addr:            cfg.RedisAddr,
		Password:        cfg.RedisPassword,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolSize:        10,
		MinIdleConns:    2,
		ConnMaxIdleTime: 5 * time.Minute,
	}), cfg.Prefix)
}

// Memory is a freecache-backed Cacher.
type Memory struct {
	cache  *freecache.Cache
	prefix string
}

// NewMemory allocates a cache of size bytes (freecache enforces a 512 KiB minimum).
func NewMemory(size int, prefix string) *Memory {
	return &Memory{cache: freecache.NewCache(size), prefix: prefix}
}

func (m *Memory) Get(_ context.Context, key string, value any) error {
	data, err := m.cache.Get([]byte(m.prefix + key))
	if errors.Is(err, freecache.ErrNotFound) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(data, value)
}

func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	secs := int(ttl / time.Second)
	if secs <= 0 {
		return nil
	}
	return m.cache.Set([]byte(m.prefix+key), data, secs)
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		m.cache.Del([]byte(m.prefix + key))
	}
	return nil
}

// Redis is a go-redis backed Cacher shared between server replicas.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Get(ctx context.Context, key string, value any) error {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(data, value)
}

func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.prefix+key, data, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.prefix + k
	}
	return r.client.Del(ctx, full...).Err()
}

// Close releases the redis connection pool.
func (r *Redis) Close() error { return r.client.Close() }

// Nop caches nothing.
type Nop struct{}

func (Nop) Get(context.Context, string, any) error                { return ErrMiss }
func (Nop) Set(context.Context, string, any, time.Duration) error { return nil }
func (Nop) Delete(context.Context, ...string) error               { return nil }
