package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type memoryCache struct {
	c *gocache.Cache
}

func NewMemoryCache(defaultTTL time.Duration) Cache {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &memoryCache{c: gocache.New(defaultTTL, defaultTTL*2)}
}

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

func (m *memoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.c.Set(key, value, ttl)
	return nil
}

func (m *memoryCache) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

func (m *memoryCache) Clear(_ context.Context) error {
	m.c.Flush()
	return nil
}

func (m *memoryCache) Close() error { return nil }
