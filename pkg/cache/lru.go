package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// lruCache bounds memory by entry count. Entries share one TTL fixed at
// construction, so the per-call ttl is ignored.
type lruCache struct {
	l *expirable.LRU[string, []byte]
}

func NewLRUCache(size int, ttl time.Duration) Cache {
	if size <= 0 {
		size = 10000
	}
	return &lruCache{l: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (c *lruCache) Get(_ context.Context, key string) ([]byte, bool) {
	return c.l.Get(key)
}

func (c *lruCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.l.Add(key, value)
	return nil
}

func (c *lruCache) Delete(_ context.Context, key string) error {
	c.l.Remove(key)
	return nil
}

func (c *lruCache) Clear(_ context.Context) error {
	c.l.Purge()
	return nil
}

func (c *lruCache) Close() error { return nil }
