package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smith3v/pdf-word-trainer/pkg/config"
)

// Cache stores opaque values with a time-to-live. Implementations are safe
// for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}

func New(cfg config.CacheConfig) (Cache, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "gocache", "memory":
		return NewMemoryCache(cfg.TTL.Duration), nil
	case "lru":
		return NewLRUCache(cfg.Size, cfg.TTL.Duration), nil
	case "redis":
		return NewRedisCache(cfg.RedisURL, cfg.Prefix)
	case "none":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache type %q", cfg.Type)
	}
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool) { return nil, false }

func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (Noop) Delete(context.Context, string) error { return nil }

func (Noop) Clear(context.Context) error { return nil }

func (Noop) Close() error { return nil }
