package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smith3v/pdf-word-trainer/pkg/config"
)

var ErrNotFound = errors.New("object not found")

// Store keeps raw uploaded documents outside the database.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

func New(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "fs", "local":
		return NewFSStore(cfg.Dir)
	case "minio", "s3":
		return NewMinioStore(cfg)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
