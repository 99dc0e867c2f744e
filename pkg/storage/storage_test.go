package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/smith3v/pdf-word-trainer/pkg/config"
)

func TestFSStoreRoundTrip(t *testing.T) {
	store, err := New(config.StorageConfig{Type: "fs", Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "docs/a.pdf", []byte("%PDF-1.4")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	data, err := store.Get(ctx, "docs/a.pdf")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != "%PDF-1.4" {
		t.Fatalf("unexpected content %q", data)
	}

	if err := store.Delete(ctx, "docs/a.pdf"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "docs/a.pdf"); err != nil {
		t.Fatalf("second Delete should be a no-op, got %v", err)
	}
	if _, err := store.Get(ctx, "docs/a.pdf"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFSStoreRejectsTraversal(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore returned error: %v", err)
	}
	if err := store.Put(context.Background(), "../escape.pdf", []byte("x")); err == nil {
		t.Fatal("expected traversal key to be rejected")
	}
}

func TestNewUnknownType(t *testing.T) {
	if _, err := New(config.StorageConfig{Type: "tape"}); err == nil {
		t.Fatal("expected error for unknown storage type")
	}
}
