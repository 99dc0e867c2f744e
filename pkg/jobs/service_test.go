package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smith3v/pdf-word-trainer/pkg/db"
	"github.com/smith3v/pdf-word-trainer/pkg/internal/testutil"
	"github.com/smith3v/pdf-word-trainer/pkg/storage"
)

func newTestService(t *testing.T, pages []string) (*Service, *Pool, storage.Store) {
	t.Helper()
	testutil.SetupTestDB(t)
	store, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	runner := NewRunner(store, func() (Translator, error) { return &fakeTranslator{dict: fullDict}, nil }, nil, Options{})
	runner.open = openPages(pages)
	pool := NewPool(1, 4)
	svc := NewService(store, pool, runner, "en")
	svc.open = openPages(pages)
	return svc, pool, store
}

func TestSubmitStoresAndEnqueues(t *testing.T) {
	svc, pool, store := newTestService(t, []string{"The cat sat."})
	ctx := context.Background()

	doc, err := svc.Submit(ctx, Submission{
		UserID:         3,
		Title:          "<b>Cats</b> & dogs",
		TargetLanguage: "RU",
		Data:           []byte("%PDF-1.4"),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if doc.Title != "Cats & dogs" || doc.TargetLanguage != "ru" || doc.SourceLanguage != "en" {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.Status != db.StatusPending {
		t.Fatalf("expected pending document, got %s", doc.Status)
	}
	data, err := store.Get(ctx, doc.StorageKey)
	if err != nil || string(data) != "%PDF-1.4" {
		t.Fatalf("expected upload to be stored, got %q / %v", data, err)
	}
	if pool.Depth() != 1 {
		t.Fatalf("expected one queued job, got %d", pool.Depth())
	}
	if err := svc.Enqueue(doc.ID); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued, got %v", err)
	}

	pool.Start(ctx)
	pool.Close()

	got, err := svc.Get(ctx, doc.ID, 3)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != db.StatusCompleted {
		t.Fatalf("expected completed document after the pool drained, got %s", got.Status)
	}
}

func TestSubmitValidation(t *testing.T) {
	svc, _, _ := newTestService(t, []string{"The cat sat."})
	ctx := context.Background()

	if _, err := svc.Submit(ctx, Submission{UserID: 1, TargetLanguage: "not a language!", Data: []byte("x")}); !errors.Is(err, ErrInvalidLanguage) {
		t.Fatalf("expected ErrInvalidLanguage, got %v", err)
	}
	if _, err := svc.Submit(ctx, Submission{UserID: 1, TargetLanguage: "", Data: []byte("x")}); !errors.Is(err, ErrInvalidLanguage) {
		t.Fatalf("expected ErrInvalidLanguage for empty tag, got %v", err)
	}

	svc.open = openPages(nil)
	if _, err := svc.Submit(ctx, Submission{UserID: 1, TargetLanguage: "de", Data: []byte("x")}); !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}

	var count int64
	db.DB.Model(&db.Document{}).Count(&count)
	if count != 0 {
		t.Fatalf("rejected uploads must not create documents, got %d", count)
	}
}

func TestSubmitFallsBackToFilename(t *testing.T) {
	svc, _, _ := newTestService(t, []string{"The cat sat."})

	doc, err := svc.Submit(context.Background(), Submission{UserID: 1, Filename: "C:\\books\\war-and-peace.pdf", TargetLanguage: "fr", Data: []byte("x")})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if doc.Title != "war-and-peace" {
		t.Fatalf("expected title from file name, got %q", doc.Title)
	}
}

func TestRenameAndDelete(t *testing.T) {
	svc, _, store := newTestService(t, []string{"The cat sat."})
	ctx := context.Background()

	doc, err := svc.Submit(ctx, Submission{UserID: 1, Title: "Old", TargetLanguage: "es", Data: []byte("x")})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	renamed, err := svc.Rename(ctx, doc.ID, 1, "  New <script>x</script>title ")
	if err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if renamed.Title != "New title" {
		t.Fatalf("expected sanitized title, got %q", renamed.Title)
	}
	if _, err := svc.Rename(ctx, doc.ID, 2, "Theft"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another user, got %v", err)
	}

	docs, err := svc.List(ctx, 1)
	if err != nil || len(docs) != 1 {
		t.Fatalf("expected one document, got %d / %v", len(docs), err)
	}

	if err := svc.Delete(ctx, doc.ID, 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting another user's document, got %v", err)
	}
	if err := svc.Delete(ctx, doc.ID, 1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, doc.StorageKey); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected stored upload to be removed, got %v", err)
	}
	if _, err := svc.Get(ctx, doc.ID, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSweeperRequeuesAndFailsStuck(t *testing.T) {
	testutil.SetupTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	waiting := testutil.SeedDocument(t, 1, db.StatusPending)
	fresh := testutil.SeedDocument(t, 1, db.StatusPending)
	stuck := testutil.SeedDocument(t, 1, db.StatusInProgress)
	db.DB.Model(&db.Document{}).Where("id = ?", waiting.ID).UpdateColumn("created_at", now.Add(-10*time.Minute))
	db.DB.Model(&db.Document{}).Where("id = ?", fresh.ID).UpdateColumn("created_at", now)
	db.DB.Model(&db.Document{}).Where("id = ?", stuck.ID).UpdateColumn("updated_at", now.Add(-2*time.Hour))

	var requeued []string
	rec := &recorder{}
	sweeper := NewSweeper(SweeperOptions{RequeueAfter: time.Minute, StuckAfter: time.Hour}, func(id string) error {
		requeued = append(requeued, id)
		return nil
	}, rec)
	sweeper.now = func() time.Time { return now }

	sweeper.Sweep(ctx)

	if len(requeued) != 1 || requeued[0] != waiting.ID {
		t.Fatalf("expected only the waiting document to be requeued, got %v", requeued)
	}
	got := loadDocument(t, stuck.ID)
	if got.Status != db.StatusFailed || got.FailureReason != db.ReasonStuck {
		t.Fatalf("expected stuck failure, got %s/%s", got.Status, got.FailureReason)
	}
	events := rec.snapshot()
	if len(events) != 1 || events[0].DocumentID != stuck.ID || events[0].Status != db.StatusFailed {
		t.Fatalf("expected one failed event for the stuck document, got %+v", events)
	}
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	sweeper := NewSweeper(SweeperOptions{}, nil, nil)
	if err := sweeper.Start(context.Background(), "every now and then"); err == nil {
		t.Fatal("expected invalid schedule to be rejected")
	}
}
