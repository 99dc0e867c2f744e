package jobs

import (
	"context"
	"errors"
	"fmt"
	"html"
	"path"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/smith3v/pdf-word-trainer/pkg/db"
	"github.com/smith3v/pdf-word-trainer/pkg/extract"
	"github.com/smith3v/pdf-word-trainer/pkg/logger"
	"github.com/smith3v/pdf-word-trainer/pkg/storage"
	"golang.org/x/text/language"
)

const maxTitleLength = 200

var (
	ErrNotFound        = errors.New("document not found")
	ErrInvalidLanguage = errors.New("invalid target language")
	ErrEmptyDocument   = errors.New("document has no pages")
	ErrAlreadyQueued   = errors.New("document already queued")
)

// Submission is an uploaded document waiting to become a translation job.
type Submission struct {
	UserID         int64
	Title          string
	Filename       string
	TargetLanguage string
	SourceLanguage string
	Data           []byte
}

// Service is the document-facing side of the pipeline: it accepts uploads,
// feeds the worker pool and manages stored documents.
type Service struct {
	store          storage.Store
	pool           *Pool
	runner         *Runner
	sourceLanguage string
	policy         *bluemonday.Policy
	open           func([]byte) (extract.PageSource, error)

	mu     sync.Mutex
	queued map[string]struct{}
}

func NewService(store storage.Store, pool *Pool, runner *Runner, sourceLanguage string) *Service {
	if sourceLanguage == "" {
		sourceLanguage = "en"
	}
	return &Service{
		store:          store,
		pool:           pool,
		runner:         runner,
		sourceLanguage: sourceLanguage,
		policy:         bluemonday.StrictPolicy(),
		open:           extract.OpenPDF,
		queued:         make(map[string]struct{}),
	}
}

// Submit validates and stores the upload, creates a pending document and
// enqueues it. A full queue is not an error: the sweeper picks the document
// up later.
func (s *Service) Submit(ctx context.Context, sub Submission) (*db.Document, error) {
	target, err := normalizeLanguage(sub.TargetLanguage)
	if err != nil {
		return nil, err
	}
	source := s.sourceLanguage
	if strings.TrimSpace(sub.SourceLanguage) != "" {
		if source, err = normalizeLanguage(sub.SourceLanguage); err != nil {
			return nil, err
		}
	}

	src, err := s.open(sub.Data)
	if err != nil {
		return nil, err
	}
	if src.NumPages() < 1 {
		return nil, ErrEmptyDocument
	}

	id := uuid.NewString()
	doc := &db.Document{
		ID:             id,
		UserID:         sub.UserID,
		Title:          s.title(sub.Title, sub.Filename),
		TargetLanguage: target,
		SourceLanguage: source,
		StorageKey:     id + ".pdf",
		Status:         db.StatusPending,
	}
	if err := s.store.Put(ctx, doc.StorageKey, sub.Data); err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}
	if err := db.CreateDocument(ctx, doc); err != nil {
		if delErr := s.store.Delete(ctx, doc.StorageKey); delErr != nil {
			logger.Error("failed to remove orphaned upload", "key", doc.StorageKey, "error", delErr)
		}
		return nil, err
	}
	logger.Info("document submitted", "document_id", doc.ID, "user_id", doc.UserID, "target_language", target, "pages", src.NumPages())

	if err := s.Enqueue(doc.ID); err != nil {
		logger.Warn("document left pending", "document_id", doc.ID, "error", err)
	}
	return doc, nil
}

// Enqueue schedules a run for documentID unless one is already queued or
// running in this process.
func (s *Service) Enqueue(documentID string) error {
	s.mu.Lock()
	if _, ok := s.queued[documentID]; ok {
		s.mu.Unlock()
		return ErrAlreadyQueued
	}
	s.queued[documentID] = struct{}{}
	s.mu.Unlock()

	err := s.pool.Submit(func(ctx context.Context) error {
		defer s.release(documentID)
		return s.runner.Run(ctx, documentID)
	})
	if err != nil {
		s.release(documentID)
	}
	return err
}

func (s *Service) release(documentID string) {
	s.mu.Lock()
	delete(s.queued, documentID)
	s.mu.Unlock()
}

func (s *Service) Get(ctx context.Context, id string, userID int64) (*db.Document, error) {
	doc, err := db.FindDocument(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (s *Service) List(ctx context.Context, userID int64) ([]db.Document, error) {
	return db.ListDocuments(ctx, userID)
}

func (s *Service) Rename(ctx context.Context, id string, userID int64, title string) (*db.Document, error) {
	clean := s.title(title, "")
	ok, err := db.RenameDocument(ctx, id, userID, clean)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id, userID)
}

// Delete removes the document, its words and their flashcards, then the
// stored upload. A running job for the document fails its next update.
func (s *Service) Delete(ctx context.Context, id string, userID int64) error {
	doc, err := db.DeleteDocument(ctx, id, userID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrNotFound
	}
	if err := s.store.Delete(ctx, doc.StorageKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Error("failed to delete stored document", "document_id", id, "key", doc.StorageKey, "error", err)
	}
	logger.Info("document deleted", "document_id", id, "user_id", userID)
	return nil
}

// title strips markup from the user-supplied title and falls back to the
// file name without extension.
func (s *Service) title(raw, filename string) string {
	clean := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
	if clean == "" && filename != "" {
		base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
		clean = strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(strings.TrimSuffix(base, path.Ext(base)))))
	}
	if clean == "" {
		clean = "Untitled"
	}
	if utf8.RuneCountInString(clean) > maxTitleLength {
		clean = string([]rune(clean)[:maxTitleLength])
	}
	return clean
}

func normalizeLanguage(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ErrInvalidLanguage
	}
	tag, err := language.Parse(value)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidLanguage, value)
	}
	base, confidence := tag.Base()
	if confidence == language.No {
		return "", fmt.Errorf("%w: %q", ErrInvalidLanguage, value)
	}
	return base.String(), nil
}
