package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/smith3v/pdf-word-trainer/pkg/config"
	"github.com/smith3v/pdf-word-trainer/pkg/db"
	"github.com/smith3v/pdf-word-trainer/pkg/extract"
	"github.com/smith3v/pdf-word-trainer/pkg/logger"
	"github.com/smith3v/pdf-word-trainer/pkg/metrics"
	"github.com/smith3v/pdf-word-trainer/pkg/progress"
	"github.com/smith3v/pdf-word-trainer/pkg/storage"
)

const finalizeTimeout = 10 * time.Second

// Translator is the part of the translation gateway a job needs.
type Translator interface {
	TranslateBatch(ctx context.Context, words []string, source, target string) []*string
	TranslateBatchWithContext(ctx context.Context, words []string, contexts map[string]string, source, target string) []*string
}

// TranslatorFactory returns the translator for one job, or an error when the
// provider cannot be used at all.
type TranslatorFactory func() (Translator, error)

type Options struct {
	WordBatchSize   int
	FlushMultiplier int
	MinWordLength   int
	Timeout         time.Duration
	ContextAware    bool
}

func OptionsFromConfig(jobs config.JobsConfig, translation config.TranslationConfig) Options {
	return Options{
		WordBatchSize:   jobs.WordBatchSize,
		FlushMultiplier: jobs.FlushMultiplier,
		MinWordLength:   jobs.MinWordLength,
		Timeout:         jobs.Timeout.Duration,
		ContextAware:    translation.ContextAware,
	}
}

// Runner executes translation jobs: claim, extract, translate in batches and
// record the outcome on the document.
type Runner struct {
	store      storage.Store
	translator TranslatorFactory
	publisher  progress.Publisher
	opts       Options
	open       func([]byte) (extract.PageSource, error)
	now        func() time.Time
}

func NewRunner(store storage.Store, translator TranslatorFactory, publisher progress.Publisher, opts Options) *Runner {
	if opts.WordBatchSize <= 0 {
		opts.WordBatchSize = 50
	}
	if opts.FlushMultiplier <= 0 {
		opts.FlushMultiplier = 5
	}
	if publisher == nil {
		publisher = progress.Publishers{}
	}
	return &Runner{
		store:      store,
		translator: translator,
		publisher:  publisher,
		opts:       opts,
		open:       extract.OpenPDF,
		now:        time.Now,
	}
}

// Run processes one document. It returns db.ErrNotClaimable when the document
// is not pending, in which case nothing is changed.
func (r *Runner) Run(ctx context.Context, documentID string) (err error) {
	doc, err := db.ClaimDocument(ctx, documentID, r.now())
	if err != nil {
		if errors.Is(err, db.ErrNotClaimable) {
			logger.Debug("document not claimable", "document_id", documentID)
		} else {
			logger.Error("failed to claim document", "document_id", documentID, "error", err)
		}
		return err
	}
	started := time.Now()
	logger.Info("translation job started", "document_id", doc.ID, "user_id", doc.UserID)
	r.publisher.Publish(progress.FromDocument(doc))

	jobCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.opts.Timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
	}
	defer cancel()

	defer func() {
		metrics.JobDuration.Observe(time.Since(started).Seconds())
		if rec := recover(); rec != nil {
			logger.Error("translation job panicked", "document_id", doc.ID, "panic", rec, "stack", string(debug.Stack()))
			r.fail(ctx, doc, db.ReasonInternal)
			err = fmt.Errorf("translation job panicked: %v", rec)
		}
	}()

	reason, err := r.process(jobCtx, doc)
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		logger.Warn("translation job interrupted", "document_id", doc.ID, "error", err)
		return err
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		reason = db.ReasonTimeout
	case reason == "":
		reason = db.ReasonInternal
	}
	logger.Error("translation job failed", "document_id", doc.ID, "reason", reason, "error", err)
	r.fail(ctx, doc, reason)
	return err
}

func (r *Runner) process(ctx context.Context, doc *db.Document) (string, error) {
	data, err := r.store.Get(ctx, doc.StorageKey)
	if err != nil {
		return db.ReasonParseFailed, fmt.Errorf("load document: %w", err)
	}
	src, err := r.open(data)
	if err != nil {
		return db.ReasonParseFailed, err
	}
	translator, err := r.translator()
	if err != nil {
		return db.ReasonGatewayUnavailable, err
	}

	result, err := extract.Extract(ctx, src, extract.Options{MinLength: r.opts.MinWordLength})
	if err != nil {
		if errors.Is(err, extract.ErrAllPagesFailed) {
			return db.ReasonNoWords, err
		}
		return db.ReasonParseFailed, err
	}
	if len(result.Words) == 0 {
		return db.ReasonNoWords, errors.New("document contains no words")
	}

	total := len(result.Words)
	if err := db.SetTotalWords(ctx, doc.ID, total, result.FailedPages, r.now()); err != nil {
		return "", err
	}
	doc.TotalWords = total
	r.publisher.Publish(progress.FromDocument(doc))

	translated, err := r.translate(ctx, doc, translator, result.Words)
	if err != nil {
		return "", err
	}
	if translated == 0 {
		if err := db.SetExtractedText(ctx, doc.ID, result.Text()); err != nil {
			logger.Warn("failed to keep extracted text", "document_id", doc.ID, "error", err)
		}
		return db.ReasonNothingTranslated, errors.New("no word could be translated")
	}

	now := r.now()
	if err := db.CompleteDocument(ctx, doc.ID, result.Text(), translated, now); err != nil {
		return "", err
	}
	doc.Status = db.StatusCompleted
	doc.Progress = 100
	doc.TranslatedWords = translated
	doc.FinishedAt = &now
	metrics.JobsTotal.WithLabelValues(string(db.StatusCompleted), "").Inc()
	logger.Info("translation job completed", "document_id", doc.ID, "total_words", total, "translated_words", translated)
	r.publisher.Publish(progress.FromDocument(doc))
	return "", nil
}

// translate walks the vocabulary in batches, buffering translated entries
// and persisting progress after every batch.
func (r *Runner) translate(ctx context.Context, doc *db.Document, translator Translator, words []extract.Token) (int, error) {
	batchSize := r.opts.WordBatchSize
	flushAt := r.opts.FlushMultiplier * batchSize
	buffer := make([]db.WordEntry, 0, flushAt+batchSize)
	translated := 0

	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		if err := db.InsertWordEntries(ctx, buffer, batchSize); err != nil {
			return fmt.Errorf("insert word entries: %w", err)
		}
		buffer = buffer[:0]
		return nil
	}
	// salvage persists the buffer and the counter on a detached context once
	// the job context is done. translated_words must match the stored rows.
	salvage := func(cause error) (int, error) {
		if ctx.Err() == nil {
			return translated, cause
		}
		detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
		defer cancel()
		if len(buffer) > 0 {
			if err := db.InsertWordEntries(detached, buffer, batchSize); err != nil {
				logger.Error("failed to keep translated entries", "document_id", doc.ID, "entries", len(buffer), "error", err)
				return translated, cause
			}
			buffer = buffer[:0]
		}
		pct := percent(translated, len(words), doc.Progress)
		if err := db.UpdateProgress(detached, doc.ID, translated, pct, r.now()); err != nil {
			logger.Error("failed to record progress", "document_id", doc.ID, "error", err)
			return translated, cause
		}
		doc.Progress = pct
		doc.TranslatedWords = translated
		return translated, cause
	}

	for start := 0; start < len(words); start += batchSize {
		if err := ctx.Err(); err != nil {
			return salvage(err)
		}
		batch := words[start:min(start+batchSize, len(words))]
		results := r.translateBatch(ctx, translator, doc, batch)

		for i, tok := range batch {
			if i >= len(results) || results[i] == nil || *results[i] == "" {
				continue
			}
			buffer = append(buffer, db.WordEntry{
				DocumentID:     doc.ID,
				OriginalText:   tok.Text,
				TranslatedText: results[i],
				PageNumber:     tok.Page,
				Position:       tok.Position,
				Context:        tok.Context,
				Frequency:      tok.Frequency,
			})
			translated++
		}
		if len(buffer) > flushAt {
			if err := flush(); err != nil {
				return salvage(err)
			}
		}

		pct := percent(translated, len(words), doc.Progress)
		if err := db.UpdateProgress(ctx, doc.ID, translated, pct, r.now()); err != nil {
			return salvage(err)
		}
		doc.Progress = pct
		doc.TranslatedWords = translated
		r.publisher.Publish(progress.FromDocument(doc))
		logger.Debug("translation batch done", "document_id", doc.ID, "translated", translated, "total", len(words))
	}
	if err := ctx.Err(); err != nil {
		return salvage(err)
	}
	if err := flush(); err != nil {
		return salvage(err)
	}
	metrics.WordsTranslated.Add(float64(translated))
	return translated, nil
}

func (r *Runner) translateBatch(ctx context.Context, translator Translator, doc *db.Document, batch []extract.Token) []*string {
	texts := make([]string, len(batch))
	for i, tok := range batch {
		texts[i] = tok.Text
	}
	if !r.opts.ContextAware {
		return translator.TranslateBatch(ctx, texts, doc.SourceLanguage, doc.TargetLanguage)
	}
	contexts := make(map[string]string, len(batch))
	for _, tok := range batch {
		if tok.Context != "" {
			contexts[tok.Text] = tok.Context
		}
	}
	return translator.TranslateBatchWithContext(ctx, texts, contexts, doc.SourceLanguage, doc.TargetLanguage)
}

// percent is floor(done/total*100), held below 100 until completion and
// never below the previous value.
func percent(done, total, previous int) int {
	if total <= 0 {
		return previous
	}
	pct := min(done*100/total, 99)
	return max(pct, previous)
}

// fail records reason on the document. The job context may already be done,
// so the update runs on a detached context.
func (r *Runner) fail(ctx context.Context, doc *db.Document, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	now := r.now()
	changed, err := db.FailDocument(ctx, doc.ID, reason, now)
	if err != nil {
		logger.Error("failed to mark document failed", "document_id", doc.ID, "reason", reason, "error", err)
		return
	}
	if !changed {
		return
	}
	metrics.JobsTotal.WithLabelValues(string(db.StatusFailed), reason).Inc()
	doc.Status = db.StatusFailed
	doc.FailureReason = reason
	doc.FinishedAt = &now
	r.publisher.Publish(progress.FromDocument(doc))
}
