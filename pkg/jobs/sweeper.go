package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/smith3v/pdf-word-trainer/pkg/db"
	"github.com/smith3v/pdf-word-trainer/pkg/logger"
	"github.com/smith3v/pdf-word-trainer/pkg/metrics"
	"github.com/smith3v/pdf-word-trainer/pkg/progress"
)

const requeueLimit = 100

type SweeperOptions struct {
	RequeueAfter time.Duration
	StuckAfter   time.Duration
}

// Sweeper periodically re-enqueues pending documents that never reached a
// worker and fails in-progress documents whose job stopped updating them.
type Sweeper struct {
	cron      *cron.Cron
	enqueue   func(documentID string) error
	publisher progress.Publisher
	opts      SweeperOptions
	now       func() time.Time
}

func NewSweeper(opts SweeperOptions, enqueue func(string) error, publisher progress.Publisher) *Sweeper {
	if publisher == nil {
		publisher = progress.Publishers{}
	}
	return &Sweeper{
		cron:      cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		enqueue:   enqueue,
		publisher: publisher,
		opts:      opts,
		now:       time.Now,
	}
}

// Start schedules Sweep on the given cron spec, e.g. "@every 1m".
func (s *Sweeper) Start(ctx context.Context, spec string) error {
	if _, err := s.cron.AddFunc(spec, func() { s.Sweep(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	logger.Info("sweeper started", "schedule", spec)
	return nil
}

func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) Sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.failStuck(ctx)
	s.requeuePending(ctx)
}

func (s *Sweeper) failStuck(ctx context.Context) {
	if s.opts.StuckAfter <= 0 {
		return
	}
	now := s.now()
	ids, err := db.FailStuckDocuments(ctx, now.Add(-s.opts.StuckAfter), now)
	if err != nil {
		logger.Error("failed to sweep stuck documents", "error", err)
	}
	for _, id := range ids {
		metrics.JobsTotal.WithLabelValues(string(db.StatusFailed), db.ReasonStuck).Inc()
		logger.Warn("document marked stuck", "document_id", id)
		doc, err := db.FindDocument(ctx, id, 0)
		if err != nil || doc == nil {
			continue
		}
		s.publisher.Publish(progress.FromDocument(doc))
	}
}

func (s *Sweeper) requeuePending(ctx context.Context) {
	if s.enqueue == nil {
		return
	}
	ids, err := db.PendingDocumentIDs(ctx, s.now().Add(-s.opts.RequeueAfter), requeueLimit)
	if err != nil {
		logger.Error("failed to list pending documents", "error", err)
		return
	}
	for _, id := range ids {
		if err := s.enqueue(id); err != nil {
			if errors.Is(err, ErrQueueFull) {
				logger.Warn("queue full, requeue deferred", "remaining", len(ids))
				return
			}
			if errors.Is(err, ErrAlreadyQueued) {
				continue
			}
			logger.Error("failed to requeue document", "document_id", id, "error", err)
			return
		}
		logger.Info("pending document requeued", "document_id", id)
	}
}
