package progress

import (
	"context"
	"errors"
	"time"

	"github.com/smith3v/pdf-word-trainer/pkg/db"
)

const (
	FrameProgress  = "progress"
	FrameHeartbeat = "heartbeat"
	FrameDone      = "done"
)

type Frame struct {
	Name  string
	Event Event
}

type StreamOptions struct {
	PollInterval time.Duration
	Heartbeat    time.Duration
	// Wake, when set, triggers an immediate re-read.
	Wake <-chan Event
}

// Stream polls load and emits a frame whenever the observed state changes, a
// heartbeat after a quiet period, and one final frame once the document is
// terminal. Progress never decreases across emitted frames. A document that
// disappears after the first frame ends the stream with a failed/deleted done
// frame.
func Stream(ctx context.Context, opts StreamOptions, load func(context.Context) (Event, error), emit func(Frame) error) error {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	var last Event
	sent := false
	lastSent := time.Now()

	for {
		ev, err := load(ctx)
		if errors.Is(err, ErrNotFound) && sent {
			last.Status = db.StatusFailed
			last.FailureReason = db.ReasonDeleted
			return emit(Frame{Name: FrameDone, Event: last})
		}
		if err != nil {
			return err
		}
		if sent && ev.Progress < last.Progress {
			ev.Progress = last.Progress
		}

		switch {
		case ev.Status.Terminal():
			return emit(Frame{Name: FrameDone, Event: ev})
		case !sent || ev != last:
			if err := emit(Frame{Name: FrameProgress, Event: ev}); err != nil {
				return err
			}
			last, sent, lastSent = ev, true, time.Now()
		case time.Since(lastSent) >= opts.Heartbeat:
			if err := emit(Frame{Name: FrameHeartbeat, Event: last}); err != nil {
				return err
			}
			lastSent = time.Now()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-opts.Wake:
		}
	}
}
