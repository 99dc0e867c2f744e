package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smith3v/pdf-word-trainer/pkg/db"
	"github.com/smith3v/pdf-word-trainer/pkg/internal/testutil"
)

func TestSnapshot(t *testing.T) {
	testutil.SetupTestDB(t)
	ctx := context.Background()
	doc := testutil.SeedDocument(t, 7, db.StatusInProgress)
	if err := db.DB.Model(&db.Document{}).Where("id = ?", doc.ID).
		Updates(map[string]any{"progress": 40, "total_words": 10, "translated_words": 4}).Error; err != nil {
		t.Fatalf("failed to update document: %v", err)
	}

	ev, err := Snapshot(ctx, doc.ID, 7)
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if ev.Status != db.StatusInProgress || ev.Progress != 40 || ev.TotalWords != 10 || ev.TranslatedWords != 4 {
		t.Fatalf("unexpected snapshot %+v", ev)
	}

	if _, err := Snapshot(ctx, doc.ID, 8); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another user, got %v", err)
	}
	if _, err := Snapshot(ctx, "nope", 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing document, got %v", err)
	}
}

func TestHubDeliversToDocumentSubscribers(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("a")
	other, cancelOther := hub.Subscribe("b")
	defer cancelOther()

	hub.Publish(Event{DocumentID: "a", Progress: 10})
	select {
	case ev := <-ch:
		if ev.Progress != 10 {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected event for subscriber a")
	}
	select {
	case ev := <-other:
		t.Fatalf("subscriber b received %+v", ev)
	default:
	}

	cancel()
	cancel()
	if hub.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber after cancel, got %d", hub.Subscribers())
	}
}

func TestHubPublishDoesNotBlock(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe("a")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish(Event{DocumentID: "a", Progress: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

type recorder struct {
	events []Event
}

func (r *recorder) Publish(ev Event) { r.events = append(r.events, ev) }

func TestPublishersFanOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Publishers{a, nil, b}.Publish(Event{DocumentID: "x"})
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both publishers to receive the event, got %d/%d", len(a.events), len(b.events))
	}
}

func scripted(states ...Event) func(context.Context) (Event, error) {
	i := 0
	return func(context.Context) (Event, error) {
		ev := states[i]
		if i < len(states)-1 {
			i++
		}
		return ev, nil
	}
}

func TestStreamEmitsChangesAndOneTerminalFrame(t *testing.T) {
	load := scripted(
		Event{Status: db.StatusPending},
		Event{Status: db.StatusInProgress, Progress: 10, TotalWords: 10, TranslatedWords: 1},
		Event{Status: db.StatusInProgress, Progress: 10, TotalWords: 10, TranslatedWords: 1},
		Event{Status: db.StatusInProgress, Progress: 5, TotalWords: 10, TranslatedWords: 1},
		Event{Status: db.StatusCompleted, Progress: 100, TotalWords: 10, TranslatedWords: 10},
	)

	var frames []Frame
	err := Stream(context.Background(), StreamOptions{PollInterval: time.Millisecond, Heartbeat: time.Hour}, load,
		func(f Frame) error {
			frames = append(frames, f)
			return nil
		})
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}

	var names []string
	last := -1
	for _, f := range frames {
		names = append(names, f.Name)
		if f.Event.Progress < last {
			t.Fatalf("progress went backwards: %+v", frames)
		}
		last = f.Event.Progress
	}
	want := []string{FrameProgress, FrameProgress, FrameDone}
	if len(names) != len(want) {
		t.Fatalf("expected frames %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected frames %v, got %v", want, names)
		}
	}
	if frames[2].Event.Status != db.StatusCompleted {
		t.Fatalf("expected terminal frame to carry completed status, got %+v", frames[2].Event)
	}
}

func TestStreamHeartbeat(t *testing.T) {
	load := scripted(Event{Status: db.StatusInProgress, Progress: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var frames []Frame
	err := Stream(ctx, StreamOptions{PollInterval: time.Millisecond, Heartbeat: 5 * time.Millisecond}, load,
		func(f Frame) error {
			frames = append(frames, f)
			if f.Name == FrameHeartbeat {
				cancel()
			}
			return nil
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if len(frames) < 2 || frames[0].Name != FrameProgress || frames[len(frames)-1].Name != FrameHeartbeat {
		t.Fatalf("expected progress then heartbeat, got %+v", frames)
	}
}

func TestStreamStopsOnLoadError(t *testing.T) {
	err := Stream(context.Background(), StreamOptions{}, func(context.Context) (Event, error) {
		return Event{}, ErrNotFound
	}, func(Frame) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStreamDeletedDocumentEndsWithDoneFrame(t *testing.T) {
	loads := 0
	load := func(context.Context) (Event, error) {
		loads++
		if loads == 1 {
			return Event{DocumentID: "doc", Status: db.StatusInProgress, Progress: 40, TotalWords: 5, TranslatedWords: 2}, nil
		}
		return Event{}, ErrNotFound
	}

	var frames []Frame
	err := Stream(context.Background(), StreamOptions{PollInterval: time.Millisecond}, load,
		func(f Frame) error {
			frames = append(frames, f)
			return nil
		})
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	if len(frames) != 2 || frames[0].Name != FrameProgress || frames[1].Name != FrameDone {
		t.Fatalf("expected progress then done, got %+v", frames)
	}
	done := frames[1].Event
	if done.Status != db.StatusFailed || done.FailureReason != db.ReasonDeleted || done.Progress != 40 || done.DocumentID != "doc" {
		t.Fatalf("unexpected done frame %+v", done)
	}
}

func TestStreamWakesOnHubEvent(t *testing.T) {
	hub := NewHub()
	wake, cancel := hub.Subscribe("doc")
	defer cancel()

	state := Event{DocumentID: "doc", Status: db.StatusInProgress}
	loads := 0
	load := func(context.Context) (Event, error) {
		loads++
		if loads == 2 {
			state.Status = db.StatusFailed
		}
		return state, nil
	}

	go hub.Publish(Event{DocumentID: "doc"})
	done := make(chan error, 1)
	go func() {
		done <- Stream(context.Background(), StreamOptions{PollInterval: time.Hour, Wake: wake}, load,
			func(Frame) error { return nil })
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stream returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not wake on hub event")
	}
}
