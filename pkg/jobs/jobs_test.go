package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smith3v/pdf-word-trainer/pkg/db"
	"github.com/smith3v/pdf-word-trainer/pkg/extract"
	"github.com/smith3v/pdf-word-trainer/pkg/internal/testutil"
	"github.com/smith3v/pdf-word-trainer/pkg/progress"
	"github.com/smith3v/pdf-word-trainer/pkg/storage"
)

type fakePages []string

func (p fakePages) NumPages() int { return len(p) }

func (p fakePages) PageText(n int) (string, error) {
	if p[n-1] == "!fail" {
		return "", errors.New("broken page")
	}
	return p[n-1], nil
}

func openPages(pages []string) func([]byte) (extract.PageSource, error) {
	return func([]byte) (extract.PageSource, error) {
		return fakePages(pages), nil
	}
}

type fakeTranslator struct {
	mu       sync.Mutex
	dict     map[string]string
	calls    int
	contexts []map[string]string
	panicOn  string
	block    bool

	// stallAfter, when positive, blocks every call once that many words
	// have been translated.
	stallAfter int
	done       int
}

func (f *fakeTranslator) TranslateBatch(ctx context.Context, words []string, source, target string) []*string {
	return f.translate(ctx, words, nil)
}

func (f *fakeTranslator) TranslateBatchWithContext(ctx context.Context, words []string, contexts map[string]string, source, target string) []*string {
	return f.translate(ctx, words, contexts)
}

func (f *fakeTranslator) translate(ctx context.Context, words []string, contexts map[string]string) []*string {
	f.mu.Lock()
	f.calls++
	if contexts != nil {
		f.contexts = append(f.contexts, contexts)
	}
	stalled := f.stallAfter > 0 && f.done >= f.stallAfter
	f.done += len(words)
	f.mu.Unlock()
	if f.block || stalled {
		<-ctx.Done()
		return make([]*string, len(words))
	}
	out := make([]*string, len(words))
	for i, w := range words {
		if w == f.panicOn {
			panic("translator exploded")
		}
		if v, ok := f.dict[w]; ok {
			out[i] = &v
		}
	}
	return out
}

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Publish(ev progress.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

var fullDict = map[string]string{
	"the": "определённый артикль",
	"cat": "кот",
	"sat": "сидел",
	"dog": "пёс",
	"ran": "бежал",
}

func newTestRunner(t *testing.T, pages []string, tr Translator, opts Options) (*Runner, *recorder, db.Document) {
	t.Helper()
	testutil.SetupTestDB(t)
	store, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	doc := testutil.SeedDocument(t, 7, db.StatusPending)
	if err := store.Put(context.Background(), doc.StorageKey, []byte("%PDF")); err != nil {
		t.Fatalf("failed to store document: %v", err)
	}
	rec := &recorder{}
	r := NewRunner(store, func() (Translator, error) { return tr, nil }, rec, opts)
	r.open = openPages(pages)
	return r, rec, doc
}

func loadDocument(t *testing.T, id string) *db.Document {
	t.Helper()
	doc, err := db.FindDocument(context.Background(), id, 0)
	if err != nil || doc == nil {
		t.Fatalf("failed to load document %s: %v", id, err)
	}
	return doc
}

func TestRunCompletesDocument(t *testing.T) {
	dict := map[string]string{"cat": "кот", "sat": "сидел", "dog": "пёс", "ran": "бежал"}
	tr := &fakeTranslator{dict: dict}
	r, rec, doc := newTestRunner(t, []string{"The cat sat.", "The dog ran. The cat!"}, tr, Options{WordBatchSize: 2})

	if err := r.Run(context.Background(), doc.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := loadDocument(t, doc.ID)
	if got.Status != db.StatusCompleted || got.Progress != 100 {
		t.Fatalf("expected completed at 100, got %s/%d", got.Status, got.Progress)
	}
	if got.TotalWords != 5 || got.TranslatedWords != 4 {
		t.Fatalf("expected 4 of 5 words translated, got %d/%d", got.TranslatedWords, got.TotalWords)
	}
	if got.ExtractedText == nil || *got.ExtractedText != "The cat sat.\nThe dog ran. The cat!" {
		t.Fatalf("unexpected extracted text %v", got.ExtractedText)
	}

	entries, err := db.ListWordEntries(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("ListWordEntries failed: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 word entries, got %d", len(entries))
	}
	var cat db.WordEntry
	for _, e := range entries {
		if e.OriginalText == "cat" {
			cat = e
		}
		if e.OriginalText == "the" {
			t.Fatal("untranslated word should not be stored")
		}
	}
	if cat.PageNumber != 1 || cat.Position != 1 || cat.Frequency != 2 || cat.Context != "The cat sat" {
		t.Fatalf("unexpected entry for cat: %+v", cat)
	}

	events := rec.snapshot()
	if len(events) < 3 {
		t.Fatalf("expected several progress events, got %d", len(events))
	}
	last := events[len(events)-1]
	if last.Status != db.StatusCompleted || last.Progress != 100 || last.UserID != 7 {
		t.Fatalf("unexpected final event %+v", last)
	}
	previous := 0
	for _, ev := range events[:len(events)-1] {
		if ev.Progress < previous || ev.Progress > 99 {
			t.Fatalf("progress must stay monotonic and below 100 before completion, got %v", events)
		}
		previous = ev.Progress
	}
}

func TestRunSecondClaimIsRejected(t *testing.T) {
	r, rec, doc := newTestRunner(t, []string{"The cat sat."}, &fakeTranslator{dict: fullDict}, Options{})

	if err := r.Run(context.Background(), doc.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	published := len(rec.snapshot())
	if err := r.Run(context.Background(), doc.ID); !errors.Is(err, db.ErrNotClaimable) {
		t.Fatalf("expected ErrNotClaimable, got %v", err)
	}
	if len(rec.snapshot()) != published {
		t.Fatal("a rejected claim must not publish events")
	}
}

func TestRunFailureReasons(t *testing.T) {
	tests := []struct {
		name       string
		pages      []string
		translator *fakeTranslator
		opts       Options
		noGateway  bool
		reason     string
		keepsText  bool
	}{
		{name: "no words", pages: []string{"123 456. 7 8"}, translator: &fakeTranslator{dict: fullDict}, reason: db.ReasonNoWords},
		{name: "all pages failed", pages: []string{"!fail", "!fail"}, translator: &fakeTranslator{dict: fullDict}, reason: db.ReasonNoWords},
		{name: "nothing translated", pages: []string{"The cat sat."}, translator: &fakeTranslator{}, reason: db.ReasonNothingTranslated, keepsText: true},
		{name: "gateway unavailable", pages: []string{"The cat sat."}, noGateway: true, reason: db.ReasonGatewayUnavailable},
		{name: "panic", pages: []string{"The cat sat."}, translator: &fakeTranslator{dict: fullDict, panicOn: "cat"}, reason: db.ReasonInternal},
		{name: "timeout", pages: []string{"The cat sat."}, translator: &fakeTranslator{block: true}, opts: Options{Timeout: 50 * time.Millisecond}, reason: db.ReasonTimeout},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, rec, doc := newTestRunner(t, tc.pages, tc.translator, tc.opts)
			if tc.noGateway {
				r.translator = func() (Translator, error) { return nil, errors.New("missing credentials") }
			}

			if err := r.Run(context.Background(), doc.ID); err == nil {
				t.Fatal("expected Run to report the failure")
			}

			got := loadDocument(t, doc.ID)
			if got.Status != db.StatusFailed || got.FailureReason != tc.reason {
				t.Fatalf("expected failed/%s, got %s/%s", tc.reason, got.Status, got.FailureReason)
			}
			if got.Progress == 100 {
				t.Fatal("failed document must not report 100")
			}
			if tc.keepsText && (got.ExtractedText == nil || *got.ExtractedText != "The cat sat.") {
				t.Fatalf("expected extracted text to be kept, got %v", got.ExtractedText)
			}
			events := rec.snapshot()
			last := events[len(events)-1]
			if last.Status != db.StatusFailed || last.FailureReason != tc.reason {
				t.Fatalf("expected final failed event, got %+v", last)
			}
		})
	}
}

func TestRunTimeoutKeepsTranslatedEntries(t *testing.T) {
	tr := &fakeTranslator{dict: fullDict, stallAfter: 3}
	opts := Options{WordBatchSize: 1, FlushMultiplier: 5, Timeout: 200 * time.Millisecond}
	r, _, doc := newTestRunner(t, []string{"The cat sat.", "The dog ran."}, tr, opts)

	if err := r.Run(context.Background(), doc.ID); err == nil {
		t.Fatal("expected Run to report the timeout")
	}

	got := loadDocument(t, doc.ID)
	if got.Status != db.StatusFailed || got.FailureReason != db.ReasonTimeout {
		t.Fatalf("expected failed/timeout, got %s/%s", got.Status, got.FailureReason)
	}
	entries, err := db.ListWordEntries(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("ListWordEntries failed: %v", err)
	}
	if len(entries) != 3 || got.TranslatedWords != len(entries) {
		t.Fatalf("expected 3 stored entries matching translated words, got %d entries and %d translated", len(entries), got.TranslatedWords)
	}
	if got.Progress != 60 {
		t.Fatalf("expected progress 60, got %d", got.Progress)
	}
}

func TestRunNoWordsKeepsTotalAtZero(t *testing.T) {
	r, _, doc := newTestRunner(t, []string{"1 2 3"}, &fakeTranslator{dict: fullDict}, Options{})
	_ = r.Run(context.Background(), doc.ID)
	if got := loadDocument(t, doc.ID); got.TotalWords != 0 {
		t.Fatalf("expected total words to stay 0, got %d", got.TotalWords)
	}
}

func TestRunParseFailure(t *testing.T) {
	r, _, doc := newTestRunner(t, nil, &fakeTranslator{dict: fullDict}, Options{})
	r.open = func([]byte) (extract.PageSource, error) { return nil, extract.ErrInvalidDocument }

	if err := r.Run(context.Background(), doc.ID); !errors.Is(err, extract.ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument, got %v", err)
	}
	if got := loadDocument(t, doc.ID); got.FailureReason != db.ReasonParseFailed {
		t.Fatalf("expected parse_failed, got %s", got.FailureReason)
	}
}

func TestRunContextAwareSendsSentences(t *testing.T) {
	tr := &fakeTranslator{dict: fullDict}
	r, _, doc := newTestRunner(t, []string{"The cat sat. A dog ran."}, tr, Options{ContextAware: true})

	if err := r.Run(context.Background(), doc.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(tr.contexts) != 1 {
		t.Fatalf("expected one context-aware call, got %d", len(tr.contexts))
	}
	if tr.contexts[0]["dog"] != "A dog ran" {
		t.Fatalf("expected sentence context for dog, got %q", tr.contexts[0]["dog"])
	}
}

func TestRunFlushesInBatches(t *testing.T) {
	tr := &fakeTranslator{dict: fullDict}
	r, _, doc := newTestRunner(t, []string{"The cat sat.", "The dog ran."}, tr, Options{WordBatchSize: 1, FlushMultiplier: 1})

	if err := r.Run(context.Background(), doc.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if tr.calls != 5 {
		t.Fatalf("expected one gateway call per word, got %d", tr.calls)
	}
	entries, _ := db.ListWordEntries(context.Background(), doc.ID)
	if len(entries) != 5 {
		t.Fatalf("expected all 5 entries flushed, got %d", len(entries))
	}
}

func TestPercent(t *testing.T) {
	cases := []struct{ done, total, previous, want int }{
		{0, 10, 0, 0},
		{3, 7, 0, 42},
		{10, 10, 0, 99},
		{1, 10, 50, 50},
		{5, 0, 12, 12},
	}
	for _, c := range cases {
		if got := percent(c.done, c.total, c.previous); got != c.want {
			t.Fatalf("percent(%d, %d, %d) = %d, want %d", c.done, c.total, c.previous, got, c.want)
		}
	}
}
