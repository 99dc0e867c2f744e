package progress

import (
	"context"
	"errors"

	"github.com/smith3v/pdf-word-trainer/pkg/db"
)

var ErrNotFound = errors.New("document not found")

// Event is the observable state of one document.
type Event struct {
	DocumentID      string            `json:"document_id"`
	UserID          int64             `json:"-"`
	Title           string            `json:"-"`
	Status          db.DocumentStatus `json:"status"`
	Progress        int               `json:"progress"`
	TotalWords      int               `json:"total_words"`
	TranslatedWords int               `json:"translated_words"`
	FailureReason   string            `json:"failure_reason,omitempty"`
}

func FromDocument(doc *db.Document) Event {
	return Event{
		DocumentID:      doc.ID,
		UserID:          doc.UserID,
		Title:           doc.Title,
		Status:          doc.Status,
		Progress:        doc.Progress,
		TotalWords:      doc.TotalWords,
		TranslatedWords: doc.TranslatedWords,
		FailureReason:   doc.FailureReason,
	}
}

// Snapshot reads the current state without waiting on the job. Documents
// owned by another user are reported as missing.
func Snapshot(ctx context.Context, documentID string, userID int64) (Event, error) {
	doc, err := db.FindDocument(ctx, documentID, userID)
	if err != nil {
		return Event{}, err
	}
	if doc == nil {
		return Event{}, ErrNotFound
	}
	return FromDocument(doc), nil
}

// Publisher receives progress events as the job produces them. Publish must
// not block.
type Publisher interface {
	Publish(Event)
}

// Publishers fans one event out to several publishers.
type Publishers []Publisher

func (ps Publishers) Publish(ev Event) {
	for _, p := range ps {
		if p != nil {
			p.Publish(ev)
		}
	}
}
