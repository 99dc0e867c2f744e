package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smith3v/pdf-word-trainer/pkg/db"
	"github.com/smith3v/pdf-word-trainer/pkg/extract"
	"github.com/smith3v/pdf-word-trainer/pkg/jobs"
	"github.com/smith3v/pdf-word-trainer/pkg/logger"
	"github.com/smith3v/pdf-word-trainer/pkg/progress"
)

type documentView struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	TargetLanguage  string            `json:"target_language"`
	SourceLanguage  string            `json:"source_language"`
	Status          db.DocumentStatus `json:"status"`
	Progress        int               `json:"progress"`
	TotalWords      int               `json:"total_words"`
	TranslatedWords int               `json:"translated_words"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	FailedPages     []int             `json:"failed_pages,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
}

func newDocumentView(doc *db.Document) documentView {
	view := documentView{
		ID:              doc.ID,
		Title:           doc.Title,
		TargetLanguage:  doc.TargetLanguage,
		SourceLanguage:  doc.SourceLanguage,
		Status:          doc.Status,
		Progress:        doc.Progress,
		TotalWords:      doc.TotalWords,
		TranslatedWords: doc.TranslatedWords,
		FailureReason:   doc.FailureReason,
		CreatedAt:       doc.CreatedAt,
		StartedAt:       doc.StartedAt,
		FinishedAt:      doc.FinishedAt,
	}
	if len(doc.FailedPages) > 0 {
		if err := json.Unmarshal(doc.FailedPages, &view.FailedPages); err != nil {
			logger.Warn("failed to decode failed pages", "document_id", doc.ID, "error", err)
		}
	}
	return view
}

type wordView struct {
	ID             uint    `json:"id"`
	OriginalText   string  `json:"original_text"`
	TranslatedText *string `json:"translated_text"`
	PageNumber     int     `json:"page_number"`
	Position       int     `json:"position"`
	Context        string  `json:"context,omitempty"`
	Frequency      int     `json:"frequency"`
	HasFlashcard   bool    `json:"has_flashcard"`
	FlashcardID    *uint   `json:"flashcard_id,omitempty"`
}

func (s *Server) uploadDocument(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	file, err := header.Open()
	if err != nil {
		internalError(c, "failed to open upload", err)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		internalError(c, "failed to read upload", err)
		return
	}

	doc, err := s.docs.Submit(c.Request.Context(), jobs.Submission{
		UserID:         userID(c),
		Title:          c.PostForm("title"),
		Filename:       header.Filename,
		TargetLanguage: c.PostForm("target_language"),
		SourceLanguage: c.PostForm("source_language"),
		Data:           data,
	})
	switch {
	case errors.Is(err, jobs.ErrInvalidLanguage),
		errors.Is(err, jobs.ErrEmptyDocument),
		errors.Is(err, extract.ErrInvalidDocument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		internalError(c, "failed to submit document", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": doc.ID, "status": doc.Status})
}

func (s *Server) listDocuments(c *gin.Context) {
	docs, err := s.docs.List(c.Request.Context(), userID(c))
	if err != nil {
		internalError(c, "failed to list documents", err)
		return
	}
	views := make([]documentView, 0, len(docs))
	for i := range docs {
		views = append(views, newDocumentView(&docs[i]))
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) getDocument(c *gin.Context) {
	doc, err := s.docs.Get(c.Request.Context(), c.Param("id"), userID(c))
	if errors.Is(err, jobs.ErrNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		internalError(c, "failed to load document", err)
		return
	}
	c.JSON(http.StatusOK, newDocumentView(doc))
}

func (s *Server) renameDocument(c *gin.Context) {
	var req struct {
		Title string `json:"title" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}
	doc, err := s.docs.Rename(c.Request.Context(), c.Param("id"), userID(c), req.Title)
	if errors.Is(err, jobs.ErrNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		internalError(c, "failed to rename document", err)
		return
	}
	c.JSON(http.StatusOK, newDocumentView(doc))
}

func (s *Server) deleteDocument(c *gin.Context) {
	err := s.docs.Delete(c.Request.Context(), c.Param("id"), userID(c))
	if errors.Is(err, jobs.ErrNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		internalError(c, "failed to delete document", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) documentProgress(c *gin.Context) {
	ev, err := progress.Snapshot(c.Request.Context(), c.Param("id"), userID(c))
	if errors.Is(err, progress.ErrNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		internalError(c, "failed to read progress", err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

// streamProgress pushes progress frames as server-sent events until the
// document reaches a terminal state or the client goes away.
func (s *Server) streamProgress(c *gin.Context) {
	id, user := c.Param("id"), userID(c)
	ctx := c.Request.Context()
	if _, err := progress.Snapshot(ctx, id, user); err != nil {
		if errors.Is(err, progress.ErrNotFound) {
			notFound(c)
			return
		}
		internalError(c, "failed to read progress", err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	var wake <-chan progress.Event
	if s.hub != nil {
		events, cancel := s.hub.Subscribe(id)
		defer cancel()
		wake = events
	}

	err := progress.Stream(ctx, progress.StreamOptions{
		PollInterval: s.opts.StreamPoll,
		Heartbeat:    s.opts.Heartbeat,
		Wake:         wake,
	}, func(ctx context.Context) (progress.Event, error) {
		return progress.Snapshot(ctx, id, user)
	}, func(f progress.Frame) error {
		c.SSEvent(f.Name, f.Event)
		c.Writer.Flush()
		return ctx.Err()
	})
	if err != nil && !isClientGone(err) {
		logger.Error("progress stream ended", "document_id", id, "error", err)
	}
}

func (s *Server) listWords(c *gin.Context) {
	ctx := c.Request.Context()
	doc, err := s.docs.Get(ctx, c.Param("id"), userID(c))
	if errors.Is(err, jobs.ErrNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		internalError(c, "failed to load document", err)
		return
	}
	entries, err := db.ListWordListings(ctx, doc.ID)
	if err != nil {
		internalError(c, "failed to list words", err)
		return
	}
	views := make([]wordView, 0, len(entries))
	for _, e := range entries {
		views = append(views, wordView{
			ID:             e.ID,
			OriginalText:   e.OriginalText,
			TranslatedText: e.TranslatedText,
			PageNumber:     e.PageNumber,
			Position:       e.Position,
			Context:        e.Context,
			Frequency:      e.Frequency,
			HasFlashcard:   e.FlashcardID != nil,
			FlashcardID:    e.FlashcardID,
		})
	}
	c.JSON(http.StatusOK, views)
}
