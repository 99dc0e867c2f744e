package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smith3v/pdf-word-trainer/pkg/db"
	"github.com/smith3v/pdf-word-trainer/pkg/training"
	"github.com/spf13/cast"
)

type cardView struct {
	ID             uint       `json:"id"`
	WordEntryID    uint       `json:"word_entry_id"`
	DocumentID     string     `json:"document_id,omitempty"`
	OriginalText   string     `json:"original_text,omitempty"`
	TranslatedText *string    `json:"translated_text,omitempty"`
	NextReviewAt   time.Time  `json:"next_review"`
	LastReviewedAt *time.Time `json:"last_reviewed_at"`
	ReviewCount    int        `json:"review_count"`
	EaseFactor     float64    `json:"ease_factor"`
	IntervalDays   int        `json:"interval_days"`
	IntervalTag    string     `json:"interval_tag,omitempty"`
	Lapses         int        `json:"lapses"`
}

func newCardView(card *db.Flashcard) cardView {
	return cardView{
		ID:             card.ID,
		WordEntryID:    card.WordEntryID,
		NextReviewAt:   card.NextReviewAt,
		LastReviewedAt: card.LastReviewedAt,
		ReviewCount:    card.ReviewCount,
		EaseFactor:     card.EaseFactor,
		IntervalDays:   card.IntervalDays,
		IntervalTag:    card.IntervalTag,
		Lapses:         card.Lapses,
	}
}

func newCardViews(cards []training.CardView) []cardView {
	views := make([]cardView, 0, len(cards))
	for i := range cards {
		view := newCardView(&cards[i].Flashcard)
		view.DocumentID = cards[i].DocumentID
		view.OriginalText = cards[i].OriginalText
		view.TranslatedText = cards[i].TranslatedText
		views = append(views, view)
	}
	return views
}

func (s *Server) promoteWord(c *gin.Context) {
	wordID, ok := pathID(c)
	if !ok {
		return
	}
	card, created, err := s.cards.Promote(c.Request.Context(), userID(c), wordID)
	switch {
	case errors.Is(err, training.ErrWordNotFound):
		notFound(c)
		return
	case errors.Is(err, training.ErrNotTranslated):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	case err != nil:
		internalError(c, "failed to create flashcard", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, newCardView(card))
}

func (s *Server) promoteDocument(c *gin.Context) {
	created, err := s.cards.PromoteDocument(c.Request.Context(), userID(c), c.Param("id"))
	if errors.Is(err, training.ErrWordNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		internalError(c, "failed to create flashcards", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"created": created})
}

func (s *Server) listCards(c *gin.Context) {
	cards, err := s.cards.ListCards(c.Request.Context(), userID(c))
	if err != nil {
		internalError(c, "failed to list flashcards", err)
		return
	}
	c.JSON(http.StatusOK, newCardViews(cards))
}

func (s *Server) dueCards(c *gin.Context) {
	limit := cast.ToInt(c.DefaultQuery("limit", "20"))
	cards, err := s.cards.DueCards(c.Request.Context(), userID(c), limit)
	if err != nil {
		internalError(c, "failed to list due flashcards", err)
		return
	}
	c.JSON(http.StatusOK, newCardViews(cards))
}

func (s *Server) cardStats(c *gin.Context) {
	stats, err := s.cards.Stats(c.Request.Context(), userID(c))
	if err != nil {
		internalError(c, "failed to compute flashcard stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// reviewCard accepts either an interval tag ({"interval": "good"}) or a plain
// answer ({"remembered": true}).
func (s *Server) reviewCard(c *gin.Context) {
	cardID, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Interval   string `json:"interval"`
		Remembered *bool  `json:"remembered"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid review"})
		return
	}
	grade, err := training.ParseGrade(req.Interval)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if grade == training.GradeNone && req.Remembered == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval or remembered is required"})
		return
	}
	outcome := training.Outcome{Grade: grade}
	if req.Remembered != nil {
		outcome.Remembered = *req.Remembered
	}

	lang := c.DefaultQuery("lang", s.opts.Language)
	card, description, err := s.cards.Review(c.Request.Context(), userID(c), cardID, outcome, lang)
	if errors.Is(err, training.ErrCardNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		internalError(c, "failed to review flashcard", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"next_review":  card.NextReviewAt,
		"description":  description,
		"review_count": card.ReviewCount,
		"interval":     card.IntervalDays,
	})
}

func (s *Server) resetCard(c *gin.Context) {
	cardID, ok := pathID(c)
	if !ok {
		return
	}
	card, err := s.cards.ResetCard(c.Request.Context(), userID(c), cardID)
	if errors.Is(err, training.ErrCardNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		internalError(c, "failed to reset flashcard", err)
		return
	}
	c.JSON(http.StatusOK, newCardView(card))
}

func (s *Server) deleteCard(c *gin.Context) {
	cardID, ok := pathID(c)
	if !ok {
		return
	}
	err := s.cards.DeleteCard(c.Request.Context(), userID(c), cardID)
	if errors.Is(err, training.ErrCardNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		internalError(c, "failed to delete flashcard", err)
		return
	}
	c.Status(http.StatusNoContent)
}
