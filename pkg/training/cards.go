package training

import (
	"context"
	"errors"
	"time"

	"github.com/smith3v/pdf-word-trainer/pkg/db"
	"github.com/smith3v/pdf-word-trainer/pkg/logger"
	"github.com/smith3v/pdf-word-trainer/pkg/metrics"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrCardNotFound  = errors.New("flashcard not found")
	ErrWordNotFound  = errors.New("word not found")
	ErrNotTranslated = errors.New("word has no translation")
)

// CardView is a flashcard joined with the word it drills.
type CardView struct {
	db.Flashcard
	OriginalText   string
	TranslatedText *string
	DocumentID     string
}

type Stats struct {
	Total    int64 `json:"total"`
	Due      int64 `json:"due"`
	Reviewed int64 `json:"reviewed"`
	Lapses   int64 `json:"lapses"`
}

type Service struct {
	policy    Policy
	describer *Describer
	now       func() time.Time
}

func NewService(policy Policy, now func() time.Time) *Service {
	if policy == nil {
		policy = SM2{}
	}
	if now == nil {
		now = time.Now
	}
	return &Service{policy: policy, describer: defaultDescriber, now: now}
}

func (s *Service) Policy() Policy { return s.policy }

// FindCardForWord reports whether wordID already has a flashcard.
func FindCardForWord(ctx context.Context, wordID uint) (*db.Flashcard, bool, error) {
	var card db.Flashcard
	err := db.DB.WithContext(ctx).Where("word_entry_id = ?", wordID).First(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &card, true, nil
}

func findOwnedWord(ctx context.Context, userID int64, wordID uint) (*db.WordEntry, error) {
	var word db.WordEntry
	err := db.DB.WithContext(ctx).
		Joins("JOIN documents ON documents.id = word_entries.document_id").
		Where("word_entries.id = ? AND documents.user_id = ?", wordID, userID).
		First(&word).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &word, nil
}

func newCard(userID int64, wordID uint, now time.Time) db.Flashcard {
	return db.Flashcard{
		UserID:       userID,
		WordEntryID:  wordID,
		NextReviewAt: now,
		EaseFactor:   InitialEase,
	}
}

// Promote creates a flashcard for a translated word. Promoting a word twice
// returns the existing card with created set to false.
func (s *Service) Promote(ctx context.Context, userID int64, wordID uint) (*db.Flashcard, bool, error) {
	word, err := findOwnedWord(ctx, userID, wordID)
	if err != nil {
		return nil, false, err
	}
	if word.TranslatedText == nil || *word.TranslatedText == "" {
		return nil, false, ErrNotTranslated
	}
	if card, ok, err := FindCardForWord(ctx, wordID); err != nil || ok {
		return card, false, err
	}

	card := newCard(userID, wordID, s.now())
	res := db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "word_entry_id"}}, DoNothing: true}).
		Create(&card)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		existing, _, err := FindCardForWord(ctx, wordID)
		return existing, false, err
	}
	return &card, true, nil
}

// PromoteDocument creates cards for every translated word of the document that
// does not have one yet and returns how many were created.
func (s *Service) PromoteDocument(ctx context.Context, userID int64, documentID string) (int, error) {
	doc, err := db.FindDocument(ctx, documentID, userID)
	if err != nil {
		return 0, err
	}
	if doc == nil {
		return 0, ErrWordNotFound
	}

	var wordIDs []uint
	if err := db.DB.WithContext(ctx).Model(&db.WordEntry{}).
		Where("document_id = ? AND translated_text IS NOT NULL AND translated_text <> ''", documentID).
		Where("id NOT IN (?)", db.DB.Model(&db.Flashcard{}).Select("word_entry_id")).
		Order("page_number ASC, position ASC").
		Pluck("id", &wordIDs).Error; err != nil {
		return 0, err
	}
	if len(wordIDs) == 0 {
		return 0, nil
	}

	now := s.now()
	cards := make([]db.Flashcard, 0, len(wordIDs))
	for _, id := range wordIDs {
		cards = append(cards, newCard(userID, id, now))
	}
	res := db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "word_entry_id"}}, DoNothing: true}).
		CreateInBatches(&cards, 100)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (s *Service) ownedCard(ctx context.Context, userID int64, cardID uint) (*db.Flashcard, error) {
	var card db.Flashcard
	err := db.DB.WithContext(ctx).Where("id = ? AND user_id = ?", cardID, userID).First(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// Review applies the configured policy to one answer and persists the card.
// It also returns the localized description of the next review time.
func (s *Service) Review(ctx context.Context, userID int64, cardID uint, outcome Outcome, lang string) (*db.Flashcard, string, error) {
	card, err := s.ownedCard(ctx, userID, cardID)
	if err != nil {
		return nil, "", err
	}
	now := s.now()
	s.policy.Apply(card, outcome, now)
	if err := db.DB.WithContext(ctx).Save(card).Error; err != nil {
		return nil, "", err
	}

	label := "forgotten"
	if outcome.remembered() {
		label = "remembered"
	}
	metrics.Reviews.WithLabelValues(label).Inc()
	logger.Debug("flashcard reviewed", "card_id", card.ID, "user_id", userID, "outcome", label, "next_review_at", card.NextReviewAt)
	return card, s.describer.Describe(card.NextReviewAt, now, lang), nil
}

func (s *Service) ResetCard(ctx context.Context, userID int64, cardID uint) (*db.Flashcard, error) {
	card, err := s.ownedCard(ctx, userID, cardID)
	if err != nil {
		return nil, err
	}
	Reset(card, s.now())
	if err := db.DB.WithContext(ctx).Save(card).Error; err != nil {
		return nil, err
	}
	return card, nil
}

// DeleteCard removes the card only; the word entry stays.
func (s *Service) DeleteCard(ctx context.Context, userID int64, cardID uint) error {
	res := db.DB.WithContext(ctx).Where("id = ? AND user_id = ?", cardID, userID).Delete(&db.Flashcard{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCardNotFound
	}
	return nil
}

func cardViews(ctx context.Context) *gorm.DB {
	return db.DB.WithContext(ctx).Table("flashcards").
		Select("flashcards.*, word_entries.original_text, word_entries.translated_text, word_entries.document_id").
		Joins("JOIN word_entries ON word_entries.id = flashcards.word_entry_id")
}

// DueCards lists cards whose next review is not in the future, most overdue
// first.
func (s *Service) DueCards(ctx context.Context, userID int64, limit int) ([]CardView, error) {
	if limit <= 0 {
		limit = 20
	}
	var views []CardView
	err := cardViews(ctx).
		Where("flashcards.user_id = ? AND flashcards.next_review_at <= ?", userID, s.now()).
		Order("flashcards.next_review_at ASC, flashcards.id ASC").
		Limit(limit).
		Scan(&views).Error
	return views, err
}

func (s *Service) ListCards(ctx context.Context, userID int64) ([]CardView, error) {
	var views []CardView
	err := cardViews(ctx).
		Where("flashcards.user_id = ?", userID).
		Order("flashcards.next_review_at ASC, flashcards.id ASC").
		Scan(&views).Error
	return views, err
}

func (s *Service) Stats(ctx context.Context, userID int64) (Stats, error) {
	var stats Stats
	base := func() *gorm.DB {
		return db.DB.WithContext(ctx).Model(&db.Flashcard{}).Where("user_id = ?", userID)
	}
	if err := base().Count(&stats.Total).Error; err != nil {
		return stats, err
	}
	if err := base().Where("next_review_at <= ?", s.now()).Count(&stats.Due).Error; err != nil {
		return stats, err
	}
	if err := base().Where("last_reviewed_at IS NOT NULL").Count(&stats.Reviewed).Error; err != nil {
		return stats, err
	}
	if err := base().Select("COALESCE(SUM(lapses), 0)").Scan(&stats.Lapses).Error; err != nil {
		return stats, err
	}
	return stats, nil
}
