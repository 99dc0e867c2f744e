package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotClaimable is returned when a document is no longer pending.
var ErrNotClaimable = errors.New("document is not pending")

func CreateDocument(ctx context.Context, doc *Document) error {
	return DB.WithContext(ctx).Create(doc).Error
}

// FindDocument returns nil without error when the document does not exist or
// belongs to someone else. A zero userID skips the ownership check.
func FindDocument(ctx context.Context, id string, userID int64) (*Document, error) {
	var doc Document
	query := DB.WithContext(ctx).Where("id = ?", id)
	if userID != 0 {
		query = query.Where("user_id = ?", userID)
	}
	if err := query.First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

func ListDocuments(ctx context.Context, userID int64) ([]Document, error) {
	var docs []Document
	err := DB.WithContext(ctx).
		Omit("extracted_text").
		Where("user_id = ?", userID).
		Order("created_at DESC, id ASC").
		Find(&docs).Error
	return docs, err
}

// ClaimDocument moves a pending document to in_progress. The row is locked
// and the update is conditional on the pending status, so at most one caller
// wins.
func ClaimDocument(ctx context.Context, id string, now time.Time) (*Document, error) {
	var claimed Document
	err := DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&claimed).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotClaimable
			}
			return err
		}
		res := tx.Model(&Document{}).
			Where("id = ? AND status = ?", id, StatusPending).
			Updates(map[string]any{
				"status":           StatusInProgress,
				"progress":         0,
				"translated_words": 0,
				"started_at":       now,
				"updated_at":       now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotClaimable
		}
		claimed.Status = StatusInProgress
		claimed.Progress = 0
		claimed.TranslatedWords = 0
		claimed.StartedAt = &now
		claimed.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// SetTotalWords records the vocabulary size. It only applies once, while the
// document is in progress and before any total was stored.
func SetTotalWords(ctx context.Context, id string, total int, failedPages []int, now time.Time) error {
	updates := map[string]any{
		"total_words": total,
		"updated_at":  now,
	}
	if len(failedPages) > 0 {
		raw, err := json.Marshal(failedPages)
		if err != nil {
			return err
		}
		updates["failed_pages"] = datatypes.JSON(raw)
	}
	return DB.WithContext(ctx).Model(&Document{}).
		Where("id = ? AND status = ? AND total_words = 0", id, StatusInProgress).
		Updates(updates).Error
}

// UpdateProgress persists counters for an in-progress document. Progress never
// moves backwards.
func UpdateProgress(ctx context.Context, id string, translated, progress int, now time.Time) error {
	return DB.WithContext(ctx).Model(&Document{}).
		Where("id = ? AND status = ? AND progress <= ?", id, StatusInProgress, progress).
		Updates(map[string]any{
			"translated_words": translated,
			"progress":         progress,
			"updated_at":       now,
		}).Error
}

func CompleteDocument(ctx context.Context, id string, text string, translated int, now time.Time) error {
	res := DB.WithContext(ctx).Model(&Document{}).
		Where("id = ? AND status = ?", id, StatusInProgress).
		Updates(map[string]any{
			"status":           StatusCompleted,
			"progress":         100,
			"translated_words": translated,
			"extracted_text":   text,
			"finished_at":      now,
			"updated_at":       now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimable
	}
	return nil
}

// FailDocument marks a non-terminal document failed. It reports whether the
// row changed.
func FailDocument(ctx context.Context, id string, reason string, now time.Time) (bool, error) {
	res := DB.WithContext(ctx).Model(&Document{}).
		Where("id = ? AND status IN ?", id, []DocumentStatus{StatusPending, StatusInProgress}).
		Updates(map[string]any{
			"status":         StatusFailed,
			"failure_reason": reason,
			"finished_at":    now,
			"updated_at":     now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func SetExtractedText(ctx context.Context, id string, text string) error {
	return DB.WithContext(ctx).Model(&Document{}).
		Where("id = ?", id).
		Update("extracted_text", text).Error
}

// FailStuckDocuments fails in-progress documents that have not been touched
// since before.
func FailStuckDocuments(ctx context.Context, before, now time.Time) ([]string, error) {
	var ids []string
	if err := DB.WithContext(ctx).Model(&Document{}).
		Where("status = ? AND updated_at < ?", StatusInProgress, before).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	failed := make([]string, 0, len(ids))
	for _, id := range ids {
		ok, err := FailDocument(ctx, id, ReasonStuck, now)
		if err != nil {
			return failed, err
		}
		if ok {
			failed = append(failed, id)
		}
	}
	return failed, nil
}

// PendingDocumentIDs lists pending documents created before the cutoff,
// oldest first.
func PendingDocumentIDs(ctx context.Context, before time.Time, limit int) ([]string, error) {
	var ids []string
	query := DB.WithContext(ctx).Model(&Document{}).
		Where("status = ? AND created_at < ?", StatusPending, before).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Pluck("id", &ids).Error
	return ids, err
}

func RenameDocument(ctx context.Context, id string, userID int64, title string) (bool, error) {
	res := DB.WithContext(ctx).Model(&Document{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("title", title)
	return res.RowsAffected > 0, res.Error
}

// DeleteDocument removes the document with its words and their flashcards and
// returns the deleted row, or nil when nothing matched.
func DeleteDocument(ctx context.Context, id string, userID int64) (*Document, error) {
	var deleted *Document
	err := DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc Document
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&doc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		words := tx.Model(&WordEntry{}).Select("id").Where("document_id = ?", id)
		if err := tx.Where("word_entry_id IN (?)", words).Delete(&Flashcard{}).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", id).Delete(&WordEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&doc).Error; err != nil {
			return err
		}
		deleted = &doc
		return nil
	})
	return deleted, err
}

// InsertWordEntries bulk-inserts entries in chunks of batchSize. Duplicate
// words for a document are ignored.
func InsertWordEntries(ctx context.Context, entries []WordEntry, batchSize int) error {
	if len(entries) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = len(entries)
	}
	return DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&entries, batchSize).Error
}

func ListWordEntries(ctx context.Context, documentID string) ([]WordEntry, error) {
	var entries []WordEntry
	err := DB.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("page_number ASC, position ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// WordListing is a word entry together with the id of the flashcard that
// drills it, if any.
type WordListing struct {
	ID             uint
	DocumentID     string
	OriginalText   string
	TranslatedText *string
	PageNumber     int
	Position       int
	Context        string
	Frequency      int
	FlashcardID    *uint
}

// ListWordListings returns the document's entries in reading order, joined
// with their flashcards.
func ListWordListings(ctx context.Context, documentID string) ([]WordListing, error) {
	var listings []WordListing
	err := DB.WithContext(ctx).Table("word_entries").
		Select("word_entries.id, word_entries.document_id, word_entries.original_text, word_entries.translated_text, " +
			"word_entries.page_number, word_entries.position, word_entries.context, word_entries.frequency, " +
			"flashcards.id AS flashcard_id").
		Joins("LEFT JOIN flashcards ON flashcards.word_entry_id = word_entries.id").
		Where("word_entries.document_id = ?", documentID).
		Order("word_entries.page_number ASC, word_entries.position ASC, word_entries.id ASC").
		Scan(&listings).Error
	return listings, err
}
