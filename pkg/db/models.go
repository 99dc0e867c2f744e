// pkg/db/models.go
package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusInProgress DocumentStatus = "in_progress"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Failure reasons stored on failed documents.
const (
	ReasonNoWords            = "no_words"
	ReasonGatewayUnavailable = "gateway_unavailable"
	ReasonParseFailed        = "parse_failed"
	ReasonNothingTranslated  = "nothing_translated"
	ReasonTimeout            = "timeout"
	ReasonInternal           = "internal"
	ReasonStuck              = "stuck"
	// ReasonDeleted is reported on progress streams, never stored.
	ReasonDeleted            = "deleted"
)

type Document struct {
	ID              string         `gorm:"primaryKey;size:36"`
	UserID          int64          `gorm:"index;not null"`
	Title           string         `gorm:"not null"`
	TargetLanguage  string         `gorm:"size:16;not null"`
	SourceLanguage  string         `gorm:"size:16;not null;default:en"`
	StorageKey      string         `gorm:"not null"`
	Status          DocumentStatus `gorm:"size:16;index;not null;default:pending"`
	Progress        int            `gorm:"not null;default:0"`
	TotalWords      int            `gorm:"not null;default:0"`
	TranslatedWords int            `gorm:"not null;default:0"`
	ExtractedText   *string
	FailureReason   string `gorm:"size:32;not null;default:''"`
	FailedPages     datatypes.JSON
	StartedAt       *time.Time
	FinishedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time `gorm:"index"`

	Words []WordEntry `gorm:"constraint:OnDelete:CASCADE"`
}

func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

type WordEntry struct {
	ID             uint   `gorm:"primaryKey"`
	DocumentID     string `gorm:"size:36;not null;uniqueIndex:idx_document_word"`
	OriginalText   string `gorm:"not null;uniqueIndex:idx_document_word"`
	TranslatedText *string
	PageNumber     int    `gorm:"not null;default:0"`
	Position       int    `gorm:"not null;default:0"`
	Context        string `gorm:"not null;default:''"`
	Frequency      int    `gorm:"not null;default:1"`
	CreatedAt      time.Time

	Flashcard *Flashcard `gorm:"constraint:OnDelete:CASCADE"`
}

type Flashcard struct {
	ID             uint  `gorm:"primaryKey"`
	UserID         int64 `gorm:"index:idx_user_next_review;not null"`
	WordEntryID    uint  `gorm:"uniqueIndex;not null"`
	LastReviewedAt *time.Time
	NextReviewAt   time.Time `gorm:"index:idx_user_next_review;not null"`
	ReviewCount    int       `gorm:"not null;default:0"`
	EaseFactor     float64   `gorm:"not null;default:2.5"`
	IntervalDays   int       `gorm:"not null;default:0"`
	IntervalTag    string    `gorm:"size:8;not null;default:''"`
	Lapses         int       `gorm:"not null;default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
