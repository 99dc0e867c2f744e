package testutil

import (
	"strings"
	"testing"

	"github.com/smith3v/pdf-word-trainer/pkg/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SetupTestDB points db.DB at a fresh in-memory sqlite database for the
// duration of the test.
func SetupTestDB(t *testing.T) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to access underlying DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	db.DB = gdb

	t.Cleanup(func() {
		if err := sqlDB.Close(); err != nil {
			t.Fatalf("failed to close database: %v", err)
		}
		db.DB = nil
	})
}

// SeedDocument inserts a document owned by userID with the given status.
func SeedDocument(t *testing.T, userID int64, status db.DocumentStatus) db.Document {
	t.Helper()
	doc := db.Document{
		UserID:         userID,
		Title:          "Sample",
		TargetLanguage: "ru",
		SourceLanguage: "en",
		StorageKey:     "sample.pdf",
		Status:         status,
	}
	if err := db.DB.Create(&doc).Error; err != nil {
		t.Fatalf("failed to seed document: %v", err)
	}
	return doc
}
