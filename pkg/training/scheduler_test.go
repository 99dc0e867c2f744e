package training

import (
	"testing"
	"time"

	"github.com/smith3v/pdf-word-trainer/pkg/db"
)

func TestSM2RememberedProgression(t *testing.T) {
	now := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	card := db.Flashcard{EaseFactor: InitialEase}
	policy := SM2{}

	policy.Apply(&card, Outcome{Remembered: true}, now)
	if card.IntervalDays != 1 || card.ReviewCount != 1 {
		t.Fatalf("expected 1 day after first success, got %+v", card)
	}
	if card.NextReviewAt != now.AddDate(0, 0, 1) {
		t.Fatalf("expected next review in 1d, got %v", card.NextReviewAt)
	}
	if card.EaseFactor != EaseCeiling {
		t.Fatalf("expected ease capped at %.1f, got %v", EaseCeiling, card.EaseFactor)
	}

	policy.Apply(&card, Outcome{Remembered: true}, now)
	if card.IntervalDays != 6 {
		t.Fatalf("expected 6 days after second success, got %d", card.IntervalDays)
	}

	policy.Apply(&card, Outcome{Remembered: true}, now)
	if card.IntervalDays != 15 {
		t.Fatalf("expected ceil(6*2.5)=15 days, got %d", card.IntervalDays)
	}
	if card.LastReviewedAt == nil || !card.LastReviewedAt.Equal(now) {
		t.Fatalf("expected last reviewed to be set, got %v", card.LastReviewedAt)
	}
}

func TestSM2IntervalCapped(t *testing.T) {
	now := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	card := db.Flashcard{EaseFactor: 2.5, IntervalDays: 300, ReviewCount: 6}

	SM2{}.Apply(&card, Outcome{Grade: GradeGood}, now)
	if card.IntervalDays != MaxIntervalDays {
		t.Fatalf("expected interval capped at %d, got %d", MaxIntervalDays, card.IntervalDays)
	}
	if card.IntervalTag != string(GradeGood) {
		t.Fatalf("expected tag to be recorded, got %q", card.IntervalTag)
	}
}

func TestSM2Forgotten(t *testing.T) {
	now := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	card := db.Flashcard{EaseFactor: 1.4, IntervalDays: 15, ReviewCount: 3}

	SM2{}.Apply(&card, Outcome{Remembered: true, Grade: GradeAgain}, now)
	if card.IntervalDays != 0 || card.ReviewCount != 0 || card.Lapses != 1 {
		t.Fatalf("expected reset interval and streak, got %+v", card)
	}
	if card.EaseFactor != EaseFloor {
		t.Fatalf("expected ease floored at %.1f, got %v", EaseFloor, card.EaseFactor)
	}
	if card.NextReviewAt != now.Add(10*time.Minute) {
		t.Fatalf("expected next review in 10m, got %v", card.NextReviewAt)
	}
}

func TestSM2ZeroEaseStartsAtInitial(t *testing.T) {
	now := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	card := db.Flashcard{}
	SM2{}.Apply(&card, Outcome{Remembered: false}, now)
	if card.EaseFactor < 2.29 || card.EaseFactor > 2.31 {
		t.Fatalf("expected ease 2.3 after first failure, got %v", card.EaseFactor)
	}
}

func TestExponentialPolicy(t *testing.T) {
	now := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	card := db.Flashcard{}
	policy := Exponential{}

	policy.Apply(&card, Outcome{Remembered: true}, now)
	if card.NextReviewAt != now.Add(24*time.Hour) || card.ReviewCount != 1 {
		t.Fatalf("expected 2^0 days, got %+v", card)
	}
	policy.Apply(&card, Outcome{Remembered: true}, now)
	policy.Apply(&card, Outcome{Remembered: true}, now)
	if card.NextReviewAt != now.Add(4*24*time.Hour) || card.ReviewCount != 3 {
		t.Fatalf("expected 2^2 days, got %+v", card)
	}

	policy.Apply(&card, Outcome{Remembered: false}, now)
	if card.NextReviewAt != now.Add(24*time.Hour) || card.ReviewCount != 2 {
		t.Fatalf("expected 1 day and decremented count, got %+v", card)
	}

	zero := db.Flashcard{}
	policy.Apply(&zero, Outcome{Remembered: false}, now)
	if zero.ReviewCount != 0 {
		t.Fatalf("expected review count floor 0, got %d", zero.ReviewCount)
	}
}

func TestExponentialGradeOverrides(t *testing.T) {
	now := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	cases := map[Grade]time.Duration{
		GradeAgain: time.Minute,
		GradeHard:  10 * time.Minute,
		GradeGood:  24 * time.Hour,
		GradeEasy:  48 * time.Hour,
	}
	for grade, want := range cases {
		card := db.Flashcard{ReviewCount: 5}
		Exponential{}.Apply(&card, Outcome{Grade: grade}, now)
		if card.NextReviewAt != now.Add(want) {
			t.Fatalf("grade %s: expected %v, got %v", grade, want, card.NextReviewAt.Sub(now))
		}
	}
}

func TestReset(t *testing.T) {
	now := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	reviewed := now.Add(-time.Hour)
	card := db.Flashcard{ReviewCount: 4, LastReviewedAt: &reviewed, EaseFactor: 1.5, IntervalDays: 30, IntervalTag: "good", Lapses: 2}

	Reset(&card, now)
	if card.ReviewCount != 0 || card.LastReviewedAt != nil || card.NextReviewAt != now {
		t.Fatalf("expected never-reviewed state, got %+v", card)
	}
	if card.EaseFactor != InitialEase || card.IntervalDays != 0 || card.IntervalTag != "" {
		t.Fatalf("expected scheduling fields reset, got %+v", card)
	}
}

func TestPolicyByName(t *testing.T) {
	for name, want := range map[string]string{"": "sm2", "SM2": "sm2", "exponential": "exponential"} {
		p, err := PolicyByName(name)
		if err != nil {
			t.Fatalf("PolicyByName(%q) returned error: %v", name, err)
		}
		if p.Name() != want {
			t.Fatalf("PolicyByName(%q) = %s, want %s", name, p.Name(), want)
		}
	}
	if _, err := PolicyByName("leitner"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestParseGrade(t *testing.T) {
	if g, err := ParseGrade(" Easy "); err != nil || g != GradeEasy {
		t.Fatalf("expected easy, got %q / %v", g, err)
	}
	if _, err := ParseGrade("perfect"); err == nil {
		t.Fatal("expected error for unknown grade")
	}
}
