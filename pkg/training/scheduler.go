package training

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/smith3v/pdf-word-trainer/pkg/db"
)

type Grade string

const (
	GradeNone  Grade = ""
	GradeAgain Grade = "again"
	GradeHard  Grade = "hard"
	GradeGood  Grade = "good"
	GradeEasy  Grade = "easy"
)

func ParseGrade(value string) (Grade, error) {
	switch g := Grade(strings.ToLower(strings.TrimSpace(value))); g {
	case GradeNone, GradeAgain, GradeHard, GradeGood, GradeEasy:
		return g, nil
	default:
		return GradeNone, fmt.Errorf("unknown grade %q", value)
	}
}

const (
	InitialEase     = 2.5
	EaseFloor       = 1.3
	EaseCeiling     = 2.5
	MaxIntervalDays = 365
	RelearnDelay    = 10 * time.Minute
)

// Outcome is one review answer. An explicit grade decides whether the word
// was remembered; without one the boolean is used.
type Outcome struct {
	Remembered bool
	Grade      Grade
}

func (o Outcome) remembered() bool {
	switch o.Grade {
	case GradeAgain:
		return false
	case GradeHard, GradeGood, GradeEasy:
		return true
	default:
		return o.Remembered
	}
}

// Policy moves a card to its next scheduled state.
type Policy interface {
	Name() string
	Apply(card *db.Flashcard, outcome Outcome, now time.Time)
}

func PolicyByName(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sm2", "sm-2":
		return SM2{}, nil
	case "exponential", "exp":
		return Exponential{}, nil
	default:
		return nil, fmt.Errorf("unknown review policy %q", name)
	}
}

// SM2 keeps an ease factor per card and grows the interval by it.
type SM2 struct{}

func (SM2) Name() string { return "sm2" }

func (SM2) Apply(card *db.Flashcard, outcome Outcome, now time.Time) {
	if card == nil {
		return
	}
	if card.EaseFactor == 0 {
		card.EaseFactor = InitialEase
	}

	if outcome.remembered() {
		switch card.IntervalDays {
		case 0:
			card.IntervalDays = 1
		case 1:
			card.IntervalDays = 6
		default:
			card.IntervalDays = int(math.Ceil(float64(card.IntervalDays) * card.EaseFactor))
		}
		card.IntervalDays = min(card.IntervalDays, MaxIntervalDays)
		card.EaseFactor = min(card.EaseFactor+0.1, EaseCeiling)
		card.ReviewCount++
		card.NextReviewAt = now.AddDate(0, 0, card.IntervalDays)
	} else {
		card.IntervalDays = 0
		card.EaseFactor = max(card.EaseFactor-0.2, EaseFloor)
		card.ReviewCount = 0
		card.Lapses++
		card.NextReviewAt = now.Add(RelearnDelay)
	}

	card.IntervalTag = string(outcome.Grade)
	card.LastReviewedAt = &now
}

// Exponential doubles the interval with every consecutive success. An
// explicit grade replaces the computed interval.
type Exponential struct{}

var gradeIntervals = map[Grade]time.Duration{
	GradeAgain: time.Minute,
	GradeHard:  10 * time.Minute,
	GradeGood:  24 * time.Hour,
	GradeEasy:  48 * time.Hour,
}

func (Exponential) Name() string { return "exponential" }

func (Exponential) Apply(card *db.Flashcard, outcome Outcome, now time.Time) {
	if card == nil {
		return
	}

	if outcome.remembered() {
		card.IntervalDays = min(int(1)<<min(card.ReviewCount, 16), MaxIntervalDays)
		card.ReviewCount++
	} else {
		card.IntervalDays = 1
		card.ReviewCount = max(card.ReviewCount-1, 0)
		card.Lapses++
	}
	next := time.Duration(card.IntervalDays) * 24 * time.Hour

	if d, ok := gradeIntervals[outcome.Grade]; ok {
		next = d
		card.IntervalDays = int(d / (24 * time.Hour))
	}

	card.IntervalTag = string(outcome.Grade)
	card.NextReviewAt = now.Add(next)
	card.LastReviewedAt = &now
}

// Reset returns card to its never-reviewed state, due immediately.
func Reset(card *db.Flashcard, now time.Time) {
	if card == nil {
		return
	}
	card.ReviewCount = 0
	card.LastReviewedAt = nil
	card.NextReviewAt = now
	card.EaseFactor = InitialEase
	card.IntervalDays = 0
	card.IntervalTag = ""
	card.Lapses = 0
}
