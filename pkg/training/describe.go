package training

import (
	"math"
	"time"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/smith3v/pdf-word-trainer/pkg/logger"
	"golang.org/x/text/language"
)

var englishMessages = []*i18n.Message{
	{ID: "review.today", Other: "today"},
	{ID: "review.tomorrow", Other: "tomorrow"},
	{ID: "review.days", One: "in {{.Count}} day", Other: "in {{.Count}} days"},
	{ID: "review.weeks", One: "in {{.Count}} week", Other: "in {{.Count}} weeks"},
	{ID: "review.months", One: "in {{.Count}} month", Other: "in {{.Count}} months"},
	{ID: "review.years", One: "in {{.Count}} year", Other: "in {{.Count}} years"},
}

var russianMessages = []*i18n.Message{
	{ID: "review.today", Other: "сегодня"},
	{ID: "review.tomorrow", Other: "завтра"},
	{ID: "review.days", One: "через {{.Count}} день", Few: "через {{.Count}} дня", Many: "через {{.Count}} дней", Other: "через {{.Count}} дня"},
	{ID: "review.weeks", One: "через {{.Count}} неделю", Few: "через {{.Count}} недели", Many: "через {{.Count}} недель", Other: "через {{.Count}} недели"},
	{ID: "review.months", One: "через {{.Count}} месяц", Few: "через {{.Count}} месяца", Many: "через {{.Count}} месяцев", Other: "через {{.Count}} месяца"},
	{ID: "review.years", One: "через {{.Count}} год", Few: "через {{.Count}} года", Many: "через {{.Count}} лет", Other: "через {{.Count}} года"},
}

// Describer renders the time until the next review as a coarse, localized
// bucket.
type Describer struct {
	bundle *i18n.Bundle
}

func NewDescriber() *Describer {
	bundle := i18n.NewBundle(language.English)
	if err := bundle.AddMessages(language.English, englishMessages...); err != nil {
		logger.Error("failed to load english review messages", "error", err)
	}
	if err := bundle.AddMessages(language.Russian, russianMessages...); err != nil {
		logger.Error("failed to load russian review messages", "error", err)
	}
	return &Describer{bundle: bundle}
}

var defaultDescriber = NewDescriber()

// Describe uses the package default describer.
func Describe(next, now time.Time, lang string) string {
	return defaultDescriber.Describe(next, now, lang)
}

func (d *Describer) Describe(next, now time.Time, lang string) string {
	id, count := bucket(next.Sub(now))
	localizer := i18n.NewLocalizer(d.bundle, lang, "en")
	cfg := &i18n.LocalizeConfig{MessageID: id}
	if count > 0 {
		cfg.PluralCount = count
		cfg.TemplateData = map[string]any{"Count": count}
	}
	text, err := localizer.Localize(cfg)
	if err != nil {
		logger.Error("failed to localize review description", "id", id, "lang", lang, "error", err)
		return id
	}
	return text
}

func bucket(delta time.Duration) (string, int) {
	days := int(math.Round(delta.Hours() / 24))
	switch {
	case days <= 0:
		return "review.today", 0
	case days == 1:
		return "review.tomorrow", 0
	case days < 7:
		return "review.days", days
	case days < 30:
		return "review.weeks", days / 7
	case days < 365:
		return "review.months", days / 30
	default:
		return "review.years", days / 365
	}
}
