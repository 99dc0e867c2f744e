package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/smith3v/pdf-word-trainer/pkg/logger"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const (
	DefaultMinLength = 2
	maxContextRunes  = 200
	sentenceBoundary = ".!?"
)

var (
	ErrAllPagesFailed  = errors.New("no page text could be extracted")
	ErrInvalidDocument = errors.New("invalid document")
)

// PageSource exposes the pages of a parsed document. Page numbers start at 1.
type PageSource interface {
	NumPages() int
	PageText(n int) (string, error)
}

type Options struct {
	MinLength int
}

type Token struct {
	Text      string
	Page      int
	Position  int
	Context   string
	Frequency int
}

type Result struct {
	Pages       []string
	Words       []Token
	FailedPages []int
}

// Text joins the page texts in order.
func (r *Result) Text() string {
	return strings.Join(r.Pages, "\n")
}

// Vocabulary returns the words as plain strings, in first-appearance order.
func (r *Result) Vocabulary() []string {
	out := make([]string, len(r.Words))
	for i, w := range r.Words {
		out[i] = w.Text
	}
	return out
}

var lower = cases.Lower(language.Und)

// Tokenize lowercases text, splits it on word boundaries and keeps purely
// alphabetic tokens of at least minLen runes.
func Tokenize(text string, minLen int) []string {
	if minLen <= 0 {
		minLen = DefaultMinLength
	}
	text = lower.String(norm.NFC.String(text))
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !isWordRune(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) < minLen || !isAlphabetic(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) || r == '_'
}

func isAlphabetic(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.Is(unicode.Mn, r) {
			return false
		}
	}
	return true
}

// Extract reads every page of src and builds the deduplicated vocabulary. A
// page that fails contributes no words; the document fails only when no page
// yields text.
func Extract(ctx context.Context, src PageSource, opts Options) (*Result, error) {
	n := src.NumPages()
	res := &Result{Pages: make([]string, 0, n)}
	index := make(map[string]int)
	ok := 0

	for page := 1; page <= n; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := safePageText(src, page)
		if err != nil {
			logger.Error("failed to extract page text", "page", page, "error", err)
			res.Pages = append(res.Pages, "")
			res.FailedPages = append(res.FailedPages, page)
			continue
		}
		ok++
		res.Pages = append(res.Pages, text)

		position := 0
		for _, sentence := range splitSentences(text) {
			for _, word := range Tokenize(sentence, opts.MinLength) {
				if i, seen := index[word]; seen {
					res.Words[i].Frequency++
				} else {
					index[word] = len(res.Words)
					res.Words = append(res.Words, Token{
						Text:      word,
						Page:      page,
						Position:  position,
						Context:   trimContext(sentence),
						Frequency: 1,
					})
				}
				position++
			}
		}
	}

	if ok == 0 {
		return res, ErrAllPagesFailed
	}
	return res, nil
}

func safePageText(src PageSource, page int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic reading page %d: %v", page, r)
		}
	}()
	return src.PageText(page)
}

func splitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return strings.ContainsRune(sentenceBoundary, r)
	})
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func trimContext(sentence string) string {
	sentence = strings.Join(strings.Fields(sentence), " ")
	if utf8.RuneCountInString(sentence) <= maxContextRunes {
		return sentence
	}
	runes := []rune(sentence)
	return string(runes[:maxContextRunes])
}
