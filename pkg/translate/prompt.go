package translate

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

const (
	batchSystemPrompt  = "You are a translator. Respond with numbered translations."
	singleSystemPrompt = "You are a translator. Respond only with translations."
)

// LanguageName renders a language tag as an English name for prompts.
// Unknown tags are returned unchanged.
func LanguageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}

func withContext(word string, contexts map[string]string) string {
	if c := strings.TrimSpace(contexts[word]); c != "" {
		return fmt.Sprintf("%s (Context: %s)", word, c)
	}
	return word
}

func numberedPrompt(words []string, contexts map[string]string, source, target string) Prompt {
	var list strings.Builder
	for i, w := range words {
		if i > 0 {
			list.WriteByte('\n')
		}
		fmt.Fprintf(&list, "%d. %s", i+1, withContext(w, contexts))
	}
	return Prompt{
		System: batchSystemPrompt,
		User: fmt.Sprintf("Translate these %s words to %s.\nReturn ONLY the numbered translations:\n%s",
			LanguageName(source), LanguageName(target), list.String()),
		MaxTokens: 40 * len(words),
	}
}

func singlePrompt(word string, contexts map[string]string, source, target string) Prompt {
	return Prompt{
		System: singleSystemPrompt,
		User: fmt.Sprintf("You are a precise translator. Translate this %s word to %s. Return ONLY the translation:\n%s",
			LanguageName(source), LanguageName(target), withContext(word, contexts)),
		MaxTokens: 20,
	}
}

// parseNumbered maps "<n>. text" lines onto n-1. Lines without a valid index
// are ignored; indexes never answered stay empty.
func parseNumbered(response string, n int) []string {
	out := make([]string, n)
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		num, rest, ok := strings.Cut(line, ".")
		if !ok {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(num))
		if err != nil || idx < 1 || idx > n {
			continue
		}
		if value := cleanTranslation(rest); value != "" && out[idx-1] == "" {
			out[idx-1] = value
		}
	}
	return out
}

func cleanTranslation(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, " (Context:"); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "\"'«»“”")
	return strings.TrimSpace(s)
}
