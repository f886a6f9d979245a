package pipeline

import (
	"strings"
	"unicode"
)

const minTokenRunes = 3

var stopwords = buildStopwords(
	"the", "and", "for", "are", "but", "not", "you", "all", "any", "can",
	"had", "her", "was", "one", "our", "out", "has", "have", "been", "his",
	"how", "its", "may", "new", "now", "old", "see", "two", "who", "did",
	"get", "him", "let", "say", "she", "too", "use", "that", "with", "this",
	"from", "they", "will", "would", "there", "their", "what", "about", "which", "when",
	"were", "said", "into", "than", "them", "then", "these", "some", "could", "other",
	"after", "over", "also", "more", "most", "just",
)

func buildStopwords(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, word := range words {
		out[word] = struct{}{}
	}
	return out
}

// Tokenize lowercases text, drops every rune that is not a letter, digit or
// space, splits on whitespace and keeps tokens longer than two runes that are
// not stopwords. Order and duplicates are preserved.
func Tokenize(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if len([]rune(field)) < minTokenRunes {
			continue
		}
		if _, stop := stopwords[field]; stop {
			continue
		}
		tokens = append(tokens, field)
	}
	return tokens
}

// ArticleTokens tokenizes the article title and excerpt together.
func ArticleTokens(article Article) []string {
	return Tokenize(article.Title + " " + article.Excerpt)
}
