package ingest

import (
	"strings"
	"sync"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	lingua "github.com/pemistahl/lingua-go"
	"golang.org/x/net/html"
)

const (
	maxExcerptRunes = 2000
	unknownLanguage = "und"
)

// StripHTML reduces feed markup to plain text with collapsed whitespace.
// Script and style bodies are dropped; block elements become word breaks.
func StripHTML(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if !strings.ContainsAny(trimmed, "<&") {
		return collapseSpace(trimmed)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(trimmed))
	if err != nil {
		return collapseSpace(trimmed)
	}
	doc.Find("script, style, noscript").Remove()
	for _, node := range doc.Find("br, p, div, li, h1, h2, h3, h4").Nodes {
		if node.Parent != nil {
			node.Parent.InsertBefore(&html.Node{Type: html.TextNode, Data: " "}, node)
		}
	}
	return collapseSpace(doc.Text())
}

func collapseSpace(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return strings.TrimSpace(string(runes[:limit]))
}

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// DetectISO6391 returns a two-letter language code, or "" when the sample is
// too short or ambiguous.
func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < 6 {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			WithPreloadedLanguageModels().
			Build()
	})
	return detector
}

// resolveLanguage prefers the declared tag's primary subtag ("en" from
// "en_US"), then detection, then "und".
func resolveLanguage(declared *string, title, excerpt string) string {
	if declared != nil {
		if code := primarySubtag(*declared); code != "" {
			return code
		}
	}
	if code := DetectISO6391(strings.TrimSpace(title + " " + excerpt)); code != "" {
		return code
	}
	return unknownLanguage
}

func primarySubtag(raw string) string {
	tag := strings.ToLower(strings.TrimSpace(raw))
	tag = strings.ReplaceAll(tag, "_", "-")
	if dash := strings.IndexByte(tag, '-'); dash >= 0 {
		tag = tag[:dash]
	}
	if len(tag) < 2 || len(tag) > 3 {
		return ""
	}
	for _, r := range tag {
		if r < 'a' || r > 'z' {
			return ""
		}
	}
	return tag
}
