package synthesis

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

const (
	promptVersion        = "v1"
	defaultMaxTokens     = 12000
	initialExcerptRunes  = 1600
	minimumExcerptRunes  = 120
	responseTokenReserve = 2048
)

const systemPrompt = `You are a news desk editor building an event record from several reports of the same event.

Rules:
1. Use only facts present in the reports. Keep numbers, names and dates exact.
2. Write a neutral title and a two to three sentence summary.
3. Write one or more sections. Every section cites the reports it draws on by source name and article id.
4. Extract named entities. type must be one of: person, company, location, commodity, sector, policy, event. role is primary, secondary or mentioned.
5. Extract connections between extracted entities only. relationship is a short snake_case verb phrase such as supplies_to or regulates. strength is between 0 and 1.
6. Predict sector impacts. severity is an integer 1-5, confidence is between 0 and 1.

Output JSON only, no other text:
{
  "title": "...",
  "summary": "...",
  "sections": [{"title": "...", "content": "...", "citations": [{"source": "...", "article_ref": "123"}]}],
  "entities": [{"name": "...", "type": "company", "role": "primary", "context": "..."}],
  "connections": [{"source": "...", "target": "...", "relationship": "...", "label": "...", "evidence": "...", "strength": 0.7}],
  "impacts": [{"sector": "...", "type": "positive|negative|mixed", "severity": 3, "prediction": "...", "confidence": 0.6}]
}`

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
	codecErr  error
)

func loadCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// CountTokens counts cl100k_base tokens in text.
func CountTokens(text string) (int, error) {
	enc, err := loadCodec()
	if err != nil {
		return 0, fmt.Errorf("load tokenizer: %w", err)
	}
	ids, _, err := enc.Encode(text)
	if err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return len(ids), nil
}

// BuildUserPrompt renders the article list, halving excerpt length until the
// system and user prompts together fit maxTokens minus a response reserve.
// When even the shortest excerpts do not fit, excerpts are dropped.
func BuildUserPrompt(req Request, maxTokens int) (string, error) {
	if len(req.Articles) == 0 {
		return "", fmt.Errorf("at least one article is required")
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	systemTokens, err := CountTokens(systemPrompt)
	if err != nil {
		return "", err
	}
	budget := maxTokens - systemTokens - responseTokenReserve
	if budget < 0 {
		budget = 0
	}

	for limit := initialExcerptRunes; limit >= minimumExcerptRunes; limit /= 2 {
		prompt := renderArticles(req.Articles, limit)
		count, err := CountTokens(prompt)
		if err != nil {
			return "", err
		}
		if count <= budget {
			return prompt, nil
		}
	}
	return renderArticles(req.Articles, 0), nil
}

func renderArticles(articles []ArticleInput, excerptRunes int) string {
	var sb strings.Builder
	sb.WriteString("Reports, newest first:\n\n")
	for i, article := range articles {
		fmt.Fprintf(&sb, "%d. [article_id=%d] [source=%s]", i+1, article.ID, strings.TrimSpace(article.Source))
		if !article.PublishedAt.IsZero() {
			fmt.Fprintf(&sb, " [published=%s]", article.PublishedAt.UTC().Format("2006-01-02T15:04Z"))
		}
		sb.WriteString("\nHeadline: ")
		sb.WriteString(strings.TrimSpace(article.Title))
		if excerptRunes > 0 {
			if excerpt := truncateRunes(strings.TrimSpace(article.Excerpt), excerptRunes); excerpt != "" {
				sb.WriteString("\nExcerpt: ")
				sb.WriteString(excerpt)
			}
		}
		if url := strings.TrimSpace(article.URL); url != "" {
			sb.WriteString("\nURL: ")
			sb.WriteString(url)
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}
