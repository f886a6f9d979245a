package synthesis

import (
	"strconv"
	"strings"
)

const (
	FallbackProviderName = "fallback"
	fallbackSectionTitle = "Coverage"
)

// Fallback builds a degraded result straight from the articles: the first
// article supplies title and summary, and one section concatenates every
// excerpt tagged with its source. An empty excerpt leaves a bare tag, so every
// member stays visible. It carries no entities, connections or impacts.
func Fallback(req Request) *Result {
	result := &Result{Sections: []Section{{Title: fallbackSectionTitle}}}
	if len(req.Articles) == 0 {
		result.Title = "Untitled story"
		result.Sections[0].Content = "No coverage available."
		return result
	}

	first := req.Articles[0]
	result.Title = strings.TrimSpace(first.Title)
	result.Summary = strings.TrimSpace(first.Excerpt)

	var content strings.Builder
	citations := make([]Citation, 0, len(req.Articles))
	for _, article := range req.Articles {
		source := strings.TrimSpace(article.Source)
		if content.Len() > 0 {
			content.WriteString("\n\n")
		}
		content.WriteString("[")
		content.WriteString(source)
		content.WriteString("]")
		if text := strings.TrimSpace(article.Excerpt); text != "" {
			content.WriteString(" ")
			content.WriteString(text)
		}

		citations = append(citations, Citation{
			Source:     source,
			ArticleRef: ArticleRef(strconv.FormatInt(article.ID, 10)),
		})
	}
	result.Sections[0].Content = content.String()
	result.Sections[0].Citations = citations
	return result
}
