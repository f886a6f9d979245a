package synthesis

import (
	"strings"
	"testing"
)

func TestFallback_UsesFirstArticleAndTagsEverySource(t *testing.T) {
	t.Parallel()

	result := Fallback(Request{Articles: []ArticleInput{
		{ID: 1, Title: "Acme recalls scooters", Excerpt: "Acme recalled 40,000 scooters.", Source: "wire"},
		{ID: 2, Title: "Scooter recall widens", Excerpt: "", Source: "daily"},
	}})

	if result.Title != "Acme recalls scooters" {
		t.Fatalf("unexpected title: %q", result.Title)
	}
	if result.Summary != "Acme recalled 40,000 scooters." {
		t.Fatalf("unexpected summary: %q", result.Summary)
	}
	if len(result.Sections) != 1 {
		t.Fatalf("expected one section, got %d", len(result.Sections))
	}
	content := result.Sections[0].Content
	if want := "[wire] Acme recalled 40,000 scooters.\n\n[daily]"; content != want {
		t.Fatalf("unexpected section content: %q, want %q", content, want)
	}
	if strings.Contains(content, "Scooter recall widens") {
		t.Fatalf("expected titles to stay out of the excerpt section: %q", content)
	}
	if len(result.Sections[0].Citations) != 2 || result.Sections[0].Citations[1].ArticleRef != "2" {
		t.Fatalf("unexpected citations: %+v", result.Sections[0].Citations)
	}
	if len(result.Entities) != 0 || len(result.Connections) != 0 || len(result.Impacts) != 0 {
		t.Fatalf("expected no graph extraction in fallback, got %+v", result)
	}
}

func TestFallback_EmptyRequestStillValid(t *testing.T) {
	t.Parallel()

	result := Fallback(Request{})
	if result.Title == "" || len(result.Sections) != 1 || result.Sections[0].Content == "" {
		t.Fatalf("expected a minimal non-empty result, got %+v", result)
	}
}

func TestFallback_ConcatenatesExcerptsVerbatim(t *testing.T) {
	t.Parallel()

	result := Fallback(Request{Articles: []ArticleInput{
		{ID: 1, Title: "Headline A", Excerpt: "", Source: "wire"},
		{ID: 2, Title: "Headline B", Excerpt: "body b", Source: ""},
		{ID: 3, Title: "Headline C", Excerpt: "  body c  ", Source: "daily"},
	}})

	want := "[wire]\n\n[] body b\n\n[daily] body c"
	if got := result.Sections[0].Content; got != want {
		t.Fatalf("unexpected section content: %q, want %q", got, want)
	}
	if got := result.Sections[0].Citations[1].Source; got != "" {
		t.Fatalf("expected the empty source to be kept, got %q", got)
	}
}
