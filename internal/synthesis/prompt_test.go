package synthesis

import (
	"strings"
	"testing"
)

func TestBuildUserPrompt_KeepsArticleOrder(t *testing.T) {
	t.Parallel()

	prompt, err := BuildUserPrompt(sampleRequest(), 12000)
	if err != nil {
		t.Fatalf("BuildUserPrompt returned error: %v", err)
	}
	first := strings.Index(prompt, "article_id=12")
	second := strings.Index(prompt, "article_id=13")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("expected articles in request order, got prompt:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Excerpt: Acme recalled 40,000 scooters.") {
		t.Fatalf("expected excerpt in prompt:\n%s", prompt)
	}
}

func TestBuildUserPrompt_TruncatesToBudget(t *testing.T) {
	t.Parallel()

	req := sampleRequest()
	req.Articles[0].Excerpt = strings.Repeat("battery fire investigation continues ", 400)

	systemTokens, err := CountTokens(systemPrompt)
	if err != nil {
		t.Fatalf("CountTokens returned error: %v", err)
	}
	maxTokens := systemTokens + responseTokenReserve + 300

	prompt, err := BuildUserPrompt(req, maxTokens)
	if err != nil {
		t.Fatalf("BuildUserPrompt returned error: %v", err)
	}
	count, err := CountTokens(prompt)
	if err != nil {
		t.Fatalf("CountTokens returned error: %v", err)
	}
	if count > 300 {
		t.Fatalf("expected prompt within 300 tokens, got %d", count)
	}
	if !strings.Contains(prompt, "Headline: Acme recalls scooters after battery fires") {
		t.Fatalf("expected headlines to survive truncation:\n%s", prompt)
	}
}

func TestBuildUserPrompt_RequiresArticles(t *testing.T) {
	t.Parallel()

	if _, err := BuildUserPrompt(Request{}, 1000); err == nil {
		t.Fatalf("expected error for empty request")
	}
}
