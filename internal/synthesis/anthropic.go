package synthesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = anthropic.Model("claude-haiku-4-5")

type AnthropicProvider struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int
}

func NewAnthropicProvider(apiKey, model string, maxPromptTokens int) *AnthropicProvider {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	resolved := anthropic.Model(strings.TrimSpace(model))
	if resolved == "" {
		resolved = defaultAnthropicModel
	}
	return &AnthropicProvider{
		client:    &client,
		model:     resolved,
		maxTokens: maxPromptTokens,
	}
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

func (p *AnthropicProvider) ModelName() string {
	return string(p.model)
}

func (p *AnthropicProvider) Synthesize(ctx context.Context, req Request) (*Result, error) {
	userPrompt, err := BuildUserPrompt(req, p.maxTokens)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: responseTokenReserve,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API error: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("no text in anthropic response")
	}
	return ParseResult([]byte(text.String()))
}
