package synthesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = openai.ChatModelGPT4_1Mini

type OpenAIProvider struct {
	client    *openai.Client
	model     openai.ChatModel
	maxTokens int
}

func NewOpenAIProvider(apiKey, model string, maxPromptTokens int) *OpenAIProvider {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	resolved := openai.ChatModel(strings.TrimSpace(model))
	if resolved == "" {
		resolved = defaultOpenAIModel
	}
	return &OpenAIProvider{
		client:    &client,
		model:     resolved,
		maxTokens: maxPromptTokens,
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) ModelName() string {
	return string(p.model)
}

func (p *OpenAIProvider) Synthesize(ctx context.Context, req Request) (*Result, error) {
	userPrompt, err := BuildUserPrompt(req, p.maxTokens)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: p.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}
	return ParseResult([]byte(resp.Choices[0].Message.Content))
}
