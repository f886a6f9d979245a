package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultLocalEndpoint points to a local OpenAI-compatible chat endpoint.
	DefaultLocalEndpoint = "http://127.0.0.1:8845/v1"
	DefaultLocalModel    = "qwen2.5-14b-instruct"
)

// LocalProvider synthesizes by calling an OpenAI-compatible chat completions endpoint.
type LocalProvider struct {
	endpointURL string
	model       string
	maxTokens   int
	client      *http.Client
}

func NewLocalProvider(endpoint, model string, maxPromptTokens int) *LocalProvider {
	trimmedModel := strings.TrimSpace(model)
	if trimmedModel == "" {
		trimmedModel = DefaultLocalModel
	}
	return &LocalProvider{
		endpointURL: chatCompletionsURL(normalizeEndpoint(endpoint)),
		model:       trimmedModel,
		maxTokens:   maxPromptTokens,
		client: &http.Client{
			Timeout: 180 * time.Second,
		},
	}
}

func (p *LocalProvider) Name() string {
	return "local"
}

func (p *LocalProvider) ModelName() string {
	if p == nil {
		return ""
	}
	return p.model
}

func (p *LocalProvider) Synthesize(ctx context.Context, req Request) (*Result, error) {
	if p == nil {
		return nil, fmt.Errorf("local provider is nil")
	}

	userPrompt, err := BuildUserPrompt(req, p.maxTokens)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(localChatRequest{
		Model: p.model,
		Messages: []localChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send synthesis request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read synthesis response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errPayload localChatErrorResponse
		if unmarshalErr := json.Unmarshal(respBody, &errPayload); unmarshalErr == nil {
			if msg := strings.TrimSpace(errPayload.Error.Message); msg != "" {
				return nil, fmt.Errorf("synthesis endpoint status %d: %s", resp.StatusCode, msg)
			}
		}
		return nil, fmt.Errorf("synthesis endpoint status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed localChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode synthesis response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("synthesis response missing choices")
	}

	return ParseResult([]byte(parsed.Choices[0].Message.Content))
}

type localChatRequest struct {
	Model       string             `json:"model"`
	Messages    []localChatMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
}

type localChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type localChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type localChatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func normalizeEndpoint(endpoint string) string {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return DefaultLocalEndpoint
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return DefaultLocalEndpoint
	}
	return strings.TrimRight(trimmed, "/")
}

func chatCompletionsURL(endpoint string) string {
	if strings.HasSuffix(endpoint, "/chat/completions") {
		return endpoint
	}
	return endpoint + "/chat/completions"
}
