package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	openAIBaseURL = "https://api.openai.com/v1"
	grokBaseURL   = "https://api.x.ai/v1"
)

// openAIClient speaks the chat-completions wire format. Both the openai and
// grok providers use it; they differ only in default host.
type openAIClient struct {
	kind    Kind
	baseURL string
	apiKey  string
	http    *http.Client
}

func newOpenAIClient(kind Kind, opts Options) *openAIClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		if kind == KindGrok {
			baseURL = grokBaseURL
		} else {
			baseURL = openAIBaseURL
		}
	}
	return &openAIClient{
		kind:    kind,
		baseURL: baseURL,
		apiKey:  opts.APIKey,
		http:    defaultHTTPClient(opts.HTTPClient),
	}
}

func (c *openAIClient) Kind() Kind { return c.kind }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []chatToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *openAIClient) Invoke(ctx context.Context, req Request) (*Completion, error) {
	messages := make([]chatMessage, 0, 2)
	if req.Role != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.Role})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// Surface the context error so deadline expiry classifies as timeout
		// rather than a generic transport failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("post chat completion: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(data), 200)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("parse response: no choices returned")
	}

	completion := &Completion{
		Content: parsed.Choices[0].Message.Content,
		Model:   parsed.Model,
	}
	for _, tc := range parsed.Choices[0].Message.ToolCalls {
		completion.ToolTrace = append(completion.ToolTrace, ToolCall{
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return completion, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
