package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// openaiBackend speaks the OpenAI-compatible /chat/completions protocol.
// It covers OpenAI itself plus the wide family of compatible endpoints
// (DeepSeek, OpenRouter, llama.cpp servers, vLLM).
type openaiBackend struct {
	name    string
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

func newOpenAIBackend(reg Registration) Backend {
	baseURL := strings.TrimSuffix(reg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &openaiBackend{
		name:    reg.Name,
		apiKey:  reg.APIKey,
		baseURL: baseURL,
		model:   reg.Model,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (b *openaiBackend) Name() string { return b.name }

func (b *openaiBackend) Credentialed() bool { return b.apiKey != "" }

// Wire types for the chat completions protocol.

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
}

type oaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
		// Arguments is a JSON-encoded string, per the protocol.
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

type oaiRequest struct {
	Model     string       `json:"model"`
	Messages  []oaiMessage `json:"messages"`
	Tools     []oaiTool    `json:"tools,omitempty"`
	MaxTokens int          `json:"max_tokens,omitempty"`
}

type oaiResponse struct {
	Choices []struct {
		Message      oaiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (b *openaiBackend) Chat(ctx context.Context, req *Request) (*Response, error) {
	payload := oaiRequest{
		Model:     b.model,
		Messages:  make([]oaiMessage, 0, len(req.Messages)),
		MaxTokens: req.MaxTokens,
	}

	for _, msg := range req.Messages {
		wire := oaiMessage{Role: string(msg.Role), Content: msg.Content}
		if msg.Role == RoleTool {
			wire.ToolCallID = msg.ToolCallID
		}
		for _, tc := range msg.ToolCalls {
			var wtc oaiToolCall
			wtc.ID = tc.ID
			wtc.Type = "function"
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = string(tc.Arguments)
			wire.ToolCalls = append(wire.ToolCalls, wtc)
		}
		payload.Messages = append(payload.Messages, wire)
	}

	for _, schema := range req.Tools {
		var tool oaiTool
		tool.Type = "function"
		tool.Function.Name = schema.Name
		tool.Function.Description = schema.Description
		tool.Function.Parameters = schema.Parameters
		payload.Tools = append(payload.Tools, tool)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)

	httpResp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chat response: %w", err)
	}

	var decoded oaiResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode chat response (status %d): %w", httpResp.StatusCode, err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		if decoded.Error != nil {
			return nil, fmt.Errorf("chat completions returned %d: %s", httpResp.StatusCode, decoded.Error.Message)
		}
		return nil, fmt.Errorf("chat completions returned %d: %s", httpResp.StatusCode, truncateBody(raw))
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("chat completions returned no choices")
	}

	choice := decoded.Choices[0].Message
	out := &Response{
		Text: choice.Content,
		Usage: Usage{
			InputTokens:  decoded.Usage.PromptTokens,
			OutputTokens: decoded.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.ToolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}

	return out, nil
}

func truncateBody(raw []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(raw))
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
