package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// ollamaBackend talks to a local Ollama server. It needs no credentials,
// which makes it the natural floor of the consumable tier.
type ollamaBackend struct {
	name   string
	client *api.Client
	model  string
}

const defaultOllamaBaseURL = "http://localhost:11434"

func newOllamaBackend(reg Registration) (Backend, error) {
	baseURL := reg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama base url: %w", err)
	}
	return &ollamaBackend{
		name:   reg.Name,
		client: api.NewClient(parsed, http.DefaultClient),
		model:  reg.Model,
	}, nil
}

func (b *ollamaBackend) Name() string { return b.name }

// Credentialed is always true: a local server needs no key. Reachability is
// discovered at call time and handled by the router like any other failure.
func (b *ollamaBackend) Credentialed() bool { return true }

func (b *ollamaBackend) Chat(ctx context.Context, req *Request) (*Response, error) {
	messages := make([]api.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		wire := api.Message{Role: string(msg.Role), Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			call, err := ollamaToolCall(tc)
			if err != nil {
				return nil, err
			}
			wire.ToolCalls = append(wire.ToolCalls, call)
		}
		messages = append(messages, wire)
	}

	tools, err := ollamaTools(req.Tools)
	if err != nil {
		return nil, err
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    b.model,
		Messages: messages,
		Tools:    tools,
		Stream:   &stream,
	}

	out := &Response{}
	err = b.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		out.Text += resp.Message.Content
		for _, tc := range resp.Message.ToolCalls {
			args, err := json.Marshal(tc.Function.Arguments)
			if err != nil {
				return fmt.Errorf("encode tool arguments: %w", err)
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        fmt.Sprintf("call_%d", len(out.ToolCalls)),
				Name:      tc.Function.Name,
				Arguments: args,
			})
		}
		if resp.Done {
			out.Usage = Usage{
				InputTokens:  int64(resp.Metrics.PromptEvalCount),
				OutputTokens: int64(resp.Metrics.EvalCount),
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	return out, nil
}

// ollamaTools converts schemas through a JSON round-trip rather than naming
// the SDK's nested tool types, which have shifted across releases.
func ollamaTools(schemas []ToolSchema) (api.Tools, error) {
	if len(schemas) == 0 {
		return nil, nil
	}
	wire := make([]map[string]any, 0, len(schemas))
	for _, s := range schemas {
		wire = append(wire, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        s.Name,
				"description": s.Description,
				"parameters":  s.Parameters,
			},
		})
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encode tools: %w", err)
	}
	var tools api.Tools
	if err := json.Unmarshal(raw, &tools); err != nil {
		return nil, fmt.Errorf("convert tools: %w", err)
	}
	return tools, nil
}

func ollamaToolCall(tc ToolCall) (api.ToolCall, error) {
	args := tc.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	raw, err := json.Marshal(map[string]any{
		"function": map[string]any{
			"name":      tc.Name,
			"arguments": args,
		},
	})
	if err != nil {
		return api.ToolCall{}, fmt.Errorf("encode tool call: %w", err)
	}
	var call api.ToolCall
	if err := json.Unmarshal(raw, &call); err != nil {
		return api.ToolCall{}, fmt.Errorf("convert tool call: %w", err)
	}
	return call, nil
}
