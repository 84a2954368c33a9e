// Package provider routes model calls across registered LLM backends with
// deterministic, cost-tiered failover. The primary tier serves the main
// orchestrator; the consumable tier is a segregated low-cost pool reserved
// for delegated sub-tasks.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Tier segregates backends by cost class.
type Tier string

const (
	// TierPrimary backends serve the top-level orchestrator.
	TierPrimary Tier = "primary"
	// TierConsumable backends are the low-cost/free pool for sub-tasks.
	TierConsumable Tier = "consumable"
)

// Kind identifies the wire protocol a registration speaks.
type Kind string

const (
	// KindAnthropic uses the Anthropic Messages API (optionally via Bedrock).
	KindAnthropic Kind = "anthropic"
	// KindOpenAI uses any OpenAI-compatible /v1/chat/completions endpoint
	// (OpenAI, DeepSeek, OpenRouter, local proxies).
	KindOpenAI Kind = "openai"
	// KindOllama uses a local Ollama server.
	KindOllama Kind = "ollama"
)

// Registration describes one configured backend.
type Registration struct {
	// Name is a unique label used in logs and failover reporting.
	Name string
	// Kind selects the client implementation.
	Kind Kind
	// APIKey is the credential. Backends without a credential are skipped
	// during selection (Ollama needs none).
	APIKey string
	// BaseURL overrides the default endpoint, where applicable.
	BaseURL string
	// Model is the default model identifier for this backend.
	Model string
	// Tier places the backend in the primary or consumable pool.
	Tier Tier
	// Priority orders backends within a tier; lower runs first.
	Priority int
	// UseBedrock routes an Anthropic registration through AWS Bedrock.
	UseBedrock bool
	// AWSRegion is the Bedrock region (e.g. "us-west-2").
	AWSRegion string
	// AWSProfile is an optional shared-config profile for Bedrock.
	AWSProfile string
}

// Role is a conversation turn role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one conversation turn.
type Message struct {
	Role    Role
	Content string
	// ToolCalls is set on assistant turns that requested tool invocations.
	ToolCalls []ToolCall
	// ToolCallID links a tool-role turn to the call it answers.
	ToolCallID string
	// IsError marks a tool-role turn as an error observation.
	IsError bool
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolSchema describes one tool offered to the model.
type ToolSchema struct {
	Name        string
	Description string
	// Parameters is a JSON-schema "object": {"type":"object","properties":...}.
	Parameters map[string]any
}

// Request is one logical model call.
type Request struct {
	Messages  []Message
	Tools     []ToolSchema
	MaxTokens int
}

// Usage reports token consumption for a single response.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Response is the decoded model output: free text, tool invocations, or both.
type Response struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
	// Provider is the name of the backend that produced this response.
	Provider string
}

// HasToolCalls reports whether the model requested any tool invocations.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Backend is a single model endpoint.
type Backend interface {
	// Name returns the registration name.
	Name() string
	// Credentialed reports whether the backend has what it needs to be called.
	Credentialed() bool
	// Chat performs one model call.
	Chat(ctx context.Context, req *Request) (*Response, error)
}

// Caller is the narrow calling surface the execution loop depends on.
// Both Router (failover across a tier) and Fixed (a pinned backend) satisfy it.
type Caller interface {
	Call(ctx context.Context, req *Request) (*Response, error)
}

// ExhaustedError is returned when every candidate backend in priority order
// has failed for one logical request.
type ExhaustedError struct {
	Attempts []Attempt
}

// Attempt records one failed backend call during failover.
type Attempt struct {
	Provider string
	Err      error
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "provider chain exhausted: no credentialed providers registered"
	}
	var b strings.Builder
	b.WriteString("provider chain exhausted after ")
	fmt.Fprintf(&b, "%d attempt(s):", len(e.Attempts))
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, " %s: %v;", a.Provider, a.Err)
	}
	return strings.TrimSuffix(b.String(), ";")
}

// TokenTracker accumulates token usage across calls.
type TokenTracker struct {
	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	calls     int
}

// Add records usage from one call.
func (t *TokenTracker) Add(u Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += u.InputTokens
	t.outputTok += u.OutputTokens
	t.calls++
}

// Total returns accumulated input and output tokens.
func (t *TokenTracker) Total() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTok, t.outputTok
}

// Calls returns the number of calls recorded.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Reset clears the tracker.
func (t *TokenTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok, t.outputTok, t.calls = 0, 0, 0
}
