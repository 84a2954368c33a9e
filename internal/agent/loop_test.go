package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/wardenlabs/warden/internal/entropy"
	"github.com/wardenlabs/warden/internal/provider"
	"github.com/wardenlabs/warden/internal/tool"
)

// scriptedCaller returns canned responses in order, repeating the last one,
// and records every request it sees.
type scriptedCaller struct {
	responses []*provider.Response
	err       error
	requests  []*provider.Request
}

func (c *scriptedCaller) Call(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	idx := len(c.requests) - 1
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	resp := c.responses[idx]
	resp.Usage = provider.Usage{InputTokens: 100, OutputTokens: 20}
	return resp, nil
}

// countingTool records executions and returns scripted results.
type countingTool struct {
	name    string
	results []tool.Result
	calls   int
}

func (t *countingTool) Name() string { return t.name }

func (t *countingTool) Schema() provider.ToolSchema {
	return provider.ToolSchema{
		Name:        t.name,
		Description: "test tool",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
	}
}

func (t *countingTool) Execute(ctx context.Context, input json.RawMessage) tool.Result {
	idx := t.calls
	t.calls++
	if idx >= len(t.results) {
		idx = len(t.results) - 1
	}
	return t.results[idx]
}

func toolCallResp(name, args string) *provider.Response {
	return &provider.Response{
		ToolCalls: []provider.ToolCall{{ID: "tc1", Name: name, Arguments: json.RawMessage(args)}},
	}
}

func newTestLoop(caller provider.Caller, tools []tool.Tool, maxIter, window int) *Loop {
	registry := tool.NewRegistry()
	for _, t := range tools {
		registry.Register(t)
	}
	return NewLoop(Config{
		Caller:        caller,
		Registry:      registry,
		Monitor:       entropy.NewMonitor(window),
		WorkDir:       "/tmp",
		MissionID:     "m1",
		MaxIterations: maxIter,
		Log:           zerolog.Nop(),
	})
}

func TestRun_ImmediateAnswer(t *testing.T) {
	caller := &scriptedCaller{responses: []*provider.Response{{Text: "All done."}}}
	loop := newTestLoop(caller, nil, 5, 3)

	res, err := loop.Run(context.Background(), "do the thing")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Reason != StopAnswer {
		t.Errorf("Reason = %q, want %q", res.Reason, StopAnswer)
	}
	if res.FinalText != "All done." {
		t.Errorf("FinalText = %q", res.FinalText)
	}
	if res.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", res.Iterations)
	}
	if res.InputTokens != 100 || res.OutputTokens != 20 {
		t.Errorf("tokens = %d/%d, want 100/20", res.InputTokens, res.OutputTokens)
	}
}

func TestRun_ToolCallThenAnswer(t *testing.T) {
	ct := &countingTool{name: "probe", results: []tool.Result{{Content: "probe output"}}}
	caller := &scriptedCaller{responses: []*provider.Response{
		toolCallResp("probe", `{"target":"db"}`),
		{Text: "Probe confirms healthy."},
	}}
	loop := newTestLoop(caller, []tool.Tool{ct}, 5, 3)

	res, err := loop.Run(context.Background(), "check the database")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if ct.calls != 1 {
		t.Errorf("tool executed %d times, want 1", ct.calls)
	}
	if res.ToolCalls != 1 {
		t.Errorf("ToolCalls = %d, want 1", res.ToolCalls)
	}
	if res.Reason != StopAnswer {
		t.Errorf("Reason = %q, want %q", res.Reason, StopAnswer)
	}

	// The second request must carry the observation back to the model.
	second := caller.requests[1]
	found := false
	for _, msg := range second.Messages {
		if msg.Role == provider.RoleTool && msg.Content == "probe output" {
			found = true
		}
	}
	if !found {
		t.Error("tool observation missing from follow-up request")
	}
}

func TestRun_ToolErrorIsObservationNotCrash(t *testing.T) {
	ct := &countingTool{name: "probe", results: []tool.Result{
		{Content: "Error: connection refused", IsError: true},
	}}
	caller := &scriptedCaller{responses: []*provider.Response{
		toolCallResp("probe", `{}`),
		{Text: "Recovered with a different approach."},
	}}
	loop := newTestLoop(caller, []tool.Tool{ct}, 5, 3)

	res, err := loop.Run(context.Background(), "check the database")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Reason != StopAnswer {
		t.Errorf("Reason = %q, want %q", res.Reason, StopAnswer)
	}

	second := caller.requests[1]
	found := false
	for _, msg := range second.Messages {
		if msg.Role == provider.RoleTool && msg.IsError {
			found = true
		}
	}
	if !found {
		t.Error("error observation not marked as error in follow-up request")
	}
}

func TestRun_StagnationInterrupts(t *testing.T) {
	// Same tool output, same cwd, same mission: the window fills and the
	// breaker fires before the iteration budget is spent.
	ct := &countingTool{name: "probe", results: []tool.Result{{Content: "nothing changed"}}}
	caller := &scriptedCaller{responses: []*provider.Response{
		toolCallResp("probe", `{"n":1}`),
		toolCallResp("probe", `{"n":2}`),
		toolCallResp("probe", `{"n":3}`),
	}}
	loop := newTestLoop(caller, []tool.Tool{ct}, 10, 3)

	res, err := loop.Run(context.Background(), "investigate")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Reason != StopInterrupt {
		t.Errorf("Reason = %q, want %q", res.Reason, StopInterrupt)
	}
	if res.Signal.Kind != SignalInterrupt {
		t.Errorf("Signal.Kind = %v, want %v", res.Signal.Kind, SignalInterrupt)
	}
	if !strings.Contains(res.FinalText, MarkerInterrupt) {
		t.Errorf("FinalText = %q, want interrupt marker", res.FinalText)
	}
	if res.Iterations != 3 {
		t.Errorf("Iterations = %d, want 3", res.Iterations)
	}
}

func TestRun_VaryingOutputDoesNotTripStagnation(t *testing.T) {
	ct := &countingTool{name: "probe", results: []tool.Result{
		{Content: "output one"},
		{Content: "output two"},
		{Content: "output three"},
	}}
	caller := &scriptedCaller{responses: []*provider.Response{
		toolCallResp("probe", `{"n":1}`),
		toolCallResp("probe", `{"n":2}`),
		toolCallResp("probe", `{"n":3}`),
		{Text: "Investigation complete."},
	}}
	loop := newTestLoop(caller, []tool.Tool{ct}, 10, 3)

	res, err := loop.Run(context.Background(), "investigate")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Reason != StopAnswer {
		t.Errorf("Reason = %q, want %q", res.Reason, StopAnswer)
	}
}

func TestRun_RepeatedBatchInterrupts(t *testing.T) {
	// Outputs differ each time so stagnation stays quiet, but the model
	// issues the identical tool-call batch every round.
	results := make([]tool.Result, 10)
	for i := range results {
		results[i] = tool.Result{Content: fmt.Sprintf("attempt %d", i)}
	}
	ct := &countingTool{name: "probe", results: results}
	caller := &scriptedCaller{responses: []*provider.Response{
		toolCallResp("probe", `{"same":true}`),
	}}
	loop := newTestLoop(caller, []tool.Tool{ct}, 10, 5)

	res, err := loop.Run(context.Background(), "investigate")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Reason != StopInterrupt {
		t.Errorf("Reason = %q, want %q", res.Reason, StopInterrupt)
	}
	if !strings.Contains(res.FinalText, "same tool calls") {
		t.Errorf("FinalText = %q, want repeated-batch explanation", res.FinalText)
	}
}

func TestRun_IdenticalErrorsInterrupt(t *testing.T) {
	ct := &countingTool{name: "deploy", results: []tool.Result{
		{Content: "Error: quota exceeded", IsError: true},
	}}
	caller := &scriptedCaller{responses: []*provider.Response{
		toolCallResp("deploy", `{"n":1}`),
		toolCallResp("deploy", `{"n":2}`),
		toolCallResp("deploy", `{"n":3}`),
	}}
	// Window larger than the error threshold so the error breaker fires first.
	loop := newTestLoop(caller, []tool.Tool{ct}, 10, 5)

	res, err := loop.Run(context.Background(), "deploy it")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Reason != StopInterrupt {
		t.Errorf("Reason = %q, want %q", res.Reason, StopInterrupt)
	}
	if !strings.Contains(res.FinalText, "deploy") || !strings.Contains(res.FinalText, "3 times") {
		t.Errorf("FinalText = %q", res.FinalText)
	}
}

func TestRun_DifferentErrorsResetCounter(t *testing.T) {
	ct := &countingTool{name: "deploy", results: []tool.Result{
		{Content: "Error: quota exceeded", IsError: true},
		{Content: "Error: quota exceeded", IsError: true},
		{Content: "Error: region unavailable", IsError: true},
		{Content: "deployed"},
	}}
	caller := &scriptedCaller{responses: []*provider.Response{
		toolCallResp("deploy", `{"n":1}`),
		toolCallResp("deploy", `{"n":2}`),
		toolCallResp("deploy", `{"n":3}`),
		toolCallResp("deploy", `{"n":4}`),
		{Text: "Deployed after retries."},
	}}
	loop := newTestLoop(caller, []tool.Tool{ct}, 10, 5)

	res, err := loop.Run(context.Background(), "deploy it")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Reason != StopAnswer {
		t.Errorf("Reason = %q, want %q (new error should reset the breaker)", res.Reason, StopAnswer)
	}
}

func TestRun_ExhaustionProducesDiagnostics(t *testing.T) {
	results := make([]tool.Result, 30)
	for i := range results {
		results[i] = tool.Result{Content: fmt.Sprintf("step %d", i)}
	}
	ct := &countingTool{name: "probe", results: results}

	// Vary arguments every round so no breaker fires before the budget ends.
	responses := make([]*provider.Response, 30)
	for i := range responses {
		responses[i] = toolCallResp("probe", fmt.Sprintf(`{"n":%d}`, i))
	}
	caller := &scriptedCaller{responses: responses}
	loop := newTestLoop(caller, []tool.Tool{ct}, 2, 5)

	res, err := loop.Run(context.Background(), "never finishes")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Reason != StopExhausted {
		t.Errorf("Reason = %q, want %q", res.Reason, StopExhausted)
	}
	// soft 2 extends to hard 5
	if res.Iterations != 5 {
		t.Errorf("Iterations = %d, want 5", res.Iterations)
	}
	if !strings.Contains(res.FinalText, "SYSTEM_DIAGNOSTIC_REPORT") {
		t.Errorf("FinalText = %q, want diagnostic report", res.FinalText)
	}

	// Past the soft budget, a diagnostic hint is injected for the model.
	last := caller.requests[len(caller.requests)-1]
	hinted := false
	for _, msg := range last.Messages {
		if strings.Contains(msg.Content, "Diagnostic hint") {
			hinted = true
		}
	}
	if !hinted {
		t.Error("no diagnostic hint injected past the soft budget")
	}

	// The final allowed round withholds tools to force a wrap-up.
	if len(last.Tools) != 0 {
		t.Errorf("final round offered %d tools, want 0", len(last.Tools))
	}
}

func TestRun_ProviderErrorSurfaces(t *testing.T) {
	caller := &scriptedCaller{err: &provider.ExhaustedError{}}
	loop := newTestLoop(caller, nil, 5, 3)

	_, err := loop.Run(context.Background(), "anything")
	var exhausted *provider.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error = %v, want *provider.ExhaustedError", err)
	}
}

func TestRun_ClarificationSignalDecoded(t *testing.T) {
	caller := &scriptedCaller{responses: []*provider.Response{
		{Text: "[CLARIFICATION_REQUIRED] Which region?"},
	}}
	loop := newTestLoop(caller, nil, 5, 3)

	res, err := loop.Run(context.Background(), "deploy")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Signal.Kind != SignalClarification {
		t.Errorf("Signal.Kind = %v, want %v", res.Signal.Kind, SignalClarification)
	}
	if res.Reason != StopAnswer {
		t.Errorf("Reason = %q, want %q", res.Reason, StopAnswer)
	}
}

func TestRun_InterruptMarkerInAnswer(t *testing.T) {
	caller := &scriptedCaller{responses: []*provider.Response{
		{Text: "[STRATEGIC_INTERRUPT_SIGNAL] Context poisoned."},
	}}
	loop := newTestLoop(caller, nil, 5, 3)

	res, err := loop.Run(context.Background(), "deploy")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Reason != StopInterrupt {
		t.Errorf("Reason = %q, want %q", res.Reason, StopInterrupt)
	}
	if res.Signal.Payload != "Context poisoned." {
		t.Errorf("Payload = %q", res.Signal.Payload)
	}
}

func TestCompressError_RuneBoundary(t *testing.T) {
	// 100 three-byte runes = 300 bytes; a 200-byte cut lands mid-rune
	// unless the truncation backs up to a boundary.
	long := strings.Repeat("日", 100)

	got := compressError(long)
	if len(got) > 200 {
		t.Errorf("len = %d, want <= 200", len(got))
	}
	if !utf8.ValidString(got) {
		t.Errorf("compressError produced invalid UTF-8: %q", got)
	}

	if short := compressError("  plain error  "); short != "plain error" {
		t.Errorf("compressError(short) = %q, want trimmed input", short)
	}
}
