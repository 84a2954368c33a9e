package agent

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/wardenlabs/warden/internal/entropy"
	"github.com/wardenlabs/warden/internal/provider"
	"github.com/wardenlabs/warden/internal/tool"
)

// DefaultMaxIterations is the soft iteration budget when none is configured.
const DefaultMaxIterations = 10

// hardIterationCap bounds the elastic endurance extension: the loop may run
// past its soft budget while making progress, but never past this.
const hardIterationCap = 25

// repeatBatchThreshold is how many identical consecutive tool-call batches
// trip the loop breaker.
const repeatBatchThreshold = 3

// identicalErrorThreshold is how many consecutive identical failures of one
// tool trip the loop breaker. A *different* error resets the counter: a new
// failure mode means the model is still exploring, not stuck.
const identicalErrorThreshold = 3

// StopReason explains why a loop run ended.
type StopReason string

const (
	// StopAnswer means the model produced a final answer (possibly carrying
	// a clarification or forge signal).
	StopAnswer StopReason = "answer"
	// StopInterrupt means a circuit breaker halted the run early.
	StopInterrupt StopReason = "interrupt"
	// StopExhausted means the iteration budget ran out.
	StopExhausted StopReason = "exhausted"
)

// Result is the outcome of one loop run. FinalText is always set, even on
// interrupt or exhaustion; the embedded control marker lets callers
// distinguish escalation from an ordinary answer without text heuristics.
type Result struct {
	FinalText    string
	Signal       Signal
	Reason       StopReason
	Iterations   int
	ToolCalls    int
	InputTokens  int64
	OutputTokens int64
}

// Config assembles one orchestrator instance.
type Config struct {
	Caller        provider.Caller
	Registry      *tool.Registry
	Monitor       *entropy.Monitor
	WorkDir       string
	MissionID     string
	SystemPrompt  string
	MaxIterations int
	MaxTokens     int
	Log           zerolog.Logger
}

// Loop is the orchestrator: it drives iterative model rounds, executes
// requested tools strictly sequentially, feeds every observation to the
// stagnation monitor, and halts early when a breaker trips.
type Loop struct {
	caller        provider.Caller
	registry      *tool.Registry
	monitor       *entropy.Monitor
	workDir       string
	missionID     string
	systemPrompt  string
	maxIterations int
	maxTokens     int
	log           zerolog.Logger
}

// NewLoop builds a Loop from config, applying defaults.
func NewLoop(cfg Config) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Monitor == nil {
		cfg.Monitor = entropy.NewMonitor(entropy.DefaultWindowSize)
	}
	return &Loop{
		caller:        cfg.Caller,
		registry:      cfg.Registry,
		monitor:       cfg.Monitor,
		workDir:       cfg.WorkDir,
		missionID:     cfg.MissionID,
		systemPrompt:  cfg.SystemPrompt,
		maxIterations: cfg.MaxIterations,
		maxTokens:     cfg.MaxTokens,
		log:           cfg.Log,
	}
}

// Run drives the loop for one objective. It returns an error only when the
// provider chain is exhausted or the context is cancelled; every other
// outcome, including interrupts and budget exhaustion, is a Result with
// FinalText set.
func (l *Loop) Run(ctx context.Context, objective string) (*Result, error) {
	soft := l.maxIterations
	hard := soft * 5 / 2
	if hard > hardIterationCap {
		hard = hardIterationCap
	}
	if hard < soft {
		hard = soft
	}

	var messages []provider.Message
	if l.systemPrompt != "" {
		messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: l.systemPrompt})
	}
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: objective})

	res := &Result{}
	// consecutive identical errors per tool, for failure attribution
	toolErrors := make(map[string][]string)
	lastBatchHash := ""
	batchRepeats := 0

	for res.Iterations < hard {
		res.Iterations++

		if res.Iterations > soft {
			l.log.Debug().Int("iteration", res.Iterations).Int("soft", soft).
				Msg("past soft iteration budget, endurance mode")
			messages = append(messages, provider.Message{
				Role: provider.RoleUser,
				Content: fmt.Sprintf("Diagnostic hint: you have exceeded %d iterations. "+
					"Suspected issue: logic loop or capability gap. "+
					"Check whether you are repeating the same failing steps.", soft),
			})
		}

		req := &provider.Request{
			Messages:  messages,
			MaxTokens: l.maxTokens,
		}
		// The last allowed round gets no tools, forcing a textual wrap-up.
		if res.Iterations < hard {
			req.Tools = l.registry.Schemas()
		}

		resp, err := l.caller.Call(ctx, req)
		if err != nil {
			return nil, err
		}
		res.InputTokens += resp.Usage.InputTokens
		res.OutputTokens += resp.Usage.OutputTokens

		if !resp.HasToolCalls() {
			return l.finish(res, resp.Text), nil
		}

		batchHash := hashBatch(resp.ToolCalls)
		if batchHash == lastBatchHash {
			batchRepeats++
			if batchRepeats >= repeatBatchThreshold {
				l.log.Warn().Str("batch", batchHash).Msg("identical tool-call batch repeated, interrupting")
				return l.interrupt(res, fmt.Sprintf(
					"%s Caught in a loop executing the same tool calls (%s). Stopping to request a new strategy.",
					MarkerInterrupt, batchHash)), nil
			}
		} else {
			batchRepeats = 0
		}
		lastBatchHash = batchHash

		messages = append(messages, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		// Tool calls execute strictly sequentially in request order.
		for _, call := range resp.ToolCalls {
			res.ToolCalls++
			out := l.registry.Execute(ctx, call.Name, call.Arguments)
			l.log.Debug().Str("tool", call.Name).Bool("error", out.IsError).Msg("tool executed")

			messages = append(messages, provider.Message{
				Role:       provider.RoleTool,
				Content:    out.Content,
				ToolCallID: call.ID,
				IsError:    out.IsError,
			})

			l.monitor.Capture(out.Content, l.workDir, l.missionID)
			if l.monitor.IsStagnant() {
				l.log.Warn().Str("tool", call.Name).Msg("stagnation window full, interrupting")
				return l.interrupt(res, fmt.Sprintf(
					"%s Effective state has not changed across %d consecutive observations. "+
						"Stopping to request a new strategy.",
					MarkerInterrupt, l.monitor.WindowSize())), nil
			}

			if out.IsError {
				compressed := compressError(out.Content)
				if prev := toolErrors[call.Name]; len(prev) > 0 && prev[len(prev)-1] != compressed {
					// New failure mode: the model is exploring, not stuck.
					toolErrors[call.Name] = nil
				}
				toolErrors[call.Name] = append(toolErrors[call.Name], compressed)

				if len(toolErrors[call.Name]) >= identicalErrorThreshold {
					l.log.Warn().Str("tool", call.Name).Int("failures", len(toolErrors[call.Name])).
						Msg("identical tool failures, interrupting")
					return l.interrupt(res, fmt.Sprintf(
						"%s Tool %s failed %d times in a row with the same error. Stopping to replan.",
						MarkerInterrupt, call.Name, len(toolErrors[call.Name]))), nil
				}
			} else {
				toolErrors[call.Name] = nil
			}
		}
	}

	return l.exhausted(res, toolErrors, batchRepeats), nil
}

func (l *Loop) finish(res *Result, text string) *Result {
	res.FinalText = text
	res.Signal = DecodeSignal(text)
	if res.Signal.Kind == SignalInterrupt {
		res.Reason = StopInterrupt
	} else {
		res.Reason = StopAnswer
	}
	return res
}

func (l *Loop) interrupt(res *Result, text string) *Result {
	res.FinalText = text
	res.Signal = DecodeSignal(text)
	res.Reason = StopInterrupt
	return res
}

func (l *Loop) exhausted(res *Result, toolErrors map[string][]string, batchRepeats int) *Result {
	var b strings.Builder
	fmt.Fprintf(&b, "I could not complete the objective within %d iterations.\n", res.Iterations)
	b.WriteString("[SYSTEM_DIAGNOSTIC_REPORT]\n")
	fmt.Fprintf(&b, "- Reason: iteration limit reached (%d)\n", res.Iterations)
	for name, errs := range toolErrors {
		if len(errs) > 0 {
			fmt.Fprintf(&b, "- Tool failure: %s: %s\n", name, errs[len(errs)-1])
		}
	}
	if batchRepeats > 0 {
		fmt.Fprintf(&b, "- Loop warning: repetitive tool calls detected (%d times)\n", batchRepeats)
	}
	b.WriteString("Review the diagnostics above and intervene.")

	res.FinalText = b.String()
	res.Signal = DecodeSignal(res.FinalText)
	res.Reason = StopExhausted
	return res
}

// hashBatch fingerprints one iteration's tool-call set for repeat detection.
func hashBatch(calls []provider.ToolCall) string {
	parts := make([]string, 0, len(calls))
	for _, c := range calls {
		parts = append(parts, c.Name+":"+string(c.Arguments))
	}
	return strings.Join(parts, "|")
}

// compressError normalizes an error observation for the identical-failure
// comparison so log noise does not mask a genuinely repeated error. The cut
// lands on a rune boundary so diagnostics never carry a torn sequence.
func compressError(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 200 {
		return s
	}
	cut := 200
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
