package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/wardenlabs/warden/internal/jobs"
	"github.com/wardenlabs/warden/internal/provider"
)

// Shell runs external commands through the background job runtime. The
// "execute" action is synchronous under the timeout policy; "spawn", "poll",
// "list" and "kill" drive long-lived processes without blocking the loop.
type Shell struct {
	WorkDir string
	Jobs    *jobs.Manager
}

const maxShellOutput = 30000

func (t *Shell) Name() string { return "shell" }

func (t *Shell) Schema() provider.ToolSchema {
	return provider.ToolSchema{
		Name: t.Name(),
		Description: "Run shell commands. Action 'execute' runs synchronously and returns output; " +
			"'spawn' starts a long-running command in the background and returns a job id; " +
			"'poll' fetches new output and status for a job; 'list' shows jobs; 'kill' terminates a job.",
		Parameters: objectSchema(map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"execute", "spawn", "poll", "list", "kill"},
				"description": "What to do (default: execute)",
			},
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command (for execute and spawn)",
			},
			"job_id": map[string]any{
				"type":        "string",
				"description": "Job id (for poll and kill)",
			},
			"active_only": map[string]any{
				"type":        "boolean",
				"description": "For list: only show running jobs (default true)",
			},
		}),
	}
}

func (t *Shell) Execute(ctx context.Context, input json.RawMessage) Result {
	var params struct {
		Action     string `json:"action"`
		Command    string `json:"command"`
		JobID      string `json:"job_id"`
		ActiveOnly *bool  `json:"active_only"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf("Invalid parameters: %v", err)
	}

	switch params.Action {
	case "", "execute":
		return t.execute(ctx, params.Command)
	case "spawn":
		return t.spawn(params.Command)
	case "poll":
		return t.poll(params.JobID)
	case "list":
		activeOnly := true
		if params.ActiveOnly != nil {
			activeOnly = *params.ActiveOnly
		}
		return t.list(activeOnly)
	case "kill":
		return t.kill(params.JobID)
	default:
		return Errorf("Unknown action: %s", params.Action)
	}
}

func (t *Shell) execute(ctx context.Context, command string) Result {
	if command == "" {
		return Errorf("command is required for execute")
	}

	output, err := t.Jobs.Run(ctx, command, t.WorkDir)
	if err != nil {
		var timeout *jobs.TimeoutError
		if errors.As(err, &timeout) {
			return Errorf("%v. Use action 'spawn' for long-running commands.", timeout)
		}
		return Errorf("%s\nError: %v", truncate(output), err)
	}
	return Result{Content: truncate(output)}
}

func (t *Shell) spawn(command string) Result {
	if command == "" {
		return Errorf("command is required for spawn")
	}

	jobID, err := t.Jobs.Spawn(command, t.WorkDir)
	if err != nil {
		return Errorf("Failed to spawn job: %v", err)
	}
	return Result{Content: fmt.Sprintf("Started background job %s. Use action 'poll' to check on it.", jobID)}
}

func (t *Shell) poll(jobID string) Result {
	if jobID == "" {
		return Errorf("job_id is required for poll")
	}

	res, err := t.Jobs.Poll(jobID)
	if err != nil {
		return Errorf("Poll failed: %v", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Job %s: %s (elapsed %s)\n", res.JobID, res.Status, res.Elapsed.Round(1e9))
	if res.Status != jobs.StatusRunning {
		fmt.Fprintf(&b, "Exit code: %d\n", res.ExitCode)
	}
	if res.NewStdout != "" {
		fmt.Fprintf(&b, "--- stdout ---\n%s\n", truncate(res.NewStdout))
	}
	if res.NewStderr != "" {
		fmt.Fprintf(&b, "--- stderr ---\n%s\n", truncate(res.NewStderr))
	}
	return Result{Content: b.String(), IsError: res.Status == jobs.StatusFailed}
}

func (t *Shell) list(activeOnly bool) Result {
	summaries := t.Jobs.List(activeOnly)
	if len(summaries) == 0 {
		return Result{Content: "No jobs."}
	}

	var b strings.Builder
	for _, s := range summaries {
		fmt.Fprintf(&b, "%s  %-10s  %s  (%s)\n", s.JobID, s.Status, s.Command, s.Elapsed.Round(1e9))
	}
	return Result{Content: b.String()}
}

func (t *Shell) kill(jobID string) Result {
	if jobID == "" {
		return Errorf("job_id is required for kill")
	}

	if err := t.Jobs.Kill(jobID); err != nil {
		return Errorf("Kill failed: %v", err)
	}
	return Result{Content: fmt.Sprintf("Job %s terminated.", jobID)}
}

func truncate(s string) string {
	if len(s) <= maxShellOutput {
		return s
	}
	cut := maxShellOutput
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n... (output truncated)"
}
