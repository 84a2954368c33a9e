package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wardenlabs/warden/internal/provider"
	"github.com/wardenlabs/warden/internal/subtask"
)

// SpawnSubTask delegates an independent sub-objective to an isolated child
// orchestrator on the background worker. Fire-and-forget: the caller gets a
// task id back immediately and discovers the outcome via check_subtask.
type SpawnSubTask struct {
	Dispatcher *subtask.Dispatcher
}

func (t *SpawnSubTask) Name() string { return "spawn_subtask" }

func (t *SpawnSubTask) Schema() provider.ToolSchema {
	return provider.ToolSchema{
		Name: t.Name(),
		Description: "Delegate an independent sub-objective to an isolated background worker. " +
			"Returns a task id immediately; the sub-task runs concurrently on a low-cost model " +
			"with its own bounded iteration budget and cannot be cancelled.",
		Parameters: objectSchema(map[string]any{
			"objective": map[string]any{
				"type":        "string",
				"description": "The self-contained objective for the sub-task",
			},
			"name": map[string]any{
				"type":        "string",
				"description": "Short label for the sub-task (optional)",
			},
		}, "objective"),
	}
}

func (t *SpawnSubTask) Execute(ctx context.Context, input json.RawMessage) Result {
	var params struct {
		Objective string `json:"objective"`
		Name      string `json:"name"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf("Invalid parameters: %v", err)
	}
	if params.Objective == "" {
		return Errorf("objective is required")
	}
	if params.Name == "" {
		params.Name = "subtask"
	}

	taskID := t.Dispatcher.Dispatch(params.Objective, params.Name)
	return Result{Content: fmt.Sprintf("Dispatched sub-task %s. Use check_subtask to retrieve the result.", taskID)}
}

// CheckSubTask reports a dispatched sub-task's status without blocking.
type CheckSubTask struct {
	Dispatcher *subtask.Dispatcher
}

func (t *CheckSubTask) Name() string { return "check_subtask" }

func (t *CheckSubTask) Schema() provider.ToolSchema {
	return provider.ToolSchema{
		Name: t.Name(),
		Description: "Check the status of a dispatched sub-task. Non-blocking: reports 'running' " +
			"until the sub-task resolves, then returns its memoized result.",
		Parameters: objectSchema(map[string]any{
			"task_id": map[string]any{
				"type":        "string",
				"description": "The task id returned by spawn_subtask",
			},
		}, "task_id"),
	}
}

func (t *CheckSubTask) Execute(ctx context.Context, input json.RawMessage) Result {
	var params struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf("Invalid parameters: %v", err)
	}
	if params.TaskID == "" {
		return Errorf("task_id is required")
	}

	out := t.Dispatcher.Check(params.TaskID)
	switch out.Status {
	case subtask.StatusNotFound:
		return Errorf("No sub-task with id %s", params.TaskID)
	case subtask.StatusRunning:
		return Result{Content: fmt.Sprintf("Sub-task %s is still running.", params.TaskID)}
	case subtask.StatusFailed:
		return Errorf("Sub-task %s failed: %s", params.TaskID, out.Err)
	default:
		return Result{Content: fmt.Sprintf("Sub-task %s completed:\n%s", params.TaskID, out.Result)}
	}
}
