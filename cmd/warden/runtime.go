package main

import (
	"context"
	"fmt"

	"github.com/wardenlabs/warden/internal/agent"
	"github.com/wardenlabs/warden/internal/entropy"
	"github.com/wardenlabs/warden/internal/jobs"
	"github.com/wardenlabs/warden/internal/provider"
	"github.com/wardenlabs/warden/internal/subtask"
	"github.com/wardenlabs/warden/internal/tool"
)

const orchestratorPrompt = `You are Warden, an autonomous engineering agent working inside a real
project directory. Work the objective to completion using the tools
provided. Prefer small verifiable steps; check your own work before
declaring it done.

Control markers, to be used alone and deliberately:
- ` + agent.MarkerClarification + ` when you cannot proceed without input from the operator.
- ` + agent.MarkerForge + ` followed by a description, when the objective needs a capability you do not have.
- ` + agent.MarkerInterrupt + ` when your current strategy is failing and continuing would waste effort.

Long-running commands (dev servers, watchers) must be started with the
shell tool's spawn action, never execute. Delegate self-contained
sub-objectives with spawn_subtask and collect them with check_subtask.`

const subTaskPrompt = `You are a focused worker agent. Complete the single objective you are
given using the tools provided, then answer with the result. You cannot
delegate further; do everything yourself. If the objective is impossible
as stated, say so plainly in your answer.`

// runtime wires the full stack for one process: provider chain, job
// manager, sub-task worker, and tool registries.
type runtime struct {
	router     *provider.Router
	jobs       *jobs.Manager
	dispatcher *subtask.Dispatcher
	workDir    string
}

func buildRuntime(workDir string) (*runtime, error) {
	router, err := provider.NewRouter(cfg.Registrations(), log)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		router:  router,
		jobs:    jobs.NewManager(cfg.JobPolicy(), log),
		workDir: workDir,
	}
	rt.dispatcher = subtask.NewDispatcher(rt.newSubTaskRunner, cfg.Jobs.MaxConcurrent, log)
	return rt, nil
}

// registry builds the full tool set for a top-level orchestrator.
func (rt *runtime) registry() *tool.Registry {
	reg := rt.baseRegistry()
	reg.Register(&tool.SpawnSubTask{Dispatcher: rt.dispatcher})
	reg.Register(&tool.CheckSubTask{Dispatcher: rt.dispatcher})
	return reg
}

// baseRegistry builds the tool set without delegation. Sub-task workers
// get this one so a child cannot spawn children of its own.
func (rt *runtime) baseRegistry() *tool.Registry {
	reg := tool.NewRegistry()
	reg.Register(&tool.Shell{WorkDir: rt.workDir, Jobs: rt.jobs})
	reg.Register(&tool.ReadFile{WorkDir: rt.workDir})
	reg.Register(&tool.WriteFile{WorkDir: rt.workDir})
	reg.Register(&tool.ListDir{WorkDir: rt.workDir})
	return reg
}

// newLoop builds a top-level orchestrator with its own stagnation window.
func (rt *runtime) newLoop(missionID string) *agent.Loop {
	return agent.NewLoop(agent.Config{
		Caller:        rt.router,
		Registry:      rt.registry(),
		Monitor:       entropy.NewMonitor(cfg.Entropy.Window),
		WorkDir:       rt.workDir,
		MissionID:     missionID,
		SystemPrompt:  orchestratorPrompt,
		MaxIterations: cfg.Loop.MaxIterations,
		MaxTokens:     cfg.Loop.MaxTokens,
		Log:           log,
	})
}

// newSubTaskRunner builds an isolated worker pinned to the consumable
// tier with a smaller iteration budget than its parent.
func (rt *runtime) newSubTaskRunner() (subtask.Runner, error) {
	caller, err := rt.router.Consumable()
	if err != nil {
		return nil, err
	}
	loop := agent.NewLoop(agent.Config{
		Caller:        caller,
		Registry:      rt.baseRegistry(),
		Monitor:       entropy.NewMonitor(cfg.Entropy.Window),
		WorkDir:       rt.workDir,
		SystemPrompt:  subTaskPrompt,
		MaxIterations: cfg.Loop.SubTaskMaxIterations,
		MaxTokens:     cfg.Loop.MaxTokens,
		Log:           log,
	})
	return &subTaskRunner{loop: loop}, nil
}

// subTaskRunner adapts an orchestrator loop to the worker contract:
// only a clean answer counts as success.
type subTaskRunner struct {
	loop *agent.Loop
}

func (r *subTaskRunner) Run(ctx context.Context, objective string) (string, error) {
	res, err := r.loop.Run(ctx, objective)
	if err != nil {
		return "", err
	}
	if res.Reason != agent.StopAnswer {
		return "", fmt.Errorf("stopped without an answer (%s): %s", res.Reason, res.FinalText)
	}
	return res.FinalText, nil
}
