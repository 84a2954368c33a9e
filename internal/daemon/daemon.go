// Package daemon drives autonomous mission progress: a tick loop that
// resumes the active mission, runs one orchestrator round against it, and
// persists the outcome back into the mission tree. Stopping the daemon does
// not cancel in-flight background jobs or sub-tasks; they are fire-and-forget
// by design and their only backstop is their own bounds.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/wardenlabs/warden/internal/agent"
	"github.com/wardenlabs/warden/internal/mission"
)

// Runner executes one orchestrator run. Satisfied by *agent.Loop.
type Runner interface {
	Run(ctx context.Context, objective string) (*agent.Result, error)
}

// RunnerFactory builds a Runner bound to a mission, so each tick gets a
// fresh conversation and a stagnation window keyed to that mission.
type RunnerFactory func(m *mission.Mission) (Runner, error)

// DefaultTickInterval is how often the daemon looks for work.
const DefaultTickInterval = 10 * time.Second

// Daemon owns the tick loop.
type Daemon struct {
	store          *mission.Store
	newRunner      RunnerFactory
	signals        *SignalManager
	tickInterval   time.Duration
	errorThreshold int
	log            zerolog.Logger
}

// Config assembles a Daemon.
type Config struct {
	Store          *mission.Store
	NewRunner      RunnerFactory
	Signals        *SignalManager
	TickInterval   time.Duration
	ErrorThreshold int
	Log            zerolog.Logger
}

// New builds a Daemon from config, applying defaults.
func New(cfg Config) *Daemon {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = mission.DefaultErrorThreshold
	}
	return &Daemon{
		store:          cfg.Store,
		newRunner:      cfg.NewRunner,
		signals:        cfg.Signals,
		tickInterval:   cfg.TickInterval,
		errorThreshold: cfg.ErrorThreshold,
		log:            cfg.Log,
	}
}

// Tick performs one autonomous step: fetch the active mission, check its
// failure budget, run one orchestrator round, persist the outcome. A tick
// with no active mission is a heartbeat and returns nil.
func (d *Daemon) Tick(ctx context.Context) error {
	m, err := d.store.Active()
	if err != nil {
		return fmt.Errorf("fetch active mission: %w", err)
	}
	if m == nil {
		d.log.Debug().Msg("heartbeat: no active mission")
		return nil
	}

	d.log.Info().Str("mission", m.ID).Str("objective", m.Objective).Msg("resuming mission")

	// Mission-level circuit breaker: a mission over budget is paused, not
	// retried forever.
	if m.ErrorCount >= d.errorThreshold {
		d.log.Warn().Str("mission", m.ID).Int("errors", m.ErrorCount).
			Msg("mission exceeded error budget, pausing")
		paused := mission.StatusPaused
		reason := "auto-paused: error budget exhausted"
		return d.store.Apply(m.ID, mission.Update{Status: &paused, LastError: &reason})
	}

	runner, err := d.newRunner(m)
	if err != nil {
		return d.recordFailure(m, fmt.Sprintf("build runner: %v", err))
	}

	res, err := runner.Run(ctx, autonomousPrompt(m))
	if err != nil {
		return d.recordFailure(m, err.Error())
	}

	switch res.Reason {
	case agent.StopAnswer:
		snapshot := map[string]string{
			"last_run":    time.Now().UTC().Format(time.RFC3339),
			"last_output": clip(res.FinalText, 200),
		}
		if err := d.store.Apply(m.ID, mission.Update{ContextSnapshot: snapshot}); err != nil {
			return err
		}
		if err := d.store.RecordSuccess(m.ID); err != nil {
			return err
		}
		d.log.Info().Str("mission", m.ID).Int("iterations", res.Iterations).
			Int("tool_calls", res.ToolCalls).Msg("mission step succeeded")
		return nil

	default:
		// Interrupt and exhaustion both count against the failure budget.
		return d.recordFailure(m, clip(res.FinalText, 500))
	}
}

func (d *Daemon) recordFailure(m *mission.Mission, reason string) error {
	d.log.Warn().Str("mission", m.ID).Str("reason", clip(reason, 120)).Msg("mission step failed")
	err := d.store.RecordFailure(m.ID, reason, d.errorThreshold)
	var exceeded *mission.ThresholdExceededError
	if errors.As(err, &exceeded) {
		d.log.Warn().Str("mission", m.ID).Int("errors", exceeded.ErrorCount).
			Msg("mission auto-paused")
		// Not process-fatal: the mission is parked, the daemon keeps ticking.
		return nil
	}
	return err
}

// Run drives Tick on an interval until the context is cancelled, an OS
// signal arrives, or a kill signal file appears. A pause signal file skips
// ticks without exiting.
func (d *Daemon) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(d.tickInterval)
	defer ticker.Stop()

	d.log.Info().Dur("interval", d.tickInterval).Msg("daemon started")

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("daemon stopping: context cancelled")
			return ctx.Err()
		case sig := <-sigCh:
			d.log.Info().Str("signal", sig.String()).Msg("daemon stopping")
			return nil
		case <-ticker.C:
			if d.signals != nil {
				if d.signals.ShouldStop() {
					d.log.Info().Msg("daemon stopping: kill signal file")
					return nil
				}
				if d.signals.ShouldPause() {
					d.log.Debug().Msg("paused: skipping tick")
					continue
				}
			}
			if err := d.Tick(ctx); err != nil {
				d.log.Error().Err(err).Msg("tick failed")
			}
		}
	}
}

// autonomousPrompt builds the mission context injected when the daemon acts
// without a human in the loop.
func autonomousPrompt(m *mission.Mission) string {
	snapshot := "{}"
	if len(m.ContextSnapshot) > 0 {
		if blob, err := json.Marshal(m.ContextSnapshot); err == nil {
			snapshot = string(blob)
		}
	}
	return fmt.Sprintf(`[MISSION_CONTROL_OVERRIDE]
You are running in AUTONOMOUS MODE.
Current Mission Objective: %q
Mission Status: %s
Context Snapshot: %s

TASK:
1. Review the objective and current context.
2. Decide the NEXT STEP to advance the mission.
3. Execute the necessary tools.
4. If you need to stop for now, summarize progress in your final answer.
5. DO NOT wait for user input. You ARE the user.`,
		m.Objective, m.Status, snapshot)
}

// clip shortens s to at most n bytes, backing up to a rune boundary so a
// persisted last_error or snapshot never ends mid-sequence.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
