// Package subtask delegates isolated sub-objectives to child runners on a
// single persistent background worker. Dispatch is fire-and-forget: there is
// no cancellation path, the only backstop is the child runner's own
// iteration cap. Outcomes are memoized so repeated status checks after
// completion are idempotent.
package subtask

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Status is the observable state of a dispatched sub-task.
type Status string

const (
	StatusNotFound  Status = "not_found"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Outcome is the memoized result of one sub-task.
type Outcome struct {
	TaskID string
	Name   string
	Status Status
	Result string
	Err    string
}

// Runner executes one delegated objective in full isolation: blank
// conversation state, its own iteration budget, consumable-tier provider.
type Runner interface {
	Run(ctx context.Context, objective string) (string, error)
}

// RunnerFactory builds a fresh, isolated Runner per dispatch.
type RunnerFactory func() (Runner, error)

type task struct {
	id        string
	name      string
	objective string
}

// Dispatcher owns the background worker. Construct exactly one per process
// and pass it by reference to anything that dispatches sub-tasks; the worker
// outlives every individual dispatch and is never torn down.
type Dispatcher struct {
	factory RunnerFactory
	submit  chan task
	sem     *semaphore.Weighted
	log     zerolog.Logger

	mu       sync.Mutex
	outcomes map[string]*Outcome
}

// DefaultMaxConcurrent bounds how many sub-tasks execute at once on the worker.
const DefaultMaxConcurrent = 4

// NewDispatcher starts the persistent worker and returns the dispatcher.
func NewDispatcher(factory RunnerFactory, maxConcurrent int, log zerolog.Logger) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	d := &Dispatcher{
		factory:  factory,
		submit:   make(chan task, 64),
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		log:      log,
		outcomes: make(map[string]*Outcome),
	}
	go d.worker()
	return d
}

// Dispatch hands an objective to the worker and returns a task id
// immediately. The sub-task cannot be cancelled once dispatched.
func (d *Dispatcher) Dispatch(objective, name string) string {
	id := "task_" + uuid.NewString()[:8]

	d.mu.Lock()
	d.outcomes[id] = &Outcome{TaskID: id, Name: name, Status: StatusRunning}
	d.mu.Unlock()

	d.submit <- task{id: id, name: name, objective: objective}
	d.log.Debug().Str("task", id).Str("name", name).Msg("dispatched sub-task")
	return id
}

// Check reports the sub-task's status without blocking. Once the task
// resolves, the same memoized payload is returned on every call.
func (d *Dispatcher) Check(taskID string) Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()

	out, ok := d.outcomes[taskID]
	if !ok {
		return Outcome{TaskID: taskID, Status: StatusNotFound}
	}
	return *out
}

// worker is the single goroutine owning sub-task scheduling. It admits each
// submitted task under the semaphore and runs it on its own goroutine, so
// tasks execute concurrently but only the worker ever starts one.
func (d *Dispatcher) worker() {
	for t := range d.submit {
		if err := d.sem.Acquire(context.Background(), 1); err != nil {
			d.resolve(t.id, "", fmt.Errorf("admit sub-task: %w", err))
			continue
		}
		go func(t task) {
			defer d.sem.Release(1)
			d.execute(t)
		}(t)
	}
}

func (d *Dispatcher) execute(t task) {
	defer func() {
		if r := recover(); r != nil {
			d.resolve(t.id, "", fmt.Errorf("sub-task panicked: %v", r))
		}
	}()

	runner, err := d.factory()
	if err != nil {
		d.resolve(t.id, "", fmt.Errorf("build runner: %w", err))
		return
	}

	result, err := runner.Run(context.Background(), t.objective)
	d.resolve(t.id, result, err)
}

// resolve memoizes the outcome exactly once.
func (d *Dispatcher) resolve(taskID, result string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out, ok := d.outcomes[taskID]
	if !ok || out.Status != StatusRunning {
		return
	}
	if err != nil {
		out.Status = StatusFailed
		out.Err = err.Error()
		d.log.Warn().Str("task", taskID).Err(err).Msg("sub-task failed")
		return
	}
	out.Status = StatusCompleted
	out.Result = result
	d.log.Debug().Str("task", taskID).Msg("sub-task completed")
}
