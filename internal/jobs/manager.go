// Package jobs runs external commands as background processes that never
// block the caller. Each job gets its own process group so the whole command
// subtree can be signaled as a unit; output is drained on demand by polling
// rather than pushed via callbacks.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Status is the lifecycle state of a job. Transitions are monotonic:
// RUNNING moves to exactly one of COMPLETED, FAILED, or TERMINATED, and a
// terminal status never changes on later polls.
type Status string

const (
	StatusRunning    Status = "RUNNING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusTerminated Status = "TERMINATED"
)

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("job not found")

// TimeoutError reports that a synchronous command exceeded its budget and
// was killed.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command timed out after %s: %s", e.Timeout, e.Command)
}

// Policy controls synchronous command timeouts. KeepRunning names command
// prefixes that are deliberately not killed when the timeout expires; they
// are converted to background jobs instead. The orphaned-process risk of
// that exemption is accepted and visible in the job list.
type Policy struct {
	Timeout     time.Duration
	KeepRunning []string
}

// DefaultTimeout bounds synchronous commands with no configured budget.
const DefaultTimeout = 2 * time.Minute

// Exempt reports whether the command matches a keep-running prefix.
func (p Policy) Exempt(command string) bool {
	trimmed := strings.TrimSpace(command)
	for _, prefix := range p.KeepRunning {
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// Job is the handle to one spawned process.
type Job struct {
	ID        string
	Command   string
	Dir       string
	StartedAt time.Time

	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	status   Status
	exitCode int
	waitErr  error
	stdout   strings.Builder
	stderr   strings.Builder
	// read offsets for incremental polling
	stdoutOff int
	stderrOff int
}

// lockedWriter serializes writes into a job buffer under the job's mutex,
// so polls can read partial output while the process is still writing.
type lockedWriter struct {
	mu  *sync.Mutex
	buf *strings.Builder
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

// PollResult is one poll observation: output produced since the previous
// poll plus the freshest status.
type PollResult struct {
	JobID     string
	Status    Status
	NewStdout string
	NewStderr string
	ExitCode  int
	Elapsed   time.Duration
}

// Summary is one row of a job listing.
type Summary struct {
	JobID   string
	Command string
	Status  Status
	Elapsed time.Duration
}

// Manager owns the process-local job registry. Jobs are not persisted; a
// restart forgets them (their processes keep running in their own groups).
type Manager struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	policy Policy
	log    zerolog.Logger
}

// NewManager creates a job manager with the given timeout policy.
func NewManager(policy Policy, log zerolog.Logger) *Manager {
	if policy.Timeout <= 0 {
		policy.Timeout = DefaultTimeout
	}
	return &Manager{
		jobs:   make(map[string]*Job),
		policy: policy,
		log:    log,
	}
}

// Spawn launches a shell command in its own process group and returns a job
// id immediately. The command writes straight into the job's mutex-guarded
// buffers; Wait returning means every byte the process produced has landed,
// so a terminal poll never misses trailing output.
func (m *Manager) Spawn(command, dir string) (string, error) {
	job := &Job{
		ID:        "job_" + uuid.NewString()[:8],
		Command:   command,
		Dir:       dir,
		StartedAt: time.Now(),
		status:    StatusRunning,
		done:      make(chan struct{}),
	}

	cmd := exec.Command("sh", "-c", command)
	if dir != "" {
		cmd.Dir = dir
	}
	// Own process group: kill can signal the whole command subtree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = &lockedWriter{mu: &job.mu, buf: &job.stdout}
	cmd.Stderr = &lockedWriter{mu: &job.mu, buf: &job.stderr}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start command: %w", err)
	}
	job.cmd = cmd

	go func() {
		err := cmd.Wait()
		job.mu.Lock()
		job.waitErr = err
		job.mu.Unlock()
		close(job.done)
	}()

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.log.Debug().Str("job", job.ID).Str("command", command).Msg("spawned background job")
	return job.ID, nil
}

// Poll drains output produced since the last poll and refreshes status.
// The first poll observing process exit latches the terminal status; later
// polls return the same status and exit code unchanged.
func (m *Manager) Poll(jobID string) (*PollResult, error) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return job.poll(), nil
}

func (j *Job) poll() *PollResult {
	j.mu.Lock()
	defer j.mu.Unlock()

	// Latch the terminal status exactly once.
	if j.status == StatusRunning {
		select {
		case <-j.done:
			j.exitCode = exitCodeOf(j.cmd, j.waitErr)
			if j.exitCode == 0 {
				j.status = StatusCompleted
			} else {
				j.status = StatusFailed
			}
		default:
		}
	}

	stdout := j.stdout.String()
	stderr := j.stderr.String()
	res := &PollResult{
		JobID:     j.ID,
		Status:    j.status,
		NewStdout: stdout[j.stdoutOff:],
		NewStderr: stderr[j.stderrOff:],
		ExitCode:  j.exitCode,
		Elapsed:   time.Since(j.StartedAt),
	}
	j.stdoutOff = len(stdout)
	j.stderrOff = len(stderr)
	return res
}

func exitCodeOf(cmd *exec.Cmd, waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// List returns a summary of jobs, newest first. Every RUNNING job is polled
// first so the listing reflects current reality, not the last observation.
func (m *Manager) List(activeOnly bool) []Summary {
	m.mu.Lock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.Unlock()

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].StartedAt.After(jobs[k].StartedAt)
	})

	var out []Summary
	for _, j := range jobs {
		res := j.poll()
		if activeOnly && res.Status != StatusRunning {
			continue
		}
		out = append(out, Summary{
			JobID:   j.ID,
			Command: j.Command,
			Status:  res.Status,
			Elapsed: res.Elapsed,
		})
	}
	return out
}

func (m *Manager) get(jobID string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	return j, ok
}

// Kill signals the job's entire process group and latches TERMINATED.
// Killing an already-terminal job is a no-op.
func (m *Manager) Kill(jobID string) error {
	job, ok := m.get(jobID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}

	job.mu.Lock()
	defer job.mu.Unlock()

	if job.status != StatusRunning {
		return nil
	}
	if job.cmd.Process != nil {
		// Negative pid signals the whole process group.
		if err := syscall.Kill(-job.cmd.Process.Pid, syscall.SIGKILL); err != nil {
			return fmt.Errorf("kill process group: %w", err)
		}
	}
	job.status = StatusTerminated
	job.exitCode = -1
	m.log.Debug().Str("job", jobID).Msg("terminated background job")
	return nil
}

// Run executes a command synchronously under the timeout policy and returns
// combined output. On timeout, a keep-running-exempt command is left alive
// and adopted as a background job; anything else is killed and reported as
// *TimeoutError.
func (m *Manager) Run(ctx context.Context, command, dir string) (string, error) {
	jobID, err := m.Spawn(command, dir)
	if err != nil {
		return "", err
	}
	job, _ := m.get(jobID)

	timer := time.NewTimer(m.policy.Timeout)
	defer timer.Stop()

	select {
	case <-job.done:
		res := job.poll()
		output := combineOutput(res.NewStdout, res.NewStderr)
		if res.Status == StatusFailed {
			return output, fmt.Errorf("command exited with code %d", res.ExitCode)
		}
		return output, nil

	case <-ctx.Done():
		m.Kill(jobID)
		return "", ctx.Err()

	case <-timer.C:
		if m.policy.Exempt(command) {
			res := job.poll()
			m.log.Info().Str("job", jobID).Str("command", command).
				Msg("timeout reached for keep-running command, continuing in background")
			return fmt.Sprintf("Command still running after %s; continuing as background job %s.\n%s",
				m.policy.Timeout, jobID, combineOutput(res.NewStdout, res.NewStderr)), nil
		}
		m.Kill(jobID)
		return "", &TimeoutError{Command: command, Timeout: m.policy.Timeout}
	}
}

func combineOutput(stdout, stderr string) string {
	if stderr == "" {
		return stdout
	}
	if stdout == "" {
		return stderr
	}
	return stdout + "\n" + stderr
}
