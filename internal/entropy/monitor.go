// Package entropy detects stagnation loops by fingerprinting effective state.
// A fingerprint covers the last tool output, the working directory, and the
// active mission id. Hashing the state tuple instead of comparing raw error
// text means superficially different failures ("file A not found" vs "file B
// not found") do not trip the breaker, while a genuinely repeated no-op does.
package entropy

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// Status classifies how much the observed state has been changing.
type Status string

const (
	// StatusInitializing means fewer than two samples have been captured.
	StatusInitializing Status = "initializing"
	// StatusVolatile means recent states are changing (healthy).
	StatusVolatile Status = "volatile"
	// StatusStable means at least half the window is identical (warning).
	StatusStable Status = "stable"
	// StatusStagnant means the full window is identical (circuit breaker).
	StatusStagnant Status = "stagnant"
)

// Report summarizes the current stagnation analysis.
type Report struct {
	Status          Status
	RepetitionCount int
	WindowSize      int
	LastHash        string
}

// Monitor keeps a bounded FIFO of state fingerprints.
// One Monitor is created per orchestrator session and reset between missions.
type Monitor struct {
	mu         sync.Mutex
	windowSize int
	history    []string
}

// DefaultWindowSize is the number of identical samples required to declare
// stagnation when no explicit size is configured.
const DefaultWindowSize = 3

// NewMonitor creates a Monitor with the given window size.
// Sizes below 2 fall back to DefaultWindowSize.
func NewMonitor(windowSize int) *Monitor {
	if windowSize < 2 {
		windowSize = DefaultWindowSize
	}
	return &Monitor{
		windowSize: windowSize,
		history:    make([]string, 0, windowSize),
	}
}

// Capture appends a fingerprint of (toolOutput, cwd, missionID) to the
// window, evicting the oldest entry once the window is full.
func (m *Monitor) Capture(toolOutput, cwd, missionID string) {
	state := "TO:" + strings.TrimSpace(toolOutput) +
		"|CWD:" + strings.TrimSpace(cwd) +
		"|MID:" + strings.TrimSpace(missionID)

	sum := sha256.Sum256([]byte(state))
	fingerprint := hex.EncodeToString(sum[:])

	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, fingerprint)
	if len(m.history) > m.windowSize {
		m.history = m.history[1:]
	}
}

// IsStagnant reports whether the window is full and every entry is identical.
func (m *Monitor) IsStagnant() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) < m.windowSize {
		return false
	}
	first := m.history[0]
	for _, h := range m.history[1:] {
		if h != first {
			return false
		}
	}
	return true
}

// Analyze counts consecutive identical entries from the newest backward and
// classifies the window.
func (m *Monitor) Analyze() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) < 2 {
		return Report{Status: StatusInitializing, WindowSize: m.windowSize}
	}

	last := m.history[len(m.history)-1]
	repetitions := 1
	for i := len(m.history) - 2; i >= 0; i-- {
		if m.history[i] != last {
			break
		}
		repetitions++
	}

	status := StatusVolatile
	switch {
	case repetitions >= m.windowSize:
		status = StatusStagnant
	case repetitions*2 >= m.windowSize:
		status = StatusStable
	}

	return Report{
		Status:          status,
		RepetitionCount: repetitions,
		WindowSize:      m.windowSize,
		LastHash:        last[:8],
	}
}

// Reset clears the window. Called between missions.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = m.history[:0]
}

// WindowSize returns the configured window size.
func (m *Monitor) WindowSize() int {
	return m.windowSize
}
