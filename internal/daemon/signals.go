package daemon

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SignalManager coordinates out-of-band control of a running daemon through
// files in the .warden/signals directory. A "kill" file stops the tick loop;
// a "pause" file suspends ticks without exiting. Files are watched with
// fsnotify and double-checked with a stat fallback, so a missed event never
// strands the daemon.
type SignalManager struct {
	signalsDir string

	mu          sync.RWMutex
	stopSignal  bool
	pauseSignal bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewSignalManager sets up the signal directory under workDir/.warden and
// starts watching it. Watcher setup failure is not fatal; the stat fallback
// still works.
func NewSignalManager(workDir string) (*SignalManager, error) {
	signalsDir := filepath.Join(workDir, ".warden", "signals")
	if err := os.MkdirAll(signalsDir, 0755); err != nil {
		return nil, err
	}

	sm := &SignalManager{
		signalsDir: signalsDir,
		done:       make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return sm, nil
	}
	if err := watcher.Add(signalsDir); err != nil {
		watcher.Close()
		return sm, nil
	}
	sm.watcher = watcher
	go sm.watch()

	return sm, nil
}

func (sm *SignalManager) watch() {
	for {
		select {
		case <-sm.done:
			return
		case event, ok := <-sm.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			sm.mu.Lock()
			switch filepath.Base(event.Name) {
			case "kill":
				sm.stopSignal = true
			case "pause":
				sm.pauseSignal = true
			}
			sm.mu.Unlock()
		case <-sm.watcher.Errors:
			// keep watching
		}
	}
}

// ShouldStop reports whether a kill signal has been received.
func (sm *SignalManager) ShouldStop() bool {
	if _, err := os.Stat(filepath.Join(sm.signalsDir, "kill")); err == nil {
		sm.mu.Lock()
		sm.stopSignal = true
		sm.mu.Unlock()
	}

	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.stopSignal
}

// ShouldPause reports whether the pause file is present. Pause is
// reversible: removing the file resumes ticks on the next check.
func (sm *SignalManager) ShouldPause() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, err := os.Stat(filepath.Join(sm.signalsDir, "pause")); err == nil {
		sm.pauseSignal = true
	} else {
		sm.pauseSignal = false
	}
	return sm.pauseSignal
}

// SendKill creates the kill signal file.
func (sm *SignalManager) SendKill() error {
	return os.WriteFile(filepath.Join(sm.signalsDir, "kill"),
		[]byte(time.Now().Format(time.RFC3339)), 0644)
}

// SendPause creates the pause signal file.
func (sm *SignalManager) SendPause() error {
	return os.WriteFile(filepath.Join(sm.signalsDir, "pause"),
		[]byte(time.Now().Format(time.RFC3339)), 0644)
}

// ClearSignals removes signal files and resets in-memory state.
func (sm *SignalManager) ClearSignals() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.stopSignal = false
	sm.pauseSignal = false
	os.Remove(filepath.Join(sm.signalsDir, "kill"))
	os.Remove(filepath.Join(sm.signalsDir, "pause"))
}

// Close stops the watcher.
func (sm *SignalManager) Close() {
	close(sm.done)
	if sm.watcher != nil {
		sm.watcher.Close()
	}
}
