package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Sriram-PR/settle-crawler/pkg/models"
	"github.com/Sriram-PR/settle-crawler/pkg/orchestrate"
)

const stateFileName = "watch_state.json"

// TargetState is the outcome of the most recent crawl of one watched target
type TargetState struct {
	LastRunTime    time.Time          `json:"last_run_time"`
	LastRunID      string             `json:"last_run_id"`
	LastRunSuccess bool               `json:"last_run_success"`
	Termination    models.Termination `json:"termination,omitempty"`
	PagesVisited   int                `json:"pages_visited"`
	ErrorMessage   string             `json:"error_message,omitempty"`
}

// WatchState contains the persistent state for the watch scheduler
type WatchState struct {
	Targets   map[string]TargetState `json:"targets"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// StateManager handles persisting and loading watch state
type StateManager struct {
	stateDir  string
	statePath string
	state     WatchState
	mu        sync.RWMutex
}

// NewStateManager creates a new state manager
func NewStateManager(stateDir string) *StateManager {
	return &StateManager{
		stateDir:  stateDir,
		statePath: filepath.Join(stateDir, stateFileName),
		state:     WatchState{Targets: make(map[string]TargetState)},
	}
}

// Load loads the state from disk. A missing file is a fresh start.
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.state = WatchState{Targets: make(map[string]TargetState)}
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	if err := json.Unmarshal(data, &m.state); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}
	if m.state.Targets == nil {
		m.state.Targets = make(map[string]TargetState)
	}
	return nil
}

// Save writes the state to disk
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = time.Now()

	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.WriteFile(m.statePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// GetTargetState returns the state for a target name
func (m *StateManager) GetTargetState(name string) (TargetState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state.Targets[name]
	return state, ok
}

// Record stores the outcome of one crawl finished at the given time
func (m *StateManager) Record(result orchestrate.SiteResult, at time.Time) {
	state := TargetState{
		LastRunTime:    at,
		LastRunID:      result.RunID,
		LastRunSuccess: result.Success(),
	}
	if result.Error != nil {
		state.ErrorMessage = result.Error.Error()
	}
	if result.Result != nil {
		state.Termination = result.Result.Termination
		state.PagesVisited = len(result.Result.VisitedURLs)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Targets[result.Name] = state
}

// ShouldRun reports whether a target is due. Targets never run, or whose last crawl was
// cancelled, are always due.
func (m *StateManager) ShouldRun(name string, interval time.Duration, now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Targets[name]
	if !ok || state.Termination == models.TerminationCancelled {
		return true
	}
	return now.Sub(state.LastRunTime) >= interval
}

// GetNextRunTime returns when the target should next run
func (m *StateManager) GetNextRunTime(name string, interval time.Duration, now time.Time) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Targets[name]
	if !ok || state.Termination == models.TerminationCancelled {
		return now
	}
	return state.LastRunTime.Add(interval)
}
