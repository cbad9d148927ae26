package watch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/settle-crawler/pkg/orchestrate"
)

// Runner crawls a batch of targets; orchestrate.Orchestrator satisfies it
type Runner interface {
	Run(ctx context.Context, targets []orchestrate.Target) []orchestrate.SiteResult
}

// Scheduler re-crawls targets once their interval has elapsed since the last crawl
type Scheduler struct {
	runner   Runner
	targets  []orchestrate.Target
	interval time.Duration
	state    *StateManager
	log      *logrus.Entry
	now      func() time.Time
}

// NewScheduler creates a new watch scheduler. State is kept in stateDir across restarts.
func NewScheduler(runner Runner, targets []orchestrate.Target, interval time.Duration, stateDir string, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		runner:   runner,
		targets:  targets,
		interval: interval,
		state:    NewStateManager(stateDir),
		log:      log.WithField("component", "watch"),
		now:      time.Now,
	}
}

// Run crawls due targets until ctx is cancelled. Crawls run on the calling goroutine, so ticks
// that arrive during a crawl are coalesced.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.LoadState(); err != nil {
		s.log.Warnf("Failed to load watch state: %v (starting fresh)", err)
	}

	s.log.Infof("Starting watch mode for %d targets with interval %s", len(s.targets), FormatInterval(s.interval))
	s.logSchedule()

	s.RunDue(ctx)

	ticker := time.NewTicker(s.calculateTickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Watch scheduler shutting down...")
			return nil
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// LoadState reads the saved schedule from the state directory
func (s *Scheduler) LoadState() error {
	return s.state.Load()
}

// RunDue crawls every target that is due, records the outcomes and saves the state
func (s *Scheduler) RunDue(ctx context.Context) []orchestrate.SiteResult {
	due := s.getDueTargets()
	if len(due) == 0 {
		s.logNextRun()
		return nil
	}

	names := make([]string, len(due))
	for i, t := range due {
		names[i] = t.Name
	}
	s.log.Infof("Running crawl for %d due targets: %v", len(due), names)

	results := s.runner.Run(ctx, due)
	finished := s.now()
	for _, result := range results {
		s.state.Record(result, finished)
	}
	if err := s.state.Save(); err != nil {
		s.log.Errorf("Failed to save watch state: %v", err)
	}

	s.logNextRun()
	return results
}

func (s *Scheduler) getDueTargets() []orchestrate.Target {
	now := s.now()
	var due []orchestrate.Target
	for _, t := range s.targets {
		if s.state.ShouldRun(t.Name, s.interval, now) {
			due = append(due, t)
		}
	}
	return due
}

// calculateTickInterval returns how often to check for due targets
func (s *Scheduler) calculateTickInterval() time.Duration {
	// A tenth of the interval, clamped to [1m, 10m]
	checkInterval := s.interval / 10
	if checkInterval < time.Minute {
		checkInterval = time.Minute
	}
	if checkInterval > 10*time.Minute {
		checkInterval = 10 * time.Minute
	}
	return checkInterval
}

func (s *Scheduler) logSchedule() {
	now := s.now()
	s.log.Info("Watch schedule:")
	for _, t := range s.targets {
		state, exists := s.state.GetTargetState(t.Name)
		if !exists {
			s.log.Infof("  %s: never run, will run immediately", t.Name)
			continue
		}
		status := state.Termination.String()
		if !state.LastRunSuccess {
			status = "failed"
		}
		s.log.Infof("  %s: last run %s (%s, %d pages, run %s), next run %s",
			t.Name,
			state.LastRunTime.Format(time.RFC3339),
			status,
			state.PagesVisited,
			state.LastRunID,
			s.state.GetNextRunTime(t.Name, s.interval, now).Format(time.RFC3339))
	}
}

func (s *Scheduler) logNextRun() {
	if len(s.targets) == 0 {
		return
	}
	now := s.now()
	type nextRun struct {
		name string
		at   time.Time
	}
	runs := make([]nextRun, 0, len(s.targets))
	for _, t := range s.targets {
		runs = append(runs, nextRun{t.Name, s.state.GetNextRunTime(t.Name, s.interval, now)})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].at.Before(runs[j].at) })

	next := runs[0]
	until := next.at.Sub(now)
	if until < 0 {
		until = 0
	}
	s.log.Infof("Next crawl: %s in %v (at %s)", next.name, until.Round(time.Second), next.at.Format("15:04:05"))
}

// TargetStatus is the watch view of one target
type TargetStatus struct {
	Name        string
	State       TargetState
	NextRunTime time.Time
	NeverRun    bool
}

// GetStatus returns the current status of all watched targets, in target order
func (s *Scheduler) GetStatus() []TargetStatus {
	now := s.now()
	status := make([]TargetStatus, 0, len(s.targets))
	for _, t := range s.targets {
		state, exists := s.state.GetTargetState(t.Name)
		status = append(status, TargetStatus{
			Name:        t.Name,
			State:       state,
			NextRunTime: s.state.GetNextRunTime(t.Name, s.interval, now),
			NeverRun:    !exists,
		})
	}
	return status
}

// FormatInterval formats a duration for display
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		if mins := int(d.Minutes()) % 60; mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	if hours := int(d.Hours()) % 24; hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a duration string, additionally accepting a leading day count ("7d", "1d12h")
func ParseInterval(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("interval must be positive: %s", s)
		}
		return d, nil
	}

	var days int
	var remaining string
	n, _ := fmt.Sscanf(s, "%dd%s", &days, &remaining)
	if n >= 1 && days > 0 {
		d := time.Duration(days) * 24 * time.Hour
		if remaining != "" {
			extra, err := time.ParseDuration(remaining)
			if err != nil {
				return 0, fmt.Errorf("invalid interval format: %s", s)
			}
			d += extra
		}
		return d, nil
	}

	return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
}
