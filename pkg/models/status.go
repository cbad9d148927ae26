package models

// Termination explains why a crawl stopped
type Termination string

const (
	TerminationUnset             Termination = ""
	TerminationFrontierExhausted Termination = "frontier_exhausted" // Nothing left to visit
	TerminationPageBudget        Termination = "page_budget"        // |visited| reached MaxPages
	TerminationTimeBudget        Termination = "time_budget"        // MaxTime elapsed
	TerminationCancelled         Termination = "cancelled"          // Caller's context was cancelled
)

// String implements fmt.Stringer for logging
func (t Termination) String() string {
	if t == "" {
		return "unset"
	}
	return string(t)
}

// Truncated reports whether the crawl stopped before the frontier was drained
func (t Termination) Truncated() bool {
	switch t {
	case TerminationPageBudget, TerminationTimeBudget, TerminationCancelled:
		return true
	}
	return false
}

// RobotsOutcome records what happened when robots.txt was fetched at crawl start
type RobotsOutcome string

const (
	RobotsUnset    RobotsOutcome = ""
	RobotsLoaded   RobotsOutcome = "loaded"   // 2xx and parsed
	RobotsMissing  RobotsOutcome = "missing"  // Non-2xx status: allow all
	RobotsFailed   RobotsOutcome = "failed"   // Network, read or parse error: allow all
	RobotsDisabled RobotsOutcome = "disabled" // RespectRobotsTxt was false; not fetched
)

// String implements fmt.Stringer for logging
func (o RobotsOutcome) String() string {
	if o == "" {
		return "unset"
	}
	return string(o)
}

// SitemapOutcome records what happened when the sitemap was fetched at crawl start
type SitemapOutcome string

const (
	SitemapUnset   SitemapOutcome = ""
	SitemapLoaded  SitemapOutcome = "loaded"  // At least one sitemap parsed
	SitemapMissing SitemapOutcome = "missing" // No sitemap answered 2xx
	SitemapFailed  SitemapOutcome = "failed"  // Network, read or XML error
)

// String implements fmt.Stringer for logging
func (o SitemapOutcome) String() string {
	if o == "" {
		return "unset"
	}
	return string(o)
}

// RunStatus represents the state of an archived crawl run
type RunStatus string

const (
	RunStatusUnset     RunStatus = ""          // Zero value = unset/unknown
	RunStatusRunning   RunStatus = "running"   // Crawl in progress
	RunStatusCompleted RunStatus = "completed" // Crawl returned a result
	RunStatusFailed    RunStatus = "failed"    // Crawl could not start (renderer, config)
)

// String implements fmt.Stringer for logging
func (s RunStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusRunning, RunStatusCompleted, RunStatusFailed:
		return true
	}
	return false
}
