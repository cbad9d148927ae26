package config

import (
	"fmt"
	"time"

	"github.com/Sriram-PR/settle-crawler/pkg/parse"
	"github.com/Sriram-PR/settle-crawler/pkg/utils"
)

const defaultUserAgent = "SettleCrawler/1.0"

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}

	if c.Workers <= 0 {
		warnings = append(warnings, "workers should be > 0, defaulting to 1 (sequential)")
		c.Workers = 1
	}
	if c.MaxParallelSites <= 0 {
		c.MaxParallelSites = 2
	}
	if c.MaxRequestsPerHost <= 0 {
		warnings = append(warnings, "max_requests_per_host should be > 0, defaulting to 2")
		c.MaxRequestsPerHost = 2
	}
	if c.DelayPerHost < 0 {
		warnings = append(warnings, "delay_per_host cannot be negative, disabling delay")
		c.DelayPerHost = 0
	}

	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './crawler_state'")
		c.StateDir = "./crawler_state"
	}
	if c.OutputDir == "" {
		c.OutputDir = "./crawl_output"
	}

	// Timeouts
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	if c.LinkExtractTimeout <= 0 {
		c.LinkExtractTimeout = 10 * time.Second
	}
	if c.RobotsTimeout <= 0 {
		c.RobotsTimeout = 10 * time.Second
	}
	if c.SitemapTimeout <= 0 {
		c.SitemapTimeout = 15 * time.Second
	}
	if c.SitemapMaxURLs <= 0 {
		c.SitemapMaxURLs = 1000
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 2
	}
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 500 * time.Millisecond
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 5 * time.Second
		}
	}
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	if err := c.validateRenderer(&warnings); err != nil {
		return warnings, err
	}
	c.validateStabilize(&warnings)
	if err := c.validateScope(); err != nil {
		return warnings, err
	}
	c.validateBudget(&warnings)
	c.validateHTTPClientSettings()

	return warnings, nil
}

func (c *AppConfig) validateRenderer(warnings *[]string) error {
	r := &c.Renderer
	switch r.Engine {
	case "":
		r.Engine = EngineChrome
	case EngineChrome, EngineStatic:
	default:
		return fmt.Errorf("%w: renderer.engine must be '%s' or '%s', got '%s'",
			utils.ErrConfigValidation, EngineChrome, EngineStatic, r.Engine)
	}
	if r.MaxTabs <= 0 {
		r.MaxTabs = c.Workers * c.MaxParallelSites
	}
	if r.MaxBodyBytes < 0 {
		*warnings = append(*warnings, "renderer.max_body_bytes cannot be negative, using default 10MiB")
		r.MaxBodyBytes = 0
	}
	if r.MaxBodyBytes == 0 {
		r.MaxBodyBytes = 10 << 20
	}
	return nil
}

func (c *AppConfig) validateStabilize(warnings *[]string) {
	s := &c.Stabilize
	if s.NetworkIdleThreshold == nil || *s.NetworkIdleThreshold < 0 {
		if s.NetworkIdleThreshold != nil {
			*warnings = append(*warnings, "stabilize.network_idle_threshold cannot be negative, defaulting to 2")
		}
		threshold := 2
		s.NetworkIdleThreshold = &threshold
	}
	if s.DOMQuietWindow <= 0 {
		s.DOMQuietWindow = 800 * time.Millisecond
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	if s.ReadyCap <= 0 {
		s.ReadyCap = 8 * time.Second
	}
	if s.PollInterval <= 0 {
		s.PollInterval = 100 * time.Millisecond
	}
	if s.SettleDelay < 0 {
		s.SettleDelay = 0
	} else if s.SettleDelay == 0 {
		s.SettleDelay = 200 * time.Millisecond
	}
	if s.Timeout >= c.NavigationTimeout {
		*warnings = append(*warnings, fmt.Sprintf(
			"stabilize.timeout (%v) >= navigation_timeout (%v); pages will often hit the navigation deadline first",
			s.Timeout, c.NavigationTimeout))
	}
}

func (c *AppConfig) validateScope() error {
	switch c.Scope.RegistrableDomain {
	case "":
		c.Scope.RegistrableDomain = "heuristic"
	case "heuristic", "publicsuffix":
	default:
		return fmt.Errorf("%w: scope.registrable_domain must be 'heuristic' or 'publicsuffix', got '%s'",
			utils.ErrConfigValidation, c.Scope.RegistrableDomain)
	}
	if _, err := utils.CompileRegexPatterns(c.Scope.ExcludePatterns); err != nil {
		return fmt.Errorf("scope.exclude_patterns: %w", err)
	}
	return nil
}

func (c *AppConfig) validateBudget(warnings *[]string) {
	b := &c.Budget
	if b.MaxPages <= 0 {
		*warnings = append(*warnings, "budget.max_pages should be > 0, defaulting to 50")
		b.MaxPages = 50
	}
	if b.MaxDepth < 0 {
		*warnings = append(*warnings, "budget.max_depth cannot be negative, defaulting to 3")
		b.MaxDepth = 3
	} else if b.MaxDepth == 0 {
		b.MaxDepth = 3
	}
	if b.MaxTime <= 0 {
		b.MaxTime = 5 * time.Minute
	}
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 30 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks SiteConfig fields.
// Returns collected warnings and any fatal error.
// Modifies receiver in place (start URL canonicalization, clamped overrides).
func (c *SiteConfig) Validate() (warnings []string, err error) {
	if c.StartURL == "" {
		return nil, fmt.Errorf("%w: site has no start_url", utils.ErrConfigValidation)
	}
	canonical, _, parseErr := parse.ParseAndCanonicalize(c.StartURL)
	if parseErr != nil {
		return nil, fmt.Errorf("%w: invalid start_url '%s': %v", utils.ErrConfigValidation, c.StartURL, parseErr)
	}
	c.StartURL = canonical

	if c.MaxPages != nil && *c.MaxPages <= 0 {
		warnings = append(warnings, "Site max_pages must be > 0, ignoring override")
		c.MaxPages = nil
	}
	if c.MaxDepth != nil && *c.MaxDepth < 0 {
		warnings = append(warnings, "Site max_depth cannot be negative, ignoring override")
		c.MaxDepth = nil
	}
	if c.MaxTime != nil && *c.MaxTime <= 0 {
		warnings = append(warnings, "Site max_time must be > 0, ignoring override")
		c.MaxTime = nil
	}
	if _, err := utils.CompileRegexPatterns(c.ExcludePatterns); err != nil {
		return warnings, fmt.Errorf("exclude_patterns: %w", err)
	}
	return warnings, nil
}
