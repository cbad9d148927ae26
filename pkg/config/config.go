package config

import (
	"strings"
	"time"

	"github.com/Sriram-PR/settle-crawler/pkg/models"
)

// Renderer engines
const (
	EngineChrome = "chrome"
	EngineStatic = "static"
)

// AppConfig holds the global application configuration
type AppConfig struct {
	UserAgent          string                `yaml:"user_agent"`
	RobotsAgent        string                `yaml:"robots_agent,omitempty"` // Token matched against robots.txt User-agent lines; derived from user_agent if empty
	Workers            int                   `yaml:"workers"`                // Concurrent renders per crawl (1 = sequential)
	MaxParallelSites   int                   `yaml:"max_parallel_sites"`     // Concurrent crawls when several start URLs are given
	MaxRequestsPerHost int                   `yaml:"max_requests_per_host"`
	DelayPerHost       time.Duration         `yaml:"delay_per_host"`
	StateDir           string                `yaml:"state_dir"`  // Run archive location
	OutputDir          string                `yaml:"output_dir"` // JSONL page streams
	NavigationTimeout  time.Duration         `yaml:"navigation_timeout"`
	LinkExtractTimeout time.Duration         `yaml:"link_extract_timeout"`
	RobotsTimeout      time.Duration         `yaml:"robots_timeout"`
	SitemapTimeout     time.Duration         `yaml:"sitemap_timeout"`
	SitemapMaxURLs     int                   `yaml:"sitemap_max_urls"`
	MaxRetries         int                   `yaml:"max_retries,omitempty"` // HTTP-level retries for robots.txt and sitemap fetches
	InitialRetryDelay  time.Duration         `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay      time.Duration         `yaml:"max_retry_delay,omitempty"`
	Renderer           RendererConfig        `yaml:"renderer"`
	Stabilize          StabilizeConfig       `yaml:"stabilize"`
	Scope              ScopeConfig           `yaml:"scope"`
	Budget             BudgetConfig          `yaml:"budget"`
	HTTPClientSettings HTTPClientConfig      `yaml:"http_client_settings,omitempty"`
	Sites              map[string]SiteConfig `yaml:"sites,omitempty"`
}

// RendererConfig selects and tunes the page renderer
type RendererConfig struct {
	Engine          string `yaml:"engine"`             // "chrome" or "static"
	Headless        *bool  `yaml:"headless,omitempty"` // nil = true
	ExecPath        string `yaml:"exec_path,omitempty"`
	MaxTabs         int    `yaml:"max_tabs,omitempty"`       // Concurrent browser tabs shared by all crawls
	MaxBodyBytes    int64  `yaml:"max_body_bytes,omitempty"` // Static engine response cap
	RespectNofollow bool   `yaml:"respect_nofollow,omitempty"`
}

// StabilizeConfig tunes the page stabilization detector
type StabilizeConfig struct {
	NetworkIdleThreshold *int          `yaml:"network_idle_threshold,omitempty"` // nil = 2
	DOMQuietWindow       time.Duration `yaml:"dom_quiet_window,omitempty"`
	Timeout              time.Duration `yaml:"timeout,omitempty"`
	ReadyCap             time.Duration `yaml:"ready_cap,omitempty"`
	PollInterval         time.Duration `yaml:"poll_interval,omitempty"`
	SettleDelay          time.Duration `yaml:"settle_delay,omitempty"`
}

// ScopeConfig controls which discovered URLs belong to a crawl
type ScopeConfig struct {
	RegistrableDomain string   `yaml:"registrable_domain,omitempty"` // "heuristic" or "publicsuffix"
	ExcludePatterns   []string `yaml:"exclude_patterns,omitempty"`   // Regex patterns matched against URL paths
}

// BudgetConfig holds default crawl budgets; sites and CLI flags may override each field
type BudgetConfig struct {
	MaxPages          int           `yaml:"max_pages"`
	MaxDepth          int           `yaml:"max_depth"`
	MaxTime           time.Duration `yaml:"max_time"`
	IncludeSubdomains bool          `yaml:"include_subdomains,omitempty"`
	RespectRobotsTxt  *bool         `yaml:"respect_robots_txt,omitempty"` // nil = true
}

// SiteConfig holds configuration specific to a single named site
type SiteConfig struct {
	StartURL          string         `yaml:"start_url"`
	MaxPages          *int           `yaml:"max_pages,omitempty"`
	MaxDepth          *int           `yaml:"max_depth,omitempty"`
	MaxTime           *time.Duration `yaml:"max_time,omitempty"`
	IncludeSubdomains *bool          `yaml:"include_subdomains,omitempty"`
	RespectRobotsTxt  *bool          `yaml:"respect_robots_txt,omitempty"`
	ExcludePatterns   []string       `yaml:"exclude_patterns,omitempty"` // Appended to the global scope patterns
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// CrawlBudget converts the global defaults into a crawl budget
func (b BudgetConfig) CrawlBudget() models.CrawlBudget {
	respect := true
	if b.RespectRobotsTxt != nil {
		respect = *b.RespectRobotsTxt
	}
	return models.CrawlBudget{
		MaxPages:          b.MaxPages,
		MaxDepth:          b.MaxDepth,
		MaxTime:           b.MaxTime,
		IncludeSubdomains: b.IncludeSubdomains,
		RespectRobotsTxt:  respect,
	}
}

// GetEffectiveBudget applies a site's overrides on top of the global budget
func GetEffectiveBudget(siteCfg SiteConfig, appCfg AppConfig) models.CrawlBudget {
	budget := appCfg.Budget.CrawlBudget()
	if siteCfg.MaxPages != nil {
		budget.MaxPages = *siteCfg.MaxPages
	}
	if siteCfg.MaxDepth != nil {
		budget.MaxDepth = *siteCfg.MaxDepth
	}
	if siteCfg.MaxTime != nil {
		budget.MaxTime = *siteCfg.MaxTime
	}
	if siteCfg.IncludeSubdomains != nil {
		budget.IncludeSubdomains = *siteCfg.IncludeSubdomains
	}
	if siteCfg.RespectRobotsTxt != nil {
		budget.RespectRobotsTxt = *siteCfg.RespectRobotsTxt
	}
	return budget
}

// GetEffectiveExcludePatterns merges the global scope patterns with a site's own
func GetEffectiveExcludePatterns(siteCfg SiteConfig, appCfg AppConfig) []string {
	patterns := make([]string, 0, len(appCfg.Scope.ExcludePatterns)+len(siteCfg.ExcludePatterns))
	patterns = append(patterns, appCfg.Scope.ExcludePatterns...)
	return append(patterns, siteCfg.ExcludePatterns...)
}

// EffectiveRobotsAgent returns the agent token used to pick a robots.txt group.
// "SettleCrawler/1.0 (+https://example.com/bot)" yields "SettleCrawler".
func (c *AppConfig) EffectiveRobotsAgent() string {
	if c.RobotsAgent != "" {
		return c.RobotsAgent
	}
	token := c.UserAgent
	if i := strings.IndexAny(token, "/ "); i >= 0 {
		token = token[:i]
	}
	if token == "" {
		return "*"
	}
	return token
}

// IsHeadless reports whether Chrome should run without a window
func (r RendererConfig) IsHeadless() bool {
	return r.Headless == nil || *r.Headless
}
