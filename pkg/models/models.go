package models

import "time"

// FrontierItem represents a URL waiting in the crawl frontier together with its BFS depth
type FrontierItem struct {
	URL      string // Canonical URL
	Depth    int    // Link distance from the start URL (start = 0)
	Referrer string // Canonical URL of the page that linked here; empty for the start URL and sitemap seeds
}

// CrawlBudget bounds a single crawl. It is fixed for the duration of one Crawl call.
type CrawlBudget struct {
	MaxPages          int           `json:"max_pages"` // Stop once this many URLs are visited
	MaxDepth          int           `json:"max_depth"` // Deepest link distance that is rendered
	MaxTime           time.Duration `json:"max_time"`  // Wall-clock limit, checked once per loop iteration
	IncludeSubdomains bool          `json:"include_subdomains"`
	RespectRobotsTxt  bool          `json:"respect_robots_txt"`
}

// FailedEntry records a URL that was retired into the visited set without a successful render
type FailedEntry struct {
	URL        string `json:"url"`
	Reason     string `json:"reason"`   // Error message of the last attempt
	Category   string `json:"category"` // utils.CategorizeError value, e.g. "HTTP_404"
	RetryCount int    `json:"retry_count"`
}

// PageVisit is what a renderer reports for one successfully loaded page
type PageVisit struct {
	URL              string        `json:"url"`                 // Requested (canonical) URL
	FinalURL         string        `json:"final_url,omitempty"` // URL after redirects, if different
	StatusCode       int           `json:"status_code,omitempty"`
	Title            string        `json:"title,omitempty"`
	Links            []string      `json:"links,omitempty"` // Absolute http(s) links in document order
	Quiet            bool          `json:"quiet"`           // Whether the page settled before the stabilization deadline
	StabilizeElapsed time.Duration `json:"stabilize_elapsed,omitempty"`
	ContentHash      string        `json:"content_hash,omitempty"` // SHA-256 of the rendered HTML
	Depth            int           `json:"depth"`
	Referrer         string        `json:"referrer,omitempty"`
	Duration         time.Duration `json:"duration"`
	VisitedAt        time.Time     `json:"visited_at"`
}

// CrawlResult is the outcome of one crawl. Every discovered URL ends up in exactly one of
// VisitedURLs or UnvisitedURLs, and every FailedURLs entry is also in VisitedURLs.
type CrawlResult struct {
	StartURL       string         `json:"start_url"`
	VisitedURLs    []string       `json:"visited_urls"`
	UnvisitedURLs  []string       `json:"unvisited_urls"`
	FailedURLs     []FailedEntry  `json:"failed_urls"`
	Termination    Termination    `json:"termination"`
	Attempts       map[string]int `json:"attempts,omitempty"` // Render attempts per URL
	Pages          []PageVisit    `json:"pages,omitempty"`
	RobotsOutcome  RobotsOutcome  `json:"robots_outcome"`
	SitemapOutcome SitemapOutcome `json:"sitemap_outcome"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
}

// Duration returns the wall-clock length of the crawl
func (r *CrawlResult) Duration() time.Duration {
	if r == nil || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunRecord is the archived form of one CLI crawl, stored in the run store keyed by ID
type RunRecord struct {
	ID        string       `json:"id"` // uuid
	StartURL  string       `json:"start_url"`
	Budget    CrawlBudget  `json:"budget"`
	Renderer  string       `json:"renderer"` // "chrome" or "static"
	Status    RunStatus    `json:"status"`
	Error     string       `json:"error,omitempty"`
	Result    *CrawlResult `json:"result,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// RunSummary is the compact listing form of a RunRecord
type RunSummary struct {
	ID          string      `json:"id"`
	StartURL    string      `json:"start_url"`
	Status      RunStatus   `json:"status"`
	Termination Termination `json:"termination,omitempty"`
	Visited     int         `json:"visited"`
	Unvisited   int         `json:"unvisited"`
	Failed      int         `json:"failed"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Summary condenses a run record for listings
func (r *RunRecord) Summary() RunSummary {
	s := RunSummary{
		ID:        r.ID,
		StartURL:  r.StartURL,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
	}
	if r.Result != nil {
		s.Termination = r.Result.Termination
		s.Visited = len(r.Result.VisitedURLs)
		s.Unvisited = len(r.Result.UnvisitedURLs)
		s.Failed = len(r.Result.FailedURLs)
	}
	return s
}
