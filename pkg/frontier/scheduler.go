package frontier

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/settle-crawler/pkg/fetch"
	"github.com/Sriram-PR/settle-crawler/pkg/models"
	"github.com/Sriram-PR/settle-crawler/pkg/parse"
	"github.com/Sriram-PR/settle-crawler/pkg/queue"
	"github.com/Sriram-PR/settle-crawler/pkg/scope"
	"github.com/Sriram-PR/settle-crawler/pkg/utils"
)

// RetryCap is how many times a transiently failing URL is re-attempted
const RetryCap = 1

// Renderer loads one page and reports its links
type Renderer interface {
	Render(ctx context.Context, rawURL string) (*models.PageVisit, error)
}

// SitemapSeeder supplies extra start URLs; sitemap.Seeder satisfies it
type SitemapSeeder interface {
	Seed(ctx context.Context, startURL string, extra []string) ([]string, models.SitemapOutcome)
}

// Options configures a Scheduler. Zero values disable the optional collaborators.
type Options struct {
	Workers         int // Concurrent renders; <= 1 is the sequential algorithm
	Strategy        scope.DomainStrategy
	ExcludePatterns []*regexp.Regexp
	RobotsAgent     string
	RobotsTimeout   time.Duration
	Fetcher         *fetch.Fetcher         // Used for robots.txt; nil skips robots
	Seeder          SitemapSeeder          // nil skips sitemap seeding
	RateLimiter     *fetch.RateLimiter     // nil disables per-host politeness
	OnPage          func(models.PageVisit) // Called on the scheduler goroutine after each successful visit
}

// Scheduler runs breadth-first crawls. It holds no state between Crawl calls, so one Scheduler
// may run several crawls concurrently.
type Scheduler struct {
	renderer Renderer
	opts     Options
	log      *logrus.Entry
}

// NewScheduler creates a Scheduler
func NewScheduler(renderer Renderer, opts Options, log *logrus.Entry) *Scheduler {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Strategy == "" {
		opts.Strategy = scope.StrategyHeuristic
	}
	if opts.RobotsAgent == "" {
		opts.RobotsAgent = "*"
	}
	return &Scheduler{renderer: renderer, opts: opts, log: log}
}

// attemptResult is what one render attempt produced, handed back to the scheduler goroutine
type attemptResult struct {
	visit    *models.PageVisit
	err      error
	duration time.Duration
}

// Crawl visits pages reachable from startURL in breadth-first order within budget.
// It never fails: every outcome ends up in the returned result.
func (s *Scheduler) Crawl(ctx context.Context, startURL string, budget models.CrawlBudget) *models.CrawlResult {
	startedAt := time.Now()
	seed := parse.CanonicalizeURL(startURL)
	crawlLog := s.log.WithField("start_url", seed)

	crawlCtx := ctx
	if budget.MaxTime > 0 {
		var cancel context.CancelFunc
		crawlCtx, cancel = context.WithDeadline(ctx, startedAt.Add(budget.MaxTime))
		defer cancel()
	}

	policy, err := scope.NewPolicy(seed, budget.IncludeSubdomains, s.opts.Strategy, s.opts.ExcludePatterns)
	if err != nil {
		// The seed is still discovered; the gate rejects it when popped
		crawlLog.Errorf("Cannot build scope policy: %v", err)
		policy = nil
	}

	state := newCrawlState(seed, policy, queue.NewFIFO(crawlLog))
	state.robots = s.loadRobots(crawlCtx, seed, budget, crawlLog)
	s.applyCrawlDelay(seed, state.robots, crawlLog)

	state.discover(models.FrontierItem{URL: seed, Depth: 0})
	state.sitemapOutcome = s.seedFromSitemaps(crawlCtx, state, crawlLog)

	crawlLog.WithFields(logrus.Fields{
		"max_pages": budget.MaxPages,
		"max_depth": budget.MaxDepth,
		"max_time":  budget.MaxTime,
		"workers":   s.opts.Workers,
		"seeds":     state.queue.Len(),
	}).Info("Starting crawl")

	termination := s.run(ctx, crawlCtx, state, budget, crawlLog)
	result := assembleResult(state, termination, startedAt)

	crawlLog.WithFields(logrus.Fields{
		"visited":     len(result.VisitedURLs),
		"unvisited":   len(result.UnvisitedURLs),
		"failed":      len(result.FailedURLs),
		"termination": termination,
		"duration":    result.Duration(),
	}).Info("Crawl finished")
	return result
}

// run is the main loop. Each iteration pops a batch of admissible items, renders them, then
// applies the outcomes in pop order so the sets are only ever written from this goroutine.
func (s *Scheduler) run(parent, crawlCtx context.Context, state *crawlState, budget models.CrawlBudget, crawlLog *logrus.Entry) models.Termination {
	for {
		switch {
		case parent.Err() != nil:
			return models.TerminationCancelled
		case crawlCtx.Err() != nil:
			return models.TerminationTimeBudget
		case state.queue.Len() == 0:
			return models.TerminationFrontierExhausted
		case budget.MaxPages > 0 && len(state.visited) >= budget.MaxPages:
			return models.TerminationPageBudget
		}

		limit := s.opts.Workers
		if budget.MaxPages > 0 {
			limit = min(limit, budget.MaxPages-len(state.visited))
		}
		batch := state.nextBatch(limit, budget.MaxDepth, crawlLog)
		if len(batch) == 0 {
			continue // Everything popped was discarded; re-check the queue
		}

		results := s.renderBatch(crawlCtx, batch)
		for i, item := range batch {
			s.apply(crawlCtx, state, item, results[i], crawlLog)
		}
	}
}

func (s *Scheduler) renderBatch(ctx context.Context, batch []models.FrontierItem) []attemptResult {
	results := make([]attemptResult, len(batch))
	if len(batch) == 1 {
		results[0] = s.attempt(ctx, batch[0])
		return results
	}

	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i, item := range batch {
		g.Go(func() error {
			results[i] = s.attempt(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// attempt renders one item under the per-host rate limit
func (s *Scheduler) attempt(ctx context.Context, item models.FrontierItem) attemptResult {
	if s.opts.RateLimiter != nil {
		release, err := s.opts.RateLimiter.Acquire(ctx, hostKey(item.URL))
		if err != nil {
			return attemptResult{err: err}
		}
		defer release()
	}

	start := time.Now()
	visit, err := s.renderSafely(ctx, item.URL)
	if err == nil && visit == nil {
		err = fmt.Errorf("%w: renderer returned no page", utils.ErrRenderer)
	}
	return attemptResult{visit: visit, err: err, duration: time.Since(start)}
}

// renderSafely turns a renderer panic into a transient failure
func (s *Scheduler) renderSafely(ctx context.Context, rawURL string) (visit *models.PageVisit, err error) {
	defer func() {
		if r := recover(); r != nil {
			visit = nil
			err = fmt.Errorf("%w: panic while rendering: %v", utils.ErrRenderer, r)
		}
	}()
	return s.renderer.Render(ctx, rawURL)
}

// apply records one attempt's outcome
func (s *Scheduler) apply(crawlCtx context.Context, state *crawlState, item models.FrontierItem, res attemptResult, crawlLog *logrus.Entry) {
	itemLog := crawlLog.WithFields(logrus.Fields{"url": item.URL, "depth": item.Depth})

	if res.err != nil && crawlCtx.Err() != nil && isContextError(res.err) {
		// Interrupted by cancellation or the time budget, not a page failure
		itemLog.Debugf("Attempt interrupted: %v", res.err)
		return
	}
	state.attempts[item.URL]++

	if res.err == nil {
		page := *res.visit
		page.URL = item.URL
		page.Depth = item.Depth
		page.Referrer = item.Referrer
		page.Duration = res.duration
		page.VisitedAt = time.Now()

		state.markVisited(item.URL)
		delete(state.retries, item.URL)
		state.pages = append(state.pages, page)

		added := 0
		for _, link := range page.Links {
			next := models.FrontierItem{URL: parse.CanonicalizeURL(link), Depth: item.Depth + 1, Referrer: item.URL}
			if state.discovered[next.URL] || !state.admitLink(next.URL) {
				continue
			}
			state.discover(next)
			added++
		}
		itemLog.WithFields(logrus.Fields{"links": len(page.Links), "queued": added, "quiet": page.Quiet}).Info("Visited")

		if s.opts.OnPage != nil {
			s.opts.OnPage(page)
		}
		return
	}

	if utils.ClassifyFetchError(res.err) == utils.FetchErrorTerminal {
		itemLog.Warnf("Terminal failure: %v", res.err)
		state.fail(item.URL, res.err, 0)
		return
	}

	state.retries[item.URL]++
	if count := state.retries[item.URL]; count <= RetryCap {
		itemLog.Infof("Transient failure, retry %d/%d queued: %v", count, RetryCap, res.err)
		state.queue.Push(item)
		return
	}
	itemLog.Warnf("Failed after %d retries: %v", RetryCap, res.err)
	state.fail(item.URL, res.err, RetryCap)
}

func (s *Scheduler) loadRobots(ctx context.Context, seed string, budget models.CrawlBudget, crawlLog *logrus.Entry) *fetch.RobotsPolicy {
	if !budget.RespectRobotsTxt || s.opts.Fetcher == nil {
		return fetch.AllowAllRobots(s.opts.RobotsAgent, models.RobotsDisabled)
	}
	robots := fetch.LoadRobots(ctx, s.opts.Fetcher, seed, s.opts.RobotsAgent, s.opts.RobotsTimeout, crawlLog)
	crawlLog.WithField("outcome", robots.Outcome()).Debug("robots.txt processed")
	return robots
}

func (s *Scheduler) applyCrawlDelay(seed string, robots *fetch.RobotsPolicy, crawlLog *logrus.Entry) {
	delay := robots.CrawlDelay()
	if delay <= 0 || s.opts.RateLimiter == nil {
		return
	}
	crawlLog.Debugf("robots.txt Crawl-delay %v", delay)
	s.opts.RateLimiter.SetDelay(hostKey(seed), delay)
}

// seedFromSitemaps queues sitemap locations at depth 1, after the start URL
func (s *Scheduler) seedFromSitemaps(ctx context.Context, state *crawlState, crawlLog *logrus.Entry) models.SitemapOutcome {
	if s.opts.Seeder == nil {
		return models.SitemapUnset
	}
	locs, outcome := s.opts.Seeder.Seed(ctx, state.seed, state.robots.Sitemaps())
	added := 0
	for _, loc := range locs {
		canonical := parse.CanonicalizeURL(loc)
		if state.discovered[canonical] || !state.admitLink(canonical) {
			continue
		}
		state.discover(models.FrontierItem{URL: canonical, Depth: 1})
		added++
	}
	crawlLog.WithFields(logrus.Fields{"outcome": outcome, "found": len(locs), "queued": added}).Info("Sitemap seeding done")
	return outcome
}

// hostKey is the rate limiter key for a URL
func hostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

// isPolicyExclusion reports whether err is a gate rejection rather than a fetch failure
func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func isPolicyExclusion(err error) bool {
	return errors.Is(err, utils.ErrScopeViolation) ||
		errors.Is(err, utils.ErrRobotsDisallowed) ||
		errors.Is(err, utils.ErrMaxDepthExceeded)
}
