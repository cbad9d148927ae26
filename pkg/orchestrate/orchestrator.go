package orchestrate

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/settle-crawler/pkg/config"
	"github.com/Sriram-PR/settle-crawler/pkg/fetch"
	"github.com/Sriram-PR/settle-crawler/pkg/frontier"
	"github.com/Sriram-PR/settle-crawler/pkg/models"
	"github.com/Sriram-PR/settle-crawler/pkg/scope"
	"github.com/Sriram-PR/settle-crawler/pkg/storage"
	"github.com/Sriram-PR/settle-crawler/pkg/utils"
)

// Target is one crawl to run: a start URL and the budget it runs under
type Target struct {
	Name            string // Site key or the start URL; used for logs and the output file name
	StartURL        string
	Budget          models.CrawlBudget
	ExcludePatterns []string
}

// SiteResult contains the result of crawling a single target
type SiteResult struct {
	Name       string
	RunID      string
	Result     *models.CrawlResult
	OutputPath string // Empty when no JSONL stream was written
	Error      error  // Set only when the crawl could not start
	Duration   time.Duration
}

// Success reports whether the crawl ran to a termination reason
func (r SiteResult) Success() bool {
	return r.Error == nil && r.Result != nil
}

// Options configures an Orchestrator. The shared collaborators are used by every crawl.
type Options struct {
	MaxParallelSites int
	Workers          int
	Strategy         scope.DomainStrategy
	RobotsAgent      string
	RobotsTimeout    time.Duration
	RendererName     string // Recorded in each RunRecord
	OutputDir        string // Empty disables JSONL page streams

	Fetcher     *fetch.Fetcher
	RateLimiter *fetch.RateLimiter
	Seeder      frontier.SitemapSeeder
	Runs        storage.RunWriter // nil disables the run archive
}

// Orchestrator runs several independent crawls concurrently over one renderer
type Orchestrator struct {
	renderer frontier.Renderer
	opts     Options
	log      *logrus.Entry
}

// NewOrchestrator creates an orchestrator for parallel crawls
func NewOrchestrator(renderer frontier.Renderer, opts Options, log *logrus.Entry) *Orchestrator {
	if opts.MaxParallelSites < 1 {
		opts.MaxParallelSites = 1
	}
	return &Orchestrator{
		renderer: renderer,
		opts:     opts,
		log:      log.WithField("component", "orchestrator"),
	}
}

// Run crawls every target, at most MaxParallelSites at a time, and waits for all of them.
// Results are returned in target order.
func (o *Orchestrator) Run(ctx context.Context, targets []Target) []SiteResult {
	startTime := time.Now()
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.Name
	}
	o.log.Infof("Starting crawl of %d site(s) (parallel=%d): %v", len(targets), o.opts.MaxParallelSites, names)

	results := make([]SiteResult, len(targets))
	g := new(errgroup.Group)
	g.SetLimit(o.opts.MaxParallelSites)
	for i, target := range targets {
		g.Go(func() error {
			results[i] = o.crawlSite(ctx, target)
			return nil
		})
	}
	_ = g.Wait()

	o.logSummary(results, time.Since(startTime))
	return results
}

// crawlSite runs one target with its own scheduler so page callbacks stay per-site
func (o *Orchestrator) crawlSite(ctx context.Context, target Target) SiteResult {
	startTime := time.Now()
	siteLog := o.log.WithField("site", target.Name)
	result := SiteResult{Name: target.Name, RunID: uuid.NewString()}

	rec := &models.RunRecord{
		ID:        result.RunID,
		StartURL:  target.StartURL,
		Budget:    target.Budget,
		Renderer:  o.opts.RendererName,
		Status:    models.RunStatusRunning,
		CreatedAt: startTime.UTC(),
	}
	o.saveRun(rec, siteLog)

	patterns, err := utils.CompileRegexPatterns(target.ExcludePatterns)
	if err != nil {
		result.Error = fmt.Errorf("%w: site '%s': %w", utils.ErrConfigValidation, target.Name, err)
		result.Duration = time.Since(startTime)
		siteLog.Errorf("Cannot start crawl: %v", result.Error)
		rec.Status = models.RunStatusFailed
		rec.Error = result.Error.Error()
		o.saveRun(rec, siteLog)
		return result
	}

	var writer *PageWriter
	if o.opts.OutputDir != "" {
		path := filepath.Join(o.opts.OutputDir, outputFilename(target))
		writer, err = NewPageWriter(path, siteLog)
		if err != nil {
			siteLog.Errorf("%v. Page output will be disabled.", err)
			writer = nil
		}
	}

	schedOpts := frontier.Options{
		Workers:         o.opts.Workers,
		Strategy:        o.opts.Strategy,
		ExcludePatterns: patterns,
		RobotsAgent:     o.opts.RobotsAgent,
		RobotsTimeout:   o.opts.RobotsTimeout,
		Fetcher:         o.opts.Fetcher,
		Seeder:          o.opts.Seeder,
		RateLimiter:     o.opts.RateLimiter,
	}
	if writer != nil {
		schedOpts.OnPage = writer.Write
	}

	siteLog.WithField("run_id", result.RunID).Infof("Starting crawl for site '%s'", target.Name)
	crawl := frontier.NewScheduler(o.renderer, schedOpts, siteLog).Crawl(ctx, target.StartURL, target.Budget)

	if writer != nil {
		if err := writer.Close(); err != nil {
			siteLog.Error(err)
		}
		result.OutputPath = writer.Path()
	}

	result.Result = crawl
	result.Duration = time.Since(startTime)
	rec.Status = models.RunStatusCompleted
	rec.Result = crawl
	o.saveRun(rec, siteLog)
	return result
}

func (o *Orchestrator) saveRun(rec *models.RunRecord, log *logrus.Entry) {
	if o.opts.Runs == nil {
		return
	}
	if err := o.opts.Runs.SaveRun(rec); err != nil {
		log.WithField("run_id", rec.ID).Warnf("Failed to archive run (status %s): %v", rec.Status, err)
	}
}

// outputFilename names the JSONL stream after the site key, or the start URL host for ad-hoc targets
func outputFilename(t Target) string {
	if t.Name != "" && t.Name != t.StartURL {
		return utils.SanitizeFilename(t.Name) + ".jsonl"
	}
	return utils.SiteFilename(t.StartURL, ".jsonl")
}

// logSummary logs a summary of all crawl results
func (o *Orchestrator) logSummary(results []SiteResult, totalDuration time.Duration) {
	o.log.Info("============================================")
	o.log.Infof("Crawl completed in %v", totalDuration)
	o.log.Info("Site Results:")

	var totalVisited, totalFailed int
	successCount := 0
	failCount := 0

	for _, r := range results {
		if !r.Success() {
			failCount++
			o.log.Infof("  %s: FAILED in %v", r.Name, r.Duration)
			o.log.Infof("    Error: %v", r.Error)
			continue
		}
		successCount++
		visited := len(r.Result.VisitedURLs)
		failed := len(r.Result.FailedURLs)
		totalVisited += visited
		totalFailed += failed
		o.log.Infof("  %s: %s - %d visited, %d unvisited, %d failed in %v (run %s)",
			r.Name, r.Result.Termination, visited, len(r.Result.UnvisitedURLs), failed, r.Duration, r.RunID)
	}

	o.log.Info("--------------------------------------------")
	o.log.Infof("Total: %d sites (%d completed, %d failed to start), %d pages visited, %d page failures",
		len(results), successCount, failCount, totalVisited, totalFailed)
	o.log.Info("============================================")
}

// ValidateSiteKeys checks that all provided site keys exist in the config
func ValidateSiteKeys(appCfg *config.AppConfig, siteKeys []string) error {
	for _, key := range siteKeys {
		if _, exists := appCfg.Sites[key]; !exists {
			return fmt.Errorf("site '%s' not found. Available sites: %v", key, GetAllSiteKeys(appCfg))
		}
	}
	return nil
}

// GetAllSiteKeys returns all site keys from the config, sorted
func GetAllSiteKeys(appCfg *config.AppConfig) []string {
	keys := make([]string, 0, len(appCfg.Sites))
	for k := range appCfg.Sites {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SiteTargets builds targets for configured sites, applying each site's budget overrides.
// Call ValidateSiteKeys first; unknown keys are skipped.
func SiteTargets(appCfg *config.AppConfig, siteKeys []string) []Target {
	targets := make([]Target, 0, len(siteKeys))
	for _, key := range siteKeys {
		siteCfg, ok := appCfg.Sites[key]
		if !ok {
			continue
		}
		targets = append(targets, Target{
			Name:            key,
			StartURL:        siteCfg.StartURL,
			Budget:          config.GetEffectiveBudget(siteCfg, *appCfg),
			ExcludePatterns: config.GetEffectiveExcludePatterns(siteCfg, *appCfg),
		})
	}
	return targets
}

// URLTargets builds targets for ad-hoc start URLs that all share one budget
func URLTargets(appCfg *config.AppConfig, startURLs []string, budget models.CrawlBudget) []Target {
	targets := make([]Target, 0, len(startURLs))
	for _, u := range startURLs {
		targets = append(targets, Target{
			Name:            u,
			StartURL:        u,
			Budget:          budget,
			ExcludePatterns: append([]string(nil), appCfg.Scope.ExcludePatterns...),
		})
	}
	return targets
}
