package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Sriram-PR/settle-crawler/pkg/config"
	"github.com/Sriram-PR/settle-crawler/pkg/fetch"
	"github.com/Sriram-PR/settle-crawler/pkg/frontier"
	"github.com/Sriram-PR/settle-crawler/pkg/models"
	"github.com/Sriram-PR/settle-crawler/pkg/orchestrate"
	"github.com/Sriram-PR/settle-crawler/pkg/parse"
	"github.com/Sriram-PR/settle-crawler/pkg/render"
	"github.com/Sriram-PR/settle-crawler/pkg/scope"
	"github.com/Sriram-PR/settle-crawler/pkg/sitemap"
	"github.com/Sriram-PR/settle-crawler/pkg/stabilize"
	"github.com/Sriram-PR/settle-crawler/pkg/storage"
)

// crawlFlags holds the crawl subcommand's options. Budget flags only apply when set explicitly.
type crawlFlags struct {
	sites             []string
	allSites          bool
	maxPages          int
	maxDepth          int
	maxTime           time.Duration
	includeSubdomains bool
	ignoreRobots      bool
	renderer          string
	workers           int
	outputDir         string
	noOutput          bool
	jsonOut           bool
	pprofAddr         string
}

func newCrawlCmd(flags *globalFlags) *cobra.Command {
	cf := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl [start-url...]",
		Short: "Crawl one or more sites breadth-first",
		Long: `Crawl start URLs given as arguments and/or sites from the config file.
Each start URL runs as an independent crawl; several crawls run in parallel up to max_parallel_sites.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, flags, cf, args)
		},
	}

	bindCrawlFlags(cmd.Flags(), cf)
	return cmd
}

// bindCrawlFlags registers the crawl flags on fs
func bindCrawlFlags(f *pflag.FlagSet, cf *crawlFlags) {
	f.StringSliceVar(&cf.sites, "site", nil, "Site key(s) from config file (repeatable or comma-separated)")
	f.BoolVar(&cf.allSites, "all-sites", false, "Crawl every site in the config file")
	f.IntVar(&cf.maxPages, "max-pages", 0, "Override budget.max_pages")
	f.IntVar(&cf.maxDepth, "max-depth", 0, "Override budget.max_depth (negative = unlimited)")
	f.DurationVar(&cf.maxTime, "max-time", 0, "Override budget.max_time (e.g. 90s, 5m)")
	f.BoolVar(&cf.includeSubdomains, "include-subdomains", false, "Treat subdomains of the start host as in scope")
	f.BoolVar(&cf.ignoreRobots, "ignore-robots", false, "Do not fetch or honor robots.txt")
	f.StringVar(&cf.renderer, "renderer", "", "Renderer engine override: chrome or static")
	f.IntVar(&cf.workers, "workers", 0, "Override workers (concurrent renders per crawl)")
	f.StringVar(&cf.outputDir, "output", "", "Override output_dir for JSONL page streams")
	f.BoolVar(&cf.noOutput, "no-output", false, "Do not write JSONL page streams")
	f.BoolVar(&cf.jsonOut, "json", false, "Print crawl results as JSON on stdout")
	f.StringVar(&cf.pprofAddr, "pprof", "", "Address for pprof HTTP server (e.g. 'localhost:6060'; empty disables)")
}

func runCrawl(cmd *cobra.Command, flags *globalFlags, cf *crawlFlags, args []string) error {
	log := setupLogger(flags.logLevel)
	appCfg, err := loadAndValidateConfig(flags.configFile, log)
	if err != nil {
		return err
	}
	if err := applyCrawlOverrides(appCfg, cf); err != nil {
		return err
	}
	logAppConfig(appCfg, log)

	targets, err := buildTargets(appCfg, cf, cmd.Flags(), args, log)
	if err != nil {
		return err
	}
	startPprof(cf.pprofAddr, log)

	ctx, cancel := signalContext(cmd.Context(), log)
	defer cancel()

	rt, err := newCrawlRuntime(ctx, appCfg, targets, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	results := rt.orch.Run(ctx, targets)

	if cf.jsonOut {
		if err := printResultsJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	} else {
		printResults(cmd.OutOrStdout(), results)
	}

	failed := 0
	for _, r := range results {
		if !r.Success() {
			failed++
		}
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		log.Warn("Crawl cancelled gracefully.")
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d crawl(s) could not start", failed, len(results))
	}
	return nil
}

// crawlRuntime holds the collaborators shared by every crawl of one process
type crawlRuntime struct {
	store         *storage.BadgerStore
	orch          *orchestrate.Orchestrator
	closeRenderer func()
	stopGC        context.CancelFunc
	log           *logrus.Logger
}

// newCrawlRuntime opens the run archive, starts the renderer and wires the orchestrator.
// targets are only used to archive failed runs when the renderer cannot start.
func newCrawlRuntime(ctx context.Context, appCfg *config.AppConfig, targets []orchestrate.Target, log *logrus.Logger) (*crawlRuntime, error) {
	entry := logrus.NewEntry(log)
	store, err := storage.NewBadgerStore(appCfg.StateDir, entry.WithField("component", "run_store"))
	if err != nil {
		return nil, fmt.Errorf("failed to open run archive: %w", err)
	}
	gcCtx, stopGC := context.WithCancel(ctx)
	go store.RunGC(gcCtx, 10*time.Minute)

	httpClient := fetch.NewClient(appCfg.HTTPClientSettings, entry)
	fetcher := fetch.NewFetcher(httpClient, appCfg, entry.WithField("component", "fetcher"))
	rateLimiter := fetch.NewRateLimiter(appCfg.DelayPerHost, appCfg.MaxRequestsPerHost, entry.WithField("component", "rate_limiter"))
	seeder := sitemap.NewSeeder(fetcher, appCfg.SitemapMaxURLs, appCfg.SitemapTimeout, entry)

	renderer, closeRenderer, err := buildRenderer(appCfg, fetcher, entry)
	if err != nil {
		recordStartFailures(store, targets, appCfg.Renderer.Engine, err, log)
		stopGC()
		if closeErr := store.Close(); closeErr != nil {
			log.Errorf("Error closing run archive: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to start %s renderer: %w", appCfg.Renderer.Engine, err)
	}

	orch := orchestrate.NewOrchestrator(renderer, orchestrate.Options{
		MaxParallelSites: appCfg.MaxParallelSites,
		Workers:          appCfg.Workers,
		Strategy:         scope.DomainStrategy(appCfg.Scope.RegistrableDomain),
		RobotsAgent:      appCfg.EffectiveRobotsAgent(),
		RobotsTimeout:    appCfg.RobotsTimeout,
		RendererName:     appCfg.Renderer.Engine,
		OutputDir:        appCfg.OutputDir,
		Fetcher:          fetcher,
		RateLimiter:      rateLimiter,
		Seeder:           seeder,
		Runs:             store,
	}, entry)

	return &crawlRuntime{store: store, orch: orch, closeRenderer: closeRenderer, stopGC: stopGC, log: log}, nil
}

// Close stops the renderer and the GC loop, then closes the run archive
func (rt *crawlRuntime) Close() {
	rt.closeRenderer()
	rt.stopGC()
	if err := rt.store.Close(); err != nil {
		rt.log.Errorf("Error closing run archive: %v", err)
	}
}

// applyCrawlOverrides applies CLI flags that replace global config values
func applyCrawlOverrides(appCfg *config.AppConfig, cf *crawlFlags) error {
	switch cf.renderer {
	case "":
	case config.EngineChrome, config.EngineStatic:
		appCfg.Renderer.Engine = cf.renderer
	default:
		return fmt.Errorf("--renderer must be '%s' or '%s', got '%s'", config.EngineChrome, config.EngineStatic, cf.renderer)
	}
	if cf.workers > 0 {
		appCfg.Workers = cf.workers
	}
	if cf.outputDir != "" {
		appCfg.OutputDir = cf.outputDir
	}
	if cf.noOutput {
		appCfg.OutputDir = ""
	}
	return nil
}

// applyBudgetFlags overrides budget fields whose flags were set on the command line
func applyBudgetFlags(budget models.CrawlBudget, cf *crawlFlags, fs *pflag.FlagSet) models.CrawlBudget {
	if fs.Changed("max-pages") {
		budget.MaxPages = cf.maxPages
	}
	if fs.Changed("max-depth") {
		budget.MaxDepth = cf.maxDepth
	}
	if fs.Changed("max-time") {
		budget.MaxTime = cf.maxTime
	}
	if fs.Changed("include-subdomains") {
		budget.IncludeSubdomains = cf.includeSubdomains
	}
	if fs.Changed("ignore-robots") {
		budget.RespectRobotsTxt = !cf.ignoreRobots
	}
	return budget
}

// buildTargets resolves start URL arguments and site keys into crawl targets
func buildTargets(appCfg *config.AppConfig, cf *crawlFlags, fs *pflag.FlagSet, args []string, log *logrus.Logger) ([]orchestrate.Target, error) {
	siteKeys := cf.sites
	if cf.allSites {
		siteKeys = orchestrate.GetAllSiteKeys(appCfg)
	}
	if len(args) == 0 && len(siteKeys) == 0 {
		return nil, errors.New("nothing to crawl: pass start URLs, --site or --all-sites")
	}
	if err := orchestrate.ValidateSiteKeys(appCfg, siteKeys); err != nil {
		return nil, err
	}
	for _, key := range siteKeys {
		siteCfg := appCfg.Sites[key]
		siteWarnings, err := siteCfg.Validate()
		if err != nil {
			return nil, fmt.Errorf("site '%s' configuration error: %w", key, err)
		}
		for _, w := range siteWarnings {
			log.Warnf("[%s] %s", key, w)
		}
		appCfg.Sites[key] = siteCfg
	}

	startURLs := make([]string, 0, len(args))
	for _, arg := range args {
		canonical, _, err := parse.ParseAndCanonicalize(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid start URL '%s': %w", arg, err)
		}
		startURLs = append(startURLs, canonical)
	}

	targets := orchestrate.SiteTargets(appCfg, siteKeys)
	targets = append(targets, orchestrate.URLTargets(appCfg, startURLs, appCfg.Budget.CrawlBudget())...)
	for i := range targets {
		targets[i].Budget = applyBudgetFlags(targets[i].Budget, cf, fs)
	}
	return targets, nil
}

// detectorOptions converts the validated stabilize config into detector options
func detectorOptions(s config.StabilizeConfig) stabilize.Options {
	opts := stabilize.Options{
		DOMQuietWindow: s.DOMQuietWindow,
		Timeout:        s.Timeout,
		ReadyCap:       s.ReadyCap,
		PollInterval:   s.PollInterval,
		SettleDelay:    s.SettleDelay,
	}
	opts.NetworkIdleThreshold = stabilize.DefaultOptions().NetworkIdleThreshold
	if s.NetworkIdleThreshold != nil {
		opts.NetworkIdleThreshold = *s.NetworkIdleThreshold
	}
	return opts
}

// buildRenderer creates the configured renderer and its shutdown function
func buildRenderer(appCfg *config.AppConfig, fetcher *fetch.Fetcher, log *logrus.Entry) (frontier.Renderer, func(), error) {
	links := render.LinkOptions{RespectNofollow: appCfg.Renderer.RespectNofollow}

	if appCfg.Renderer.Engine == config.EngineStatic {
		r := render.NewStaticRenderer(fetcher, render.StaticOptions{
			Timeout:      appCfg.NavigationTimeout,
			MaxBodyBytes: appCfg.Renderer.MaxBodyBytes,
			Links:        links,
		}, log)
		return r, func() {}, nil
	}

	detector := stabilize.NewDetector(detectorOptions(appCfg.Stabilize), log)
	r, err := render.NewChromeRenderer(render.ChromeOptions{
		ExecPath:           appCfg.Renderer.ExecPath,
		Headless:           appCfg.Renderer.IsHeadless(),
		UserAgent:          appCfg.UserAgent,
		MaxTabs:            appCfg.Renderer.MaxTabs,
		NavigationTimeout:  appCfg.NavigationTimeout,
		LinkExtractTimeout: appCfg.LinkExtractTimeout,
		Links:              links,
	}, detector, log)
	if err != nil {
		return nil, nil, err
	}
	return r, r.Close, nil
}

// recordStartFailures archives a failed run for every target when the shared renderer could not start
func recordStartFailures(store storage.RunWriter, targets []orchestrate.Target, engine string, cause error, log *logrus.Logger) {
	now := time.Now().UTC()
	for _, t := range targets {
		rec := &models.RunRecord{
			ID:        uuid.NewString(),
			StartURL:  t.StartURL,
			Budget:    t.Budget,
			Renderer:  engine,
			Status:    models.RunStatusFailed,
			Error:     cause.Error(),
			CreatedAt: now,
		}
		if err := store.SaveRun(rec); err != nil {
			log.Warnf("Failed to archive failed run for %s: %v", t.StartURL, err)
		}
	}
}

// signalContext cancels on SIGINT/SIGTERM and forces exit on a second signal
func signalContext(parent context.Context, log *logrus.Logger) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
			cancel()
		case <-ctx.Done():
			return
		}
		select {
		case sig := <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// startPprof starts the pprof HTTP server if addr is non-empty
func startPprof(addr string, log *logrus.Logger) {
	if addr == "" {
		return
	}
	go func() {
		log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Errorf("pprof server error: %v", err)
		}
	}()
}

// printResults writes one summary line per crawl
func printResults(w io.Writer, results []orchestrate.SiteResult) {
	for _, r := range results {
		if !r.Success() {
			fmt.Fprintf(w, "FAILED  %s  run=%s  error=%v\n", r.Name, r.RunID, r.Error)
			continue
		}
		res := r.Result
		fmt.Fprintf(w, "OK      %s  run=%s  visited=%d unvisited=%d failed=%d robots=%s sitemap=%s duration=%v\n",
			r.Name, r.RunID, len(res.VisitedURLs), len(res.UnvisitedURLs), len(res.FailedURLs),
			res.RobotsOutcome, res.SitemapOutcome, res.Duration().Round(time.Millisecond))
		fmt.Fprintf(w, "        termination=%s", res.Termination)
		if r.OutputPath != "" {
			fmt.Fprintf(w, "  pages=%s", r.OutputPath)
		}
		fmt.Fprintln(w)
	}
}

// resultJSON is the --json form of one crawl
type resultJSON struct {
	Name       string              `json:"name"`
	RunID      string              `json:"run_id"`
	Error      string              `json:"error,omitempty"`
	OutputPath string              `json:"output_path,omitempty"`
	Result     *models.CrawlResult `json:"result,omitempty"`
}

func printResultsJSON(w io.Writer, results []orchestrate.SiteResult) error {
	out := make([]resultJSON, 0, len(results))
	for _, r := range results {
		entry := resultJSON{Name: r.Name, RunID: r.RunID, OutputPath: r.OutputPath, Result: r.Result}
		if r.Error != nil {
			entry.Error = r.Error.Error()
		}
		out = append(out, entry)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
