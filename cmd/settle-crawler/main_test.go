package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/settle-crawler/pkg/config"
	"github.com/Sriram-PR/settle-crawler/pkg/models"
	"github.com/Sriram-PR/settle-crawler/pkg/orchestrate"
	"github.com/Sriram-PR/settle-crawler/pkg/storage"
	"github.com/Sriram-PR/settle-crawler/pkg/watch"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))
	return cfgPath
}

const twoSiteConfig = `
workers: 4
state_dir: "./state"
budget:
  max_pages: 20
  max_depth: 2
  max_time: 1m
sites:
  site_a:
    start_url: "HTTPS://A.example.com/docs/"
    max_pages: 5
  site_b:
    start_url: "https://b.example.com"
`

func TestLoadConfig_ValidFile(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, twoSiteConfig))

	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, time.Minute, cfg.Budget.MaxTime)
	assert.Contains(t, cfg.Sites, "site_a")
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := loadConfig("/nonexistent/path/config.yaml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := loadConfig(writeConfig(t, "{{invalid yaml"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestDoValidate_AllSites(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doValidate(writeConfig(t, twoSiteConfig), "", &stdout, &stderr)

	assert.Equal(t, 0, exitCode, stderr.String())
	assert.Contains(t, stdout.String(), "OK: [site_a] https://a.example.com/docs")
	assert.Contains(t, stdout.String(), "OK: [site_b] https://b.example.com/")
	assert.Contains(t, stdout.String(), "Configuration valid")
}

func TestDoValidate_SpecificSite(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doValidate(writeConfig(t, twoSiteConfig), "site_b", &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout.String(), "OK: [site_b]")
	assert.NotContains(t, stdout.String(), "site_a")
}

func TestDoValidate_SiteNotFound(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doValidate(writeConfig(t, twoSiteConfig), "nonexistent", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "not found")
}

func TestDoValidate_InvalidSite(t *testing.T) {
	content := `
sites:
  bad_site:
    start_url: ""
`
	var stdout, stderr bytes.Buffer
	exitCode := doValidate(writeConfig(t, content), "bad_site", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "ERROR: [bad_site]")
}

func TestDoValidate_InvalidEngine(t *testing.T) {
	content := `
renderer:
  engine: "webkit"
`
	var stdout, stderr bytes.Buffer
	exitCode := doValidate(writeConfig(t, content), "", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "renderer.engine")
}

func TestDoValidate_ConfigNotFound(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doValidate("/nonexistent.yaml", "", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "Error")
}

func TestVersionCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "settle-crawler "+version+"\n", stdout.String())
}

func TestValidateCommand_QuietExitOnFailure(t *testing.T) {
	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)
	root.SetArgs([]string{"validate", "--config", "/nonexistent.yaml"})

	err := root.Execute()
	assert.True(t, errors.Is(err, errQuietExit))
	assert.Contains(t, stderr.String(), "read config")
}

func TestRootCommand_ListsSubcommands(t *testing.T) {
	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)
	root.SetArgs([]string{"--help"})
	require.NoError(t, root.Execute())

	out := stdout.String()
	for _, sub := range []string{"crawl", "validate", "runs", "watch", "version"} {
		assert.Contains(t, out, sub)
	}
}

func parseCrawlFlags(t *testing.T, args ...string) (*crawlFlags, *pflag.FlagSet) {
	t.Helper()
	cf := &crawlFlags{}
	fs := pflag.NewFlagSet("crawl", pflag.ContinueOnError)
	bindCrawlFlags(fs, cf)
	require.NoError(t, fs.Parse(args))
	return cf, fs
}

func validatedConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	appCfg, err := loadConfig(writeConfig(t, twoSiteConfig))
	require.NoError(t, err)
	_, err = appCfg.Validate()
	require.NoError(t, err)
	return appCfg
}

func TestApplyBudgetFlags_OnlyExplicitFlags(t *testing.T) {
	base := models.CrawlBudget{MaxPages: 20, MaxDepth: 2, MaxTime: time.Minute, RespectRobotsTxt: true}

	cf, fs := parseCrawlFlags(t)
	assert.Equal(t, base, applyBudgetFlags(base, cf, fs), "no flags leaves the budget untouched")

	cf, fs = parseCrawlFlags(t, "--max-depth=0", "--max-pages=7", "--max-time=30s", "--include-subdomains", "--ignore-robots")
	got := applyBudgetFlags(base, cf, fs)
	assert.Equal(t, 0, got.MaxDepth, "explicit zero depth is honored")
	assert.Equal(t, 7, got.MaxPages)
	assert.Equal(t, 30*time.Second, got.MaxTime)
	assert.True(t, got.IncludeSubdomains)
	assert.False(t, got.RespectRobotsTxt)
}

func TestBuildTargets_SitesAndURLs(t *testing.T) {
	appCfg := validatedConfig(t)
	cf, fs := parseCrawlFlags(t, "--site", "site_a", "--max-depth", "1", "https://C.example.com/x/#frag")

	targets, err := buildTargets(appCfg, cf, fs, fs.Args(), testLogger())
	require.NoError(t, err)
	require.Len(t, targets, 2)

	assert.Equal(t, "site_a", targets[0].Name)
	assert.Equal(t, "https://a.example.com/docs", targets[0].StartURL, "site start URL is canonicalized")
	assert.Equal(t, 5, targets[0].Budget.MaxPages, "site override kept")
	assert.Equal(t, 1, targets[0].Budget.MaxDepth, "flag beats config")

	assert.Equal(t, "https://c.example.com/x", targets[1].StartURL)
	assert.Equal(t, 20, targets[1].Budget.MaxPages)
	assert.Equal(t, 1, targets[1].Budget.MaxDepth)
	assert.True(t, targets[1].Budget.RespectRobotsTxt)
}

func TestBuildTargets_AllSites(t *testing.T) {
	appCfg := validatedConfig(t)
	cf, fs := parseCrawlFlags(t, "--all-sites")

	targets, err := buildTargets(appCfg, cf, fs, fs.Args(), testLogger())
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "site_a", targets[0].Name)
	assert.Equal(t, "site_b", targets[1].Name)
}

func TestBuildTargets_Errors(t *testing.T) {
	appCfg := validatedConfig(t)

	cf, fs := parseCrawlFlags(t)
	_, err := buildTargets(appCfg, cf, fs, nil, testLogger())
	assert.ErrorContains(t, err, "nothing to crawl")

	cf, fs = parseCrawlFlags(t, "--site", "missing")
	_, err = buildTargets(appCfg, cf, fs, nil, testLogger())
	assert.ErrorContains(t, err, "missing")

	cf, fs = parseCrawlFlags(t, "not a url")
	_, err = buildTargets(appCfg, cf, fs, fs.Args(), testLogger())
	assert.ErrorContains(t, err, "invalid start URL")
}

func TestApplyCrawlOverrides(t *testing.T) {
	appCfg := validatedConfig(t)
	require.Equal(t, config.EngineChrome, appCfg.Renderer.Engine)

	cf, _ := parseCrawlFlags(t, "--renderer", "static", "--workers", "3", "--no-output")
	require.NoError(t, applyCrawlOverrides(appCfg, cf))
	assert.Equal(t, config.EngineStatic, appCfg.Renderer.Engine)
	assert.Equal(t, 3, appCfg.Workers)
	assert.Empty(t, appCfg.OutputDir)

	cf, _ = parseCrawlFlags(t, "--renderer", "webkit")
	assert.Error(t, applyCrawlOverrides(appCfg, cf))
}

func TestDetectorOptions(t *testing.T) {
	zero := 0
	opts := detectorOptions(config.StabilizeConfig{
		NetworkIdleThreshold: &zero,
		DOMQuietWindow:       500 * time.Millisecond,
		Timeout:              10 * time.Second,
	})
	assert.Equal(t, 0, opts.NetworkIdleThreshold, "explicit zero threshold is kept")
	assert.Equal(t, 500*time.Millisecond, opts.DOMQuietWindow)
	assert.Equal(t, 10*time.Second, opts.Timeout)

	assert.Equal(t, 2, detectorOptions(config.StabilizeConfig{}).NetworkIdleThreshold)
}

func TestBuildRenderer_Static(t *testing.T) {
	appCfg := validatedConfig(t)
	appCfg.Renderer.Engine = config.EngineStatic

	r, closeFn, err := buildRenderer(appCfg, nil, logrus.NewEntry(testLogger()))
	require.NoError(t, err)
	require.NotNil(t, r)
	closeFn()
}

func TestRecordStartFailures(t *testing.T) {
	store, err := storage.NewInMemoryStore(logrus.NewEntry(testLogger()))
	require.NoError(t, err)
	defer store.Close()

	targets := []orchestrate.Target{{Name: "a", StartURL: "https://a.example.com/"}}
	recordStartFailures(store, targets, config.EngineChrome, errors.New("chrome not found"), testLogger())

	runs, err := store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)

	rec, err := store.GetRun(runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "chrome not found", rec.Error)
	assert.Equal(t, config.EngineChrome, rec.Renderer)
}

func seedRuns(t *testing.T) *storage.BadgerStore {
	t.Helper()
	store, err := storage.NewInMemoryStore(logrus.NewEntry(testLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveRun(&models.RunRecord{
		ID: "run-old", StartURL: "https://old.example.com/", Status: models.RunStatusFailed, CreatedAt: base,
	}))
	require.NoError(t, store.SaveRun(&models.RunRecord{
		ID: "run-new", StartURL: "https://new.example.com/", Status: models.RunStatusCompleted,
		CreatedAt: base.Add(time.Hour),
		Result: &models.CrawlResult{
			Termination: models.TerminationPageBudget,
			VisitedURLs: []string{"https://new.example.com/", "https://new.example.com/a"},
		},
	}))
	return store
}

func TestDoListRuns(t *testing.T) {
	store := seedRuns(t)

	var out bytes.Buffer
	require.NoError(t, doListRuns(context.Background(), store, 0, &out))
	text := out.String()
	assert.Contains(t, text, "TERMINATION")
	assert.Contains(t, text, "page_budget")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("run-new")), bytes.Index(out.Bytes(), []byte("run-old")), "newest first")

	out.Reset()
	require.NoError(t, doListRuns(context.Background(), store, 1, &out))
	assert.NotContains(t, out.String(), "run-old")
}

func TestDoListRuns_Empty(t *testing.T) {
	store, err := storage.NewInMemoryStore(logrus.NewEntry(testLogger()))
	require.NoError(t, err)
	defer store.Close()

	var out bytes.Buffer
	require.NoError(t, doListRuns(context.Background(), store, 10, &out))
	assert.Equal(t, "No runs archived.\n", out.String())
}

func TestDoShowRun(t *testing.T) {
	store := seedRuns(t)

	var out bytes.Buffer
	require.NoError(t, doShowRun(store, "run-new", &out))
	assert.Contains(t, out.String(), `"termination": "page_budget"`)
	assert.Contains(t, out.String(), "https://new.example.com/a")

	err := doShowRun(store, "nope", &out)
	assert.ErrorContains(t, err, "no run with id 'nope'")
}

func TestDoDeleteRun(t *testing.T) {
	store := seedRuns(t)

	var out bytes.Buffer
	require.NoError(t, doDeleteRun(store, "run-old", &out))
	assert.Equal(t, "Deleted run run-old\n", out.String())

	_, err := store.GetRun("run-old")
	assert.ErrorIs(t, err, storage.ErrRunNotFound)

	err = doDeleteRun(store, "run-old", &out)
	assert.ErrorContains(t, err, "no run with id 'run-old'")
}

func TestPrintResults(t *testing.T) {
	results := []orchestrate.SiteResult{
		{
			Name: "docs", RunID: "r1", OutputPath: "out/docs.jsonl",
			Result: &models.CrawlResult{
				Termination:   models.TerminationFrontierExhausted,
				VisitedURLs:   []string{"https://docs.example.com/"},
				RobotsOutcome: models.RobotsMissing,
			},
		},
		{Name: "bad", RunID: "r2", Error: errors.New("boom")},
	}

	var out bytes.Buffer
	printResults(&out, results)
	text := out.String()
	assert.Contains(t, text, "OK      docs  run=r1  visited=1")
	assert.Contains(t, text, "termination=frontier_exhausted  pages=out/docs.jsonl")
	assert.Contains(t, text, "FAILED  bad  run=r2  error=boom")

	out.Reset()
	require.NoError(t, printResultsJSON(&out, results))
	assert.Contains(t, out.String(), `"run_id": "r1"`)
	assert.Contains(t, out.String(), `"error": "boom"`)
}

func TestPrintWatchStatus(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	status := []watch.TargetStatus{
		{Name: "fresh", NeverRun: true, NextRunTime: now},
		{
			Name:        "docs",
			State:       watch.TargetState{LastRunTime: now.Add(-time.Hour), LastRunSuccess: true, Termination: models.TerminationPageBudget, PagesVisited: 12},
			NextRunTime: now.Add(5 * time.Hour),
		},
		{
			Name:        "broken",
			State:       watch.TargetState{LastRunTime: now.Add(-7 * time.Hour), ErrorMessage: "bad pattern"},
			NextRunTime: now.Add(-time.Hour),
		},
	}

	var out bytes.Buffer
	require.NoError(t, printWatchStatus(&out, status, now))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[1], "never")
	assert.Contains(t, lines[2], "page_budget")
	assert.Contains(t, lines[2], "in 5h")
	assert.Contains(t, lines[3], "failed")
	assert.True(t, strings.HasSuffix(lines[3], "now"))
}
