package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func boolPtr(b bool) *bool {
	return &b
}

func intPtr(i int) *int {
	return &i
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}

func TestBudgetConfig_CrawlBudget(t *testing.T) {
	b := BudgetConfig{MaxPages: 10, MaxDepth: 2, MaxTime: time.Minute}
	budget := b.CrawlBudget()

	assert.Equal(t, 10, budget.MaxPages)
	assert.Equal(t, 2, budget.MaxDepth)
	assert.Equal(t, time.Minute, budget.MaxTime)
	assert.False(t, budget.IncludeSubdomains)
	assert.True(t, budget.RespectRobotsTxt, "robots are respected unless disabled explicitly")

	b.RespectRobotsTxt = boolPtr(false)
	assert.False(t, b.CrawlBudget().RespectRobotsTxt)
}

func TestGetEffectiveBudget(t *testing.T) {
	appCfg := AppConfig{Budget: BudgetConfig{MaxPages: 50, MaxDepth: 3, MaxTime: 5 * time.Minute}}

	tests := []struct {
		name     string
		siteCfg  SiteConfig
		expected func() (int, int, time.Duration, bool, bool)
	}{
		{
			name:    "no overrides uses global",
			siteCfg: SiteConfig{},
			expected: func() (int, int, time.Duration, bool, bool) {
				return 50, 3, 5 * time.Minute, false, true
			},
		},
		{
			name: "every field overridden",
			siteCfg: SiteConfig{
				MaxPages:          intPtr(5),
				MaxDepth:          intPtr(0),
				MaxTime:           durationPtr(10 * time.Second),
				IncludeSubdomains: boolPtr(true),
				RespectRobotsTxt:  boolPtr(false),
			},
			expected: func() (int, int, time.Duration, bool, bool) {
				return 5, 0, 10 * time.Second, true, false
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetEffectiveBudget(tt.siteCfg, appCfg)
			pages, depth, maxTime, subdomains, robots := tt.expected()
			assert.Equal(t, pages, got.MaxPages)
			assert.Equal(t, depth, got.MaxDepth)
			assert.Equal(t, maxTime, got.MaxTime)
			assert.Equal(t, subdomains, got.IncludeSubdomains)
			assert.Equal(t, robots, got.RespectRobotsTxt)
		})
	}
}

func TestGetEffectiveExcludePatterns(t *testing.T) {
	appCfg := AppConfig{Scope: ScopeConfig{ExcludePatterns: []string{`^/admin/`}}}
	siteCfg := SiteConfig{ExcludePatterns: []string{`\.pdf$`}}

	assert.Equal(t, []string{`^/admin/`, `\.pdf$`}, GetEffectiveExcludePatterns(siteCfg, appCfg))
	assert.Empty(t, GetEffectiveExcludePatterns(SiteConfig{}, AppConfig{}))
}

func TestEffectiveRobotsAgent(t *testing.T) {
	tests := []struct {
		cfg      AppConfig
		expected string
	}{
		{AppConfig{UserAgent: "SettleCrawler/1.0 (+https://example.com/bot)"}, "SettleCrawler"},
		{AppConfig{UserAgent: "plainbot"}, "plainbot"},
		{AppConfig{UserAgent: "SettleCrawler/1.0", RobotsAgent: "custom-agent"}, "custom-agent"},
		{AppConfig{}, "*"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.cfg.EffectiveRobotsAgent())
	}
}

func TestRendererConfig_IsHeadless(t *testing.T) {
	assert.True(t, RendererConfig{}.IsHeadless())
	assert.True(t, RendererConfig{Headless: boolPtr(true)}.IsHeadless())
	assert.False(t, RendererConfig{Headless: boolPtr(false)}.IsHeadless())
}

func TestAppConfig_YAML(t *testing.T) {
	src := `
user_agent: "TestBot/2.0"
workers: 3
delay_per_host: 750ms
renderer:
  engine: static
  headless: false
stabilize:
  network_idle_threshold: 0
  dom_quiet_window: 500ms
scope:
  registrable_domain: publicsuffix
  exclude_patterns: ["^/private/"]
budget:
  max_pages: 20
  max_time: 2m
  respect_robots_txt: false
sites:
  docs:
    start_url: "https://docs.example.com/"
    max_depth: 1
`
	var cfg AppConfig
	require.NoError(t, yaml.Unmarshal([]byte(src), &cfg))

	assert.Equal(t, "TestBot/2.0", cfg.UserAgent)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 750*time.Millisecond, cfg.DelayPerHost)
	assert.Equal(t, EngineStatic, cfg.Renderer.Engine)
	assert.False(t, cfg.Renderer.IsHeadless())
	require.NotNil(t, cfg.Stabilize.NetworkIdleThreshold)
	assert.Equal(t, 0, *cfg.Stabilize.NetworkIdleThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.Stabilize.DOMQuietWindow)
	assert.Equal(t, "publicsuffix", cfg.Scope.RegistrableDomain)
	assert.Equal(t, 2*time.Minute, cfg.Budget.MaxTime)
	assert.False(t, cfg.Budget.CrawlBudget().RespectRobotsTxt)
	require.Contains(t, cfg.Sites, "docs")
	assert.Equal(t, 1, *cfg.Sites["docs"].MaxDepth)
}
