package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/settle-crawler/pkg/config"
	applog "github.com/Sriram-PR/settle-crawler/pkg/log"
)

// globalFlags are shared by every subcommand
type globalFlags struct {
	configFile string
	logLevel   string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "settle-crawler",
		Short:         "Breadth-first crawler that waits for pages to settle before reading links",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&flags.configFile, "config", "config.yaml", "Path to YAML config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "loglevel", "info", "Log level (trace, debug, info, warn, error)")

	root.AddCommand(
		newCrawlCmd(flags),
		newValidateCmd(flags),
		newRunsCmd(flags),
		newWatchCmd(flags),
		&cobra.Command{
			Use:   "version",
			Short: "Show version info",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "settle-crawler %s\n", version)
			},
		},
	)
	return root
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// loadAndValidateConfig loads the config file, applies defaults and logs warnings
func loadAndValidateConfig(configFile string, log *logrus.Logger) (*config.AppConfig, error) {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}
	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		return nil, err
	}
	return appCfg, nil
}

// setupLogger creates the application logger; an unknown level falls back to info
func setupLogger(level string) *logrus.Logger {
	log, err := applog.New(level)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", level, err)
	}
	return log
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Global Config: Workers:%d, ParallelSites:%d, MaxReqPerHost:%d, DelayPerHost:%v",
		appCfg.Workers, appCfg.MaxParallelSites, appCfg.MaxRequestsPerHost, appCfg.DelayPerHost)
	log.Infof("Global Config: StateDir:%s, OutputDir:%s, UserAgent:%q, RobotsAgent:%q",
		appCfg.StateDir, appCfg.OutputDir, appCfg.UserAgent, appCfg.EffectiveRobotsAgent())
	log.Infof("Global Config Renderer: Engine:%s, Headless:%t, MaxTabs:%d, Nofollow:%t",
		appCfg.Renderer.Engine, appCfg.Renderer.IsHeadless(), appCfg.Renderer.MaxTabs, appCfg.Renderer.RespectNofollow)
	log.Infof("Global Config Timeouts: Navigation:%v, LinkExtract:%v, Robots:%v, Sitemap:%v",
		appCfg.NavigationTimeout, appCfg.LinkExtractTimeout, appCfg.RobotsTimeout, appCfg.SitemapTimeout)
	log.Infof("Global Config Stabilize: Threshold:%d, DOMQuiet:%v, Timeout:%v, ReadyCap:%v",
		derefInt(appCfg.Stabilize.NetworkIdleThreshold), appCfg.Stabilize.DOMQuietWindow,
		appCfg.Stabilize.Timeout, appCfg.Stabilize.ReadyCap)
	log.Infof("Global Config Budget: MaxPages:%d, MaxDepth:%d, MaxTime:%v, Subdomains:%t, Scope:%s",
		appCfg.Budget.MaxPages, appCfg.Budget.MaxDepth, appCfg.Budget.MaxTime,
		appCfg.Budget.IncludeSubdomains, appCfg.Scope.RegistrableDomain)
	log.Infof("Global Config Retries: Max:%d, InitialDelay:%v, MaxDelay:%v",
		appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay)
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
