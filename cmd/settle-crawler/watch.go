package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sriram-PR/settle-crawler/pkg/watch"
)

func newWatchCmd(flags *globalFlags) *cobra.Command {
	cf := &crawlFlags{}
	var intervalStr string
	var statusOnly bool

	cmd := &cobra.Command{
		Use:   "watch [start-url...]",
		Short: "Re-crawl sites on a fixed interval",
		Example: `  settle-crawler watch --site docs --interval 24h
  settle-crawler watch --all-sites --interval 6h --renderer static`,
		RunE: func(cmd *cobra.Command, args []string) error {
			interval, err := watch.ParseInterval(intervalStr)
			if err != nil {
				return err
			}

			log := setupLogger(flags.logLevel)
			appCfg, err := loadAndValidateConfig(flags.configFile, log)
			if err != nil {
				return err
			}
			if err := applyCrawlOverrides(appCfg, cf); err != nil {
				return err
			}
			targets, err := buildTargets(appCfg, cf, cmd.Flags(), args, log)
			if err != nil {
				return err
			}

			if statusOnly {
				scheduler := watch.NewScheduler(nil, targets, interval, appCfg.StateDir, log.WithField("command", "watch"))
				if err := scheduler.LoadState(); err != nil {
					return err
				}
				return printWatchStatus(cmd.OutOrStdout(), scheduler.GetStatus(), time.Now())
			}
			log.Infof("Watch interval: %s", watch.FormatInterval(interval))

			ctx, cancel := signalContext(cmd.Context(), log)
			defer cancel()

			rt, err := newCrawlRuntime(ctx, appCfg, targets, log)
			if err != nil {
				return err
			}
			defer rt.Close()

			scheduler := watch.NewScheduler(rt.orch, targets, interval, appCfg.StateDir, log.WithField("command", "watch"))
			if err := scheduler.Run(ctx); err != nil {
				return err
			}
			log.Info("Watch mode stopped")
			return nil
		},
	}

	bindCrawlFlags(cmd.Flags(), cf)
	cmd.Flags().StringVar(&intervalStr, "interval", "24h", "Crawl interval (e.g. 30m, 1h, 24h, 7d)")
	cmd.Flags().BoolVar(&statusOnly, "status", false, "Print the watch schedule and exit without crawling")
	return cmd
}

// printWatchStatus prints one row per watched target
func printWatchStatus(w io.Writer, status []watch.TargetStatus, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tLAST RUN\tRESULT\tPAGES\tNEXT RUN")
	for _, st := range status {
		if st.NeverRun {
			fmt.Fprintf(tw, "%s\tnever\t-\t-\tnow\n", st.Name)
			continue
		}
		result := st.State.Termination.String()
		if !st.State.LastRunSuccess {
			result = "failed"
		}
		next := "now"
		if st.NextRunTime.After(now) {
			next = "in " + watch.FormatInterval(st.NextRunTime.Sub(now))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", st.Name,
			st.State.LastRunTime.Local().Format("2006-01-02 15:04:05"), result, st.State.PagesVisited, next)
	}
	return tw.Flush()
}
