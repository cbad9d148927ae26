package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Sriram-PR/settle-crawler/pkg/storage"
)

func newRunsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect archived crawl runs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List archived runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunStore(flags, func(store storage.RunStore) error {
				return doListRuns(cmd.Context(), store, limit, cmd.OutOrStdout())
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list (0 = all)")

	var visitedLog string
	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print one archived run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunStore(flags, func(store storage.RunStore) error {
				if err := doShowRun(store, args[0], cmd.OutOrStdout()); err != nil {
					return err
				}
				if visitedLog != "" {
					return store.WriteVisitedLog(args[0], visitedLog)
				}
				return nil
			})
		},
	}
	show.Flags().StringVar(&visitedLog, "visited-log", "", "Also write the run's visited URLs to this file")

	remove := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Remove an archived run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunStore(flags, func(store storage.RunStore) error {
				return doDeleteRun(store, args[0], cmd.OutOrStdout())
			})
		},
	}

	cmd.AddCommand(list, show, remove)
	return cmd
}

// withRunStore opens the run archive named by the config's state_dir for the duration of fn
func withRunStore(flags *globalFlags, fn func(storage.RunStore) error) error {
	log := setupLogger(flags.logLevel)
	appCfg, err := loadAndValidateConfig(flags.configFile, log)
	if err != nil {
		return err
	}
	store, err := storage.NewBadgerStore(appCfg.StateDir, log.WithField("component", "run_store"))
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

// doListRuns prints a table of run summaries
func doListRuns(ctx context.Context, store storage.RunReader, limit int, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(stdout, "No runs archived.")
		return nil
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tTERMINATION\tVISITED\tUNVISITED\tFAILED\tCREATED\tSTART URL")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.Status, r.Termination, r.Visited, r.Unvisited, r.Failed,
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.StartURL)
	}
	return tw.Flush()
}

// doShowRun prints the full run record as indented JSON
func doShowRun(store storage.RunReader, id string, stdout io.Writer) error {
	rec, err := store.GetRun(id)
	if errors.Is(err, storage.ErrRunNotFound) {
		return fmt.Errorf("no run with id '%s'", id)
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func doDeleteRun(store storage.RunWriter, id string, stdout io.Writer) error {
	err := store.DeleteRun(id)
	if errors.Is(err, storage.ErrRunNotFound) {
		return fmt.Errorf("no run with id '%s'", id)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Deleted run %s\n", id)
	return nil
}
