package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/faciam-dev/cssync/internal/orchestrator"
	"github.com/faciam-dev/cssync/internal/registry"
)

func newRunCmd(gf *globalFlags) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "run <source>",
		Short: "Run one synchronization now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := registry.ParseKind(args[0])
			if err != nil {
				return err
			}
			a, _, err := gf.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			res, runErr := a.Scheduler.Trigger(cmd.Context(), kind, orchestrator.RunOptions{Full: full})
			if gf.Output == "json" {
				if err := gf.printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", res.Status, res.Message)
				if res.Stats != nil {
					printStats(cmd, res.Stats)
				}
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "ignore last_synced_at and sync every fetched row")
	return cmd
}

func printStats(cmd *cobra.Command, stats *registry.RunStats) {
	tw := tablewriter.NewWriter(cmd.OutOrStdout())
	tw.SetHeader([]string{"Entity", "Total", "New", "Updated", "Skipped", "Errors"})
	for _, name := range sortedEntities(stats) {
		es := stats.Entities[name]
		tw.Append([]string{name, strconv.Itoa(es.Total), strconv.Itoa(es.New), strconv.Itoa(es.Updated), strconv.Itoa(es.Skipped), strconv.Itoa(es.Errors)})
	}
	tw.Render()
}

func newRunsCmd(gf *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs <source>",
		Short: "Show recent runs of a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := registry.ParseKind(args[0])
			if err != nil {
				return err
			}
			a, _, err := gf.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			runs, err := a.Repo.ListRuns(cmd.Context(), kind, limit)
			if err != nil {
				return err
			}
			if gf.Output == "json" {
				return gf.printJSON(cmd.OutOrStdout(), runs)
			}
			tw := tablewriter.NewWriter(cmd.OutOrStdout())
			tw.SetHeader([]string{"ID", "Started", "Duration", "Status", "Records"})
			for _, r := range runs {
				tw.Append([]string{
					strconv.FormatInt(r.ID, 10),
					r.StartedAt.Format(time.RFC3339),
					r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
					r.Status,
					strconv.Itoa(r.RecordCount),
				})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}

func sortedEntities(stats *registry.RunStats) []string {
	names := lo.Keys(stats.Entities)
	sort.Strings(names)
	return names
}
