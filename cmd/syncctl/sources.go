package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/faciam-dev/cssync/internal/registry"
	"github.com/faciam-dev/cssync/pkg/crypto"
)

func newSourcesCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "sources", Short: "Manage source configurations"}
	cmd.AddCommand(newSourcesListCmd(gf))
	cmd.AddCommand(newSourcesSetCmd(gf))
	return cmd
}

func newSourcesListCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := gf.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			cfgs, err := a.Repo.ListConfigs(cmd.Context())
			if err != nil {
				return err
			}
			if gf.Output == "json" {
				for i := range cfgs {
					cfgs[i].Credentials = nil
				}
				return gf.printJSON(cmd.OutOrStdout(), cfgs)
			}
			tw := tablewriter.NewWriter(cmd.OutOrStdout())
			tw.SetHeader([]string{"Kind", "Status", "Frequency (h)", "Last synced", "Last records"})
			for _, c := range cfgs {
				freq, last, recs := "-", "never", "-"
				if c.SyncFrequency != nil {
					freq = strconv.FormatFloat(*c.SyncFrequency, 'f', -1, 64)
				}
				if c.LastSyncedAt != nil {
					last = c.LastSyncedAt.Format(time.RFC3339)
				}
				if c.LastSyncStats != nil {
					t := c.LastSyncStats.Totals()
					recs = strconv.Itoa(t.New + t.Updated)
				}
				tw.Append([]string{string(c.Kind), c.Status, freq, last, recs})
			}
			tw.Render()
			return nil
		},
	}
}

func newSourcesSetCmd(gf *globalFlags) *cobra.Command {
	var status, settingsFile, credentialsFile string
	var frequency float64
	cmd := &cobra.Command{
		Use:   "set <source>",
		Short: "Create or update a source configuration",
		Long: "Create or update a source configuration. Credentials are read from a JSON " +
			"file and encrypted with CSSYNC_ENC_KEY before they are stored.",
		Args: cobra.ExactArgs(1),
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

			cfg := registry.SourceConfig{Kind: kind, Status: status}
			if existing, err := a.Repo.Config(cmd.Context(), kind); err != nil {
				return err
			} else if existing != nil {
				cfg = *existing
				if cmd.Flags().Changed("status") {
					cfg.Status = status
				}
				cfg.Credentials = nil
				cfg.Settings = nil
			}
			if cmd.Flags().Changed("frequency") {
				if frequency <= 0 {
					cfg.SyncFrequency = nil
				} else {
					cfg.SyncFrequency = &frequency
				}
			}
			if settingsFile != "" {
				b, err := os.ReadFile(settingsFile) //nolint:gosec // operator-supplied path
				if err != nil {
					return err
				}
				if !json.Valid(b) {
					return fmt.Errorf("%s: settings must be JSON", settingsFile)
				}
				cfg.Settings = b
			}
			if credentialsFile != "" {
				b, err := os.ReadFile(credentialsFile) //nolint:gosec // operator-supplied path
				if err != nil {
					return err
				}
				var creds map[string]any
				if err := json.Unmarshal(b, &creds); err != nil {
					return fmt.Errorf("%s: %w", credentialsFile, err)
				}
				sealed, err := crypto.SealJSON(creds)
				if err != nil {
					return err
				}
				cfg.Credentials = sealed
			}
			if err := a.Repo.UpsertConfig(cmd.Context(), cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "source %s saved (status %s)\n", kind, cfg.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", registry.StatusInactive, "active or inactive")
	cmd.Flags().Float64Var(&frequency, "frequency", 0, "hours between scheduled runs (0 disables)")
	cmd.Flags().StringVar(&settingsFile, "settings", "", "JSON file with adapter settings")
	cmd.Flags().StringVar(&credentialsFile, "credentials", "", "JSON file with adapter credentials")
	return cmd
}
