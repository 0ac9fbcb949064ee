package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/faciam-dev/cssync/pkg/migrator"
)

func newDBCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "db", Short: "Database operations"}
	cmd.AddCommand(newMigrateCmd(gf))
	return cmd
}

func newMigrateCmd(gf *globalFlags) *cobra.Command {
	var to string
	var down, verbose bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the registry tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, cfg, err := gf.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			m := migrator.New(cfg.Driver, cfg.TablePrefix)
			target := 0
			if to != "" && to != "latest" {
				v, err := strconv.Atoi(to)
				if err != nil {
					return fmt.Errorf("invalid --to: %w", err)
				}
				target = v
			}
			ctx := cmd.Context()
			cur, err := m.Current(ctx, db)
			if err != nil {
				return err
			}
			if down {
				if verbose {
					for _, s := range m.SQLForRange(cur, target) {
						fmt.Fprintln(cmd.OutOrStdout(), s+";")
					}
				}
				if err := m.Down(ctx, db, target); err != nil {
					return err
				}
			} else {
				if target == 0 {
					target = m.Latest()
				}
				if verbose {
					for _, s := range m.SQLForRange(cur, target) {
						fmt.Fprintln(cmd.OutOrStdout(), s+";")
					}
				}
				if err := m.Up(ctx, db, target); err != nil {
					return err
				}
			}
			now, err := m.Current(ctx, db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registry schema version %d -> %d\n", cur, now)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "latest", "target version (number or latest)")
	cmd.Flags().BoolVar(&down, "down", false, "migrate down to --to (latest means 0)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print SQL statements")
	return cmd
}
