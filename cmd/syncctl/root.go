package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/faciam-dev/cssync/internal/app"
	"github.com/faciam-dev/cssync/internal/config"
	"github.com/faciam-dev/cssync/internal/logger"
	"github.com/faciam-dev/cssync/pkg/util"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	Config      string
	DSN         string
	Driver      string
	TablePrefix string
	Output      string
}

func newRootCmd() *cobra.Command {
	var gf globalFlags
	cmd := &cobra.Command{
		Use:          "syncctl",
		Short:        "Operate the cssync synchronization engine",
		SilenceUsage: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&gf.Config, "config", util.GetEnv("CSSYNC_CONFIG", ""), "YAML config file")
	pf.StringVar(&gf.DSN, "db", "", "database DSN (overrides config)")
	pf.StringVar(&gf.Driver, "driver", "", "database driver (overrides config)")
	pf.StringVar(&gf.TablePrefix, "table-prefix", "", "registry table prefix")
	pf.StringVar(&gf.Output, "output", "table", "output format (table|json)")

	cmd.AddCommand(newDBCmd(&gf))
	cmd.AddCommand(newSourcesCmd(&gf))
	cmd.AddCommand(newMappingsCmd(&gf))
	cmd.AddCommand(newRunCmd(&gf))
	cmd.AddCommand(newRunsCmd(&gf))
	return cmd
}

// load resolves the configuration with flag overrides applied.
func (gf *globalFlags) load() (config.Config, error) {
	cfg, err := config.Load(gf.Config)
	if err != nil {
		return cfg, err
	}
	if gf.DSN != "" {
		cfg.DSN = gf.DSN
		cfg.Driver = ""
	}
	if gf.Driver != "" {
		cfg.Driver = gf.Driver
	}
	if gf.TablePrefix != "" {
		cfg.TablePrefix = gf.TablePrefix
	}
	if cfg.DSN == "" {
		return cfg, fmt.Errorf("--db or CSSYNC_DSN is required")
	}
	if cfg.Driver == "" {
		d, err := util.DetectDriver(cfg.DSN)
		if err != nil {
			return cfg, err
		}
		cfg.Driver = d
	}
	return cfg, nil
}

// open wires the engine for commands that need the registry.
func (gf *globalFlags) open(ctx context.Context) (*app.App, config.Config, error) {
	cfg, err := gf.load()
	if err != nil {
		return nil, cfg, err
	}
	a, err := app.Open(ctx, cfg, logger.L)
	return a, cfg, err
}

// openDB opens the database without wiring the engine.
func (gf *globalFlags) openDB() (*sql.DB, config.Config, error) {
	cfg, err := gf.load()
	if err != nil {
		return nil, cfg, err
	}
	db, err := sql.Open(cfg.Driver, util.DriverDSN(cfg.Driver, cfg.DSN))
	return db, cfg, err
}

func (gf *globalFlags) printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(b))
	return nil
}
