package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/faciam-dev/cssync/internal/app"
	"github.com/faciam-dev/cssync/internal/config"
	"github.com/faciam-dev/cssync/internal/logger"
	"github.com/faciam-dev/cssync/internal/server"
	"github.com/faciam-dev/cssync/pkg/crypto"
	"github.com/faciam-dev/cssync/pkg/metrics"
	"github.com/faciam-dev/cssync/pkg/util"
)

func main() {
	cfgPath := flag.String("config", util.GetEnv("CSSYNC_CONFIG", ""), "YAML config file")
	dsn := flag.String("dsn", "", "database DSN (overrides config)")
	driver := flag.String("driver", "", "database driver (overrides config)")
	tblPrefix := flag.String("table-prefix", "", "registry table prefix (default cssync_)")
	addr := flag.String("addr", "", "listen address (default :8080)")
	openapi := flag.String("openapi", "", "write OpenAPI JSON and exit")
	noScheduler := flag.Bool("no-scheduler", false, "do not start scheduler jobs")
	flag.Parse()

	if l, err := logger.New(logger.Config{}); err == nil {
		logger.Set(l)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.L.Fatalw("load config", "error", err)
	}
	if *dsn != "" {
		cfg.DSN = *dsn
		if *driver == "" {
			cfg.Driver = ""
		}
	}
	if *driver != "" {
		cfg.Driver = *driver
	}
	if *tblPrefix != "" {
		cfg.TablePrefix = *tblPrefix
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	l, err := logger.New(cfg.Logger)
	if err != nil {
		logger.L.Fatalw("build logger", "error", err)
	}
	logger.Set(l)
	defer func() { _ = logger.L.Sync() }()

	if cfg.Driver == "" && cfg.DSN != "" {
		d, err := util.DetectDriver(cfg.DSN)
		if err != nil {
			logger.L.Fatalw("detect driver", "error", err)
		}
		cfg.Driver = d
	} else if cfg.DSN != "" {
		if detected, err := util.DetectDriver(cfg.DSN); err == nil && detected != cfg.Driver && !(cfg.Driver == "pgx" && detected == "postgres") {
			logger.L.Fatalw("driver mismatch", "driver", cfg.Driver, "expected", detected)
		}
	}

	if *openapi != "" {
		api := server.New(server.Deps{})
		data, err := json.MarshalIndent(api.OpenAPI(), "", "  ")
		if err != nil {
			logger.L.Fatalw("marshal openapi", "error", err)
		}
		if err := os.WriteFile(filepath.Clean(*openapi), data, 0o600); err != nil {
			logger.L.Fatalw("write openapi", "error", err)
		}
		return
	}

	if err := crypto.CheckEnv(); err != nil {
		logger.L.Fatalw("crypto key", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger.L)
	if err != nil {
		logger.L.Fatalw("open engine", "error", err)
	}
	defer a.Close()
	if err := config.CheckPrefix(ctx, a.DB, a.Repo.Dialect, cfg.TablePrefix); err != nil {
		logger.L.Fatalw("prefix check", "error", err)
	}
	logger.L.Infow("registry ready", "driver", cfg.Driver, "table_prefix", cfg.TablePrefix)

	if !*noScheduler {
		if err := a.Scheduler.StartAll(); err != nil {
			logger.L.Errorw("start scheduler", "error", err)
		}
	}
	metrics.StartMappingGauge(ctx, a.Repo, logger.L)

	api := server.New(server.Deps{
		Scheduler: a.Scheduler,
		Sources:   a.Repo,
		Runs:      a.Orchestrator,
		Logger:    logger.L.Named("api"),
		APIToken:  os.Getenv("CSSYNC_API_TOKEN"),
	})
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.Adapter(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.L.Infow("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		a.Scheduler.Shutdown()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.L.Errorw("server error", "error", err)
	}
	logger.L.Infow("stopped")
}
