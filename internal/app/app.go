// Package app wires the synchronization engine from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/faciam-dev/cssync/internal/config"
	"github.com/faciam-dev/cssync/internal/destination"
	"github.com/faciam-dev/cssync/internal/events"
	"github.com/faciam-dev/cssync/internal/orchestrator"
	"github.com/faciam-dev/cssync/internal/registry"
	"github.com/faciam-dev/cssync/internal/scheduler"
	"github.com/faciam-dev/cssync/internal/schema"
	"github.com/faciam-dev/cssync/internal/synchronizer"
	"github.com/faciam-dev/cssync/pkg/util"

	// source adapters register themselves
	_ "github.com/faciam-dev/cssync/internal/source/analytical"
	_ "github.com/faciam-dev/cssync/internal/source/billing"

	// registry and destination drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// App holds the wired engine.
type App struct {
	DB           *sql.DB
	Driver       string
	Repo         *registry.Repo
	Store        *destination.SQLStore
	Events       *events.Dispatcher
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *scheduler.Scheduler
	Logger       *zap.SugaredLogger

	closers []io.Closer
}

// Open connects to cfg.DSN and wires the engine over it. The destination
// tables live in the same database as the registry.
func Open(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (*App, error) {
	if cfg.DSN == "" {
		return nil, errors.New("dsn is required")
	}
	db, err := sql.Open(cfg.Driver, util.DriverDSN(cfg.Driver, cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	a, err := New(db, cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.closers = append(a.closers, db)
	return a, nil
}

// New wires the engine over an open database. Closing the App does not
// close db.
func New(db *sql.DB, cfg config.Config, logger *zap.SugaredLogger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	a := &App{
		DB:     db,
		Driver: cfg.Driver,
		Logger: logger,
		Repo: &registry.Repo{
			DB:          db,
			Dialect:     util.DialectFromDriver(cfg.Driver),
			Driver:      cfg.Driver,
			TablePrefix: cfg.TablePrefix,
		},
		Store: destination.NewSQLStore(db, cfg.Driver, cfg.DSN),
	}

	sinks, err := a.sinks(cfg.Events)
	if err != nil {
		a.Close()
		return nil, err
	}
	dlq := &events.SQLDLQ{DB: db, Driver: cfg.Driver, TablePrefix: cfg.TablePrefix}
	a.Events = events.NewDispatcher(cfg.Events, dlq, logger.Named("events"), sinks...)

	a.Orchestrator = orchestrator.New(orchestrator.Config{
		Registry:     a.Repo,
		Evolver:      schema.New(a.Store, logger.Named("schema")),
		Synchronizer: synchronizer.New(a.Store, synchronizer.WithLogger(logger.Named("sync"))),
		Events:       a.Events,
		Logger:       logger.Named("orchestrator"),
	})
	a.Scheduler = scheduler.New(a.Repo, a.Orchestrator,
		scheduler.WithInterval(cfg.PollInterval),
		scheduler.WithLogger(logger.Named("scheduler")),
	)
	return a, nil
}

func (a *App) sinks(c events.Config) ([]events.Sink, error) {
	var sinks []events.Sink
	if wh := events.NewWebhookSink(c.Sinks.Webhook); wh != nil {
		sinks = append(sinks, wh)
	}
	rs, err := events.NewRedisSink(c.Sinks.Redis)
	if err != nil {
		return nil, fmt.Errorf("redis sink: %w", err)
	}
	if rs != nil {
		sinks = append(sinks, rs)
		a.closers = append(a.closers, rs)
	}
	ks, err := events.NewKafkaSink(c.Sinks.Kafka)
	if err != nil {
		return nil, fmt.Errorf("kafka sink: %w", err)
	}
	if ks != nil {
		sinks = append(sinks, ks)
		a.closers = append(a.closers, ks)
	}
	return sinks, nil
}

// Close stops the scheduler, drains pending events and releases resources.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Shutdown()
	}
	if a.Events != nil {
		a.Events.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
