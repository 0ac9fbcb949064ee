// Package orchestrator runs one synchronization pass for a source kind.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/faciam-dev/cssync/internal/changefilter"
	"github.com/faciam-dev/cssync/internal/events"
	"github.com/faciam-dev/cssync/internal/registry"
	"github.com/faciam-dev/cssync/internal/schema"
	"github.com/faciam-dev/cssync/internal/source"
	"github.com/faciam-dev/cssync/internal/synchronizer"
	"github.com/faciam-dev/cssync/pkg/metrics"
)

// ErrRunInProgress is returned when a run for the same kind is active.
var ErrRunInProgress = errors.New("sync already in progress")

// Run status values.
const (
	StatusNoop     = registry.RunNoop
	StatusSuccess  = registry.RunSuccess
	StatusPartial  = registry.RunPartial
	StatusFailed   = registry.RunFailed
	StatusRejected = registry.RunRejected
)

// RunOptions tunes a single run.
type RunOptions struct {
	// Full disables change filtering.
	Full bool
}

// SyncResult is the outcome reported to callers.
type SyncResult struct {
	Success     bool               `json:"success"`
	Status      string             `json:"status"`
	Message     string             `json:"message"`
	RecordCount int                `json:"records"`
	Stats       *registry.RunStats `json:"stats,omitempty"`
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Registry     registry.Registry
	Factory      source.Factory
	Evolver      *schema.Evolver
	Synchronizer *synchronizer.Synchronizer
	Events       events.Publisher
	Logger       *zap.SugaredLogger
	Now          func() time.Time
}

// Orchestrator coordinates adapters, the change filter, the schema evolver
// and the table synchronizer.
type Orchestrator struct {
	cfg Config

	mu      sync.Mutex
	running map[registry.Kind]bool
}

// New creates an Orchestrator. Factory defaults to source.Build.
func New(cfg Config) *Orchestrator {
	if cfg.Factory == nil {
		cfg.Factory = source.Build
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{cfg: cfg, running: map[registry.Kind]bool{}}
}

// Running reports whether a run for kind is active.
func (o *Orchestrator) Running(kind registry.Kind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running[kind]
}

func (o *Orchestrator) acquire(kind registry.Kind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running[kind] {
		return false
	}
	o.running[kind] = true
	return true
}

func (o *Orchestrator) release(kind registry.Kind) {
	o.mu.Lock()
	delete(o.running, kind)
	o.mu.Unlock()
}

// RunOnce performs one run for kind. The returned error is non-nil only for
// rejected and failed runs; the result is always populated.
func (o *Orchestrator) RunOnce(ctx context.Context, kind registry.Kind, opts RunOptions) (SyncResult, error) {
	if !o.acquire(kind) {
		metrics.Runs.WithLabelValues(string(kind), StatusRejected).Inc()
		return SyncResult{Status: StatusRejected, Message: ErrRunInProgress.Error()}, ErrRunInProgress
	}
	defer o.release(kind)

	start := o.cfg.Now().UTC()
	log := o.cfg.Logger.With("source", string(kind))
	res, err := o.run(ctx, kind, opts, start, log)
	elapsed := o.cfg.Now().Sub(start).Seconds()

	metrics.Runs.WithLabelValues(string(kind), res.Status).Inc()
	metrics.RunDuration.WithLabelValues(string(kind)).Observe(elapsed)

	switch res.Status {
	case StatusNoop:
		log.Infow("nothing to sync", "reason", res.Message)
	case StatusFailed:
		log.Errorw("sync failed", "error", err)
		o.cfg.Events.Dispatch(ctx, events.New(events.SyncFailed, map[string]any{
			"source": string(kind), "message": res.Message,
		}))
	default:
		metrics.LastSuccess.WithLabelValues(string(kind)).Set(float64(start.Unix()))
		log.Infow("sync finished", "status", res.Status, "records", res.RecordCount, "duration", elapsed)
		o.cfg.Events.Dispatch(ctx, events.New(events.SyncCompleted, map[string]any{
			"source": string(kind), "status": res.Status, "records": res.RecordCount, "stats": res.Stats,
		}))
	}
	return res, err
}

func failed(format string, err error) (SyncResult, error) {
	err = fmt.Errorf(format, err)
	return SyncResult{Status: StatusFailed, Message: err.Error()}, err
}

func (o *Orchestrator) run(ctx context.Context, kind registry.Kind, opts RunOptions, start time.Time, log *zap.SugaredLogger) (SyncResult, error) {
	cfg, err := o.cfg.Registry.Config(ctx, kind)
	if err != nil {
		return failed("load config: %w", err)
	}
	if cfg == nil {
		return SyncResult{Success: true, Status: StatusNoop, Message: "no configuration for " + string(kind)}, nil
	}
	if !cfg.Active() {
		return SyncResult{Success: true, Status: StatusNoop, Message: string(kind) + " is inactive"}, nil
	}
	mappings, err := o.cfg.Registry.Mappings(ctx, kind)
	if err != nil {
		return failed("load mappings: %w", err)
	}
	if len(mappings) == 0 {
		return SyncResult{Success: true, Status: StatusNoop, Message: "no mappings for " + string(kind)}, nil
	}
	for i := range mappings {
		if mappings[i].SourceKind == "" {
			mappings[i].SourceKind = kind
		}
	}

	adapter, err := o.cfg.Factory(cfg, log)
	if err != nil {
		return failed("build adapter: %w", err)
	}
	if c, ok := adapter.(io.Closer); ok {
		defer c.Close()
	}

	stats := registry.NewRunStats(start)
	incremental := !opts.Full && cfg.LastSyncedAt != nil
	var since *time.Time
	if incremental {
		since = cfg.LastSyncedAt
	}

	// Fetch everything before writing so a source failure leaves the
	// destination untouched.
	byEntity := registry.GroupByEntity(mappings)
	fetched := map[string][]source.Entity{}
	for _, entity := range registry.EntityTypes(mappings) {
		rows, err := adapter.Fetch(ctx, entity, since)
		if errors.Is(err, source.ErrUnsupportedEntity) {
			log.Warnw("entity not supported by source", "entity", entity)
			continue
		}
		if err != nil {
			return failed("fetch: %w", err)
		}
		es := stats.Entity(entity)
		es.Total = len(rows)
		fr := changefilter.Filter(rows, cfg.LastSyncedAt, incremental, changefilter.PolicyFor(kind, entity))
		es.Skipped += fr.Skipped
		fetched[entity] = fr.Kept
		log.Debugw("fetched", "entity", entity, "total", len(rows), "kept", len(fr.Kept))
	}

	evolved := map[string]bool{}
	for _, entity := range registry.EntityTypes(mappings) {
		if len(fetched[entity]) == 0 {
			continue
		}
		byTable := registry.GroupByTable(byEntity[entity])
		// A keyless row is rejected by every table it fans out to but
		// counts once against the entity.
		keyless := 0
		for _, table := range registry.Tables(byEntity[entity]) {
			tm := byTable[table]
			if len(registry.KeyFields(tm)) == 0 {
				log.Warnw("table has no key mapping, skipped", "entity", entity, "table", table)
				continue
			}
			if !evolved[table] {
				evolved[table] = true
				if err := o.evolve(ctx, kind, table, mappings); err != nil {
					log.Warnw("schema evolution failed", "table", table, "error", err)
				}
			}
			r := o.cfg.Synchronizer.Sync(ctx, table, entity, tm, fetched[entity])
			es := stats.Entity(entity)
			es.New += r.Inserted
			es.Updated += r.Updated
			es.Errors += r.Errors
			keyless = max(keyless, r.Skipped)
		}
		es := stats.Entity(entity)
		es.Skipped += keyless
		es.Rejected += keyless
	}

	stats.Finish(o.cfg.Now().UTC())
	if err := o.cfg.Registry.SaveRunResult(ctx, kind, start, *stats); err != nil {
		return failed("data synchronized but saving run bookkeeping failed: %w", err)
	}

	t := stats.Totals()
	status := stats.RunStatus()
	return SyncResult{
		Success:     true,
		Status:      status,
		Message:     fmt.Sprintf("synced %d records (%d new, %d updated, %d skipped, %d errors)", t.New+t.Updated, t.New, t.Updated, t.Skipped, t.Errors),
		RecordCount: t.New + t.Updated,
		Stats:       stats,
	}, nil
}

// evolve ensures every column any of kind's mappings writes to table exists,
// including enrichment targets.
func (o *Orchestrator) evolve(ctx context.Context, kind registry.Kind, table string, mappings []registry.FieldMapping) error {
	if o.cfg.Evolver == nil {
		return nil
	}
	tm := registry.GroupByTable(mappings)[table]
	cols := schema.ColumnsFor(tm)
	seen := lo.SliceToMap(cols, func(c schema.ColumnSpec) (string, bool) { return c.Name, true })
	for _, entity := range registry.EntityTypes(tm) {
		for _, c := range synchronizer.EnrichedColumns(kind, entity, table) {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, schema.ColumnSpec{Name: c, Type: schema.WellKnownType(table, c)})
			}
		}
	}
	return o.cfg.Evolver.EnsureColumns(ctx, table, kind, cols)
}
