package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	ormdriver "github.com/faciam-dev/goquent/orm/driver"
	"github.com/faciam-dev/goquent/orm/query"

	"github.com/faciam-dev/cssync/pkg/util"
)

// Registry is the accessor the orchestrator and scheduler use.
type Registry interface {
	// Mappings returns the enabled mappings of kind. An empty result is not an error.
	Mappings(ctx context.Context, kind Kind) ([]FieldMapping, error)
	// Config returns the configuration of kind, or nil when none exists.
	Config(ctx context.Context, kind Kind) (*SourceConfig, error)
	// SaveRunResult advances last_synced_at and replaces the stored stats atomically.
	SaveRunResult(ctx context.Context, kind Kind, at time.Time, stats RunStats) error
}

// Repo implements Registry over SQL tables.
type Repo struct {
	DB          *sql.DB
	Dialect     ormdriver.Dialect
	Driver      string
	TablePrefix string
}

var _ Registry = (*Repo)(nil)

func (r *Repo) prefix() string {
	if r.TablePrefix != "" {
		return r.TablePrefix
	}
	return "cssync_"
}

func (r *Repo) configsTable() string  { return r.prefix() + "source_configs" }
func (r *Repo) mappingsTable() string { return r.prefix() + "field_mappings" }
func (r *Repo) runsTable() string     { return r.prefix() + "sync_runs" }

func (r *Repo) dialect() ormdriver.Dialect {
	if r.Dialect != nil {
		return r.Dialect
	}
	return util.DialectFromDriver(r.Driver)
}

func (r *Repo) check() error {
	if r == nil || r.DB == nil {
		return fmt.Errorf("repo not initialized")
	}
	return nil
}

type configRow struct {
	ID            int64           `db:"id"`
	Kind          string          `db:"kind"`
	Status        string          `db:"status"`
	SyncFrequency sql.NullFloat64 `db:"sync_frequency"`
	LastSyncedAt  sql.NullString  `db:"last_synced_at"`
	LastSyncStats []byte          `db:"last_sync_stats"`
	Credentials   []byte          `db:"credentials"`
	Settings      []byte          `db:"settings"`
}

var configColumns = []string{"id", "kind", "status", "sync_frequency", "last_synced_at", "last_sync_stats", "credentials", "settings"}

func (row configRow) toConfig() (*SourceConfig, error) {
	cfg := &SourceConfig{
		ID:          row.ID,
		Kind:        Kind(row.Kind),
		Status:      row.Status,
		Credentials: row.Credentials,
	}
	if row.SyncFrequency.Valid {
		f := row.SyncFrequency.Float64
		cfg.SyncFrequency = &f
	}
	if row.LastSyncedAt.Valid && row.LastSyncedAt.String != "" {
		ts, err := parseSQLTime(row.LastSyncedAt.String)
		if err != nil {
			return nil, fmt.Errorf("last_synced_at: %w", err)
		}
		cfg.LastSyncedAt = &ts
	}
	if len(row.LastSyncStats) > 0 {
		var st RunStats
		if err := json.Unmarshal(row.LastSyncStats, &st); err != nil {
			return nil, fmt.Errorf("last_sync_stats: %w", err)
		}
		cfg.LastSyncStats = &st
	}
	if len(row.Settings) > 0 {
		cfg.Settings = json.RawMessage(row.Settings)
	}
	return cfg, nil
}

// Config returns the configuration for kind, or nil when none is stored.
func (r *Repo) Config(ctx context.Context, kind Kind) (*SourceConfig, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	var row configRow
	q := query.New(r.DB, r.configsTable(), r.dialect()).
		Select(configColumns...).
		Where("kind", string(kind)).
		WithContext(ctx)
	if err := q.First(&row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load config: %w", err)
	}
	return row.toConfig()
}

// ListConfigs returns every stored source configuration.
func (r *Repo) ListConfigs(ctx context.Context) ([]SourceConfig, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	var rows []configRow
	q := query.New(r.DB, r.configsTable(), r.dialect()).
		Select(configColumns...).
		OrderBy("kind", "asc").
		WithContext(ctx)
	if err := q.Get(&rows); err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	out := make([]SourceConfig, 0, len(rows))
	for _, row := range rows {
		cfg, err := row.toConfig()
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}
	return out, nil
}

// UpsertConfig creates or updates the configuration of cfg.Kind. Run
// bookkeeping columns are left alone.
func (r *Repo) UpsertConfig(ctx context.Context, cfg SourceConfig) error {
	if err := r.check(); err != nil {
		return err
	}
	if _, err := ParseKind(string(cfg.Kind)); err != nil {
		return err
	}
	if cfg.Status != StatusActive && cfg.Status != StatusInactive {
		return fmt.Errorf("invalid status %q", cfg.Status)
	}
	data := map[string]any{
		"status":     cfg.Status,
		"updated_at": time.Now().UTC(),
	}
	if cfg.SyncFrequency != nil {
		data["sync_frequency"] = *cfg.SyncFrequency
	} else {
		data["sync_frequency"] = nil
	}
	if len(cfg.Credentials) > 0 {
		data["credentials"] = cfg.Credentials
	}
	if len(cfg.Settings) > 0 {
		data["settings"] = string(cfg.Settings)
	}

	existing, err := r.Config(ctx, cfg.Kind)
	if err != nil {
		return err
	}
	if existing != nil {
		q := query.New(r.DB, r.configsTable(), r.dialect()).
			Where("kind", string(cfg.Kind)).
			WithContext(ctx)
		if _, err := q.Update(data); err != nil {
			return fmt.Errorf("update config: %w", err)
		}
		return nil
	}
	data["kind"] = string(cfg.Kind)
	data["created_at"] = data["updated_at"]
	q := query.New(r.DB, r.configsTable(), r.dialect()).WithContext(ctx)
	if _, err := q.InsertGetId(data); err != nil {
		return fmt.Errorf("insert config: %w", err)
	}
	return nil
}

type mappingRow struct {
	ID           int64          `db:"id"`
	SourceKind   string         `db:"source_kind"`
	SourceEntity string         `db:"source_entity"`
	SourceField  string         `db:"source_field"`
	LocalTable   string         `db:"local_table"`
	LocalField   string         `db:"local_field"`
	IsKeyField   bool           `db:"is_key_field"`
	LocalType    sql.NullString `db:"local_type"`
	Enabled      bool           `db:"enabled"`
}

// ListMappings returns all mappings of kind, including disabled ones.
func (r *Repo) ListMappings(ctx context.Context, kind Kind) ([]FieldMapping, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	var rows []mappingRow
	q := query.New(r.DB, r.mappingsTable(), r.dialect()).
		Select("id", "source_kind", "source_entity", "source_field", "local_table", "local_field", "is_key_field", "local_type", "enabled").
		Where("source_kind", string(kind)).
		OrderBy("id", "asc").
		WithContext(ctx)
	if err := q.Get(&rows); err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	out := make([]FieldMapping, 0, len(rows))
	for _, row := range rows {
		out = append(out, FieldMapping{
			ID:           row.ID,
			SourceKind:   Kind(row.SourceKind),
			SourceEntity: row.SourceEntity,
			SourceField:  row.SourceField,
			LocalTable:   row.LocalTable,
			LocalField:   row.LocalField,
			IsKeyField:   row.IsKeyField,
			LocalType:    row.LocalType.String,
			Enabled:      row.Enabled,
		})
	}
	return out, nil
}

// Mappings returns the enabled mappings of kind.
func (r *Repo) Mappings(ctx context.Context, kind Kind) ([]FieldMapping, error) {
	ms, err := r.ListMappings(ctx, kind)
	if err != nil {
		return nil, err
	}
	return EnabledOnly(ms), nil
}

// ReplaceMappings swaps the full mapping set of kind in one transaction.
func (r *Repo) ReplaceMappings(ctx context.Context, kind Kind, ms []FieldMapping) error {
	if err := r.check(); err != nil {
		return err
	}
	for i := range ms {
		if ms[i].SourceKind == "" {
			ms[i].SourceKind = kind
		}
		if ms[i].SourceKind != kind {
			return fmt.Errorf("mapping %s.%s belongs to %s", ms[i].SourceEntity, ms[i].SourceField, ms[i].SourceKind)
		}
	}
	if err := Validate(ms); err != nil {
		return err
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	del := fmt.Sprintf("DELETE FROM %s WHERE source_kind=%s", r.mappingsTable(), r.ph(1))
	if _, err := tx.ExecContext(ctx, del, string(kind)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete mappings: %w", err)
	}
	ins := fmt.Sprintf("INSERT INTO %s (source_kind, source_entity, source_field, local_table, local_field, is_key_field, local_type, enabled) VALUES (%s)",
		r.mappingsTable(), r.phs(8))
	for _, m := range ms {
		var lt any
		if m.LocalType != "" {
			lt = m.LocalType
		}
		if _, err := tx.ExecContext(ctx, ins, string(kind), m.SourceEntity, m.SourceField, m.LocalTable, m.LocalField, m.IsKeyField, lt, m.Enabled); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert mapping %s.%s: %w", m.SourceEntity, m.SourceField, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SaveRunResult updates the config bookkeeping and appends a history row in
// the same transaction.
func (r *Repo) SaveRunResult(ctx context.Context, kind Kind, at time.Time, stats RunStats) error {
	if err := r.check(); err != nil {
		return err
	}
	blob, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	at = at.UTC()

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	upd := fmt.Sprintf("UPDATE %s SET last_synced_at=%s, last_sync_stats=%s, updated_at=%s WHERE kind=%s",
		r.configsTable(), r.ph(1), r.ph(2), r.ph(3), r.ph(4))
	res, err := tx.ExecContext(ctx, upd, at, string(blob), at, string(kind))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update config: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		_ = tx.Rollback()
		return fmt.Errorf("update config: no config for %s", kind)
	}
	ins := fmt.Sprintf("INSERT INTO %s (source_kind, started_at, finished_at, status, record_count, stats) VALUES (%s)",
		r.runsTable(), r.phs(6))
	tot := stats.Totals()
	start, end := stats.StartTime.UTC(), stats.EndTime.UTC()
	if stats.StartTime.IsZero() {
		start = at
	}
	if stats.EndTime.IsZero() {
		end = at
	}
	if _, err := tx.ExecContext(ctx, ins, string(kind), start, end, stats.RunStatus(), tot.New+tot.Updated, string(blob)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type runRow struct {
	ID          int64  `db:"id"`
	SourceKind  string `db:"source_kind"`
	StartedAt   string `db:"started_at"`
	FinishedAt  string `db:"finished_at"`
	Status      string `db:"status"`
	RecordCount int    `db:"record_count"`
	Stats       []byte `db:"stats"`
}

// ListRuns returns the most recent runs of kind, newest first.
func (r *Repo) ListRuns(ctx context.Context, kind Kind, limit int) ([]RunRecord, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	var rows []runRow
	q := query.New(r.DB, r.runsTable(), r.dialect()).
		Select("id", "source_kind", "started_at", "finished_at", "status", "record_count", "stats").
		Where("source_kind", string(kind)).
		OrderBy("id", "desc").
		Limit(limit).
		WithContext(ctx)
	if err := q.Get(&rows); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]RunRecord, 0, len(rows))
	for _, row := range rows {
		rec := RunRecord{
			ID:          row.ID,
			SourceKind:  Kind(row.SourceKind),
			Status:      row.Status,
			RecordCount: row.RecordCount,
		}
		var err error
		if rec.StartedAt, err = parseSQLTime(row.StartedAt); err != nil {
			return nil, fmt.Errorf("started_at: %w", err)
		}
		if rec.FinishedAt, err = parseSQLTime(row.FinishedAt); err != nil {
			return nil, fmt.Errorf("finished_at: %w", err)
		}
		if len(row.Stats) > 0 {
			var st RunStats
			if err := json.Unmarshal(row.Stats, &st); err == nil {
				rec.Stats = &st
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *Repo) ph(n int) string { return util.Placeholder(r.Driver, n) }

func (r *Repo) phs(count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = r.ph(i + 1)
	}
	return strings.Join(parts, ", ")
}

// CountMappings returns the number of mappings per source kind.
func (r *Repo) CountMappings(ctx context.Context) (map[string]int, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	q := query.New(r.DB, r.mappingsTable(), r.dialect()).
		Select("source_kind").
		SelectRaw("COUNT(*) as cnt").
		GroupBy("source_kind").
		WithContext(ctx)

	type row struct {
		Kind string `db:"source_kind"`
		Cnt  int    `db:"cnt"`
	}
	var rows []row
	if err := q.Get(&rows); err != nil {
		return nil, fmt.Errorf("count mappings: %w", err)
	}
	res := make(map[string]int, len(rows))
	for _, rw := range rows {
		res[rw.Kind] = rw.Cnt
	}
	return res, nil
}
