// Package synchronizer upserts projected source rows into destination tables.
package synchronizer

import (
	"context"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/faciam-dev/cssync/internal/destination"
	"github.com/faciam-dev/cssync/internal/registry"
	"github.com/faciam-dev/cssync/internal/schema"
	"github.com/faciam-dev/cssync/internal/source"
	"github.com/faciam-dev/cssync/pkg/metrics"
)

// Result counts row outcomes of one Sync call. Skipped rows had no key value.
type Result struct {
	Inserted int
	Updated  int
	Skipped  int
	Errors   int
}

// Synchronizer writes rows one at a time through a destination store.
type Synchronizer struct {
	store  destination.Store
	logger *zap.SugaredLogger
	now    func() time.Time
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithClock overrides the provenance clock.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a Synchronizer over store.
func New(store destination.Store, opts ...Option) *Synchronizer {
	s := &Synchronizer{store: store, logger: zap.NewNop().Sugar(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sync upserts rows of entity into table. Each row is looked up by an OR
// across its present key values, then inserted or updated without touching
// key columns. Row failures are logged and counted, never returned.
func (s *Synchronizer) Sync(ctx context.Context, table, entity string, mappings []registry.FieldMapping, rows []source.Entity) Result {
	var res Result
	if len(mappings) == 0 {
		return res
	}
	kind := mappings[0].SourceKind
	prov := schema.ProvenanceColumn(kind)
	keyCols := lo.Uniq(lo.Map(registry.KeyFields(mappings), func(m registry.FieldMapping, _ int) string { return m.LocalField }))
	log := s.logger.With("source", string(kind), "entity", entity, "table", table)

	for i, row := range rows {
		rec := Project(row, mappings)
		Enrich(&rec, kind, entity, table, row)

		keys := rec.Only(keyCols...)
		if keys.Len() == 0 {
			res.Skipped++
			log.Debugw("row has no key value", "row", i)
			continue
		}

		found, err := s.store.FindByKeys(ctx, table, keys)
		if err != nil {
			res.Errors++
			log.Errorw("lookup failed", "row", i, "keys", keys.Map(), "error", err)
			continue
		}
		now := s.now().UTC()
		if !found {
			rec.Set(prov, now)
			if err := s.store.InsertRow(ctx, table, rec); err != nil {
				res.Errors++
				log.Errorw("insert failed", "row", i, "keys", keys.Map(), "error", err)
				continue
			}
			res.Inserted++
			continue
		}
		values := rec.Without(keyCols...)
		values.Set(prov, now)
		if _, err := s.store.UpdateRowByKeys(ctx, table, keys, values); err != nil {
			res.Errors++
			log.Errorw("update failed", "row", i, "keys", keys.Map(), "error", err)
			continue
		}
		res.Updated++
	}

	metrics.Rows.WithLabelValues(string(kind), table, "inserted").Add(float64(res.Inserted))
	metrics.Rows.WithLabelValues(string(kind), table, "updated").Add(float64(res.Updated))
	metrics.Rows.WithLabelValues(string(kind), table, "skipped").Add(float64(res.Skipped))
	metrics.Rows.WithLabelValues(string(kind), table, "error").Add(float64(res.Errors))
	log.Infow("table synchronized", "inserted", res.Inserted, "updated", res.Updated, "skipped", res.Skipped, "errors", res.Errors)
	return res
}
