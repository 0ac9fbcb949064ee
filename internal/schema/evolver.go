// Package schema grows destination tables to fit the active mappings.
package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/iancoleman/strcase"
	"go.uber.org/zap"

	"github.com/faciam-dev/cssync/internal/destination"
	"github.com/faciam-dev/cssync/internal/registry"
	"github.com/faciam-dev/cssync/pkg/metrics"
)

// ColumnSpec names a column the synchronizer is about to write. An empty Type
// falls back to the well-known type of the column, then to text.
type ColumnSpec struct {
	Name string
	Type destination.ColumnType
}

// ProvenanceColumn returns the column stamped with the sync time of kind.
func ProvenanceColumn(kind registry.Kind) string {
	return "updated_from_" + strcase.ToSnake(string(kind)) + "_at"
}

var wellKnown = map[string]map[string]destination.ColumnType{
	"customers": {
		"mrr":          destination.TypeDecimal,
		"arr":          destination.TypeDecimal,
		"health_score": destination.TypeInteger,
		"churned":      destination.TypeBoolean,
		"renewal_date": destination.TypeTimestamp,
	},
	"companies": {
		"employee_count": destination.TypeInteger,
		"arr":            destination.TypeDecimal,
		"mrr":            destination.TypeDecimal,
		"is_active":      destination.TypeBoolean,
	},
	"accounts": {
		"employee_count": destination.TypeInteger,
		"arr":            destination.TypeDecimal,
		"mrr":            destination.TypeDecimal,
		"is_active":      destination.TypeBoolean,
	},
}

// WellKnownType returns the type used for column of table when the mapping
// does not declare one.
func WellKnownType(table, column string) destination.ColumnType {
	if cols, ok := wellKnown[strings.ToLower(table)]; ok {
		if t, ok := cols[strings.ToLower(column)]; ok {
			return t
		}
	}
	return destination.TypeText
}

// ColumnsFor derives the column specs of table from its mappings. Columns
// are deduplicated; the first declared type wins.
func ColumnsFor(ms []registry.FieldMapping) []ColumnSpec {
	seen := map[string]bool{}
	var out []ColumnSpec
	for _, m := range ms {
		if seen[m.LocalField] {
			continue
		}
		seen[m.LocalField] = true
		spec := ColumnSpec{Name: m.LocalField}
		if t, ok := destination.ParseColumnType(m.LocalType); ok {
			spec.Type = t
		}
		out = append(out, spec)
	}
	return out
}

// Evolver adds missing destination columns.
type Evolver struct {
	store  destination.Store
	logger *zap.SugaredLogger
}

// New returns an Evolver writing through store.
func New(store destination.Store, logger *zap.SugaredLogger) *Evolver {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Evolver{store: store, logger: logger}
}

// EnsureColumns makes sure every column in cols and the provenance column of
// source exist on table. Failing to add a column is logged and ignored; only a
// failure to read the live column list is returned.
func (e *Evolver) EnsureColumns(ctx context.Context, table string, source registry.Kind, cols []ColumnSpec) error {
	live, err := e.store.Columns(ctx, table)
	if err != nil {
		return fmt.Errorf("read columns of %s: %w", table, err)
	}
	present := make(map[string]bool, len(live))
	for _, c := range live {
		present[strings.ToLower(c)] = true
	}

	want := append([]ColumnSpec{}, cols...)
	want = append(want, ColumnSpec{Name: ProvenanceColumn(source), Type: destination.TypeTimestamp})
	for _, c := range want {
		if present[strings.ToLower(c.Name)] {
			continue
		}
		typ := c.Type
		if typ == "" {
			typ = WellKnownType(table, c.Name)
		}
		if err := e.store.AddColumn(ctx, table, c.Name, typ); err != nil {
			e.logger.Warnw("add column failed", "table", table, "column", c.Name, "type", typ, "error", err)
			continue
		}
		present[strings.ToLower(c.Name)] = true
		metrics.SchemaColumnsAdded.WithLabelValues(table).Inc()
		e.logger.Infow("column added", "table", table, "column", c.Name, "type", typ)
	}
	return nil
}
