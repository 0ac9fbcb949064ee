package synchronizer

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/faciam-dev/cssync/internal/destination"
	"github.com/faciam-dev/cssync/internal/registry"
	"github.com/faciam-dev/cssync/internal/source"
)

// Project builds the destination record of row from mappings. Absent and
// null source values are left out.
func Project(row source.Entity, mappings []registry.FieldMapping) destination.Record {
	rec := destination.NewRecord()
	for _, m := range mappings {
		v, ok := Lookup(row, m.SourceField)
		if !ok || v == nil {
			continue
		}
		rec.Set(m.LocalField, normalize(v))
	}
	return rec
}

// Lookup resolves a field name or dot path in row. A literal key containing
// dots takes precedence over traversal.
func Lookup(row map[string]any, path string) (any, bool) {
	if v, ok := row[path]; ok {
		return v, true
	}
	parts := strings.Split(path, ".")
	var cur any = map[string]any(row)
	for _, p := range parts {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[p]
			if !ok {
				return nil, false
			}
			cur = v
		case source.Entity:
			v, ok := m[p]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

// normalize turns decoded JSON values into types every driver can bind.
func normalize(v any) any {
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int64(t)
		}
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any, []any, source.Entity:
		b, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		return string(b)
	}
	return v
}

// copyRule copies a source field into a destination column that generic
// mappings do not cover.
type copyRule struct {
	From string
	To   string
}

type enrichment struct {
	Kind   registry.Kind
	Entity string
	Table  string
	Copies []copyRule
}

// subscription status and plan live on the customer row.
var enrichments = []enrichment{
	{
		Kind:   registry.KindBilling,
		Entity: "subscription",
		Table:  "customers",
		Copies: []copyRule{
			{From: "status", To: "subscription_status"},
			{From: "plan_id", To: "plan_id"},
			{From: "mrr", To: "mrr"},
		},
	},
}

func enrichmentFor(kind registry.Kind, entity, table string) []copyRule {
	for _, e := range enrichments {
		if e.Kind == kind && e.Entity == entity && e.Table == table {
			return e.Copies
		}
	}
	return nil
}

// EnrichedColumns lists the extra columns written for entity into table.
func EnrichedColumns(kind registry.Kind, entity, table string) []string {
	var cols []string
	for _, c := range enrichmentFor(kind, entity, table) {
		cols = append(cols, c.To)
	}
	return cols
}

// Enrich applies the fixed copy rules of entity/table to rec. Columns already
// set by a mapping are not overwritten.
func Enrich(rec *destination.Record, kind registry.Kind, entity, table string, row source.Entity) {
	for _, c := range enrichmentFor(kind, entity, table) {
		if rec.Has(c.To) {
			continue
		}
		v, ok := Lookup(row, c.From)
		if !ok || v == nil {
			continue
		}
		rec.Set(c.To, normalize(v))
	}
}
