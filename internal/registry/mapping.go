package registry

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// EntityTypes returns the distinct source entities referenced by mappings in
// sorted order.
func EntityTypes(ms []FieldMapping) []string {
	names := lo.Uniq(lo.Map(ms, func(m FieldMapping, _ int) string { return m.SourceEntity }))
	sort.Strings(names)
	return names
}

// GroupByEntity groups mappings by source entity.
func GroupByEntity(ms []FieldMapping) map[string][]FieldMapping {
	return lo.GroupBy(ms, func(m FieldMapping) string { return m.SourceEntity })
}

// GroupByTable groups mappings by destination table.
func GroupByTable(ms []FieldMapping) map[string][]FieldMapping {
	return lo.GroupBy(ms, func(m FieldMapping) string { return m.LocalTable })
}

// Tables returns the destination tables referenced by mappings in sorted order.
func Tables(ms []FieldMapping) []string {
	names := lo.Keys(GroupByTable(ms))
	sort.Strings(names)
	return names
}

// KeyFields returns the key mappings.
func KeyFields(ms []FieldMapping) []FieldMapping {
	return lo.Filter(ms, func(m FieldMapping, _ int) bool { return m.IsKeyField })
}

// EnabledOnly drops disabled mappings.
func EnabledOnly(ms []FieldMapping) []FieldMapping {
	return lo.Filter(ms, func(m FieldMapping, _ int) bool { return m.Enabled })
}

// Validate rejects mapping sets where an entity maps two source fields onto
// the same destination column, or where a column is a key in one mapping but
// not in another.
func Validate(ms []FieldMapping) error {
	type col struct{ kind, entity, table, field string }
	seen := map[col]FieldMapping{}
	keyed := map[col]bool{}
	for _, m := range ms {
		if m.SourceEntity == "" || m.SourceField == "" || m.LocalTable == "" || m.LocalField == "" {
			return fmt.Errorf("mapping %s.%s -> %s.%s: empty name", m.SourceEntity, m.SourceField, m.LocalTable, m.LocalField)
		}
		if _, err := ParseKind(string(m.SourceKind)); err != nil {
			return err
		}
		c := col{string(m.SourceKind), m.SourceEntity, m.LocalTable, m.LocalField}
		if prev, ok := seen[c]; ok {
			return fmt.Errorf("column %s.%s mapped twice for %s (%s, %s)", m.LocalTable, m.LocalField, m.SourceEntity, prev.SourceField, m.SourceField)
		}
		seen[c] = m
		tc := col{kind: string(m.SourceKind), table: m.LocalTable, field: m.LocalField}
		if k, ok := keyed[tc]; ok && k != m.IsKeyField {
			return fmt.Errorf("column %s.%s has inconsistent key designation", m.LocalTable, m.LocalField)
		}
		keyed[tc] = m.IsKeyField
	}
	return nil
}
