package destination

import (
	"context"
	"errors"
	"strings"
)

// ColumnType is the logical type of a destination column.
type ColumnType string

const (
	TypeText      ColumnType = "text"
	TypeInteger   ColumnType = "integer"
	TypeDecimal   ColumnType = "decimal"
	TypeBoolean   ColumnType = "boolean"
	TypeTimestamp ColumnType = "timestamp"
)

// ParseColumnType maps a mapping's declared type onto a ColumnType. Unknown or
// empty declarations return false.
func ParseColumnType(s string) (ColumnType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "string", "varchar":
		return TypeText, true
	case "integer", "int", "bigint":
		return TypeInteger, true
	case "decimal", "numeric", "float", "number":
		return TypeDecimal, true
	case "boolean", "bool":
		return TypeBoolean, true
	case "timestamp", "datetime", "date":
		return TypeTimestamp, true
	}
	return "", false
}

// ErrNoTable is returned when the destination table does not exist.
var ErrNoTable = errors.New("table not found")

// Store is the destination the synchronizer writes to. Table and column names
// are always quoted by the implementation and values are bound as parameters.
type Store interface {
	// Columns lists the live columns of table.
	Columns(ctx context.Context, table string) ([]string, error)
	// AddColumn adds a nullable column of the given type.
	AddColumn(ctx context.Context, table, column string, typ ColumnType) error
	// FindByKeys reports whether a row matches any of the key values.
	FindByKeys(ctx context.Context, table string, keys Record) (bool, error)
	// InsertRow inserts row.
	InsertRow(ctx context.Context, table string, row Record) error
	// UpdateRowByKeys sets values on every row matching any of the key values.
	UpdateRowByKeys(ctx context.Context, table string, keys, values Record) (int64, error)
}
