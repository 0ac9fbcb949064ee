package destination

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/faciam-dev/cssync/pkg/util"
)

// SQLStore implements Store on a database/sql connection.
type SQLStore struct {
	DB     *sql.DB
	Driver string
	// Schema restricts column introspection; empty uses the connection default.
	Schema string
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore builds a store for driver. For MySQL the schema is taken from dsn.
func NewSQLStore(db *sql.DB, driver, dsn string) *SQLStore {
	s := &SQLStore{DB: db, Driver: driver}
	if driver == "mysql" && dsn != "" {
		if cfg, err := mysql.ParseDSN(strings.TrimPrefix(dsn, "mysql://")); err == nil {
			s.Schema = cfg.DBName
		}
	}
	return s
}

func (s *SQLStore) q(ident string) string { return util.QuoteIdent(s.Driver, ident) }

func (s *SQLStore) ph(n int) string { return util.Placeholder(s.Driver, n) }

// SQLType returns the physical column type of t for the store's driver.
func (s *SQLStore) SQLType(t ColumnType) string {
	return SQLType(s.Driver, t)
}

// SQLType returns the physical column type of t for driver.
func SQLType(driver string, t ColumnType) string {
	switch driver {
	case "postgres", "pgx":
		switch t {
		case TypeInteger:
			return "BIGINT"
		case TypeDecimal:
			return "NUMERIC(18,2)"
		case TypeBoolean:
			return "BOOLEAN"
		case TypeTimestamp:
			return "TIMESTAMP"
		}
	case "mysql":
		switch t {
		case TypeInteger:
			return "BIGINT"
		case TypeDecimal:
			return "DECIMAL(18,2)"
		case TypeBoolean:
			return "TINYINT(1)"
		case TypeTimestamp:
			return "DATETIME"
		}
	default:
		switch t {
		case TypeInteger:
			return "INTEGER"
		case TypeDecimal:
			return "REAL"
		case TypeBoolean:
			return "BOOLEAN"
		case TypeTimestamp:
			return "TIMESTAMP"
		}
	}
	return "TEXT"
}

// Columns implements Store.
func (s *SQLStore) Columns(ctx context.Context, table string) ([]string, error) {
	var (
		rows *sql.Rows
		err  error
	)
	switch s.Driver {
	case "mysql":
		if s.Schema != "" {
			rows, err = s.DB.QueryContext(ctx, `SELECT COLUMN_NAME FROM information_schema.columns WHERE table_schema = ? AND table_name = ? ORDER BY ORDINAL_POSITION`, s.Schema, table)
		} else {
			rows, err = s.DB.QueryContext(ctx, `SELECT COLUMN_NAME FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ? ORDER BY ORDINAL_POSITION`, table)
		}
	case "postgres", "pgx":
		if s.Schema != "" {
			rows, err = s.DB.QueryContext(ctx, `SELECT column_name FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`, s.Schema, table)
		} else {
			rows, err = s.DB.QueryContext(ctx, `SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 ORDER BY ordinal_position`, table)
		}
	default:
		return s.sqliteColumns(ctx, table)
	}
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTable, table)
	}
	return cols, nil
}

func (s *SQLStore) sqliteColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", s.q(table)))
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTable, table)
	}
	return cols, nil
}

// AddColumn implements Store.
func (s *SQLStore) AddColumn(ctx context.Context, table, column string, typ ColumnType) error {
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", s.q(table), s.q(column), s.SQLType(typ))
	if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("add column: %w", err)
	}
	return nil
}

// keyCondition builds "(k1 = ? OR k2 = ?)" starting at placeholder n.
func (s *SQLStore) keyCondition(keys Record, n int) (string, []any) {
	parts := make([]string, 0, keys.Len())
	args := make([]any, 0, keys.Len())
	for i, c := range keys.Columns() {
		parts = append(parts, fmt.Sprintf("%s = %s", s.q(c), s.ph(n+i)))
		v, _ := keys.Get(c)
		args = append(args, v)
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

var errNoKeys = errors.New("no key values")

// FindByKeys implements Store.
func (s *SQLStore) FindByKeys(ctx context.Context, table string, keys Record) (bool, error) {
	if keys.Len() == 0 {
		return false, errNoKeys
	}
	cond, args := s.keyCondition(keys, 1)
	stmt := fmt.Sprintf("SELECT 1 FROM %s WHERE %s LIMIT 1", s.q(table), cond)
	var one int
	err := s.DB.QueryRowContext(ctx, stmt, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find: %w", err)
	}
	return true, nil
}

// InsertRow implements Store.
func (s *SQLStore) InsertRow(ctx context.Context, table string, row Record) error {
	if row.Len() == 0 {
		return fmt.Errorf("insert: empty row")
	}
	cols := row.Columns()
	quoted := make([]string, len(cols))
	phs := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = s.q(c)
		phs[i] = s.ph(i + 1)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.q(table), strings.Join(quoted, ", "), strings.Join(phs, ", "))
	if _, err := s.DB.ExecContext(ctx, stmt, row.Values()...); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

// UpdateRowByKeys implements Store.
func (s *SQLStore) UpdateRowByKeys(ctx context.Context, table string, keys, values Record) (int64, error) {
	if keys.Len() == 0 {
		return 0, errNoKeys
	}
	if values.Len() == 0 {
		return 0, nil
	}
	sets := make([]string, 0, values.Len())
	for i, c := range values.Columns() {
		sets = append(sets, fmt.Sprintf("%s = %s", s.q(c), s.ph(i+1)))
	}
	cond, keyArgs := s.keyCondition(keys, values.Len()+1)
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s", s.q(table), strings.Join(sets, ", "), cond)
	args := append(values.Values(), keyArgs...)
	res, err := s.DB.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}
