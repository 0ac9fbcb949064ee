// Package migrator applies the embedded registry schema.
package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Migration holds migration data for one version.
type Migration struct {
	Version int
	UpSQL   string
	DownSQL string
}

// Migrator applies migrations using embedded SQL. Table names in the files
// use the cssync_ prefix, which is rewritten to TablePrefix.
type Migrator struct {
	migrations  []Migration
	TablePrefix string
	Driver      string
}

// New returns a Migrator for the driver with table prefix. An empty prefix
// means cssync_.
func New(driver, prefix string) *Migrator {
	if prefix == "" {
		prefix = "cssync_"
	}
	var migs []Migration
	switch driver {
	case "postgres", "pgx":
		migs = postgresMigrations
	case "sqlite3":
		migs = sqliteMigrations
	default:
		migs = mysqlMigrations
	}
	return &Migrator{migrations: withPrefix(migs, prefix), TablePrefix: prefix, Driver: driver}
}

func withPrefix(migs []Migration, prefix string) []Migration {
	res := make([]Migration, len(migs))
	for i, m := range migs {
		m.UpSQL = strings.ReplaceAll(m.UpSQL, "cssync_", prefix)
		m.DownSQL = strings.ReplaceAll(m.DownSQL, "cssync_", prefix)
		res[i] = m
	}
	return res
}

// Latest returns the highest known version.
func (m *Migrator) Latest() int { return len(m.migrations) }

func (m *Migrator) versionTable() string {
	tbl := m.TablePrefix + "schema_version"
	switch m.Driver {
	case "postgres", "pgx":
		return pq.QuoteIdentifier(tbl)
	case "mysql":
		return "`" + tbl + "`"
	default:
		return `"` + tbl + `"`
	}
}

func (m *Migrator) ensureVersionTable(ctx context.Context, db *sql.DB) error {
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (version INTEGER NOT NULL)", m.versionTable()) // #nosec G201 -- table name derived from trusted prefix
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create version table: %w", err)
	}
	return nil
}

// Current returns the applied version, creating the version table on first use.
func (m *Migrator) Current(ctx context.Context, db *sql.DB) (int, error) {
	if err := m.ensureVersionTable(ctx, db); err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT MAX(version) FROM %s", m.versionTable()) // #nosec G201 -- table name derived from trusted prefix
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, query).Scan(&v); err != nil {
		return 0, err
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

func splitSQL(src string) []string {
	var (
		res       []string
		buf       strings.Builder
		inSingle  bool
		inDouble  bool
		dollarTag string
	)
	for i := 0; i < len(src); i++ {
		c := src[i]
		if dollarTag != "" {
			if strings.HasPrefix(src[i:], dollarTag) {
				buf.WriteString(dollarTag)
				i += len(dollarTag) - 1
				dollarTag = ""
				continue
			}
			buf.WriteByte(c)
			continue
		}
		switch c {
		case '\'':
			inSingle = !inSingle
		case '"':
			inDouble = !inDouble
		case '$':
			if !inSingle && !inDouble {
				j := i + 1
				for j < len(src) && ((src[j] >= 'a' && src[j] <= 'z') || (src[j] >= 'A' && src[j] <= 'Z') || (src[j] >= '0' && src[j] <= '9') || src[j] == '_') {
					j++
				}
				if j < len(src) && src[j] == '$' {
					dollarTag = src[i : j+1]
					buf.WriteString(dollarTag)
					i = j
					continue
				}
			}
		case ';':
			if !inSingle && !inDouble {
				s := strings.TrimSpace(buf.String())
				if s != "" {
					res = append(res, s)
				}
				buf.Reset()
				continue
			}
		}
		buf.WriteByte(c)
	}
	if s := strings.TrimSpace(buf.String()); s != "" {
		res = append(res, s)
	}
	return res
}

// ErrUnknownVersion is returned for targets outside the embedded range.
var ErrUnknownVersion = errors.New("unknown schema version")

// Up migrates the schema up to target. target=0 means latest.
func (m *Migrator) Up(ctx context.Context, db *sql.DB, target int) error {
	if target == 0 {
		target = len(m.migrations)
	}
	if target < 0 || target > len(m.migrations) {
		return ErrUnknownVersion
	}
	cur, err := m.Current(ctx, db)
	if err != nil {
		return err
	}
	if cur >= target {
		return nil
	}
	return m.apply(ctx, db, cur, target)
}

// Down migrates the schema down to target.
func (m *Migrator) Down(ctx context.Context, db *sql.DB, target int) error {
	if target < 0 || target > len(m.migrations) {
		return ErrUnknownVersion
	}
	cur, err := m.Current(ctx, db)
	if err != nil {
		return err
	}
	if target >= cur {
		return nil
	}
	return m.apply(ctx, db, cur, target)
}

func (m *Migrator) apply(ctx context.Context, db *sql.DB, from, to int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range m.SQLForRange(from, to) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("rollback: %v: %w", rbErr, err)
			}
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	del := fmt.Sprintf("DELETE FROM %s", m.versionTable()) // #nosec G201 -- table name derived from trusted prefix
	ins := fmt.Sprintf("INSERT INTO %s (version) VALUES (%d)", m.versionTable(), to)
	for _, stmt := range []string{del, ins} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record version: %w", err)
		}
	}
	return tx.Commit()
}

// SQLForRange returns SQL statements needed to migrate from->to.
func (m *Migrator) SQLForRange(from, to int) []string {
	var res []string
	if to > from {
		for i := from; i < to; i++ {
			res = append(res, splitSQL(m.migrations[i].UpSQL)...)
		}
	} else if to < from {
		for i := from - 1; i >= to; i-- {
			res = append(res, splitSQL(m.migrations[i].DownSQL)...)
		}
	}
	return res
}
