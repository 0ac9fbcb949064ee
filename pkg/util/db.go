package util

import (
	"fmt"
	"strconv"
	"strings"

	ormdriver "github.com/faciam-dev/goquent/orm/driver"
)

// UnsupportedDialect is returned when a driver has no corresponding goquent dialect.
type UnsupportedDialect struct{ Driver string }

func (UnsupportedDialect) Placeholder(int) string { return "?" }

func (UnsupportedDialect) QuoteIdent(ident string) string { return ident }

// SQLiteDialect lets goquent build queries against sqlite3 connections.
type SQLiteDialect struct{}

func (SQLiteDialect) Placeholder(int) string { return "?" }

func (SQLiteDialect) QuoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// DetectDriver returns the driver name based on the DSN scheme.
// Supported schemes: mysql, postgres/postgresql and sqlite/file.
func DetectDriver(dsn string) (string, error) {
	// MySQL DSNs such as user:pw@tcp(host:3306)/db are not valid URLs, so
	// only the scheme is inspected.
	scheme, _, ok := strings.Cut(dsn, "://")
	if !ok {
		if strings.HasPrefix(dsn, "file:") {
			return "sqlite3", nil
		}
		return "", fmt.Errorf("missing scheme in dsn")
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	case "sqlite", "sqlite3", "file":
		return "sqlite3", nil
	default:
		return "", fmt.Errorf("unknown scheme: %s", scheme)
	}
}

// DialectFromDriver returns the goquent dialect corresponding to a driver.
func DialectFromDriver(d string) ormdriver.Dialect {
	switch d {
	case "postgres", "pgx":
		return ormdriver.PostgresDialect{}
	case "mysql":
		return ormdriver.MySQLDialect{}
	case "sqlite3":
		return SQLiteDialect{}
	default:
		return UnsupportedDialect{Driver: d}
	}
}

// QuoteIdent quotes an identifier for the given driver, doubling any embedded
// quote characters.
func QuoteIdent(driver, ident string) string {
	switch driver {
	case "mysql":
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	default:
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	}
}

// Placeholder returns the n-th (1-based) bind parameter marker for driver.
func Placeholder(driver string, n int) string {
	switch driver {
	case "postgres", "pgx":
		return "$" + strconv.Itoa(n)
	default:
		return "?"
	}
}

// DriverDSN strips the URL scheme from DSNs whose driver does not accept one.
func DriverDSN(driver, dsn string) string {
	switch driver {
	case "mysql":
		return strings.TrimPrefix(dsn, "mysql://")
	case "sqlite3":
		for _, p := range []string{"sqlite3://", "sqlite://"} {
			if strings.HasPrefix(dsn, p) {
				return strings.TrimPrefix(dsn, p)
			}
		}
	}
	return dsn
}
