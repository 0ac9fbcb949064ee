// Package analytical reads flat entity rows from an analytical SQL database.
package analytical

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/faciam-dev/cssync/internal/registry"
	"github.com/faciam-dev/cssync/internal/source"
	"github.com/faciam-dev/cssync/pkg/metrics"
)

// DefaultQueries are used for entity types without a configured query.
var DefaultQueries = map[string]string{
	"company": "SELECT * FROM companies",
	"account": "SELECT * FROM accounts",
}

// Settings is the non-secret part of an analytical source configuration.
type Settings struct {
	Driver string `json:"driver"`
	// Queries maps entity types to a read query. With UseSince the query takes
	// the since hint as its only bind parameter.
	Queries      map[string]string `json:"queries,omitempty"`
	UseSince     bool              `json:"use_since,omitempty"`
	MaxOpenConns int               `json:"max_open_conns,omitempty"`
}

// Credentials is the decrypted credential document.
type Credentials struct {
	DSN string `mapstructure:"dsn"`
}

// Adapter is the analytical source adapter.
type Adapter struct {
	db       *sql.DB
	queries  map[string]string
	useSince bool
	logger   *zap.SugaredLogger
}

var _ source.Adapter = (*Adapter)(nil)

func init() {
	source.Register(registry.KindAnalytical, newAdapter)
}

func newAdapter(cfg source.Config) (source.Adapter, error) {
	var st Settings
	if err := cfg.DecodeSettings(&st); err != nil {
		return nil, err
	}
	var cr Credentials
	if err := cfg.DecodeCredentials(&cr); err != nil {
		return nil, err
	}
	if cr.DSN == "" {
		return nil, fmt.Errorf("analytical: dsn missing")
	}
	drv := st.Driver
	switch drv {
	case "":
		drv = "postgres"
	case "postgres", "pgx", "mysql":
	default:
		return nil, fmt.Errorf("analytical: unsupported driver %q", drv)
	}
	db, err := sql.Open(drv, cr.DSN)
	if err != nil {
		return nil, fmt.Errorf("analytical: open: %w", err)
	}
	if st.MaxOpenConns > 0 {
		db.SetMaxOpenConns(st.MaxOpenConns)
	}
	return New(db, st, cfg.Logger), nil
}

// New wraps an open connection.
func New(db *sql.DB, st Settings, logger *zap.SugaredLogger) *Adapter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	queries := make(map[string]string, len(DefaultQueries)+len(st.Queries))
	for k, v := range DefaultQueries {
		queries[k] = v
	}
	for k, v := range st.Queries {
		queries[k] = v
	}
	return &Adapter{db: db, queries: queries, useSince: st.UseSince, logger: logger}
}

// Close releases the connection pool.
func (a *Adapter) Close() error { return a.db.Close() }

// Fetch runs the query configured for entityType and returns its rows.
func (a *Adapter) Fetch(ctx context.Context, entityType string, since *time.Time) ([]source.Entity, error) {
	q, ok := a.queries[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", source.ErrUnsupportedEntity, entityType)
	}
	var args []any
	if a.useSince {
		hint := time.Unix(0, 0).UTC()
		if since != nil {
			hint = since.UTC()
		}
		args = append(args, hint)
	}
	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, a.fail(entityType, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, a.fail(entityType, err)
	}
	var out []source.Entity
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, a.fail(entityType, err)
		}
		e := make(source.Entity, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				e[c] = string(b)
				continue
			}
			e[c] = vals[i]
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, a.fail(entityType, err)
	}
	a.logger.Debugw("fetched", "entity", entityType, "count", len(out))
	return out, nil
}

func (a *Adapter) fail(entity string, err error) error {
	kind := classify(err)
	metrics.FetchErrors.WithLabelValues(string(registry.KindAnalytical), string(kind)).Inc()
	return &source.Error{Source: registry.KindAnalytical, Kind: kind, Entity: entity, Err: err}
}

// classify maps driver errors onto adapter error kinds.
func classify(err error) source.ErrorKind {
	var (
		pqErr    *pq.Error
		pgErr    *pgconn.PgError
		myErr    *mysql.MySQLError
		netErr   net.Error
		connErr  *pgconn.ConnectError
		authCode = func(code string) bool { return strings.HasPrefix(code, "28") }
	)
	switch {
	case errors.As(err, &pqErr):
		if authCode(string(pqErr.Code)) {
			return source.ErrAuth
		}
		if strings.HasPrefix(string(pqErr.Code), "08") {
			return source.ErrUnreachable
		}
	case errors.As(err, &pgErr):
		if authCode(pgErr.Code) {
			return source.ErrAuth
		}
		if strings.HasPrefix(pgErr.Code, "08") {
			return source.ErrUnreachable
		}
	case errors.As(err, &myErr):
		if myErr.Number == 1045 || myErr.Number == 1044 {
			return source.ErrAuth
		}
	case errors.As(err, &connErr), errors.As(err, &netErr):
		return source.ErrUnreachable
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, context.DeadlineExceeded):
		return source.ErrUnreachable
	}
	return source.ErrProtocol
}
