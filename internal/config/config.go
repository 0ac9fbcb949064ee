// Package config loads cssync process configuration.
package config

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	ormdriver "github.com/faciam-dev/goquent/orm/driver"
	"github.com/faciam-dev/goquent/orm/query"
	"gopkg.in/yaml.v3"

	"github.com/faciam-dev/cssync/internal/events"
	"github.com/faciam-dev/cssync/internal/logger"
	"github.com/faciam-dev/cssync/pkg/util"
)

// Config holds global configuration values.
type Config struct {
	Driver       string        `yaml:"driver"`
	DSN          string        `yaml:"dsn"`
	TablePrefix  string        `yaml:"table_prefix"`
	Addr         string        `yaml:"addr"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Logger       logger.Config `yaml:"logger"`
	Events       events.Config `yaml:"events"`
}

// T prefixes the given table name with the configured prefix.
func (c *Config) T(name string) string {
	return c.TablePrefix + name
}

// Default returns the configuration derived from the environment alone.
func Default() Config {
	return Config{
		Driver:       util.GetEnv("CSSYNC_DRIVER", ""),
		DSN:          util.GetEnv("CSSYNC_DSN", ""),
		TablePrefix:  util.GetEnv("TABLE_PREFIX", "cssync_"),
		Addr:         util.GetEnv("CSSYNC_ADDR", ":8080"),
		PollInterval: util.GetEnvDuration("CSSYNC_POLL_INTERVAL", 5*time.Minute),
	}
}

// Load reads path over the environment defaults. ${VAR} and ${VAR:-default}
// references in the file are substituted before parsing. An empty path
// returns the defaults. The events section may also live in the file named
// by CSSYNC_EVENTS_CONFIG.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if p := os.Getenv("CSSYNC_EVENTS_CONFIG"); p != "" {
		if err := loadYAML(p, &cfg.Events); err != nil {
			return cfg, fmt.Errorf("events config: %w", err)
		}
	}
	if cfg.Driver == "" && cfg.DSN != "" {
		d, err := util.DetectDriver(cfg.DSN)
		if err != nil {
			return cfg, err
		}
		cfg.Driver = d
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	return cfg, nil
}

func loadYAML(path string, v any) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from flags or env
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal([]byte(substituteEnv(string(data))), v); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// substituteEnv replaces ${NAME} and ${NAME:-default}. A bare $ is left alone
// so DSNs containing one survive.
func substituteEnv(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start
		name, def, hasDef := strings.Cut(content[start+2:end], ":-")
		val := os.Getenv(name)
		if val == "" && hasDef {
			val = def
		}
		b.WriteString(content[:start])
		b.WriteString(val)
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}

// CheckPrefix verifies that tables with the configured prefix exist in the
// connected database. It returns an error if none are found.
func CheckPrefix(ctx context.Context, db *sql.DB, dialect ormdriver.Dialect, prefix string) error {
	table, col := "information_schema.tables", "table_name"
	if _, ok := dialect.(util.SQLiteDialect); ok {
		table, col = "sqlite_master", "name"
	}
	q := query.New(db, table, dialect).
		SelectRaw("COUNT(*) AS cnt").
		WhereRaw(col+" LIKE :p", map[string]any{"p": prefix + "%"}).
		WithContext(ctx)

	var res struct{ Cnt int }
	if err := q.First(&res); err != nil {
		return err
	}
	if res.Cnt == 0 {
		return fmt.Errorf("no tables with prefix %q found; run syncctl db migrate or set TABLE_PREFIX correctly", prefix)
	}
	return nil
}
