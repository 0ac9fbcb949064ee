// Package source defines the adapters that read entities from external systems.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/faciam-dev/cssync/internal/registry"
	"github.com/faciam-dev/cssync/pkg/crypto"
)

// Entity is one raw object returned by a source.
type Entity map[string]any

// Adapter fetches entities of a given type. since is a hint; adapters may
// ignore it and callers filter again.
type Adapter interface {
	Fetch(ctx context.Context, entityType string, since *time.Time) ([]Entity, error)
}

// ErrUnsupportedEntity is returned for entity types an adapter cannot fetch.
var ErrUnsupportedEntity = errors.New("unsupported entity type")

// ErrorKind classifies adapter failures.
type ErrorKind string

const (
	ErrUnreachable ErrorKind = "unreachable"
	ErrAuth        ErrorKind = "auth"
	ErrProtocol    ErrorKind = "protocol"
)

// Error is a failure that aborts the run of one source.
type Error struct {
	Source registry.Kind
	Kind   ErrorKind
	Entity string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Source, e.Entity, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config is what a constructor receives: non-secret settings and the
// decrypted credential document.
type Config struct {
	Kind        registry.Kind
	Settings    json.RawMessage
	Credentials map[string]any
	Logger      *zap.SugaredLogger
}

// DecodeSettings unmarshals the settings document into v.
func (c Config) DecodeSettings(v any) error {
	if len(c.Settings) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.Settings, v); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	return nil
}

// DecodeCredentials copies the credential document into v using its
// mapstructure tags.
func (c Config) DecodeCredentials(v any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           v,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(c.Credentials); err != nil {
		return fmt.Errorf("decode credentials: %w", err)
	}
	return nil
}

// Constructor builds an adapter for one source kind.
type Constructor func(Config) (Adapter, error)

var (
	mu           sync.RWMutex
	constructors = map[registry.Kind]Constructor{}
)

// Register makes a constructor available for kind. Adapter packages call it
// from init.
func Register(kind registry.Kind, fn Constructor) {
	mu.Lock()
	defer mu.Unlock()
	constructors[kind] = fn
}

// Factory builds the adapter of a stored configuration.
type Factory func(cfg *registry.SourceConfig, logger *zap.SugaredLogger) (Adapter, error)

// Build is the default Factory. It decrypts the stored credentials and
// dispatches to the registered constructor.
func Build(cfg *registry.SourceConfig, logger *zap.SugaredLogger) (Adapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("build adapter: nil config")
	}
	mu.RLock()
	fn, ok := constructors[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("build adapter: %w: %s", registry.ErrUnknownSource, cfg.Kind)
	}
	creds := map[string]any{}
	if err := crypto.OpenJSON(cfg.Credentials, &creds); err != nil {
		return nil, fmt.Errorf("build adapter: credentials: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return fn(Config{
		Kind:        cfg.Kind,
		Settings:    cfg.Settings,
		Credentials: creds,
		Logger:      logger.With("source", string(cfg.Kind)),
	})
}
