// Package events publishes synchronization run notifications.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/faciam-dev/cssync/pkg/util"
)

const (
	SyncCompleted = "sync.completed"
	SyncFailed    = "sync.failed"
)

// Event represents a notification payload.
type Event struct {
	Name string    `json:"name"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
	ID   string    `json:"id"`
}

// New stamps an event with an id and the current time.
func New(name string, data any) Event {
	return Event{Name: name, Time: time.Now().UTC(), Data: data, ID: uuid.NewString()}
}

// Sink publishes events.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// DLQ stores failed events.
type DLQ interface {
	Store(ctx context.Context, e Event, attempts int, lastErr string) error
}

// Publisher is what the orchestrator emits through.
type Publisher interface {
	Dispatch(ctx context.Context, e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Dispatch(context.Context, Event) {}

// Config provides dispatcher settings.
type Config struct {
	Sinks struct {
		Webhook WebhookConfig `yaml:"webhook"`
		Redis   RedisConfig   `yaml:"redis"`
		Kafka   KafkaConfig   `yaml:"kafka"`
	} `yaml:"sinks"`
	Retry RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
}

// Dispatcher broadcasts events to multiple sinks with retries.
type Dispatcher struct {
	sinks        []Sink
	maxAttempts  int
	initialDelay time.Duration
	dlq          DLQ
	logger       *zap.SugaredLogger
	wg           sync.WaitGroup
}

// NewDispatcher creates a dispatcher from sinks and retry config. Nil sinks
// are ignored.
func NewDispatcher(cfg Config, dlq DLQ, logger *zap.SugaredLogger, sinks ...Sink) *Dispatcher {
	d := &Dispatcher{maxAttempts: 3, initialDelay: time.Second, dlq: dlq, logger: logger}
	if d.logger == nil {
		d.logger = zap.NewNop().Sugar()
	}
	if cfg.Retry.MaxAttempts > 0 {
		d.maxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialDelay > 0 {
		d.initialDelay = cfg.Retry.InitialDelay
	}
	for _, s := range sinks {
		if s != nil {
			d.sinks = append(d.sinks, s)
		}
	}
	return d
}

// Dispatch sends the event to all sinks asynchronously. Delivery outlives
// the caller's context.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) {
	ctx = context.WithoutCancel(ctx)
	for _, s := range d.sinks {
		sink := s
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.retrySend(ctx, sink, e)
		}()
	}
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) retrySend(ctx context.Context, s Sink, e Event) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.initialDelay
	exp.MaxElapsedTime = 0
	b := backoff.WithMaxRetries(exp, uint64(d.maxAttempts-1))
	err := backoff.Retry(func() error { return s.Emit(ctx, e) }, backoff.WithContext(b, ctx))
	if err == nil {
		return
	}
	d.logger.Warnw("event delivery failed", "event", e.Name, "id", e.ID, "sink", fmt.Sprintf("%T", s), "error", err)
	if d.dlq != nil {
		if err := d.dlq.Store(ctx, e, d.maxAttempts, err.Error()); err != nil {
			d.logger.Errorw("dead letter store failed", "event", e.Name, "id", e.ID, "error", err)
		}
	}
}

// SQLDLQ stores failed events in the database.
type SQLDLQ struct {
	DB          *sql.DB
	Driver      string
	TablePrefix string
}

// Store inserts the failed event.
func (q *SQLDLQ) Store(ctx context.Context, e Event, attempts int, lastErr string) error {
	if q == nil || q.DB == nil {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	prefix := q.TablePrefix
	if prefix == "" {
		prefix = "cssync_"
	}
	ph := func(n int) string { return util.Placeholder(q.Driver, n) }
	stmt := fmt.Sprintf("INSERT INTO %sevents_failed(name, payload, attempts, last_error) VALUES (%s, %s, %s, %s)",
		prefix, ph(1), ph(2), ph(3), ph(4))
	_, err = q.DB.ExecContext(ctx, stmt, e.Name, string(data), attempts, lastErr)
	return err
}
