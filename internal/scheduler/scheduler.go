// Package scheduler polls source configurations and starts due runs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/faciam-dev/cssync/internal/orchestrator"
	"github.com/faciam-dev/cssync/internal/registry"
)

// DefaultInterval is the poll interval used when none is configured.
const DefaultInterval = 5 * time.Minute

// Runner performs a run. *orchestrator.Orchestrator implements it.
type Runner interface {
	RunOnce(ctx context.Context, kind registry.Kind, opts orchestrator.RunOptions) (orchestrator.SyncResult, error)
}

// Scheduler owns one poll job per source kind.
type Scheduler struct {
	registry registry.Registry
	runner   Runner
	interval time.Duration
	logger   *zap.SugaredLogger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[registry.Kind]*gocron.Scheduler
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the clock used to decide whether a run is due.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a stopped Scheduler.
func New(reg registry.Registry, runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry: reg,
		runner:   runner,
		interval: DefaultInterval,
		logger:   zap.NewNop().Sugar(),
		now:      time.Now,
		jobs:     map[registry.Kind]*gocron.Scheduler{},
	}
	for _, o := range opts {
		o(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start begins polling kind. Starting a running kind is a no-op. The first
// poll happens immediately.
func (s *Scheduler) Start(kind registry.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return errors.New("scheduler shut down")
	}
	if _, ok := s.jobs[kind]; ok {
		return nil
	}
	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()
	if _, err := cron.Every(s.interval).Do(s.poll, kind); err != nil {
		return fmt.Errorf("schedule %s: %w", kind, err)
	}
	cron.StartAsync()
	s.jobs[kind] = cron
	s.logger.Infow("scheduler started", "source", string(kind), "interval", s.interval.String())
	return nil
}

// Stop stops polling kind. Stopping a stopped kind is a no-op. A run already
// executing is allowed to finish.
func (s *Scheduler) Stop(kind registry.Kind) {
	s.mu.Lock()
	cron, ok := s.jobs[kind]
	delete(s.jobs, kind)
	s.mu.Unlock()
	if !ok {
		return
	}
	cron.Stop()
	s.logger.Infow("scheduler stopped", "source", string(kind))
}

// IsRunning reports whether kind is being polled.
func (s *Scheduler) IsRunning(kind registry.Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[kind]
	return ok
}

// StartAll starts polling every known source kind.
func (s *Scheduler) StartAll() error {
	var errs []error
	for _, k := range registry.Kinds {
		if err := s.Start(k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown stops every job and cancels in-flight polls.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	kinds := make([]registry.Kind, 0, len(s.jobs))
	for k := range s.jobs {
		kinds = append(kinds, k)
	}
	s.mu.Unlock()
	s.cancel()
	for _, k := range kinds {
		s.Stop(k)
	}
}

// Trigger runs kind immediately, regardless of frequency.
func (s *Scheduler) Trigger(ctx context.Context, kind registry.Kind, opts orchestrator.RunOptions) (orchestrator.SyncResult, error) {
	return s.runner.RunOnce(ctx, kind, opts)
}

func (s *Scheduler) poll(kind registry.Kind) {
	if _, err := s.Tick(s.ctx, kind); err != nil && s.ctx.Err() == nil {
		s.logger.Errorw("scheduled sync", "source", string(kind), "error", err)
	}
}

// Tick runs kind when it is active, has a frequency and is due. It reports
// whether a run was attempted.
func (s *Scheduler) Tick(ctx context.Context, kind registry.Kind) (bool, error) {
	cfg, err := s.registry.Config(ctx, kind)
	if err != nil {
		return false, fmt.Errorf("load config: %w", err)
	}
	if cfg == nil || !cfg.Active() || cfg.SyncFrequency == nil || *cfg.SyncFrequency <= 0 {
		return false, nil
	}
	if !Due(cfg.LastSyncedAt, *cfg.SyncFrequency, s.now()) {
		return false, nil
	}
	res, err := s.runner.RunOnce(ctx, kind, orchestrator.RunOptions{})
	if errors.Is(err, orchestrator.ErrRunInProgress) {
		s.logger.Infow("run in progress, tick skipped", "source", string(kind))
		return true, nil
	}
	if err != nil {
		return true, err
	}
	s.logger.Debugw("scheduled sync finished", "source", string(kind), "status", res.Status, "records", res.RecordCount)
	return true, nil
}

// Due reports whether frequencyHours have elapsed since last. A source that
// never ran is always due.
func Due(last *time.Time, frequencyHours float64, now time.Time) bool {
	if last == nil {
		return true
	}
	return now.Sub(*last).Hours() >= frequencyHours
}
