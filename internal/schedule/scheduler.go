// Package schedule triggers the daily ingestion batches and the news job on
// the one replica that holds the scheduler lock.
package schedule

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ppiankov/vigia/internal/ingest"
	"github.com/ppiankov/vigia/internal/metrics"
	"github.com/ppiankov/vigia/internal/model"
)

// Jobs is the work the scheduler triggers
type Jobs interface {
	RunBatch(ctx context.Context, index int) (ingest.BatchReport, error)
	RunNews(ctx context.Context) (int, error)
}

// Scheduler owns the cron and the replica lock
type Scheduler struct {
	cfg     model.ScheduleConfig
	jobs    Jobs
	lock    Lock
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func New(cfg model.ScheduleConfig, jobs Jobs, lock Lock, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:    cfg,
		jobs:   jobs,
		lock:   lock,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start takes the lock and registers one job per batch time plus the news
// job. It reports false, scheduling nothing, when another replica holds the
// lock or the lock cannot be checked.
func (s *Scheduler) Start(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return true, nil
	}

	specs := make([]string, len(s.cfg.BatchTimes))
	for i, at := range s.cfg.BatchTimes {
		spec, err := dailySpec(at)
		if err != nil {
			return false, fmt.Errorf("batch %d: %w", i, err)
		}
		specs[i] = spec
	}
	var newsSpec string
	if s.cfg.NewsTime != "" {
		spec, err := dailySpec(s.cfg.NewsTime)
		if err != nil {
			return false, fmt.Errorf("news: %w", err)
		}
		newsSpec = spec
	}

	ok, err := s.lock.TryAcquire(ctx)
	if err != nil {
		s.logger.Warn("scheduler lock check failed, not scheduling", "error", err)
		return false, nil
	}
	if !ok {
		s.logger.Info("scheduler lock held by another replica, not scheduling")
		return false, nil
	}
	s.metrics.SetLockHeld(true)

	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	for i, spec := range specs {
		if _, err := c.AddFunc(spec, s.batchJob(i)); err != nil {
			_ = s.lock.Release(ctx)
			s.metrics.SetLockHeld(false)
			return false, fmt.Errorf("schedule batch %d: %w", i, err)
		}
	}
	if newsSpec != "" {
		if _, err := c.AddFunc(newsSpec, s.newsJob()); err != nil {
			_ = s.lock.Release(ctx)
			s.metrics.SetLockHeld(false)
			return false, fmt.Errorf("schedule news: %w", err)
		}
	}

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.cron = c
	s.running = true
	c.Start()
	s.logger.Info("scheduler started", "batches", s.cfg.BatchTimes, "news", s.cfg.NewsTime)
	return true, nil
}

// Stop stops triggering, waits for running jobs until ctx is done (then
// cancels them) and releases the lock
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		s.logger.Warn("jobs still running at shutdown, cancelling")
		s.cancel()
		<-stopped.Done()
	}
	s.cancel()
	s.running = false
	s.metrics.SetLockHeld(false)

	if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// Entries lists the registered triggers
func (s *Scheduler) Entries() []cron.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return nil
	}
	return s.cron.Entries()
}

func (s *Scheduler) batchJob(index int) func() {
	return func() {
		if !s.lock.Held() {
			s.logger.Warn("lock lost, skipping batch", "batch", index)
			s.metrics.SetLockHeld(false)
			return
		}
		rep, err := s.jobs.RunBatch(s.ctx, index)
		if err != nil {
			s.logger.Error("batch failed", "batch", index, "error", err)
			return
		}
		if rep.Sweep != nil {
			s.logger.Info("daily cycle complete",
				"cycle_id", rep.Sweep.CycleID, "screened", rep.Sweep.Screened,
				"transitions", len(rep.Sweep.Transitions))
		}
	}
}

func (s *Scheduler) newsJob() func() {
	return func() {
		if !s.lock.Held() {
			s.logger.Warn("lock lost, skipping news")
			return
		}
		if _, err := s.jobs.RunNews(s.ctx); err != nil {
			s.logger.Error("news job failed", "error", err)
		}
	}
}

// dailySpec turns "HH:MM" (UTC) into a cron spec
func dailySpec(at string) (string, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(at), ":")
	if !ok {
		return "", fmt.Errorf("time %q: want HH:MM", at)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return "", fmt.Errorf("time %q: bad hour", at)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return "", fmt.Errorf("time %q: bad minute", at)
	}
	return fmt.Sprintf("%d %d * * *", m, h), nil
}

// cronLogger routes cron's own logging to slog
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
