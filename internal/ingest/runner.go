// Package ingest runs the daily evidence batches: low-volume sources are
// replaced wholesale in batch 0, SAT open data is spread across batch windows,
// and the last batch triggers the risk resweep.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/vigia/internal/metrics"
	"github.com/ppiankov/vigia/internal/model"
	"github.com/ppiankov/vigia/internal/risk"
	"github.com/ppiankov/vigia/internal/sources"
	"github.com/ppiankov/vigia/internal/store"
)

// Store is the persistence the runner writes through
type Store interface {
	Commit(ctx context.Context, fn func(store.Writer) error) error
	NewsTargets(ctx context.Context) ([]model.NewsTarget, error)
	InsertNews(ctx context.Context, articles []model.NewsArticle) (int, error)
}

// Resweeper recomputes risk after the last batch
type Resweeper interface {
	Resweep(ctx context.Context) (risk.Summary, error)
}

// NewsSearcher fetches company news for tracked names
type NewsSearcher interface {
	Enabled() bool
	SearchAll(ctx context.Context, targets []model.NewsTarget) []model.NewsArticle
}

// WindowFunc returns the fetcher for one batch window of a high-volume source
type WindowFunc func(index int) sources.Fetcher

// Runner executes batches one at a time
type Runner struct {
	store     Store
	sweeper   Resweeper
	batch0    []sources.Fetcher
	window    WindowFunc
	news      NewsSearcher
	batches   int
	budget    time.Duration
	workers   int
	logger    *slog.Logger
	metrics   *metrics.Metrics
	mu        sync.Mutex
	windowOff bool // batch 0 kept the prior SAT generation; later windows must not append to it
}

type Option func(*Runner)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithBatchZero sets the sources replaced wholesale in batch 0
func WithBatchZero(fetchers ...sources.Fetcher) Option {
	return func(r *Runner) { r.batch0 = append(r.batch0, fetchers...) }
}

// WithWindowed sets the source split across every batch
func WithWindowed(fn WindowFunc) Option {
	return func(r *Runner) { r.window = fn }
}

func WithNews(n NewsSearcher) Option {
	return func(r *Runner) { r.news = n }
}

// WithResweeper runs after the final batch commits
func WithResweeper(s Resweeper) Option {
	return func(r *Runner) { r.sweeper = s }
}

// WithDetailWorkers bounds concurrent detail fetches per source
func WithDetailWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// NewRunner builds a runner for the configured number of daily batches
func NewRunner(s Store, cfg model.ScheduleConfig, opts ...Option) *Runner {
	r := &Runner{
		store:   s,
		batches: len(cfg.BatchTimes),
		budget:  cfg.BatchBudget,
		workers: 4,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if r.batches == 0 {
		r.batches = 1
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Batches is the number of batches in a daily cycle
func (r *Runner) Batches() int { return r.batches }

// BatchReport describes one committed batch
type BatchReport struct {
	Batch    int
	Results  []sources.Result
	Files    int
	Rows     int
	Held     []model.Source // sources whose prior generation was kept
	Sweep    *risk.Summary
	Duration time.Duration
}

// RunBatch fetches and commits batch index. Nothing is written unless the
// whole batch commits.
func (r *Runner) RunBatch(ctx context.Context, index int) (BatchReport, error) {
	if index < 0 || index >= r.batches {
		return BatchReport{}, fmt.Errorf("batch %d out of range [0,%d)", index, r.batches)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := otel.Tracer("vigia/ingest").Start(ctx, "ingest.RunBatch")
	span.SetAttributes(attribute.Int("batch", index))
	defer span.End()

	start := time.Now()
	logger := r.logger.With("batch", index)
	rep := BatchReport{Batch: index}

	var budget context.Context
	var cancel context.CancelFunc
	if r.budget > 0 {
		budget, cancel = context.WithTimeout(ctx, r.budget)
	} else {
		budget, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	opts := sources.RunOptions{Workers: r.workers, Budget: budget, Logger: r.logger, Metrics: r.metrics}

	var wholesale []sources.Result
	if index == 0 {
		r.windowOff = false
		wholesale = make([]sources.Result, len(r.batch0))
		g, gctx := errgroup.WithContext(ctx)
		for i, f := range r.batch0 {
			g.Go(func() error {
				wholesale[i] = sources.Run(gctx, f, opts)
				return nil
			})
		}
		_ = g.Wait()
	}
	rep.Results = append(rep.Results, wholesale...)

	var windowed *sources.Result
	switch {
	case r.window == nil:
	case r.windowOff:
		logger.Warn("skipping window, batch 0 kept the prior generation")
	default:
		res := sources.Run(ctx, r.window(index), opts)
		windowed = &res
		rep.Results = append(rep.Results, res)
	}

	err := r.store.Commit(ctx, func(w store.Writer) error {
		for _, res := range wholesale {
			replaced, err := w.ReplaceSource(ctx, res.Source, res.Records)
			if err != nil {
				return err
			}
			if !replaced {
				rep.Held = append(rep.Held, res.Source)
				continue
			}
			if err := w.TouchSource(ctx, res.Source); err != nil {
				return err
			}
		}
		if windowed != nil {
			if err := r.commitWindow(ctx, w, index, windowed, &rep); err != nil {
				return err
			}
		}
		return w.RecordBatch(ctx, index, rep.Files, rep.Rows)
	})
	rep.Duration = time.Since(start)
	if err != nil {
		if index == 0 {
			r.windowOff = true
		}
		span.SetStatus(codes.Error, err.Error())
		r.metrics.ObserveBatch(strconv.Itoa(index), "error", rep.Duration)
		logger.Error("batch rolled back", "error", err)
		return rep, fmt.Errorf("batch %d: %w", index, err)
	}
	r.metrics.ObserveBatch(strconv.Itoa(index), "ok", rep.Duration)
	logger.Info("batch committed", "files", rep.Files, "rows", rep.Rows, "duration", rep.Duration)

	if index == r.batches-1 && r.sweeper != nil {
		sum, err := r.sweeper.Resweep(ctx)
		if err != nil {
			return rep, fmt.Errorf("resweep after batch %d: %w", index, err)
		}
		rep.Sweep = &sum
	}
	return rep, nil
}

// commitWindow replaces the windowed source in batch 0 and appends to it
// afterwards
func (r *Runner) commitWindow(ctx context.Context, w store.Writer, index int, res *sources.Result, rep *BatchReport) error {
	rep.Files = res.Fetched
	if index == 0 {
		replaced, err := w.ReplaceSource(ctx, res.Source, res.Records)
		if err != nil {
			return err
		}
		if !replaced {
			rep.Held = append(rep.Held, res.Source)
			r.windowOff = true
			return nil
		}
		rep.Rows = len(res.Records)
	} else {
		n, err := w.AppendSource(ctx, res.Source, res.Records)
		if err != nil {
			return err
		}
		rep.Rows = n
	}
	return w.TouchSource(ctx, res.Source)
}

// RunCycle runs every batch in order, stopping at the first failure
func (r *Runner) RunCycle(ctx context.Context) ([]BatchReport, error) {
	reports := make([]BatchReport, 0, r.batches)
	for i := range r.batches {
		rep, err := r.RunBatch(ctx, i)
		reports = append(reports, rep)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// RunNews fetches news for tracked names and stores new articles. It is a
// no-op without a configured news source.
func (r *Runner) RunNews(ctx context.Context) (int, error) {
	if r.news == nil || !r.news.Enabled() {
		r.logger.Debug("news source disabled")
		return 0, nil
	}
	ctx, span := otel.Tracer("vigia/ingest").Start(ctx, "ingest.RunNews")
	defer span.End()

	targets, err := r.store.NewsTargets(ctx)
	if err != nil {
		return 0, fmt.Errorf("news targets: %w", err)
	}
	articles := r.news.SearchAll(ctx, targets)
	n, err := r.store.InsertNews(ctx, articles)
	if err != nil {
		return 0, fmt.Errorf("insert news: %w", err)
	}
	r.logger.Info("news stored", "targets", len(targets), "fetched", len(articles), "inserted", n)
	return n, nil
}
