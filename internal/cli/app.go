package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ppiankov/vigia/internal/alert"
	"github.com/ppiankov/vigia/internal/archive"
	"github.com/ppiankov/vigia/internal/cache"
	"github.com/ppiankov/vigia/internal/fetch"
	"github.com/ppiankov/vigia/internal/ingest"
	"github.com/ppiankov/vigia/internal/metrics"
	"github.com/ppiankov/vigia/internal/model"
	"github.com/ppiankov/vigia/internal/risk"
	"github.com/ppiankov/vigia/internal/sources"
	"github.com/ppiankov/vigia/internal/store"
	"github.com/ppiankov/vigia/internal/worker"
)

// app is the wired process: store, fetchers, engine and runner
type app struct {
	cfg       model.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	store     *store.Store
	publisher alert.Publisher
	engine    *risk.Engine
	runner    *ingest.Runner
	fetchers  fetcherSet
}

// fetcherSet holds every configured source; disabled ones are nil
type fetcherSet struct {
	dof    *sources.Gazette
	sidof  *sources.Gazette
	sat    *sources.OpenData
	gaceta *sources.Gaceta
	leyes  *sources.Leyes
	news   *sources.News
}

// batchZero lists the enabled low-volume sources
func (f fetcherSet) batchZero() []sources.Fetcher {
	var out []sources.Fetcher
	if f.dof != nil {
		out = append(out, f.dof)
	}
	if f.sidof != nil {
		out = append(out, f.sidof)
	}
	if f.gaceta != nil {
		out = append(out, f.gaceta)
	}
	if f.leyes != nil {
		out = append(out, f.leyes)
	}
	return out
}

// byName resolves a probe target among the enabled sources
func (f fetcherSet) byName(name model.Source) (sources.Fetcher, bool) {
	switch {
	case name == model.SourceDOF && f.dof != nil:
		return f.dof, true
	case name == model.SourceSIDOF && f.sidof != nil:
		return f.sidof, true
	case name == model.SourceSAT && f.sat != nil:
		return f.sat, true
	case name == model.SourceGaceta && f.gaceta != nil:
		return f.gaceta, true
	case name == model.SourceLeyes && f.leyes != nil:
		return f.leyes, true
	}
	return nil, false
}

// buildFetchers builds the HTTP client stack and every enabled source
func buildFetchers(ctx context.Context, cfg model.Config, logger *slog.Logger, m *metrics.Metrics) (fetcherSet, error) {
	limiter := worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.Burst)
	httpOpts := []fetch.Option{fetch.WithLimiter(limiter), fetch.WithLogger(logger), fetch.WithMetrics(m)}
	if c := cache.New(cfg.Cache); c != nil {
		httpOpts = append(httpOpts, fetch.WithCache(c, cfg.Cache.TTL))
	}
	client := fetch.NewFetcher(cfg.HTTP, httpOpts...)

	opts := []sources.Option{
		sources.WithLogger(logger),
		sources.WithEditionWorkers(cfg.Concurrency.EditionWorkers),
	}

	var set fetcherSet
	src := cfg.Sources
	if src.DOF.Enabled {
		set.dof = sources.NewDOF(src.DOF, client, opts...)
	}
	if src.SIDOF.Enabled {
		set.sidof = sources.NewSIDOF(src.SIDOF, client, opts...)
	}
	if src.Gaceta.Enabled {
		set.gaceta = sources.NewGaceta(src.Gaceta, client, opts...)
	}
	if src.Leyes.Enabled {
		set.leyes = sources.NewLeyes(src.Leyes, client, opts...)
	}
	if src.SAT.Enabled {
		satOpts := opts
		archiver, err := archive.New(ctx, cfg.Archive)
		if err != nil {
			return set, fmt.Errorf("archive: %w", err)
		}
		if archiver != nil {
			satOpts = append(satOpts[:len(satOpts):len(satOpts)], sources.WithArchiver(archiver))
		}
		set.sat = sources.NewOpenData(src.SAT, client, satOpts...)
	}
	set.news = sources.NewNews(src.News, client, opts...)
	return set, nil
}

// newApp opens the store and wires everything the commands need
func newApp(ctx context.Context, cfg model.Config, logger *slog.Logger) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, err := store.Open(ctx, cfg.Store, store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	fetchers, err := buildFetchers(ctx, cfg, logger, m)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	pub, err := alert.New(cfg.Alert, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("alert publisher: %w", err)
	}

	engine := risk.NewEngine(st,
		risk.WithLogger(logger),
		risk.WithMetrics(m),
		risk.WithPublisher(pub))

	runnerOpts := []ingest.Option{
		ingest.WithLogger(logger),
		ingest.WithMetrics(m),
		ingest.WithDetailWorkers(cfg.Concurrency.DetailWorkers),
		ingest.WithBatchZero(fetchers.batchZero()...),
		ingest.WithResweeper(engine),
		ingest.WithNews(fetchers.news),
	}
	if sat := fetchers.sat; sat != nil {
		runnerOpts = append(runnerOpts, ingest.WithWindowed(func(index int) sources.Fetcher {
			return sat.ForBatch(index)
		}))
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		metrics:   m,
		store:     st,
		publisher: pub,
		engine:    engine,
		runner:    ingest.NewRunner(st, cfg.Schedule, runnerOpts...),
		fetchers:  fetchers,
	}, nil
}

func (a *app) Close() error {
	pubErr := a.publisher.Close()
	if err := a.store.Close(); err != nil {
		return err
	}
	return pubErr
}
