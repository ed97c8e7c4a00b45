// Package sources discovers and fetches public regulatory documents and turns
// them into evidence records.
package sources

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ppiankov/vigia/internal/extract"
	"github.com/ppiankov/vigia/internal/fetch"
	"github.com/ppiankov/vigia/internal/metrics"
	"github.com/ppiankov/vigia/internal/model"
	"github.com/ppiankov/vigia/internal/worker"
)

// Link is a candidate document found during discovery
type Link struct {
	URL          string // document fetched by FetchDetail; may be empty
	AltURL       string // secondary link kept for provenance (e.g. a PDF)
	DiscoveryURL string // page the link was found on
	Code         string // natural key within the source
	Title        string
	Context      string
	Date         *time.Time
	Article      model.Article
	Status       *model.Status
}

// Document is a fetched and parsed detail
type Document struct {
	Link Link
	Rows []extract.Row
	Text string
}

// Fetcher is one public source
type Fetcher interface {
	Source() model.Source
	Discover(ctx context.Context) ([]Link, error)
	FetchDetail(ctx context.Context, link Link) (*Document, error)
	ToEvidence(doc *Document) []model.EvidenceRecord
}

// Archiver keeps a copy of downloaded raw files
type Archiver interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// base holds what every fetcher shares
type base struct {
	http           *fetch.Fetcher
	logger         *slog.Logger
	extractor      *extract.Extractor
	archiver       Archiver
	now            func() time.Time
	editionWorkers int
}

// Option configures a fetcher
type Option func(*base)

func WithLogger(logger *slog.Logger) Option {
	return func(b *base) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock replaces time.Now, used for lookback windows and stamps
func WithClock(now func() time.Time) Option {
	return func(b *base) { b.now = now }
}

// WithEditionWorkers bounds concurrent index/edition page fetches
func WithEditionWorkers(n int) Option {
	return func(b *base) {
		if n > 0 {
			b.editionWorkers = n
		}
	}
}

func WithExtractor(e *extract.Extractor) Option {
	return func(b *base) {
		if e != nil {
			b.extractor = e
		}
	}
}

// WithArchiver copies downloaded open-data files
func WithArchiver(a Archiver) Option {
	return func(b *base) { b.archiver = a }
}

func newBase(http *fetch.Fetcher, opts []Option) base {
	b := base{
		http:           http,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:            func() time.Time { return time.Now().UTC() },
		editionWorkers: 4,
	}
	for _, opt := range opts {
		opt(&b)
	}
	if b.extractor == nil {
		b.extractor = extract.New(extract.WithLogger(b.logger))
	}
	return b
}

// RunOptions bounds one fetcher run
type RunOptions struct {
	Workers int             // concurrent detail fetches
	Limit   int             // extra cap on discovered links; 0 keeps all
	Budget  context.Context // no new detail fetch starts once it is done; nil means no budget
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Result is the outcome of one fetcher run
type Result struct {
	Source     model.Source
	Records    []model.EvidenceRecord
	Discovered int
	Fetched    int
	Failed     int
	Skipped    int // not started because the budget ran out
}

type detailJob struct {
	index int
	link  Link
	f     Fetcher
}

type detailResult struct {
	index int
	doc   *Document
	err   error
}

func (r *detailResult) GetError() error { return r.err }

func (j *detailJob) Execute(ctx context.Context) worker.Result {
	doc, err := j.f.FetchDetail(ctx, j.link)
	return &detailResult{index: j.index, doc: doc, err: err}
}

// Run discovers links, fetches details concurrently and returns records in
// discovery order. It never returns an error: a discovery failure yields an
// empty result and a failed detail is logged and skipped.
func Run(ctx context.Context, f Fetcher, opts RunOptions) Result {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	budget := opts.Budget
	if budget == nil {
		budget = ctx
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	src := f.Source()
	res := Result{Source: src}
	logger = logger.With("source", string(src))

	ctx, span := otel.Tracer("vigia/sources").Start(ctx, "sources.Run")
	span.SetAttributes(attribute.String("source", string(src)))
	defer span.End()

	links, err := f.Discover(ctx)
	if err != nil {
		logger.Warn("discovery failed", "error", err)
		opts.Metrics.IncSourceFailure(string(src))
		return res
	}
	if opts.Limit > 0 && len(links) > opts.Limit {
		links = links[:opts.Limit]
	}
	res.Discovered = len(links)
	if len(links) == 0 {
		logger.Info("no documents discovered")
		return res
	}

	jobs := make([]worker.Job, len(links))
	for i, link := range links {
		jobs[i] = &detailJob{index: i, link: link, f: f}
	}
	batch := worker.NewBatch(workers).Run(ctx, budget, jobs)
	res.Skipped = batch.Skipped

	done := make([]*detailResult, 0, len(batch.Results))
	for _, r := range batch.Results {
		dr := r.(*detailResult)
		if dr.err != nil || dr.doc == nil {
			res.Failed++
			opts.Metrics.IncSourceFailure(string(src))
			logger.Warn("document skipped", "url", links[dr.index].URL, "error", dr.err)
			continue
		}
		done = append(done, dr)
	}
	sort.Slice(done, func(i, j int) bool { return done[i].index < done[j].index })

	for _, dr := range done {
		res.Records = append(res.Records, f.ToEvidence(dr.doc)...)
	}
	res.Fetched = len(done)

	if res.Skipped > 0 {
		logger.Warn("budget exhausted", "skipped", res.Skipped)
	}
	logger.Info("source run finished",
		"discovered", res.Discovered, "fetched", res.Fetched,
		"failed", res.Failed, "records", len(res.Records))
	span.SetAttributes(attribute.Int("records", len(res.Records)))
	opts.Metrics.SetSourceRecords(string(src), len(res.Records))
	return res
}
