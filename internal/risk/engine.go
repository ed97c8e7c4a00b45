package risk

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ppiankov/vigia/internal/alert"
	"github.com/ppiankov/vigia/internal/metrics"
	"github.com/ppiankov/vigia/internal/model"
)

// Store is what the engine needs from the evidence database
type Store interface {
	QueryByIdentifier(ctx context.Context, taxpayerID string, article model.Article, name string) ([]model.EvidenceRecord, error)
	TrackedIdentifiers(ctx context.Context) ([]model.TrackedIdentifier, error)
	WriteRisk(ctx context.Context, snap model.RiskSnapshot) ([]model.RiskLevel, error)
}

// CertificateChecker looks up a taxpayer's CSD/e.firma certificate
type CertificateChecker interface {
	CertificateStatus(ctx context.Context, taxpayerID string) (model.CertificateStatus, error)
}

// Engine recomputes risk for tracked identifiers
type Engine struct {
	store     Store
	certs     CertificateChecker
	publisher alert.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPublisher receives transitions; without one they are only logged
func WithPublisher(p alert.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithCertificateChecker(c CertificateChecker) Option {
	return func(e *Engine) { e.certs = c }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.publisher == nil {
		e.publisher = alert.NewLogPublisher(e.logger)
	}
	return e
}

// Screening is the live risk view of one identifier
type Screening struct {
	TaxpayerID string          `json:"rfc,omitempty"`
	EntityName string          `json:"razon_social,omitempty"`
	Level      model.RiskLevel `json:"risk_level"`
	Score      int             `json:"risk_score"`
	Findings   model.Findings  `json:"findings"`
}

// Screen resolves current evidence for an identifier (or, failing that, a
// name) without writing anything
func (e *Engine) Screen(ctx context.Context, taxpayerID, name string) (Screening, error) {
	id := strings.ToUpper(strings.TrimSpace(taxpayerID))
	name = strings.TrimSpace(name)
	if id == "" && name == "" {
		return Screening{}, fmt.Errorf("rfc or name is required")
	}
	f, err := e.findings(ctx, id, name)
	if err != nil {
		return Screening{}, err
	}
	level := Evaluate(f)
	return Screening{TaxpayerID: id, EntityName: name, Level: level, Score: level.Score(), Findings: f}, nil
}

func (e *Engine) findings(ctx context.Context, taxpayerID, name string) (model.Findings, error) {
	evidence := make(map[model.Article][]model.EvidenceRecord, len(model.ScreeningArticles))
	for _, article := range model.ScreeningArticles {
		recs, err := e.store.QueryByIdentifier(ctx, taxpayerID, article, name)
		if err != nil {
			return model.Findings{}, fmt.Errorf("evidence %s %s: %w", taxpayerID, article, err)
		}
		evidence[article] = recs
	}
	f := Resolve(evidence)

	if e.certs != nil && taxpayerID != "" {
		status, err := e.certs.CertificateStatus(ctx, taxpayerID)
		if err != nil {
			e.logger.Warn("certificate lookup failed", "rfc", taxpayerID, "error", err)
		} else {
			f.Certificate = status
		}
	}
	return f, nil
}

// Summary reports one resweep
type Summary struct {
	CycleID     string
	Screened    int
	Errors      int
	Levels      map[model.RiskLevel]int
	Transitions []model.Transition
	Duration    time.Duration
}

// Resweep recomputes and writes risk for every tracked identifier. A failed
// evidence lookup counts as no findings and a failed write is skipped; only
// listing the identifiers or cancellation stops the cycle.
func (e *Engine) Resweep(ctx context.Context) (Summary, error) {
	ctx, span := otel.Tracer("vigia/risk").Start(ctx, "risk.Resweep")
	defer span.End()

	start := time.Now()
	sum := Summary{CycleID: uuid.NewString(), Levels: make(map[model.RiskLevel]int)}
	logger := e.logger.With("cycle_id", sum.CycleID)

	tracked, err := e.store.TrackedIdentifiers(ctx)
	if err != nil {
		return sum, fmt.Errorf("tracked identifiers: %w", err)
	}
	logger.Info("resweep started", "identifiers", len(tracked))

	for _, t := range tracked {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		f, err := e.findings(ctx, t.TaxpayerID, t.Name())
		if err != nil {
			logger.Warn("evidence lookup failed, treating as no findings", "rfc", t.TaxpayerID, "error", err)
			sum.Errors++
			f = model.Findings{}
		}
		level := Evaluate(f)
		snap := model.RiskSnapshot{
			TaxpayerID:      t.TaxpayerID,
			Level:           level,
			Score:           level.Score(),
			Art69BStatus:    model.StatusPtr(f.Art69BStatus),
			Art69Categories: f.Art69Categories,
			Art69BisFound:   f.Art69BisFound,
			Art49BisFound:   f.Art49BisFound,
			ScreenedAt:      e.now().UTC(),
		}

		previous, err := e.store.WriteRisk(ctx, snap)
		if err != nil {
			logger.Error("risk write failed", "rfc", t.TaxpayerID, "error", err)
			sum.Errors++
			continue
		}
		sum.Screened++
		sum.Levels[level]++

		for _, prev := range previous {
			if prev == level {
				continue
			}
			tr := model.Transition{
				CycleID:    sum.CycleID,
				TaxpayerID: t.TaxpayerID,
				EntityName: t.Name(),
				From:       prev,
				To:         level,
				Score:      level.Score(),
				At:         snap.ScreenedAt,
			}
			sum.Transitions = append(sum.Transitions, tr)
			e.metrics.IncTransition(string(prev), string(level))
			if err := e.publisher.Publish(ctx, tr); err != nil {
				logger.Warn("transition publish failed", "rfc", t.TaxpayerID, "error", err)
			}
		}
	}

	sum.Duration = time.Since(start)
	levels := make(map[string]int, len(sum.Levels))
	for l, n := range sum.Levels {
		levels[string(l)] = n
	}
	e.metrics.ObserveSweep(sum.Duration, sum.Errors, levels)
	span.SetAttributes(
		attribute.Int("screened", sum.Screened),
		attribute.Int("transitions", len(sum.Transitions)),
		attribute.Int("errors", sum.Errors))
	logger.Info("resweep finished",
		"screened", sum.Screened, "transitions", len(sum.Transitions),
		"errors", sum.Errors, "duration", sum.Duration)
	return sum, nil
}
