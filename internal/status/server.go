// Package status serves health, metrics and the read-only findings and
// evidence endpoints.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ppiankov/vigia/internal/model"
	"github.com/ppiankov/vigia/internal/risk"
	"github.com/ppiankov/vigia/internal/store"
)

// Reader is the store's read side
type Reader interface {
	Freshness(ctx context.Context) (model.Freshness, error)
	StoredRisk(ctx context.Context, taxpayerID string) (*model.RiskSnapshot, error)
	SearchEvidence(ctx context.Context, q store.EvidenceQuery) ([]model.EvidenceRecord, error)
	SearchNews(ctx context.Context, q store.NewsQuery) ([]model.NewsArticle, error)
}

// Screener resolves live findings
type Screener interface {
	Screen(ctx context.Context, taxpayerID, name string) (risk.Screening, error)
}

type Server struct {
	router   chi.Router
	reader   Reader
	screener Screener
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithGatherer exposes g on /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func NewServer(reader Reader, screener Screener, opts ...Option) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		reader:   reader,
		screener: screener,
		gatherer: prometheus.DefaultGatherer,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID, middleware.Recoverer)
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start))
		})
	})

	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/findings", s.handleFindings)
		r.Get("/evidence", s.handleEvidence)
	})
}

type healthResponse struct {
	Status string `json:"status"`
	model.Freshness
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	f, err := s.reader.Freshness(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if f.Sources == nil {
		f.Sources = []model.SourceFreshness{}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Freshness: f})
}

type findingsResponse struct {
	Screening risk.Screening      `json:"screening"`
	Stored    *model.RiskSnapshot `json:"stored,omitempty"` // last resweep result for tracked identifiers
}

func (s *Server) handleFindings(w http.ResponseWriter, r *http.Request) {
	rfc := strings.TrimSpace(r.URL.Query().Get("rfc"))
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if rfc == "" && name == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("rfc or name is required"))
		return
	}

	screening, err := s.screener.Screen(r.Context(), rfc, name)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := findingsResponse{Screening: screening}
	if rfc != "" {
		stored, err := s.reader.StoredRisk(r.Context(), rfc)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.Stored = stored
	}
	writeJSON(w, http.StatusOK, resp)
}

type evidenceResponse struct {
	Evidence []model.EvidenceRecord `json:"evidence"`
	News     []model.NewsArticle    `json:"news,omitempty"`
}

func (s *Server) handleEvidence(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("limit must be an integer"))
		return
	}
	eq := store.EvidenceQuery{
		TaxpayerID: q.Get("rfc"),
		Name:       q.Get("name"),
		Source:     model.Source(q.Get("source")),
		Article:    model.Article(q.Get("article")),
		Limit:      limit,
	}
	records, err := s.reader.SearchEvidence(r.Context(), eq)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := evidenceResponse{Evidence: records}
	if resp.Evidence == nil {
		resp.Evidence = []model.EvidenceRecord{}
	}

	if withNews, _ := strconv.ParseBool(q.Get("news")); withNews {
		nq := store.NewsQuery{TaxpayerID: eq.TaxpayerID, Name: eq.Name, Limit: limit}
		if raw := q.Get("watchlist_id"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				s.writeError(w, http.StatusBadRequest, errors.New("watchlist_id must be an integer"))
				return
			}
			nq.WatchlistID = &id
		}
		news, err := s.reader.SearchNews(r.Context(), nq)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.News = news
	}
	writeJSON(w, http.StatusOK, resp)
}

func intParam(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	} else {
		s.logger.Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
