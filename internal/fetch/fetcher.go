package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/vigia/internal/cache"
	"github.com/ppiankov/vigia/internal/extract"
	"github.com/ppiankov/vigia/internal/metrics"
	"github.com/ppiankov/vigia/internal/model"
	"github.com/ppiankov/vigia/internal/util"
	"github.com/ppiankov/vigia/internal/worker"
)

var (
	// ErrTooLarge is returned when a body exceeds the request's byte cap
	ErrTooLarge = errors.New("response body exceeds size limit")
	// ErrDisallowed is returned when robots.txt forbids the URL
	ErrDisallowed = errors.New("disallowed by robots.txt")
)

// StatusError is a non-2xx response
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d %s", e.Code, e.Status)
}

// backoffWait sleeps d or until ctx is done; swapped out in tests
var backoffWait = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const maxRedirects = 5

// Fetcher performs browser-like GETs against public portals
type Fetcher struct {
	httpClient *http.Client
	cfg        model.HTTPConfig
	limiter    *worker.Limiter
	robots     *util.RobotsChecker
	cache      cache.Cache
	cacheTTL   time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

// Option configures a Fetcher
type Option func(*Fetcher)

// WithLimiter throttles requests per host
func WithLimiter(l *worker.Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithCache stores successful bodies; ttl 0 uses the cache default
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(f *Fetcher) {
		f.cache = c
		f.cacheTTL = ttl
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// NewFetcher creates a Fetcher from the HTTP section of the config
func NewFetcher(cfg model.HTTPConfig, opts ...Option) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}
	if cfg.FileTimeout <= 0 {
		cfg.FileTimeout = 60 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 5 << 20
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 25 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = model.BrowserUserAgent
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = util.NewProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy)
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // incomplete .gob.mx chains
	}

	f := &Fetcher{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: otel.Tracer("vigia/fetch"),
	}
	for _, opt := range opts {
		opt(f)
	}
	if cfg.RespectRobots {
		f.robots = util.NewRobotsChecker(f.httpClient, cfg.UserAgent)
	}
	return f
}

// Response is a fetched body
type Response struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
	FromCache   bool
}

// Text decodes the body, falling back to legacy Spanish charsets
func (r *Response) Text() string {
	s, _ := extract.DecodeText(r.Body)
	return s
}

type request struct {
	timeout  time.Duration
	referer  string
	maxBytes int64
	noCache  bool
	accept   string
	headers  map[string]string
}

// GetOption adjusts a single request
type GetOption func(*request)

func WithTimeout(d time.Duration) GetOption {
	return func(r *request) { r.timeout = d }
}

func WithReferer(ref string) GetOption {
	return func(r *request) { r.referer = ref }
}

func WithMaxBytes(n int64) GetOption {
	return func(r *request) { r.maxBytes = n }
}

// WithoutCache bypasses the response cache for downloads that must be fresh
func WithoutCache() GetOption {
	return func(r *request) { r.noCache = true }
}

// WithHeader sets an extra request header
func WithHeader(key, value string) GetOption {
	return func(r *request) {
		if r.headers == nil {
			r.headers = make(map[string]string)
		}
		r.headers[key] = value
	}
}

func WithAccept(accept string) GetOption {
	return func(r *request) { r.accept = accept }
}

// AsFile applies the file download timeout and byte cap
func (f *Fetcher) AsFile() GetOption {
	return func(r *request) {
		r.timeout = f.cfg.FileTimeout
		r.maxBytes = f.cfg.MaxFileBytes
		r.noCache = true
		r.accept = "*/*"
	}
}

// HTTPClient exposes the underlying client for callers that speak JSON APIs
func (f *Fetcher) HTTPClient() *http.Client {
	return f.httpClient
}

// Get fetches rawURL, retrying transient failures up to cfg.Retries times
func (f *Fetcher) Get(ctx context.Context, rawURL string, opts ...GetOption) (*Response, error) {
	req := request{
		timeout:  f.cfg.Timeout,
		maxBytes: f.cfg.MaxBodyBytes,
		accept:   "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	}
	for _, opt := range opts {
		opt(&req)
	}

	if u, err := url.Parse(rawURL); err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}

	ctx, span := f.tracer.Start(ctx, "fetch.Get", trace.WithAttributes(attribute.String("url.full", rawURL)))
	defer span.End()

	if f.cache != nil && !req.noCache {
		body, ok := f.cache.Get(cache.Key(rawURL))
		f.metrics.ObserveCache(ok)
		if ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return &Response{URL: rawURL, FinalURL: rawURL, StatusCode: http.StatusOK, Body: body, FromCache: true}, nil
		}
	}

	if f.robots != nil {
		allowed, delay := f.robots.CanFetch(ctx, rawURL)
		if delay > 0 && f.limiter != nil {
			if u, err := url.Parse(rawURL); err == nil {
				f.limiter.ApplyCrawlDelay(u.Host, delay)
			}
		}
		if !allowed {
			span.SetStatus(codes.Error, ErrDisallowed.Error())
			return nil, fmt.Errorf("%s: %w", rawURL, ErrDisallowed)
		}
	}

	resp, err := f.getWithRetry(ctx, rawURL, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if f.cache != nil && !req.noCache {
		if err := f.cache.Set(cache.Key(rawURL), resp.Body, f.cacheTTL); err != nil {
			f.logger.Debug("cache write failed", "url", rawURL, "error", err)
		}
	}
	return resp, nil
}

func (f *Fetcher) getWithRetry(ctx context.Context, rawURL string, req request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= f.cfg.Retries; attempt++ {
		if attempt > 0 {
			if err := backoffWait(ctx, backoff(attempt)); err != nil {
				return nil, err
			}
			f.logger.Debug("retrying fetch", "url", rawURL, "attempt", attempt, "error", lastErr)
		}

		resp, err := f.do(ctx, rawURL, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isRetryableFetchError(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<(attempt-1)) * 500 * time.Millisecond
}

func (f *Fetcher) do(ctx context.Context, rawURL string, req request) (*Response, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, req.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", f.cfg.UserAgent)
	httpReq.Header.Set("Accept", req.accept)
	httpReq.Header.Set("Accept-Language", "es-MX,es;q=0.9,en;q=0.8")
	if req.referer != "" {
		httpReq.Header.Set("Referer", req.referer)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	host := httpReq.URL.Host
	start := time.Now()

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		f.metrics.ObserveFetch(host, "error", time.Since(start))
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.metrics.ObserveFetch(host, "status_"+fmt.Sprint(resp.StatusCode), time.Since(start))
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, req.maxBytes+1))
	if err != nil {
		f.metrics.ObserveFetch(host, "error", time.Since(start))
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > req.maxBytes {
		f.metrics.ObserveFetch(host, "too_large", time.Since(start))
		return nil, fmt.Errorf("%s: %w", rawURL, ErrTooLarge)
	}
	f.metrics.ObserveFetch(host, "ok", time.Since(start))

	return &Response{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// isRetryableFetchError: 5xx, 429 and transport failures are transient
func isRetryableFetchError(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	if errors.Is(err, ErrTooLarge) || errors.Is(err, ErrDisallowed) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
