package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ppiankov/vigia/internal/cache"
	"github.com/ppiankov/vigia/internal/metrics"
	"github.com/ppiankov/vigia/internal/model"
)

func testConfig() model.HTTPConfig {
	return model.HTTPConfig{
		Timeout:      5 * time.Second,
		FileTimeout:  5 * time.Second,
		MaxBodyBytes: 1 << 20,
		MaxFileBytes: 1 << 20,
		Retries:      2,
	}
}

func noSleep(t *testing.T) {
	t.Helper()
	orig := backoffWait
	backoffWait = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	t.Cleanup(func() { backoffWait = orig })
}

func TestGet_CancelDuringBackoffReturnsPromptly(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Retries = 3
	f := NewFetcher(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := f.Get(ctx, server.URL)
	elapsed := time.Since(start)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed >= 400*time.Millisecond {
		t.Errorf("expected cancellation to cut the 500ms backoff short, took %v", elapsed)
	}
	if hits.Load() != 1 {
		t.Errorf("expected a single attempt before cancellation, got %d", hits.Load())
	}
}

func TestGet_Success(t *testing.T) {
	var gotUA, gotLang, gotRef string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		gotRef = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, "<html><body>OK</body></html>")
	}))
	defer server.Close()

	f := NewFetcher(testConfig())
	resp, err := f.Get(context.Background(), server.URL, WithReferer("https://www.dof.gob.mx/"))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if resp.Text() != "<html><body>OK</body></html>" {
		t.Errorf("Unexpected body: %s", resp.Text())
	}
	if gotUA != model.BrowserUserAgent {
		t.Errorf("expected browser user agent, got %q", gotUA)
	}
	if !strings.HasPrefix(gotLang, "es-MX") {
		t.Errorf("expected es-MX accept-language, got %q", gotLang)
	}
	if gotRef != "https://www.dof.gob.mx/" {
		t.Errorf("expected referer, got %q", gotRef)
	}
}

func TestGet_TransientThenSuccess(t *testing.T) {
	noSleep(t)
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprint(w, "<html>OK</html>")
	}))
	defer server.Close()

	resp, err := NewFetcher(testConfig()).Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if string(resp.Body) != "<html>OK</html>" {
		t.Errorf("Unexpected body: %s", resp.Body)
	}
	if attempts.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts.Load())
	}
}

func TestGet_PermanentFailure(t *testing.T) {
	noSleep(t)
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewFetcher(testConfig()).Get(context.Background(), server.URL)
	if err == nil {
		t.Fatal("Expected error for 404, got nil")
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Errorf("expected StatusError 404, got %v", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("404 must not be retried, got %d attempts", attempts.Load())
	}
}

func TestGet_AllRetriesExhausted(t *testing.T) {
	noSleep(t)
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewFetcher(testConfig()).Get(context.Background(), server.URL)
	if err == nil {
		t.Fatal("Expected error after all retries exhausted")
	}
	if attempts.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts.Load())
	}
}

func TestGet_429Retried(t *testing.T) {
	noSleep(t)
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	if _, err := NewFetcher(testConfig()).Get(context.Background(), server.URL); err != nil {
		t.Fatalf("Expected success after 429 retry, got %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts.Load())
	}
}

func TestGet_TooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer server.Close()

	f := NewFetcher(testConfig())
	_, err := f.Get(context.Background(), server.URL, WithMaxBytes(1024))
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}

	resp, err := f.Get(context.Background(), server.URL, WithMaxBytes(2048))
	if err != nil || len(resp.Body) != 2048 {
		t.Errorf("expected exact-size body to pass, got %v", err)
	}
}

func TestGet_Timeout(t *testing.T) {
	noSleep(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Retries = 0
	_, err := NewFetcher(cfg).Get(context.Background(), server.URL, WithTimeout(50*time.Millisecond))
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestGet_CacheHit(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = fmt.Fprint(w, "indice")
	}))
	defer server.Close()

	c := cache.NewMemoryCache(time.Minute, 0)
	m := metrics.New(prometheus.NewRegistry())
	f := NewFetcher(testConfig(), WithCache(c, 0), WithMetrics(m))

	first, err := f.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if first.FromCache || !second.FromCache {
		t.Errorf("expected second response from cache")
	}
	if hits.Load() != 1 {
		t.Errorf("expected one upstream hit, got %d", hits.Load())
	}

	if _, err := f.Get(context.Background(), server.URL, WithoutCache()); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 2 {
		t.Errorf("expected WithoutCache to reach upstream, got %d hits", hits.Load())
	}
	if got := testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")); got != 1 {
		t.Errorf("expected 1 recorded cache hit, got %v", got)
	}
	if got := testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")); got != 1 {
		t.Errorf("expected 1 recorded cache miss, got %v", got)
	}
}

func TestGet_RobotsDisallow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = fmt.Fprint(w, "User-agent: *\nDisallow: /privado/\n")
			return
		}
		_, _ = fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.RespectRobots = true
	f := NewFetcher(cfg)

	if _, err := f.Get(context.Background(), server.URL+"/privado/x"); !errors.Is(err, ErrDisallowed) {
		t.Errorf("expected ErrDisallowed, got %v", err)
	}
	if _, err := f.Get(context.Background(), server.URL+"/publico"); err != nil {
		t.Errorf("expected allowed path to succeed, got %v", err)
	}
}

func TestGet_InvalidURL(t *testing.T) {
	if _, err := NewFetcher(testConfig()).Get(context.Background(), "not a url"); err == nil {
		t.Error("expected error for invalid url")
	}
}

func TestIsRetryableFetchError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"503", &StatusError{Code: 503}, true},
		{"500", &StatusError{Code: 500}, true},
		{"429", &StatusError{Code: 429}, true},
		{"404", &StatusError{Code: 404}, false},
		{"403", &StatusError{Code: 403}, false},
		{"too large", fmt.Errorf("x: %w", ErrTooLarge), false},
		{"disallowed", ErrDisallowed, false},
		{"plain", errors.New("read body: unexpected EOF"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableFetchError(tt.err); got != tt.retryable {
				t.Errorf("isRetryableFetchError(%v) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}

func TestIsRetryableFetchError_Nil(t *testing.T) {
	if isRetryableFetchError(nil) {
		t.Error("Expected nil error to not be retryable")
	}
}
