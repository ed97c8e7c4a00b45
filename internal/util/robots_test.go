package util

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestRobotsChecker_CanFetch(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /privado/\nCrawl-delay: 2\n"))
	}))
	defer srv.Close()

	rc := NewRobotsChecker(srv.Client(), "Mozilla/5.0 (X11)")
	ctx := context.Background()

	allowed, delay := rc.CanFetch(ctx, srv.URL+"/nota_detalle.php?codigo=1")
	if !allowed {
		t.Error("expected public path to be allowed")
	}
	if delay != 2*time.Second {
		t.Errorf("expected crawl delay 2s, got %v", delay)
	}

	if allowed, _ := rc.CanFetch(ctx, srv.URL+"/privado/x.html"); allowed {
		t.Error("expected disallowed path to be blocked")
	}

	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("expected robots.txt fetched once, got %d", n)
	}
}

func TestRobotsChecker_MissingRobotsAllows(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	rc := NewRobotsChecker(srv.Client(), "vigia")
	if allowed, _ := rc.CanFetch(context.Background(), srv.URL+"/anything"); !allowed {
		t.Error("expected allow when robots.txt is missing")
	}
}

func TestNormalizeUserAgent(t *testing.T) {
	if got := NormalizeUserAgent("Mozilla/5.0 (Windows NT 10.0)"); got != "Mozilla" {
		t.Errorf("got %q", got)
	}
	if got := NormalizeUserAgent(""); got != "" {
		t.Errorf("got %q", got)
	}
}

func TestNewProxyFunc_NoProxy(t *testing.T) {
	fn := NewProxyFunc("http://proxy.local:3128", "", "sat.gob.mx")

	req := httptest.NewRequest(http.MethodGet, "http://www.dof.gob.mx/index.php", nil)
	u, err := fn(req)
	if err != nil || u == nil || u.Host != "proxy.local:3128" {
		t.Errorf("expected proxy for dof, got %v (%v)", u, err)
	}

	req = httptest.NewRequest(http.MethodGet, "http://omawww.sat.gob.mx/x.zip", nil)
	u, err = fn(req)
	if err != nil || u != nil {
		t.Errorf("expected no proxy for sat.gob.mx, got %v (%v)", u, err)
	}
}
