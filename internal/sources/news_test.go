package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/vigia/internal/model"
	"github.com/ppiankov/vigia/internal/util"
)

const newsBody = `{"status":"ok","totalResults":3,"articles":[
{"source":{"name":"El Economista"},"title":"SAT publica lista de EFOS","description":" Resumen ","url":"https://example.mx/a","publishedAt":"2025-03-10T15:04:05Z"},
{"source":{"name":""},"title":"[Removed]","url":"https://removed.com"},
{"source":{"name":""},"title":"Otra nota","url":"https://example.mx/b","publishedAt":"bad"}
]}`

func TestNews_DisabledWithoutKey(t *testing.T) {
	n := NewNews(model.NewsConfig{APIKey: "  "}, testFetcher())
	assert.False(t, n.Enabled())
	assert.Nil(t, n.SearchAll(context.Background(), []model.NewsTarget{{EntityName: "ALFA"}}))
}

func TestNews_SearchAll(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.Empty(t, r.URL.Query().Get("apiKey"))
		assert.Equal(t, "es", r.URL.Query().Get("language"))
		assert.Equal(t, "2025-02-12", r.URL.Query().Get("from"))
		if r.URL.Query().Get("q") == `"FALLA SA" México` {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(newsBody))
	}))
	defer server.Close()

	n := NewNews(model.NewsConfig{APIKey: "secret", BaseURL: server.URL, MaxCompanies: 3}, testFetcher(), WithClock(fixedClock))
	targets := []model.NewsTarget{
		{TaxpayerID: util.StrPtr("CAL080328S18"), EntityName: "ALFA SA"},
		{TaxpayerID: util.StrPtr("CAL080328S18"), EntityName: "ALFA SA"},
		{EntityName: "FALLA SA"},
		{EntityName: "NO CONSULTADA"},
	}

	articles := n.SearchAll(context.Background(), targets)
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, articles, 2)

	first := articles[0]
	assert.Equal(t, "El Economista", first.Source)
	assert.Equal(t, "Resumen", first.Summary)
	assert.Equal(t, "CAL080328S18", *first.TaxpayerID)
	require.NotNil(t, first.PublishedAt)
	assert.Equal(t, 2025, first.PublishedAt.Year())

	assert.Equal(t, "news_api", articles[1].Source)
	assert.Nil(t, articles[1].PublishedAt)
}

func TestNews_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","code":"rateLimited","message":"too many requests"}`))
	}))
	defer server.Close()

	n := NewNews(model.NewsConfig{APIKey: "k", BaseURL: server.URL}, testFetcher())
	_, err := n.Search(context.Background(), model.NewsTarget{EntityName: "ALFA"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many requests")
}
