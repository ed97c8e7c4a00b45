package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/vigia/internal/fetch"
	"github.com/ppiankov/vigia/internal/model"
)

var fixedNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func testFetcher() *fetch.Fetcher {
	return fetch.NewFetcher(model.HTTPConfig{Timeout: 5 * time.Second, MaxBodyBytes: 1 << 20, MaxFileBytes: 1 << 20})
}

const dofIndex = `<html><body>
<a href="/nota_detalle.php?codigo=100&amp;fecha=14/03/2025">Oficio mediante el cual se da a conocer el listado global definitivo en términos del artículo 69-B del CFF</a>
<a href="/nota_detalle.php?codigo=101&amp;fecha=14/03/2025">Convocatoria a torneo deportivo nacional</a>
<a href="/nota_detalle.php?codigo=102&amp;fecha=14/03/2025">Relación de contribuyentes no localizados por el SAT</a>
<a href="/nota_detalle.php?codigo=103&amp;fecha=14/03/2025">Créditos fiscales exigibles, SAT</a>
</body></html>`

const dofEdition = `<html><body>
<a href="/nota_detalle.php?codigo=100&amp;fecha=14/03/2025">duplicado 69-B</a>
<a href="/nota_detalle.php?codigo=104&amp;fecha=13/03/2025">Aviso del SAT sobre facturación electrónica</a>
</body></html>`

const notice100 = `<html><body><h1>Listado</h1>
<table>
<tr><th>No.</th><th>RFC</th><th>Nombre del Contribuyente</th></tr>
<tr><td>1</td><td>CAL080328S18</td><td>COMERCIALIZADORA ALFA SA DE CV</td></tr>
<tr><td>2</td><td>AAA010101AAA</td><td>BETA SC</td></tr>
<tr><td>3</td><td>CAL080328S18</td><td>COMERCIALIZADORA ALFA SA DE CV</td></tr>
</table></body></html>`

func newGazetteServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/index.php", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("year") == "":
			_, _ = fmt.Fprint(w, dofIndex)
		case q.Get("day") == "13" && q.Get("edicion") == "SUP":
			_, _ = fmt.Fprint(w, dofEdition)
		default:
			_, _ = fmt.Fprint(w, "<html><body>sin publicaciones</body></html>")
		}
	})
	mux.HandleFunc("/sidof/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `<a href="http://%s/nota_detalle.php?codigo=100&amp;fecha=14/03/2025">Listado definitivo 69-B</a>`, r.Host)
	})
	mux.HandleFunc("/nota_detalle.php", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("codigo") {
		case "100":
			_, _ = fmt.Fprint(w, notice100)
		case "102":
			_, _ = fmt.Fprint(w, "<html><body><p>Se da a conocer a BBB020202BB1 como no localizado.</p></body></html>")
		case "103":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_, _ = fmt.Fprint(w, "<html><body><p>Sin listado.</p></body></html>")
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestGazette_DOFRun(t *testing.T) {
	server := newGazetteServer(t)
	g := NewDOF(model.GazetteConfig{
		BaseURL:      server.URL,
		LookbackDays: 2,
		LimitNotices: 10,
		MaxPerNotice: 200,
	}, testFetcher(), WithClock(fixedClock))

	res := Run(context.Background(), g, RunOptions{Workers: 2})

	assert.Equal(t, model.SourceDOF, res.Source)
	assert.Equal(t, 4, res.Discovered, "101 filtered out, 100 deduplicated")
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Records, 4)

	// notice 100: two unique table rows, definitivo from the title
	first := res.Records[0]
	assert.Equal(t, "CAL080328S18", *first.TaxpayerID)
	assert.Equal(t, "COMERCIALIZADORA ALFA SA DE CV", *first.EntityName)
	assert.Equal(t, model.ArticleArt69B, first.Article)
	assert.Equal(t, model.StatusDefinitivo, first.StatusValue())
	assert.Equal(t, server.URL+"/nota_detalle.php?codigo=100&fecha=14/03/2025", first.SourceURL)
	assert.Equal(t, "SAT/SHCP", first.Authority)
	require.NotNil(t, first.PublishedAt)
	assert.Equal(t, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), *first.PublishedAt)
	assert.Equal(t, "AAA010101AAA", *res.Records[1].TaxpayerID)

	// notice 102: bare RFC sweep
	assert.Equal(t, "BBB020202BB1", *res.Records[2].TaxpayerID)
	assert.Equal(t, model.ArticleArt69, res.Records[2].Article)
	assert.Equal(t, model.StatusNoLocalizado, res.Records[2].StatusValue())

	// notice 104: nothing extracted, one id-less record keeps the link
	assert.Nil(t, res.Records[3].TaxpayerID)
	assert.Contains(t, res.Records[3].SourceURL, "codigo=104")
}

func TestGazette_LimitAndPerNoticeCap(t *testing.T) {
	server := newGazetteServer(t)
	g := NewDOF(model.GazetteConfig{
		BaseURL:      server.URL,
		LookbackDays: 1,
		LimitNotices: 1,
		MaxPerNotice: 1,
	}, testFetcher(), WithClock(fixedClock))

	links, err := g.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "100", links[0].Code)

	res := Run(context.Background(), g, RunOptions{Workers: 1})
	assert.Len(t, res.Records, 1)
}

func TestGazette_SIDOFPointsAtDiscoveryPage(t *testing.T) {
	server := newGazetteServer(t)
	g := NewSIDOF(model.GazetteConfig{
		BaseURL:       server.URL + "/sidof",
		DetailBaseURL: server.URL,
		LookbackDays:  0,
		LimitNotices:  5,
	}, testFetcher(), WithClock(fixedClock))

	res := Run(context.Background(), g, RunOptions{Workers: 1})
	require.Len(t, res.Records, 2)
	rec := res.Records[0]
	assert.Equal(t, model.SourceSIDOF, rec.Source)
	assert.Equal(t, server.URL+"/sidof/", rec.SourceURL)
	require.NotNil(t, rec.SecondaryURL)
	assert.Equal(t, server.URL+"/nota_detalle.php?codigo=100&fecha=14/03/2025", *rec.SecondaryURL)
}

func TestRun_DiscoveryFailureIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	g := NewDOF(model.GazetteConfig{BaseURL: server.URL, LookbackDays: 1}, testFetcher(), WithClock(fixedClock))
	res := Run(context.Background(), g, RunOptions{Workers: 2})
	assert.Empty(t, res.Records)
	assert.Zero(t, res.Discovered)
}

func TestRun_ExpiredBudgetSkipsDetails(t *testing.T) {
	server := newGazetteServer(t)
	g := NewDOF(model.GazetteConfig{BaseURL: server.URL, LookbackDays: 1, LimitNotices: 10}, testFetcher(), WithClock(fixedClock))

	budget, cancel := context.WithCancel(context.Background())
	cancel()
	res := Run(context.Background(), g, RunOptions{Workers: 2, Budget: budget})
	assert.Equal(t, res.Discovered, res.Skipped)
	assert.Empty(t, res.Records)
}

func TestParseDayFirst(t *testing.T) {
	got := parseDayFirst("05/01/24")
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), *got)
	assert.Nil(t, parseDayFirst("31/02/2024"))
	assert.Nil(t, parseDayFirst("sin fecha"))

	u := parseURLDate("https://gaceta.diputados.gob.mx/Gaceta/2025/03/11/entrada.html")
	require.NotNil(t, u)
	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), *u)
}
