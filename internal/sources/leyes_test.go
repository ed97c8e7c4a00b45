package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/vigia/internal/model"
)

const leyesIndex = `<html><body><table>
<tr><th>No.</th><th>Ley</th><th>Última reforma</th><th>Archivo</th></tr>
<tr><td>1</td><td><a href="ref/cff.htm">Código Fiscal de la Federación</a></td><td>Última reforma DOF 01/03/2025</td><td><a href="pdf/CFF.pdf">PDF</a></td></tr>
<tr><td>2</td><td>Ley de Instituciones de Crédito</td><td>DOF 10/01/2020</td><td><a href="pdf/LIC.pdf">PDF</a></td></tr>
<tr><td>3</td><td>Ley General de Salud Pública</td><td>DOF 01/03/2025</td><td></td></tr>
<tr><td>4</td><td>Reglamento del Código Fiscal de la Federación</td><td>DOF 02/03/2025</td><td></td></tr>
</table></body></html>`

func newLeyesServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/leyes/index.htm":
			_, _ = w.Write([]byte(leyesIndex))
		case "/leyes/ref/cff.htm":
			_, _ = w.Write([]byte(`<body><h1>Reformas al CFF</h1></body>`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestLeyes_Run(t *testing.T) {
	server := newLeyesServer(t)
	l := NewLeyes(model.LeyesConfig{IndexURL: server.URL + "/leyes/index.htm", ReformLookbackDays: 90},
		testFetcher(), WithClock(fixedClock))

	res := Run(context.Background(), l, RunOptions{Workers: 2})
	require.Len(t, res.Records, 2)

	cff := res.Records[0]
	assert.Equal(t, model.SourceLeyes, cff.Source)
	assert.Equal(t, model.ArticleLawReform, cff.Article)
	assert.Equal(t, model.StatusReformaReciente, cff.StatusValue())
	assert.Equal(t, "CFF", *cff.Category)
	assert.Equal(t, server.URL+"/leyes/ref/cff.htm", cff.SourceURL)
	assert.Equal(t, "CFF: Código Fiscal de la Federación; Última reforma: Última reforma DOF 01/03/2025", cff.ReasonText)
	assert.Equal(t, "Reformas al CFF", cff.RawSnippet)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), *cff.PublishedAt)
	assert.Equal(t, "Congreso de la Union", cff.Authority)

	lic := res.Records[1]
	assert.Equal(t, "LIC", *lic.Category)
	assert.Equal(t, model.StatusVigente, lic.StatusValue())
	assert.Equal(t, server.URL+"/leyes/pdf/LIC.pdf", lic.SourceURL)
	assert.Equal(t, lic.ReasonText, lic.RawSnippet)
}

func TestMatchLaw(t *testing.T) {
	tests := map[string]string{
		"Código Fiscal de la Federación":   "CFF",
		"CODIGO FISCAL DE LA FEDERACION":   "CFF",
		"Ley del ISR":                      "ISR",
		"Ley de Instituciones de Crédito":  "LIC",
		"Ley Aduanera":                     "LADUA",
		"Ley General de Salud Pública":     "",
		"Ley de Amparo":                    "",
		"Ley de Ingresos de la Federación": "LIF",
	}
	for text, want := range tests {
		assert.Equal(t, want, matchLaw(text), text)
	}
}

func TestParseReformDate(t *testing.T) {
	got := parseReformDate("Última reforma publicada DOF 12/11/2021")
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2021, 11, 12, 0, 0, 0, 0, time.UTC), *got)
	assert.Nil(t, parseReformDate(""))
	assert.Nil(t, parseReformDate("sin reforma"))
}
