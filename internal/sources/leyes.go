package sources

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/ppiankov/vigia/internal/extract"
	"github.com/ppiankov/vigia/internal/fetch"
	"github.com/ppiankov/vigia/internal/model"
	"github.com/ppiankov/vigia/internal/util"
)

const leyesAuthority = "Congreso de la Union"

// trackedLaw is a federal statute watched for reforms
type trackedLaw struct {
	code     string
	fragment string
}

// trackedLaws is matched in order; the first hit names the row
var trackedLaws = []trackedLaw{
	{"CFF", "Código Fiscal de la Federación"},
	{"ISR", "Impuesto sobre la Renta"},
	{"LIVA", "Impuesto al Valor Agregado"},
	{"LIEPS", "Impuesto Especial sobre Producción y Servicios"},
	{"LFPIORPI", "Prevención e Identificación de Operaciones con Recursos de Procedencia Ilícita"},
	{"LIF", "Ingresos de la Federación"},
	{"LSAT", "Servicio de Administración Tributaria"},
	{"LFISAN", "Impuesto sobre Automóviles Nuevos"},
	{"LIC", "Instituciones de Crédito"},
	{"LGSM", "Sociedades Mercantiles"},
	{"LMV", "Mercado de Valores"},
	{"LFPC", "Protección al Consumidor"},
	{"LGRA", "Responsabilidades Administrativas"},
	{"LGSNA", "Sistema Nacional Anticorrupción"},
	{"LFPPI", "Protección a la Propiedad Industrial"},
	{"LFD", "Derechos"},
	{"LFPRH", "Presupuesto y Responsabilidad Hacendaria"},
	{"LCF", "Coordinación Fiscal"},
	{"LADUA", "Aduanera"},
	{"LCM", "Concursos Mercantiles"},
}

var (
	dofDate   = regexp.MustCompile(`(?i)DOF\s+(\d{1,2}/\d{1,2}/\d{4})`)
	anyDate   = regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`)
	codeWords = func() map[string]*regexp.Regexp {
		m := make(map[string]*regexp.Regexp, len(trackedLaws))
		for _, l := range trackedLaws {
			m[l.code] = regexp.MustCompile(`\b` + l.code + `\b`)
		}
		return m
	}()
)

// matchLaw returns the code of the tracked law named by text. Codes match as
// whole words so "LIC" does not fire inside "PUBLICA".
func matchLaw(text string) string {
	upper := strings.ToUpper(util.Fold(text))
	for _, l := range trackedLaws {
		if codeWords[l.code].MatchString(upper) || strings.Contains(upper, strings.ToUpper(util.Fold(l.fragment))) {
			return l.code
		}
	}
	return ""
}

// Leyes tracks last-reform dates of fiscal statutes in LeyesBiblio
type Leyes struct {
	base
	cfg model.LeyesConfig
}

func NewLeyes(cfg model.LeyesConfig, http *fetch.Fetcher, opts ...Option) *Leyes {
	if cfg.ReformLookbackDays <= 0 {
		cfg.ReformLookbackDays = 90
	}
	return &Leyes{base: newBase(http, opts), cfg: cfg}
}

func (l *Leyes) Source() model.Source { return model.SourceLeyes }

// Discover parses the index table into one link per tracked law. Only
// recently reformed laws carry a URL to fetch.
func (l *Leyes) Discover(ctx context.Context) ([]Link, error) {
	resp, err := l.http.Get(ctx, l.cfg.IndexURL)
	if err != nil {
		return nil, fmt.Errorf("leyes index: %w", err)
	}
	doc, err := extract.ParseHTML(resp.Text())
	if err != nil {
		return nil, fmt.Errorf("leyes index: %w", err)
	}
	index, err := url.Parse(l.cfg.IndexURL)
	if err != nil {
		return nil, fmt.Errorf("leyes index url: %w", err)
	}

	cutoff := l.now().AddDate(0, 0, -l.cfg.ReformLookbackDays)
	seen := make(map[string]bool)
	var out []Link

	for _, tr := range extract.FindAll(doc, extract.IsElement("tr")) {
		cells := extract.Cells(tr)
		if len(cells) < 3 {
			continue
		}
		lawCell := cells[1]
		name := util.Truncate(extract.NodeText(lawCell), 300)
		code := matchLaw(name)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true

		reformText := ""
		for _, c := range cells[2:] {
			t := extract.NodeText(c)
			if strings.Contains(t, "DOF") || anyDate.MatchString(t) {
				reformText = t
				break
			}
		}
		reformDate := parseReformDate(reformText)

		link := Link{
			DiscoveryURL: l.cfg.IndexURL,
			Code:         code,
			Title:        name,
			Context:      reformText,
			Date:         reformDate,
			Article:      model.ArticleLawReform,
			Status:       model.StatusPtr(model.StatusVigente),
			AltURL:       firstHref(cells, index, func(h string) bool { return strings.HasSuffix(strings.ToLower(h), ".pdf") }),
		}
		if reformDate != nil && !reformDate.Before(cutoff) {
			link.Status = model.StatusPtr(model.StatusReformaReciente)
		}
		link.URL = firstHref([]*html.Node{lawCell}, index, func(h string) bool { return strings.Contains(h, "ref/") })
		out = append(out, link)
	}
	l.logger.Info("tracked laws in index", "laws", len(out))
	return out, nil
}

func parseReformDate(text string) *time.Time {
	if text == "" {
		return nil
	}
	if m := dofDate.FindStringSubmatch(text); m != nil {
		return parseDayFirst(m[1])
	}
	return parseDayFirst(text)
}

func firstHref(cells []*html.Node, base *url.URL, match func(string) bool) string {
	for _, c := range cells {
		for _, a := range extract.FindAll(c, extract.IsElement("a")) {
			href := extract.Attr(a, "href")
			if href != "" && match(href) {
				return extract.ResolveURL(base, href)
			}
		}
	}
	return ""
}

// FetchDetail fetches the reform page snippet only for recently reformed laws
func (l *Leyes) FetchDetail(ctx context.Context, link Link) (*Document, error) {
	doc := &Document{Link: link}
	if link.Status != nil && *link.Status == model.StatusReformaReciente {
		doc.Text = l.fetchText(ctx, link.URL, snippetChars)
	}
	return doc, nil
}

func (l *Leyes) ToEvidence(doc *Document) []model.EvidenceRecord {
	link := doc.Link
	sourceURL := link.URL
	if sourceURL == "" {
		sourceURL = link.AltURL
	}
	if sourceURL == "" {
		sourceURL = l.cfg.IndexURL
	}

	reason := link.Code + ": " + link.Title
	if link.Context != "" {
		reason += "; Última reforma: " + link.Context
	}
	snippet := doc.Text
	if snippet == "" {
		snippet = reason
	}
	published := link.Date
	if published == nil {
		now := l.now()
		published = &now
	}

	return []model.EvidenceRecord{{
		Source:      model.SourceLeyes,
		SourceURL:   sourceURL,
		Article:     model.ArticleLawReform,
		Status:      link.Status,
		Category:    util.StrPtr(link.Code),
		Authority:   leyesAuthority,
		ReasonText:  util.Truncate(reason, model.MaxReasonLen),
		PublishedAt: published,
		RawSnippet:  util.Truncate(snippet, model.MaxSnippetLen),
	}}
}
