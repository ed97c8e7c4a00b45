package sources

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ppiankov/vigia/internal/classify"
	"github.com/ppiankov/vigia/internal/extract"
	"github.com/ppiankov/vigia/internal/fetch"
	"github.com/ppiankov/vigia/internal/model"
	"github.com/ppiankov/vigia/internal/util"
)

const gazetteAuthority = "SAT/SHCP"

var (
	notaPattern = regexp.MustCompile(`(?i)nota_detalle\.php\?codigo=(\d+)&(?:amp;)?fecha=([\d/]+)`)
	editions    = []string{"MAT", "SUP"}
)

// Gazette discovers SAT notices in the official gazette (DOF) or its SIDOF
// mirror. Details always come from DetailBaseURL.
type Gazette struct {
	base
	source     model.Source
	cfg        model.GazetteConfig
	classifier *classify.Classifier
}

// NewDOF builds the DOF fetcher
func NewDOF(cfg model.GazetteConfig, http *fetch.Fetcher, opts ...Option) *Gazette {
	return newGazette(model.SourceDOF, cfg, http, opts)
}

// NewSIDOF builds the SIDOF mirror fetcher; records point at the SIDOF page
// with the DOF notice as secondary URL
func NewSIDOF(cfg model.GazetteConfig, http *fetch.Fetcher, opts ...Option) *Gazette {
	return newGazette(model.SourceSIDOF, cfg, http, opts)
}

func newGazette(src model.Source, cfg model.GazetteConfig, http *fetch.Fetcher, opts []Option) *Gazette {
	if cfg.DetailBaseURL == "" {
		cfg.DetailBaseURL = cfg.BaseURL
	}
	if cfg.LimitNotices <= 0 {
		cfg.LimitNotices = 80
	}
	if cfg.MaxPerNotice <= 0 {
		cfg.MaxPerNotice = 200
	}
	return &Gazette{
		base:       newBase(http, opts),
		source:     src,
		cfg:        cfg,
		classifier: classify.Notices(),
	}
}

func (g *Gazette) Source() model.Source { return g.source }

func (g *Gazette) pageURLs() []string {
	base := strings.TrimRight(g.cfg.BaseURL, "/")
	index := base + "/index.php"
	if g.source == model.SourceSIDOF {
		index = base + "/"
	}

	urls := []string{index}
	today := g.now()
	for i := 0; i < g.cfg.LookbackDays; i++ {
		d := today.AddDate(0, 0, -i)
		for _, ed := range editions {
			urls = append(urls, fmt.Sprintf("%s/index.php?year=%d&month=%d&day=%d&edicion=%s",
				base, d.Year(), int(d.Month()), d.Day(), ed))
		}
	}
	return urls
}

// Discover collects notice links from the index and the MAT/SUP editions of
// the lookback window, dedups by notice code and keeps SAT-related titles
func (g *Gazette) Discover(ctx context.Context) ([]Link, error) {
	urls := g.pageURLs()
	pages := g.fetchPages(ctx, urls)
	if len(pages) == 0 {
		return nil, fmt.Errorf("%s: no index or edition page reachable", g.source)
	}

	seen := make(map[string]bool)
	var links []Link
	for _, p := range pages {
		for _, l := range g.noticeLinks(p) {
			if seen[l.Code] {
				continue
			}
			seen[l.Code] = true
			links = append(links, l)
		}
	}
	g.logger.Info("gazette notice links", "source", string(g.source), "pages", len(pages), "links", len(links))

	window := links
	if len(window) > 2*g.cfg.LimitNotices {
		window = window[:2*g.cfg.LimitNotices]
	}
	var out []Link
	for _, l := range window {
		if classify.MatchesAny(l.Title, classify.NoticeKeywords) {
			out = append(out, l)
		}
		if len(out) == g.cfg.LimitNotices {
			break
		}
	}
	return out, nil
}

func (g *Gazette) noticeLinks(p page) []Link {
	detailBase := strings.TrimRight(g.cfg.DetailBaseURL, "/")

	var out []Link
	for _, a := range extract.FindAll(p.doc, extract.IsElement("a")) {
		href := extract.Attr(a, "href")
		m := notaPattern.FindStringSubmatch(href)
		if m == nil {
			if unescaped, err := url.QueryUnescape(href); err == nil {
				m = notaPattern.FindStringSubmatch(unescaped)
			}
		}
		if m == nil {
			continue
		}
		codigo, fecha := m[1], m[2]
		title := util.Truncate(extract.NodeText(a), model.MaxReasonLen)
		res := g.classifier.Classify(title)
		out = append(out, Link{
			URL:          fmt.Sprintf("%s/nota_detalle.php?codigo=%s&fecha=%s", detailBase, codigo, fecha),
			DiscoveryURL: p.url,
			Code:         codigo,
			Title:        title,
			Date:         parseDayFirst(fecha),
			Article:      res.Article,
			Status:       res.Status,
		})
	}
	return out
}

// FetchDetail reads the notice; table rows first, then a bare RFC sweep
func (g *Gazette) FetchDetail(ctx context.Context, link Link) (*Document, error) {
	resp, err := g.http.Get(ctx, link.URL, fetch.WithReferer(link.DiscoveryURL))
	if err != nil {
		return nil, fmt.Errorf("notice %s: %w", link.Code, err)
	}
	doc, err := extract.ParseHTML(resp.Text())
	if err != nil {
		return nil, fmt.Errorf("notice %s: parse: %w", link.Code, err)
	}

	seen := make(map[string]bool)
	var rows []extract.Row
	for _, grid := range extract.Tables(doc) {
		for _, r := range g.extractor.Grid(grid) {
			if seen[r.TaxpayerID] {
				continue
			}
			seen[r.TaxpayerID] = true
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		for _, id := range extract.FindTaxpayerIDs(extract.NodeText(doc)) {
			rows = append(rows, extract.Row{TaxpayerID: id})
		}
	}
	return &Document{Link: link, Rows: rows}, nil
}

// ToEvidence emits one record per listed taxpayer, or one id-less record so
// the notice link survives for manual follow-up
func (g *Gazette) ToEvidence(doc *Document) []model.EvidenceRecord {
	link := doc.Link
	proto := model.EvidenceRecord{
		Source:       g.source,
		SourceURL:    link.URL,
		Article:      link.Article,
		Status:       link.Status,
		Authority:    gazetteAuthority,
		ReasonText:   util.Truncate(link.Title, model.MaxReasonLen),
		PublishedAt:  link.Date,
		RawSnippet:   util.Truncate(link.Title, model.MaxSnippetLen),
		SecondaryURL: util.StrPtr(link.URL),
	}
	if g.source == model.SourceSIDOF {
		proto.SourceURL = link.DiscoveryURL
	}

	rows := doc.Rows
	if len(rows) > g.cfg.MaxPerNotice {
		rows = rows[:g.cfg.MaxPerNotice]
	}
	if len(rows) == 0 {
		return []model.EvidenceRecord{proto}
	}

	out := make([]model.EvidenceRecord, 0, len(rows))
	for _, r := range rows {
		rec := proto
		rec.TaxpayerID = util.StrPtr(r.TaxpayerID)
		rec.EntityName = util.StrPtr(util.Truncate(r.EntityName, model.MaxEntityNameLen))
		out = append(out, rec)
	}
	return out
}
