package sources

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/vigia/internal/classify"
	"github.com/ppiankov/vigia/internal/extract"
	"github.com/ppiankov/vigia/internal/fetch"
	"github.com/ppiankov/vigia/internal/model"
	"github.com/ppiankov/vigia/internal/util"
)

const (
	gacetaAuthority = "Camara de Diputados"
	minEntryTitle   = 15
	snippetChars    = 2000
)

// Gaceta tracks fiscal legislative entries in the Gaceta Parlamentaria
type Gaceta struct {
	base
	cfg    model.GacetaConfig
	stages *classify.Classifier
}

func NewGaceta(cfg model.GacetaConfig, http *fetch.Fetcher, opts ...Option) *Gaceta {
	if cfg.StepDays <= 0 {
		cfg.StepDays = 3
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	return &Gaceta{
		base:   newBase(http, opts),
		cfg:    cfg,
		stages: classify.LegislativeStages(),
	}
}

func (g *Gaceta) Source() model.Source { return model.SourceGaceta }

func (g *Gaceta) pageURLs() []string {
	base := strings.TrimRight(g.cfg.BaseURL, "/")
	urls := []string{base}
	today := g.now()
	for i := 0; i < g.cfg.DaysBack; i += g.cfg.StepDays {
		d := today.AddDate(0, 0, -i)
		urls = append(urls, fmt.Sprintf("%s/Gaceta/%d/%02d/%02d/", base, d.Year(), int(d.Month()), d.Day()))
	}
	return urls
}

// Discover gathers titled anchors from the index and dated pages and keeps
// the fiscal ones
func (g *Gaceta) Discover(ctx context.Context) ([]Link, error) {
	pages := g.fetchPages(ctx, g.pageURLs())
	if len(pages) == 0 {
		return nil, fmt.Errorf("gaceta: no page reachable")
	}

	seen := make(map[string]bool)
	var out []Link
	total := 0
	for _, p := range pages {
		for _, l := range extract.Links(p.doc, p.url) {
			title := util.Truncate(l.Text, model.MaxReasonLen)
			if utf8.RuneCountInString(title) < minEntryTitle || seen[l.URL] {
				continue
			}
			seen[l.URL] = true
			total++
			if !classify.MatchesAny(title, classify.FiscalKeywords) || len(out) >= g.cfg.Limit {
				continue
			}
			res := g.stages.Classify(title)
			out = append(out, Link{
				URL:          l.URL,
				DiscoveryURL: p.url,
				Title:        title,
				Date:         parseURLDate(l.URL),
				Article:      res.Article,
				Status:       res.Status,
			})
		}
	}
	g.logger.Info("gaceta entries", "fiscal", len(out), "total", total)
	return out, nil
}

// FetchDetail reads the entry's visible text; a failed fetch keeps the entry
// with its title as snippet
func (g *Gaceta) FetchDetail(ctx context.Context, link Link) (*Document, error) {
	return &Document{Link: link, Text: g.fetchText(ctx, link.URL, snippetChars)}, nil
}

func (g *Gaceta) ToEvidence(doc *Document) []model.EvidenceRecord {
	link := doc.Link
	published := link.Date
	if published == nil {
		now := g.now()
		published = &now
	}
	snippet := doc.Text
	if snippet == "" {
		snippet = link.Title
	}
	return []model.EvidenceRecord{{
		Source:      model.SourceGaceta,
		SourceURL:   link.URL,
		Article:     model.ArticleLegislative,
		Status:      link.Status,
		Authority:   gacetaAuthority,
		ReasonText:  util.Truncate(link.Title, model.MaxReasonLen),
		PublishedAt: published,
		RawSnippet:  util.Truncate(snippet, model.MaxSnippetLen),
	}}
}
