package sources

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/ppiankov/vigia/internal/classify"
	"github.com/ppiankov/vigia/internal/extract"
	"github.com/ppiankov/vigia/internal/fetch"
	"github.com/ppiankov/vigia/internal/model"
	"github.com/ppiankov/vigia/internal/util"
)

const openDataAuthority = "SAT"

var downloadExts = []string{".xlsx", ".xls", ".csv", ".zip"}

// knownFile is a published list used when the landing pages yield no links
type knownFile struct {
	name    string
	article model.Article
	status  model.Status
}

var knownFiles = []knownFile{
	{"Lista69B_Definitivos.zip", model.ArticleArt69B, model.StatusDefinitivo},
	{"Lista69B_Presuntos.zip", model.ArticleArt69B, model.StatusPresunto},
	{"Lista69B_Desvirtuados.zip", model.ArticleArt69B, model.StatusDesvirtuado},
	{"Firmes.zip", model.ArticleArt69, model.StatusCreditoFirme},
	{"NoLocalizados.zip", model.ArticleArt69, model.StatusNoLocalizado},
	{"Cancelados.zip", model.ArticleArt69, model.StatusCreditoCancelado},
	{"Sentencias.zip", model.ArticleArt69, model.StatusSentenciaCondenatoria},
}

// OpenData downloads the SAT open-data taxpayer lists. Each phased batch
// processes its own window of files.
type OpenData struct {
	base
	cfg        model.SATConfig
	classifier *classify.Classifier
	offset     int
}

// NewOpenData builds the SAT open-data fetcher for batch 0
func NewOpenData(cfg model.SATConfig, http *fetch.Fetcher, opts ...Option) *OpenData {
	if cfg.FilesPerBatch <= 0 {
		cfg.FilesPerBatch = 15
	}
	if cfg.MaxRowsPerFile <= 0 {
		cfg.MaxRowsPerFile = 40000
	}
	o := &OpenData{
		base:       newBase(http, opts),
		cfg:        cfg,
		classifier: classify.OpenDataFiles(),
	}
	o.extractor = extract.New(extract.WithMaxRows(cfg.MaxRowsPerFile), extract.WithLogger(o.logger))
	return o
}

// ForBatch returns a copy that discovers the file window of batch index
func (o *OpenData) ForBatch(index int) *OpenData {
	c := *o
	c.offset = index * o.cfg.FilesPerBatch
	return &c
}

func (o *OpenData) Source() model.Source { return model.SourceSAT }

func (o *OpenData) pageURL(p string) string {
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}
	return strings.TrimRight(o.cfg.BaseURL, "/") + "/" + strings.TrimLeft(p, "/")
}

// Discover lists download links across the landing pages, classified by their
// anchor (or surrounding) text, and returns this batch's window
func (o *OpenData) Discover(ctx context.Context) ([]Link, error) {
	urls := make([]string, len(o.cfg.Pages))
	for i, p := range o.cfg.Pages {
		urls[i] = o.pageURL(p)
	}

	seen := make(map[string]bool)
	var all []Link
	for _, p := range o.fetchPages(ctx, urls) {
		for _, l := range extract.Links(p.doc, p.url) {
			if !isDownload(l.URL) || seen[l.URL] {
				continue
			}
			seen[l.URL] = true

			label := l.Text
			if label == "" {
				label = l.Context
			}
			res := o.classifier.Classify(label)
			all = append(all, Link{
				URL:          l.URL,
				DiscoveryURL: p.url,
				Title:        util.Truncate(label, model.MaxReasonLen),
				Context:      util.Truncate(l.Context, 300),
				Article:      res.Article,
				Status:       res.Status,
			})
		}
	}

	if len(all) == 0 {
		o.logger.Warn("no download links found, using known file list")
		all = o.knownLinks()
	}
	return o.window(all), nil
}

func (o *OpenData) knownLinks() []Link {
	landing := o.pageURL("index.html")
	out := make([]Link, len(knownFiles))
	for i, k := range knownFiles {
		out[i] = Link{
			URL:          o.pageURL(k.name),
			DiscoveryURL: landing,
			Title:        k.name,
			Article:      k.article,
			Status:       model.StatusPtr(k.status),
		}
	}
	return out
}

func (o *OpenData) window(links []Link) []Link {
	if o.offset >= len(links) {
		return nil
	}
	end := o.offset + o.cfg.FilesPerBatch
	if end > len(links) {
		end = len(links)
	}
	return links[o.offset:end]
}

func isDownload(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return hasAnySuffix(strings.ToLower(u.Path), downloadExts...)
}

// FetchDetail downloads the file (file timeout and size cap, landing page as
// referer), archives it when configured and extracts its rows
func (o *OpenData) FetchDetail(ctx context.Context, link Link) (*Document, error) {
	resp, err := o.http.Get(ctx, link.URL, o.http.AsFile(), fetch.WithReferer(link.DiscoveryURL))
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}

	if o.archiver != nil {
		key := o.now().Format("2006-01-02") + "/" + path.Base(resp.URL)
		if err := o.archiver.Put(ctx, key, resp.Body, resp.ContentType); err != nil {
			o.logger.Warn("archive copy failed", "url", link.URL, "error", err)
		}
	}

	rows := o.extractor.Extract(resp.Body, link.URL)
	o.logger.Info("open data file parsed", "url", link.URL, "article", string(link.Article), "rows", len(rows))
	return &Document{Link: link, Rows: rows}, nil
}

// ToEvidence emits one record per row. A link without status takes the
// row's status column; Art. 69 records copy the status into Category.
func (o *OpenData) ToEvidence(doc *Document) []model.EvidenceRecord {
	link := doc.Link
	out := make([]model.EvidenceRecord, 0, len(doc.Rows))
	for _, r := range doc.Rows {
		status := link.Status
		if status == nil && r.StatusText != "" {
			status = model.StatusPtr(classify.RowStatus(r.StatusText))
		}
		rec := model.EvidenceRecord{
			Source:     model.SourceSAT,
			SourceURL:  link.URL,
			TaxpayerID: util.StrPtr(r.TaxpayerID),
			EntityName: util.StrPtr(util.Truncate(r.EntityName, model.MaxEntityNameLen)),
			Article:    link.Article,
			Status:     status,
			Authority:  openDataAuthority,
		}
		if link.Article == model.ArticleArt69 && status != nil {
			rec.Category = util.StrPtr(string(*status))
		}
		out = append(out, rec)
	}
	return out
}
