package sources

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/vigia/internal/extract"
	"github.com/ppiankov/vigia/internal/util"
)

type page struct {
	url string
	doc *html.Node
}

// fetchPages downloads and parses urls with bounded concurrency. The result
// keeps the input order; pages that failed are left out.
func (b *base) fetchPages(ctx context.Context, urls []string) []page {
	slots := make([]*html.Node, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.editionWorkers)
	for i, u := range urls {
		g.Go(func() error {
			resp, err := b.http.Get(gctx, u)
			if err != nil {
				b.logger.Debug("page fetch failed", "url", u, "error", err)
				return nil
			}
			doc, err := extract.ParseHTML(resp.Text())
			if err != nil {
				b.logger.Debug("page parse failed", "url", u, "error", err)
				return nil
			}
			slots[i] = doc
			return nil
		})
	}
	_ = g.Wait()

	var out []page
	for i, doc := range slots {
		if doc != nil {
			out = append(out, page{url: urls[i], doc: doc})
		}
	}
	return out
}

// fetchText fetches a page and returns its visible text cut to n runes.
// Failures yield "" so a missing snippet never drops a record.
func (b *base) fetchText(ctx context.Context, rawURL string, n int) string {
	if rawURL == "" {
		return ""
	}
	resp, err := b.http.Get(ctx, rawURL)
	if err != nil {
		b.logger.Debug("snippet fetch failed", "url", rawURL, "error", err)
		return ""
	}
	doc, err := extract.ParseHTML(resp.Text())
	if err != nil {
		return ""
	}
	return util.Truncate(extract.VisibleText(doc), n)
}

var (
	dayFirst  = regexp.MustCompile(`(\d{1,2})\s*/\s*(\d{1,2})\s*/\s*(\d{2,4})`)
	yearFirst = regexp.MustCompile(`(\d{4})[/-](\d{1,2})[/-](\d{1,2})`)
	dayDashed = regexp.MustCompile(`(\d{1,2})[/-](\d{1,2})[/-](\d{4})`)
)

// parseDayFirst reads dd/mm/yyyy (two-digit years are 20yy)
func parseDayFirst(s string) *time.Time {
	m := dayFirst.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	d, _ := strconv.Atoi(m[1])
	mo, _ := strconv.Atoi(m[2])
	y, _ := strconv.Atoi(m[3])
	if y < 100 {
		y += 2000
	}
	return makeDate(y, mo, d)
}

// parseURLDate finds yyyy/mm/dd or dd/mm/yyyy in a URL path
func parseURLDate(s string) *time.Time {
	if m := yearFirst.FindStringSubmatch(s); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		if t := makeDate(y, mo, d); t != nil {
			return t
		}
	}
	if m := dayDashed.FindStringSubmatch(s); m != nil {
		d, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[3])
		return makeDate(y, mo, d)
	}
	return nil
}

func makeDate(y, m, d int) *time.Time {
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return nil
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d {
		return nil
	}
	return &t
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}
