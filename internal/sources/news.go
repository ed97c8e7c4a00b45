package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/vigia/internal/fetch"
	"github.com/ppiankov/vigia/internal/model"
)

const removedTitle = "[Removed]"

// News searches NewsAPI for press mentions of watchlist companies. Without an
// API key every call is a no-op.
type News struct {
	cfg    model.NewsConfig
	http   *fetch.Fetcher
	logger *slog.Logger
	now    func() time.Time
}

func NewNews(cfg model.NewsConfig, http *fetch.Fetcher, opts ...Option) *News {
	b := newBase(http, opts)
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.DaysBack <= 0 {
		cfg.DaysBack = 30
	}
	if cfg.MaxCompanies <= 0 {
		cfg.MaxCompanies = 50
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	return &News{cfg: cfg, http: http, logger: b.logger, now: b.now}
}

// Enabled reports whether an API key is configured
func (n *News) Enabled() bool {
	return n.cfg.APIKey != ""
}

type newsResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
	} `json:"articles"`
}

// Search queries one company name
func (n *News) Search(ctx context.Context, target model.NewsTarget) ([]model.NewsArticle, error) {
	if !n.Enabled() {
		return nil, nil
	}
	name := strings.TrimSpace(target.EntityName)
	if name == "" {
		return nil, nil
	}

	q := url.Values{}
	q.Set("q", `"`+name+`" México`)
	q.Set("language", "es")
	q.Set("from", n.now().AddDate(0, 0, -n.cfg.DaysBack).Format("2006-01-02"))
	q.Set("pageSize", strconv.Itoa(n.cfg.PageSize))
	q.Set("page", "1")
	q.Set("sortBy", "publishedAt")

	resp, err := n.http.Get(ctx, n.cfg.BaseURL+"?"+q.Encode(),
		fetch.WithoutCache(),
		fetch.WithAccept("application/json"),
		fetch.WithHeader("X-Api-Key", n.cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("newsapi %q: %w", name, err)
	}

	var body newsResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("newsapi %q: decode: %w", name, err)
	}
	if body.Status == "error" {
		return nil, fmt.Errorf("newsapi %q: %s", name, body.Message)
	}

	var out []model.NewsArticle
	for _, a := range body.Articles {
		title := strings.TrimSpace(a.Title)
		link := strings.TrimSpace(a.URL)
		if title == "" || title == removedTitle || link == "" {
			continue
		}
		src := a.Source.Name
		if src == "" {
			src = string(model.SourceNews)
		}
		art := model.NewsArticle{
			TaxpayerID:  target.TaxpayerID,
			EntityName:  name,
			WatchlistID: target.WatchlistID,
			Source:      src,
			Title:       title,
			URL:         link,
			Summary:     strings.TrimSpace(a.Description),
		}
		if t, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
			t = t.UTC()
			art.PublishedAt = &t
		}
		out = append(out, art)
	}
	return out, nil
}

// SearchAll queries up to MaxCompanies targets and dedups by URL plus
// identifier. A failed company is logged and skipped.
func (n *News) SearchAll(ctx context.Context, targets []model.NewsTarget) []model.NewsArticle {
	if !n.Enabled() {
		n.logger.Debug("news api key not set, skipping")
		return nil
	}
	if len(targets) > n.cfg.MaxCompanies {
		targets = targets[:n.cfg.MaxCompanies]
	}

	seen := make(map[string]bool)
	var out []model.NewsArticle
	for _, t := range targets {
		if ctx.Err() != nil {
			break
		}
		articles, err := n.Search(ctx, t)
		if err != nil {
			n.logger.Warn("news search failed", "razon_social", t.EntityName, "error", err)
			continue
		}
		for _, a := range articles {
			if key := a.DedupKey(); !seen[key] {
				seen[key] = true
				out = append(out, a)
			}
		}
	}
	n.logger.Info("news fetched", "companies", len(targets), "articles", len(out))
	return out
}
