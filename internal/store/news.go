package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/vigia/internal/model"
)

const newsColumns = `id, taxpayer_id, entity_name, watchlist_id, source, title, url, summary, published_at, indexed_at`

// InsertNews stores articles, skipping any already stored under the same
// URL and identifier. It returns how many were new.
func (s *Store) InsertNews(ctx context.Context, articles []model.NewsArticle) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}
	now := s.stamp()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := tx.Rebind(`INSERT INTO company_news (dedup_key, taxpayer_id, entity_name, watchlist_id, source,
			title, url, summary, published_at, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dedup_key) DO NOTHING`)

	inserted := 0
	for _, a := range articles {
		res, err := tx.ExecContext(ctx, query, a.DedupKey(), a.TaxpayerID, a.EntityName, a.WatchlistID,
			a.Source, a.Title, a.URL, a.Summary, a.PublishedAt, now)
		if err != nil {
			return 0, fmt.Errorf("insert news %s: %w", a.URL, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit news: %w", err)
	}
	return inserted, nil
}

// NewsQuery filters SearchNews; empty fields match everything
type NewsQuery struct {
	TaxpayerID  string
	Name        string
	WatchlistID *int64
	Limit       int
}

// SearchNews returns stored articles, newest first
func (s *Store) SearchNews(ctx context.Context, q NewsQuery) ([]model.NewsArticle, error) {
	var (
		where []string
		args  []any
	)
	if id := strings.TrimSpace(q.TaxpayerID); id != "" {
		where = append(where, "taxpayer_id = ?")
		args = append(args, strings.ToUpper(id))
	}
	if name := strings.TrimSpace(q.Name); name != "" {
		where = append(where, `LOWER(entity_name) LIKE LOWER(?) ESCAPE '\'`)
		args = append(args, containsPattern(name))
	}
	if q.WatchlistID != nil {
		where = append(where, "watchlist_id = ?")
		args = append(args, *q.WatchlistID)
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `SELECT ` + newsColumns + ` FROM company_news`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY published_at DESC, id DESC LIMIT %d`, limit)

	var out []model.NewsArticle
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("search news: %w", err)
	}
	return out, nil
}
