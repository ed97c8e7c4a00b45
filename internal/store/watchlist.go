package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/vigia/internal/model"
)

// TrackedIdentifiers returns each watchlist identifier once, with the
// lexically smallest name on record
func (s *Store) TrackedIdentifiers(ctx context.Context) ([]model.TrackedIdentifier, error) {
	var out []model.TrackedIdentifier
	err := s.db.SelectContext(ctx, &out, `SELECT rfc, MIN(razon_social) AS razon_social
		FROM watchlist_companies
		WHERE rfc IS NOT NULL AND rfc <> ''
		GROUP BY rfc ORDER BY rfc`)
	if err != nil {
		return nil, fmt.Errorf("tracked identifiers: %w", err)
	}
	return out, nil
}

// NewsTargets returns distinct named companies for the news job
func (s *Store) NewsTargets(ctx context.Context) ([]model.NewsTarget, error) {
	var out []model.NewsTarget
	err := s.db.SelectContext(ctx, &out, `SELECT rfc, razon_social, MIN(watchlist_id) AS watchlist_id
		FROM watchlist_companies
		WHERE razon_social IS NOT NULL AND razon_social <> ''
		GROUP BY rfc, razon_social ORDER BY razon_social`)
	if err != nil {
		return nil, fmt.Errorf("news targets: %w", err)
	}
	return out, nil
}

// AddTracked inserts a watchlist row. The table is owned by the product;
// this exists for the sqlite dev mode and tests.
func (s *Store) AddTracked(ctx context.Context, watchlistID int64, taxpayerID, name string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO watchlist_companies (watchlist_id, rfc, razon_social)
		VALUES (?, ?, ?)`), watchlistID, nullable(strings.ToUpper(strings.TrimSpace(taxpayerID))), nullable(name))
	if err != nil {
		return fmt.Errorf("add tracked %s: %w", taxpayerID, err)
	}
	return nil
}

// WriteRisk overwrites every risk column of snap.TaxpayerID's rows in one
// transaction and returns the distinct levels they held before. Rows never
// screened report "".
func (s *Store) WriteRisk(ctx context.Context, snap model.RiskSnapshot) ([]model.RiskLevel, error) {
	categories := snap.Art69Categories
	if categories == nil {
		categories = []model.Status{}
	}
	encoded, err := json.Marshal(categories)
	if err != nil {
		return nil, fmt.Errorf("encode categories: %w", err)
	}
	var art69b any
	if snap.Art69BStatus != nil {
		art69b = string(*snap.Art69BStatus)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prior []sql.NullString
	if err := tx.SelectContext(ctx, &prior, tx.Rebind(
		`SELECT DISTINCT risk_level FROM watchlist_companies WHERE rfc = ?`), snap.TaxpayerID); err != nil {
		return nil, fmt.Errorf("previous risk %s: %w", snap.TaxpayerID, err)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE watchlist_companies SET
			risk_level = ?, risk_score = ?, art_69b_status = ?, art_69_categories = ?,
			art_69_bis_found = ?, art_49_bis_found = ?, last_screened_at = ?
		WHERE rfc = ?`),
		string(snap.Level), snap.Score, art69b, string(encoded),
		snap.Art69BisFound, snap.Art49BisFound, snap.ScreenedAt.UTC(), snap.TaxpayerID)
	if err != nil {
		return nil, fmt.Errorf("write risk %s: %w", snap.TaxpayerID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit risk %s: %w", snap.TaxpayerID, err)
	}

	levels := make([]model.RiskLevel, 0, len(prior))
	for _, p := range prior {
		levels = append(levels, model.RiskLevel(p.String))
	}
	return levels, nil
}

type riskRow struct {
	TaxpayerID string         `db:"rfc"`
	Level      sql.NullString `db:"risk_level"`
	Score      sql.NullInt64  `db:"risk_score"`
	Art69B     sql.NullString `db:"art_69b_status"`
	Categories sql.NullString `db:"art_69_categories"`
	Bis        bool           `db:"art_69_bis_found"`
	Bis49      bool           `db:"art_49_bis_found"`
	ScreenedAt sql.NullTime   `db:"last_screened_at"`
}

// StoredRisk reads the last written snapshot; nil when the identifier is not
// tracked or was never screened
func (s *Store) StoredRisk(ctx context.Context, taxpayerID string) (*model.RiskSnapshot, error) {
	var row riskRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT rfc, risk_level, risk_score, art_69b_status,
			art_69_categories, art_69_bis_found, art_49_bis_found, last_screened_at
		FROM watchlist_companies WHERE rfc = ? AND risk_level IS NOT NULL
		ORDER BY last_screened_at DESC LIMIT 1`), strings.ToUpper(strings.TrimSpace(taxpayerID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stored risk %s: %w", taxpayerID, err)
	}

	snap := &model.RiskSnapshot{
		TaxpayerID:      row.TaxpayerID,
		Level:           model.RiskLevel(row.Level.String),
		Score:           int(row.Score.Int64),
		Art69BisFound:   row.Bis,
		Art49BisFound:   row.Bis49,
		Art69Categories: []model.Status{},
	}
	if row.Art69B.Valid && row.Art69B.String != "" {
		snap.Art69BStatus = model.StatusPtr(model.Status(row.Art69B.String))
	}
	if row.Categories.Valid && row.Categories.String != "" {
		if err := json.Unmarshal([]byte(row.Categories.String), &snap.Art69Categories); err != nil {
			return nil, fmt.Errorf("decode categories %s: %w", taxpayerID, err)
		}
	}
	if row.ScreenedAt.Valid {
		snap.ScreenedAt = row.ScreenedAt.Time.In(time.UTC)
	}
	return snap, nil
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
