package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ppiankov/vigia/internal/model"
)

// Freshness reports the sweep cursor and per-source last update
func (s *Store) Freshness(ctx context.Context) (model.Freshness, error) {
	var f model.Freshness
	err := s.db.GetContext(ctx, &f.Cursor, `SELECT last_completed_at, total_files, total_rows, last_batch
		FROM sweep_cursor WHERE id = 1`)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return f, fmt.Errorf("sweep cursor: %w", err)
	}
	if err := s.db.SelectContext(ctx, &f.Sources, `SELECT source, last_updated, row_count
		FROM source_freshness ORDER BY source`); err != nil {
		return f, fmt.Errorf("source freshness: %w", err)
	}
	return f, nil
}
