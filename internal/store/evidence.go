package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/ppiankov/vigia/internal/model"
)

const (
	evidenceColumns = `id, source, source_url, secondary_url, taxpayer_id, entity_name, article, status,
		category, reference_number, authority, reason_text, published_at, indexed_at, last_seen_at, raw_snippet`

	insertEvidence = `INSERT INTO evidence_records (source, source_url, secondary_url, taxpayer_id, entity_name,
		article, status, category, reference_number, authority, reason_text, published_at, indexed_at,
		last_seen_at, raw_snippet)
		VALUES (:source, :source_url, :secondary_url, :taxpayer_id, :entity_name, :article, :status,
		:category, :reference_number, :authority, :reason_text, :published_at, :indexed_at,
		:last_seen_at, :raw_snippet)`

	insertChunk = 500
)

// Writer is the unit of work handed to Commit. Every call runs inside the
// same transaction.
type Writer interface {
	// ReplaceSource deletes every record of src and inserts recs. It reports
	// false when the replace guard kept the prior generation.
	ReplaceSource(ctx context.Context, src model.Source, recs []model.EvidenceRecord) (bool, error)
	// ClearSource deletes every record of src
	ClearSource(ctx context.Context, src model.Source) (int64, error)
	// AppendSource inserts recs, dropping duplicates within the call
	AppendSource(ctx context.Context, src model.Source, recs []model.EvidenceRecord) (int, error)
	// RecordBatch updates the sweep cursor; batch 0 resets the totals
	RecordBatch(ctx context.Context, batch, files, rows int) error
	// TouchSource stamps the source's freshness with its current row count
	TouchSource(ctx context.Context, src model.Source) error
}

type txWriter struct {
	s   *Store
	tx  *sqlx.Tx
	now time.Time
}

// Commit runs fn in one transaction. Any error from fn rolls back everything
// it wrote.
func (s *Store) Commit(ctx context.Context, fn func(Writer) error) error {
	ctx, span := otel.Tracer("vigia/store").Start(ctx, "store.Commit")
	defer span.End()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&txWriter{s: s, tx: tx, now: s.stamp()}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", "error", rbErr)
		}
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := tx.Commit(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ReplaceSource atomically swaps src's records for recs
func (s *Store) ReplaceSource(ctx context.Context, src model.Source, recs []model.EvidenceRecord) (bool, error) {
	var replaced bool
	err := s.Commit(ctx, func(w Writer) error {
		var err error
		replaced, err = w.ReplaceSource(ctx, src, recs)
		return err
	})
	return replaced, err
}

func (w *txWriter) ReplaceSource(ctx context.Context, src model.Source, recs []model.EvidenceRecord) (bool, error) {
	if w.s.minReplace > 0 && len(recs) < w.s.minReplace {
		w.s.logger.Warn("replace skipped, keeping prior generation",
			"source", string(src), "records", len(recs), "min_replace_records", w.s.minReplace)
		return false, nil
	}
	deleted, err := w.ClearSource(ctx, src)
	if err != nil {
		return false, err
	}
	unique := dedup(src, recs)
	if err := w.insert(ctx, src, unique); err != nil {
		return false, err
	}
	w.s.logger.Info("source replaced", "source", string(src), "deleted", deleted,
		"inserted", len(unique), "duplicates", len(recs)-len(unique))
	return true, nil
}

func (w *txWriter) ClearSource(ctx context.Context, src model.Source) (int64, error) {
	res, err := w.tx.ExecContext(ctx, w.tx.Rebind(`DELETE FROM evidence_records WHERE source = ?`), string(src))
	if err != nil {
		return 0, fmt.Errorf("clear %s: %w", src, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (w *txWriter) AppendSource(ctx context.Context, src model.Source, recs []model.EvidenceRecord) (int, error) {
	unique := dedup(src, recs)
	if err := w.insert(ctx, src, unique); err != nil {
		return 0, err
	}
	return len(unique), nil
}

// dedup keeps the first record per DedupKey, keyed as stored under src
func dedup(src model.Source, recs []model.EvidenceRecord) []model.EvidenceRecord {
	seen := make(map[string]bool, len(recs))
	unique := make([]model.EvidenceRecord, 0, len(recs))
	for _, r := range recs {
		r.Source = src
		key := r.DedupKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, r)
	}
	return unique
}

func (w *txWriter) insert(ctx context.Context, src model.Source, recs []model.EvidenceRecord) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([]model.EvidenceRecord, len(recs))
	for i, r := range recs {
		r.Source = src
		r.IndexedAt = w.now
		r.LastSeenAt = w.now
		rows[i] = r
	}
	for start := 0; start < len(rows); start += insertChunk {
		end := start + insertChunk
		if end > len(rows) {
			end = len(rows)
		}
		if _, err := w.tx.NamedExecContext(ctx, insertEvidence, rows[start:end]); err != nil {
			return fmt.Errorf("insert %s: %w", src, err)
		}
	}
	return nil
}

func (w *txWriter) RecordBatch(ctx context.Context, batch, files, rows int) error {
	query := `INSERT INTO sweep_cursor (id, last_completed_at, total_files, total_rows, last_batch)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			last_completed_at = excluded.last_completed_at,
			total_files = sweep_cursor.total_files + excluded.total_files,
			total_rows = sweep_cursor.total_rows + excluded.total_rows,
			last_batch = excluded.last_batch`
	if batch == 0 {
		query = `INSERT INTO sweep_cursor (id, last_completed_at, total_files, total_rows, last_batch)
			VALUES (1, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				last_completed_at = excluded.last_completed_at,
				total_files = excluded.total_files,
				total_rows = excluded.total_rows,
				last_batch = excluded.last_batch`
	}
	if _, err := w.tx.ExecContext(ctx, w.tx.Rebind(query), w.now, files, rows, batch); err != nil {
		return fmt.Errorf("sweep cursor: %w", err)
	}
	return nil
}

func (w *txWriter) TouchSource(ctx context.Context, src model.Source) error {
	var count int
	if err := w.tx.GetContext(ctx, &count,
		w.tx.Rebind(`SELECT COUNT(*) FROM evidence_records WHERE source = ?`), string(src)); err != nil {
		return fmt.Errorf("count %s: %w", src, err)
	}
	_, err := w.tx.ExecContext(ctx, w.tx.Rebind(`INSERT INTO source_freshness (source, last_updated, row_count)
		VALUES (?, ?, ?)
		ON CONFLICT (source) DO UPDATE SET last_updated = excluded.last_updated, row_count = excluded.row_count`),
		string(src), w.now, count)
	if err != nil {
		return fmt.Errorf("freshness %s: %w", src, err)
	}
	return nil
}

// QueryByIdentifier returns article records for taxpayerID, newest first.
// Only when that yields nothing and name is set, records whose entity name
// contains name (case-insensitive) are returned instead.
func (s *Store) QueryByIdentifier(ctx context.Context, taxpayerID string, article model.Article, name string) ([]model.EvidenceRecord, error) {
	var out []model.EvidenceRecord
	if id := strings.TrimSpace(taxpayerID); id != "" {
		err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT `+evidenceColumns+`
			FROM evidence_records WHERE taxpayer_id = ? AND article = ?
			ORDER BY indexed_at DESC, id DESC`), strings.ToUpper(id), string(article))
		if err != nil {
			return nil, fmt.Errorf("query %s %s: %w", id, article, err)
		}
		if len(out) > 0 {
			return out, nil
		}
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT `+evidenceColumns+`
		FROM evidence_records WHERE LOWER(entity_name) LIKE LOWER(?) ESCAPE '\' AND article = ?
		ORDER BY indexed_at DESC, id DESC`), containsPattern(name), string(article))
	if err != nil {
		return nil, fmt.Errorf("query name %q %s: %w", name, article, err)
	}
	return out, nil
}

// RecordsBySource returns every record of src
func (s *Store) RecordsBySource(ctx context.Context, src model.Source) ([]model.EvidenceRecord, error) {
	var out []model.EvidenceRecord
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT `+evidenceColumns+`
		FROM evidence_records WHERE source = ? ORDER BY id`), string(src))
	if err != nil {
		return nil, fmt.Errorf("records %s: %w", src, err)
	}
	return out, nil
}

// EvidenceQuery filters SearchEvidence; empty fields match everything
type EvidenceQuery struct {
	TaxpayerID string
	Name       string
	Source     model.Source
	Article    model.Article
	Limit      int
}

// SearchEvidence is the read interface behind the evidence endpoint
func (s *Store) SearchEvidence(ctx context.Context, q EvidenceQuery) ([]model.EvidenceRecord, error) {
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
	if q.Source != "" {
		where = append(where, "source = ?")
		args = append(args, string(q.Source))
	}
	if q.Article != "" {
		where = append(where, "article = ?")
		args = append(args, string(q.Article))
	}
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT ` + evidenceColumns + ` FROM evidence_records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY indexed_at DESC, id DESC LIMIT %d`, limit)

	var out []model.EvidenceRecord
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("search evidence: %w", err)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
