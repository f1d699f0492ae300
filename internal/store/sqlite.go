package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/wanga1712/tendermatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// development and one-off runs where standing up PostgreSQL is overkill.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS tenders (
	id            INTEGER NOT NULL,
	registry_type TEXT NOT NULL,
	kind          TEXT NOT NULL DEFAULT 'new',
	user_id       INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (id, registry_type)
);

CREATE TABLE IF NOT EXISTS tender_documents (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	tender_id     INTEGER NOT NULL,
	registry_type TEXT NOT NULL,
	file_name     TEXT NOT NULL,
	url           TEXT NOT NULL,
	size_bytes    INTEGER NOT NULL DEFAULT 0,
	UNIQUE (tender_id, registry_type, file_name)
);

CREATE TABLE IF NOT EXISTS products (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS processing_results (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	tender_id          INTEGER NOT NULL,
	registry_type      TEXT NOT NULL,
	user_id            INTEGER NOT NULL DEFAULT 0,
	match_count        INTEGER NOT NULL DEFAULT 0,
	score_tier         REAL NOT NULL DEFAULT 0,
	is_interesting     INTEGER NOT NULL DEFAULT 0,
	error_reason       TEXT NOT NULL DEFAULT '',
	files_processed    INTEGER NOT NULL DEFAULT 0,
	total_bytes        INTEGER NOT NULL DEFAULT 0,
	processing_time_ms INTEGER NOT NULL DEFAULT 0,
	completed_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (tender_id, registry_type)
);

CREATE TABLE IF NOT EXISTS match_details (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	result_id            INTEGER NOT NULL REFERENCES processing_results(id) ON DELETE CASCADE,
	product              TEXT NOT NULL,
	score                REAL NOT NULL,
	file_name            TEXT NOT NULL DEFAULT '',
	sheet                TEXT NOT NULL DEFAULT '',
	cell_address         TEXT NOT NULL DEFAULT '',
	row_num              INTEGER NOT NULL DEFAULT 0,
	matched_text         TEXT NOT NULL DEFAULT '',
	is_additional_phrase INTEGER NOT NULL DEFAULT 0,
	quantity             TEXT NOT NULL DEFAULT '',
	unit_cost            TEXT NOT NULL DEFAULT '',
	total_cost           TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tender_documents_tender ON tender_documents(tender_id, registry_type);
CREATE INDEX IF NOT EXISTS idx_match_details_result ON match_details(result_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListTenders(ctx context.Context, filter TenderFilter) ([]model.TenderRef, error) {
	query := `SELECT t.id, t.registry_type, t.kind FROM tenders t`
	var args []any

	if filter.Unprocessed {
		query += ` LEFT JOIN processing_results r ON r.tender_id = t.id AND r.registry_type = t.registry_type`
	}
	query += ` WHERE 1=1`
	if filter.Unprocessed {
		query += ` AND r.id IS NULL`
	}
	if filter.Registry != "" {
		query += ` AND t.registry_type = ?`
		args = append(args, string(filter.Registry))
	}
	if filter.Kind != "" {
		query += ` AND t.kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.UserID > 0 {
		query += ` AND t.user_id = ?`
		args = append(args, filter.UserID)
	}
	if len(filter.IDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.IDs)), ",")
		query += fmt.Sprintf(" AND t.id IN (%s)", placeholders)
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY t.id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tenders")
	}
	defer rows.Close() //nolint:errcheck

	var tenders []model.TenderRef
	for rows.Next() {
		var t model.TenderRef
		var registry, kind string
		if err := rows.Scan(&t.ID, &registry, &kind); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan tender")
		}
		t.Registry = model.RegistryType(registry)
		t.Kind = model.TenderKind(kind)
		tenders = append(tenders, t)
	}
	return tenders, eris.Wrap(rows.Err(), "sqlite: list tenders rows")
}

func (s *SQLiteStore) GetDocuments(ctx context.Context, tender model.TenderRef) ([]model.DocumentMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tender_id, file_name, url, size_bytes FROM tender_documents
			WHERE tender_id = ? AND registry_type = ? ORDER BY id`,
		tender.ID, string(tender.Registry),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get documents for %s", tender.Key())
	}
	defer rows.Close() //nolint:errcheck

	var docs []model.DocumentMeta
	for rows.Next() {
		var d model.DocumentMeta
		if err := rows.Scan(&d.ID, &d.TenderID, &d.FileName, &d.URL, &d.SizeBytes); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: get documents rows")
}

func (s *SQLiteStore) ImportDocuments(ctx context.Context, registry model.RegistryType, docs []model.DocumentMeta) (int64, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import documents begin")
	}
	defer tx.Rollback() //nolint:errcheck

	var n int64
	for _, d := range docs {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO tender_documents (tender_id, registry_type, file_name, url, size_bytes)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (tender_id, registry_type, file_name) DO UPDATE SET
					url = excluded.url, size_bytes = excluded.size_bytes`,
			d.TenderID, string(registry), d.FileName, d.URL, d.SizeBytes,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: import document %s", d.FileName)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	return n, eris.Wrap(tx.Commit(), "sqlite: import documents commit")
}

func (s *SQLiteStore) GetCatalog(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM products ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get catalog")
	}
	defer rows.Close() //nolint:errcheck

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan product")
		}
		names = append(names, name)
	}
	return names, eris.Wrap(rows.Err(), "sqlite: get catalog rows")
}

func (s *SQLiteStore) IsProcessed(ctx context.Context, tender model.TenderRef) (bool, error) {
	var processed bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM processing_results WHERE tender_id = ? AND registry_type = ?)`,
		tender.ID, string(tender.Registry),
	).Scan(&processed)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: is processed %s", tender.Key())
	}
	return processed, nil
}

// GetResults returns tender id -> result id for every given tender that
// already has a result row, in a single query.
func (s *SQLiteStore) GetResults(ctx context.Context, registry model.RegistryType, ids []int64) (map[int64]int64, error) {
	results := make(map[int64]int64, len(ids))
	if len(ids) == 0 {
		return results, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, string(registry))
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT tender_id, id FROM processing_results WHERE registry_type = ? AND tender_id IN (%s)`, placeholders),
		args...,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get results for %s", registry)
	}
	defer rows.Close()

	for rows.Next() {
		var tenderID, resultID int64
		if err := rows.Scan(&tenderID, &resultID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result row")
		}
		results[tenderID] = resultID
	}
	return results, rows.Err()
}

func (s *SQLiteStore) SaveResult(ctx context.Context, res *model.ProcessingResult) (int64, error) {
	completedAt := res.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO processing_results
			(tender_id, registry_type, user_id, match_count, score_tier, is_interesting, error_reason, files_processed, total_bytes, processing_time_ms, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (tender_id, registry_type) DO UPDATE SET
				user_id = excluded.user_id,
				match_count = excluded.match_count,
				score_tier = excluded.score_tier,
				is_interesting = excluded.is_interesting,
				error_reason = excluded.error_reason,
				files_processed = excluded.files_processed,
				total_bytes = excluded.total_bytes,
				processing_time_ms = excluded.processing_time_ms,
				completed_at = excluded.completed_at
			RETURNING id`,
		res.TenderID, string(res.Registry), res.UserID,
		res.MatchCount, res.Tier, res.Interesting(),
		res.ErrorReason, res.FilesProcessed, res.TotalBytes,
		res.ProcessingTime.Milliseconds(), completedAt,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: save result for %s:%d", res.Registry, res.TenderID)
	}
	return id, nil
}

func (s *SQLiteStore) SaveMatchDetails(ctx context.Context, resultID int64, matches []model.MatchCandidate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: save match details begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM match_details WHERE result_id = ?`, resultID); err != nil {
		return eris.Wrapf(err, "sqlite: clear match details %d", resultID)
	}
	for _, m := range matches {
		var quantity, unitCost, totalCost string
		if m.RowContext != nil {
			quantity = m.RowContext.Quantity
			unitCost = m.RowContext.UnitCost
			totalCost = m.RowContext.TotalCost
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO match_details
				(result_id, product, score, file_name, sheet, cell_address, row_num, matched_text, is_additional_phrase, quantity, unit_cost, total_cost)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			resultID, m.Product, m.Score, m.FileName, m.Sheet,
			m.CellAddress, m.Row, m.MatchedText, m.IsAdditionalPhrase,
			quantity, unitCost, totalCost,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert match detail for %s", m.Product)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: save match details commit")
}

func (s *SQLiteStore) AverageProcessingTime(ctx context.Context) (time.Duration, error) {
	var avgMs float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(processing_time_ms), 0) FROM processing_results WHERE error_reason = ''`,
	).Scan(&avgMs)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: average processing time")
	}
	return time.Duration(avgMs) * time.Millisecond, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (RunStats, error) {
	var stats RunStats
	var avgMs float64
	err := s.db.QueryRowContext(ctx, `SELECT
			COUNT(*),
			COALESCE(SUM(is_interesting), 0),
			COALESCE(SUM(CASE WHEN error_reason <> '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(match_count), 0),
			COALESCE(AVG(processing_time_ms), 0)
		FROM processing_results`).
		Scan(&stats.TotalResults, &stats.Interesting, &stats.Errored, &stats.TotalMatches, &avgMs)
	if err != nil {
		return RunStats{}, eris.Wrap(err, "sqlite: stats")
	}
	stats.AvgProcessTime = time.Duration(avgMs) * time.Millisecond
	return stats, nil
}
