package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/wanga1712/tendermatch/internal/db"
	"github.com/wanga1712/tendermatch/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot store operations.
var preparedStatements = map[string]string{
	"is_processed":  sqlIsProcessed,
	"save_result":   sqlSaveResult,
	"get_documents": sqlGetDocuments,
	"get_results":   sqlGetResults,
	"avg_time":      sqlAvgTime,
}

const (
	sqlIsProcessed = `SELECT EXISTS (SELECT 1 FROM processing_results WHERE tender_id = $1 AND registry_type = $2)`

	sqlSaveResult = `INSERT INTO processing_results
		(tender_id, registry_type, user_id, match_count, score_tier, is_interesting, error_reason, files_processed, total_bytes, processing_time_ms, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tender_id, registry_type) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			match_count = EXCLUDED.match_count,
			score_tier = EXCLUDED.score_tier,
			is_interesting = EXCLUDED.is_interesting,
			error_reason = EXCLUDED.error_reason,
			files_processed = EXCLUDED.files_processed,
			total_bytes = EXCLUDED.total_bytes,
			processing_time_ms = EXCLUDED.processing_time_ms,
			completed_at = EXCLUDED.completed_at
		RETURNING id`

	sqlGetDocuments = `SELECT id, tender_id, file_name, url, size_bytes FROM tender_documents
		WHERE tender_id = $1 AND registry_type = $2 ORDER BY id`

	sqlGetResults = `SELECT tender_id, id FROM processing_results WHERE registry_type = $1 AND tender_id = ANY($2)`

	sqlAvgTime = `SELECT COALESCE(AVG(processing_time_ms), 0) FROM processing_results WHERE error_reason = ''`
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS tenders (
	id            BIGINT NOT NULL,
	registry_type TEXT NOT NULL,
	kind          TEXT NOT NULL DEFAULT 'new',
	user_id       BIGINT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (id, registry_type)
);

CREATE TABLE IF NOT EXISTS tender_documents (
	id            BIGSERIAL PRIMARY KEY,
	tender_id     BIGINT NOT NULL,
	registry_type TEXT NOT NULL,
	file_name     TEXT NOT NULL,
	url           TEXT NOT NULL,
	size_bytes    BIGINT NOT NULL DEFAULT 0,
	UNIQUE (tender_id, registry_type, file_name)
);

CREATE TABLE IF NOT EXISTS products (
	id   BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS processing_results (
	id                 BIGSERIAL PRIMARY KEY,
	tender_id          BIGINT NOT NULL,
	registry_type      TEXT NOT NULL,
	user_id            BIGINT NOT NULL DEFAULT 0,
	match_count        INT NOT NULL DEFAULT 0,
	score_tier         DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_interesting     BOOLEAN NOT NULL DEFAULT false,
	error_reason       TEXT NOT NULL DEFAULT '',
	files_processed    INT NOT NULL DEFAULT 0,
	total_bytes        BIGINT NOT NULL DEFAULT 0,
	processing_time_ms BIGINT NOT NULL DEFAULT 0,
	completed_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tender_id, registry_type)
);

CREATE TABLE IF NOT EXISTS match_details (
	id                   BIGSERIAL PRIMARY KEY,
	result_id            BIGINT NOT NULL REFERENCES processing_results(id) ON DELETE CASCADE,
	product              TEXT NOT NULL,
	score                DOUBLE PRECISION NOT NULL,
	file_name            TEXT NOT NULL DEFAULT '',
	sheet                TEXT NOT NULL DEFAULT '',
	cell_address         TEXT NOT NULL DEFAULT '',
	row_num              INT NOT NULL DEFAULT 0,
	matched_text         TEXT NOT NULL DEFAULT '',
	is_additional_phrase BOOLEAN NOT NULL DEFAULT false,
	quantity             TEXT NOT NULL DEFAULT '',
	unit_cost            TEXT NOT NULL DEFAULT '',
	total_cost           TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tender_documents_tender ON tender_documents(tender_id, registry_type);
CREATE INDEX IF NOT EXISTS idx_results_interesting ON processing_results(is_interesting);
CREATE INDEX IF NOT EXISTS idx_match_details_result ON match_details(result_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ListTenders(ctx context.Context, filter TenderFilter) ([]model.TenderRef, error) {
	query := `SELECT t.id, t.registry_type, t.kind FROM tenders t`
	var args []any

	if filter.Unprocessed {
		query += ` LEFT JOIN processing_results r ON r.tender_id = t.id AND r.registry_type = t.registry_type`
	}
	query += ` WHERE true`
	if filter.Unprocessed {
		query += ` AND r.id IS NULL`
	}
	if filter.Registry != "" {
		args = append(args, string(filter.Registry))
		query += fmt.Sprintf(" AND t.registry_type = $%d", len(args))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += fmt.Sprintf(" AND t.kind = $%d", len(args))
	}
	if filter.UserID > 0 {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND t.user_id = $%d", len(args))
	}
	if len(filter.IDs) > 0 {
		args = append(args, filter.IDs)
		query += fmt.Sprintf(" AND t.id = ANY($%d)", len(args))
	}
	query += ` ORDER BY t.id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tenders")
	}
	defer rows.Close()

	var tenders []model.TenderRef
	for rows.Next() {
		var t model.TenderRef
		var registry, kind string
		if err := rows.Scan(&t.ID, &registry, &kind); err != nil {
			return nil, eris.Wrap(err, "postgres: scan tender")
		}
		t.Registry = model.RegistryType(registry)
		t.Kind = model.TenderKind(kind)
		tenders = append(tenders, t)
	}
	return tenders, eris.Wrap(rows.Err(), "postgres: list tenders rows")
}

func (s *PostgresStore) GetDocuments(ctx context.Context, tender model.TenderRef) ([]model.DocumentMeta, error) {
	rows, err := s.pool.Query(ctx, sqlGetDocuments, tender.ID, string(tender.Registry))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get documents for %s", tender.Key())
	}
	defer rows.Close()

	var docs []model.DocumentMeta
	for rows.Next() {
		var d model.DocumentMeta
		if err := rows.Scan(&d.ID, &d.TenderID, &d.FileName, &d.URL, &d.SizeBytes); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: get documents rows")
}

// ImportDocuments upserts registry document metadata in bulk, keyed by
// (tender_id, registry_type, file_name).
func (s *PostgresStore) ImportDocuments(ctx context.Context, registry model.RegistryType, docs []model.DocumentMeta) (int64, error) {
	rows := make([][]any, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, []any{d.TenderID, string(registry), d.FileName, d.URL, d.SizeBytes})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "tender_documents",
		Columns:      []string{"tender_id", "registry_type", "file_name", "url", "size_bytes"},
		ConflictKeys: []string{"tender_id", "registry_type", "file_name"},
	}, rows)
	return n, eris.Wrap(err, "postgres: import documents")
}

func (s *PostgresStore) GetCatalog(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM products ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get catalog")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan product")
		}
		names = append(names, name)
	}
	return names, eris.Wrap(rows.Err(), "postgres: get catalog rows")
}

func (s *PostgresStore) IsProcessed(ctx context.Context, tender model.TenderRef) (bool, error) {
	var processed bool
	err := s.pool.QueryRow(ctx, sqlIsProcessed, tender.ID, string(tender.Registry)).Scan(&processed)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: is processed %s", tender.Key())
	}
	return processed, nil
}

// GetResults returns tender id -> result id for every given tender that
// already has a result row, in a single query.
func (s *PostgresStore) GetResults(ctx context.Context, registry model.RegistryType, ids []int64) (map[int64]int64, error) {
	results := make(map[int64]int64, len(ids))
	if len(ids) == 0 {
		return results, nil
	}

	rows, err := s.pool.Query(ctx, sqlGetResults, string(registry), ids)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get results for %s", registry)
	}
	defer rows.Close()

	for rows.Next() {
		var tenderID, resultID int64
		if err := rows.Scan(&tenderID, &resultID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result row")
		}
		results[tenderID] = resultID
	}
	return results, rows.Err()
}

// SaveResult upserts the tender's result row and returns its id. Re-running
// a tender overwrites the previous outcome rather than duplicating it.
func (s *PostgresStore) SaveResult(ctx context.Context, res *model.ProcessingResult) (int64, error) {
	completedAt := res.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	var id int64
	err := s.pool.QueryRow(ctx, sqlSaveResult,
		res.TenderID, string(res.Registry), res.UserID,
		res.MatchCount, res.Tier, res.Interesting(),
		res.ErrorReason, res.FilesProcessed, res.TotalBytes,
		res.ProcessingTime.Milliseconds(), completedAt,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: save result for %s:%d", res.Registry, res.TenderID)
	}
	return id, nil
}

// SaveMatchDetails replaces the detail rows of a result in one COPY.
func (s *PostgresStore) SaveMatchDetails(ctx context.Context, resultID int64, matches []model.MatchCandidate) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM match_details WHERE result_id = $1`, resultID); err != nil {
		return eris.Wrapf(err, "postgres: clear match details %d", resultID)
	}
	if len(matches) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(matches))
	for _, m := range matches {
		var quantity, unitCost, totalCost string
		if m.RowContext != nil {
			quantity = m.RowContext.Quantity
			unitCost = m.RowContext.UnitCost
			totalCost = m.RowContext.TotalCost
		}
		rows = append(rows, []any{
			resultID, m.Product, m.Score, m.FileName, m.Sheet,
			m.CellAddress, m.Row, m.MatchedText, m.IsAdditionalPhrase,
			quantity, unitCost, totalCost,
		})
	}
	_, err := db.CopyFrom(ctx, s.pool, "match_details", []string{
		"result_id", "product", "score", "file_name", "sheet",
		"cell_address", "row_num", "matched_text", "is_additional_phrase",
		"quantity", "unit_cost", "total_cost",
	}, rows)
	return eris.Wrapf(err, "postgres: save match details %d", resultID)
}

func (s *PostgresStore) AverageProcessingTime(ctx context.Context) (time.Duration, error) {
	var avgMs float64
	if err := s.pool.QueryRow(ctx, sqlAvgTime).Scan(&avgMs); err != nil {
		return 0, eris.Wrap(err, "postgres: average processing time")
	}
	return time.Duration(avgMs) * time.Millisecond, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (RunStats, error) {
	var stats RunStats
	var avgMs float64
	err := s.pool.QueryRow(ctx, `SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE is_interesting),
			COUNT(*) FILTER (WHERE error_reason <> ''),
			COALESCE(SUM(match_count), 0),
			COALESCE(AVG(processing_time_ms), 0)
		FROM processing_results`).
		Scan(&stats.TotalResults, &stats.Interesting, &stats.Errored, &stats.TotalMatches, &avgMs)
	if err != nil {
		return RunStats{}, eris.Wrap(err, "postgres: stats")
	}
	stats.AvgProcessTime = time.Duration(avgMs) * time.Millisecond
	return stats, nil
}
