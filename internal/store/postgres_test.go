package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wanga1712/tendermatch/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_IsProcessed(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	tender := model.TenderRef{ID: 12345, Registry: model.Registry44FZ}

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(12345), "44fz").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	processed, err := s.IsProcessed(context.Background(), tender)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetResults(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT tender_id, id FROM processing_results`).
		WithArgs("44fz", []int64{101, 202, 303}).
		WillReturnRows(pgxmock.NewRows([]string{"tender_id", "id"}).
			AddRow(int64(101), int64(1)).
			AddRow(int64(303), int64(9)))

	results, err := s.GetResults(context.Background(), model.Registry44FZ, []int64{101, 202, 303})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{101: 1, 303: 9}, results)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetResultsEmpty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// No IDs means no round-trip at all.
	results, err := s.GetResults(context.Background(), model.Registry44FZ, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveResult(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	completed := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	res := &model.ProcessingResult{
		TenderID:       12345,
		Registry:       model.Registry44FZ,
		UserID:         7,
		Tier:           model.TierFull,
		MatchCount:     3,
		FilesProcessed: 5,
		TotalBytes:     1 << 20,
		ProcessingTime: 90 * time.Second,
		CompletedAt:    completed,
	}

	mock.ExpectQuery(`INSERT INTO processing_results`).
		WithArgs(int64(12345), "44fz", int64(7), 3, model.TierFull, true, "", 5, int64(1<<20), int64(90000), completed).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := s.SaveResult(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveResultError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	res := &model.ProcessingResult{
		TenderID:    99,
		Registry:    model.Registry223FZ,
		ErrorReason: "no_documents",
		CompletedAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}

	mock.ExpectQuery(`INSERT INTO processing_results`).
		WithArgs(int64(99), "223fz", int64(0), 0, float64(0), false, "no_documents", 0, int64(0), int64(0), res.CompletedAt).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := s.SaveResult(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveMatchDetails(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM match_details WHERE result_id`).
		WithArgs(int64(42)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"match_details"}, []string{
		"result_id", "product", "score", "file_name", "sheet",
		"cell_address", "row_num", "matched_text", "is_additional_phrase",
		"quantity", "unit_cost", "total_cost",
	}).WillReturnResult(1)

	matches := []model.MatchCandidate{{
		Product:     "Контейнер мусорный 240л",
		Score:       100,
		FileName:    "смета.xlsx",
		Sheet:       "Смета",
		CellAddress: "B7",
		Row:         7,
		MatchedText: "Контейнер мусорный 240л",
		RowContext:  &model.RowContext{Quantity: "12", UnitCost: "5400", TotalCost: "64800"},
	}}
	err := s.SaveMatchDetails(context.Background(), 42, matches)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveMatchDetailsEmpty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM match_details WHERE result_id`).
		WithArgs(int64(42)).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	err := s.SaveMatchDetails(context.Background(), 42, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDocuments(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	tender := model.TenderRef{ID: 12345, Registry: model.Registry44FZ}

	mock.ExpectQuery(`SELECT id, tender_id, file_name, url, size_bytes FROM tender_documents`).
		WithArgs(int64(12345), "44fz").
		WillReturnRows(pgxmock.NewRows([]string{"id", "tender_id", "file_name", "url", "size_bytes"}).
			AddRow(int64(1), int64(12345), "смета.xlsx", "https://zakupki.gov.ru/files/1", int64(2048)).
			AddRow(int64(2), int64(12345), "тз.docx", "ftp://ftp.zakupki.gov.ru/files/2", int64(1024)))

	docs, err := s.GetDocuments(context.Background(), tender)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "смета.xlsx", docs[0].FileName)
	assert.Equal(t, int64(1024), docs[1].SizeBytes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListTendersUnprocessed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT t.id, t.registry_type, t.kind FROM tenders t LEFT JOIN processing_results`).
		WithArgs("44fz").
		WillReturnRows(pgxmock.NewRows([]string{"id", "registry_type", "kind"}).
			AddRow(int64(1), "44fz", "new").
			AddRow(int64(2), "44fz", "won"))

	tenders, err := s.ListTenders(context.Background(), TenderFilter{
		Registry:    model.Registry44FZ,
		Unprocessed: true,
	})
	require.NoError(t, err)
	require.Len(t, tenders, 2)
	assert.Equal(t, model.TenderKindWon, tenders[1].Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCatalog(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT name FROM products`).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).
			AddRow("Контейнер мусорный 240л").
			AddRow("Бак накопительный 1000л"))

	catalog, err := s.GetCatalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Контейнер мусорный 240л", "Бак накопительный 1000л"}, catalog)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Stats(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT`).
		WillReturnRows(pgxmock.NewRows([]string{"total", "interesting", "errored", "matches", "avg"}).
			AddRow(120, 14, 6, 230, float64(45000)))

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 120, stats.TotalResults)
	assert.Equal(t, 14, stats.Interesting)
	assert.Equal(t, 6, stats.Errored)
	assert.Equal(t, 230, stats.TotalMatches)
	assert.Equal(t, 45*time.Second, stats.AvgProcessTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AverageProcessingTime(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COALESCE\(AVG\(processing_time_ms\), 0\)`).
		WillReturnRows(pgxmock.NewRows([]string{"avg"}).AddRow(float64(30000)))

	avg, err := s.AverageProcessingTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, avg)
	assert.NoError(t, mock.ExpectationsWereMet())
}
