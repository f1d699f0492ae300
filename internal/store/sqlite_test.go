package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wanga1712/tendermatch/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedTender(t *testing.T, s *SQLiteStore, id int64, registry, kind string, userID int64) {
	t.Helper()
	_, err := s.db.Exec(
		`INSERT INTO tenders (id, registry_type, kind, user_id) VALUES (?, ?, ?, ?)`,
		id, registry, kind, userID,
	)
	require.NoError(t, err)
}

func TestSQLiteStore_ListTenders(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	seedTender(t, s, 101, "44fz", "new", 1)
	seedTender(t, s, 102, "44fz", "won", 1)
	seedTender(t, s, 201, "223fz", "new", 2)

	tenders, err := s.ListTenders(ctx, TenderFilter{Registry: model.Registry44FZ})
	require.NoError(t, err)
	assert.Len(t, tenders, 2)

	tenders, err = s.ListTenders(ctx, TenderFilter{Kind: model.TenderKindWon})
	require.NoError(t, err)
	require.Len(t, tenders, 1)
	assert.Equal(t, int64(102), tenders[0].ID)

	tenders, err = s.ListTenders(ctx, TenderFilter{IDs: []int64{101, 201}})
	require.NoError(t, err)
	assert.Len(t, tenders, 2)

	tenders, err = s.ListTenders(ctx, TenderFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, tenders, 1)
}

func TestSQLiteStore_ListTendersUnprocessed(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	seedTender(t, s, 101, "44fz", "new", 0)
	seedTender(t, s, 102, "44fz", "new", 0)

	_, err := s.SaveResult(ctx, &model.ProcessingResult{TenderID: 101, Registry: model.Registry44FZ})
	require.NoError(t, err)

	tenders, err := s.ListTenders(ctx, TenderFilter{Unprocessed: true})
	require.NoError(t, err)
	require.Len(t, tenders, 1)
	assert.Equal(t, int64(102), tenders[0].ID)
}

func TestSQLiteStore_SaveResultIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	tender := model.TenderRef{ID: 12345, Registry: model.Registry44FZ}

	processed, err := s.IsProcessed(ctx, tender)
	require.NoError(t, err)
	assert.False(t, processed)

	first, err := s.SaveResult(ctx, &model.ProcessingResult{
		TenderID:       12345,
		Registry:       model.Registry44FZ,
		Tier:           model.TierGood,
		MatchCount:     2,
		FilesProcessed: 4,
		ProcessingTime: 30 * time.Second,
	})
	require.NoError(t, err)
	assert.Positive(t, first)

	// Re-running the tender overwrites the row, same key, same id.
	second, err := s.SaveResult(ctx, &model.ProcessingResult{
		TenderID:       12345,
		Registry:       model.Registry44FZ,
		Tier:           model.TierFull,
		MatchCount:     5,
		FilesProcessed: 4,
		ProcessingTime: 25 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	processed, err = s.IsProcessed(ctx, tender)
	require.NoError(t, err)
	assert.True(t, processed)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalResults)
	assert.Equal(t, 1, stats.Interesting)
	assert.Equal(t, 5, stats.TotalMatches)
}

func TestSQLiteStore_GetResults(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	id, err := s.SaveResult(ctx, &model.ProcessingResult{
		TenderID: 101,
		Registry: model.Registry44FZ,
		Tier:     model.TierGood,
	})
	require.NoError(t, err)

	// The other registry's tender with the same id stays invisible.
	_, err = s.SaveResult(ctx, &model.ProcessingResult{
		TenderID: 101,
		Registry: model.Registry223FZ,
		Tier:     model.TierNone,
	})
	require.NoError(t, err)

	results, err := s.GetResults(ctx, model.Registry44FZ, []int64{101, 202})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{101: id}, results)

	empty, err := s.GetResults(ctx, model.Registry44FZ, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSQLiteStore_SaveMatchDetails(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	id, err := s.SaveResult(ctx, &model.ProcessingResult{
		TenderID:   1,
		Registry:   model.Registry44FZ,
		Tier:       model.TierFull,
		MatchCount: 1,
	})
	require.NoError(t, err)

	matches := []model.MatchCandidate{{
		Product:     "Контейнер мусорный 240л",
		Score:       100,
		FileName:    "смета.xlsx",
		Sheet:       "Смета",
		CellAddress: "B7",
		Row:         7,
		MatchedText: "Контейнер мусорный 240л",
		RowContext:  &model.RowContext{Quantity: "12"},
	}}
	require.NoError(t, s.SaveMatchDetails(ctx, id, matches))

	// Saving again replaces rather than duplicates.
	require.NoError(t, s.SaveMatchDetails(ctx, id, matches))

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM match_details WHERE result_id = ?`, id).Scan(&count))
	assert.Equal(t, 1, count)

	var quantity string
	require.NoError(t, s.db.QueryRow(`SELECT quantity FROM match_details WHERE result_id = ?`, id).Scan(&quantity))
	assert.Equal(t, "12", quantity)
}

func TestSQLiteStore_Documents(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	docs := []model.DocumentMeta{
		{TenderID: 101, FileName: "смета.xlsx", URL: "https://zakupki.gov.ru/files/1", SizeBytes: 2048},
		{TenderID: 101, FileName: "тз.docx", URL: "https://zakupki.gov.ru/files/2", SizeBytes: 1024},
	}
	n, err := s.ImportDocuments(ctx, model.Registry44FZ, docs)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Re-import with an updated size upserts.
	docs[0].SizeBytes = 4096
	_, err = s.ImportDocuments(ctx, model.Registry44FZ, docs[:1])
	require.NoError(t, err)

	got, err := s.GetDocuments(ctx, model.TenderRef{ID: 101, Registry: model.Registry44FZ})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(4096), got[0].SizeBytes)
}

func TestSQLiteStore_Catalog(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	for _, name := range []string{"Контейнер мусорный 240л", "Бак накопительный 1000л"} {
		_, err := s.db.Exec(`INSERT INTO products (name) VALUES (?)`, name)
		require.NoError(t, err)
	}

	catalog, err := s.GetCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Контейнер мусорный 240л", "Бак накопительный 1000л"}, catalog)
}

func TestSQLiteStore_AverageProcessingTime(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	avg, err := s.AverageProcessingTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), avg)

	_, err = s.SaveResult(ctx, &model.ProcessingResult{TenderID: 1, Registry: model.Registry44FZ, ProcessingTime: 20 * time.Second})
	require.NoError(t, err)
	_, err = s.SaveResult(ctx, &model.ProcessingResult{TenderID: 2, Registry: model.Registry44FZ, ProcessingTime: 40 * time.Second})
	require.NoError(t, err)
	// Errored results are excluded from the average.
	_, err = s.SaveResult(ctx, &model.ProcessingResult{TenderID: 3, Registry: model.Registry44FZ, ProcessingTime: time.Hour, ErrorReason: "processing_error: boom"})
	require.NoError(t, err)

	avg, err = s.AverageProcessingTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, avg)
}
