package runner

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/wanga1712/tendermatch/internal/model"
)

// fakeFetcher serves canned payloads per URL, in order, and records calls
// along with the peak number of concurrent downloads.
type fakeFetcher struct {
	mu          sync.Mutex
	payloads    map[string][][]byte
	calls       []string
	inFlight    int
	maxInFlight int
}

func (f *fakeFetcher) DownloadToFile(_ context.Context, rawURL, path string) (int64, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	var payload []byte
	if queue := f.payloads[rawURL]; len(queue) > 0 {
		payload = queue[0]
		if len(queue) > 1 {
			f.payloads[rawURL] = queue[1:]
		}
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if payload == nil {
		return 0, os.ErrNotExist
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return 0, err
	}
	return int64(len(payload)), nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) peakConcurrency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func xlsxPayload(t *testing.T, lines ...string) []byte {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Смета")
	require.NoError(t, err)
	for _, line := range lines {
		sheet.AddRow().AddCell().SetString(line)
	}
	path := filepath.Join(t.TempDir(), "payload.xlsx")
	require.NoError(t, f.Save(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func zipPayload(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func testTender() model.TenderRef {
	return model.TenderRef{ID: 12345, Registry: model.Registry44FZ}
}

func TestAcquireNoDocuments(t *testing.T) {
	a := NewAcquirer(&fakeFetcher{}, Folders{Base: t.TempDir()}, 1, 1)

	_, _, err := a.Acquire(context.Background(), testTender(), nil, model.OriginFreshDownload)
	assert.ErrorIs(t, err, ErrNoDocuments)

	// Unusable extensions count as no documents too.
	_, _, err = a.Acquire(context.Background(), testTender(), []model.DocumentMeta{
		{FileName: "подпись.sig", URL: "https://zakupki.gov.ru/files/1"},
	}, model.OriginFreshDownload)
	assert.ErrorIs(t, err, ErrNoDocuments)
}

func TestAcquirePlainWorkbook(t *testing.T) {
	payload := xlsxPayload(t, "Контейнер мусорный 240л")
	fetch := &fakeFetcher{payloads: map[string][][]byte{
		"https://zakupki.gov.ru/files/1": {payload},
	}}
	a := NewAcquirer(fetch, Folders{Base: t.TempDir()}, 1, 1)

	set, bytesDown, err := a.Acquire(context.Background(), testTender(), []model.DocumentMeta{
		{TenderID: 12345, FileName: "смета.xlsx", URL: "https://zakupki.gov.ru/files/1", SizeBytes: int64(len(payload))},
	}, model.OriginFreshDownload)
	require.NoError(t, err)
	require.Len(t, set.Files, 1)
	assert.Equal(t, "смета.xlsx", filepath.Base(set.Files[0].Path))
	assert.Equal(t, int64(len(payload)), bytesDown)
}

func TestAcquireExtractsArchive(t *testing.T) {
	inner := xlsxPayload(t, "Контейнер мусорный 240л")
	archivePayload := zipPayload(t, map[string][]byte{"вложение/смета.xlsx": inner})
	fetch := &fakeFetcher{payloads: map[string][][]byte{
		"https://zakupki.gov.ru/files/1": {archivePayload},
	}}
	a := NewAcquirer(fetch, Folders{Base: t.TempDir()}, 1, 1)

	set, _, err := a.Acquire(context.Background(), testTender(), []model.DocumentMeta{
		{TenderID: 12345, FileName: "документация.zip", URL: "https://zakupki.gov.ru/files/1"},
	}, model.OriginFreshDownload)
	require.NoError(t, err)
	require.Len(t, set.Files, 1)
	assert.Equal(t, "смета.xlsx", filepath.Base(set.Files[0].Path))
}

func TestAcquireRedownloadsCorruptedArchive(t *testing.T) {
	good := zipPayload(t, map[string][]byte{"смета.xlsx": xlsxPayload(t, "Контейнер мусорный 240л")})
	corrupted := append([]byte("PK\x03\x04"), []byte("truncated")...)
	fetch := &fakeFetcher{payloads: map[string][][]byte{
		"https://zakupki.gov.ru/files/1": {corrupted, good},
	}}
	a := NewAcquirer(fetch, Folders{Base: t.TempDir()}, 1, 1)

	set, _, err := a.Acquire(context.Background(), testTender(), []model.DocumentMeta{
		{TenderID: 12345, FileName: "документация.zip", URL: "https://zakupki.gov.ru/files/1"},
	}, model.OriginFreshDownload)
	require.NoError(t, err)
	assert.Equal(t, 2, fetch.callCount())
	require.Len(t, set.Files, 1)
}

func TestAcquireBoundsDownloadWorkers(t *testing.T) {
	payloads := make(map[string][][]byte)
	docs := make([]model.DocumentMeta, 0, 4)
	for i, name := range []string{"смета_1.xlsx", "смета_2.xlsx", "смета_3.xlsx", "смета_4.xlsx"} {
		url := "https://zakupki.gov.ru/files/" + name
		payloads[url] = [][]byte{xlsxPayload(t, "Контейнер мусорный 240л", name)}
		docs = append(docs, model.DocumentMeta{TenderID: 12345, FileName: name, URL: url, SizeBytes: int64(i + 1)})
	}
	fetch := &fakeFetcher{payloads: payloads}
	a := NewAcquirer(fetch, Folders{Base: t.TempDir()}, 1, 2)

	set, _, err := a.Acquire(context.Background(), testTender(), docs, model.OriginFreshDownload)
	require.NoError(t, err)
	assert.Equal(t, 4, fetch.callCount())
	assert.LessOrEqual(t, fetch.peakConcurrency(), 2)
	require.Len(t, set.Files, 4)
}

func TestExtractStampsRedownloadedArchive(t *testing.T) {
	folders := Folders{Base: t.TempDir()}
	tender := testTender()
	dir, err := folders.Ensure(tender)
	require.NoError(t, err)

	good := zipPayload(t, map[string][]byte{"смета.xlsx": xlsxPayload(t, "Контейнер мусорный 240л")})
	fetch := &fakeFetcher{payloads: map[string][][]byte{
		"https://zakupki.gov.ru/files/1": {good},
	}}
	a := NewAcquirer(fetch, folders, 2, 1)

	path := filepath.Join(dir, "документация.zip")
	require.NoError(t, os.WriteFile(path, append([]byte("PK\x03\x04"), []byte("truncated")...), 0o644))

	rec := model.DownloadRecord{
		Doc:    model.DocumentMeta{TenderID: 12345, FileName: "документация.zip", URL: "https://zakupki.gov.ru/files/1"},
		Path:   path,
		Origin: model.OriginExisting,
	}
	a.extractOne(context.Background(), tender, &rec, path, dir)

	assert.Equal(t, model.OriginRedownload, rec.Origin)
	assert.Equal(t, 1, rec.Retries)
	assert.FileExists(t, filepath.Join(dir, "смета.xlsx"))
}

func TestAcquireNoWorkbooks(t *testing.T) {
	fetch := &fakeFetcher{payloads: map[string][][]byte{
		"https://zakupki.gov.ru/files/1": {[]byte("definitely not a workbook")},
	}}
	a := NewAcquirer(fetch, Folders{Base: t.TempDir()}, 1, 1)

	_, _, err := a.Acquire(context.Background(), testTender(), []model.DocumentMeta{
		{TenderID: 12345, FileName: "смета.xlsx", URL: "https://zakupki.gov.ru/files/1"},
	}, model.OriginFreshDownload)
	assert.ErrorIs(t, err, ErrNoWorkbooks)
}

func TestAcquireSkipsExistingFile(t *testing.T) {
	folders := Folders{Base: t.TempDir()}
	tender := testTender()
	dir, err := folders.Ensure(tender)
	require.NoError(t, err)

	payload := xlsxPayload(t, "Контейнер мусорный 240л")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "смета.xlsx"), payload, 0o644))

	fetch := &fakeFetcher{}
	a := NewAcquirer(fetch, folders, 1, 1)

	set, bytesDown, err := a.Acquire(context.Background(), tender, []model.DocumentMeta{
		{TenderID: 12345, FileName: "смета.xlsx", URL: "https://zakupki.gov.ru/files/1"},
	}, model.OriginFreshDownload)
	require.NoError(t, err)
	assert.Zero(t, fetch.callCount())
	assert.Zero(t, bytesDown)
	require.Len(t, set.Files, 1)
}

func TestRevalidateDropsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "смета.xlsx")
	require.NoError(t, os.WriteFile(good, xlsxPayload(t, "наименование"), 0o644))
	broken := filepath.Join(dir, "битый.xlsx")
	require.NoError(t, os.WriteFile(broken, []byte("rot"), 0o644))

	a := NewAcquirer(&fakeFetcher{}, Folders{Base: dir}, 1, 1)
	set := &model.WorkbookSet{TenderDir: dir}
	set.Add(model.WorkbookFile{Path: good, SizeBytes: 1})
	set.Add(model.WorkbookFile{Path: broken, SizeBytes: 2})

	assert.True(t, a.Revalidate(set))
	require.Len(t, set.Files, 1)
	assert.Equal(t, good, set.Files[0].Path)

	set.Files = []model.WorkbookFile{{Path: broken, SizeBytes: 2}}
	assert.False(t, a.Revalidate(set))
}
