package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wanga1712/tendermatch/internal/model"
)

func TestFoldersEnsure(t *testing.T) {
	f := Folders{Base: t.TempDir()}
	tender := model.TenderRef{ID: 12345, Registry: model.Registry44FZ}

	dir, err := f.Ensure(tender)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.Base, "44fz_12345"), dir)
	assert.DirExists(t, dir)
}

func TestFoldersEnsureMigratesWonFolder(t *testing.T) {
	f := Folders{Base: t.TempDir()}
	tender := model.TenderRef{ID: 12345, Registry: model.Registry44FZ}

	// A previous run downloaded documents before the tender was won.
	oldDir, err := f.Ensure(tender)
	require.NoError(t, err)
	marker := filepath.Join(oldDir, "смета.xlsx")
	require.NoError(t, os.WriteFile(marker, []byte("data"), 0o644))

	tender.Kind = model.TenderKindWon
	newDir, err := f.Ensure(tender)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.Base, "44fz_12345_won"), newDir)
	assert.NoDirExists(t, oldDir)
	assert.FileExists(t, filepath.Join(newDir, "смета.xlsx"))
}

func TestFoldersSweep(t *testing.T) {
	f := Folders{Base: t.TempDir()}
	for _, name := range []string{"44fz_101", "223fz_202_won", "not_a_tender", "44fz_bad"} {
		require.NoError(t, os.Mkdir(filepath.Join(f.Base, name), 0o755))
	}
	// Plain files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(f.Base, "44fz_303"), nil, 0o644))

	tenders, err := f.Sweep()
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.TenderRef{
		{ID: 101, Registry: model.Registry44FZ},
		{ID: 202, Registry: model.Registry223FZ, Kind: model.TenderKindWon},
	}, tenders)
}

func TestFoldersSweepMissingBase(t *testing.T) {
	f := Folders{Base: filepath.Join(t.TempDir(), "absent")}
	tenders, err := f.Sweep()
	require.NoError(t, err)
	assert.Empty(t, tenders)
}

func TestFoldersForceRemoveReadOnly(t *testing.T) {
	f := Folders{Base: t.TempDir()}
	dir := filepath.Join(f.Base, "44fz_1")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "extract_архив"), 0o755))
	file := filepath.Join(dir, "extract_архив", "смета.xlsx")
	require.NoError(t, os.WriteFile(file, []byte("data"), 0o644))
	require.NoError(t, os.Chmod(filepath.Join(dir, "extract_архив"), 0o555))
	t.Cleanup(func() { _ = os.Chmod(filepath.Join(dir, "extract_архив"), 0o755) })

	require.NoError(t, f.ForceRemove(dir))
	assert.NoDirExists(t, dir)
}

func TestFoldersSize(t *testing.T) {
	f := Folders{Base: t.TempDir()}
	tender := model.TenderRef{ID: 7, Registry: model.Registry44FZ}

	assert.Zero(t, f.Size(tender))

	dir, err := f.Ensure(tender)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), make([]byte, 100), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.bin"), make([]byte, 50), 0o644))

	assert.Equal(t, int64(150), f.Size(tender))
}
