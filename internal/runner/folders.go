package runner

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wanga1712/tendermatch/internal/model"
)

// Folders manages per-tender working directories under the download root.
// A tender's folder is named by model.TenderRef.FolderName, so a directory
// listing can be mapped back to tenders across runs.
type Folders struct {
	Base string
}

var folderNameRe = regexp.MustCompile(`^(44fz|223fz)_(\d+)(_won)?$`)

// Path returns the tender's working directory without creating it.
func (f Folders) Path(t model.TenderRef) string {
	return filepath.Join(f.Base, t.FolderName())
}

// Ensure creates the tender's working directory. A leftover folder from the
// tender's pre-won stage is renamed in place so earlier downloads survive
// the kind change.
func (f Folders) Ensure(t model.TenderRef) (string, error) {
	dir := f.Path(t)
	if t.Kind == model.TenderKindWon {
		old := filepath.Join(f.Base, model.TenderRef{ID: t.ID, Registry: t.Registry}.FolderName())
		if _, err := os.Stat(old); err == nil {
			if err := os.Rename(old, dir); err != nil {
				return "", eris.Wrapf(err, "runner: migrate folder %s", old)
			}
			zap.S().Infow("migrated tender folder", "from", filepath.Base(old), "to", filepath.Base(dir))
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "runner: create folder for %s", t.Key())
	}
	return dir, nil
}

// ForceRemove deletes a path even when extraction left read-only entries
// behind, retrying once after clearing permissions.
func (f Folders) ForceRemove(path string) error {
	err := os.RemoveAll(path)
	if err == nil {
		return nil
	}

	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err == nil {
			_ = os.Chmod(p, 0o755)
		}
		return nil
	})
	time.Sleep(50 * time.Millisecond)
	return eris.Wrapf(os.RemoveAll(path), "runner: force remove %s", path)
}

// Size sums the file bytes under a tender folder. Missing folders count as
// zero so unknown tenders sort first.
func (f Folders) Size(t model.TenderRef) int64 {
	var total int64
	_ = filepath.WalkDir(f.Path(t), func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// Sweep maps existing folders under the download root back to tender refs.
// These are leftovers from interrupted runs and get processed ahead of the
// fresh queue since their documents are already on disk.
func (f Folders) Sweep() ([]model.TenderRef, error) {
	entries, err := os.ReadDir(f.Base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "runner: sweep %s", f.Base)
	}

	var tenders []model.TenderRef
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := folderNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		id, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			continue
		}
		t := model.TenderRef{ID: id, Registry: model.RegistryType(m[1])}
		if m[3] != "" {
			t.Kind = model.TenderKindWon
		}
		tenders = append(tenders, t)
	}
	return tenders, nil
}
