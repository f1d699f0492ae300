package runner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wanga1712/tendermatch/internal/archive"
	"github.com/wanga1712/tendermatch/internal/model"
	"github.com/wanga1712/tendermatch/internal/parser"
	"github.com/wanga1712/tendermatch/internal/selector"
)

// Terminal acquisition outcomes, persisted as the tender's error reason.
var (
	ErrNoDocuments = eris.New("no_documents")
	ErrNoWorkbooks = eris.New("no_workbook_files")
)

// downloader is the slice of the fetch layer the acquirer needs.
type downloader interface {
	DownloadToFile(ctx context.Context, rawURL, path string) (int64, error)
}

// Acquirer materializes a tender's documents on disk: download, sniff,
// combine split volumes, extract recursively, and collect the parseable
// files into a workbook set.
type Acquirer struct {
	fetch           downloader
	folders         Folders
	maxRedownloads  int
	downloadWorkers int
	log             *zap.SugaredLogger
}

// NewAcquirer wires the download and folder layers together.
func NewAcquirer(fetch downloader, folders Folders, maxRedownloads, downloadWorkers int) *Acquirer {
	if downloadWorkers < 1 {
		downloadWorkers = 1
	}
	return &Acquirer{
		fetch:           fetch,
		folders:         folders,
		maxRedownloads:  maxRedownloads,
		downloadWorkers: downloadWorkers,
		log:             zap.S().With("component", "acquirer"),
	}
}

// Acquire brings the tender's documents to a matchable state and returns
// the workbook set plus total bytes downloaded. The origin is stamped on
// every fresh download record so the run log distinguishes prefetched
// files from on-demand ones. ErrNoDocuments and ErrNoWorkbooks are
// terminal outcomes, not failures.
func (a *Acquirer) Acquire(ctx context.Context, tender model.TenderRef, docs []model.DocumentMeta, origin model.DownloadOrigin) (*model.WorkbookSet, int64, error) {
	selected := selector.Select(docs)
	if len(selected) == 0 {
		return nil, 0, ErrNoDocuments
	}

	dir, err := a.folders.Ensure(tender)
	if err != nil {
		return nil, 0, err
	}

	records, totalBytes, err := a.download(ctx, selected, dir, origin)
	if err != nil {
		return nil, totalBytes, err
	}

	a.extract(ctx, tender, records, dir)

	set, err := a.collect(dir)
	if err != nil {
		return nil, totalBytes, err
	}
	return set, totalBytes, nil
}

// Revalidate re-verifies a prefetched workbook set before matching starts.
// Files that stopped parsing since prefetch are dropped; ok is false when
// nothing survives and the folder should be cleared and re-acquired.
func (a *Acquirer) Revalidate(set *model.WorkbookSet) (ok bool) {
	var alive []model.WorkbookFile
	for _, f := range set.Files {
		if err := parser.Verify(f.Path); err != nil {
			a.log.Warnw("prefetched file failed verification", "file", filepath.Base(f.Path), "error", err)
			continue
		}
		alive = append(alive, f)
	}
	set.Files = alive
	return len(alive) > 0
}

// download fetches the selected documents over a bounded worker pool.
// Per-file failures are logged and skipped; record order follows the
// selection order regardless of which download finishes first.
func (a *Acquirer) download(ctx context.Context, selected []selector.Document, dir string, origin model.DownloadOrigin) ([]model.DownloadRecord, int64, error) {
	fetched := make([]*model.DownloadRecord, len(selected))
	sizes := make([]int64, len(selected))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.downloadWorkers)
	for i, sel := range selected {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return eris.Wrap(err, "runner: download canceled")
			}
			path := filepath.Join(dir, sel.Meta.FileName)

			if info, err := os.Stat(path); err == nil && info.Size() > 0 {
				fetched[i] = &model.DownloadRecord{Doc: sel.Meta, Path: path, Origin: model.OriginExisting}
				return nil
			}

			n, err := a.fetch.DownloadToFile(gctx, sel.Meta.URL, path)
			if err != nil {
				a.log.Warnw("download failed", "file", sel.Meta.FileName, "url", sel.Meta.URL, "error", err)
				return nil
			}
			sizes[i] = n
			fetched[i] = &model.DownloadRecord{Doc: sel.Meta, Path: path, Origin: origin}
			return nil
		})
	}

	waitErr := g.Wait()

	var records []model.DownloadRecord
	var totalBytes int64
	for i, rec := range fetched {
		totalBytes += sizes[i]
		if rec != nil {
			records = append(records, *rec)
		}
	}
	if waitErr != nil {
		return nil, totalBytes, waitErr
	}

	if len(records) == 0 {
		return nil, totalBytes, ErrNoDocuments
	}
	return records, totalBytes, nil
}

// extract expands every archive among the downloads, combining split
// volumes first. Extraction failures are contained per archive.
func (a *Acquirer) extract(ctx context.Context, tender model.TenderRef, records []model.DownloadRecord, dir string) {
	paths := make([]string, 0, len(records))
	for _, rec := range records {
		paths = append(paths, rec.Path)
	}

	groups := archive.GroupParts(paths)
	done := make(map[string]bool)

	for i := range records {
		rec := &records[i]
		if done[rec.Path] {
			continue
		}

		target := rec.Path
		if info, ok := archive.ParseName(rec.Path); ok {
			key := groupKey(info)
			if parts := groups[key]; len(parts) > 1 {
				for _, p := range parts {
					done[p] = true
				}
				combined, err := archive.CombineMultiPart(parts)
				if err != nil {
					a.log.Warnw("multi-part combine failed", "tender", tender.Key(), "base", info.Base, "error", err)
					continue
				}
				target = combined
			}
		}
		done[rec.Path] = true

		isArc, err := archive.IsArchive(target)
		if err != nil || !isArc {
			continue
		}
		a.extractOne(ctx, tender, rec, target, dir)
	}
}

// extractOne extracts a single (possibly combined) archive, force-deleting
// and re-downloading it when the content is corrupted. Each re-download is
// stamped on the record so the run log shows how a file got to disk.
func (a *Acquirer) extractOne(ctx context.Context, tender model.TenderRef, rec *model.DownloadRecord, target, dir string) {
	for attempt := 0; ; attempt++ {
		_, err := archive.ExtractAll(target, dir)
		if err == nil {
			return
		}
		if !archive.IsCorrupted(err) {
			a.log.Warnw("extraction failed", "tender", tender.Key(), "archive", filepath.Base(target), "error", err)
			return
		}

		a.log.Warnw("corrupted archive", "tender", tender.Key(), "archive", filepath.Base(target), "attempt", attempt+1)
		if err := a.folders.ForceRemove(target); err != nil {
			a.log.Errorw("could not remove corrupted archive", "archive", target, "error", err)
			return
		}
		if attempt >= a.maxRedownloads || rec.Doc.URL == "" || target != rec.Path {
			a.log.Warnw("abandoning archive", "tender", tender.Key(), "archive", filepath.Base(target))
			return
		}
		if _, err := a.fetch.DownloadToFile(ctx, rec.Doc.URL, rec.Path); err != nil {
			a.log.Warnw("re-download failed", "archive", filepath.Base(rec.Path), "error", err)
			return
		}
		rec.Origin = model.OriginRedownload
		rec.Retries++
	}
}

// collect walks the tender folder and gathers every parseable file,
// deduplicated by resolved path. Files that fail the corruption pre-check
// are skipped.
func (a *Acquirer) collect(dir string) (*model.WorkbookSet, error) {
	set := &model.WorkbookSet{TenderDir: dir}

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !parser.CanParse(p) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if err := parser.Verify(p); err != nil {
			a.log.Warnw("skipping unreadable file", "file", filepath.Base(p), "error", err)
			return nil
		}
		set.Add(model.WorkbookFile{Path: p, SizeBytes: info.Size()})
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "runner: walk %s", dir)
	}
	if set.Dropped > 0 {
		a.log.Infow("duplicate files dropped", "dir", dir, "dropped", set.Dropped)
	}

	if len(set.Files) == 0 {
		return nil, ErrNoWorkbooks
	}
	return set, nil
}

// groupKey matches the bucketing of archive.GroupParts.
func groupKey(info archive.PartInfo) string {
	return strings.ToLower(info.Base) + "." + info.Ext
}
