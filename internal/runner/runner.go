// Package runner drives the whole pipeline: it sequences tenders smallest
// first, prefetches the next tender's documents while the current one is
// being matched, fans file matching out over a bounded worker pool, and
// persists one idempotent result per tender.
package runner

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wanga1712/tendermatch/internal/config"
	"github.com/wanga1712/tendermatch/internal/match"
	"github.com/wanga1712/tendermatch/internal/model"
	"github.com/wanga1712/tendermatch/internal/parser"
	"github.com/wanga1712/tendermatch/internal/resilience"
	"github.com/wanga1712/tendermatch/internal/store"
)

// maxErrorReasonLen bounds the persisted error text.
const maxErrorReasonLen = 200

// Summary is the final accounting of one run.
type Summary struct {
	RunID              string        `json:"run_id"`
	ExistingProcessed  int           `json:"existing_processed"`
	NewTenders         int           `json:"new_tenders"`
	Succeeded          int           `json:"succeeded"`
	SkippedProcessed   int           `json:"skipped_already_processed"`
	SkippedNoDocuments int           `json:"skipped_no_documents"`
	Errored            int           `json:"errored"`
	TotalMatches       int           `json:"total_matches"`
	Elapsed            time.Duration `json:"elapsed"`
}

// Runner orchestrates tender processing end to end.
type Runner struct {
	store    store.Store
	acquirer *Acquirer
	folders  Folders
	cfg      config.Config
	failures *resilience.FailureLog
	log      *zap.SugaredLogger
}

// New assembles a Runner from its collaborators.
func New(st store.Store, fetch downloader, cfg config.Config) *Runner {
	folders := Folders{Base: cfg.Download.Dir}
	return &Runner{
		store:    st,
		acquirer: NewAcquirer(fetch, folders, cfg.Download.MaxRedownloads, cfg.Download.Workers),
		folders:  folders,
		cfg:      cfg,
		failures: &resilience.FailureLog{},
		log:      zap.S().With("component", "runner"),
	}
}

// Failures exposes the per-run failure log.
func (r *Runner) Failures() *resilience.FailureLog {
	return r.failures
}

// prefetched is the output of the acquisition stage for one tender.
type prefetched struct {
	tender model.TenderRef
	docs   []model.DocumentMeta
	set    *model.WorkbookSet
	bytes  int64
	err    error
}

// Run processes the given tenders plus any leftover folders found on disk,
// and returns the run summary. Per-tender failures are recorded, not
// propagated; only a broken pipeline setup returns an error.
func (r *Runner) Run(ctx context.Context, tenders []model.TenderRef, userID int64) (*Summary, error) {
	started := time.Now()
	summary := &Summary{RunID: uuid.New().String()}
	log := r.log.With("run_id", summary.RunID)

	catalog, err := r.store.GetCatalog(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "runner: load catalog")
	}
	engine := match.NewEngine(r.cfg.Match, catalog)
	log.Infow("catalog loaded", "products", engine.Patterns())

	// Leftover folders from interrupted runs run first, then the queue.
	existing, err := r.folders.Sweep()
	if err != nil {
		log.Warnw("folder sweep failed", "error", err)
	}
	summary.ExistingProcessed = len(existing)
	queue := append(existing, dropSwept(tenders, existing)...)
	summary.NewTenders = len(queue) - len(existing)

	if avg, err := r.store.AverageProcessingTime(ctx); err == nil && avg > 0 {
		log.Infow("run estimate", "tenders", len(queue), "estimated", time.Duration(len(queue))*avg)
	}

	docsByTender := make(map[string][]model.DocumentMeta, len(queue))
	for _, t := range queue {
		docs, err := r.store.GetDocuments(ctx, t)
		if err != nil {
			log.Warnw("document listing failed", "tender", t.Key(), "error", err)
		}
		docsByTender[t.Key()] = docs
	}
	sortBySizeAscending(queue, func(t model.TenderRef) int64 {
		if size := r.folders.Size(t); size > 0 {
			return size
		}
		var total int64
		for _, d := range docsByTender[t.Key()] {
			total += d.SizeBytes
		}
		return total
	})

	results := r.prefetch(ctx, queue, docsByTender, r.loadProcessed(ctx, queue, log))

	processed := 0
	for pre := range results {
		r.processOne(ctx, engine, pre, userID, summary)

		processed++
		if r.cfg.Batch.TenderBatchSize > 0 && processed%r.cfg.Batch.TenderBatchSize == 0 {
			cooldown(ctx, time.Duration(r.cfg.Batch.CooldownSecs)*time.Second)
		}
	}

	summary.Elapsed = time.Since(started)
	log.Infow("run complete",
		"existing", summary.ExistingProcessed,
		"new", summary.NewTenders,
		"succeeded", summary.Succeeded,
		"skipped_processed", summary.SkippedProcessed,
		"skipped_no_documents", summary.SkippedNoDocuments,
		"errored", summary.Errored,
		"total_matches", summary.TotalMatches,
		"elapsed", summary.Elapsed,
	)
	return summary, nil
}

// loadProcessed bulk-loads existing result rows for the whole queue, one
// query per registry, so the skip pre-check costs a fixed number of round
// trips. A failed lookup is logged and its tenders run again; the result
// upsert keeps a re-run harmless.
func (r *Runner) loadProcessed(ctx context.Context, queue []model.TenderRef, log *zap.SugaredLogger) map[string]bool {
	byRegistry := make(map[model.RegistryType][]int64)
	for _, t := range queue {
		byRegistry[t.Registry] = append(byRegistry[t.Registry], t.ID)
	}

	processed := make(map[string]bool)
	for registry, ids := range byRegistry {
		results, err := r.store.GetResults(ctx, registry, ids)
		if err != nil {
			log.Warnw("processed pre-check failed", "registry", registry, "tenders", len(ids), "error", err)
			continue
		}
		for id := range results {
			processed[model.TenderRef{ID: id, Registry: registry}.Key()] = true
		}
	}
	return processed
}

// prefetch acquires documents ahead of the matcher. The channel buffer is
// the prefetch depth: once it fills, acquisition blocks until the matcher
// catches up.
func (r *Runner) prefetch(ctx context.Context, queue []model.TenderRef, docs map[string][]model.DocumentMeta, processed map[string]bool) <-chan prefetched {
	out := make(chan prefetched, PrefetchDepth(r.cfg.Batch.Workers))

	go func() {
		defer close(out)
		for _, t := range queue {
			if ctx.Err() != nil {
				return
			}

			if processed[t.Key()] {
				select {
				case out <- prefetched{tender: t, err: errAlreadyProcessed}:
				case <-ctx.Done():
				}
				continue
			}

			set, bytes, err := r.acquirer.Acquire(ctx, t, docs[t.Key()], model.OriginPrefetch)
			select {
			case out <- prefetched{tender: t, docs: docs[t.Key()], set: set, bytes: bytes, err: err}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

var errAlreadyProcessed = eris.New("already processed")

// processOne takes one prefetched tender through matching and persistence.
func (r *Runner) processOne(ctx context.Context, engine *match.Engine, pre prefetched, userID int64, summary *Summary) {
	t := pre.tender
	log := r.log.With("tender", t.Key(), "kind", t.Kind)
	started := time.Now()

	switch {
	case pre.err == nil:
		// acquired, fall through to matching
	case eris.Is(pre.err, errAlreadyProcessed):
		log.Debugw("skipping processed tender")
		summary.SkippedProcessed++
		return
	case eris.Is(pre.err, ErrNoDocuments), eris.Is(pre.err, ErrNoWorkbooks):
		log.Infow("tender has nothing to match", "reason", pre.err.Error())
		if err := r.persist(ctx, &model.ProcessingResult{
			TenderID:    t.ID,
			Registry:    t.Registry,
			UserID:      userID,
			ErrorReason: eris.Cause(pre.err).Error(),
			TotalBytes:  pre.bytes,
		}, nil); err == nil {
			r.cleanup(t)
		}
		summary.SkippedNoDocuments++
		return
	default:
		log.Errorw("acquisition failed", "error", pre.err)
		r.failures.Record(t, string(model.TenderStateDownloading), pre.err)
		_ = r.persist(ctx, &model.ProcessingResult{
			TenderID:    t.ID,
			Registry:    t.Registry,
			UserID:      userID,
			ErrorReason: errorReason(pre.err),
			TotalBytes:  pre.bytes,
		}, nil)
		summary.Errored++
		return
	}

	// Prefetched data can rot between acquisition and matching.
	if !r.acquirer.Revalidate(pre.set) {
		if err := r.folders.ForceRemove(pre.set.TenderDir); err != nil {
			log.Warnw("could not clear stale folder", "error", err)
		}
		set, bytes, err := r.acquirer.Acquire(ctx, t, pre.docs, model.OriginFreshDownload)
		if err != nil {
			log.Errorw("re-acquisition failed", "error", err)
			r.failures.Record(t, string(model.TenderStateExtracting), err)
			summary.Errored++
			return
		}
		pre.set, pre.bytes = set, pre.bytes+bytes
	}

	set, filesProcessed, matchErr := r.matchFiles(ctx, engine, t, pre.set)

	result := &model.ProcessingResult{
		TenderID:       t.ID,
		Registry:       t.Registry,
		UserID:         userID,
		FilesProcessed: filesProcessed,
		TotalBytes:     pre.bytes,
		ProcessingTime: time.Since(started),
	}

	if matchErr != nil {
		log.Errorw("matching failed", "error", matchErr)
		r.failures.Record(t, string(model.TenderStateMatchingFiles), matchErr)
		result.ErrorReason = errorReason(matchErr)
		_ = r.persist(ctx, result, nil)
		// Files stay on disk so a later run can retry the tender.
		summary.Errored++
		return
	}

	candidates := set.Candidates()
	r.enrichRowContext(pre.set, candidates)
	result.MatchCount = len(candidates)
	result.Tier = model.TierFor(set.BestScore())
	result.Matches = candidates

	if err := r.persist(ctx, result, candidates); err != nil {
		// Files stay on disk so a later run can retry the tender.
		summary.Errored++
		return
	}
	r.cleanup(t)

	summary.Succeeded++
	summary.TotalMatches += len(candidates)
	log.Infow("tender done",
		"files", filesProcessed,
		"matches", len(candidates),
		"tier", result.Tier,
		"elapsed", result.ProcessingTime,
	)
}

// matchFiles runs the engine over the workbook set in bounded batches,
// smallest files first. A file that times out or fails is logged and
// skipped; only context cancellation aborts the tender.
func (r *Runner) matchFiles(ctx context.Context, engine *match.Engine, t model.TenderRef, set *model.WorkbookSet) (*match.ResultSet, int, error) {
	files := append([]model.WorkbookFile(nil), set.Files...)
	sortBySizeAscending(files, func(f model.WorkbookFile) int64 { return f.SizeBytes })

	results := match.NewResultSet()
	var mu sync.Mutex
	var processed int

	batchSize := FileBatchSize(r.cfg.Batch.Workers, len(files))
	fileTimeout := time.Duration(r.cfg.Batch.FileTimeoutSecs) * time.Second

	for start := 0; start < len(files); start += batchSize {
		if err := ctx.Err(); err != nil {
			return results, processed, eris.Wrap(err, "runner: matching canceled")
		}
		end := start + batchSize
		if end > len(files) {
			end = len(files)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Batch.Workers)
		for _, f := range files[start:end] {
			g.Go(func() error {
				fctx, cancel := context.WithTimeout(gctx, fileTimeout)
				defer cancel()

				fileStart := time.Now()
				fileSet, err := r.matchOneFile(fctx, engine, f)
				elapsed := time.Since(fileStart)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					r.log.Warnw("file skipped",
						"tender", t.Key(),
						"file", f.Path,
						"size", f.SizeBytes,
						"elapsed", elapsed,
						"error", err,
					)
					return nil
				}
				results.Merge(fileSet)
				processed++
				return nil
			})
		}
		_ = g.Wait()

		if end < len(files) {
			cooldown(ctx, time.Duration(r.cfg.Batch.FileCooldownSecs)*time.Second)
		}
	}
	return results, processed, nil
}

// matchOneFile runs one file under its timeout. The parsers are not
// context-aware, so the scan runs in a goroutine and a timeout abandons it.
func (r *Runner) matchOneFile(ctx context.Context, engine *match.Engine, f model.WorkbookFile) (*match.ResultSet, error) {
	type outcome struct {
		set *match.ResultSet
		err error
	}
	ch := make(chan outcome, 1)

	go func() {
		set, err := engine.MatchFile(f.Path, filepath.Base(f.Path))
		ch <- outcome{set: set, err: err}
	}()

	select {
	case o := <-ch:
		return o.set, o.err
	case <-ctx.Done():
		return nil, eris.Wrapf(ctx.Err(), "runner: file timed out: %s", filepath.Base(f.Path))
	}
}

// enrichRowContext fills quantity and cost columns for spreadsheet hits.
func (r *Runner) enrichRowContext(set *model.WorkbookSet, candidates []model.MatchCandidate) {
	pathByName := make(map[string]string, len(set.Files))
	for _, f := range set.Files {
		pathByName[filepath.Base(f.Path)] = f.Path
	}

	for i, c := range candidates {
		if c.IsAdditionalPhrase || c.Sheet == "" {
			continue
		}
		path, ok := pathByName[c.FileName]
		if !ok {
			continue
		}
		if vals, ok := parser.ExtractRowContext(path, c.Sheet, c.Row, c.Column); ok {
			candidates[i].RowContext = &model.RowContext{
				Quantity:  vals.Quantity,
				UnitCost:  vals.UnitCost,
				TotalCost: vals.TotalCost,
			}
		}
	}
}

// persist writes the result and its details, riding out transient store
// loss with a reconnect loop so a database blip does not drop an outcome.
func (r *Runner) persist(ctx context.Context, result *model.ProcessingResult, candidates []model.MatchCandidate) error {
	err := resilience.WithReconnect(ctx, resilience.ReconnectConfig{
		Delay:     time.Duration(r.cfg.Batch.ReconnectSecs) * time.Second,
		Reconnect: r.store.Ping,
	}, func(ctx context.Context) error {
		id, err := r.store.SaveResult(ctx, result)
		if err != nil {
			return err
		}
		result.ID = id
		if len(candidates) == 0 {
			return nil
		}
		return r.store.SaveMatchDetails(ctx, id, candidates)
	})
	if err != nil {
		r.log.Errorw("persist failed", "tender_id", result.TenderID, "registry", result.Registry, "error", err)
		r.failures.Record(
			model.TenderRef{ID: result.TenderID, Registry: result.Registry},
			string(model.TenderStatePersisting),
			err,
		)
	}
	return err
}

// cleanup removes the tender folder after a persisted outcome.
func (r *Runner) cleanup(t model.TenderRef) {
	if r.cfg.Download.KeepFilesOnFail {
		return
	}
	if err := r.folders.ForceRemove(r.folders.Path(t)); err != nil {
		r.log.Warnw("cleanup failed", "tender", t.Key(), "error", err)
	}
}

// errorReason renders an error as the persisted processing_error reason,
// truncated so a deep stack cannot bloat the row.
func errorReason(err error) string {
	msg := "processing_error: " + eris.Cause(err).Error()
	runes := []rune(msg)
	if len(runes) > maxErrorReasonLen {
		return string(runes[:maxErrorReasonLen])
	}
	return msg
}

// dropSwept removes tenders already covered by the folder sweep.
func dropSwept(tenders, swept []model.TenderRef) []model.TenderRef {
	if len(swept) == 0 {
		return tenders
	}
	seen := make(map[string]struct{}, len(swept))
	for _, t := range swept {
		seen[t.Key()] = struct{}{}
	}
	var rest []model.TenderRef
	for _, t := range tenders {
		if _, dup := seen[t.Key()]; !dup {
			rest = append(rest, t)
		}
	}
	return rest
}

func cooldown(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
