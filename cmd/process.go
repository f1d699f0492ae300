package main

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wanga1712/tendermatch/internal/config"
	"github.com/wanga1712/tendermatch/internal/fetcher"
	"github.com/wanga1712/tendermatch/internal/model"
	"github.com/wanga1712/tendermatch/internal/resilience"
	"github.com/wanga1712/tendermatch/internal/runner"
	"github.com/wanga1712/tendermatch/internal/store"
)

var (
	processTenders    string
	processUserID     int64
	processRegistry   string
	processTenderType string
	processWorkers    int
	processLimit      int
	processAllAfter   bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Download, scan and score tender documentation",
	Long: "Processes the given tenders (or unprocessed tenders from the store) end to end: " +
		"downloads their documents, extracts archives, scans every workbook for catalog products " +
		"and persists one scored result per tender. Per-tender failures are recorded in the result " +
		"rows and do not fail the run.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if processWorkers > 0 {
			cfg.Batch.Workers = processWorkers
		}
		if err := config.Validate(cfg, "process"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		tenders, err := resolveTenders(cmd, st)
		if err != nil {
			return err
		}

		r := runner.New(st, newDispatcher(), *cfg)
		summary, err := r.Run(ctx, tenders, processUserID)
		if err != nil {
			return eris.Wrap(err, "run")
		}

		if failed := r.Failures().Entries(); len(failed) > 0 {
			zap.S().Warnw("run finished with failures", "count", len(failed))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

// resolveTenders builds the processing queue: the explicit --tenders list
// first, then (with --all-after-priority, or when no list is given) the
// store's unprocessed tenders.
func resolveTenders(cmd *cobra.Command, st store.Store) ([]model.TenderRef, error) {
	kind := model.TenderKind(processTenderType)

	var queue []model.TenderRef
	if processTenders != "" {
		explicit, err := parseTenderSpec(processTenders, kind)
		if err != nil {
			return nil, err
		}
		if !processAllAfter {
			return explicit, nil
		}
		queue = explicit
	}

	var registry model.RegistryType
	if processRegistry != "" {
		var err error
		if registry, err = model.ParseRegistryType(processRegistry); err != nil {
			return nil, err
		}
	}

	filter := store.TenderFilter{
		Registry:    registry,
		Kind:        kind,
		UserID:      processUserID,
		Unprocessed: true,
		Limit:       processLimit,
	}
	tenders, err := st.ListTenders(cmd.Context(), filter)
	if err != nil {
		return nil, eris.Wrap(err, "list tenders")
	}

	seen := make(map[string]bool, len(queue))
	for _, t := range queue {
		seen[t.Key()] = true
	}
	for _, t := range tenders {
		if !seen[t.Key()] {
			queue = append(queue, t)
		}
	}
	return queue, nil
}

// parseTenderSpec parses explicit tender lists of the form
// "44fz:123,456 223fz:789" into tender references.
func parseTenderSpec(spec string, kind model.TenderKind) ([]model.TenderRef, error) {
	var out []model.TenderRef
	for _, group := range strings.Fields(spec) {
		registry, ids, ok := strings.Cut(group, ":")
		if !ok {
			return nil, eris.Errorf("malformed tender group %q, want registry:id[,id...]", group)
		}
		reg, err := model.ParseRegistryType(registry)
		if err != nil {
			return nil, err
		}
		for _, raw := range strings.Split(ids, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
			if err != nil {
				return nil, eris.Wrapf(err, "bad tender id %q", raw)
			}
			out = append(out, model.TenderRef{ID: id, Registry: reg, Kind: kind})
		}
	}
	if len(out) == 0 {
		return nil, eris.New("no tenders in --tenders")
	}
	return out, nil
}

// newDispatcher wires the scheme-routing downloader from config.
func newDispatcher() *fetcher.Dispatcher {
	return &fetcher.Dispatcher{
		HTTP: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			Timeout:    time.Duration(cfg.Download.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Download.Retries,
			RatePerSec: cfg.Download.RatePerSec,
			Breakers: resilience.NewHostBreakers(
				resilience.FromCircuitConfig(cfg.Download.BreakerFailures, cfg.Download.BreakerResetSecs),
			),
		}),
		FTP: fetcher.NewFTPFetcher(fetcher.FTPOptions{
			User:     cfg.Download.FTPUser,
			Password: cfg.Download.FTPPassword,
			Timeout:  time.Duration(cfg.Download.FTPTimeoutSecs) * time.Second,
			Retry:    resilience.FromRetryConfig(cfg.Download.Retries, 0, 0, 0, -1),
		}),
	}
}

func init() {
	processCmd.Flags().StringVar(&processTenders, "tenders", "", `explicit tender list, e.g. "44fz:123,456 223fz:789"`)
	processCmd.Flags().Int64Var(&processUserID, "user-id", 0, "user whose catalog and results this run belongs to")
	processCmd.Flags().StringVar(&processRegistry, "registry-type", "", "restrict store listing to one registry (44fz or 223fz)")
	processCmd.Flags().StringVar(&processTenderType, "tender-type", "new", "tender kind: new, won or commission")
	processCmd.Flags().BoolVar(&processAllAfter, "all-after-priority", false, "after the --tenders list, continue with all unprocessed tenders from the store")
	processCmd.Flags().IntVar(&processWorkers, "workers", 0, "override batch.workers from config")
	processCmd.Flags().IntVar(&processLimit, "limit", 0, "cap on tenders pulled from the store (0 = no cap)")
	rootCmd.AddCommand(processCmd)
}
