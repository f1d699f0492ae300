package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wanga1712/tendermatch/internal/config"
	"github.com/wanga1712/tendermatch/internal/fetcher"
	"github.com/wanga1712/tendermatch/internal/model"
)

var (
	importFile      string
	importRegistry  string
	importDelimiter string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import tender document metadata from a registry export",
	Long: "Loads a CSV export of tender attachments (tender_id, file_name, url, size_bytes) " +
		"into the store so the process command can pick the tenders up. Re-importing the " +
		"same export updates rows in place.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := config.Validate(cfg, "migrate"); err != nil {
			return err
		}

		registry, err := model.ParseRegistryType(importRegistry)
		if err != nil {
			return err
		}

		f, err := os.Open(importFile)
		if err != nil {
			return eris.Wrap(err, "open export")
		}
		defer f.Close()

		opts := fetcher.ManifestOptions{}
		if importDelimiter != "" {
			opts.Delimiter = rune(importDelimiter[0])
		}
		docs, err := fetcher.ReadManifest(f, opts)
		if err != nil {
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

		n, err := st.ImportDocuments(ctx, registry, docs)
		if err != nil {
			return eris.Wrap(err, "import documents")
		}

		zap.S().Infow("documents imported", "registry", registry, "rows", n, "file", importFile)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "path to the registry CSV export (required)")
	importCmd.Flags().StringVar(&importRegistry, "registry", "", "registry the export came from: 44fz or 223fz (required)")
	importCmd.Flags().StringVar(&importDelimiter, "delimiter", "", "CSV delimiter override, e.g. ';'")
	_ = importCmd.MarkFlagRequired("file")
	_ = importCmd.MarkFlagRequired("registry")
	rootCmd.AddCommand(importCmd)
}
