package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wanga1712/tendermatch/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "tendermatch",
	Short: "Procurement tender document matcher",
	Long:  "Downloads tender documentation from the 44-FZ and 223-FZ registries, extracts archives, scans spreadsheets and documents for catalog products, and persists scored results.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
