package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/youthfin-elt/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "elt",
	Short: "Youth policy and deposit/saving product ELT pipeline",
	Long:  "Ingests the youth-policy and finlife feeds into raw pages, normalizes them into staging, versions them into core tables, and serves a read API.",
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
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
