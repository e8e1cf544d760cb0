package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/titan-sync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "titan-sync",
	Short: "ServiceTitan customer sync",
	Long:  "Collects customers and their related records from the ServiceTitan API, flattens them into one row per customer, exports CSV/XLSX and upserts into the downstream table.",
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
