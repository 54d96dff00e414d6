package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/config"
)

var cfg *config.Config

// Persistent overrides applied after config.Load.
var (
	logLevel    string
	storeDriver string
)

var rootCmd = &cobra.Command{
	Use:          "strategy-cli",
	Short:        "AI-assisted strategic analysis workflow",
	Long:         "Takes a customer intake through enrichment review, framework analysis and approval, then renders and delivers the report.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		applyOverrides(cmd, c)
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		zap.L().Debug("config loaded",
			zap.String("command", cmd.Name()),
			zap.String("store", cfg.Store.Driver),
		)
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

// applyOverrides copies explicitly set persistent flags over the loaded config.
func applyOverrides(cmd *cobra.Command, c *config.Config) {
	if f := cmd.Flag("log-level"); f != nil && f.Changed {
		c.Log.Level = logLevel
	}
	if f := cmd.Flag("store"); f != nil && f.Changed {
		c.Store.Driver = storeDriver
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&storeDriver, "store", "sqlite", "store driver override (memory, sqlite, postgres)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
