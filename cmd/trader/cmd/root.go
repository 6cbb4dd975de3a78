package cmd

import (
	"fmt"

	"github.com/rustyeddy/daytrader/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "trader",
	Short: "An intraday equity trading controller",
	Long: `Trader runs intraday strategies against an exchange session.

It provides tools for:
  - Running the trading engine in paper or live mode
  - Squaring off every position before the session cutoff
  - Enforcing per-trade and daily risk limits
  - Querying the trade journal and session history

Positions never carry overnight.`,
	SilenceUsage: true,
}

var (
	cfgFile string
	envFile string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); defaults are used when empty")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file holding broker credentials")
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid default config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadFromFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
