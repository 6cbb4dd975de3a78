package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rustyeddy/daytrader/config"
	"github.com/rustyeddy/daytrader/engine"
	"github.com/rustyeddy/daytrader/internal/logger"
	"github.com/rustyeddy/daytrader/metrics"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading engine",
	Long: `Run the trading engine until interrupted or a risk limit halts it.

The engine waits for the market session, runs every enabled strategy each
cycle and squares off all positions at the configured cutoff.

Examples:
  trader run -c daytrader.yaml
  trader run -c daytrader.yaml --mode LIVE`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runMode     string
	runLogLevel string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runMode, "mode", "", "override the configured trading mode (PAPER or LIVE)")
	runCmd.Flags().StringVar(&runLogLevel, "log-level", "", "override the configured log level")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runMode != "" {
		cfg.Mode = config.Mode(strings.ToUpper(runMode))
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if runLogLevel != "" {
		cfg.Log.Level = runLogLevel
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Env)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	creds, err := config.LoadCredentials(envFile)
	if err != nil {
		return err
	}
	if cfg.Mode == config.ModeLive && !creds.Complete() {
		return errors.New("live mode needs BROKER_API_KEY and BROKER_API_SECRET")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr, log); err != nil {
				log.Errorw("metrics server failed", "addr", cfg.Metrics.Addr, "err", err)
			}
		}()
	}

	e, err := engine.Build(cfg, creds, m, log)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer func() {
		if err := e.Close(); err != nil {
			log.Warnw("close journal", "err", err)
		}
	}()

	if err := e.Initialize(ctx); err != nil {
		return err
	}

	fmt.Printf("✓ Engine ready (mode %s)\n", cfg.Mode)
	if err := e.Run(ctx); err != nil {
		return fmt.Errorf("engine stopped: %w", err)
	}
	fmt.Println("✓ Engine stopped")
	return nil
}
