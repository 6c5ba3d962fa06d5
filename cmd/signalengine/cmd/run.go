package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"signal-engine/internal/logger"
	"signal-engine/internal/metrics"
	"signal-engine/internal/service"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the polling workers and the analysis monitor",
	Long: `Run starts one polling worker per (pair, timeframe), the periodic analysis
monitor and every configured publisher, then blocks until SIGINT or SIGTERM.

Configuration is read from the environment (see .env.example), e.g.:
  KRAKEN_TIER_LEVEL=3 TIMEFRAMES=5,15,60 REDIS_ADDR=localhost:6379 signalengine run`,
	RunE: runEngine,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.Init("signalengine", logger.ParseLevel(cfg.LogLevel))

	svc, err := service.New(cfg, log, metrics.NewMetrics(nil))
	if err != nil {
		log.Error("init failed", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		log.Error("fatal", "error", err)
		return err
	}
	return nil
}
