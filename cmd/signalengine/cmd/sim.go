package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"signal-engine/internal/krakensim"
	"signal-engine/internal/logger"
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Serve a simulated Kraken public API for the managed pairs",
	Long: `Sim serves /0/public/Time and /0/public/OHLC with deterministic candles for
every managed pair, so the engine can run without the real exchange:

  signalengine sim --addr :8090 &
  KRAKEN_BASE_URL=http://localhost:8090 signalengine run`,
	RunE: runSim,
}

var (
	simAddr      string
	simFailEvery int
)

func init() {
	rootCmd.AddCommand(simCmd)

	simCmd.Flags().StringVar(&simAddr, "addr", ":8090", "listen address")
	simCmd.Flags().IntVar(&simFailEvery, "fail-every", 0, "answer every Nth request with 503 (0 disables)")
}

func runSim(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pairs, err := cfg.Pairs()
	if err != nil {
		return err
	}
	log := logger.Init("krakensim", logger.ParseLevel(cfg.LogLevel))

	srv := &http.Server{
		Addr:              simAddr,
		Handler:           krakensim.New(krakensim.Config{Pairs: pairs, FailEvery: simFailEvery, Logger: log}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("simulator listening", "addr", simAddr, "pairs", len(pairs), "fail_every", simFailEvery)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
