package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"signal-engine/internal/model"
	redisstore "signal-engine/internal/store/redis"
)

var latestCmd = &cobra.Command{
	Use:   "latest <pair> <timeframe>",
	Short: "Print the latest published results of one stream from Redis",
	Long: `Latest reads ta:latest:<tf>m:<pair> (or the last --count stream entries) from
the Redis instance the engine publishes to.

Example:
  signalengine latest XBTEUR 15 --count 5`,
	Args: cobra.ExactArgs(2),
	RunE: runLatest,
}

var watchCmd = &cobra.Command{
	Use:   "watch [pattern...]",
	Short: "Follow live results published on Redis pub/sub",
	Long: `Watch subscribes to the result channels (default pub:ta:*) and prints one JSON
line per result until interrupted.

Example:
  signalengine watch 'pub:ta:*:XBTEUR'`,
	RunE: runWatch,
}

var latestCount int64

func init() {
	rootCmd.AddCommand(latestCmd, watchCmd)

	latestCmd.Flags().Int64VarP(&latestCount, "count", "n", 1, "number of most recent results to print")
}

func connectRedis(ctx context.Context) (*redisstore.Reader, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.RedisAddr == "" {
		return nil, nil, errors.New("REDIS_ADDR is not set")
	}
	rdb, err := redisstore.Connect(ctx, redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		return nil, nil, err
	}
	return redisstore.NewReader(rdb), func() { rdb.Close() }, nil
}

func runLatest(cmd *cobra.Command, args []string) error {
	pair := strings.ToUpper(args[0])
	tf, err := model.ParseTimeframe(args[1])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reader, closeFn, err := connectRedis(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	var results []model.AnalysisResult
	if latestCount <= 1 {
		res, err := reader.Latest(ctx, pair, tf)
		if err != nil {
			return fmt.Errorf("%s %s: %w", pair, tf, err)
		}
		results = append(results, res)
	} else {
		results, err = reader.Recent(ctx, pair, tf, latestCount)
		if err != nil {
			return err
		}
	}
	return printResults(cmd.OutOrStdout(), results...)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reader, closeFn, err := connectRedis(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	out := make(chan model.AnalysisResult, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- reader.Subscribe(ctx, out, args...)
	}()

	for {
		select {
		case res := <-out:
			if err := printResults(cmd.OutOrStdout(), res); err != nil {
				return err
			}
		case err := <-errCh:
			return err
		}
	}
}

func printResults(w io.Writer, results ...model.AnalysisResult) error {
	enc := json.NewEncoder(w)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
