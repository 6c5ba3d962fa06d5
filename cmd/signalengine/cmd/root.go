package cmd

import (
	"github.com/spf13/cobra"

	"signal-engine/config"
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:   "signalengine",
	Short: "Kraken OHLC poller and technical-analysis signal engine",
	Long: `signalengine polls Kraken public OHLC data for a set of pairs and timeframes,
maintains a rolling candle window per stream, and periodically scores SMA, EMA,
MACD and RSI signals together with a candlestick figure and trend.

Results are kept in memory and can be published to Redis and to a websocket feed.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv file(s) to load before reading the environment (default .env)")
}

func loadConfig() (*config.Config, error) {
	return config.Load(envFiles...)
}
