// Package config loads runtime settings from the environment, optionally seeded
// from a .env file, plus an optional YAML file listing the managed pairs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"signal-engine/internal/model"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Kraken
	KrakenTier    int
	KrakenBaseURL string
	KrakenTimeout time.Duration

	// Managed streams
	ManagedPairs string // crypto:currency[:resultKey], comma separated; empty uses model.DefaultPairs
	PairsFile    string
	Timeframes   string // comma-separated minutes, e.g. "15,5,1"

	// Polling and analysis
	APIDelay           time.Duration
	ServerTimeRefresh  time.Duration
	AnalysisInterval   time.Duration
	RetryBackoffMax    time.Duration
	ResultHistory      int
	MaxRawPoints       int
	MaxIndicatorPoints int

	// Infrastructure
	RedisAddr      string
	RedisPassword  string
	RedisStreamLen int64
	MetricsAddr    string
	FeedAddr       string
	LogLevel       string

	// Signal alerts
	AlertWebhookURL  string
	TelegramBotToken string
	TelegramChatID   string
	AlertLog         bool
	AlertMinAgree    int
}

// Load reads configuration from environment variables with sensible defaults.
// With no envFiles a .env in the working directory is loaded when present;
// named envFiles must exist. Variables already set in the process win.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		_ = godotenv.Load() // optional
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var errs []error
	c := &Config{
		KrakenTier:    envInt("KRAKEN_TIER_LEVEL", 2, &errs),
		KrakenBaseURL: getEnv("KRAKEN_BASE_URL", "https://api.kraken.com"),
		KrakenTimeout: envSeconds("KRAKEN_TIMEOUT_SEC", 10, &errs),

		ManagedPairs: getEnv("MANAGED_PAIRS", ""),
		PairsFile:    getEnv("PAIRS_FILE", ""),
		Timeframes:   getEnv("TIMEFRAMES", "15,5,1"),

		APIDelay:           envSeconds("API_DELAY_SEC", 5, &errs),
		ServerTimeRefresh:  envSeconds("SERVER_TIME_REFRESH_SEC", 60, &errs),
		AnalysisInterval:   envSeconds("ANALYSIS_INTERVAL_SEC", 10, &errs),
		RetryBackoffMax:    time.Duration(envInt("RETRY_BACKOFF_MAX_MS", 0, &errs)) * time.Millisecond,
		ResultHistory:      envInt("RESULT_HISTORY", 5, &errs),
		MaxRawPoints:       envInt("MAX_RAW_POINTS", 300, &errs),
		MaxIndicatorPoints: envInt("MAX_INDICATOR_POINTS", 200, &errs),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisStreamLen: int64(envInt("REDIS_STREAM_MAXLEN", 1000, &errs)),
		MetricsAddr:    lookupEnv("METRICS_ADDR", ":9090"),
		FeedAddr:       lookupEnv("FEED_ADDR", ":9096"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		AlertLog:         envBool("ALERT_LOG", false, &errs),
		AlertMinAgree:    envInt("ALERT_MIN_AGREE", 4, &errs),
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the values Load cannot reject on parse alone.
func (c *Config) Validate() error {
	if c.KrakenTier < 2 {
		return fmt.Errorf("KRAKEN_TIER_LEVEL must be at least 2, got %d", c.KrakenTier)
	}
	if _, err := c.ParseTFs(); err != nil {
		return err
	}
	if c.PairsFile == "" && c.ManagedPairs != "" {
		if _, err := ParsePairs(c.ManagedPairs); err != nil {
			return err
		}
	}
	if c.APIDelay < 0 || c.RetryBackoffMax < 0 {
		return errors.New("API_DELAY_SEC and RETRY_BACKOFF_MAX_MS must not be negative")
	}
	if c.AlertMinAgree < 1 || c.AlertMinAgree > 6 {
		return fmt.Errorf("ALERT_MIN_AGREE must be between 1 and 6, got %d", c.AlertMinAgree)
	}
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		return errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}
	if c.ResultHistory <= 0 || c.MaxRawPoints <= 0 || c.MaxIndicatorPoints <= 0 {
		return errors.New("RESULT_HISTORY, MAX_RAW_POINTS and MAX_INDICATOR_POINTS must be positive")
	}
	return nil
}

// ParseTFs parses Timeframes into model timeframes in the configured order.
func (c *Config) ParseTFs() ([]model.Timeframe, error) {
	var tfs []model.Timeframe
	for _, p := range strings.Split(c.Timeframes, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		tf, err := model.ParseTimeframe(p)
		if err != nil {
			return nil, fmt.Errorf("TIMEFRAMES: %w", err)
		}
		tfs = append(tfs, tf)
	}
	if len(tfs) == 0 {
		return nil, fmt.Errorf("TIMEFRAMES: %w: empty list", model.ErrUnsupportedTimeframe)
	}
	return tfs, nil
}

// Pairs returns the managed pairs: PairsFile when set, then ManagedPairs, then
// model.DefaultPairs.
func (c *Config) Pairs() ([]model.Pair, error) {
	switch {
	case c.PairsFile != "":
		return LoadPairsFile(c.PairsFile)
	case strings.TrimSpace(c.ManagedPairs) == "":
		return model.DefaultPairs(), nil
	}
	return ParsePairs(c.ManagedPairs)
}

// ParsePairs parses "XBT:EUR,BCH:EUR:BCHEUR".
func ParsePairs(s string) ([]model.Pair, error) {
	var pairs []model.Pair
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("MANAGED_PAIRS: invalid entry %q", item)
		}
		key := ""
		if len(parts) == 3 {
			key = parts[2]
		}
		pairs = append(pairs, model.NewPair(parts[0], parts[1], key))
	}
	if len(pairs) == 0 {
		return nil, errors.New("MANAGED_PAIRS: no pairs")
	}
	return pairs, nil
}

type pairsFile struct {
	Pairs []model.Pair `yaml:"pairs"`
}

// LoadPairsFile reads a YAML document of the form
//
//	pairs:
//	  - crypto: XBT
//	    currency: EUR
//	  - crypto: BCH
//	    currency: EUR
//	    result_key: BCHEUR
func LoadPairsFile(path string) ([]model.Pair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pairs file: %w", err)
	}
	var f pairsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse pairs file: %w", err)
	}
	if len(f.Pairs) == 0 {
		return nil, fmt.Errorf("pairs file %s lists no pairs", path)
	}
	out := make([]model.Pair, 0, len(f.Pairs))
	for i, p := range f.Pairs {
		if p.Crypto == "" || p.Currency == "" {
			return nil, fmt.Errorf("pairs file %s: entry %d needs crypto and currency", path, i)
		}
		out = append(out, model.NewPair(p.Crypto, p.Currency, p.ResultKey))
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// lookupEnv is getEnv, except an explicitly empty value is kept (used to disable listeners).
func lookupEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return fallback
}

func envInt(key string, fallback int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return fallback
	}
	return n
}

func envSeconds(key string, fallback int, errs *[]error) time.Duration {
	return time.Duration(envInt(key, fallback, errs)) * time.Second
}

func envBool(key string, fallback bool, errs *[]error) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return fallback
	}
	return b
}
