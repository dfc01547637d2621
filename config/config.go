package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cryptocompare_scraper/models"

	"github.com/joho/godotenv"
)

// Fetch policies accepted by FETCH_POLICY.
const (
	PolicyFailFast   = "fail-fast"
	PolicyBestEffort = "best-effort"
)

type Config struct {
	App struct {
		Environment string
		LogLevel    string
		LogDir      string
		MetricsAddr string
	}

	Scrape struct {
		BaseURL           string
		APIKey            string
		Exchanges         []string
		Pairs             []models.SymbolPair
		Aggregate         string
		Limit             string
		Concurrency       int
		Policy            string
		RequestsPerSecond float64
		HTTPTimeout       time.Duration
		MaxRetries        int
		RetryInitial      time.Duration
		RetryMax          time.Duration
	}

	Aggregate struct {
		ZeroAsMissing bool
	}

	ClickHouse struct {
		Enabled      bool
		Host         string
		Port         int
		User         string
		Password     string
		Database     string
		Table        string
		QueryTimeout time.Duration
		Debug        bool
	}
}

// Load reads configuration from the environment, after an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env is optional

	cfg := &Config{}

	cfg.App.Environment = getEnvOrDefault("APP_ENV", "production")
	cfg.App.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.App.LogDir = getEnvOrDefault("LOG_DIR", "logs")
	cfg.App.MetricsAddr = os.Getenv("METRICS_ADDR")

	cfg.Scrape.BaseURL = getEnvOrDefault("CRYPTOCOMPARE_BASE_URL", models.DefaultBaseURL)
	cfg.Scrape.APIKey = os.Getenv("CRYPTOCOMPARE_API_KEY")
	cfg.Scrape.Exchanges = getEnvAsListOrDefault("CRYPTO_EXCHANGES", models.DefaultExchanges)
	pairs, err := parsePairs(getEnvAsListOrDefault("CRYPTO_SYMBOL_PAIRS", defaultPairStrings()))
	if err != nil {
		return nil, err
	}
	cfg.Scrape.Pairs = pairs
	cfg.Scrape.Aggregate = getEnvOrDefault("CRYPTO_AGGREGATE", models.DefaultAggregate)
	cfg.Scrape.Limit = getEnvOrDefault("CRYPTO_LIMIT", models.DefaultLimit)
	cfg.Scrape.Concurrency = getEnvAsIntOrDefault("FETCH_CONCURRENCY", 1)
	cfg.Scrape.Policy = getEnvOrDefault("FETCH_POLICY", PolicyFailFast)
	cfg.Scrape.RequestsPerSecond = getEnvAsFloatOrDefault("REQUESTS_PER_SECOND", 0)
	cfg.Scrape.HTTPTimeout = time.Duration(getEnvAsIntOrDefault("HTTP_TIMEOUT_SECS", 0)) * time.Second
	cfg.Scrape.MaxRetries = getEnvAsIntOrDefault("FETCH_MAX_RETRIES", 0)
	cfg.Scrape.RetryInitial = time.Duration(getEnvAsIntOrDefault("FETCH_RETRY_INITIAL_MS", 500)) * time.Millisecond
	cfg.Scrape.RetryMax = time.Duration(getEnvAsIntOrDefault("FETCH_RETRY_MAX_MS", 10000)) * time.Millisecond

	cfg.Aggregate.ZeroAsMissing = getEnvAsBoolOrDefault("SENTINEL_ZERO_AS_MISSING", true)

	cfg.ClickHouse.Enabled = getEnvAsBoolOrDefault("CLICKHOUSE_ENABLED", false)
	cfg.ClickHouse.Host = getEnvOrDefault("CLICKHOUSE_HOST", "localhost")
	cfg.ClickHouse.Port = getEnvAsIntOrDefault("CLICKHOUSE_PORT", 9000)
	cfg.ClickHouse.User = getEnvOrDefault("CLICKHOUSE_USER", "default")
	cfg.ClickHouse.Password = os.Getenv("CLICKHOUSE_PASSWORD")
	cfg.ClickHouse.Database = getEnvOrDefault("CLICKHOUSE_DB", "default")
	cfg.ClickHouse.Table = getEnvOrDefault("CLICKHOUSE_TABLE", "histohour_candles")
	cfg.ClickHouse.QueryTimeout = time.Duration(getEnvAsIntOrDefault("CLICKHOUSE_QUERY_TIMEOUT_SECS", 30)) * time.Second
	cfg.ClickHouse.Debug = cfg.App.Environment != "production"

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Scrape.Exchanges) == 0 {
		return fmt.Errorf("config: CRYPTO_EXCHANGES is empty")
	}
	if len(c.Scrape.Pairs) == 0 {
		return fmt.Errorf("config: CRYPTO_SYMBOL_PAIRS is empty")
	}
	if c.Scrape.Concurrency < 1 {
		return fmt.Errorf("config: FETCH_CONCURRENCY must be >= 1, got %d", c.Scrape.Concurrency)
	}
	if c.Scrape.MaxRetries < 0 {
		return fmt.Errorf("config: FETCH_MAX_RETRIES must be >= 0, got %d", c.Scrape.MaxRetries)
	}
	switch c.Scrape.Policy {
	case PolicyFailFast, PolicyBestEffort:
	default:
		return fmt.Errorf("config: unknown FETCH_POLICY %q", c.Scrape.Policy)
	}
	return nil
}

func defaultPairStrings() []string {
	out := make([]string, 0, len(models.DefaultSymbolPairs))
	for _, p := range models.DefaultSymbolPairs {
		out = append(out, p.String())
	}
	return out
}

// parsePairs turns "BTC/USD" entries into symbol pairs.
func parsePairs(raw []string) ([]models.SymbolPair, error) {
	pairs := make([]models.SymbolPair, 0, len(raw))
	for _, s := range raw {
		p, err := models.ParseSymbolPair(s)
		if err != nil {
			return nil, fmt.Errorf("config: CRYPTO_SYMBOL_PAIRS: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsListOrDefault splits a comma-separated value, dropping blanks.
func getEnvAsListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
