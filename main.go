package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cryptocompare_scraper/aggregate"
	"cryptocompare_scraper/config"
	"cryptocompare_scraper/cryptocompare"
	"cryptocompare_scraper/db"
	"cryptocompare_scraper/metrics"
	"cryptocompare_scraper/middleware"
	"cryptocompare_scraper/monitoring"
	"cryptocompare_scraper/scraper"
	"cryptocompare_scraper/table"
	"cryptocompare_scraper/utils"

	"golang.org/x/time/rate"
)

const (
	modeFetch     = "fetch"
	modeAggregate = "aggregate"
	modeAll       = "all"
)

func main() {
	mode := flag.String("mode", modeAll, "fetch, aggregate or all")
	rawPath := flag.String("raw", "crypto_data_all.csv", "raw table path")
	outPath := flag.String("out", "crypto_data_clean.csv", "aggregated table path")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	if err := utils.InitLogger(cfg.App.LogLevel, cfg.App.LogDir); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer utils.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.App.MetricsAddr != "" {
		server := startMetricsServer(ctx, cfg.App.MetricsAddr)
		defer server.Shutdown(context.Background())
	}

	err = middleware.Recover(func() error {
		return run(ctx, cfg, *mode, *rawPath, *outPath)
	})
	if err != nil {
		utils.Error(err, "Run failed", "mode", *mode)
		utils.Sync()
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, mode, rawPath, outPath string) error {
	switch mode {
	case modeFetch:
		_, err := runFetch(ctx, cfg, rawPath)
		return err
	case modeAggregate:
		raw, err := table.ReadFile(rawPath)
		if err != nil {
			return err
		}
		return runAggregate(cfg, raw, outPath)
	case modeAll:
		raw, err := runFetch(ctx, cfg, rawPath)
		if err != nil {
			return err
		}
		return runAggregate(cfg, raw, outPath)
	}
	return fmt.Errorf("unknown mode %q", mode)
}

func newRunner(cfg *config.Config) (*scraper.Runner, error) {
	policy, err := scraper.ParsePolicy(cfg.Scrape.Policy)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.Scrape.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Scrape.RequestsPerSecond), 1)
	}

	client := cryptocompare.NewClient(cryptocompare.Options{
		BaseURL:    cfg.Scrape.BaseURL,
		HTTPClient: &http.Client{Timeout: cfg.Scrape.HTTPTimeout},
		APIKey:     cfg.Scrape.APIKey,
		Retry: cryptocompare.RetryPolicy{
			MaxRetries:      cfg.Scrape.MaxRetries,
			InitialInterval: cfg.Scrape.RetryInitial,
			MaxInterval:     cfg.Scrape.RetryMax,
		},
		Limiter: limiter,
		Breaker: middleware.NewCircuitBreaker("histohour"),
	})
	return scraper.NewRunner(client, cfg.Scrape.Concurrency, policy), nil
}

// runFetch scrapes the configured plan and persists the Raw Table.
func runFetch(ctx context.Context, cfg *config.Config, rawPath string) (*table.RawTable, error) {
	runner, err := newRunner(cfg)
	if err != nil {
		return nil, err
	}

	var store *db.ClickHouseDB
	if cfg.ClickHouse.Enabled {
		store, err = db.NewClickHouseDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		monitoring.RegisterHealthCheck("clickhouse", func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return store.Ping(ctx) == nil
		})
	}

	plan := scraper.Plan{
		Exchanges: cfg.Scrape.Exchanges,
		Pairs:     cfg.Scrape.Pairs,
		Aggregate: cfg.Scrape.Aggregate,
		Limit:     cfg.Scrape.Limit,
	}
	rep, err := runner.RunToFile(ctx, plan, rawPath)
	if err != nil {
		monitoring.RecordRun("", err)
		return nil, err
	}
	monitoring.RecordRun(rep.RunID.String(), nil)
	if len(rep.Failures) > 0 {
		utils.Logger.Warnw("Run finished with failed fetches",
			"run_id", rep.RunID.String(),
			"failed", len(rep.Failures),
		)
	}

	if store != nil {
		if err := store.InsertCandles(ctx, rep.RunID, rep.Table.Candles); err != nil {
			return nil, fmt.Errorf("store candles: %w", err)
		}
	}
	return rep.Table, nil
}

func runAggregate(cfg *config.Config, raw *table.RawTable, outPath string) error {
	policy := aggregate.KeepZeros
	if cfg.Aggregate.ZeroAsMissing {
		policy = aggregate.ZeroAsMissing
	}
	wide := aggregate.Aggregate(raw.Candles, policy)
	if err := wide.WriteFile(outPath); err != nil {
		return fmt.Errorf("write aggregated table: %w", err)
	}
	metrics.RecordAggregate(wide.Len())

	utils.Logger.Infow("Aggregated table written",
		"path", outPath,
		"rows", wide.Len(),
		"pairs", len(wide.Pairs),
		"sentinel_policy", policy.String(),
	)
	return nil
}

func startMetricsServer(ctx context.Context, addr string) *http.Server {
	monitoring.RegisterHealthCheck("last_run", monitoring.LastRunHealthy)
	monitoring.StartMetricsCollection(ctx, 5*time.Second)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", monitoring.HealthCheckHandler)
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:    addr,
		Handler: utils.RequestLogger(mux),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Error(err, "Metrics server error")
		}
	}()
	return server
}
