package db

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"cryptocompare_scraper/config"
	"cryptocompare_scraper/models"
	"cryptocompare_scraper/monitoring"
	"cryptocompare_scraper/utils"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

const createTableTmpl = `
CREATE TABLE IF NOT EXISTS %s (
    run_id UUID,
    time DateTime,
    fsym_tsym LowCardinality(String),
    exchange LowCardinality(String),
    open Float64,
    high Float64,
    low Float64,
    close Float64,
    volumefrom Float64,
    volumeto Float64,
    extra Map(String, String),
    inserted_at DateTime DEFAULT now()
) ENGINE = MergeTree()
ORDER BY (fsym_tsym, exchange, time)
`

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ClickHouseDB stores Raw Table rows.
type ClickHouseDB struct {
	conn    driver.Conn
	table   string
	timeout time.Duration
}

func NewClickHouseDB(ctx context.Context, cfg *config.Config) (*ClickHouseDB, error) {
	ch := cfg.ClickHouse
	if !identRe.MatchString(ch.Table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", ch.Table)
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", ch.Host, ch.Port)},
		Auth: clickhouse.Auth{
			Database: ch.Database,
			Username: ch.User,
			Password: ch.Password,
		},
		Protocol: clickhouse.Native,
		Debug:    ch.Debug,
		Debugf: func(format string, v ...interface{}) {
			utils.Logger.Debugf(format, v...)
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	db := &ClickHouseDB{conn: conn, table: ch.Table, timeout: ch.QueryTimeout}

	ping := func() error { return db.Ping(ctx) }
	retry := backoff.WithContext(utils.NewExponentialBackoff(time.Second, 10*time.Second, 3), ctx)
	if err := backoff.RetryNotify(ping, retry, func(err error, d time.Duration) {
		utils.Logger.Warnw("ClickHouse not reachable, retrying", "retry_in", d, "error", err)
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping ClickHouse: %w", err)
	}

	if err := db.createTable(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func createTableSQL(table string) string {
	return fmt.Sprintf(createTableTmpl, table)
}

func insertSQL(table string) string {
	return fmt.Sprintf("INSERT INTO %s (run_id, time, fsym_tsym, exchange, open, high, low, close, volumefrom, volumeto, extra)", table)
}

func (db *ClickHouseDB) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if db.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, db.timeout)
}

func (db *ClickHouseDB) createTable(ctx context.Context) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()
	start := time.Now()
	err := db.conn.Exec(ctx, createTableSQL(db.table))
	monitoring.QueryDuration.WithLabelValues("create_table").Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("create table %s: %w", db.table, err)
	}
	return nil
}

func (db *ClickHouseDB) Ping(ctx context.Context) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()
	return db.conn.Ping(ctx)
}

// InsertCandles writes candles as one batch tagged with runID.
func (db *ClickHouseDB) InsertCandles(ctx context.Context, runID uuid.UUID, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	batch, err := db.conn.PrepareBatch(ctx, insertSQL(db.table))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer batch.Abort()

	for _, c := range candles {
		extra := c.Extra
		if extra == nil {
			extra = map[string]string{}
		}
		if err := batch.Append(
			runID,
			c.Time,
			c.Pair,
			c.Exchange,
			c.Open,
			c.High,
			c.Low,
			c.Close,
			c.VolumeFrom,
			c.VolumeTo,
			extra,
		); err != nil {
			return fmt.Errorf("append %s@%s: %w", c.Pair, c.Exchange, err)
		}
	}
	err = batch.Send()
	monitoring.QueryDuration.WithLabelValues("insert").Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	utils.Logger.Infow("Candles stored",
		"table", db.table,
		"run_id", runID.String(),
		"rows", len(candles),
		"duration", time.Since(start),
	)
	return nil
}

func (db *ClickHouseDB) Close() error {
	return db.conn.Close()
}
