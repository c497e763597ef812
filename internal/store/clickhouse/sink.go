// Package clickhouse mirrors indicator results into ClickHouse for
// cross-symbol analytics. SQLite stays the system of record.
package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"signal-enginev1/internal/model"

	_ "github.com/ClickHouse/clickhouse-go/v2"
)

// Config holds ClickHouse connection settings.
type Config struct {
	Addr         string // host:port of the native protocol
	Database     string
	User         string
	Password     string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	AsyncInsert  bool
	MaxOpenConns int
}

// Sink writes indicator results to <database>.indicator_results.
type Sink struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// New opens the pool, pings the server and creates the schema.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("clickhouse: addr is required")
	}
	if cfg.Database == "" {
		cfg.Database = "signals"
	}
	if cfg.User == "" {
		cfg.User = "default"
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 10
	}

	db, err := sql.Open("clickhouse", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	s := &Sink{db: db, table: cfg.Database + ".indicator_results", now: time.Now}
	if err := s.InitSchema(ctx, schema(cfg.Database)); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Printf("[clickhouse] connected to %s/%s", cfg.Addr, cfg.Database)
	return s, nil
}

func schema(database string) []string {
	return []string{
		`CREATE DATABASE IF NOT EXISTS ` + database,
		`CREATE TABLE IF NOT EXISTS ` + database + `.indicator_results (
			symbol          LowCardinality(String),
			trade_date      Date,
			close           Float64,
			volume          Float64,
			macd_dif        Nullable(Float64),
			macd_dea        Nullable(Float64),
			macd            Nullable(Float64),
			rsi             Nullable(Float64),
			kdj_k           Nullable(Float64),
			kdj_d           Nullable(Float64),
			kdj_j           Nullable(Float64),
			boll_upper      Nullable(Float64),
			boll_mid        Nullable(Float64),
			boll_lower      Nullable(Float64),
			obv             Nullable(Float64),
			vol_ratio       Nullable(Float64),
			td_count        Int8,
			td_phase        LowCardinality(String),
			td_signal       Int8,
			td_strength     Float64,
			version         UInt64
		) ENGINE = ReplacingMergeTree(version)
		ORDER BY (symbol, trade_date)`,
	}
}

// InitSchema runs each statement in order; all are idempotent.
func (s *Sink) InitSchema(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Name identifies the sink in logs and metrics.
func (s *Sink) Name() string { return "clickhouse" }

// WriteResults inserts the run as one batch. Rows are versioned by write
// time, so a recompute supersedes earlier rows on merge.
func (s *Sink) WriteResults(ctx context.Context, symbol string, results []model.IndicatorResult) error {
	if len(results) == 0 {
		return nil
	}
	start := time.Now()
	rows := rowsFor(results, uint64(s.now().UnixNano()))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clickhouse begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertQuery(s.table))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("clickhouse prepare: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			tx.Rollback()
			return fmt.Errorf("clickhouse append %s: %w", symbol, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clickhouse send %s: %w", symbol, err)
	}
	log.Printf("[clickhouse] %s: %d rows in %v", symbol, len(rows), time.Since(start))
	return nil
}

var columns = []string{
	"symbol", "trade_date", "close", "volume",
	"macd_dif", "macd_dea", "macd", "rsi", "kdj_k", "kdj_d", "kdj_j",
	"boll_upper", "boll_mid", "boll_lower", "obv", "vol_ratio",
	"td_count", "td_phase", "td_signal", "td_strength", "version",
}

func insertQuery(table string) string {
	return fmt.Sprintf("INSERT INTO %s (%s)", table, strings.Join(columns, ", "))
}

func rowsFor(results []model.IndicatorResult, version uint64) [][]any {
	out := make([][]any, len(results))
	for i := range results {
		r := &results[i]
		s := &r.Sequential
		out[i] = []any{
			r.Symbol, r.TradeDate, r.Close, r.Volume,
			ptr(r.MACD.Diff), ptr(r.MACD.Signal), ptr(r.MACD.Histogram), ptr(r.RSI),
			ptr(r.KDJ.K), ptr(r.KDJ.D), ptr(r.KDJ.J),
			ptr(r.Boll.Upper), ptr(r.Boll.Middle), ptr(r.Boll.Lower), ptr(r.OBV), ptr(r.VolRatio),
			int8(s.Count), s.Phase.String(), int8(s.Signal), s.Strength, version,
		}
	}
	return out
}

// ptr maps an undefined value to a nil pointer, which the driver sends as NULL.
func ptr(n model.NullFloat) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float
	return &v
}

// Health pings the server.
func (s *Sink) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the pool.
func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func buildDSN(cfg Config) string {
	dsn := fmt.Sprintf("clickhouse://%s:%s@%s/%s", cfg.User, cfg.Password, cfg.Addr, cfg.Database)

	var params []string
	if cfg.DialTimeout > 0 {
		params = append(params, fmt.Sprintf("dial_timeout=%v", cfg.DialTimeout))
	}
	if cfg.ReadTimeout > 0 {
		params = append(params, fmt.Sprintf("read_timeout=%v", cfg.ReadTimeout))
	}
	if cfg.AsyncInsert {
		params = append(params, "async_insert=1", "wait_for_async_insert=1")
	}
	if len(params) > 0 {
		dsn += "?" + strings.Join(params, "&")
	}
	return dsn
}
