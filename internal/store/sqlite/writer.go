package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"signal-enginev1/internal/model"
	"signal-enginev1/internal/sequential"

	_ "github.com/mattn/go-sqlite3"
)

const dsnOptions = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/market.db"
}

// Writer owns the schema and is the single writer of bars, indicator
// results and nine-turn signals.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS daily_bars (
			symbol     TEXT NOT NULL,
			trade_date TEXT NOT NULL,
			open       REAL NOT NULL,
			high       REAL NOT NULL,
			low        REAL NOT NULL,
			close      REAL NOT NULL,
			volume     REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, trade_date)
		);

		CREATE TABLE IF NOT EXISTS indicator_results (
			symbol             TEXT NOT NULL,
			trade_date         TEXT NOT NULL,
			close              REAL NOT NULL,
			macd_dif           REAL,
			macd_dea           REAL,
			macd               REAL,
			rsi                REAL,
			kdj_k              REAL,
			kdj_d              REAL,
			kdj_j              REAL,
			boll_upper         REAL,
			boll_mid           REAL,
			boll_lower         REAL,
			obv                REAL,
			vol_ratio          REAL,
			td_count           INTEGER NOT NULL DEFAULT 0,
			td_phase           TEXT    NOT NULL DEFAULT 'idle',
			td_setup_count     INTEGER NOT NULL DEFAULT 0,
			td_countdown_count INTEGER NOT NULL DEFAULT 0,
			td_perfected       INTEGER NOT NULL DEFAULT 0,
			tdst_high          REAL,
			tdst_low           REAL,
			td_signal          INTEGER NOT NULL DEFAULT 0,
			td_strength        REAL    NOT NULL DEFAULT 0,
			payload            TEXT    NOT NULL,
			updated_at         INTEGER NOT NULL,
			PRIMARY KEY (symbol, trade_date)
		);

		CREATE TABLE IF NOT EXISTS nine_turn_signals (
			symbol          TEXT    NOT NULL,
			trade_date      TEXT    NOT NULL,
			signal_type     TEXT    NOT NULL,
			direction       TEXT    NOT NULL,
			strength        REAL    NOT NULL,
			setup_count     INTEGER NOT NULL,
			countdown_count INTEGER NOT NULL,
			price           REAL    NOT NULL,
			volume          REAL    NOT NULL,
			rsi_value       REAL,
			macd_value      REAL,
			volume_ratio    REAL,
			description     TEXT,
			created_at      INTEGER NOT NULL,
			PRIMARY KEY (symbol, trade_date, signal_type)
		);

		CREATE INDEX IF NOT EXISTS idx_signals_date ON nine_turn_signals (trade_date);
	`)
	return err
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "sqlite" }

// UpsertBars stores bars in a single transaction, replacing any bar with the
// same symbol and trade date.
func (w *Writer) UpsertBars(ctx context.Context, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO daily_bars (symbol, trade_date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range bars {
		b := &bars[i]
		if _, err := stmt.ExecContext(ctx, b.Symbol, b.DateString(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert bar %s %s: %w", b.Symbol, b.DateString(), err)
		}
	}
	return tx.Commit()
}

// WriteResults replaces the stored results and signals of symbol from the
// first result's trade date onward, and records every completed
// setup/countdown in nine_turn_signals.
func (w *Writer) WriteResults(ctx context.Context, symbol string, results []model.IndicatorResult) error {
	if len(results) == 0 {
		return nil
	}
	start := time.Now()
	now := start.Unix()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	// The run replaces everything from its first bar on. Older rows belong to
	// history outside a lookback window and stay.
	from := results[0].DateString()
	for _, table := range [...]string{"indicator_results", "nine_turn_signals"} {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE symbol = ? AND trade_date >= ?`, symbol, from); err != nil {
			tx.Rollback()
			return fmt.Errorf("clear %s %s: %w", table, symbol, err)
		}
	}

	resStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO indicator_results (
			symbol, trade_date, close,
			macd_dif, macd_dea, macd, rsi, kdj_k, kdj_d, kdj_j,
			boll_upper, boll_mid, boll_lower, obv, vol_ratio,
			td_count, td_phase, td_setup_count, td_countdown_count, td_perfected,
			tdst_high, tdst_low, td_signal, td_strength, payload, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer resStmt.Close()

	sigStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO nine_turn_signals (
			symbol, trade_date, signal_type, direction, strength, setup_count, countdown_count,
			price, volume, rsi_value, macd_value, volume_ratio, description, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer sigStmt.Close()

	signals := 0
	for i := range results {
		r := &results[i]
		payload, err := json.Marshal(r)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshal result %s %s: %w", symbol, r.DateString(), err)
		}
		s := &r.Sequential
		if _, err := resStmt.ExecContext(ctx,
			symbol, r.DateString(), r.Close,
			r.MACD.Diff, r.MACD.Signal, r.MACD.Histogram, r.RSI,
			r.KDJ.K, r.KDJ.D, r.KDJ.J,
			r.Boll.Upper, r.Boll.Middle, r.Boll.Lower, r.OBV, r.VolRatio,
			s.Count, s.Phase.String(), s.SetupCount, s.CountdownCount, s.Perfected,
			s.TDSTHigh, s.TDSTLow, s.Signal, s.Strength, string(payload), now,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert result %s %s: %w", symbol, r.DateString(), err)
		}

		if !s.SetupCompleted && !s.CountdownCompleted {
			continue
		}
		sig, ok := sequential.SignalOf(*r)
		if !ok {
			continue
		}
		if _, err := sigStmt.ExecContext(ctx,
			symbol, r.DateString(), sig.Kind, sig.Direction.String(), sig.Strength,
			sig.SetupCount, sig.CountdownCount, sig.Close, sig.Volume,
			sig.RSI, sig.MACD, sig.VolRatio, sig.Description, now,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert signal %s %s: %w", symbol, r.DateString(), err)
		}
		signals++
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Printf("[sqlite] %s: wrote %d results, %d signals in %v", symbol, len(results), signals, time.Since(start))
	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
