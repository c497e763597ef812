package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"signal-enginev1/internal/model"
	"signal-enginev1/internal/sequential"
	"signal-enginev1/internal/store"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to bars, results and signals.
type Reader struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// NewReader opens a SQLite connection for reading. The schema is owned by
// Writer; open a Writer on the same path first when the file may be new.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadBars returns bars of symbol dated on or after from, ascending by date.
// A zero from reads the full history.
func (r *Reader) ReadBars(ctx context.Context, symbol string, from time.Time) ([]model.Bar, error) {
	fromKey := ""
	if !from.IsZero() {
		fromKey = from.Format(model.DateLayout)
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, trade_date, open, high, low, close, volume
		FROM daily_bars
		WHERE symbol = ? AND trade_date >= ?
		ORDER BY trade_date ASC
	`, symbol, fromKey)
	if err != nil {
		return nil, fmt.Errorf("sqlite query daily_bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var (
			b    model.Bar
			date string
		)
		if err := rows.Scan(&b.Symbol, &date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan daily_bars: %w", err)
		}
		if b.TradeDate, err = model.ParseDate(date); err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// ListSymbols returns every symbol with at least one stored bar, sorted.
func (r *Reader) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM daily_bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite list symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReadLatest returns the most recent stored result of symbol, or nil when
// none is stored.
func (r *Reader) ReadLatest(ctx context.Context, symbol string) (*model.IndicatorResult, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, `
		SELECT payload FROM indicator_results
		WHERE symbol = ?
		ORDER BY trade_date DESC
		LIMIT 1
	`, symbol).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite read latest %s: %w", symbol, err)
	}

	var res model.IndicatorResult
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, fmt.Errorf("unmarshal result %s: %w", symbol, err)
	}
	return &res, nil
}

// ReadResults returns the stored results of symbol dated on or after from.
func (r *Reader) ReadResults(ctx context.Context, symbol string, from time.Time) ([]model.IndicatorResult, error) {
	fromKey := ""
	if !from.IsZero() {
		fromKey = from.Format(model.DateLayout)
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT payload FROM indicator_results
		WHERE symbol = ? AND trade_date >= ?
		ORDER BY trade_date ASC
	`, symbol, fromKey)
	if err != nil {
		return nil, fmt.Errorf("sqlite query results: %w", err)
	}
	defer rows.Close()

	var out []model.IndicatorResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var res model.IndicatorResult
		if err := json.Unmarshal([]byte(payload), &res); err != nil {
			return nil, fmt.Errorf("unmarshal result %s: %w", symbol, err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// ReadSignals returns stored setup/countdown completions on or after since
// whose strength exceeds minStrength, newest first.
func (r *Reader) ReadSignals(ctx context.Context, q store.SignalQuery) ([]sequential.Signal, error) {
	query := `
		SELECT symbol, trade_date, signal_type, direction, strength, setup_count, countdown_count,
		       price, volume, rsi_value, macd_value, volume_ratio, description
		FROM nine_turn_signals
		WHERE trade_date >= ? AND strength > ?`
	args := []any{q.Since.Format(model.DateLayout), q.MinStrength}
	if q.Symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, q.Symbol)
	}
	query += ` ORDER BY trade_date DESC, strength DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query signals: %w", err)
	}
	defer rows.Close()

	var out []sequential.Signal
	for rows.Next() {
		var (
			s         sequential.Signal
			date, dir string
			desc      sql.NullString
		)
		if err := rows.Scan(&s.Symbol, &date, &s.Kind, &dir, &s.Strength, &s.SetupCount, &s.CountdownCount,
			&s.Close, &s.Volume, &s.RSI, &s.MACD, &s.VolRatio, &desc); err != nil {
			return nil, fmt.Errorf("sqlite scan signals: %w", err)
		}
		if s.TradeDate, err = model.ParseDate(date); err != nil {
			return nil, err
		}
		if err := s.Direction.UnmarshalText([]byte(dir)); err != nil {
			return nil, err
		}
		s.Description = desc.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
