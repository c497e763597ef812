package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the batch runner from concrete storage
// (SQLite, Redis, Kafka, ClickHouse). The indicator core never touches them.

// BarReader supplies ordered daily bars per symbol.
type BarReader interface {
	// ReadBars returns bars for symbol with trade_date >= from, ascending.
	// A zero from reads the full history.
	ReadBars(ctx context.Context, symbol string, from time.Time) ([]Bar, error)

	// ListSymbols returns every symbol with at least one stored bar.
	ListSymbols(ctx context.Context) ([]string, error)
}

// ResultWriter receives the full per-bar result sequence of one symbol run.
type ResultWriter interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// WriteResults persists or forwards results; results are ordered by date.
	WriteResults(ctx context.Context, symbol string, results []IndicatorResult) error

	// Close releases underlying resources.
	Close() error
}

// LatestReader serves the most recent result of a symbol.
// Returns nil, nil when nothing is stored.
type LatestReader interface {
	ReadLatest(ctx context.Context, symbol string) (*IndicatorResult, error)
}

// JobConsumer delivers recompute requests (lists of symbols) from a queue.
type JobConsumer interface {
	// EnsureGroup creates the consumer group if it does not exist.
	EnsureGroup(ctx context.Context) error

	// Consume blocks until ctx is done, calling handle for each job and
	// acknowledging it once handle returns.
	Consume(ctx context.Context, handle func(ctx context.Context, symbols []string)) error
}
