package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"signal-enginev1/internal/model"
	"signal-enginev1/internal/sequential"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// SignalStream carries completed setups/countdowns as they appear.
	SignalStream = "ind:signals"
	// JobStream carries recompute requests.
	JobStream = "ind:jobs"

	signalStreamMaxLen = 10000
	jobStreamMaxLen    = 1000
	defaultLatestTTL   = 48 * time.Hour
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr      string // Redis address, e.g. "localhost:6379"
	Password  string
	DB        int
	LatestTTL time.Duration // TTL of ind:latest:* keys; 0 means 48h
}

// Writer caches each symbol's latest result, announces it on pub/sub and
// appends fresh signals to SignalStream.
type Writer struct {
	client *goredis.Client
	ttl    time.Duration
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.LatestTTL
	if ttl <= 0 {
		ttl = defaultLatestTTL
	}
	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client, ttl: ttl}, nil
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "redis" }

// WriteResults caches the last result of the run. Earlier bars are history
// and only go to the durable sinks.
func (w *Writer) WriteResults(ctx context.Context, symbol string, results []model.IndicatorResult) error {
	if len(results) == 0 {
		return nil
	}
	return w.WriteLatest(ctx, &results[len(results)-1])
}

// WriteLatest pipelines SET latest + PUBLISH, plus an XADD to SignalStream
// when the bar completed a setup or countdown.
func (w *Writer) WriteLatest(ctx context.Context, r *model.IndicatorResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", r.Symbol, err)
	}
	payload := string(data)

	pipe := w.client.Pipeline()
	pipe.Set(ctx, model.LatestKey(r.Symbol), payload, w.ttl)
	pipe.Publish(ctx, model.PubSubChannel(r.Symbol), payload)

	if r.Sequential.SetupCompleted || r.Sequential.CountdownCompleted {
		if sig, ok := sequential.SignalOf(*r); ok {
			sigData, _ := json.Marshal(sig)
			pipe.XAdd(ctx, &goredis.XAddArgs{
				Stream: SignalStream,
				MaxLen: signalStreamMaxLen,
				Approx: true,
				Values: map[string]interface{}{
					"symbol": sig.Symbol,
					"kind":   sig.Kind,
					"data":   string(sigData),
				},
			})
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline %s: %w", r.Symbol, err)
	}
	return nil
}

// EnqueueJob appends a recompute request for symbols to JobStream. An empty
// list asks for every known symbol. Returns the stream entry ID.
func (w *Writer) EnqueueJob(ctx context.Context, symbols []string) (string, error) {
	id, err := w.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: JobStream,
		MaxLen: jobStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"symbols":     strings.Join(symbols, ","),
			"enqueued_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("redis XADD %s: %w", JobStream, err)
	}
	return id, nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
