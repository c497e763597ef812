package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"signal-enginev1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr          string
	Password      string
	DB            int
	Stream        string // job stream, default JobStream
	ConsumerGroup string // consumer group name, e.g. "indengine"
	ConsumerName  string // unique consumer name, e.g. hostname
}

// Reader consumes recompute jobs from JobStream via a consumer group and
// serves cached latest results.
type Reader struct {
	client        *goredis.Client
	stream        string
	consumerGroup string
	consumerName  string
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
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

	stream := cfg.Stream
	if stream == "" {
		stream = JobStream
	}
	group := cfg.ConsumerGroup
	if group == "" {
		group = "indengine"
	}
	consumer := cfg.ConsumerName
	if consumer == "" {
		consumer = "worker-1"
	}

	log.Printf("[redis-reader] connected to %s (stream=%s, group=%s, consumer=%s)", cfg.Addr, stream, group, consumer)
	return &Reader{
		client:        client,
		stream:        stream,
		consumerGroup: group,
		consumerName:  consumer,
	}, nil
}

// Client returns the underlying Redis client for health checks.
func (r *Reader) Client() *goredis.Client { return r.client }

// EnsureGroup creates the consumer group on the job stream if it doesn't
// exist. A fresh group starts at "$" (only new jobs).
func (r *Reader) EnsureGroup(ctx context.Context) error {
	err := r.client.XGroupCreateMkStream(ctx, r.stream, r.consumerGroup, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create %s: %w", r.stream, err)
	}
	return nil
}

// Consume first replays jobs this consumer received but never acknowledged,
// then blocks on XREADGROUP. Each job is acknowledged after handle returns.
// A nil symbol list passed to handle means "all symbols".
// Returns ctx.Err() when ctx is cancelled.
func (r *Reader) Consume(ctx context.Context, handle func(ctx context.Context, symbols []string)) error {
	for {
		n, err := r.drain(ctx, "0", handle)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.drain(ctx, ">", handle); err != nil {
			return err
		}
	}
}

// drain reads one batch from id ("0" = own pending entries, ">" = new) and
// handles it, returning the number of jobs handled. Transient read errors
// are logged and count as an empty batch.
func (r *Reader) drain(ctx context.Context, id string, handle func(ctx context.Context, symbols []string)) (int, error) {
	block := 2 * time.Second
	if id != ">" {
		block = -1 // no BLOCK for pending replay
	}
	results, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    r.consumerGroup,
		Consumer: r.consumerName,
		Streams:  []string{r.stream, id},
		Count:    10,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		log.Printf("[redis-reader] xreadgroup error: %v", err)
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		return 0, nil
	}

	n := 0
	for _, stream := range results {
		for _, msg := range stream.Messages {
			handle(ctx, parseJob(msg.Values))
			n++
			if err := r.client.XAck(ctx, stream.Stream, r.consumerGroup, msg.ID).Err(); err != nil {
				log.Printf("[redis-reader] xack %s: %v", msg.ID, err)
			}
		}
	}
	return n, nil
}

// parseJob extracts the symbol list from a job entry. Missing or empty
// "symbols" yields nil (all symbols).
func parseJob(values map[string]interface{}) []string {
	raw, _ := values["symbols"].(string)
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ReadLatest returns the cached latest result of symbol, or nil if absent.
func (r *Reader) ReadLatest(ctx context.Context, symbol string) (*model.IndicatorResult, error) {
	data, err := r.client.Get(ctx, model.LatestKey(symbol)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get %s: %w", model.LatestKey(symbol), err)
	}

	var res model.IndicatorResult
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("unmarshal latest %s: %w", symbol, err)
	}
	return &res, nil
}

// SubscribeChannel subscribes to a Redis Pub/Sub channel (or pattern when it
// contains '*'). Returns nil when the subscription is not confirmed.
func (r *Reader) SubscribeChannel(ctx context.Context, channel string) *goredis.PubSub {
	var pubsub *goredis.PubSub
	if strings.Contains(channel, "*") {
		pubsub = r.client.PSubscribe(ctx, channel)
	} else {
		pubsub = r.client.Subscribe(ctx, channel)
	}
	// Wait for confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		log.Printf("[redis-reader] subscribe to %s failed: %v", channel, err)
		pubsub.Close()
		return nil
	}
	return pubsub
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
