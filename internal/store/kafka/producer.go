// Package kafka publishes one result event per symbol run.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/model"
	"signal-enginev1/internal/sequential"

	"github.com/segmentio/kafka-go"
)

// ProducerConfig configures the result publisher.
type ProducerConfig struct {
	Brokers      []string
	Topic        string  // default "indicator.results"
	Compression  string  // gzip | snappy | lz4 | zstd
	SignalDays   int     // completions this recent ride along; default 5
	MinStrength  float64 // default 0.5
	RequiredAcks int     // -1 = all ISR
	MaxAttempts  int
	WriteTimeout time.Duration
	BatchTimeout time.Duration
}

// ResultEvent is the message value published for a symbol run.
type ResultEvent struct {
	Symbol      string                `json:"symbol"`
	Bars        int                   `json:"bars"`
	Latest      model.IndicatorResult `json:"latest"`
	Trend       model.Trend           `json:"trend"`
	Signals     []sequential.Signal   `json:"signals,omitempty"`
	PublishedAt time.Time             `json:"published_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer is a result sink that writes to a Kafka topic keyed by symbol,
// so every event of one symbol lands on the same partition in order.
type Producer struct {
	writer messageWriter
	cfg    ProducerConfig
	now    func() time.Time
}

func (c *ProducerConfig) applyDefaults() {
	if c.Topic == "" {
		c.Topic = "indicator.results"
	}
	if c.Compression == "" {
		c.Compression = "gzip"
	}
	if c.SignalDays <= 0 {
		c.SignalDays = 5
	}
	if c.MinStrength == 0 {
		c.MinStrength = 0.5
	}
	if c.RequiredAcks == 0 {
		c.RequiredAcks = -1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 50 * time.Millisecond
	}
}

// NewProducer creates a producer. No connection is made until the first write.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: brokers are required")
	}
	cfg.applyDefaults()

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  parseCompression(cfg.Compression),
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  10 * time.Second,
		BatchSize:    100,
		BatchBytes:   1048576,
		BatchTimeout: cfg.BatchTimeout,
	}

	log.Printf("[kafka] producer for %s on %v (%s)", cfg.Topic, cfg.Brokers, cfg.Compression)
	return newProducer(w, cfg), nil
}

func newProducer(w messageWriter, cfg ProducerConfig) *Producer {
	cfg.applyDefaults()
	return &Producer{writer: w, cfg: cfg, now: time.Now}
}

// Name identifies the sink in logs and metrics.
func (p *Producer) Name() string { return "kafka" }

// WriteResults publishes the newest result of the run and its recent
// completions as a single message.
func (p *Producer) WriteResults(ctx context.Context, symbol string, results []model.IndicatorResult) error {
	msg, ok, err := p.buildMessage(symbol, results)
	if err != nil || !ok {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", symbol, err)
	}
	return nil
}

func (p *Producer) buildMessage(symbol string, results []model.IndicatorResult) (kafka.Message, bool, error) {
	if len(results) == 0 {
		return kafka.Message{}, false, nil
	}
	now := p.now()
	ev := ResultEvent{
		Symbol:      symbol,
		Bars:        len(results),
		Latest:      results[len(results)-1],
		Trend:       indicator.Trend(results[len(results)-1]),
		Signals:     sequential.RecentSignals(results, p.cfg.SignalDays, p.cfg.MinStrength),
		PublishedAt: now.UTC(),
	}
	v, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, false, fmt.Errorf("marshal event %s: %w", symbol, err)
	}
	return kafka.Message{
		Key:   []byte(symbol),
		Value: v,
		Time:  now,
	}, true, nil
}

// Close flushes pending messages and closes the writer.
func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Gzip
	}
}
