// cmd/indengine runs the indicator service: scheduled and on-demand batch
// runs over the daily bars in SQLite, the HTTP API, and the Redis job consumer.
//
// Usage:
//
//	go run ./cmd/indengine --config=config.yaml
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"signal-enginev1/config"
	"signal-enginev1/internal/indengine"
	"signal-enginev1/internal/logger"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("INDENGINE_CONFIG"), "Path to YAML config (empty = defaults + env)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[indengine] config: %v", err)
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("[indengine] %v", err)
	}
	logger.Init("indengine", level)
	slog.Info("starting",
		slog.String("sqlite", cfg.SQLite.Path),
		slog.String("http", cfg.HTTPAddr),
		slog.Int("workers", cfg.WorkerCount()),
		slog.Bool("redis", cfg.Redis.Addr != ""),
		slog.Int("kafka_brokers", len(cfg.Kafka.Brokers)),
		slog.Bool("clickhouse", cfg.ClickHouse.Addr != ""),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	svc, err := indengine.New(ctx, cfg)
	if err != nil {
		log.Fatalf("[indengine] init failed: %v", err)
	}
	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[indengine] fatal: %v", err)
	}
}
