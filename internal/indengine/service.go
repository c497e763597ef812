package indengine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"signal-enginev1/config"
	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/logger"
	"signal-enginev1/internal/metrics"
	"signal-enginev1/internal/model"
	"signal-enginev1/internal/store"
	chstore "signal-enginev1/internal/store/clickhouse"
	kafkastore "signal-enginev1/internal/store/kafka"
	redisstore "signal-enginev1/internal/store/redis"
	sqlitestore "signal-enginev1/internal/store/sqlite"
)

// BatchReport summarises one batch run.
type BatchReport struct {
	RunID    string         `json:"run_id"`
	Trigger  string         `json:"trigger"`
	Started  time.Time      `json:"started"`
	Duration string         `json:"duration"`
	OK       int            `json:"ok"`
	Failed   int            `json:"failed"`
	Symbols  []SymbolStatus `json:"symbols"`
}

// SymbolStatus is the per-symbol line of a BatchReport.
type SymbolStatus struct {
	Symbol string `json:"symbol"`
	Bars   int    `json:"bars"`
	Count  int    `json:"count"` // signed nine-turn count on the latest bar
	Error  string `json:"error,omitempty"`
}

// Service is the top-level orchestrator for the indicator engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg *config.Config

	engine      *indicator.Engine
	sqlReader   *sqlitestore.Reader
	sqlWriter   *sqlitestore.Writer
	redisReader *redisstore.Reader
	redisWriter *redisstore.Writer
	breaker     *redisstore.CircuitBreaker
	sinks       *store.Multi
	runner      *Runner

	prom   *metrics.Metrics
	health *metrics.HealthStatus
	server *metrics.Server

	batchMu sync.Mutex // one batch at a time
}

// New creates a Service from cfg. SQLite is required; Redis, Kafka and
// ClickHouse are wired only when configured.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	engine, err := indicator.NewEngine(cfg.Indicators)
	if err != nil {
		return nil, err
	}
	svc := &Service{
		cfg:    cfg,
		engine: engine,
		prom:   metrics.NewMetrics(nil),
		health: metrics.NewHealthStatus(cfg.Redis.Addr != ""),
	}

	// ---- Open SQLite ----
	if dir := filepath.Dir(cfg.SQLite.Path); dir != "" {
		os.MkdirAll(dir, 0o755)
	}
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLite.Path})
	if err != nil {
		return nil, err
	}
	svc.sqlReader, err = sqlitestore.NewReader(cfg.SQLite.Path)
	if err != nil {
		svc.sqlWriter.Close()
		return nil, err
	}
	sinks := []model.ResultWriter{svc.sqlWriter}

	// ---- Optional sinks ----
	if cfg.Redis.Addr != "" {
		buffered, err := svc.connectRedis(ctx)
		if err != nil {
			svc.closeAll()
			return nil, err
		}
		sinks = append(sinks, buffered)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		p, err := kafkastore.NewProducer(kafkastore.ProducerConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.Topic,
			Compression: cfg.Kafka.Compression,
			SignalDays:  cfg.Signals.Days,
			MinStrength: cfg.Signals.MinStrength,
		})
		if err != nil {
			svc.closeAll()
			return nil, err
		}
		sinks = append(sinks, p)
	}
	if cfg.ClickHouse.Addr != "" {
		ch, err := chstore.New(ctx, chstore.Config{
			Addr:        cfg.ClickHouse.Addr,
			Database:    cfg.ClickHouse.Database,
			User:        cfg.ClickHouse.User,
			Password:    cfg.ClickHouse.Password,
			DialTimeout: cfg.ClickHouse.DialTimeout,
			ReadTimeout: cfg.ClickHouse.ReadTimeout,
			AsyncInsert: cfg.ClickHouse.AsyncInsert,
		})
		if err != nil {
			// analytics mirror only; the engine runs without it
			log.Printf("[indengine] WARNING: clickhouse disabled: %v", err)
		} else {
			sinks = append(sinks, ch)
		}
	}

	svc.sinks = store.NewMulti(sinks...)
	svc.sinks.OnError = func(sink string, err error) {
		svc.prom.SinkErrors.WithLabelValues(sink).Inc()
	}

	svc.runner = NewRunner(engine, svc.sqlReader, svc.sinks, cfg.WorkerCount())
	svc.runner.Metrics = svc.prom
	svc.runner.Since = func() time.Time { return cfg.Since(time.Now()) }

	var cache model.LatestReader
	var queue EnqueueFunc
	if svc.redisReader != nil {
		cache = svc.redisReader
		queue = svc.redisWriter.EnqueueJob
	}
	api := NewAPI(engine, svc.sqlReader, cache, svc.RunBatch, queue)
	api.SignalDays = cfg.Signals.Days
	api.MinStrength = cfg.Signals.MinStrength
	svc.server = metrics.NewServer(cfg.HTTPAddr, svc.health, nil, api.Handler())

	names := make([]string, 0, len(sinks))
	for _, s := range svc.sinks.Sinks() {
		names = append(names, s.Name())
	}
	log.Printf("[indengine] sinks: %v, workers: %d", names, svc.runner.Workers())
	return svc, nil
}

func (svc *Service) connectRedis(ctx context.Context) (*redisstore.BufferedWriter, error) {
	cfg := svc.cfg.Redis
	var err error
	svc.redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:      cfg.Addr,
		Password:  cfg.Password,
		DB:        cfg.DB,
		LatestTTL: cfg.LatestTTL,
	})
	if err != nil {
		return nil, err
	}
	svc.redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
		Addr:          cfg.Addr,
		Password:      cfg.Password,
		DB:            cfg.DB,
		Stream:        cfg.JobStream,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
	})
	if err != nil {
		return nil, err
	}

	svc.breaker = redisstore.NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerCooldown)
	svc.breaker.OnStateChange = func(from, to redisstore.BreakerState) {
		svc.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			svc.prom.RedisCircuitBreakerTrips.Inc()
		}
		log.Printf("[indengine] redis circuit %s -> %s", from, to)
	}
	buffered := redisstore.NewBufferedWriter(ctx, svc.redisWriter, svc.breaker, cfg.BufferSize)
	buffered.OnBuffer = func() { svc.prom.RedisBufferedWrites.Inc() }
	buffered.OnFlush = func(n int) { log.Printf("[indengine] replayed %d buffered latest results", n) }
	return buffered, nil
}

// Engine returns the configured indicator engine.
func (svc *Service) Engine() *indicator.Engine { return svc.engine }

// RunBatch computes symbols (or the configured/all stored symbols when empty)
// and writes them to every sink. Concurrent calls are serialised.
func (svc *Service) RunBatch(ctx context.Context, trigger string, symbols []string) (*BatchReport, error) {
	svc.batchMu.Lock()
	defer svc.batchMu.Unlock()

	if len(symbols) == 0 {
		symbols = svc.cfg.Symbols
	}
	if len(symbols) == 0 {
		var err error
		if symbols, err = svc.sqlReader.ListSymbols(ctx); err != nil {
			return nil, fmt.Errorf("list symbols: %w", err)
		}
	}

	runID := logger.GenerateRunID(trigger)
	ctx = logger.WithTraceID(ctx, runID)
	start := time.Now()
	svc.prom.BatchesTotal.WithLabelValues(trigger).Inc()
	slog.Info("batch started", append(logger.LogWithTrace(ctx), slog.Int("symbols", len(symbols)))...)

	results := svc.runner.Run(ctx, symbols)

	elapsed := time.Since(start)
	svc.prom.BatchDur.Observe(elapsed.Seconds())
	ok, failed := Summarize(results)
	svc.health.RecordRun(runID, ok, failed)
	slog.Info("batch finished", append(logger.LogWithTrace(ctx),
		slog.Int("ok", ok), slog.Int("failed", failed), slog.Duration("elapsed", elapsed))...)

	return newBatchReport(runID, trigger, start, elapsed, results), nil
}

func newBatchReport(runID, trigger string, start time.Time, elapsed time.Duration, results []SymbolResult) *BatchReport {
	rep := &BatchReport{
		RunID:    runID,
		Trigger:  trigger,
		Started:  start.UTC(),
		Duration: elapsed.Round(time.Millisecond).String(),
		Symbols:  make([]SymbolStatus, len(results)),
	}
	rep.OK, rep.Failed = Summarize(results)
	for i, r := range results {
		st := SymbolStatus{Symbol: r.Symbol, Bars: r.Bars}
		if n := len(r.Results); n > 0 {
			st.Count = r.Results[n-1].Sequential.Count
		}
		if r.Err != nil {
			st.Error = r.Err.Error()
		}
		rep.Symbols[i] = st
	}
	return rep
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	log.Println("[indengine] starting indicator engine")

	svc.health.StartLivenessChecker(ctx, svc.redisClient(), svc.sqlWriter.DB(), 15*time.Second)
	svc.server.Start()

	var wg sync.WaitGroup
	if svc.redisReader != nil {
		if err := svc.redisReader.EnsureGroup(ctx); err != nil {
			log.Printf("[indengine] WARNING: consumer group setup: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.consumeJobs(ctx)
		}()
	}
	if svc.cfg.RunInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.scheduleLoop(ctx, svc.cfg.RunInterval)
		}()
	}

	log.Printf("[indengine] ready on %s (interval=%v, redis=%t)", svc.cfg.HTTPAddr, svc.cfg.RunInterval, svc.redisReader != nil)

	<-ctx.Done()
	wg.Wait()
	svc.shutdown()
	return nil
}

// scheduleLoop runs a full batch immediately and then every interval.
func (svc *Service) scheduleLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := svc.RunBatch(ctx, "schedule", nil); err != nil {
			log.Printf("[indengine] scheduled run: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (svc *Service) shutdown() {
	log.Println("[indengine] shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svc.server.Stop(shutCtx)
	svc.closeAll()
	log.Println("[indengine] shutdown complete")
}

// closeAll closes every sink (including SQLite and Redis writers) and readers.
func (svc *Service) closeAll() {
	var errs []error
	if svc.sinks != nil {
		errs = append(errs, svc.sinks.Close())
	} else {
		if svc.sqlWriter != nil {
			errs = append(errs, svc.sqlWriter.Close())
		}
		if svc.redisWriter != nil {
			errs = append(errs, svc.redisWriter.Close())
		}
	}
	if svc.sqlReader != nil {
		errs = append(errs, svc.sqlReader.Close())
	}
	if svc.redisReader != nil {
		errs = append(errs, svc.redisReader.Close())
	}
	if err := errors.Join(errs...); err != nil {
		log.Printf("[indengine] close: %v", err)
	}
}
