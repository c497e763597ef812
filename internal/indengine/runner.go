package indengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/logger"
	"signal-enginev1/internal/metrics"
	"signal-enginev1/internal/model"
)

// ErrNoBars is reported for a symbol with no stored bars in the requested range.
var ErrNoBars = errors.New("no bars")

// SymbolResult is the outcome of one symbol's run.
type SymbolResult struct {
	Symbol   string
	Bars     int
	Results  []model.IndicatorResult
	Err      error
	Duration time.Duration
}

// Runner fans a list of symbols out over a fixed pool of workers. Each worker
// loads one symbol's bars, computes them and hands the results to the sink.
// Symbols share nothing, so one symbol's failure never touches another's.
type Runner struct {
	engine  *indicator.Engine
	bars    model.BarReader
	sink    model.ResultWriter // nil computes without writing
	workers int

	// Since returns the first trade date to load; nil loads everything.
	Since func() time.Time

	// Metrics is optional.
	Metrics *metrics.Metrics

	mu       sync.Mutex
	observed map[string]time.Time // newest trade date counted per symbol
}

// NewRunner creates a Runner. workers <= 0 means one per CPU.
func NewRunner(engine *indicator.Engine, bars model.BarReader, sink model.ResultWriter, workers int) *Runner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Runner{engine: engine, bars: bars, sink: sink, workers: workers, observed: map[string]time.Time{}}
}

// Workers returns the pool size.
func (r *Runner) Workers() int { return r.workers }

// Run processes symbols and returns one SymbolResult per symbol, in input
// order. Once ctx is done no further symbols are started; those get ctx's
// error. Symbols already started run to completion.
func (r *Runner) Run(ctx context.Context, symbols []string) []SymbolResult {
	out := make([]SymbolResult, len(symbols))
	if len(symbols) == 0 {
		return out
	}

	workers := r.workers
	if workers > len(symbols) {
		workers = len(symbols)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = r.runSymbol(ctx, symbols[i])
			}
		}()
	}

	next := 0
dispatch:
	for ; next < len(symbols); next++ {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- next:
		}
	}
	close(jobs)
	wg.Wait()

	for i := next; i < len(symbols); i++ {
		out[i] = SymbolResult{Symbol: symbols[i], Err: ctx.Err()}
	}
	return out
}

func (r *Runner) runSymbol(ctx context.Context, symbol string) (res SymbolResult) {
	start := time.Now()
	res.Symbol = symbol
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("%s: panic: %v", symbol, p)
		}
		res.Duration = time.Since(start)
		r.observe(&res)
		if res.Err != nil {
			slog.Warn("symbol failed", append(logger.LogWithTrace(ctx),
				slog.String("symbol", symbol), slog.String("error", res.Err.Error()))...)
		}
	}()

	var since time.Time
	if r.Since != nil {
		since = r.Since()
	}
	bars, err := r.bars.ReadBars(ctx, symbol, since)
	if err != nil {
		res.Err = fmt.Errorf("load %s: %w", symbol, err)
		return res
	}
	res.Bars = len(bars)
	if len(bars) == 0 {
		res.Err = fmt.Errorf("%s: %w", symbol, ErrNoBars)
		return res
	}

	results, err := r.engine.Compute(bars)
	if err != nil {
		res.Err = fmt.Errorf("compute %s: %w", symbol, err)
		return res
	}
	res.Results = results

	if r.sink != nil {
		if err := r.sink.WriteResults(ctx, symbol, results); err != nil {
			res.Err = fmt.Errorf("write %s: %w", symbol, err)
		}
	}
	return res
}

func (r *Runner) observe(res *SymbolResult) {
	m := r.Metrics
	if m == nil {
		return
	}
	status := "ok"
	if res.Err != nil {
		status = "error"
	}
	m.SymbolsTotal.WithLabelValues(status).Inc()
	m.ComputeDur.Observe(res.Duration.Seconds())
	m.BarsProcessed.Add(float64(res.Bars))

	if len(res.Results) == 0 {
		return
	}

	// Completions are counted once, on the first run that sees their bar.
	r.mu.Lock()
	since, seen := r.observed[res.Symbol]
	if newest := res.Results[len(res.Results)-1].TradeDate; !seen || newest.After(since) {
		r.observed[res.Symbol] = newest
	}
	r.mu.Unlock()
	for i := range res.Results {
		if seen && !res.Results[i].TradeDate.After(since) {
			continue
		}
		f := &res.Results[i].Sequential
		if f.SetupCompleted {
			m.SetupsCompleted.WithLabelValues(f.SetupDirection.String()).Inc()
		}
		if f.CountdownCompleted {
			m.CountdownsCompleted.WithLabelValues(f.Direction.String()).Inc()
		}
	}
}

// Summarize counts successful and failed symbols.
func Summarize(rs []SymbolResult) (ok, failed int) {
	for _, r := range rs {
		if r.Err != nil {
			failed++
		} else {
			ok++
		}
	}
	return ok, failed
}
