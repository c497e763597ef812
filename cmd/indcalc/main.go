// cmd/indcalc is the one-shot companion to indengine. It computes symbols
// straight from SQLite, imports bars, and talks to the Redis job stream.
//
// Usage:
//
//	go run ./cmd/indcalc compute --json INFY TCS
//	go run ./cmd/indcalc compute --save            # every symbol, results stored
//	go run ./cmd/indcalc import --file=bars.csv
//	go run ./cmd/indcalc signals --days=5 --min=0.5
//	go run ./cmd/indcalc enqueue INFY
//	go run ./cmd/indcalc watch '*'
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"signal-enginev1/config"
	"signal-enginev1/internal/indengine"
	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/logger"
	"signal-enginev1/internal/model"
	"signal-enginev1/internal/sequential"
	redisstore "signal-enginev1/internal/store/redis"
	sqlitestore "signal-enginev1/internal/store/sqlite"
)

const usage = `usage: indcalc [--config=path] <command> [flags] [symbols...]

commands:
  compute   compute symbols from SQLite and print the latest bar of each
  import    load daily bars from a CSV file into SQLite
  signals   list recent nine-turn signals
  enqueue   queue a recompute job on the Redis job stream
  watch     print latest results as indengine publishes them
`

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfgPath := flag.String("config", os.Getenv("INDENGINE_CONFIG"), "Path to YAML config (empty = defaults + env)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[indcalc] config: %v", err)
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("[indcalc] %v", err)
	}
	// logs go to stderr so stdout stays clean for JSON
	logger.InitWriter(os.Stderr, "indcalc", level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "compute":
		err = runCompute(ctx, cfg, args)
	case "import":
		err = runImport(ctx, cfg, args)
	case "signals":
		err = runSignals(ctx, cfg, args)
	case "enqueue":
		err = runEnqueue(ctx, cfg, args)
	case "watch":
		err = runWatch(ctx, cfg, args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("[indcalc] %s: %v", cmd, err)
	}
}

func runCompute(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("compute", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "Print full results as JSON instead of a table")
	all := fs.Bool("all", false, "With --json, print every bar rather than the latest")
	save := fs.Bool("save", false, "Store results and signals in SQLite")
	fs.Parse(args)

	engine, err := indicator.NewEngine(cfg.Indicators)
	if err != nil {
		return err
	}
	reader, err := sqlitestore.NewReader(cfg.SQLite.Path)
	if err != nil {
		return err
	}
	defer reader.Close()

	var sink model.ResultWriter
	if *save {
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLite.Path})
		if err != nil {
			return err
		}
		defer w.Close()
		sink = w
	}

	symbols, err := resolveSymbols(ctx, cfg, reader, fs.Args())
	if err != nil {
		return err
	}

	runner := indengine.NewRunner(engine, reader, sink, cfg.WorkerCount())
	runner.Since = func() time.Time { return cfg.Since(time.Now()) }
	start := time.Now()
	results := runner.Run(ctx, symbols)
	elapsed := time.Since(start)

	if *asJSON {
		return printJSON(results, *all)
	}
	printTable(results)
	ok, failed := indengine.Summarize(results)
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║          COMPUTE COMPLETE            ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Symbols ok:        %-16d ║\n", ok)
	fmt.Printf("║  Symbols failed:    %-16d ║\n", failed)
	fmt.Printf("║  Elapsed:           %-16s ║\n", elapsed.Round(time.Millisecond))
	fmt.Println("╚══════════════════════════════════════╝")
	if failed > 0 {
		return fmt.Errorf("%d of %d symbols failed", failed, len(results))
	}
	return nil
}

func printJSON(results []indengine.SymbolResult, all bool) error {
	type line struct {
		Symbol  string                  `json:"symbol"`
		Error   string                  `json:"error,omitempty"`
		Results []model.IndicatorResult `json:"results,omitempty"`
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, r := range results {
		l := line{Symbol: r.Symbol, Results: r.Results}
		if r.Err != nil {
			l.Error = r.Err.Error()
		}
		if !all && len(r.Results) > 0 {
			l.Results = r.Results[len(r.Results)-1:]
		}
		if err := enc.Encode(l); err != nil {
			return err
		}
	}
	return nil
}

func printTable(results []indengine.SymbolResult) {
	fmt.Printf("%-12s %-10s %10s %8s %8s %6s %-12s %s\n",
		"SYMBOL", "DATE", "CLOSE", "RSI", "MACD", "TD", "PHASE", "NOTE")
	for _, r := range results {
		if r.Err != nil {
			fmt.Printf("%-12s %s\n", r.Symbol, r.Err)
			continue
		}
		last := r.Results[len(r.Results)-1]
		seq := last.Sequential
		fmt.Printf("%-12s %-10s %10.2f %8s %8s %+6d %-12s %s\n",
			last.Symbol, last.DateString(), last.Close,
			fmtNull(last.RSI), fmtNull(last.MACD.Histogram), seq.Count, seq.Phase, seq.Description)
	}
}

func fmtNull(v model.NullFloat) string {
	if !v.Valid {
		return "-"
	}
	return strconv.FormatFloat(v.Float, 'f', 2, 64)
}

// runImport reads "symbol,trade_date,open,high,low,close,volume" rows. A
// header row is skipped. Bars are upserted per symbol in date order.
func runImport(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	file := fs.String("file", "", "CSV file to import (- for stdin)")
	fs.Parse(args)
	if *file == "" {
		return errors.New("--file is required")
	}

	var src io.Reader = os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	}
	bySymbol, err := readBarsCSV(src)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
		return err
	}
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLite.Path})
	if err != nil {
		return err
	}
	defer w.Close()

	total := 0
	for sym, bars := range bySymbol {
		if err := w.UpsertBars(ctx, bars); err != nil {
			return fmt.Errorf("%s: %w", sym, err)
		}
		total += len(bars)
	}
	log.Printf("[indcalc] imported %d bars for %d symbols", total, len(bySymbol))
	return nil
}

func readBarsCSV(src io.Reader) (map[string][]model.Bar, error) {
	r := csv.NewReader(src)
	r.FieldsPerRecord = 7
	r.TrimLeadingSpace = true

	out := make(map[string][]model.Bar)
	for line := 1; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if line == 1 && strings.EqualFold(rec[0], "symbol") {
			continue
		}
		day, err := model.ParseDate(rec[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		var v [5]float64
		for i := range v {
			if v[i], err = strconv.ParseFloat(rec[2+i], 64); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		sym := strings.ToUpper(rec[0])
		out[sym] = append(out[sym], model.Bar{Symbol: sym, TradeDate: day,
			Open: v[0], High: v[1], Low: v[2], Close: v[3], Volume: v[4]})
	}
	for sym, bars := range out {
		if err := model.ValidateSeries(bars); err != nil {
			return nil, fmt.Errorf("%s: %w", sym, err)
		}
	}
	return out, nil
}

func runSignals(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("signals", flag.ExitOnError)
	days := fs.Int("days", cfg.Signals.Days, "Calendar days back from each symbol's newest bar")
	minStrength := fs.Float64("min", cfg.Signals.MinStrength, "Report signals stronger than this")
	fs.Parse(args)

	engine, err := indicator.NewEngine(cfg.Indicators)
	if err != nil {
		return err
	}
	reader, err := sqlitestore.NewReader(cfg.SQLite.Path)
	if err != nil {
		return err
	}
	defer reader.Close()

	symbols, err := resolveSymbols(ctx, cfg, reader, fs.Args())
	if err != nil {
		return err
	}
	runner := indengine.NewRunner(engine, reader, nil, cfg.WorkerCount())
	for _, r := range runner.Run(ctx, symbols) {
		if r.Err != nil {
			log.Printf("[indcalc] %s: %v", r.Symbol, r.Err)
			continue
		}
		for _, s := range sequential.RecentSignals(r.Results, *days, *minStrength) {
			fmt.Printf("%-12s %s %-9s %-9s %.2f  %s\n",
				s.Symbol, s.TradeDate.Format(model.DateLayout), s.Direction, s.Kind, s.Strength, s.Description)
		}
	}
	return nil
}

func runEnqueue(ctx context.Context, cfg *config.Config, args []string) error {
	if cfg.Redis.Addr == "" {
		return errors.New("redis is not configured (set REDIS_ADDR)")
	}
	w, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer w.Close()

	var symbols []string
	for _, s := range args {
		symbols = append(symbols, strings.ToUpper(s))
	}
	id, err := w.EnqueueJob(ctx, symbols)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runWatch(ctx context.Context, cfg *config.Config, args []string) error {
	if cfg.Redis.Addr == "" {
		return errors.New("redis is not configured (set REDIS_ADDR)")
	}
	r, err := redisstore.NewReader(redisstore.ReaderConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer r.Close()

	symbol := "*"
	if len(args) > 0 {
		symbol = strings.ToUpper(args[0])
	}
	pubsub := r.SubscribeChannel(ctx, model.PubSubChannel(symbol))
	if pubsub == nil {
		return fmt.Errorf("subscribe %s failed", model.PubSubChannel(symbol))
	}
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var res model.IndicatorResult
			if err := json.Unmarshal([]byte(msg.Payload), &res); err != nil {
				log.Printf("[indcalc] bad payload on %s: %v", msg.Channel, err)
				continue
			}
			fmt.Printf("%s %-12s close=%.2f rsi=%s td=%+d %s\n",
				res.DateString(), res.Symbol, res.Close, fmtNull(res.RSI),
				res.Sequential.Count, res.Sequential.Description)
		}
	}
}

func resolveSymbols(ctx context.Context, cfg *config.Config, reader *sqlitestore.Reader, args []string) ([]string, error) {
	var symbols []string
	for _, s := range args {
		symbols = append(symbols, strings.ToUpper(s))
	}
	if len(symbols) == 0 {
		symbols = cfg.Symbols
	}
	if len(symbols) == 0 {
		return reader.ListSymbols(ctx)
	}
	return symbols, nil
}
