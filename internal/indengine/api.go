package indengine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/model"
	"signal-enginev1/internal/sequential"
	"signal-enginev1/internal/store"
)

// ResultStore is what the API reads stored bars, results and signals from.
type ResultStore interface {
	model.BarReader
	model.LatestReader
	store.SignalReader
	ReadResults(ctx context.Context, symbol string, from time.Time) ([]model.IndicatorResult, error)
}

// BatchFunc runs a batch for symbols (all configured symbols when empty).
type BatchFunc func(ctx context.Context, trigger string, symbols []string) (*BatchReport, error)

// EnqueueFunc queues a recompute job and returns its stream ID.
type EnqueueFunc func(ctx context.Context, symbols []string) (string, error)

// API serves the engine's HTTP endpoints. /metrics and /healthz are mounted
// by metrics.Server in front of it.
type API struct {
	engine *indicator.Engine
	store  ResultStore
	cache  model.LatestReader // optional, consulted before store for /latest
	run    BatchFunc
	queue  EnqueueFunc // optional

	SignalDays  int
	MinStrength float64
	now         func() time.Time
}

// NewAPI creates the API. cache and queue may be nil.
func NewAPI(engine *indicator.Engine, rs ResultStore, cache model.LatestReader, run BatchFunc, queue EnqueueFunc) *API {
	return &API{
		engine:      engine,
		store:       rs,
		cache:       cache,
		run:         run,
		queue:       queue,
		SignalDays:  5,
		MinStrength: 0.5,
		now:         time.Now,
	}
}

// Handler returns the routed handler.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /run", a.handleRun)
	mux.HandleFunc("POST /jobs", a.handleEnqueue)
	mux.HandleFunc("GET /symbols", a.handleSymbols)
	mux.HandleFunc("GET /results/{symbol}", a.handleResults)
	mux.HandleFunc("GET /latest/{symbol}", a.handleLatest)
	mux.HandleFunc("GET /signals", a.handleSignals)
	mux.HandleFunc("POST /preview/{symbol}", a.handlePreview)
	return mux
}

type symbolsRequest struct {
	Symbols []string `json:"symbols"`
}

func (a *API) handleRun(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSymbols(w, r)
	if !ok {
		return
	}
	rep, err := a.run(r.Context(), "api", req.Symbols)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *API) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if a.queue == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("job stream not configured"))
		return
	}
	req, ok := decodeSymbols(w, r)
	if !ok {
		return
	}
	id, err := a.queue(r.Context(), req.Symbols)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (a *API) handleSymbols(w http.ResponseWriter, r *http.Request) {
	syms, err := a.store.ListSymbols(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if syms == nil {
		syms = []string{}
	}
	writeJSON(w, http.StatusOK, syms)
}

func (a *API) handleResults(w http.ResponseWriter, r *http.Request) {
	symbol := normalizeSymbol(r.PathValue("symbol"))
	from, err := dateParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := a.store.ReadResults(r.Context(), symbol, from)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(res) == 0 {
		writeError(w, http.StatusNotFound, errors.New("no results for "+symbol))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleLatest(w http.ResponseWriter, r *http.Request) {
	symbol := normalizeSymbol(r.PathValue("symbol"))
	ctx := r.Context()

	var res *model.IndicatorResult
	if a.cache != nil {
		var err error
		if res, err = a.cache.ReadLatest(ctx, symbol); err != nil {
			log.Printf("[indengine] latest cache miss for %s: %v", symbol, err)
		}
	}
	if res == nil {
		var err error
		if res, err = a.store.ReadLatest(ctx, symbol); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	if res == nil {
		writeError(w, http.StatusNotFound, errors.New("no results for "+symbol))
		return
	}
	writeJSON(w, http.StatusOK, latestResponse{IndicatorResult: res, Trend: indicator.Trend(*res)})
}

type latestResponse struct {
	*model.IndicatorResult
	Trend model.Trend `json:"trend"`
}

func (a *API) handleSignals(w http.ResponseWriter, r *http.Request) {
	q := store.SignalQuery{
		Symbol:      normalizeSymbol(r.URL.Query().Get("symbol")),
		MinStrength: a.MinStrength,
	}
	days := a.SignalDays
	var err error
	if v := r.URL.Query().Get("days"); v != "" {
		if days, err = strconv.Atoi(v); err != nil || days <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("days must be a positive integer"))
			return
		}
	}
	if v := r.URL.Query().Get("min_strength"); v != "" {
		if q.MinStrength, err = strconv.ParseFloat(v, 64); err != nil {
			writeError(w, http.StatusBadRequest, errors.New("min_strength must be a number"))
			return
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil || q.Limit < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
	}
	q.Since = model.DateOf(a.now()).AddDate(0, 0, -days)

	sigs, err := a.store.ReadSignals(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sigs == nil {
		sigs = []sequential.Signal{}
	}
	writeJSON(w, http.StatusOK, sigs)
}

type previewRequest struct {
	TradeDate string  `json:"trade_date"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// handlePreview replays the symbol's stored bars and previews the posted,
// still-forming bar on top of them. Nothing is stored.
func (a *API) handlePreview(w http.ResponseWriter, r *http.Request) {
	symbol := normalizeSymbol(r.PathValue("symbol"))
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON: "+err.Error()))
		return
	}
	day, err := model.ParseDate(req.TradeDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	bar := model.Bar{Symbol: symbol, TradeDate: day,
		Open: req.Open, High: req.High, Low: req.Low, Close: req.Close, Volume: req.Volume}
	if err := model.ValidateSeries([]model.Bar{bar}); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	history, err := a.store.ReadBars(ctx, symbol, time.Time{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	live := a.engine.NewLive(symbol)
	for _, b := range history {
		if !b.TradeDate.Before(day) {
			break
		}
		if _, err := live.Update(b); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	res, err := live.Peek(bar)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeSymbols(w http.ResponseWriter, r *http.Request) (symbolsRequest, bool) {
	var req symbolsRequest
	// an empty body means every configured symbol
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON: "+err.Error()))
		return req, false
	}
	req.Symbols = normalizeSymbols(req.Symbols)
	return req, true
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func normalizeSymbols(in []string) []string {
	var out []string
	for _, s := range in {
		if s = normalizeSymbol(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func dateParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	return model.ParseDate(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
