package indengine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"signal-enginev1/internal/model"
	"signal-enginev1/internal/sequential"
	"signal-enginev1/internal/store"
)

type fakeStore struct {
	*fakeBars
	results  map[string][]model.IndicatorResult
	signals  []sequential.Signal
	lastFrom time.Time
	lastQ    store.SignalQuery
}

func (f *fakeStore) ReadResults(_ context.Context, symbol string, from time.Time) ([]model.IndicatorResult, error) {
	f.lastFrom = from
	return f.results[symbol], nil
}

func (f *fakeStore) ReadLatest(_ context.Context, symbol string) (*model.IndicatorResult, error) {
	rs := f.results[symbol]
	if len(rs) == 0 {
		return nil, nil
	}
	r := rs[len(rs)-1]
	return &r, nil
}

func (f *fakeStore) ReadSignals(_ context.Context, q store.SignalQuery) ([]sequential.Signal, error) {
	f.lastQ = q
	return f.signals, nil
}

type fakeCache struct {
	res *model.IndicatorResult
	err error
}

func (c *fakeCache) ReadLatest(context.Context, string) (*model.IndicatorResult, error) {
	return c.res, c.err
}

type apiHarness struct {
	srv      *httptest.Server
	store    *fakeStore
	api      *API
	trigger  string
	symbols  []string
	enqueued []string
}

func newHarness(t *testing.T, withQueue bool, cache model.LatestReader) *apiHarness {
	t.Helper()
	h := &apiHarness{store: &fakeStore{fakeBars: newFakeBars(), results: map[string][]model.IndicatorResult{}}}
	run := func(ctx context.Context, trigger string, symbols []string) (*BatchReport, error) {
		h.trigger, h.symbols = trigger, symbols
		return &BatchReport{RunID: "api-x", Trigger: trigger, OK: len(symbols)}, nil
	}
	var queue EnqueueFunc
	if withQueue {
		queue = func(ctx context.Context, symbols []string) (string, error) {
			h.enqueued = symbols
			return "1700000000000-0", nil
		}
	}
	h.api = NewAPI(testEngine(t), h.store, cache, run, queue)
	h.api.now = func() time.Time { return time.Date(2024, time.March, 20, 15, 30, 0, 0, time.UTC) }
	h.srv = httptest.NewServer(h.api.Handler())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *apiHarness) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestAPI_Run(t *testing.T) {
	h := newHarness(t, false, nil)

	var rep BatchReport
	code := h.do(t, http.MethodPost, "/run", `{"symbols":[" infy ","tcs",""]}`, &rep)
	if code != http.StatusOK || rep.RunID != "api-x" {
		t.Fatalf("code %d report %+v", code, rep)
	}
	if h.trigger != "api" || len(h.symbols) != 2 || h.symbols[0] != "INFY" || h.symbols[1] != "TCS" {
		t.Errorf("run got %q %q", h.trigger, h.symbols)
	}

	// empty body runs everything
	if code := h.do(t, http.MethodPost, "/run", "", nil); code != http.StatusOK || h.symbols != nil {
		t.Errorf("empty body: %d %q", code, h.symbols)
	}
	if code := h.do(t, http.MethodPost, "/run", "{bad", nil); code != http.StatusBadRequest {
		t.Errorf("bad json: %d", code)
	}
	if code := h.do(t, http.MethodGet, "/run", "", nil); code != http.StatusMethodNotAllowed {
		t.Errorf("GET /run: %d", code)
	}
}

func TestAPI_Jobs(t *testing.T) {
	if code := newHarness(t, false, nil).do(t, http.MethodPost, "/jobs", `{}`, nil); code != http.StatusServiceUnavailable {
		t.Errorf("without queue: %d", code)
	}

	h := newHarness(t, true, nil)
	var out map[string]string
	code := h.do(t, http.MethodPost, "/jobs", `{"symbols":["sbin"]}`, &out)
	if code != http.StatusAccepted || out["id"] == "" {
		t.Fatalf("code %d body %v", code, out)
	}
	if len(h.enqueued) != 1 || h.enqueued[0] != "SBIN" {
		t.Errorf("enqueued %q", h.enqueued)
	}
}

func TestAPI_Results(t *testing.T) {
	h := newHarness(t, false, nil)
	day := model.Date(2024, time.March, 1)
	h.store.results["INFY"] = []model.IndicatorResult{
		{Symbol: "INFY", TradeDate: day, Close: 10},
		{Symbol: "INFY", TradeDate: day.AddDate(0, 0, 1), Close: 11},
	}

	var got []model.IndicatorResult
	if code := h.do(t, http.MethodGet, "/results/infy?from=2024-03-01", "", &got); code != http.StatusOK {
		t.Fatalf("code %d", code)
	}
	if len(got) != 2 || !h.store.lastFrom.Equal(day) {
		t.Errorf("got %d results, from %v", len(got), h.store.lastFrom)
	}
	if code := h.do(t, http.MethodGet, "/results/INFY?from=yesterday", "", nil); code != http.StatusBadRequest {
		t.Errorf("bad from: %d", code)
	}
	if code := h.do(t, http.MethodGet, "/results/NONE", "", nil); code != http.StatusNotFound {
		t.Errorf("unknown symbol: %d", code)
	}
}

func TestAPI_Latest(t *testing.T) {
	day := model.Date(2024, time.March, 1)
	cached := &model.IndicatorResult{Symbol: "INFY", TradeDate: day, Close: 99}
	h := newHarness(t, false, &fakeCache{res: cached})
	h.store.results["INFY"] = []model.IndicatorResult{{Symbol: "INFY", TradeDate: day, Close: 10}}

	var got model.IndicatorResult
	if code := h.do(t, http.MethodGet, "/latest/INFY", "", &got); code != http.StatusOK || got.Close != 99 {
		t.Errorf("cache hit: %d close=%v", code, got.Close)
	}

	// cache error falls back to the store
	h = newHarness(t, false, &fakeCache{err: errors.New("redis down")})
	h.store.results["INFY"] = []model.IndicatorResult{{Symbol: "INFY", TradeDate: day, Close: 10}}
	if code := h.do(t, http.MethodGet, "/latest/INFY", "", &got); code != http.StatusOK || got.Close != 10 {
		t.Errorf("fallback: %d close=%v", code, got.Close)
	}
	if code := h.do(t, http.MethodGet, "/latest/NONE", "", nil); code != http.StatusNotFound {
		t.Errorf("missing: %d", code)
	}
}

func TestAPI_Signals(t *testing.T) {
	h := newHarness(t, false, nil)
	h.store.signals = []sequential.Signal{{Symbol: "INFY", Kind: sequential.KindSetup, Strength: 0.9}}

	var got []sequential.Signal
	code := h.do(t, http.MethodGet, "/signals?symbol=infy&days=3&min_strength=0.7&limit=2", "", &got)
	if code != http.StatusOK || len(got) != 1 {
		t.Fatalf("code %d, %d signals", code, len(got))
	}
	q := h.store.lastQ
	if q.Symbol != "INFY" || q.MinStrength != 0.7 || q.Limit != 2 {
		t.Errorf("query %+v", q)
	}
	if want := model.Date(2024, time.March, 17); !q.Since.Equal(want) {
		t.Errorf("since %v, want %v", q.Since, want)
	}

	// defaults
	h.do(t, http.MethodGet, "/signals", "", &got)
	if q := h.store.lastQ; q.MinStrength != 0.5 || !q.Since.Equal(model.Date(2024, time.March, 15)) || q.Symbol != "" {
		t.Errorf("default query %+v", q)
	}

	for _, bad := range []string{"days=0", "days=x", "min_strength=hi", "limit=-1"} {
		if code := h.do(t, http.MethodGet, "/signals?"+bad, "", nil); code != http.StatusBadRequest {
			t.Errorf("%s: %d", bad, code)
		}
	}
}

func TestAPI_Preview(t *testing.T) {
	h := newHarness(t, false, nil)
	// twelve falling bars stored; the previewed 13th completes the setup
	h.store.bars["TEST"] = series("TEST", 12, 100, -1)

	var got model.IndicatorResult
	body := `{"trade_date":"2024-01-13","open":88,"high":89,"low":87,"close":88,"volume":1000}`
	if code := h.do(t, http.MethodPost, "/preview/test", body, &got); code != http.StatusOK {
		t.Fatalf("code %d", code)
	}
	if got.Symbol != "TEST" || got.Close != 88 {
		t.Errorf("result header %+v", got)
	}
	if got.Sequential.Count != 9 || !got.Sequential.SetupCompleted {
		t.Errorf("sequential %+v", got.Sequential)
	}
	if got.RSI.Valid {
		t.Errorf("rsi %v before the warm-up is complete", got.RSI)
	}

	// nothing was stored: previewing again gives the same answer
	var again model.IndicatorResult
	h.do(t, http.MethodPost, "/preview/TEST", body, &again)
	if again.Sequential != got.Sequential {
		t.Error("preview is not repeatable")
	}

	// a bar dated inside the history is previewed against the bars before it
	early := `{"trade_date":"2024-01-03","open":1,"high":2,"low":1,"close":1,"volume":0}`
	if code := h.do(t, http.MethodPost, "/preview/TEST", early, &got); code != http.StatusOK || got.Sequential.Count != 0 {
		t.Errorf("early preview: %d %+v", code, got.Sequential)
	}

	for name, b := range map[string]string{
		"json":     `{`,
		"date":     `{"trade_date":"13/01/2024","close":1}`,
		"negative": `{"trade_date":"2024-01-13","close":-5}`,
	} {
		if code := h.do(t, http.MethodPost, "/preview/TEST", b, nil); code != http.StatusBadRequest {
			t.Errorf("%s: %d", name, code)
		}
	}
}

func TestAPI_Symbols(t *testing.T) {
	h := newHarness(t, false, nil)
	var got []string
	if code := h.do(t, http.MethodGet, "/symbols", "", &got); code != http.StatusOK || len(got) != 0 || got == nil {
		t.Errorf("empty store: %d %v", code, got)
	}
}

func TestAPI_LatestCarriesTrend(t *testing.T) {
	h := newHarness(t, false, nil)
	h.store.results["INFY"] = []model.IndicatorResult{{
		Symbol:    "INFY",
		TradeDate: model.Date(2024, time.March, 1),
		Close:     10,
		MA:        []model.WindowValue{{Window: 5, Value: model.Some(11)}, {Window: 20, Value: model.Some(10)}},
		MACD:      model.MACDValue{Diff: model.Some(0.4), Signal: model.Some(0.1)},
	}}

	var got struct {
		Symbol string      `json:"symbol"`
		Close  float64     `json:"close"`
		Trend  model.Trend `json:"trend"`
	}
	if code := h.do(t, http.MethodGet, "/latest/INFY", "", &got); code != http.StatusOK {
		t.Fatalf("code %d", code)
	}
	if got.Symbol != "INFY" || got.Close != 10 {
		t.Errorf("result fields missing: %+v", got)
	}
	if got.Trend.Label != model.TrendBullish || len(got.Trend.Notes) != 2 {
		t.Errorf("trend %+v", got.Trend)
	}
}
