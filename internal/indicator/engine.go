package indicator

import (
	"signal-enginev1/internal/model"
	"signal-enginev1/internal/sequential"
)

// Engine computes the configured indicators and the nine-turn tracker for one
// symbol's bar series. An Engine holds only its configuration, so a single
// instance can be shared by any number of goroutines.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and returns an Engine. The error is a *ConfigError.
func NewEngine(cfg Config) (*Engine, error) {
	c, err := NewConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{cfg: c}, nil
}

// Config returns the normalised configuration in use.
func (e *Engine) Config() Config { return e.cfg }

// Compute returns one IndicatorResult per bar, in input order.
//
// bars must be a single symbol strictly increasing by trade date; otherwise
// the error is a *model.DataOrderError (or *model.BarError / ErrMixedSymbols
// for malformed bars) and no results are produced. The input is never
// reordered. An empty series yields an empty result.
func (e *Engine) Compute(bars []model.Bar) ([]model.IndicatorResult, error) {
	if err := model.ValidateSeries(bars); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return []model.IndicatorResult{}, nil
	}

	cfg := e.cfg
	closes := model.Closes(bars)
	highs := model.Highs(bars)
	lows := model.Lows(bars)
	volumes := model.Volumes(bars)

	// Column passes, one per indicator.
	ma := windowSeries(closes, cfg.MAWindows, SMASeries)
	ema := windowSeries(closes, cfg.EMAWindows, EMASeries)
	volMA := windowSeries(volumes, cfg.VolMAWindows, VolumeMASeries)
	macd := MACDSeries(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	rsi := RSISeries(closes, cfg.RSIPeriod)
	kdj := KDJSeries(highs, lows, closes, cfg.KDJPeriod, cfg.KDJKSmooth, cfg.KDJDSmooth)
	boll := BollingerSeries(closes, cfg.BollWindow, cfg.BollK)
	obv := OBVSeries(closes, volumes)
	volRatio := VolumeRatioSeries(volumes, cfg.VolRatioWindow)

	// Single stateful pass.
	seq := sequential.Run(bars)

	out := make([]model.IndicatorResult, len(bars))
	for i, b := range bars {
		out[i] = model.IndicatorResult{
			Symbol:     b.Symbol,
			TradeDate:  b.TradeDate,
			Close:      b.Close,
			Volume:     b.Volume,
			MA:         windowValues(cfg.MAWindows, ma, i),
			EMA:        windowValues(cfg.EMAWindows, ema, i),
			MACD:       macd[i],
			RSI:        rsi[i],
			KDJ:        kdj[i],
			Boll:       boll[i],
			OBV:        obv[i],
			VolMA:      windowValues(cfg.VolMAWindows, volMA, i),
			VolRatio:   volRatio[i],
			Sequential: seq[i],
		}
	}
	return out, nil
}

func windowSeries(xs []float64, windows []int, fn func([]float64, int) []model.NullFloat) [][]model.NullFloat {
	out := make([][]model.NullFloat, len(windows))
	for j, w := range windows {
		out[j] = fn(xs, w)
	}
	return out
}

func windowValues(windows []int, series [][]model.NullFloat, i int) []model.WindowValue {
	if len(windows) == 0 {
		return nil
	}
	vals := make([]model.WindowValue, len(windows))
	for j, w := range windows {
		vals[j] = model.WindowValue{Window: w, Value: series[j][i]}
	}
	return vals
}
