package indicator

import (
	"signal-enginev1/internal/model"
	"signal-enginev1/internal/sequential"
)

// kernel pairs an incremental indicator with the bar count it needs before
// producing a value.
type kernel struct {
	window int
	ind    Indicator
	warm   int
}

// Live tracks one symbol incrementally: completed bars go through Update and
// a still-forming bar can be previewed with Peek. It covers the moving
// averages, RSI and the nine-turn tracker; band and oscillator columns that
// need full windows of highs/lows come from Engine.Compute.
//
// A Live is owned by a single goroutine.
type Live struct {
	symbol string
	ma     []kernel
	ema    []kernel
	rsi    kernel
	seq    *sequential.Machine
	last   *model.Bar
	count  int
}

// NewLive returns an empty tracker for symbol using the engine's configuration.
func (e *Engine) NewLive(symbol string) *Live {
	l := &Live{
		symbol: symbol,
		rsi:    kernel{window: e.cfg.RSIPeriod, ind: NewRSI(e.cfg.RSIPeriod), warm: e.cfg.RSIPeriod + 1},
		seq:    sequential.NewMachine(),
	}
	for _, w := range e.cfg.MAWindows {
		l.ma = append(l.ma, kernel{window: w, ind: NewSMA(w), warm: w})
	}
	for _, w := range e.cfg.EMAWindows {
		l.ema = append(l.ema, kernel{window: w, ind: NewEMA(w), warm: w})
	}
	return l
}

// Count returns how many completed bars have been consumed.
func (l *Live) Count() int { return l.count }

// Update consumes a completed bar.
func (l *Live) Update(b model.Bar) (model.IndicatorResult, error) {
	if err := l.check(b); err != nil {
		return model.IndicatorResult{}, err
	}
	for _, k := range l.kernels() {
		k.ind.Update(b)
	}
	fields := l.seq.Update(b)
	l.count++
	bar := b
	l.last = &bar

	r := l.result(b)
	r.MA = values(l.ma, func(k kernel) model.NullFloat { return current(k.ind) })
	r.EMA = values(l.ema, func(k kernel) model.NullFloat { return current(k.ind) })
	r.RSI = current(l.rsi.ind)
	r.Sequential = fields
	return r, nil
}

// Peek previews the result b would produce as the next bar without
// consuming it. Values still inside their warm-up after b stay undefined.
func (l *Live) Peek(b model.Bar) (model.IndicatorResult, error) {
	if err := l.check(b); err != nil {
		return model.IndicatorResult{}, err
	}
	r := l.result(b)
	r.MA = values(l.ma, func(k kernel) model.NullFloat { return l.peek(k, b.Close) })
	r.EMA = values(l.ema, func(k kernel) model.NullFloat { return l.peek(k, b.Close) })
	r.RSI = l.peek(l.rsi, b.Close)
	r.Sequential = l.seq.Peek(b)
	return r, nil
}

func (l *Live) check(b model.Bar) error {
	if b.Symbol != l.symbol {
		return model.ErrMixedSymbols
	}
	if l.last != nil && !b.TradeDate.After(l.last.TradeDate) {
		return &model.DataOrderError{
			Symbol: b.Symbol,
			Index:  l.count,
			Prev:   l.last.TradeDate,
			Date:   b.TradeDate,
		}
	}
	return nil
}

func (l *Live) peek(k kernel, close float64) model.NullFloat {
	if l.count+1 < k.warm {
		return model.Null
	}
	return model.Some(k.ind.Peek(close))
}

func (l *Live) kernels() []kernel {
	ks := make([]kernel, 0, len(l.ma)+len(l.ema)+1)
	ks = append(ks, l.ma...)
	ks = append(ks, l.ema...)
	return append(ks, l.rsi)
}

func (l *Live) result(b model.Bar) model.IndicatorResult {
	return model.IndicatorResult{
		Symbol:    b.Symbol,
		TradeDate: b.TradeDate,
		Close:     b.Close,
		Volume:    b.Volume,
	}
}

func values(ks []kernel, fn func(kernel) model.NullFloat) []model.WindowValue {
	if len(ks) == 0 {
		return nil
	}
	out := make([]model.WindowValue, len(ks))
	for i, k := range ks {
		out[i] = model.WindowValue{Window: k.window, Value: fn(k)}
	}
	return out
}
