package indicator

import (
	"math"

	"signal-enginev1/internal/model"
)

// SMASeries returns the simple moving average of xs over window n.
// Entries before index n-1 are undefined.
func SMASeries(xs []float64, n int) []model.NullFloat {
	out := make([]model.NullFloat, len(xs))
	sma := NewSMA(n)
	for i, x := range xs {
		sma.Push(x)
		out[i] = current(sma)
	}
	return out
}

// EMASeries returns the exponential moving average of xs over window n,
// seeded with the simple average of the first n values.
func EMASeries(xs []float64, n int) []model.NullFloat {
	out := make([]model.NullFloat, len(xs))
	ema := NewEMA(n)
	for i, x := range xs {
		ema.Push(x)
		out[i] = current(ema)
	}
	return out
}

// emaOfDefined applies an EMA over the defined entries of xs only, keeping
// undefined entries undefined. Used to smooth a line that itself has a warm-up.
func emaOfDefined(xs []model.NullFloat, n int) []model.NullFloat {
	out := make([]model.NullFloat, len(xs))
	ema := NewEMA(n)
	for i, x := range xs {
		if !x.Valid {
			continue
		}
		ema.Push(x.Float)
		out[i] = current(ema)
	}
	return out
}

// RSISeries returns Wilder's RSI over period n. The first value is at index n.
func RSISeries(closes []float64, n int) []model.NullFloat {
	out := make([]model.NullFloat, len(closes))
	rsi := NewRSI(n)
	for i, c := range closes {
		rsi.Push(c)
		out[i] = current(rsi)
	}
	return out
}

// rollingStd returns the population standard deviation of the last len(win)
// values. A window with no spread is exactly 0.
func rollingStd(win []float64) float64 {
	lo, hi := win[0], win[0]
	sum := 0.0
	for _, v := range win {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		return 0
	}
	mean := sum / float64(len(win))
	ss := 0.0
	for _, v := range win {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(win)))
}
