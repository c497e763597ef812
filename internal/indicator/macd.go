package indicator

import "signal-enginev1/internal/model"

// MACDSeries computes diff = EMA(fast) − EMA(slow), signal = EMA(signal) of
// diff and histogram = diff − signal.
//
// diff is defined from index slow-1; signal and histogram need a further
// signal-1 defined diff values for their own seed.
func MACDSeries(closes []float64, fast, slow, signal int) []model.MACDValue {
	fastEMA := EMASeries(closes, fast)
	slowEMA := EMASeries(closes, slow)

	diff := make([]model.NullFloat, len(closes))
	for i := range closes {
		if fastEMA[i].Valid && slowEMA[i].Valid {
			diff[i] = model.Some(fastEMA[i].Float - slowEMA[i].Float)
		}
	}
	sig := emaOfDefined(diff, signal)

	out := make([]model.MACDValue, len(closes))
	for i := range closes {
		out[i].Diff = diff[i]
		out[i].Signal = sig[i]
		if diff[i].Valid && sig[i].Valid {
			out[i].Histogram = model.Some(diff[i].Float - sig[i].Float)
		}
	}
	return out
}
