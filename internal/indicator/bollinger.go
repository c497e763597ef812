package indicator

import "signal-enginev1/internal/model"

// BollingerSeries computes middle = SMA(n) and upper/lower = middle ± k·σ,
// where σ is the population standard deviation of the last n closes.
// Zero variance collapses all three bands onto the middle.
func BollingerSeries(closes []float64, n int, k float64) []model.BollValue {
	out := make([]model.BollValue, len(closes))
	sma := NewSMA(n)
	for i, c := range closes {
		sma.Push(c)
		if !sma.Ready() {
			continue
		}
		mid := sma.Value()
		width := k * rollingStd(sma.Window())
		out[i] = model.BollValue{
			Upper:  model.Some(mid + width),
			Middle: model.Some(mid),
			Lower:  model.Some(mid - width),
		}
	}
	return out
}
