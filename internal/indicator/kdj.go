package indicator

import (
	"math"

	"signal-enginev1/internal/model"
)

// kdjSeed is the starting value of %K and %D before the first RSV.
const kdjSeed = 50.0

// RSVSeries returns the raw stochastic value over period n:
// 100·(close − lowest low)/(highest high − lowest low), clamped to [0,100].
// A flat n-period range yields 50.
func RSVSeries(highs, lows, closes []float64, n int) []model.NullFloat {
	out := make([]model.NullFloat, len(closes))
	for i := n - 1; i < len(closes); i++ {
		hh, ll := highs[i], lows[i]
		for j := i - n + 1; j < i; j++ {
			hh = math.Max(hh, highs[j])
			ll = math.Min(ll, lows[j])
		}
		rng := hh - ll
		if rng == 0 {
			out[i] = model.Some(50)
			continue
		}
		rsv := 100 * (closes[i] - ll) / rng
		out[i] = model.Some(math.Max(0, math.Min(100, rsv)))
	}
	return out
}

// KDJSeries computes the KDJ stochastic. %K is the RSV smoothed with factor
// 1/kSmooth, %D is %K smoothed with factor 1/dSmooth, both starting from 50,
// and %J = 3·%K − 2·%D. All three are defined from index n-1.
func KDJSeries(highs, lows, closes []float64, n, kSmooth, dSmooth int) []model.KDJValue {
	rsv := RSVSeries(highs, lows, closes, n)
	k := NewSeededSMMA(kSmooth, kdjSeed)
	d := NewSeededSMMA(dSmooth, kdjSeed)

	out := make([]model.KDJValue, len(closes))
	for i, r := range rsv {
		if !r.Valid {
			continue
		}
		k.Push(r.Float)
		d.Push(k.Value())
		kv, dv := k.Value(), d.Value()
		out[i] = model.KDJValue{
			K: model.Some(kv),
			D: model.Some(dv),
			J: model.Some(3*kv - 2*dv),
		}
	}
	return out
}
