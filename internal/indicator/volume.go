package indicator

import "signal-enginev1/internal/model"

// OBVSeries computes On-Balance Volume. OBV[0] is the first volume; each
// later bar adds its volume on an up close, subtracts it on a down close and
// carries the total on an unchanged close.
func OBVSeries(closes, volumes []float64) []model.NullFloat {
	out := make([]model.NullFloat, len(closes))
	total := 0.0
	for i := range closes {
		switch {
		case i == 0:
			total = volumes[0]
		case closes[i] > closes[i-1]:
			total += volumes[i]
		case closes[i] < closes[i-1]:
			total -= volumes[i]
		}
		out[i] = model.Some(total)
	}
	return out
}

// VolumeRatioSeries returns volume[i] divided by the mean volume of the n
// preceding bars. Undefined for the first n bars and when that mean is 0.
func VolumeRatioSeries(volumes []float64, n int) []model.NullFloat {
	out := make([]model.NullFloat, len(volumes))
	prior := NewSMA(n)
	for i, v := range volumes {
		if prior.Ready() && prior.Value() != 0 {
			out[i] = model.Some(v / prior.Value())
		}
		prior.Push(v)
	}
	return out
}

// VolumeMASeries returns the simple moving average of volume over window n.
func VolumeMASeries(volumes []float64, n int) []model.NullFloat {
	return SMASeries(volumes, n)
}
