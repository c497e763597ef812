package indicator

import (
	"math"

	"signal-enginev1/internal/model"
)

// Trend score contributions and the label cut-off.
const (
	trendMAWeight   = 0.2
	trendMACDWeight = 0.15
	trendRSIWeight  = 0.1
	trendTDWeight   = 0.3
	trendThreshold  = 0.3

	rsiOverbought = 70
	rsiOversold   = 30
)

// Trend scores r:
//
//	MA5 above MA20          +0.2, otherwise −0.2
//	MACD diff above signal  +0.15, otherwise −0.15
//	RSI above 70 −0.1, below 30 +0.1
//	nine-turn buy signal    +0.3, sell signal −0.3
//
// Undefined inputs (or MA windows that are not configured) contribute
// nothing. A score above 0.3 is bullish, below −0.3 bearish.
func Trend(r model.IndicatorResult) model.Trend {
	var (
		score float64
		notes = []string{}
	)

	if ma5, ma20 := r.MAValue(5), r.MAValue(20); ma5.Valid && ma20.Valid {
		if ma5.Float > ma20.Float {
			score += trendMAWeight
			notes = append(notes, "MA5 above MA20")
		} else {
			score -= trendMAWeight
			notes = append(notes, "MA5 below MA20")
		}
	}

	if m := r.MACD; m.Diff.Valid && m.Signal.Valid {
		if m.Diff.Float > m.Signal.Float {
			score += trendMACDWeight
			notes = append(notes, "MACD above signal")
		} else {
			score -= trendMACDWeight
			notes = append(notes, "MACD below signal")
		}
	}

	if r.RSI.Valid {
		switch {
		case r.RSI.Float > rsiOverbought:
			score -= trendRSIWeight
			notes = append(notes, "RSI overbought")
		case r.RSI.Float < rsiOversold:
			score += trendRSIWeight
			notes = append(notes, "RSI oversold")
		}
	}

	// A positive signal ends a falling run: a buy.
	switch s := r.Sequential.Signal; {
	case s > 0:
		score += trendTDWeight
		notes = append(notes, "nine-turn buy signal")
	case s < 0:
		score -= trendTDWeight
		notes = append(notes, "nine-turn sell signal")
	}

	label := model.TrendNeutral
	switch {
	case score > trendThreshold:
		label = model.TrendBullish
	case score < -trendThreshold:
		label = model.TrendBearish
	}
	return model.Trend{Label: label, Score: score, Strength: math.Abs(score), Notes: notes}
}
