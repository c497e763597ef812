package model

import (
	"encoding/json"
	"time"
)

// WindowValue is an indicator value for one configured window.
type WindowValue struct {
	Window int       `json:"window"`
	Value  NullFloat `json:"value"`
}

// MACDValue holds the three MACD lines for one bar.
type MACDValue struct {
	Diff      NullFloat `json:"diff"`
	Signal    NullFloat `json:"signal"`
	Histogram NullFloat `json:"histogram"`
}

// KDJValue holds the stochastic K, D and J lines for one bar.
type KDJValue struct {
	K NullFloat `json:"k"`
	D NullFloat `json:"d"`
	J NullFloat `json:"j"`
}

// BollValue holds the Bollinger band lines for one bar.
type BollValue struct {
	Upper  NullFloat `json:"upper"`
	Middle NullFloat `json:"middle"`
	Lower  NullFloat `json:"lower"`
}

// IndicatorResult holds every computed indicator for one bar of one symbol.
// Window slices are sorted by ascending window.
type IndicatorResult struct {
	Symbol    string    `json:"symbol"`
	TradeDate time.Time `json:"trade_date"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`

	MA       []WindowValue `json:"ma"`
	EMA      []WindowValue `json:"ema"`
	MACD     MACDValue     `json:"macd"`
	RSI      NullFloat     `json:"rsi"`
	KDJ      KDJValue      `json:"kdj"`
	Boll     BollValue     `json:"boll"`
	OBV      NullFloat     `json:"obv"`
	VolMA    []WindowValue `json:"vol_ma"`
	VolRatio NullFloat     `json:"vol_ratio"`

	Sequential SequentialFields `json:"sequential"`
}

// MAValue returns the simple moving average for window, or Null if not configured.
func (r *IndicatorResult) MAValue(window int) NullFloat {
	return lookupWindow(r.MA, window)
}

// EMAValue returns the exponential moving average for window, or Null if not configured.
func (r *IndicatorResult) EMAValue(window int) NullFloat {
	return lookupWindow(r.EMA, window)
}

// VolMAValue returns the volume moving average for window, or Null if not configured.
func (r *IndicatorResult) VolMAValue(window int) NullFloat {
	return lookupWindow(r.VolMA, window)
}

func lookupWindow(vals []WindowValue, window int) NullFloat {
	for _, wv := range vals {
		if wv.Window == window {
			return wv.Value
		}
	}
	return Null
}

// DateString formats the trade date as "2006-01-02".
func (r *IndicatorResult) DateString() string {
	return r.TradeDate.Format(DateLayout)
}

// LatestKey returns the cache key for a symbol's latest result: "ind:latest:{symbol}".
func LatestKey(symbol string) string {
	return "ind:latest:" + symbol
}

// PubSubChannel returns the channel a symbol's results are announced on: "pub:ind:{symbol}".
func PubSubChannel(symbol string) string {
	return "pub:ind:" + symbol
}

// JSON returns the JSON-encoded result (ignoring errors).
func (r *IndicatorResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}

// Trend labels.
const (
	TrendBullish = "bullish"
	TrendBearish = "bearish"
	TrendNeutral = "neutral"
)

// Trend is a coarse reading of one result: a signed score built from the
// moving averages, MACD, RSI and the nine-turn signal, and the label it maps to.
type Trend struct {
	Label    string   `json:"trend"`
	Score    float64  `json:"score"`
	Strength float64  `json:"strength"` // |Score|
	Notes    []string `json:"notes"`
}
