package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// DateLayout is the wire/storage layout for trade dates.
const DateLayout = "2006-01-02"

// Bar is one daily OHLCV record for a single symbol.
// TradeDate is a calendar date normalised to UTC midnight.
type Bar struct {
	Symbol    string    `json:"symbol"`
	TradeDate time.Time `json:"trade_date"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Date returns the calendar date for y-m-d at UTC midnight.
func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateOf truncates t to its calendar date (in t's own location) at UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return Date(y, m, d)
}

// ParseDate parses "2006-01-02" or the compact "20060102" form used by upstream feeds.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("20060102", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse trade date %q: %w", s, err)
	}
	return t, nil
}

// DateString formats the bar's trade date as "2006-01-02".
func (b *Bar) DateString() string {
	return b.TradeDate.Format(DateLayout)
}

// JSON returns the JSON-encoded bar (ignoring errors).
func (b *Bar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}

// ErrMixedSymbols is returned when a series carries bars for more than one symbol.
var ErrMixedSymbols = errors.New("series contains bars for more than one symbol")

// BarError reports a bar with a non-finite or negative field.
type BarError struct {
	Symbol string
	Index  int
	Field  string
	Value  float64
}

func (e *BarError) Error() string {
	return fmt.Sprintf("bar %d of %s: invalid %s %v", e.Index, e.Symbol, e.Field, e.Value)
}

// DataOrderError reports bars that are not strictly increasing by trade date.
// Index is the position of the offending bar; Prev is the date of the bar before it.
type DataOrderError struct {
	Symbol string
	Index  int
	Prev   time.Time
	Date   time.Time
}

func (e *DataOrderError) Error() string {
	if e.Date.Equal(e.Prev) {
		return fmt.Sprintf("%s: duplicate trade date %s at bar %d",
			e.Symbol, e.Date.Format(DateLayout), e.Index)
	}
	return fmt.Sprintf("%s: bar %d dated %s is not after %s",
		e.Symbol, e.Index, e.Date.Format(DateLayout), e.Prev.Format(DateLayout))
}

// Duplicate reports whether the error was caused by a repeated date.
func (e *DataOrderError) Duplicate() bool {
	return e.Date.Equal(e.Prev)
}

// ValidateSeries checks that bars belong to one symbol, carry finite
// non-negative values and are strictly increasing by trade date.
// The input is never reordered.
func ValidateSeries(bars []Bar) error {
	for i := range bars {
		b := &bars[i]
		if i > 0 && b.Symbol != bars[0].Symbol {
			return fmt.Errorf("bar %d (%s vs %s): %w", i, b.Symbol, bars[0].Symbol, ErrMixedSymbols)
		}
		for _, f := range [...]struct {
			name string
			v    float64
		}{
			{"open", b.Open}, {"high", b.High}, {"low", b.Low}, {"close", b.Close}, {"volume", b.Volume},
		} {
			if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
				return &BarError{Symbol: b.Symbol, Index: i, Field: f.name, Value: f.v}
			}
		}
		if i > 0 && !b.TradeDate.After(bars[i-1].TradeDate) {
			return &DataOrderError{
				Symbol: b.Symbol,
				Index:  i,
				Prev:   bars[i-1].TradeDate,
				Date:   b.TradeDate,
			}
		}
	}
	return nil
}

// Closes extracts the close column.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].Close
	}
	return out
}

// Highs extracts the high column.
func Highs(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].High
	}
	return out
}

// Lows extracts the low column.
func Lows(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].Low
	}
	return out
}

// Volumes extracts the volume column.
func Volumes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].Volume
	}
	return out
}
