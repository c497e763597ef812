package model

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

func series(symbol string, n int) []Bar {
	bars := make([]Bar, n)
	for i := range bars {
		bars[i] = Bar{
			Symbol:    symbol,
			TradeDate: Date(2024, time.January, 2).AddDate(0, 0, i),
			Open:      10, High: 11, Low: 9, Close: 10,
			Volume: 100,
		}
	}
	return bars
}

func TestValidateSeries_OK(t *testing.T) {
	if err := ValidateSeries(series("SBIN", 5)); err != nil {
		t.Fatalf("valid series rejected: %v", err)
	}
	if err := ValidateSeries(nil); err != nil {
		t.Fatalf("empty series rejected: %v", err)
	}
	zeroVol := series("SBIN", 2)
	zeroVol[1].Volume = 0
	if err := ValidateSeries(zeroVol); err != nil {
		t.Fatalf("zero volume rejected: %v", err)
	}
}

func TestValidateSeries_Order(t *testing.T) {
	bars := series("SBIN", 4)
	bars[3].TradeDate = bars[2].TradeDate

	err := ValidateSeries(bars)
	var oe *DataOrderError
	if !errors.As(err, &oe) {
		t.Fatalf("want *DataOrderError, got %v", err)
	}
	if oe.Index != 3 || !oe.Duplicate() || oe.Symbol != "SBIN" {
		t.Errorf("got %+v", oe)
	}

	bars = series("SBIN", 4)
	bars[2].TradeDate = bars[0].TradeDate.AddDate(0, 0, -1)
	if err := ValidateSeries(bars); !errors.As(err, &oe) || oe.Index != 2 || oe.Duplicate() {
		t.Errorf("backwards date: got %v", err)
	}
}

func TestValidateSeries_BadValues(t *testing.T) {
	for _, tc := range []struct {
		field string
		mut   func(*Bar)
	}{
		{"close", func(b *Bar) { b.Close = math.NaN() }},
		{"high", func(b *Bar) { b.High = math.Inf(1) }},
		{"low", func(b *Bar) { b.Low = -0.01 }},
	} {
		bars := series("SBIN", 3)
		tc.mut(&bars[1])
		var be *BarError
		if err := ValidateSeries(bars); !errors.As(err, &be) || be.Field != tc.field || be.Index != 1 {
			t.Errorf("%s: got %v", tc.field, err)
		}
	}

	mixed := series("SBIN", 3)
	mixed[2].Symbol = "TCS"
	if err := ValidateSeries(mixed); !errors.Is(err, ErrMixedSymbols) {
		t.Errorf("mixed symbols: got %v", err)
	}
}

func TestParseDate(t *testing.T) {
	for _, s := range []string{"2024-03-15", "20240315"} {
		d, err := ParseDate(s)
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		if !d.Equal(Date(2024, time.March, 15)) {
			t.Errorf("%s: got %v", s, d)
		}
	}
	if _, err := ParseDate("15/03/2024"); err == nil {
		t.Error("want error for unknown layout")
	}
}

func TestNullFloat_JSON(t *testing.T) {
	out, err := json.Marshal(struct {
		A NullFloat `json:"a"`
		B NullFloat `json:"b"`
	}{Some(1.5), Null})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"a":1.5,"b":null}` {
		t.Errorf("got %s", out)
	}

	var back struct {
		A NullFloat `json:"a"`
		B NullFloat `json:"b"`
	}
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatal(err)
	}
	if back.A != Some(1.5) || back.B.Valid {
		t.Errorf("got %+v", back)
	}
}

func TestNullFloat_Scan(t *testing.T) {
	var n NullFloat
	for _, src := range []any{2.5, int64(2), []byte("2.5"), "2.5"} {
		if err := n.Scan(src); err != nil || !n.Valid {
			t.Errorf("Scan(%T): %v %+v", src, err, n)
		}
	}
	if err := n.Scan(nil); err != nil || n.Valid {
		t.Errorf("Scan(nil): %v %+v", err, n)
	}
	if err := n.Scan(true); err == nil {
		t.Error("Scan(bool) should fail")
	}
	if v, _ := Null.Value(); v != nil {
		t.Errorf("Null.Value()=%v", v)
	}
	if Null.Or(7) != 7 || Some(3).Or(7) != 3 {
		t.Error("Or fallback")
	}
}

func TestSequentialFields_JSONText(t *testing.T) {
	f := SequentialFields{Count: -3, Phase: PhaseSettingUp, Direction: DirectionBullish, SetupCount: 3, SetupDirection: DirectionBullish}
	out, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	var back SequentialFields
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatal(err)
	}
	if back != f {
		t.Errorf("got %+v from %s", back, out)
	}
}

func TestKeys(t *testing.T) {
	if LatestKey("SBIN") != "ind:latest:SBIN" || PubSubChannel("SBIN") != "pub:ind:SBIN" {
		t.Error("key layout changed")
	}
	if WindowLabel("ma", 20) != "ma20" || Itoa(-42) != "-42" || Itoa(0) != "0" {
		t.Error("labels")
	}
	if FormatPrice(1.23456) != "1.235" {
		t.Errorf("FormatPrice=%s", FormatPrice(1.23456))
	}
}
