package sequential

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"signal-enginev1/internal/model"
)

// barsFromCloses builds consecutive daily bars with high/low one unit around close.
func barsFromCloses(closes ...float64) []model.Bar {
	start := model.Date(2024, time.January, 1)
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		bars[i] = model.Bar{
			Symbol:    "TEST",
			TradeDate: start.AddDate(0, 0, i),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1000,
		}
	}
	return bars
}

func falling(start float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start - float64(i)
	}
	return out
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (diff=%.6f)", label, got, want, math.Abs(got-want))
	}
}

// ────── Setup ──────

func TestSetup_NineFallingBars(t *testing.T) {
	bars := barsFromCloses(falling(100, 14)...)
	out := Run(bars)

	for i := 0; i < 4; i++ {
		if out[i].Phase != model.PhaseIdle || out[i].Count != 0 {
			t.Fatalf("bar %d: want idle/0 during warm-up, got %s/%d", i+1, out[i].Phase, out[i].Count)
		}
	}
	for i := 4; i <= 12; i++ {
		want := i - 3
		f := out[i]
		if f.Count != want || f.SetupCount != want {
			t.Errorf("bar %d: count=%d setup=%d, want %d", i+1, f.Count, f.SetupCount, want)
		}
		if f.Phase != model.PhaseSettingUp || f.Direction != model.DirectionBearish {
			t.Errorf("bar %d: phase=%s dir=%s", i+1, f.Phase, f.Direction)
		}
		if f.SetupCompleted != (want == 9) {
			t.Errorf("bar %d: SetupCompleted=%v", i+1, f.SetupCompleted)
		}
	}

	done := out[12]
	if !done.TDSTHigh.Valid || !done.TDSTLow.Valid {
		t.Fatal("TDST levels not recorded on completion bar")
	}
	assertClose(t, "TDST high", done.TDSTHigh.Float, 97, 1e-12)
	assertClose(t, "TDST low", done.TDSTLow.Float, 87, 1e-12)
	if !done.Perfected {
		t.Error("steadily falling setup should be perfected")
	}

	next := out[13]
	if next.Phase != model.PhaseCountingDown {
		t.Fatalf("bar 14: want counting_down, got %s", next.Phase)
	}
	if next.CountdownCount != 1 || next.Count != 1 {
		t.Errorf("bar 14: countdown=%d count=%d, want 1/1", next.CountdownCount, next.Count)
	}
}

func TestSetup_TieResetsToIdle(t *testing.T) {
	// bar 7 closes equal to bar 3
	out := Run(barsFromCloses(100, 99, 98, 97, 96, 95, 98, 96))

	if out[5].Count != 2 {
		t.Fatalf("bar 6: count=%d, want 2", out[5].Count)
	}
	if out[6].Phase != model.PhaseIdle || out[6].Count != 0 || out[6].SetupCount != 0 {
		t.Errorf("bar 7: tie should reset to idle/0, got %s/%d", out[6].Phase, out[6].Count)
	}
	if out[7].Count != 1 {
		t.Errorf("bar 8: count=%d, want restart at 1", out[7].Count)
	}
}

func TestSetup_FlipRestartsAtOne(t *testing.T) {
	out := Run(barsFromCloses(100, 99, 98, 97, 96, 95, 110))

	if out[5].Count != 2 || out[5].Direction != model.DirectionBearish {
		t.Fatalf("bar 6: count=%d dir=%s", out[5].Count, out[5].Direction)
	}
	if out[6].Count != -1 || out[6].Direction != model.DirectionBullish {
		t.Errorf("bar 7: count=%d dir=%s, want -1 bullish", out[6].Count, out[6].Direction)
	}
}

func TestSetup_RisingBarsCountNegative(t *testing.T) {
	closes := make([]float64, 13)
	for i := range closes {
		closes[i] = 50 + float64(i)
	}
	out := Run(barsFromCloses(closes...))
	last := out[12]
	if last.Count != -9 || !last.SetupCompleted || last.SetupDirection != model.DirectionBullish {
		t.Errorf("bar 13: count=%d completed=%v dir=%s", last.Count, last.SetupCompleted, last.SetupDirection)
	}
	assertClose(t, "TDST high", last.TDSTHigh.Float, 63, 1e-12)
	assertClose(t, "TDST low", last.TDSTLow.Float, 53, 1e-12)
}

func TestSetup_NotPerfected(t *testing.T) {
	closes := falling(100, 13)
	bars := barsFromCloses(closes...)
	// setup bars 8 and 9 are bars 12 and 13; keep their lows above setup bars 6 and 7
	bars[11].Low = bars[9].Low + 0.5
	bars[12].Low = bars[9].Low + 0.5
	out := Run(bars)
	if !out[12].SetupCompleted {
		t.Fatal("setup should still complete on closes")
	}
	if out[12].Perfected {
		t.Error("setup should not be perfected when bars 8/9 lows stay above bar 6/7 lows")
	}
}

// ────── Countdown ──────

func TestCountdown_CompletesAndReturnsToIdle(t *testing.T) {
	out := Run(barsFromCloses(falling(100, 28)...))

	// bars 14..21 count 1..8; bar 22 completes a second bearish setup (recycle)
	for i := 13; i <= 20; i++ {
		if out[i].CountdownCount != i-12 {
			t.Errorf("bar %d: countdown=%d, want %d", i+1, out[i].CountdownCount, i-12)
		}
	}
	rec := out[21]
	if !rec.Recycled || !rec.SetupCompleted {
		t.Fatalf("bar 22: want recycle, got %+v", rec)
	}
	if rec.CountdownCount != 8 || rec.Phase != model.PhaseCountingDown {
		t.Errorf("bar 22: recycle should keep countdown at 8, got %d (%s)", rec.CountdownCount, rec.Phase)
	}
	assertClose(t, "recycled TDST low", rec.TDSTLow.Float, 78, 1e-12)

	for i := 22; i <= 26; i++ {
		if out[i].CountdownCount != i-13 {
			t.Errorf("bar %d: countdown=%d, want %d", i+1, out[i].CountdownCount, i-13)
		}
	}
	done := out[26]
	if !done.CountdownCompleted || done.Count != 13 || done.Phase != model.PhaseCountingDown {
		t.Fatalf("bar 27: want completed countdown at 13, got %+v", done)
	}
	after := out[27]
	if after.Phase != model.PhaseSettingUp || after.Count != 1 || after.CountdownCount != 0 {
		t.Errorf("bar 28: want fresh setup at 1, got %s/%d cd=%d", after.Phase, after.Count, after.CountdownCount)
	}
}

func TestCountdown_NonConsecutive(t *testing.T) {
	closes := falling(100, 13)
	// 87 < 89 counts; 95 is not below 88 so it is skipped; 86 < 87 counts
	closes = append(closes, 87, 95, 86)
	out := Run(barsFromCloses(closes...))
	got := []int{out[13].CountdownCount, out[14].CountdownCount, out[15].CountdownCount}
	want := []int{1, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bar %d: countdown=%d, want %d", 14+i, got[i], want[i])
		}
	}
}

func TestCountdown_CancelledByOppositeSetup(t *testing.T) {
	closes := falling(100, 13)
	for i := 0; i < 10; i++ {
		closes = append(closes, 100+float64(i))
	}
	out := Run(barsFromCloses(closes...))

	for i := 13; i < 21; i++ {
		if out[i].Phase != model.PhaseCountingDown || out[i].CountdownCount != 0 {
			t.Errorf("bar %d: want counting_down at 0, got %s/%d", i+1, out[i].Phase, out[i].CountdownCount)
		}
		if out[i].SetupDirection != model.DirectionBullish || out[i].SetupCount != i-12 {
			t.Errorf("bar %d: background setup=%d %s", i+1, out[i].SetupCount, out[i].SetupDirection)
		}
	}

	c := out[21]
	if !c.Cancelled || c.Count != -9 || c.Phase != model.PhaseSettingUp {
		t.Fatalf("bar 22: want cancel with bullish 9, got %+v", c)
	}
	next := out[22]
	if next.Phase != model.PhaseCountingDown || next.Direction != model.DirectionBullish || next.Count != -1 {
		t.Errorf("bar 23: want bullish countdown at 1, got %s %s %d", next.Phase, next.Direction, next.Count)
	}
}

// ────── Invariants ──────

func TestInvariants_RandomWalk(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	closes := make([]float64, 2000)
	p := 100.0
	for i := range closes {
		p += float64(rng.Intn(5) - 2)
		closes[i] = p
	}

	var s State
	prevSetup := 0
	prevDir := model.DirectionNone
	for i, b := range barsFromCloses(closes...) {
		var f model.SequentialFields
		s, f = Step(s, b)

		if f.SetupCount < 0 || f.SetupCount > SetupTarget {
			t.Fatalf("bar %d: setup count %d out of range", i, f.SetupCount)
		}
		if f.CountdownCount < 0 || f.CountdownCount > CountdownTarget {
			t.Fatalf("bar %d: countdown count %d out of range", i, f.CountdownCount)
		}
		if abs(f.Count) > CountdownTarget {
			t.Fatalf("bar %d: count %d out of range", i, f.Count)
		}
		if f.SetupCount > 0 && f.SetupDirection == prevDir && prevSetup > 0 && f.SetupCount != prevSetup+1 {
			t.Fatalf("bar %d: same-direction run jumped %d -> %d", i, prevSetup, f.SetupCount)
		}
		if f.Strength < 0 || f.Strength > 1 {
			t.Fatalf("bar %d: strength %f", i, f.Strength)
		}

		switch s.Phase {
		case model.PhaseIdle:
			if s.SetupCount != 0 || s.CountdownCount != 0 {
				t.Fatalf("bar %d: idle state with counts %d/%d", i, s.SetupCount, s.CountdownCount)
			}
		case model.PhaseSettingUp:
			if s.SetupCount < 1 || s.SetupCount >= SetupTarget || s.CountdownCount != 0 {
				t.Fatalf("bar %d: bad setting_up state %+v", i, s)
			}
		case model.PhaseCountingDown:
			if s.CountdownCount >= CountdownTarget {
				t.Fatalf("bar %d: countdown state at %d", i, s.CountdownCount)
			}
		}

		prevSetup, prevDir = s.SetupCount, s.SetupDir
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// ────── Machine ──────

func TestMachine_PeekDoesNotAdvance(t *testing.T) {
	bars := barsFromCloses(falling(100, 10)...)
	m := NewMachine()
	for _, b := range bars[:9] {
		m.Update(b)
	}
	before := m.State()

	peeked := m.Peek(bars[9])
	if m.State() != before {
		t.Fatal("Peek mutated state")
	}
	got := m.Update(bars[9])
	if peeked != got {
		t.Errorf("Peek=%+v, Update=%+v", peeked, got)
	}
	if m.Count() != 10 || m.Snapshot() != got {
		t.Errorf("count=%d snapshot=%+v", m.Count(), m.Snapshot())
	}
}

func TestMachine_MatchesRun(t *testing.T) {
	bars := barsFromCloses(falling(100, 30)...)
	want := Run(bars)
	m := NewMachine()
	for i, b := range bars {
		if got := m.Update(b); got != want[i] {
			t.Fatalf("bar %d: machine %+v, run %+v", i, got, want[i])
		}
	}
	m.Reset()
	if m.Count() != 0 || m.State().Bars() != 0 {
		t.Error("Reset left history behind")
	}
}

// ────── Signals ──────

func TestScore_Weights(t *testing.T) {
	out := Run(barsFromCloses(falling(100, 28)...))

	assertClose(t, "setup 7 strength", out[10].Strength, 0.3, 1e-12)
	if out[10].Signal != 0 {
		t.Errorf("setup 7 signal=%d, want 0", out[10].Signal)
	}
	assertClose(t, "setup 9 strength", out[12].Strength, 0.9, 1e-12)
	if out[12].Signal != 1 {
		t.Errorf("setup 9 signal=%d, want 1", out[12].Signal)
	}
	assertClose(t, "countdown 10 strength", out[23].Strength, 0.4, 1e-12)
	assertClose(t, "countdown 13 strength", out[26].Strength, 1.0, 1e-12)
	if out[26].Signal != 1 || out[26].Description == "" {
		t.Errorf("countdown 13 signal=%d desc=%q", out[26].Signal, out[26].Description)
	}
}

func TestRecentSignals(t *testing.T) {
	bars := barsFromCloses(falling(100, 28)...)
	fields := Run(bars)
	results := make([]model.IndicatorResult, len(bars))
	for i, b := range bars {
		results[i] = model.IndicatorResult{
			Symbol:     b.Symbol,
			TradeDate:  b.TradeDate,
			Close:      b.Close,
			Volume:     b.Volume,
			Sequential: fields[i],
		}
	}

	all := RecentSignals(results, 0, 0.5)
	if len(all) != 3 {
		t.Fatalf("got %d signals, want 3: %+v", len(all), all)
	}
	wantDates := []time.Time{bars[26].TradeDate, bars[21].TradeDate, bars[12].TradeDate}
	wantKinds := []string{KindCountdown, KindSetup, KindSetup}
	for i := range all {
		if !all[i].TradeDate.Equal(wantDates[i]) || all[i].Kind != wantKinds[i] {
			t.Errorf("signal %d: %s %s", i, all[i].TradeDate.Format(model.DateLayout), all[i].Kind)
		}
	}

	recent := RecentSignals(results, 3, 0.5)
	if len(recent) != 1 || recent[0].Kind != KindCountdown {
		t.Errorf("3-day window: got %+v", recent)
	}

	if RecentSignals(nil, 30, 0.5) != nil {
		t.Error("empty input should give nil")
	}
}

func TestSignalOf_CarriesMACDDiff(t *testing.T) {
	r := model.IndicatorResult{
		Symbol:    "SBIN",
		TradeDate: model.Date(2024, time.January, 13),
		MACD: model.MACDValue{
			Diff:      model.Some(1.5),
			Signal:    model.Some(1.0),
			Histogram: model.Some(0.5),
		},
		Sequential: model.SequentialFields{
			SetupCount:     9,
			SetupDirection: model.DirectionBearish,
			SetupCompleted: true,
		},
	}
	score(&r.Sequential)

	sig, ok := SignalOf(r)
	if !ok {
		t.Fatal("completed setup should be a signal")
	}
	if !sig.MACD.Valid || sig.MACD.Float != 1.5 {
		t.Errorf("signal MACD = %v, want diff 1.5", sig.MACD)
	}
	if sig.Kind != KindSetup || sig.Direction != model.DirectionBearish {
		t.Errorf("signal %s %s", sig.Kind, sig.Direction)
	}
}

func TestSignalOf_NearingCountsAreNotSignals(t *testing.T) {
	// bearish countdown held at 11 while a bullish setup builds to 7
	f := model.SequentialFields{
		Phase:          model.PhaseCountingDown,
		Direction:      model.DirectionBearish,
		CountdownCount: 11,
		SetupCount:     7,
		SetupDirection: model.DirectionBullish,
	}
	score(&f)
	assertClose(t, "nearing strength", f.Strength, 0.7, 1e-12)
	if f.Signal != 0 {
		t.Fatalf("signal = %d, want 0", f.Signal)
	}

	r := model.IndicatorResult{Symbol: "SBIN", TradeDate: model.Date(2024, time.February, 2), Sequential: f}
	if sig, ok := SignalOf(r); ok {
		t.Errorf("reported %s signal %q", sig.Kind, sig.Description)
	}
	if got := RecentSignals([]model.IndicatorResult{r}, 0, 0.5); len(got) != 0 {
		t.Errorf("RecentSignals = %+v, want none", got)
	}
}
