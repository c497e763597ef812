// Package sequential implements the nine-turn Setup/Countdown tracker.
//
// The tracker is a value type (State) advanced by the pure function Step, one
// bar at a time in date order. Machine wraps it for callers that prefer an
// object, and Run drives a whole series.
//
// Setup compares each close with the close four bars earlier. Consecutive
// closes below it build a bearish setup, closes above it a bullish one; an
// equal close breaks the run. Nine in a row complete the setup, record the
// TDST levels and start a countdown on the following bar. The countdown
// counts (not necessarily consecutive) closes beyond the close two bars
// earlier, in the setup's direction, and completes at thirteen.
//
// While counting down the setup run keeps being tracked. A new nine in the
// countdown's direction recycles it (fresh TDST levels, count preserved, no
// increment on that bar); a nine in the opposite direction cancels it and
// starts the new direction's countdown on the next bar.
package sequential

import (
	"signal-enginev1/internal/model"
)

const (
	// SetupTarget is the run length that completes a setup.
	SetupTarget = 9
	// CountdownTarget is the count that completes a countdown.
	CountdownTarget = 13

	setupLookback     = 4
	countdownLookback = 2
)

// State is the full tracker state for one symbol. The zero value is Idle
// with no history. Invariants kept by Step:
//   - Idle:         SetupCount == 0, CountdownCount == 0
//   - SettingUp:    1 <= SetupCount <= 8, CountdownCount == 0
//   - CountingDown: 0 <= SetupCount <= 8 (background run), 0 <= CountdownCount <= 12
type State struct {
	Phase model.Phase

	SetupDir   model.Direction
	SetupCount int

	CountdownDir   model.Direction
	CountdownCount int

	// TDST levels and perfection of the most recent completed setup.
	TDSTHigh  model.NullFloat
	TDSTLow   model.NullFloat
	Perfected bool

	runHigh [SetupTarget]float64
	runLow  [SetupTarget]float64

	// closes holds the last setupLookback closes, oldest first.
	closes [setupLookback]float64
	seen   int
}

// Bars returns how many bars the state has consumed, saturating at 4.
func (s State) Bars() int { return s.seen }

// Step advances s by one bar and returns the new state together with the
// snapshot describing how b was counted. s itself is not modified.
func Step(s State, b model.Bar) (State, model.SequentialFields) {
	if s.seen < setupLookback {
		s.remember(b.Close)
		return s, s.idleFields()
	}

	c4 := s.closes[0]
	c2 := s.closes[setupLookback-countdownLookback]

	var f model.SequentialFields
	if s.Phase == model.PhaseCountingDown {
		f = s.stepCountdown(b, c4, c2)
	} else {
		f = s.stepSetup(b, c4)
	}
	s.remember(b.Close)
	score(&f)
	return s, f
}

func (s *State) remember(close float64) {
	copy(s.closes[:], s.closes[1:])
	s.closes[setupLookback-1] = close
	if s.seen < setupLookback {
		s.seen++
	}
}

// stepSetup handles a bar while Idle or SettingUp.
func (s *State) stepSetup(b model.Bar, c4 float64) model.SequentialFields {
	dir := compare(b.Close, c4)
	if dir == model.DirectionNone {
		s.resetRun()
		s.Phase = model.PhaseIdle
		return s.idleFields()
	}

	completed := s.extendRun(dir, b)
	s.Phase = model.PhaseSettingUp
	f := s.setupFields()
	if !completed {
		return f
	}

	s.completeSetup(&f)
	s.Phase = model.PhaseCountingDown
	s.CountdownDir = f.SetupDirection
	s.CountdownCount = 0
	return f
}

// stepCountdown handles a bar while CountingDown.
func (s *State) stepCountdown(b model.Bar, c4, c2 float64) model.SequentialFields {
	dir := compare(b.Close, c4)
	completed := false
	if dir == model.DirectionNone {
		s.resetRun()
	} else {
		completed = s.extendRun(dir, b)
	}

	if completed {
		if s.SetupDir == s.CountdownDir {
			return s.recycle()
		}
		return s.cancel()
	}

	if countdownQualifies(b.Close, c2, s.CountdownDir) {
		s.CountdownCount++
	}
	f := s.countdownFields()
	if s.CountdownCount == CountdownTarget {
		f.CountdownCompleted = true
		s.Phase = model.PhaseIdle
		s.CountdownDir = model.DirectionNone
		s.CountdownCount = 0
		s.resetRun()
	}
	return f
}

// recycle re-arms the TDST levels from a new same-direction setup. The
// countdown keeps its count and does not advance on this bar.
func (s *State) recycle() model.SequentialFields {
	f := s.countdownFields()
	s.completeSetup(&f)
	f.Recycled = true
	return f
}

// cancel drops the running countdown in favour of the opposite setup that
// just completed; that setup's countdown starts on the next bar.
func (s *State) cancel() model.SequentialFields {
	f := s.setupFields()
	f.Phase = model.PhaseSettingUp
	s.completeSetup(&f)
	f.Cancelled = true
	s.CountdownDir = f.SetupDirection
	s.CountdownCount = 0
	return f
}

// extendRun adds b to the setup run in dir and reports whether it reached
// SetupTarget. A different direction restarts the run at 1.
func (s *State) extendRun(dir model.Direction, b model.Bar) bool {
	if s.SetupDir == dir && s.SetupCount > 0 {
		s.SetupCount++
	} else {
		s.SetupDir = dir
		s.SetupCount = 1
	}
	s.runHigh[s.SetupCount-1] = b.High
	s.runLow[s.SetupCount-1] = b.Low
	return s.SetupCount == SetupTarget
}

func (s *State) resetRun() {
	s.SetupDir = model.DirectionNone
	s.SetupCount = 0
}

// completeSetup records TDST levels and perfection from the nine run bars,
// marks f, and clears the run so the next qualifying bar starts at 1.
func (s *State) completeSetup(f *model.SequentialFields) {
	hi, lo := s.runHigh[0], s.runLow[0]
	for i := 1; i < SetupTarget; i++ {
		if s.runHigh[i] > hi {
			hi = s.runHigh[i]
		}
		if s.runLow[i] < lo {
			lo = s.runLow[i]
		}
	}
	s.TDSTHigh = model.Some(hi)
	s.TDSTLow = model.Some(lo)
	s.Perfected = perfected(s.SetupDir, s.runHigh, s.runLow)

	f.SetupCompleted = true
	f.SetupCount = SetupTarget
	f.SetupDirection = s.SetupDir
	f.Perfected = s.Perfected
	f.TDSTHigh = s.TDSTHigh
	f.TDSTLow = s.TDSTLow
	s.resetRun()
}

// perfected checks bars 8 or 9 against bars 6 and 7: for a bearish run the
// low must go below both earlier lows, for a bullish run the high must go
// above both earlier highs.
func perfected(dir model.Direction, highs, lows [SetupTarget]float64) bool {
	const b6, b7, b8, b9 = 5, 6, 7, 8
	switch dir {
	case model.DirectionBearish:
		beyond := func(i int) bool { return lows[i] < lows[b6] && lows[i] < lows[b7] }
		return beyond(b8) || beyond(b9)
	case model.DirectionBullish:
		beyond := func(i int) bool { return highs[i] > highs[b6] && highs[i] > highs[b7] }
		return beyond(b8) || beyond(b9)
	}
	return false
}

// compare classifies close against the close four bars earlier.
func compare(close, c4 float64) model.Direction {
	switch {
	case close < c4:
		return model.DirectionBearish
	case close > c4:
		return model.DirectionBullish
	default:
		return model.DirectionNone
	}
}

func countdownQualifies(close, c2 float64, dir model.Direction) bool {
	switch dir {
	case model.DirectionBearish:
		return close < c2
	case model.DirectionBullish:
		return close > c2
	}
	return false
}

func (s *State) idleFields() model.SequentialFields {
	return model.SequentialFields{
		Phase:    model.PhaseIdle,
		TDSTHigh: s.TDSTHigh,
		TDSTLow:  s.TDSTLow,
	}
}

func (s *State) setupFields() model.SequentialFields {
	return model.SequentialFields{
		Count:          s.SetupDir.Sign() * s.SetupCount,
		Phase:          model.PhaseSettingUp,
		Direction:      s.SetupDir,
		SetupCount:     s.SetupCount,
		SetupDirection: s.SetupDir,
		TDSTHigh:       s.TDSTHigh,
		TDSTLow:        s.TDSTLow,
	}
}

func (s *State) countdownFields() model.SequentialFields {
	return model.SequentialFields{
		Count:          s.CountdownDir.Sign() * s.CountdownCount,
		Phase:          model.PhaseCountingDown,
		Direction:      s.CountdownDir,
		SetupCount:     s.SetupCount,
		SetupDirection: s.SetupDir,
		CountdownCount: s.CountdownCount,
		Perfected:      s.Perfected,
		TDSTHigh:       s.TDSTHigh,
		TDSTLow:        s.TDSTLow,
	}
}
