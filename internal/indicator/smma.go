package indicator

import "signal-enginev1/internal/model"

// SMMA calculates Smoothed Moving Average (Wilder-style smoothing).
// First value is SMA(period), then SMMA = (prev*(period-1) + x) / period,
// i.e. an exponential average with smoothing factor 1/period.
type SMMA struct {
	period  int
	count   int
	sum     float64
	current float64
}

// NewSMMA creates a new SMMA indicator with the given period.
func NewSMMA(period int) *SMMA {
	return &SMMA{period: period}
}

// NewSeededSMMA creates an SMMA that is ready immediately with seed as its
// previous value. KDJ uses this with a seed of 50.
func NewSeededSMMA(period int, seed float64) *SMMA {
	return &SMMA{period: period, count: period, current: seed}
}

func (s *SMMA) Name() string { return "SMMA" }

func (s *SMMA) Update(bar model.Bar) { s.Push(bar.Close) }

// Push feeds a raw value.
func (s *SMMA) Push(v float64) {
	s.count++

	if s.count <= s.period {
		// Accumulate for initial SMA seed
		s.sum += v
		if s.count == s.period {
			s.current = s.sum / float64(s.period)
		}
		return
	}

	s.current = (s.current*float64(s.period-1) + v) / float64(s.period)
}

func (s *SMMA) Value() float64 { return s.current }
func (s *SMMA) Ready() bool    { return s.count >= s.period }

// Peek computes what Value() would be with an additional close without mutating state.
func (s *SMMA) Peek(close float64) float64 {
	if s.count < s.period {
		return (s.sum + close) / float64(s.count+1)
	}
	return (s.current*float64(s.period-1) + close) / float64(s.period)
}

// Reset clears the SMMA state for reuse. A seeded SMMA loses its seed.
func (s *SMMA) Reset() {
	s.count = 0
	s.sum = 0
	s.current = 0
}
