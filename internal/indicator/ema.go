package indicator

import "signal-enginev1/internal/model"

// EMA calculates Exponential Moving Average.
// The first value is the simple average of the first period inputs,
// then EMA = α·x + (1-α)·EMA_prev with α = 2/(period+1).
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA" }

func (e *EMA) Update(bar model.Bar) { e.Push(bar.Close) }

// Push feeds a raw value.
func (e *EMA) Push(v float64) {
	e.count++

	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += v
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}

	e.current = (v * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period }

// Peek computes what Value() would be with an additional close without mutating state.
func (e *EMA) Peek(close float64) float64 {
	if e.count < e.period {
		// Not ready: partial seed average including this price
		return (e.sum + close) / float64(e.count+1)
	}
	return (close * e.multiplier) + (e.current * (1 - e.multiplier))
}

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
	e.sum = 0
}
