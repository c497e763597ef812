// Package indicator provides the classic technical indicators computed over
// daily bars, and the Engine that assembles them with the nine-turn tracker
// into one result per bar.
//
// Every indicator is built on an incremental kernel implementing Indicator.
// The *Series functions drive those kernels over a whole column and return a
// slice of the same length, undefined (model.Null) inside the warm-up window.
package indicator

import "signal-enginev1/internal/model"

// Indicator is the interface for all incremental indicator kernels.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA", "EMA").
	Name() string

	// Update feeds the bar's close and recalculates.
	Update(bar model.Bar)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Peek computes what Value() would be if a bar with this close were
	// added next, WITHOUT mutating internal state.
	Peek(close float64) float64
}

// current returns the kernel value as a NullFloat, undefined until Ready.
func current(ind Indicator) model.NullFloat {
	if !ind.Ready() {
		return model.Null
	}
	return model.Some(ind.Value())
}
