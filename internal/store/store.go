// Package store holds what the concrete adapters under internal/store share:
// signal queries and a fan-out over several result sinks.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signal-enginev1/internal/model"
	"signal-enginev1/internal/sequential"
)

// SignalQuery selects stored nine-turn signals.
type SignalQuery struct {
	Symbol      string    // empty for all symbols
	Since       time.Time // inclusive trade date
	MinStrength float64   // strictly greater than
	Limit       int       // 0 for no limit
}

// SignalReader serves stored nine-turn signals.
type SignalReader interface {
	ReadSignals(ctx context.Context, q SignalQuery) ([]sequential.Signal, error)
}

// SinkError reports the sinks that rejected one symbol's results.
type SinkError struct {
	Symbol string
	Errs   map[string]error // by sink name
}

func (e *SinkError) Error() string {
	msg := fmt.Sprintf("%s: %d sink(s) failed", e.Symbol, len(e.Errs))
	for name, err := range e.Errs {
		msg += fmt.Sprintf("; %s: %v", name, err)
	}
	return msg
}

// Unwrap exposes the individual sink errors to errors.Is/As.
func (e *SinkError) Unwrap() []error {
	out := make([]error, 0, len(e.Errs))
	for _, err := range e.Errs {
		out = append(out, err)
	}
	return out
}

// Multi writes to every sink in order. A failing sink does not stop the
// others; the failures come back together as a *SinkError.
type Multi struct {
	sinks []model.ResultWriter

	// OnError is called once per failed sink (for metrics).
	OnError func(sink string, err error)
}

// NewMulti returns a fan-out over sinks; nil entries are skipped.
func NewMulti(sinks ...model.ResultWriter) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Name identifies the sink in logs and metrics.
func (m *Multi) Name() string { return "multi" }

// Sinks returns the wrapped sinks.
func (m *Multi) Sinks() []model.ResultWriter { return m.sinks }

// WriteResults implements model.ResultWriter.
func (m *Multi) WriteResults(ctx context.Context, symbol string, results []model.IndicatorResult) error {
	var se *SinkError
	for _, s := range m.sinks {
		if err := s.WriteResults(ctx, symbol, results); err != nil {
			if se == nil {
				se = &SinkError{Symbol: symbol, Errs: map[string]error{}}
			}
			se.Errs[s.Name()] = err
			if m.OnError != nil {
				m.OnError(s.Name(), err)
			}
		}
	}
	if se != nil {
		return se
	}
	return nil
}

// Close closes every sink and joins their errors.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
