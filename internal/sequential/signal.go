package sequential

import (
	"math"
	"sort"
	"strings"
	"time"

	"signal-enginev1/internal/model"
)

// Strength weights per event. Sums are clamped to 1.
const (
	weightSetupComplete     = 0.6
	weightCountdownComplete = 0.8
	weightSetupNearing      = 0.3
	weightCountdownNearing  = 0.4

	nearingSetup     = 7
	nearingCountdown = 10
)

// score fills Signal, Strength and Description on f from its counts and
// completion flags.
func score(f *model.SequentialFields) {
	var (
		strength float64
		parts    []string
	)

	switch {
	case f.CountdownCompleted:
		f.Signal = f.Direction.Sign()
	case f.SetupCompleted:
		f.Signal = f.SetupDirection.Sign()
	}

	if f.SetupCompleted {
		strength += weightSetupComplete
		parts = append(parts, f.SetupDirection.String()+" setup 9 complete")
		if f.Perfected {
			parts = append(parts, "perfected")
		}
	}
	if f.CountdownCompleted {
		strength += weightCountdownComplete
		parts = append(parts, f.Direction.String()+" countdown 13 complete")
	}
	if f.SetupCount >= nearingSetup {
		strength += weightSetupNearing
		if !f.SetupCompleted {
			parts = append(parts, f.SetupDirection.String()+" setup at "+model.Itoa(f.SetupCount))
		}
	}
	if f.CountdownCount >= nearingCountdown {
		strength += weightCountdownNearing
		if !f.CountdownCompleted {
			parts = append(parts, f.Direction.String()+" countdown at "+model.Itoa(f.CountdownCount))
		}
	}
	if f.Recycled {
		parts = append(parts, "countdown recycled")
	}
	if f.Cancelled {
		parts = append(parts, "countdown cancelled")
	}

	f.Strength = math.Min(strength, 1)
	f.Description = strings.Join(parts, "; ")
}

// Signal is a notable nine-turn event picked out of a result series.
type Signal struct {
	Symbol         string          `json:"symbol"`
	TradeDate      time.Time       `json:"trade_date"`
	Direction      model.Direction `json:"direction"`
	Kind           string          `json:"kind"`
	Strength       float64         `json:"strength"`
	Description    string          `json:"description"`
	SetupCount     int             `json:"setup_count"`
	CountdownCount int             `json:"countdown_count"`
	Close          float64         `json:"close"`
	Volume         float64         `json:"volume"`
	RSI            model.NullFloat `json:"rsi"`
	MACD           model.NullFloat `json:"macd"`
	VolRatio       model.NullFloat `json:"vol_ratio"`
}

// Kinds reported by Signal.Kind.
const (
	KindSetup     = "setup"
	KindCountdown = "countdown"
)

// SignalOf converts one result into a Signal. ok is false unless the bar
// completed a setup or a countdown; bars that only score for nearing counts
// are not signals.
func SignalOf(r model.IndicatorResult) (sig Signal, ok bool) {
	f := r.Sequential
	if f.Signal == 0 {
		return Signal{}, false
	}
	sig = Signal{
		Symbol:         r.Symbol,
		TradeDate:      r.TradeDate,
		Direction:      f.Direction,
		Kind:           KindCountdown,
		Strength:       f.Strength,
		Description:    f.Description,
		SetupCount:     f.SetupCount,
		CountdownCount: f.CountdownCount,
		Close:          r.Close,
		Volume:         r.Volume,
		RSI:            r.RSI,
		MACD:           r.MACD.Diff,
		VolRatio:       r.VolRatio,
	}
	if !f.CountdownCompleted {
		sig.Kind = KindSetup
		sig.Direction = f.SetupDirection
	}
	return sig, true
}

// RecentSignals returns signals stronger than minStrength whose trade date
// falls within days calendar days of the last result, newest first.
// days <= 0 keeps the whole series.
//
// The window is measured in calendar days, not bars: days=5 spans a week
// of trading, fewer than five bars over weekends and holidays.
func RecentSignals(results []model.IndicatorResult, days int, minStrength float64) []Signal {
	if len(results) == 0 {
		return nil
	}
	var cutoff time.Time
	if days > 0 {
		cutoff = results[len(results)-1].TradeDate.AddDate(0, 0, -days)
	}

	var out []Signal
	for _, r := range results {
		if r.TradeDate.Before(cutoff) {
			continue
		}
		sig, ok := SignalOf(r)
		if !ok || sig.Strength <= minStrength {
			continue
		}
		out = append(out, sig)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TradeDate.After(out[j].TradeDate)
	})
	return out
}
