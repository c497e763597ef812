package model

import "fmt"

// Phase is the state of the nine-turn Setup/Countdown tracker.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseSettingUp
	PhaseCountingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSettingUp:
		return "setting_up"
	case PhaseCountingDown:
		return "counting_down"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle", "":
		*p = PhaseIdle
	case "setting_up":
		*p = PhaseSettingUp
	case "counting_down":
		*p = PhaseCountingDown
	default:
		return fmt.Errorf("unknown phase %q", b)
	}
	return nil
}

// Direction is the side a setup or countdown counts toward.
//
// Bearish runs are built from closes below the close four bars earlier and
// are reported with a positive sign; bullish runs are the mirror image and
// are reported with a negative sign.
type Direction int8

const (
	DirectionNone    Direction = 0
	DirectionBearish Direction = 1
	DirectionBullish Direction = -1
)

// Sign returns +1, -1 or 0.
func (d Direction) Sign() int { return int(d) }

// Opposite returns the other side; DirectionNone stays none.
func (d Direction) Opposite() Direction { return -d }

func (d Direction) String() string {
	switch d {
	case DirectionBearish:
		return "bearish"
	case DirectionBullish:
		return "bullish"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "none", "":
		*d = DirectionNone
	case "bearish":
		*d = DirectionBearish
	case "bullish":
		*d = DirectionBullish
	default:
		return fmt.Errorf("unknown direction %q", b)
	}
	return nil
}

// SequentialFields is the per-bar snapshot of the nine-turn tracker.
//
// Count is the compact signed form external consumers rely on: the setup
// count (1..9) or, once counting down, the countdown count (0..13), signed by
// Direction. Phase describes how this bar was counted; the phase after a
// completed setup or countdown only changes on the following bar.
type SequentialFields struct {
	Count          int       `json:"count"`
	Phase          Phase     `json:"phase"`
	Direction      Direction `json:"direction"`
	SetupCount     int       `json:"setup_count"`
	SetupDirection Direction `json:"setup_direction"`
	CountdownCount int       `json:"countdown_count"`

	SetupCompleted     bool `json:"setup_completed,omitempty"`
	CountdownCompleted bool `json:"countdown_completed,omitempty"`
	Perfected          bool `json:"perfected,omitempty"`
	Recycled           bool `json:"recycled,omitempty"`
	Cancelled          bool `json:"cancelled,omitempty"`

	TDSTHigh NullFloat `json:"tdst_high"`
	TDSTLow  NullFloat `json:"tdst_low"`

	// Signal is the signed direction of a completion event on this bar, 0 otherwise.
	Signal      int     `json:"signal"`
	Strength    float64 `json:"strength"`
	Description string  `json:"description,omitempty"`
}
