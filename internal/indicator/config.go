package indicator

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// Config selects which indicators the Engine computes and their parameters.
// Window lists are sets: duplicates are dropped and order does not matter.
type Config struct {
	MAWindows  []int `yaml:"ma_windows" json:"ma_windows" default:"[5,10,20,60]" validate:"dive,gt=0"`
	EMAWindows []int `yaml:"ema_windows" json:"ema_windows" default:"[12,26]" validate:"dive,gt=0"`

	MACDFast   int `yaml:"macd_fast" json:"macd_fast" default:"12" validate:"gt=0"`
	MACDSlow   int `yaml:"macd_slow" json:"macd_slow" default:"26" validate:"gt=0,gtfield=MACDFast"`
	MACDSignal int `yaml:"macd_signal" json:"macd_signal" default:"9" validate:"gt=0"`

	RSIPeriod int `yaml:"rsi_period" json:"rsi_period" default:"14" validate:"gt=0"`

	KDJPeriod  int `yaml:"kdj_period" json:"kdj_period" default:"9" validate:"gt=0"`
	KDJKSmooth int `yaml:"kdj_k_smooth" json:"kdj_k_smooth" default:"3" validate:"gt=0"`
	KDJDSmooth int `yaml:"kdj_d_smooth" json:"kdj_d_smooth" default:"3" validate:"gt=0"`

	BollWindow int     `yaml:"boll_window" json:"boll_window" default:"20" validate:"gt=0"`
	BollK      float64 `yaml:"boll_k" json:"boll_k" default:"2.0" validate:"gt=0"`

	VolMAWindows   []int `yaml:"vol_ma_windows" json:"vol_ma_windows" default:"[5,10]" validate:"dive,gt=0"`
	VolRatioWindow int   `yaml:"vol_ratio_window" json:"vol_ratio_window" default:"5" validate:"gt=0"`
}

// ConfigError reports an invalid indicator configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("indicator config: %s %s", e.Field, e.Reason)
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func configValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// DefaultConfig returns the configuration with every documented default applied.
func DefaultConfig() Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		// Struct tags are static; a failure here is a programming error.
		panic(fmt.Sprintf("indicator: default config: %v", err))
	}
	return c
}

// NewConfig validates c and returns a normalised copy (sorted, de-duplicated
// window sets). Unset fields are NOT defaulted: start from DefaultConfig to
// override selectively.
func NewConfig(c Config) (Config, error) {
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c.normalize(), nil
}

// Validate checks every option. The returned error is a *ConfigError.
func (c Config) Validate() error {
	err := configValidator().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ConfigError{Field: fe.Namespace(), Reason: reason(fe)}
	}
	return &ConfigError{Field: "Config", Reason: err.Error()}
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gt":
		return fmt.Sprintf("must be > %s, got %v", fe.Param(), fe.Value())
	case "gtfield":
		return fmt.Sprintf("must be greater than %s, got %v", fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("failed %q check (value %v)", fe.Tag(), fe.Value())
	}
}

func (c Config) normalize() Config {
	c.MAWindows = uniqueSorted(c.MAWindows)
	c.EMAWindows = uniqueSorted(c.EMAWindows)
	c.VolMAWindows = uniqueSorted(c.VolMAWindows)
	return c
}

func uniqueSorted(in []int) []int {
	if len(in) == 0 {
		return nil
	}
	out := append([]int(nil), in...)
	sort.Ints(out)
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

// MaxWarmup returns the longest warm-up window across the configured
// indicators, in bars. Readers use it to size history loads.
func (c Config) MaxWarmup() int {
	m := 0
	upd := func(v int) {
		if v > m {
			m = v
		}
	}
	for _, w := range c.MAWindows {
		upd(w)
	}
	for _, w := range c.EMAWindows {
		upd(w)
	}
	for _, w := range c.VolMAWindows {
		upd(w)
	}
	upd(c.MACDSlow + c.MACDSignal - 1)
	upd(c.RSIPeriod + 1)
	upd(c.KDJPeriod)
	upd(c.BollWindow)
	upd(c.VolRatioWindow + 1)
	return m
}
