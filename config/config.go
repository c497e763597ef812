package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"signal-enginev1/internal/indicator"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the indicator engine configuration: YAML file, then struct
// defaults for anything unset, then environment overrides.
type Config struct {
	LogLevel string `yaml:"log_level" default:"info" validate:"oneof=debug info warn error"`
	HTTPAddr string `yaml:"http_addr" default:":9095" validate:"required"`

	// Workers is the size of the per-symbol pool; 0 means one per CPU.
	Workers int `yaml:"workers" validate:"gte=0"`

	// Symbols restricts batch runs; empty means every symbol in SQLite.
	Symbols []string `yaml:"symbols"`

	// LookbackDays limits how much history is loaded; 0 loads everything.
	LookbackDays int `yaml:"lookback_days" validate:"gte=0"`

	// RunInterval triggers periodic batch runs; 0 disables the scheduler.
	RunInterval time.Duration `yaml:"run_interval" validate:"gte=0"`

	SQLite     SQLiteConfig     `yaml:"sqlite"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Signals    SignalConfig     `yaml:"signals"`

	Indicators indicator.Config `yaml:"indicators"`
}

type SQLiteConfig struct {
	Path string `yaml:"path" default:"data/market.db" validate:"required"`
}

// RedisConfig enables the latest-result cache and the job stream when Addr is set.
type RedisConfig struct {
	Addr          string        `yaml:"addr" validate:"omitempty,hostname_port"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db" validate:"gte=0"`
	LatestTTL     time.Duration `yaml:"latest_ttl" default:"48h"`
	JobStream     string        `yaml:"job_stream" default:"ind:jobs"`
	ConsumerGroup string        `yaml:"consumer_group" default:"indengine"`
	ConsumerName  string        `yaml:"consumer_name" default:"worker-1"`

	BreakerFailures int           `yaml:"breaker_failures" default:"5" validate:"gt=0"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" default:"10s"`
	BufferSize      int           `yaml:"buffer_size" default:"10000" validate:"gt=0"`
}

// KafkaConfig enables the result publisher when Brokers is non-empty.
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers" validate:"dive,hostname_port"`
	Topic       string   `yaml:"topic" default:"indicator.results"`
	Compression string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
}

// ClickHouseConfig enables the analytics sink when Addr is set.
type ClickHouseConfig struct {
	Addr        string        `yaml:"addr" validate:"omitempty,hostname_port"`
	Database    string        `yaml:"database" default:"signals"`
	User        string        `yaml:"user" default:"default"`
	Password    string        `yaml:"password"`
	DialTimeout time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout time.Duration `yaml:"read_timeout" default:"10s"`
	AsyncInsert bool          `yaml:"async_insert"`
}

// SignalConfig controls which nine-turn signals count as recent.
type SignalConfig struct {
	Days        int     `yaml:"days" default:"5" validate:"gt=0"`
	MinStrength float64 `yaml:"min_strength" default:"0.5" validate:"gte=0,lte=1"`
}

var validate = validator.New()

// Load reads path (skipped when empty), fills defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.SQLite.Path = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("CLICKHOUSE_ADDR"); v != "" {
		c.ClickHouse.Addr = v
	}
	if v := os.Getenv("INDENGINE_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Symbols = splitList(v)
	}
	return nil
}

// Validate checks the whole tree, including the indicator parameters.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	return c.Indicators.Validate()
}

// WorkerCount returns the effective pool size.
func (c *Config) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// Since returns the first trade date to load, or the zero time for full history.
func (c *Config) Since(now time.Time) time.Time {
	if c.LookbackDays <= 0 {
		return time.Time{}
	}
	return now.AddDate(0, 0, -c.LookbackDays)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
