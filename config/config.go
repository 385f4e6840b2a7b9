package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the argus engine. Load failures are
// the only fatal error class in the system: a process with a bad config
// never starts.
type Config struct {
	Engine struct {
		Workers            int           `mapstructure:"workers" validate:"gte=1"`
		QueueSize          int           `mapstructure:"queue_size" validate:"gte=1"`
		Shards             int           `mapstructure:"shards" validate:"gte=1"`
		SweepInterval      time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
		MaxWindowsPerRule  int           `mapstructure:"max_windows_per_rule" validate:"gte=1"`
		RegexTimeout       time.Duration `mapstructure:"regex_timeout" validate:"gt=0"`
		DegradedThreshold  int           `mapstructure:"degraded_threshold" validate:"gte=1"`
		IngressBufferSize  int           `mapstructure:"ingress_buffer_size" validate:"gte=1"`
	} `mapstructure:"engine"`

	Suppression struct {
		Interval   time.Duration `mapstructure:"interval" validate:"gt=0"`
		MaxEntries int           `mapstructure:"max_entries" validate:"gte=1"`
		Redis      struct {
			Enabled  bool   `mapstructure:"enabled"`
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
		} `mapstructure:"redis"`
	} `mapstructure:"suppression"`

	Notify struct {
		MaxRetries     int           `mapstructure:"max_retries" validate:"gte=0"`
		InitialBackoff time.Duration `mapstructure:"initial_backoff" validate:"gt=0"`
		MaxBackoff     time.Duration `mapstructure:"max_backoff" validate:"gt=0"`
		RatePerSecond  float64       `mapstructure:"rate_per_second" validate:"gt=0"`
		Burst          int           `mapstructure:"burst" validate:"gte=1"`
	} `mapstructure:"notify"`

	API struct {
		Host      string `mapstructure:"host"`
		Port      int    `mapstructure:"port" validate:"gte=1,lte=65535"`
		RateLimit struct {
			RequestsPerSecond int `mapstructure:"requests_per_second" validate:"gte=1"`
			Burst             int `mapstructure:"burst" validate:"gte=1"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	Storage struct {
		Enabled    bool   `mapstructure:"enabled"`
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"storage"`

	Rules struct {
		File string `mapstructure:"file"`
	} `mapstructure:"rules"`

	Logging struct {
		Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"logging"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.workers", 8)
	v.SetDefault("engine.queue_size", 1024)
	v.SetDefault("engine.shards", 16)
	v.SetDefault("engine.sweep_interval", 2*time.Second)
	v.SetDefault("engine.max_windows_per_rule", 10000)
	v.SetDefault("engine.regex_timeout", 500*time.Millisecond)
	v.SetDefault("engine.degraded_threshold", 5)
	v.SetDefault("engine.ingress_buffer_size", 4096)

	v.SetDefault("suppression.interval", time.Hour)
	v.SetDefault("suppression.max_entries", 100000)
	v.SetDefault("suppression.redis.enabled", false)
	v.SetDefault("suppression.redis.addr", "localhost:6379")
	v.SetDefault("suppression.redis.db", 0)

	v.SetDefault("notify.max_retries", 3)
	v.SetDefault("notify.initial_backoff", 200*time.Millisecond)
	v.SetDefault("notify.max_backoff", 5*time.Second)
	v.SetDefault("notify.rate_per_second", 100.0)
	v.SetDefault("notify.burst", 200)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)
	v.SetDefault("api.rate_limit.requests_per_second", 50)
	v.SetDefault("api.rate_limit.burst", 100)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.sqlite_path", "./data/argus.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}

// Load reads configuration from the given file (optional) and ARGUS_*
// environment variables, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ARGUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configured values; called by Load and by tests that build
// configs directly.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Notify.MaxBackoff < c.Notify.InitialBackoff {
		return fmt.Errorf("invalid configuration: notify.max_backoff must be >= notify.initial_backoff")
	}
	if c.Suppression.Redis.Enabled && c.Suppression.Redis.Addr == "" {
		return fmt.Errorf("invalid configuration: suppression.redis.addr required when redis is enabled")
	}
	return nil
}
