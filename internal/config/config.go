package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"bond-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Source    SourceConfig    `mapstructure:"source"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	State     StateConfig     `mapstructure:"state"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	FailureBackoff time.Duration `mapstructure:"failure_backoff"`
	StartupDelay   time.Duration `mapstructure:"startup_delay"`
}

// SourceConfig covers the bond data source.
type SourceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	TopCount       int           `mapstructure:"top_count"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
}

// AlertingConfig defines thresholds and delivery routing.
type AlertingConfig struct {
	ThresholdPct    float64        `mapstructure:"threshold_pct"`
	ThresholdRelPct float64        `mapstructure:"threshold_rel_pct"`
	Telegram        TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram delivery channel.
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	APIBase        string        `mapstructure:"api_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
}

// StateConfig locates the durable tracked-state file.
type StateConfig struct {
	Path string `mapstructure:"path"`
}

// DatabaseConfig encapsulates optional PostgreSQL connectivity for history
// and alert auditing.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BONDWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "bondwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.failure_backoff", "15m")
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("source.base_url", "https://smart-lab.ru/q/bonds/")
	v.SetDefault("source.request_timeout", "15s")
	v.SetDefault("source.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	v.SetDefault("source.top_count", 10)
	v.SetDefault("source.max_attempts", 3)
	v.SetDefault("source.initial_backoff", "1s")

	v.SetDefault("alerting.threshold_pct", 0.1)
	v.SetDefault("alerting.threshold_rel_pct", 0.0)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.request_timeout", "10s")
	v.SetDefault("alerting.telegram.max_attempts", 3)
	v.SetDefault("alerting.telegram.initial_backoff", "1s")

	v.SetDefault("state.path", "data/tracked_state.json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x626f6e64))
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks on the configuration values. Missing
// required options are startup-fatal.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.Source.TopCount <= 0 {
		return fmt.Errorf("source.top_count must be greater than zero")
	}
	if c.Source.MaxAttempts < 1 {
		return fmt.Errorf("source.max_attempts must be at least 1")
	}
	if c.Alerting.ThresholdPct < 0 {
		return fmt.Errorf("alerting.threshold_pct cannot be negative")
	}
	if c.Alerting.ThresholdRelPct < 0 {
		return fmt.Errorf("alerting.threshold_rel_pct cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
		if c.Alerting.Telegram.MaxAttempts < 1 {
			return fmt.Errorf("alerting.telegram.max_attempts must be at least 1")
		}
	}
	return nil
}
