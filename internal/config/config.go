package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"price-ingest-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Collector CollectorConfig `mapstructure:"collector"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig enables the current-price cache.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// SnapshotConfig locates the master store document.
type SnapshotConfig struct {
	Path string `mapstructure:"path"`
}

// CollectorConfig describes the external collection task.
type CollectorConfig struct {
	Command     string        `mapstructure:"command"`
	Args        []string      `mapstructure:"args"`
	Dir         string        `mapstructure:"dir"`
	Env         []string      `mapstructure:"env"`
	StagingPath string        `mapstructure:"staging_path"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// IngestConfig governs the ingestion cadence.
type IngestConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// AlertsConfig governs the alert evaluation cadence.
type AlertsConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
}

// DispatchConfig selects and tunes notification transports.
type DispatchConfig struct {
	Channel       string         `mapstructure:"channel"`
	RatePerSecond float64        `mapstructure:"rate_per_second"`
	Burst         int            `mapstructure:"burst"`
	Timeout       time.Duration  `mapstructure:"timeout"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
	Email         EmailConfig    `mapstructure:"email"`
}

// TelegramConfig describes the Telegram transport.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// EmailConfig describes the SMTP transport.
type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// BroadcastConfig controls the WebSocket fan-out endpoint.
type BroadcastConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

const (
	ChannelTelegram = "telegram"
	ChannelEmail    = "email"
	ChannelLog      = "log"
)

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEINGEST")
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
	v.SetDefault("app.name", "priceingest")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.prefix", "priceingest:")
	v.SetDefault("redis.ttl", "15m")

	v.SetDefault("snapshot.path", "data/master.json")

	v.SetDefault("collector.command", "")
	v.SetDefault("collector.dir", "")
	v.SetDefault("collector.staging_path", "data/staged.json")
	v.SetDefault("collector.timeout", "4m")

	v.SetDefault("ingest.enabled", true)
	v.SetDefault("ingest.interval", "5m")
	v.SetDefault("ingest.startup_delay", "15s")
	v.SetDefault("ingest.align_to_interval", false)
	v.SetDefault("ingest.advisory_lock_key", int64(0x70726963))

	v.SetDefault("alerts.enabled", true)
	v.SetDefault("alerts.interval", "5m")
	v.SetDefault("alerts.startup_delay", "45s")

	v.SetDefault("dispatch.channel", ChannelLog)
	v.SetDefault("dispatch.rate_per_second", 1.0)
	v.SetDefault("dispatch.burst", 5)
	v.SetDefault("dispatch.timeout", "10s")
	v.SetDefault("dispatch.telegram.bot_token", "")
	v.SetDefault("dispatch.telegram.chat_id", "")
	v.SetDefault("dispatch.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("dispatch.email.host", "")
	v.SetDefault("dispatch.email.port", 587)
	v.SetDefault("dispatch.email.username", "")
	v.SetDefault("dispatch.email.password", "")
	v.SetDefault("dispatch.email.from", "")

	v.SetDefault("broadcast.enabled", true)
	v.SetDefault("broadcast.addr", ":8090")

	v.SetDefault("export.max_data_points", 100000)
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Ingest.Interval <= 0 {
		return fmt.Errorf("ingest.interval must be greater than zero")
	}
	if c.Alerts.Interval <= 0 {
		return fmt.Errorf("alerts.interval must be greater than zero")
	}
	if c.Ingest.StartupDelay < 0 || c.Alerts.StartupDelay < 0 {
		return fmt.Errorf("startup delays cannot be negative")
	}
	if c.Collector.Timeout <= 0 {
		return fmt.Errorf("collector.timeout must be greater than zero")
	}
	if c.Snapshot.Path == "" {
		return fmt.Errorf("snapshot.path is required")
	}
	if c.Collector.Command != "" && c.Collector.StagingPath == "" {
		return fmt.Errorf("collector.staging_path is required when collector.command is set")
	}
	if c.Dispatch.RatePerSecond < 0 {
		return fmt.Errorf("dispatch.rate_per_second cannot be negative")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	switch strings.ToLower(c.Dispatch.Channel) {
	case ChannelLog:
	case ChannelTelegram:
		if c.Dispatch.Telegram.BotToken == "" {
			return fmt.Errorf("dispatch.telegram.bot_token is required for the telegram channel")
		}
	case ChannelEmail:
		if c.Dispatch.Email.Host == "" || c.Dispatch.Email.From == "" {
			return fmt.Errorf("dispatch.email.host and dispatch.email.from are required for the email channel")
		}
	default:
		return fmt.Errorf("dispatch.channel %q is not supported", c.Dispatch.Channel)
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
