// Package config loads the engine configuration from environment variables
// (optionally seeded from a .env file) and an optional config file, via
// viper. Exchange API keys never appear here; they live in Vault.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full engine configuration.
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Vault        VaultConfig        `mapstructure:"vault"`
	Engine       EngineConfig       `mapstructure:"engine"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Circuit      CircuitConfig      `mapstructure:"circuit"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type VaultConfig struct {
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	CACert     string `mapstructure:"ca_cert"`
}

type EngineConfig struct {
	Workers          int           `mapstructure:"workers"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	MaxRetries       int           `mapstructure:"max_retries"`
	PerAccountSlots  int           `mapstructure:"per_account_slots"`
	ObserverInterval time.Duration `mapstructure:"observer_interval"`
	SnapshotTTL      time.Duration `mapstructure:"snapshot_ttl"`
}

type SchedulerConfig struct {
	TickSpec          string        `mapstructure:"tick_spec"`
	SymbolRefreshSpec string        `mapstructure:"symbol_refresh_spec"`
	SpikeThresholdPct string        `mapstructure:"spike_threshold_pct"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
	MaxMarkAge        time.Duration `mapstructure:"max_mark_age"`
}

type CircuitConfig struct {
	MaxConsecutiveLosses int           `mapstructure:"max_consecutive_losses"`
	MaxDailyLoss         string        `mapstructure:"max_daily_loss"` // quote units, "0" disables
	Cooldown             time.Duration `mapstructure:"cooldown"`
}

type NotificationConfig struct {
	TelegramBotToken  string `mapstructure:"telegram_bot_token"`
	TelegramChatID    string `mapstructure:"telegram_chat_id"`
	DiscordWebhookURL string `mapstructure:"discord_webhook_url"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // console writer instead of JSON
}

// Load reads configuration: .env first (ignored when absent), then the
// optional config file, then MARTINGALIAN_* environment variables, which win.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("MARTINGALIAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "postgres://localhost:5432/martingalian?sslmode=disable")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("vault.address", "http://localhost:8200")

	v.SetDefault("engine.workers", 8)
	v.SetDefault("engine.poll_interval", 500*time.Millisecond)
	v.SetDefault("engine.max_retries", 10)
	v.SetDefault("engine.per_account_slots", 4)
	v.SetDefault("engine.observer_interval", 5*time.Second)
	v.SetDefault("engine.snapshot_ttl", 2*time.Minute)

	v.SetDefault("scheduler.tick_spec", "@every 30s")
	v.SetDefault("scheduler.symbol_refresh_spec", "@every 1h")
	v.SetDefault("scheduler.spike_threshold_pct", "5")
	v.SetDefault("scheduler.cooldown", 4*time.Hour)
	v.SetDefault("scheduler.max_mark_age", 90*time.Second)

	v.SetDefault("circuit.max_consecutive_losses", 5)
	v.SetDefault("circuit.max_daily_loss", "0")
	v.SetDefault("circuit.cooldown", 30*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("config: database.url is required")
	}
	if c.Vault.Address == "" {
		return fmt.Errorf("config: vault.address is required")
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("config: engine.workers must be >= 1")
	}
	return nil
}
