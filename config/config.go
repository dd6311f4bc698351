package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bot      BotConfig      `mapstructure:"bot"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Log      LogConfig      `mapstructure:"log"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// BotConfig holds the economy settings.
type BotConfig struct {
	DataDir               string        `mapstructure:"data_dir"`
	InitialPrice          float64       `mapstructure:"initial_price"`
	MinimumPrice          float64       `mapstructure:"minimum_price"`
	MaximumPrice          float64       `mapstructure:"maximum_price"`
	Currencies            []string      `mapstructure:"currencies"`
	UpdateIntervalMinutes int           `mapstructure:"update_interval_minutes"`
	RetryInterval         time.Duration `mapstructure:"retry_interval"`
	HistoryLimit          int           `mapstructure:"history_limit"`
	InitialBalance        float64       `mapstructure:"initial_balance"`
	MinTradeAmount        float64       `mapstructure:"min_trade_amount"`
	TransactionLimit      int           `mapstructure:"transaction_limit"`
	AutosaveSchedule      string        `mapstructure:"autosave_schedule"`
	BackupPrefix          string        `mapstructure:"backup_prefix"`
	Owners                []int64       `mapstructure:"owners"`
}

// UpdateInterval is the automatic price walk period.
func (b BotConfig) UpdateInterval() time.Duration {
	return time.Duration(b.UpdateIntervalMinutes) * time.Minute
}

type TelegramConfig struct {
	Token         string        `mapstructure:"token"`
	PollTimeout   int           `mapstructure:"poll_timeout"` // seconds
	RateLimit     float64       `mapstructure:"rate_limit"`   // commands per second per user
	RateBurst     int           `mapstructure:"rate_burst"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Options defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables.
func Load() *Config {
	v := newViper()

	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		v.AddConfigPath(filepath.Join(pwd, "../../config"))
	} else {
		v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
	}
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Fatalf("failed to read config: %v", err)
		}
		// defaults and environment only
	}

	cfg, err := decode(v)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	return cfg
}

// LoadFile reads the configuration from an explicit file path.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")

	setDefaults(v)

	// Support environment variables with dot notation (e.g., TELEGRAM_TOKEN)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.data_dir", "data")
	v.SetDefault("bot.initial_price", 3000.0)
	v.SetDefault("bot.minimum_price", 1000.0)
	v.SetDefault("bot.maximum_price", 1000000.0)
	v.SetDefault("bot.currencies", []string{"buxcoin", "bitcoin"})
	v.SetDefault("bot.update_interval_minutes", 10)
	v.SetDefault("bot.retry_interval", time.Minute)
	v.SetDefault("bot.history_limit", 100)
	v.SetDefault("bot.initial_balance", 0.0)
	v.SetDefault("bot.min_trade_amount", 0.0001)
	v.SetDefault("bot.transaction_limit", 50)
	v.SetDefault("bot.autosave_schedule", "@every 5m")
	v.SetDefault("bot.backup_prefix", "shutdown_backup")
	v.SetDefault("bot.owners", []int64{})

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.poll_timeout", 60)
	v.SetDefault("telegram.rate_limit", 1.0)
	v.SetDefault("telegram.rate_burst", 5)
	v.SetDefault("telegram.reconnect_wait", 3*time.Second)

	v.SetDefault("http.addr", ":5000")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.environment", "dev")

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.ttl", time.Hour)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for i, c := range cfg.Bot.Currencies {
		cfg.Bot.Currencies[i] = strings.ToLower(strings.TrimSpace(c))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings that would break the price invariants.
func (c *Config) Validate() error {
	b := c.Bot

	if b.MinimumPrice <= 0 {
		return fmt.Errorf("invalid config: minimum_price must be positive, got %v", b.MinimumPrice)
	}
	if b.MaximumPrice < b.MinimumPrice {
		return fmt.Errorf("invalid config: maximum_price %v below minimum_price %v", b.MaximumPrice, b.MinimumPrice)
	}
	if b.InitialPrice < b.MinimumPrice || b.InitialPrice > b.MaximumPrice {
		return fmt.Errorf("invalid config: initial_price %v outside [%v, %v]", b.InitialPrice, b.MinimumPrice, b.MaximumPrice)
	}
	if len(b.Currencies) == 0 {
		return errors.New("invalid config: no currencies configured")
	}

	seen := make(map[string]bool, len(b.Currencies))
	for _, cur := range b.Currencies {
		if cur == "" {
			return errors.New("invalid config: empty currency id")
		}
		if seen[cur] {
			return fmt.Errorf("invalid config: duplicate currency %q", cur)
		}
		seen[cur] = true
	}

	if b.UpdateIntervalMinutes <= 0 {
		return fmt.Errorf("invalid config: update_interval_minutes must be positive, got %d", b.UpdateIntervalMinutes)
	}
	if b.RetryInterval <= 0 {
		return fmt.Errorf("invalid config: retry_interval must be positive, got %s", b.RetryInterval)
	}
	if b.HistoryLimit <= 0 {
		return fmt.Errorf("invalid config: history_limit must be positive, got %d", b.HistoryLimit)
	}
	if b.TransactionLimit <= 0 {
		return fmt.Errorf("invalid config: transaction_limit must be positive, got %d", b.TransactionLimit)
	}

	return nil
}
