package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"cryptobot/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// go test -v --run TestLoadFileDefaults
func TestLoadFileDefaults(t *testing.T) {
	path := writeConfig(t, "log:\n  level: debug\n")

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 3000.0, cfg.Bot.InitialPrice)
	assert.Equal(t, 1000.0, cfg.Bot.MinimumPrice)
	assert.Equal(t, 1000000.0, cfg.Bot.MaximumPrice)
	assert.Equal(t, []string{"buxcoin", "bitcoin"}, cfg.Bot.Currencies)
	assert.Equal(t, 10*time.Minute, cfg.Bot.UpdateInterval())
	assert.Equal(t, time.Minute, cfg.Bot.RetryInterval)
	assert.Equal(t, 100, cfg.Bot.HistoryLimit)
	assert.Equal(t, 50, cfg.Bot.TransactionLimit)
	assert.Equal(t, "@every 5m", cfg.Bot.AutosaveSchedule)
	assert.False(t, cfg.Postgres.Enabled)
	assert.False(t, cfg.Redis.Enabled)
}

// go test -v --run TestLoadFileNormalizesCurrencies
func TestLoadFileNormalizesCurrencies(t *testing.T) {
	path := writeConfig(t, `
bot:
  currencies: [" BuxCoin ", "BITCOIN"]
  retry_interval: 30s
`)

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"buxcoin", "bitcoin"}, cfg.Bot.Currencies)
	assert.Equal(t, 30*time.Second, cfg.Bot.RetryInterval)
}

// go test -v --run TestLoadFileEnvOverride
func TestLoadFileEnvOverride(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("BOT_DATA_DIR", "/tmp/cryptobot")
	path := writeConfig(t, "telegram:\n  token: from-file\n")

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, "/tmp/cryptobot", cfg.Bot.DataDir)
}

// go test -v --run TestValidate
func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"minimum not positive", "bot:\n  minimum_price: 0\n"},
		{"maximum below minimum", "bot:\n  maximum_price: 500\n"},
		{"initial below minimum", "bot:\n  initial_price: 10\n"},
		{"duplicate currency", "bot:\n  currencies: [buxcoin, BUXCOIN]\n"},
		{"zero interval", "bot:\n  update_interval_minutes: 0\n"},
		{"zero history", "bot:\n  history_limit: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadFile(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

// go test -v --run TestPostgresDSN
func TestPostgresDSN(t *testing.T) {
	cfg := config.PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "pw",
		DBName:   "cryptobot",
		SSLMode:  "disable",
		TimeZone: "UTC",
	}

	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=pw dbname=cryptobot sslmode=disable TimeZone=UTC",
		cfg.DSN("dev"))
	assert.Contains(t, cfg.AdminDSN("dev"), "dbname=postgres")
	assert.Equal(t, "cryptobot", cfg.DBName)
}
