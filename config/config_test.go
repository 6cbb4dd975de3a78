package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ModePaper, cfg.Mode)
	assert.Equal(t, "15:15", cfg.Risk.SquareOffTime)
	assert.Equal(t, 3, cfg.MarketData.MaxRetries)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad mode", func(c *Config) { c.Mode = "DEMO" }, "mode must be"},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
		{"zero per-trade capital", func(c *Config) { c.Risk.MaxCapitalPerTrade = 0 }, "max_capital_per_trade"},
		{"zero daily loss", func(c *Config) { c.Risk.MaxDailyLoss = 0 }, "max_daily_loss"},
		{"zero positions", func(c *Config) { c.Risk.MaxPositions = 0 }, "max_positions"},
		{"bad square off", func(c *Config) { c.Risk.SquareOffTime = "3pm" }, "square_off_time"},
		{"position size over one", func(c *Config) { c.Capital.MaxPositionSize = 1.5 }, "max_position_size"},
		{"exposure zero", func(c *Config) { c.Capital.MaxTotalExposure = 0 }, "max_total_exposure"},
		{"negative slippage", func(c *Config) { c.Paper.SlippagePercent = -1 }, "cannot be negative"},
		{"start after end", func(c *Config) { c.TradingHours.Start = "16:00" }, "before trading_hours.end"},
		{"square off after end", func(c *Config) { c.TradingHours.SquareOff = "15:45" }, "inside trading hours"},
		{"bad holiday", func(c *Config) { c.MarketHolidays = []string{"26/01/2025"} }, "bad date"},
		{"no retries", func(c *Config) { c.MarketData.MaxRetries = 0 }, "max_retries"},
		{"duplicate strategy", func(c *Config) {
			c.Strategies = append(c.Strategies, c.Strategies[0])
		}, "duplicate strategy"},
		{"enabled strategy without symbols", func(c *Config) { c.Strategies[0].Symbols = nil }, "no symbols"},
		{"bad journal", func(c *Config) { c.Journal.Type = "parquet" }, "journal.type"},
		{"sqlite without path", func(c *Config) { c.Journal.Type = "sqlite" }, "db_path"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveAndLoadYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "trader.yaml")
	cfg := Default()
	cfg.Risk.MaxDailyLoss = 750
	cfg.MarketHolidays = []string{"2025-01-26"}
	cfg.LotSizes = map[string]int{"NIFTY": 50}
	require.NoError(t, cfg.SaveToFile(path))

	got, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 750.0, got.Risk.MaxDailyLoss)
	assert.Equal(t, []string{"2025-01-26"}, got.MarketHolidays)
	assert.Equal(t, 50, got.Instruments().LotSize("NIFTY"))
}

func TestSaveAndLoadJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "trader.json")
	cfg := Default()
	cfg.Mode = ModeLive
	require.NoError(t, cfg.SaveToFile(path))

	got, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ModeLive, got.Mode)
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("risk:\n  max_daily_loss: 500\n  max_capital_per_trade: 10000\n  max_loss_per_trade: 1000\n  max_positions: 2\n  max_capital_used: 50000\n  square_off_time: \"15:15\"\n"), 0644))

	got, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 500.0, got.Risk.MaxDailyLoss)
	assert.Equal(t, 2, got.Risk.MaxPositions)
	assert.Equal(t, "09:15", got.TradingHours.Start)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: DEMO\n"), 0644))

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestHoursAndCalendar(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.MarketHolidays = []string{"2025-01-27"}

	start, end, squareOff, err := cfg.Hours()
	require.NoError(t, err)
	assert.Equal(t, "09:15", start.String())
	assert.Equal(t, "15:30", end.String())
	assert.Equal(t, "15:15", squareOff.String())

	cal, err := cfg.Calendar()
	require.NoError(t, err)
	monday := time.Date(2025, 1, 27, 10, 0, 0, 0, cal.Location)
	assert.False(t, cal.IsTradingDay(monday))
}

func TestSeconds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5*time.Second, Seconds(5, time.Minute))
	assert.Equal(t, time.Minute, Seconds(0, time.Minute))
}

func TestLoadCredentials(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(env, []byte("BROKER_API_KEY=key123\nBROKER_API_SECRET=shh\n"), 0600))

	t.Setenv("BROKER_API_KEY", "")
	t.Setenv("BROKER_API_SECRET", "")
	os.Unsetenv("BROKER_API_KEY")
	os.Unsetenv("BROKER_API_SECRET")

	creds, err := LoadCredentials(env)
	require.NoError(t, err)
	assert.Equal(t, "key123", creds.APIKey)
	assert.True(t, creds.Complete())
}

func TestLoadCredentialsMissingFile(t *testing.T) {
	t.Setenv("BROKER_API_KEY", "from-env")
	t.Setenv("BROKER_API_SECRET", "")

	creds, err := LoadCredentials(filepath.Join(t.TempDir(), "none.env"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", creds.APIKey)
	assert.False(t, creds.Complete())
}
