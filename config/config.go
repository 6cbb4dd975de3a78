package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/rustyeddy/daytrader/market"
	"gopkg.in/yaml.v3"
)

// Mode selects the broker the engine trades through.
type Mode string

const (
	ModeLive     Mode = "LIVE"
	ModePaper    Mode = "PAPER"
	ModeBacktest Mode = "BACKTEST"
)

// Config is the complete trader configuration. It is loaded once and
// passed to each component's constructor.
type Config struct {
	Mode           Mode               `json:"mode" yaml:"mode"`
	Timezone       string             `json:"timezone" yaml:"timezone"`
	Risk           RiskConfig         `json:"risk" yaml:"risk"`
	Capital        CapitalConfig      `json:"capital" yaml:"capital"`
	Paper          PaperConfig        `json:"paper" yaml:"paper"`
	TradingHours   TradingHoursConfig `json:"trading_hours" yaml:"trading_hours"`
	MarketHolidays []string           `json:"market_holidays,omitempty" yaml:"market_holidays,omitempty"`
	Engine         EngineConfig       `json:"engine" yaml:"engine"`
	Session        SessionConfig      `json:"session" yaml:"session"`
	MarketData     MarketDataConfig   `json:"market_data" yaml:"market_data"`
	Broker         BrokerConfig       `json:"broker" yaml:"broker"`
	Strategies     []StrategyConfig   `json:"strategies" yaml:"strategies"`
	LotSizes       map[string]int     `json:"lot_sizes,omitempty" yaml:"lot_sizes,omitempty"`
	Journal        JournalConfig      `json:"journal" yaml:"journal"`
	Monitor        MonitorConfig      `json:"monitor" yaml:"monitor"`
	Log            LogConfig          `json:"log" yaml:"log"`
	Metrics        MetricsConfig      `json:"metrics" yaml:"metrics"`
}

// RiskConfig holds the per-session risk limits. Money is in account currency.
type RiskConfig struct {
	MaxCapitalPerTrade float64 `json:"max_capital_per_trade" yaml:"max_capital_per_trade"`
	MaxLossPerTrade    float64 `json:"max_loss_per_trade" yaml:"max_loss_per_trade"`
	MaxDailyLoss       float64 `json:"max_daily_loss" yaml:"max_daily_loss"`
	MaxPositions       int     `json:"max_positions" yaml:"max_positions"`
	MaxCapitalUsed     float64 `json:"max_capital_used" yaml:"max_capital_used"`
	SquareOffTime      string  `json:"square_off_time" yaml:"square_off_time"` // HH:MM
	TargetFirst        bool    `json:"target_first,omitempty" yaml:"target_first,omitempty"`
}

// CapitalConfig sizes the capital pool. The two limits are fractions of
// current capital.
type CapitalConfig struct {
	TotalCapital     float64 `json:"total_capital" yaml:"total_capital"`
	MaxPositionSize  float64 `json:"max_position_size" yaml:"max_position_size"`
	MaxTotalExposure float64 `json:"max_total_exposure" yaml:"max_total_exposure"`
}

type PaperConfig struct {
	PaperCapital    float64 `json:"paper_capital" yaml:"paper_capital"`
	SlippagePercent float64 `json:"slippage_percent" yaml:"slippage_percent"`
	TransactionCost float64 `json:"transaction_cost" yaml:"transaction_cost"` // fraction of notional
}

type TradingHoursConfig struct {
	Start     string `json:"start" yaml:"start"`
	End       string `json:"end" yaml:"end"`
	SquareOff string `json:"square_off" yaml:"square_off"`
}

// EngineConfig intervals are in seconds.
type EngineConfig struct {
	CheckInterval     int `json:"engine_check_interval" yaml:"engine_check_interval"`
	StatusLogInterval int `json:"status_log_interval" yaml:"status_log_interval"`
	ErrorBackoff      int `json:"error_backoff" yaml:"error_backoff"`
	InactiveWait      int `json:"inactive_wait" yaml:"inactive_wait"`
}

type SessionConfig struct {
	CheckInterval int    `json:"session_check_interval" yaml:"session_check_interval"`
	StatsDir      string `json:"stats_dir" yaml:"stats_dir"`
}

type MarketDataConfig struct {
	MaxRetries    int `json:"max_retries" yaml:"max_retries"`
	RetryBackoff  int `json:"retry_backoff" yaml:"retry_backoff"`
	CacheDuration int `json:"cache_duration" yaml:"cache_duration"`
}

type BrokerConfig struct {
	BaseURL           string `json:"base_url" yaml:"base_url"`
	Exchange          string `json:"exchange" yaml:"exchange"`
	ProductType       string `json:"product_type" yaml:"product_type"`
	RequestsPerMinute int    `json:"requests_per_minute" yaml:"requests_per_minute"`
	Timeout           int    `json:"timeout" yaml:"timeout"`
}

// StrategyConfig names a registered strategy and the symbols it trades.
type StrategyConfig struct {
	Name    string             `json:"name" yaml:"name"`
	Type    string             `json:"type" yaml:"type"`
	Symbols []string           `json:"symbols" yaml:"symbols"`
	Params  map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
	Enabled bool               `json:"enabled" yaml:"enabled"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type       string `json:"type" yaml:"type"` // "csv", "sqlite" or "both"
	TradesFile string `json:"trades_file,omitempty" yaml:"trades_file,omitempty"`
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	ReportsDir string `json:"reports_dir,omitempty" yaml:"reports_dir,omitempty"`
}

// MonitorConfig thresholds are in account currency.
type MonitorConfig struct {
	DrawdownAlert float64 `json:"drawdown_alert" yaml:"drawdown_alert"`
	ProfitAlert   float64 `json:"profit_alert" yaml:"profit_alert"`
	LossAlert     float64 `json:"loss_alert" yaml:"loss_alert"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	Env   string `json:"env" yaml:"env"`
}

type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// LoadFromFile loads configuration from a file (JSON or YAML). Missing
// fields keep their Default values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeLive, ModePaper, ModeBacktest:
	default:
		return fmt.Errorf("mode must be LIVE, PAPER or BACKTEST, got %q", c.Mode)
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	r := c.Risk
	if r.MaxCapitalPerTrade <= 0 {
		return fmt.Errorf("risk.max_capital_per_trade must be positive")
	}
	if r.MaxLossPerTrade <= 0 {
		return fmt.Errorf("risk.max_loss_per_trade must be positive")
	}
	if r.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk.max_daily_loss must be positive")
	}
	if r.MaxPositions <= 0 {
		return fmt.Errorf("risk.max_positions must be positive")
	}
	if r.MaxCapitalUsed <= 0 {
		return fmt.Errorf("risk.max_capital_used must be positive")
	}
	if _, err := market.ParseTimeOfDay(r.SquareOffTime); err != nil {
		return fmt.Errorf("risk.square_off_time: %w", err)
	}

	if c.Capital.TotalCapital <= 0 {
		return fmt.Errorf("capital.total_capital must be positive")
	}
	if c.Capital.MaxPositionSize <= 0 || c.Capital.MaxPositionSize > 1 {
		return fmt.Errorf("capital.max_position_size must be between 0 and 1")
	}
	if c.Capital.MaxTotalExposure <= 0 || c.Capital.MaxTotalExposure > 1 {
		return fmt.Errorf("capital.max_total_exposure must be between 0 and 1")
	}

	if c.Paper.PaperCapital <= 0 {
		return fmt.Errorf("paper.paper_capital must be positive")
	}
	if c.Paper.SlippagePercent < 0 || c.Paper.TransactionCost < 0 {
		return fmt.Errorf("paper slippage and transaction cost cannot be negative")
	}

	start, end, squareOff, err := c.Hours()
	if err != nil {
		return err
	}
	if start.Minutes() >= end.Minutes() {
		return fmt.Errorf("trading_hours.start must be before trading_hours.end")
	}
	if squareOff.Minutes() <= start.Minutes() || squareOff.Minutes() > end.Minutes() {
		return fmt.Errorf("trading_hours.square_off must fall inside trading hours")
	}
	for _, h := range c.MarketHolidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return fmt.Errorf("market_holidays: bad date %q", h)
		}
	}

	if c.Engine.CheckInterval <= 0 || c.Session.CheckInterval <= 0 {
		return fmt.Errorf("engine and session check intervals must be positive")
	}
	if c.MarketData.MaxRetries < 1 {
		return fmt.Errorf("market_data.max_retries must be at least 1")
	}

	seen := make(map[string]bool, len(c.Strategies))
	for i, s := range c.Strategies {
		if s.Name == "" {
			return fmt.Errorf("strategies[%d].name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate strategy name %q", s.Name)
		}
		seen[s.Name] = true
		if s.Enabled && len(s.Symbols) == 0 {
			return fmt.Errorf("strategy %q has no symbols", s.Name)
		}
	}

	switch c.Journal.Type {
	case "csv":
		if c.Journal.TradesFile == "" {
			return fmt.Errorf("journal trades_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	case "both":
		if c.Journal.TradesFile == "" || c.Journal.DBPath == "" {
			return fmt.Errorf("journal trades_file and db_path required for both type")
		}
	default:
		return fmt.Errorf("journal.type must be 'csv', 'sqlite' or 'both'")
	}
	return nil
}

// Location loads the configured exchange timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}

// Hours parses the trading_hours section.
func (c *Config) Hours() (start, end, squareOff market.TimeOfDay, err error) {
	if start, err = market.ParseTimeOfDay(c.TradingHours.Start); err != nil {
		return start, end, squareOff, fmt.Errorf("trading_hours.start: %w", err)
	}
	if end, err = market.ParseTimeOfDay(c.TradingHours.End); err != nil {
		return start, end, squareOff, fmt.Errorf("trading_hours.end: %w", err)
	}
	if squareOff, err = market.ParseTimeOfDay(c.TradingHours.SquareOff); err != nil {
		return start, end, squareOff, fmt.Errorf("trading_hours.square_off: %w", err)
	}
	return start, end, squareOff, nil
}

// Calendar builds the exchange calendar from timezone and holidays.
func (c *Config) Calendar() (*market.Calendar, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	return market.NewCalendar(loc, c.MarketHolidays), nil
}

// Instruments returns lot sizes for the configured exchange.
func (c *Config) Instruments() market.Instruments {
	return market.NewInstruments(c.Broker.Exchange, c.LotSizes)
}

// Seconds converts a config interval to a duration, using def when unset.
func Seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Mode:     ModePaper,
		Timezone: "Asia/Kolkata",
		Risk: RiskConfig{
			MaxCapitalPerTrade: 10000,
			MaxLossPerTrade:    1000,
			MaxDailyLoss:       5000,
			MaxPositions:       3,
			MaxCapitalUsed:     50000,
			SquareOffTime:      "15:15",
		},
		Capital: CapitalConfig{
			TotalCapital:     100000,
			MaxPositionSize:  0.1,
			MaxTotalExposure: 0.8,
		},
		Paper: PaperConfig{
			PaperCapital:    100000,
			SlippagePercent: 0.05,
			TransactionCost: 0.0003,
		},
		TradingHours: TradingHoursConfig{
			Start:     "09:15",
			End:       "15:30",
			SquareOff: "15:15",
		},
		Engine: EngineConfig{
			CheckInterval:     1,
			StatusLogInterval: 300,
			ErrorBackoff:      5,
			InactiveWait:      60,
		},
		Session: SessionConfig{
			CheckInterval: 60,
			StatsDir:      "./data/sessions",
		},
		MarketData: MarketDataConfig{
			MaxRetries:    3,
			RetryBackoff:  1,
			CacheDuration: 1,
		},
		Broker: BrokerConfig{
			BaseURL:           "http://localhost:8080",
			Exchange:          "NSE",
			ProductType:       "INTRADAY",
			RequestsPerMinute: 180,
			Timeout:           10,
		},
		Strategies: []StrategyConfig{
			{
				Name:    "levels",
				Type:    "levels",
				Symbols: []string{"RELIANCE", "INFY"},
				Params:  map[string]float64{"increment": 0.125, "buffer": 0.001},
				Enabled: true,
			},
		},
		Journal: JournalConfig{
			Type:       "csv",
			TradesFile: "./data/trades.csv",
			ReportsDir: "./data/reports",
		},
		Monitor: MonitorConfig{
			DrawdownAlert: 2500,
			ProfitAlert:   5000,
			LossAlert:     2500,
		},
		Log: LogConfig{
			Level: "info",
			Env:   "development",
		},
	}
}
