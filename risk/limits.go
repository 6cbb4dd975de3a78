package risk

import (
	"fmt"

	"github.com/rustyeddy/daytrader/config"
	"github.com/rustyeddy/daytrader/market"
)

// Limits are fixed for a session.
type Limits struct {
	MaxCapitalPerTrade float64
	MaxLossPerTrade    float64
	MaxDailyLoss       float64
	MaxPositions       int
	MaxCapitalUsed     float64
	SquareOffTime      market.TimeOfDay
}

func LimitsFromConfig(c config.RiskConfig) (Limits, error) {
	sq, err := market.ParseTimeOfDay(c.SquareOffTime)
	if err != nil {
		return Limits{}, fmt.Errorf("risk limits: %w", err)
	}
	return Limits{
		MaxCapitalPerTrade: c.MaxCapitalPerTrade,
		MaxLossPerTrade:    c.MaxLossPerTrade,
		MaxDailyLoss:       c.MaxDailyLoss,
		MaxPositions:       c.MaxPositions,
		MaxCapitalUsed:     c.MaxCapitalUsed,
		SquareOffTime:      sq,
	}, nil
}

// Level summarizes how close the day is to its loss limit.
type Level string

const (
	LevelNormal   Level = "NORMAL"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Ordinal maps a level to 0, 1 or 2 for gauges.
func (l Level) Ordinal() int {
	switch l {
	case LevelWarning:
		return 1
	case LevelCritical:
		return 2
	}
	return 0
}

// Metrics are the day's running risk figures.
type Metrics struct {
	DailyPnL        float64 `json:"daily_pnl"`
	PeakCapital     float64 `json:"peak_capital"`
	CurrentDrawdown float64 `json:"current_drawdown"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	NumTrades       int     `json:"num_trades"`
	WinningTrades   int     `json:"winning_trades"`
	LosingTrades    int     `json:"losing_trades"`
	CapitalUsed     float64 `json:"capital_used"`
	OpenPositions   int     `json:"open_positions"`
	Level           Level   `json:"risk_level"`
}

func (m Metrics) WinRate() float64 {
	if m.NumTrades == 0 {
		return 0
	}
	return float64(m.WinningTrades) / float64(m.NumTrades)
}

// TradeRequest is what the risk gate needs to know about a new trade.
type TradeRequest struct {
	Symbol     string
	EntryPrice float64
	Quantity   int
}

func (r TradeRequest) Notional() float64 {
	return r.EntryPrice * float64(r.Quantity)
}
