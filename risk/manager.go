package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/daytrader/internal/logger"
	"github.com/rustyeddy/daytrader/market"
	"go.uber.org/zap"
)

type tracked struct {
	notional float64
	pnl      float64
}

// RiskManager gates new trades and exits against the session limits and
// keeps the day's pnl and drawdown.
type RiskManager struct {
	mu sync.Mutex

	limits  Limits
	lots    market.Instruments
	metrics Metrics
	open    map[string]*tracked

	now func() time.Time
	log *zap.SugaredLogger
}

func NewRiskManager(limits Limits, lots market.Instruments, log *zap.SugaredLogger) *RiskManager {
	return &RiskManager{
		limits:  limits,
		lots:    lots,
		metrics: Metrics{Level: LevelNormal},
		open:    make(map[string]*tracked),
		now:     time.Now,
		log:     logger.OrNop(log),
	}
}

// SetClock replaces the wall clock. The clock must return exchange-local
// time for square-off checks.
func (rm *RiskManager) SetClock(now func() time.Time) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.now = now
}

func (rm *RiskManager) Limits() Limits {
	return rm.limits
}

// EvaluateTrade returns nil when req may be opened, otherwise the first
// failing gate in order: level, position count, capital, daily loss, time.
func (rm *RiskManager) EvaluateTrade(req TradeRequest) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	err := rm.evaluateLocked(req)
	if err != nil {
		rm.log.Warnw("trade rejected", "symbol", req.Symbol, "reason", err.Error())
	}
	return err
}

func (rm *RiskManager) evaluateLocked(req TradeRequest) error {
	if rm.metrics.Level == LevelCritical {
		return ErrRiskCritical
	}
	if len(rm.open) >= rm.limits.MaxPositions {
		return fmt.Errorf("%w: %d open", ErrMaxPositions, len(rm.open))
	}
	if rm.metrics.CapitalUsed+req.Notional() > rm.limits.MaxCapitalUsed {
		return fmt.Errorf("%w: %.2f + %.2f > %.2f", ErrCapitalLimit,
			rm.metrics.CapitalUsed, req.Notional(), rm.limits.MaxCapitalUsed)
	}
	if rm.metrics.DailyPnL <= -rm.limits.MaxDailyLoss {
		return ErrDailyLossLimit
	}
	if rm.limits.SquareOffTime.Reached(rm.now()) {
		return ErrSquareOffTime
	}
	return nil
}

// CanTakeTrade is EvaluateTrade as a predicate.
func (rm *RiskManager) CanTakeTrade(req TradeRequest) bool {
	return rm.EvaluateTrade(req) == nil
}

// TrackPosition registers a newly opened position and its capital.
func (rm *RiskManager) TrackPosition(pos Position) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.trackLocked(pos)
}

func (rm *RiskManager) trackLocked(pos Position) *tracked {
	t := &tracked{notional: pos.Notional()}
	rm.open[pos.Symbol] = t
	rm.metrics.CapitalUsed += t.notional
	rm.metrics.OpenPositions = len(rm.open)
	return t
}

// Untrack forgets a position that never filled. Any pnl it carried is
// backed out of the day.
func (rm *RiskManager) Untrack(symbol string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	t, ok := rm.open[symbol]
	if !ok {
		return
	}
	rm.metrics.CapitalUsed -= t.notional
	rm.metrics.DailyPnL -= t.pnl
	delete(rm.open, symbol)
	rm.metrics.OpenPositions = len(rm.open)
	rm.refreshLocked()
}

// UpdatePosition revalues pos at price and books the change in pnl since
// the last update into the day. It returns the new pnl.
func (rm *RiskManager) UpdatePosition(symbol string, price float64, pos Position) float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	pnl := PnL(pos.Side, pos.EntryPrice, price, pos.Quantity)

	t, ok := rm.open[symbol]
	if !ok {
		t = rm.trackLocked(pos)
	}
	rm.metrics.DailyPnL += pnl - t.pnl
	t.pnl = pnl

	rm.refreshLocked()
	return pnl
}

// ClosePosition books the final pnl of symbol and counts the trade.
func (rm *RiskManager) ClosePosition(symbol string, realized float64) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if t, ok := rm.open[symbol]; ok {
		rm.metrics.DailyPnL += realized - t.pnl
		rm.metrics.CapitalUsed -= t.notional
		delete(rm.open, symbol)
	} else {
		rm.metrics.DailyPnL += realized
	}
	if rm.metrics.CapitalUsed < 0 {
		rm.metrics.CapitalUsed = 0
	}

	rm.metrics.NumTrades++
	switch {
	case realized > 0:
		rm.metrics.WinningTrades++
	case realized < 0:
		rm.metrics.LosingTrades++
	}
	rm.metrics.OpenPositions = len(rm.open)
	rm.refreshLocked()
}

// refreshLocked updates drawdown and recomputes the level from scratch.
func (rm *RiskManager) refreshLocked() {
	m := &rm.metrics
	if m.DailyPnL > m.PeakCapital {
		m.PeakCapital = m.DailyPnL
	}
	m.CurrentDrawdown = m.PeakCapital - m.DailyPnL
	if m.CurrentDrawdown > m.MaxDrawdown {
		m.MaxDrawdown = m.CurrentDrawdown
	}

	prev := m.Level
	switch maxLoss := rm.limits.MaxDailyLoss; {
	case m.DailyPnL <= -maxLoss || m.MaxDrawdown >= 1.5*maxLoss:
		m.Level = LevelCritical
	case m.DailyPnL <= -0.7*maxLoss:
		m.Level = LevelWarning
	default:
		m.Level = LevelNormal
	}
	if m.Level != prev {
		rm.log.Warnw("risk level changed", "from", prev, "to", m.Level,
			"daily_pnl", m.DailyPnL, "max_drawdown", m.MaxDrawdown)
	}
}

// ExitReason names the limit that forces pos to close, or "".
func (rm *RiskManager) ExitReason(pos Position) string {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	switch {
	case pos.PnL <= -rm.limits.MaxLossPerTrade:
		return "MAX_LOSS"
	case rm.metrics.DailyPnL <= -rm.limits.MaxDailyLoss:
		return "DAILY_LOSS_LIMIT"
	case rm.limits.SquareOffTime.Reached(rm.now()):
		return "SQUARE_OFF"
	}
	return ""
}

// CheckExitConditions reports whether pos must be closed now.
func (rm *RiskManager) CheckExitConditions(pos Position) bool {
	return rm.ExitReason(pos) != ""
}

// CheckLimits reports a global breach that should halt trading.
func (rm *RiskManager) CheckLimits() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.metrics.DailyPnL <= -rm.limits.MaxDailyLoss {
		return fmt.Errorf("%w: %.2f", ErrDailyLossLimit, rm.metrics.DailyPnL)
	}
	if rm.metrics.Level == LevelCritical {
		return fmt.Errorf("%w: drawdown %.2f", ErrRiskCritical, rm.metrics.MaxDrawdown)
	}
	return nil
}

// ResetDailyMetrics starts a fresh day.
func (rm *RiskManager) ResetDailyMetrics() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.metrics = Metrics{Level: LevelNormal}
	rm.open = make(map[string]*tracked)
	rm.log.Infow("daily risk metrics reset")
}

func (rm *RiskManager) Metrics() Metrics {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.metrics
}

func (rm *RiskManager) Level() Level {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.metrics.Level
}

func (rm *RiskManager) LogStatus() {
	m := rm.Metrics()
	rm.log.Infow("risk status",
		"level", m.Level,
		"daily_pnl", m.DailyPnL,
		"drawdown", m.CurrentDrawdown,
		"max_drawdown", m.MaxDrawdown,
		"trades", m.NumTrades,
		"win_rate", m.WinRate(),
		"capital_used", m.CapitalUsed,
		"open_positions", m.OpenPositions,
	)
}
