package risk

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/daytrader/internal/logger"
	"go.uber.org/zap"
)

// PositionManager owns the open positions. It is the only writer of
// position state and keeps the risk and capital managers in step.
type PositionManager struct {
	mu sync.Mutex

	risk    *RiskManager
	capital *CapitalManager

	positions map[string]*Position
	history   []ClosedPosition

	targetFirst bool
	now         func() time.Time
	log         *zap.SugaredLogger
}

func NewPositionManager(rm *RiskManager, cm *CapitalManager, log *zap.SugaredLogger) *PositionManager {
	return &PositionManager{
		risk:      rm,
		capital:   cm,
		positions: make(map[string]*Position),
		now:       time.Now,
		log:       logger.OrNop(log),
	}
}

// SetTargetFirst makes a target win when a price breaches both a stop
// and a target. Stops win by default.
func (pm *PositionManager) SetTargetFirst(v bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.targetFirst = v
}

func (pm *PositionManager) SetClock(now func() time.Time) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.now = now
}

// AddPosition opens pos after the duplicate, validation, risk and capital
// checks pass, in that order. The stored position is returned.
func (pm *PositionManager) AddPosition(pos Position) (Position, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if p, ok := pm.positions[pos.Symbol]; ok && p.IsActive {
		return Position{}, fmt.Errorf("add %s: %w", pos.Symbol, ErrDuplicatePosition)
	}
	if err := pos.Validate(); err != nil {
		return Position{}, fmt.Errorf("add %s: %w", pos.Symbol, err)
	}

	req := TradeRequest{Symbol: pos.Symbol, EntryPrice: pos.EntryPrice, Quantity: pos.Quantity}
	if err := pm.risk.EvaluateTrade(req); err != nil {
		return Position{}, fmt.Errorf("add %s: %w", pos.Symbol, err)
	}
	if err := pm.capital.UseCapital(pos.Symbol, pos.Notional()); err != nil {
		return Position{}, fmt.Errorf("add %s: %w", pos.Symbol, err)
	}

	if pos.EntryTime.IsZero() {
		pos.EntryTime = pm.now()
	}
	pos.ID = positionID(pos.Symbol, pos.EntryTime)
	pos.IsActive = true
	if pos.CurrentPrice == 0 {
		pos.CurrentPrice = pos.EntryPrice
	}
	pos.PnL = PnL(pos.Side, pos.EntryPrice, pos.CurrentPrice, pos.Quantity)

	stored := pos.clone()
	pm.positions[pos.Symbol] = &stored
	pm.risk.TrackPosition(stored)

	pm.log.Infow("position opened", "id", pos.ID, "symbol", pos.Symbol, "side", pos.Side,
		"qty", pos.Quantity, "entry", pos.EntryPrice, "strategy", pos.Strategy)
	return stored.clone(), nil
}

// Discard removes a position whose entry order never filled. Its capital
// is released and no history record is written.
func (pm *PositionManager) Discard(symbol string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	p, ok := pm.positions[symbol]
	if !ok {
		return false
	}
	if err := pm.capital.ReleaseCapital(symbol, p.Notional()); err != nil {
		pm.log.Errorw("release on discard failed", "symbol", symbol, "error", err)
	}
	pm.risk.Untrack(symbol)
	delete(pm.positions, symbol)
	pm.log.Infow("position discarded", "symbol", symbol)
	return true
}

// SetOrderID records the broker order that opened symbol.
func (pm *PositionManager) SetOrderID(symbol, orderID string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	p, ok := pm.positions[symbol]
	if !ok {
		return false
	}
	p.OrderID = orderID
	return true
}

// UpdatePosition revalues symbol at price. False when symbol is not open.
func (pm *PositionManager) UpdatePosition(symbol string, price float64) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	p, ok := pm.positions[symbol]
	if !ok {
		return false
	}
	p.CurrentPrice = price
	p.PnL = pm.risk.UpdatePosition(symbol, price, *p)
	// a breach is logged by the capital manager and does not close the position
	_ = pm.capital.UpdatePositionExposure(symbol, price*float64(p.Quantity))
	return true
}

// ClosePosition closes symbol at exitPrice and returns the record. The
// second result is false when symbol has no open position.
func (pm *PositionManager) ClosePosition(symbol string, exitPrice float64, exitTime time.Time, reason string) (ClosedPosition, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.closeLocked(symbol, exitPrice, exitTime, reason)
}

func (pm *PositionManager) closeLocked(symbol string, exitPrice float64, exitTime time.Time, reason string) (ClosedPosition, bool) {
	p, ok := pm.positions[symbol]
	if !ok {
		return ClosedPosition{}, false
	}

	pnl := PnL(p.Side, p.EntryPrice, exitPrice, p.Quantity)

	if err := pm.capital.ReleaseCapital(symbol, p.Notional()); err != nil {
		pm.log.Errorw("release capital failed", "symbol", symbol, "error", err)
	}
	_ = pm.capital.UpdatePositionExposure(symbol, 0)
	pm.capital.AdjustForPnL(pnl)
	pm.risk.ClosePosition(symbol, pnl)

	p.IsActive = false
	p.CurrentPrice = exitPrice
	p.PnL = pnl

	rec := ClosedPosition{
		ID:         p.ID,
		Symbol:     p.Symbol,
		Strategy:   p.Strategy,
		Side:       p.Side,
		Quantity:   p.Quantity,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		EntryTime:  p.EntryTime,
		ExitTime:   exitTime,
		PnL:        pnl,
		Reason:     reason,
		OrderID:    p.OrderID,
	}
	pm.history = append(pm.history, rec)
	delete(pm.positions, symbol)

	pm.log.Infow("position closed", "id", rec.ID, "symbol", symbol, "exit", exitPrice,
		"pnl", pnl, "reason", reason)
	return rec, true
}

// CloseAllPositions closes every open symbol that has a price in prices.
// Symbols without a price stay open.
func (pm *PositionManager) CloseAllPositions(prices map[string]float64, reason string) []ClosedPosition {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	now := pm.now()
	var closed []ClosedPosition
	for _, symbol := range pm.symbolsLocked() {
		price, ok := prices[symbol]
		if !ok || price <= 0 {
			pm.log.Warnw("no price for square-off, leaving open", "symbol", symbol)
			continue
		}
		if rec, ok := pm.closeLocked(symbol, price, now, reason); ok {
			closed = append(closed, rec)
		}
	}
	return closed
}

// CheckStopsAndTargets returns ReasonStop, ReasonTarget or "" for symbol
// at price.
func (pm *PositionManager) CheckStopsAndTargets(symbol string, price float64) string {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	p, ok := pm.positions[symbol]
	if !ok {
		return ""
	}
	stop, target := stopHit(p, price), targetHit(p, price)
	if pm.targetFirst && target {
		return ReasonTarget
	}
	switch {
	case stop:
		return ReasonStop
	case target:
		return ReasonTarget
	}
	return ""
}

func stopHit(p *Position, price float64) bool {
	for _, s := range p.Stops {
		if p.Side == Long && price <= s || p.Side == Short && price >= s {
			return true
		}
	}
	return false
}

func targetHit(p *Position, price float64) bool {
	for _, t := range p.Targets {
		if p.Side == Long && price >= t || p.Side == Short && price <= t {
			return true
		}
	}
	return false
}

// UpdateStopsAndTargets replaces the levels of symbol. A nil slice leaves
// that side unchanged.
func (pm *PositionManager) UpdateStopsAndTargets(symbol string, stops, targets []float64) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	p, ok := pm.positions[symbol]
	if !ok {
		return false
	}
	if stops != nil {
		p.Stops = append([]float64(nil), stops...)
	}
	if targets != nil {
		p.Targets = append([]float64(nil), targets...)
	}
	return true
}

func (pm *PositionManager) Position(symbol string) (Position, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	p, ok := pm.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return p.clone(), true
}

// Positions returns the open positions sorted by symbol.
func (pm *PositionManager) Positions() []Position {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	out := make([]Position, 0, len(pm.positions))
	for _, s := range pm.symbolsLocked() {
		out = append(out, pm.positions[s].clone())
	}
	return out
}

func (pm *PositionManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.positions)
}

func (pm *PositionManager) History() []ClosedPosition {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return append([]ClosedPosition(nil), pm.history...)
}

func (pm *PositionManager) symbolsLocked() []string {
	out := make([]string, 0, len(pm.positions))
	for s := range pm.positions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
