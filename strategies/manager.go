package strategies

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/daytrader/broker"
	"github.com/rustyeddy/daytrader/internal/logger"
	"github.com/rustyeddy/daytrader/market"
	"github.com/rustyeddy/daytrader/metrics"
	"github.com/rustyeddy/daytrader/risk"
	"go.uber.org/zap"
)

var (
	ErrDuplicateStrategy = errors.New("strategy already registered")
	ErrNotRunning        = errors.New("strategy manager not running")
)

type State string

const (
	StateInitialized State = "INITIALIZED"
	StateRunning     State = "RUNNING"
	StateStopped     State = "STOPPED"
	StateError       State = "ERROR"
)

// OrderPlacer routes entry and exit orders.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req broker.OrderRequest) broker.OrderResponse
}

// PriceSource returns the latest known price per symbol.
type PriceSource interface {
	Prices(ctx context.Context, symbols []string) map[string]float64
}

// ManagerConfig wires a Manager to the rest of the engine.
type ManagerConfig struct {
	Positions *risk.PositionManager
	Risk      *risk.RiskManager
	Capital   *risk.CapitalManager
	Orders    OrderPlacer
	Prices    PriceSource
	Exchange  string
	Product   broker.Product
	Metrics   *metrics.Metrics
	Log       *zap.SugaredLogger
}

// Status is a snapshot of the strategy layer.
type Status struct {
	State            State     `json:"state"`
	ActiveStrategies []string  `json:"active_strategies"`
	TotalStrategies  int       `json:"total_strategies"`
	TotalPositions   int       `json:"total_positions"`
	RealizedPnL      float64   `json:"realized_pnl"`
	UnrealizedPnL    float64   `json:"unrealized_pnl"`
	TotalPnL         float64   `json:"total_pnl"`
	Time             time.Time `json:"timestamp"`
}

// Manager runs every strategy once per cycle: entries for flat symbols
// and exit management for open ones.
type Manager struct {
	mu sync.Mutex

	strategies []Strategy
	state      State

	positions *risk.PositionManager
	risk      *risk.RiskManager
	capital   *risk.CapitalManager
	orders    OrderPlacer
	prices    PriceSource
	exchange  string
	product   broker.Product
	metrics   *metrics.Metrics

	onClose []func(risk.ClosedPosition)
	now     func() time.Time
	log     *zap.SugaredLogger
}

func NewManager(cfg ManagerConfig) *Manager {
	product := cfg.Product
	if product == "" {
		product = broker.Intraday
	}
	return &Manager{
		state:     StateInitialized,
		positions: cfg.Positions,
		risk:      cfg.Risk,
		capital:   cfg.Capital,
		orders:    cfg.Orders,
		prices:    cfg.Prices,
		exchange:  cfg.Exchange,
		product:   product,
		metrics:   cfg.Metrics,
		now:       time.Now,
		log:       logger.OrNop(cfg.Log),
	}
}

func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// OnClose registers fn to receive every closed position.
func (m *Manager) OnClose(fn func(risk.ClosedPosition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = append(m.onClose, fn)
}

func (m *Manager) Add(s Strategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, have := range m.strategies {
		if have.Name() == s.Name() {
			return fmt.Errorf("%s: %w", s.Name(), ErrDuplicateStrategy)
		}
	}
	m.strategies = append(m.strategies, s)
	m.log.Infow("strategy added", "strategy", s.Name(), "symbols", s.Symbols())
	return nil
}

// Initialize prepares every strategy and allocates each of their symbols
// its full per-symbol capital ceiling. Symbols whose allocation fails stay
// tradable in name only: the capital manager rejects their entries.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.strategies {
		if err := s.Initialize(ctx); err != nil {
			m.state = StateError
			return fmt.Errorf("initialize %s: %w", s.Name(), err)
		}
	}
	for _, sym := range m.symbolsLocked() {
		if _, ok := m.capital.Allocation(sym); ok {
			continue
		}
		amount := m.capital.PositionCeiling()
		if err := m.capital.AllocateCapital(sym, amount); err != nil {
			m.log.Warnw("capital allocation failed", "symbol", sym, "amount", amount, "err", err)
		}
	}
	m.state = StateInitialized
	return nil
}

// Start moves the manager to RUNNING.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateRunning
}

func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateStopped {
		m.state = StateStopped
		m.log.Infow("strategy manager stopped")
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Symbols is the sorted union of every strategy's symbols.
func (m *Manager) Symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.symbolsLocked()
}

func (m *Manager) symbolsLocked() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range m.strategies {
		for _, sym := range s.Symbols() {
			if !seen[sym] {
				seen[sym] = true
				out = append(out, sym)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Process runs one cycle over quotes. Per-symbol failures are logged and
// skipped; the first of them is returned so the cycle can count it.
func (m *Manager) Process(ctx context.Context, quotes map[string]market.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateRunning {
		return ErrNotRunning
	}

	var first error
	note := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for _, s := range m.strategies {
		for _, sym := range s.Symbols() {
			if err := ctx.Err(); err != nil {
				return err
			}
			q, ok := quotes[sym]
			if !ok || !q.Valid() {
				continue
			}
			if pos, open := m.positions.Position(sym); open {
				if pos.Strategy == s.Name() {
					note(m.manageLocked(ctx, s, pos, q))
				}
				continue
			}
			note(m.enterLocked(ctx, s, sym))
		}
	}
	return first
}

func (m *Manager) enterLocked(ctx context.Context, s Strategy, symbol string) error {
	sig, err := s.GenerateSignal(ctx, symbol)
	if err != nil {
		m.log.Errorw("generate signal", "strategy", s.Name(), "symbol", symbol, "err", err)
		return err
	}
	if sig == nil || !sig.IsEntry() {
		return nil
	}
	if !s.ValidateSignal(*sig) {
		m.log.Debugw("signal rejected by strategy", "strategy", s.Name(), "symbol", symbol)
		return nil
	}
	if !m.risk.CanTakeTrade(sig.Request()) {
		return nil
	}

	pos, err := m.positions.AddPosition(sig.Position(s.Name()))
	if err != nil {
		m.log.Warnw("position rejected", "symbol", symbol, "err", err)
		return nil
	}

	side := broker.Buy
	if pos.Side == risk.Short {
		side = broker.Sell
	}
	resp := m.orders.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:   symbol,
		Exchange: m.exchange,
		Quantity: pos.Quantity,
		Side:     side,
		Product:  m.product,
		Type:     broker.Market,
	})
	m.metrics.RecordOrder(string(side), resp.OK())
	if !resp.OK() {
		m.positions.Discard(symbol)
		m.log.Errorw("entry order failed", "symbol", symbol, "side", side, "msg", resp.Message)
		return fmt.Errorf("entry %s: %s", symbol, resp.Message)
	}
	m.positions.SetOrderID(symbol, resp.OrderID)
	planned := risk.PlannedRisk(pos.Quantity, pos.EntryPrice, sig.StopLoss)
	m.log.Infow("entry order placed", "strategy", s.Name(), "symbol", symbol, "side", pos.Side,
		"qty", pos.Quantity, "entry", pos.EntryPrice, "stop", sig.StopLoss, "order_id", resp.OrderID,
		"planned_risk", planned, "risk_pct", risk.RiskPct(planned, m.capital.Current()))
	return nil
}

// manageLocked updates an open position and closes it when a stop,
// target, risk limit or the strategy says so.
func (m *Manager) manageLocked(ctx context.Context, s Strategy, pos risk.Position, q market.Quote) error {
	m.positions.UpdatePosition(pos.Symbol, q.LTP)
	pos, _ = m.positions.Position(pos.Symbol)

	if stops := s.Trail(pos, q); stops != nil {
		m.positions.UpdateStopsAndTargets(pos.Symbol, stops, nil)
		m.log.Infow("stop trailed", "symbol", pos.Symbol, "stops", stops)
	}

	reason := m.positions.CheckStopsAndTargets(pos.Symbol, q.LTP)
	if reason == "" {
		reason = m.risk.ExitReason(pos)
	}
	if reason == "" {
		if exit, why := s.ShouldExit(pos, q); exit {
			reason = why
			if reason == "" {
				reason = risk.ReasonStrategy
			}
		}
	}
	if reason == "" {
		return nil
	}

	fill, err := m.exitOrderLocked(ctx, pos, q.LTP)
	if err != nil {
		return err
	}
	if rec, ok := m.positions.ClosePosition(pos.Symbol, fill, m.now(), reason); ok {
		m.closedLocked(rec)
	}
	return nil
}

// exitOrderLocked places the order flattening pos and returns its fill.
func (m *Manager) exitOrderLocked(ctx context.Context, pos risk.Position, price float64) (float64, error) {
	side := broker.Sell
	if pos.Side == risk.Short {
		side = broker.Buy
	}
	resp := m.orders.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:   pos.Symbol,
		Exchange: m.exchange,
		Quantity: pos.Quantity,
		Side:     side,
		Product:  m.product,
		Type:     broker.Market,
	})
	m.metrics.RecordOrder(string(side), resp.OK())
	if !resp.OK() {
		m.log.Errorw("exit order failed", "symbol", pos.Symbol, "side", side, "msg", resp.Message)
		return 0, fmt.Errorf("exit %s: %s", pos.Symbol, resp.Message)
	}
	if resp.Order != nil && resp.Order.Price > 0 {
		return resp.Order.Price, nil
	}
	return price, nil
}

func (m *Manager) closedLocked(rec risk.ClosedPosition) {
	m.log.Infow("position closed", "strategy", rec.Strategy, "symbol", rec.Symbol,
		"exit", rec.ExitPrice, "pnl", rec.PnL, "reason", rec.Reason)
	for _, fn := range m.onClose {
		fn(rec)
	}
}

// SquareOffAll flattens every open position at market. Positions whose
// price or exit order is unavailable stay open.
func (m *Manager) SquareOffAll(ctx context.Context, reason string) []risk.ClosedPosition {
	m.mu.Lock()
	defer m.mu.Unlock()

	open := m.positions.Positions()
	if len(open) == 0 {
		return nil
	}
	symbols := make([]string, 0, len(open))
	for _, p := range open {
		symbols = append(symbols, p.Symbol)
	}
	prices := m.prices.Prices(ctx, symbols)

	fills := make(map[string]float64, len(open))
	for _, p := range open {
		price, ok := prices[p.Symbol]
		if !ok {
			m.log.Warnw("no price for square off", "symbol", p.Symbol)
			continue
		}
		fill, err := m.exitOrderLocked(ctx, p, price)
		if err != nil {
			continue
		}
		fills[p.Symbol] = fill
	}

	closed := m.positions.CloseAllPositions(fills, reason)
	for _, rec := range closed {
		m.closedLocked(rec)
	}
	if len(closed) > 0 {
		m.log.Infow("squared off", "positions", len(closed), "reason", reason)
	}
	return closed
}

// UpdatePrices marks open positions to the latest quotes.
func (m *Manager) UpdatePrices(quotes map[string]market.Quote) {
	for _, p := range m.positions.Positions() {
		if q, ok := quotes[p.Symbol]; ok && q.Valid() {
			m.positions.UpdatePosition(p.Symbol, q.LTP)
		}
	}
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		State:           m.state,
		TotalStrategies: len(m.strategies),
		Time:            m.now(),
	}
	active := make(map[string]bool)
	for _, p := range m.positions.Positions() {
		st.TotalPositions++
		st.UnrealizedPnL += p.PnL
		active[p.Strategy] = true
	}
	for _, rec := range m.positions.History() {
		st.RealizedPnL += rec.PnL
	}
	for _, s := range m.strategies {
		if m.state == StateRunning || active[s.Name()] {
			st.ActiveStrategies = append(st.ActiveStrategies, s.Name())
		}
	}
	st.TotalPnL = st.RealizedPnL + st.UnrealizedPnL
	return st
}
