package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/daytrader/broker"
	"github.com/rustyeddy/daytrader/config"
	"github.com/rustyeddy/daytrader/journal"
	"github.com/rustyeddy/daytrader/market"
	"github.com/rustyeddy/daytrader/monitor"
	"github.com/rustyeddy/daytrader/risk"
	"github.com/rustyeddy/daytrader/session"
	"github.com/rustyeddy/daytrader/strategies"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// 2026-10-19 is a Monday.
func at(hhmm string) time.Time {
	d := market.MustTimeOfDay(hhmm)
	return time.Date(2026, 10, 19, d.Hour, d.Minute, 0, 0, time.UTC)
}

// conn is an in-memory brokerage connection.
type conn struct {
	mu         sync.Mutex
	prices     map[string]float64
	connectErr error
	quoteErr   error
	rejectAll  bool
	connects   int
	orders     []broker.OrderRequest
	now        func() time.Time
}

func newConn(now func() time.Time) *conn {
	return &conn{prices: map[string]float64{"INFY": 100}, now: now}
}

func (c *conn) set(symbol string, ltp float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = ltp
}

func (c *conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return c.connectErr
}

func (c *conn) IsConnected(ctx context.Context) bool { return true }

func (c *conn) GetQuote(ctx context.Context, symbol, exchange string) (market.Quote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.quoteErr != nil {
		return market.Quote{}, c.quoteErr
	}
	p, ok := c.prices[symbol]
	if !ok {
		return market.Quote{}, broker.ErrNoQuote
	}
	return market.Quote{Symbol: symbol, LTP: p, Time: c.now()}, nil
}

func (c *conn) GetHistoricalData(ctx context.Context, req broker.HistoricalRequest) ([]market.Candle, error) {
	return nil, nil
}

func (c *conn) IsMarketOpen(ctx context.Context) bool { return true }

func (c *conn) PlaceOrder(ctx context.Context, req broker.OrderRequest) broker.OrderResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders = append(c.orders, req)
	if c.rejectAll {
		return broker.Failure("rejected")
	}
	return broker.Success(broker.Order{
		ID:       fmt.Sprintf("LIVE-%d", len(c.orders)),
		Symbol:   req.Symbol,
		Quantity: req.Quantity,
		Side:     req.Side,
		Price:    c.prices[req.Symbol],
		Status:   broker.StatusComplete,
	}, "ok")
}

func (c *conn) ModifyOrder(ctx context.Context, req broker.ModifyRequest) broker.OrderResponse {
	return broker.Failure("unsupported")
}

func (c *conn) CancelOrder(ctx context.Context, orderID string) broker.OrderResponse {
	return broker.Failure("unsupported")
}

func (c *conn) OrderStatus(ctx context.Context, orderID string) (broker.Order, error) {
	return broker.Order{}, broker.ErrOrderNotFound
}

func (c *conn) GetPositions(ctx context.Context) ([]broker.PositionData, error) {
	return nil, nil
}

func (c *conn) GetMargins(ctx context.Context) (broker.Margins, error) {
	return broker.Margins{}, nil
}

// feed serves both the cycle's quote refresh and square-off prices.
type feed struct {
	c *conn
}

func (f feed) Refresh(ctx context.Context, symbols []string) (map[string]market.Quote, error) {
	out := make(map[string]market.Quote, len(symbols))
	for _, s := range symbols {
		q, err := f.c.GetQuote(ctx, s, "")
		if err != nil {
			return nil, err
		}
		out[s] = q
	}
	return out, nil
}

func (f feed) Prices(ctx context.Context, symbols []string) map[string]float64 {
	out := make(map[string]float64)
	for _, s := range symbols {
		if q, err := f.c.GetQuote(ctx, s, ""); err == nil {
			out[s] = q.LTP
		}
	}
	return out
}

// scripted goes long once per arm at the current price with a 5 point
// stop and a 10 point target.
type scripted struct {
	mu    sync.Mutex
	data  *conn
	armed bool
	panic bool
	now   func() time.Time
}

func (s *scripted) arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = true
}

func (s *scripted) Name() string                          { return "scripted" }
func (s *scripted) Symbols() []string                     { return []string{"INFY"} }
func (s *scripted) Initialize(ctx context.Context) error  { return nil }
func (s *scripted) ValidateSignal(strategies.Signal) bool { return true }

func (s *scripted) GenerateSignal(ctx context.Context, symbol string) (*strategies.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panic {
		panic("strategy bug")
	}
	if !s.armed {
		return nil, nil
	}
	s.armed = false
	q, err := s.data.GetQuote(ctx, symbol, "")
	if err != nil {
		return nil, err
	}
	return &strategies.Signal{
		Type:       strategies.SignalLong,
		Symbol:     symbol,
		EntryPrice: q.LTP,
		StopLoss:   q.LTP - 5,
		Targets:    []float64{q.LTP + 10},
		Quantity:   10,
		Timestamp:  s.now(),
	}, nil
}

func (s *scripted) Trail(risk.Position, market.Quote) []float64 { return nil }

func (s *scripted) ShouldExit(risk.Position, market.Quote) (bool, string) { return false, "" }

type trades struct {
	mu   sync.Mutex
	recs []journal.TradeRecord
}

func (t *trades) RecordTrade(r journal.TradeRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recs = append(t.recs, r)
	return nil
}

func (t *trades) Close() error { return nil }

func (t *trades) all() []journal.TradeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]journal.TradeRecord(nil), t.recs...)
}

type reports struct {
	mu    sync.Mutex
	names []string
}

func (r *reports) SaveReport(name string, v any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	return name, nil
}

type rig struct {
	eng     *Engine
	clk     *clock
	conn    *conn
	strat   *scripted
	rm      *risk.RiskManager
	pm      *risk.PositionManager
	sm      *session.Manager
	mon     *monitor.Monitor
	trades  *trades
	reports *reports
}

type rigOption func(*config.Config)

func newRig(t *testing.T, opts ...rigOption) *rig {
	t.Helper()

	cfg := config.Default()
	cfg.Timezone = "UTC"
	cfg.Paper.SlippagePercent = 0
	cfg.Paper.TransactionCost = 0
	for _, o := range opts {
		o(cfg)
	}

	clk := &clock{t: at("10:00")}
	c := newConn(clk.Now)
	f := feed{c: c}

	limits, err := risk.LimitsFromConfig(cfg.Risk)
	require.NoError(t, err)
	rm := risk.NewRiskManager(limits, cfg.Instruments(), nil)
	rm.SetClock(clk.Now)
	cm := risk.NewCapitalManager(cfg.Capital, nil)
	pm := risk.NewPositionManager(rm, cm, nil)
	pm.SetClock(clk.Now)

	modes := NewModeManager(cfg.Mode, Brokers(c, cfg.Paper, nil), nil)
	mgr := strategies.NewManager(strategies.ManagerConfig{
		Positions: pm,
		Risk:      rm,
		Capital:   cm,
		Orders:    modes,
		Prices:    f,
		Exchange:  "NSE",
	})
	mgr.SetClock(clk.Now)
	strat := &scripted{data: c, now: clk.Now}
	require.NoError(t, mgr.Add(strat))

	sm, err := session.New(cfg, nil, nil, nil)
	require.NoError(t, err)
	sm.SetClock(clk.Now)

	w := &reports{}
	mon := monitor.New(cfg.Monitor, rm, pm, w, nil, nil)
	mon.SetClock(clk.Now)

	j := &trades{}
	eng, err := New(Components{
		Session:    sm,
		Broker:     c,
		Modes:      modes,
		Risk:       rm,
		Strategies: mgr,
		Quotes:     f,
		Monitor:    mon,
		Journal:    j,
	}, Options{
		CheckInterval:     time.Millisecond,
		StatusLogInterval: time.Hour,
		ErrorBackoff:      time.Millisecond,
		InactiveWait:      time.Millisecond,
	})
	require.NoError(t, err)
	eng.SetClock(clk.Now)

	return &rig{eng: eng, clk: clk, conn: c, strat: strat, rm: rm, pm: pm, sm: sm, mon: mon, trades: j, reports: w}
}

func (r *rig) step(t *testing.T) (time.Duration, error) {
	t.Helper()
	return r.eng.step(context.Background())
}

func TestNewRequiresComponents(t *testing.T) {
	t.Parallel()

	_, err := New(Components{}, Options{})
	assert.ErrorIs(t, err, errMissing)
}

func TestInitialize(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	require.NoError(t, r.eng.Initialize(context.Background()))
	assert.Equal(t, StateReady, r.eng.State())
	assert.Equal(t, config.ModePaper, r.eng.modes.Mode())
	assert.True(t, r.sm.IsActiveSession())
	// The engine connects the shared connection and the paper broker
	// connects it again through the mode switch.
	assert.Equal(t, 2, r.conn.connects)

	assert.Error(t, r.eng.Initialize(context.Background()), "initialize runs once")
}

func TestInitializeStopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	r.conn.connectErr = errors.New("login failed")

	err := r.eng.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initialize broker")
	assert.Equal(t, StateError, r.eng.State())
	assert.Empty(t, r.eng.modes.Mode(), "mode manager never initialized")
	assert.Equal(t, strategies.StateInitialized, r.eng.strategies.State())
}

func TestInitializeRejectsBacktest(t *testing.T) {
	t.Parallel()

	r := newRig(t, func(c *config.Config) { c.Mode = config.ModeBacktest })
	err := r.eng.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrUnsupportedMode)
	assert.Equal(t, StateError, r.eng.State())
}

func TestStepEntersAndExits(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	require.NoError(t, r.eng.Initialize(context.Background()))
	r.eng.strategies.Start()

	r.strat.arm()
	wait, err := r.step(t)
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, wait)
	pos, ok := r.pm.Position("INFY")
	require.True(t, ok)
	assert.Equal(t, 10, pos.Quantity)

	r.conn.set("INFY", 110)
	_, err = r.step(t)
	require.NoError(t, err)
	assert.Equal(t, 0, r.pm.Count())

	recs := r.trades.all()
	require.Len(t, recs, 1)
	assert.Equal(t, risk.ReasonTarget, recs[0].ExitReason)
	assert.InDelta(t, 100.0, recs[0].PnL, 1e-9)

	info := r.sm.Info()
	assert.Equal(t, 1, info.Stats.Trades)
	assert.InDelta(t, 100.0, info.Stats.PnL, 1e-9)

	st := r.eng.Status()
	assert.Equal(t, 2, st.Cycles)
	assert.Equal(t, 0, st.Errors)
	assert.Equal(t, config.ModePaper, st.Mode)
}

func TestStepSkipsWithoutQuotes(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	require.NoError(t, r.eng.Initialize(context.Background()))
	r.eng.strategies.Start()

	r.conn.quoteErr = errors.New("feed down")
	r.strat.arm()
	wait, err := r.step(t)
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, wait)
	assert.Equal(t, 0, r.pm.Count())

	st := r.eng.Status()
	assert.Zero(t, st.Cycles)
	assert.Zero(t, st.Errors)
}

func TestStepCountsCycleErrors(t *testing.T) {
	t.Parallel()

	r := newRig(t, func(c *config.Config) { c.Mode = config.ModeLive })
	require.NoError(t, r.eng.Initialize(context.Background()))
	r.eng.strategies.Start()

	r.conn.rejectAll = true
	r.strat.arm()
	_, err := r.step(t)
	require.NoError(t, err)

	assert.Equal(t, 1, r.eng.Status().Errors)
	assert.Equal(t, 1, r.sm.Info().Stats.Errors)
	assert.Equal(t, 0, r.pm.Count(), "rejected entry is rolled back")
}

func TestStepHaltsOnRiskBreach(t *testing.T) {
	t.Parallel()

	r := newRig(t, func(c *config.Config) { c.Risk.MaxDailyLoss = 50 })
	require.NoError(t, r.eng.Initialize(context.Background()))
	r.eng.strategies.Start()

	r.strat.arm()
	_, err := r.step(t)
	require.NoError(t, err)

	r.conn.set("INFY", 94)
	_, err = r.step(t)
	require.NoError(t, err)
	assert.Equal(t, 0, r.pm.Count())

	_, err = r.step(t)
	assert.ErrorIs(t, err, ErrRiskHalt)
	assert.ErrorIs(t, err, risk.ErrDailyLossLimit)

	var breach bool
	for _, a := range r.mon.Alerts() {
		breach = breach || a.Type == monitor.AlertBreach
	}
	assert.True(t, breach)
}

func TestStepSquaresOffAtCutoff(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	require.NoError(t, r.eng.Initialize(context.Background()))
	r.eng.strategies.Start()

	r.strat.arm()
	_, err := r.step(t)
	require.NoError(t, err)
	require.Equal(t, 1, r.pm.Count())

	r.conn.set("INFY", 102)
	r.clk.Set(at("15:16"))
	wait, err := r.step(t)
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, wait)

	assert.Equal(t, 0, r.pm.Count())
	recs := r.trades.all()
	require.Len(t, recs, 1)
	assert.Equal(t, risk.ReasonSquareOff, recs[0].ExitReason)
	assert.InDelta(t, 20.0, recs[0].PnL, 1e-9)

	assert.Equal(t, session.StateWaiting, r.sm.State())
	assert.Equal(t, []string{"daily_report_2026-10-19"}, r.reports.names)
}

func TestStepIdlesOutsideSession(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	r.clk.Set(at("08:00"))
	require.NoError(t, r.eng.Initialize(context.Background()))
	r.eng.strategies.Start()

	r.strat.arm()
	wait, err := r.step(t)
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, wait)
	assert.Equal(t, 0, r.pm.Count())
	assert.Zero(t, r.eng.Status().Cycles)

	r.clk.Set(at("09:15"))
	_, err = r.step(t)
	require.NoError(t, err)
	assert.True(t, r.sm.IsActiveSession())
	assert.Equal(t, 1, r.pm.Count())
}

func TestRunRequiresReady(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	assert.ErrorIs(t, r.eng.Run(context.Background()), ErrNotReady)
}

func TestRunAndStop(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	require.NoError(t, r.eng.Initialize(context.Background()))

	errc := make(chan error, 1)
	go func() { errc <- r.eng.Run(context.Background()) }()

	r.strat.arm()
	require.Eventually(t, func() bool { return r.pm.Count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StateRunning, r.eng.State())

	r.eng.Stop(context.Background())
	require.NoError(t, <-errc)

	assert.Equal(t, StateStopped, r.eng.State())
	assert.Equal(t, 0, r.pm.Count())
	recs := r.trades.all()
	require.Len(t, recs, 1)
	assert.Equal(t, risk.ReasonShutdown, recs[0].ExitReason)
	assert.Equal(t, session.StateWaiting, r.sm.State())
	assert.Equal(t, strategies.StateStopped, r.eng.strategies.State())
}

func TestRunRecoversPanic(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	require.NoError(t, r.eng.Initialize(context.Background()))
	r.strat.panic = true

	err := r.eng.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strategy bug")
	assert.Equal(t, StateError, r.eng.State())
	assert.Equal(t, strategies.StateStopped, r.eng.strategies.State())
}

func TestStopReadyEngine(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	require.NoError(t, r.eng.Initialize(context.Background()))
	r.eng.Stop(context.Background())
	assert.Equal(t, StateStopped, r.eng.State())
	assert.NoError(t, r.eng.Close())
}
