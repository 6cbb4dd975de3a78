// Package engine drives the trading day: it initializes every component
// in dependency order, then runs one trading cycle per interval while the
// session is active.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rustyeddy/daytrader/broker"
	"github.com/rustyeddy/daytrader/config"
	"github.com/rustyeddy/daytrader/internal/logger"
	"github.com/rustyeddy/daytrader/journal"
	"github.com/rustyeddy/daytrader/market"
	"github.com/rustyeddy/daytrader/metrics"
	"github.com/rustyeddy/daytrader/monitor"
	"github.com/rustyeddy/daytrader/risk"
	"github.com/rustyeddy/daytrader/session"
	"github.com/rustyeddy/daytrader/strategies"
	"go.uber.org/zap"
)

type State string

const (
	StateInitializing State = "INITIALIZING"
	StateReady        State = "READY"
	StateRunning      State = "RUNNING"
	StateStopping     State = "STOPPING"
	StateStopped      State = "STOPPED"
	StateError        State = "ERROR"
)

var (
	ErrNotReady = errors.New("engine not ready")
	ErrRiskHalt = errors.New("risk limits breached, engine halted")
	errMissing  = errors.New("missing component")
	errSkipped  = errors.New("cycle skipped")
)

const (
	shutdownTimeout = 30 * time.Second
	maxExecTimes    = 1000
)

// QuoteRefresher fetches fresh quotes for a cycle. Any failure skips it.
type QuoteRefresher interface {
	Refresh(ctx context.Context, symbols []string) (map[string]market.Quote, error)
}

// Components are the collaborators an Engine orchestrates. Monitor,
// Journal and Metrics are optional.
type Components struct {
	Session    *session.Manager
	Broker     broker.Broker
	Modes      *ModeManager
	Risk       *risk.RiskManager
	Strategies *strategies.Manager
	Quotes     QuoteRefresher
	Monitor    *monitor.Monitor
	Journal    journal.Journal
	Metrics    *metrics.Metrics
	Log        *zap.SugaredLogger
}

// Options are the loop timings.
type Options struct {
	CheckInterval     time.Duration
	StatusLogInterval time.Duration
	ErrorBackoff      time.Duration
	InactiveWait      time.Duration
}

func OptionsFromConfig(c config.EngineConfig) Options {
	return Options{
		CheckInterval:     config.Seconds(c.CheckInterval, time.Second),
		StatusLogInterval: config.Seconds(c.StatusLogInterval, 5*time.Minute),
		ErrorBackoff:      config.Seconds(c.ErrorBackoff, 5*time.Second),
		InactiveWait:      config.Seconds(c.InactiveWait, time.Minute),
	}
}

// Status is a snapshot of the engine.
type Status struct {
	State            State             `json:"state"`
	Mode             config.Mode       `json:"mode"`
	Cycles           int               `json:"cycles"`
	Errors           int               `json:"errors"`
	AvgExecution     time.Duration     `json:"avg_execution_time"`
	ActiveStrategies int               `json:"active_strategies"`
	Session          session.Info      `json:"session"`
	Strategies       strategies.Status `json:"strategies"`
	Time             time.Time         `json:"timestamp"`
}

type Engine struct {
	mu sync.Mutex

	state     State
	cycles    int
	errors    int
	execTimes []time.Duration
	lastLog   time.Time

	cancel context.CancelFunc
	done   chan struct{}

	session    *session.Manager
	broker     broker.Broker
	modes      *ModeManager
	risk       *risk.RiskManager
	strategies *strategies.Manager
	quotes     QuoteRefresher
	monitor    *monitor.Monitor
	journal    journal.Journal
	metrics    *metrics.Metrics
	opts       Options

	now func() time.Time
	log *zap.SugaredLogger
}

// New builds an engine in INITIALIZING and connects the component hooks:
// a session start resets the daily risk figures and alerts, every closed
// trade is journaled and counted against the session, and a session end
// writes the daily report.
func New(c Components, opts Options) (*Engine, error) {
	switch {
	case c.Session == nil:
		return nil, fmt.Errorf("%w: session manager", errMissing)
	case c.Broker == nil:
		return nil, fmt.Errorf("%w: broker", errMissing)
	case c.Modes == nil:
		return nil, fmt.Errorf("%w: mode manager", errMissing)
	case c.Risk == nil:
		return nil, fmt.Errorf("%w: risk manager", errMissing)
	case c.Strategies == nil:
		return nil, fmt.Errorf("%w: strategy manager", errMissing)
	case c.Quotes == nil:
		return nil, fmt.Errorf("%w: market data", errMissing)
	}
	def := OptionsFromConfig(config.EngineConfig{})
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = def.CheckInterval
	}
	if opts.StatusLogInterval <= 0 {
		opts.StatusLogInterval = def.StatusLogInterval
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = def.ErrorBackoff
	}
	if opts.InactiveWait <= 0 {
		opts.InactiveWait = def.InactiveWait
	}

	e := &Engine{
		state:      StateInitializing,
		session:    c.Session,
		broker:     c.Broker,
		modes:      c.Modes,
		risk:       c.Risk,
		strategies: c.Strategies,
		quotes:     c.Quotes,
		monitor:    c.Monitor,
		journal:    c.Journal,
		metrics:    c.Metrics,
		opts:       opts,
		now:        time.Now,
		log:        logger.OrNop(c.Log),
	}
	e.session.OnStart(e.sessionStarted)
	e.session.OnEnd(e.sessionEnded)
	e.strategies.OnClose(e.tradeClosed)
	return e, nil
}

func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

func (e *Engine) sessionStarted(id string) error {
	e.risk.ResetDailyMetrics()
	if e.monitor != nil {
		e.monitor.Reset()
	}
	return nil
}

func (e *Engine) sessionEnded(st session.Stats) {
	if e.monitor == nil {
		return
	}
	if _, err := e.monitor.DailyReport(); err != nil {
		e.log.Errorw("daily report failed", "session_id", st.SessionID, "err", err)
	}
}

func (e *Engine) tradeClosed(rec risk.ClosedPosition) {
	e.session.UpdateStats(session.Delta{Trades: 1, PnL: rec.PnL})
	if e.journal == nil {
		return
	}
	if err := e.journal.RecordTrade(journal.FromClosed(rec)); err != nil {
		e.log.Errorw("journal trade failed", "symbol", rec.Symbol, "err", err)
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}

// Initialize brings up the components in dependency order. The first
// failure puts the engine in ERROR; nothing after it is started.
func (e *Engine) Initialize(ctx context.Context) error {
	if st := e.State(); st != StateInitializing {
		return fmt.Errorf("initialize: engine is %s", st)
	}
	e.log.Infow("initializing trading engine")

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"session manager", e.session.Initialize},
		{"broker", e.broker.Connect},
		{"mode manager", e.modes.Initialize},
		{"risk manager", e.initRisk},
		{"strategy manager", e.strategies.Initialize},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			e.setState(StateError)
			e.log.Errorw("engine initialization failed", "component", s.name, "err", err)
			return fmt.Errorf("initialize %s: %w", s.name, err)
		}
	}

	e.setState(StateReady)
	e.log.Infow("trading engine ready", "mode", e.modes.Mode(), "symbols", e.strategies.Symbols())
	return nil
}

func (e *Engine) initRisk(ctx context.Context) error {
	if err := e.risk.CheckLimits(); err != nil {
		return err
	}
	e.risk.LogStatus()
	return nil
}

// Run loops until ctx ends, Stop is called or a risk limit halts trading,
// then shuts down. A panic inside a cycle leaves the engine in ERROR.
func (e *Engine) Run(ctx context.Context) (err error) {
	e.mu.Lock()
	if e.state != StateReady {
		st := e.state
		e.mu.Unlock()
		return fmt.Errorf("%w: engine is %s", ErrNotReady, st)
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	done := e.done
	e.state = StateRunning
	e.mu.Unlock()

	defer close(done)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorw("engine loop panicked", "panic", r, "stack", string(debug.Stack()))
			e.setState(StateError)
			err = fmt.Errorf("engine panic: %v", r)
		}
		e.shutdown(ctx)
	}()

	e.strategies.Start()
	e.log.Infow("trading engine running", "interval", e.opts.CheckInterval)

	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		wait, err := e.step(ctx)
		if err != nil {
			return err
		}
		t.Reset(wait)
	}
}

// step runs one pass of the loop and returns how long to wait before the
// next. A non-nil error ends the loop.
func (e *Engine) step(ctx context.Context) (time.Duration, error) {
	if e.session.SquareOffDue() {
		e.squareOff(ctx)
	}
	e.session.Check(ctx)
	if !e.session.IsActiveSession() {
		return e.opts.InactiveWait, nil
	}

	start := e.clock()
	err := e.cycle(ctx)
	d := e.clock().Sub(start)
	switch {
	case errors.Is(err, errSkipped):
		e.metrics.RecordCycle("skipped", 0)
		return e.opts.CheckInterval, nil
	case errors.Is(err, ErrRiskHalt):
		e.log.Warnw("risk limits reached, stopping engine", "err", err)
		return 0, err
	case err != nil:
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		e.metrics.RecordCycle("error", d)
		e.session.UpdateStats(session.Delta{Errors: 1})
		e.log.Errorw("trading cycle failed", "err", err)
		return e.opts.ErrorBackoff, nil
	}
	e.recordExec(d)
	return e.opts.CheckInterval, nil
}

func (e *Engine) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now()
}

// cycle refreshes quotes, checks the global limits, runs the strategies
// and marks open positions, in that order.
func (e *Engine) cycle(ctx context.Context) error {
	quotes, err := e.quotes.Refresh(ctx, e.strategies.Symbols())
	if err != nil {
		e.log.Warnw("market data unavailable, skipping cycle", "err", err)
		return errSkipped
	}

	if err := e.risk.CheckLimits(); err != nil {
		if e.monitor != nil {
			e.monitor.Breach(err)
		}
		return fmt.Errorf("%w: %w", ErrRiskHalt, err)
	}

	if err := e.strategies.Process(ctx, quotes); err != nil {
		return err
	}

	e.strategies.UpdatePrices(quotes)
	m := e.risk.Metrics()
	e.metrics.SetRisk(m.DailyPnL, m.Level.Ordinal(), m.OpenPositions)
	if e.monitor != nil {
		e.monitor.Update()
	}
	e.logStatusIfDue()
	return nil
}

func (e *Engine) squareOff(ctx context.Context) {
	closed := e.strategies.SquareOffAll(ctx, risk.ReasonSquareOff)
	if len(closed) > 0 {
		e.log.Infow("end of day square off", "positions", len(closed))
	}
}

func (e *Engine) recordExec(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cycles++
	e.execTimes = append(e.execTimes, d)
	if len(e.execTimes) > maxExecTimes {
		e.execTimes = e.execTimes[1:]
	}
	e.metrics.RecordCycle("ok", d)
}

func (e *Engine) logStatusIfDue() {
	e.mu.Lock()
	now := e.now()
	due := e.lastLog.IsZero() || now.Sub(e.lastLog) >= e.opts.StatusLogInterval
	if due {
		e.lastLog = now
	}
	e.mu.Unlock()
	if !due {
		return
	}

	st := e.Status()
	e.log.Infow("engine status", "state", st.State, "cycles", st.Cycles, "errors", st.Errors,
		"avg_execution", st.AvgExecution, "active_strategies", st.ActiveStrategies,
		"positions", st.Strategies.TotalPositions, "pnl", st.Strategies.TotalPnL)
	e.risk.LogStatus()
}

func (e *Engine) Status() Status {
	strat := e.strategies.Status()
	info := e.session.Info()
	mode := e.modes.Mode()

	e.mu.Lock()
	defer e.mu.Unlock()
	var avg time.Duration
	if n := len(e.execTimes); n > 0 {
		var sum time.Duration
		for _, d := range e.execTimes {
			sum += d
		}
		avg = sum / time.Duration(n)
	}
	return Status{
		State:            e.state,
		Mode:             mode,
		Cycles:           e.cycles,
		Errors:           e.errors,
		AvgExecution:     avg,
		ActiveStrategies: len(strat.ActiveStrategies),
		Session:          info,
		Strategies:       strat,
		Time:             e.now(),
	}
}

// Stop ends a running loop and waits for its shutdown, or shuts a ready
// engine down directly.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	cancel, done, state := e.cancel, e.done, e.state
	e.mu.Unlock()

	if cancel == nil {
		if state == StateReady {
			e.shutdown(ctx)
		}
		return
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// shutdown squares off what it can, then stops the strategies and the
// session. Positions without a price stay open.
func (e *Engine) shutdown(ctx context.Context) {
	e.mu.Lock()
	failed := e.state == StateError
	if !failed {
		e.state = StateStopping
	}
	e.mu.Unlock()
	e.log.Infow("stopping trading engine")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	closed := e.strategies.SquareOffAll(ctx, risk.ReasonShutdown)
	e.strategies.Stop()
	e.session.Stop(ctx)

	if !failed {
		e.setState(StateStopped)
	}
	e.log.Infow("trading engine stopped", "state", e.State(), "squared_off", len(closed),
		"left_open", e.strategies.Status().TotalPositions)
}

// Close releases the journal. Call it after the engine has stopped.
func (e *Engine) Close() error {
	if e.journal == nil {
		return nil
	}
	return e.journal.Close()
}
