// Package session tracks the trading day: when a session may start, when
// it must be squared off, and what happened during it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/daytrader/config"
	"github.com/rustyeddy/daytrader/internal/logger"
	"github.com/rustyeddy/daytrader/market"
	"github.com/rustyeddy/daytrader/metrics"
	"go.uber.org/zap"
)

type State string

const (
	StateWaiting  State = "WAITING"
	StateStarting State = "STARTING"
	StateActive   State = "ACTIVE"
	StateClosing  State = "CLOSING"
	StateClosed   State = "CLOSED"
	StateError    State = "ERROR"
)

var ErrAlreadyRunning = errors.New("session monitor already running")

// Stats are one session's running totals. Duration is in hours.
type Stats struct {
	SessionID string    `json:"session_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitempty"`
	Duration  float64   `json:"duration"`
	Trades    int       `json:"trades"`
	Errors    int       `json:"errors"`
	PnL       float64   `json:"pnl"`
}

// Delta is added to the active session's stats.
type Delta struct {
	Trades int
	Errors int
	PnL    float64
}

// Info describes the current session.
type Info struct {
	SessionID string    `json:"session_id,omitempty"`
	State     State     `json:"state"`
	StartTime time.Time `json:"start_time,omitempty"`
	Stats     Stats     `json:"stats"`
}

// Sink persists a finished session's stats.
type Sink interface {
	SaveSession(ctx context.Context, st Stats) error
}

// Hours are the exchange-local times that drive the state machine.
type Hours struct {
	Start     market.TimeOfDay
	End       market.TimeOfDay
	SquareOff market.TimeOfDay
}

// Manager is the WAITING → STARTING → ACTIVE → CLOSING → WAITING state
// machine. Check drives one step; Run calls Check on an interval.
type Manager struct {
	mu sync.Mutex

	state    State
	hours    Hours
	cal      *market.Calendar
	interval time.Duration

	id      string
	started time.Time
	stats   Stats
	lastDay string // date of the most recent session, YYYYMMDD

	onStart []func(id string) error
	onEnd   []func(Stats)
	sink    Sink
	metrics *metrics.Metrics

	cancel context.CancelFunc
	done   chan struct{}

	now func() time.Time
	log *zap.SugaredLogger
}

// New builds a manager in the CLOSED state from the trading hours,
// holidays and session interval in cfg.
func New(cfg *config.Config, sink Sink, m *metrics.Metrics, log *zap.SugaredLogger) (*Manager, error) {
	start, end, squareOff, err := cfg.Hours()
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	cal, err := cfg.Calendar()
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return NewWithHours(Hours{Start: start, End: end, SquareOff: squareOff}, cal,
		config.Seconds(cfg.Session.CheckInterval, time.Minute), sink, m, log), nil
}

func NewWithHours(h Hours, cal *market.Calendar, interval time.Duration, sink Sink, m *metrics.Metrics, log *zap.SugaredLogger) *Manager {
	if cal == nil {
		cal = market.NewCalendar(time.UTC, nil)
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Manager{
		state:    StateClosed,
		hours:    h,
		cal:      cal,
		interval: interval,
		sink:     sink,
		metrics:  m,
		now:      time.Now,
		log:      logger.OrNop(log),
	}
}

func (sm *Manager) SetClock(now func() time.Time) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.now = now
}

// OnStart registers fn to run, with the session ID, when a session
// starts. A hook error puts the manager in ERROR. Hooks run with the
// manager locked and must not call back into it.
func (sm *Manager) OnStart(fn func(id string) error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onStart = append(sm.onStart, fn)
}

// OnEnd registers fn to receive a session's final stats.
func (sm *Manager) OnEnd(fn func(Stats)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onEnd = append(sm.onEnd, fn)
}

// Initialize moves the manager to WAITING and runs a first check.
func (sm *Manager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	h := sm.hours
	if h.End.Minutes() <= h.Start.Minutes() || h.SquareOff.Minutes() > h.End.Minutes() {
		sm.state = StateError
		sm.mu.Unlock()
		return fmt.Errorf("session: trading hours %s-%s with square off %s", h.Start, h.End, h.SquareOff)
	}
	sm.state = StateWaiting
	sm.mu.Unlock()

	sm.log.Infow("session manager initialized", "start", sm.hours.Start, "end", sm.hours.End,
		"square_off", sm.hours.SquareOff, "interval", sm.interval)
	sm.Check(ctx)
	return nil
}

// Start runs the monitor in its own goroutine until Stop or ctx ends.
func (sm *Manager) Start(ctx context.Context) error {
	sm.mu.Lock()
	if sm.cancel != nil {
		sm.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	sm.cancel = cancel
	sm.done = make(chan struct{})
	done := sm.done
	sm.mu.Unlock()

	go func() {
		defer close(done)
		sm.Run(ctx)
	}()
	return nil
}

// Run calls Check every interval until ctx is done.
func (sm *Manager) Run(ctx context.Context) {
	t := time.NewTicker(sm.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sm.Check(ctx)
		}
	}
}

// Check performs one state machine step and returns the resulting state.
func (sm *Manager) Check(ctx context.Context) State {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := sm.cal.In(sm.now())
	switch sm.state {
	case StateWaiting:
		if sm.shouldStartLocked(now) {
			sm.startLocked(now)
		}
	case StateActive:
		if sm.hours.SquareOff.Reached(now) {
			sm.endLocked(ctx, now)
		}
	}
	return sm.state
}

func (sm *Manager) shouldStartLocked(now time.Time) bool {
	if !sm.cal.IsTradingDay(now) {
		return false
	}
	if now.Format("20060102") == sm.lastDay {
		return false
	}
	return sm.hours.Start.Reached(now) && !sm.hours.End.Reached(now) && !sm.hours.SquareOff.Reached(now)
}

func (sm *Manager) startLocked(now time.Time) {
	sm.state = StateStarting
	sm.id = now.Format("20060102")
	sm.lastDay = sm.id
	sm.started = now
	sm.stats = Stats{SessionID: sm.id, StartTime: now}

	for _, fn := range sm.onStart {
		if err := fn(sm.id); err != nil {
			sm.state = StateError
			sm.log.Errorw("session start hook failed", "session_id", sm.id, "err", err)
			return
		}
	}
	sm.state = StateActive
	sm.metrics.SetSessionActive(true)
	sm.log.Infow("trading session started", "session_id", sm.id)
}

func (sm *Manager) endLocked(ctx context.Context, now time.Time) {
	sm.state = StateClosing
	sm.stats.EndTime = now
	sm.stats.Duration = now.Sub(sm.started).Hours()
	final := sm.stats

	if sm.sink != nil {
		if err := sm.sink.SaveSession(ctx, final); err != nil {
			sm.log.Errorw("save session stats", "session_id", sm.id, "err", err)
		}
	}
	for _, fn := range sm.onEnd {
		fn(final)
	}

	sm.log.Infow("trading session ended", "session_id", sm.id, "trades", final.Trades,
		"errors", final.Errors, "pnl", final.PnL, "hours", final.Duration)
	sm.id = ""
	sm.started = time.Time{}
	sm.state = StateWaiting
	sm.metrics.SetSessionActive(false)
}

// IsActiveSession reports whether trading is allowed now.
func (sm *Manager) IsActiveSession() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state == StateActive
}

func (sm *Manager) State() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

// SquareOffDue reports whether now is at or past the square-off time.
func (sm *Manager) SquareOffDue() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.hours.SquareOff.Reached(sm.cal.In(sm.now()))
}

// UpdateStats adds d to the active session. It is ignored otherwise.
func (sm *Manager) UpdateStats(d Delta) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.state != StateActive {
		return
	}
	sm.stats.Trades += d.Trades
	sm.stats.Errors += d.Errors
	sm.stats.PnL += d.PnL
}

func (sm *Manager) Info() Info {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return Info{SessionID: sm.id, State: sm.state, StartTime: sm.started, Stats: sm.stats}
}

// NextSessionStart is the start time on the first trading day after now.
func (sm *Manager) NextSessionStart(now time.Time) time.Time {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.hours.Start.On(sm.cal.NextTradingDay(now))
}

// Stop ends an active session and halts the monitor.
func (sm *Manager) Stop(ctx context.Context) {
	sm.mu.Lock()
	if sm.state == StateActive {
		sm.endLocked(ctx, sm.cal.In(sm.now()))
	}
	cancel, done := sm.cancel, sm.done
	sm.cancel, sm.done = nil, nil
	sm.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	sm.log.Infow("session manager stopped")
}
