package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/daytrader/broker"
	"github.com/rustyeddy/daytrader/broker/live"
	"github.com/rustyeddy/daytrader/broker/paper"
	"github.com/rustyeddy/daytrader/config"
	"github.com/rustyeddy/daytrader/internal/logger"
	"go.uber.org/zap"
)

var (
	ErrUnsupportedMode = errors.New("unsupported trading mode")
	ErrNoBroker        = errors.New("no broker for current mode")
)

// Operation is a broker call class gated by the current mode.
type Operation string

const (
	OpTrade  Operation = "trade"
	OpModify Operation = "modify"
	OpCancel Operation = "cancel"
	OpQuery  Operation = "query"
)

var permissions = map[config.Mode][]Operation{
	config.ModeLive:     {OpTrade, OpModify, OpCancel, OpQuery},
	config.ModePaper:    {OpTrade, OpModify, OpCancel, OpQuery},
	config.ModeBacktest: {OpQuery},
}

// ModeChange is one entry in the mode history.
type ModeChange struct {
	Time   time.Time   `json:"timestamp"`
	Mode   config.Mode `json:"mode"`
	Reason string      `json:"reason"`
}

// BrokerFactory builds the order-routing broker for a mode.
type BrokerFactory func(mode config.Mode) (broker.Broker, error)

// Brokers returns the factory for a live session: LIVE routes orders
// through conn, PAPER simulates fills against conn's quotes.
func Brokers(conn broker.Broker, cfg config.PaperConfig, log *zap.SugaredLogger) BrokerFactory {
	return func(mode config.Mode) (broker.Broker, error) {
		switch mode {
		case config.ModeLive:
			return conn, nil
		case config.ModePaper:
			return paper.New(conn, cfg, logger.OrNop(log).Named("paper")), nil
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)
		}
	}
}

// Connection builds the single live connection shared by market data and
// whichever broker the mode selects.
func Connection(cfg *config.Config, creds config.Credentials, log *zap.SugaredLogger) *live.Client {
	return live.New(cfg.Broker, creds, logger.OrNop(log).Named("live"))
}

// ModeManager owns the broker orders are routed through. It is itself an
// order placer, so the strategy layer never holds a stale broker after a
// mode switch.
type ModeManager struct {
	mu sync.Mutex

	initial config.Mode
	mode    config.Mode
	broker  broker.Broker
	history []ModeChange
	build   BrokerFactory

	now func() time.Time
	log *zap.SugaredLogger
}

func NewModeManager(initial config.Mode, build BrokerFactory, log *zap.SugaredLogger) *ModeManager {
	return &ModeManager{
		initial: initial,
		build:   build,
		now:     time.Now,
		log:     logger.OrNop(log),
	}
}

// Initialize switches to the configured initial mode.
func (mm *ModeManager) Initialize(ctx context.Context) error {
	mode := mm.initial
	if mode == "" {
		mode = config.ModePaper
	}
	return mm.SetMode(ctx, mode, "initial")
}

// SetMode builds and connects the broker for mode. On failure the
// previous mode stays in effect.
func (mm *ModeManager) SetMode(ctx context.Context, mode config.Mode, reason string) error {
	mm.log.Infow("setting trading mode", "mode", mode, "reason", reason)
	if mode == config.ModeBacktest {
		return fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)
	}

	b, err := mm.build(mode)
	if err != nil {
		return fmt.Errorf("mode %s: %w", mode, err)
	}
	if err := b.Connect(ctx); err != nil {
		return fmt.Errorf("mode %s: connect: %w", mode, err)
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.mode = mode
	mm.broker = b
	mm.history = append(mm.history, ModeChange{Time: mm.now(), Mode: mode, Reason: reason})
	mm.log.Infow("trading mode set", "mode", mode)
	return nil
}

func (mm *ModeManager) Mode() config.Mode {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.mode
}

func (mm *ModeManager) Broker() broker.Broker {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.broker
}

func (mm *ModeManager) IsLive() bool {
	return mm.Mode() == config.ModeLive
}

func (mm *ModeManager) History() []ModeChange {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return append([]ModeChange(nil), mm.history...)
}

// ValidateOperation reports whether op is allowed in the current mode.
// Nothing is allowed before a mode is set.
func (mm *ModeManager) ValidateOperation(op Operation) bool {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	for _, allowed := range permissions[mm.mode] {
		if allowed == op {
			return true
		}
	}
	return false
}

func (mm *ModeManager) gate(op Operation) (broker.Broker, error) {
	if !mm.ValidateOperation(op) {
		return nil, fmt.Errorf("%s not allowed in mode %q", op, mm.Mode())
	}
	b := mm.Broker()
	if b == nil {
		return nil, ErrNoBroker
	}
	return b, nil
}

// PlaceOrder routes req to the current mode's broker.
func (mm *ModeManager) PlaceOrder(ctx context.Context, req broker.OrderRequest) broker.OrderResponse {
	b, err := mm.gate(OpTrade)
	if err != nil {
		return broker.Failure("%v", err)
	}
	return b.PlaceOrder(ctx, req)
}

func (mm *ModeManager) ModifyOrder(ctx context.Context, req broker.ModifyRequest) broker.OrderResponse {
	b, err := mm.gate(OpModify)
	if err != nil {
		return broker.Failure("%v", err)
	}
	return b.ModifyOrder(ctx, req)
}

func (mm *ModeManager) CancelOrder(ctx context.Context, orderID string) broker.OrderResponse {
	b, err := mm.gate(OpCancel)
	if err != nil {
		return broker.Failure("%v", err)
	}
	return b.CancelOrder(ctx, orderID)
}

func (mm *ModeManager) GetPositions(ctx context.Context) ([]broker.PositionData, error) {
	b, err := mm.gate(OpQuery)
	if err != nil {
		return nil, err
	}
	return b.GetPositions(ctx)
}
