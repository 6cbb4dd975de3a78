package strategies

import (
	"context"

	"github.com/rustyeddy/daytrader/config"
	"github.com/rustyeddy/daytrader/market"
	"github.com/rustyeddy/daytrader/risk"
)

// Noop watches its symbols and never trades.
type Noop struct {
	name    string
	symbols []string
}

func NewNoop(cfg config.StrategyConfig, _ Deps) (Strategy, error) {
	name := cfg.Name
	if name == "" {
		name = "noop"
	}
	return &Noop{name: name, symbols: append([]string(nil), cfg.Symbols...)}, nil
}

func (n *Noop) Name() string                         { return n.name }
func (n *Noop) Symbols() []string                    { return n.symbols }
func (n *Noop) Initialize(ctx context.Context) error { return nil }
func (n *Noop) ValidateSignal(Signal) bool           { return false }

func (n *Noop) GenerateSignal(ctx context.Context, symbol string) (*Signal, error) {
	return nil, nil
}

func (n *Noop) Trail(risk.Position, market.Quote) []float64 { return nil }

func (n *Noop) ShouldExit(risk.Position, market.Quote) (bool, string) { return false, "" }
