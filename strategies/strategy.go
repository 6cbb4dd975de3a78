package strategies

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rustyeddy/daytrader/broker"
	"github.com/rustyeddy/daytrader/config"
	"github.com/rustyeddy/daytrader/market"
	"github.com/rustyeddy/daytrader/risk"
	"go.uber.org/zap"
)

// MarketData is what strategies read prices from.
type MarketData interface {
	GetQuote(ctx context.Context, symbol string) (market.Quote, error)
	GetHistoricalData(ctx context.Context, req broker.HistoricalRequest) ([]market.Candle, error)
}

// Sizer turns an entry and stop into a quantity.
type Sizer interface {
	CalculatePositionSize(symbol string, price, stop float64) int
}

// Deps are handed to every strategy a Registry builds.
type Deps struct {
	Data  MarketData
	Sizer Sizer
	Now   func() time.Time
	Log   *zap.SugaredLogger
}

// Strategy generates entry signals and exit decisions for its symbols.
type Strategy interface {
	Name() string
	Symbols() []string
	Initialize(ctx context.Context) error

	// GenerateSignal returns nil with no error when there is nothing to do.
	GenerateSignal(ctx context.Context, symbol string) (*Signal, error)
	ValidateSignal(sig Signal) bool

	// Trail returns replacement stops for an open position, or nil.
	Trail(pos risk.Position, q market.Quote) []float64
	ShouldExit(pos risk.Position, q market.Quote) (bool, string)
}

// Factory builds a strategy from its config.
type Factory func(cfg config.StrategyConfig, deps Deps) (Strategy, error)

type Registry map[string]Factory

// DefaultRegistry knows every built-in strategy.
func DefaultRegistry() Registry {
	return Registry{
		"levels": NewLevels,
		"noop":   NewNoop,
	}
}

func (r Registry) Register(typ string, f Factory) {
	r[strings.ToLower(typ)] = f
}

// Names lists registered types, sorted.
func (r Registry) Names() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New builds the strategy named by cfg.Type, or cfg.Name when no type is
// given.
func (r Registry) New(cfg config.StrategyConfig, deps Deps) (Strategy, error) {
	typ := cfg.Type
	if typ == "" {
		typ = cfg.Name
	}
	f, ok := r[strings.ToLower(strings.TrimSpace(typ))]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (supported: %s)", typ, strings.Join(r.Names(), ", "))
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return f(cfg, deps)
}

func param(p map[string]float64, key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}
