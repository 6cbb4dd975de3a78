package strategies

import (
	"time"

	"github.com/rustyeddy/daytrader/risk"
)

type SignalType string

const (
	SignalLong  SignalType = "LONG"
	SignalShort SignalType = "SHORT"
	SignalExit  SignalType = "EXIT"
	SignalNone  SignalType = "NO_SIGNAL"
)

// Option names a derivative to trade instead of the underlying.
type Option struct {
	Type   string    `json:"type"` // CE or PE
	Strike float64   `json:"strike"`
	Expiry time.Time `json:"expiry"`
}

// Signal is a strategy's request to enter or leave a symbol.
// Targets are ordered nearest first.
type Signal struct {
	Type       SignalType        `json:"type"`
	Symbol     string            `json:"symbol"`
	EntryPrice float64           `json:"entry_price"`
	StopLoss   float64           `json:"stop_loss"`
	Targets    []float64         `json:"targets"`
	Quantity   int               `json:"quantity"`
	Timestamp  time.Time         `json:"timestamp"`
	Expiry     time.Time         `json:"expiry,omitempty"`
	Option     *Option           `json:"option,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Side maps an entry signal to a position side.
func (s Signal) Side() risk.Side {
	if s.Type == SignalShort {
		return risk.Short
	}
	return risk.Long
}

// IsEntry reports a LONG or SHORT signal.
func (s Signal) IsEntry() bool {
	return s.Type == SignalLong || s.Type == SignalShort
}

// Request is the risk gate's view of the signal.
func (s Signal) Request() risk.TradeRequest {
	return risk.TradeRequest{Symbol: s.Symbol, EntryPrice: s.EntryPrice, Quantity: s.Quantity}
}

// Expired reports whether the signal has passed its expiry. A zero expiry
// never expires.
func (s Signal) Expired(now time.Time) bool {
	return !s.Expiry.IsZero() && now.After(s.Expiry)
}

// Position builds the position to open for an entry signal.
func (s Signal) Position(strategy string) risk.Position {
	return risk.Position{
		Symbol:     s.Symbol,
		Side:       s.Side(),
		Quantity:   s.Quantity,
		EntryPrice: s.EntryPrice,
		EntryTime:  s.Timestamp,
		Stops:      []float64{s.StopLoss},
		Targets:    append([]float64(nil), s.Targets...),
		Strategy:   strategy,
	}
}
