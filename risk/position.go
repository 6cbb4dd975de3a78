package risk

import (
	"fmt"
	"time"
)

// Position is an open trade in one symbol.
type Position struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	Quantity     int       `json:"quantity"`
	EntryPrice   float64   `json:"entry_price"`
	EntryTime    time.Time `json:"entry_time"`
	CurrentPrice float64   `json:"current_price"`
	PnL          float64   `json:"pnl"`
	Stops        []float64 `json:"stops,omitempty"`
	Targets      []float64 `json:"targets,omitempty"`
	IsActive     bool      `json:"is_active"`
	Strategy     string    `json:"strategy,omitempty"`
	OrderID      string    `json:"order_id,omitempty"`
}

func (p Position) Notional() float64 {
	return p.EntryPrice * float64(p.Quantity)
}

// Validate checks the fields a position cannot open without.
func (p Position) Validate() error {
	switch {
	case p.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidPosition)
	case p.Quantity <= 0:
		return fmt.Errorf("%w: quantity %d", ErrInvalidPosition, p.Quantity)
	case p.EntryPrice <= 0:
		return fmt.Errorf("%w: entry price %.2f", ErrInvalidPosition, p.EntryPrice)
	case !p.Side.Valid():
		return fmt.Errorf("%w: side %q", ErrInvalidPosition, p.Side)
	}
	return nil
}

// clone copies p so callers never share the stop and target slices.
func (p Position) clone() Position {
	p.Stops = append([]float64(nil), p.Stops...)
	p.Targets = append([]float64(nil), p.Targets...)
	return p
}

// ClosedPosition is the immutable record of a finished trade.
type ClosedPosition struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Strategy   string    `json:"strategy"`
	Side       Side      `json:"side"`
	Quantity   int       `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	PnL        float64   `json:"pnl"`
	Reason     string    `json:"exit_reason"`
	OrderID    string    `json:"order_id,omitempty"`
}

// Exit reasons recorded on closed positions.
const (
	ReasonStop      = "STOP"
	ReasonTarget    = "TARGET"
	ReasonSquareOff = "SQUARE_OFF"
	ReasonStrategy  = "STRATEGY_EXIT"
	ReasonRiskLimit = "RISK_LIMIT"
	ReasonShutdown  = "SHUTDOWN"
)

// positionID is SYMBOL_YYYYMMDDHHMMSS.
func positionID(symbol string, t time.Time) string {
	return symbol + "_" + t.Format("20060102150405")
}
