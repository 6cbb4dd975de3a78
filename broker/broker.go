package broker

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/daytrader/market"
)

var (
	ErrNoQuote       = errors.New("no quote available")
	ErrNotConnected  = errors.New("broker not connected")
	ErrInvalidOrder  = errors.New("invalid order")
	ErrOrderNotFound = errors.New("order not found")
)

// QuoteSource is the market-data half of a broker. The paper broker
// wraps one of these for prices.
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol, exchange string) (market.Quote, error)
	GetHistoricalData(ctx context.Context, req HistoricalRequest) ([]market.Candle, error)
	IsMarketOpen(ctx context.Context) bool
}

// Broker is the full capability set the engine trades through.
type Broker interface {
	QuoteSource

	Connect(ctx context.Context) error
	IsConnected(ctx context.Context) bool

	PlaceOrder(ctx context.Context, req OrderRequest) OrderResponse
	ModifyOrder(ctx context.Context, req ModifyRequest) OrderResponse
	CancelOrder(ctx context.Context, orderID string) OrderResponse
	OrderStatus(ctx context.Context, orderID string) (Order, error)

	GetPositions(ctx context.Context) ([]PositionData, error)
	GetMargins(ctx context.Context) (Margins, error)
}

// PositionData is a broker-side net position. Quantity is signed:
// positive long, negative short.
type PositionData struct {
	Symbol       string  `json:"symbol"`
	Quantity     int     `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
	CurrentPrice float64 `json:"current_price"`
	PnL          float64 `json:"pnl"`
	Product      Product `json:"product_type"`
	Exchange     string  `json:"exchange"`
}

type HistoricalRequest struct {
	Symbol   string
	Exchange string
	Start    time.Time
	End      time.Time
	Interval market.Interval
}

type Margins struct {
	Total     float64 `json:"total"`
	Used      float64 `json:"used"`
	Available float64 `json:"available"`
}
