package live

import (
	"time"

	"github.com/rustyeddy/daytrader/broker"
	"github.com/rustyeddy/daytrader/market"
)

type sessionRequest struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	ClientID  string `json:"client_id,omitempty"`
	TOTP      string `json:"totp,omitempty"`
}

type sessionResponse struct {
	AccessToken string `json:"access_token"`
}

type quoteResponse struct {
	LTP       float64   `json:"ltp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

func (q quoteResponse) quote(symbol string) market.Quote {
	return market.Quote{
		Symbol: symbol,
		LTP:    q.LTP,
		Open:   q.Open,
		High:   q.High,
		Low:    q.Low,
		Close:  q.Close,
		Volume: q.Volume,
		Time:   q.Timestamp,
	}
}

type orderRequest struct {
	Symbol       string  `json:"symbol"`
	Exchange     string  `json:"exchange"`
	Quantity     int     `json:"quantity"`
	Side         string  `json:"transaction_type"`
	Product      string  `json:"product_type"`
	Type         string  `json:"order_type"`
	Price        float64 `json:"price,omitempty"`
	TriggerPrice float64 `json:"trigger_price,omitempty"`
}

func newOrderRequest(r broker.OrderRequest) orderRequest {
	return orderRequest{
		Symbol:       r.Symbol,
		Exchange:     r.Exchange,
		Quantity:     r.Quantity,
		Side:         string(r.Side),
		Product:      string(r.Product),
		Type:         string(r.Type),
		Price:        r.Price,
		TriggerPrice: r.TriggerPrice,
	}
}

type modifyRequest struct {
	Quantity     *int     `json:"quantity,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	TriggerPrice *float64 `json:"trigger_price,omitempty"`
}

type orderResponse struct {
	OrderID string `json:"order_id"`
	Message string `json:"message"`
}

type historicalResponse struct {
	Candles []market.Candle `json:"candles"`
}

type marketStatus struct {
	Open bool `json:"open"`
}
