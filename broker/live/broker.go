package live

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rustyeddy/daytrader/broker"
	"github.com/rustyeddy/daytrader/market"
)

var _ broker.Broker = (*Client)(nil)

func (c *Client) exchange(e string) string {
	if e == "" {
		return c.Exchange
	}
	return e
}

func (c *Client) GetQuote(ctx context.Context, symbol, exchange string) (market.Quote, error) {
	q := url.Values{"symbol": {symbol}, "exchange": {c.exchange(exchange)}}

	var out quoteResponse
	if err := c.call(ctx, http.MethodGet, "/quote", q, nil, &out); err != nil {
		return market.Quote{}, fmt.Errorf("quote %s: %w", symbol, err)
	}
	quote := out.quote(symbol)
	if !quote.Valid() {
		return market.Quote{}, fmt.Errorf("quote %s: %w", symbol, broker.ErrNoQuote)
	}
	return quote, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req broker.OrderRequest) broker.OrderResponse {
	req.Exchange = c.exchange(req.Exchange)
	if err := req.Validate(); err != nil {
		return broker.Failure("%v", err)
	}

	var out orderResponse
	if err := c.call(ctx, http.MethodPost, "/orders", nil, newOrderRequest(req), &out); err != nil {
		c.log.Errorw("place order failed", "symbol", req.Symbol, "error", err)
		return broker.Failure("place order: %v", err)
	}

	o := broker.Order{
		ID:       out.OrderID,
		Symbol:   req.Symbol,
		Exchange: req.Exchange,
		Quantity: req.Quantity,
		Side:     req.Side,
		Product:  req.Product,
		Type:     req.Type,
		Price:    req.Price,
		Status:   broker.StatusPending,
		Time:     time.Now(),
	}
	c.log.Infow("order placed", "order_id", o.ID, "symbol", o.Symbol, "side", o.Side, "qty", o.Quantity)
	return broker.Success(o, out.Message)
}

func (c *Client) ModifyOrder(ctx context.Context, req broker.ModifyRequest) broker.OrderResponse {
	if req.OrderID == "" {
		return broker.Failure("order id required")
	}
	in := modifyRequest{Quantity: req.Quantity, Price: req.Price, TriggerPrice: req.TriggerPrice}

	var out orderResponse
	if err := c.call(ctx, http.MethodPut, "/orders/"+url.PathEscape(req.OrderID), nil, in, &out); err != nil {
		return broker.Failure("modify order: %v", err)
	}
	return broker.OrderResponse{OrderID: req.OrderID, Status: broker.ResultSuccess, Message: out.Message}
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) broker.OrderResponse {
	var out orderResponse
	if err := c.call(ctx, http.MethodDelete, "/orders/"+url.PathEscape(orderID), nil, nil, &out); err != nil {
		return broker.Failure("cancel order: %v", err)
	}
	return broker.OrderResponse{OrderID: orderID, Status: broker.ResultSuccess, Message: out.Message}
}

func (c *Client) OrderStatus(ctx context.Context, orderID string) (broker.Order, error) {
	var out broker.Order
	err := c.call(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, nil, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return broker.Order{}, fmt.Errorf("order status %q: %w", orderID, broker.ErrOrderNotFound)
	}
	if err != nil {
		return broker.Order{}, fmt.Errorf("order status %q: %w", orderID, err)
	}
	return out, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]broker.PositionData, error) {
	var out []broker.PositionData
	if err := c.call(ctx, http.MethodGet, "/positions", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	return out, nil
}

func (c *Client) GetHistoricalData(ctx context.Context, req broker.HistoricalRequest) ([]market.Candle, error) {
	q := url.Values{
		"symbol":   {req.Symbol},
		"exchange": {c.exchange(req.Exchange)},
		"from":     {req.Start.Format(time.RFC3339)},
		"to":       {req.End.Format(time.RFC3339)},
		"interval": {string(req.Interval)},
	}

	var out historicalResponse
	if err := c.call(ctx, http.MethodGet, "/historical", q, nil, &out); err != nil {
		return nil, fmt.Errorf("historical %s: %w", req.Symbol, err)
	}
	return out.Candles, nil
}

func (c *Client) GetMargins(ctx context.Context) (broker.Margins, error) {
	var out broker.Margins
	if err := c.call(ctx, http.MethodGet, "/margins", nil, nil, &out); err != nil {
		return broker.Margins{}, fmt.Errorf("margins: %w", err)
	}
	return out, nil
}

// IsMarketOpen asks the broker. Any failure reads as closed.
func (c *Client) IsMarketOpen(ctx context.Context) bool {
	var out marketStatus
	q := url.Values{"exchange": {c.Exchange}}
	if err := c.call(ctx, http.MethodGet, "/market/status", q, nil, &out); err != nil {
		c.log.Warnw("market status failed", "error", err)
		return false
	}
	return out.Open
}
