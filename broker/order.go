package broker

import (
	"fmt"
	"time"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the side that flattens a fill on s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type Product string

const (
	Intraday Product = "INTRADAY"
	Delivery Product = "DELIVERY"
	CNC      Product = "CNC"
)

type OrderType string

const (
	Market    OrderType = "MARKET"
	Limit     OrderType = "LIMIT"
	StopLimit OrderType = "SL"
	StopMkt   OrderType = "SL-M"
)

type OrderStatus string

const (
	StatusComplete  OrderStatus = "COMPLETE"
	StatusPending   OrderStatus = "PENDING"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// Result is the outcome of an order call.
type Result string

const (
	ResultSuccess Result = "success"
	ResultError   Result = "error"
)

type OrderRequest struct {
	Symbol       string
	Exchange     string
	Quantity     int
	Side         Side
	Product      Product
	Type         OrderType
	Price        float64
	TriggerPrice float64
}

// Validate checks the request the way the exchange would before accepting
// it. Every failure wraps ErrInvalidOrder.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("%w: symbol cannot be empty", ErrInvalidOrder)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	switch r.Side {
	case Buy, Sell:
	default:
		return fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrInvalidOrder, r.Side)
	}
	switch r.Product {
	case Intraday, Delivery, CNC:
	default:
		return fmt.Errorf("%w: product type must be INTRADAY, DELIVERY or CNC, got %q", ErrInvalidOrder, r.Product)
	}
	switch r.Type {
	case Market, Limit, StopLimit, StopMkt:
	default:
		return fmt.Errorf("%w: order type must be MARKET, LIMIT, SL or SL-M, got %q", ErrInvalidOrder, r.Type)
	}
	if r.Type == Limit && r.Price <= 0 {
		return fmt.Errorf("%w: price must be positive for limit orders", ErrInvalidOrder)
	}
	return nil
}

type ModifyRequest struct {
	OrderID      string
	Quantity     *int
	Price        *float64
	TriggerPrice *float64
}

// Order is a broker order as recorded after placement.
type Order struct {
	ID              string      `json:"order_id"`
	Symbol          string      `json:"symbol"`
	Exchange        string      `json:"exchange"`
	Quantity        int         `json:"quantity"`
	Side            Side        `json:"side"`
	Product         Product     `json:"product_type"`
	Type            OrderType   `json:"order_type"`
	Price           float64     `json:"price"`
	TransactionCost float64     `json:"transaction_cost"`
	Status          OrderStatus `json:"status"`
	Time            time.Time   `json:"timestamp"`
}

// OrderResponse is returned by every order call. A response is either a
// success carrying the order, or an error with a message; there is no
// partially filled state.
type OrderResponse struct {
	OrderID string `json:"order_id"`
	Status  Result `json:"status"`
	Message string `json:"message"`
	Order   *Order `json:"details,omitempty"`

	// Set on capital rejections.
	Required  float64 `json:"required,omitempty"`
	Available float64 `json:"available,omitempty"`
}

func (r OrderResponse) OK() bool {
	return r.Status == ResultSuccess
}

// Success wraps a placed order.
func Success(o Order, msg string) OrderResponse {
	return OrderResponse{OrderID: o.ID, Status: ResultSuccess, Message: msg, Order: &o}
}

// Failure builds an error response.
func Failure(format string, args ...any) OrderResponse {
	return OrderResponse{Status: ResultError, Message: fmt.Sprintf(format, args...)}
}
