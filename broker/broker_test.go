package broker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func validRequest() OrderRequest {
	return OrderRequest{
		Symbol:   "RELIANCE",
		Exchange: "NSE",
		Quantity: 10,
		Side:     Buy,
		Product:  Intraday,
		Type:     Market,
	}
}

func TestOrderRequestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(r *OrderRequest)
		wantErr string
	}{
		{"valid market", func(r *OrderRequest) {}, ""},
		{"empty symbol", func(r *OrderRequest) { r.Symbol = "" }, "symbol cannot be empty"},
		{"zero quantity", func(r *OrderRequest) { r.Quantity = 0 }, "quantity must be positive"},
		{"bad side", func(r *OrderRequest) { r.Side = "HOLD" }, "side must be BUY or SELL"},
		{"bad product", func(r *OrderRequest) { r.Product = "MARGIN" }, "product type"},
		{"bad type", func(r *OrderRequest) { r.Type = "ICEBERG" }, "order type"},
		{"limit without price", func(r *OrderRequest) { r.Type = Limit }, "price must be positive"},
		{"limit with price", func(r *OrderRequest) { r.Type = Limit; r.Price = 100 }, ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := validRequest()
			tt.mutate(&r)
			err := r.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrInvalidOrder))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSideOpposite(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
}

func TestResponses(t *testing.T) {
	t.Parallel()

	ok := Success(Order{ID: "X1", Symbol: "INFY"}, "Order executed")
	assert.True(t, ok.OK())
	assert.Equal(t, "X1", ok.OrderID)
	assert.Equal(t, "INFY", ok.Order.Symbol)

	bad := Failure("Unable to get market price for %s", "INFY")
	assert.False(t, bad.OK())
	assert.Equal(t, ResultError, bad.Status)
	assert.Equal(t, "Unable to get market price for INFY", bad.Message)
	assert.Nil(t, bad.Order)
}
