package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/daytrader/broker"
	"github.com/rustyeddy/daytrader/config"
	"github.com/rustyeddy/daytrader/internal/logger"
	"github.com/rustyeddy/daytrader/market"
	"go.uber.org/zap"
)

// Broker simulates fills against quotes from a wrapped source. Every
// order fills immediately and completely at the quote plus slippage.
type Broker struct {
	mu sync.Mutex

	data broker.QuoteSource

	initial    float64
	available  float64
	used       float64
	realized   float64
	slippage   float64 // percent
	commission float64 // fraction of notional

	positions map[string]*position
	orders    map[string]*broker.Order
	orderIDs  []string
	trades    []Trade
	seq       int

	now func() time.Time
	log *zap.SugaredLogger
}

// position is a net position; qty is signed.
type position struct {
	symbol   string
	exchange string
	product  broker.Product
	qty      int
	avg      float64
	last     float64
}

// Trade is a realized round trip, written when a fill reduces a position.
type Trade struct {
	OrderID    string      `json:"order_id"`
	Symbol     string      `json:"symbol"`
	Side       broker.Side `json:"side"` // side of the closing fill
	Quantity   int         `json:"quantity"`
	EntryPrice float64     `json:"entry_price"`
	ExitPrice  float64     `json:"exit_price"`
	PnL        float64     `json:"pnl"`
	Time       time.Time   `json:"timestamp"`
}

// Portfolio summarizes the simulated account.
type Portfolio struct {
	InitialCapital   float64 `json:"initial_capital"`
	AvailableCapital float64 `json:"available_capital"`
	UsedCapital      float64 `json:"used_capital"`
	RealizedPnL      float64 `json:"realized_pnl"`
	OpenPositions    int     `json:"open_positions"`
	Orders           int     `json:"total_orders"`
	Trades           int     `json:"total_trades"`
}

var _ broker.Broker = (*Broker)(nil)

func New(data broker.QuoteSource, cfg config.PaperConfig, log *zap.SugaredLogger) *Broker {
	b := &Broker{
		data:       data,
		initial:    cfg.PaperCapital,
		slippage:   cfg.SlippagePercent,
		commission: cfg.TransactionCost,
		now:        time.Now,
		log:        logger.OrNop(log),
	}
	b.resetLocked()
	return b
}

func (b *Broker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

type connector interface {
	Connect(ctx context.Context) error
	IsConnected(ctx context.Context) bool
}

// Connect connects the wrapped source when it has a connection of its own.
func (b *Broker) Connect(ctx context.Context) error {
	if c, ok := b.data.(connector); ok {
		return c.Connect(ctx)
	}
	return nil
}

func (b *Broker) IsConnected(ctx context.Context) bool {
	if c, ok := b.data.(connector); ok {
		return c.IsConnected(ctx)
	}
	return b.data != nil
}

func (b *Broker) GetQuote(ctx context.Context, symbol, exchange string) (market.Quote, error) {
	return b.data.GetQuote(ctx, symbol, exchange)
}

func (b *Broker) GetHistoricalData(ctx context.Context, req broker.HistoricalRequest) ([]market.Candle, error) {
	return b.data.GetHistoricalData(ctx, req)
}

func (b *Broker) IsMarketOpen(ctx context.Context) bool {
	return b.data.IsMarketOpen(ctx)
}

// FillPrice applies adverse slippage to price.
func FillPrice(price float64, side broker.Side, slippagePct float64) float64 {
	if side == broker.Buy {
		return price * (1 + slippagePct/100)
	}
	return price * (1 - slippagePct/100)
}

// PlaceOrder fills req at the current quote. A BUY is rejected when its
// notional plus costs exceeds available capital.
func (b *Broker) PlaceOrder(ctx context.Context, req broker.OrderRequest) broker.OrderResponse {
	if err := req.Validate(); err != nil {
		return broker.Failure("%v", err)
	}

	q, err := b.data.GetQuote(ctx, req.Symbol, req.Exchange)
	if err != nil || !q.Valid() {
		b.log.Warnw("no quote for paper order", "symbol", req.Symbol, "error", err)
		return broker.Failure("Unable to get market price for %s", req.Symbol)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	executed := FillPrice(q.LTP, req.Side, b.slippage)
	notional := executed * float64(req.Quantity)
	cost := notional * b.commission

	if req.Side == broker.Buy && notional+cost > b.available {
		b.log.Warnw("Insufficient capital", "symbol", req.Symbol,
			"required", notional+cost, "available", b.available)
		resp := broker.Failure("Insufficient capital")
		resp.Required = notional + cost
		resp.Available = b.available
		return resp
	}

	b.seq++
	o := broker.Order{
		ID:              fmt.Sprintf("PAPER_ORD_%06d", b.seq),
		Symbol:          req.Symbol,
		Exchange:        req.Exchange,
		Quantity:        req.Quantity,
		Side:            req.Side,
		Product:         req.Product,
		Type:            req.Type,
		Price:           executed,
		TransactionCost: cost,
		Status:          broker.StatusComplete,
		Time:            b.now(),
	}
	b.orders[o.ID] = &o
	b.orderIDs = append(b.orderIDs, o.ID)

	b.applyFillLocked(o)

	b.log.Infow("paper order filled", "order_id", o.ID, "symbol", o.Symbol, "side", o.Side,
		"qty", o.Quantity, "price", executed, "cost", cost)
	return broker.Success(o, "Order executed")
}

// applyFillLocked moves capital by the executed notional and nets the fill
// into the symbol's position. A BUY spends notional plus cost and adds the
// notional to used; a SELL receives notional minus cost and takes the
// notional off used, whether it closes a long or opens a short.
func (b *Broker) applyFillLocked(o broker.Order) {
	notional := o.Price * float64(o.Quantity)
	fill := o.Quantity
	if o.Side == broker.Buy {
		b.available -= notional + o.TransactionCost
		b.used += notional
	} else {
		b.available += notional - o.TransactionCost
		b.used -= notional
		fill = -fill
	}

	p, ok := b.positions[o.Symbol]
	if !ok {
		p = &position{symbol: o.Symbol, exchange: o.Exchange, product: o.Product}
		b.positions[o.Symbol] = p
	}
	p.last = o.Price

	if p.qty == 0 || sameSign(p.qty, fill) {
		p.add(fill, o.Price)
		return
	}

	closing := min(abs(fill), abs(p.qty))
	var pnl float64
	if p.qty > 0 {
		pnl = (o.Price - p.avg) * float64(closing)
	} else {
		pnl = (p.avg - o.Price) * float64(closing)
	}
	b.realized += pnl

	b.trades = append(b.trades, Trade{
		OrderID:    o.ID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   closing,
		EntryPrice: p.avg,
		ExitPrice:  o.Price,
		PnL:        pnl,
		Time:       o.Time,
	})

	remaining := p.qty + fill
	switch {
	case remaining == 0:
		delete(b.positions, o.Symbol)
	case sameSign(remaining, p.qty):
		p.qty = remaining
	default:
		// flipped through flat; the excess opens at the fill price
		p.qty, p.avg = 0, 0
		p.add(remaining, o.Price)
	}
}

// add applies a same-direction fill with a weighted-average entry.
func (p *position) add(fill int, price float64) {
	oldQty, newQty := abs(p.qty), abs(fill)
	p.avg = (float64(oldQty)*p.avg + float64(newQty)*price) / float64(oldQty+newQty)
	p.qty += fill
}

func (b *Broker) ModifyOrder(ctx context.Context, req broker.ModifyRequest) broker.OrderResponse {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.orders[req.OrderID]; !ok {
		return broker.Failure("Order %s not found", req.OrderID)
	}
	return broker.Failure("Order %s already complete", req.OrderID)
}

func (b *Broker) CancelOrder(ctx context.Context, orderID string) broker.OrderResponse {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.orders[orderID]; !ok {
		return broker.Failure("Order %s not found", orderID)
	}
	return broker.Failure("Order %s already complete", orderID)
}

func (b *Broker) OrderStatus(ctx context.Context, orderID string) (broker.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return broker.Order{}, fmt.Errorf("order status %q: %w", orderID, broker.ErrOrderNotFound)
	}
	return *o, nil
}

// GetPositions values each net position at its latest quote, falling back
// to the last fill price.
func (b *Broker) GetPositions(ctx context.Context) ([]broker.PositionData, error) {
	b.mu.Lock()
	snap := make([]position, 0, len(b.positions))
	for _, p := range b.positions {
		snap = append(snap, *p)
	}
	b.mu.Unlock()

	sort.Slice(snap, func(i, j int) bool { return snap[i].symbol < snap[j].symbol })

	out := make([]broker.PositionData, 0, len(snap))
	for _, p := range snap {
		cur := p.last
		if q, err := b.data.GetQuote(ctx, p.symbol, p.exchange); err == nil && q.Valid() {
			cur = q.LTP
		}
		out = append(out, broker.PositionData{
			Symbol:       p.symbol,
			Quantity:     p.qty,
			AveragePrice: p.avg,
			CurrentPrice: cur,
			PnL:          (cur - p.avg) * float64(p.qty),
			Product:      p.product,
			Exchange:     p.exchange,
		})
	}
	return out, nil
}

func (b *Broker) GetMargins(ctx context.Context) (broker.Margins, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return broker.Margins{
		Total:     b.available + b.used,
		Used:      b.used,
		Available: b.available,
	}, nil
}

func (b *Broker) Portfolio() Portfolio {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Portfolio{
		InitialCapital:   b.initial,
		AvailableCapital: b.available,
		UsedCapital:      b.used,
		RealizedPnL:      b.realized,
		OpenPositions:    len(b.positions),
		Orders:           len(b.orders),
		Trades:           len(b.trades),
	}
}

// Orders returns every order in placement order.
func (b *Broker) Orders() []broker.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]broker.Order, 0, len(b.orderIDs))
	for _, id := range b.orderIDs {
		out = append(out, *b.orders[id])
	}
	return out
}

func (b *Broker) Trades() []Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Trade(nil), b.trades...)
}

// Reset clears positions, orders and trades and restores initial capital.
func (b *Broker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
	b.log.Infow("paper broker reset", "capital", b.initial)
}

func (b *Broker) resetLocked() {
	b.available = b.initial
	b.used = 0
	b.realized = 0
	b.seq = 0
	b.positions = make(map[string]*position)
	b.orders = make(map[string]*broker.Order)
	b.orderIDs = nil
	b.trades = nil
}

func sameSign(a, b int) bool {
	return (a > 0) == (b > 0)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
