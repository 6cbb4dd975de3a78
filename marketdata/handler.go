package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/daytrader/broker"
	"github.com/rustyeddy/daytrader/config"
	"github.com/rustyeddy/daytrader/internal/logger"
	"github.com/rustyeddy/daytrader/market"
	"github.com/rustyeddy/daytrader/metrics"
	"go.uber.org/zap"
)

type cached struct {
	quote   market.Quote
	fetched time.Time
}

// Stats counts fetch activity since start.
type Stats struct {
	Fetches       int           `json:"fetches"`
	Errors        int           `json:"errors"`
	CachedQuotes  int           `json:"cached_quotes"`
	CachedSeries  int           `json:"cached_series"`
	AvgFetchTime  time.Duration `json:"avg_fetch_time"`
	LastRefreshed time.Time     `json:"last_refreshed"`
}

// Handler caches quotes and candles from a broker and retries failed
// quote fetches.
type Handler struct {
	mu sync.Mutex

	src      broker.QuoteSource
	exchange string

	maxRetries int
	backoff    time.Duration
	maxAge     time.Duration

	quotes  map[string]cached
	candles map[string][]market.Candle

	fetches   int
	errors    int
	fetchTime time.Duration
	refreshed time.Time

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
}

func New(src broker.QuoteSource, cfg config.MarketDataConfig, exchange string, m *metrics.Metrics, log *zap.SugaredLogger) *Handler {
	retries := cfg.MaxRetries
	if retries < 1 {
		retries = 3
	}
	return &Handler{
		src:        src,
		exchange:   exchange,
		maxRetries: retries,
		backoff:    config.Seconds(cfg.RetryBackoff, time.Second),
		maxAge:     config.Seconds(cfg.CacheDuration, time.Second),
		quotes:     make(map[string]cached),
		candles:    make(map[string][]market.Candle),
		now:        time.Now,
		sleep:      sleep,
		metrics:    m,
		log:        logger.OrNop(log),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// GetQuote returns a cached quote younger than the cache duration, or
// fetches a fresh one.
func (h *Handler) GetQuote(ctx context.Context, symbol string) (market.Quote, error) {
	h.mu.Lock()
	c, ok := h.quotes[symbol]
	fresh := ok && h.now().Sub(c.fetched) <= h.maxAge
	h.mu.Unlock()

	if fresh {
		return c.quote, nil
	}
	return h.fetch(ctx, symbol)
}

// fetch tries the broker up to maxRetries times with a fixed backoff.
func (h *Handler) fetch(ctx context.Context, symbol string) (market.Quote, error) {
	var lastErr error
	for attempt := 1; attempt <= h.maxRetries; attempt++ {
		start := h.now()
		q, err := h.src.GetQuote(ctx, symbol, h.exchange)
		if err == nil && !q.Valid() {
			err = broker.ErrNoQuote
		}

		h.mu.Lock()
		h.fetches++
		h.fetchTime += h.now().Sub(start)
		if err == nil {
			h.quotes[symbol] = cached{quote: q, fetched: h.now()}
			h.mu.Unlock()
			return q, nil
		}
		h.errors++
		h.mu.Unlock()

		lastErr = err
		h.log.Warnw("quote fetch failed", "symbol", symbol, "attempt", attempt, "error", err)
		if errors.Is(err, context.Canceled) || attempt == h.maxRetries {
			break
		}
		if err := h.sleep(ctx, h.backoff); err != nil {
			lastErr = err
			break
		}
	}

	h.metrics.RecordQuoteFailure(symbol)
	return market.Quote{}, fmt.Errorf("quote %s after %d attempts: %w", symbol, h.maxRetries, lastErr)
}

// Refresh fetches quotes for every symbol. It stops at the first symbol
// that cannot be quoted, so callers can skip the whole cycle.
func (h *Handler) Refresh(ctx context.Context, symbols []string) (map[string]market.Quote, error) {
	out := make(map[string]market.Quote, len(symbols))
	for _, s := range symbols {
		q, err := h.GetQuote(ctx, s)
		if err != nil {
			return out, err
		}
		out[s] = q
	}

	h.mu.Lock()
	h.refreshed = h.now()
	h.mu.Unlock()
	return out, nil
}

// Prices fetches current prices for symbols. A symbol with no quote
// younger than the cache duration is left out, so its position stays open.
func (h *Handler) Prices(ctx context.Context, symbols []string) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		q, err := h.GetQuote(ctx, s)
		if err != nil {
			h.log.Warnw("no fresh price", "symbol", s, "error", err)
			continue
		}
		out[s] = q.LTP
	}
	return out
}

// GetHistoricalData caches candles per symbol, interval and date range.
func (h *Handler) GetHistoricalData(ctx context.Context, req broker.HistoricalRequest) ([]market.Candle, error) {
	if req.Exchange == "" {
		req.Exchange = h.exchange
	}
	key := fmt.Sprintf("%s_%s_%s_%s", req.Symbol, req.Interval,
		req.Start.Format("2006-01-02"), req.End.Format("2006-01-02"))

	h.mu.Lock()
	if c, ok := h.candles[key]; ok {
		h.mu.Unlock()
		return c, nil
	}
	h.mu.Unlock()

	candles, err := h.src.GetHistoricalData(ctx, req)
	if err != nil {
		h.mu.Lock()
		h.errors++
		h.mu.Unlock()
		return nil, fmt.Errorf("historical %s: %w", req.Symbol, err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("historical %s: no data", req.Symbol)
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })

	h.mu.Lock()
	h.candles[key] = candles
	h.mu.Unlock()
	return candles, nil
}

// ClearCache drops cached quotes and candles.
func (h *Handler) ClearCache() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.quotes = make(map[string]cached)
	h.candles = make(map[string][]market.Candle)
}

func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Stats{
		Fetches:       h.fetches,
		Errors:        h.errors,
		CachedQuotes:  len(h.quotes),
		CachedSeries:  len(h.candles),
		LastRefreshed: h.refreshed,
	}
	if h.fetches > 0 {
		st.AvgFetchTime = h.fetchTime / time.Duration(h.fetches)
	}
	return st
}
