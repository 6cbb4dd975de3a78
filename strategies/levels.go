package strategies

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/daytrader/broker"
	"github.com/rustyeddy/daytrader/config"
	"github.com/rustyeddy/daytrader/internal/logger"
	"github.com/rustyeddy/daytrader/market"
	"github.com/rustyeddy/daytrader/risk"
	"go.uber.org/zap"
)

// Level strategy parameters and their defaults.
const (
	ParamIncrement = "increment" // step added to sqrt(prev close)
	ParamCount     = "count"     // levels generated on each side
	ParamBuffer    = "buffer"    // stop distance beyond the opposite level, as a fraction
	ParamTargets   = "targets"   // targets per signal
	ParamMinRR     = "min_rr"    // reject signals whose first target pays less
	ParamMaxAge    = "max_age"   // seconds a signal stays valid
	ParamMaxHold   = "max_hold"  // minutes before a position is closed, 0 disables
	ParamLookback  = "lookback"  // days of daily history to search for a close

	defaultIncrement = 0.125
	defaultCount     = 35
	defaultBuffer    = 0.002
	defaultTargets   = 3
	defaultMaxAge    = 60
	defaultLookback  = 10
)

// LevelSet is one symbol's price grid for the day.
type LevelSet struct {
	PrevClose   float64
	BuyAbove    float64
	SellBelow   float64
	BuyTargets  []float64
	SellTargets []float64
	LongStop    float64
	ShortStop   float64
	Levels      []float64

	day string
}

// SquareOfNine returns count levels on each side of price, built by
// stepping sqrt(price) in increments and squaring. The result ascends.
func SquareOfNine(price, increment float64, count int) []float64 {
	if price <= 0 || increment <= 0 || count <= 0 {
		return nil
	}
	root := math.Sqrt(price)
	out := make([]float64, 0, 2*count)
	for k := -count; k <= count; k++ {
		if k == 0 {
			continue
		}
		r := root + float64(k)*increment
		if r <= 0 {
			continue
		}
		out = append(out, r*r)
	}
	sort.Float64s(out)
	return out
}

// BuildLevels derives the entry levels, targets and stops around prevClose.
func BuildLevels(prevClose, increment float64, count, targets int, buffer float64) (LevelSet, error) {
	levels := SquareOfNine(prevClose, increment, count)
	i := sort.SearchFloat64s(levels, prevClose)
	for i < len(levels) && levels[i] <= prevClose {
		i++
	}
	// levels[i] is the first strictly above, levels[i-1] the last below.
	if i == 0 || i >= len(levels) {
		return LevelSet{}, fmt.Errorf("no levels around %.2f", prevClose)
	}
	below := i - 1
	for below >= 0 && levels[below] >= prevClose {
		below--
	}
	if below < 0 {
		return LevelSet{}, fmt.Errorf("no level below %.2f", prevClose)
	}

	ls := LevelSet{
		PrevClose: prevClose,
		BuyAbove:  levels[i],
		SellBelow: levels[below],
		Levels:    levels,
	}
	for j := i + 1; j < len(levels) && len(ls.BuyTargets) < targets; j++ {
		ls.BuyTargets = append(ls.BuyTargets, levels[j])
	}
	for j := below - 1; j >= 0 && len(ls.SellTargets) < targets; j-- {
		ls.SellTargets = append(ls.SellTargets, levels[j])
	}
	if len(ls.BuyTargets) == 0 || len(ls.SellTargets) == 0 {
		return LevelSet{}, fmt.Errorf("not enough levels for targets around %.2f", prevClose)
	}
	ls.LongStop = ls.SellBelow * (1 - buffer)
	ls.ShortStop = ls.BuyAbove * (1 + buffer)
	return ls, nil
}

// Levels trades breakouts through square-of-nine levels computed from
// the previous session's close.
type Levels struct {
	name    string
	symbols []string

	increment float64
	count     int
	buffer    float64
	targets   int
	minRR     float64
	maxAge    time.Duration
	maxHold   time.Duration
	lookback  int

	data  MarketData
	sizer Sizer
	now   func() time.Time
	log   *zap.SugaredLogger

	mu     sync.Mutex
	levels map[string]LevelSet
}

func NewLevels(cfg config.StrategyConfig, deps Deps) (Strategy, error) {
	if deps.Data == nil || deps.Sizer == nil {
		return nil, fmt.Errorf("levels strategy needs market data and a sizer")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("levels strategy %q has no symbols", cfg.Name)
	}
	p := cfg.Params
	s := &Levels{
		name:      cfg.Name,
		symbols:   append([]string(nil), cfg.Symbols...),
		increment: param(p, ParamIncrement, defaultIncrement),
		count:     int(param(p, ParamCount, defaultCount)),
		buffer:    param(p, ParamBuffer, defaultBuffer),
		targets:   int(param(p, ParamTargets, defaultTargets)),
		minRR:     param(p, ParamMinRR, 0),
		maxAge:    time.Duration(param(p, ParamMaxAge, defaultMaxAge) * float64(time.Second)),
		maxHold:   time.Duration(param(p, ParamMaxHold, 0) * float64(time.Minute)),
		lookback:  int(param(p, ParamLookback, defaultLookback)),
		data:      deps.Data,
		sizer:     deps.Sizer,
		now:       deps.Now,
		log:       logger.OrNop(deps.Log).With("strategy", cfg.Name),
		levels:    make(map[string]LevelSet),
	}
	if s.name == "" {
		s.name = "levels"
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.increment <= 0 || s.count <= 0 || s.targets <= 0 || s.buffer < 0 {
		return nil, fmt.Errorf("levels strategy %q: invalid parameters", s.name)
	}
	return s, nil
}

func (s *Levels) Name() string      { return s.name }
func (s *Levels) Symbols() []string { return s.symbols }

// Initialize computes every symbol's levels from its previous close.
func (s *Levels) Initialize(ctx context.Context) error {
	for _, sym := range s.symbols {
		if _, err := s.load(ctx, sym); err != nil {
			return err
		}
	}
	return nil
}

// LevelsFor returns the grid computed for symbol.
func (s *Levels) LevelsFor(symbol string) (LevelSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.levels[symbol]
	return ls, ok
}

// load returns symbol's levels for today, computing them on the first
// call of each day.
func (s *Levels) load(ctx context.Context, symbol string) (LevelSet, error) {
	now := s.now()
	day := now.Format("20060102")
	if ls, ok := s.LevelsFor(symbol); ok && ls.day == day {
		return ls, nil
	}

	candles, err := s.data.GetHistoricalData(ctx, broker.HistoricalRequest{
		Symbol:   symbol,
		Start:    now.AddDate(0, 0, -s.lookback),
		End:      now,
		Interval: market.Day1,
	})
	if err != nil {
		return LevelSet{}, fmt.Errorf("levels %s: %w", symbol, err)
	}
	prev, ok := previousClose(candles, now)
	if !ok {
		return LevelSet{}, fmt.Errorf("levels %s: no previous close in %d days", symbol, s.lookback)
	}
	ls, err := BuildLevels(prev, s.increment, s.count, s.targets, s.buffer)
	if err != nil {
		return LevelSet{}, fmt.Errorf("levels %s: %w", symbol, err)
	}
	ls.day = day

	s.mu.Lock()
	s.levels[symbol] = ls
	s.mu.Unlock()

	s.log.Infow("levels computed", "symbol", symbol, "prev_close", prev,
		"buy_above", ls.BuyAbove, "sell_below", ls.SellBelow)
	return ls, nil
}

// previousClose is the close of the last candle dated before now's day.
func previousClose(candles []market.Candle, now time.Time) (float64, bool) {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	var (
		best  market.Candle
		found bool
	)
	for _, c := range candles {
		if !c.Time.Before(today) || c.Close <= 0 {
			continue
		}
		if !found || c.Time.After(best.Time) {
			best, found = c, true
		}
	}
	return best.Close, found
}

// GenerateSignal goes long at or above the buy level and short at or
// below the sell level.
func (s *Levels) GenerateSignal(ctx context.Context, symbol string) (*Signal, error) {
	ls, err := s.load(ctx, symbol)
	if err != nil {
		return nil, err
	}
	q, err := s.data.GetQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	price := q.LTP

	var sig Signal
	switch {
	case price >= ls.BuyAbove:
		sig = Signal{Type: SignalLong, StopLoss: ls.LongStop, Targets: ls.BuyTargets}
	case price <= ls.SellBelow:
		sig = Signal{Type: SignalShort, StopLoss: ls.ShortStop, Targets: ls.SellTargets}
	default:
		return nil, nil
	}

	qty := s.sizer.CalculatePositionSize(symbol, price, sig.StopLoss)
	if qty <= 0 {
		s.log.Debugw("signal sized to zero", "symbol", symbol, "price", price, "stop", sig.StopLoss)
		return nil, nil
	}

	now := s.now()
	sig.Symbol = symbol
	sig.EntryPrice = price
	sig.Quantity = qty
	sig.Targets = append([]float64(nil), sig.Targets...)
	sig.Timestamp = now
	sig.Expiry = now.Add(s.maxAge)
	sig.Metadata = map[string]string{
		"prev_close": fmt.Sprintf("%.2f", ls.PrevClose),
		"buy_above":  fmt.Sprintf("%.2f", ls.BuyAbove),
		"sell_below": fmt.Sprintf("%.2f", ls.SellBelow),
	}
	return &sig, nil
}

// ValidateSignal rejects stale or malformed signals and those whose first
// target pays less than the minimum reward to risk.
func (s *Levels) ValidateSignal(sig Signal) bool {
	if !sig.IsEntry() || sig.Symbol == "" {
		return false
	}
	if sig.EntryPrice <= 0 || sig.StopLoss <= 0 || sig.Quantity <= 0 || len(sig.Targets) == 0 {
		return false
	}
	now := s.now()
	if sig.Expired(now) || now.Sub(sig.Timestamp) > s.maxAge {
		s.log.Debugw("stale signal", "symbol", sig.Symbol, "age", now.Sub(sig.Timestamp))
		return false
	}

	first := sig.Targets[0]
	switch sig.Type {
	case SignalLong:
		if sig.StopLoss >= sig.EntryPrice || first <= sig.EntryPrice {
			return false
		}
	case SignalShort:
		if sig.StopLoss <= sig.EntryPrice || first >= sig.EntryPrice {
			return false
		}
	}
	if s.minRR > 0 && risk.RR(sig.EntryPrice, sig.StopLoss, first) < s.minRR {
		s.log.Debugw("signal below minimum reward to risk", "symbol", sig.Symbol,
			"rr", risk.RR(sig.EntryPrice, sig.StopLoss, first))
		return false
	}
	return true
}

// Trail moves the stop to entry once price has covered half the distance
// to the first target. Stops only ever move in the position's favour.
func (s *Levels) Trail(pos risk.Position, q market.Quote) []float64 {
	if len(pos.Targets) == 0 || len(pos.Stops) == 0 || q.LTP <= 0 {
		return nil
	}
	half := pos.EntryPrice + (pos.Targets[0]-pos.EntryPrice)/2
	stop := pos.Stops[0]

	switch pos.Side {
	case risk.Long:
		if q.LTP >= half && stop < pos.EntryPrice {
			return []float64{pos.EntryPrice}
		}
	case risk.Short:
		if q.LTP <= half && stop > pos.EntryPrice {
			return []float64{pos.EntryPrice}
		}
	}
	return nil
}

// ShouldExit closes positions held longer than max_hold.
func (s *Levels) ShouldExit(pos risk.Position, q market.Quote) (bool, string) {
	if s.maxHold > 0 && s.now().Sub(pos.EntryTime) >= s.maxHold {
		return true, "TIME_EXIT"
	}
	return false, ""
}
