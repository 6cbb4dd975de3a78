package risk

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rustyeddy/daytrader/config"
	"github.com/rustyeddy/daytrader/internal/logger"
	"go.uber.org/zap"
)

// Allocation is the capital earmarked for one symbol.
// Available == Allocated - Used at every observation.
type Allocation struct {
	Symbol     string  `json:"symbol"`
	Allocated  float64 `json:"allocated"`
	Used       float64 `json:"used"`
	Available  float64 `json:"available"`
	MaxAllowed float64 `json:"max_allowed"`
}

// CapitalStatus is a point-in-time view of the capital pool.
type CapitalStatus struct {
	Initial       float64      `json:"initial_capital"`
	Current       float64      `json:"current_capital"`
	Allocated     float64      `json:"allocated_capital"`
	Used          float64      `json:"used_capital"`
	Available     float64      `json:"available_capital"`
	TotalExposure float64      `json:"total_exposure"`
	Allocations   []Allocation `json:"allocations"`
}

// CapitalManager tracks total, allocated and used capital and the
// per-symbol ceilings derived from them.
type CapitalManager struct {
	mu sync.Mutex

	initial   float64
	current   float64
	allocated float64
	used      float64

	maxPositionSize  float64
	maxTotalExposure float64

	allocs   map[string]*Allocation
	exposure map[string]float64

	log *zap.SugaredLogger
}

func NewCapitalManager(cfg config.CapitalConfig, log *zap.SugaredLogger) *CapitalManager {
	return &CapitalManager{
		initial:          cfg.TotalCapital,
		current:          cfg.TotalCapital,
		maxPositionSize:  cfg.MaxPositionSize,
		maxTotalExposure: cfg.MaxTotalExposure,
		allocs:           make(map[string]*Allocation),
		exposure:         make(map[string]float64),
		log:              logger.OrNop(log),
	}
}

// AllocateCapital earmarks amount for symbol. Nothing changes on failure.
func (cm *CapitalManager) AllocateCapital(symbol string, amount float64) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if amount <= 0 {
		return fmt.Errorf("allocate %s: %w", symbol, ErrInvalidAmount)
	}
	if limit := cm.current * cm.maxTotalExposure; cm.allocated+amount > limit {
		cm.log.Warnw("allocation rejected", "symbol", symbol, "amount", amount,
			"allocated", cm.allocated, "limit", limit)
		return fmt.Errorf("allocate %s: %w", symbol, ErrExposureLimit)
	}
	if free := cm.current - cm.allocated; amount > free {
		cm.log.Warnw("allocation rejected", "symbol", symbol, "amount", amount, "free", free)
		return fmt.Errorf("allocate %s: %w", symbol, ErrInsufficientCapital)
	}

	a, ok := cm.allocs[symbol]
	if !ok {
		a = &Allocation{Symbol: symbol, MaxAllowed: cm.current * cm.maxPositionSize}
		cm.allocs[symbol] = a
	}
	a.Allocated += amount
	a.Available += amount
	cm.allocated += amount

	cm.log.Infow("capital allocated", "symbol", symbol, "amount", amount, "allocated", a.Allocated)
	return nil
}

// UseCapital moves amount from available to used for symbol.
func (cm *CapitalManager) UseCapital(symbol string, amount float64) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if amount <= 0 {
		return fmt.Errorf("use %s: %w", symbol, ErrInvalidAmount)
	}
	a, ok := cm.allocs[symbol]
	if !ok {
		return fmt.Errorf("use %s: %w", symbol, ErrNoAllocation)
	}
	if amount > a.Available {
		cm.log.Warnw("Insufficient allocated capital", "symbol", symbol,
			"required", amount, "available", a.Available)
		return fmt.Errorf("use %s: %w", symbol, ErrInsufficientAlloc)
	}

	a.Used += amount
	a.Available -= amount
	cm.used += amount
	return nil
}

// ReleaseCapital reverses UseCapital. Releasing more than is in use is
// rejected.
func (cm *CapitalManager) ReleaseCapital(symbol string, amount float64) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if amount <= 0 {
		return fmt.Errorf("release %s: %w", symbol, ErrInvalidAmount)
	}
	a, ok := cm.allocs[symbol]
	if !ok {
		return fmt.Errorf("release %s: %w", symbol, ErrNoAllocation)
	}
	if amount > a.Used+1e-9 {
		return fmt.Errorf("release %s: %.2f > %.2f: %w", symbol, amount, a.Used, ErrReleaseExceedsUsed)
	}
	if amount > a.Used {
		amount = a.Used
	}

	a.Used -= amount
	a.Available += amount
	cm.used -= amount
	return nil
}

// AdjustForPnL books realized pnl into current capital and rescales every
// allocation's ceiling.
func (cm *CapitalManager) AdjustForPnL(pnl float64) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.current += pnl
	for _, a := range cm.allocs {
		a.MaxAllowed = cm.current * cm.maxPositionSize
	}
	cm.log.Debugw("capital adjusted", "pnl", pnl, "current", cm.current)
}

func (cm *CapitalManager) Allocation(symbol string) (Allocation, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	a, ok := cm.allocs[symbol]
	if !ok {
		return Allocation{}, false
	}
	return *a, true
}

// Current is current capital including realized pnl.
func (cm *CapitalManager) Current() float64 {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.current
}

// PositionCeiling is the most capital a single symbol may be allocated
// at current capital.
func (cm *CapitalManager) PositionCeiling() float64 {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.current * cm.maxPositionSize
}

// CheckMarginRequirements reports whether required fits in unused capital.
func (cm *CapitalManager) CheckMarginRequirements(required float64) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	ok := required <= cm.current-cm.used
	if !ok {
		cm.log.Warnw("insufficient margin", "required", required, "available", cm.current-cm.used)
	}
	return ok
}

// UpdatePositionExposure records the market value held in symbol. It
// returns ErrExposureLimit when the total crosses the exposure ceiling;
// the value is recorded either way.
func (cm *CapitalManager) UpdatePositionExposure(symbol string, exposure float64) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if exposure <= 0 {
		delete(cm.exposure, symbol)
	} else {
		cm.exposure[symbol] = exposure
	}

	total := cm.totalExposureLocked()
	if limit := cm.current * cm.maxTotalExposure; total > limit {
		cm.log.Warnw("exposure limit exceeded", "symbol", symbol, "total", total, "limit", limit)
		return ErrExposureLimit
	}
	return nil
}

func (cm *CapitalManager) totalExposureLocked() float64 {
	var total float64
	for _, v := range cm.exposure {
		total += v
	}
	return total
}

func (cm *CapitalManager) Status() CapitalStatus {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	st := CapitalStatus{
		Initial:       cm.initial,
		Current:       cm.current,
		Allocated:     cm.allocated,
		Used:          cm.used,
		Available:     cm.current - cm.used,
		TotalExposure: cm.totalExposureLocked(),
		Allocations:   make([]Allocation, 0, len(cm.allocs)),
	}
	for _, a := range cm.allocs {
		st.Allocations = append(st.Allocations, *a)
	}
	sort.Slice(st.Allocations, func(i, j int) bool {
		return st.Allocations[i].Symbol < st.Allocations[j].Symbol
	})
	return st
}

// Reset drops every allocation and restores the initial capital.
func (cm *CapitalManager) Reset() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.current = cm.initial
	cm.allocated = 0
	cm.used = 0
	cm.allocs = make(map[string]*Allocation)
	cm.exposure = make(map[string]float64)
}
