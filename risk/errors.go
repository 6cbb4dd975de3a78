package risk

import "errors"

// Trade gate reasons. EvaluateTrade returns the first one that applies.
var (
	ErrRiskCritical   = errors.New("risk level critical")
	ErrMaxPositions   = errors.New("maximum positions reached")
	ErrCapitalLimit   = errors.New("capital limit exceeded")
	ErrDailyLossLimit = errors.New("daily loss limit reached")
	ErrSquareOffTime  = errors.New("square-off time reached")
)

// Capital bookkeeping failures.
var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrExposureLimit       = errors.New("total exposure limit exceeded")
	ErrInsufficientCapital = errors.New("insufficient capital")
	ErrNoAllocation        = errors.New("no capital allocated")
	ErrInsufficientAlloc   = errors.New("insufficient allocated capital")
	ErrReleaseExceedsUsed  = errors.New("release exceeds used capital")
)

// Position lifecycle failures.
var (
	ErrDuplicatePosition = errors.New("position already open")
	ErrInvalidPosition   = errors.New("invalid position")
	ErrPositionNotFound  = errors.New("position not found")
)
