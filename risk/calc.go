package risk

import "math"

// Side is the direction of a position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

func (s Side) Valid() bool {
	return s == Long || s == Short
}

// PnL is the profit of qty units entered at entry and valued at price.
func PnL(side Side, entry, price float64, qty int) float64 {
	if side == Short {
		return (entry - price) * float64(qty)
	}
	return (price - entry) * float64(qty)
}

// PlannedRisk is the absolute loss if the stop is hit.
func PlannedRisk(qty int, entry, stop float64) float64 {
	return math.Abs(entry-stop) * float64(qty)
}

// RR is reward over risk for a trade. Zero when the stop equals entry.
func RR(entry, stop, target float64) float64 {
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return 0
	}
	return math.Abs(target-entry) / risk
}

// RiskPct is planned risk as a fraction of capital.
func RiskPct(plannedRisk, capital float64) float64 {
	if capital <= 0 {
		return math.Inf(1)
	}
	return plannedRisk / capital
}
