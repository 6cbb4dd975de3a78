package risk

import "math"

// CalculatePositionSize sizes a trade so that hitting the stop loses at
// most MaxLossPerTrade and the notional stays under MaxCapitalPerTrade.
// The result is floored to the symbol's lot size. Zero means no trade.
func (rm *RiskManager) CalculatePositionSize(symbol string, price, stop float64) int {
	return positionSize(rm.limits, rm.lots.LotSize(symbol), price, stop)
}

func positionSize(l Limits, lot int, price, stop float64) int {
	perUnit := math.Abs(price - stop)
	if price <= 0 || perUnit == 0 {
		return 0
	}

	riskQty := math.Floor(l.MaxLossPerTrade / perUnit)
	capitalQty := math.Floor(l.MaxCapitalPerTrade / price)
	qty := int(math.Min(riskQty, capitalQty))

	if lot < 1 {
		lot = 1
	}
	return (qty / lot) * lot
}
