package market

import "time"

// Quote is a live market snapshot for a single symbol.
type Quote struct {
	Symbol string    `json:"symbol"`
	LTP    float64   `json:"ltp"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
	Time   time.Time `json:"timestamp"`
}

// Valid reports whether the quote carries a usable last traded price.
func (q Quote) Valid() bool {
	return q.Symbol != "" && q.LTP > 0
}

// Age is how old the quote is at now.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.Time)
}
