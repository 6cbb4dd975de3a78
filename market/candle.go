package market

import "time"

// Candle is one OHLCV bar as returned by a broker's historical endpoint.
type Candle struct {
	Time   time.Time `json:"timestamp"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Interval is a historical-data bar size understood by brokers.
type Interval string

const (
	Minute1  Interval = "1minute"
	Minute5  Interval = "5minute"
	Minute30 Interval = "30minute"
	Day1     Interval = "1day"
)
