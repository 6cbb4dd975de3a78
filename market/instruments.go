package market

// InstrumentMeta describes how an instrument trades on its exchange.
type InstrumentMeta struct {
	Symbol   string
	Exchange string
	LotSize  int
	TickSize float64
}

// Instruments is a lookup table keyed by symbol.
type Instruments map[string]InstrumentMeta

// NewInstruments builds a table from a symbol → lot size map.
func NewInstruments(exchange string, lots map[string]int) Instruments {
	in := make(Instruments, len(lots))
	for sym, lot := range lots {
		in[sym] = InstrumentMeta{
			Symbol:   sym,
			Exchange: exchange,
			LotSize:  lot,
			TickSize: 0.05,
		}
	}
	return in
}

// LotSize returns the minimum tradable multiple for symbol. Unknown
// symbols and non-positive entries trade in single units.
func (in Instruments) LotSize(symbol string) int {
	meta, ok := in[symbol]
	if !ok || meta.LotSize < 1 {
		return 1
	}
	return meta.LotSize
}
