package domain

// Bar is one OHLCV observation for a symbol.
// Corresponds to bars table in ClickHouse.
type Bar struct {
	Symbol       string  // instrument identifier, e.g. "rb2405"
	Exchange     string  // venue code, may be empty
	Interval     string  // bar interval, e.g. "1m", "1d"
	TimestampMs  int64   // bar open time, Unix milliseconds
	Open         float64 // first traded price
	High         float64 // highest traded price
	Low          float64 // lowest traded price
	Close        float64 // last traded price
	Volume       float64 // traded quantity
	Turnover     float64 // traded notional
	OpenInterest float64 // open contracts at bar close, 0 for spot
}

// VWAP returns turnover / volume, or ok=false when no volume traded.
func (b *Bar) VWAP() (float64, bool) {
	if b.Volume == 0 {
		return 0, false
	}
	return b.Turnover / b.Volume, true
}

// BarKey identifies a bar series.
type BarKey struct {
	Symbol   string
	Interval string
}
