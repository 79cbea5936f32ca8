package types

import "time"

// BarReady announces a completed bar on ohlcv_m1_ready or ohlcv_{tf}_ready.
type BarReady struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	OpenTime  time.Time `json:"open_time"`
}

// AggregateRequest asks the aggregator to build the Interval bar ending at Until.
type AggregateRequest struct {
	Symbol   string    `json:"symbol"`
	Interval Timeframe `json:"interval"`
	Until    time.Time `json:"until"`
}

// TickerActivation toggles ingestion for one symbol.
type TickerActivation struct {
	Symbol string       `json:"symbol"`
	Status SymbolStatus `json:"status"`
}

// Activation is a refresh hint for signal and strategy configuration.
type Activation struct {
	ID      int64 `json:"id"`
	Enabled bool  `json:"enabled"`
}

// PositionOpened hands a freshly written position to the follower.
type PositionOpened struct {
	Position Position `json:"position"`
}
