package mocks

import (
	"math"
	"math/rand"
	"time"

	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/shopspring/decimal"
)

// BarGenerator produces synthetic OHLCV bars for tests and benchmarks.
type BarGenerator struct {
	rng *rand.Rand
}

// NewBarGenerator creates a generator with a fixed seed so that series are reproducible.
func NewBarGenerator(seed int64) *BarGenerator {
	return &BarGenerator{
		rng: rand.New(rand.NewSource(seed)),
	}
}

type GeneratorConfig struct {
	Symbol    string
	Timeframe types.Timeframe
	// StartTime is aligned down to the timeframe.
	StartTime    time.Time
	Count        int
	InitialPrice float64
	// Volatility is the per-bar standard deviation of the return (0.002 = 0.2%).
	Volatility float64
	// Trend is the total drift over the series.
	Trend      float64
	VolumeBase float64
	// PriceDecimals is the price precision of the generated bars.
	PriceDecimals int32
}

func DefaultConfig() GeneratorConfig {
	return GeneratorConfig{
		Symbol:        "BTCUSDT",
		Timeframe:     types.TimeframeM1,
		StartTime:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Count:         300,
		InitialPrice:  100.0,
		Volatility:    0.002,
		Trend:         0.0,
		VolumeBase:    1000,
		PriceDecimals: 2,
	}
}

// Generate walks a geometric Brownian motion and returns bars in ascending open time.
func (g *BarGenerator) Generate(config GeneratorConfig) []types.Bar {
	bars := make([]types.Bar, config.Count)
	price := config.InitialPrice
	openTime := config.Timeframe.Align(config.StartTime)

	for i := 0; i < config.Count; i++ {
		open := price

		// Box-Muller
		u1 := g.rng.Float64()
		u2 := g.rng.Float64()
		z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

		drift := config.Trend / float64(config.Count)

		closePrice := open * (1 + config.Volatility*z + drift)
		if closePrice <= 0 {
			closePrice = open * 0.99
		}

		high := math.Max(open, closePrice) + math.Abs(g.rng.Float64()*config.Volatility*open*0.5)
		low := math.Min(open, closePrice) - math.Abs(g.rng.Float64()*config.Volatility*open*0.5)
		if low <= 0 {
			low = math.Min(open, closePrice) * 0.99
		}

		volume := config.VolumeBase * (0.7 + g.rng.Float64()*0.6)

		bars[i] = types.Bar{
			Symbol:    config.Symbol,
			Timeframe: config.Timeframe,
			OpenTime:  openTime,
			Open:      decimal.NewFromFloat(open).Round(config.PriceDecimals),
			High:      decimal.NewFromFloat(high).Round(config.PriceDecimals),
			Low:       decimal.NewFromFloat(low).Round(config.PriceDecimals),
			Close:     decimal.NewFromFloat(closePrice).Round(config.PriceDecimals),
			Volume:    decimal.NewFromFloat(volume).Round(3),
			Source:    types.BarSourceStream,
		}

		price = closePrice
		openTime = openTime.Add(config.Timeframe.Duration())
	}

	return bars
}

// GenerateBars is a shortcut for count default bars of symbol.
func GenerateBars(symbol string, count int) []types.Bar {
	config := DefaultConfig()
	config.Symbol = symbol
	config.Count = count

	return NewBarGenerator(42).Generate(config)
}
