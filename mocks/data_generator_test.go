package mocks

import (
	"testing"
	"time"

	"github.com/rxtech-lab/argo-signals/internal/types"
)

func TestBarGenerator_Generate(t *testing.T) {
	config := DefaultConfig()
	config.Count = 100
	config.StartTime = time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC)

	bars := NewBarGenerator(42).Generate(config)

	if len(bars) != 100 {
		t.Fatalf("expected 100 bars, got %d", len(bars))
	}

	if !bars[0].OpenTime.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("first bar is not minute aligned: %s", bars[0].OpenTime)
	}

	for i, b := range bars {
		if b.Symbol != config.Symbol {
			t.Errorf("unexpected symbol %s at %d", b.Symbol, i)
		}

		if !b.Open.IsPositive() || !b.High.IsPositive() || !b.Low.IsPositive() || !b.Close.IsPositive() {
			t.Errorf("non-positive price at %d", i)
		}

		if b.High.LessThan(b.Low) {
			t.Errorf("high < low at %d", i)
		}

		if i > 0 && b.OpenTime.Sub(bars[i-1].OpenTime) != time.Minute {
			t.Errorf("unexpected spacing at %d", i)
		}
	}
}

func TestBarGenerator_Reproducibility(t *testing.T) {
	a := GenerateBars("ETHUSDT", 50)
	b := GenerateBars("ETHUSDT", 50)

	for i := range a {
		if !a[i].Close.Equal(b[i].Close) || !a[i].Volume.Equal(b[i].Volume) {
			t.Fatalf("series differ at %d", i)
		}
	}
}

func TestBarGenerator_Timeframe(t *testing.T) {
	config := DefaultConfig()
	config.Timeframe = types.TimeframeM5
	config.Count = 3

	bars := NewBarGenerator(1).Generate(config)

	if bars[2].OpenTime.Sub(bars[0].OpenTime) != 10*time.Minute {
		t.Errorf("m5 bars are not 5 minutes apart")
	}

	if bars[0].Timeframe != types.TimeframeM5 {
		t.Errorf("timeframe not propagated")
	}
}
