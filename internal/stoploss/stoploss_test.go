package stoploss

import (
	"strings"
	"testing"
	"time"

	"ict-trading-bot/internal/candles"
	"ict-trading-bot/internal/candles/candletest"
	"ict-trading-bot/internal/market"
)

func TestWickModeWhenGoodRR(t *testing.T) {
	series := candletest.BullishTrend(30, 100)
	engine := NewEngine()

	sl := engine.GetStopLoss(380, market.Long, 500, series, nil)
	if sl.Price >= 380 {
		t.Fatalf("long stop should be below entry, got %.2f", sl.Price)
	}
	if sl.RiskDistance <= 0 {
		t.Fatalf("risk distance should be positive, got %.2f", sl.RiskDistance)
	}
}

func TestFallbackStopWhenNoSwings(t *testing.T) {
	series := candletest.Make([]candletest.OHLC{
		{Open: 100, High: 102, Low: 99, Close: 101},
		{Open: 101, High: 103, Low: 100, Close: 102},
	})
	engine := NewEngine()

	sl := engine.GetStopLoss(102, market.Long, 120, series, nil)
	if !strings.Contains(sl.Reason, "FALLBACK") {
		t.Fatalf("expected ATR fallback, got reason %q", sl.Reason)
	}
	if sl.Price >= 102 {
		t.Fatalf("fallback long stop should be below entry, got %.2f", sl.Price)
	}
}

func TestFallbackStopForShort(t *testing.T) {
	series := candletest.Make([]candletest.OHLC{
		{Open: 100, High: 102, Low: 99, Close: 101},
		{Open: 101, High: 103, Low: 100, Close: 102},
	})
	engine := NewEngine()

	sl := engine.GetStopLoss(102, market.Short, 90, series, nil)
	if sl.Price <= 102 {
		t.Fatalf("short stop should be above entry, got %.2f", sl.Price)
	}
}

func TestTrailingStopOnlyMovesUpForLongs(t *testing.T) {
	series := candletest.BullishTrend(30, 100)
	engine := NewEngine()
	currentStop := 95.0

	if sl, ok := engine.GetTrailingStop(market.Long, currentStop, series, nil); ok {
		if sl.Price <= currentStop {
			t.Fatalf("trailing stop moved against a long: %.2f <= %.2f", sl.Price, currentStop)
		}
	}
}

func TestTrailingStopOnlyMovesDownForShorts(t *testing.T) {
	series := candletest.BearishTrend(30, 500)
	engine := NewEngine()
	currentStop := 510.0

	if sl, ok := engine.GetTrailingStop(market.Short, currentStop, series, nil); ok {
		if sl.Price >= currentStop {
			t.Fatalf("trailing stop moved against a short: %.2f >= %.2f", sl.Price, currentStop)
		}
	}
}

func TestTrailingStopMonotone(t *testing.T) {
	// Repeated trailing updates against the same data only ratchet the
	// stop in the favorable direction.
	series := candletest.Staircase(120, 100, 2, time.Minute)
	engine := NewEngine()
	stop := 50.0

	for i := 0; i < 5; i++ {
		sl, ok := engine.GetTrailingStop(market.Long, stop, series, nil)
		if !ok {
			break
		}
		if sl.Price <= stop {
			t.Fatalf("iteration %d: stop moved down from %.2f to %.2f", i, stop, sl.Price)
		}
		stop = sl.Price
	}
}

func TestProtectedSwingStrengthBounds(t *testing.T) {
	series := candletest.Staircase(120, 100, 2, time.Minute)
	engine := NewEngine()

	swings := engine.FindProtectedSwings(series, nil)
	for _, s := range swings {
		if !s.SweepConfirmed && !s.CloseConfirmed {
			t.Fatalf("swing at %v qualified without sweep or close confirmation", s.Timestamp)
		}
		if s.Strength < 0.65 || s.Strength > 1.0 {
			t.Fatalf("strength %.2f outside [0.65, 1.0]", s.Strength)
		}
	}
}

func TestCalcATRShortSeriesUsesLastRange(t *testing.T) {
	series := candletest.Make([]candletest.OHLC{
		{Open: 100, High: 104, Low: 98, Close: 101},
	})
	if got := CalcATR(series, 14); got != 6 {
		t.Fatalf("ATR on short series = %.2f, want last candle range 6", got)
	}
}

func TestCalcATREmptySeries(t *testing.T) {
	if got := CalcATR(candles.NewSeries(nil), 14); got != 0 {
		t.Fatalf("ATR on empty series = %.2f, want 0", got)
	}
}

