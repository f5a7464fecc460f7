package pda

import (
	"testing"
	"time"

	"ict-trading-bot/internal/candles"
	"ict-trading-bot/internal/candles/candletest"
	"ict-trading-bot/internal/market"
)

func detect(t *testing.T, data []candletest.OHLC) []PDA {
	t.Helper()
	d := NewDetector(DefaultConfig())
	return d.DetectAll(candletest.Make(data), candles.M1)
}

func filter(pdas []PDA, typ Type, dir market.Trend) []PDA {
	var out []PDA
	for _, p := range pdas {
		if p.Type == typ && p.Direction == dir {
			out = append(out, p)
		}
	}
	return out
}

func TestDetectBullishOrderBlock(t *testing.T) {
	var data []candletest.OHLC
	for i := 0; i < 5; i++ {
		data = append(data, candletest.OHLC{Open: 100, High: 101, Low: 99, Close: 100})
	}
	data = append(data, candletest.OHLC{Open: 105, High: 106, Low: 98, Close: 99})  // down candle, the OB body
	data = append(data, candletest.OHLC{Open: 99, High: 115, Low: 98, Close: 113}) // displacement through its high
	for i := 0; i < 3; i++ {
		data = append(data, candletest.OHLC{Open: 113, High: 114, Low: 112, Close: 113.5})
	}

	obs := filter(detect(t, data), OrderBlock, market.TrendBullish)
	if len(obs) == 0 {
		t.Fatal("expected a bullish order block")
	}
	if obs[0].High != 106 || obs[0].Low != 98 {
		t.Errorf("OB band = [%v, %v], want [98, 106]", obs[0].Low, obs[0].High)
	}
}

func TestDetectBearishOrderBlock(t *testing.T) {
	var data []candletest.OHLC
	for i := 0; i < 5; i++ {
		data = append(data, candletest.OHLC{Open: 100, High: 101, Low: 99, Close: 100})
	}
	data = append(data, candletest.OHLC{Open: 99, High: 106, Low: 98, Close: 105}) // up candle
	data = append(data, candletest.OHLC{Open: 105, High: 106, Low: 88, Close: 90}) // displacement below its low
	for i := 0; i < 3; i++ {
		data = append(data, candletest.OHLC{Open: 90, High: 91, Low: 89, Close: 90.5})
	}

	if len(filter(detect(t, data), OrderBlock, market.TrendBearish)) == 0 {
		t.Fatal("expected a bearish order block")
	}
}

func TestDetectBullishFVG(t *testing.T) {
	data := []candletest.OHLC{
		{Open: 100, High: 102, Low: 98, Close: 101},
		{Open: 103, High: 106, Low: 102.5, Close: 105},
		{Open: 107, High: 110, Low: 106, Close: 109}, // low 106 > first high 102
	}
	fvgs := filter(detect(t, data), FairValueGap, market.TrendBullish)
	if len(fvgs) == 0 {
		t.Fatal("expected a bullish FVG")
	}
	if fvgs[0].Low != 102 || fvgs[0].High != 106 {
		t.Errorf("FVG band = [%v, %v], want [102, 106]", fvgs[0].Low, fvgs[0].High)
	}
}

func TestDetectBearishFVG(t *testing.T) {
	data := []candletest.OHLC{
		{Open: 110, High: 115, Low: 108, Close: 112},
		{Open: 106, High: 107, Low: 103, Close: 104},
		{Open: 100, High: 102, Low: 96, Close: 98}, // high 102 < first low 108
	}
	if len(filter(detect(t, data), FairValueGap, market.TrendBearish)) == 0 {
		t.Fatal("expected a bearish FVG")
	}
}

func TestNoFVGBelowThreshold(t *testing.T) {
	data := []candletest.OHLC{
		{Open: 10000, High: 10001, Low: 9999, Close: 10000.5},
		{Open: 10001, High: 10002, Low: 10000.5, Close: 10001.5},
		{Open: 10001.5, High: 10003, Low: 10001.1, Close: 10002}, // gap 0.1 = 0.001%
	}
	pdas := detect(t, data)
	for _, p := range pdas {
		if p.Type == FairValueGap {
			t.Fatalf("tiny gap should not register: %+v", p)
		}
	}
}

func TestDetectBreaker(t *testing.T) {
	var data []candletest.OHLC
	for i := 0; i < 3; i++ {
		data = append(data, candletest.OHLC{Open: 100, High: 101, Low: 99, Close: 100})
	}
	data = append(data, candletest.OHLC{Open: 100, High: 105, Low: 99, Close: 104})  // up candle
	data = append(data, candletest.OHLC{Open: 104, High: 104.5, Low: 97, Close: 98}) // sweeps its low
	data = append(data, candletest.OHLC{Open: 98, High: 107, Low: 97.5, Close: 106}) // closes back above its high
	data = append(data, candletest.OHLC{Open: 106, High: 107, Low: 105, Close: 106})

	if len(filter(detect(t, data), BreakerBlock, market.TrendBullish)) == 0 {
		t.Fatal("expected a bullish breaker")
	}
}

func TestDetectRejectionBlocks(t *testing.T) {
	// Pin bar: O=101 H=102 L=90 C=101.5 → range 12, lower wick 11, body 0.5.
	bull := []candletest.OHLC{
		{Open: 100, High: 105, Low: 95, Close: 100},
		{Open: 101, High: 102, Low: 90, Close: 101.5},
	}
	rbs := filter(detect(t, bull), RejectionBlock, market.TrendBullish)
	if len(rbs) == 0 {
		t.Fatal("expected a bullish rejection block")
	}
	// The wick zone, not the body, is the array.
	if rbs[0].High != 101 || rbs[0].Low != 90 {
		t.Errorf("RB band = [%v, %v], want [90, 101]", rbs[0].Low, rbs[0].High)
	}

	bear := []candletest.OHLC{
		{Open: 100, High: 105, Low: 95, Close: 100},
		{Open: 99, High: 112, Low: 98, Close: 99.5},
	}
	if len(filter(detect(t, bear), RejectionBlock, market.TrendBearish)) == 0 {
		t.Fatal("expected a bearish rejection block")
	}
}

func TestZeroRangeCandleSkipped(t *testing.T) {
	data := []candletest.OHLC{
		{Open: 100, High: 100, Low: 100, Close: 100},
		{Open: 100, High: 100, Low: 100, Close: 100},
	}
	if got := detect(t, data); len(got) != 0 {
		t.Errorf("zero-range candles should produce nothing, got %d", len(got))
	}
}

func TestStrengthAndZoneBounds(t *testing.T) {
	series := candletest.Staircase(100, 100, 2, time.Minute)
	d := NewDetector(DefaultConfig())
	eqMid := (series.HighsMax() + series.LowsMin()) / 2
	for _, p := range d.DetectAll(series, candles.M5) {
		if p.Strength < 0 || p.Strength > 1 {
			t.Errorf("strength out of range: %v", p.Strength)
		}
		if p.Midpoint > eqMid && p.Zone != market.ZonePremium {
			t.Errorf("midpoint %v above equilibrium %v but zone %s", p.Midpoint, eqMid, p.Zone)
		}
		if p.Midpoint <= eqMid && p.Zone != market.ZoneDiscount {
			t.Errorf("midpoint %v at/below equilibrium %v but zone %s", p.Midpoint, eqMid, p.Zone)
		}
	}
}

func TestNearest(t *testing.T) {
	var data []candletest.OHLC
	for i := 0; i < 5; i++ {
		data = append(data, candletest.OHLC{Open: 100, High: 101, Low: 99, Close: 100})
	}
	data = append(data, candletest.OHLC{Open: 105, High: 106, Low: 98, Close: 99})
	data = append(data, candletest.OHLC{Open: 99, High: 115, Low: 98, Close: 113})
	for i := 0; i < 3; i++ {
		data = append(data, candletest.OHLC{Open: 113, High: 114, Low: 112, Close: 113.5})
	}

	d := NewDetector(DefaultConfig())
	d.DetectAll(candletest.Make(data), candles.M1)

	p, ok := d.Nearest(120, market.TrendBullish)
	if !ok {
		t.Fatal("expected a bullish PDA below price")
	}
	if p.High > 120 {
		t.Errorf("nearest bullish PDA should sit below price, high=%v", p.High)
	}

	if _, ok := d.Nearest(120, market.TrendNeutral); ok {
		t.Error("neutral direction must return nothing")
	}
}
