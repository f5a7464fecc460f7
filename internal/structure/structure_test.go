package structure

import (
	"math"
	"testing"

	"ict-trading-bot/internal/candles/candletest"
	"ict-trading-bot/internal/market"
)

// bullishWaves builds rising waves with plateaus so that swing points are
// detectable inside the default ±5 window, ending with a leg that breaks
// structure upward.
func bullishWaves() []candletest.OHLC {
	var data []candletest.OHLC
	for wave := 0; wave < 4; wave++ {
		trough := 100.0 + float64(wave)*40
		peak := trough + 30
		for i := 0; i < 6; i++ {
			v := trough + float64(i)*5
			data = append(data, candletest.OHLC{Open: v, High: v + 1, Low: v - 1, Close: v + 0.5})
		}
		for i := 0; i < 2; i++ {
			data = append(data, candletest.OHLC{Open: peak, High: peak + 1, Low: peak - 2, Close: peak - 1})
		}
		for i := 0; i < 6; i++ {
			v := peak - float64(i)*3
			data = append(data, candletest.OHLC{Open: v, High: v + 0.5, Low: v - 1, Close: v - 0.5})
		}
	}
	finalPeak := 100.0 + 4*40
	for i := 0; i < 8; i++ {
		v := finalPeak - 15 + float64(i)*5
		data = append(data, candletest.OHLC{Open: v, High: v + 1, Low: v - 0.5, Close: v + 0.5})
	}
	return data
}

func bearishWaves() []candletest.OHLC {
	var data []candletest.OHLC
	for wave := 0; wave < 4; wave++ {
		peak := 500.0 - float64(wave)*40
		trough := peak - 30
		for i := 0; i < 6; i++ {
			v := peak - float64(i)*5
			data = append(data, candletest.OHLC{Open: v, High: v + 1, Low: v - 1, Close: v - 0.5})
		}
		for i := 0; i < 2; i++ {
			data = append(data, candletest.OHLC{Open: trough, High: trough + 2, Low: trough - 1, Close: trough + 1})
		}
		for i := 0; i < 6; i++ {
			v := trough + float64(i)*3
			data = append(data, candletest.OHLC{Open: v, High: v + 1, Low: v - 0.5, Close: v + 0.5})
		}
	}
	finalTrough := 500.0 - 4*40
	for i := 0; i < 8; i++ {
		v := finalTrough + 15 - float64(i)*5
		data = append(data, candletest.OHLC{Open: v, High: v + 0.5, Low: v - 1, Close: v - 0.5})
	}
	return data
}

func TestAnalyzeBullishTrend(t *testing.T) {
	a := NewAnalyzer()
	trend := a.Analyze(candletest.Make(bullishWaves()))
	if trend != market.TrendBullish {
		t.Fatalf("trend = %s, want bullish (SH=%d SL=%d BOS=%d)",
			trend, len(a.SwingHighs), len(a.SwingLows), len(a.BOSEvents))
	}
}

func TestAnalyzeBearishTrend(t *testing.T) {
	a := NewAnalyzer()
	trend := a.Analyze(candletest.Make(bearishWaves()))
	if trend != market.TrendBearish {
		t.Fatalf("trend = %s, want bearish (SH=%d SL=%d BOS=%d)",
			trend, len(a.SwingHighs), len(a.SwingLows), len(a.BOSEvents))
	}
}

func TestAnalyzeNeutralForFlat(t *testing.T) {
	data := make([]candletest.OHLC, 20)
	for i := range data {
		data[i] = candletest.OHLC{Open: 100, High: 100.5, Low: 99.5, Close: 100}
	}
	a := NewAnalyzer()
	if trend := a.Analyze(candletest.Make(data)); trend != market.TrendNeutral {
		t.Errorf("trend = %s, want neutral", trend)
	}
}

func TestSwingWindowProperty(t *testing.T) {
	// Every reported swing high must be the max high of its ±5 window.
	series := candletest.Make(bullishWaves())
	a := NewAnalyzer()
	a.Analyze(series)
	if len(a.SwingHighs) == 0 {
		t.Fatal("no swing highs found")
	}
	for _, sh := range a.SwingHighs {
		for _, c := range series.All() {
			d := c.Timestamp.Sub(sh.Timestamp).Minutes()
			if d >= -5 && d <= 5 && c.High > sh.Price {
				t.Errorf("swing high %.2f beaten by %.2f within window", sh.Price, c.High)
			}
		}
	}
}

func TestFindSwingsDetectsPeak(t *testing.T) {
	var data []candletest.OHLC
	for i := 0; i < 15; i++ {
		v := 100.0 + float64(i)*5
		data = append(data, candletest.OHLC{Open: v, High: v + 2, Low: v - 1, Close: v + 1})
	}
	for i := 0; i < 15; i++ {
		v := 170.0 - float64(i)*5
		data = append(data, candletest.OHLC{Open: v, High: v + 2, Low: v - 1, Close: v - 1})
	}
	a := NewAnalyzer()
	a.Analyze(candletest.Make(data))
	if len(a.SwingHighs) == 0 {
		t.Fatal("expected a swing high near the peak")
	}
	max := math.Inf(-1)
	for _, s := range a.SwingHighs {
		if s.Price > max {
			max = s.Price
		}
	}
	if max <= 150 {
		t.Errorf("max swing high = %.2f, want > 150", max)
	}
}

func TestShortSeriesYieldsNoSwings(t *testing.T) {
	data := make([]candletest.OHLC, 10) // need > 2*lookback
	for i := range data {
		v := 100.0 + float64(i)
		data[i] = candletest.OHLC{Open: v, High: v + 1, Low: v - 1, Close: v}
	}
	a := NewAnalyzer()
	a.Analyze(candletest.Make(data))
	if len(a.SwingHighs) != 0 || len(a.SwingLows) != 0 {
		t.Error("short series should produce no swings")
	}
}

func TestSwingBreaksAtMostOnce(t *testing.T) {
	a := NewAnalyzer()
	a.Analyze(candletest.Make(bullishWaves()))
	broken := map[float64]int{}
	for _, e := range a.BOSEvents {
		broken[e.Level]++
	}
	for level, n := range broken {
		if n > 1 {
			t.Errorf("level %.2f broken %d times", level, n)
		}
	}
}

func TestDealingRange(t *testing.T) {
	series := candletest.BullishTrend(30, 100)
	a := NewAnalyzer()
	a.Analyze(series)
	dr := a.DealingRange(series)
	if dr.High <= dr.Low {
		t.Fatalf("degenerate range %v", dr)
	}
	eq := (dr.High + dr.Low) / 2
	if math.Abs(dr.Equilibrium-eq) > 0.01 {
		t.Errorf("equilibrium = %v, want %v", dr.Equilibrium, eq)
	}
	if dr.Premium <= dr.Equilibrium || dr.Discount >= dr.Equilibrium {
		t.Error("premium/discount on wrong sides of equilibrium")
	}
}

func TestDealingRangeEmptySeries(t *testing.T) {
	a := NewAnalyzer()
	dr := a.DealingRange(candletest.Make(nil))
	if dr != (DealingRange{}) {
		t.Errorf("empty series should give zero range, got %v", dr)
	}
}

func TestLiquidityLevelsSorted(t *testing.T) {
	a := NewAnalyzer()
	a.Analyze(candletest.Make(bullishWaves()))
	lv := a.LiquidityLevels()
	for i := 1; i < len(lv.BSL); i++ {
		if lv.BSL[i] > lv.BSL[i-1] {
			t.Fatal("BSL not descending")
		}
	}
	for i := 1; i < len(lv.SSL); i++ {
		if lv.SSL[i] < lv.SSL[i-1] {
			t.Fatal("SSL not ascending")
		}
	}
}
