package candles_test

import (
	"math"
	"testing"
	"time"

	"ict-trading-bot/internal/candles"
	"ict-trading-bot/internal/candles/candletest"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func bullishCandle() candles.Candle {
	return candles.Candle{
		Timestamp: time.Now(),
		Open:      100, High: 115, Low: 95, Close: 110,
		Volume: 50,
	}
}

func bearishCandle() candles.Candle {
	return candles.Candle{
		Timestamp: time.Now(),
		Open:      110, High: 115, Low: 95, Close: 100,
		Volume: 50,
	}
}

func TestCandleBodyAndRange(t *testing.T) {
	c := bullishCandle()
	if !approx(c.Body(), 10) {
		t.Errorf("body = %v, want 10", c.Body())
	}
	if !approx(c.Range(), 20) {
		t.Errorf("range = %v, want 20", c.Range())
	}
}

func TestCandleWicks(t *testing.T) {
	c := bullishCandle() // O=100 H=115 L=95 C=110
	if !approx(c.UpperWick(), 5) {
		t.Errorf("upper wick = %v, want 5", c.UpperWick())
	}
	if !approx(c.LowerWick(), 5) {
		t.Errorf("lower wick = %v, want 5", c.LowerWick())
	}
}

func TestCandleDirection(t *testing.T) {
	if !bullishCandle().IsBullish() || bullishCandle().IsBearish() {
		t.Error("bullish candle misclassified")
	}
	if !bearishCandle().IsBearish() || bearishCandle().IsBullish() {
		t.Error("bearish candle misclassified")
	}
}

func TestCandleBodyTopBottom(t *testing.T) {
	for _, c := range []candles.Candle{bullishCandle(), bearishCandle()} {
		if !approx(c.BodyTop(), 110) || !approx(c.BodyBottom(), 100) {
			t.Errorf("body top/bottom = %v/%v, want 110/100", c.BodyTop(), c.BodyBottom())
		}
	}
}

func TestSeriesSlicing(t *testing.T) {
	s := candletest.Make([]candletest.OHLC{
		{Open: 100, High: 105, Low: 95, Close: 102},
		{Open: 102, High: 108, Low: 100, Close: 106},
		{Open: 106, High: 112, Low: 104, Close: 110},
	})
	if s.Len() != 3 || s.IsEmpty() {
		t.Fatalf("len = %d", s.Len())
	}

	tail := s.Tail(2)
	if tail.Len() != 2 || !approx(tail.At(0).Open, 102) {
		t.Errorf("tail wrong: len=%d open=%v", tail.Len(), tail.At(0).Open)
	}

	head := s.Head(1)
	if head.Len() != 1 || !approx(head.At(0).Open, 100) {
		t.Errorf("head wrong")
	}

	if s.Slice(1, 3).Len() != 2 {
		t.Errorf("slice wrong")
	}

	// Oversized requests clamp instead of panicking.
	if s.Tail(10).Len() != 3 || s.Head(10).Len() != 3 || s.Slice(2, 99).Len() != 1 {
		t.Errorf("clamping wrong")
	}
}

func TestSeriesExtremes(t *testing.T) {
	s := candletest.Make([]candletest.OHLC{
		{Open: 100, High: 200, Low: 50, Close: 150},
		{Open: 150, High: 300, Low: 80, Close: 250},
		{Open: 250, High: 280, Low: 60, Close: 270},
	})
	if !approx(s.HighsMax(), 300) || !approx(s.LowsMin(), 50) {
		t.Errorf("extremes = %v/%v", s.HighsMax(), s.LowsMin())
	}
	if s.HighIdxMax() != 1 || s.LowIdxMin() != 0 {
		t.Errorf("extreme indices = %d/%d", s.HighIdxMax(), s.LowIdxMin())
	}
}

func TestResampleOneMinuteToFive(t *testing.T) {
	data := make([]candletest.OHLC, 10)
	for i := range data {
		v := 100.0 + float64(i)
		data[i] = candletest.OHLC{Open: v, High: v + 2, Low: v - 1, Close: v + 1}
	}
	s := candletest.Make(data)

	resampled := s.Resample(5 * time.Minute)
	// Fixtures start at 12:00 UTC, so ten 1m candles give exactly two 5m buckets.
	if resampled.Len() != 2 {
		t.Fatalf("resampled len = %d, want 2", resampled.Len())
	}
	if !approx(resampled.At(0).Open, 100) {
		t.Errorf("bucket open = %v, want first candle open", resampled.At(0).Open)
	}
	if !approx(resampled.At(0).Close, 105) {
		t.Errorf("bucket close = %v, want fifth candle close", resampled.At(0).Close)
	}
	if !approx(resampled.At(0).High, 106) || !approx(resampled.At(0).Low, 99) {
		t.Errorf("bucket high/low = %v/%v", resampled.At(0).High, resampled.At(0).Low)
	}
	if !approx(resampled.At(0).Volume, 500) {
		t.Errorf("bucket volume = %v, want summed 500", resampled.At(0).Volume)
	}
}

func TestResampleEmpty(t *testing.T) {
	var s candles.Series
	if !s.Resample(5 * time.Minute).IsEmpty() {
		t.Error("resampling empty series should stay empty")
	}
}

func TestFilterByDate(t *testing.T) {
	base := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	s := candles.NewSeries([]candles.Candle{
		{Timestamp: base, Open: 100, High: 105, Low: 95, Close: 102, Volume: 10},
		{Timestamp: base.AddDate(0, 0, 1), Open: 102, High: 110, Low: 100, Close: 108, Volume: 10},
	})
	filtered := s.FilterByDate(2024, time.March, 10)
	if filtered.Len() != 1 || !approx(filtered.At(0).Open, 100) {
		t.Errorf("filter wrong: len=%d", filtered.Len())
	}
}

func TestATR(t *testing.T) {
	data := make([]candletest.OHLC, 20)
	for i := range data {
		v := 100.0 + float64(i)
		data[i] = candletest.OHLC{Open: v, High: v + 3, Low: v - 2, Close: v + 1}
	}
	s := candletest.Make(data)

	atr := s.ATR(14)
	if atr <= 0 {
		t.Fatalf("ATR = %v, want > 0", atr)
	}
	// high-low = 5 dominates both close-relative terms, so TR is 5 every bar.
	if !approx(atr, 5) {
		t.Errorf("ATR = %v, want 5", atr)
	}

	if s.Head(5).ATR(14) != 0 {
		t.Error("short series ATR should be 0")
	}
}

func TestTimeframe(t *testing.T) {
	if candles.M5.Duration() != 5*time.Minute {
		t.Error("M5 duration wrong")
	}
	if candles.H4.Seconds() != 14400 {
		t.Error("H4 seconds wrong")
	}
	tf, ok := candles.ParseTimeframe("15m")
	if !ok || tf != candles.M15 {
		t.Error("parse 15m failed")
	}
	if _, ok := candles.ParseTimeframe("2h"); ok {
		t.Error("2h should not parse")
	}
}
