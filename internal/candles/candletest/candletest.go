// Package candletest provides candle fixtures shared by tests across the
// detector and trading packages.
package candletest

import (
	"time"

	"ict-trading-bot/internal/candles"
)

// Base is the timestamp of the first generated candle.
var Base = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

// OHLC is one bar of fixture data.
type OHLC struct {
	Open, High, Low, Close float64
}

// Make builds a series from OHLC tuples with auto-incrementing one-minute
// timestamps and a fixed volume.
func Make(data []OHLC) candles.Series {
	cs := make([]candles.Candle, len(data))
	for i, d := range data {
		cs[i] = candles.Candle{
			Timestamp: Base.Add(time.Duration(i) * time.Minute),
			Open:      d.Open,
			High:      d.High,
			Low:       d.Low,
			Close:     d.Close,
			Volume:    100,
		}
	}
	return candles.NewSeries(cs)
}

// BullishTrend builds n rising candles starting from start.
func BullishTrend(n int, start float64) candles.Series {
	cs := make([]candles.Candle, n)
	for i := 0; i < n; i++ {
		open := start + float64(i)*10
		close := open + 8
		cs[i] = candles.Candle{
			Timestamp: Base.Add(time.Duration(i) * time.Minute),
			Open:      open,
			High:      close + 2,
			Low:       open - 1,
			Close:     close,
			Volume:    100,
		}
	}
	return candles.NewSeries(cs)
}

// BearishTrend builds n falling candles starting from start.
func BearishTrend(n int, start float64) candles.Series {
	cs := make([]candles.Candle, n)
	for i := 0; i < n; i++ {
		open := start - float64(i)*10
		close := open - 8
		cs[i] = candles.Candle{
			Timestamp: Base.Add(time.Duration(i) * time.Minute),
			Open:      open,
			High:      open + 1,
			Low:       close - 2,
			Close:     close,
			Volume:    100,
		}
	}
	return candles.NewSeries(cs)
}

// Staircase builds a wave pattern that trends net upward while leaving clear
// swing points: up for 8 candles then partially down for 6, repeating.
func Staircase(n int, start, step float64, interval time.Duration) candles.Series {
	cs := make([]candles.Candle, n)
	for i := 0; i < n; i++ {
		wave := i / 14
		pos := i % 14
		waveBase := start + float64(wave)*step*8

		var price float64
		if pos < 8 {
			price = waveBase + float64(pos)*step
		} else {
			peak := waveBase + 8*step
			price = peak - float64(pos-8)*step*0.5
		}

		cs[i] = candles.Candle{
			Timestamp: Base.Add(time.Duration(i) * interval),
			Open:      price,
			High:      price + step*0.5,
			Low:       price - step*0.3,
			Close:     price + step*0.2,
			Volume:    100,
		}
	}
	return candles.NewSeries(cs)
}
