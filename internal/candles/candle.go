package candles

import (
	"math"
	"time"
)

// Candle is a single OHLCV price bar. Immutable once created.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Body is the absolute open-to-close distance.
func (c Candle) Body() float64 {
	return math.Abs(c.Close - c.Open)
}

// Range is the full high-to-low extent.
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// UpperWick is the distance from body top to the high.
func (c Candle) UpperWick() float64 {
	return c.High - math.Max(c.Close, c.Open)
}

// LowerWick is the distance from the low to body bottom.
func (c Candle) LowerWick() float64 {
	return math.Min(c.Close, c.Open) - c.Low
}

func (c Candle) IsBullish() bool {
	return c.Close > c.Open
}

func (c Candle) IsBearish() bool {
	return c.Close < c.Open
}

func (c Candle) BodyTop() float64 {
	return math.Max(c.Close, c.Open)
}

func (c Candle) BodyBottom() float64 {
	return math.Min(c.Close, c.Open)
}
