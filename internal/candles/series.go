package candles

import (
	"math"
	"time"
)

// Series is an ordered, time-ascending sequence of candles. Helpers never
// mutate the receiver; resampling and slicing return new series.
type Series struct {
	candles []Candle
}

// NewSeries wraps a candle slice. Candles must already be sorted oldest-first.
func NewSeries(cs []Candle) Series {
	return Series{candles: cs}
}

func (s Series) Len() int {
	return len(s.candles)
}

func (s Series) IsEmpty() bool {
	return len(s.candles) == 0
}

// At returns the candle at index i. Panics on out-of-range like a slice.
func (s Series) At(i int) Candle {
	return s.candles[i]
}

// Last returns the most recent candle, or false when empty.
func (s Series) Last() (Candle, bool) {
	if len(s.candles) == 0 {
		return Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// First returns the oldest candle, or false when empty.
func (s Series) First() (Candle, bool) {
	if len(s.candles) == 0 {
		return Candle{}, false
	}
	return s.candles[0], true
}

// Tail returns the most recent n candles (fewer if the series is shorter).
func (s Series) Tail(n int) Series {
	start := len(s.candles) - n
	if start < 0 {
		start = 0
	}
	return NewSeries(s.candles[start:])
}

// Head returns the oldest n candles.
func (s Series) Head(n int) Series {
	if n > len(s.candles) {
		n = len(s.candles)
	}
	return NewSeries(s.candles[:n])
}

// Slice returns candles in [start, end), clamped to the series bounds.
func (s Series) Slice(start, end int) Series {
	if start > len(s.candles) {
		start = len(s.candles)
	}
	if end > len(s.candles) {
		end = len(s.candles)
	}
	return NewSeries(s.candles[start:end])
}

// All exposes the underlying slice for range loops. Callers must not modify it.
func (s Series) All() []Candle {
	return s.candles
}

// Append returns a new series with c added at the end.
func (s Series) Append(c Candle) Series {
	out := make([]Candle, len(s.candles), len(s.candles)+1)
	copy(out, s.candles)
	return NewSeries(append(out, c))
}

// HighsMax is the maximum high across the series (-Inf when empty).
func (s Series) HighsMax() float64 {
	max := math.Inf(-1)
	for _, c := range s.candles {
		if c.High > max {
			max = c.High
		}
	}
	return max
}

// LowsMin is the minimum low across the series (+Inf when empty).
func (s Series) LowsMin() float64 {
	min := math.Inf(1)
	for _, c := range s.candles {
		if c.Low < min {
			min = c.Low
		}
	}
	return min
}

// HighIdxMax returns the index of the highest high, or -1 when empty.
func (s Series) HighIdxMax() int {
	idx := -1
	max := math.Inf(-1)
	for i, c := range s.candles {
		if c.High > max {
			max = c.High
			idx = i
		}
	}
	return idx
}

// LowIdxMin returns the index of the lowest low, or -1 when empty.
func (s Series) LowIdxMin() int {
	idx := -1
	min := math.Inf(1)
	for i, c := range s.candles {
		if c.Low < min {
			min = c.Low
			idx = i
		}
	}
	return idx
}

func (s Series) AnyLowBelow(price float64) bool {
	for _, c := range s.candles {
		if c.Low < price {
			return true
		}
	}
	return false
}

func (s Series) AnyHighAbove(price float64) bool {
	for _, c := range s.candles {
		if c.High > price {
			return true
		}
	}
	return false
}

func (s Series) AnyCloseAbove(price float64) bool {
	for _, c := range s.candles {
		if c.Close > price {
			return true
		}
	}
	return false
}

func (s Series) AnyCloseBelow(price float64) bool {
	for _, c := range s.candles {
		if c.Close < price {
			return true
		}
	}
	return false
}

// Resample aggregates candles into fixed buckets aligned to the epoch:
// open = first, close = last, high = max, low = min, volume = sum.
func (s Series) Resample(bucket time.Duration) Series {
	if len(s.candles) == 0 {
		return Series{}
	}
	bucketSecs := int64(bucket.Seconds())
	if bucketSecs <= 0 {
		return s
	}

	var out []Candle
	for _, c := range s.candles {
		ts := c.Timestamp.Unix()
		bucketTS := time.Unix(ts-ts%bucketSecs, 0).UTC()

		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(bucketTS) {
			last := &out[n-1]
			if c.High > last.High {
				last.High = c.High
			}
			if c.Low < last.Low {
				last.Low = c.Low
			}
			last.Close = c.Close
			last.Volume += c.Volume
			continue
		}

		out = append(out, Candle{
			Timestamp: bucketTS,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		})
	}
	return NewSeries(out)
}

// FilterByDate keeps candles whose UTC date matches the given date.
func (s Series) FilterByDate(year int, month time.Month, day int) Series {
	var out []Candle
	for _, c := range s.candles {
		y, m, d := c.Timestamp.UTC().Date()
		if y == year && m == month && d == day {
			out = append(out, c)
		}
	}
	return NewSeries(out)
}

// Since keeps candles at or after ts.
func (s Series) Since(ts time.Time) Series {
	var out []Candle
	for _, c := range s.candles {
		if !c.Timestamp.Before(ts) {
			out = append(out, c)
		}
	}
	return NewSeries(out)
}

// ATR computes the average true range over the last `period` candles.
// Returns 0 when the series is too short.
func (s Series) ATR(period int) float64 {
	if len(s.candles) < period+1 || period <= 0 {
		return 0
	}
	sum := 0.0
	start := len(s.candles) - period
	for i := start; i < len(s.candles); i++ {
		c := s.candles[i]
		prev := s.candles[i-1]
		tr := c.High - c.Low
		if hc := math.Abs(c.High - prev.Close); hc > tr {
			tr = hc
		}
		if lc := math.Abs(c.Low - prev.Close); lc > tr {
			tr = lc
		}
		sum += tr
	}
	return sum / float64(period)
}
