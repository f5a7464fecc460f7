// Package structure detects swing points, break-of-structure events, and the
// resulting trend classification on a single candle series.
package structure

import (
	"sort"
	"time"

	"ict-trading-bot/internal/candles"
	"ict-trading-bot/internal/market"
)

// SwingPoint is a confirmed swing high or low.
type SwingPoint struct {
	Type      market.SwingType `json:"type"`
	Price     float64          `json:"price"`
	Timestamp time.Time        `json:"timestamp"`
	Broken    bool             `json:"broken"`
}

// BOSEvent records a close beyond a prior swing extreme.
type BOSEvent struct {
	Type      market.BOSType `json:"type"`
	Level     float64        `json:"level"`
	Timestamp time.Time      `json:"timestamp"`
}

// DealingRange is the swing-bounded range with its derived zones.
type DealingRange struct {
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Equilibrium float64 `json:"equilibrium"`
	Premium     float64 `json:"premium"`
	Discount    float64 `json:"discount"`
}

// LiquidityLevels are unbroken swing prices: buy-side sorted high-to-low,
// sell-side sorted low-to-high.
type LiquidityLevels struct {
	BSL []float64
	SSL []float64
}

// Analyzer finds swings and BOS events. One instance per timeframe; Analyze
// replaces all prior state.
type Analyzer struct {
	lookback   int
	SwingHighs []SwingPoint
	SwingLows  []SwingPoint
	BOSEvents  []BOSEvent
	Trend      market.Trend
}

// NewAnalyzer returns an analyzer with the default 5-candle swing window.
func NewAnalyzer() *Analyzer {
	return NewAnalyzerWithLookback(5)
}

func NewAnalyzerWithLookback(lookback int) *Analyzer {
	if lookback <= 0 {
		lookback = 5
	}
	return &Analyzer{lookback: lookback, Trend: market.TrendNeutral}
}

// Analyze runs swing detection, BOS detection and trend classification,
// replacing any previous results, and returns the trend.
func (a *Analyzer) Analyze(series candles.Series) market.Trend {
	a.SwingHighs = a.SwingHighs[:0]
	a.SwingLows = a.SwingLows[:0]
	a.BOSEvents = a.BOSEvents[:0]

	a.findSwings(series)
	a.detectBOS(series)
	a.determineTrend()

	return a.Trend
}

func (a *Analyzer) findSwings(series candles.Series) {
	lb := a.lookback
	n := series.Len()
	if n <= lb*2 {
		return
	}

	cs := series.All()
	for i := lb; i < n-lb; i++ {
		// Ties count as swings: only a strictly higher high disqualifies.
		isHigh := true
		for j := i - lb; j <= i+lb; j++ {
			if cs[j].High > cs[i].High {
				isHigh = false
				break
			}
		}
		if isHigh {
			a.SwingHighs = append(a.SwingHighs, SwingPoint{
				Type:      market.SwingHigh,
				Price:     cs[i].High,
				Timestamp: cs[i].Timestamp,
			})
		}

		isLow := true
		for j := i - lb; j <= i+lb; j++ {
			if cs[j].Low < cs[i].Low {
				isLow = false
				break
			}
		}
		if isLow {
			a.SwingLows = append(a.SwingLows, SwingPoint{
				Type:      market.SwingLow,
				Price:     cs[i].Low,
				Timestamp: cs[i].Timestamp,
			})
		}
	}
}

// detectBOS walks candles in time order. Each candle may break at most the
// single most recent unbroken swing on each side; a swing breaks only once.
func (a *Analyzer) detectBOS(series candles.Series) {
	cs := series.All()
	for i := 1; i < len(cs); i++ {
		close := cs[i].Close
		ts := cs[i].Timestamp

		if sh := latestUnbroken(a.SwingHighs, ts); sh != nil && close > sh.Price {
			sh.Broken = true
			a.BOSEvents = append(a.BOSEvents, BOSEvent{
				Type:      market.BullishBOS,
				Level:     sh.Price,
				Timestamp: ts,
			})
		}

		if sl := latestUnbroken(a.SwingLows, ts); sl != nil && close < sl.Price {
			sl.Broken = true
			a.BOSEvents = append(a.BOSEvents, BOSEvent{
				Type:      market.BearishBOS,
				Level:     sl.Price,
				Timestamp: ts,
			})
		}
	}
}

func latestUnbroken(swings []SwingPoint, before time.Time) *SwingPoint {
	var latest *SwingPoint
	for i := range swings {
		s := &swings[i]
		if s.Broken || !s.Timestamp.Before(before) {
			continue
		}
		if latest == nil || s.Timestamp.After(latest.Timestamp) {
			latest = s
		}
	}
	return latest
}

// determineTrend takes a majority vote among the last 3 BOS events.
func (a *Analyzer) determineTrend() {
	if len(a.BOSEvents) == 0 {
		a.Trend = market.TrendNeutral
		return
	}

	recent := a.BOSEvents
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}

	bullish, bearish := 0, 0
	for _, e := range recent {
		if e.Type == market.BullishBOS {
			bullish++
		} else {
			bearish++
		}
	}

	switch {
	case bullish > bearish:
		a.Trend = market.TrendBullish
	case bearish > bullish:
		a.Trend = market.TrendBearish
	default:
		a.Trend = market.TrendNeutral
	}
}

// DealingRange computes the swing-bounded range, falling back to the full
// series extremes when no swings were found.
func (a *Analyzer) DealingRange(series candles.Series) DealingRange {
	var high, low float64
	switch {
	case len(a.SwingHighs) > 0 && len(a.SwingLows) > 0:
		high = a.SwingHighs[0].Price
		for _, s := range a.SwingHighs[1:] {
			if s.Price > high {
				high = s.Price
			}
		}
		low = a.SwingLows[0].Price
		for _, s := range a.SwingLows[1:] {
			if s.Price < low {
				low = s.Price
			}
		}
	case !series.IsEmpty():
		high = series.HighsMax()
		low = series.LowsMin()
	default:
		return DealingRange{}
	}

	rng := high - low
	return DealingRange{
		High:        high,
		Low:         low,
		Equilibrium: low + rng*0.5,
		Premium:     low + rng*0.75,
		Discount:    low + rng*0.25,
	}
}

// LiquidityLevels returns unbroken swing prices on both sides.
func (a *Analyzer) LiquidityLevels() LiquidityLevels {
	var out LiquidityLevels
	for _, s := range a.SwingHighs {
		if !s.Broken {
			out.BSL = append(out.BSL, s.Price)
		}
	}
	for _, s := range a.SwingLows {
		if !s.Broken {
			out.SSL = append(out.SSL, s.Price)
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(out.BSL)))
	sort.Float64s(out.SSL)
	return out
}
