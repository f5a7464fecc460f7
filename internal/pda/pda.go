// Package pda detects price-delivery arrays: order blocks, fair value gaps,
// breaker blocks, and rejection blocks.
package pda

import (
	"math"
	"time"

	"ict-trading-bot/internal/candles"
	"ict-trading-bot/internal/market"
)

// Type identifies the kind of price-delivery array.
type Type string

const (
	OrderBlock     Type = "OB"
	FairValueGap   Type = "FVG"
	BreakerBlock   Type = "BRK"
	RejectionBlock Type = "RB"
)

// PDA is one detected array. Created fresh on every detection pass.
type PDA struct {
	Type      Type              `json:"type"`
	Direction market.Trend      `json:"direction"` // bullish or bearish, never neutral
	Zone      market.Zone       `json:"zone"`
	High      float64           `json:"high"`
	Low       float64           `json:"low"`
	Midpoint  float64           `json:"midpoint"`
	Timestamp time.Time         `json:"timestamp"`
	Timeframe candles.Timeframe `json:"timeframe"`
	Strength  float64           `json:"strength"`
}

// Config bounds the individual sub-scans.
type Config struct {
	FVGMinGapPct    float64
	OBLookback      int
	BreakerLookback int
}

// DefaultConfig matches the tuned values for BTC-USD.
func DefaultConfig() Config {
	return Config{
		FVGMinGapPct:    0.0005,
		OBLookback:      20,
		BreakerLookback: 30,
	}
}

// Detector runs the four sub-scans over one series. Callers must not assume
// the detection order of the result reflects price-time order.
type Detector struct {
	cfg      Config
	Detected []PDA
}

func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// DetectAll replaces any prior results with a fresh scan of the series.
func (d *Detector) DetectAll(series candles.Series, tf candles.Timeframe) []PDA {
	d.Detected = d.Detected[:0]
	eq := equilibrium(series)

	d.detectOrderBlocks(series, tf, eq)
	d.detectFVGs(series, tf, eq)
	d.detectBreakers(series, tf, eq)
	d.detectRejectionBlocks(series, tf, eq)

	return d.Detected
}

// ByType filters the last scan's results.
func (d *Detector) ByType(t Type) []PDA {
	var out []PDA
	for _, p := range d.Detected {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

// ByZone filters the last scan's results.
func (d *Detector) ByZone(z market.Zone) []PDA {
	var out []PDA
	for _, p := range d.Detected {
		if p.Zone == z {
			out = append(out, p)
		}
	}
	return out
}

// Nearest returns the closest array on the correct side of price for the
// given direction: below price for bullish, above for bearish.
func (d *Detector) Nearest(price float64, direction market.Trend) (PDA, bool) {
	var best PDA
	bestDist := math.Inf(1)
	found := false

	for _, p := range d.Detected {
		if p.Direction != direction {
			continue
		}
		var dist float64
		switch direction {
		case market.TrendBullish:
			if p.High > price {
				continue
			}
			dist = price - p.High
		case market.TrendBearish:
			if p.Low < price {
				continue
			}
			dist = p.Low - price
		default:
			return PDA{}, false
		}
		if dist < bestDist {
			bestDist = dist
			best = p
			found = true
		}
	}
	return best, found
}

func equilibrium(series candles.Series) float64 {
	return (series.HighsMax() + series.LowsMin()) / 2
}

func classifyZone(level, eq float64) market.Zone {
	if level > eq {
		return market.ZonePremium
	}
	return market.ZoneDiscount
}

// detectOrderBlocks scans backward within the lookback for the last opposing
// candle before a displacement through its extreme.
func (d *Detector) detectOrderBlocks(series candles.Series, tf candles.Timeframe, eq float64) {
	n := series.Len()
	lookback := d.cfg.OBLookback
	if m := n - 2; lookback > m {
		lookback = m
	}

	for i := 2; i <= lookback+1; i++ {
		idx := n - i
		if idx < 1 {
			break
		}

		curr := series.At(idx)
		prev := series.At(idx - 1)

		// Bullish OB: down candle immediately before an up candle that
		// closes above its high.
		if prev.IsBearish() && curr.IsBullish() && curr.Close > prev.High {
			mid := (prev.High + prev.Low) / 2
			d.Detected = append(d.Detected, PDA{
				Type:      OrderBlock,
				Direction: market.TrendBullish,
				Zone:      classifyZone(mid, eq),
				High:      prev.High,
				Low:       prev.Low,
				Midpoint:  mid,
				Timestamp: prev.Timestamp,
				Timeframe: tf,
				Strength:  math.Min(math.Abs((curr.Close-prev.High)/prev.High), 1),
			})
		}

		if prev.IsBullish() && curr.IsBearish() && curr.Close < prev.Low {
			mid := (prev.High + prev.Low) / 2
			d.Detected = append(d.Detected, PDA{
				Type:      OrderBlock,
				Direction: market.TrendBearish,
				Zone:      classifyZone(mid, eq),
				High:      prev.High,
				Low:       prev.Low,
				Midpoint:  mid,
				Timestamp: prev.Timestamp,
				Timeframe: tf,
				Strength:  math.Min(math.Abs((prev.Low-curr.Close)/prev.Low), 1),
			})
		}
	}
}

// detectFVGs checks every candle triple for a gap between the first candle's
// extreme and the third candle's opposite extreme.
func (d *Detector) detectFVGs(series candles.Series, tf candles.Timeframe, eq float64) {
	for i := 2; i < series.Len(); i++ {
		c1 := series.At(i - 2)
		c2 := series.At(i - 1)
		c3 := series.At(i)

		if gapUp := c3.Low - c1.High; gapUp > 0 {
			gapPct := gapUp / c1.High
			if gapPct >= d.cfg.FVGMinGapPct {
				mid := (c1.High + c3.Low) / 2
				d.Detected = append(d.Detected, PDA{
					Type:      FairValueGap,
					Direction: market.TrendBullish,
					Zone:      classifyZone(mid, eq),
					High:      c3.Low,
					Low:       c1.High,
					Midpoint:  mid,
					Timestamp: c2.Timestamp,
					Timeframe: tf,
					Strength:  math.Min(gapPct*100, 1),
				})
			}
		}

		if gapDown := c1.Low - c3.High; gapDown > 0 {
			gapPct := gapDown / c1.Low
			if gapPct >= d.cfg.FVGMinGapPct {
				mid := (c3.High + c1.Low) / 2
				d.Detected = append(d.Detected, PDA{
					Type:      FairValueGap,
					Direction: market.TrendBearish,
					Zone:      classifyZone(mid, eq),
					High:      c1.Low,
					Low:       c3.High,
					Midpoint:  mid,
					Timestamp: c2.Timestamp,
					Timeframe: tf,
					Strength:  math.Min(gapPct*100, 1),
				})
			}
		}
	}
}

// detectBreakers looks for order blocks that were swept through and then
// reclaimed by a close beyond the opposite extreme.
func (d *Detector) detectBreakers(series candles.Series, tf candles.Timeframe, eq float64) {
	n := series.Len()
	lookback := d.cfg.BreakerLookback
	if m := n - 3; lookback > m {
		lookback = m
	}

	for i := 3; i <= lookback+2; i++ {
		idx := n - i
		if idx < 1 {
			break
		}

		c := series.At(idx)
		subsequent := series.Slice(idx+1, n)

		if c.IsBullish() && subsequent.AnyLowBelow(c.Low) && subsequent.AnyCloseAbove(c.High) {
			mid := (c.High + c.Low) / 2
			d.Detected = append(d.Detected, PDA{
				Type:      BreakerBlock,
				Direction: market.TrendBullish,
				Zone:      classifyZone(mid, eq),
				High:      c.High,
				Low:       c.Low,
				Midpoint:  mid,
				Timestamp: c.Timestamp,
				Timeframe: tf,
				Strength:  0.7,
			})
		}

		if c.IsBearish() && subsequent.AnyHighAbove(c.High) && subsequent.AnyCloseBelow(c.Low) {
			mid := (c.High + c.Low) / 2
			d.Detected = append(d.Detected, PDA{
				Type:      BreakerBlock,
				Direction: market.TrendBearish,
				Zone:      classifyZone(mid, eq),
				High:      c.High,
				Low:       c.Low,
				Midpoint:  mid,
				Timestamp: c.Timestamp,
				Timeframe: tf,
				Strength:  0.7,
			})
		}
	}
}

// detectRejectionBlocks flags long-wick candles; the wick zone is the array.
func (d *Detector) detectRejectionBlocks(series candles.Series, tf candles.Timeframe, eq float64) {
	for _, c := range series.All() {
		total := c.Range()
		if total == 0 {
			continue
		}
		body := c.Body()

		if c.LowerWick()/total > 0.6 && body/total < 0.3 {
			zoneHigh := c.BodyBottom()
			mid := (zoneHigh + c.Low) / 2
			d.Detected = append(d.Detected, PDA{
				Type:      RejectionBlock,
				Direction: market.TrendBullish,
				Zone:      classifyZone(mid, eq),
				High:      zoneHigh,
				Low:       c.Low,
				Midpoint:  mid,
				Timestamp: c.Timestamp,
				Timeframe: tf,
				Strength:  c.LowerWick() / total,
			})
		}

		if c.UpperWick()/total > 0.6 && body/total < 0.3 {
			zoneLow := c.BodyTop()
			mid := (c.High + zoneLow) / 2
			d.Detected = append(d.Detected, PDA{
				Type:      RejectionBlock,
				Direction: market.TrendBearish,
				Zone:      classifyZone(mid, eq),
				High:      c.High,
				Low:       zoneLow,
				Midpoint:  mid,
				Timestamp: c.Timestamp,
				Timeframe: tf,
				Strength:  c.UpperWick() / total,
			})
		}
	}
}
