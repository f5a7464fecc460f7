// Package liquidity clusters swing extremes into sweepable liquidity pools
// and finds external-range targets.
package liquidity

import (
	"math"
	"sort"
	"time"

	"ict-trading-bot/internal/candles"
	"ict-trading-bot/internal/market"
)

// DefaultTolerance treats highs/lows within 0.05% as "equal". Tight for BTC;
// configurable per instrument.
const DefaultTolerance = 0.0005

const minTouches = 2

// PoolType is the side resting stops sit on.
type PoolType string

const (
	BSL PoolType = "BSL" // stops above swing highs
	SSL PoolType = "SSL" // stops below swing lows
)

// Pool is one liquidity level. Swept is derived from later candles crossing
// the level, never mutated separately.
type Pool struct {
	Type       PoolType  `json:"type"`
	Price      float64   `json:"price"`
	Touches    int       `json:"touches"`
	FirstTouch time.Time `json:"first_touch"`
	LastTouch  time.Time `json:"last_touch"`
	Swept      bool      `json:"swept"`
	Strength   float64   `json:"strength"`
}

// Detector finds pools on one series.
type Detector struct {
	swingLookback int
	tolerance     float64
}

// NewDetector uses the given equal-level tolerance; pass 0 for the default.
func NewDetector(tolerance float64) *Detector {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Detector{swingLookback: 5, tolerance: tolerance}
}

// DetectPools returns all pools sorted by strength descending. Clusters of
// ≥2 equal swings become multi-touch pools; the rest become single-touch
// pools at strength 0.3.
func (d *Detector) DetectPools(series candles.Series) []Pool {
	if series.Len() < d.swingLookback*2+1 {
		return nil
	}

	highs := d.findSwings(series, true)
	lows := d.findSwings(series, false)

	pools := d.clusterLevels(highs, BSL, series)
	pools = append(pools, d.clusterLevels(lows, SSL, series)...)

	// Swings that didn't make it into a cluster still hold single stops.
	for _, lv := range highs {
		if d.clustered(pools, BSL, lv.price) {
			continue
		}
		pools = append(pools, Pool{
			Type:       BSL,
			Price:      lv.price,
			Touches:    1,
			FirstTouch: lv.ts,
			LastTouch:  lv.ts,
			Swept:      sweptHigh(series, lv.price, lv.ts),
			Strength:   0.3,
		})
	}
	for _, lv := range lows {
		if d.clustered(pools, SSL, lv.price) {
			continue
		}
		pools = append(pools, Pool{
			Type:       SSL,
			Price:      lv.price,
			Touches:    1,
			FirstTouch: lv.ts,
			LastTouch:  lv.ts,
			Swept:      sweptLow(series, lv.price, lv.ts),
			Strength:   0.3,
		})
	}

	sort.SliceStable(pools, func(i, j int) bool {
		return pools[i].Strength > pools[j].Strength
	})
	return pools
}

// NearestTarget returns the nearest unswept pool on the correct side: BSL
// above price for longs, SSL below for shorts.
func NearestTarget(pools []Pool, price float64, direction market.Direction) (Pool, bool) {
	var best Pool
	found := false
	for _, p := range pools {
		if p.Swept {
			continue
		}
		switch direction {
		case market.Long:
			if p.Type != BSL || p.Price <= price {
				continue
			}
			if !found || p.Price < best.Price {
				best = p
				found = true
			}
		case market.Short:
			if p.Type != SSL || p.Price >= price {
				continue
			}
			if !found || p.Price > best.Price {
				best = p
				found = true
			}
		}
	}
	return best, found
}

type level struct {
	price float64
	ts    time.Time
}

func (d *Detector) findSwings(series candles.Series, high bool) []level {
	lb := d.swingLookback
	n := series.Len()
	cs := series.All()
	var out []level

	for i := lb; i < n-lb; i++ {
		isSwing := true
		for j := i - lb; j <= i+lb; j++ {
			if j == i {
				continue
			}
			if high && cs[j].High > cs[i].High {
				isSwing = false
				break
			}
			if !high && cs[j].Low < cs[i].Low {
				isSwing = false
				break
			}
		}
		if isSwing {
			if high {
				out = append(out, level{cs[i].High, cs[i].Timestamp})
			} else {
				out = append(out, level{cs[i].Low, cs[i].Timestamp})
			}
		}
	}
	return out
}

// clusterLevels greedily groups levels within tolerance of the cluster's
// running average.
func (d *Detector) clusterLevels(levels []level, pt PoolType, series candles.Series) []Pool {
	if len(levels) < minTouches {
		return nil
	}

	var pools []Pool
	used := make([]bool, len(levels))

	for i := range levels {
		if used[i] {
			continue
		}
		prices := []float64{levels[i].price}
		times := []time.Time{levels[i].ts}
		used[i] = true

		for j := i + 1; j < len(levels); j++ {
			if used[j] {
				continue
			}
			avg := mean(prices)
			if math.Abs(levels[j].price-avg)/avg < d.tolerance {
				prices = append(prices, levels[j].price)
				times = append(times, levels[j].ts)
				used[j] = true
			}
		}

		if len(prices) < minTouches {
			continue
		}

		avg := mean(prices)
		first, last := times[0], times[0]
		for _, ts := range times[1:] {
			if ts.Before(first) {
				first = ts
			}
			if ts.After(last) {
				last = ts
			}
		}

		swept := false
		if pt == BSL {
			swept = sweptHigh(series, avg, last)
		} else {
			swept = sweptLow(series, avg, last)
		}

		pools = append(pools, Pool{
			Type:       pt,
			Price:      round2(avg),
			Touches:    len(prices),
			FirstTouch: first,
			LastTouch:  last,
			Swept:      swept,
			Strength:   math.Min(0.5+0.15*float64(len(prices)-1), 1),
		})
	}
	return pools
}

// clustered checks whether a price already belongs to a pool of this side,
// using a doubled tolerance to absorb rounding of the cluster average.
func (d *Detector) clustered(pools []Pool, pt PoolType, price float64) bool {
	for _, p := range pools {
		if p.Type == pt && math.Abs(p.Price-price)/price < d.tolerance*2 {
			return true
		}
	}
	return false
}

func sweptHigh(series candles.Series, lvl float64, after time.Time) bool {
	for _, c := range series.All() {
		if c.Timestamp.After(after) && c.High > lvl {
			return true
		}
	}
	return false
}

func sweptLow(series candles.Series, lvl float64, after time.Time) bool {
	for _, c := range series.All() {
		if c.Timestamp.After(after) && c.Low < lvl {
			return true
		}
	}
	return false
}

func mean(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
