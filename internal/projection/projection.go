// Package projection computes standard-deviation profit targets from a
// manipulation leg.
package projection

import (
	"fmt"
	"math"
	"sort"

	"ict-trading-bot/internal/candles"
	"ict-trading-bot/internal/market"
	"ict-trading-bot/internal/pda"
)

// DeviationLevels are the fixed multiples projected from the leg.
var DeviationLevels = []float64{-1.0, -2.0, -4.0, -4.5}

// DefaultConfluenceTolerance is the PDA-confluence window as a fraction of
// the leg range.
const DefaultConfluenceTolerance = 0.15

// Level is one projected deviation target.
type Level struct {
	Level         float64  `json:"level"`
	Price         float64  `json:"price"`
	Label         string   `json:"label"`
	PDAConfluence bool     `json:"has_pda_confluence"`
	ConfluencePDA *pda.PDA `json:"-"`
}

// Projection is the full ladder for one leg. A degenerate leg (high ≤ low)
// yields empty levels.
type Projection struct {
	Direction        market.Trend `json:"direction"`
	AnchorHigh       float64      `json:"anchor_high"`
	AnchorLow        float64      `json:"anchor_low"`
	RangeSize        float64      `json:"range_size"`
	Levels           []Level      `json:"levels"`
	RecommendedTP    float64      `json:"recommended_tp"`
	RecommendedLabel string       `json:"recommended_label"`
}

// ConfluenceZone marks two projected levels from different legs landing close
// together.
type ConfluenceZone struct {
	Price    float64
	Levels   []float64
	Strength string
}

// Projector builds projections; it keeps a history of everything projected
// since construction.
type Projector struct {
	tolerance   float64
	Projections []Projection
}

// NewProjector uses the given confluence tolerance; pass 0 for the default.
func NewProjector(tolerance float64) *Projector {
	if tolerance <= 0 {
		tolerance = DefaultConfluenceTolerance
	}
	return &Projector{tolerance: tolerance}
}

// Project computes the deviation ladder for the manipulation leg. When the
// anchors are not supplied they are auto-detected from the most recent ~80
// bars. PDAs, when given, are checked for level confluence.
func (p *Projector) Project(series candles.Series, direction market.Trend, pdas []pda.PDA, anchorHigh, anchorLow float64) Projection {
	manipHigh, manipLow := anchorHigh, anchorLow
	if manipHigh == 0 && manipLow == 0 {
		manipHigh, manipLow = p.findManipulationLeg(series, direction)
	}

	if manipHigh <= manipLow {
		return Projection{Direction: direction}
	}

	rangeSize := manipHigh - manipLow

	levels := make([]Level, 0, len(DeviationLevels))
	for _, dev := range DeviationLevels {
		var price float64
		switch direction {
		case market.TrendBullish:
			price = manipHigh + math.Abs(dev)*rangeSize
		case market.TrendBearish:
			price = manipLow - math.Abs(dev)*rangeSize
		default:
			price = manipHigh
		}
		levels = append(levels, Level{
			Level: dev,
			Price: round2(price),
			Label: levelLabel(dev),
		})
	}

	tolerance := rangeSize * p.tolerance
	for i := range levels {
		for j := range pdas {
			if math.Abs(pdas[j].Midpoint-levels[i].Price) <= tolerance {
				levels[i].PDAConfluence = true
				levels[i].ConfluencePDA = &pdas[j]
				break
			}
		}
	}

	recommended := pickRecommendedTP(levels, direction, series)

	proj := Projection{
		Direction:        direction,
		AnchorHigh:       manipHigh,
		AnchorLow:        manipLow,
		RangeSize:        round2(rangeSize),
		Levels:           levels,
		RecommendedTP:    recommended.Price,
		RecommendedLabel: recommended.Label,
	}
	p.Projections = append(p.Projections, proj)
	return proj
}

// ConfluenceZones finds pairs of adjacent levels across projections whose
// prices sit within tolerance of each other.
func (p *Projector) ConfluenceZones(projections []Projection) []ConfluenceZone {
	type levelInfo struct {
		price     float64
		level     float64
		rangeSize float64
	}
	var all []levelInfo
	for _, proj := range projections {
		for _, lvl := range proj.Levels {
			all = append(all, levelInfo{lvl.Price, lvl.Level, proj.RangeSize})
		}
	}
	if len(all) < 2 {
		return nil
	}

	sort.Slice(all, func(i, j int) bool { return all[i].price < all[j].price })

	var zones []ConfluenceZone
	for i := 0; i < len(all)-1; i++ {
		a, b := all[i], all[i+1]
		avgRange := (a.rangeSize + b.rangeSize) / 2
		if math.Abs(a.price-b.price) <= avgRange*p.tolerance {
			strength := "moderate"
			if a.level == -4.0 || b.level == -4.0 {
				strength = "high"
			}
			zones = append(zones, ConfluenceZone{
				Price:    round2((a.price + b.price) / 2),
				Levels:   []float64{a.level, b.level},
				Strength: strength,
			})
		}
	}
	return zones
}

// findManipulationLeg locates the most extreme point in the recent window
// and the opposite extreme of the 15 bars leading into it.
func (p *Projector) findManipulationLeg(series candles.Series, direction market.Trend) (high, low float64) {
	if series.Len() < 10 {
		return series.HighsMax(), series.LowsMin()
	}

	lookback := 80
	if lookback > series.Len() {
		lookback = series.Len()
	}
	recent := series.Tail(lookback)

	switch direction {
	case market.TrendBullish:
		lowPos := recent.LowIdxMin()
		start := lowPos - 15
		if start < 0 {
			start = 0
		}
		preSweep := recent.Slice(start, lowPos+1)
		return preSweep.HighsMax(), recent.At(lowPos).Low
	case market.TrendBearish:
		highPos := recent.HighIdxMax()
		start := highPos - 15
		if start < 0 {
			start = 0
		}
		preSweep := recent.Slice(start, highPos+1)
		return recent.At(highPos).High, preSweep.LowsMin()
	}
	return series.HighsMax(), series.LowsMin()
}

// pickRecommendedTP prefers the farthest level, jumping straight to -4.5
// when price has already passed -2.
func pickRecommendedTP(levels []Level, direction market.Trend, series candles.Series) Level {
	current := 0.0
	if last, ok := series.Last(); ok {
		current = last.Close
	}

	find := func(dev float64) *Level {
		for i := range levels {
			if levels[i].Level == dev {
				return &levels[i]
			}
		}
		return nil
	}

	sd2, sd4, sd45 := find(-2.0), find(-4.0), find(-4.5)

	if sd2 != nil {
		past := (direction == market.TrendBullish && current > sd2.Price) ||
			(direction == market.TrendBearish && current < sd2.Price)
		if past && sd45 != nil {
			return *sd45
		}
	}
	if sd45 != nil {
		return *sd45
	}
	if sd4 != nil {
		return *sd4
	}
	if sd2 != nil {
		return *sd2
	}
	return levels[0]
}

func levelLabel(dev float64) string {
	switch dev {
	case -1.0:
		return "TP1 (-1 SD) 50%"
	case -2.0:
		return "TP2 (-2 SD) 16.7%"
	case -4.0:
		return "TP3 (-4 SD) 16.7%"
	case -4.5:
		return "TP4 (-4.5 SD) 16.7%"
	}
	return fmt.Sprintf("SD %g", dev)
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
