// Package cisd confirms a change in the state of delivery: a candle whose
// body decisively closes through a breaker array.
package cisd

import (
	"math"
	"time"

	"ict-trading-bot/internal/candles"
	"ict-trading-bot/internal/market"
	"ict-trading-bot/internal/pda"
)

// Confirmation records one breaker decisively broken by a later candle.
type Confirmation struct {
	Direction  market.Trend `json:"direction"`
	Breaker    pda.PDA      `json:"breaker"`
	Candle     time.Time    `json:"confirmation_candle"`
	ClosePrice float64      `json:"close_price"`
	Strength   float64      `json:"strength"`
}

// Detector checks breaker arrays against the last candles of a confirmation
// series. One confirmation at most per breaker.
type Detector struct {
	Confirmed []Confirmation
}

func NewDetector() *Detector {
	return &Detector{}
}

// Check scans the last 5 candles for each breaker. The first matching candle
// wins; its close must strictly pass the breaker's opposite edge and its
// body must match the breaker direction.
func (d *Detector) Check(series candles.Series, breakers []pda.PDA) []Confirmation {
	d.Confirmed = d.Confirmed[:0]

	if len(breakers) == 0 || series.IsEmpty() {
		return d.Confirmed
	}

	latest := series.Tail(5)

	for _, brk := range breakers {
		for _, c := range latest.All() {
			if conf, ok := confirm(brk, c); ok {
				d.Confirmed = append(d.Confirmed, conf)
				break
			}
		}
	}

	return d.Confirmed
}

func confirm(brk pda.PDA, c candles.Candle) (Confirmation, bool) {
	rng := brk.High - brk.Low + 0.01
	switch brk.Direction {
	case market.TrendBullish:
		if c.Close > brk.High && c.IsBullish() {
			return Confirmation{
				Direction:  market.TrendBullish,
				Breaker:    brk,
				Candle:     c.Timestamp,
				ClosePrice: c.Close,
				Strength:   math.Min((c.Close-brk.High)/rng, 1),
			}, true
		}
	case market.TrendBearish:
		if c.Close < brk.Low && c.IsBearish() {
			return Confirmation{
				Direction:  market.TrendBearish,
				Breaker:    brk,
				Candle:     c.Timestamp,
				ClosePrice: c.Close,
				Strength:   math.Min((brk.Low-c.Close)/rng, 1),
			}, true
		}
	}
	return Confirmation{}, false
}

// HasBullish reports whether any bullish confirmation was found.
func (d *Detector) HasBullish() bool {
	for _, c := range d.Confirmed {
		if c.Direction == market.TrendBullish {
			return true
		}
	}
	return false
}

// HasBearish reports whether any bearish confirmation was found.
func (d *Detector) HasBearish() bool {
	for _, c := range d.Confirmed {
		if c.Direction == market.TrendBearish {
			return true
		}
	}
	return false
}

// Strongest returns the highest-strength confirmation, or false when none.
func (d *Detector) Strongest() (Confirmation, bool) {
	if len(d.Confirmed) == 0 {
		return Confirmation{}, false
	}
	best := d.Confirmed[0]
	for _, c := range d.Confirmed[1:] {
		if c.Strength > best.Strength {
			best = c
		}
	}
	return best, true
}
