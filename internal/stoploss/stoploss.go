// Package stoploss places stops behind protected swings, falling back to
// an ATR buffer when no qualified swing exists. A swing is protected when
// it swept prior liquidity (or tapped a PDA) and price closed back through
// the sweep range shortly after.
package stoploss

import (
	"fmt"
	"math"
	"sort"
	"time"

	"ict-trading-bot/internal/candles"
	"ict-trading-bot/internal/market"
	"ict-trading-bot/internal/pda"
)

const (
	maxWickRatioForBody = 0.4
	minRRThreshold      = 1.5
)

// ProtectedSwing is a swing point that qualified for stop placement.
type ProtectedSwing struct {
	SwingType      market.SwingType `json:"swing_type"`
	Extreme        float64          `json:"extreme"`
	BodyLevel      float64          `json:"body_level"`
	Timestamp      time.Time        `json:"timestamp"`
	SweepConfirmed bool             `json:"sweep_confirmed"`
	CloseConfirmed bool             `json:"close_confirmed"`
	Strength       float64          `json:"strength"`
	CandleCount    int              `json:"candle_count"`
}

// StopLossLevel is a concrete stop recommendation.
type StopLossLevel struct {
	Price          float64         `json:"price"`
	Mode           market.StopMode `json:"mode"`
	ProtectedSwing ProtectedSwing  `json:"protected_swing"`
	RiskDistance   float64         `json:"risk_distance"`
	RiskPercent    float64         `json:"risk_percent"`
	Reason         string          `json:"reason"`
}

type rawSwing struct {
	index     int
	timestamp time.Time
	price     float64
	close     float64
	open      float64
}

// Engine finds protected swings and derives stop levels from them.
type Engine struct {
	swingLookback   int
	ProtectedSwings []ProtectedSwing
}

// NewEngine returns an engine with the default lookback of 3.
func NewEngine() *Engine {
	return NewEngineWithLookback(3)
}

func NewEngineWithLookback(lookback int) *Engine {
	return &Engine{swingLookback: lookback}
}

// FindProtectedSwings scans the series for swings that swept liquidity or a
// PDA and were followed by a confirming close. Results are sorted newest
// first and cached on the engine.
func (e *Engine) FindProtectedSwings(series candles.Series, pdas []pda.PDA) []ProtectedSwing {
	e.ProtectedSwings = e.ProtectedSwings[:0]
	if series.Len() < e.swingLookback+2 {
		return e.ProtectedSwings
	}

	highs, lows := e.findRawSwings(series)

	for _, sh := range highs {
		if ps, ok := e.validateProtectedSwing(series, sh, market.SwingHigh, pdas); ok {
			e.ProtectedSwings = append(e.ProtectedSwings, ps)
		}
	}
	for _, sl := range lows {
		if ps, ok := e.validateProtectedSwing(series, sl, market.SwingLow, pdas); ok {
			e.ProtectedSwings = append(e.ProtectedSwings, ps)
		}
	}

	sort.Slice(e.ProtectedSwings, func(i, j int) bool {
		return e.ProtectedSwings[i].Timestamp.After(e.ProtectedSwings[j].Timestamp)
	})

	return e.ProtectedSwings
}

// GetStopLoss picks a stop for the given entry. Preference order: swing wick
// when R:R clears the threshold, swing body when the candle shape allows it,
// a tighter continuation swing, then the wick regardless of R:R. With no
// protected swing at all it falls back to an ATR-based stop.
func (e *Engine) GetStopLoss(entryPrice float64, direction market.Direction, takeProfit float64, series candles.Series, pdas []pda.PDA) StopLossLevel {
	if len(e.ProtectedSwings) == 0 {
		e.FindProtectedSwings(series, pdas)
	}

	swing, ok := e.nearestProtectedSwing(entryPrice, direction)
	if !ok {
		return e.fallbackStop(entryPrice, direction, series)
	}

	rewardDistance := abs(takeProfit - entryPrice)

	// Mode 1: wick.
	wickStop := swing.Extreme
	wickDistance := abs(entryPrice - wickStop)
	wickRR := 0.0
	if wickDistance > 0 {
		wickRR = rewardDistance / wickDistance
	}
	if wickRR >= minRRThreshold {
		return StopLossLevel{
			Price:          round2(wickStop),
			Mode:           market.StopWick,
			ProtectedSwing: swing,
			RiskDistance:   round2(wickDistance),
			RiskPercent:    round3(wickDistance / entryPrice * 100),
			Reason:         fmt.Sprintf("Protected swing %s (wick) @ %.2f | R:R %.1f", swing.SwingType, wickStop, wickRR),
		}
	}

	// Mode 2: body.
	bodyStop := swing.BodyLevel
	bodyDistance := abs(entryPrice - bodyStop)
	bodyRR := 0.0
	if bodyDistance > 0 {
		bodyRR = rewardDistance / bodyDistance
	}
	if e.isBodyModeSafe(swing, series) && bodyRR >= minRRThreshold {
		return StopLossLevel{
			Price:          round2(bodyStop),
			Mode:           market.StopBody,
			ProtectedSwing: swing,
			RiskDistance:   round2(bodyDistance),
			RiskPercent:    round3(bodyDistance / entryPrice * 100),
			Reason:         fmt.Sprintf("Protected swing %s (body) @ %.2f | R:R %.1f", swing.SwingType, bodyStop, bodyRR),
		}
	}

	// Mode 3: continuation.
	if cont, ok := e.findContinuationSwing(entryPrice, direction, swing); ok {
		contStop := cont.Extreme
		contDistance := abs(entryPrice - contStop)
		contRR := 0.0
		if contDistance > 0 {
			contRR = rewardDistance / contDistance
		}
		if contRR >= minRRThreshold {
			return StopLossLevel{
				Price:          round2(contStop),
				Mode:           market.StopContinuation,
				ProtectedSwing: cont,
				RiskDistance:   round2(contDistance),
				RiskPercent:    round3(contDistance / entryPrice * 100),
				Reason:         fmt.Sprintf("Continuation swing %s @ %.2f | R:R %.1f (tighter than original %.2f)", swing.SwingType, contStop, contRR, wickStop),
			}
		}
	}

	// Wick stop even with poor R:R beats no stop at all.
	return StopLossLevel{
		Price:          round2(wickStop),
		Mode:           market.StopWick,
		ProtectedSwing: swing,
		RiskDistance:   round2(wickDistance),
		RiskPercent:    round3(wickDistance / entryPrice * 100),
		Reason:         fmt.Sprintf("Protected swing %s (wick, low R:R %.1f) @ %.2f", swing.SwingType, wickRR, wickStop),
	}
}

// GetTrailingStop returns a new stop only when a fresh protected swing sits
// on the favorable side of the current stop. Longs only ratchet up, shorts
// only ratchet down.
func (e *Engine) GetTrailingStop(direction market.Direction, currentStop float64, series candles.Series, pdas []pda.PDA) (StopLossLevel, bool) {
	e.FindProtectedSwings(series, pdas)

	var best *ProtectedSwing
	switch direction {
	case market.Long:
		for i := range e.ProtectedSwings {
			s := &e.ProtectedSwings[i]
			if s.SwingType != market.SwingLow || s.Extreme <= currentStop {
				continue
			}
			if best == nil || s.Extreme > best.Extreme {
				best = s
			}
		}
	case market.Short:
		for i := range e.ProtectedSwings {
			s := &e.ProtectedSwings[i]
			if s.SwingType != market.SwingHigh || s.Extreme >= currentStop {
				continue
			}
			if best == nil || s.Extreme < best.Extreme {
				best = s
			}
		}
	}
	if best == nil {
		return StopLossLevel{}, false
	}

	label := "low"
	if best.SwingType == market.SwingHigh {
		label = "high"
	}
	return StopLossLevel{
		Price:          round2(best.Extreme),
		Mode:           market.StopWick,
		ProtectedSwing: *best,
		Reason:         fmt.Sprintf("Trailing stop: new protected %s @ %.2f", label, best.Extreme),
	}, true
}

func (e *Engine) findRawSwings(series candles.Series) (highs, lows []rawSwing) {
	lb := e.swingLookback
	n := series.Len()

	for i := lb; i < n-lb; i++ {
		window := series.Slice(i-lb, i+lb+1)
		c := series.At(i)

		if c.High >= window.HighsMax() {
			highs = append(highs, rawSwing{index: i, timestamp: c.Timestamp, price: c.High, close: c.Close, open: c.Open})
		}
		if c.Low <= window.LowsMin() {
			lows = append(lows, rawSwing{index: i, timestamp: c.Timestamp, price: c.Low, close: c.Close, open: c.Open})
		}
	}
	return highs, lows
}

func (e *Engine) validateProtectedSwing(series candles.Series, swing rawSwing, swingType market.SwingType, pdas []pda.PDA) (ProtectedSwing, bool) {
	idx := swing.index
	if idx+2 >= series.Len() {
		return ProtectedSwing{}, false
	}

	sweepConfirmed := false
	start := idx - 20
	if start < 0 {
		start = 0
	}
	prior := series.Slice(start, idx)

	switch swingType {
	case market.SwingLow:
		if !prior.IsEmpty() && swing.price <= prior.LowsMin() {
			sweepConfirmed = true
		}
		if !sweepConfirmed {
			for i := range pdas {
				if pdas[i].Direction == market.TrendBullish && swing.price <= pdas[i].High {
					sweepConfirmed = true
					break
				}
			}
		}
	case market.SwingHigh:
		if !prior.IsEmpty() && swing.price >= prior.HighsMax() {
			sweepConfirmed = true
		}
		if !sweepConfirmed {
			for i := range pdas {
				if pdas[i].Direction == market.TrendBearish && swing.price >= pdas[i].Low {
					sweepConfirmed = true
					break
				}
			}
		}
	}

	// A close back through the sweep range within five candles confirms
	// the swing even without a clean liquidity sweep.
	closeConfirmed := false
	afterEnd := idx + 6
	if afterEnd > series.Len() {
		afterEnd = series.Len()
	}
	afterSwing := series.Slice(idx+1, afterEnd)

	sweepStart := idx - 2
	if sweepStart < 0 {
		sweepStart = 0
	}
	sweepSeries := series.Slice(sweepStart, idx+1)

	switch swingType {
	case market.SwingLow:
		threshold := sweepSeries.HighsMax()
		for _, c := range afterSwing.All() {
			if c.Close > threshold {
				closeConfirmed = true
				break
			}
		}
	case market.SwingHigh:
		threshold := sweepSeries.LowsMin()
		for _, c := range afterSwing.All() {
			if c.Close < threshold {
				closeConfirmed = true
				break
			}
		}
	}

	if !sweepConfirmed && !closeConfirmed {
		return ProtectedSwing{}, false
	}

	bodyLevel := swing.close
	switch swingType {
	case market.SwingLow:
		if swing.open > bodyLevel {
			bodyLevel = swing.open
		}
	case market.SwingHigh:
		if swing.open < bodyLevel {
			bodyLevel = swing.open
		}
	}

	strength := 0.3
	if sweepConfirmed {
		strength += 0.35
	}
	if closeConfirmed {
		strength += 0.35
	}

	candleCount := 3
	if idx+1 < candleCount {
		candleCount = idx + 1
	}

	return ProtectedSwing{
		SwingType:      swingType,
		Extreme:        swing.price,
		BodyLevel:      bodyLevel,
		Timestamp:      swing.timestamp,
		SweepConfirmed: sweepConfirmed,
		CloseConfirmed: closeConfirmed,
		Strength:       strength,
		CandleCount:    candleCount,
	}, true
}

func (e *Engine) nearestProtectedSwing(entry float64, direction market.Direction) (ProtectedSwing, bool) {
	var best *ProtectedSwing
	switch direction {
	case market.Long:
		for i := range e.ProtectedSwings {
			s := &e.ProtectedSwings[i]
			if s.SwingType != market.SwingLow || s.Extreme >= entry {
				continue
			}
			if best == nil || s.Extreme > best.Extreme {
				best = s
			}
		}
	case market.Short:
		for i := range e.ProtectedSwings {
			s := &e.ProtectedSwings[i]
			if s.SwingType != market.SwingHigh || s.Extreme <= entry {
				continue
			}
			if best == nil || s.Extreme < best.Extreme {
				best = s
			}
		}
	}
	if best == nil {
		return ProtectedSwing{}, false
	}
	return *best, true
}

// Body mode needs a decisive candle: a long wick means the body level sits
// inside the rejection range and would get tagged too easily.
func (e *Engine) isBodyModeSafe(swing ProtectedSwing, series candles.Series) bool {
	var candle *candles.Candle
	for _, c := range series.All() {
		if c.Timestamp.Equal(swing.Timestamp) {
			cc := c
			candle = &cc
			break
		}
	}
	if candle == nil {
		return false
	}

	totalRange := candle.Range()
	if totalRange == 0 {
		return false
	}

	bodyRatio := candle.Body() / totalRange
	var wickRatio float64
	switch swing.SwingType {
	case market.SwingLow:
		wickRatio = candle.LowerWick() / totalRange
	case market.SwingHigh:
		wickRatio = candle.UpperWick() / totalRange
	}

	return wickRatio <= maxWickRatioForBody && bodyRatio >= 0.5
}

func (e *Engine) findContinuationSwing(entry float64, direction market.Direction, original ProtectedSwing) (ProtectedSwing, bool) {
	var best *ProtectedSwing
	switch direction {
	case market.Long:
		for i := range e.ProtectedSwings {
			s := &e.ProtectedSwings[i]
			if s.SwingType != market.SwingLow || s.Extreme >= entry || s.Extreme <= original.Extreme || !s.Timestamp.After(original.Timestamp) {
				continue
			}
			if best == nil || s.Extreme > best.Extreme {
				best = s
			}
		}
	case market.Short:
		for i := range e.ProtectedSwings {
			s := &e.ProtectedSwings[i]
			if s.SwingType != market.SwingHigh || s.Extreme <= entry || s.Extreme >= original.Extreme || !s.Timestamp.After(original.Timestamp) {
				continue
			}
			if best == nil || s.Extreme < best.Extreme {
				best = s
			}
		}
	}
	if best == nil {
		return ProtectedSwing{}, false
	}
	return *best, true
}

func (e *Engine) fallbackStop(entry float64, direction market.Direction, series candles.Series) StopLossLevel {
	atr := CalcATR(series, 14)

	var stop float64
	var swingType market.SwingType
	switch direction {
	case market.Long:
		stop = entry - atr*1.5
		swingType = market.SwingLow
	case market.Short:
		stop = entry + atr*1.5
		swingType = market.SwingHigh
	}

	ts := time.Now().UTC()
	if last, ok := series.Last(); ok {
		ts = last.Timestamp
	}

	return StopLossLevel{
		Price: round2(stop),
		Mode:  market.StopWick,
		ProtectedSwing: ProtectedSwing{
			SwingType: swingType,
			Extreme:   stop,
			BodyLevel: stop,
			Timestamp: ts,
			Strength:  0.1,
		},
		RiskDistance: round2(abs(entry - stop)),
		RiskPercent:  round3(abs(entry-stop) / entry * 100),
		Reason:       fmt.Sprintf("FALLBACK: ATR-based stop (no protected swing found) @ %.2f", stop),
	}
}

// CalcATR averages true range over the last period candles. On a series
// shorter than the period it degrades to the last candle's raw range.
func CalcATR(series candles.Series, period int) float64 {
	n := series.Len()
	if n < period {
		if last, ok := series.Last(); ok {
			return last.High - last.Low
		}
		return 0
	}

	all := series.All()
	trs := make([]float64, 0, n)
	trs = append(trs, all[0].High-all[0].Low)
	for i := 1; i < n; i++ {
		tr := all[i].High - all[i].Low
		if hc := abs(all[i].High - all[i-1].Close); hc > tr {
			tr = hc
		}
		if lc := abs(all[i].Low - all[i-1].Close); lc > tr {
			tr = lc
		}
		trs = append(trs, tr)
	}

	start := len(trs) - period
	if start < 0 {
		start = 0
	}
	sum := 0.0
	for _, tr := range trs[start:] {
		sum += tr
	}
	return sum / float64(len(trs)-start)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
