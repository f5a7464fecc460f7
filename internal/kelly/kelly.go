// Package kelly sizes risk per trade from realized trade history using a
// half-Kelly fraction clamped to a safe band.
package kelly

import (
	"math"
	"strings"
)

const (
	minSampleSize   = 20
	defaultFraction = 0.005
	kellyMultiplier = 0.5
	maxFraction     = 0.06
	minFraction     = 0.002
	rollingWindow   = 100
)

// Trade is anything with a PnL and a reason string. The reason carries the
// scale label ("5m", "15m", ...) so history can be filtered per scale.
type Trade interface {
	PnL() float64
	Reason() string
}

// Result is the outcome of a Kelly calculation.
type Result struct {
	FullKelly       float64 `json:"full_kelly"`
	AppliedFraction float64 `json:"applied_fraction"`
	WinRate         float64 `json:"win_rate"`
	LossRate        float64 `json:"loss_rate"`
	PayoffRatio     float64 `json:"payoff_ratio"`
	SampleSize      int     `json:"sample_size"`
	UsingDefault    bool    `json:"using_default"`
	Edge            float64 `json:"edge"`
}

// Criterion computes Kelly fractions and remembers the latest result per
// scale for reporting.
type Criterion struct {
	scaleResults map[string]Result
}

func NewCriterion() *Criterion {
	return &Criterion{scaleResults: make(map[string]Result)}
}

// Calculate derives the applied risk fraction from the last rollingWindow
// trades, optionally filtered to one scale. Below minSampleSize trades it
// returns the flat default fraction.
func (k *Criterion) Calculate(history []Trade, scale string) Result {
	trades := history
	if scale != "" {
		trades = make([]Trade, 0, len(history))
		for _, t := range history {
			if strings.Contains(t.Reason(), scale) {
				trades = append(trades, t)
			}
		}
	}
	if len(trades) > rollingWindow {
		trades = trades[len(trades)-rollingWindow:]
	}

	if len(trades) < minSampleSize {
		result := Result{
			AppliedFraction: defaultFraction,
			SampleSize:      len(trades),
			UsingDefault:    true,
		}
		if scale != "" {
			k.scaleResults[scale] = result
		}
		return result
	}

	total := float64(len(trades))
	var winSum, lossSum float64
	var winCount, lossCount int
	for _, t := range trades {
		if t.PnL() > 0 {
			winSum += t.PnL()
			winCount++
		} else {
			lossSum += t.PnL()
			lossCount++
		}
	}

	p := float64(winCount) / total
	q := 1 - p

	avgWin := 0.0
	if winCount > 0 {
		avgWin = winSum / float64(winCount)
	}
	avgLoss := 1.0
	if lossCount > 0 {
		avgLoss = math.Abs(lossSum / float64(lossCount))
	}

	b := 0.0
	if avgLoss > 0 {
		b = avgWin / avgLoss
	}

	fullKelly := 0.0
	if b > 0 {
		fullKelly = (b*p - q) / b
	}
	edge := b*p - q

	applied := fullKelly * kellyMultiplier
	if fullKelly <= 0 {
		applied = minFraction
	} else {
		applied = math.Max(applied, minFraction)
		applied = math.Min(applied, maxFraction)
	}

	result := Result{
		FullKelly:       round6(fullKelly),
		AppliedFraction: round6(applied),
		WinRate:         round4(p),
		LossRate:        round4(q),
		PayoffRatio:     round4(b),
		SampleSize:      len(trades),
		Edge:            round4(edge),
	}
	if scale != "" {
		k.scaleResults[scale] = result
	}
	return result
}

// RiskAmount converts the applied fraction into a dollar risk on the given
// balance, rounded to cents.
func (k *Criterion) RiskAmount(balance float64, history []Trade, scale string) (float64, Result) {
	result := k.Calculate(history, scale)
	risk := math.Round(balance*result.AppliedFraction*100) / 100
	return risk, result
}

// ScaleResults returns the latest result per scale label.
func (k *Criterion) ScaleResults() map[string]Result {
	return k.scaleResults
}

func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}

func round6(x float64) float64 {
	return math.Round(x*1000000) / 1000000
}
