// Package weekly classifies the developing week into one of the weekly
// structural archetypes and derives a directional bias from it.
package weekly

import (
	"fmt"
	"time"

	"ict-trading-bot/config"
	"ict-trading-bot/internal/candles"
	"ict-trading-bot/internal/cisd"
	"ict-trading-bot/internal/market"
	"ict-trading-bot/internal/pda"
	"ict-trading-bot/internal/structure"
)

// Bias is the weekly classification result.
type Bias struct {
	Profile         market.WeeklyProfile   `json:"profile"`
	Direction       market.Trend           `json:"direction"`
	Confidence      float64                `json:"confidence"`
	DrawOnLiquidity market.DrawOnLiquidity `json:"draw_on_liquidity"`
	TGIFActive      bool                   `json:"tgif_active"`
	Notes           []string               `json:"notes"`
}

// Classifier scores the three tradeable weekly profiles against the daily
// candles of the current week and keeps the latest bias.
type Classifier struct {
	structure *structure.Analyzer

	CurrentBias *Bias
}

func NewClassifier() *Classifier {
	return &Classifier{structure: structure.NewAnalyzer()}
}

// Classify scores the week so far. daily carries D1 candles, htf carries H1
// candles for PDA and CISD context.
func (w *Classifier) Classify(daily, htf candles.Series, dayOfWeek string, cfg *config.Config) Bias {
	if daily.Len() < 3 {
		return w.store(undetermined("Insufficient data for weekly classification"))
	}

	week := currentWeek(daily)
	if week.IsEmpty() {
		return w.store(undetermined("No candles yet this week"))
	}

	var notes []string

	trend := w.structure.Analyze(htf)
	detector := pda.NewDetector(pda.Config{
		FVGMinGapPct:    cfg.PDArrayConfig.FVGMinGapPercent,
		OBLookback:      cfg.PDArrayConfig.OBLookback,
		BreakerLookback: cfg.PDArrayConfig.BreakerLookback,
	})
	pdas := detector.DetectAll(htf, candles.H1)
	liquidity := w.structure.LiquidityLevels()

	classicScore := scoreClassicExpansion(week, dayOfWeek, trend, pdas, cfg, &notes)
	midweekScore := scoreMidweekReversal(week, pdas, htf, &notes)
	consolScore := scoreConsolidationReversal(week, dayOfWeek, htf, cfg, &notes)

	profile := market.ProfileClassicExpansion
	confidence := classicScore
	if midweekScore > confidence {
		profile = market.ProfileMidweekReversal
		confidence = midweekScore
	}
	if consolScore > confidence {
		profile = market.ProfileConsolidationReversal
		confidence = consolScore
	}
	if confidence < 0.3 {
		profile = market.ProfileUndetermined
	}

	direction := profileDirection(profile, week, trend)

	draw := market.DrawNone
	if direction == market.TrendBullish && len(liquidity.BSL) > 0 {
		draw = market.DrawBuySide
	} else if direction == market.TrendBearish && len(liquidity.SSL) > 0 {
		draw = market.DrawSellSide
	}

	tgif := dayOfWeek == "Friday" && profile == market.ProfileClassicExpansion
	if tgif {
		notes = append(notes, "TGIF active: expect 20-30% retracement of weekly range")
	}

	return w.store(Bias{
		Profile:         profile,
		Direction:       direction,
		Confidence:      confidence,
		DrawOnLiquidity: draw,
		TGIFActive:      tgif,
		Notes:           notes,
	})
}

func (w *Classifier) store(b Bias) Bias {
	copied := b
	w.CurrentBias = &copied
	return b
}

func undetermined(note string) Bias {
	return Bias{
		Profile:         market.ProfileUndetermined,
		Direction:       market.TrendNeutral,
		DrawOnLiquidity: market.DrawNone,
		Notes:           []string{note},
	}
}

// currentWeek keeps the daily candles from the most recent Monday onward.
func currentWeek(daily candles.Series) candles.Series {
	last, ok := daily.Last()
	if !ok {
		return candles.Series{}
	}

	daysFromMonday := (int(last.Timestamp.Weekday()) + 6) % 7
	weekStart := last.Timestamp.AddDate(0, 0, -daysFromMonday)
	weekStart = time.Date(weekStart.Year(), weekStart.Month(), weekStart.Day(), 0, 0, 0, 0, time.UTC)

	return daily.Since(weekStart)
}

func scoreClassicExpansion(week candles.Series, day string, trend market.Trend, pdas []pda.PDA, cfg *config.Config, notes *[]string) float64 {
	days := week.Len()
	if days < 2 {
		if trend != market.TrendNeutral {
			return 0.1
		}
		return 0
	}

	score := 0.0
	monTue := week.Head(2)
	monTueRange := monTue.HighsMax() - monTue.LowsMin()
	weekRange := week.HighsMax() - week.LowsMin()

	if monTueRange < weekRange*0.5 {
		score += 0.2
		*notes = append(*notes, "CE: Mon/Tue range < 50% of week (manipulation phase)")
	}

	for i := range pdas {
		p := &pdas[i]
		if p.Timeframe != candles.H1 || p.Strength <= 0.3 {
			continue
		}
		if monTue.LowsMin() <= p.High && monTue.HighsMax() >= p.Low {
			score += 0.25
			*notes = append(*notes, fmt.Sprintf("CE: Mon/Tue engaged %s %s PDA", p.Type, p.Direction))
			break
		}
	}

	if days >= 3 {
		wedOnward := week.Slice(2, days)
		expansionRange := wedOnward.HighsMax() - wedOnward.LowsMin()
		if expansionRange > monTueRange*1.5 {
			score += 0.3
			*notes = append(*notes, "CE: Wed+ expansion > 1.5x Mon/Tue range")
		}
	}

	if trend == market.TrendBullish || trend == market.TrendBearish {
		score += 0.15
	}

	score += cfg.DayRatings["classic_expansion"].Get(day) / 5.0 * 0.1

	if score > 1 {
		score = 1
	}
	return score
}

func scoreMidweekReversal(week candles.Series, pdas []pda.PDA, htf candles.Series, notes *[]string) float64 {
	days := week.Len()
	if days < 3 {
		return 0.05
	}

	score := 0.0
	monTueUp := week.At(1).Close > week.At(0).Open
	wed := week.At(2)
	wedUp := wed.Close > wed.Open

	if monTueUp != wedUp {
		score += 0.3
		*notes = append(*notes, "MWR: Wednesday reversed Mon/Tue direction")
	}

	for i := range pdas {
		p := &pdas[i]
		if p.Timeframe != candles.H1 || p.Strength <= 0.3 {
			continue
		}
		if wed.Low <= p.High && wed.High >= p.Low {
			score += 0.25
			*notes = append(*notes, fmt.Sprintf("MWR: Wednesday engaged %s PDA", p.Type))
			break
		}
	}

	var breakers []pda.PDA
	for _, p := range pdas {
		if p.Type == pda.BreakerBlock {
			breakers = append(breakers, p)
		}
	}
	if len(breakers) > 0 {
		wedCandles := htf.FilterByDate(wed.Timestamp.Year(), wed.Timestamp.Month(), wed.Timestamp.Day())
		if !wedCandles.IsEmpty() {
			if confirmations := cisd.NewDetector().Check(wedCandles, breakers); len(confirmations) > 0 {
				score += 0.2
				*notes = append(*notes, "MWR: CISD confirmed on Wednesday")
			}
		}
	}

	if days >= 4 {
		thuOnward := week.Slice(3, days)
		wedRange := wed.High - wed.Low
		thuRange := thuOnward.HighsMax() - thuOnward.LowsMin()
		if thuRange > wedRange {
			score += 0.15
			*notes = append(*notes, "MWR: Thu+ continuing expansion")
		}
	}

	checkLen := 3
	if days < checkLen {
		checkLen = days
	}
	allUp, allDown := true, true
	for i := 0; i < checkLen; i++ {
		c := week.At(i)
		if c.Close <= c.Open {
			allUp = false
		}
		if c.Close >= c.Open {
			allDown = false
		}
	}
	if allUp || allDown {
		score -= 0.3
		*notes = append(*notes, "MWR NEGATIVE: consecutive same-direction days")
	}

	return clamp01(score)
}

func scoreConsolidationReversal(week candles.Series, day string, htf candles.Series, cfg *config.Config, notes *[]string) float64 {
	days := week.Len()
	if days < 3 {
		return 0.05
	}

	score := 0.0
	monWed := week.Head(3)
	totalRange := monWed.HighsMax() - monWed.LowsMin()

	rangeSum := 0.0
	for _, c := range monWed.All() {
		rangeSum += c.High - c.Low
	}
	if rangeSum/(totalRange+0.01) > 1.5 {
		score += 0.3
		*notes = append(*notes, "CR: Mon-Wed showing consolidation (overlapping ranges)")
	}

	if days >= 4 {
		thu := week.At(3)
		if thu.High > monWed.HighsMax() || thu.Low < monWed.LowsMin() {
			score += 0.25
			*notes = append(*notes, "CR: Thursday swept consolidation range")

			detector := pda.NewDetector(pda.Config{
				FVGMinGapPct:    cfg.PDArrayConfig.FVGMinGapPercent,
				OBLookback:      cfg.PDArrayConfig.OBLookback,
				BreakerLookback: cfg.PDArrayConfig.BreakerLookback,
			})
			var breakers []pda.PDA
			for _, p := range detector.DetectAll(htf, candles.H1) {
				if p.Type == pda.BreakerBlock {
					breakers = append(breakers, p)
				}
			}
			if len(breakers) > 0 {
				thuCandles := htf.FilterByDate(thu.Timestamp.Year(), thu.Timestamp.Month(), thu.Timestamp.Day())
				if !thuCandles.IsEmpty() {
					if confirmations := cisd.NewDetector().Check(thuCandles, breakers); len(confirmations) > 0 {
						score += 0.25
						*notes = append(*notes, "CR: CISD confirmed on Thursday")
					}
				}
			}
		}
	}

	if days >= 5 {
		if week.At(4).Body() > week.At(3).Body() {
			score += 0.15
			*notes = append(*notes, "CR: Friday expanding")
		}
	}

	score += cfg.DayRatings["consolidation_reversal"].Get(day) / 5.0 * 0.05

	return clamp01(score)
}

func profileDirection(profile market.WeeklyProfile, week candles.Series, trend market.Trend) market.Trend {
	if profile == market.ProfileUndetermined || week.IsEmpty() {
		return market.TrendNeutral
	}

	last, _ := week.Last()
	first, _ := week.First()

	switch profile {
	case market.ProfileClassicExpansion:
		if trend == market.TrendBullish || trend == market.TrendBearish {
			return trend
		}
		if last.Close > first.Open {
			return market.TrendBullish
		}
		return market.TrendBearish

	case market.ProfileMidweekReversal:
		if week.Len() < 2 {
			return market.TrendNeutral
		}
		if week.At(1).Close > week.At(0).Open {
			return market.TrendBearish
		}
		return market.TrendBullish

	case market.ProfileConsolidationReversal:
		if week.Len() >= 4 {
			thu := week.At(3)
			if thu.Close > thu.Open {
				return market.TrendBullish
			}
			return market.TrendBearish
		}
		if trend != market.TrendNeutral {
			return trend
		}
	}
	return market.TrendNeutral
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
