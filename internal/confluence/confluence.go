// Package confluence runs the fractal strategy: the same six-step ICT
// pipeline evaluated independently at several scales, with a confidence
// bonus when sibling scales agree on direction.
package confluence

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"ict-trading-bot/config"
	"ict-trading-bot/internal/candles"
	"ict-trading-bot/internal/cisd"
	"ict-trading-bot/internal/liquidity"
	"ict-trading-bot/internal/market"
	"ict-trading-bot/internal/pda"
	"ict-trading-bot/internal/projection"
	"ict-trading-bot/internal/sessions"
	"ict-trading-bot/internal/stoploss"
	"ict-trading-bot/internal/structure"
	"ict-trading-bot/internal/trading"

	"github.com/rs/zerolog/log"
)

// AlignmentState is one alignment timeframe's analysis snapshot.
type AlignmentState struct {
	Timeframe    candles.Timeframe      `json:"timeframe"`
	Trend        market.Trend           `json:"trend"`
	DealingRange structure.DealingRange `json:"dealing_range"`
	SwingCount   int                    `json:"swing_count"`
	BOSCount     int                    `json:"bos_count"`
}

// Signal is a fully-specified entry produced by one scale.
type Signal struct {
	Scale                string                  `json:"scale"`
	ScaleName            string                  `json:"scale_name"`
	Direction            market.Direction        `json:"direction"`
	EntryPrice           float64                 `json:"entry_price"`
	StopLoss             float64                 `json:"stop_loss"`
	TakeProfit           float64                 `json:"take_profit"`
	PDAEngaged           pda.PDA                 `json:"pda_engaged"`
	CISDConfirmed        bool                    `json:"cisd_confirmed"`
	Confidence           float64                 `json:"confidence"`
	Session              string                  `json:"session"`
	SessionWeight        float64                 `json:"session_weight"`
	Reason               string                  `json:"reason"`
	CrossScaleConfluence int                     `json:"cross_scale_confluence"`
	StopMode             string                  `json:"stop_mode"`
	StopReason           string                  `json:"stop_reason"`
	TPLabel              string                  `json:"tp_label"`
	TPLevels             []trading.TPLevelInfo   `json:"tp_levels"`
	Alignment            []trading.AlignmentInfo `json:"alignment"`
}

// ToTradeSignal converts to the executable form the paper trader accepts.
func (s *Signal) ToTradeSignal() trading.TradeSignal {
	engaged := s.PDAEngaged
	return trading.TradeSignal{
		Direction:     s.Direction,
		EntryPrice:    s.EntryPrice,
		StopLoss:      s.StopLoss,
		TakeProfit:    s.TakeProfit,
		PDAEngaged:    &engaged,
		CISDConfirmed: s.CISDConfirmed,
		Confidence:    s.Confidence,
		Session:       s.Session,
		SessionWeight: s.SessionWeight,
		Reason:        s.Reason,
		TPLevels:      s.TPLevels,
	}
}

// Scale evaluates the pipeline for one configured scale.
type Scale struct {
	ScaleKey     string
	Name         string
	EntryTF      candles.Timeframe
	AlignmentTFs []candles.Timeframe
	StructureTF  candles.Timeframe
	ConfirmTF    candles.Timeframe
	Weight       float64

	pdDetector         *pda.Detector
	cisdDetector       *cisd.Detector
	stopEngine         *stoploss.Engine
	sdProjector        *projection.Projector
	liquidityDetector  *liquidity.Detector
	alignmentAnalyzers map[candles.Timeframe]*structure.Analyzer
	structureAnalyzer  *structure.Analyzer

	LastAlignment     []AlignmentState
	lastStructurePDAs []pda.PDA
}

// NewScale builds one scale engine from its config entry.
func NewScale(scaleKey string, cfg *config.Config) *Scale {
	sc := cfg.ScaleConfigs[scaleKey]

	alignmentTFs := make([]candles.Timeframe, 0, len(sc.AlignmentTFs))
	analyzers := make(map[candles.Timeframe]*structure.Analyzer, len(sc.AlignmentTFs))
	for _, raw := range sc.AlignmentTFs {
		tf, ok := candles.ParseTimeframe(raw)
		if !ok {
			log.Warn().Str("scale", scaleKey).Str("tf", raw).Msg("skipping unknown alignment timeframe")
			continue
		}
		alignmentTFs = append(alignmentTFs, tf)
		analyzers[tf] = structure.NewAnalyzer()
	}

	entryTF, _ := candles.ParseTimeframe(sc.EntryTF)
	structureTF, _ := candles.ParseTimeframe(sc.StructureTF)
	confirmTF, _ := candles.ParseTimeframe(sc.ConfirmTF)

	return &Scale{
		ScaleKey:     scaleKey,
		Name:         sc.Name,
		EntryTF:      entryTF,
		AlignmentTFs: alignmentTFs,
		StructureTF:  structureTF,
		ConfirmTF:    confirmTF,
		Weight:       sc.Weight,
		pdDetector: pda.NewDetector(pda.Config{
			FVGMinGapPct:    cfg.PDArrayConfig.FVGMinGapPercent,
			OBLookback:      cfg.PDArrayConfig.OBLookback,
			BreakerLookback: cfg.PDArrayConfig.BreakerLookback,
		}),
		cisdDetector:       cisd.NewDetector(),
		stopEngine:         stoploss.NewEngine(),
		sdProjector:        projection.NewProjector(0),
		liquidityDetector:  liquidity.NewDetector(0),
		alignmentAnalyzers: analyzers,
		structureAnalyzer:  structure.NewAnalyzer(),
	}
}

// Evaluate runs the six-step pipeline: alignment gate, structure PDAs,
// Judas swing, PDA engagement, CISD confirmation, then signal assembly.
func (s *Scale) Evaluate(data map[candles.Timeframe]candles.Series, referencePrice float64, session *sessions.Manager, cfg *config.Config, now time.Time) (Signal, bool) {
	entryDF, okEntry := data[s.EntryTF]
	structDF, okStruct := data[s.StructureTF]
	confirmDF, okConfirm := data[s.ConfirmTF]
	if !okEntry || !okStruct || !okConfirm {
		return Signal{}, false
	}
	if entryDF.IsEmpty() || structDF.IsEmpty() || confirmDF.IsEmpty() {
		return Signal{}, false
	}

	alignedDirection, aligned := s.CheckAlignment(data)
	if !aligned {
		log.Trace().Str("scale", s.Name).Msg("blocked at alignment")
		return Signal{}, false
	}

	s.structureAnalyzer.Analyze(structDF)
	dr := s.structureAnalyzer.DealingRange(structDF)
	s.lastStructurePDAs = s.pdDetector.DetectAll(structDF, s.StructureTF)

	if !s.detectJudasSwing(entryDF, alignedDirection, referencePrice, dr) {
		log.Debug().Str("scale", s.Name).Str("direction", string(alignedDirection)).
			Msg("passed alignment but blocked at Judas swing")
		return Signal{}, false
	}

	engagedPDA, engaged := s.checkPDAEngagement(entryDF, alignedDirection)
	if !engaged {
		log.Debug().Str("scale", s.Name).Msg("passed Judas swing but blocked at PDA engagement")
		return Signal{}, false
	}

	var allBreakers []pda.PDA
	for _, p := range s.lastStructurePDAs {
		if p.Type == pda.BreakerBlock {
			allBreakers = append(allBreakers, p)
		}
	}
	entryDetector := pda.NewDetector(pda.Config{
		FVGMinGapPct:    cfg.PDArrayConfig.FVGMinGapPercent,
		OBLookback:      cfg.PDArrayConfig.OBLookback,
		BreakerLookback: cfg.PDArrayConfig.BreakerLookback,
	})
	for _, p := range entryDetector.DetectAll(entryDF, s.EntryTF) {
		if p.Type == pda.BreakerBlock {
			allBreakers = append(allBreakers, p)
		}
	}

	cisdConfirmed := len(s.cisdDetector.Check(confirmDF, allBreakers)) > 0
	baseConfidence := 0.4
	if cisdConfirmed {
		baseConfidence = 0.8
	}

	return s.buildSignal(entryDF, alignedDirection, engagedPDA, dr, cisdConfirmed, baseConfidence, session, now), true
}

// CheckAlignment requires every alignment timeframe to carry the same
// non-neutral trend.
func (s *Scale) CheckAlignment(data map[candles.Timeframe]candles.Series) (market.Trend, bool) {
	s.LastAlignment = s.LastAlignment[:0]
	var direction market.Trend

	for _, tf := range s.AlignmentTFs {
		df, ok := data[tf]
		if !ok || df.IsEmpty() {
			return market.TrendNeutral, false
		}

		analyzer := s.alignmentAnalyzers[tf]
		trend := analyzer.Analyze(df)
		dr := analyzer.DealingRange(df)

		s.LastAlignment = append(s.LastAlignment, AlignmentState{
			Timeframe:    tf,
			Trend:        trend,
			DealingRange: dr,
			SwingCount:   len(analyzer.SwingHighs) + len(analyzer.SwingLows),
			BOSCount:     len(analyzer.BOSEvents),
		})

		if trend == market.TrendNeutral {
			return market.TrendNeutral, false
		}
		if direction == "" {
			direction = trend
		} else if direction != trend {
			return market.TrendNeutral, false
		}
	}
	if direction == "" {
		return market.TrendNeutral, false
	}
	return direction, true
}

// detectJudasSwing looks for the fake move: price swept through the pivot
// against the aligned direction and reclaimed it. Falls back to accepting
// price sitting in the favorable half of the dealing range.
func (s *Scale) detectJudasSwing(entryDF candles.Series, direction market.Trend, refPrice float64, dr structure.DealingRange) bool {
	if entryDF.IsEmpty() {
		return false
	}

	pivot := refPrice
	if pivot == 0 {
		pivot = dr.Equilibrium
	}
	if pivot == 0 {
		return false
	}

	recent := entryDF.Tail(60)
	last, ok := recent.Last()
	if !ok {
		return false
	}
	current := last.Close

	switch direction {
	case market.TrendBullish:
		if recent.AnyLowBelow(pivot) && current > pivot {
			return true
		}
		return current < dr.Equilibrium && current > dr.Low
	case market.TrendBearish:
		if recent.AnyHighAbove(pivot) && current < pivot {
			return true
		}
		return current > dr.Equilibrium && current < dr.High
	}
	return false
}

// checkPDAEngagement finds the strongest structure-timeframe PDA whose band
// overlaps recent price. Strict zone matching first (discount for bullish,
// premium for bearish), then any zone in the aligned direction.
func (s *Scale) checkPDAEngagement(entryDF candles.Series, direction market.Trend) (pda.PDA, bool) {
	if len(s.lastStructurePDAs) == 0 || entryDF.IsEmpty() {
		return pda.PDA{}, false
	}

	recent := entryDF.Tail(10)
	recentLow := recent.LowsMin()
	recentHigh := recent.HighsMax()

	wantZone := market.ZoneDiscount
	if direction == market.TrendBearish {
		wantZone = market.ZonePremium
	}

	var candidates []pda.PDA
	for _, p := range s.lastStructurePDAs {
		if p.Direction == direction && p.Zone == wantZone {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		for _, p := range s.lastStructurePDAs {
			if p.Direction == direction {
				candidates = append(candidates, p)
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Strength > candidates[j].Strength
	})

	for _, p := range candidates {
		if recentLow <= p.High && recentHigh >= p.Low {
			return p, true
		}
	}
	return pda.PDA{}, false
}

func (s *Scale) buildSignal(entryDF candles.Series, direction market.Trend, engaged pda.PDA, dr structure.DealingRange, cisdConfirmed bool, confidence float64, session *sessions.Manager, now time.Time) Signal {
	last, _ := entryDF.Last()
	current := last.Close

	tradeDir := market.Short
	if direction == market.TrendBullish {
		tradeDir = market.Long
	}

	sdProj := s.sdProjector.Project(entryDF, direction, s.lastStructurePDAs, 0, 0)
	takeProfit := sdProj.RecommendedTP
	tpLabel := sdProj.RecommendedLabel

	if tradeDir == market.Long && takeProfit <= current {
		takeProfit = dr.High
		tpLabel = "DR High (SD fallback)"
	} else if tradeDir == market.Short && takeProfit >= current {
		takeProfit = dr.Low
		tpLabel = "DR Low (SD fallback)"
	}

	pools := s.collectPools(entryDF, now)
	if erl, ok := liquidity.NearestTarget(pools, current, tradeDir); ok && erl.Touches >= 2 {
		erlDist := math.Abs(erl.Price - current)
		sdDist := math.Abs(takeProfit - current)
		if erlDist > sdDist {
			takeProfit = erl.Price
			tpLabel = fmt.Sprintf("ERL %dx touches (%.0f)", erl.Touches, erl.Price)
		} else if erlDist > sdDist*0.6 && erl.Strength > 0.5 {
			// Closer but liquidity actually rests there.
			takeProfit = erl.Price
			tpLabel = fmt.Sprintf("ERL %dx reliable (%.0f)", erl.Touches, erl.Price)
		}
	}

	tpLevels := make([]trading.TPLevelInfo, 0, len(sdProj.Levels))
	for _, l := range sdProj.Levels {
		tpLevels = append(tpLevels, trading.TPLevelInfo{
			Label:         l.Label,
			Price:         l.Price,
			PDAConfluence: l.PDAConfluence,
			Level:         l.Level,
		})
	}

	// Point the final rung at the ERL pool so the partial ladder actually
	// reaches the liquidity.
	if erl, ok := liquidity.NearestTarget(pools, current, tradeDir); ok && erl.Touches >= 2 {
		erlDist := math.Abs(erl.Price - current)
		for i := range tpLevels {
			if tpLevels[i].Level == -4.5 && erlDist > math.Abs(tpLevels[i].Price-current) {
				tpLevels[i].Price = round2(erl.Price)
				tpLevels[i].Label = fmt.Sprintf("ERL %dx (%.0f)", erl.Touches, erl.Price)
			}
		}
	}

	s.stopEngine.FindProtectedSwings(entryDF, s.lastStructurePDAs)
	slLevel := s.stopEngine.GetStopLoss(current, tradeDir, takeProfit, entryDF, s.lastStructurePDAs)

	adjusted := confidence * s.Weight * session.SessionWeight
	adjusted *= session.SilverBulletMultiplier(now)

	recent := entryDF.Tail(30)
	if (recent.HighsMax()-recent.LowsMin())/current > 0.03 && !cisdConfirmed {
		adjusted *= 0.5
	}

	alignmentInfo := make([]trading.AlignmentInfo, 0, len(s.LastAlignment))
	alignmentTFs := make([]string, 0, len(s.LastAlignment))
	for _, a := range s.LastAlignment {
		alignmentInfo = append(alignmentInfo, trading.AlignmentInfo{
			TF:    a.Timeframe.String(),
			Trend: string(a.Trend),
			BOS:   a.BOSCount,
		})
		alignmentTFs = append(alignmentTFs, a.Timeframe.String())
	}

	cisdLabel := "NO"
	if cisdConfirmed {
		cisdLabel = "YES"
	}
	reason := fmt.Sprintf(
		"[%s] %s | Aligned: %s -> %s | PDA: %s(%s) @ %.2f | CISD: %s | SL: %s (%.2f%%) | TP: %s | SD: %.2f",
		s.Name,
		strings.ToUpper(string(tradeDir)),
		strings.Join(alignmentTFs, "+"),
		direction,
		engaged.Type,
		engaged.Direction,
		engaged.Midpoint,
		cisdLabel,
		slLevel.Mode,
		slLevel.RiskPercent,
		tpLabel,
		sdProj.RangeSize,
	)

	return Signal{
		Scale:                s.ScaleKey,
		ScaleName:            s.Name,
		Direction:            tradeDir,
		EntryPrice:           round2(current),
		StopLoss:             round2(slLevel.Price),
		TakeProfit:           round2(takeProfit),
		PDAEngaged:           engaged,
		CISDConfirmed:        cisdConfirmed,
		Confidence:           round3(math.Min(adjusted, 1)),
		Session:              session.CurrentSession,
		SessionWeight:        session.SessionWeight,
		Reason:               reason,
		CrossScaleConfluence: 1,
		StopMode:             string(slLevel.Mode),
		StopReason:           slLevel.Reason,
		TPLabel:              tpLabel,
		TPLevels:             tpLevels,
		Alignment:            alignmentInfo,
	}
}

// collectPools merges entry-timeframe liquidity pools with the structure
// analyzer's unbroken swing levels as moderate-strength single-touch pools.
func (s *Scale) collectPools(entryDF candles.Series, now time.Time) []liquidity.Pool {
	pools := s.liquidityDetector.DetectPools(entryDF)
	htfLiq := s.structureAnalyzer.LiquidityLevels()

	for _, price := range htfLiq.BSL {
		if !covered(pools, liquidity.BSL, price) {
			pools = append(pools, liquidity.Pool{
				Type:       liquidity.BSL,
				Price:      price,
				Touches:    1,
				FirstTouch: now,
				LastTouch:  now,
				Strength:   0.5,
			})
		}
	}
	for _, price := range htfLiq.SSL {
		if !covered(pools, liquidity.SSL, price) {
			pools = append(pools, liquidity.Pool{
				Type:       liquidity.SSL,
				Price:      price,
				Touches:    1,
				FirstTouch: now,
				LastTouch:  now,
				Strength:   0.5,
			})
		}
	}
	return pools
}

func covered(pools []liquidity.Pool, pt liquidity.PoolType, price float64) bool {
	for _, p := range pools {
		if p.Type == pt && math.Abs(p.Price-price)/price < 0.001 {
			return true
		}
	}
	return false
}

// Engine owns one Scale per configured scale key.
type Engine struct {
	Scales map[string]*Scale
}

func NewEngine(cfg *config.Config) *Engine {
	scales := make(map[string]*Scale, len(cfg.ScaleConfigs))
	for key := range cfg.ScaleConfigs {
		scales[key] = NewScale(key, cfg)
	}
	return &Engine{Scales: scales}
}

// EvaluateAll runs every scale, applies the cross-scale confluence bonus,
// filters by each scale's confidence floor, and returns signals sorted by
// confidence descending.
func (e *Engine) EvaluateAll(data map[candles.Timeframe]candles.Series, referencePrice float64, session *sessions.Manager, cfg *config.Config, now time.Time) []Signal {
	var raw []Signal
	for _, scale := range e.Scales {
		if signal, ok := scale.Evaluate(data, referencePrice, session, cfg, now); ok {
			raw = append(raw, signal)
		}
	}

	if len(raw) > 1 {
		total := len(raw)
		for i := range raw {
			agreeing := 0
			for j := range raw {
				if raw[j].Direction == raw[i].Direction {
					agreeing++
				}
			}
			raw[i].CrossScaleConfluence = agreeing
			bonus := float64(agreeing-1) * cfg.CrossScaleConfluenceBonus
			raw[i].Confidence = round3(math.Min(raw[i].Confidence+bonus, 1))
			if agreeing > 1 {
				raw[i].Reason += fmt.Sprintf(" | CROSS-SCALE: %d/%d entry scales agree", agreeing, total)
			}
		}
	}

	filtered := raw[:0]
	for _, signal := range raw {
		sc, ok := cfg.ScaleConfigs[signal.Scale]
		if ok && signal.Confidence >= sc.MinConfidence {
			filtered = append(filtered, signal)
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Confidence > filtered[j].Confidence
	})
	return filtered
}

// AlignmentSummary reports each scale's alignment state for dashboards.
type AlignmentSummary struct {
	Name         string            `json:"name"`
	Aligned      bool              `json:"aligned"`
	Direction    string            `json:"direction"`
	AlignmentTFs []string          `json:"alignment_tfs"`
	Details      []AlignmentDetail `json:"details"`
}

type AlignmentDetail struct {
	TF    string `json:"tf"`
	Trend string `json:"trend"`
}

// AlignmentSummaries recomputes alignment for every scale without trading.
func (e *Engine) AlignmentSummaries(data map[candles.Timeframe]candles.Series) map[string]AlignmentSummary {
	summary := make(map[string]AlignmentSummary, len(e.Scales))
	for key, scale := range e.Scales {
		direction, aligned := scale.CheckAlignment(data)
		dirLabel := "no alignment"
		if aligned {
			dirLabel = string(direction)
		}

		tfs := make([]string, 0, len(scale.AlignmentTFs))
		for _, tf := range scale.AlignmentTFs {
			tfs = append(tfs, tf.String())
		}
		details := make([]AlignmentDetail, 0, len(scale.LastAlignment))
		for _, a := range scale.LastAlignment {
			details = append(details, AlignmentDetail{TF: a.Timeframe.String(), Trend: string(a.Trend)})
		}

		summary[key] = AlignmentSummary{
			Name:         scale.Name,
			Aligned:      aligned,
			Direction:    dirLabel,
			AlignmentTFs: tfs,
			Details:      details,
		}
	}
	return summary
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
