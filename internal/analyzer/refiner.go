package analyzer

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"ict-trading-bot/config"
	"ict-trading-bot/internal/trading"
)

// Hard floor/ceiling for each adjustable parameter.
const (
	minConfidenceFloor   = 0.3
	minConfidenceCeiling = 0.8
	sessionWeightFloor   = 0.1
	sessionWeightCeiling = 2.0
)

// Adjustment is one parameter change (or warning) made by the refiner.
type Adjustment struct {
	Parameter  string  `json:"parameter"`
	OldValue   float64 `json:"old_value"`
	NewValue   float64 `json:"new_value"`
	Reason     string  `json:"reason"`
	Edge       float64 `json:"edge"`
	SampleSize int     `json:"sample_size"`
	Timestamp  string  `json:"timestamp"`
}

func newAdjustment(parameter string, oldValue, newValue float64, reason string, edge float64, sampleSize int) Adjustment {
	return Adjustment{
		Parameter:  parameter,
		OldValue:   oldValue,
		NewValue:   newValue,
		Reason:     reason,
		Edge:       edge,
		SampleSize: sampleSize,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
}

// StrategyRefiner nudges confidence floors and session weights toward
// whatever the trade history says is working, within hard bounds.
type StrategyRefiner struct {
	AdjustmentStep    float64
	MinSample         int
	Analyzer          *TradeAnalyzer
	AdjustmentHistory []Adjustment
	SkipCombos        map[string]struct{}

	refinementsFile string
}

func NewStrategyRefiner(cfg *config.Config) *StrategyRefiner {
	r := &StrategyRefiner{
		AdjustmentStep: cfg.LearningConfig.AdjustmentStep,
		MinSample:      cfg.LearningConfig.MinSamplePerBucket,
		Analyzer:       NewTradeAnalyzer(cfg.LearningConfig.MinSamplePerBucket),
		SkipCombos:     make(map[string]struct{}),
	}
	if cfg.LoggingConfig.LogDir != "" {
		r.refinementsFile = filepath.Join(cfg.LoggingConfig.LogDir, "refinements.json")
	}
	r.loadState()
	return r
}

// Refine runs a full analysis pass and applies parameter nudges in place.
func (r *StrategyRefiner) Refine(records []trading.TradeRecord, cfg *config.Config) []Adjustment {
	analysis := r.Analyzer.Analyze(records)

	var adjustments []Adjustment
	adjustments = append(adjustments, r.adjustMinConfidence(analysis, cfg)...)
	adjustments = append(adjustments, r.adjustSessionWeights(analysis, cfg)...)
	r.updateSkipList(analysis)
	adjustments = append(adjustments, r.flagStopModes(analysis)...)

	if len(adjustments) > 0 {
		r.AdjustmentHistory = append(r.AdjustmentHistory, adjustments...)
		r.saveState()
	}
	return adjustments
}

// ShouldSkip reports whether a scale/session combination is on the skip
// list.
func (r *StrategyRefiner) ShouldSkip(scale, session string) bool {
	_, skip := r.SkipCombos[scale+"_"+session]
	return skip
}

// Reset clears learned state, including the persisted file.
func (r *StrategyRefiner) Reset() {
	r.AdjustmentHistory = nil
	r.SkipCombos = make(map[string]struct{})
	if r.refinementsFile != "" {
		os.Remove(r.refinementsFile)
	}
}

func (r *StrategyRefiner) adjustMinConfidence(analysis Analysis, cfg *config.Config) []Adjustment {
	var adjustments []Adjustment
	scaleStats, ok := analysis["scale"]
	if !ok {
		return adjustments
	}

	for scaleKey, bucket := range scaleStats {
		if !bucket.SampleSufficient {
			continue
		}
		scaleCfg, ok := cfg.ScaleConfigs[scaleKey]
		if !ok {
			continue
		}

		current := scaleCfg.MinConfidence
		var newVal float64
		switch {
		case bucket.Edge < 0:
			newVal = math.Min(current+r.AdjustmentStep, minConfidenceCeiling)
		case bucket.Edge > 0.05:
			newVal = math.Max(current-r.AdjustmentStep, minConfidenceFloor)
		default:
			continue
		}
		if newVal == current {
			continue
		}

		newVal = round4(newVal)
		scaleCfg.MinConfidence = newVal
		cfg.ScaleConfigs[scaleKey] = scaleCfg
		adjustments = append(adjustments, newAdjustment(
			"HFT_SCALES."+scaleKey+".min_confidence",
			current, newVal,
			"scale "+scaleKey+" edge="+formatEdge(bucket.Edge),
			bucket.Edge, bucket.Total,
		))
	}
	return adjustments
}

func (r *StrategyRefiner) adjustSessionWeights(analysis Analysis, cfg *config.Config) []Adjustment {
	var adjustments []Adjustment
	sessionStats, ok := analysis["session"]
	if !ok {
		return adjustments
	}

	for sessionKey, bucket := range sessionStats {
		if !bucket.SampleSufficient {
			continue
		}
		current, ok := cfg.SessionConfig.Weights[sessionKey]
		if !ok {
			continue
		}

		var newVal float64
		switch {
		case bucket.Edge < 0:
			newVal = math.Max(current-r.AdjustmentStep, sessionWeightFloor)
		case bucket.Edge > 0.05:
			newVal = math.Min(current+r.AdjustmentStep, sessionWeightCeiling)
		default:
			continue
		}
		if newVal == current {
			continue
		}

		newVal = round4(newVal)
		cfg.SessionConfig.Weights[sessionKey] = newVal
		adjustments = append(adjustments, newAdjustment(
			"SESSION_WEIGHTS."+sessionKey,
			current, newVal,
			"session "+sessionKey+" edge="+formatEdge(bucket.Edge),
			bucket.Edge, bucket.Total,
		))
	}
	return adjustments
}

// updateSkipList puts deeply negative scale/session combos on the skip
// list and takes them off once their edge recovers to break-even.
func (r *StrategyRefiner) updateSkipList(analysis Analysis) {
	comboStats, ok := analysis["scale_session"]
	if !ok {
		return
	}

	for comboKey, bucket := range comboStats {
		switch {
		case bucket.Total >= 20 && bucket.Edge < -0.15:
			if _, present := r.SkipCombos[comboKey]; !present {
				log.Warn().
					Str("combo", comboKey).
					Float64("edge", bucket.Edge).
					Int("sample", bucket.Total).
					Msg("combo added to skip list")
			}
			r.SkipCombos[comboKey] = struct{}{}
		case bucket.Edge >= 0:
			delete(r.SkipCombos, comboKey)
		}
	}
}

func (r *StrategyRefiner) flagStopModes(analysis Analysis) []Adjustment {
	var adjustments []Adjustment
	stopStats, ok := analysis["stop_mode"]
	if !ok {
		return adjustments
	}

	for mode, bucket := range stopStats {
		if bucket.SampleSufficient && bucket.Edge < -0.1 {
			reason := "stop mode '" + mode + "' has negative edge=" + formatEdge(bucket.Edge) +
				" (n=" + strconv.Itoa(bucket.Total) +
				", wr=" + strconv.FormatFloat(bucket.WinRate*100, 'f', 1, 64) + "%)"
			adjustments = append(adjustments, newAdjustment(
				"WARNING:stop_mode."+mode, 0, 0, reason, bucket.Edge, bucket.Total,
			))
		}
	}
	return adjustments
}

type refinerState struct {
	AdjustmentHistory []Adjustment `json:"adjustment_history"`
	SkipCombos        []string     `json:"skip_combos"`
}

func (r *StrategyRefiner) saveState() {
	if r.refinementsFile == "" {
		return
	}
	state := refinerState{AdjustmentHistory: r.AdjustmentHistory}
	for combo := range r.SkipCombos {
		state.SkipCombos = append(state.SkipCombos, combo)
	}

	if err := os.MkdirAll(filepath.Dir(r.refinementsFile), 0o755); err != nil {
		log.Warn().Err(err).Msg("cannot create refinements directory")
		return
	}
	if data, err := json.MarshalIndent(state, "", "  "); err == nil {
		if err := os.WriteFile(r.refinementsFile, data, 0o644); err != nil {
			log.Warn().Err(err).Str("file", r.refinementsFile).Msg("cannot persist refinements")
		}
	}
}

func (r *StrategyRefiner) loadState() {
	if r.refinementsFile == "" {
		return
	}
	data, err := os.ReadFile(r.refinementsFile)
	if err != nil {
		return
	}
	var state refinerState
	if err := json.Unmarshal(data, &state); err != nil {
		return
	}
	r.AdjustmentHistory = state.AdjustmentHistory
	for _, combo := range state.SkipCombos {
		r.SkipCombos[combo] = struct{}{}
	}
}

func formatEdge(edge float64) string {
	s := strconv.FormatFloat(edge, 'f', 4, 64)
	if edge >= 0 {
		s = "+" + s
	}
	return s
}

