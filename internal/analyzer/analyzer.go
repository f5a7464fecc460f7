// Package analyzer buckets closed trades along the dimensions recorded at
// entry time and measures the expectancy of each bucket. The refiner feeds
// on these stats to nudge strategy parameters.
package analyzer

import (
	"math"
	"sort"
	"strconv"

	"ict-trading-bot/internal/trading"
)

var dimensions = []string{
	"scale",
	"session",
	"day_of_week",
	"cisd_status",
	"stop_mode",
	"pda_type",
	"confidence_bucket",
	"cross_scale_confluence",
	"weekly_profile",
	"tp_label",
	"scale_session",
}

// BucketStats is the performance of one value within one dimension.
type BucketStats struct {
	Dimension        string  `json:"dimension"`
	Value            string  `json:"value"`
	Total            int     `json:"total"`
	Wins             int     `json:"wins"`
	Losses           int     `json:"losses"`
	WinRate          float64 `json:"win_rate"`
	AvgPnL           float64 `json:"avg_pnl"`
	TotalPnL         float64 `json:"total_pnl"`
	PayoffRatio      float64 `json:"payoff_ratio"`
	Edge             float64 `json:"edge"`
	SampleSufficient bool    `json:"sample_sufficient"`
}

// Analysis maps dimension -> bucket value -> stats.
type Analysis map[string]map[string]BucketStats

type TradeAnalyzer struct {
	MinSample int
}

func NewTradeAnalyzer(minSample int) *TradeAnalyzer {
	return &TradeAnalyzer{MinSample: minSample}
}

// Analyze buckets all closed trades along every dimension. Records without
// a win or loss outcome are still open and are skipped.
func (a *TradeAnalyzer) Analyze(records []trading.TradeRecord) Analysis {
	closed := make([]trading.TradeRecord, 0, len(records))
	for _, r := range records {
		if r.Outcome == "win" || r.Outcome == "loss" {
			closed = append(closed, r)
		}
	}

	analysis := make(Analysis, len(dimensions))
	for _, dim := range dimensions {
		analysis[dim] = a.analyzeDimension(closed, dim)
	}
	return analysis
}

// NegativeEdgeBuckets returns losing buckets with enough samples, worst
// first.
func (a *TradeAnalyzer) NegativeEdgeBuckets(analysis Analysis) []BucketStats {
	var out []BucketStats
	for _, dimStats := range analysis {
		for _, bucket := range dimStats {
			if bucket.SampleSufficient && bucket.Edge < 0 {
				out = append(out, bucket)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Edge < out[j].Edge })
	return out
}

// StrongestBuckets returns winning buckets with enough samples, best first.
func (a *TradeAnalyzer) StrongestBuckets(analysis Analysis) []BucketStats {
	var out []BucketStats
	for _, dimStats := range analysis {
		for _, bucket := range dimStats {
			if bucket.SampleSufficient && bucket.Edge > 0 {
				out = append(out, bucket)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Edge > out[j].Edge })
	return out
}

func (a *TradeAnalyzer) analyzeDimension(records []trading.TradeRecord, dimension string) map[string]BucketStats {
	buckets := make(map[string][]trading.TradeRecord)
	for _, r := range records {
		key, ok := extractKey(r, dimension)
		if !ok {
			continue
		}
		buckets[key] = append(buckets[key], r)
	}

	results := make(map[string]BucketStats, len(buckets))
	for value, trades := range buckets {
		results[value] = a.computeStats(dimension, value, trades)
	}
	return results
}

func extractKey(record trading.TradeRecord, dimension string) (string, bool) {
	m := record.Metadata
	switch dimension {
	case "scale":
		return m.Scale, true
	case "session":
		return m.Session, true
	case "day_of_week":
		return m.DayOfWeek, true
	case "cisd_status":
		if m.CISDConfirmed {
			return "confirmed", true
		}
		return "unconfirmed", true
	case "stop_mode":
		return orUnknown(m.StopMode, "unknown"), true
	case "pda_type":
		return orUnknown(m.PDAType, "none"), true
	case "confidence_bucket":
		switch {
		case m.Confidence >= 0.8:
			return "high_0.8+", true
		case m.Confidence >= 0.6:
			return "mid_0.6-0.8", true
		case m.Confidence >= 0.4:
			return "low_0.4-0.6", true
		default:
			return "very_low_<0.4", true
		}
	case "cross_scale_confluence":
		return strconv.Itoa(m.CrossScaleConfluence), true
	case "weekly_profile":
		return orUnknown(m.WeeklyProfile, "unknown"), true
	case "tp_label":
		return orUnknown(m.TPLabel, "unknown"), true
	case "scale_session":
		return m.Scale + "_" + m.Session, true
	}
	return "", false
}

func orUnknown(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func (a *TradeAnalyzer) computeStats(dimension, value string, trades []trading.TradeRecord) BucketStats {
	total := len(trades)
	var wins int
	var totalPnL, winSum, lossSum float64
	for _, t := range trades {
		totalPnL += t.PnL
		if t.Outcome == "win" {
			wins++
			winSum += t.PnL
		} else {
			lossSum += t.PnL
		}
	}
	losses := total - wins

	var winRate, avgPnL, avgWin, avgLoss float64
	if total > 0 {
		winRate = float64(wins) / float64(total)
		avgPnL = totalPnL / float64(total)
	}
	if wins > 0 {
		avgWin = winSum / float64(wins)
	}
	if losses > 0 {
		avgLoss = math.Abs(lossSum / float64(losses))
	}

	var payoffRatio float64
	if avgLoss > 0 {
		payoffRatio = avgWin / avgLoss
	}

	var edge float64
	if total > 0 {
		edge = winRate*avgWin - (1-winRate)*avgLoss
	}

	return BucketStats{
		Dimension:        dimension,
		Value:            value,
		Total:            total,
		Wins:             wins,
		Losses:           losses,
		WinRate:          round4(winRate),
		AvgPnL:           round4(avgPnL),
		TotalPnL:         round4(totalPnL),
		PayoffRatio:      round4(payoffRatio),
		Edge:             round4(edge),
		SampleSufficient: total >= a.MinSample,
	}
}

func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}
