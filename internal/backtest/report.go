package backtest

import (
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"

	"ict-trading-bot/config"
	"ict-trading-bot/internal/trading"
)

// Report summarizes a completed backtest run.
type Report struct {
	Start time.Time
	End   time.Time
	Days  float64

	InitialBalance float64
	FinalBalance   float64
	TotalPnL       float64
	TotalReturnPct float64

	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	AvgWin        float64
	AvgLoss       float64
	ProfitFactor  float64
	BestTrade     float64
	WorstTrade    float64
	AvgTrade      float64

	MaxDrawdown    float64
	MaxDrawdownPct float64
	SharpeRatio    float64

	TotalSignals    int
	SignalsFiltered int

	ScaleStats   map[string]GroupStats
	SessionStats map[string]GroupStats

	EquityCurve []EquityPoint
}

// GroupStats aggregates trades sharing one attribute value.
type GroupStats struct {
	Trades   int
	Wins     int
	Losses   int
	WinRate  float64
	TotalPnL float64
	AvgPnL   float64
}

func buildReport(trader *trading.PaperTrader, cfg *config.Config, start, end time.Time,
	equityCurve []EquityPoint, maxDrawdown, maxDrawdownPct float64,
	totalSignals, signalsFiltered int) *Report {

	initial := cfg.TradingConfig.InitialBalance
	finalBalance := trader.Balance
	totalPnL := finalBalance - initial

	history := trader.TradeHistory
	totalTrades := len(history)

	var winSum, lossSum float64
	var winning, losing int
	best, worst := math.Inf(-1), math.Inf(1)
	for _, t := range history {
		best = math.Max(best, t.PnL)
		worst = math.Min(worst, t.PnL)
		if t.PnL > 0 {
			winning++
			winSum += t.PnL
		} else {
			losing++
			lossSum += t.PnL
		}
	}

	var winRate, avgWin, avgLoss, avgTrade, profitFactor float64
	if totalTrades > 0 {
		winRate = float64(winning) / float64(totalTrades) * 100
		avgTrade = totalPnL / float64(totalTrades)
	} else {
		best, worst = 0, 0
	}
	if winning > 0 {
		avgWin = winSum / float64(winning)
	}
	if losing > 0 {
		avgLoss = lossSum / float64(losing)
	}
	switch {
	case math.Abs(lossSum) > 0:
		profitFactor = winSum / math.Abs(lossSum)
	case winning > 0:
		profitFactor = math.Inf(1)
	}

	return &Report{
		Start:           start,
		End:             end,
		Days:            end.Sub(start).Hours() / 24,
		InitialBalance:  initial,
		FinalBalance:    finalBalance,
		TotalPnL:        totalPnL,
		TotalReturnPct:  percentOf(totalPnL, initial),
		TotalTrades:     totalTrades,
		WinningTrades:   winning,
		LosingTrades:    losing,
		WinRate:         winRate,
		AvgWin:          avgWin,
		AvgLoss:         avgLoss,
		ProfitFactor:    profitFactor,
		BestTrade:       best,
		WorstTrade:      worst,
		AvgTrade:        avgTrade,
		MaxDrawdown:     maxDrawdown,
		MaxDrawdownPct:  maxDrawdownPct,
		SharpeRatio:     computeSharpe(equityCurve),
		TotalSignals:    totalSignals,
		SignalsFiltered: signalsFiltered,
		ScaleStats:      groupRecords(trader.TradeRecords, func(m trading.TradeMetadata) string { return m.Scale }),
		SessionStats:    groupRecords(trader.TradeRecords, func(m trading.TradeMetadata) string { return m.Session }),
		EquityCurve:     equityCurve,
	}
}

func percentOf(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return part / whole * 100
}

func groupRecords(records map[uint64]*trading.TradeRecord, key func(trading.TradeMetadata) string) map[string]GroupStats {
	grouped := make(map[string]GroupStats)
	for _, record := range records {
		if record.Outcome != "win" && record.Outcome != "loss" {
			continue
		}
		stats := grouped[key(record.Metadata)]
		stats.Trades++
		stats.TotalPnL += record.PnL
		if record.PnL > 0 {
			stats.Wins++
		} else {
			stats.Losses++
		}
		grouped[key(record.Metadata)] = stats
	}
	for k, stats := range grouped {
		if stats.Trades > 0 {
			stats.WinRate = float64(stats.Wins) / float64(stats.Trades) * 100
			stats.AvgPnL = stats.TotalPnL / float64(stats.Trades)
		}
		grouped[k] = stats
	}
	return grouped
}

// computeSharpe annualizes the mean/stddev of daily equity returns,
// sampling the curve once per calendar day.
func computeSharpe(equityCurve []EquityPoint) float64 {
	if len(equityCurve) < 2 {
		return 0
	}

	var dailyValues []float64
	lastDay := ""
	for _, point := range equityCurve {
		day := point.Time.Format("2006-01-02")
		if day != lastDay {
			dailyValues = append(dailyValues, point.Balance)
			lastDay = day
		}
	}
	if len(dailyValues) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(dailyValues)-1)
	for i := 1; i < len(dailyValues); i++ {
		returns = append(returns, (dailyValues[i]-dailyValues[i-1])/dailyValues[i-1])
	}

	n := float64(len(returns))
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= n

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= n
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return 0
	}

	return mean / stdDev * math.Sqrt(252)
}

// WriteSummary renders the human-readable report.
func (r *Report) WriteSummary(w io.Writer) {
	line := func(format string, args ...any) { fmt.Fprintf(w, format+"\n", args...) }

	line("")
	line("======================================================================")
	line("  BACKTEST REPORT")
	line("======================================================================")
	line("  Period:      %s to %s (%.0f days)",
		r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"), r.Days)
	line("")
	line("  PERFORMANCE")
	line("  Initial:     $%.2f", r.InitialBalance)
	line("  Final:       $%.2f", r.FinalBalance)
	line("  PnL:         $%+.2f", r.TotalPnL)
	line("  Return:      %+.1f%%", r.TotalReturnPct)
	line("")
	line("  TRADES")
	line("  Total:       %d", r.TotalTrades)
	line("  Win/Loss:    %d / %d", r.WinningTrades, r.LosingTrades)
	line("  Win Rate:    %.1f%%", r.WinRate)
	line("  Avg Win:     $%+.2f", r.AvgWin)
	line("  Avg Loss:    $%+.2f", r.AvgLoss)
	line("  Best:        $%+.2f", r.BestTrade)
	line("  Worst:       $%+.2f", r.WorstTrade)
	line("  Avg Trade:   $%+.2f", r.AvgTrade)
	line("  Profit Factor: %.2f", r.ProfitFactor)
	line("")
	line("  RISK")
	line("  Max DD:      $%.2f (%.1f%%)", r.MaxDrawdown, r.MaxDrawdownPct)
	line("  Sharpe:      %.2f", r.SharpeRatio)
	line("")
	line("  SIGNALS")
	line("  Generated:   %d", r.TotalSignals)
	line("  Filtered:    %d", r.SignalsFiltered)
	conversion := 0.0
	if r.TotalSignals > 0 {
		conversion = float64(r.TotalTrades) / float64(r.TotalSignals) * 100
	}
	line("  Conversion:  %.1f%%", conversion)

	if len(r.ScaleStats) > 0 {
		line("")
		line("  BY SCALE")
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Scale", "Trades", "Win Rate", "PnL", "Avg"})
		for _, scale := range sortedKeys(r.ScaleStats) {
			stats := r.ScaleStats[scale]
			table.Append([]string{
				scale,
				fmt.Sprintf("%d", stats.Trades),
				fmt.Sprintf("%.0f%%", stats.WinRate),
				fmt.Sprintf("$%+.2f", stats.TotalPnL),
				fmt.Sprintf("$%+.2f", stats.AvgPnL),
			})
		}
		table.Render()
	}

	if len(r.SessionStats) > 0 {
		line("")
		line("  BY SESSION")
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Session", "Trades", "Win Rate", "PnL"})
		sessions := sortedKeys(r.SessionStats)
		sort.Slice(sessions, func(i, j int) bool {
			return r.SessionStats[sessions[i]].TotalPnL > r.SessionStats[sessions[j]].TotalPnL
		})
		for _, session := range sessions {
			stats := r.SessionStats[session]
			table.Append([]string{
				session,
				fmt.Sprintf("%d", stats.Trades),
				fmt.Sprintf("%.0f%%", stats.WinRate),
				fmt.Sprintf("$%+.2f", stats.TotalPnL),
			})
		}
		table.Render()
	}

	line("======================================================================")
}

func sortedKeys(m map[string]GroupStats) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
