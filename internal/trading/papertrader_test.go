package trading

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ict-trading-bot/config"
	"ict-trading-bot/internal/market"
)

func newTestTrader(t *testing.T) *PaperTrader {
	t.Helper()
	cfg := config.TestDefault()
	trader := NewFreshPaperTrader(cfg)
	trader.SimTime = time.Date(2024, 1, 17, 14, 0, 0, 0, time.UTC)
	return trader
}

func longSignal() *TradeSignal {
	return &TradeSignal{
		Direction:  market.Long,
		EntryPrice: 100000,
		StopLoss:   99000,
		TakeProfit: 103000,
		Confidence: 0.8,
		Reason:     "[5m] test entry",
	}
}

func shortSignal() *TradeSignal {
	return &TradeSignal{
		Direction:  market.Short,
		EntryPrice: 100000,
		StopLoss:   101000,
		TakeProfit: 97000,
		Confidence: 0.8,
		Reason:     "[5m] test entry",
	}
}

func TestOpenPosition(t *testing.T) {
	trader := newTestTrader(t)

	pos, ok := trader.OpenPosition(longSignal(), "5m", nil)
	require.True(t, ok)
	assert.Equal(t, uint64(1), pos.ID)
	assert.Equal(t, market.Long, pos.Direction)
	assert.Equal(t, market.StatusOpen, pos.Status)
	assert.InDelta(t, 100000.0, pos.EntryPrice, 1e-9)
	assert.Greater(t, pos.SizeBTC, 0.0)
	assert.InDelta(t, pos.SizeBTC, pos.RemainingSizeBTC, 1e-9)
	assert.Len(t, trader.OpenPositions(), 1)
}

func TestOpenPositionRejectsZeroStopDistance(t *testing.T) {
	trader := newTestTrader(t)
	signal := longSignal()
	signal.StopLoss = signal.EntryPrice

	_, ok := trader.OpenPosition(signal, "5m", nil)
	assert.False(t, ok)
}

func TestRiskCappedByMaxRiskPct(t *testing.T) {
	trader := newTestTrader(t)

	pos, ok := trader.OpenPosition(longSignal(), "5m", nil)
	require.True(t, ok)

	// Default risk cap is 2% of balance; stop distance is 1000.
	maxRisk := trader.Balance * 0.02
	riskTaken := pos.SizeBTC * (pos.EntryPrice - pos.StopLoss)
	assert.LessOrEqual(t, riskTaken, maxRisk*1.0001)
}

func TestStopLossHitLong(t *testing.T) {
	trader := newTestTrader(t)
	before := trader.Balance

	pos, ok := trader.OpenPosition(longSignal(), "5m", nil)
	require.True(t, ok)
	size := pos.SizeBTC

	closed := trader.CheckPositions(98500)
	require.Len(t, closed, 1)
	assert.Equal(t, market.StatusClosedSL, closed[0].Status)
	// The stop fills at the stop price, not the tick that pierced it.
	assert.InDelta(t, 99000.0, closed[0].ExitPrice, 1e-9)
	assert.Less(t, closed[0].PnL, 0.0)
	assert.InDelta(t, before-size*1000, trader.Balance, 0.01)
	assert.Len(t, trader.TradeHistory, 1)
}

func TestStopLossHitShort(t *testing.T) {
	trader := newTestTrader(t)

	_, ok := trader.OpenPosition(shortSignal(), "5m", nil)
	require.True(t, ok)

	closed := trader.CheckPositions(101500)
	require.Len(t, closed, 1)
	assert.Equal(t, market.StatusClosedSL, closed[0].Status)
	assert.InDelta(t, 101000.0, closed[0].ExitPrice, 1e-9)
	assert.Less(t, closed[0].PnL, 0.0)
}

func TestTakeProfitHitWithoutLadder(t *testing.T) {
	trader := newTestTrader(t)
	before := trader.Balance

	_, ok := trader.OpenPosition(longSignal(), "5m", nil)
	require.True(t, ok)

	closed := trader.CheckPositions(103000)
	require.Len(t, closed, 1)
	assert.Equal(t, market.StatusClosedTP, closed[0].Status)
	assert.Greater(t, closed[0].PnL, 0.0)
	assert.Greater(t, trader.Balance, before)
	assert.Empty(t, trader.OpenPositions())
}

func TestStopLossWinsWhenBothSidesTouched(t *testing.T) {
	trader := newTestTrader(t)

	signal := longSignal()
	// A stop above the current tick and a target below it would both
	// trigger on the same check.
	signal.StopLoss = 99000
	signal.TakeProfit = 98000

	_, ok := trader.OpenPosition(signal, "5m", nil)
	require.True(t, ok)

	closed := trader.CheckPositions(98500)
	require.Len(t, closed, 1)
	assert.Equal(t, market.StatusClosedSL, closed[0].Status)
}

func TestMaxOpenPositions(t *testing.T) {
	cfg := config.TestDefault()
	trader := NewFreshPaperTrader(cfg)
	trader.SimTime = time.Date(2024, 1, 17, 14, 0, 0, 0, time.UTC)

	for i := 0; i < cfg.RiskConfig.MaxOpenPositions; i++ {
		require.True(t, trader.CanOpenPosition(cfg))
		_, ok := trader.OpenPosition(longSignal(), "5m", nil)
		require.True(t, ok)
	}
	assert.False(t, trader.CanOpenPosition(cfg))
}

func TestDailyLossLimitBlocksEntries(t *testing.T) {
	cfg := config.TestDefault()
	trader := NewFreshPaperTrader(cfg)
	trader.SimTime = time.Date(2024, 1, 17, 14, 0, 0, 0, time.UTC)

	trader.DailyPnLDate = "2024-01-17"
	trader.DailyPnL = -(cfg.RiskConfig.MaxDailyLoss*trader.Balance + 1)
	assert.False(t, trader.CanOpenPosition(cfg))

	// A stale date means the loss was yesterday's.
	trader.DailyPnLDate = "2024-01-16"
	assert.True(t, trader.CanOpenPosition(cfg))
}

func ladderSignal(aggressive bool) *TradeSignal {
	return &TradeSignal{
		Direction:     market.Long,
		EntryPrice:    100000,
		StopLoss:      99000,
		TakeProfit:    104500,
		CISDConfirmed: aggressive,
		Confidence:    0.8,
		Reason:        "[5m] ladder entry",
		TPLevels: []TPLevelInfo{
			{Label: "SD -1", Price: 101000, Level: -1.0},
			{Label: "SD -2", Price: 102000, Level: -2.0},
			{Label: "SD -4", Price: 104000, Level: -4.0},
			{Label: "SD -4.5", Price: 104500, Level: -4.5},
		},
	}
}

func TestPartialLadderBuiltFromSignal(t *testing.T) {
	trader := newTestTrader(t)

	pos, ok := trader.OpenPosition(ladderSignal(false), "5m", nil)
	require.True(t, ok)
	require.Len(t, pos.TPTargets, 4)

	// Conservative allocation front-loads the first rung.
	assert.InDelta(t, 0.60, pos.TPTargets[0].Pct, 1e-9)
	assert.InDelta(t, 101000.0, pos.TPTargets[0].Price, 1e-9)
	assert.InDelta(t, 0.10, pos.TPTargets[3].Pct, 1e-9)

	aggressive, ok := trader.OpenPosition(ladderSignal(true), "5m", nil)
	require.True(t, ok)
	assert.InDelta(t, 0.10, aggressive.TPTargets[0].Pct, 1e-9)
	assert.InDelta(t, 0.45, aggressive.TPTargets[3].Pct, 1e-9)
}

func TestPartialLadderRemainingShrinksToZero(t *testing.T) {
	trader := newTestTrader(t)

	pos, ok := trader.OpenPosition(ladderSignal(false), "5m", nil)
	require.True(t, ok)
	remaining := pos.RemainingSizeBTC

	for _, price := range []float64{101000, 102000, 104000} {
		closed := trader.CheckPositions(price)
		assert.Empty(t, closed)
		open := trader.OpenPositions()
		require.Len(t, open, 1)
		assert.LessOrEqual(t, open[0].RemainingSizeBTC, remaining)
		remaining = open[0].RemainingSizeBTC
	}

	closed := trader.CheckPositions(104500)
	require.Len(t, closed, 1)
	assert.Equal(t, market.StatusClosedTP, closed[0].Status)
	assert.InDelta(t, 0.0, closed[0].RemainingSizeBTC, 1e-9)
	assert.Len(t, closed[0].PartialExits, 4)
	assert.Greater(t, closed[0].PnL, 0.0)
	assert.Empty(t, trader.OpenPositions())
}

func TestPartialLadderGapFillsAllRungs(t *testing.T) {
	trader := newTestTrader(t)

	_, ok := trader.OpenPosition(ladderSignal(false), "5m", nil)
	require.True(t, ok)

	// One tick through every rung closes the whole position.
	closed := trader.CheckPositions(105000)
	require.Len(t, closed, 1)
	assert.Equal(t, market.StatusClosedTP, closed[0].Status)
	assert.Len(t, closed[0].PartialExits, 4)
}

func TestTradeRecordUpdatedOnClose(t *testing.T) {
	trader := newTestTrader(t)

	metadata := &TradeMetadata{Scale: "5m", Direction: "long"}
	pos, ok := trader.OpenPosition(longSignal(), "5m", metadata)
	require.True(t, ok)

	trader.SimTime = trader.SimTime.Add(30 * time.Minute)
	closed := trader.CheckPositions(103000)
	require.Len(t, closed, 1)

	record, found := trader.TradeRecords[pos.ID]
	require.True(t, found)
	assert.Equal(t, "win", record.Outcome)
	assert.Greater(t, record.PnL, 0.0)
	assert.InDelta(t, 1800.0, record.HoldDurationSeconds, 1e-9)
}

func TestGetStats(t *testing.T) {
	trader := newTestTrader(t)

	empty := trader.GetStats()
	assert.Equal(t, 0, empty.TotalTrades)
	assert.True(t, empty.KellyUsingDefault)

	_, ok := trader.OpenPosition(longSignal(), "5m", nil)
	require.True(t, ok)
	trader.CheckPositions(103000)

	_, ok = trader.OpenPosition(longSignal(), "5m", nil)
	require.True(t, ok)
	trader.CheckPositions(98000)

	stats := trader.GetStats()
	assert.Equal(t, 2, stats.TotalTrades)
	assert.InDelta(t, 50.0, stats.WinRate, 1e-9)
	assert.Greater(t, stats.AvgWin, 0.0)
	assert.Less(t, stats.AvgLoss, 0.0)
	assert.GreaterOrEqual(t, stats.BestTrade, stats.WorstTrade)
}

func TestKellyByScale(t *testing.T) {
	trader := newTestTrader(t)

	results := trader.KellyByScale()
	require.Len(t, results, 3)
	for _, scale := range []string{"1m", "5m", "15m"} {
		result, ok := results[scale]
		require.True(t, ok)
		assert.True(t, result.UsingDefault)
	}
}

func TestStateRoundTrip(t *testing.T) {
	cfg := config.TestDefault()
	cfg.LoggingConfig.LogDir = t.TempDir()

	trader := NewPaperTrader(cfg)
	trader.SimTime = time.Date(2024, 1, 17, 14, 0, 0, 0, time.UTC)

	metadata := &TradeMetadata{Scale: "5m", Direction: "long"}
	_, ok := trader.OpenPosition(longSignal(), "5m", metadata)
	require.True(t, ok)
	trader.CheckPositions(103000)

	restored := NewPaperTrader(cfg)
	assert.InDelta(t, trader.Balance, restored.Balance, 1e-9)
	assert.Equal(t, trader.TradeCounter, restored.TradeCounter)
	require.Len(t, restored.TradeHistory, 1)
	assert.Equal(t, market.StatusClosedTP, restored.TradeHistory[0].Status)
	require.Len(t, restored.TradeRecords, 1)
}
