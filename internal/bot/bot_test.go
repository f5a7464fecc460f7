package bot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ict-trading-bot/config"
	"ict-trading-bot/internal/analyzer"
	"ict-trading-bot/internal/exchange"
	"ict-trading-bot/internal/market"
	"ict-trading-bot/internal/trading"
)

func newTestBot(t *testing.T) (*Bot, *exchange.MockProvider) {
	t.Helper()
	cfg := config.TestDefault()
	cfg.LoggingConfig.LogDir = t.TempDir()
	provider := &exchange.MockProvider{Price: 100000}
	b := New(cfg, provider, nil, zerolog.Nop())
	return b, provider
}

func openLong(t *testing.T, b *Bot, scale string) *trading.Position {
	t.Helper()
	signal := &trading.TradeSignal{
		Direction:  market.Long,
		EntryPrice: 100000,
		StopLoss:   99000,
		TakeProfit: 103000,
		Confidence: 0.7,
		Session:    "london",
	}
	pos, ok := b.trader.OpenPosition(signal, scale, &trading.TradeMetadata{Scale: scale, Session: "london"})
	require.True(t, ok)
	b.scalePositions[scale] = pos.ID
	return pos
}

func TestCheckPositionsClosesAndSetsCooldown(t *testing.T) {
	b, _ := newTestBot(t)
	pos := openLong(t, b, "5m")

	b.lastPrice = 98500 // through the stop
	b.checkPositions(context.Background())

	assert.NotContains(t, b.scalePositions, "5m")
	until, ok := b.scaleCooldown["5m"]
	require.True(t, ok)
	assert.True(t, until.After(time.Now().UTC()))

	record, ok := b.trader.TradeRecords[pos.ID]
	require.True(t, ok)
	assert.Equal(t, "loss", record.Outcome)
}

func TestCheckPositionsFallsBackToProviderPrice(t *testing.T) {
	b, provider := newTestBot(t)
	openLong(t, b, "1m")

	provider.Price = 103500 // above take profit
	b.lastPrice = 0
	b.checkPositions(context.Background())

	assert.Empty(t, b.trader.OpenPositions())
	assert.Equal(t, 1, provider.PriceCount)
}

func TestTrailTimeframeMatchesScale(t *testing.T) {
	b, _ := newTestBot(t)
	b.scalePositions["1m"] = 4
	b.scalePositions["15m"] = 9

	assert.Equal(t, "1m", string(b.trailTimeframe(4)))
	assert.Equal(t, "15m", string(b.trailTimeframe(9)))
	assert.Equal(t, "5m", string(b.trailTimeframe(77))) // unknown position

	b.cfg.TradingConfig.TrailTimeframe = "15m"
	assert.Equal(t, "15m", string(b.trailTimeframe(4)))
}

func TestScanScaleRequiresWeeklyBias(t *testing.T) {
	b, _ := newTestBot(t)
	b.weeklyBias = nil
	b.scanScale(context.Background(), "5m", time.Date(2024, 1, 16, 15, 0, 0, 0, time.UTC))
	assert.Empty(t, b.trader.OpenPositions())
}

func TestRecentAdjustmentsHonorsLimit(t *testing.T) {
	b, _ := newTestBot(t)
	b.refiner.AdjustmentHistory = nil
	for i := 0; i < 5; i++ {
		b.refiner.AdjustmentHistory = append(b.refiner.AdjustmentHistory, buildAdj(i))
	}

	assert.Len(t, b.RecentAdjustments(3), 3)
	assert.Len(t, b.RecentAdjustments(10), 5)
	// Newest entries are kept.
	got := b.RecentAdjustments(2)
	assert.Equal(t, 4.0, got[1].NewValue)
}

func buildAdj(i int) analyzer.Adjustment {
	return analyzer.Adjustment{Parameter: "SESSION_WEIGHTS.asia", NewValue: float64(i)}
}

func TestIsWarning(t *testing.T) {
	assert.True(t, isWarning("WARNING:stop_mode.wick"))
	assert.False(t, isWarning("SESSION_WEIGHTS.asia"))
}

func TestFormatSigned(t *testing.T) {
	assert.Equal(t, "+0.0500", formatSigned(0.05))
	assert.Equal(t, "-0.1200", formatSigned(-0.12))
}

func TestStateFilesLandInLogDir(t *testing.T) {
	b, _ := newTestBot(t)
	openLong(t, b, "5m")
	b.lastPrice = 98500
	b.checkPositions(context.Background())

	_, err := os.Stat(filepath.Join(b.cfg.LoggingConfig.LogDir, "paper_trades.json"))
	assert.NoError(t, err)
}
