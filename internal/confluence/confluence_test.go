package confluence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ict-trading-bot/config"
	"ict-trading-bot/internal/candles"
	"ict-trading-bot/internal/market"
	"ict-trading-bot/internal/sessions"
	"ict-trading-bot/internal/structure"
)

// waveSeries builds rising waves with pullbacks so structure analysis finds
// swings and bullish BOS events.
func waveSeries(start float64, interval time.Duration) candles.Series {
	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	var cs []candles.Candle
	v := start
	ts := base
	push := func(o, h, l, c float64) {
		cs = append(cs, candles.Candle{Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: 100})
		ts = ts.Add(interval)
	}

	for wave := 0; wave < 4; wave++ {
		for i := 0; i < 6; i++ {
			push(v, v+6, v-1, v+5)
			v += 5
		}
		for i := 0; i < 2; i++ {
			push(v, v+1, v-1, v)
		}
		for i := 0; i < 6; i++ {
			push(v, v+1, v-4, v-3)
			v -= 3
		}
	}
	for i := 0; i < 8; i++ {
		push(v, v+8, v-1, v+7)
		v += 7
	}
	return candles.NewSeries(cs)
}

func bearishWaveSeries(start float64, interval time.Duration) candles.Series {
	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	var cs []candles.Candle
	v := start
	ts := base
	push := func(o, h, l, c float64) {
		cs = append(cs, candles.Candle{Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: 100})
		ts = ts.Add(interval)
	}

	for wave := 0; wave < 4; wave++ {
		for i := 0; i < 6; i++ {
			push(v, v+1, v-6, v-5)
			v -= 5
		}
		for i := 0; i < 2; i++ {
			push(v, v+1, v-1, v)
		}
		for i := 0; i < 6; i++ {
			push(v, v+4, v-1, v+3)
			v += 3
		}
	}
	for i := 0; i < 8; i++ {
		push(v, v+1, v-8, v-7)
		v -= 7
	}
	return candles.NewSeries(cs)
}

func allTimeframeData(builder func(float64, time.Duration) candles.Series) map[candles.Timeframe]candles.Series {
	return map[candles.Timeframe]candles.Series{
		candles.M1:  builder(100, time.Minute),
		candles.M5:  builder(100, 5*time.Minute),
		candles.M15: builder(100, 15*time.Minute),
		candles.H1:  builder(100, time.Hour),
		candles.H4:  builder(100, 4*time.Hour),
		candles.D1:  builder(100, 24*time.Hour),
	}
}

func londonTime() time.Time {
	// 3am ET in January.
	return time.Date(2024, 1, 17, 8, 0, 0, 0, time.UTC)
}

func TestCheckAlignmentAgrees(t *testing.T) {
	cfg := config.TestDefault()
	scale := NewScale("5m", cfg)

	direction, aligned := scale.CheckAlignment(allTimeframeData(waveSeries))
	require.True(t, aligned, "uniformly bullish timeframes should align")
	assert.Equal(t, market.TrendBullish, direction)
	assert.Len(t, scale.LastAlignment, len(scale.AlignmentTFs))
}

func TestCheckAlignmentBlocksOnConflict(t *testing.T) {
	cfg := config.TestDefault()
	scale := NewScale("5m", cfg)

	data := allTimeframeData(waveSeries)
	data[candles.H1] = bearishWaveSeries(500, time.Hour)

	_, aligned := scale.CheckAlignment(data)
	assert.False(t, aligned, "conflicting H1 trend should block alignment")
}

func TestCheckAlignmentBlocksOnMissingData(t *testing.T) {
	cfg := config.TestDefault()
	scale := NewScale("5m", cfg)

	data := allTimeframeData(waveSeries)
	delete(data, candles.H4)

	_, aligned := scale.CheckAlignment(data)
	assert.False(t, aligned)
}

func TestDetectJudasSwing(t *testing.T) {
	cfg := config.TestDefault()
	scale := NewScale("5m", cfg)

	// Price dipped below the pivot and reclaimed it.
	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	cs := []candles.Candle{
		{Timestamp: base, Open: 100, High: 101, Low: 99, Close: 100, Volume: 100},
		{Timestamp: base.Add(time.Minute), Open: 100, High: 100.5, Low: 94, Close: 95, Volume: 100},
		{Timestamp: base.Add(2 * time.Minute), Open: 95, High: 103, Low: 95, Close: 102, Volume: 100},
	}
	series := candles.NewSeries(cs)
	dr := structure.DealingRange{High: 110, Low: 90, Equilibrium: 100}

	assert.True(t, scale.detectJudasSwing(series, market.TrendBullish, 98, dr),
		"sweep below 98 and close back above is a Judas swing")
	assert.False(t, scale.detectJudasSwing(series, market.TrendNeutral, 98, dr))
	assert.False(t, scale.detectJudasSwing(candles.Series{}, market.TrendBullish, 98, dr))
}

func TestDetectJudasSwingDiscountFallback(t *testing.T) {
	cfg := config.TestDefault()
	scale := NewScale("5m", cfg)

	// No sweep, but price sits in the discount half of the range.
	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	cs := []candles.Candle{
		{Timestamp: base, Open: 96, High: 97, Low: 95, Close: 96, Volume: 100},
	}
	series := candles.NewSeries(cs)
	dr := structure.DealingRange{High: 110, Low: 90, Equilibrium: 100}

	assert.True(t, scale.detectJudasSwing(series, market.TrendBullish, 94, dr))
}

func TestEvaluateAllProducesCoherentSignals(t *testing.T) {
	cfg := config.TestDefault()
	engine := NewEngine(cfg)
	sm := sessions.NewManager(cfg)
	now := londonTime()
	sm.Update(cfg, now)

	signals := engine.EvaluateAll(allTimeframeData(waveSeries), 0, sm, cfg, now)
	for _, s := range signals {
		assert.Greater(t, s.Confidence, 0.0)
		assert.LessOrEqual(t, s.Confidence, 1.0)
		assert.GreaterOrEqual(t, s.Confidence, cfg.ScaleConfigs[s.Scale].MinConfidence)
		if s.Direction == market.Long {
			assert.Less(t, s.StopLoss, s.EntryPrice, "long stop below entry: %s", s.Reason)
		} else {
			assert.Greater(t, s.StopLoss, s.EntryPrice, "short stop above entry: %s", s.Reason)
		}
		assert.GreaterOrEqual(t, s.CrossScaleConfluence, 1)
		assert.NotEmpty(t, s.TPLabel)
	}

	// Sorted by confidence descending.
	for i := 1; i < len(signals); i++ {
		assert.GreaterOrEqual(t, signals[i-1].Confidence, signals[i].Confidence)
	}
}

func TestAlignmentSummaries(t *testing.T) {
	cfg := config.TestDefault()
	engine := NewEngine(cfg)

	summary := engine.AlignmentSummaries(allTimeframeData(waveSeries))
	require.Len(t, summary, len(cfg.ScaleConfigs))
	for key, s := range summary {
		assert.Equal(t, cfg.ScaleConfigs[key].Name, s.Name)
		if s.Aligned {
			assert.NotEqual(t, "no alignment", s.Direction)
			assert.NotEmpty(t, s.Details)
		}
	}
}

func TestToTradeSignal(t *testing.T) {
	s := Signal{
		Direction:     market.Long,
		EntryPrice:    100,
		StopLoss:      95,
		TakeProfit:    115,
		CISDConfirmed: true,
		Confidence:    0.72,
		Session:       "london",
		SessionWeight: 1.5,
		Reason:        "test",
	}
	ts := s.ToTradeSignal()
	assert.Equal(t, market.Long, ts.Direction)
	assert.Equal(t, 100.0, ts.EntryPrice)
	assert.NotNil(t, ts.PDAEngaged)
	assert.True(t, ts.CISDConfirmed)
}
