package bot

import (
	"ict-trading-bot/internal/analyzer"
	"ict-trading-bot/internal/confluence"
	"ict-trading-bot/internal/kelly"
	"ict-trading-bot/internal/trading"
	"ict-trading-bot/internal/weekly"
)

// Accessors for the HTTP API. All take the bot lock since the trading
// loop mutates state concurrently.

func (b *Bot) Stats() trading.Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.trader.GetStats()
}

func (b *Bot) OpenPositions() []trading.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.trader.OpenPositions()
}

func (b *Bot) TradeRecords() []trading.TradeRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	records := make([]trading.TradeRecord, 0, len(b.trader.TradeRecords))
	for _, record := range b.trader.TradeRecords {
		records = append(records, *record)
	}
	return records
}

func (b *Bot) KellyByScale() map[string]kelly.Result {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.trader.KellyByScale()
}

func (b *Bot) WeeklyBias() *weekly.Bias {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.weeklyBias
}

func (b *Bot) LastPrice() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastPrice
}

func (b *Bot) RecentAdjustments(limit int) []analyzer.Adjustment {
	b.mu.RLock()
	defer b.mu.RUnlock()
	history := b.refiner.AdjustmentHistory
	if limit < len(history) {
		history = history[len(history)-limit:]
	}
	out := make([]analyzer.Adjustment, len(history))
	copy(out, history)
	return out
}

func buildMetadata(signal *confluence.Signal, scaleKey string, bias *weekly.Bias, day string) trading.TradeMetadata {
	pda := signal.PDAEngaged
	return trading.TradeMetadata{
		Scale:                scaleKey,
		Direction:            string(signal.Direction),
		Confidence:           signal.Confidence,
		Session:              signal.Session,
		SessionWeight:        signal.SessionWeight,
		CISDConfirmed:        signal.CISDConfirmed,
		PDAType:              string(pda.Type),
		PDADirection:         string(pda.Direction),
		PDAZone:              string(pda.Zone),
		PDAStrength:          pda.Strength,
		StopMode:             signal.StopMode,
		TPLabel:              signal.TPLabel,
		TPLevels:             signal.TPLevels,
		CrossScaleConfluence: signal.CrossScaleConfluence,
		Alignment:            signal.Alignment,
		WeeklyProfile:        string(bias.Profile),
		WeeklyDirection:      string(bias.Direction),
		WeeklyConfidence:     bias.Confidence,
		DayOfWeek:            day,
	}
}
