// Package bot runs the live scanning loop: refresh data, classify the
// week, scan each scale inside killzones, manage open positions, and
// periodically let the refiner adjust the strategy from closed trades.
package bot

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ict-trading-bot/config"
	"ict-trading-bot/internal/analyzer"
	"ict-trading-bot/internal/archive"
	"ict-trading-bot/internal/candles"
	"ict-trading-bot/internal/confluence"
	"ict-trading-bot/internal/exchange"
	"ict-trading-bot/internal/metrics"
	"ict-trading-bot/internal/sessions"
	"ict-trading-bot/internal/stoploss"
	"ict-trading-bot/internal/trading"
	"ict-trading-bot/internal/weekly"
)

const (
	weeklyAnalysisInterval = time.Hour
	positionCheckInterval  = 10 * time.Second
	alignmentLogInterval   = 5 * time.Minute
	dataRefreshInterval    = 5 * time.Second
	tickInterval           = time.Second
)

// Bot owns the trading loop state.
type Bot struct {
	cfg        *config.Config
	provider   exchange.Provider
	trader     *trading.PaperTrader
	session    *sessions.Manager
	classifier *weekly.Classifier
	engine     *confluence.Engine
	refiner    *analyzer.StrategyRefiner
	stopEngine *stoploss.Engine
	recorder   *metrics.Recorder
	archive    *archive.Repository
	stream     *exchange.TickerStream
	logger     zerolog.Logger

	mu                  sync.RWMutex
	weeklyBias          *weekly.Bias
	lastPrice           float64
	scalePositions      map[string]uint64
	scaleCooldown       map[string]time.Time
	dataCache           map[candles.Timeframe]candles.Series
	lastScan            map[string]time.Time
	closedSinceAnalysis int
}

// New assembles the bot. The archive repository may be nil.
func New(cfg *config.Config, provider exchange.Provider, repo *archive.Repository, logger zerolog.Logger) *Bot {
	botLogger := logger.With().Str("component", "Bot").Logger()

	mode := "LIVE TRADING"
	if cfg.TradingConfig.PaperTrade {
		mode = "PAPER TRADING"
	}
	botLogger.Info().
		Str("mode", mode).
		Str("symbol", cfg.ExchangeConfig.Symbol).
		Msg("starting up")
	for key, scale := range cfg.ScaleConfigs {
		botLogger.Info().
			Str("scale", key).
			Str("entry_tf", scale.EntryTF).
			Strs("alignment_tfs", scale.AlignmentTFs).
			Int("scan_interval", scale.ScanIntervalSec).
			Msg("entry scale")
	}

	now := time.Now().UTC()
	lastScan := make(map[string]time.Time, len(cfg.ScaleConfigs))
	for key := range cfg.ScaleConfigs {
		lastScan[key] = now
	}

	return &Bot{
		cfg:            cfg,
		provider:       provider,
		trader:         trading.NewPaperTrader(cfg),
		session:        sessions.NewManager(cfg),
		classifier:     weekly.NewClassifier(),
		engine:         confluence.NewEngine(cfg),
		refiner:        analyzer.NewStrategyRefiner(cfg),
		stopEngine:     stoploss.NewEngine(),
		recorder:       metrics.New(),
		archive:        repo,
		logger:         botLogger,
		scalePositions: make(map[string]uint64),
		scaleCooldown:  make(map[string]time.Time),
		dataCache:      make(map[candles.Timeframe]candles.Series),
		lastScan:       lastScan,
	}
}

// SetStream attaches a websocket ticker feed for fresher prices.
func (b *Bot) SetStream(stream *exchange.TickerStream) {
	b.stream = stream
}

// Run blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info().Msg("bot is now running, press ctrl+c to stop")
	b.printStatus()

	if b.stream != nil {
		go b.stream.Run(ctx)
		go b.consumePrices(ctx)
	}

	now := time.Now().UTC()
	lastWeekly := now.Add(-weeklyAnalysisInterval) // classify on the first tick
	lastRefresh := time.Time{}
	lastPositionCheck := now
	lastAlignmentLog := now
	lastAnalysis := now

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return ctx.Err()
		case <-ticker.C:
		}

		now = time.Now().UTC()
		b.session.Update(b.cfg, now)

		if now.Sub(lastRefresh) > dataRefreshInterval {
			b.refreshData(ctx)
			lastRefresh = now
		}
		if now.Sub(lastWeekly) >= weeklyAnalysisInterval {
			b.analyzeWeekly(now)
			lastWeekly = now
		}
		if now.Sub(lastPositionCheck) > positionCheckInterval {
			b.checkPositions(ctx)
			lastPositionCheck = now
		}
		if now.Sub(lastAlignmentLog) > alignmentLogInterval {
			b.logAlignment()
			lastAlignmentLog = now
		}

		for key, scale := range b.cfg.ScaleConfigs {
			interval := time.Duration(scale.ScanIntervalSec) * time.Second
			if now.Sub(b.lastScan[key]) >= interval {
				b.scanScale(ctx, key, now)
				b.lastScan[key] = now
			}
		}

		analysisInterval := time.Duration(b.cfg.LearningConfig.AnalysisIntervalSec) * time.Second
		if now.Sub(lastAnalysis) > analysisInterval || b.closedSinceAnalysis >= 10 {
			b.runAnalysis(ctx)
			lastAnalysis = now
			b.closedSinceAnalysis = 0
		}
	}
}

func (b *Bot) consumePrices(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-b.stream.Updates:
			b.mu.Lock()
			b.lastPrice = update.Price
			b.mu.Unlock()
		}
	}
}

func (b *Bot) refreshData(ctx context.Context) {
	lookback := b.cfg.TradingConfig.DataLookback
	if lookback <= 0 {
		lookback = 175
	}
	plan := []struct {
		tf    candles.Timeframe
		limit int
	}{
		{candles.M1, lookback},
		{candles.M5, lookback},
		{candles.M15, lookback},
		{candles.H1, lookback},
		{candles.D1, 14},
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range plan {
		data, err := b.provider.FetchOHLCV(ctx, p.tf, p.limit)
		if err != nil {
			b.recorder.RecordFetchError(string(p.tf))
			b.logger.Debug().Err(err).Str("tf", string(p.tf)).Msg("data refresh failed")
			continue
		}
		b.dataCache[p.tf] = data
	}

	h4, err := b.provider.Fetch4H(ctx, 200)
	if err != nil {
		b.recorder.RecordFetchError(string(candles.H4))
		b.logger.Debug().Err(err).Msg("4h refresh failed")
	} else {
		b.dataCache[candles.H4] = h4
	}
}

func (b *Bot) analyzeWeekly(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	daily, ok := b.dataCache[candles.D1]
	if !ok {
		return
	}
	htf, ok := b.dataCache[candles.H1]
	if !ok {
		return
	}

	day := b.session.DayOfWeek(now)
	bias := b.classifier.Classify(daily, htf, day, b.cfg)

	event := b.logger.Info().
		Str("profile", string(bias.Profile)).
		Str("direction", string(bias.Direction)).
		Float64("confidence", bias.Confidence)
	if bias.TGIFActive {
		event = event.Bool("tgif", true)
	}
	event.Msg("weekly profile")

	b.weeklyBias = &bias
}

func (b *Bot) logAlignment() {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.dataCache) == 0 {
		return
	}
	for key, state := range b.engine.AlignmentSummaries(b.dataCache) {
		b.logger.Info().
			Str("scale", key).
			Bool("aligned", state.Aligned).
			Str("direction", state.Direction).
			Msg("alignment")
	}
}

func (b *Bot) checkPositions(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	open := b.trader.OpenPositions()
	if len(open) == 0 {
		b.recorder.RecordState(b.trader.Balance, 0, b.lastPrice)
		return
	}

	currentPrice := b.lastPrice
	if currentPrice <= 0 {
		price, err := b.provider.CurrentPrice(ctx)
		if err != nil {
			b.logger.Error().Err(err).Msg("position check failed")
			return
		}
		currentPrice = price
	}

	// Trail stops on the timeframe matching each position's scale.
	for _, pos := range open {
		trailDF, ok := b.dataCache[b.trailTimeframe(pos.ID)]
		if !ok {
			continue
		}
		if newSL, ok := b.stopEngine.GetTrailingStop(pos.Direction, pos.StopLoss, trailDF, nil); ok {
			if b.trader.UpdateStopLoss(pos.ID, newSL.Price) {
				b.logger.Info().
					Uint64("position", pos.ID).
					Float64("old_stop", pos.StopLoss).
					Float64("new_stop", newSL.Price).
					Msg("stop trailed")
			}
		}
	}

	b.logPartialExits()

	closed := b.trader.CheckPositions(currentPrice)
	b.closedSinceAnalysis += len(closed)

	for i := range closed {
		pos := &closed[i]
		result := "LOSS"
		outcome := "loss"
		if pos.PnL > 0 {
			result = "WIN"
			outcome = "win"
		}
		b.logger.Info().
			Uint64("position", pos.ID).
			Str("result", result).
			Int("partials", len(pos.PartialExits)).
			Float64("pnl", pos.PnL).
			Float64("entry", pos.EntryPrice).
			Float64("exit", pos.ExitPrice).
			Msg("position closed")

		for key, pid := range b.scalePositions {
			if pid != pos.ID {
				continue
			}
			delete(b.scalePositions, key)
			cooldown := time.Duration(b.cfg.TradingConfig.CooldownMinutes) * time.Minute
			b.scaleCooldown[key] = time.Now().UTC().Add(cooldown)
			b.recorder.RecordTrade(key, outcome)
		}
	}

	if b.archive != nil && len(closed) > 0 {
		b.archive.ArchiveClosedTrades(ctx, closed, b.trader.TradeRecords)
	}

	b.recorder.RecordState(b.trader.Balance, len(b.trader.OpenPositions()), currentPrice)
}

// trailTimeframe picks the trailing timeframe for a position: the configured
// override if set, otherwise the timeframe of the scale that opened it.
func (b *Bot) trailTimeframe(positionID uint64) candles.Timeframe {
	key := b.cfg.TradingConfig.TrailTimeframe
	if key == "" {
		for scaleKey, pid := range b.scalePositions {
			if pid == positionID {
				key = scaleKey
				break
			}
		}
	}
	switch key {
	case "1m":
		return candles.M1
	case "15m":
		return candles.M15
	default:
		return candles.M5
	}
}

func (b *Bot) logPartialExits() {
	for i := range b.trader.Positions {
		pos := &b.trader.Positions[i]
		for j := range pos.PartialExits {
			pe := &pos.PartialExits[j]
			if pe.Logged {
				continue
			}
			b.logger.Info().
				Uint64("position", pos.ID).
				Float64("sd_level", pe.Level).
				Float64("size_btc", pe.SizeBTC).
				Float64("price", pe.Price).
				Float64("pnl", pe.PnL).
				Msg("partial take profit")
			pe.Logged = true
		}
	}
}

func (b *Bot) scanScale(ctx context.Context, scaleKey string, now time.Time) {
	started := time.Now()
	defer func() {
		b.recorder.RecordScanDuration(scaleKey, time.Since(started).Seconds())
	}()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.weeklyBias == nil {
		return
	}

	day := b.session.DayOfWeek(now)
	if day == "Monday" {
		return
	}
	if !b.session.IsKillzone() {
		return
	}

	profile := string(b.weeklyBias.Profile)
	if !b.session.ShouldTradeToday(b.cfg, profile, now) {
		return
	}

	if _, busy := b.scalePositions[scaleKey]; busy {
		return
	}
	if until, ok := b.scaleCooldown[scaleKey]; ok {
		if now.Before(until) {
			return
		}
		delete(b.scaleCooldown, scaleKey)
	}

	if !b.trader.CanOpenPosition(b.cfg) {
		return
	}
	if len(b.dataCache) == 0 {
		return
	}
	if b.refiner.ShouldSkip(scaleKey, b.session.CurrentSession) {
		b.recorder.RecordSignal(scaleKey, "skipped")
		return
	}

	midnightOpen, _, _ := b.provider.MidnightOpen(ctx)

	scale, ok := b.engine.Scales[scaleKey]
	if !ok {
		return
	}
	signal, ok := scale.Evaluate(b.dataCache, midnightOpen, b.session, b.cfg, now)
	if !ok {
		return
	}

	// Re-evaluate across all scales so the cross-scale bonus is applied.
	for _, s := range b.engine.EvaluateAll(b.dataCache, midnightOpen, b.session, b.cfg, now) {
		if s.Scale == scaleKey {
			signal = s
			break
		}
	}

	if signal.Confidence < b.cfg.ScaleConfigs[scaleKey].MinConfidence {
		b.recorder.RecordSignal(scaleKey, "filtered")
		return
	}

	// Expected move must clear round-trip costs by a margin.
	tpDistPct := abs(signal.TakeProfit-signal.EntryPrice) / signal.EntryPrice
	roundTripFee := (b.cfg.TradingConfig.FeeRate + b.cfg.TradingConfig.SlippageRate) * 2
	if tpDistPct < roundTripFee*b.cfg.TradingConfig.MinTPMultiple {
		b.recorder.RecordSignal(scaleKey, "filtered")
		b.logger.Debug().
			Str("scale", scaleKey).
			Float64("tp_dist_pct", tpDistPct*100).
			Float64("min_pct", roundTripFee*b.cfg.TradingConfig.MinTPMultiple*100).
			Msg("signal below minimum TP distance")
		return
	}

	b.logSignal(&signal)

	metadata := buildMetadata(&signal, scaleKey, b.weeklyBias, day)
	tradeSignal := signal.ToTradeSignal()
	pos, opened := b.trader.OpenPosition(&tradeSignal, scaleKey, &metadata)
	if !opened {
		return
	}
	b.recorder.RecordSignal(scaleKey, "taken")
	b.scalePositions[scaleKey] = pos.ID

	event := b.logger.Info().
		Uint64("position", pos.ID).
		Float64("size_usd", pos.SizeUSD).
		Float64("size_btc", pos.SizeBTC)
	if kr := b.trader.LastKellyResult; kr != nil {
		source := "calculated"
		if kr.UsingDefault {
			source = "default"
		}
		event = event.
			Float64("kelly", kr.AppliedFraction).
			Str("kelly_source", source).
			Str("kelly_edge", formatSigned(kr.Edge)).
			Int("kelly_sample", kr.SampleSize)
	}
	event.Msg("position opened")
}

func (b *Bot) logSignal(signal *confluence.Signal) {
	event := b.logger.Info().
		Str("scale", signal.ScaleName).
		Str("direction", string(signal.Direction)).
		Float64("entry", signal.EntryPrice).
		Float64("stop", signal.StopLoss).
		Str("stop_mode", signal.StopMode).
		Float64("take_profit", signal.TakeProfit).
		Str("tp_label", signal.TPLabel).
		Float64("confidence", signal.Confidence).
		Bool("cisd", signal.CISDConfirmed).
		Int("cross_scale", signal.CrossScaleConfluence).
		Str("reason", signal.Reason)
	for _, lvl := range signal.TPLevels {
		event = event.Float64("tp_"+lvl.Label, lvl.Price)
	}
	event.Msg("signal")
}

func (b *Bot) runAnalysis(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	closed := make([]trading.TradeRecord, 0, len(b.trader.TradeRecords))
	for _, record := range b.trader.TradeRecords {
		if record.Outcome == "win" || record.Outcome == "loss" {
			closed = append(closed, *record)
		}
	}
	if len(closed) < b.refiner.MinSample {
		return
	}

	adjustments := b.refiner.Refine(closed, b.cfg)
	if len(adjustments) == 0 {
		b.logger.Debug().Msg("analysis complete, no adjustments needed")
		return
	}

	for _, adj := range adjustments {
		if isWarning(adj.Parameter) {
			b.logger.Warn().Str("reason", adj.Reason).Msg("strategy refinement")
			continue
		}
		b.logger.Info().
			Str("parameter", adj.Parameter).
			Float64("old", adj.OldValue).
			Float64("new", adj.NewValue).
			Str("reason", adj.Reason).
			Msg("strategy refinement")
	}

	if b.archive != nil {
		stats := b.trader.GetStats()
		if err := b.archive.SnapshotEquity(ctx, time.Now().UTC(), stats.Balance, stats.OpenPositions, b.trader.DailyPnL); err != nil {
			b.logger.Warn().Err(err).Msg("equity snapshot failed")
		}
	}
}

func (b *Bot) printStatus() {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := b.trader.GetStats()
	b.session.Update(b.cfg, time.Now().UTC())

	b.logger.Info().
		Str("session", b.session.CurrentSession).
		Float64("session_weight", b.session.SessionWeight).
		Str("day", b.session.DayOfWeek(time.Now().UTC())).
		Float64("balance", stats.Balance).
		Int("trades", stats.TotalTrades).
		Float64("win_rate", stats.WinRate).
		Float64("pnl", stats.TotalPnL).
		Int("open", stats.OpenPositions).
		Msg("status")

	for scale, kr := range b.trader.KellyByScale() {
		if kr.SampleSize == 0 {
			continue
		}
		b.logger.Info().
			Str("scale", scale).
			Float64("fraction", kr.AppliedFraction).
			Float64("win_rate", kr.WinRate*100).
			Float64("payoff", kr.PayoffRatio).
			Str("edge", formatSigned(kr.Edge)).
			Int("sample", kr.SampleSize).
			Msg("kelly by scale")
	}
}

func (b *Bot) shutdown() {
	b.logger.Info().Msg("shutting down")
	b.printStatus()
	b.logger.Info().Msg("bot stopped")
}

func isWarning(parameter string) bool {
	return len(parameter) >= 8 && parameter[:8] == "WARNING:"
}

func formatSigned(x float64) string {
	if x >= 0 {
		return "+" + strconv.FormatFloat(x, 'f', 4, 64)
	}
	return strconv.FormatFloat(x, 'f', 4, 64)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
