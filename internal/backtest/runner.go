// Package backtest steps through historical data candle-by-candle, running
// the full fractal confluence and paper trading pipeline at each step.
package backtest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ict-trading-bot/config"
	"ict-trading-bot/internal/analyzer"
	"ict-trading-bot/internal/candles"
	"ict-trading-bot/internal/confluence"
	"ict-trading-bot/internal/exchange"
	"ict-trading-bot/internal/sessions"
	"ict-trading-bot/internal/stoploss"
	"ict-trading-bot/internal/trading"
	"ict-trading-bot/internal/weekly"
)

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Time    time.Time
	Balance float64
}

// Runner drives a simulated forward walk over pre-loaded data.
type Runner struct {
	Provider *exchange.HistoricalProvider
	Config   *config.Config
	Trader   *trading.PaperTrader

	engine     *confluence.Engine
	session    *sessions.Manager
	classifier *weekly.Classifier
	refiner    *analyzer.StrategyRefiner
	stopEngine *stoploss.Engine
	logger     zerolog.Logger

	weeklyBias     *weekly.Bias
	scalePositions map[string]uint64
	scaleCooldown  map[string]time.Time
	dataCache      map[candles.Timeframe]candles.Series

	totalSignals    int
	signalsFiltered int
	lastWeeklyTS    time.Time
}

func NewRunner(provider *exchange.HistoricalProvider, cfg *config.Config, logger zerolog.Logger) *Runner {
	return &Runner{
		Provider:       provider,
		Config:         cfg,
		Trader:         trading.NewFreshPaperTrader(cfg),
		engine:         confluence.NewEngine(cfg),
		session:        sessions.NewManager(cfg),
		classifier:     weekly.NewClassifier(),
		refiner:        analyzer.NewStrategyRefiner(cfg),
		stopEngine:     stoploss.NewEngine(),
		logger:         logger.With().Str("component", "BacktestRunner").Logger(),
		scalePositions: make(map[string]uint64),
		scaleCooldown:  make(map[string]time.Time),
		dataCache:      make(map[candles.Timeframe]candles.Series),
	}
}

// Run walks from start to end in fixed steps and returns the report.
func (r *Runner) Run(ctx context.Context, start, end time.Time, stepMinutes int) (*Report, error) {
	step := time.Duration(stepMinutes) * time.Minute
	totalSteps := int(end.Sub(start).Minutes()) / stepMinutes
	logInterval := totalSteps / 20
	stepCount := 0

	r.logger.Info().
		Str("start", start.Format("2006-01-02")).
		Str("end", end.Format("2006-01-02")).
		Int("steps", totalSteps).
		Int("step_minutes", stepMinutes).
		Float64("initial_balance", r.Config.TradingConfig.InitialBalance).
		Msg("backtest start")

	initialBalance := r.Config.TradingConfig.InitialBalance
	var equityCurve []EquityPoint
	maxEquity := initialBalance
	var maxDrawdown, maxDrawdownPct float64

	for current := start; !current.After(end); current = current.Add(step) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.Provider.SetTime(current)
		r.Trader.SimTime = current
		stepCount++

		if logInterval > 0 && stepCount%logInterval == 0 {
			r.logger.Info().
				Str("time", current.Format("2006-01-02 15:04")).
				Float64("pct", float64(stepCount)/float64(totalSteps)*100).
				Float64("balance", r.Trader.Balance).
				Int("trades", len(r.Trader.TradeHistory)).
				Int("signals", r.totalSignals).
				Msg("progress")
		}

		r.refreshData(ctx)
		r.session.Update(r.Config, current)

		// Reclassify the weekly profile every 4 hours of sim time.
		if r.lastWeeklyTS.IsZero() || current.Sub(r.lastWeeklyTS) >= 4*time.Hour {
			r.analyzeWeekly(current)
			r.lastWeeklyTS = current
		}

		r.checkPositions(ctx, current)

		for scaleKey := range r.Config.ScaleConfigs {
			r.scanScale(ctx, scaleKey, current)
		}

		equity := r.Trader.Balance
		equityCurve = append(equityCurve, EquityPoint{Time: current, Balance: equity})
		if equity > maxEquity {
			maxEquity = equity
		}
		if dd := maxEquity - equity; dd > maxDrawdown {
			maxDrawdown = dd
			if maxEquity > 0 {
				maxDrawdownPct = dd / maxEquity * 100
			}
		}
	}

	// Close out whatever is still open at the last known price.
	if price, err := r.Provider.CurrentPrice(ctx); err == nil {
		r.Trader.CheckPositions(price)
	}

	r.logger.Info().Float64("final_balance", r.Trader.Balance).Msg("backtest complete")

	return buildReport(r.Trader, r.Config, start, end, equityCurve,
		maxDrawdown, maxDrawdownPct, r.totalSignals, r.signalsFiltered), nil
}

var cacheSpec = []struct {
	tf    candles.Timeframe
	limit int
}{
	{candles.M1, 200},
	{candles.M5, 200},
	{candles.M15, 200},
	{candles.H1, 200},
	{candles.D1, 30},
}

func (r *Runner) refreshData(ctx context.Context) {
	for _, spec := range cacheSpec {
		if data, err := r.Provider.FetchOHLCV(ctx, spec.tf, spec.limit); err == nil && !data.IsEmpty() {
			r.dataCache[spec.tf] = data
		}
	}
	if data, err := r.Provider.Fetch4H(ctx, 200); err == nil && !data.IsEmpty() {
		r.dataCache[candles.H4] = data
	}
}

func (r *Runner) analyzeWeekly(now time.Time) {
	daily, okD := r.dataCache[candles.D1]
	htf, okH := r.dataCache[candles.H1]
	if !okD || daily.IsEmpty() || !okH || htf.IsEmpty() {
		return
	}
	bias := r.classifier.Classify(daily, htf, r.session.DayOfWeek(now), r.Config)
	r.weeklyBias = &bias
}

// checkPositions trails stops on open positions, then marks fills.
func (r *Runner) checkPositions(ctx context.Context, simTime time.Time) {
	open := r.Trader.OpenPositions()
	if len(open) == 0 {
		return
	}

	currentPrice, err := r.Provider.CurrentPrice(ctx)
	if err != nil {
		return
	}

	if trailDF, ok := r.dataCache[candles.M5]; ok {
		for _, pos := range open {
			if newSL, ok := r.stopEngine.GetTrailingStop(pos.Direction, pos.StopLoss, trailDF, nil); ok {
				r.Trader.UpdateStopLoss(pos.ID, newSL.Price)
			}
		}
	}

	closed := r.Trader.CheckPositions(currentPrice)
	for _, pos := range closed {
		result := "LOSS"
		if pos.PnL > 0 {
			result = "WIN"
		}
		r.logger.Debug().
			Str("time", simTime.Format("01-02 15:04")).
			Uint64("position", pos.ID).
			Str("result", result).
			Float64("pnl", pos.PnL).
			Msg("position closed")

		for key, pid := range r.scalePositions {
			if pid == pos.ID {
				delete(r.scalePositions, key)
				// Cooldown after a close to prevent churning.
				cooldown := time.Duration(r.Config.BacktestConfig.CooldownMinutes) * time.Minute
				r.scaleCooldown[key] = simTime.Add(cooldown)
			}
		}
	}
}

func (r *Runner) scanScale(ctx context.Context, scaleKey string, simTime time.Time) {
	if r.weeklyBias == nil {
		return
	}

	day := r.session.DayOfWeek(simTime)
	if day == "Monday" {
		return
	}
	if !r.session.IsKillzone() {
		return
	}

	profile := string(r.weeklyBias.Profile)
	if !r.session.ShouldTradeToday(r.Config, profile, simTime) {
		return
	}

	if _, busy := r.scalePositions[scaleKey]; busy {
		return
	}
	if until, ok := r.scaleCooldown[scaleKey]; ok {
		if simTime.Before(until) {
			return
		}
		delete(r.scaleCooldown, scaleKey)
	}

	if !r.Trader.CanOpenPosition(r.Config) {
		return
	}
	if len(r.dataCache) == 0 {
		return
	}
	if r.refiner.ShouldSkip(scaleKey, r.session.CurrentSession) {
		return
	}

	midnightOpen, _, _ := r.Provider.MidnightOpen(ctx)

	scale, ok := r.engine.Scales[scaleKey]
	if !ok {
		return
	}
	signal, ok := scale.Evaluate(r.dataCache, midnightOpen, r.session, r.Config, simTime)
	if !ok {
		return
	}
	r.totalSignals++

	// Re-evaluate across all scales so the cross-scale bonus is applied.
	for _, s := range r.engine.EvaluateAll(r.dataCache, midnightOpen, r.session, r.Config, simTime) {
		if s.Scale == scaleKey {
			signal = s
			break
		}
	}

	if signal.Confidence < r.Config.ScaleConfigs[scaleKey].MinConfidence {
		r.signalsFiltered++
		return
	}

	// Expected move must clear round-trip costs by a margin.
	tpDistPct := abs(signal.TakeProfit-signal.EntryPrice) / signal.EntryPrice
	roundTripFee := (r.Config.TradingConfig.FeeRate + r.Config.TradingConfig.SlippageRate) * 2
	if tpDistPct < roundTripFee*r.Config.BacktestConfig.MinTPMultiple {
		r.signalsFiltered++
		return
	}

	metadata := buildMetadata(&signal, scaleKey, r.weeklyBias, day)
	tradeSignal := signal.ToTradeSignal()
	if pos, ok := r.Trader.OpenPosition(&tradeSignal, scaleKey, &metadata); ok {
		r.scalePositions[scaleKey] = pos.ID
		r.logger.Debug().
			Str("time", simTime.Format("01-02 15:04")).
			Str("scale", scaleKey).
			Str("direction", string(signal.Direction)).
			Float64("confidence", signal.Confidence).
			Uint64("position", pos.ID).
			Msg("signal opened")
	}
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

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
