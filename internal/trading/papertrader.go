// Package trading simulates order execution against live or replayed
// prices: Kelly-sized entries, partial take-profit ladders, and stop losses
// that win ties against targets on the same tick.
package trading

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"ict-trading-bot/config"
	"ict-trading-bot/internal/kelly"
	"ict-trading-bot/internal/market"
)

// Partial TP allocation without CISD confirmation: bank most at the first
// deviation.
var tpAllocConservative = []tpAlloc{
	{-1.0, 0.60},
	{-2.0, 0.20},
	{-4.0, 0.10},
	{-4.5, 0.10},
}

// With CISD confirmed, let runners run.
var tpAllocAggressive = []tpAlloc{
	{-1.0, 0.10},
	{-2.0, 0.15},
	{-4.0, 0.30},
	{-4.5, 0.45},
}

type tpAlloc struct {
	level float64
	pct   float64
}

// TPTarget is one rung of a position's partial exit ladder.
type TPTarget struct {
	Level   float64 `json:"level"`
	Price   float64 `json:"price"`
	Pct     float64 `json:"pct"`
	SizeBTC float64 `json:"size_btc"`
	Hit     bool    `json:"hit"`
}

// PartialExit records a filled ladder rung.
type PartialExit struct {
	Level   float64   `json:"level"`
	Price   float64   `json:"price"`
	SizeBTC float64   `json:"size_btc"`
	PnL     float64   `json:"pnl"`
	Time    time.Time `json:"time"`
	Logged  bool      `json:"logged"`
}

// Position is a simulated trade, open or closed.
type Position struct {
	ID               uint64                `json:"id"`
	Direction        market.Direction      `json:"direction"`
	EntryPrice       float64               `json:"entry_price"`
	SizeUSD          float64               `json:"size_usd"`
	SizeBTC          float64               `json:"size_btc"`
	StopLoss         float64               `json:"stop_loss"`
	TakeProfit       float64               `json:"take_profit"`
	EntryTime        time.Time             `json:"entry_time"`
	Reason           string                `json:"reason"`
	KellyFraction    float64               `json:"kelly_fraction"`
	Status           market.PositionStatus `json:"status"`
	ExitPrice        float64               `json:"exit_price,omitempty"`
	ExitTime         *time.Time            `json:"exit_time,omitempty"`
	PnL              float64               `json:"pnl"`
	RemainingSizeBTC float64               `json:"remaining_size_btc"`
	TPTargets        []TPTarget            `json:"tp_targets"`
	PartialExits     []PartialExit         `json:"partial_exits"`
}

// kellySample adapts a closed position to the kelly history interface.
type kellySample struct {
	pnl    float64
	reason string
}

func (s kellySample) PnL() float64   { return s.pnl }
func (s kellySample) Reason() string { return s.reason }

func kellyHistory(history []Position) []kelly.Trade {
	trades := make([]kelly.Trade, len(history))
	for i, p := range history {
		trades[i] = kellySample{pnl: p.PnL, reason: p.Reason}
	}
	return trades
}

// PaperTrader tracks balance, open positions, and closed-trade history.
type PaperTrader struct {
	Balance         float64
	Positions       []Position
	TradeHistory    []Position
	TradeCounter    uint64
	DailyPnL        float64
	DailyPnLDate    string
	Kelly           *kelly.Criterion
	LastKellyResult *kelly.Result
	TradeRecords    map[uint64]*TradeRecord

	tradesFile   string
	recordsFile  string
	feeRate      float64
	slippageRate float64
	maxRiskPct   float64
	maxLeverage  float64

	// SimTime replaces the wall clock during backtests.
	SimTime time.Time
}

// NewPaperTrader restores any persisted state from the log directory.
func NewPaperTrader(cfg *config.Config) *PaperTrader {
	t := NewFreshPaperTrader(cfg)
	t.tradesFile = filepath.Join(cfg.LoggingConfig.LogDir, "paper_trades.json")
	t.recordsFile = filepath.Join(cfg.LoggingConfig.LogDir, "trade_records.json")
	t.loadState(cfg)
	return t
}

// NewFreshPaperTrader starts clean and never touches disk, for backtests.
func NewFreshPaperTrader(cfg *config.Config) *PaperTrader {
	return &PaperTrader{
		Balance:      cfg.TradingConfig.InitialBalance,
		Kelly:        kelly.NewCriterion(),
		TradeRecords: make(map[uint64]*TradeRecord),
		feeRate:      cfg.TradingConfig.FeeRate,
		slippageRate: cfg.TradingConfig.SlippageRate,
		maxRiskPct:   cfg.RiskConfig.MaxRiskPct,
		maxLeverage:  cfg.RiskConfig.MaxLeverage,
	}
}

func (t *PaperTrader) now() time.Time {
	if !t.SimTime.IsZero() {
		return t.SimTime
	}
	return time.Now().UTC()
}

// CanOpenPosition enforces the concurrent position cap and the daily loss
// limit.
func (t *PaperTrader) CanOpenPosition(cfg *config.Config) bool {
	open := 0
	for _, p := range t.Positions {
		if p.Status == market.StatusOpen {
			open++
		}
	}
	if open >= cfg.RiskConfig.MaxOpenPositions {
		return false
	}

	today := t.now().Format("2006-01-02")
	if t.DailyPnLDate == today && t.DailyPnL <= -(cfg.RiskConfig.MaxDailyLoss*t.Balance) {
		return false
	}
	return true
}

// OpenPosition sizes and opens a trade from a signal. Risk comes from the
// Kelly fraction, capped by the max risk percentage of balance and the max
// leverage notional. Returns false when the stop distance is degenerate.
func (t *PaperTrader) OpenPosition(signal *TradeSignal, scale string, metadata *TradeMetadata) (*Position, bool) {
	slDistance := math.Abs(signal.EntryPrice - signal.StopLoss)
	if slDistance == 0 {
		return nil, false
	}

	t.rollDailyDate()

	riskAmount, kellyResult := t.Kelly.RiskAmount(t.Balance, kellyHistory(t.TradeHistory), scale)
	t.LastKellyResult = &kellyResult

	cappedRisk := math.Min(riskAmount, t.Balance*t.maxRiskPct)

	sizeBTC := cappedRisk / slDistance
	sizeUSD := sizeBTC * signal.EntryPrice

	if maxPosition := t.Balance * t.maxLeverage; sizeUSD > maxPosition {
		sizeUSD = maxPosition
		sizeBTC = sizeUSD / signal.EntryPrice
	}

	entryFee := sizeUSD * t.feeRate
	slippageCost := sizeUSD * t.slippageRate
	t.Balance -= entryFee + slippageCost

	// Slippage always moves the fill against us.
	entryPrice := signal.EntryPrice * (1 + t.slippageRate)
	if signal.Direction == market.Short {
		entryPrice = signal.EntryPrice * (1 - t.slippageRate)
	}

	t.TradeCounter++
	id := t.TradeCounter

	alloc := tpAllocConservative
	if signal.CISDConfirmed {
		alloc = tpAllocAggressive
	}
	var targets []TPTarget
	if len(signal.TPLevels) > 0 {
		prices := make(map[int64]float64, len(signal.TPLevels))
		for _, l := range signal.TPLevels {
			if l.Level != 0 {
				prices[int64(l.Level*10)] = l.Price
			}
		}
		for _, a := range alloc {
			if price, ok := prices[int64(a.level*10)]; ok {
				targets = append(targets, TPTarget{
					Level:   a.level,
					Price:   price,
					Pct:     a.pct,
					SizeBTC: round8(sizeBTC * a.pct),
				})
			}
		}
	}

	pos := Position{
		ID:               id,
		Direction:        signal.Direction,
		EntryPrice:       entryPrice,
		SizeUSD:          round2(sizeUSD),
		SizeBTC:          round8(sizeBTC),
		StopLoss:         signal.StopLoss,
		TakeProfit:       signal.TakeProfit,
		EntryTime:        t.now(),
		Reason:           signal.Reason,
		KellyFraction:    kellyResult.AppliedFraction,
		Status:           market.StatusOpen,
		RemainingSizeBTC: round8(sizeBTC),
		TPTargets:        targets,
	}
	t.Positions = append(t.Positions, pos)

	if metadata != nil {
		md := *metadata
		md.KellyFraction = kellyResult.AppliedFraction
		t.TradeRecords[id] = &TradeRecord{PositionID: id, Metadata: md}
	}

	t.saveState()
	return &t.Positions[len(t.Positions)-1], true
}

// CheckPositions marks stops and targets against the current price and
// returns positions closed on this tick. The stop is evaluated first, so a
// candle that touches both sides resolves as a loss.
func (t *PaperTrader) CheckPositions(currentPrice float64) []Position {
	var closed []Position
	changed := false

	for i := range t.Positions {
		if t.Positions[i].Status != market.StatusOpen {
			continue
		}
		pos := &t.Positions[i]

		hitSL := currentPrice <= pos.StopLoss
		if pos.Direction == market.Short {
			hitSL = currentPrice >= pos.StopLoss
		}
		if hitSL {
			t.closePosition(i, pos.StopLoss, market.StatusClosedSL)
			closed = append(closed, t.Positions[i])
			changed = true
			continue
		}

		if len(pos.TPTargets) > 0 {
			anyHit := false
			for ti := range pos.TPTargets {
				if pos.TPTargets[ti].Hit {
					continue
				}
				hit := currentPrice >= pos.TPTargets[ti].Price
				if pos.Direction == market.Short {
					hit = currentPrice <= pos.TPTargets[ti].Price
				}
				if hit {
					t.partialClose(i, ti, currentPrice)
					anyHit = true
					changed = true
				}
			}
			if anyHit {
				allHit := true
				for _, target := range pos.TPTargets {
					if !target.Hit {
						allHit = false
						break
					}
				}
				if allHit {
					if pos.RemainingSizeBTC > 0 {
						t.closePosition(i, currentPrice, market.StatusClosedTP)
					} else {
						t.finalizePosition(i, market.StatusClosedTP)
					}
					closed = append(closed, t.Positions[i])
				}
			}
		} else {
			hitTP := currentPrice >= pos.TakeProfit
			if pos.Direction == market.Short {
				hitTP = currentPrice <= pos.TakeProfit
			}
			if hitTP {
				t.closePosition(i, currentPrice, market.StatusClosedTP)
				closed = append(closed, t.Positions[i])
				changed = true
			}
		}
	}

	if changed || len(closed) > 0 {
		t.saveState()
	}
	return closed
}

func (t *PaperTrader) partialClose(posIdx, targetIdx int, exitPrice float64) {
	pos := &t.Positions[posIdx]
	closeSize := math.Min(pos.TPTargets[targetIdx].SizeBTC, pos.RemainingSizeBTC)
	if closeSize <= 0 {
		return
	}

	pnl := (exitPrice - pos.EntryPrice) * closeSize
	if pos.Direction == market.Short {
		pnl = (pos.EntryPrice - exitPrice) * closeSize
	}
	pnl = round2(pnl - closeSize*exitPrice*t.feeRate)

	pos.RemainingSizeBTC = round8(pos.RemainingSizeBTC - closeSize)
	pos.PnL = round2(pos.PnL + pnl)
	t.Balance += pnl
	t.addDailyPnL(pnl)

	pos.TPTargets[targetIdx].Hit = true
	pos.PartialExits = append(pos.PartialExits, PartialExit{
		Level:   pos.TPTargets[targetIdx].Level,
		Price:   exitPrice,
		SizeBTC: closeSize,
		PnL:     pnl,
		Time:    t.now(),
	})
}

// finalizePosition closes the book on a position whose size was fully taken
// out by partial exits.
func (t *PaperTrader) finalizePosition(posIdx int, status market.PositionStatus) {
	pos := &t.Positions[posIdx]
	if last := len(pos.PartialExits) - 1; last >= 0 {
		pos.ExitPrice = pos.PartialExits[last].Price
	}
	now := t.now()
	pos.ExitTime = &now
	pos.Status = status
	pos.RemainingSizeBTC = 0

	t.TradeHistory = append(t.TradeHistory, *pos)
	t.updateTradeRecord(posIdx)
}

func (t *PaperTrader) closePosition(posIdx int, exitPrice float64, status market.PositionStatus) {
	pos := &t.Positions[posIdx]
	closeSize := pos.RemainingSizeBTC
	if closeSize <= 0 {
		closeSize = pos.SizeBTC
	}

	pnl := (exitPrice - pos.EntryPrice) * closeSize
	if pos.Direction == market.Short {
		pnl = (pos.EntryPrice - exitPrice) * closeSize
	}
	pnl -= closeSize * exitPrice * t.feeRate

	now := t.now()
	pos.ExitPrice = exitPrice
	pos.ExitTime = &now
	pos.Status = status
	pos.PnL = round2(pos.PnL + pnl)
	pos.RemainingSizeBTC = 0

	t.Balance += pnl
	t.addDailyPnL(pnl)

	t.TradeHistory = append(t.TradeHistory, *pos)
	t.updateTradeRecord(posIdx)
}

func (t *PaperTrader) addDailyPnL(pnl float64) {
	t.rollDailyDate()
	t.DailyPnL += pnl
}

func (t *PaperTrader) rollDailyDate() {
	today := t.now().Format("2006-01-02")
	if t.DailyPnLDate != today {
		t.DailyPnLDate = today
		t.DailyPnL = 0
	}
}

func (t *PaperTrader) updateTradeRecord(posIdx int) {
	pos := &t.Positions[posIdx]
	record, ok := t.TradeRecords[pos.ID]
	if !ok {
		return
	}
	record.Outcome = "loss"
	if pos.PnL > 0 {
		record.Outcome = "win"
	}
	record.PnL = pos.PnL
	if pos.ExitTime != nil {
		record.HoldDurationSeconds = pos.ExitTime.Sub(pos.EntryTime).Seconds()
	}
}

// UpdateStopLoss moves a position's stop, used by trailing logic.
func (t *PaperTrader) UpdateStopLoss(positionID uint64, newStop float64) bool {
	for i := range t.Positions {
		if t.Positions[i].ID == positionID && t.Positions[i].Status == market.StatusOpen {
			t.Positions[i].StopLoss = newStop
			t.saveState()
			return true
		}
	}
	return false
}

// OpenPositions returns the currently open positions.
func (t *PaperTrader) OpenPositions() []Position {
	var open []Position
	for _, p := range t.Positions {
		if p.Status == market.StatusOpen {
			open = append(open, p)
		}
	}
	return open
}

// Stats aggregates trade history and the latest Kelly view.
type Stats struct {
	TotalTrades       int     `json:"total_trades"`
	Balance           float64 `json:"balance"`
	WinRate           float64 `json:"win_rate"`
	TotalPnL          float64 `json:"total_pnl"`
	AvgWin            float64 `json:"avg_win"`
	AvgLoss           float64 `json:"avg_loss"`
	BestTrade         float64 `json:"best_trade"`
	WorstTrade        float64 `json:"worst_trade"`
	OpenPositions     int     `json:"open_positions"`
	KellyFraction     float64 `json:"kelly_fraction"`
	KellyFull         float64 `json:"kelly_full"`
	KellyUsingDefault bool    `json:"kelly_using_default"`
	KellyEdge         float64 `json:"kelly_edge"`
	KellySample       int     `json:"kelly_sample"`
	KellyWinRate      float64 `json:"kelly_win_rate"`
	KellyPayoff       float64 `json:"kelly_payoff"`
}

func (t *PaperTrader) GetStats() Stats {
	kellyResult := t.Kelly.Calculate(kellyHistory(t.TradeHistory), "")
	open := len(t.OpenPositions())

	stats := Stats{
		Balance:           round2(t.Balance),
		OpenPositions:     open,
		KellyFraction:     kellyResult.AppliedFraction,
		KellyFull:         kellyResult.FullKelly,
		KellyUsingDefault: kellyResult.UsingDefault,
		KellyEdge:         kellyResult.Edge,
		KellySample:       kellyResult.SampleSize,
		KellyWinRate:      kellyResult.WinRate,
		KellyPayoff:       kellyResult.PayoffRatio,
	}
	if len(t.TradeHistory) == 0 {
		stats.Balance = t.Balance
		return stats
	}

	var winSum, lossSum, total float64
	var winCount, lossCount int
	best, worst := math.Inf(-1), math.Inf(1)
	for _, trade := range t.TradeHistory {
		total += trade.PnL
		best = math.Max(best, trade.PnL)
		worst = math.Min(worst, trade.PnL)
		if trade.PnL > 0 {
			winSum += trade.PnL
			winCount++
		} else {
			lossSum += trade.PnL
			lossCount++
		}
	}

	stats.TotalTrades = len(t.TradeHistory)
	stats.WinRate = round1(float64(winCount) / float64(len(t.TradeHistory)) * 100)
	stats.TotalPnL = round2(total)
	if winCount > 0 {
		stats.AvgWin = round2(winSum / float64(winCount))
	}
	if lossCount > 0 {
		stats.AvgLoss = round2(lossSum / float64(lossCount))
	}
	stats.BestTrade = round2(best)
	stats.WorstTrade = round2(worst)
	return stats
}

// KellyByScale recomputes the Kelly result for each entry scale.
func (t *PaperTrader) KellyByScale() map[string]kelly.Result {
	results := make(map[string]kelly.Result, 3)
	for _, scale := range []string{"1m", "5m", "15m"} {
		results[scale] = t.Kelly.Calculate(kellyHistory(t.TradeHistory), scale)
	}
	return results
}

type persistedState struct {
	Balance      float64    `json:"balance"`
	TradeCounter uint64     `json:"trade_counter"`
	DailyPnL     float64    `json:"daily_pnl"`
	DailyPnLDate string     `json:"daily_pnl_date"`
	Positions    []Position `json:"positions"`
	TradeHistory []Position `json:"trade_history"`
}

// saveState rewrites the whole state file. Persistence is best effort; a
// failed write never interrupts trading.
func (t *PaperTrader) saveState() {
	if t.tradesFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(t.tradesFile), 0o755); err != nil {
		log.Warn().Err(err).Msg("cannot create state directory")
		return
	}

	state := persistedState{
		Balance:      t.Balance,
		TradeCounter: t.TradeCounter,
		DailyPnL:     t.DailyPnL,
		DailyPnLDate: t.DailyPnLDate,
		Positions:    t.Positions,
		TradeHistory: t.TradeHistory,
	}
	if data, err := json.MarshalIndent(state, "", "  "); err == nil {
		if err := os.WriteFile(t.tradesFile, data, 0o644); err != nil {
			log.Warn().Err(err).Str("file", t.tradesFile).Msg("cannot persist trader state")
		}
	}

	if len(t.TradeRecords) > 0 {
		records := make(map[string]*TradeRecord, len(t.TradeRecords))
		for id, record := range t.TradeRecords {
			records[fmt.Sprintf("%d", id)] = record
		}
		if data, err := json.MarshalIndent(records, "", "  "); err == nil {
			if err := os.WriteFile(t.recordsFile, data, 0o644); err != nil {
				log.Warn().Err(err).Str("file", t.recordsFile).Msg("cannot persist trade records")
			}
		}
	}
}

func (t *PaperTrader) loadState(cfg *config.Config) {
	if data, err := os.ReadFile(t.tradesFile); err == nil {
		var state persistedState
		if err := json.Unmarshal(data, &state); err == nil {
			t.Balance = state.Balance
			if t.Balance == 0 {
				t.Balance = cfg.TradingConfig.InitialBalance
			}
			t.TradeCounter = state.TradeCounter
			t.DailyPnL = state.DailyPnL
			t.DailyPnLDate = state.DailyPnLDate
			t.Positions = state.Positions
			t.TradeHistory = state.TradeHistory
		}
	}

	if data, err := os.ReadFile(t.recordsFile); err == nil {
		var records map[string]*TradeRecord
		if err := json.Unmarshal(data, &records); err == nil {
			for key, record := range records {
				if id, err := strconv.ParseUint(key, 10, 64); err == nil {
					t.TradeRecords[id] = record
				}
			}
		}
	}
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func round8(x float64) float64 {
	return math.Round(x*1e8) / 1e8
}
