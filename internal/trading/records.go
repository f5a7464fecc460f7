package trading

import (
	"ict-trading-bot/internal/market"
	"ict-trading-bot/internal/pda"
)

// TradeSignal is the executable output of a strategy evaluation.
type TradeSignal struct {
	Direction     market.Direction `json:"direction"`
	EntryPrice    float64          `json:"entry_price"`
	StopLoss      float64          `json:"stop_loss"`
	TakeProfit    float64          `json:"take_profit"`
	PDAEngaged    *pda.PDA         `json:"pda_engaged,omitempty"`
	CISDConfirmed bool             `json:"cisd_confirmed"`
	Confidence    float64          `json:"confidence"`
	Session       string           `json:"session"`
	SessionWeight float64          `json:"session_weight"`
	Reason        string           `json:"reason"`
	TPLevels      []TPLevelInfo    `json:"tp_levels,omitempty"`
}

// TPLevelInfo is one rung of a partial take-profit ladder.
type TPLevelInfo struct {
	Label         string  `json:"label"`
	Price         float64 `json:"price"`
	PDAConfluence bool    `json:"pda_confluence"`
	Level         float64 `json:"level,omitempty"`
}

// AlignmentInfo records one alignment timeframe's verdict at entry time.
type AlignmentInfo struct {
	TF    string `json:"tf"`
	Trend string `json:"trend"`
	BOS   int    `json:"bos"`
}

// TradeMetadata captures everything known about a trade at entry, for the
// self-learning analyzer to bucket on later.
type TradeMetadata struct {
	Scale                string          `json:"scale"`
	Direction            string          `json:"direction"`
	Confidence           float64         `json:"confidence"`
	Session              string          `json:"session"`
	SessionWeight        float64         `json:"session_weight"`
	CISDConfirmed        bool            `json:"cisd_confirmed"`
	PDAType              string          `json:"pda_type"`
	PDADirection         string          `json:"pda_direction"`
	PDAZone              string          `json:"pda_zone"`
	PDAStrength          float64         `json:"pda_strength"`
	StopMode             string          `json:"stop_mode"`
	TPLabel              string          `json:"tp_label"`
	TPLevels             []TPLevelInfo   `json:"tp_levels"`
	CrossScaleConfluence int             `json:"cross_scale_confluence"`
	Alignment            []AlignmentInfo `json:"alignment"`
	WeeklyProfile        string          `json:"weekly_profile"`
	WeeklyDirection      string          `json:"weekly_direction"`
	WeeklyConfidence     float64         `json:"weekly_confidence"`
	DayOfWeek            string          `json:"day_of_week"`
	KellyFraction        float64         `json:"kelly_fraction"`
}

// TradeRecord is a closed trade with its entry metadata and outcome.
type TradeRecord struct {
	PositionID          uint64        `json:"position_id"`
	Metadata            TradeMetadata `json:"metadata"`
	Outcome             string        `json:"outcome"`
	PnL                 float64       `json:"pnl"`
	HoldDurationSeconds float64       `json:"hold_duration_seconds"`
}