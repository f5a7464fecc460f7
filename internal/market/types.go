package market

// Shared market vocabulary used across the detector and trading packages.

// Direction is the side of a trade or pattern.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// Trend classifies market structure on one timeframe.
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

// Direction maps a non-neutral trend to a trade direction.
func (t Trend) Direction() (Direction, bool) {
	switch t {
	case TrendBullish:
		return Long, true
	case TrendBearish:
		return Short, true
	default:
		return "", false
	}
}

// SwingType marks a swing point as a high or a low.
type SwingType string

const (
	SwingHigh SwingType = "high"
	SwingLow  SwingType = "low"
)

// BOSType is the direction of a break of structure event.
type BOSType string

const (
	BullishBOS BOSType = "bullish_bos"
	BearishBOS BOSType = "bearish_bos"
)

// Zone places a price band relative to the dealing-range equilibrium.
type Zone string

const (
	ZonePremium  Zone = "premium"
	ZoneDiscount Zone = "discount"
)

// StopMode names the stop-loss placement policy used for a position.
type StopMode string

const (
	StopWick         StopMode = "wick"
	StopBody         StopMode = "body"
	StopContinuation StopMode = "continuation"
)

// PositionStatus is the lifecycle state of a simulated position.
type PositionStatus string

const (
	StatusOpen         PositionStatus = "open"
	StatusClosedTP     PositionStatus = "closed_tp"
	StatusClosedSL     PositionStatus = "closed_sl"
	StatusClosedManual PositionStatus = "closed_manual"
)

// WeeklyProfile is one of the weekly structural archetypes.
type WeeklyProfile string

const (
	ProfileClassicExpansion      WeeklyProfile = "classic_expansion"
	ProfileMidweekReversal       WeeklyProfile = "midweek_reversal"
	ProfileConsolidationReversal WeeklyProfile = "consolidation_reversal"
	ProfileUndetermined          WeeklyProfile = "undetermined"
)

// DrawOnLiquidity is the liquidity side price is expected to reach for.
type DrawOnLiquidity string

const (
	DrawBuySide  DrawOnLiquidity = "BSL"
	DrawSellSide DrawOnLiquidity = "SSL"
	DrawNone     DrawOnLiquidity = "none"
)
