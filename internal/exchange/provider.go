// Package exchange provides market data access: a live Coinbase Advanced
// Trade client, a websocket price stream, and a historical replay provider
// for backtests.
package exchange

import (
	"context"

	"ict-trading-bot/internal/candles"
)

// Provider serves candles and prices for one product. Implementations are
// not required to be safe for concurrent use.
type Provider interface {
	// FetchOHLCV returns up to limit candles for the timeframe, oldest
	// first.
	FetchOHLCV(ctx context.Context, tf candles.Timeframe, limit int) (candles.Series, error)

	// CurrentPrice returns the latest traded price.
	CurrentPrice(ctx context.Context) (float64, error)

	// Fetch4H returns 4-hour candles, resampled from hourly data.
	Fetch4H(ctx context.Context, limit int) (candles.Series, error)

	// MidnightOpen returns today's 00:00 Eastern opening price. The bool
	// is false when no candle for today is available.
	MidnightOpen(ctx context.Context) (float64, bool, error)
}
