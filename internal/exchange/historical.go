package exchange

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ict-trading-bot/internal/candles"
)

// HistoricalProvider replays pre-loaded candle data. A cursor controls
// which candles are visible: only candles stamped at or before the cursor
// are returned, simulating a forward walk through history.
type HistoricalProvider struct {
	data    map[candles.Timeframe][]candles.Candle
	now     time.Time
	symbol  string
	eastern *time.Location
}

var _ Provider = (*HistoricalProvider)(nil)

func NewHistoricalProvider(symbol string) *HistoricalProvider {
	return &HistoricalProvider{
		data:    make(map[candles.Timeframe][]candles.Candle),
		now:     time.Now().UTC(),
		symbol:  symbol,
		eastern: easternLocation(),
	}
}

// Load installs candles for a timeframe. Candles must be sorted oldest
// first.
func (h *HistoricalProvider) Load(tf candles.Timeframe, cs []candles.Candle) {
	h.data[tf] = cs
}

// SetTime advances the replay cursor.
func (h *HistoricalProvider) SetTime(t time.Time) {
	h.now = t
}

func (h *HistoricalProvider) CurrentTime() time.Time {
	return h.now
}

// EarliestTime returns the oldest timestamp across all loaded timeframes.
func (h *HistoricalProvider) EarliestTime() (time.Time, bool) {
	var earliest time.Time
	for _, cs := range h.data {
		if len(cs) == 0 {
			continue
		}
		if earliest.IsZero() || cs[0].Timestamp.Before(earliest) {
			earliest = cs[0].Timestamp
		}
	}
	return earliest, !earliest.IsZero()
}

// LatestTime returns the newest timestamp across all loaded timeframes.
func (h *HistoricalProvider) LatestTime() (time.Time, bool) {
	var latest time.Time
	for _, cs := range h.data {
		if len(cs) == 0 {
			continue
		}
		if last := cs[len(cs)-1].Timestamp; last.After(latest) {
			latest = last
		}
	}
	return latest, !latest.IsZero()
}

// visibleCandles returns candles up to the cursor, capped at limit.
func (h *HistoricalProvider) visibleCandles(tf candles.Timeframe, limit int) candles.Series {
	all := h.data[tf]

	// Rightmost candle at or before the cursor.
	end := sort.Search(len(all), func(i int) bool {
		return all[i].Timestamp.After(h.now)
	})
	if end == 0 {
		return candles.Series{}
	}

	start := end - limit
	if start < 0 {
		start = 0
	}
	return candles.NewSeries(all[start:end])
}

func (h *HistoricalProvider) FetchOHLCV(_ context.Context, tf candles.Timeframe, limit int) (candles.Series, error) {
	return h.visibleCandles(tf, limit), nil
}

// CurrentPrice is the close of the most recent visible 1m candle.
func (h *HistoricalProvider) CurrentPrice(_ context.Context) (float64, error) {
	series := h.visibleCandles(candles.M1, 1)
	last, ok := series.Last()
	if !ok {
		return 0, fmt.Errorf("no price data at %s", h.now.Format(time.RFC3339))
	}
	return last.Close, nil
}

func (h *HistoricalProvider) Fetch4H(_ context.Context, limit int) (candles.Series, error) {
	hoursNeeded := limit * 4
	if hoursNeeded > 340 {
		hoursNeeded = 340
	}
	h1 := h.visibleCandles(candles.H1, hoursNeeded)
	return h1.Resample(4 * time.Hour), nil
}

func (h *HistoricalProvider) MidnightOpen(_ context.Context) (float64, bool, error) {
	h1 := h.visibleCandles(candles.H1, 48)
	price, ok := midnightOpen(h1, h.now, h.eastern)
	return price, ok, nil
}
