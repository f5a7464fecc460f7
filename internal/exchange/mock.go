package exchange

import (
	"context"
	"fmt"

	"ict-trading-bot/internal/candles"
)

// MockProvider serves fixed data, for tests and dry runs.
type MockProvider struct {
	Data        map[candles.Timeframe]candles.Series
	Price       float64
	MidnightPx  float64
	HasMidnight bool
	FetchErr    error
	PriceErr    error
	FetchCount  int
	PriceCount  int
}

var _ Provider = (*MockProvider)(nil)

func NewMockProvider() *MockProvider {
	return &MockProvider{Data: make(map[candles.Timeframe]candles.Series)}
}

func (m *MockProvider) FetchOHLCV(_ context.Context, tf candles.Timeframe, limit int) (candles.Series, error) {
	m.FetchCount++
	if m.FetchErr != nil {
		return candles.Series{}, m.FetchErr
	}
	series, ok := m.Data[tf]
	if !ok {
		return candles.Series{}, fmt.Errorf("no mock data for %s", tf)
	}
	return series.Tail(limit), nil
}

func (m *MockProvider) CurrentPrice(_ context.Context) (float64, error) {
	m.PriceCount++
	if m.PriceErr != nil {
		return 0, m.PriceErr
	}
	return m.Price, nil
}

func (m *MockProvider) Fetch4H(ctx context.Context, limit int) (candles.Series, error) {
	return m.FetchOHLCV(ctx, candles.H4, limit)
}

func (m *MockProvider) MidnightOpen(_ context.Context) (float64, bool, error) {
	return m.MidnightPx, m.HasMidnight, nil
}
