package weekly

import (
	"testing"
	"time"

	"ict-trading-bot/config"
	"ict-trading-bot/internal/candles"
	"ict-trading-bot/internal/market"
)

// weekCandles builds daily candles starting on Monday 2024-01-15.
func weekCandles(ohlc [][4]float64) candles.Series {
	base := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	cs := make([]candles.Candle, len(ohlc))
	for i, v := range ohlc {
		cs[i] = candles.Candle{
			Timestamp: base.AddDate(0, 0, i),
			Open:      v[0],
			High:      v[1],
			Low:       v[2],
			Close:     v[3],
			Volume:    1000,
		}
	}
	return candles.NewSeries(cs)
}

func htfCandles() candles.Series {
	base := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	cs := make([]candles.Candle, 200)
	for i := range cs {
		v := 40000 + float64(i)*10
		cs[i] = candles.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      v,
			High:      v + 50,
			Low:       v - 20,
			Close:     v + 30,
			Volume:    100,
		}
	}
	return candles.NewSeries(cs)
}

func TestUndeterminedWithInsufficientData(t *testing.T) {
	cfg := config.TestDefault()
	daily := weekCandles([][4]float64{{100, 105, 95, 102}})

	bias := NewClassifier().Classify(daily, htfCandles(), "Tuesday", cfg)
	if bias.Profile != market.ProfileUndetermined {
		t.Fatalf("profile = %s, want undetermined with one daily candle", bias.Profile)
	}
	if bias.Direction != market.TrendNeutral {
		t.Fatalf("direction = %s, want neutral", bias.Direction)
	}
}

func TestClassicExpansionDetected(t *testing.T) {
	cfg := config.TestDefault()
	// Mon/Tue tight range, Wed onward big expansion.
	daily := weekCandles([][4]float64{
		{100, 103, 98, 101},
		{101, 104, 99, 102},
		{102, 130, 100, 128},
		{128, 145, 125, 140},
	})

	bias := NewClassifier().Classify(daily, htfCandles(), "Thursday", cfg)
	if bias.Profile == market.ProfileUndetermined {
		t.Fatal("clear expansion week should classify")
	}
	if bias.Confidence <= 0.3 {
		t.Fatalf("confidence = %v, want > 0.3", bias.Confidence)
	}
}

func TestMidweekReversalDetected(t *testing.T) {
	cfg := config.TestDefault()
	// Mon/Tue up, Wednesday reverses hard.
	daily := weekCandles([][4]float64{
		{100, 110, 98, 108},
		{108, 115, 105, 113},
		{113, 114, 95, 97},
		{97, 98, 85, 87},
	})

	bias := NewClassifier().Classify(daily, htfCandles(), "Thursday", cfg)
	if bias.Confidence <= 0 {
		t.Fatalf("confidence = %v, want positive score", bias.Confidence)
	}
}

func TestConsolidationReversalDetected(t *testing.T) {
	cfg := config.TestDefault()
	// Mon-Wed overlap tightly, Thursday breaks out, Friday expands.
	daily := weekCandles([][4]float64{
		{100, 104, 97, 102},
		{102, 105, 98, 101},
		{101, 104, 97, 103},
		{103, 120, 102, 118},
		{118, 125, 115, 122},
	})

	bias := NewClassifier().Classify(daily, htfCandles(), "Friday", cfg)
	if bias.Confidence <= 0 {
		t.Fatalf("confidence = %v, want positive score", bias.Confidence)
	}
}

func TestTGIFActiveOnFridayClassic(t *testing.T) {
	cfg := config.TestDefault()
	daily := weekCandles([][4]float64{
		{100, 103, 98, 101},
		{101, 104, 99, 102},
		{102, 130, 100, 128},
		{128, 145, 125, 140},
		{140, 142, 135, 138},
	})

	wpc := NewClassifier()
	bias := wpc.Classify(daily, htfCandles(), "Friday", cfg)
	if bias.Profile == market.ProfileClassicExpansion && !bias.TGIFActive {
		t.Fatal("TGIF should be active on a classic expansion Friday")
	}
	if wpc.CurrentBias == nil {
		t.Fatal("classifier should remember its latest bias")
	}
}

func TestCurrentWeekFiltersPriorWeek(t *testing.T) {
	// Friday of the prior week followed by Mon-Wed of this week.
	base := time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC) // Friday
	cs := []candles.Candle{
		{Timestamp: base, Open: 90, High: 95, Low: 88, Close: 92, Volume: 1000},
		{Timestamp: base.AddDate(0, 0, 3), Open: 100, High: 105, Low: 98, Close: 103, Volume: 1000},
		{Timestamp: base.AddDate(0, 0, 4), Open: 103, High: 108, Low: 101, Close: 106, Volume: 1000},
		{Timestamp: base.AddDate(0, 0, 5), Open: 106, High: 111, Low: 104, Close: 109, Volume: 1000},
	}

	week := currentWeek(candles.NewSeries(cs))
	if week.Len() != 3 {
		t.Fatalf("week has %d candles, want 3 from Monday onward", week.Len())
	}
	first, _ := week.First()
	if first.Timestamp.Weekday() != time.Monday {
		t.Fatalf("week starts on %s, want Monday", first.Timestamp.Weekday())
	}
}
