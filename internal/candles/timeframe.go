package candles

import "time"

// Timeframe identifies a candle interval.
type Timeframe string

const (
	M1  Timeframe = "1m"
	M5  Timeframe = "5m"
	M15 Timeframe = "15m"
	H1  Timeframe = "1h"
	H4  Timeframe = "4h"
	D1  Timeframe = "1d"
)

// AllTimeframes lists supported intervals, smallest first.
var AllTimeframes = []Timeframe{M1, M5, M15, H1, H4, D1}

// Duration returns the interval length, or 0 for an unknown timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case M1:
		return time.Minute
	case M5:
		return 5 * time.Minute
	case M15:
		return 15 * time.Minute
	case H1:
		return time.Hour
	case H4:
		return 4 * time.Hour
	case D1:
		return 24 * time.Hour
	}
	return 0
}

// Seconds is the interval length in seconds.
func (tf Timeframe) Seconds() int64 {
	return int64(tf.Duration() / time.Second)
}

func (tf Timeframe) String() string {
	return string(tf)
}

// ParseTimeframe converts an interval string like "5m", returning false for
// unsupported values.
func ParseTimeframe(s string) (Timeframe, bool) {
	switch Timeframe(s) {
	case M1, M5, M15, H1, H4, D1:
		return Timeframe(s), true
	}
	return "", false
}
