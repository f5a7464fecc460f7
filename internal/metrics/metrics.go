// Package metrics exports Prometheus instrumentation for the trading
// loop, served on the API server's /metrics endpoint.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the bot's Prometheus collectors.
type Recorder struct {
	signalsTotal  *prometheus.CounterVec
	tradesTotal   *prometheus.CounterVec
	fetchErrors   *prometheus.CounterVec
	balance       prometheus.Gauge
	openPositions prometheus.Gauge
	lastPrice     prometheus.Gauge
	scanDuration  *prometheus.HistogramVec
}

var (
	defaultRecorder *Recorder
	once            sync.Once
)

// New returns the process-wide recorder. Collectors register on the
// default registry exactly once; later calls get the same instance.
func New() *Recorder {
	once.Do(func() {
		defaultRecorder = newRecorder()
	})
	return defaultRecorder
}

func newRecorder() *Recorder {
	return &Recorder{
		signalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ictbot_signals_total",
				Help: "Signals produced by scale and disposition",
			},
			[]string{"scale", "disposition"},
		),
		tradesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ictbot_trades_total",
				Help: "Closed trades by scale and outcome",
			},
			[]string{"scale", "outcome"},
		),
		fetchErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ictbot_fetch_errors_total",
				Help: "Exchange fetch failures by timeframe",
			},
			[]string{"timeframe"},
		),
		balance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ictbot_balance_usd",
			Help: "Current paper trading balance",
		}),
		openPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ictbot_open_positions",
			Help: "Number of open positions",
		}),
		lastPrice: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ictbot_last_price",
			Help: "Last observed market price",
		}),
		scanDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ictbot_scan_duration_seconds",
				Help:    "Duration of one scale scan",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"scale"},
		),
	}
}

// RecordSignal counts a produced signal. Disposition is "taken",
// "filtered", or "skipped".
func (r *Recorder) RecordSignal(scale, disposition string) {
	r.signalsTotal.WithLabelValues(scale, disposition).Inc()
}

// RecordTrade counts a closed trade by outcome.
func (r *Recorder) RecordTrade(scale, outcome string) {
	r.tradesTotal.WithLabelValues(scale, outcome).Inc()
}

// RecordFetchError counts an exchange fetch failure.
func (r *Recorder) RecordFetchError(timeframe string) {
	r.fetchErrors.WithLabelValues(timeframe).Inc()
}

// RecordState updates the balance, position count, and price gauges.
func (r *Recorder) RecordState(balance float64, openPositions int, price float64) {
	r.balance.Set(balance)
	r.openPositions.Set(float64(openPositions))
	if price > 0 {
		r.lastPrice.Set(price)
	}
}

// RecordScanDuration records how long one scale scan took.
func (r *Recorder) RecordScanDuration(scale string, seconds float64) {
	r.scanDuration.WithLabelValues(scale).Observe(seconds)
}
