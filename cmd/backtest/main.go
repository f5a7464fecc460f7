// Backtester: fetches (and caches) Coinbase candles for a window, then
// replays the strategy over them and prints a performance report.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ict-trading-bot/config"
	"ict-trading-bot/internal/backtest"
	"ict-trading-bot/internal/candles"
	"ict-trading-bot/internal/exchange"
	"ict-trading-bot/internal/logging"
)

func main() {
	daysBack := flag.Int("days", 365, "how many days of history to replay")
	stepMinutes := flag.Int("step", 5, "simulation step in minutes")
	dataDir := flag.String("data-dir", "", "candle cache directory (default from config)")
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg)

	dir := *dataDir
	if dir == "" {
		dir = cfg.BacktestConfig.DataDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -*daysBack)

	fmt.Println("ICT TRADING BOT - BACKTESTER")
	fmt.Printf("  Symbol:  %s\n", cfg.ExchangeConfig.Symbol)
	fmt.Printf("  Period:  %d days\n", *daysBack)
	fmt.Printf("  Step:    %d minutes\n", *stepMinutes)
	fmt.Printf("  Balance: $%.2f\n", cfg.TradingConfig.InitialBalance)
	fmt.Println()

	timeframes := []candles.Timeframe{
		candles.M1, candles.M5, candles.M15, candles.H1, candles.H4, candles.D1,
	}

	data, err := exchange.FetchAndCache(ctx, cfg, start, end, dir, timeframes, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "data fetch failed:", err)
		os.Exit(1)
	}

	if len(data[candles.M1]) == 0 {
		fmt.Println("ERROR: no 1-minute data available, cannot backtest.")
		fmt.Println("Make sure your Coinbase API credentials are configured in .env")
		os.Exit(1)
	}

	fmt.Println("Data loaded:")
	for _, tf := range timeframes {
		fmt.Printf("  %s: %d candles\n", tf, len(data[tf]))
	}
	fmt.Println()

	provider := exchange.NewHistoricalProvider(cfg.ExchangeConfig.Symbol)
	for tf, cs := range data {
		provider.Load(tf, cs)
	}

	dataStart, ok := provider.EarliestTime()
	if !ok {
		dataStart = start
	}
	dataEnd, ok := provider.LatestTime()
	if !ok {
		dataEnd = end
	}

	// Leave a day of lookback before the first simulated tick.
	btStart := dataStart.AddDate(0, 0, 1)
	if !btStart.Before(dataEnd) {
		fmt.Println("ERROR: not enough data for backtesting")
		os.Exit(1)
	}

	fmt.Printf("Backtesting from %s to %s\n\n",
		btStart.Format("2006-01-02 15:04"), dataEnd.Format("2006-01-02 15:04"))

	runner := backtest.NewRunner(provider, cfg, logger)
	report, err := runner.Run(ctx, btStart, dataEnd, *stepMinutes)
	if err != nil {
		fmt.Fprintln(os.Stderr, "backtest failed:", err)
		os.Exit(1)
	}

	report.WriteSummary(os.Stdout)

	reportFile := filepath.Join(dir, fmt.Sprintf("backtest_%s_%s.txt",
		report.Start.Format("20060102"), report.End.Format("20060102")))
	if err := saveReport(report, reportFile); err != nil {
		fmt.Fprintln(os.Stderr, "saving report failed:", err)
		os.Exit(1)
	}
	fmt.Printf("\nReport saved to: %s\n", reportFile)
}

func saveReport(report *backtest.Report, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	report.WriteSummary(f)
	return nil
}
