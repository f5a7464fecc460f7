// Trade record analyzer: loads the paper trader's persisted records and
// prints win-rate and edge tables across every learning dimension.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/olekukonko/tablewriter"

	"ict-trading-bot/config"
	"ict-trading-bot/internal/analyzer"
	"ict-trading-bot/internal/trading"
)

func main() {
	recordsPath := flag.String("records", "", "trade records file (default <log_dir>/trade_records.json)")
	dimension := flag.String("dimension", "", "only print this dimension")
	minSample := flag.Int("min-sample", 0, "override minimum sample per bucket")
	top := flag.Int("top", 10, "how many strongest/weakest buckets to list")
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	path := *recordsPath
	if path == "" {
		path = filepath.Join(cfg.LoggingConfig.LogDir, "trade_records.json")
	}

	records, err := loadRecords(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load trade records:", err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Println("No trade records found at", path)
		return
	}

	sample := cfg.LearningConfig.MinSamplePerBucket
	if *minSample > 0 {
		sample = *minSample
	}

	ta := analyzer.NewTradeAnalyzer(sample)
	analysis := ta.Analyze(records)

	fmt.Printf("TRADE ANALYSIS - %d records\n\n", len(records))

	dimensions := make([]string, 0, len(analysis))
	for dim := range analysis {
		if *dimension != "" && dim != *dimension {
			continue
		}
		dimensions = append(dimensions, dim)
	}
	sort.Strings(dimensions)

	for _, dim := range dimensions {
		printDimension(dim, analysis[dim])
	}

	if *dimension == "" {
		printRanked("WEAKEST BUCKETS", ta.NegativeEdgeBuckets(analysis), *top)
		printRanked("STRONGEST BUCKETS", ta.StrongestBuckets(analysis), *top)
	}
}

func loadRecords(path string) ([]trading.TradeRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var keyed map[string]trading.TradeRecord
	if err := json.Unmarshal(data, &keyed); err != nil {
		return nil, err
	}
	records := make([]trading.TradeRecord, 0, len(keyed))
	for _, record := range keyed {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].PositionID < records[j].PositionID })
	return records, nil
}

func printDimension(dim string, buckets map[string]analyzer.BucketStats) {
	fmt.Println("---", dim, "---")

	values := make([]string, 0, len(buckets))
	for value := range buckets {
		values = append(values, value)
	}
	sort.Strings(values)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Value", "Trades", "Win%", "Avg PnL", "Payoff", "Edge", "Sample"})
	for _, value := range values {
		stats := buckets[value]
		sufficient := ""
		if stats.SampleSufficient {
			sufficient = "ok"
		}
		table.Append([]string{
			value,
			fmt.Sprintf("%d", stats.Total),
			fmt.Sprintf("%.1f", stats.WinRate*100),
			fmt.Sprintf("%+.2f", stats.AvgPnL),
			fmt.Sprintf("%.2f", stats.PayoffRatio),
			fmt.Sprintf("%+.4f", stats.Edge),
			sufficient,
		})
	}
	table.Render()
	fmt.Println()
}

func printRanked(title string, buckets []analyzer.BucketStats, top int) {
	if len(buckets) == 0 {
		return
	}
	if top < len(buckets) {
		buckets = buckets[:top]
	}

	fmt.Println("===", title, "===")
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Dimension", "Value", "Trades", "Win%", "Edge"})
	for _, stats := range buckets {
		table.Append([]string{
			stats.Dimension,
			stats.Value,
			fmt.Sprintf("%d", stats.Total),
			fmt.Sprintf("%.1f", stats.WinRate*100),
			fmt.Sprintf("%+.4f", stats.Edge),
		})
	}
	table.Render()
	fmt.Println()
}
