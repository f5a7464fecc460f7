package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"ict-trading-bot/config"
	"ict-trading-bot/internal/candles"
)

const (
	maxCandlesPerRequest = 300
	chunkPause           = 250 * time.Millisecond
)

// FetchAndCache downloads historical candles for the requested timeframes
// and caches each range as a JSON file under dataDir. Cached files are
// reused on later runs. 4h data is never fetched; it is resampled from 1h.
func FetchAndCache(ctx context.Context, cfg *config.Config, start, end time.Time, dataDir string, timeframes []candles.Timeframe, logger zerolog.Logger) (map[candles.Timeframe][]candles.Candle, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	logger = logger.With().Str("component", "DataFetcher").Logger()

	client := NewCoinbaseClient(cfg, logger)
	results := make(map[candles.Timeframe][]candles.Candle, len(timeframes))

	for _, tf := range timeframes {
		cacheFile := filepath.Join(dataDir, fmt.Sprintf("%s_%s_%s_to_%s.json",
			cfg.ExchangeConfig.Symbol, tf, start.Format("20060102"), end.Format("20060102")))

		if data, err := os.ReadFile(cacheFile); err == nil {
			var cs []candles.Candle
			if err := json.Unmarshal(data, &cs); err != nil {
				return nil, fmt.Errorf("corrupt cache file %s: %w", cacheFile, err)
			}
			logger.Info().Str("tf", tf.String()).Int("candles", len(cs)).Str("file", cacheFile).Msg("loaded cached data")
			results[tf] = cs
			continue
		}

		if tf == candles.H4 {
			logger.Info().Msg("skipping 4h fetch, will resample from 1h")
			results[tf] = nil
			continue
		}

		logger.Info().
			Str("tf", tf.String()).
			Str("start", start.Format("2006-01-02")).
			Str("end", end.Format("2006-01-02")).
			Msg("fetching historical data")

		cs, err := fetchRange(ctx, client, tf, start, end, logger)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("tf", tf.String()).Int("candles", len(cs)).Msg("fetch complete")

		if data, err := json.Marshal(cs); err == nil {
			if err := os.WriteFile(cacheFile, data, 0o644); err != nil {
				logger.Warn().Err(err).Str("file", cacheFile).Msg("cannot write cache file")
			}
		}
		results[tf] = cs
	}

	if containsTF(timeframes, candles.H4) && len(results[candles.H4]) == 0 {
		if h1 := results[candles.H1]; len(h1) > 0 {
			resampled := candles.NewSeries(h1).Resample(4 * time.Hour).All()
			logger.Info().Int("candles", len(resampled)).Msg("generated 4h candles from 1h data")
			results[candles.H4] = resampled
		}
	}

	return results, nil
}

func containsTF(tfs []candles.Timeframe, want candles.Timeframe) bool {
	for _, tf := range tfs {
		if tf == want {
			return true
		}
	}
	return false
}

// fetchRange paginates through the API in fixed-size chunks, deduplicating
// overlapping candles at chunk boundaries.
func fetchRange(ctx context.Context, client *CoinbaseClient, tf candles.Timeframe, start, end time.Time, logger zerolog.Logger) ([]candles.Candle, error) {
	tfSecs := tf.Seconds()
	chunkDuration := tfSecs * maxCandlesPerRequest

	startTS := start.Unix()
	endTS := end.Unix()
	chunkStart := startTS

	totalChunks := int(math.Ceil(float64(endTS-startTS) / float64(chunkDuration)))
	chunkNum := 0

	var all []candles.Candle
	for chunkStart < endTS {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunkEnd := chunkStart + chunkDuration
		if chunkEnd > endTS {
			chunkEnd = endTS
		}
		chunkNum++

		if chunkNum == 1 || chunkNum%10 == 0 {
			logger.Debug().
				Str("tf", tf.String()).
				Int("chunk", chunkNum).
				Int("total", totalChunks).
				Int("candles", len(all)).
				Msg("fetching chunk")
		}

		series, err := client.FetchOHLCVRange(ctx, tf, chunkStart, chunkEnd)
		if err != nil {
			logger.Warn().Err(err).Str("tf", tf.String()).Int("chunk", chunkNum).Msg("chunk fetch failed, backing off")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
			}
		} else {
			all = append(all, series.All()...)
		}

		chunkStart = chunkEnd

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(chunkPause):
		}
	}

	return dedupeSorted(all), nil
}

func dedupeSorted(cs []candles.Candle) []candles.Candle {
	if len(cs) == 0 {
		return cs
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i].Timestamp.Before(cs[j].Timestamp) })
	out := cs[:1]
	for _, c := range cs[1:] {
		if !c.Timestamp.Equal(out[len(out)-1].Timestamp) {
			out = append(out, c)
		}
	}
	return out
}
