package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"ict-trading-bot/config"
	"ict-trading-bot/internal/candles"
)

const (
	coinbaseBaseURL = "https://api.coinbase.com"
	coinbaseHost    = "api.coinbase.com"
)

// coinbaseGranularity maps a timeframe onto the Advanced Trade candle
// granularity enum.
func coinbaseGranularity(tf candles.Timeframe) string {
	switch tf {
	case candles.M1:
		return "ONE_MINUTE"
	case candles.M5:
		return "FIVE_MINUTE"
	case candles.M15:
		return "FIFTEEN_MINUTE"
	case candles.H1:
		return "ONE_HOUR"
	case candles.H4:
		return "SIX_HOUR" // not used; 4h is resampled from 1h
	case candles.D1:
		return "ONE_DAY"
	}
	return "ONE_MINUTE"
}

type candleResponse struct {
	Candles []rawCandle `json:"candles"`
}

type rawCandle struct {
	Start  string `json:"start"`
	Low    string `json:"low"`
	High   string `json:"high"`
	Open   string `json:"open"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

type tickerResponse struct {
	Trades []struct {
		Price string `json:"price"`
	} `json:"trades"`
}

type cacheEntry struct {
	fetchedAt time.Time
	series    candles.Series
}

// CoinbaseClient calls the Coinbase Advanced Trade market data API,
// authenticating each request with a short-lived ES256 JWT.
type CoinbaseClient struct {
	httpClient *http.Client
	apiKey     string
	apiSecret  string
	symbol     string
	limiter    *rate.Limiter
	cache      map[string]cacheEntry
	cacheTTL   time.Duration
	rdb        *redis.Client
	redisTTL   time.Duration
	eastern    *time.Location
	logger     zerolog.Logger
}

var _ Provider = (*CoinbaseClient)(nil)

func NewCoinbaseClient(cfg *config.Config, logger zerolog.Logger) *CoinbaseClient {
	c := &CoinbaseClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiKey:     cfg.ExchangeConfig.APIKey,
		apiSecret:  cfg.ExchangeConfig.APISecret,
		symbol:     cfg.ExchangeConfig.Symbol,
		limiter:    rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
		cache:      make(map[string]cacheEntry),
		cacheTTL:   5 * time.Second,
		eastern:    easternLocation(),
		logger:     logger.With().Str("component", "CoinbaseClient").Logger(),
	}
	if cfg.RedisConfig.Enabled {
		c.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		c.redisTTL = cfg.RedisConfig.CacheTTL
	}
	return c
}

func easternLocation() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}

// generateJWT builds the CDP bearer token for one request. The secret is an
// EC private key in PEM form.
func (c *CoinbaseClient) generateJWT(method, path string) (string, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(c.apiSecret))
	if err != nil {
		return "", fmt.Errorf("parsing API secret as EC key: %w", err)
	}

	now := time.Now().Unix()
	claims := jwt.MapClaims{
		"sub": c.apiKey,
		"iss": "cdp",
		"nbf": now,
		"exp": now + 120,
		"uri": fmt.Sprintf("%s %s%s", method, coinbaseHost, path),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = c.apiKey
	token.Header["typ"] = "JWT"

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("signing JWT: %w", err)
	}
	return signed, nil
}

func (c *CoinbaseClient) get(ctx context.Context, path string, query map[string]string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	token, err := c.generateJWT(http.MethodGet, path)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, coinbaseBaseURL+path, nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coinbase request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("coinbase API error %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// FetchOHLCV returns the most recent candles, oldest first. Responses are
// cached briefly so sibling scales polling the same timeframe share one
// request.
func (c *CoinbaseClient) FetchOHLCV(ctx context.Context, tf candles.Timeframe, limit int) (candles.Series, error) {
	cacheKey := fmt.Sprintf("%s_%s_%d", c.symbol, tf, limit)
	if entry, ok := c.cache[cacheKey]; ok && time.Since(entry.fetchedAt) < c.cacheTTL {
		return entry.series, nil
	}
	if series, ok := c.redisGet(ctx, cacheKey); ok {
		return series, nil
	}

	now := time.Now().Unix()
	start := now - tf.Seconds()*int64(limit)

	series, err := c.fetchCandles(ctx, tf, start, now, limit)
	if err != nil {
		return candles.Series{}, err
	}

	c.cache[cacheKey] = cacheEntry{fetchedAt: time.Now(), series: series}
	c.redisSet(ctx, cacheKey, series)
	return series, nil
}

// FetchOHLCVRange returns candles between two unix timestamps, for
// backtest data collection. No caching.
func (c *CoinbaseClient) FetchOHLCVRange(ctx context.Context, tf candles.Timeframe, startUnix, endUnix int64) (candles.Series, error) {
	return c.fetchCandles(ctx, tf, startUnix, endUnix, 0)
}

func (c *CoinbaseClient) fetchCandles(ctx context.Context, tf candles.Timeframe, startUnix, endUnix int64, limit int) (candles.Series, error) {
	path := fmt.Sprintf("/api/v3/brokerage/market/products/%s/candles", c.symbol)
	query := map[string]string{
		"start":       strconv.FormatInt(startUnix, 10),
		"end":         strconv.FormatInt(endUnix, 10),
		"granularity": coinbaseGranularity(tf),
	}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}

	var data candleResponse
	if err := c.get(ctx, path, query, &data); err != nil {
		return candles.Series{}, err
	}

	out := make([]candles.Candle, 0, len(data.Candles))
	for _, rc := range data.Candles {
		candle, ok := rc.parse()
		if !ok {
			continue
		}
		out = append(out, candle)
	}
	// Coinbase returns newest first.
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	return candles.NewSeries(out), nil
}

func (rc rawCandle) parse() (candles.Candle, bool) {
	ts, err := strconv.ParseInt(rc.Start, 10, 64)
	if err != nil {
		return candles.Candle{}, false
	}
	open, err1 := strconv.ParseFloat(rc.Open, 64)
	high, err2 := strconv.ParseFloat(rc.High, 64)
	low, err3 := strconv.ParseFloat(rc.Low, 64)
	closePx, err4 := strconv.ParseFloat(rc.Close, 64)
	volume, err5 := strconv.ParseFloat(rc.Volume, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return candles.Candle{}, false
	}
	return candles.Candle{
		Timestamp: time.Unix(ts, 0).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    volume,
	}, true
}

func (c *CoinbaseClient) CurrentPrice(ctx context.Context) (float64, error) {
	path := fmt.Sprintf("/api/v3/brokerage/market/products/%s/ticker", c.symbol)

	var data tickerResponse
	if err := c.get(ctx, path, map[string]string{"limit": "1"}, &data); err != nil {
		return 0, err
	}
	if len(data.Trades) == 0 {
		return 0, fmt.Errorf("no price in ticker response")
	}
	price, err := strconv.ParseFloat(data.Trades[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("bad ticker price %q: %w", data.Trades[0].Price, err)
	}
	return price, nil
}

// Fetch4H resamples hourly candles; the venue has no native 4h granularity.
func (c *CoinbaseClient) Fetch4H(ctx context.Context, limit int) (candles.Series, error) {
	hoursNeeded := limit * 4
	if hoursNeeded > 500 {
		hoursNeeded = 500
	}
	h1, err := c.FetchOHLCV(ctx, candles.H1, hoursNeeded)
	if err != nil {
		return candles.Series{}, err
	}
	return h1.Resample(4 * time.Hour), nil
}

func (c *CoinbaseClient) MidnightOpen(ctx context.Context) (float64, bool, error) {
	h1, err := c.FetchOHLCV(ctx, candles.H1, 48)
	if err != nil {
		return 0, false, err
	}
	price, ok := midnightOpen(h1, time.Now(), c.eastern)
	return price, ok, nil
}

// midnightOpen finds today's 00:00 ET hourly open, falling back to the
// first candle of the ET day.
func midnightOpen(h1 candles.Series, now time.Time, eastern *time.Location) (float64, bool) {
	if h1.IsEmpty() {
		return 0, false
	}
	todayY, todayM, todayD := now.In(eastern).Date()

	for i := 0; i < h1.Len(); i++ {
		et := h1.At(i).Timestamp.In(eastern)
		y, m, d := et.Date()
		if y == todayY && m == todayM && d == todayD && et.Hour() == 0 {
			return h1.At(i).Open, true
		}
	}
	for i := 0; i < h1.Len(); i++ {
		et := h1.At(i).Timestamp.In(eastern)
		y, m, d := et.Date()
		if y == todayY && m == todayM && d == todayD {
			return h1.At(i).Open, true
		}
	}
	return 0, false
}

func (c *CoinbaseClient) redisGet(ctx context.Context, key string) (candles.Series, bool) {
	if c.rdb == nil {
		return candles.Series{}, false
	}
	data, err := c.rdb.Get(ctx, "candles:"+key).Bytes()
	if err != nil {
		return candles.Series{}, false
	}
	var cs []candles.Candle
	if err := json.Unmarshal(data, &cs); err != nil {
		return candles.Series{}, false
	}
	return candles.NewSeries(cs), true
}

func (c *CoinbaseClient) redisSet(ctx context.Context, key string, series candles.Series) {
	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(series.All())
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, "candles:"+key, data, c.redisTTL).Err(); err != nil {
		c.logger.Debug().Err(err).Msg("redis cache write failed")
	}
}
