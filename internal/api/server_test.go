package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"ict-trading-bot/config"
	"ict-trading-bot/internal/analyzer"
	"ict-trading-bot/internal/kelly"
	"ict-trading-bot/internal/trading"
	"ict-trading-bot/internal/weekly"
)

type fakeBot struct {
	bias  *weekly.Bias
	price float64
}

func (f *fakeBot) Stats() trading.Stats {
	return trading.Stats{Balance: 10500, TotalTrades: 3, WinRate: 66.7}
}

func (f *fakeBot) OpenPositions() []trading.Position {
	return []trading.Position{{ID: 7, EntryPrice: 100000}}
}

func (f *fakeBot) TradeRecords() []trading.TradeRecord {
	return []trading.TradeRecord{
		{PositionID: 1, Outcome: "win", PnL: 40, Metadata: trading.TradeMetadata{Scale: "5m", Session: "london", DayOfWeek: "wednesday"}},
		{PositionID: 2, Outcome: "loss", PnL: -20, Metadata: trading.TradeMetadata{Scale: "5m", Session: "newyork_am", DayOfWeek: "thursday"}},
	}
}

func (f *fakeBot) KellyByScale() map[string]kelly.Result {
	return map[string]kelly.Result{"5m": {AppliedFraction: 0.02}}
}

func (f *fakeBot) WeeklyBias() *weekly.Bias { return f.bias }
func (f *fakeBot) LastPrice() float64       { return f.price }

func (f *fakeBot) RecentAdjustments(limit int) []analyzer.Adjustment {
	out := []analyzer.Adjustment{{Parameter: "SESSION_WEIGHTS.asia", OldValue: 1.0, NewValue: 0.9}}
	if limit < len(out) {
		out = out[:limit]
	}
	return out
}

func newTestServer(t *testing.T, tokenHash string) *Server {
	t.Helper()
	cfg := config.TestDefault()
	cfg.ServerConfig.APITokenHash = tokenHash
	return NewServer(cfg, &fakeBot{price: 100250}, zerolog.Nop())
}

func getJSON(t *testing.T, s *Server, path, token string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var body map[string]any
	if len(w.Body.Bytes()) > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w.Code, body
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t, "")
	code, body := getJSON(t, s, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestServer(t, "")
	code, body := getJSON(t, s, "/api/stats", "")
	require.Equal(t, http.StatusOK, code)

	data := body["data"].(map[string]any)
	assert.Equal(t, 10500.0, data["balance"])
	assert.Equal(t, 3.0, data["total_trades"])
}

func TestAuthRejectsMissingAndBadTokens(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("letmein"), bcrypt.MinCost)
	require.NoError(t, err)
	s := newTestServer(t, string(hash))

	code, _ := getJSON(t, s, "/api/stats", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = getJSON(t, s, "/api/stats", "wrong")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = getJSON(t, s, "/api/stats", "letmein")
	assert.Equal(t, http.StatusOK, code)
}

func TestWeeklyReturns404BeforeClassification(t *testing.T) {
	s := newTestServer(t, "")
	code, _ := getJSON(t, s, "/api/weekly", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAnalysisDimensionFilter(t *testing.T) {
	s := newTestServer(t, "")

	code, body := getJSON(t, s, "/api/analysis?dimension=scale", "")
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	assert.Contains(t, data, "5m")

	code, _ = getJSON(t, s, "/api/analysis?dimension=nope", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAdjustmentsLimitValidation(t *testing.T) {
	s := newTestServer(t, "")

	code, body := getJSON(t, s, "/api/adjustments", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["data"], 1)

	code, _ = getJSON(t, s, "/api/adjustments?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	assert.True(t, rl.Allow("/api/stats"))
	assert.True(t, rl.Allow("/api/stats"))
	assert.False(t, rl.Allow("/api/stats"))
	assert.True(t, rl.Allow("/api/positions"))
}
