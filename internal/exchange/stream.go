package exchange

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const wsURL = "wss://advanced-trade-ws.coinbase.com"

// PriceUpdate is one ticker tick from the websocket feed.
type PriceUpdate struct {
	Symbol string
	Price  float64
	Time   time.Time
}

type wsSubscribe struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channel    string   `json:"channel"`
}

type wsMessage struct {
	Channel string `json:"channel"`
	Events  []struct {
		Tickers []struct {
			ProductID string `json:"product_id"`
			Price     string `json:"price"`
		} `json:"tickers"`
	} `json:"events"`
}

// TickerStream maintains a websocket subscription to the public ticker
// channel and fans ticks out on Updates. It reconnects with backoff until
// the context is cancelled.
type TickerStream struct {
	symbol  string
	url     string
	Updates chan PriceUpdate
	logger  zerolog.Logger
}

func NewTickerStream(symbol string, logger zerolog.Logger) *TickerStream {
	return &TickerStream{
		symbol:  symbol,
		url:     wsURL,
		Updates: make(chan PriceUpdate, 64),
		logger:  logger.With().Str("component", "TickerStream").Logger(),
	}
}

// Run blocks until ctx is cancelled, reconnecting on any read error.
func (s *TickerStream) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := s.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn().Err(err).Dur("backoff", backoff).Msg("websocket disconnected")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *TickerStream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := wsSubscribe{
		Type:       "subscribe",
		ProductIDs: []string{s.symbol},
		Channel:    "ticker",
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	s.logger.Info().Str("symbol", s.symbol).Msg("ticker stream connected")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Channel != "ticker" {
			continue
		}
		for _, event := range msg.Events {
			for _, ticker := range event.Tickers {
				price, err := strconv.ParseFloat(ticker.Price, 64)
				if err != nil {
					continue
				}
				update := PriceUpdate{
					Symbol: ticker.ProductID,
					Price:  price,
					Time:   time.Now().UTC(),
				}
				select {
				case s.Updates <- update:
				default:
					// Drop ticks rather than block the reader.
				}
			}
		}
	}
}
