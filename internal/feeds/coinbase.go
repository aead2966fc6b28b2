package feeds

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/kalshibot/internal/models"
	"github.com/web3guy0/kalshibot/internal/ws"
)

const coinbaseWSURL = "wss://ws-feed.exchange.coinbase.com"

// Quote is the latest ticker observation from a venue.
type Quote struct {
	TS      time.Time
	Price   decimal.Decimal
	BestBid decimal.Decimal
	BestAsk decimal.Decimal
}

// CoinbaseFeed tracks the BTC-USD ticker channel.
type CoinbaseFeed struct {
	mu      sync.RWMutex
	manager *ws.Manager
	quote   Quote
	hasData bool
}

// NewCoinbaseFeed creates the feed and buffers its subscription.
func NewCoinbaseFeed() *CoinbaseFeed {
	f := &CoinbaseFeed{}
	f.manager = ws.New(ws.Config{
		Name: "coinbase",
		URL:  coinbaseWSURL,
	}, f.handleMessage)

	// Buffered now, sent on every (re)connect.
	f.manager.Subscribe(map[string]any{
		"type":        "subscribe",
		"channels":    []map[string]any{{"name": "ticker", "product_ids": []string{"BTC-USD"}}},
		"product_ids": []string{"BTC-USD"},
	})
	return f
}

// Run blocks until Close.
func (f *CoinbaseFeed) Run() {
	log.Info().Msg("📈 Coinbase ticker feed starting")
	f.manager.Run()
}

// Close shuts the feed down.
func (f *CoinbaseFeed) Close() {
	f.manager.Close()
}

// IsConnected reports live connection state.
func (f *CoinbaseFeed) IsConnected() bool {
	return f.manager.IsConnected()
}

// Latest returns the newest quote.
func (f *CoinbaseFeed) Latest() (Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.quote, f.hasData
}

// Age returns the time since the last quote.
func (f *CoinbaseFeed) Age() (time.Duration, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.hasData {
		return 0, false
	}
	return time.Since(f.quote.TS), true
}

func (f *CoinbaseFeed) handleMessage(msg map[string]any) {
	if typ, _ := models.AsString(msg["type"]); typ != "ticker" {
		return
	}

	priceStr, ok := models.AsString(msg["price"])
	if !ok {
		return
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return
	}

	q := Quote{TS: time.Now(), Price: price}
	if s, ok := models.AsString(msg["time"]); ok {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			q.TS = ts
		}
	}
	if s, ok := models.AsString(msg["best_bid"]); ok {
		if d, err := decimal.NewFromString(s); err == nil {
			q.BestBid = d
		}
	}
	if s, ok := models.AsString(msg["best_ask"]); ok {
		if d, err := decimal.NewFromString(s); err == nil {
			q.BestAsk = d
		}
	}

	f.mu.Lock()
	f.quote = q
	f.hasData = true
	f.mu.Unlock()
}
