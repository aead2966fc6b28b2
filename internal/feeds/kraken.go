package feeds

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/kalshibot/internal/models"
	"github.com/web3guy0/kalshibot/internal/ws"
)

const krakenWSURL = "wss://ws.kraken.com/v2"

// KrakenFeed tracks the BTC/USD v2 ticker channel. The v2 ticker omits an
// event timestamp, so quotes are stamped at receipt.
type KrakenFeed struct {
	mu      sync.RWMutex
	manager *ws.Manager
	quote   Quote
	hasData bool
}

// NewKrakenFeed creates the feed and buffers its subscription.
func NewKrakenFeed() *KrakenFeed {
	f := &KrakenFeed{}
	f.manager = ws.New(ws.Config{
		Name: "kraken",
		URL:  krakenWSURL,
	}, f.handleMessage)

	f.manager.Subscribe(map[string]any{
		"method": "subscribe",
		"params": map[string]any{
			"channel": "ticker",
			"symbol":  []string{"BTC/USD"},
		},
	})
	return f
}

// Run blocks until Close.
func (f *KrakenFeed) Run() {
	log.Info().Msg("📈 Kraken ticker feed starting")
	f.manager.Run()
}

// Close shuts the feed down.
func (f *KrakenFeed) Close() {
	f.manager.Close()
}

// IsConnected reports live connection state.
func (f *KrakenFeed) IsConnected() bool {
	return f.manager.IsConnected()
}

// Latest returns the newest quote.
func (f *KrakenFeed) Latest() (Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.quote, f.hasData
}

// Age returns the time since the last quote.
func (f *KrakenFeed) Age() (time.Duration, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.hasData {
		return 0, false
	}
	return time.Since(f.quote.TS), true
}

func (f *KrakenFeed) handleMessage(msg map[string]any) {
	if ch, _ := models.AsString(msg["channel"]); ch != "ticker" {
		return
	}

	data, ok := msg["data"].([]any)
	if !ok || len(data) == 0 {
		return
	}
	entry, ok := data[0].(map[string]any)
	if !ok {
		return
	}

	last, ok := models.AsFloat(entry["last"])
	if !ok || last <= 0 {
		return
	}

	q := Quote{TS: time.Now(), Price: decimal.NewFromFloat(last)}
	if bid, ok := models.AsFloat(entry["bid"]); ok {
		q.BestBid = decimal.NewFromFloat(bid)
	}
	if ask, ok := models.AsFloat(entry["ask"]); ok {
		q.BestAsk = decimal.NewFromFloat(ask)
	}

	f.mu.Lock()
	f.quote = q
	f.hasData = true
	f.mu.Unlock()
}
