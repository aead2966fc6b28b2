package feeds

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/kalshibot/internal/models"
	"github.com/web3guy0/kalshibot/internal/ws"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BINANCE TRADE FEED - Real-time BTC trade stream
// ═══════════════════════════════════════════════════════════════════════════════
//
// Used for:
//   - Latest spot price and short-window VWAP
//   - Momentum history for the BTC fair-value signal
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	binanceWSURL  = "wss://stream.binance.com:9443/ws/btcusdt@trade"
	tradeRingSize = 5000
)

// Trade is one executed trade observation.
type Trade struct {
	TS    time.Time
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// BinanceFeed keeps a bounded ring of recent trades.
type BinanceFeed struct {
	mu      sync.RWMutex
	manager *ws.Manager

	ring       []Trade
	head       int
	count      int
	lastUpdate time.Time
}

// NewBinanceFeed creates the feed.
func NewBinanceFeed() *BinanceFeed {
	f := &BinanceFeed{ring: make([]Trade, tradeRingSize)}
	f.manager = ws.New(ws.Config{
		Name: "binance",
		URL:  binanceWSURL,
	}, f.handleMessage)
	return f
}

// Run blocks until Close.
func (f *BinanceFeed) Run() {
	log.Info().Msg("📈 Binance trade feed starting")
	f.manager.Run()
}

// Close shuts the feed down.
func (f *BinanceFeed) Close() {
	f.manager.Close()
}

// IsConnected reports live connection state.
func (f *BinanceFeed) IsConnected() bool {
	return f.manager.IsConnected()
}

// Age returns the time since the last trade was observed.
func (f *BinanceFeed) Age() (time.Duration, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.lastUpdate.IsZero() {
		return 0, false
	}
	return time.Since(f.lastUpdate), true
}

// LatestPrice returns the most recent trade price.
func (f *BinanceFeed) LatestPrice() (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.count == 0 {
		return decimal.Zero, false
	}
	idx := (f.head - 1 + tradeRingSize) % tradeRingSize
	return f.ring[idx].Price, true
}

// VWAP computes the volume-weighted average price over a trailing window.
func (f *BinanceFeed) VWAP(window time.Duration) (decimal.Decimal, bool) {
	trades := f.HistoryWindow(window)
	if len(trades) == 0 {
		return decimal.Zero, false
	}

	notional := decimal.Zero
	volume := decimal.Zero
	for _, t := range trades {
		notional = notional.Add(t.Price.Mul(t.Qty))
		volume = volume.Add(t.Qty)
	}
	if volume.IsZero() {
		return decimal.Zero, false
	}
	return notional.Div(volume), true
}

// HistoryWindow returns trades newer than now-window, oldest first.
func (f *BinanceFeed) HistoryWindow(window time.Duration) []Trade {
	f.mu.RLock()
	defer f.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	out := make([]Trade, 0, f.count)
	for i := 0; i < f.count; i++ {
		idx := (f.head - f.count + i + tradeRingSize) % tradeRingSize
		if f.ring[idx].TS.After(cutoff) {
			out = append(out, f.ring[idx])
		}
	}
	return out
}

func (f *BinanceFeed) handleMessage(msg map[string]any) {
	if event, _ := models.AsString(msg["e"]); event != "trade" {
		return
	}

	priceStr, ok := models.AsString(msg["p"])
	if !ok {
		return
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return
	}

	qty := decimal.Zero
	if qtyStr, ok := models.AsString(msg["q"]); ok {
		if q, err := decimal.NewFromString(qtyStr); err == nil {
			qty = q
		}
	}

	ts := time.Now()
	if ms, ok := models.AsFloat(msg["T"]); ok {
		ts = time.UnixMilli(int64(ms))
	}

	f.mu.Lock()
	f.ring[f.head] = Trade{TS: ts, Price: price, Qty: qty}
	f.head = (f.head + 1) % tradeRingSize
	if f.count < tradeRingSize {
		f.count++
	}
	f.lastUpdate = time.Now()
	f.mu.Unlock()
}
