package feeds

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/kalshibot/internal/book"
	"github.com/web3guy0/kalshibot/internal/models"
	"github.com/web3guy0/kalshibot/internal/ws"
)

// ═══════════════════════════════════════════════════════════════════════════════
// KALSHI ORDER BOOK FEED
// ═══════════════════════════════════════════════════════════════════════════════
//
// Maintains in-memory books from the exchange websocket:
//   - snapshot messages seed both sides atomically
//   - delta messages mutate one level (additive delta or absolute quantity)
//   - ticker messages refresh best-price caches
//   - lifecycle messages are forwarded so the runtime can auto-subscribe to
//     newly opened markets
//
// Per ticker, a non-increasing sequence number is ignored; a snapshot with a
// sequence at least as new overwrites both sides.
//
// ═══════════════════════════════════════════════════════════════════════════════

// TickerQuote is the last best-price broadcast for a market.
type TickerQuote struct {
	YesBid int
	YesAsk int
	TS     time.Time
}

// KalshiBookFeed consumes the exchange websocket.
type KalshiBookFeed struct {
	mu      sync.RWMutex
	manager *ws.Manager

	books   map[string]*book.OrderBook
	tickers map[string]TickerQuote

	lifecycle chan models.LifecycleEvent
}

// NewKalshiBookFeed creates the feed. headerProvider signs each (re)connect.
func NewKalshiBookFeed(wsURL string, headerProvider func() (http.Header, error)) *KalshiBookFeed {
	f := &KalshiBookFeed{
		books:     make(map[string]*book.OrderBook),
		tickers:   make(map[string]TickerQuote),
		lifecycle: make(chan models.LifecycleEvent, 64),
	}
	f.manager = ws.New(ws.Config{
		Name:              "kalshi",
		URL:               wsURL,
		HeaderProvider:    headerProvider,
		HeartbeatInterval: 10 * time.Second,
	}, f.handleMessage)
	return f
}

// Run blocks until Close.
func (f *KalshiBookFeed) Run() {
	log.Info().Msg("📊 Kalshi order book feed starting")
	f.manager.Run()
}

// Close shuts the feed down.
func (f *KalshiBookFeed) Close() {
	f.manager.Close()
}

// IsConnected reports live connection state.
func (f *KalshiBookFeed) IsConnected() bool {
	return f.manager.IsConnected()
}

// OnError installs the manager's error hook.
func (f *KalshiBookFeed) OnError(fn func(error)) {
	f.manager.OnError(fn)
}

// Subscribe registers order book, ticker and lifecycle channels for tickers.
// The subscription replays automatically after reconnects.
func (f *KalshiBookFeed) Subscribe(tickers []string) error {
	return f.manager.Subscribe(map[string]any{
		"cmd":            "subscribe",
		"channels":       []string{"orderbook_delta", "ticker", "market_lifecycle"},
		"market_tickers": tickers,
	})
}

// Book returns a copy of the current book for a ticker.
func (f *KalshiBookFeed) Book(ticker string) (*book.OrderBook, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b, ok := f.books[ticker]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

// BookAge returns the time since a ticker's book last mutated.
func (f *KalshiBookFeed) BookAge(ticker string) (time.Duration, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b, ok := f.books[ticker]
	if !ok || b.UpdatedAt.IsZero() {
		return 0, false
	}
	return time.Since(b.UpdatedAt), true
}

// BookTickers lists tickers with a live book.
func (f *KalshiBookFeed) BookTickers() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.books))
	for t := range f.books {
		out = append(out, t)
	}
	return out
}

// TickerQuote returns the last broadcast best prices for a ticker.
func (f *KalshiBookFeed) TickerQuote(ticker string) (TickerQuote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.tickers[ticker]
	return q, ok
}

// Lifecycle exposes market lifecycle events for the runtime to drain.
func (f *KalshiBookFeed) Lifecycle() <-chan models.LifecycleEvent {
	return f.lifecycle
}

// handleMessage dispatches on a normalized type string. Unknown types are
// ignored.
func (f *KalshiBookFeed) handleMessage(msg map[string]any) {
	typ := messageType(msg)
	payload := messagePayload(msg)

	switch {
	case strings.Contains(typ, "snapshot"):
		f.handleSnapshot(payload)
	case strings.Contains(typ, "delta"):
		f.handleDelta(payload)
	case strings.Contains(typ, "lifecycle"):
		f.handleLifecycle(payload)
	case strings.Contains(typ, "ticker"):
		f.handleTicker(payload)
	}
}

func (f *KalshiBookFeed) handleSnapshot(payload map[string]any) {
	ticker, ok := models.AsString(payload["market_ticker"])
	if !ok {
		return
	}
	seq := extractSeq(payload)

	f.mu.Lock()
	defer f.mu.Unlock()

	b, exists := f.books[ticker]
	if exists && seq != 0 && seq < b.Seq {
		return // stale snapshot
	}
	if !exists {
		b = book.New(ticker)
		f.books[ticker] = b
	}
	b.ReplaceSides(parseLevels(payload["yes"]), parseLevels(payload["no"]), seq, time.Now())
	b.Source = models.DataSourceWS
}

func (f *KalshiBookFeed) handleDelta(payload map[string]any) {
	ticker, ok := models.AsString(payload["market_ticker"])
	if !ok {
		return
	}
	side, _ := models.AsString(payload["side"])
	price, ok := models.AsInt(payload["price"])
	if !ok {
		return
	}
	seq := extractSeq(payload)

	f.mu.Lock()
	defer f.mu.Unlock()

	b, exists := f.books[ticker]
	if !exists {
		// Deltas before a snapshot have nothing to apply to.
		return
	}
	if seq != 0 && seq <= b.Seq {
		return
	}

	if qty, ok := models.AsInt(payload["quantity"]); ok {
		b.ApplyDelta(side, price, qty, true)
	} else if delta, ok := models.AsInt(payload["delta"]); ok {
		b.ApplyDelta(side, price, delta, false)
	} else {
		return
	}
	if seq != 0 {
		b.Seq = seq
	}
	b.UpdatedAt = time.Now()
}

func (f *KalshiBookFeed) handleTicker(payload map[string]any) {
	ticker, ok := models.AsString(payload["market_ticker"])
	if !ok {
		return
	}
	q := TickerQuote{TS: time.Now()}
	if v, ok := models.AsInt(payload["yes_bid"]); ok {
		q.YesBid = v
	}
	if v, ok := models.AsInt(payload["yes_ask"]); ok {
		q.YesAsk = v
	}

	f.mu.Lock()
	f.tickers[ticker] = q
	f.mu.Unlock()
}

func (f *KalshiBookFeed) handleLifecycle(payload map[string]any) {
	ticker, ok := models.AsString(payload["market_ticker"])
	if !ok {
		return
	}
	event, _ := models.AsString(payload["event_type"])

	select {
	case f.lifecycle <- models.LifecycleEvent{MarketTicker: ticker, EventType: event, TS: time.Now()}:
	default:
		log.Warn().Str("ticker", ticker).Msg("Lifecycle channel full, dropping event")
	}
}

// messageType joins type, msg_type and channel into one lowercase
// discriminator string.
func messageType(msg map[string]any) string {
	parts := make([]string, 0, 3)
	for _, key := range []string{"type", "msg_type", "channel"} {
		if s, ok := models.AsString(msg[key]); ok {
			parts = append(parts, s)
		}
	}
	return strings.ToLower(strings.Join(parts, "|"))
}

// messagePayload unwraps the nested msg object when present.
func messagePayload(msg map[string]any) map[string]any {
	if nested, ok := msg["msg"].(map[string]any); ok {
		return nested
	}
	return msg
}

func extractSeq(payload map[string]any) int64 {
	if v, ok := models.AsFloat(payload["seq"]); ok {
		return int64(v)
	}
	return 0
}

// parseLevels decodes [[price, qty], ...] pairs.
func parseLevels(v any) []book.Level {
	pairs, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]book.Level, 0, len(pairs))
	for _, raw := range pairs {
		pair, ok := raw.([]any)
		if !ok || len(pair) < 2 {
			continue
		}
		price, okP := models.AsInt(pair[0])
		qty, okQ := models.AsInt(pair[1])
		if !okP || !okQ {
			continue
		}
		out = append(out, book.Level{PriceCents: price, Quantity: qty})
	}
	return out
}
