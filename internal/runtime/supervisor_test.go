package runtime

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/kalshibot/internal/book"
	"github.com/web3guy0/kalshibot/internal/config"
	"github.com/web3guy0/kalshibot/internal/kalshi"
	"github.com/web3guy0/kalshibot/internal/models"
	"github.com/web3guy0/kalshibot/internal/pipeline"
)

type fakeBooks struct {
	subscribes [][]string
	books      map[string]*book.OrderBook
	lifecycle  chan models.LifecycleEvent
}

func newFakeBooks() *fakeBooks {
	return &fakeBooks{
		books:     make(map[string]*book.OrderBook),
		lifecycle: make(chan models.LifecycleEvent, 8),
	}
}

func (f *fakeBooks) Subscribe(tickers []string) error {
	f.subscribes = append(f.subscribes, tickers)
	return nil
}

func (f *fakeBooks) BookTickers() []string {
	out := make([]string, 0, len(f.books))
	for t := range f.books {
		out = append(out, t)
	}
	return out
}

func (f *fakeBooks) Book(ticker string) (*book.OrderBook, bool) {
	b, ok := f.books[ticker]
	return b, ok
}

func (f *fakeBooks) Lifecycle() <-chan models.LifecycleEvent { return f.lifecycle }

type fakeRunner struct {
	tickers []string
	cycles  int
}

func (f *fakeRunner) RunOnce(context.Context, time.Time) pipeline.CycleStats {
	f.cycles++
	return pipeline.CycleStats{Tickers: f.tickers}
}

type fakeClient struct {
	markets map[string]*models.Market
}

func (f *fakeClient) GetMarket(_ context.Context, ticker string) (*models.Market, error) {
	if m, ok := f.markets[ticker]; ok {
		return m, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeClient) GetMarkets(context.Context, kalshi.MarketsParams) ([]models.Market, string, error) {
	return nil, "", nil
}

func (f *fakeClient) GetOrderbook(context.Context, string) (*book.OrderBook, error) {
	return nil, errors.New("no book")
}

func (f *fakeClient) GetCandlesticks(context.Context, string, string, time.Time, time.Time, int) ([]kalshi.Candlestick, error) {
	return nil, nil
}

func (f *fakeClient) CreateOrder(context.Context, kalshi.OrderRequest) (map[string]any, error) {
	return nil, nil
}

func (f *fakeClient) CancelOrder(context.Context, string) (map[string]any, error) { return nil, nil }

func (f *fakeClient) GetOrder(context.Context, string) (map[string]any, error) { return nil, nil }

func (f *fakeClient) GetQueuePositions(context.Context, []string) (map[string]any, error) {
	return nil, nil
}

func (f *fakeClient) WSURL() string { return "" }

func (f *fakeClient) WSHeaders() (http.Header, error) { return nil, nil }

type fakeAlerter struct{ messages []string }

func (f *fakeAlerter) SendOperationalAlerts(messages []string) {
	f.messages = append(f.messages, messages...)
}

func supervisorConfig() *config.Config {
	return &config.Config{
		PollInterval:       time.Hour,
		LifecyclePrefix:    "KXBTC15M",
		HealthAuditEnabled: true,
	}
}

func wsBook(ticker string, yesBid int) *book.OrderBook {
	b := book.New(ticker)
	b.ReplaceSides(
		[]book.Level{{PriceCents: yesBid, Quantity: 50}},
		[]book.Level{{PriceCents: 100 - yesBid - 2, Quantity: 50}},
		1, time.Now(),
	)
	return b
}

func TestSubscribeNewDeduplicates(t *testing.T) {
	t.Parallel()

	books := newFakeBooks()
	s := New(supervisorConfig(), &fakeClient{}, &fakeRunner{}, books, nil, nil)

	s.subscribeNew([]string{"A", "B"})
	s.subscribeNew([]string{"B", "C"})

	require.Len(t, books.subscribes, 2)
	assert.Equal(t, []string{"A", "B"}, books.subscribes[0])
	assert.Equal(t, []string{"C"}, books.subscribes[1], "already-subscribed tickers are not resent")

	s.subscribeNew([]string{"A", "C"})
	assert.Len(t, books.subscribes, 2, "nothing new, no subscribe call")
}

func TestCycleSubscribesDiscoveredTickers(t *testing.T) {
	t.Parallel()

	books := newFakeBooks()
	run := &fakeRunner{tickers: []string{"MKT-1", "MKT-2"}}
	s := New(supervisorConfig(), &fakeClient{}, run, books, nil, nil)

	s.cycle(context.Background())

	assert.Equal(t, 1, run.cycles)
	require.Len(t, books.subscribes, 1)
	assert.Equal(t, []string{"MKT-1", "MKT-2"}, books.subscribes[0])
}

func TestLifecycleLoopFiltersByPrefix(t *testing.T) {
	t.Parallel()

	books := newFakeBooks()
	s := New(supervisorConfig(), &fakeClient{}, &fakeRunner{}, books, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.lifecycleLoop(ctx)
		close(done)
	}()

	books.lifecycle <- models.LifecycleEvent{MarketTicker: "KXHIGHNY-26AUG24-B85", EventType: "open"}
	books.lifecycle <- models.LifecycleEvent{MarketTicker: "KXBTC15M-NEW", EventType: "open"}

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.subscribed["KXBTC15M-NEW"]
	}, time.Second, 10*time.Millisecond)

	s.mu.Lock()
	assert.False(t, s.subscribed["KXHIGHNY-26AUG24-B85"], "non-prefix series is ignored")
	s.mu.Unlock()

	cancel()
	<-done
}

func TestAuditBooksFlagsDivergence(t *testing.T) {
	t.Parallel()

	books := newFakeBooks()
	books.books["GOOD"] = wsBook("GOOD", 40)
	books.books["BAD"] = wsBook("BAD", 40)
	client := &fakeClient{markets: map[string]*models.Market{
		"GOOD": {Ticker: "GOOD", YesBid: 41}, // 1 cent apart, within tolerance
		"BAD":  {Ticker: "BAD", YesBid: 50},  // 10 cents apart
	}}
	s := New(supervisorConfig(), client, &fakeRunner{}, books, nil, nil)

	findings := s.auditBooks(context.Background())

	require.Len(t, findings, 1)
	assert.Contains(t, findings[0], "BAD")
	assert.Contains(t, findings[0], "divergence")
}

func TestAuditBooksSkipsUnreachableMarkets(t *testing.T) {
	t.Parallel()

	books := newFakeBooks()
	books.books["MKT"] = wsBook("MKT", 40)
	s := New(supervisorConfig(), &fakeClient{}, &fakeRunner{}, books, nil, nil)

	assert.Empty(t, s.auditBooks(context.Background()), "REST failure is not a divergence")
}
