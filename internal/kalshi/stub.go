package kalshi

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/kalshibot/internal/book"
	"github.com/web3guy0/kalshibot/internal/models"
)

// StubClient satisfies API without credentials or network access. It serves
// a small synthetic market set with drifting books so the whole pipeline can
// run end to end in simulate mode.
type StubClient struct {
	mu     sync.Mutex
	rng    *rand.Rand
	orders map[string]string // order id -> status
	seq    int
}

// NewStubClient creates a deterministic stub.
func NewStubClient(seed int64) *StubClient {
	log.Warn().Msg("⚠️ Using stub exchange client - no credentials configured")
	return &StubClient{
		rng:    rand.New(rand.NewSource(seed)),
		orders: make(map[string]string),
	}
}

func (s *StubClient) GetMarkets(ctx context.Context, params MarketsParams) ([]models.Market, string, error) {
	now := time.Now()
	series := params.SeriesTicker
	if series == "" {
		series = "KXHIGHNY"
	}

	var markets []models.Market
	if series == "KXHIGHNY" {
		day := now.Format("06Jan02")
		lows := []float64{78, 81, 84, 87}
		for i, low := range lows {
			high := low + 3
			markets = append(markets, models.Market{
				Ticker:       fmt.Sprintf("KXHIGHNY-%s-B%.0f", day, low),
				Title:        fmt.Sprintf("High temp in NYC %.0f to %.0f", low, high-1),
				Status:       "open",
				CloseTime:    now.Add(12 * time.Hour),
				SeriesTicker: "KXHIGHNY",
				EventTicker:  "KXHIGHNY-" + day,
				YesBid:       20 + 5*i,
				YesAsk:       25 + 5*i,
				NoBid:        70 - 5*i,
				NoAsk:        75 - 5*i,
				Volume:       int64(1000 + 100*i),
				FloorStrike:  ptr(low),
				CapStrike:    ptr(high),
			})
		}
	} else {
		markets = append(markets, models.Market{
			Ticker:       fmt.Sprintf("%s-%s", series, now.Format("06Jan021504")),
			Title:        "BTC above strike",
			Status:       "open",
			CloseTime:    now.Add(15 * time.Minute),
			SeriesTicker: series,
			EventTicker:  series + "-" + now.Format("06Jan02"),
			YesBid:       48,
			YesAsk:       52,
			NoBid:        48,
			NoAsk:        52,
			Volume:       500,
		})
	}
	return markets, "", nil
}

func (s *StubClient) GetMarket(ctx context.Context, ticker string) (*models.Market, error) {
	return &models.Market{
		Ticker:    ticker,
		Status:    "open",
		CloseTime: time.Now().Add(6 * time.Hour),
		YesBid:    45,
		YesAsk:    50,
		NoBid:     50,
		NoAsk:     55,
	}, nil
}

func (s *StubClient) GetOrderbook(ctx context.Context, ticker string) (*book.OrderBook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mid := 40 + s.rng.Intn(20)
	b := book.New(ticker)
	b.ReplaceSides(
		[]book.Level{{PriceCents: mid, Quantity: 50 + s.rng.Intn(100)}, {PriceCents: mid - 2, Quantity: 120}},
		[]book.Level{{PriceCents: 100 - mid - 3, Quantity: 60 + s.rng.Intn(100)}, {PriceCents: 100 - mid - 5, Quantity: 150}},
		0, time.Now(),
	)
	b.Source = "rest"
	return b, nil
}

func (s *StubClient) GetCandlesticks(ctx context.Context, seriesTicker, ticker string, start, end time.Time, periodMinutes int) ([]Candlestick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Candlestick
	step := time.Duration(periodMinutes) * time.Minute
	price := 50.0
	for ts := start; ts.Before(end); ts = ts.Add(step) {
		price += float64(s.rng.Intn(7) - 3)
		if price < 5 {
			price = 5
		}
		if price > 95 {
			price = 95
		}
		out = append(out, Candlestick{EndPeriodTS: ts, YesPrice: price, Volume: int64(s.rng.Intn(50))})
	}
	return out, nil
}

func (s *StubClient) CreateOrder(ctx context.Context, req OrderRequest) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	id := fmt.Sprintf("stub-%d", s.seq)
	s.orders[id] = "resting"
	return map[string]any{
		"order": map[string]any{"order_id": id, "status": "resting"},
	}, nil
}

func (s *StubClient) CancelOrder(ctx context.Context, orderID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[orderID] = "canceled"
	return map[string]any{"order_id": orderID, "status": "canceled"}, nil
}

func (s *StubClient) GetOrder(ctx context.Context, orderID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("unknown order %s", orderID)
	}
	// Resting orders occasionally fill.
	if status == "resting" && s.rng.Float64() < 0.2 {
		status = "executed"
		s.orders[orderID] = status
	}
	return map[string]any{"order": map[string]any{"order_id": orderID, "status": status}}, nil
}

func (s *StubClient) GetQueuePositions(ctx context.Context, tickers []string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions := make(map[string]any, len(s.orders))
	for id, status := range s.orders {
		if status == "resting" {
			positions[id] = map[string]any{"queue_position": float64(s.rng.Intn(300))}
		}
	}
	return map[string]any{"queue_positions": positions}, nil
}

func (s *StubClient) WSURL() string { return "" }

func (s *StubClient) WSHeaders() (http.Header, error) { return nil, nil }

func ptr(f float64) *float64 { return &f }
