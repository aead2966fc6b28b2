package pricing

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/kalshibot/internal/book"
	"github.com/web3guy0/kalshibot/internal/feeds"
	"github.com/web3guy0/kalshibot/internal/kalshi"
	"github.com/web3guy0/kalshibot/internal/models"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PRICING PROVIDER - Freshness-tiered price access
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every read prefers the websocket cache, falls back to recent database
// state, and only then hits REST. The tier used is reported alongside the
// value so downstream signals can record their data source.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	wsSpotMaxAge   = 5 * time.Second
	dbSpotMaxAge   = 30 * time.Second
	wsBookMaxAge   = 10 * time.Second
	minMomentumPts = 2
)

// PricePoint is one venue's current BTC price with its provenance.
type PricePoint struct {
	Source   string
	PriceUSD decimal.Decimal
	TS       time.Time
	Tier     string // "ws" or "rest_fallback"
}

// tickReader is the slice of the store the provider needs.
type tickReader interface {
	LatestSpotTick(source string) (*models.SpotTick, error)
	RecentSpotTicks(source string, window time.Duration) ([]models.SpotTick, error)
}

// Provider fans price reads across live feeds, stored ticks and REST.
type Provider struct {
	binance  *feeds.BinanceFeed
	coinbase *feeds.CoinbaseFeed
	kraken   *feeds.KrakenFeed
	bookFeed *feeds.KalshiBookFeed
	client   kalshi.API
	ticks    tickReader
}

// New wires the provider. Any feed may be nil; the provider then skips its
// websocket tier.
func New(binance *feeds.BinanceFeed, coinbase *feeds.CoinbaseFeed, kraken *feeds.KrakenFeed, bookFeed *feeds.KalshiBookFeed, client kalshi.API, ticks tickReader) *Provider {
	return &Provider{
		binance:  binance,
		coinbase: coinbase,
		kraken:   kraken,
		bookFeed: bookFeed,
		client:   client,
		ticks:    ticks,
	}
}

// BTCPrices returns the freshest BTC price per venue. A venue whose
// websocket is fresh contributes its live price; otherwise a database tick
// no older than 30s; otherwise the venue is skipped.
func (p *Provider) BTCPrices() map[string]PricePoint {
	out := make(map[string]PricePoint)

	if p.binance != nil {
		if age, ok := p.binance.Age(); ok && age < wsSpotMaxAge {
			if price, ok := p.binance.LatestPrice(); ok {
				out["binance"] = PricePoint{Source: "binance", PriceUSD: price, TS: time.Now().Add(-age), Tier: models.DataSourceWS}
			}
		}
	}
	if p.coinbase != nil {
		if age, ok := p.coinbase.Age(); ok && age < wsSpotMaxAge {
			if q, ok := p.coinbase.Latest(); ok {
				out["coinbase"] = PricePoint{Source: "coinbase", PriceUSD: q.Price, TS: q.TS, Tier: models.DataSourceWS}
			}
		}
	}
	if p.kraken != nil {
		if age, ok := p.kraken.Age(); ok && age < wsSpotMaxAge {
			if q, ok := p.kraken.Latest(); ok {
				out["kraken"] = PricePoint{Source: "kraken", PriceUSD: q.Price, TS: q.TS, Tier: models.DataSourceWS}
			}
		}
	}

	// Bitstamp is REST-collected only; every venue missing a live price
	// falls back to stored ticks.
	for _, source := range []string{"binance", "coinbase", "kraken", "bitstamp"} {
		if _, ok := out[source]; ok {
			continue
		}
		if p.ticks == nil {
			continue
		}
		tick, err := p.ticks.LatestSpotTick(source)
		if err != nil || tick == nil {
			continue
		}
		if time.Since(tick.TS) > dbSpotMaxAge {
			continue
		}
		out[source] = PricePoint{Source: source, PriceUSD: tick.PriceUSD, TS: tick.TS, Tier: models.DataSourceRESTFallback}
	}

	return out
}

// BTCMomentum returns the fractional price change over a trailing window,
// preferring the live Binance trade ring and falling back to stored ticks.
// Requires at least two points.
func (p *Provider) BTCMomentum(window time.Duration) (float64, string, bool) {
	if p.binance != nil {
		trades := p.binance.HistoryWindow(window)
		if len(trades) >= minMomentumPts {
			first := trades[0].Price
			last := trades[len(trades)-1].Price
			if m, ok := fractionalChange(first, last); ok {
				return m, models.DataSourceWS, true
			}
		}
	}

	if p.ticks != nil {
		rows, err := p.ticks.RecentSpotTicks("binance", window)
		if err == nil && len(rows) >= minMomentumPts {
			if m, ok := fractionalChange(rows[0].PriceUSD, rows[len(rows)-1].PriceUSD); ok {
				return m, models.DataSourceRESTFallback, true
			}
		}
	}

	return 0, "", false
}

// Orderbook returns the current book for a ticker: the websocket copy when
// it mutated inside the last 10s, otherwise a REST fetch.
func (p *Provider) Orderbook(ctx context.Context, ticker string) (*book.OrderBook, string, error) {
	if p.bookFeed != nil {
		if age, ok := p.bookFeed.BookAge(ticker); ok && age <= wsBookMaxAge {
			if b, ok := p.bookFeed.Book(ticker); ok {
				return b, models.DataSourceWS, nil
			}
		}
	}

	b, err := p.client.GetOrderbook(ctx, ticker)
	if err != nil {
		return nil, "", err
	}
	b.Source = models.DataSourceRESTFallback
	return b, models.DataSourceRESTFallback, nil
}

// Snapshot builds one price observation for a market, from the freshest
// book when available and otherwise from the REST market detail.
func (p *Provider) Snapshot(ctx context.Context, m models.Market) (*models.MarketSnapshot, error) {
	if b, tier, err := p.Orderbook(ctx, m.Ticker); err == nil {
		if bid, ok := b.BestYesBid(); ok {
			snap := &models.MarketSnapshot{
				Ticker:   m.Ticker,
				TS:       time.Now().Truncate(time.Second),
				YesPrice: NormalizeProbability(float64(bid)),
				Volume:   m.Volume,
				Source:   tier,
			}
			if noBid, ok := b.BestNoBid(); ok {
				snap.NoPrice = NormalizeProbability(float64(noBid))
			}
			return snap, nil
		}
	}

	detail, err := p.client.GetMarket(ctx, m.Ticker)
	if err != nil {
		log.Debug().Err(err).Str("ticker", m.Ticker).Msg("Snapshot fallback fetch failed")
		return nil, err
	}
	return &models.MarketSnapshot{
		Ticker:   m.Ticker,
		TS:       time.Now().Truncate(time.Second),
		YesPrice: NormalizeProbability(float64(detail.YesBid)),
		NoPrice:  NormalizeProbability(float64(detail.NoBid)),
		Volume:   detail.Volume,
		Source:   models.DataSourceREST,
	}, nil
}

// NormalizeProbability maps a price to [0,1]. Values above 1 are treated as
// cents.
func NormalizeProbability(v float64) float64 {
	if v > 1 {
		v = v / 100
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func fractionalChange(first, last decimal.Decimal) (float64, bool) {
	if first.IsZero() {
		return 0, false
	}
	return last.Sub(first).Div(first).InexactFloat64(), true
}
