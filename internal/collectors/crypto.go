package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/kalshibot/internal/models"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BTC SPOT COLLECTOR - REST polling across venues
// ═══════════════════════════════════════════════════════════════════════════════
//
// One failing venue is logged and skipped; the remaining ticks still land.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	spotHTTPTimeout = 10 * time.Second
	btcSymbol       = "BTC-USD"
)

// CryptoCollector polls spot BTC prices from public REST endpoints.
type CryptoCollector struct {
	client *http.Client
}

// NewCryptoCollector creates the collector.
func NewCryptoCollector() *CryptoCollector {
	return &CryptoCollector{client: &http.Client{Timeout: spotHTTPTimeout}}
}

type spotFetcher struct {
	source string
	fetch  func(ctx context.Context) (decimal.Decimal, error)
}

// Collect fetches one tick per venue. All ticks share the same timestamp so
// anchor lookups see a consistent cross-venue row set.
func (c *CryptoCollector) Collect(ctx context.Context) []models.SpotTick {
	now := time.Now().UTC().Truncate(time.Second)

	fetchers := []spotFetcher{
		{"binance", c.fetchBinance},
		{"coinbase", c.fetchCoinbase},
		{"kraken", c.fetchKraken},
		{"bitstamp", c.fetchBitstamp},
	}

	ticks := make([]models.SpotTick, 0, len(fetchers))
	for _, f := range fetchers {
		price, err := f.fetch(ctx)
		if err != nil {
			log.Warn().Err(err).Str("source", f.source).Msg("⚠️ Spot fetch failed, skipping source")
			continue
		}
		if price.LessThanOrEqual(decimal.Zero) {
			continue
		}
		ticks = append(ticks, models.SpotTick{TS: now, Source: f.source, Symbol: btcSymbol, PriceUSD: price})
	}
	return ticks
}

func (c *CryptoCollector) fetchBinance(ctx context.Context) (decimal.Decimal, error) {
	var payload struct {
		Price string `json:"price"`
	}
	q := url.Values{"symbol": {"BTCUSDT"}}
	if err := c.getJSON(ctx, "https://api.binance.com/api/v3/ticker/price?"+q.Encode(), &payload); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(payload.Price)
}

func (c *CryptoCollector) fetchCoinbase(ctx context.Context) (decimal.Decimal, error) {
	var payload struct {
		Price string `json:"price"`
	}
	if err := c.getJSON(ctx, "https://api.exchange.coinbase.com/products/BTC-USD/ticker", &payload); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(payload.Price)
}

// fetchKraken reads the last-trade price from the "c" close array of whatever
// pair key the response carries.
func (c *CryptoCollector) fetchKraken(ctx context.Context) (decimal.Decimal, error) {
	var payload struct {
		Result map[string]struct {
			C []string `json:"c"`
		} `json:"result"`
	}
	if err := c.getJSON(ctx, "https://api.kraken.com/0/public/Ticker?pair=XBTUSD", &payload); err != nil {
		return decimal.Zero, err
	}
	for _, entry := range payload.Result {
		if len(entry.C) > 0 {
			return decimal.NewFromString(entry.C[0])
		}
	}
	return decimal.Zero, fmt.Errorf("kraken: no close price in response")
}

func (c *CryptoCollector) fetchBitstamp(ctx context.Context) (decimal.Decimal, error) {
	var payload struct {
		Last string `json:"last"`
	}
	if err := c.getJSON(ctx, "https://www.bitstamp.net/api/v2/ticker/btcusd/", &payload); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(payload.Last)
}

func (c *CryptoCollector) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
