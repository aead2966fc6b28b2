package kalshi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/web3guy0/kalshibot/internal/book"
	"github.com/web3guy0/kalshibot/internal/models"
)

// ═══════════════════════════════════════════════════════════════════════════════
// KALSHI REST CLIENT
// ═══════════════════════════════════════════════════════════════════════════════

const (
	requestTimeout = 15 * time.Second
	wsPath         = "/trade-api/ws/v2"
)

// MarketsParams filters a markets listing.
type MarketsParams struct {
	SeriesTicker string
	EventTicker  string
	Status       string
	Limit        int
	Cursor       string
	MinCloseTS   int64
}

// OrderRequest is the minimal order submission payload.
type OrderRequest struct {
	Ticker     string `json:"ticker"`
	Side       string `json:"side"` // "yes" or "no"
	Count      int    `json:"count"`
	PriceCents int    `json:"-"`
	ClientID   string `json:"client_order_id,omitempty"`
}

// Candlestick is one settlement-price bar.
type Candlestick struct {
	EndPeriodTS time.Time
	YesPrice    float64 // cents
	Volume      int64
}

// API is the exchange surface the rest of the bot depends on. The stub
// client satisfies it for credential-less runs.
type API interface {
	GetMarkets(ctx context.Context, params MarketsParams) ([]models.Market, string, error)
	GetMarket(ctx context.Context, ticker string) (*models.Market, error)
	GetOrderbook(ctx context.Context, ticker string) (*book.OrderBook, error)
	GetCandlesticks(ctx context.Context, seriesTicker, ticker string, start, end time.Time, periodMinutes int) ([]Candlestick, error)
	CreateOrder(ctx context.Context, req OrderRequest) (map[string]any, error)
	CancelOrder(ctx context.Context, orderID string) (map[string]any, error)
	GetOrder(ctx context.Context, orderID string) (map[string]any, error)
	GetQueuePositions(ctx context.Context, tickers []string) (map[string]any, error)
	WSURL() string
	WSHeaders() (http.Header, error)
}

// Client is the authenticated REST client.
type Client struct {
	baseURL    string
	basePath   string
	httpClient *http.Client
	signer     *Signer
	limiter    *rate.Limiter
}

// NewClient creates a client for the given API base, e.g.
// "https://demo-api.kalshi.co/trade-api/v2". signer may be nil for
// public-data-only use.
func NewClient(baseURL string, signer *Signer) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse api base: %w", err)
	}
	return &Client{
		baseURL:    baseURL,
		basePath:   u.Path,
		httpClient: &http.Client{Timeout: requestTimeout},
		signer:     signer,
		limiter:    rate.NewLimiter(rate.Limit(8), 16),
	}, nil
}

// WSURL derives the websocket endpoint from the REST base: scheme swapped to
// wss, path replaced with the ws path.
func (c *Client) WSURL() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	u.Scheme = "wss"
	u.Path = wsPath
	u.RawQuery = ""
	return u.String()
}

// WSHeaders signs the websocket upgrade request.
func (c *Client) WSHeaders() (http.Header, error) {
	if c.signer == nil {
		return nil, nil
	}
	return c.signer.Headers("GET", wsPath)
}

// GetMarkets lists markets for one page; returns the next cursor.
func (c *Client) GetMarkets(ctx context.Context, params MarketsParams) ([]models.Market, string, error) {
	q := url.Values{}
	if params.SeriesTicker != "" {
		q.Set("series_ticker", params.SeriesTicker)
	}
	if params.EventTicker != "" {
		q.Set("event_ticker", params.EventTicker)
	}
	if params.Status != "" {
		q.Set("status", params.Status)
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Cursor != "" {
		q.Set("cursor", params.Cursor)
	}
	if params.MinCloseTS > 0 {
		q.Set("min_close_ts", strconv.FormatInt(params.MinCloseTS, 10))
	}

	var resp struct {
		Markets []marketJSON `json:"markets"`
		Cursor  string       `json:"cursor"`
	}
	if err := c.get(ctx, "/markets", q, &resp); err != nil {
		return nil, "", err
	}

	markets := make([]models.Market, 0, len(resp.Markets))
	for _, m := range resp.Markets {
		markets = append(markets, m.toModel())
	}
	return markets, resp.Cursor, nil
}

// GetMarket fetches one market's detail.
func (c *Client) GetMarket(ctx context.Context, ticker string) (*models.Market, error) {
	var resp struct {
		Market marketJSON `json:"market"`
	}
	if err := c.get(ctx, "/markets/"+ticker, nil, &resp); err != nil {
		return nil, err
	}
	m := resp.Market.toModel()
	return &m, nil
}

// GetOrderbook fetches the resting bid ladders for a ticker.
func (c *Client) GetOrderbook(ctx context.Context, ticker string) (*book.OrderBook, error) {
	var resp struct {
		Orderbook struct {
			Yes [][]int `json:"yes"`
			No  [][]int `json:"no"`
		} `json:"orderbook"`
	}
	if err := c.get(ctx, "/markets/"+ticker+"/orderbook", nil, &resp); err != nil {
		return nil, err
	}

	b := book.New(ticker)
	b.ReplaceSides(levelsFromPairs(resp.Orderbook.Yes), levelsFromPairs(resp.Orderbook.No), 0, time.Now())
	b.Source = "rest"
	return b, nil
}

// GetCandlesticks fetches historical bars for backfill.
func (c *Client) GetCandlesticks(ctx context.Context, seriesTicker, ticker string, start, end time.Time, periodMinutes int) ([]Candlestick, error) {
	q := url.Values{}
	q.Set("start_ts", strconv.FormatInt(start.Unix(), 10))
	q.Set("end_ts", strconv.FormatInt(end.Unix(), 10))
	q.Set("period_interval", strconv.Itoa(periodMinutes))

	var resp struct {
		Candlesticks []map[string]any `json:"candlesticks"`
	}
	path := "/series/" + seriesTicker + "/markets/" + ticker + "/candlesticks"
	if err := c.get(ctx, path, q, &resp); err != nil {
		return nil, err
	}

	out := make([]Candlestick, 0, len(resp.Candlesticks))
	for _, raw := range resp.Candlesticks {
		cs, ok := candlestickFromRaw(raw)
		if !ok {
			continue
		}
		out = append(out, cs)
	}
	return out, nil
}

// CreateOrder submits a limit order and returns the raw response payload.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (map[string]any, error) {
	body := map[string]any{
		"ticker": req.Ticker,
		"side":   req.Side,
		"count":  req.Count,
		"type":   "limit",
		"action": "buy",
	}
	if req.Side == "yes" {
		body["yes_price"] = req.PriceCents
	} else {
		body["no_price"] = req.PriceCents
	}
	if req.ClientID != "" {
		body["client_order_id"] = req.ClientID
	}

	var resp map[string]any
	if err := c.send(ctx, http.MethodPost, "/portfolio/orders", body, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (map[string]any, error) {
	var resp map[string]any
	if err := c.send(ctx, http.MethodDelete, "/portfolio/orders/"+orderID, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetOrder fetches the current status payload for an order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (map[string]any, error) {
	var resp map[string]any
	if err := c.get(ctx, "/portfolio/orders/"+orderID, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetQueuePositions fetches queue positions for resting orders.
func (c *Client) GetQueuePositions(ctx context.Context, tickers []string) (map[string]any, error) {
	q := url.Values{}
	for _, t := range tickers {
		q.Add("market_tickers", t)
	}
	var resp map[string]any
	if err := c.get(ctx, "/portfolio/orders/queue_positions", q, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// TRANSPORT
// ═══════════════════════════════════════════════════════════════════════════════

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, q, nil, out)
}

func (c *Client) send(ctx context.Context, method, path string, body any, out any) error {
	return c.do(ctx, method, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	fullURL := c.baseURL + path
	if len(q) > 0 {
		fullURL += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.signer != nil {
		headers, err := c.signer.Headers(method, c.basePath+path)
		if err != nil {
			return err
		}
		for k, vs := range headers {
			for _, v := range vs {
				req.Header.Set(k, v)
			}
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		log.Debug().Int("status", resp.StatusCode).Str("path", path).Msg("API error response")
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, truncate(string(data), 200))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// PAYLOAD MAPPING
// ═══════════════════════════════════════════════════════════════════════════════

type marketJSON struct {
	Ticker         string   `json:"ticker"`
	Title          string   `json:"title"`
	Subtitle       string   `json:"subtitle"`
	Status         string   `json:"status"`
	CloseTime      string   `json:"close_time"`
	ExpirationTime string   `json:"expiration_time"`
	SeriesTicker   string   `json:"series_ticker"`
	EventTicker    string   `json:"event_ticker"`
	YesBid         int      `json:"yes_bid"`
	YesAsk         int      `json:"yes_ask"`
	NoBid          int      `json:"no_bid"`
	NoAsk          int      `json:"no_ask"`
	Volume         int64    `json:"volume"`
	FloorStrike    *float64 `json:"floor_strike"`
	CapStrike      *float64 `json:"cap_strike"`
	Result         string   `json:"result"`
	SettledTime    string   `json:"settled_time"`
}

func (m marketJSON) toModel() models.Market {
	out := models.Market{
		Ticker:       m.Ticker,
		Title:        m.Title,
		Subtitle:     m.Subtitle,
		Status:       m.Status,
		SeriesTicker: m.SeriesTicker,
		EventTicker:  m.EventTicker,
		YesBid:       m.YesBid,
		YesAsk:       m.YesAsk,
		NoBid:        m.NoBid,
		NoAsk:        m.NoAsk,
		Volume:       m.Volume,
		FloorStrike:  m.FloorStrike,
		CapStrike:    m.CapStrike,
		Result:       m.Result,
	}
	if ts, ok := parseTime(m.CloseTime); ok {
		out.CloseTime = ts
	} else if ts, ok := parseTime(m.ExpirationTime); ok {
		out.CloseTime = ts
	}
	if ts, ok := parseTime(m.SettledTime); ok {
		out.SettledTime = &ts
	}
	return out
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func levelsFromPairs(pairs [][]int) []book.Level {
	out := make([]book.Level, 0, len(pairs))
	for _, p := range pairs {
		if len(p) < 2 {
			continue
		}
		out = append(out, book.Level{PriceCents: p[0], Quantity: p[1]})
	}
	return out
}

// candlestickFromRaw tolerates the several close-price spellings the API has
// used: close_yes, yes_price, close.
func candlestickFromRaw(raw map[string]any) (Candlestick, bool) {
	var cs Candlestick

	var price float64
	found := false
	for _, key := range []string{"close_yes", "yes_price", "close"} {
		if v, ok := models.AsFloat(raw[key]); ok {
			price = v
			found = true
			break
		}
	}
	if !found {
		if nested, ok := raw["price"].(map[string]any); ok {
			if v, ok := models.AsFloat(nested["close"]); ok {
				price = v
				found = true
			}
		}
	}
	if !found {
		return cs, false
	}

	endTS, ok := models.AsFloat(raw["end_period_ts"])
	if !ok {
		return cs, false
	}

	cs.YesPrice = price
	cs.EndPeriodTS = time.Unix(int64(endTS), 0).UTC()
	if v, ok := models.AsFloat(raw["volume"]); ok {
		cs.Volume = int64(v)
	}
	return cs, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
