package collectors

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/kalshibot/internal/kalshi"
	"github.com/web3guy0/kalshibot/internal/models"
	"github.com/web3guy0/kalshibot/internal/signals"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RESOLUTION COLLECTOR - Settled markets plus NWS ground truth
// ═══════════════════════════════════════════════════════════════════════════════
//
// Discovers recently-closed markets by paginating each configured series,
// fetches settled details, and for weather markets that settled today
// cross-checks against the NWS climate report for the NYC daily high.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	nwsCLIURL          = "https://forecast.weather.gov/product.php?site=OKX&product=CLI&issuedby=NYC"
	maxPagesPerSeries  = 4
	discoveryPageLimit = 200
	maxCandidates      = 250
)

var (
	nwsMaxTempRe    = regexp.MustCompile(`(?is)MAXIMUM TEMPERATURE.*?TODAY\s+(-?\d+)`)
	kxhighnyDateRe  = regexp.MustCompile(`KXHIGHNY-(\d{2}[A-Z]{3}\d{2})-`)
)

// Market types inferred from series/ticker prefixes.
const (
	MarketTypeWeather = "weather"
	MarketTypeBTC15M  = "btc_15m"
	MarketTypeUnknown = "unknown"
)

// ResolutionCollector finds settled market outcomes.
type ResolutionCollector struct {
	api           kalshi.API
	http          *http.Client
	seriesTickers []string
	lookback      time.Duration
	nycLocation   *time.Location
}

// NewResolutionCollector creates the collector.
func NewResolutionCollector(api kalshi.API, seriesTickers []string, lookbackHours int) *ResolutionCollector {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	if lookbackHours < 1 {
		lookbackHours = 1
	}
	return &ResolutionCollector{
		api:           api,
		http:          &http.Client{Timeout: 20 * time.Second},
		seriesTickers: seriesTickers,
		lookback:      time.Duration(lookbackHours) * time.Hour,
		nycLocation:   loc,
	}
}

// Collect discovers and fetches settled markets, returning upsertable
// resolutions. seedTickers are always checked in addition to discovery.
func (r *ResolutionCollector) Collect(ctx context.Context, seedTickers []string) []models.Resolution {
	now := time.Now().UTC()
	candidates := r.discover(ctx, seedTickers, now)
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}

	var resolutions []models.Resolution
	weatherBounds := make(map[string]signals.Bounds)

	for _, ticker := range candidates {
		m, err := r.api.GetMarket(ctx, ticker)
		if err != nil {
			log.Warn().Err(err).Str("ticker", ticker).Msg("Resolution fetch failed")
			continue
		}
		if strings.ToLower(m.Status) != "settled" {
			continue
		}

		res := models.Resolution{
			Ticker:     m.Ticker,
			Result:     normalizeResult(m.Result),
			ResolvedAt: now,
		}
		if m.SettledTime != nil {
			res.ResolvedAt = *m.SettledTime
		} else if !m.CloseTime.IsZero() {
			res.ResolvedAt = m.CloseTime
		}

		if InferMarketType(m.SeriesTicker, m.Ticker) == MarketTypeWeather {
			if b, ok := signals.ParseBounds(*m); ok {
				weatherBounds[m.Ticker] = b
			}
		}
		resolutions = append(resolutions, res)
	}

	r.enrichWithNWS(ctx, resolutions, weatherBounds, now)
	return resolutions
}

// discover paginates each configured series, keeping settled markets and
// markets that closed inside the lookback window, newest close first.
func (r *ResolutionCollector) discover(ctx context.Context, seedTickers []string, now time.Time) []string {
	lookbackStart := now.Add(-r.lookback)
	closeTimes := make(map[string]time.Time)

	for _, seed := range seedTickers {
		if seed = strings.TrimSpace(seed); seed != "" {
			closeTimes[seed] = time.Time{}
		}
	}

	for _, series := range r.seriesTickers {
		series = strings.ToUpper(strings.TrimSpace(series))
		if series == "" {
			continue
		}
		cursor := ""
		for page := 0; page < maxPagesPerSeries; page++ {
			markets, next, err := r.api.GetMarkets(ctx, kalshi.MarketsParams{
				SeriesTicker: series,
				Limit:        discoveryPageLimit,
				Cursor:       cursor,
			})
			if err != nil {
				log.Warn().Err(err).Str("series", series).Msg("Resolution discovery failed")
				break
			}
			if len(markets) == 0 {
				break
			}
			for _, m := range markets {
				if m.Ticker == "" {
					continue
				}
				switch {
				case strings.ToLower(m.Status) == "settled":
					closeTimes[m.Ticker] = m.CloseTime
				case !m.CloseTime.IsZero() && !m.CloseTime.Before(lookbackStart) && !m.CloseTime.After(now):
					closeTimes[m.Ticker] = m.CloseTime
				}
			}
			if next == "" {
				break
			}
			cursor = next
		}
	}

	out := make([]string, 0, len(closeTimes))
	for t := range closeTimes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return closeTimes[out[i]].After(closeTimes[out[j]])
	})
	return out
}

// enrichWithNWS fills in today's weather results from the NWS climate
// report when the API omitted them, and records the observed high as the
// actual value.
func (r *ResolutionCollector) enrichWithNWS(ctx context.Context, resolutions []models.Resolution, bounds map[string]signals.Bounds, now time.Time) {
	if len(bounds) == 0 {
		return
	}
	maxTemp, err := r.fetchNWSMaxTemp(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("NWS CLI fetch failed")
		return
	}

	todayNYC := now.In(r.nycLocation).Format("2006-01-02")
	for i := range resolutions {
		b, isWeather := bounds[resolutions[i].Ticker]
		if !isWeather {
			continue
		}
		marketDate, ok := ParseKXHIGHNYDate(resolutions[i].Ticker)
		if !ok || marketDate.Format("2006-01-02") != todayNYC {
			continue
		}
		if resolutions[i].Result == "unknown" || resolutions[i].Result == "" {
			resolutions[i].Result = signals.ResultForBounds(maxTemp, b)
		}
		v := maxTemp
		resolutions[i].ActualValue = &v
	}
}

// fetchNWSMaxTemp scrapes today's observed maximum from the NYC CLI product.
func (r *ResolutionCollector) fetchNWSMaxTemp(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nwsCLIURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "kalshibot/1.0")

	resp, err := r.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("nws cli: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}

	match := nwsMaxTempRe.FindSubmatch(body)
	if match == nil {
		return 0, fmt.Errorf("nws cli: no maximum temperature in product")
	}
	v, err := strconv.Atoi(string(match[1]))
	if err != nil {
		return 0, err
	}
	return float64(v), nil
}

// InferMarketType classifies a market by series or ticker prefix.
func InferMarketType(seriesTicker, ticker string) string {
	series := strings.ToUpper(seriesTicker)
	upper := strings.ToUpper(ticker)
	switch {
	case series == "KXHIGHNY" || strings.HasPrefix(upper, "KXHIGHNY"):
		return MarketTypeWeather
	case series == "KXBTC15M" || strings.HasPrefix(upper, "KXBTC15M"):
		return MarketTypeBTC15M
	}
	return MarketTypeUnknown
}

// ParseKXHIGHNYDate extracts the target date from tickers like
// KXHIGHNY-25AUG24-B84.
func ParseKXHIGHNYDate(ticker string) (time.Time, bool) {
	match := kxhighnyDateRe.FindStringSubmatch(strings.ToUpper(ticker))
	if match == nil {
		return time.Time{}, false
	}
	ts, err := time.Parse("06Jan02", titleCaseMonth(match[1]))
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// titleCaseMonth maps 25AUG24 to 25Aug24 so the stdlib layout can parse it.
func titleCaseMonth(token string) string {
	if len(token) != 7 {
		return token
	}
	return token[:2] + token[2:3] + strings.ToLower(token[3:5]) + token[5:]
}

func normalizeResult(result string) string {
	switch strings.ToLower(result) {
	case "yes":
		return "yes"
	case "no":
		return "no"
	}
	return "unknown"
}
