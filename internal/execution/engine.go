package execution

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/kalshibot/internal/book"
	"github.com/web3guy0/kalshibot/internal/config"
	"github.com/web3guy0/kalshibot/internal/kalshi"
	"github.com/web3guy0/kalshibot/internal/models"
	"github.com/web3guy0/kalshibot/internal/risk"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTION ENGINE - Signal-to-order conversion
// ═══════════════════════════════════════════════════════════════════════════════
//
// Candidates are filtered by edge and confidence, sorted by edge magnitude,
// priced maker-only, sized under the Kelly caps, and either submitted to the
// sandbox exchange or recorded as simulated.
//
// ═══════════════════════════════════════════════════════════════════════════════

const fillProbMinSamples = 20

// OrderStore is the persistence slice the engine needs.
type OrderStore interface {
	HasRecentOrder(ticker, direction string, window time.Duration) (bool, error)
	InsertPaperOrder(order models.PaperOrder) (int64, error)
	CurrentExposureDollars() (decimal.Decimal, error)
	EstimateFillProbability(tickerPrefix string, lookbackDays, priceCents, minSamples int, def float64) (float64, error)
}

// Stats summarizes one execution pass.
type Stats struct {
	Candidates   int
	Attempted    int
	Submitted    int
	Simulated    int
	Failed       int
	Skipped      int
	ArbLegs      int
	ArbExecuted  int
}

// Engine converts signals into paper orders.
type Engine struct {
	cfg    *config.Config
	client kalshi.API
	store  OrderStore
	sizer  *risk.Sizer
}

// New creates the engine.
func New(cfg *config.Config, client kalshi.API, store OrderStore) *Engine {
	return &Engine{
		cfg:    cfg,
		client: client,
		store:  store,
		sizer: risk.NewSizer(
			cfg.SizingMode,
			cfg.FixedContractCount,
			cfg.KellyFractionScale,
			cfg.MaxPositionDollars,
			cfg.MaxPortfolioDollars,
		),
	}
}

// Execute runs one execution pass: arbitrage legs first, then directional
// candidates ordered by edge magnitude, capped per cycle.
func (e *Engine) Execute(ctx context.Context, signals []models.Signal, books map[string]*book.OrderBook, arbs []*models.BracketArbOpportunity, now time.Time) Stats {
	var stats Stats

	if e.cfg.BracketArbEnabled {
		for _, opp := range arbs {
			if opp == nil {
				continue
			}
			e.executeArb(ctx, opp, now, &stats)
		}
	}

	candidates := e.filterCandidates(signals)
	stats.Candidates = len(candidates)

	cooldown := time.Duration(e.cfg.CooldownMinutes) * time.Minute
	for _, sig := range candidates {
		if stats.Attempted >= e.cfg.MaxOrdersPerCycle {
			break
		}
		recent, err := e.store.HasRecentOrder(sig.Ticker, sig.Direction, cooldown)
		if err != nil || recent {
			stats.Skipped++
			continue
		}

		b := books[sig.Ticker]
		if b == nil {
			stats.Skipped++
			continue
		}
		side := "yes"
		if sig.Direction == models.DirectionBuyNo {
			side = "no"
		}
		price, ok := MakerPrice(side, b, e.cfg.MakerOnly, e.cfg.MinPriceCents, e.cfg.MaxPriceCents)
		if !ok {
			stats.Skipped++
			continue
		}

		count := e.contractCount(sig, side, price)
		if count <= 0 {
			stats.Skipped++
			continue
		}

		stats.Attempted++
		e.submit(ctx, sig.Ticker, sig.Type, sig.Direction, side, count, price, now, &stats)
	}

	log.Info().
		Int("candidates", stats.Candidates).
		Int("submitted", stats.Submitted).
		Int("simulated", stats.Simulated).
		Int("failed", stats.Failed).
		Msg("📊 Execution pass complete")
	return stats
}

// filterCandidates applies the type whitelist and the edge/confidence
// floors, then sorts by edge magnitude.
func (e *Engine) filterCandidates(signals []models.Signal) []models.Signal {
	out := make([]models.Signal, 0, len(signals))
	for _, s := range signals {
		if s.Direction != models.DirectionBuyYes && s.Direction != models.DirectionBuyNo {
			continue
		}
		if s.Type == models.SignalTypeWeather && !e.cfg.WeatherEnabled {
			continue
		}
		if s.Type == models.SignalTypeBTC && !e.cfg.BTCEnabled {
			continue
		}
		if abs(s.EdgeBps) < e.cfg.SignalMinEdgeBps {
			continue
		}
		if s.Confidence < e.cfg.MinConfidence {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return abs(out[i].EdgeBps) > abs(out[j].EdgeBps)
	})
	return out
}

func (e *Engine) contractCount(sig models.Signal, side string, priceCents int) int {
	exposure, err := e.store.CurrentExposureDollars()
	if err != nil {
		exposure = decimal.Zero
	}
	fillProb, err := e.store.EstimateFillProbability(
		seriesPrefix(sig.Ticker),
		e.cfg.FillProbLookbackDays,
		priceCents,
		fillProbMinSamples,
		e.cfg.FillProbDefault,
	)
	if err != nil {
		fillProb = e.cfg.FillProbDefault
	}
	return e.sizer.ContractCount(
		sig.ModelProb, sig.Confidence, priceCents, side == "yes",
		e.cfg.Bankroll, exposure, fillProb,
	)
}

// executeArb submits every leg of one opportunity. Legs are taker orders at
// the quoted ask, sized at the common set count.
func (e *Engine) executeArb(ctx context.Context, opp *models.BracketArbOpportunity, now time.Time, stats *Stats) {
	allOK := true
	for _, leg := range opp.Legs {
		direction := models.DirectionBuyYes
		if leg.Side == "no" {
			direction = models.DirectionBuyNo
		}
		stats.Attempted++
		stats.ArbLegs++
		ok := e.submit(ctx, leg.Ticker, models.SignalTypeArb, direction, leg.Side, opp.MaxSets, leg.PriceCents, now, stats)
		if !ok {
			allOK = false
		}
	}
	opp.Executed = allOK && len(opp.Legs) > 0
	if opp.Executed {
		stats.ArbExecuted++
	}
}

// submit places or simulates one order and records it. Returns true when
// the order did not fail.
func (e *Engine) submit(ctx context.Context, ticker, signalType, direction, side string, count, priceCents int, now time.Time, stats *Stats) bool {
	req := kalshi.OrderRequest{
		Ticker:     ticker,
		Side:       side,
		Count:      count,
		PriceCents: priceCents,
	}
	reqJSON, _ := json.Marshal(req)

	order := models.PaperOrder{
		MarketTicker:    ticker,
		SignalType:      signalType,
		Direction:       direction,
		Side:            side,
		Count:           count,
		LimitPriceCents: priceCents,
		Provider:        models.ProviderSimulate,
		Status:          models.OrderStatusSimulated,
		RequestPayload:  string(reqJSON),
		CreatedAt:       now,
	}

	ok := true
	if e.cfg.PaperTradingMode == "kalshi_demo" {
		order.Provider = models.ProviderSandbox
		resp, err := e.client.CreateOrder(ctx, req)
		if err != nil {
			order.Status = models.OrderStatusFailed
			order.ResponsePayload = err.Error()
			stats.Failed++
			ok = false
			log.Warn().Err(err).Str("ticker", ticker).Str("side", side).Msg("⚠️ Order submit failed")
		} else {
			order.Status = models.OrderStatusSubmitted
			if id, found := models.ExtractOrderID(resp); found {
				order.ExternalOrderID = id
			}
			respJSON, _ := json.Marshal(resp)
			order.ResponsePayload = string(respJSON)
			stats.Submitted++
			log.Info().Str("ticker", ticker).Str("side", side).Int("count", count).Int("price", priceCents).Msg("✅ Order submitted")
		}
	} else {
		stats.Simulated++
	}

	if _, err := e.store.InsertPaperOrder(order); err != nil {
		log.Error().Err(err).Str("ticker", ticker).Msg("Order persist failed")
	}
	return ok
}

func seriesPrefix(ticker string) string {
	if i := strings.Index(ticker, "-"); i > 0 {
		return ticker[:i]
	}
	return ticker
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
