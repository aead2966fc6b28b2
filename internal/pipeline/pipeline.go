// pipeline.go - run_once: the serial per-cycle sequence. Discovery,
// snapshots, collectors, signals, calibration gates, execution,
// reconciliation, arbitrage persistence, alerting, bookkeeping.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/kalshibot/internal/analysis"
	"github.com/web3guy0/kalshibot/internal/arb"
	"github.com/web3guy0/kalshibot/internal/book"
	"github.com/web3guy0/kalshibot/internal/config"
	"github.com/web3guy0/kalshibot/internal/execution"
	"github.com/web3guy0/kalshibot/internal/kalshi"
	"github.com/web3guy0/kalshibot/internal/models"
	"github.com/web3guy0/kalshibot/internal/pricing"
	"github.com/web3guy0/kalshibot/internal/signals"
	"github.com/web3guy0/kalshibot/internal/store"
)

const (
	// momentumWindow anchors the BTC fair-value comparison to the start of
	// the 15-minute bracket.
	momentumWindow      = 15 * time.Minute
	anchorMaxLookback   = 5 * time.Minute
	backfillDoneKey     = "historical_backfill_done"
	lastPollKey         = "last_poll_at"
	calibrationLookback = 30 // days
	reportLookbackDays  = 30
)

// Store is the persistence surface the orchestrator depends on.
type Store interface {
	UpsertMarkets(markets []models.Market) (int, error)
	InsertSnapshots(snaps []models.MarketSnapshot) (int, error)
	InsertSpotTicks(ticks []models.SpotTick) (int, error)
	InsertEnsembleSamples(samples []models.EnsembleSample) (int, error)
	InsertSignals(sigs []models.Signal) (int, error)
	InsertBracketProbs(rows []store.BracketProbRow) (int, error)
	InsertArbOpportunity(opp models.BracketArbOpportunity) error
	UpsertResolutions(resolutions []models.Resolution) (int, error)
	MaterializePredictionAccuracy() (int, error)
	WeatherBacktestRows(lookbackDays int) ([]store.BacktestRow, error)
	AccuracyRows(signalType string, lookbackDays int) ([]store.AccuracyRow, error)
	FillMetrics(tickerPrefix string, lookbackDays int) (store.FillMetrics, error)
	SpotTicksBefore(cutoff time.Time, maxLookback time.Duration) (map[string]models.SpotTick, error)
	OpenPositions() ([]store.PositionRollup, error)
	SetState(key, value string) error
	GetState(key string) (string, bool)
}

// Notifier is the delivery surface the orchestrator fans alerts into.
type Notifier interface {
	SendSignalDigest(sigs []models.Signal)
	SendExecutionDigest(stats execution.Stats, rec execution.ReconcileStats)
	SendOperationalAlerts(messages []string)
}

// Collectors the pipeline drives each cycle.
type spotCollector interface {
	Collect(ctx context.Context) []models.SpotTick
}

type ensembleCollector interface {
	Collect(ctx context.Context) []models.EnsembleSample
}

type resolutionCollector interface {
	Collect(ctx context.Context, seedTickers []string) []models.Resolution
}

// priceProvider is the tiered price surface (ws → stored tick → REST).
type priceProvider interface {
	BTCPrices() map[string]pricing.PricePoint
	Orderbook(ctx context.Context, ticker string) (*book.OrderBook, string, error)
	Snapshot(ctx context.Context, m models.Market) (*models.MarketSnapshot, error)
}

// CycleStats summarizes one run_once pass. Tickers lists the discovered
// markets so the runtime can keep websocket subscriptions current.
type CycleStats struct {
	Tickers     []string
	Markets     int
	Snapshots   int
	SpotTicks   int
	Ensemble    int
	Signals     int
	Resolutions int
	Arbs        int
	GateBlocked bool
	Exec        execution.Stats
	Rec         execution.ReconcileStats
	AlertsSent  int
}

// Pipeline owns the per-cycle orchestration.
type Pipeline struct {
	cfg      *config.Config
	client   kalshi.API
	store    Store
	provider priceProvider

	crypto      spotCollector
	weather     ensembleCollector
	resolutions resolutionCollector

	weatherEngine *signals.WeatherEngine
	btcEngine     *signals.BTCEngine
	scanner       *arb.Scanner
	engine        *execution.Engine
	reconciler    *execution.Reconciler

	notifier Notifier
	Modes    *ModeState
	dedup    *alertDedup

	backfilled bool
}

// Deps bundles the constructor inputs.
type Deps struct {
	Client      kalshi.API
	Store       Store
	Provider    priceProvider
	Crypto      spotCollector
	Weather     ensembleCollector
	Resolutions resolutionCollector
	Engine      *execution.Engine
	Reconciler  *execution.Reconciler
	Notifier    Notifier
}

// New wires the pipeline.
func New(cfg *config.Config, deps Deps) *Pipeline {
	p := &Pipeline{
		cfg:           cfg,
		client:        deps.Client,
		store:         deps.Store,
		provider:      deps.Provider,
		crypto:        deps.Crypto,
		weather:       deps.Weather,
		resolutions:   deps.Resolutions,
		weatherEngine: signals.NewWeatherEngine(cfg.SignalMinEdgeBps, cfg.SignalStoreAll),
		btcEngine:     signals.NewBTCEngine(cfg.SignalMinEdgeBps, cfg.SignalStoreAll),
		scanner:       arb.NewScanner(cfg.BracketArbMinProfitAfterFees),
		engine:        deps.Engine,
		reconciler:    deps.Reconciler,
		notifier:      deps.Notifier,
		Modes:         NewModeState(cfg),
		dedup:         newAlertDedup(),
	}
	if _, done := p.store.GetState(backfillDoneKey); done {
		p.backfilled = true
	}
	return p
}

// SetNotifier attaches the notifier after construction. The notifier's
// command loop needs the pipeline as its controller, so wiring is two-step.
func (p *Pipeline) SetNotifier(n Notifier) {
	p.notifier = n
}

// RunOnce executes one full cycle. Collection and signal computation always
// run; execution and reconciliation honor the pause/auto-trade gates.
func (p *Pipeline) RunOnce(ctx context.Context, now time.Time) CycleStats {
	var stats CycleStats
	var operational []string

	// 1-3. Discover markets, snapshot prices, persist both.
	markets := p.discoverMarkets(ctx)
	stats.Markets = len(markets)
	stats.Tickers = tickersOf(markets)
	if n, err := p.store.UpsertMarkets(markets); err != nil {
		log.Error().Err(err).Msg("Failed to upsert markets")
	} else if n > 0 {
		log.Debug().Int("count", n).Msg("Markets upserted")
	}

	snapshots := p.collectSnapshots(ctx, markets)
	if n, err := p.store.InsertSnapshots(mapValues(snapshots)); err != nil {
		log.Error().Err(err).Msg("Failed to insert snapshots")
	} else {
		stats.Snapshots = n
	}

	// 4. One-shot historical backfill.
	if p.cfg.HistoricalBackfillEnabled && !p.backfilled {
		p.runBackfill(ctx, markets, now)
	}

	// 5. Collectors per toggles.
	var ensemble []models.EnsembleSample
	if p.cfg.WeatherEnabled && p.weather != nil {
		ensemble = p.weather.Collect(ctx)
		if n, err := p.store.InsertEnsembleSamples(ensemble); err != nil {
			log.Error().Err(err).Msg("Failed to insert ensemble samples")
		} else {
			stats.Ensemble = n
		}
	}
	if p.cfg.BTCEnabled && p.crypto != nil {
		ticks := p.crypto.Collect(ctx)
		if n, err := p.store.InsertSpotTicks(ticks); err != nil {
			log.Error().Err(err).Msg("Failed to insert spot ticks")
		} else {
			stats.SpotTicks = n
		}
	}

	// 6. Signals.
	var allSignals []models.Signal
	var weatherSignals []models.Signal
	if p.cfg.WeatherEnabled {
		probs := p.weatherEngine.BracketProbabilities(markets, snapshots, ensemble, now)
		if _, err := p.store.InsertBracketProbs(bracketProbRows(probs)); err != nil {
			log.Error().Err(err).Msg("Failed to insert bracket probabilities")
		}
		weatherSignals = p.weatherEngine.Signals(probs, snapshots, now)
		allSignals = append(allSignals, weatherSignals...)
	}

	books, bookTiers := p.collectBooks(ctx, markets)
	if p.cfg.BTCEnabled {
		allSignals = append(allSignals, p.btcSignals(markets, snapshots, books, bookTiers, now)...)
	}
	if n, err := p.store.InsertSignals(allSignals); err != nil {
		log.Error().Err(err).Msg("Failed to insert signals")
	} else {
		stats.Signals = n
	}

	// 7. Resolutions and accuracy materialization.
	if p.resolutions != nil {
		resolved := p.resolutions.Collect(ctx, tickersOf(markets))
		if n, err := p.store.UpsertResolutions(resolved); err != nil {
			log.Error().Err(err).Msg("Failed to upsert resolutions")
		} else {
			stats.Resolutions = n
		}
		if _, err := p.store.MaterializePredictionAccuracy(); err != nil {
			log.Error().Err(err).Msg("Failed to materialize accuracy")
		}
	}

	// 8. Calibration gates: in live modes uncalibrated weather never trades.
	executable := allSignals
	if p.Modes.IsLive() && len(weatherSignals) > 0 {
		if gates, ok := p.checkWeatherGates(); !gates.AllPassed() || !ok {
			executable = withoutType(allSignals, models.SignalTypeWeather)
			stats.GateBlocked = true
			operational = append(operational, "🚦 Weather signals blocked: calibration gates not passed")
			log.Warn().Msg("🚦 Weather calibration gates failed, dropping weather signals")
		}
	}

	// Arbitrage detection before execution so the engine can take the legs.
	arbs := p.scanArbs(markets, books, now)

	// 9-10. Execute and reconcile under the pause/auto-trade gates.
	_, paused, autoTrading := p.Modes.Snapshot()
	tradingOn := !paused && autoTrading
	if tradingOn && p.engine != nil {
		stats.Exec = p.engine.Execute(ctx, executable, books, arbs, now)
	}
	if p.reconciler != nil {
		stats.Rec = p.reconciler.Reconcile(ctx, executable, books, tradingOn, now)
	}

	// 11. Persist arbitrage outcomes.
	for _, opp := range arbs {
		if err := p.store.InsertArbOpportunity(*opp); err != nil {
			log.Error().Err(err).Msg("Failed to insert arb opportunity")
		}
	}
	stats.Arbs = len(arbs)

	// 12. Alerts.
	operational = append(operational, p.edgeDecayAlerts(allSignals, markets)...)
	if p.cfg.BracketArbAlertEnabled {
		for _, opp := range arbs {
			operational = append(operational, fmt.Sprintf(
				"💎 Bracket arb on %s (%s): %d sets, +%d¢ after fees",
				opp.EventTicker, opp.ArbType, opp.MaxSets, opp.ProfitAfterFeesCents))
		}
	}
	if p.notifier != nil {
		p.notifier.SendSignalDigest(allSignals)
		p.notifier.SendExecutionDigest(stats.Exec, stats.Rec)
		deduped := p.dedup.Filter(now, operational)
		p.notifier.SendOperationalAlerts(deduped)
		stats.AlertsSent = len(deduped)
	}

	// 13. Bookkeeping.
	if err := p.store.SetState(lastPollKey, now.UTC().Format(time.RFC3339)); err != nil {
		log.Error().Err(err).Msg("Failed to record last poll time")
	}

	log.Info().
		Int("markets", stats.Markets).
		Int("signals", stats.Signals).
		Int("submitted", stats.Exec.Submitted+stats.Exec.Simulated).
		Int("arbs", stats.Arbs).
		Msg("🔁 Cycle complete")
	return stats
}

// discoverMarkets lists open markets per target series, paging by cursor.
// When the status filter yields nothing the series is retried unfiltered.
func (p *Pipeline) discoverMarkets(ctx context.Context) []models.Market {
	var out []models.Market
	for _, series := range p.cfg.TargetSeriesTickers {
		found := p.listSeries(ctx, series, p.cfg.TargetMarketStatus)
		if len(found) == 0 && p.cfg.TargetMarketStatus != "" {
			found = p.listSeries(ctx, series, "")
		}
		out = append(out, found...)
	}
	return out
}

func (p *Pipeline) listSeries(ctx context.Context, series, status string) []models.Market {
	var out []models.Market
	cursor := ""
	for len(out) < p.cfg.MarketLimit {
		markets, next, err := p.client.GetMarkets(ctx, kalshi.MarketsParams{
			SeriesTicker: series,
			Status:       status,
			Limit:        p.cfg.MarketLimit,
			Cursor:       cursor,
		})
		if err != nil {
			log.Warn().Err(err).Str("series", series).Msg("⚠️ Market discovery failed")
			break
		}
		out = append(out, markets...)
		if next == "" || len(markets) == 0 {
			break
		}
		cursor = next
	}
	if len(out) > p.cfg.MarketLimit {
		out = out[:p.cfg.MarketLimit]
	}
	return out
}

func (p *Pipeline) collectSnapshots(ctx context.Context, markets []models.Market) map[string]models.MarketSnapshot {
	snapshots := make(map[string]models.MarketSnapshot, len(markets))
	for _, m := range markets {
		snap, err := p.provider.Snapshot(ctx, m)
		if err != nil {
			log.Warn().Err(err).Str("ticker", m.Ticker).Msg("⚠️ Snapshot failed")
			continue
		}
		snapshots[m.Ticker] = *snap
	}
	return snapshots
}

// runBackfill loads candlestick history once for the first few markets.
func (p *Pipeline) runBackfill(ctx context.Context, markets []models.Market, now time.Time) {
	limit := p.cfg.HistoricalMarkets
	if limit > len(markets) {
		limit = len(markets)
	}
	start := now.AddDate(0, 0, -p.cfg.HistoricalDays)

	var snaps []models.MarketSnapshot
	for _, m := range markets[:limit] {
		candles, err := p.client.GetCandlesticks(ctx, m.SeriesTicker, m.Ticker, start, now, 60)
		if err != nil {
			log.Warn().Err(err).Str("ticker", m.Ticker).Msg("⚠️ Backfill fetch failed")
			continue
		}
		for _, c := range candles {
			yes := pricing.NormalizeProbability(c.YesPrice)
			snaps = append(snaps, models.MarketSnapshot{
				Ticker:   m.Ticker,
				TS:       c.EndPeriodTS,
				YesPrice: yes,
				NoPrice:  1 - yes,
				Volume:   c.Volume,
				Source:   "backfill",
			})
		}
	}
	if n, err := p.store.InsertSnapshots(snaps); err != nil {
		log.Error().Err(err).Msg("Failed to insert backfill snapshots")
		return
	} else if n > 0 {
		log.Info().Int("snapshots", n).Msg("📦 Historical backfill complete")
	}
	p.backfilled = true
	if err := p.store.SetState(backfillDoneKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		log.Error().Err(err).Msg("Failed to mark backfill done")
	}
}

// collectBooks fetches order books for BTC markets and any weather event
// with at least two brackets (arbitrage needs complete events).
func (p *Pipeline) collectBooks(ctx context.Context, markets []models.Market) (map[string]*book.OrderBook, map[string]string) {
	books := make(map[string]*book.OrderBook)
	tiers := make(map[string]string)
	for _, m := range markets {
		if !signals.IsBTCMarket(m) && !signals.IsWeatherMarket(m) {
			continue
		}
		b, tier, err := p.provider.Orderbook(ctx, m.Ticker)
		if err != nil {
			log.Debug().Err(err).Str("ticker", m.Ticker).Msg("No order book")
			continue
		}
		books[m.Ticker] = b
		tiers[m.Ticker] = tier
	}
	return books, tiers
}

func (p *Pipeline) btcSignals(markets []models.Market, snapshots map[string]models.MarketSnapshot, books map[string]*book.OrderBook, bookTiers map[string]string, now time.Time) []models.Signal {
	latest := make(map[string]float64)
	var priceTiers []string
	for source, point := range p.provider.BTCPrices() {
		latest[source] = point.PriceUSD.InexactFloat64()
		priceTiers = append(priceTiers, point.Tier)
	}

	anchor := make(map[string]float64)
	if ticks, err := p.store.SpotTicksBefore(now.Add(-momentumWindow), anchorMaxLookback); err == nil {
		for source, tick := range ticks {
			anchor[source] = tick.PriceUSD.InexactFloat64()
		}
	}

	in := signals.BTCInputs{
		LatestPrices: latest,
		AnchorPrices: anchor,
		PriceTiers:   priceTiers,
		Books:        books,
		BookTiers:    bookTiers,
		SizeHint:     p.cfg.FixedContractCount,
	}
	return p.btcEngine.Signals(markets, snapshots, in, now)
}

func (p *Pipeline) checkWeatherGates() (analysis.GateResult, bool) {
	rows, err := p.store.WeatherBacktestRows(calibrationLookback)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load backtest rows")
		return analysis.GateResult{}, false
	}
	report := analysis.WeatherCalibration(rows, calibrationLookback)
	gates := analysis.CheckLiveGates(report, analysis.LiveGateThresholds{
		MinResolvedDays:     p.cfg.WeatherGateMinResolvedDays,
		MinBrierAdvantage:   p.cfg.WeatherGateMinBrierAdvantage,
		MinSimProfitCents:   p.cfg.WeatherGateMinSimProfitCents,
		MaxCalibrationError: p.cfg.WeatherGateMaxCalibrationError,
	})
	return gates, true
}

// scanArbs groups books by event and scans each complete event once.
func (p *Pipeline) scanArbs(markets []models.Market, books map[string]*book.OrderBook, now time.Time) []*models.BracketArbOpportunity {
	if !p.cfg.BracketArbEnabled {
		return nil
	}

	byEvent := make(map[string]map[string]*book.OrderBook)
	for _, m := range markets {
		if m.EventTicker == "" {
			continue
		}
		b, ok := books[m.Ticker]
		if !ok {
			continue
		}
		if byEvent[m.EventTicker] == nil {
			byEvent[m.EventTicker] = make(map[string]*book.OrderBook)
		}
		byEvent[m.EventTicker][m.Ticker] = b
	}

	var out []*models.BracketArbOpportunity
	for event, eventBooks := range byEvent {
		if opp := p.scanner.Scan(event, eventBooks, now); opp != nil {
			out = append(out, opp)
		}
	}
	return out
}

func (p *Pipeline) edgeDecayAlerts(current []models.Signal, markets []models.Market) []string {
	rollups, err := p.store.OpenPositions()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load open positions")
		return nil
	}
	positions := make([]signals.OpenPosition, 0, len(rollups))
	for _, r := range rollups {
		positions = append(positions, signals.OpenPosition{Ticker: r.Ticker, Side: r.Side})
	}
	active := make(map[string]bool, len(markets))
	for _, m := range markets {
		active[m.Ticker] = true
	}
	return signals.BuildEdgeDecayAlerts(positions, current, p.cfg.SignalMinEdgeBps, active)
}

// Helpers

func bracketProbRows(probs []signals.BracketProbability) []store.BracketProbRow {
	rows := make([]store.BracketProbRow, 0, len(probs))
	for _, pr := range probs {
		row := store.BracketProbRow{
			TargetDate: pr.TargetDate,
			Ticker:     pr.Ticker,
			ModelProb:  pr.ModelProb,
			Samples:    pr.SampleCount,
			CreatedAt:  pr.ComputedAt,
		}
		if pr.MarketProb != nil {
			row.MarketProb = *pr.MarketProb
		}
		rows = append(rows, row)
	}
	return rows
}

func withoutType(sigs []models.Signal, signalType string) []models.Signal {
	out := make([]models.Signal, 0, len(sigs))
	for _, s := range sigs {
		if s.Type != signalType {
			out = append(out, s)
		}
	}
	return out
}

func tickersOf(markets []models.Market) []string {
	out := make([]string, 0, len(markets))
	for _, m := range markets {
		out = append(out, m.Ticker)
	}
	return out
}

func mapValues(m map[string]models.MarketSnapshot) []models.MarketSnapshot {
	out := make([]models.MarketSnapshot, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
