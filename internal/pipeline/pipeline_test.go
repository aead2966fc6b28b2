package pipeline

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/kalshibot/internal/book"
	"github.com/web3guy0/kalshibot/internal/config"
	"github.com/web3guy0/kalshibot/internal/execution"
	"github.com/web3guy0/kalshibot/internal/kalshi"
	"github.com/web3guy0/kalshibot/internal/models"
	"github.com/web3guy0/kalshibot/internal/pricing"
	"github.com/web3guy0/kalshibot/internal/store"
)

// fakeStore satisfies the pipeline Store plus the execution store slices.
type fakeStore struct {
	markets      []models.Market
	snapshots    []models.MarketSnapshot
	ticks        []models.SpotTick
	ensemble     []models.EnsembleSample
	sigs         []models.Signal
	probs        []store.BracketProbRow
	arbs         []models.BracketArbOpportunity
	resolutions  []models.Resolution
	orders       []models.PaperOrder
	state        map[string]string
	backtestRows []store.BacktestRow
	accuracyRows []store.AccuracyRow
	anchorTicks  map[string]models.SpotTick
	positions    []store.PositionRollup
	fillMetrics  store.FillMetrics
	materialized int
}

func newFakeStore() *fakeStore {
	return &fakeStore{state: make(map[string]string)}
}

func (f *fakeStore) UpsertMarkets(m []models.Market) (int, error) {
	f.markets = append(f.markets, m...)
	return len(m), nil
}

func (f *fakeStore) InsertSnapshots(s []models.MarketSnapshot) (int, error) {
	f.snapshots = append(f.snapshots, s...)
	return len(s), nil
}

func (f *fakeStore) InsertSpotTicks(t []models.SpotTick) (int, error) {
	f.ticks = append(f.ticks, t...)
	return len(t), nil
}

func (f *fakeStore) InsertEnsembleSamples(s []models.EnsembleSample) (int, error) {
	f.ensemble = append(f.ensemble, s...)
	return len(s), nil
}

func (f *fakeStore) InsertSignals(s []models.Signal) (int, error) {
	f.sigs = append(f.sigs, s...)
	return len(s), nil
}

func (f *fakeStore) InsertBracketProbs(rows []store.BracketProbRow) (int, error) {
	f.probs = append(f.probs, rows...)
	return len(rows), nil
}

func (f *fakeStore) InsertArbOpportunity(opp models.BracketArbOpportunity) error {
	f.arbs = append(f.arbs, opp)
	return nil
}

func (f *fakeStore) UpsertResolutions(r []models.Resolution) (int, error) {
	f.resolutions = append(f.resolutions, r...)
	return len(r), nil
}

func (f *fakeStore) MaterializePredictionAccuracy() (int, error) {
	f.materialized++
	return 0, nil
}

func (f *fakeStore) WeatherBacktestRows(int) ([]store.BacktestRow, error) {
	return f.backtestRows, nil
}

func (f *fakeStore) AccuracyRows(string, int) ([]store.AccuracyRow, error) {
	return f.accuracyRows, nil
}

func (f *fakeStore) SpotTicksBefore(time.Time, time.Duration) (map[string]models.SpotTick, error) {
	return f.anchorTicks, nil
}

func (f *fakeStore) OpenPositions() ([]store.PositionRollup, error) {
	return f.positions, nil
}

func (f *fakeStore) FillMetrics(string, int) (store.FillMetrics, error) {
	return f.fillMetrics, nil
}

func (f *fakeStore) SetState(key, value string) error {
	f.state[key] = value
	return nil
}

func (f *fakeStore) GetState(key string) (string, bool) {
	v, ok := f.state[key]
	return v, ok
}

// Execution store slices.

func (f *fakeStore) HasRecentOrder(string, string, time.Duration) (bool, error) { return false, nil }

func (f *fakeStore) InsertPaperOrder(order models.PaperOrder) (int64, error) {
	f.orders = append(f.orders, order)
	return int64(len(f.orders)), nil
}

func (f *fakeStore) CurrentExposureDollars() (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeStore) EstimateFillProbability(string, int, int, int, float64) (float64, error) {
	return 0.6, nil
}

func (f *fakeStore) OpenOrders(time.Time) ([]models.PaperOrder, error) { return nil, nil }

func (f *fakeStore) UpdateOrderStatus(int64, string, string) error { return nil }

func (f *fakeStore) InsertOrderEvent(models.OrderEvent) error { return nil }

// fakeAPI scripts market discovery and backfill.
type fakeAPI struct {
	open            []models.Market
	unfiltered      []models.Market
	candles         []kalshi.Candlestick
	candleCalls     int
	marketCallsOpen int
}

func (f *fakeAPI) GetMarkets(_ context.Context, params kalshi.MarketsParams) ([]models.Market, string, error) {
	if params.Status == "open" {
		f.marketCallsOpen++
		return f.open, "", nil
	}
	return f.unfiltered, "", nil
}

func (f *fakeAPI) GetMarket(context.Context, string) (*models.Market, error) {
	return nil, errors.New("not found")
}

func (f *fakeAPI) GetOrderbook(context.Context, string) (*book.OrderBook, error) {
	return nil, errors.New("no book")
}

func (f *fakeAPI) GetCandlesticks(context.Context, string, string, time.Time, time.Time, int) ([]kalshi.Candlestick, error) {
	f.candleCalls++
	return f.candles, nil
}

func (f *fakeAPI) CreateOrder(context.Context, kalshi.OrderRequest) (map[string]any, error) {
	return map[string]any{"order": map[string]any{"order_id": "ext-1", "status": "resting"}}, nil
}

func (f *fakeAPI) CancelOrder(context.Context, string) (map[string]any, error) { return nil, nil }

func (f *fakeAPI) GetOrder(context.Context, string) (map[string]any, error) { return nil, nil }

func (f *fakeAPI) GetQueuePositions(context.Context, []string) (map[string]any, error) {
	return map[string]any{}, nil
}

func (f *fakeAPI) WSURL() string { return "" }

func (f *fakeAPI) WSHeaders() (http.Header, error) { return nil, nil }

// fakeProvider snapshots from market quotes; no live feeds, no books.
type fakeProvider struct {
	prices map[string]pricing.PricePoint
	books  map[string]*book.OrderBook
}

func (f *fakeProvider) BTCPrices() map[string]pricing.PricePoint { return f.prices }

func (f *fakeProvider) Orderbook(_ context.Context, ticker string) (*book.OrderBook, string, error) {
	if b, ok := f.books[ticker]; ok {
		return b, models.DataSourceWS, nil
	}
	return nil, "", errors.New("no book")
}

func (f *fakeProvider) Snapshot(_ context.Context, m models.Market) (*models.MarketSnapshot, error) {
	return &models.MarketSnapshot{
		Ticker:   m.Ticker,
		TS:       time.Now(),
		YesPrice: float64(m.YesBid) / 100,
		NoPrice:  1 - float64(m.YesBid)/100,
		Volume:   m.Volume,
		Source:   models.DataSourceREST,
	}, nil
}

type fakeEnsemble struct{ samples []models.EnsembleSample }

func (f *fakeEnsemble) Collect(context.Context) []models.EnsembleSample { return f.samples }

type fakeSpots struct{ ticks []models.SpotTick }

func (f *fakeSpots) Collect(context.Context) []models.SpotTick { return f.ticks }

type fakeResolutions struct{ out []models.Resolution }

func (f *fakeResolutions) Collect(context.Context, []string) []models.Resolution { return f.out }

type fakeNotifier struct {
	digests     [][]models.Signal
	execDigests int
	operational []string
}

func (f *fakeNotifier) SendSignalDigest(sigs []models.Signal) {
	f.digests = append(f.digests, sigs)
}

func (f *fakeNotifier) SendExecutionDigest(execution.Stats, execution.ReconcileStats) {
	f.execDigests++
}

func (f *fakeNotifier) SendOperationalAlerts(messages []string) {
	f.operational = append(f.operational, messages...)
}

func pipelineConfig() *config.Config {
	return &config.Config{
		BotMode:             config.ModeCustom,
		TargetSeriesTickers: []string{"KXHIGHNY"},
		TargetMarketStatus:  "open",
		MarketLimit:         40,
		WeatherEnabled:      true,
		BTCEnabled:          false,
		SignalMinEdgeBps:    500,
		MinConfidence:       0.1,
		PaperTradingMode:    "simulate",
		SizingMode:          "fixed",
		FixedContractCount:  5,
		Bankroll:            decimal.NewFromInt(1000),
		MaxPositionDollars:  decimal.NewFromInt(50),
		MaxPortfolioDollars: decimal.NewFromInt(200),
		CooldownMinutes:     30,
		MakerOnly:           false,
		MinPriceCents:       1,
		MaxPriceCents:       99,
		MaxOrdersPerCycle:   5,
		FillProbDefault:     0.6,
		AutoTradingEnabled:  true,

		WeatherGateMinResolvedDays:     10,
		WeatherGateMinBrierAdvantage:   0.01,
		WeatherGateMaxCalibrationError: 0.25,
	}
}

func weatherMarket(ticker string, low, high float64, yesBid int) models.Market {
	return models.Market{
		Ticker:       ticker,
		SeriesTicker: "KXHIGHNY",
		EventTicker:  "KXHIGHNY-26AUG24",
		Status:       "open",
		YesBid:       yesBid,
		YesAsk:       yesBid + 2,
		FloorStrike:  &low,
		CapStrike:    &high,
	}
}

func ensembleAt(temp float64, n int) []models.EnsembleSample {
	now := time.Now()
	out := make([]models.EnsembleSample, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.EnsembleSample{
			CollectedAt: now,
			TargetDate:  "2026-08-24",
			Model:       "gfs_seamless",
			Member:      "member" + string(rune('0'+i)),
			MaxTempF:    temp,
		})
	}
	return out
}

// testBook quotes yes 50 bid / 52 ask with depth on both ladders.
func testBook(ticker string) *book.OrderBook {
	b := book.New(ticker)
	b.ReplaceSides(
		[]book.Level{{PriceCents: 50, Quantity: 100}},
		[]book.Level{{PriceCents: 48, Quantity: 100}},
		1, time.Now(),
	)
	return b
}

func buildPipeline(cfg *config.Config, st *fakeStore, api *fakeAPI, samples []models.EnsembleSample) (*Pipeline, *fakeNotifier) {
	notifier := &fakeNotifier{}
	provider := &fakeProvider{books: map[string]*book.OrderBook{
		"KXHIGHNY-26AUG24-B85": testBook("KXHIGHNY-26AUG24-B85"),
	}}
	p := New(cfg, Deps{
		Client:      api,
		Store:       st,
		Provider:    provider,
		Crypto:      &fakeSpots{},
		Weather:     &fakeEnsemble{samples: samples},
		Resolutions: &fakeResolutions{},
		Engine:      execution.New(cfg, api, st),
		Reconciler:  execution.NewReconciler(cfg, api, st),
		Notifier:    notifier,
	})
	return p, notifier
}

func TestRunOnceEndToEnd(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	api := &fakeAPI{open: []models.Market{
		// All 10 members at 85F land inside [84,87): model 1.0 vs market
		// 0.50 is a huge buy_yes edge.
		weatherMarket("KXHIGHNY-26AUG24-B85", 84, 87, 50),
	}}
	p, notifier := buildPipeline(pipelineConfig(), st, api, ensembleAt(85, 10))

	stats := p.RunOnce(context.Background(), time.Now())

	assert.Equal(t, 1, stats.Markets)
	assert.Equal(t, 1, stats.Snapshots)
	assert.Equal(t, 10, stats.Ensemble)
	require.Equal(t, 1, stats.Signals)
	assert.Equal(t, models.DirectionBuyYes, st.sigs[0].Direction)
	require.Len(t, st.probs, 1)
	assert.Equal(t, 1.0, st.probs[0].ModelProb)

	assert.Equal(t, 1, stats.Exec.Simulated, "simulate mode places a paper order")
	require.Len(t, st.orders, 1)
	assert.Equal(t, models.OrderStatusSimulated, st.orders[0].Status)

	assert.Equal(t, 1, st.materialized)
	_, ok := st.state[lastPollKey]
	assert.True(t, ok, "last_poll_at recorded")

	require.Len(t, notifier.digests, 1)
	assert.Equal(t, 1, notifier.execDigests)
}

func TestDiscoveryFallsBackWithoutStatusFilter(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	api := &fakeAPI{
		open:       nil,
		unfiltered: []models.Market{weatherMarket("KXHIGHNY-26AUG24-B85", 84, 87, 50)},
	}
	p, _ := buildPipeline(pipelineConfig(), st, api, nil)

	stats := p.RunOnce(context.Background(), time.Now())

	assert.Equal(t, 1, api.marketCallsOpen, "filtered discovery tried first")
	assert.Equal(t, 1, stats.Markets, "unfiltered retry found the market")
}

func TestBackfillRunsExactlyOnce(t *testing.T) {
	t.Parallel()

	cfg := pipelineConfig()
	cfg.HistoricalBackfillEnabled = true
	cfg.HistoricalDays = 7
	cfg.HistoricalMarkets = 5

	st := newFakeStore()
	api := &fakeAPI{
		open: []models.Market{weatherMarket("KXHIGHNY-26AUG24-B85", 84, 87, 50)},
		candles: []kalshi.Candlestick{
			{EndPeriodTS: time.Now().Add(-time.Hour), YesPrice: 45, Volume: 10},
			{EndPeriodTS: time.Now().Add(-2 * time.Hour), YesPrice: 40, Volume: 7},
		},
	}
	p, _ := buildPipeline(cfg, st, api, nil)

	p.RunOnce(context.Background(), time.Now())
	assert.Equal(t, 1, api.candleCalls)
	_, done := st.state[backfillDoneKey]
	assert.True(t, done)

	backfilled := 0
	for _, s := range st.snapshots {
		if s.Source == "backfill" {
			backfilled++
			assert.InDelta(t, 0.45, s.YesPrice, 0.06, "cent prices normalized to [0,1]")
		}
	}
	assert.Equal(t, 2, backfilled)

	p.RunOnce(context.Background(), time.Now())
	assert.Equal(t, 1, api.candleCalls, "backfill never repeats")
}

func TestLiveGateBlocksUncalibratedWeather(t *testing.T) {
	t.Parallel()

	st := newFakeStore() // no backtest rows: every gate fails
	api := &fakeAPI{open: []models.Market{weatherMarket("KXHIGHNY-26AUG24-B85", 84, 87, 50)}}
	p, notifier := buildPipeline(pipelineConfig(), st, api, ensembleAt(85, 10))

	p.Modes.SetMode(config.ModeLiveAuto)
	p.Modes.Confirm()

	stats := p.RunOnce(context.Background(), time.Now())

	assert.True(t, stats.GateBlocked)
	assert.Equal(t, 1, stats.Signals, "signal still persisted for calibration")
	assert.Zero(t, stats.Exec.Simulated, "blocked signal never trades")
	assert.Empty(t, st.orders)

	found := false
	for _, msg := range notifier.operational {
		if msg == "🚦 Weather signals blocked: calibration gates not passed" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestPausedCycleSkipsExecution(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	api := &fakeAPI{open: []models.Market{weatherMarket("KXHIGHNY-26AUG24-B85", 84, 87, 50)}}
	p, _ := buildPipeline(pipelineConfig(), st, api, ensembleAt(85, 10))

	p.Modes.Pause()
	stats := p.RunOnce(context.Background(), time.Now())

	assert.Equal(t, 1, stats.Signals, "signals keep flowing while paused")
	assert.Zero(t, stats.Exec.Attempted)
	assert.Empty(t, st.orders)

	p.Modes.Resume()
	stats = p.RunOnce(context.Background(), time.Now())
	assert.Equal(t, 1, stats.Exec.Simulated)
}

func TestStatusAndReportRender(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.state[lastPollKey] = "2026-08-24T12:00:00Z"
	st.backtestRows = []store.BacktestRow{
		{TargetDate: "2026-08-20", Ticker: "A", ModelProb: 0.8, MarketProb: 0.5, Result: "yes"},
	}
	st.accuracyRows = []store.AccuracyRow{
		{Ticker: "A", SignalType: models.SignalTypeWeather, Direction: models.DirectionBuyYes,
			ModelProb: 0.8, MarketProb: 0.5, Result: "yes", PnLCents: 50},
		{Ticker: "B", SignalType: models.SignalTypeWeather, Direction: models.DirectionBuyYes,
			ModelProb: 0.7, MarketProb: 0.5, Result: "no", PnLCents: -50},
	}
	st.fillMetrics = store.FillMetrics{Orders: 5, Filled: 3, FillRate: 0.6, AvgFillMinutes: 12.5}
	p, _ := buildPipeline(pipelineConfig(), st, &fakeAPI{}, nil)

	status := p.Status()
	assert.Contains(t, status, "custom")
	assert.Contains(t, status, "2026-08-24T12:00:00Z")

	report := p.Report()
	assert.Contains(t, report, "Weather calibration")
	assert.Contains(t, report, "Live gates")
	assert.Contains(t, report, "weather accuracy")
	assert.Contains(t, report, "sharpe_proxy")
	assert.Contains(t, report, "KXHIGHNY fills")
	assert.Contains(t, report, "Fill rate: 60%")
	assert.Contains(t, report, "12.5 min")
}
