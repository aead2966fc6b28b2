package signals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/kalshibot/internal/book"
	"github.com/web3guy0/kalshibot/internal/models"
)

func TestWeightedFairValueNormalizesWeights(t *testing.T) {
	t.Parallel()

	// Equal prices: fair value must equal the common price regardless of
	// which venues are present.
	f, ok := WeightedFairValue(map[string]float64{
		"binance":  97000,
		"coinbase": 97000,
	})
	require.True(t, ok)
	assert.InDelta(t, 97000, f.FairValue, 1e-9)
	assert.Equal(t, []string{"binance", "coinbase"}, f.Sources)
	assert.InDelta(t, 1.0, f.Agreement, 1e-9)
}

func TestWeightedFairValueAgreementDecaysWithSpread(t *testing.T) {
	t.Parallel()

	// Spread of 0.5% = 50 bps against ~100 bps full-disagreement scale.
	f, ok := WeightedFairValue(map[string]float64{
		"binance":  100000,
		"coinbase": 100500,
	})
	require.True(t, ok)
	assert.Greater(t, f.Agreement, 0.4)
	assert.Less(t, f.Agreement, 0.6)
}

func TestWeightedFairValueSingleSource(t *testing.T) {
	t.Parallel()

	f, ok := WeightedFairValue(map[string]float64{"kraken": 97000})
	require.True(t, ok)
	assert.InDelta(t, 0.7, f.Agreement, 1e-9)
	// confidence = weight 0.20 * agreement 0.7
	assert.InDelta(t, 0.14, f.Confidence, 1e-9)
}

func TestWeightedFairValueUnknownSourcesIgnored(t *testing.T) {
	t.Parallel()

	_, ok := WeightedFairValue(map[string]float64{"okx": 97000})
	assert.False(t, ok)
}

func TestFairYesProbability(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.5, FairYesProbability(0), 1e-9)
	assert.InDelta(t, 0.6, FairYesProbability(80), 1e-9)
	assert.InDelta(t, 0.85, FairYesProbability(10000), 1e-9, "shift clamps at 0.35")
	assert.InDelta(t, 0.15, FairYesProbability(-10000), 1e-9)
}

func TestBTCSignalFromSnapshotFallback(t *testing.T) {
	t.Parallel()

	e := NewBTCEngine(500, false)
	markets := []models.Market{{Ticker: "KXBTC15M-26AUG241200-T97000", SeriesTicker: "KXBTC15M"}}
	snapshots := map[string]models.MarketSnapshot{
		markets[0].Ticker: {YesPrice: 0.40, Source: models.DataSourceREST},
	}
	in := BTCInputs{
		// +1% momentum: shift 100/800 = 0.125, model prob 0.625.
		LatestPrices: map[string]float64{"binance": 101000, "coinbase": 101000},
		AnchorPrices: map[string]float64{"binance": 100000, "coinbase": 100000},
		PriceTiers:   []string{models.DataSourceREST, models.DataSourceREST},
		SizeHint:     10,
	}

	sigs := e.Signals(markets, snapshots, in, time.Now())
	require.Len(t, sigs, 1)
	assert.InDelta(t, 0.625, sigs[0].ModelProb, 1e-9)
	assert.InDelta(t, 2250, sigs[0].EdgeBps, 0.01)
	assert.Equal(t, models.DirectionBuyYes, sigs[0].Direction)
	assert.Equal(t, models.DataSourceREST, sigs[0].DataSource)
	assert.Nil(t, sigs[0].VWAPCents)
}

func TestBTCSignalUsesBookVWAP(t *testing.T) {
	t.Parallel()

	e := NewBTCEngine(500, true)
	ticker := "KXBTC15M-26AUG241200-T97000"
	markets := []models.Market{{Ticker: ticker, SeriesTicker: "KXBTC15M"}}

	b := book.New(ticker)
	// NO bids at 55 → YES ask 45; YES bids at 40 → NO ask 60.
	b.ReplaceSides(
		[]book.Level{{PriceCents: 40, Quantity: 100}},
		[]book.Level{{PriceCents: 55, Quantity: 100}},
		1, time.Now(),
	)

	in := BTCInputs{
		LatestPrices: map[string]float64{"binance": 100000},
		AnchorPrices: map[string]float64{"binance": 100000},
		PriceTiers:   []string{models.DataSourceWS},
		Books:        map[string]*book.OrderBook{ticker: b},
		BookTiers:    map[string]string{ticker: models.DataSourceWS},
		SizeHint:     10,
	}

	sigs := e.Signals(markets, nil, in, time.Now())
	require.Len(t, sigs, 1)

	// model 0.5; YES-side implied 0.45 (edge +0.05), NO-side implied 0.40
	// (edge +0.10) — NO side wins on magnitude.
	assert.InDelta(t, 0.40, sigs[0].MarketProb, 1e-9)
	assert.InDelta(t, 1000, sigs[0].EdgeBps, 0.01)
	require.NotNil(t, sigs[0].VWAPCents)
	assert.InDelta(t, 60, *sigs[0].VWAPCents, 1e-9)
	require.NotNil(t, sigs[0].LiquiditySufficient)
	assert.True(t, *sigs[0].LiquiditySufficient)
	assert.Equal(t, models.DataSourceWS, sigs[0].DataSource)
}

func TestBTCSignalNoPricesNoSignals(t *testing.T) {
	t.Parallel()

	e := NewBTCEngine(500, true)
	sigs := e.Signals([]models.Market{{Ticker: "KXBTC15M-X", SeriesTicker: "KXBTC15M"}}, nil, BTCInputs{}, time.Now())
	assert.Empty(t, sigs)
}

func TestCombineDataSources(t *testing.T) {
	t.Parallel()

	assert.Equal(t, models.DataSourceWS, combineDataSources([]string{"ws", "ws"}))
	assert.Equal(t, models.DataSourceREST, combineDataSources([]string{"rest", "rest"}))
	assert.Equal(t, models.DataSourceMixed, combineDataSources([]string{"ws", "rest"}))
	assert.Equal(t, models.DataSourceRESTFallback, combineDataSources([]string{"ws", "rest_fallback"}))
	assert.Equal(t, models.DataSourceREST, combineDataSources(nil))
}
