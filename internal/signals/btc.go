package signals

import (
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/kalshibot/internal/book"
	"github.com/web3guy0/kalshibot/internal/models"
	"github.com/web3guy0/kalshibot/internal/pricing"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BTC SIGNALS - Weighted cross-venue fusion with momentum anchor
// ═══════════════════════════════════════════════════════════════════════════════
//
// Fair value is a weight-normalized blend of the venues currently reporting.
// Momentum against an anchor snapshot shifts the 50/50 prior; the shift is
// clamped so a single venue spike cannot saturate the probability.
//
// ═══════════════════════════════════════════════════════════════════════════════

// sourceWeights sums to 0.90; the fusion normalizes by the weight of the
// venues actually present.
var sourceWeights = map[string]float64{
	"binance":  0.25,
	"coinbase": 0.30,
	"kraken":   0.20,
	"bitstamp": 0.15,
}

// Fusion is one weighted fair-value computation.
type Fusion struct {
	FairValue  float64
	Confidence float64
	Agreement  float64
	Sources    []string
}

// WeightedFairValue fuses per-venue prices. With two or more venues the
// agreement factor decays linearly with the cross-venue spread; a lone venue
// gets a flat 0.7.
func WeightedFairValue(prices map[string]float64) (Fusion, bool) {
	weightedSum := 0.0
	totalWeight := 0.0
	var used []string
	for source, price := range prices {
		if price <= 0 {
			continue
		}
		w := sourceWeights[source]
		if w <= 0 {
			continue
		}
		weightedSum += price * w
		totalWeight += w
		used = append(used, source)
	}
	if totalWeight <= 0 {
		return Fusion{}, false
	}
	sort.Strings(used)

	fair := weightedSum / totalWeight
	agreement := 1.0
	if len(used) >= 2 && fair > 0 {
		lo, hi := prices[used[0]], prices[used[0]]
		for _, s := range used[1:] {
			if prices[s] < lo {
				lo = prices[s]
			}
			if prices[s] > hi {
				hi = prices[s]
			}
		}
		spreadBps := (hi - lo) / fair * 10000
		agreement = clamp01(1 - minFloat(1, spreadBps/100))
	} else if len(used) == 1 {
		agreement = 0.7
	}

	return Fusion{
		FairValue:  fair,
		Confidence: clamp01(totalWeight * agreement),
		Agreement:  agreement,
		Sources:    used,
	}, true
}

// FairYesProbability maps momentum into a clamped probability around the
// 50/50 prior.
func FairYesProbability(momentumBps float64) float64 {
	shift := momentumBps / 800
	if shift > 0.35 {
		shift = 0.35
	}
	if shift < -0.35 {
		shift = -0.35
	}
	p := 0.5 + shift
	if p < 0.01 {
		return 0.01
	}
	if p > 0.99 {
		return 0.99
	}
	return p
}

// BTCEngine turns venue prices and order books into directional signals.
type BTCEngine struct {
	minEdgeBps float64
	storeAll   bool
}

// NewBTCEngine creates the engine.
func NewBTCEngine(minEdgeBps float64, storeAll bool) *BTCEngine {
	return &BTCEngine{minEdgeBps: minEdgeBps, storeAll: storeAll}
}

// IsBTCMarket reports whether a market is a 15-minute BTC bracket.
func IsBTCMarket(m models.Market) bool {
	return strings.HasPrefix(strings.ToUpper(m.Ticker), "KXBTC15M") ||
		strings.EqualFold(m.SeriesTicker, "KXBTC15M")
}

// BTCInputs carries everything one signal pass needs. AnchorPrices are the
// per-venue prices at the most recent stored tick at or before the momentum
// lookback; PriceTiers records each venue's freshness tier.
type BTCInputs struct {
	LatestPrices map[string]float64
	AnchorPrices map[string]float64
	PriceTiers   []string
	Books        map[string]*book.OrderBook
	BookTiers    map[string]string
	SizeHint     int
}

// Signals computes one signal per BTC market. The effective market price is
// the VWAP over the top SizeHint units of the opposing book side; when both
// sides yield a usable edge the larger magnitude wins.
func (e *BTCEngine) Signals(markets []models.Market, snapshots map[string]models.MarketSnapshot, in BTCInputs, now time.Time) []models.Signal {
	latest, ok := WeightedFairValue(in.LatestPrices)
	if !ok {
		return nil
	}

	anchor, anchorOK := WeightedFairValue(in.AnchorPrices)
	if !anchorOK {
		anchor = latest
	}

	momentumBps := 0.0
	if anchor.FairValue > 0 {
		momentumBps = (latest.FairValue/anchor.FairValue - 1) * 10000
	}
	modelProb := FairYesProbability(momentumBps)
	confidence := clamp01((latest.Confidence + anchor.Confidence) / 2)

	log.Debug().
		Float64("fair", latest.FairValue).
		Float64("momentum_bps", momentumBps).
		Float64("model_prob", modelProb).
		Msg("BTC fusion")

	var out []models.Signal
	for _, m := range markets {
		if !IsBTCMarket(m) {
			continue
		}
		sig, ok := e.marketSignal(m, snapshots, in, modelProb, confidence, now)
		if !ok {
			continue
		}
		if sig.Direction == models.DirectionFlat && !e.storeAll {
			continue
		}
		out = append(out, sig)
	}
	return out
}

// marketSignal prices one market. Returns false when no market price is
// derivable at all.
func (e *BTCEngine) marketSignal(m models.Market, snapshots map[string]models.MarketSnapshot, in BTCInputs, modelProb, confidence float64, now time.Time) (models.Signal, bool) {
	sig := models.Signal{
		Type:       models.SignalTypeBTC,
		Ticker:     m.Ticker,
		ModelProb:  modelProb,
		Confidence: confidence,
		CreatedAt:  now,
	}

	b := in.Books[m.Ticker]
	if b != nil {
		if best, ok := e.bestSide(b, in.SizeHint, modelProb); ok {
			sig.MarketProb = best.impliedYesProb
			sig.EdgeBps = round2((modelProb - best.impliedYesProb) * 10000)
			sig.Direction = directionForEdge(sig.EdgeBps, e.minEdgeBps)
			sig.VWAPCents = &best.vwapCents
			sig.FillableQty = &best.fillable
			sufficient := best.fillable >= in.SizeHint
			sig.LiquiditySufficient = &sufficient
			sig.DataSource = combineDataSources(append(in.PriceTiers, in.BookTiers[m.Ticker]))
			return sig, true
		}
	}

	snap, ok := snapshots[m.Ticker]
	if !ok {
		return sig, false
	}
	marketProb := pricing.NormalizeProbability(snap.YesPrice)
	sig.MarketProb = marketProb
	sig.EdgeBps = round2((modelProb - marketProb) * 10000)
	sig.Direction = directionForEdge(sig.EdgeBps, e.minEdgeBps)
	sig.DataSource = combineDataSources(append(in.PriceTiers, snap.Source))
	return sig, true
}

type sideCandidate struct {
	impliedYesProb float64
	vwapCents      float64
	fillable       int
}

// bestSide evaluates both book sides at the size hint and keeps the one
// with the larger absolute edge.
func (e *BTCEngine) bestSide(b *book.OrderBook, sizeHint int, modelProb float64) (sideCandidate, bool) {
	if sizeHint < 1 {
		sizeHint = 1
	}

	var best sideCandidate
	bestEdge := -1.0
	found := false

	for _, side := range []string{"yes", "no"} {
		vwap, fillable := b.EffectiveAsk(side, sizeHint)
		if fillable <= 0 || vwap <= 0 || vwap >= 100 {
			continue
		}
		implied := vwap / 100
		if side == "no" {
			implied = 1 - vwap/100
		}
		edge := absFloat(modelProb - implied)
		if !found || edge > bestEdge {
			best = sideCandidate{impliedYesProb: implied, vwapCents: vwap, fillable: fillable}
			bestEdge = edge
			found = true
		}
	}
	return best, found
}

// combineDataSources folds per-input freshness tiers into the signal's
// data_source: all-WS stays ws, any REST fallback taints the whole signal,
// all-REST is rest, anything else is mixed.
func combineDataSources(tiers []string) string {
	allWS, allREST := true, true
	seen := false
	for _, t := range tiers {
		if t == "" {
			continue
		}
		seen = true
		if t == models.DataSourceRESTFallback {
			return models.DataSourceRESTFallback
		}
		if t != models.DataSourceWS {
			allWS = false
		}
		if t != models.DataSourceREST {
			allREST = false
		}
	}
	switch {
	case !seen:
		return models.DataSourceREST
	case allWS:
		return models.DataSourceWS
	case allREST:
		return models.DataSourceREST
	}
	return models.DataSourceMixed
}
