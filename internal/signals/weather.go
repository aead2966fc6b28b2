package signals

import (
	"strings"
	"time"

	"github.com/web3guy0/kalshibot/internal/models"
	"github.com/web3guy0/kalshibot/internal/pricing"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WEATHER SIGNALS - Ensemble bracket probabilities vs market prices
// ═══════════════════════════════════════════════════════════════════════════════

// BracketProbability is one market's model probability for the current
// ensemble, persisted for calibration even when no signal fires.
type BracketProbability struct {
	TargetDate  string
	Ticker      string
	Bounds      Bounds
	ModelProb   float64
	MarketProb  *float64
	SampleCount int
	ComputedAt  time.Time
}

// WeatherEngine turns ensemble samples into bracket signals.
type WeatherEngine struct {
	minEdgeBps float64
	storeAll   bool
}

// NewWeatherEngine creates the engine.
func NewWeatherEngine(minEdgeBps float64, storeAll bool) *WeatherEngine {
	return &WeatherEngine{minEdgeBps: minEdgeBps, storeAll: storeAll}
}

// IsWeatherMarket reports whether a market is a daily-high bracket.
func IsWeatherMarket(m models.Market) bool {
	return strings.HasPrefix(strings.ToUpper(m.Ticker), "KXHIGHNY") ||
		strings.EqualFold(m.SeriesTicker, "KXHIGHNY")
}

// BracketProbabilities computes the ensemble hit fraction for every weather
// market with recognizable bounds.
func (e *WeatherEngine) BracketProbabilities(markets []models.Market, snapshots map[string]models.MarketSnapshot, samples []models.EnsembleSample, now time.Time) []BracketProbability {
	if len(samples) == 0 {
		return nil
	}
	targetDate := samples[0].TargetDate

	var rows []BracketProbability
	for _, m := range markets {
		if !IsWeatherMarket(m) {
			continue
		}
		bounds, ok := ParseBounds(m)
		if !ok {
			continue
		}

		hits := 0
		for _, s := range samples {
			if bounds.Contains(s.MaxTempF) {
				hits++
			}
		}

		row := BracketProbability{
			TargetDate:  targetDate,
			Ticker:      m.Ticker,
			Bounds:      bounds,
			ModelProb:   float64(hits) / float64(len(samples)),
			SampleCount: len(samples),
			ComputedAt:  now,
		}
		if snap, ok := snapshots[m.Ticker]; ok {
			p := pricing.NormalizeProbability(snap.YesPrice)
			row.MarketProb = &p
		}
		rows = append(rows, row)
	}
	return rows
}

// Signals derives directional signals from bracket probabilities.
// confidence = clamp01(sample_strength · edge_strength) with
// sample_strength = min(1, n/60) and edge_strength relative to three times
// the minimum edge.
func (e *WeatherEngine) Signals(rows []BracketProbability, snapshots map[string]models.MarketSnapshot, now time.Time) []models.Signal {
	var out []models.Signal
	for _, row := range rows {
		if row.MarketProb == nil {
			continue
		}

		edgeBps := round2((row.ModelProb - *row.MarketProb) * 10000)
		direction := directionForEdge(edgeBps, e.minEdgeBps)
		if direction == models.DirectionFlat && !e.storeAll {
			continue
		}

		sampleStrength := minFloat(1, float64(row.SampleCount)/60)
		edgeStrength := minFloat(1, absFloat(edgeBps)/maxFloat(e.minEdgeBps*3, 1))

		dataSource := models.DataSourceREST
		if snap, ok := snapshots[row.Ticker]; ok && snap.Source != "" {
			dataSource = snap.Source
		}

		out = append(out, models.Signal{
			Type:       models.SignalTypeWeather,
			Ticker:     row.Ticker,
			Direction:  direction,
			ModelProb:  row.ModelProb,
			MarketProb: *row.MarketProb,
			EdgeBps:    edgeBps,
			Confidence: clamp01(sampleStrength * edgeStrength),
			DataSource: dataSource,
			CreatedAt:  now,
		})
	}
	return out
}

func directionForEdge(edgeBps, minEdgeBps float64) string {
	switch {
	case edgeBps >= minEdgeBps:
		return models.DirectionBuyYes
	case edgeBps <= -minEdgeBps:
		return models.DirectionBuyNo
	}
	return models.DirectionFlat
}

func round2(v float64) float64 {
	if v < 0 {
		return float64(int64(v*100-0.5)) / 100
	}
	return float64(int64(v*100+0.5)) / 100
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
