package analysis

import (
	"math"

	"github.com/web3guy0/kalshibot/internal/models"
	"github.com/web3guy0/kalshibot/internal/store"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ACCURACY REPORT - Resolved-signal scoring
// ═══════════════════════════════════════════════════════════════════════════════

// AccuracyReport scores materialized signal-vs-resolution rows.
type AccuracyReport struct {
	SignalType         string
	Days               int
	Signals            int
	BrierScore         *float64
	MarketBrierScore   *float64
	LogLoss            *float64
	HitRate            *float64
	AvgPnLPerContract  *float64
	TotalPnLCents      float64
	SharpeProxy        *float64
	Calibration        []CalibrationBin
}

// BuildAccuracyReport computes the report over accuracy rows. The Sharpe
// figure is a proxy, (avg_pnl/100)·√n, since only aggregate PnL is stored.
func BuildAccuracyReport(rows []store.AccuracyRow, signalType string, days int) AccuracyReport {
	report := AccuracyReport{SignalType: signalType, Days: days}
	if len(rows) == 0 {
		return report
	}

	var modelPreds, marketPreds []Prediction
	hits := 0
	for _, row := range rows {
		outcome := row.Result == "yes"
		modelPreds = append(modelPreds, Prediction{Prob: row.ModelProb, Outcome: outcome})
		marketPreds = append(marketPreds, Prediction{Prob: row.MarketProb, Outcome: outcome})
		report.TotalPnLCents += row.PnLCents
		if directionHit(row.Direction, row.Result) {
			hits++
		}
	}

	report.Signals = len(rows)
	if v, ok := BrierScore(modelPreds); ok {
		report.BrierScore = &v
	}
	if v, ok := BrierScore(marketPreds); ok {
		report.MarketBrierScore = &v
	}
	if v, ok := LogLoss(modelPreds); ok {
		report.LogLoss = &v
	}
	if table, _, ok := CalibrationTable(modelPreds); ok {
		report.Calibration = table
	}

	rate := float64(hits) / float64(len(rows))
	report.HitRate = &rate

	avg := report.TotalPnLCents / float64(len(rows))
	report.AvgPnLPerContract = &avg
	if len(rows) > 1 {
		sharpe := (avg / 100) * math.Sqrt(float64(len(rows)))
		report.SharpeProxy = &sharpe
	}
	return report
}

func directionHit(direction, result string) bool {
	switch direction {
	case models.DirectionBuyYes:
		return result == "yes"
	case models.DirectionBuyNo:
		return result == "no"
	}
	return false
}
