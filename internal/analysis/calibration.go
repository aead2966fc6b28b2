package analysis

import (
	"github.com/web3guy0/kalshibot/internal/store"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WEATHER CALIBRATION - Backtest report and live gates
// ═══════════════════════════════════════════════════════════════════════════════

// simEdgeThreshold is the minimum model-vs-market gap for the simulated
// trading track inside the backtest.
const simEdgeThreshold = 0.05

// CalibrationReport is the weather backtest summary the live gates read.
type CalibrationReport struct {
	Days                int
	Brackets            int
	ResolvedDays        int
	ModelBrier          *float64
	MarketBrier         *float64
	BrierAdvantage      *float64
	ModelLogLoss        *float64
	MarketLogLoss       *float64
	EdgeHitRate         *float64
	SimPnLCents         float64
	Calibration         []CalibrationBin
	MaxCalibrationError *float64
}

// LiveGateThresholds are the minimum standards a calibrated model must hit
// before live weather signals are allowed through.
type LiveGateThresholds struct {
	MinResolvedDays     int
	MinBrierAdvantage   float64
	MinSimProfitCents   float64
	MaxCalibrationError float64
}

// GateResult is the per-gate verdict.
type GateResult struct {
	MinResolvedDays     bool
	MinBrierAdvantage   bool
	MinSimProfitCents   bool
	MaxCalibrationError bool
}

// AllPassed reports whether every gate held.
func (g GateResult) AllPassed() bool {
	return g.MinResolvedDays && g.MinBrierAdvantage && g.MinSimProfitCents && g.MaxCalibrationError
}

// WeatherCalibration scores stored backtest rows: model and market Brier
// and log loss, the reliability table, the positive-edge hit rate, and a
// simulated one-contract PnL for edges past the threshold.
func WeatherCalibration(rows []store.BacktestRow, days int) CalibrationReport {
	report := CalibrationReport{Days: days}
	if len(rows) == 0 {
		return report
	}

	var modelPreds, marketPreds []Prediction
	resolvedDates := make(map[string]bool)
	edgeTotal, edgeHits := 0, 0

	for _, row := range rows {
		outcome := row.Result == "yes"
		resolvedDates[row.TargetDate] = true
		modelPreds = append(modelPreds, Prediction{Prob: row.ModelProb, Outcome: outcome})
		marketPreds = append(marketPreds, Prediction{Prob: row.MarketProb, Outcome: outcome})

		edge := row.ModelProb - row.MarketProb
		if edge > 0 {
			edgeTotal++
			if outcome {
				edgeHits++
			}
		}
		if edge >= simEdgeThreshold {
			priceCents := row.MarketProb * 100
			if outcome {
				report.SimPnLCents += 100 - priceCents
			} else {
				report.SimPnLCents -= priceCents
			}
		}
	}

	report.Brackets = len(modelPreds)
	report.ResolvedDays = len(resolvedDates)

	if v, ok := BrierScore(modelPreds); ok {
		report.ModelBrier = &v
	}
	if v, ok := BrierScore(marketPreds); ok {
		report.MarketBrier = &v
	}
	if report.ModelBrier != nil && report.MarketBrier != nil {
		adv := *report.MarketBrier - *report.ModelBrier
		report.BrierAdvantage = &adv
	}
	if v, ok := LogLoss(modelPreds); ok {
		report.ModelLogLoss = &v
	}
	if v, ok := LogLoss(marketPreds); ok {
		report.MarketLogLoss = &v
	}
	if table, maxErr, ok := CalibrationTable(modelPreds); ok {
		report.Calibration = table
		report.MaxCalibrationError = &maxErr
	}
	if edgeTotal > 0 {
		rate := float64(edgeHits) / float64(edgeTotal)
		report.EdgeHitRate = &rate
	}
	return report
}

// CheckLiveGates evaluates the report against thresholds. Missing metrics
// fail their gate: an uncalibrated model never trades live.
func CheckLiveGates(report CalibrationReport, thresholds LiveGateThresholds) GateResult {
	result := GateResult{
		MinResolvedDays:   report.ResolvedDays >= thresholds.MinResolvedDays,
		MinSimProfitCents: report.SimPnLCents >= thresholds.MinSimProfitCents,
	}
	if report.BrierAdvantage != nil {
		result.MinBrierAdvantage = *report.BrierAdvantage >= thresholds.MinBrierAdvantage
	}
	if report.MaxCalibrationError != nil {
		result.MaxCalibrationError = *report.MaxCalibrationError <= thresholds.MaxCalibrationError
	}
	return result
}
