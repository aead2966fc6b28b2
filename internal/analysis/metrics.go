package analysis

import (
	"math"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SCORING METRICS - Brier, log loss, calibration
// ═══════════════════════════════════════════════════════════════════════════════

const probClamp = 1e-6

// Prediction pairs a forecast probability with its binary outcome.
type Prediction struct {
	Prob    float64
	Outcome bool
}

// CalibrationBin is one decile of the reliability table.
type CalibrationBin struct {
	Bucket       int
	Count        int
	AvgPredicted float64
	ActualRate   float64
	AbsError     float64
}

// BrierScore is the mean squared error between forecasts and outcomes.
func BrierScore(preds []Prediction) (float64, bool) {
	if len(preds) == 0 {
		return 0, false
	}
	total := 0.0
	for _, p := range preds {
		y := 0.0
		if p.Outcome {
			y = 1
		}
		d := clampUnit(p.Prob) - y
		total += d * d
	}
	return total / float64(len(preds)), true
}

// LogLoss is the mean negative log likelihood, with probabilities clamped
// to [1e-6, 1-1e-6] so boundary forecasts stay finite.
func LogLoss(preds []Prediction) (float64, bool) {
	if len(preds) == 0 {
		return 0, false
	}
	total := 0.0
	for _, pred := range preds {
		p := math.Max(probClamp, math.Min(1-probClamp, pred.Prob))
		if pred.Outcome {
			total += -math.Log(p)
		} else {
			total += -math.Log(1 - p)
		}
	}
	return total / float64(len(preds)), true
}

// CalibrationTable bins predictions into deciles and reports per-bin
// reliability plus the worst absolute error. Empty bins are omitted.
func CalibrationTable(preds []Prediction) ([]CalibrationBin, float64, bool) {
	const bins = 10
	if len(preds) == 0 {
		return nil, 0, false
	}

	sums := make([]float64, bins+1)
	hits := make([]int, bins+1)
	counts := make([]int, bins+1)
	for _, pred := range preds {
		p := clampUnit(pred.Prob)
		bucket := int(p*bins) + 1
		if bucket > bins {
			bucket = bins
		}
		sums[bucket] += p
		counts[bucket]++
		if pred.Outcome {
			hits[bucket]++
		}
	}

	var out []CalibrationBin
	maxError := 0.0
	for bucket := 1; bucket <= bins; bucket++ {
		if counts[bucket] == 0 {
			continue
		}
		avg := sums[bucket] / float64(counts[bucket])
		rate := float64(hits[bucket]) / float64(counts[bucket])
		err := math.Abs(avg - rate)
		if err > maxError {
			maxError = err
		}
		out = append(out, CalibrationBin{
			Bucket:       bucket,
			Count:        counts[bucket],
			AvgPredicted: avg,
			ActualRate:   rate,
			AbsError:     err,
		})
	}
	return out, maxError, true
}

func clampUnit(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
