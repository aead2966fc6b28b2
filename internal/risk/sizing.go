package risk

import (
	"math"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION SIZING - Kelly-scaled contract counts under portfolio caps
// ═══════════════════════════════════════════════════════════════════════════════
//
// target_$ = bankroll * kelly * fill_prob * kelly_scale * confidence
//
// capped by the per-position limit and the remaining portfolio headroom,
// then converted to whole contracts at the limit price.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Sizer converts signals into contract counts.
type Sizer struct {
	mode        string // "fixed" or "kelly"
	fixedCount  int
	kellyScale  decimal.Decimal
	maxPosition decimal.Decimal
	maxExposure decimal.Decimal
}

// NewSizer creates a position sizer.
func NewSizer(mode string, fixedCount int, kellyScale float64, maxPosition, maxExposure decimal.Decimal) *Sizer {
	return &Sizer{
		mode:        mode,
		fixedCount:  fixedCount,
		kellyScale:  decimal.NewFromFloat(kellyScale),
		maxPosition: maxPosition,
		maxExposure: maxExposure,
	}
}

// ContractCount returns how many contracts to buy for a candidate order.
// currentExposure is the dollar value already committed across open orders.
func (s *Sizer) ContractCount(modelProb, confidence float64, priceCents int, yesSide bool, bankroll, currentExposure decimal.Decimal, fillProbability float64) int {
	if s.mode == "fixed" {
		return s.fixedCount
	}

	kelly := KellyFraction(modelProb, priceCents, yesSide)
	if kelly <= 0 {
		return 0
	}
	kelly *= clamp01(fillProbability)

	target := bankroll.
		Mul(decimal.NewFromFloat(kelly)).
		Mul(s.kellyScale).
		Mul(decimal.NewFromFloat(clamp01(confidence)))

	if target.GreaterThan(s.maxPosition) {
		target = s.maxPosition
	}
	remaining := s.maxExposure.Sub(currentExposure)
	if remaining.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	if target.GreaterThan(remaining) {
		target = remaining
	}
	if target.LessThanOrEqual(decimal.Zero) {
		return 0
	}

	perContract := float64(clampInt(priceCents, 1, 99)) / 100.0
	count := int(math.Floor(target.InexactFloat64() / perContract))
	if count < 1 {
		// Any positive target buys at least one contract.
		return 1
	}
	return count
}
