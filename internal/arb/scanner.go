package arb

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/kalshibot/internal/book"
	"github.com/web3guy0/kalshibot/internal/models"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BRACKET ARBITRAGE SCANNER
// ═══════════════════════════════════════════════════════════════════════════════
//
// Brackets of one event partition the outcome space, so exactly one resolves
// YES. Two structures can be mispriced:
//
//   all-YES: buy YES on every bracket. Payout 100 per set.
//   all-NO:  buy NO on every bracket (n >= 2). Payout (n-1)*100 per set.
//
// Asks come from the complement of the opposite side's best bid. Taker fees
// are deducted per leg before an opportunity is emitted.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Scanner detects cross-bracket arbitrage inside one event.
type Scanner struct {
	minProfitAfterFeesCents int
}

// NewScanner creates a scanner with the minimum net profit threshold.
func NewScanner(minProfitAfterFeesCents int) *Scanner {
	return &Scanner{minProfitAfterFeesCents: minProfitAfterFeesCents}
}

// Scan evaluates both arb structures over the event's books and returns the
// more profitable candidate, or nil when neither clears fees.
func (s *Scanner) Scan(eventTicker string, books map[string]*book.OrderBook, now time.Time) *models.BracketArbOpportunity {
	if len(books) == 0 {
		return nil
	}

	allYes := s.buildCandidate(eventTicker, books, "all_yes", now)
	var allNo *models.BracketArbOpportunity
	if len(books) >= 2 {
		allNo = s.buildCandidate(eventTicker, books, "all_no", now)
	}

	best := allYes
	if allNo != nil && (best == nil || allNo.ProfitAfterFeesCents > best.ProfitAfterFeesCents) {
		best = allNo
	}
	if best != nil {
		log.Info().
			Str("event", best.EventTicker).
			Str("arb_type", best.ArbType).
			Int("profit_after_fees_cents", best.ProfitAfterFeesCents).
			Int("max_sets", best.MaxSets).
			Msg("💎 Bracket arbitrage detected")
	}
	return best
}

func (s *Scanner) buildCandidate(eventTicker string, books map[string]*book.OrderBook, arbType string, now time.Time) *models.BracketArbOpportunity {
	legs := make([]models.ArbLeg, 0, len(books))
	cost := 0
	fees := 0
	maxSets := 0

	for ticker, b := range books {
		var ask int
		var depth int
		var ok bool
		var side string

		if arbType == "all_yes" {
			side = "yes"
			ask, ok = b.BestYesAsk()
			depth = b.YesAskDepth()
		} else {
			side = "no"
			ask, ok = b.BestNoAsk()
			depth = b.NoAskDepth()
		}
		if !ok || depth <= 0 || ask <= 0 || ask >= 100 {
			return nil
		}

		fee := TakerFeeCents(ask)
		legs = append(legs, models.ArbLeg{
			Ticker:     ticker,
			Side:       side,
			PriceCents: ask,
			Depth:      depth,
			FeeCents:   fee,
		})
		cost += ask
		fees += fee
		if maxSets == 0 || depth < maxSets {
			maxSets = depth
		}
	}

	payout := 100
	if arbType == "all_no" {
		payout = (len(legs) - 1) * 100
	}

	profit := payout - cost
	profitAfterFees := profit - fees
	if profit <= 0 || profitAfterFees < s.minProfitAfterFeesCents || profitAfterFees <= 0 || maxSets <= 0 {
		return nil
	}

	return &models.BracketArbOpportunity{
		EventTicker:          eventTicker,
		ArbType:              arbType,
		Legs:                 legs,
		CostCents:            cost,
		PayoutCents:          payout,
		ProfitCents:          profit,
		ProfitAfterFeesCents: profitAfterFees,
		MaxSets:              maxSets,
		DetectedAt:           now,
	}
}
