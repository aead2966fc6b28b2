package execution

import (
	"github.com/web3guy0/kalshibot/internal/book"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER PRICING - Maker-only limit price selection
// ═══════════════════════════════════════════════════════════════════════════════

// MakerPrice picks the limit price for one side of a book. In maker-only
// mode the price must rest: it improves the bid by one cent but never
// crosses the spread. Returns false when no acceptable resting price
// exists.
func MakerPrice(side string, b *book.OrderBook, makerOnly bool, minPx, maxPx int) (int, bool) {
	var bid, ask int
	var hasBid, hasAsk bool
	if side == "no" {
		bid, hasBid = b.BestNoBid()
		ask, hasAsk = b.BestNoAsk()
	} else {
		bid, hasBid = b.BestYesBid()
		ask, hasAsk = b.BestYesAsk()
	}

	if !makerOnly {
		if hasAsk {
			return clampPrice(ask, minPx, maxPx), true
		}
		if hasBid {
			return clampPrice(bid, minPx, maxPx), true
		}
		return 0, false
	}

	if !hasBid {
		// Improving an empty bid ladder would set the market alone.
		return 0, false
	}
	if !hasAsk {
		return clampPrice(bid, minPx, maxPx), true
	}

	ceiling := ask - 1
	if ask-bid <= 1 {
		ceiling = bid
	}
	propose := bid + 1
	if propose > ceiling {
		propose = ceiling
	}
	propose = clampPrice(propose, minPx, maxPx)
	if propose > ceiling {
		return 0, false
	}
	return propose, true
}

func clampPrice(p, minPx, maxPx int) int {
	if p < minPx {
		return minPx
	}
	if p > maxPx {
		return maxPx
	}
	return p
}
