package book

import (
	"sort"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER BOOK - Two-sided bid ladder for a binary market
// ═══════════════════════════════════════════════════════════════════════════════
//
// The exchange publishes resting bids per side in cents. Asks are implied by
// the complement rule: buying YES crosses the NO bid ladder at 100-p, and
// vice versa.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Level is one price level of resting contracts.
type Level struct {
	PriceCents int
	Quantity   int
}

// OrderBook holds both bid ladders for one ticker.
type OrderBook struct {
	Ticker    string
	Yes       map[int]int // YES bid price cents -> quantity
	No        map[int]int // NO bid price cents -> quantity
	Seq       int64
	UpdatedAt time.Time
	Source    string // "ws" or "rest"
}

// New creates an empty book for a ticker.
func New(ticker string) *OrderBook {
	return &OrderBook{
		Ticker: ticker,
		Yes:    make(map[int]int),
		No:     make(map[int]int),
	}
}

// ReplaceSides overwrites both ladders atomically (snapshot semantics).
func (b *OrderBook) ReplaceSides(yes, no []Level, seq int64, now time.Time) {
	b.Yes = make(map[int]int, len(yes))
	b.No = make(map[int]int, len(no))
	for _, lv := range yes {
		if lv.Quantity > 0 {
			b.Yes[lv.PriceCents] = lv.Quantity
		}
	}
	for _, lv := range no {
		if lv.Quantity > 0 {
			b.No[lv.PriceCents] = lv.Quantity
		}
	}
	b.Seq = seq
	b.UpdatedAt = now
}

// ApplyDelta mutates one level. When absolute is true quantity replaces the
// level; otherwise it is added to it. Zero or negative results remove the
// level.
func (b *OrderBook) ApplyDelta(side string, priceCents, quantity int, absolute bool) {
	ladder := b.Yes
	if side == "no" {
		ladder = b.No
	}
	next := quantity
	if !absolute {
		next = ladder[priceCents] + quantity
	}
	if next <= 0 {
		delete(ladder, priceCents)
		return
	}
	ladder[priceCents] = next
}

// BestYesBid returns the highest resting YES bid.
func (b *OrderBook) BestYesBid() (int, bool) {
	return maxKey(b.Yes)
}

// BestNoBid returns the highest resting NO bid.
func (b *OrderBook) BestNoBid() (int, bool) {
	return maxKey(b.No)
}

// BestYesAsk returns the implied YES ask, 100 minus the best NO bid.
func (b *OrderBook) BestYesAsk() (int, bool) {
	bid, ok := maxKey(b.No)
	if !ok {
		return 0, false
	}
	return 100 - bid, true
}

// BestNoAsk returns the implied NO ask, 100 minus the best YES bid.
func (b *OrderBook) BestNoAsk() (int, bool) {
	bid, ok := maxKey(b.Yes)
	if !ok {
		return 0, false
	}
	return 100 - bid, true
}

// YesAskDepth returns contracts available at the best implied YES ask.
func (b *OrderBook) YesAskDepth() int {
	bid, ok := maxKey(b.No)
	if !ok {
		return 0
	}
	return b.No[bid]
}

// NoAskDepth returns contracts available at the best implied NO ask.
func (b *OrderBook) NoAskDepth() int {
	bid, ok := maxKey(b.Yes)
	if !ok {
		return 0
	}
	return b.Yes[bid]
}

// EffectiveAsk computes the volume-weighted average cents needed to buy
// target contracts on a side, walking the opposite ladder from its best bid
// down and converting each level by the 100-p complement. It returns the VWAP
// in cents and the quantity actually fillable (which may be short of target).
func (b *OrderBook) EffectiveAsk(side string, target int) (vwapCents float64, fillable int) {
	if target <= 0 {
		return 0, 0
	}
	opposite := b.No
	if side == "no" {
		opposite = b.Yes
	}

	prices := make([]int, 0, len(opposite))
	for p := range opposite {
		prices = append(prices, p)
	}
	// Highest opposite bid first: cheapest effective ask first.
	sort.Sort(sort.Reverse(sort.IntSlice(prices)))

	remaining := target
	totalCost := 0.0
	for _, p := range prices {
		qty := opposite[p]
		take := qty
		if take > remaining {
			take = remaining
		}
		totalCost += float64(100-p) * float64(take)
		remaining -= take
		fillable += take
		if remaining == 0 {
			break
		}
	}
	if fillable == 0 {
		return 0, 0
	}
	return totalCost / float64(fillable), fillable
}

// Clone returns a deep copy safe to read outside the owning feed.
func (b *OrderBook) Clone() *OrderBook {
	cp := &OrderBook{
		Ticker:    b.Ticker,
		Yes:       make(map[int]int, len(b.Yes)),
		No:        make(map[int]int, len(b.No)),
		Seq:       b.Seq,
		UpdatedAt: b.UpdatedAt,
		Source:    b.Source,
	}
	for p, q := range b.Yes {
		cp.Yes[p] = q
	}
	for p, q := range b.No {
		cp.No[p] = q
	}
	return cp
}

func maxKey(m map[int]int) (int, bool) {
	best := 0
	found := false
	for k := range m {
		if !found || k > best {
			best = k
			found = true
		}
	}
	return best, found
}
