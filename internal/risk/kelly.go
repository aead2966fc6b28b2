package risk

// KellyFraction computes the Kelly bet fraction for one binary contract.
//
// For a yes-side buy at price p cents the win is the 100-p payoff and the
// loss is the price paid; no-side is symmetric. A non-positive edge or win
// returns zero.
func KellyFraction(modelProb float64, priceCents int, yesSide bool) float64 {
	price := float64(clampInt(priceCents, 1, 99))

	var win, loss, edge float64
	if yesSide {
		win = 100 - price
		loss = price
		edge = modelProb*win - (1-modelProb)*loss
	} else {
		win = price
		loss = 100 - price
		edge = (1-modelProb)*win - modelProb*loss
	}

	if edge <= 0 || win <= 0 {
		return 0
	}
	return edge / win
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
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
