package arb

// TakerFeeCents returns the per-contract taker fee in cents for a fill at
// priceCents: ceil(7% * p * (1-p) * 100) with a 1 cent minimum. Maker fills
// pay no fee.
func TakerFeeCents(priceCents int) int {
	p := float64(priceCents) / 100.0
	fee := int(0.07*p*(1-p)*100 + 0.999)
	if fee < 1 {
		return 1
	}
	return fee
}

// MakerFeeCents returns the per-contract maker fee in cents.
func MakerFeeCents(priceCents int) int {
	return 0
}
